// Package gomidi feeds MIDI input into the engine through the rtmidi driver:
// note events from an opened input device go to a Handler, typically an
// engine.LivePlayer.
package gomidi

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

type (
	// Handler receives the note events of the open input device. It is
	// called from the MIDI driver goroutine.
	Handler interface {
		NoteOn(channel int, key, velocity byte)
		NoteOff(channel int, key byte)
	}

	Context struct {
		driver             *rtmididrv.Driver
		currentIn          drivers.In
		inputDevices       []Device
		devicesInitialized bool
		handler            Handler
	}

	Device struct {
		context *Context
		in      drivers.In
	}
)

// NewContext opens the rtmidi driver. A nil driver (no MIDI support on the
// host) is tolerated; the context then simply has no devices.
func NewContext(handler Handler) *Context {
	c := Context{handler: handler}
	c.driver, _ = rtmididrv.New()
	return &c
}

// InputDevices iterates over the available input devices.
func (c *Context) InputDevices(yield func(Device) bool) {
	if c.devicesInitialized {
		for _, device := range c.inputDevices {
			if !yield(device) {
				break
			}
		}
		return
	}
	if c.driver == nil {
		return
	}
	ins, err := c.driver.Ins()
	if err != nil {
		return
	}
	for _, in := range ins {
		device := Device{context: c, in: in}
		c.inputDevices = append(c.inputDevices, device)
		if !yield(device) {
			break
		}
	}
	c.devicesInitialized = true
}

// Open an input device, closing the currently open one if necessary.
func (d Device) Open() error {
	c := d.context
	if c.currentIn == d.in {
		return nil
	}
	if c.driver == nil {
		return errors.New("no MIDI driver available")
	}
	if c.HasDeviceOpen() {
		c.currentIn.Close()
	}
	c.currentIn = d.in
	if err := d.in.Open(); err != nil {
		c.currentIn = nil
		return fmt.Errorf("opening MIDI input failed: %w", err)
	}
	if _, err := midi.ListenTo(d.in, c.handleMessage); err != nil {
		d.in.Close()
		c.currentIn = nil
		return fmt.Errorf("listening to MIDI input failed: %w", err)
	}
	return nil
}

func (d Device) String() string {
	return d.in.String()
}

// TryToOpenBy opens the first device whose name starts with namePrefix, or
// just the first device when takeFirst is set.
func (c *Context) TryToOpenBy(namePrefix string, takeFirst bool) error {
	if namePrefix == "" && !takeFirst {
		return nil
	}
	var opened error = errors.New("no matching MIDI input found")
	c.InputDevices(func(d Device) bool {
		if takeFirst || strings.HasPrefix(d.String(), namePrefix) {
			opened = d.Open()
			return false
		}
		return true
	})
	return opened
}

func (c *Context) HasDeviceOpen() bool {
	return c.currentIn != nil && c.currentIn.IsOpen()
}

func (c *Context) Close() {
	if c.driver == nil {
		return
	}
	if c.currentIn != nil && c.currentIn.IsOpen() {
		c.currentIn.Close()
	}
	c.driver.Close()
}

func (c *Context) handleMessage(msg midi.Message, timestampms int32) {
	var channel, key, velocity uint8
	switch {
	case msg.GetNoteOn(&channel, &key, &velocity):
		if velocity == 0 {
			// running status note-off
			c.handler.NoteOff(int(channel), key)
			return
		}
		c.handler.NoteOn(int(channel), key, velocity)
	case msg.GetNoteOff(&channel, &key, &velocity):
		c.handler.NoteOff(int(channel), key)
	}
}
