package engine

import (
	"log/slog"
	"sync"

	"takt"
	"takt/scsynth"
)

// LivePlayer turns incoming MIDI note events into immediate voices and clip
// launches. Notes on ordinary channels play on the composition track with the
// same index; notes on the pad channel launch clips by pad number instead.
// Handlers are called from the MIDI driver goroutine, so the held-note map
// locks.
type LivePlayer struct {
	comp     *takt.Composition
	notes    *NoteScheduler
	launcher *Launcher
	mix      *mixer
	log      *slog.Logger

	// PadChannel is the MIDI channel whose note-ons launch clips; pads start
	// at note 36, the common drum-pad origin. Set to -1 to disable.
	PadChannel int

	mu   sync.Mutex
	held map[[2]int]scsynth.NodeID // (channel, key) -> sounding node
}

// NewLivePlayer returns a live input handler for the transport's composition
// and mixer. The launcher may be nil if clip launching is not wanted.
func (t *Transport) NewLivePlayer(comp *takt.Composition) *LivePlayer {
	return &LivePlayer{
		comp:       comp,
		notes:      t.notes,
		launcher:   t.launcher,
		mix:        t.mix,
		log:        t.log,
		PadChannel: 9,
		held:       make(map[[2]int]scsynth.NodeID),
	}
}

func (p *LivePlayer) NoteOn(channel int, key, velocity byte) {
	if channel == p.PadChannel && p.launcher != nil {
		pad := int(key) - 36
		if pad < 0 || pad >= len(p.comp.Clips) {
			return
		}
		if err := p.launcher.LaunchClip(p.comp.Clips[pad].ID); err != nil {
			p.log.Warn("pad launch failed", "pad", pad, "error", err)
		}
		return
	}
	if channel < 0 || channel >= len(p.comp.Tracks) {
		return
	}
	track := &p.comp.Tracks[channel]
	if track.Kind != takt.KindMIDI {
		return
	}
	ch := p.mix.channelFor(track)
	p.mu.Lock()
	defer p.mu.Unlock()
	id := [2]int{channel, int(key)}
	if node, ok := p.held[id]; ok {
		// retrigger: release the stuck voice first
		p.notes.NoteOff(node)
	}
	p.held[id] = p.notes.NoteOn(int(key), int(velocity), track.Instrument, ch.bus, float32(track.Volume))
}

func (p *LivePlayer) NoteOff(channel int, key byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := [2]int{channel, int(key)}
	node, ok := p.held[id]
	if !ok {
		return
	}
	delete(p.held, id)
	p.notes.NoteOff(node)
}

// ReleaseAll releases every held live note.
func (p *LivePlayer) ReleaseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, node := range p.held {
		p.notes.NoteOff(node)
		delete(p.held, id)
	}
}
