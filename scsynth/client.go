package scsynth

import (
	"log/slog"
	"sync"

	"github.com/hypebeast/go-osc/osc"
)

type (
	// Param is one name/value pair in a control message. The engine's synth
	// parameters are all float-valued.
	Param struct {
		Name  string
		Value float32
	}

	// AddAction tells the engine where to place a new node relative to its
	// target.
	AddAction int32

	// Sender is the transport seam: the real implementation is *osc.Client,
	// tests substitute a recorder.
	Sender interface {
		Send(packet osc.Packet) error
	}

	// Client encodes and sends the engine control messages. Every call is
	// fire-and-forget: no reply is awaited, and when no transport is
	// connected the message is dropped with a logged warning, never an
	// error, so scheduling state keeps advancing and playback resumes
	// transparently on reconnect. Safe for concurrent use from the transport
	// and launcher loops.
	Client struct {
		mu     sync.Mutex
		sender Sender
		log    *slog.Logger
	}
)

const (
	AddToHead  AddAction = 0
	AddToTail  AddAction = 1
	AddBefore  AddAction = 2
	AddAfter   AddAction = 3
	AddReplace AddAction = 4
)

// WholeFile as numFrames in AllocReadBuffer reads the entire file.
const WholeFile int32 = -1

// NewClient returns a client sending to the engine's UDP address.
func NewClient(host string, port int, log *slog.Logger) *Client {
	return &Client{sender: osc.NewClient(host, port), log: log}
}

// NewDisconnectedClient returns a client with no transport; all sends are
// dropped. Used before the engine address is known and in tests.
func NewDisconnectedClient(log *slog.Logger) *Client {
	return &Client{log: log}
}

// NewClientWithSender returns a client over a caller-supplied transport.
func NewClientWithSender(s Sender, log *slog.Logger) *Client {
	return &Client{sender: s, log: log}
}

// Connect swaps the underlying transport. A nil host disconnects.
func (c *Client) Connect(host string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if host == "" {
		c.sender = nil
		return
	}
	c.sender = osc.NewClient(host, port)
}

// Connected reports whether a transport is attached.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sender != nil
}

// NewSynth starts a voice or effect instance playing the named synthdef.
func (c *Client) NewSynth(synthdef string, node NodeID, action AddAction, target GroupID, params ...Param) {
	msg := osc.NewMessage("/s_new", synthdef, int32(node), int32(action), int32(target))
	appendParams(msg, params)
	c.send(msg)
}

// FreeNode stops a voice immediately.
func (c *Client) FreeNode(node NodeID) {
	c.send(osc.NewMessage("/n_free", int32(node)))
}

// SetParams sets control parameters on a running node, e.g. gate=0 to begin
// the release phase of an envelope.
func (c *Client) SetParams(node NodeID, params ...Param) {
	msg := osc.NewMessage("/n_set", int32(node))
	appendParams(msg, params)
	c.send(msg)
}

// NewGroup creates a node group.
func (c *Client) NewGroup(group GroupID, action AddAction, target GroupID) {
	c.send(osc.NewMessage("/g_new", int32(group), int32(action), int32(target)))
}

// AllocReadBuffer allocates a buffer in the engine and reads a sample file
// into it. numFrames of WholeFile reads everything from startFrame on.
func (c *Client) AllocReadBuffer(buffer BufferID, path string, startFrame, numFrames int32) {
	c.send(osc.NewMessage("/b_allocRead", int32(buffer), path, startFrame, numFrames))
}

// FreeBuffer frees a sample buffer.
func (c *Client) FreeBuffer(buffer BufferID) {
	c.send(osc.NewMessage("/b_free", int32(buffer)))
}

func appendParams(msg *osc.Message, params []Param) {
	for _, p := range params {
		msg.Append(p.Name)
		msg.Append(p.Value)
	}
}

func (c *Client) send(msg *osc.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sender == nil {
		c.log.Warn("engine not connected, dropping message", "address", msg.Address)
		return
	}
	if err := c.sender.Send(msg); err != nil {
		c.log.Warn("engine send failed", "address", msg.Address, "error", err)
	}
}
