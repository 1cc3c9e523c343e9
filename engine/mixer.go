package engine

import (
	"log/slog"
	"sync"

	"takt"
	"takt/scsynth"
)

// Synthdef names the engine is expected to provide. The mixer channel reads a
// track bus and writes the hardware output; the sampler and click free their
// own nodes when done.
const (
	synthdefMixer   = "taktMixer"
	synthdefSampler = "taktSampler"
	synthdefClick   = "taktClick"
)

type (
	// trackChannel is the engine-side footing of one track: its stereo bus
	// and the mixer channel node routing that bus to the hardware output.
	trackChannel struct {
		bus   scsynth.BusID
		mixer scsynth.NodeID
	}

	// mixer owns the lazily allocated per-track channels and the sample
	// buffer registry. Both the timeline trigger pass and the clip launcher
	// go through it, so it locks. A track's bus, once allocated, is stable
	// for the session; buffers are loaded once per file and reused.
	mixer struct {
		client *scsynth.Client
		alloc  scsynth.IDAllocator
		log    *slog.Logger

		mu       sync.Mutex
		channels map[string]trackChannel
		buffers  map[string]scsynth.BufferID
	}
)

func newMixer(client *scsynth.Client, alloc scsynth.IDAllocator, log *slog.Logger) *mixer {
	return &mixer{
		client:   client,
		alloc:    alloc,
		log:      log,
		channels: make(map[string]trackChannel),
		buffers:  make(map[string]scsynth.BufferID),
	}
}

// channelFor returns the track's channel, allocating the bus and starting the
// mixer channel node on first use.
func (m *mixer) channelFor(track *takt.Track) trackChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[track.ID]; ok {
		return ch
	}
	ch := trackChannel{bus: m.alloc.Bus(), mixer: m.alloc.Node()}
	m.client.NewSynth(synthdefMixer, ch.mixer, scsynth.AddToTail, scsynth.GroupMaster,
		scsynth.Param{Name: "in", Value: float32(ch.bus)},
		scsynth.Param{Name: "out", Value: 0},
		scsynth.Param{Name: "level", Value: float32(track.Volume)},
		scsynth.Param{Name: "pan", Value: float32(track.Pan)},
	)
	m.channels[track.ID] = ch
	m.log.Debug("allocated track channel", "track", track.ID, "bus", ch.bus, "mixer", ch.mixer)
	return ch
}

// SetTrackLevel updates the mixer channel of an already allocated track.
// Tracks that never triggered have no channel yet and need nothing.
func (m *mixer) SetTrackLevel(trackID string, level, pan float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[trackID]
	if !ok {
		return
	}
	m.client.SetParams(ch.mixer,
		scsynth.Param{Name: "level", Value: float32(level)},
		scsynth.Param{Name: "pan", Value: float32(pan)},
	)
}

// bufferFor returns the buffer holding the sample file, asking the engine to
// load it on first use. Loading is idempotent per path.
func (m *mixer) bufferFor(path string) scsynth.BufferID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.buffers[path]; ok {
		return id
	}
	id := m.alloc.Buffer()
	m.client.AllocReadBuffer(id, path, 0, scsynth.WholeFile)
	m.buffers[path] = id
	return id
}
