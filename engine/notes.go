package engine

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"takt"
	"takt/scsynth"
)

type (
	// NoteScheduler manages the delayed start/stop of individual MIDI notes.
	// Every scheduled note is an independently cancelable unit of work: wait
	// the delay, trigger a voice if still wanted, wait the duration, release
	// the voice. Its map from node id to note meaning is the only record of
	// what is sounding, so cancellation must never leave a triggered voice
	// behind: cancelling an already-sounding unit frees the node inside the
	// cancel call itself, before it returns. The scheduler is shared by the
	// timeline transport and the clip launcher and locks accordingly.
	NoteScheduler struct {
		client *scsynth.Client
		alloc  scsynth.IDAllocator
		log    *slog.Logger

		mu     sync.Mutex
		active map[scsynth.NodeID]ActiveNote
		units  map[*noteUnit]struct{}
	}

	// noteUnit is one scheduled note. The state flags are guarded by the
	// scheduler mutex; cancellation always wins a race against the timers.
	noteUnit struct {
		sched      *NoteScheduler
		clipID     string
		note       takt.MIDINote
		instrument string
		bus        scsynth.BusID
		amp        float32
		delay      time.Duration
		duration   time.Duration
		start      float64 // logical start on the timeline, beats

		cancel chan struct{}
		done   chan struct{}

		cancelled bool
		triggered bool
		finished  bool
		node      scsynth.NodeID
	}
)

func NewNoteScheduler(client *scsynth.Client, alloc scsynth.IDAllocator, log *slog.Logger) *NoteScheduler {
	return &NoteScheduler{
		client: client,
		alloc:  alloc,
		log:    log,
		active: make(map[scsynth.NodeID]ActiveNote),
		units:  make(map[*noteUnit]struct{}),
	}
}

// Schedule queues one note: after delay, if the unit has not been cancelled,
// a voice is triggered on the given instrument and bus, and released again
// after duration. start is the note's logical position in beats, carried into
// the active-notes snapshot.
func (s *NoteScheduler) Schedule(clipID string, note takt.MIDINote, instrument string, bus scsynth.BusID, amp float32, delay, duration time.Duration, start float64) {
	u := &noteUnit{
		sched:      s,
		clipID:     clipID,
		note:       note,
		instrument: instrument,
		bus:        bus,
		amp:        amp,
		delay:      delay,
		duration:   duration,
		start:      start,
		cancel:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.mu.Lock()
	s.units[u] = struct{}{}
	s.mu.Unlock()
	go u.run()
}

func (u *noteUnit) run() {
	defer close(u.done)
	s := u.sched
	timer := time.NewTimer(u.delay)
	select {
	case <-timer.C:
	case <-u.cancel:
		timer.Stop()
		return
	}
	// Trigger while holding the lock: a concurrent cancel must either see
	// the unit untriggered, or free the node strictly after the trigger
	// message went out.
	s.mu.Lock()
	if u.cancelled {
		s.mu.Unlock()
		return
	}
	u.node = s.alloc.Node()
	u.triggered = true
	s.active[u.node] = ActiveNote{ClipID: u.clipID, Pitch: u.note.Pitch, Start: u.start}
	s.client.NewSynth(u.instrument, u.node, scsynth.AddToTail, scsynth.GroupSynths,
		scsynth.Param{Name: "freq", Value: pitchHz(u.note.Pitch)},
		scsynth.Param{Name: "amp", Value: u.amp * float32(u.note.Velocity) / 127},
		scsynth.Param{Name: "out", Value: float32(u.bus)},
		scsynth.Param{Name: "gate", Value: 1},
	)
	s.mu.Unlock()

	timer.Reset(u.duration)
	select {
	case <-timer.C:
	case <-u.cancel:
		timer.Stop()
		return // the canceller freed the node
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.cancelled || u.finished {
		return
	}
	u.finished = true
	delete(s.active, u.node)
	delete(s.units, u)
	s.client.SetParams(u.node, scsynth.Param{Name: "gate", Value: 0})
}

// cancelUnit cancels a unit and synchronously frees its voice if it already
// sounded. After cancelUnit returns, the unit holds no engine resources; the
// goroutine itself may still be winding down (await u.done for that).
func (s *NoteScheduler) cancelUnit(u *noteUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.cancelled || u.finished {
		return
	}
	u.cancelled = true
	close(u.cancel)
	if u.triggered {
		s.client.FreeNode(u.node)
		delete(s.active, u.node)
	}
	delete(s.units, u)
}

// CancelAll cancels every outstanding unit and waits until all of their
// goroutines have finished. On return the active-notes map is empty.
func (s *NoteScheduler) CancelAll() {
	s.cancelMatching(func(*noteUnit) bool { return true })
}

// CancelClip cancels every outstanding unit belonging to one clip.
func (s *NoteScheduler) CancelClip(clipID string) {
	s.cancelMatching(func(u *noteUnit) bool { return u.clipID == clipID })
}

func (s *NoteScheduler) cancelMatching(match func(*noteUnit) bool) {
	s.mu.Lock()
	units := make([]*noteUnit, 0, len(s.units))
	for u := range s.units {
		if match(u) {
			units = append(units, u)
		}
	}
	s.mu.Unlock()
	for _, u := range units {
		s.cancelUnit(u)
	}
	for _, u := range units {
		<-u.done
	}
}

// NoteOn triggers a voice immediately, outside any clip, and returns its node
// id. Used for live MIDI input. The caller releases it with NoteOff.
func (s *NoteScheduler) NoteOn(pitch, velocity int, instrument string, bus scsynth.BusID, amp float32) scsynth.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	node := s.alloc.Node()
	s.active[node] = ActiveNote{ClipID: "live", Pitch: pitch}
	s.client.NewSynth(instrument, node, scsynth.AddToTail, scsynth.GroupSynths,
		scsynth.Param{Name: "freq", Value: pitchHz(pitch)},
		scsynth.Param{Name: "amp", Value: amp * float32(velocity) / 127},
		scsynth.Param{Name: "out", Value: float32(bus)},
		scsynth.Param{Name: "gate", Value: 1},
	)
	return node
}

// NoteOff releases a voice started with NoteOn.
func (s *NoteScheduler) NoteOff(node scsynth.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[node]; !ok {
		return
	}
	delete(s.active, node)
	s.client.SetParams(node, scsynth.Param{Name: "gate", Value: 0})
}

// ActiveNotes returns a snapshot of the currently sounding notes, ordered by
// logical start time then pitch.
func (s *NoteScheduler) ActiveNotes() []ActiveNote {
	s.mu.Lock()
	notes := make([]ActiveNote, 0, len(s.active))
	for _, n := range s.active {
		notes = append(notes, n)
	}
	s.mu.Unlock()
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].Start != notes[j].Start {
			return notes[i].Start < notes[j].Start
		}
		return notes[i].Pitch < notes[j].Pitch
	})
	return notes
}

// Outstanding returns the number of units not yet finished, for tests and
// diagnostics.
func (s *NoteScheduler) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}

// pitchHz converts a MIDI pitch to a frequency in Hz (A4 = 69 = 440 Hz).
func pitchHz(pitch int) float32 {
	return float32(440 * math.Pow(2, float64(pitch-69)/12))
}
