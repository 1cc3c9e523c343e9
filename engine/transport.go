package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"takt"
	"takt/scsynth"
)

// State is the transport's playback state.
type State int

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	}
	return "stopped"
}

// DefaultTickInterval is the transport's scheduling granularity. Scheduling
// here is at control-message granularity, not sample accurate; ~20 ms keeps
// the snapshot broadcast at roughly 50 Hz.
const DefaultTickInterval = 20 * time.Millisecond

type (
	// Transport owns the timeline playhead: position, tempo and loop region
	// of the active composition, and the fixed-rate tick loop that drives
	// the clip trigger passes. All state mutation happens on the Run
	// goroutine; the exported methods only send intents over the broker and,
	// for the operations that must guarantee cleanup (pause, stop, seek),
	// wait until the loop has acted on them.
	Transport struct {
		broker *Broker
		client *scsynth.Client
		alloc  scsynth.IDAllocator
		notes  *NoteScheduler
		trig   *triggerEngine
		mix    *mixer
		metro  *Metronome
		log    *slog.Logger

		launcher *Launcher // contributes clip ids to the snapshot, may be nil

		regMu        sync.Mutex
		compositions map[string]*takt.Composition

		// everything below is owned by the Run goroutine
		comp         *takt.Composition
		state        State
		clock        BeatClock
		prevBeat     int
		tickInterval time.Duration
	}

	playMsg struct {
		compositionID string
		position      float64
		reply         chan error
	}
	pauseMsg struct{ done chan struct{} }
	stopMsg  struct{ done chan struct{} }
	seekMsg  struct {
		position     float64
		triggerAudio bool
		done         chan struct{}
	}
	setTempoMsg struct {
		bpm   float64
		reply chan error
	}
	setLoopMsg struct {
		loop  takt.Loop
		reply chan error
	}
	toggleMetronomeMsg struct{ reply chan bool }
	metronomeVolumeMsg struct{ volume float64 }
	trackLevelMsg      struct {
		trackID    string
		level, pan float64
	}
)

// NewTransport wires a transport from its shared collaborators. The launcher
// may be nil; it only feeds the snapshot. Run must be started before any of
// the playback operations are called.
func NewTransport(broker *Broker, client *scsynth.Client, alloc scsynth.IDAllocator, notes *NoteScheduler, launcher *Launcher, log *slog.Logger) *Transport {
	mix := newMixer(client, alloc, log)
	t := &Transport{
		broker:       broker,
		client:       client,
		alloc:        alloc,
		notes:        notes,
		mix:          mix,
		metro:        newMetronome(client, alloc),
		log:          log,
		launcher:     launcher,
		compositions: make(map[string]*takt.Composition),
		tickInterval: DefaultTickInterval,
	}
	t.trig = newTriggerEngine(client, notes, mix, log)
	if launcher != nil {
		launcher.mix = mix
	}
	return t
}

// SetTickInterval overrides the tick interval. Call before Run.
func (t *Transport) SetTickInterval(d time.Duration) { t.tickInterval = d }

// AddComposition registers a composition under its name so Play can find it.
func (t *Transport) AddComposition(id string, comp *takt.Composition) {
	t.regMu.Lock()
	defer t.regMu.Unlock()
	t.compositions[id] = comp
}

func (t *Transport) lookupComposition(id string) (*takt.Composition, error) {
	t.regMu.Lock()
	defer t.regMu.Unlock()
	comp, ok := t.compositions[id]
	if !ok {
		return nil, fmt.Errorf("composition %q: %w", id, takt.ErrNotFound)
	}
	return comp, nil
}

// Run is the transport loop. It owns all playback state and is the only
// place the playhead moves. It returns after a close request on the broker,
// with everything cleaned up, and then closes broker.FinishedTransport.
func (t *Transport) Run() {
	defer close(t.broker.FinishedTransport)
	ticker := time.NewTicker(t.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case msg := <-t.broker.ToTransport:
			t.handleMessage(msg)
		case <-t.broker.CloseTransport:
			t.cleanup()
			return
		case now := <-ticker.C:
			if t.state == StatePlaying {
				t.tick(now)
			}
		}
	}
}

// Close asks the transport loop to clean up and exit, waiting up to the
// timeout for it to finish.
func (t *Transport) Close(timeout time.Duration) {
	TrySend(t.broker.CloseTransport, struct{}{})
	TimeoutReceive(t.broker.FinishedTransport, timeout)
}

// Play starts playback of the registered composition at the given position,
// in beats. With the loop enabled, position 0 snaps to the loop start. An
// unknown id returns ErrNotFound.
func (t *Transport) Play(compositionID string, position float64) error {
	reply := make(chan error, 1)
	t.broker.ToTransport <- playMsg{compositionID: compositionID, position: position, reply: reply}
	return <-reply
}

// Pause halts the tick loop and frees everything currently sounding, but
// keeps the playhead where it is. It returns only after all cleanup is done;
// no note of the timeline can still be audible afterwards.
func (t *Transport) Pause() {
	done := make(chan struct{})
	t.broker.ToTransport <- pauseMsg{done: done}
	<-done
}

// Stop is Pause plus resetting the playhead to zero.
func (t *Transport) Stop() {
	done := make(chan struct{})
	t.broker.ToTransport <- stopMsg{done: done}
	<-done
}

// Seek moves the playhead. With triggerAudio set and the transport playing,
// clips under the new position are (re)triggered immediately, emulating audio
// scrubbing; otherwise only the active set is cleared.
func (t *Transport) Seek(position float64, triggerAudio bool) {
	done := make(chan struct{})
	t.broker.ToTransport <- seekMsg{position: position, triggerAudio: triggerAudio, done: done}
	<-done
}

// SetTempo requests a tempo change; it takes effect on the next tick's delta
// computation, never mid-tick.
func (t *Transport) SetTempo(bpm float64) error {
	reply := make(chan error, 1)
	t.broker.ToTransport <- setTempoMsg{bpm: bpm, reply: reply}
	return <-reply
}

// SetLoop sets the loop region of the active composition.
func (t *Transport) SetLoop(enabled bool, start, end float64) error {
	reply := make(chan error, 1)
	t.broker.ToTransport <- setLoopMsg{loop: takt.Loop{Enabled: enabled, Start: start, End: end}, reply: reply}
	return <-reply
}

// ToggleMetronome flips the metronome and returns the new state.
func (t *Transport) ToggleMetronome() bool {
	reply := make(chan bool, 1)
	t.broker.ToTransport <- toggleMetronomeMsg{reply: reply}
	return <-reply
}

// SetMetronomeVolume sets the click volume, clamped to [0,1].
func (t *Transport) SetMetronomeVolume(v float64) {
	t.broker.ToTransport <- metronomeVolumeMsg{volume: v}
}

// SetTrackLevel updates a track's mixer channel level and pan.
func (t *Transport) SetTrackLevel(trackID string, level, pan float64) {
	t.broker.ToTransport <- trackLevelMsg{trackID: trackID, level: level, pan: pan}
}

func (t *Transport) handleMessage(msg any) {
	switch m := msg.(type) {
	case playMsg:
		m.reply <- t.handlePlay(m)
	case pauseMsg:
		if t.state == StatePlaying {
			t.trig.StopAll()
			t.state = StatePaused
			t.clock.Stop()
		}
		t.broadcast()
		close(m.done)
	case stopMsg:
		if t.state != StateStopped {
			t.trig.StopAll()
			t.state = StateStopped
			t.clock.Stop()
			if t.comp != nil {
				t.comp.Position = 0
			}
		}
		t.broadcast()
		close(m.done)
	case seekMsg:
		t.handleSeek(m)
		close(m.done)
	case setTempoMsg:
		m.reply <- t.handleSetTempo(m.bpm)
	case setLoopMsg:
		m.reply <- t.handleSetLoop(m.loop)
	case toggleMetronomeMsg:
		t.metro.Enabled = !t.metro.Enabled
		t.broadcast()
		m.reply <- t.metro.Enabled
	case metronomeVolumeMsg:
		t.metro.Volume = min(max(m.volume, 0), 1)
	case trackLevelMsg:
		t.mix.SetTrackLevel(m.trackID, m.level, m.pan)
	default:
		// ignore unknown messages
	}
}

func (t *Transport) handlePlay(m playMsg) error {
	comp, err := t.lookupComposition(m.compositionID)
	if err != nil {
		return err
	}
	if t.state == StatePlaying {
		t.trig.StopAll()
	}
	position := m.position
	if comp.Loop.Enabled && position == 0 {
		position = comp.Loop.Start
	}
	t.comp = comp
	comp.Position = position
	// One behind the floor, so the downbeat under the playhead still clicks.
	t.prevBeat = int(math.Floor(position)) - 1
	t.state = StatePlaying
	t.clock.Start(time.Now())
	if t.launcher != nil {
		t.launcher.SetComposition(comp)
	}
	t.log.Info("play", "composition", m.compositionID, "position", position, "bpm", comp.BPM)
	t.broadcast()
	return nil
}

func (t *Transport) handleSeek(m seekMsg) {
	if t.comp == nil {
		return
	}
	t.trig.StopAll()
	t.comp.Position = m.position
	t.prevBeat = int(math.Floor(m.position)) - 1
	if t.state == StatePlaying {
		t.clock.Start(time.Now())
		if m.triggerAudio {
			t.trig.startPass(t.comp, m.position)
		}
	}
	t.broadcast()
}

func (t *Transport) handleSetTempo(bpm float64) error {
	if bpm <= 0 {
		return fmt.Errorf("tempo must be positive, got %v", bpm)
	}
	if t.comp == nil {
		return fmt.Errorf("no active composition: %w", takt.ErrNotFound)
	}
	t.comp.BPM = bpm
	if t.launcher != nil {
		t.launcher.SetTempo(bpm)
	}
	return nil
}

func (t *Transport) handleSetLoop(loop takt.Loop) error {
	if t.comp == nil {
		return fmt.Errorf("no active composition: %w", takt.ErrNotFound)
	}
	if loop.Enabled && loop.End <= loop.Start {
		return fmt.Errorf("loop end %v is not after loop start %v", loop.End, loop.Start)
	}
	t.comp.Loop = loop
	return nil
}

func (t *Transport) tick(now time.Time) {
	delta := t.clock.Advance(now, t.comp.BPM)
	t.advance(delta)
	t.broadcast()
}

// advance moves the playhead by delta beats and runs one scheduling pass.
// Split from tick so tests can drive it with exact deltas.
func (t *Transport) advance(delta float64) {
	comp := t.comp
	pos := comp.Position + delta
	if comp.Loop.Enabled && pos >= comp.Loop.End {
		// Free everything from the pre-wrap instant, then land exactly on
		// the loop start; the trigger pass below re-enters the loop region
		// within this same tick.
		t.trig.StopAll()
		pos = comp.Loop.Start
		t.prevBeat = int(math.Floor(pos)) - 1
	}
	comp.Position = pos
	t.trig.Tick(comp, pos)
	cur := int(math.Floor(pos))
	t.metro.Check(t.prevBeat, cur, comp.TimeSig.Numerator)
	t.prevBeat = cur
}

func (t *Transport) cleanup() {
	t.trig.StopAll()
	t.notes.CancelAll()
	t.state = StateStopped
	t.clock.Stop()
}

func (t *Transport) broadcast() {
	if t.comp == nil {
		return
	}
	comp := t.comp
	snap := Snapshot{
		IsPlaying:       t.state == StatePlaying,
		IsPaused:        t.state == StatePaused,
		Position:        comp.Position,
		PositionSeconds: takt.BeatsToSeconds(comp.Position, comp.BPM),
		BPM:             comp.BPM,
		TimeSigNum:      comp.TimeSig.Numerator,
		TimeSigDen:      comp.TimeSig.Denominator,
		LoopEnabled:     comp.Loop.Enabled,
		LoopStart:       comp.Loop.Start,
		LoopEnd:         comp.Loop.End,
		Metronome:       t.metro.Enabled,
		ActiveNotes:     t.notes.ActiveNotes(),
	}
	if t.launcher != nil {
		state := t.launcher.State()
		snap.PlayingClipIDs = state.Playing
		snap.PendingClipIDs = state.Pending
	}
	TrySend(t.broker.ToUI, snap)
}
