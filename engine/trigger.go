package engine

import (
	"fmt"
	"log/slog"
	"time"

	"takt"
	"takt/scsynth"
)

type (
	// activeClip records why a clip counts as sounding: sample and audio
	// clips hold one engine node, MIDI clips are a marker whose real
	// resources are the clip's outstanding note scheduler units.
	activeClip struct {
		node scsynth.NodeID
		midi bool
	}

	// triggerEngine decides, for a playhead position, which clips must start
	// or stop this tick. It is owned by the transport loop and runs on its
	// goroutine only; the shared pieces it touches (mixer, note scheduler,
	// allocator) lock for themselves.
	triggerEngine struct {
		client *scsynth.Client
		notes  *NoteScheduler
		mix    *mixer
		log    *slog.Logger

		active map[string]activeClip
	}
)

func newTriggerEngine(client *scsynth.Client, notes *NoteScheduler, mix *mixer, log *slog.Logger) *triggerEngine {
	return &triggerEngine{
		client: client,
		notes:  notes,
		mix:    mix,
		log:    log,
		active: make(map[string]activeClip),
	}
}

// Tick runs one scheduling pass at the given playhead position. The stop pass
// always completes before the start pass, so a clip leaving and re-entering
// its interval within one tick is restarted rather than treated as still
// active.
func (e *triggerEngine) Tick(comp *takt.Composition, pos float64) {
	e.stopPass(comp, pos)
	e.startPass(comp, pos)
}

func (e *triggerEngine) stopPass(comp *takt.Composition, pos float64) {
	anySolo := comp.AnySolo()
	for id, ac := range e.active {
		clip, err := comp.Clip(id)
		if err != nil {
			e.stopClip(id, ac)
			continue
		}
		track, trackErr := comp.Track(clip.TrackID)
		stillSounding := clip.Contains(pos) && !clip.Muted &&
			trackErr == nil && track.Audible(anySolo)
		if !stillSounding {
			e.stopClip(id, ac)
		}
	}
}

func (e *triggerEngine) startPass(comp *takt.Composition, pos float64) {
	anySolo := comp.AnySolo()
	for i := range comp.Clips {
		clip := &comp.Clips[i]
		if clip.Muted || !clip.Contains(pos) {
			continue
		}
		if _, ok := e.active[clip.ID]; ok {
			continue // re-triggering a sounding clip is a no-op
		}
		track, err := comp.Track(clip.TrackID)
		if err != nil {
			e.log.Warn("clip references unknown track", "clip", clip.ID, "track", clip.TrackID)
			continue
		}
		if !track.Audible(anySolo) {
			continue
		}
		// One bad clip must not stop the rest of the composition.
		if err := e.trigger(comp, track, clip, pos-clip.Start); err != nil {
			e.log.Warn("clip trigger failed", "clip", clip.ID, "error", err)
		}
	}
}

func (e *triggerEngine) trigger(comp *takt.Composition, track *takt.Track, clip *takt.Clip, offset float64) error {
	switch track.Kind {
	case takt.KindMIDI:
		e.triggerMIDI(comp, track, clip, offset)
	case takt.KindAudio, takt.KindSample:
		if err := e.triggerSample(track, clip, offset); err != nil {
			return err
		}
	default:
		return fmt.Errorf("track %q has unknown kind %q", track.ID, track.Kind)
	}
	return nil
}

// triggerMIDI schedules every note of the clip that has not yet passed. A
// clip entered mid-way does not replay missed notes: only notes with
// start >= offset trigger.
func (e *triggerEngine) triggerMIDI(comp *takt.Composition, track *takt.Track, clip *takt.Clip, offset float64) {
	ch := e.mix.channelFor(track)
	spb := takt.SecondsPerBeat(comp.BPM)
	amp := float32(clip.Gain * track.Volume)
	for _, note := range clip.Notes {
		if note.Start < offset {
			continue
		}
		delay := time.Duration((note.Start - offset) * spb * float64(time.Second))
		duration := time.Duration(note.Duration * spb * float64(time.Second))
		e.notes.Schedule(clip.ID, note, track.Instrument, ch.bus, amp, delay, duration, clip.Start+note.Start)
	}
	// The marker also rides along when every note already passed, so the
	// start pass does not retry the clip each tick.
	e.active[clip.ID] = activeClip{midi: true}
}

func (e *triggerEngine) triggerSample(track *takt.Track, clip *takt.Clip, offset float64) error {
	file := clip.File
	if file == "" {
		file = track.Sample
	}
	if file == "" {
		return fmt.Errorf("clip %q has no sample reference", clip.ID)
	}
	buffer := e.mix.bufferFor(file)
	ch := e.mix.channelFor(track)
	node := e.mix.alloc.Node()
	start := (offset + clip.TrimOffset) / clip.Duration
	start = min(max(start, 0), 1)
	loop := float32(0)
	if clip.Looped {
		loop = 1
	}
	e.client.NewSynth(synthdefSampler, node, scsynth.AddToTail, scsynth.GroupSynths,
		scsynth.Param{Name: "bufnum", Value: float32(buffer)},
		scsynth.Param{Name: "out", Value: float32(ch.bus)},
		scsynth.Param{Name: "amp", Value: float32(clip.Gain * track.Volume)},
		scsynth.Param{Name: "start", Value: float32(start)},
		scsynth.Param{Name: "loop", Value: loop},
	)
	e.active[clip.ID] = activeClip{node: node}
	return nil
}

func (e *triggerEngine) stopClip(id string, ac activeClip) {
	if ac.midi {
		e.notes.CancelClip(id)
	} else {
		e.client.FreeNode(ac.node)
	}
	delete(e.active, id)
}

// StopAll frees every active clip. Used by pause, stop and the loop wrap; on
// return the active set is empty and no scheduled note of these clips is
// outstanding.
func (e *triggerEngine) StopAll() {
	for id, ac := range e.active {
		e.stopClip(id, ac)
	}
}

// ActiveCount reports how many clips are currently marked active.
func (e *triggerEngine) ActiveCount() int {
	return len(e.active)
}
