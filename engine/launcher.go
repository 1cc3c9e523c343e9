package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"takt"
	"takt/scsynth"
)

type (
	// Launcher is the performance-mode playback surface: freeform, quantized
	// per-track clip triggering, independent of the timeline playhead. It
	// runs its own beat clock, started lazily on the first launch and
	// stopped again once nothing is playing or pending. The launcher shares
	// the note scheduler, allocator and mixer with the timeline transport,
	// so both may drive the synthesis engine at the same time; its own maps
	// are mutex-guarded because launches arrive from arbitrary goroutines.
	Launcher struct {
		client *scsynth.Client
		notes  *NoteScheduler
		log    *slog.Logger
		mix    *mixer

		mu           sync.Mutex
		comp         *takt.Composition
		tempo        float64
		quant        float64 // quantization in beats, 0 = none
		clock        BeatClock
		running      bool
		playing      map[string]*launcherVoice
		pending      map[string]*pendingLaunch
		tickInterval time.Duration
	}

	// launcherVoice is one playing clip: a looping note task for MIDI clips,
	// a single engine node for sample and audio clips. Removal from the
	// playing map is the only stop signal the loop task checks.
	launcherVoice struct {
		clipID string
		midi   bool
		node   scsynth.NodeID
		stopc  chan struct{}
		done   chan struct{}
	}

	// pendingLaunch is a quantized launch waiting for its boundary.
	pendingLaunch struct {
		clipID string
		cancel chan struct{}
		done   chan struct{}
	}
)

func NewLauncher(client *scsynth.Client, alloc scsynth.IDAllocator, notes *NoteScheduler, log *slog.Logger) *Launcher {
	return &Launcher{
		client:       client,
		notes:        notes,
		log:          log,
		mix:          newMixer(client, alloc, log),
		playing:      make(map[string]*launcherVoice),
		pending:      make(map[string]*pendingLaunch),
		tickInterval: DefaultTickInterval,
	}
}

// SetComposition points the launcher at the composition whose clips it
// launches. The transport calls this on play; it can also be set directly
// when only the launcher is used.
func (l *Launcher) SetComposition(comp *takt.Composition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.comp = comp
	l.tempo = comp.BPM
}

// SetTempo updates the launcher's tempo. Loop tasks pick it up on their next
// iteration; pending quantized waits keep the boundary computed at launch.
func (l *Launcher) SetTempo(bpm float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bpm > 0 {
		l.tempo = bpm
	}
}

// SetQuantization sets the launch quantization in beats; 0 launches
// immediately. One bar in 4/4 is 4.
func (l *Launcher) SetQuantization(beats float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if beats >= 0 {
		l.quant = beats
	}
}

// LaunchClip triggers a clip, immediately or on the next quantization
// boundary. At most one clip per track may sound in launcher mode: a
// conflicting pending launch on the same track is cancelled now, and a
// conflicting playing clip is stopped when the new trigger actually fires.
func (l *Launcher) LaunchClip(clipID string) error {
	l.mu.Lock()
	if l.comp == nil {
		l.mu.Unlock()
		return fmt.Errorf("no composition: %w", takt.ErrNotFound)
	}
	clip, err := l.comp.Clip(clipID)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	track, err := l.comp.Track(clip.TrackID)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	cancelled := l.takePendingOnTrackLocked(track.ID, clipID)
	if l.quant == 0 || !l.running {
		stopped := l.takePlayingOnTrackLocked(track.ID, clipID)
		l.finishVictims(stopped, cancelled) // unlocks l.mu
		l.mu.Lock()
		l.triggerLocked(clip, track)
		l.ensureRunningLocked()
		l.mu.Unlock()
		return nil
	}
	beat := l.clock.Beat()
	boundary := math.Ceil(beat/l.quant) * l.quant
	delay := time.Duration(takt.BeatsToSeconds(boundary-beat, l.tempo) * float64(time.Second))
	p := &pendingLaunch{clipID: clipID, cancel: make(chan struct{}), done: make(chan struct{})}
	l.pending[clipID] = p
	l.ensureRunningLocked()
	l.finishVictims(nil, cancelled) // unlocks l.mu
	go l.waitPending(p, delay)
	return nil
}

// StopClip cancels a pending launch for the clip, or stops it if playing.
func (l *Launcher) StopClip(clipID string) error {
	l.mu.Lock()
	if p, ok := l.pending[clipID]; ok {
		delete(l.pending, clipID)
		l.mu.Unlock()
		close(p.cancel)
		<-p.done
		return nil
	}
	if v, ok := l.playing[clipID]; ok {
		delete(l.playing, clipID)
		l.mu.Unlock()
		l.stopVoice(v)
		return nil
	}
	l.mu.Unlock()
	return fmt.Errorf("clip %q is not playing or pending: %w", clipID, takt.ErrNotFound)
}

// StopAllClips cancels every pending launch and stops every playing clip,
// returning only after all of their resources are freed.
func (l *Launcher) StopAllClips() {
	l.mu.Lock()
	pending := make([]*pendingLaunch, 0, len(l.pending))
	for id, p := range l.pending {
		pending = append(pending, p)
		delete(l.pending, id)
	}
	playing := make([]*launcherVoice, 0, len(l.playing))
	for id, v := range l.playing {
		playing = append(playing, v)
		delete(l.playing, id)
	}
	l.mu.Unlock()
	for _, p := range pending {
		close(p.cancel)
	}
	for _, p := range pending {
		<-p.done
	}
	for _, v := range playing {
		l.stopVoice(v)
	}
}

// State returns the playing and pending clip ids, sorted, for the snapshot.
func (l *Launcher) State() LauncherState {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := LauncherState{}
	for id := range l.playing {
		state.Playing = append(state.Playing, id)
	}
	for id := range l.pending {
		state.Pending = append(state.Pending, id)
	}
	sort.Strings(state.Playing)
	sort.Strings(state.Pending)
	return state
}

// takePendingOnTrackLocked removes every pending launch of other clips on the
// track and returns them for finishing outside the lock.
func (l *Launcher) takePendingOnTrackLocked(trackID, except string) []*pendingLaunch {
	var victims []*pendingLaunch
	for id, p := range l.pending {
		if id == except {
			continue
		}
		if l.clipTrackLocked(id) == trackID {
			victims = append(victims, p)
			delete(l.pending, id)
		}
	}
	return victims
}

func (l *Launcher) takePlayingOnTrackLocked(trackID, except string) []*launcherVoice {
	var victims []*launcherVoice
	for id, v := range l.playing {
		if id == except {
			continue
		}
		if l.clipTrackLocked(id) == trackID {
			victims = append(victims, v)
			delete(l.playing, id)
		}
	}
	return victims
}

func (l *Launcher) clipTrackLocked(clipID string) string {
	clip, err := l.comp.Clip(clipID)
	if err != nil {
		return ""
	}
	return clip.TrackID
}

// finishVictims releases the lock and finishes stopping the evicted voices
// and pending launches. Stopping a voice awaits its loop task, which may be
// about to take the lock, so this must not hold it.
func (l *Launcher) finishVictims(voices []*launcherVoice, pending []*pendingLaunch) {
	l.mu.Unlock()
	for _, p := range pending {
		close(p.cancel)
	}
	for _, p := range pending {
		<-p.done
	}
	for _, v := range voices {
		l.stopVoice(v)
	}
}

func (l *Launcher) stopVoice(v *launcherVoice) {
	if v.midi {
		close(v.stopc)
		// await the loop task first, so no scheduling pass can race the
		// cancellation below
		<-v.done
		l.notes.CancelClip(v.clipID)
	} else {
		l.client.FreeNode(v.node)
	}
}

func (l *Launcher) waitPending(p *pendingLaunch, delay time.Duration) {
	defer close(p.done)
	timer := time.NewTimer(delay)
	select {
	case <-timer.C:
		l.firePending(p)
	case <-p.cancel:
		timer.Stop()
	}
}

func (l *Launcher) firePending(p *pendingLaunch) {
	l.mu.Lock()
	if l.pending[p.clipID] != p {
		l.mu.Unlock()
		return // cancelled while the timer fired
	}
	delete(l.pending, p.clipID)
	clip, err := l.comp.Clip(p.clipID)
	if err != nil {
		l.mu.Unlock()
		l.log.Warn("pending clip vanished", "clip", p.clipID)
		return
	}
	track, err := l.comp.Track(clip.TrackID)
	if err != nil {
		l.mu.Unlock()
		l.log.Warn("pending clip has no track", "clip", p.clipID)
		return
	}
	stopped := l.takePlayingOnTrackLocked(track.ID, p.clipID)
	l.finishVictims(stopped, nil) // unlocks l.mu
	l.mu.Lock()
	l.triggerLocked(clip, track)
	l.mu.Unlock()
}

func (l *Launcher) triggerLocked(clip *takt.Clip, track *takt.Track) {
	if _, ok := l.playing[clip.ID]; ok {
		return
	}
	// Exclusivity backstop: launches racing on the same track resolve to
	// whichever trigger ran first, never to two playing clips.
	for id := range l.playing {
		if l.clipTrackLocked(id) == track.ID {
			return
		}
	}
	switch track.Kind {
	case takt.KindMIDI:
		v := &launcherVoice{clipID: clip.ID, midi: true, stopc: make(chan struct{}), done: make(chan struct{})}
		l.playing[clip.ID] = v
		go l.noteLoop(v, clip.Copy(), *track)
	case takt.KindAudio, takt.KindSample:
		file := clip.File
		if file == "" {
			file = track.Sample
		}
		if file == "" {
			l.log.Warn("clip has no sample reference", "clip", clip.ID)
			return
		}
		buffer := l.mix.bufferFor(file)
		ch := l.mix.channelFor(track)
		node := l.mix.alloc.Node()
		loop := float32(0)
		if clip.Looped {
			loop = 1
		}
		l.client.NewSynth(synthdefSampler, node, scsynth.AddToTail, scsynth.GroupSynths,
			scsynth.Param{Name: "bufnum", Value: float32(buffer)},
			scsynth.Param{Name: "out", Value: float32(ch.bus)},
			scsynth.Param{Name: "amp", Value: float32(clip.Gain * track.Volume)},
			scsynth.Param{Name: "start", Value: float32(clip.TrimOffset / clip.Duration)},
			scsynth.Param{Name: "loop", Value: loop},
		)
		l.playing[clip.ID] = &launcherVoice{clipID: clip.ID, node: node}
	}
}

// noteLoop plays a MIDI clip's notes over and over: schedule every note of
// one pass scaled to the current tempo, sleep the clip length, check the
// active set, repeat. The clip vanishing from the playing map is the only
// stop condition.
func (l *Launcher) noteLoop(v *launcherVoice, clip takt.Clip, track takt.Track) {
	defer close(v.done)
	for {
		l.mu.Lock()
		if l.playing[clip.ID] != v {
			l.mu.Unlock()
			return
		}
		tempo := l.tempo
		l.mu.Unlock()
		ch := l.mix.channelFor(&track)
		spb := takt.SecondsPerBeat(tempo)
		amp := float32(clip.Gain * track.Volume)
		for _, note := range clip.Notes {
			delay := time.Duration(note.Start * spb * float64(time.Second))
			duration := time.Duration(note.Duration * spb * float64(time.Second))
			l.notes.Schedule(clip.ID, note, track.Instrument, ch.bus, amp, delay, duration, note.Start)
		}
		select {
		case <-time.After(time.Duration(clip.Duration * spb * float64(time.Second))):
		case <-v.stopc:
			return
		}
	}
}

// ensureRunningLocked starts the launcher's beat clock loop if it is not
// running yet.
func (l *Launcher) ensureRunningLocked() {
	if l.running {
		return
	}
	l.running = true
	l.clock.SetBeat(0)
	l.clock.Start(time.Now())
	go l.run()
}

// run advances the launcher's beat clock until nothing is playing or pending
// anymore, then stops itself.
func (l *Launcher) run() {
	ticker := time.NewTicker(l.tickInterval)
	defer ticker.Stop()
	for now := range ticker.C {
		l.mu.Lock()
		l.clock.Advance(now, l.tempo)
		if len(l.playing) == 0 && len(l.pending) == 0 {
			l.running = false
			l.clock.Stop()
			l.mu.Unlock()
			return
		}
		l.mu.Unlock()
	}
}
