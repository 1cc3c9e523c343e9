package engine

import (
	"errors"
	"testing"
	"time"

	"takt"
	"takt/scsynth"
)

func testTransport(t *testing.T) *Transport {
	t.Helper()
	log := testLog()
	client := scsynth.NewDisconnectedClient(log)
	alloc := scsynth.NewAllocator()
	notes := NewNoteScheduler(client, alloc, log)
	tr := NewTransport(NewBroker(), client, alloc, notes, nil, log)
	comp := testComposition()
	comp.Loop = takt.Loop{Enabled: true, Start: 0, End: 8}
	tr.AddComposition("test", comp)
	return tr
}

// play bypasses the Run goroutine so tests can drive the transport with exact
// beat deltas.
func play(t *testing.T, tr *Transport, position float64) {
	t.Helper()
	reply := make(chan error, 1)
	tr.handleMessage(playMsg{compositionID: "test", position: position, reply: reply})
	if err := <-reply; err != nil {
		t.Fatalf("play: %v", err)
	}
}

func TestTransportPlayUnknownComposition(t *testing.T) {
	tr := testTransport(t)
	reply := make(chan error, 1)
	tr.handleMessage(playMsg{compositionID: "nope", reply: reply})
	if err := <-reply; !errors.Is(err, takt.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if tr.state != StateStopped {
		t.Fatalf("failed play changed state to %v", tr.state)
	}
}

func TestTransportLoopWrap(t *testing.T) {
	tr := testTransport(t)
	play(t, tr, 7.95)
	tr.advance(0.02)
	if len(tr.trig.active) != 1 {
		t.Fatalf("expected amen-1 active before the wrap, got %d clips", len(tr.trig.active))
	}
	tr.advance(0.1)
	if got := tr.comp.Position; got != 0 {
		t.Fatalf("expected the playhead exactly on the loop start, got %v", got)
	}
	if _, ok := tr.trig.active["kick-1"]; !ok {
		t.Fatal("expected kick-1 triggered in the wrap tick")
	}
	if _, ok := tr.trig.active["amen-1"]; ok {
		t.Fatal("expected amen-1 freed by the wrap")
	}
	tr.cleanup()
}

func TestTransportLoopDisabledRunsPast(t *testing.T) {
	tr := testTransport(t)
	tr.regMu.Lock()
	tr.compositions["test"].Loop.Enabled = false
	tr.regMu.Unlock()
	play(t, tr, 7.95)
	tr.advance(0.1)
	if got := tr.comp.Position; got < 8 {
		t.Fatalf("expected the playhead past the region, got %v", got)
	}
	if tr.trig.ActiveCount() != 0 {
		t.Fatal("expected nothing active past the last clip")
	}
	tr.cleanup()
}

func TestTransportPlaySnapsToLoopStart(t *testing.T) {
	tr := testTransport(t)
	tr.regMu.Lock()
	tr.compositions["test"].Loop = takt.Loop{Enabled: true, Start: 4, End: 8}
	tr.regMu.Unlock()
	play(t, tr, 0)
	if got := tr.comp.Position; got != 4 {
		t.Fatalf("expected play at 0 to snap to the loop start, got %v", got)
	}
	tr.cleanup()
}

func TestTransportPauseFreesEverything(t *testing.T) {
	tr := testTransport(t)
	play(t, tr, 0)
	tr.advance(0.02)
	done := make(chan struct{})
	tr.handleMessage(pauseMsg{done: done})
	<-done
	if tr.state != StatePaused {
		t.Fatalf("expected paused, got %v", tr.state)
	}
	if tr.trig.ActiveCount() != 0 {
		t.Fatal("expected no active clips after pause")
	}
	if got := tr.notes.Outstanding(); got != 0 {
		t.Fatalf("expected no outstanding notes after pause, got %d", got)
	}
	if tr.comp.Position == 0 {
		t.Fatal("pause must keep the playhead position")
	}
}

func TestTransportStopResetsPosition(t *testing.T) {
	tr := testTransport(t)
	play(t, tr, 2.5)
	done := make(chan struct{})
	tr.handleMessage(stopMsg{done: done})
	<-done
	if tr.state != StateStopped {
		t.Fatalf("expected stopped, got %v", tr.state)
	}
	if tr.comp.Position != 0 {
		t.Fatalf("expected the playhead reset, got %v", tr.comp.Position)
	}
}

func TestTransportSeek(t *testing.T) {
	tr := testTransport(t)
	play(t, tr, 0)
	tr.advance(0.02)

	done := make(chan struct{})
	tr.handleMessage(seekMsg{position: 4.5, triggerAudio: true, done: done})
	<-done
	if tr.comp.Position != 4.5 {
		t.Fatalf("expected position 4.5, got %v", tr.comp.Position)
	}
	if _, ok := tr.trig.active["amen-1"]; !ok {
		t.Fatal("expected the clip under the new position active after a scrub seek")
	}
	if _, ok := tr.trig.active["kick-1"]; ok {
		t.Fatal("expected the old clip freed by the seek")
	}

	done = make(chan struct{})
	tr.handleMessage(seekMsg{position: 0.5, triggerAudio: false, done: done})
	<-done
	if tr.trig.ActiveCount() != 0 {
		t.Fatal("expected no immediate trigger on a plain seek")
	}
	// the next tick picks the clip up again
	tr.advance(0.02)
	if _, ok := tr.trig.active["kick-1"]; !ok {
		t.Fatal("expected the clip triggered on the tick after the seek")
	}
	tr.cleanup()
}

func TestTransportSeekWhilePausedDoesNotTrigger(t *testing.T) {
	tr := testTransport(t)
	play(t, tr, 0)
	done := make(chan struct{})
	tr.handleMessage(pauseMsg{done: done})
	<-done
	done = make(chan struct{})
	tr.handleMessage(seekMsg{position: 1, triggerAudio: true, done: done})
	<-done
	if tr.trig.ActiveCount() != 0 {
		t.Fatal("a paused transport must not trigger audio on seek")
	}
	if tr.comp.Position != 1 {
		t.Fatalf("expected the playhead moved, got %v", tr.comp.Position)
	}
}

func TestTransportSetTempo(t *testing.T) {
	tr := testTransport(t)
	if err := tr.handleSetTempo(90); !errors.Is(err, takt.ErrNotFound) {
		t.Fatalf("expected ErrNotFound with no composition, got %v", err)
	}
	play(t, tr, 0)
	if err := tr.handleSetTempo(0); err == nil {
		t.Fatal("expected an error for a zero tempo")
	}
	if err := tr.handleSetTempo(-10); err == nil {
		t.Fatal("expected an error for a negative tempo")
	}
	if err := tr.handleSetTempo(90); err != nil {
		t.Fatalf("SetTempo: %v", err)
	}
	if tr.comp.BPM != 90 {
		t.Fatalf("expected 90 BPM, got %v", tr.comp.BPM)
	}
	tr.cleanup()
}

func TestTransportSetLoop(t *testing.T) {
	tr := testTransport(t)
	play(t, tr, 0)
	if err := tr.handleSetLoop(takt.Loop{Enabled: true, Start: 4, End: 4}); err == nil {
		t.Fatal("expected an error for an empty loop region")
	}
	if err := tr.handleSetLoop(takt.Loop{Enabled: true, Start: 2, End: 6}); err != nil {
		t.Fatalf("SetLoop: %v", err)
	}
	if err := tr.handleSetLoop(takt.Loop{Enabled: false, Start: 4, End: 4}); err != nil {
		t.Fatalf("a disabled loop region is not validated: %v", err)
	}
	tr.cleanup()
}

func TestTransportSnapshot(t *testing.T) {
	tr := testTransport(t)
	play(t, tr, 0)
	drain(tr.broker.ToUI)
	tr.advance(0.25)
	tr.broadcast()

	snap, ok := TimeoutReceive(tr.broker.ToUI, time.Second)
	if !ok {
		t.Fatal("expected a snapshot on the UI channel")
	}
	if !snap.IsPlaying || snap.IsPaused {
		t.Fatalf("bad state flags: %+v", snap)
	}
	if snap.Position != 0.25 {
		t.Fatalf("expected position 0.25, got %v", snap.Position)
	}
	if snap.BPM != 120 || snap.TimeSigNum != 4 || snap.TimeSigDen != 4 {
		t.Fatalf("bad tempo fields: %+v", snap)
	}
	if !snap.LoopEnabled || snap.LoopStart != 0 || snap.LoopEnd != 8 {
		t.Fatalf("bad loop fields: %+v", snap)
	}
	tr.cleanup()
}

func drain(ch <-chan Snapshot) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func TestTransportRunLoop(t *testing.T) {
	tr := testTransport(t)
	tr.SetTickInterval(5 * time.Millisecond)
	go tr.Run()

	if err := tr.Play("bogus", 0); !errors.Is(err, takt.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := tr.Play("test", 0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	snap, ok := TimeoutReceive(tr.broker.ToUI, time.Second)
	if !ok || !snap.IsPlaying {
		t.Fatalf("expected a playing snapshot, got %+v (ok=%v)", snap, ok)
	}

	waitFor(t, time.Second, func() bool {
		snap, ok := TimeoutReceive(tr.broker.ToUI, 100*time.Millisecond)
		return ok && snap.Position > 0
	})

	if !tr.ToggleMetronome() {
		t.Fatal("expected the metronome toggled on")
	}
	if tr.ToggleMetronome() {
		t.Fatal("expected the metronome toggled back off")
	}

	tr.Pause()
	// snapshots from ticks before the pause may still be queued
	waitFor(t, time.Second, func() bool {
		snap, ok := TimeoutReceive(tr.broker.ToUI, 100*time.Millisecond)
		return ok && snap.IsPaused
	})

	tr.Stop()
	tr.Close(time.Second)
	if _, ok := <-tr.broker.FinishedTransport; ok {
		t.Fatal("expected FinishedTransport closed")
	}
}
