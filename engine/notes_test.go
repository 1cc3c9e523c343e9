package engine

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"takt"
	"takt/scsynth"
)

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testScheduler() *NoteScheduler {
	log := testLog()
	return NewNoteScheduler(scsynth.NewDisconnectedClient(log), scsynth.NewAllocator(), log)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestNoteSchedulerTriggersAndReleases(t *testing.T) {
	s := testScheduler()
	note := takt.MIDINote{Pitch: 60, Velocity: 100, Start: 0, Duration: 1}
	s.Schedule("clip", note, "taktBass", 10, 1, 0, 20*time.Millisecond, 0)
	waitFor(t, time.Second, func() bool { return len(s.ActiveNotes()) == 1 })
	if got := s.ActiveNotes()[0]; got.ClipID != "clip" || got.Pitch != 60 {
		t.Fatalf("unexpected active note %+v", got)
	}
	waitFor(t, time.Second, func() bool { return len(s.ActiveNotes()) == 0 })
	waitFor(t, time.Second, func() bool { return s.Outstanding() == 0 })
}

func TestNoteSchedulerCancelBeforeTrigger(t *testing.T) {
	s := testScheduler()
	note := takt.MIDINote{Pitch: 60, Velocity: 100, Duration: 1}
	s.Schedule("clip", note, "taktBass", 10, 1, time.Hour, time.Hour, 0)
	if s.Outstanding() != 1 {
		t.Fatalf("expected 1 outstanding unit, got %d", s.Outstanding())
	}
	s.CancelAll()
	if s.Outstanding() != 0 {
		t.Fatalf("expected no outstanding units after CancelAll, got %d", s.Outstanding())
	}
	if len(s.ActiveNotes()) != 0 {
		t.Fatalf("expected no active notes, got %v", s.ActiveNotes())
	}
}

func TestNoteSchedulerCancelWhileSounding(t *testing.T) {
	s := testScheduler()
	note := takt.MIDINote{Pitch: 60, Velocity: 100, Duration: 1}
	s.Schedule("clip", note, "taktBass", 10, 1, 0, time.Hour, 0)
	waitFor(t, time.Second, func() bool { return len(s.ActiveNotes()) == 1 })
	// CancelAll must free the sounding voice before returning: the
	// active-notes map is empty the moment it comes back, no matter how
	// slowly the unit goroutine winds down.
	s.CancelAll()
	if len(s.ActiveNotes()) != 0 {
		t.Fatalf("a cancelled-but-sounding note was left audible: %v", s.ActiveNotes())
	}
	if s.Outstanding() != 0 {
		t.Fatalf("expected no outstanding units, got %d", s.Outstanding())
	}
}

func TestNoteSchedulerCancelClipIsSelective(t *testing.T) {
	s := testScheduler()
	note := takt.MIDINote{Pitch: 60, Velocity: 100, Duration: 1}
	s.Schedule("a", note, "taktBass", 10, 1, time.Hour, time.Hour, 0)
	s.Schedule("b", note, "taktBass", 10, 1, time.Hour, time.Hour, 0)
	s.CancelClip("a")
	if s.Outstanding() != 1 {
		t.Fatalf("expected clip b's unit to survive, got %d outstanding", s.Outstanding())
	}
	s.CancelAll()
}

func TestNoteSchedulerCancellationRace(t *testing.T) {
	// cancel at (nearly) the exact instant the delayed trigger fires, many
	// times; cancellation must always win and never leave an active note
	s := testScheduler()
	note := takt.MIDINote{Pitch: 60, Velocity: 100, Duration: 1}
	for i := 0; i < 50; i++ {
		s.Schedule("race", note, "taktBass", 10, 1, time.Millisecond, time.Hour, 0)
		time.Sleep(time.Millisecond)
		s.CancelAll()
		if n := len(s.ActiveNotes()); n != 0 {
			t.Fatalf("iteration %d: %d active notes after CancelAll", i, n)
		}
		if n := s.Outstanding(); n != 0 {
			t.Fatalf("iteration %d: %d outstanding units after CancelAll", i, n)
		}
	}
}

func TestNoteSchedulerLiveNotes(t *testing.T) {
	s := testScheduler()
	node := s.NoteOn(64, 100, "taktLead", 10, 1)
	if len(s.ActiveNotes()) != 1 {
		t.Fatalf("expected 1 active note, got %v", s.ActiveNotes())
	}
	s.NoteOff(node)
	if len(s.ActiveNotes()) != 0 {
		t.Fatalf("expected no active notes after NoteOff, got %v", s.ActiveNotes())
	}
	s.NoteOff(node) // releasing twice is a no-op
}

func TestPitchHz(t *testing.T) {
	if got := pitchHz(69); got != 440 {
		t.Errorf("A4: expected 440, got %v", got)
	}
	if got := pitchHz(81); got != 880 {
		t.Errorf("A5: expected 880, got %v", got)
	}
}
