package engine

import (
	"testing"

	"takt/scsynth"
)

func testLivePlayer() (*LivePlayer, *Launcher, *NoteScheduler) {
	log := testLog()
	client := scsynth.NewDisconnectedClient(log)
	alloc := scsynth.NewAllocator()
	notes := NewNoteScheduler(client, alloc, log)
	launcher := NewLauncher(client, alloc, notes, log)
	comp := launcherComposition()
	launcher.SetComposition(comp)
	tr := NewTransport(NewBroker(), client, alloc, notes, launcher, log)
	return tr.NewLivePlayer(comp), launcher, notes
}

func TestLiveNoteOnOff(t *testing.T) {
	live, _, notes := testLivePlayer()
	live.NoteOn(0, 60, 100)
	active := notes.ActiveNotes()
	if len(active) != 1 || active[0].Pitch != 60 {
		t.Fatalf("expected one live note at pitch 60, got %+v", active)
	}
	live.NoteOff(0, 60)
	if got := notes.ActiveNotes(); len(got) != 0 {
		t.Fatalf("expected the note released, got %+v", got)
	}
	// a second release of the same key is a no-op
	live.NoteOff(0, 60)
}

func TestLiveRetriggerReplacesHeldVoice(t *testing.T) {
	live, _, notes := testLivePlayer()
	live.NoteOn(0, 60, 100)
	live.NoteOn(0, 60, 80)
	if got := notes.ActiveNotes(); len(got) != 1 {
		t.Fatalf("expected the first voice released on retrigger, got %+v", got)
	}
	live.NoteOff(0, 60)
	if got := notes.ActiveNotes(); len(got) != 0 {
		t.Fatalf("expected nothing held after the release, got %+v", got)
	}
}

func TestLiveIgnoresNonMIDITracks(t *testing.T) {
	live, _, notes := testLivePlayer()
	live.NoteOn(1, 60, 100) // the sample track
	live.NoteOn(5, 60, 100) // no such track
	if got := notes.ActiveNotes(); len(got) != 0 {
		t.Fatalf("expected no voices, got %+v", got)
	}
}

func TestLivePadLaunchesClip(t *testing.T) {
	live, launcher, _ := testLivePlayer()
	live.NoteOn(live.PadChannel, 36, 100) // pad 0 -> first clip
	if got := launcher.State().Playing; len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected clip a launched by pad 0, got %v", got)
	}
	live.NoteOn(live.PadChannel, 35, 100)  // below the pad origin
	live.NoteOn(live.PadChannel, 120, 100) // beyond the clip list
	if got := launcher.State().Playing; len(got) != 1 {
		t.Fatalf("expected out-of-range pads ignored, got %v", got)
	}
	launcher.StopAllClips()
}

func TestLiveReleaseAll(t *testing.T) {
	live, _, notes := testLivePlayer()
	live.NoteOn(0, 60, 100)
	live.NoteOn(0, 64, 100)
	live.ReleaseAll()
	if got := notes.ActiveNotes(); len(got) != 0 {
		t.Fatalf("expected every held note released, got %+v", got)
	}
}
