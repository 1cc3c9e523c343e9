package engine

type (
	// Snapshot is the transport state broadcast to the external UI
	// collaborator on every tick while playing (and once after every state
	// change while not). It is a value type; receivers may keep it.
	Snapshot struct {
		IsPlaying       bool
		IsPaused        bool
		Position        float64 // beats
		PositionSeconds float64
		BPM             float64
		TimeSigNum      int
		TimeSigDen      int
		LoopEnabled     bool
		LoopStart       float64
		LoopEnd         float64
		Metronome       bool
		ActiveNotes     []ActiveNote
		PlayingClipIDs  []string
		PendingClipIDs  []string
	}

	// ActiveNote is one currently sounding note, as recorded by the note
	// scheduler. Start is the note's logical start position in beats on the
	// timeline.
	ActiveNote struct {
		ClipID string
		Pitch  int
		Start  float64
	}

	// LauncherState is the clip launcher's contribution to the snapshot.
	LauncherState struct {
		Playing []string
		Pending []string
	}
)
