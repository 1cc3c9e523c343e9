package takt

type (
	// MIDINote is a single note event inside a MIDI clip. Start and Duration
	// are in beats, relative to the clip's own start. Notes whose Start lies
	// past the clip end are legal but never trigger.
	MIDINote struct {
		Pitch    int // 0..127
		Velocity int // 0..127
		Start    float64
		Duration float64
		Channel  int `yaml:",omitempty"`
	}

	// Clip is a time-bounded placement of musical content on a track. Its
	// interval on the timeline is half-open: [Start, Start+Duration). The
	// payload depends on the track kind: Notes for MIDI clips, File plus
	// TrimOffset for audio and sample clips. If Go had union types the
	// payload would be one, but in absence of those the track kind acts as
	// the tag and the trigger engine switches on it exhaustively.
	Clip struct {
		ID       string
		TrackID  string
		Start    float64 // beats
		Duration float64 // beats, > 0
		Muted    bool    `yaml:",omitempty"`
		Looped   bool    `yaml:",omitempty"`
		Gain     float64 // [0,2] practically, 1 = unity

		Notes      []MIDINote `yaml:",omitempty,flow"`
		File       string     `yaml:",omitempty"`
		TrimOffset float64    `yaml:",omitempty"` // beats into the source file
	}
)

// End returns the exclusive end of the clip interval, in beats.
func (c *Clip) End() float64 {
	return c.Start + c.Duration
}

// Contains reports whether the playhead position falls inside the clip's
// half-open interval. This single membership test decides "is this clip
// currently sounding" everywhere in the engine, so a clip never
// double-triggers on the boundary where the next clip begins.
func (c *Clip) Contains(pos float64) bool {
	return pos >= c.Start && pos < c.End()
}

func (c *Clip) Copy() Clip {
	notes := make([]MIDINote, len(c.Notes))
	copy(notes, c.Notes)
	clip := *c
	clip.Notes = notes
	return clip
}
