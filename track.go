package takt

type (
	// TrackKind tells what kind of clips a track carries and how the engine
	// should voice them.
	TrackKind string

	// Track is a horizontal lane of the composition. A track owns at most one
	// audio bus and one mixer channel in the synthesis engine; both are
	// allocated lazily by the trigger engine on the track's first clip
	// trigger and stay with the track for the rest of the session.
	Track struct {
		ID   string
		Name string `yaml:",omitempty"`
		Kind TrackKind

		// Instrument is the synthdef name used to voice MIDI notes on this
		// track. Only meaningful for KindMIDI tracks.
		Instrument string `yaml:",omitempty"`

		// Sample is the default sample file reference for KindSample tracks.
		Sample string `yaml:",omitempty"`

		Volume float64 // [0,2], 1 = unity
		Pan    float64 `yaml:",omitempty"` // [-1,1]
		Muted  bool    `yaml:",omitempty"`
		Solo   bool    `yaml:",omitempty"`
	}
)

const (
	KindMIDI   TrackKind = "midi"
	KindAudio  TrackKind = "audio"
	KindSample TrackKind = "sample"
)

func (k TrackKind) Valid() bool {
	switch k {
	case KindMIDI, KindAudio, KindSample:
		return true
	}
	return false
}

// Audible reports whether clips on this track should sound, given whether any
// track in the composition is soloed. A soloed track silences every non-solo
// track.
func (t *Track) Audible(anySolo bool) bool {
	if t.Muted {
		return false
	}
	if anySolo && !t.Solo {
		return false
	}
	return true
}
