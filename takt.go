// Package takt contains the data model of the takt workstation: compositions,
// tracks, clips and notes, along with the musical time math shared by the
// timeline transport and the clip launcher. The scheduling engines live in the
// engine package; the synthesis engine wire protocol lives in scsynth.
package takt

import "errors"

// ErrNotFound is returned when a composition, track or clip id is unknown to
// the scheduler. It is always safe to continue after it; nothing has been
// mutated.
var ErrNotFound = errors.New("not found")

type (
	// TimeSig is a time signature. Only the numerator affects scheduling (it
	// defines the bar length in beats for metronome accents and bar
	// quantization); the denominator is carried for display purposes.
	TimeSig struct {
		Numerator   int
		Denominator int
	}

	// Loop is a loop region on the timeline, in beats. End is exclusive, and
	// must be greater than Start whenever Enabled is set.
	Loop struct {
		Enabled bool    `yaml:",omitempty"`
		Start   float64 `yaml:",omitempty"`
		End     float64 `yaml:",omitempty"`
	}
)

// SecondsPerBeat returns the wall-clock length of one beat at the given tempo.
func SecondsPerBeat(bpm float64) float64 {
	return 60 / bpm
}

// BeatsToSeconds converts a duration in beats to seconds at the given tempo.
func BeatsToSeconds(beats, bpm float64) float64 {
	return beats * 60 / bpm
}

// BarLength returns the length of one bar in beats. A zero value TimeSig is
// treated as 4/4.
func (t TimeSig) BarLength() float64 {
	if t.Numerator <= 0 {
		return 4
	}
	return float64(t.Numerator)
}

// Contains reports whether the loop region contains the position. The region
// is half-open, like clip intervals.
func (l Loop) Contains(pos float64) bool {
	return l.Enabled && pos >= l.Start && pos < l.End
}
