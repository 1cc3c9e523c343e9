package engine

import (
	"takt/scsynth"
)

// metronomeBeat decides whether a click falls between two integer beat
// positions, and whether it is the accented downbeat of a bar. It fires at
// most once per integer beat transition.
func metronomeBeat(prevBeat, curBeat, tsNumerator int) (fire, accent bool) {
	if curBeat == prevBeat {
		return false, false
	}
	n := tsNumerator
	if n <= 0 {
		n = 4
	}
	beat := ((curBeat % n) + n) % n
	return true, beat == 0
}

// Metronome asks the protocol client for a short click synth on beat
// boundaries. The click synthdef frees its own node when the envelope ends,
// so nothing is recorded.
type Metronome struct {
	client *scsynth.Client
	alloc  scsynth.IDAllocator

	Enabled bool
	Volume  float64
}

func newMetronome(client *scsynth.Client, alloc scsynth.IDAllocator) *Metronome {
	return &Metronome{client: client, alloc: alloc, Volume: 0.8}
}

// Check fires a click if an integer beat boundary lies between the previous
// and current beat. Accented downbeats get a higher pitch and full volume.
func (m *Metronome) Check(prevBeat, curBeat, tsNumerator int) {
	if !m.Enabled {
		return
	}
	fire, accent := metronomeBeat(prevBeat, curBeat, tsNumerator)
	if !fire {
		return
	}
	freq, amp := float32(1000), float32(m.Volume*0.7)
	if accent {
		freq, amp = 1600, float32(m.Volume)
	}
	m.client.NewSynth(synthdefClick, m.alloc.Node(), scsynth.AddToHead, scsynth.GroupSynths,
		scsynth.Param{Name: "freq", Value: freq},
		scsynth.Param{Name: "amp", Value: amp},
		scsynth.Param{Name: "out", Value: 0},
	)
}
