package engine

import "testing"

func TestMetronomeBeat(t *testing.T) {
	for _, tc := range []struct {
		prev, cur, num int
		fire, accent   bool
	}{
		{0, 0, 4, false, false}, // within the same beat
		{-1, 0, 4, true, true},  // playback start: downbeat
		{0, 1, 4, true, false},
		{2, 3, 4, true, false},
		{3, 4, 4, true, true}, // bar boundary in 4/4
		{4, 5, 4, true, false},
		{5, 6, 3, true, true}, // bar boundary in 3/4
		{6, 8, 4, true, true}, // coarse tick skipping a beat still fires once
		{-3, -2, 4, true, false},
		{-1, -0, 4, true, true},
		{7, 8, 0, true, true}, // degenerate time signature treated as 4/4
	} {
		fire, accent := metronomeBeat(tc.prev, tc.cur, tc.num)
		if fire != tc.fire || accent != tc.accent {
			t.Errorf("metronomeBeat(%d, %d, %d): expected (%v, %v), got (%v, %v)",
				tc.prev, tc.cur, tc.num, tc.fire, tc.accent, fire, accent)
		}
	}
}
