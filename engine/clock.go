package engine

import (
	"time"

	"takt"
)

// BeatClock maps wall-clock time to musical time. Both the timeline transport
// and the clip launcher run one; tempo is passed in on every advance rather
// than cached, so tempo changes take effect on the next tick's delta without
// restarting the clock.
type BeatClock struct {
	last    time.Time
	beat    float64
	running bool
}

// Start (re)bases the clock at now. The accumulated beat count is kept; use
// SetBeat to move it.
func (c *BeatClock) Start(now time.Time) {
	c.last = now
	c.running = true
}

func (c *BeatClock) Stop() {
	c.running = false
}

func (c *BeatClock) Running() bool {
	return c.running
}

// Advance moves the clock to now at the given tempo and returns the elapsed
// time in beats. A stopped or freshly started clock advances by zero.
func (c *BeatClock) Advance(now time.Time, bpm float64) float64 {
	if !c.running {
		return 0
	}
	delta := now.Sub(c.last).Seconds() / takt.SecondsPerBeat(bpm)
	if delta < 0 {
		delta = 0
	}
	c.last = now
	c.beat += delta
	return delta
}

// Beat returns the accumulated beat count.
func (c *BeatClock) Beat() float64 {
	return c.beat
}

func (c *BeatClock) SetBeat(beat float64) {
	c.beat = beat
}
