package takt

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Composition is the unit of playback: an ordered set of tracks, a set of
// clips referencing them, and the musical time parameters. The transport
// mutates only Position (and reads the rest every tick); everything else is
// owned by whoever loaded the composition.
type Composition struct {
	Name    string `yaml:",omitempty"`
	BPM     float64
	TimeSig TimeSig
	Loop    Loop    `yaml:",omitempty"`
	Tracks  []Track `yaml:",omitempty"`
	Clips   []Clip  `yaml:",omitempty"`

	// Position is the playhead, in beats. Only the owning transport loop
	// writes it while playing.
	Position float64 `yaml:",omitempty"`
}

// Track returns the track with the given id, or ErrNotFound.
func (c *Composition) Track(id string) (*Track, error) {
	for i := range c.Tracks {
		if c.Tracks[i].ID == id {
			return &c.Tracks[i], nil
		}
	}
	return nil, fmt.Errorf("track %q: %w", id, ErrNotFound)
}

// Clip returns the clip with the given id, or ErrNotFound.
func (c *Composition) Clip(id string) (*Clip, error) {
	for i := range c.Clips {
		if c.Clips[i].ID == id {
			return &c.Clips[i], nil
		}
	}
	return nil, fmt.Errorf("clip %q: %w", id, ErrNotFound)
}

// AnySolo reports whether any track in the composition is soloed.
func (c *Composition) AnySolo() bool {
	for i := range c.Tracks {
		if c.Tracks[i].Solo {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants of the composition: positive
// tempo, clip intervals, foreign keys and note ranges. A composition that
// fails validation must not be handed to a transport.
func (c *Composition) Validate() error {
	if c.BPM <= 0 {
		return fmt.Errorf("BPM must be positive, got %v", c.BPM)
	}
	if c.Loop.Enabled && c.Loop.End <= c.Loop.Start {
		return fmt.Errorf("loop end %v is not after loop start %v", c.Loop.End, c.Loop.Start)
	}
	tracks := make(map[string]*Track, len(c.Tracks))
	for i := range c.Tracks {
		t := &c.Tracks[i]
		if t.ID == "" {
			return fmt.Errorf("track %d has no id", i)
		}
		if _, ok := tracks[t.ID]; ok {
			return fmt.Errorf("duplicate track id %q", t.ID)
		}
		if !t.Kind.Valid() {
			return fmt.Errorf("track %q has unknown kind %q", t.ID, t.Kind)
		}
		if t.Volume < 0 || t.Volume > 2 {
			return fmt.Errorf("track %q volume %v outside [0,2]", t.ID, t.Volume)
		}
		if t.Pan < -1 || t.Pan > 1 {
			return fmt.Errorf("track %q pan %v outside [-1,1]", t.ID, t.Pan)
		}
		tracks[t.ID] = t
	}
	clips := make(map[string]bool, len(c.Clips))
	for i := range c.Clips {
		clip := &c.Clips[i]
		if clip.ID == "" {
			return fmt.Errorf("clip %d has no id", i)
		}
		if clips[clip.ID] {
			return fmt.Errorf("duplicate clip id %q", clip.ID)
		}
		clips[clip.ID] = true
		track, ok := tracks[clip.TrackID]
		if !ok {
			return fmt.Errorf("clip %q references unknown track %q", clip.ID, clip.TrackID)
		}
		if clip.Duration <= 0 {
			return fmt.Errorf("clip %q duration %v is not positive", clip.ID, clip.Duration)
		}
		if clip.Gain < 0 {
			return fmt.Errorf("clip %q gain %v is negative", clip.ID, clip.Gain)
		}
		if track.Kind == KindMIDI {
			for j, n := range clip.Notes {
				if n.Pitch < 0 || n.Pitch > 127 {
					return fmt.Errorf("clip %q note %d pitch %d outside 0..127", clip.ID, j, n.Pitch)
				}
				if n.Velocity < 0 || n.Velocity > 127 {
					return fmt.Errorf("clip %q note %d velocity %d outside 0..127", clip.ID, j, n.Velocity)
				}
				if n.Start < 0 {
					return fmt.Errorf("clip %q note %d starts before the clip", clip.ID, j)
				}
				if n.Duration <= 0 {
					return fmt.Errorf("clip %q note %d duration %v is not positive", clip.ID, j, n.Duration)
				}
			}
		}
	}
	return nil
}

// Copy makes a deep copy of the composition.
func (c *Composition) Copy() Composition {
	tracks := make([]Track, len(c.Tracks))
	copy(tracks, c.Tracks)
	clips := make([]Clip, len(c.Clips))
	for i := range c.Clips {
		clips[i] = c.Clips[i].Copy()
	}
	comp := *c
	comp.Tracks = tracks
	comp.Clips = clips
	return comp
}

// LoadComposition parses a composition from its YAML serialization and
// validates it.
func LoadComposition(data []byte) (*Composition, error) {
	var c Composition
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("yaml.Unmarshal: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save serializes the composition to YAML.
func (c *Composition) Save() ([]byte, error) {
	return yaml.Marshal(c)
}
