package dtxplay

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type (
	// StealPolicy selects what happens when a sound's voice pool is exhausted.
	StealPolicy string

	// ChokeRule is a directed "stops" relation between channels: activating a
	// chip on the Stopper channel silences every playing voice that was
	// started by a chip on one of the Victims channels. The relation is not
	// symmetric.
	ChokeRule struct {
		Stopper string   `yaml:"stopper"`
		Victims []string `yaml:"victims"`
	}

	// PlayConfig collects everything tunable about playback: judgment windows,
	// voice pool size and steal policy, choke rules, the promotion sweep
	// interval and the MIDI note to lane mapping.
	PlayConfig struct {
		Windows         Windows     `yaml:"windows"`
		Polyphony       int         `yaml:"polyphony"`
		Steal           StealPolicy `yaml:"steal"`
		SweepIntervalMs float64     `yaml:"sweep_interval_ms"`
		Chokes          []ChokeRule `yaml:"chokes"`
		// MIDINotes maps MIDI note numbers to lane names as given by
		// Lane.String. Defaults follow the General MIDI drum map.
		MIDINotes map[int]string `yaml:"midi_notes"`
	}
)

const (
	// StealOldest reclaims the voice that began playing longest ago.
	StealOldest StealPolicy = "steal-oldest"
	// StealRoundRobin always advances to the next pool index and reclaims it,
	// busy or not. Lower fidelity under heavy polyphony, but branch-free.
	StealRoundRobin StealPolicy = "round-robin"
)

// DefaultPlayConfig returns the stock configuration: DTX-style hi-hat chokes
// (closed and pedal hi-hat stop the open hi-hat), four voices per sound and
// the default judgment windows.
func DefaultPlayConfig() PlayConfig {
	return PlayConfig{
		Windows:         DefaultWindows(),
		Polyphony:       4,
		Steal:           StealOldest,
		SweepIntervalMs: 1,
		Chokes: []ChokeRule{
			{Stopper: "11", Victims: []string{"18"}},
			{Stopper: "1B", Victims: []string{"18"}},
		},
		MIDINotes: map[int]string{
			36: "bass",
			38: "snare",
			40: "snare",
			41: "floor-tom",
			42: "hi-hat",
			44: "foot",
			45: "low-tom",
			46: "hi-hat",
			48: "high-tom",
			49: "left-cymbal",
			51: "ride",
			57: "right-cymbal",
		},
	}
}

// LoadPlayConfig reads a yaml configuration file on top of the defaults, so a
// file only needs to name the fields it changes.
func LoadPlayConfig(path string) (PlayConfig, error) {
	cfg := DefaultPlayConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading play config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing play config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("play config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the scheduler cannot honor.
func (c *PlayConfig) Validate() error {
	if c.Polyphony < 1 {
		return fmt.Errorf("polyphony must be at least 1, got %d", c.Polyphony)
	}
	if c.Steal != StealOldest && c.Steal != StealRoundRobin {
		return fmt.Errorf("unknown steal policy %q", c.Steal)
	}
	if c.SweepIntervalMs <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %v", c.SweepIntervalMs)
	}
	if !(c.Windows.PerfectMs <= c.Windows.GreatMs &&
		c.Windows.GreatMs <= c.Windows.GoodMs &&
		c.Windows.GoodMs <= c.Windows.PoorMs) {
		return fmt.Errorf("judgment windows must be non-decreasing")
	}
	for _, rule := range c.Chokes {
		if _, ok := ChannelFor(rule.Stopper); !ok {
			return fmt.Errorf("choke stopper %q is not a known channel", rule.Stopper)
		}
		for _, v := range rule.Victims {
			if _, ok := ChannelFor(v); !ok {
				return fmt.Errorf("choke victim %q is not a known channel", v)
			}
		}
	}
	for note, name := range c.MIDINotes {
		if _, ok := LaneByName(name); !ok {
			return fmt.Errorf("midi note %d maps to unknown lane %q", note, name)
		}
	}
	return nil
}

// LaneForMIDINote resolves a MIDI note number through the configured mapping.
func (c *PlayConfig) LaneForMIDINote(note int) (Lane, bool) {
	name, ok := c.MIDINotes[note]
	if !ok {
		return LaneNone, false
	}
	return LaneByName(name)
}
