package dtxplay

import "math"

type (
	// Tier is the accuracy classification of a resolved note.
	Tier int

	// Windows are the judgment tolerance windows in milliseconds, compared
	// against the absolute input-to-note delta. Each window is inclusive.
	Windows struct {
		PerfectMs float64 `yaml:"perfect"`
		GreatMs   float64 `yaml:"great"`
		GoodMs    float64 `yaml:"good"`
		PoorMs    float64 `yaml:"poor"`
	}

	// Judgment is the record emitted for every resolved note, both for input
	// hits and for timeout misses.
	Judgment struct {
		Event   *Event
		Tier    Tier
		DeltaMs float64 // input time minus note time; zero for misses
	}
)

const (
	TierPerfect Tier = iota
	TierGreat
	TierGood
	TierPoor
	TierMiss
)

func (t Tier) String() string {
	switch t {
	case TierPerfect:
		return "perfect"
	case TierGreat:
		return "great"
	case TierGood:
		return "good"
	case TierPoor:
		return "poor"
	}
	return "miss"
}

// DefaultWindows are the stock tolerance windows.
func DefaultWindows() Windows {
	return Windows{PerfectMs: 34, GreatMs: 67, GoodMs: 84, PoorMs: 117}
}

// TierFor assigns the finest tier whose window contains deltaMs. ok is false
// when the delta exceeds the Poor window, in which case the input should be
// discarded with no effect.
func (w Windows) TierFor(deltaMs float64) (tier Tier, ok bool) {
	d := math.Abs(deltaMs)
	switch {
	case d <= w.PerfectMs:
		return TierPerfect, true
	case d <= w.GreatMs:
		return TierGreat, true
	case d <= w.GoodMs:
		return TierGood, true
	case d <= w.PoorMs:
		return TierPoor, true
	}
	return TierMiss, false
}
