package dtxplay

import "sort"

type (
	// Event is a chip annotated with its absolute time. Events are what the
	// scheduler consumes; the chip itself still carries the channel, the slot
	// position and the resolved resource.
	Event struct {
		Chip
		TimeMs     float64
		DurationMs float64 // nonzero only for sustain notes
		Autoplay   bool    // true if the event never waits for player input
	}

	// Timeline is the compiled, time-ordered event list of one chart. Ordering
	// is by TimeMs, ties broken by (measure, channel code, slot) ascending so
	// that compiling the same chart always yields the identical sequence.
	Timeline []Event
)

// Less is the timeline ordering relation, exposed so that the compiler and
// tests agree on one definition.
func (e *Event) Less(other *Event) bool {
	if e.TimeMs != other.TimeMs {
		return e.TimeMs < other.TimeMs
	}
	if e.Measure != other.Measure {
		return e.Measure < other.Measure
	}
	if e.Channel.Code != other.Channel.Code {
		return e.Channel.Code < other.Channel.Code
	}
	return e.Slot < other.Slot
}

// Sort orders the timeline by the canonical relation.
func (t Timeline) Sort() {
	sort.SliceStable(t, func(i, j int) bool { return t[i].Less(&t[j]) })
}

// DurationMs returns the time of the last event, the natural "length" of the
// timeline for progress display.
func (t Timeline) DurationMs() float64 {
	if len(t) == 0 {
		return 0
	}
	return t[len(t)-1].TimeMs
}

// EventsBetween returns the subslice of events with fromMs <= TimeMs < toMs.
// This is the display query: a renderer asks for the events scrolling through
// its visible window. The returned slice aliases the timeline; callers must
// not modify it.
func (t Timeline) EventsBetween(fromMs, toMs float64) []Event {
	lo := sort.Search(len(t), func(i int) bool { return t[i].TimeMs >= fromMs })
	hi := sort.Search(len(t), func(i int) bool { return t[i].TimeMs >= toMs })
	return t[lo:hi]
}
