// Package compiler turns a parsed chart into a time-ordered event timeline.
// It is pure: the same chart always compiles to the identical timeline, which
// offline rendering and validation tooling rely on.
package compiler

import (
	"math"
	"sort"

	"github.com/miyako/dtxplay"
)

// ticksPerMeasure is the fixed internal grid. Slot positions are snapped to
// this grid before any floating-point time math so that two lines with
// different resolutions land identical positions on identical ticks.
const ticksPerMeasure = 384

// tempoState is the per-compile tempo bookkeeping, threaded through the
// measure walk. Each compile gets its own isolated state; tempo and
// measure-length chips mutate it in measure order and it persists until the
// next change.
type tempoState struct {
	bpm        float64
	measureLen float64 // measure length multiplier, 1.0 = 4 beats
}

func (s *tempoState) msPerMeasure() float64 {
	return 60000 / s.bpm * 4 * s.measureLen
}

// Compile walks the chart's measures in ascending order and assigns every
// chip an absolute millisecond timestamp. It fails only when the file ended
// with chips still referencing resources that were never declared.
func Compile(chart *dtxplay.Chart) (dtxplay.Timeline, error) {
	if err := checkResolved(chart); err != nil {
		return nil, err
	}

	// Group chip indices by measure, keeping file order within a measure so
	// that equal-slot ties resolve the same way on every run.
	byMeasure := make(map[int][]int)
	maxMeasure := 0
	for i, chip := range chart.Chips {
		byMeasure[chip.Measure] = append(byMeasure[chip.Measure], i)
		if chip.Measure > maxMeasure {
			maxMeasure = chip.Measure
		}
	}

	state := tempoState{bpm: chart.BPM, measureLen: 1}
	timeline := make(dtxplay.Timeline, 0, len(chart.Chips))
	startMs := 0.0
	for m := 0; m <= maxMeasure; m++ {
		indices := byMeasure[m]

		// Tempo and measure-length changes belonging to this measure apply
		// before its duration is computed, in slot order.
		control := make([]int, 0, 2)
		for _, i := range indices {
			switch chart.Chips[i].Channel.Kind {
			case dtxplay.KindMeasureLength, dtxplay.KindTempo, dtxplay.KindTempoRef:
				control = append(control, i)
			}
		}
		sort.SliceStable(control, func(a, b int) bool {
			ca, cb := &chart.Chips[control[a]], &chart.Chips[control[b]]
			fa := float64(ca.Slot) / float64(ca.Resolution)
			fb := float64(cb.Slot) / float64(cb.Resolution)
			return fa < fb
		})
		for _, i := range control {
			chip := &chart.Chips[i]
			switch chip.Channel.Kind {
			case dtxplay.KindMeasureLength:
				state.measureLen = chip.Value
			case dtxplay.KindTempo:
				state.bpm = chip.Value
			case dtxplay.KindTempoRef:
				state.bpm = chip.Ref.TempoValue
			}
		}

		mpm := state.msPerMeasure()
		for _, i := range indices {
			chip := chart.Chips[i]
			switch chip.Channel.Kind {
			case dtxplay.KindMeasureLength, dtxplay.KindTempo, dtxplay.KindTempoRef,
				dtxplay.KindSystem, dtxplay.KindUnknown:
				continue
			}
			tick := math.Round(float64(chip.Slot) / float64(chip.Resolution) * ticksPerMeasure)
			timeline = append(timeline, dtxplay.Event{
				Chip:     chip,
				TimeMs:   startMs + tick/ticksPerMeasure*mpm,
				Autoplay: !chip.Channel.Hittable(),
			})
		}
		startMs += mpm
	}

	timeline.Sort()
	return pairHolds(timeline), nil
}

// checkResolved collects every chip whose resource reference is still a
// placeholder. Such chips were registered in the parser's pending lists and
// the matching declaration never arrived.
func checkResolved(chart *dtxplay.Chart) error {
	seen := make(map[string]bool)
	var ids []string
	for _, chip := range chart.Chips {
		if chip.Ref != nil {
			continue
		}
		var kind dtxplay.ResourceKind
		switch {
		case chip.Channel.Kind == dtxplay.KindTempoRef:
			kind = dtxplay.TempoValue
		case chip.Channel.Kind == dtxplay.KindVisual:
			kind = dtxplay.Image
		case chip.Channel.NeedsSound():
			kind = dtxplay.Sound
		default:
			continue // value-carrying chips have no reference to resolve
		}
		key := kind.String() + ":" + chip.RawValue
		if !seen[key] {
			seen[key] = true
			ids = append(ids, key)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	return &dtxplay.UnresolvedReferenceError{IDs: ids}
}

// pairHolds walks each hold channel's events in time order, pairing them into
// on/off couples: the on event receives the duration and the off event is
// consumed. An unpaired trailing on event keeps a zero duration. The timeline
// is already sorted when called.
func pairHolds(timeline dtxplay.Timeline) dtxplay.Timeline {
	open := make(map[string]int) // hold channel code -> index of pending on event
	consumed := make(map[int]bool)
	for i := range timeline {
		ev := &timeline[i]
		if ev.Channel.Kind != dtxplay.KindHold {
			continue
		}
		if j, ok := open[ev.Channel.Code]; ok {
			timeline[j].DurationMs = ev.TimeMs - timeline[j].TimeMs
			consumed[i] = true
			delete(open, ev.Channel.Code)
		} else {
			open[ev.Channel.Code] = i
		}
	}
	if len(consumed) == 0 {
		return timeline
	}
	out := timeline[:0]
	for i := range timeline {
		if !consumed[i] {
			out = append(out, timeline[i])
		}
	}
	return out
}
