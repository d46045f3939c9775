package dtxplay

import (
	"fmt"
	"sort"
	"strings"
)

type (
	// ResourceKind tells what a two-character resource ID names. The same ID
	// may independently name a sound, an image, a video and a tempo value;
	// uniqueness is per (kind, id) pair.
	ResourceKind int

	// ResourceEntry is one declared resource. It is created when its
	// declaration line is parsed and is immutable afterwards, except for the
	// property fields which later #VOLUME/#PAN/#SIZE lines may override.
	ResourceEntry struct {
		Kind        ResourceKind
		ID          string // two characters, base36, uppercase
		PathOrValue string // file path, or the raw value for tempo entries
		TempoValue  float64
		Volume      int // 0..100
		Pan         int // -100..100
		Size        int // draw size percentage
	}

	// ResourceTable holds all declared resources of a chart, keyed by kind and
	// ID.
	ResourceTable struct {
		entries map[ResourceKind]map[string]*ResourceEntry
	}

	// Chip is a single placed event: a measure/channel/slot position plus a
	// reference to the resource it triggers. Chips live in the chart's chip
	// arena; a chip whose resource is declared later in the file keeps a nil
	// Ref until the declaration patches it in place. No chip is ever discarded
	// for referencing an undeclared resource.
	Chip struct {
		Measure    int // 0-based, as written in the chart
		Channel    Channel
		Slot       int // position within the measure grid
		Resolution int // grid size of the line the chip came from
		Ref        *ResourceEntry
		RawValue   string  // the two-character object code
		Value      float64 // direct payload: bar length multiplier or hex BPM
	}

	// ParseWarning is a recoverable parse problem attached to its line number.
	// The offending line is treated as a no-op and parsing continues.
	ParseWarning struct {
		Line int
		Msg  string
	}

	// Chart is the output of the parser: metadata, the resource table and the
	// unordered chip arena. The timeline compiler consumes it as-is.
	Chart struct {
		Title   string
		Artist  string
		Comment string
		Genre   string
		Level   string
		BPM     float64 // base BPM from the #BPM header
		BGMWav  string  // resource ID of the background music sound

		Resources ResourceTable
		Chips     []Chip
		Warnings  []ParseWarning
	}

	// UnresolvedReferenceError reports every resource ID that chips reference
	// but the file never declares. Timeline compilation refuses to proceed.
	UnresolvedReferenceError struct {
		IDs []string // "kind:ID", sorted
	}
)

const (
	Sound ResourceKind = iota
	Image
	Video
	TempoValue
)

func (k ResourceKind) String() string {
	switch k {
	case Sound:
		return "sound"
	case Image:
		return "image"
	case Video:
		return "video"
	case TempoValue:
		return "tempo"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (w ParseWarning) String() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Msg)
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved resource references: %s", strings.Join(e.IDs, ", "))
}

// Declare adds a resource entry with default properties. Declaring an ID a
// second time updates the existing entry's path in place, so the later
// declaration wins and chips already referencing the entry follow it. The
// returned entry is the one chips should reference.
func (t *ResourceTable) Declare(kind ResourceKind, id, pathOrValue string) *ResourceEntry {
	if t.entries == nil {
		t.entries = make(map[ResourceKind]map[string]*ResourceEntry)
	}
	if t.entries[kind] == nil {
		t.entries[kind] = make(map[string]*ResourceEntry)
	}
	if e, ok := t.entries[kind][id]; ok {
		e.PathOrValue = pathOrValue
		return e
	}
	e := &ResourceEntry{
		Kind:        kind,
		ID:          id,
		PathOrValue: pathOrValue,
		Volume:      100,
		Pan:         0,
		Size:        100,
	}
	t.entries[kind][id] = e
	return e
}

// Lookup returns the entry for (kind, id), or nil if it was never declared.
func (t *ResourceTable) Lookup(kind ResourceKind, id string) *ResourceEntry {
	if t.entries == nil || t.entries[kind] == nil {
		return nil
	}
	return t.entries[kind][id]
}

// Count returns the number of declared entries of the given kind.
func (t *ResourceTable) Count(kind ResourceKind) int {
	return len(t.entries[kind])
}

// All yields the entries of one kind in ID order, for deterministic iteration.
func (t *ResourceTable) All(kind ResourceKind) []*ResourceEntry {
	m := t.entries[kind]
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	ret := make([]*ResourceEntry, len(ids))
	for i, id := range ids {
		ret[i] = m[id]
	}
	return ret
}
