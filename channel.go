package dtxplay

import "fmt"

type (
	// ChannelKind is the semantic category of a channel, decided once when the
	// channel code is classified at parse time. Everything downstream switches
	// on the kind; nothing re-inspects the raw two-character code.
	ChannelKind int

	// Lane is a physical input lane a player can hit. Several channels may map
	// to the same lane (e.g. closed and open hi-hat are different channels but
	// share the hi-hat pad).
	Lane int

	// Channel is one entry of the closed channel enumeration: the raw
	// two-character code of the chart format plus its classification. Channels
	// are compared by Code; the Kind and Lane are derived data.
	Channel struct {
		Code string
		Kind ChannelKind
		Lane Lane
	}
)

const (
	KindUnknown ChannelKind = iota
	KindBGM                 // background music trigger (channel 01)
	KindMeasureLength       // measure length multiplier (channel 02)
	KindTempo               // direct BPM change, hex value (channel 03)
	KindTempoRef            // BPM change via #BPMxx table (channel 08)
	KindLane                // player-hittable drum/guitar/bass note
	KindHidden              // ghost note: audible on schedule, not judged, not shown
	KindHold                // sustain on/off pair channel
	KindAutoplay            // sound effect lane, fire-and-forget
	KindVisual              // BGA layer, movie, draw-only
	KindSystem              // bar lines, visibility toggles; dropped after parsing
)

const (
	LaneNone Lane = iota
	LaneLeftCymbal
	LaneHiHat
	LaneSnare
	LaneFoot
	LaneHighTom
	LaneBass
	LaneLowTom
	LaneFloorTom
	LaneRightCymbal
	LaneRide
	LaneGuitar
	LaneBassGuitar

	NumLanes = int(LaneBassGuitar) + 1
)

var laneNames = [NumLanes]string{
	"none", "left-cymbal", "hi-hat", "snare", "foot", "high-tom", "bass",
	"low-tom", "floor-tom", "right-cymbal", "ride", "guitar", "bass-guitar",
}

func (l Lane) String() string {
	if l < 0 || int(l) >= NumLanes {
		return fmt.Sprintf("lane(%d)", int(l))
	}
	return laneNames[l]
}

// LaneByName returns the lane with the given name, as used in configuration
// files. The second return value is false if no such lane exists.
func LaneByName(name string) (Lane, bool) {
	for i, n := range laneNames {
		if n == name {
			return Lane(i), true
		}
	}
	return LaneNone, false
}

func (k ChannelKind) String() string {
	switch k {
	case KindBGM:
		return "bgm"
	case KindMeasureLength:
		return "measure-length"
	case KindTempo:
		return "tempo"
	case KindTempoRef:
		return "tempo-ref"
	case KindLane:
		return "lane"
	case KindHidden:
		return "hidden"
	case KindHold:
		return "hold"
	case KindAutoplay:
		return "autoplay"
	case KindVisual:
		return "visual"
	case KindSystem:
		return "system"
	}
	return "unknown"
}

// Hittable tells whether chips on this channel are judged against player
// input. Hold channels are hittable: their on-chip is judged like a note.
func (c Channel) Hittable() bool {
	return c.Kind == KindLane || c.Kind == KindHold
}

// NeedsSound tells whether chips on this channel reference a sound resource.
func (c Channel) NeedsSound() bool {
	switch c.Kind {
	case KindBGM, KindLane, KindHidden, KindHold, KindAutoplay:
		return true
	}
	return false
}

// channelTable is the closed enumeration of known channel codes. Built once at
// init; ChannelFor is the only lookup path.
var channelTable = map[string]Channel{}

func defineChannel(code string, kind ChannelKind, lane Lane) {
	channelTable[code] = Channel{Code: code, Kind: kind, Lane: lane}
}

func defineChannels(codes []string, kind ChannelKind, lane Lane) {
	for _, c := range codes {
		defineChannel(c, kind, lane)
	}
}

func init() {
	defineChannel("01", KindBGM, LaneNone)
	defineChannel("02", KindMeasureLength, LaneNone)
	defineChannel("03", KindTempo, LaneNone)
	defineChannel("08", KindTempoRef, LaneNone)

	// Drum lanes. Closed (11) and open (18) hi-hat share the hi-hat lane;
	// pedal (1B) and left bass (1C) share the foot lane.
	defineChannel("11", KindLane, LaneHiHat)
	defineChannel("12", KindLane, LaneSnare)
	defineChannel("13", KindLane, LaneBass)
	defineChannel("14", KindLane, LaneHighTom)
	defineChannel("15", KindLane, LaneLowTom)
	defineChannel("16", KindLane, LaneRightCymbal)
	defineChannel("17", KindLane, LaneFloorTom)
	defineChannel("18", KindLane, LaneHiHat)
	defineChannel("19", KindLane, LaneRide)
	defineChannel("1A", KindLane, LaneLeftCymbal)
	defineChannel("1B", KindLane, LaneFoot)
	defineChannel("1C", KindLane, LaneFoot)

	// Ghost notes: 31-3C mirror the 11-1C drum lanes but are not judged.
	drum := []string{"11", "12", "13", "14", "15", "16", "17", "18", "19", "1A", "1B", "1C"}
	for _, c := range drum {
		hidden := "3" + c[1:]
		defineChannel(hidden, KindHidden, channelTable[c].Lane)
	}

	// Guitar and bass fret combinations collapse onto one lane each; the pair
	// channels carry their sustain on/off chips.
	defineChannels([]string{"20", "21", "22", "23", "24", "25", "26", "27"}, KindLane, LaneGuitar)
	defineChannels([]string{"A0", "A1", "A2", "A3", "A4", "A5", "A6", "A7"}, KindLane, LaneBassGuitar)
	defineChannel("2C", KindHold, LaneGuitar)
	defineChannel("AC", KindHold, LaneBassGuitar)

	// Autoplay sound effect lanes.
	for _, prefix := range []string{"6", "7", "8", "9"} {
		for d := '0'; d <= '9'; d++ {
			code := prefix + string(d)
			if prefix == "6" && d == '0' {
				continue // 60 is a BGA layer, not an SE lane
			}
			if prefix == "9" && d > '2' {
				break
			}
			defineChannel(code, KindAutoplay, LaneNone)
		}
	}

	// Visual layers and movie channels.
	defineChannels([]string{"04", "07", "54", "55", "56", "57", "58", "59", "5A", "60",
		"C4", "C7", "D5", "D6", "D7", "D8", "D9", "DA", "DB", "DC", "DD", "DE", "DF"},
		KindVisual, LaneNone)

	// System channels: bar/beat lines and visibility toggles.
	defineChannels([]string{"50", "51", "C1", "C2"}, KindSystem, LaneNone)
}

// ChannelFor classifies a two-character channel code. ok is false for codes
// outside the closed enumeration; the parser drops such chips without error.
func ChannelFor(code string) (Channel, bool) {
	ch, ok := channelTable[code]
	return ch, ok
}
