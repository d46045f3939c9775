package player

import (
	"testing"
	"time"

	"github.com/miyako/dtxplay"
)

type fakeClock struct{ ms float64 }

func (c *fakeClock) NowMs() float64 { return c.ms }

type sinkOp struct {
	stop   bool
	handle dtxplay.VoiceHandle
	entry  *dtxplay.ResourceEntry
}

// recordSink logs every playback request and stop in call order.
type recordSink struct{ ops []sinkOp }

func (s *recordSink) RequestPlayback(v dtxplay.VoiceHandle, entry *dtxplay.ResourceEntry, volume, pan int) {
	s.ops = append(s.ops, sinkOp{handle: v, entry: entry})
}

func (s *recordSink) StopVoice(v dtxplay.VoiceHandle) {
	s.ops = append(s.ops, sinkOp{stop: true, handle: v})
}

func (s *recordSink) plays() int {
	n := 0
	for _, op := range s.ops {
		if !op.stop {
			n++
		}
	}
	return n
}

func soundEntry(id string) *dtxplay.ResourceEntry {
	return &dtxplay.ResourceEntry{Kind: dtxplay.Sound, ID: id, PathOrValue: id + ".wav", Volume: 100, Size: 100}
}

// note builds a timeline event on the given channel. Hittable channels become
// judged notes, everything else autoplays.
func note(code string, timeMs float64, entry *dtxplay.ResourceEntry) dtxplay.Event {
	ch, ok := dtxplay.ChannelFor(code)
	if !ok {
		panic("unknown channel " + code)
	}
	return dtxplay.Event{
		Chip:     dtxplay.Chip{Channel: ch, Ref: entry, RawValue: entry.ID},
		TimeMs:   timeMs,
		Autoplay: !ch.Hittable(),
	}
}

func autoplay(code string, timeMs float64, entry *dtxplay.ResourceEntry) dtxplay.Event {
	ev := note(code, timeMs, entry)
	ev.Autoplay = true
	return ev
}

func newTestPlayer(timeline dtxplay.Timeline, cfg dtxplay.PlayConfig) (*Player, *recordSink, *fakeClock) {
	sink := &recordSink{}
	clock := &fakeClock{}
	p := NewPlayer(NewBroker(), sink, clock, timeline, cfg)
	p.dispatch(StartMsg{})
	return p, sink, clock
}

// sweep advances both the fake clock and the scheduler to the given time.
func sweep(p *Player, clock *fakeClock, ms float64) {
	clock.ms = ms
	p.advance(ms)
}

func drainJudgments(b *Broker) []*dtxplay.Judgment {
	var out []*dtxplay.Judgment
	for {
		select {
		case msg := <-b.ToModel:
			if msg.Judgment != nil {
				out = append(out, msg.Judgment)
			}
		default:
			return out
		}
	}
}

func drainDone(b *Broker) int {
	n := 0
	for {
		select {
		case msg := <-b.ToModel:
			if msg.Done {
				n++
			}
		default:
			return n
		}
	}
}

func TestAutoplayFiresAtItsTime(t *testing.T) {
	bgm := soundEntry("01")
	se := soundEntry("02")
	p, sink, clock := newTestPlayer(dtxplay.Timeline{
		autoplay("01", 100, bgm),
		autoplay("61", 200, se),
	}, dtxplay.DefaultPlayConfig())

	sweep(p, clock, 50)
	if sink.plays() != 0 {
		t.Fatalf("played %d sounds before their time", sink.plays())
	}
	sweep(p, clock, 150)
	if sink.plays() != 1 || sink.ops[0].entry != bgm {
		t.Fatalf("ops after 150ms = %+v, want one bgm playback", sink.ops)
	}
	sweep(p, clock, 250)
	sweep(p, clock, 300)
	if sink.plays() != 2 {
		t.Fatalf("plays = %d, want 2 with no repeats", sink.plays())
	}
}

func TestHitTiers(t *testing.T) {
	cases := []struct {
		deltaMs float64
		tier    dtxplay.Tier
	}{
		{10, dtxplay.TierPerfect},
		{-40, dtxplay.TierGreat},
		{70, dtxplay.TierGood},
		{100, dtxplay.TierPoor},
	}
	for _, c := range cases {
		snare := soundEntry("02")
		p, sink, clock := newTestPlayer(dtxplay.Timeline{note("12", 1000, snare)}, dtxplay.DefaultPlayConfig())
		sweep(p, clock, 900)
		p.dispatch(HitMsg{Lane: dtxplay.LaneSnare, TimeMs: 1000 + c.deltaMs})

		judgments := drainJudgments(p.broker)
		if len(judgments) != 1 {
			t.Fatalf("delta %v: got %d judgments, want 1", c.deltaMs, len(judgments))
		}
		if judgments[0].Tier != c.tier {
			t.Errorf("delta %v: tier = %v, want %v", c.deltaMs, judgments[0].Tier, c.tier)
		}
		if judgments[0].DeltaMs != c.deltaMs {
			t.Errorf("delta %v: DeltaMs = %v", c.deltaMs, judgments[0].DeltaMs)
		}
		if sink.plays() != 1 {
			t.Errorf("delta %v: plays = %d, want 1", c.deltaMs, sink.plays())
		}
	}
}

func TestHitOutsideWindowIsDiscarded(t *testing.T) {
	snare := soundEntry("02")
	p, sink, clock := newTestPlayer(dtxplay.Timeline{note("12", 1000, snare)}, dtxplay.DefaultPlayConfig())
	sweep(p, clock, 900)
	p.dispatch(HitMsg{Lane: dtxplay.LaneSnare, TimeMs: 1130})

	if n := len(drainJudgments(p.broker)); n != 0 {
		t.Fatalf("got %d judgments for an out-of-window hit", n)
	}
	if sink.plays() != 0 {
		t.Fatal("an out-of-window hit must not trigger a sound")
	}

	// The note is still pending and times out as a miss, sounding once.
	sweep(p, clock, 1200)
	judgments := drainJudgments(p.broker)
	if len(judgments) != 1 || judgments[0].Tier != dtxplay.TierMiss {
		t.Fatalf("judgments = %+v, want one miss", judgments)
	}
	if sink.plays() != 1 {
		t.Errorf("plays = %d, want 1 (missed note still sounds)", sink.plays())
	}
}

func TestHitOnEmptyLaneIsDiscarded(t *testing.T) {
	p, sink, clock := newTestPlayer(dtxplay.Timeline{}, dtxplay.DefaultPlayConfig())
	sweep(p, clock, 100)
	p.dispatch(HitMsg{Lane: dtxplay.LaneSnare, TimeMs: 100})
	if len(drainJudgments(p.broker)) != 0 || sink.plays() != 0 {
		t.Fatal("a hit on a lane with no active note must have no effect")
	}
}

func TestHitBetweenSweepsMatchesItsNote(t *testing.T) {
	snare := soundEntry("02")
	p, _, clock := newTestPlayer(dtxplay.Timeline{note("12", 1000, snare)}, dtxplay.DefaultPlayConfig())
	// The last sweep ran before the note's window opened; the hit itself must
	// promote the note rather than losing the race against the next sweep.
	sweep(p, clock, 800)
	p.dispatch(HitMsg{Lane: dtxplay.LaneSnare, TimeMs: 990})

	judgments := drainJudgments(p.broker)
	if len(judgments) != 1 || judgments[0].Tier != dtxplay.TierPerfect {
		t.Fatalf("judgments = %+v, want one perfect", judgments)
	}
}

func TestEarlyHitMatchesAheadOfNoteTime(t *testing.T) {
	kick := soundEntry("03")
	p, _, clock := newTestPlayer(dtxplay.Timeline{note("13", 1000, kick)}, dtxplay.DefaultPlayConfig())
	// 890 is within the Poor window ahead of the note, so the note is already
	// matchable even though its own time has not come.
	sweep(p, clock, 890)
	p.dispatch(HitMsg{Lane: dtxplay.LaneBass, TimeMs: 890})

	judgments := drainJudgments(p.broker)
	if len(judgments) != 1 || judgments[0].Tier != dtxplay.TierPoor {
		t.Fatalf("judgments = %+v, want one early poor", judgments)
	}
}

func TestClosestNoteWins(t *testing.T) {
	kick := soundEntry("03")
	p, _, clock := newTestPlayer(dtxplay.Timeline{
		note("13", 1000, kick),
		note("13", 1100, kick),
	}, dtxplay.DefaultPlayConfig())
	sweep(p, clock, 1050)
	p.dispatch(HitMsg{Lane: dtxplay.LaneBass, TimeMs: 1080})

	judgments := drainJudgments(p.broker)
	if len(judgments) != 1 {
		t.Fatalf("got %d judgments, want 1", len(judgments))
	}
	if judgments[0].Event.TimeMs != 1100 {
		t.Errorf("matched the note at %v, want the closer one at 1100", judgments[0].Event.TimeMs)
	}
}

func TestNoteResolvesExactlyOnce(t *testing.T) {
	snare := soundEntry("02")
	p, sink, clock := newTestPlayer(dtxplay.Timeline{note("12", 1000, snare)}, dtxplay.DefaultPlayConfig())
	sweep(p, clock, 1000)
	p.dispatch(HitMsg{Lane: dtxplay.LaneSnare, TimeMs: 1000})
	p.dispatch(HitMsg{Lane: dtxplay.LaneSnare, TimeMs: 1005})

	if n := len(drainJudgments(p.broker)); n != 1 {
		t.Errorf("got %d judgments, want 1", n)
	}
	sweep(p, clock, 2000)
	if n := len(drainJudgments(p.broker)); n != 0 {
		t.Errorf("resolved note produced %d more judgments on timeout", n)
	}
	if sink.plays() != 1 {
		t.Errorf("plays = %d, want 1", sink.plays())
	}
}

func TestClockStallForcesMiss(t *testing.T) {
	snare := soundEntry("02")
	p, sink, clock := newTestPlayer(dtxplay.Timeline{note("12", 100, snare)}, dtxplay.DefaultPlayConfig())
	// First sweep lands far past the whole window.
	sweep(p, clock, 500)

	judgments := drainJudgments(p.broker)
	if len(judgments) != 1 || judgments[0].Tier != dtxplay.TierMiss {
		t.Fatalf("judgments = %+v, want one forced miss", judgments)
	}
	if sink.plays() != 1 {
		t.Errorf("plays = %d, want 1", sink.plays())
	}
	if p.activeCount() != 0 {
		t.Errorf("stalled note left %d active entries", p.activeCount())
	}
}

func TestChokeStopsVictimBeforeNewSound(t *testing.T) {
	open := soundEntry("0A")
	closed := soundEntry("0B")
	p, sink, clock := newTestPlayer(dtxplay.Timeline{
		autoplay("18", 100, open),
		autoplay("11", 200, closed),
	}, dtxplay.DefaultPlayConfig())

	sweep(p, clock, 100)
	if sink.plays() != 1 {
		t.Fatalf("open hi-hat did not play: %+v", sink.ops)
	}
	openHandle := sink.ops[0].handle

	sweep(p, clock, 200)
	if len(sink.ops) != 3 {
		t.Fatalf("ops = %+v, want stop then play appended", sink.ops)
	}
	if !sink.ops[1].stop || sink.ops[1].handle != openHandle {
		t.Errorf("op 1 = %+v, want stop of the open hi-hat voice", sink.ops[1])
	}
	if sink.ops[2].stop || sink.ops[2].entry != closed {
		t.Errorf("op 2 = %+v, want the closed hi-hat playback", sink.ops[2])
	}
}

func TestChokeIsDirectional(t *testing.T) {
	open := soundEntry("0A")
	closed := soundEntry("0B")
	p, sink, clock := newTestPlayer(dtxplay.Timeline{
		autoplay("11", 100, closed),
		autoplay("18", 200, open),
	}, dtxplay.DefaultPlayConfig())

	sweep(p, clock, 100)
	sweep(p, clock, 200)
	for _, op := range sink.ops {
		if op.stop {
			t.Fatalf("open hi-hat must not choke the closed one: %+v", sink.ops)
		}
	}
}

func TestVoicePoolIsBounded(t *testing.T) {
	cfg := dtxplay.DefaultPlayConfig()
	cfg.Polyphony = 2
	crash := soundEntry("0C")
	var timeline dtxplay.Timeline
	for i := 0; i < 5; i++ {
		timeline = append(timeline, autoplay("61", float64(i*10), crash))
	}
	p, sink, clock := newTestPlayer(timeline, cfg)
	for i := 0; i <= 5; i++ {
		sweep(p, clock, float64(i*10))
	}

	if sink.plays() != 5 {
		t.Errorf("plays = %d, want 5", sink.plays())
	}
	busy := map[dtxplay.VoiceHandle]bool{}
	for _, op := range sink.ops {
		if op.stop {
			delete(busy, op.handle)
			continue
		}
		busy[op.handle] = true
		if len(busy) > 2 {
			t.Fatalf("more than 2 voices busy at once: %+v", sink.ops)
		}
	}
}

func TestRoundRobinStealCyclesHandles(t *testing.T) {
	cfg := dtxplay.DefaultPlayConfig()
	cfg.Polyphony = 2
	cfg.Steal = dtxplay.StealRoundRobin
	crash := soundEntry("0C")
	p, sink, clock := newTestPlayer(dtxplay.Timeline{
		autoplay("61", 0, crash),
		autoplay("61", 10, crash),
		autoplay("61", 20, crash),
	}, cfg)
	sweep(p, clock, 0)
	sweep(p, clock, 10)
	sweep(p, clock, 20)

	var handles []dtxplay.VoiceHandle
	for _, op := range sink.ops {
		if !op.stop {
			handles = append(handles, op.handle)
		}
	}
	if len(handles) != 3 || handles[0] == handles[1] || handles[2] != handles[0] {
		t.Errorf("playback handles = %v, want a 2-voice cycle", handles)
	}
}

func TestTeardownStopsEverything(t *testing.T) {
	bgm := soundEntry("01")
	se := soundEntry("02")
	p, sink, clock := newTestPlayer(dtxplay.Timeline{
		autoplay("01", 0, bgm),
		autoplay("61", 0, se),
		note("12", 5000, se),
	}, dtxplay.DefaultPlayConfig())
	sweep(p, clock, 0)
	if sink.plays() != 2 {
		t.Fatalf("plays = %d, want 2 before teardown", sink.plays())
	}

	p.dispatch(TeardownMsg{})
	stops := 0
	for _, op := range sink.ops {
		if op.stop {
			stops++
		}
	}
	if stops != 2 {
		t.Errorf("stops = %d, want every busy voice stopped", stops)
	}

	before := len(sink.ops)
	sweep(p, clock, 6000)
	if len(sink.ops) != before {
		t.Errorf("sweep after teardown issued sink calls: %+v", sink.ops[before:])
	}
}

func TestDoneSignaledOnce(t *testing.T) {
	kick := soundEntry("03")
	p, _, clock := newTestPlayer(dtxplay.Timeline{autoplay("61", 100, kick)}, dtxplay.DefaultPlayConfig())
	sweep(p, clock, 100)
	if n := drainDone(p.broker); n != 1 {
		t.Fatalf("done signals = %d, want 1", n)
	}
	sweep(p, clock, 200)
	if n := drainDone(p.broker); n != 0 {
		t.Errorf("done signaled again: %d", n)
	}
}

func TestNilClockFallsBackToWallClock(t *testing.T) {
	p := NewPlayer(NewBroker(), &recordSink{}, nil, dtxplay.Timeline{}, dtxplay.DefaultPlayConfig())
	if p.clock == nil {
		t.Fatal("nil clock must fall back to the wall clock")
	}
	if ms := p.clock.NowMs(); ms < 0 {
		t.Errorf("wall clock went backwards: %v", ms)
	}
}

func TestTimeoutReceive(t *testing.T) {
	c := make(chan int, 1)
	c <- 7
	if v, ok := TimeoutReceive(c, time.Second); !ok || v != 7 {
		t.Errorf("TimeoutReceive = %v, %v; want 7, true", v, ok)
	}
	if _, ok := TimeoutReceive(c, time.Millisecond); ok {
		t.Error("empty channel must time out")
	}
	closed := make(chan struct{})
	close(closed)
	if _, ok := TimeoutReceive(closed, time.Second); ok {
		t.Error("closed channel must report not ok")
	}
}

func TestEventWithoutSoundActivatesToNothing(t *testing.T) {
	p, sink, clock := newTestPlayer(dtxplay.Timeline{
		autoplay("54", 100, &dtxplay.ResourceEntry{Kind: dtxplay.Image, ID: "01"}),
	}, dtxplay.DefaultPlayConfig())
	sweep(p, clock, 100)
	if len(sink.ops) != 0 {
		t.Errorf("visual event reached the sink: %+v", sink.ops)
	}
	if n := drainDone(p.broker); n != 1 {
		t.Errorf("done signals = %d, want 1", n)
	}
}
