// Package player drives a compiled timeline against a live clock: it promotes
// due events, allocates voices from bounded per-sound pools, enforces choke
// rules between channels and judges player input against active notes.
package player

import (
	"math"
	"time"

	"github.com/miyako/dtxplay"
)

type (
	// Player is the playback scheduler, run in its own goroutine (Run). It is
	// controlled by messages from the broker and reads the current time from
	// an external monotonic clock it treats as ground truth. All playback
	// state below is owned by that single goroutine.
	Player struct {
		broker *Broker
		sink   dtxplay.Sink
		clock  dtxplay.Clock
		cfg    dtxplay.PlayConfig

		timeline dtxplay.Timeline
		playing  bool
		doneSent bool

		// Two independent cursors walk the timeline: audioCursor promotes
		// autoplay events at their absolute time, judgeCursor promotes
		// hittable notes when they enter the judgment window (Poor window
		// ahead of their time) so early hits can match.
		audioCursor int
		judgeCursor int

		active [dtxplay.NumLanes][]*dtxplay.Event

		pools      map[*dtxplay.ResourceEntry]*voicePool
		byChannel  map[string][]*voice // busy voices per channel code, choke targets
		chokes     map[string][]string // stopper code -> victim codes
		nextHandle dtxplay.VoiceHandle
	}

	// voice is one playable instance of a sound. Voices are allocated when a
	// sound's pool is created and reused for the whole song, never destroyed
	// mid-song. A voice stays busy until it is stolen, choked or torn down;
	// the core has no way to observe a sample ending on its own.
	voice struct {
		handle  dtxplay.VoiceHandle
		busy    bool
		startMs float64
		channel string // channel code that started the voice
	}

	voicePool struct {
		voices []*voice
		next   int // round-robin cursor
	}

	// MIDIInput is what the play command needs from a MIDI source; the real
	// implementation lives in the gomidi subpackage and requires cgo.
	MIDIInput interface {
		TryToOpenBy(namePrefix string, takeFirst bool) error
		Close()
	}

	// NullMIDIInput is the no-op MIDI source used in cgo-less builds.
	NullMIDIInput struct{}
)

func (NullMIDIInput) TryToOpenBy(string, bool) error { return nil }
func (NullMIDIInput) Close()                         {}

// NewPlayer builds a scheduler over the timeline. A nil clock falls back to
// the wall clock, for sinks that cannot report a playback position.
func NewPlayer(broker *Broker, sink dtxplay.Sink, clock dtxplay.Clock, timeline dtxplay.Timeline, cfg dtxplay.PlayConfig) *Player {
	if clock == nil {
		clock = dtxplay.NewWallClock()
	}
	chokes := make(map[string][]string, len(cfg.Chokes))
	for _, rule := range cfg.Chokes {
		chokes[rule.Stopper] = append(chokes[rule.Stopper], rule.Victims...)
	}
	return &Player{
		broker:    broker,
		sink:      sink,
		clock:     clock,
		cfg:       cfg,
		timeline:  timeline,
		pools:     make(map[*dtxplay.ResourceEntry]*voicePool),
		byChannel: make(map[string][]*voice),
		chokes:    chokes,
	}
}

// Run is the scheduler loop: a high-frequency promotion sweep interleaved
// with broker messages, until ClosePlayer is signalled. It closes
// FinishedPlayer after tearing everything down.
func (p *Player) Run() {
	defer close(p.broker.FinishedPlayer)
	ticker := time.NewTicker(time.Duration(p.cfg.SweepIntervalMs * float64(time.Millisecond)))
	defer ticker.Stop()
	for {
		select {
		case <-p.broker.ClosePlayer:
			p.teardown()
			return
		case msg := <-p.broker.ToPlayer:
			p.dispatch(msg)
		case <-ticker.C:
			p.advance(p.clock.NowMs())
		}
	}
}

func (p *Player) dispatch(msg any) {
	switch m := msg.(type) {
	case StartMsg:
		p.playing = true
	case TeardownMsg:
		p.teardown()
	case HitMsg:
		p.judge(m)
	default:
		// ignore unknown messages
	}
}

// advance is one promotion sweep at the given clock time. Events are promoted
// strictly in timeline order per cursor; for each activation the choke stops
// complete before its own sound starts.
func (p *Player) advance(now float64) {
	if !p.playing {
		return
	}

	for p.audioCursor < len(p.timeline) {
		ev := &p.timeline[p.audioCursor]
		if !ev.Autoplay {
			p.audioCursor++
			continue
		}
		if ev.TimeMs > now {
			break
		}
		p.audioCursor++
		p.activate(ev)
	}

	p.promoteNotes(now)

	// Timeout pass: notes nobody hit within the Poor window.
	for lane := range p.active {
		kept := p.active[lane][:0]
		for _, ev := range p.active[lane] {
			if now > ev.TimeMs+p.cfg.Windows.PoorMs {
				p.miss(ev)
			} else {
				kept = append(kept, ev)
			}
		}
		p.active[lane] = kept
	}

	TrySend(p.broker.ToModel, MsgToModel{HasTime: true, TimeMs: now})
	if !p.doneSent && p.audioCursor == len(p.timeline) && p.judgeCursor == len(p.timeline) && p.activeCount() == 0 {
		p.doneSent = true
		TrySend(p.broker.ToModel, MsgToModel{Done: true})
	}
}

// promoteNotes moves hittable notes whose judgment window has opened from the
// timeline into the active set. Called from the sweep and again from judge, so
// an input arriving between sweeps still sees every note matchable at its
// timestamp.
func (p *Player) promoteNotes(now float64) {
	lead := p.cfg.Windows.PoorMs
	for p.judgeCursor < len(p.timeline) {
		ev := &p.timeline[p.judgeCursor]
		if ev.Autoplay {
			p.judgeCursor++
			continue
		}
		if ev.TimeMs-lead > now {
			break
		}
		p.judgeCursor++
		if now > ev.TimeMs+p.cfg.Windows.PoorMs {
			// Already past the whole window at promotion time (clock stall):
			// force-resolve as a miss instead of retrying, so a stall never
			// turns into a catch-up burst.
			p.miss(ev)
			continue
		}
		p.active[ev.Channel.Lane] = append(p.active[ev.Channel.Lane], ev)
	}
}

func (p *Player) activeCount() int {
	n := 0
	for lane := range p.active {
		n += len(p.active[lane])
	}
	return n
}

// judge matches a timestamped input against the active notes of its lane: the
// note with the minimum absolute delta wins, the finest window containing the
// delta names the tier. Input outside every window, or on a lane with no
// active note, is discarded with no effect. A note resolves exactly once.
func (p *Player) judge(hit HitMsg) {
	if !p.playing {
		return
	}
	p.promoteNotes(hit.TimeMs)
	notes := p.active[hit.Lane]
	if len(notes) == 0 {
		return
	}
	best := -1
	for i, ev := range notes {
		if best < 0 || math.Abs(hit.TimeMs-ev.TimeMs) < math.Abs(hit.TimeMs-notes[best].TimeMs) {
			best = i
		}
	}
	ev := notes[best]
	delta := hit.TimeMs - ev.TimeMs
	tier, ok := p.cfg.Windows.TierFor(delta)
	if !ok {
		return
	}
	p.active[hit.Lane] = append(notes[:best], notes[best+1:]...)
	p.activate(ev)
	TrySend(p.broker.ToModel, MsgToModel{Judgment: &dtxplay.Judgment{Event: ev, Tier: tier, DeltaMs: delta}})
}

// miss resolves a note that timed out or was discovered too late. Its sound
// still plays, identical to what a successful hit would have issued; only the
// judgment differs.
func (p *Player) miss(ev *dtxplay.Event) {
	p.activate(ev)
	TrySend(p.broker.ToModel, MsgToModel{Judgment: &dtxplay.Judgment{Event: ev, Tier: dtxplay.TierMiss}})
}

// activate requests playback for an event's sound: choke stops first, then
// voice assignment, then the playback request. Events without a sound (visual
// layers, consumed hold tails) activate to nothing.
func (p *Player) activate(ev *dtxplay.Event) {
	if ev.Ref == nil || !ev.Channel.NeedsSound() {
		return
	}
	// Stop-then-start is per event: every victim voice is silenced before the
	// new voice can produce audio, so an open hi-hat never sounds into the
	// closed one.
	p.choke(ev.Channel.Code)

	now := p.clock.NowMs()
	v := p.assign(p.pool(ev.Ref), now)
	if v.busy {
		p.sink.StopVoice(v.handle)
		p.unregister(v)
	}
	v.busy = true
	v.startMs = now
	v.channel = ev.Channel.Code
	p.byChannel[v.channel] = append(p.byChannel[v.channel], v)
	p.sink.RequestPlayback(v.handle, ev.Ref, ev.Ref.Volume, ev.Ref.Pan)
}

// choke silences every busy voice whose channel is a victim of the stopper
// channel, regardless of which sound resource the voices belong to. Voices on
// channels outside the victim set are never touched.
func (p *Player) choke(stopper string) {
	for _, victim := range p.chokes[stopper] {
		for _, v := range p.byChannel[victim] {
			if v.busy {
				p.sink.StopVoice(v.handle)
				v.busy = false
			}
		}
		delete(p.byChannel, victim)
	}
}

func (p *Player) pool(entry *dtxplay.ResourceEntry) *voicePool {
	pool, ok := p.pools[entry]
	if !ok {
		pool = &voicePool{voices: make([]*voice, p.cfg.Polyphony)}
		for i := range pool.voices {
			pool.voices[i] = &voice{handle: p.nextHandle}
			p.nextHandle++
		}
		p.pools[entry] = pool
	}
	return pool
}

// assign picks the voice to (re)use. Steal-oldest scans for an idle voice and
// otherwise reclaims the one that began playing longest ago; round-robin just
// advances the cursor and reclaims whatever is there.
func (p *Player) assign(pool *voicePool, nowMs float64) *voice {
	if p.cfg.Steal == dtxplay.StealRoundRobin {
		v := pool.voices[pool.next]
		pool.next = (pool.next + 1) % len(pool.voices)
		return v
	}
	var oldest *voice
	for _, v := range pool.voices {
		if !v.busy {
			return v
		}
		if oldest == nil || v.startMs < oldest.startMs {
			oldest = v
		}
	}
	return oldest
}

func (p *Player) unregister(v *voice) {
	list := p.byChannel[v.channel]
	for i, other := range list {
		if other == v {
			p.byChannel[v.channel] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// teardown aborts the timeline: stops every playing voice across all pools
// and discards all pending and active state. No partial teardown: after this
// the player is silent and inert until a new StartMsg... which has nothing
// left to promote.
func (p *Player) teardown() {
	for _, pool := range p.pools {
		for _, v := range pool.voices {
			if v.busy {
				p.sink.StopVoice(v.handle)
				v.busy = false
			}
		}
	}
	p.byChannel = make(map[string][]*voice)
	for lane := range p.active {
		p.active[lane] = nil
	}
	p.audioCursor = len(p.timeline)
	p.judgeCursor = len(p.timeline)
	p.playing = false
}
