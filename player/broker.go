package player

import (
	"time"

	"github.com/miyako/dtxplay"
)

type (
	// Broker carries the messages between the scheduler goroutine and the rest
	// of the program. The scheduler is the single owner of all playback state:
	// both the clock-driven promotion cadence and the input-driven judgment
	// cadence run inside its goroutine, fed through ToPlayer, so no locks
	// guard the active notes or the voice pools.
	//
	// ClosePlayer has a capacity of 1 so a closure request never blocks; if
	// the channel is already full someone else has already requested closure
	// and dropping the message is fine. FinishedPlayer is closed (never sent
	// to) once the scheduler has stopped every voice and cleaned up, so
	// waiters can combine "<-FinishedPlayer" with a timeout.
	Broker struct {
		ToPlayer chan any
		ToModel  chan MsgToModel

		ClosePlayer    chan struct{}
		FinishedPlayer chan struct{}
	}

	// MsgToModel is a message from the scheduler to whoever displays or scores
	// the session. The frequently sent time update is not boxed; judgments are
	// pointers so casting to the struct field does not allocate.
	MsgToModel struct {
		HasTime bool
		TimeMs  float64

		Judgment *dtxplay.Judgment
		Alert    string
		Done     bool
	}

	// HitMsg is a timestamped player input on a lane. The timestamp must come
	// from the same clock the scheduler reads.
	HitMsg struct {
		Lane   dtxplay.Lane
		TimeMs float64
	}

	// StartMsg begins promoting timeline events.
	StartMsg struct{}

	// TeardownMsg aborts the timeline: every playing voice in every pool is
	// stopped and all pending and active state is discarded, all-or-nothing.
	TeardownMsg struct{}
)

func NewBroker() *Broker {
	return &Broker{
		ToPlayer:       make(chan any, 1024),
		ToModel:        make(chan MsgToModel, 1024),
		ClosePlayer:    make(chan struct{}, 1),
		FinishedPlayer: make(chan struct{}),
	}
}

// TrySend sends a value to a channel if it is not full. It is guaranteed to
// be non-blocking; the scheduler only ever sends through this, so it cannot
// dead-lock on a slow consumer.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive blocks until a value is received or t has passed. ok is
// false on timeout or when the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
