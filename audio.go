package dtxplay

import "time"

type (
	// VoiceHandle identifies one playable voice slot in the audio sink. The
	// scheduler allocates a fixed set of handles per sound resource and reuses
	// them for the whole song; the sink maps handles to whatever it uses
	// internally.
	VoiceHandle int

	// Sink is the narrow contract the scheduler needs from an audio backend.
	// RequestPlayback (re)starts the voice with the given sound; StopVoice
	// silences it. Both must be cheap and non-blocking; a sink whose backing
	// asset failed to load behaves as a silent voice rather than erroring.
	Sink interface {
		RequestPlayback(v VoiceHandle, entry *ResourceEntry, volume, pan int)
		StopVoice(v VoiceHandle)
	}

	// Clock is the monotonic playback-position clock the scheduler treats as
	// ground truth. It never maintains its own notion of time.
	Clock interface {
		NowMs() float64
	}
)

// wallClock measures milliseconds since its creation using the runtime's
// monotonic clock. It is the fallback when the audio backend cannot report a
// playback position.
type wallClock struct {
	start time.Time
}

func NewWallClock() Clock {
	return &wallClock{start: time.Now()}
}

func (c *wallClock) NowMs() float64 {
	return float64(time.Since(c.start)) / float64(time.Millisecond)
}
