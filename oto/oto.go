// Package oto is an audio sink for the scheduler backed by ebitengine/oto.
// It mixes a fixed table of voice slots into the output stream and exposes the
// stream position as the monotonic clock the scheduler runs against.
package oto

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/ebitengine/oto/v3"
	"github.com/viterin/vek/vek32"

	"github.com/miyako/dtxplay"
)

type (
	Context struct {
		ctx        *oto.Context
		sampleRate int
	}

	// sample is a decoded sound, stored as separate left/right planes so the
	// mixer can scale and accumulate whole chunks at a time. A nil sample is
	// the silent no-op voice used when the backing asset failed to load.
	sample struct {
		planes [2][]float32
	}

	sinkVoice struct {
		smp  *sample
		pos  int
		gain [2]float32
		rel  float32 // release multiplier, decays after StopVoice
	}

	// Sink implements dtxplay.Sink and dtxplay.Clock. The scheduler goroutine
	// calls RequestPlayback/StopVoice while the audio thread calls Read, so
	// the voice table is behind a mutex; the clash window is tiny (slot
	// bookkeeping only, no decoding or allocation on the audio path).
	Sink struct {
		mu      sync.Mutex
		voices  map[dtxplay.VoiceHandle]*sinkVoice
		samples map[*dtxplay.ResourceEntry]*sample

		sampleRate int
		player     *oto.Player
		acc        [2][]float32
		scratch    [2][]float32

		frames atomic.Int64 // frames handed to the device so far
	}
)

// releaseDecay is the per-chunk gain multiplier for stopped voices; a soft
// cut instead of an audible click.
const releaseDecay = 0.5

func NewContext(sampleRate int) (*Context, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &Context{ctx: ctx, sampleRate: sampleRate}, nil
}

// NewSink creates the mixing sink and starts the device player reading from
// it. The sink starts silent; voices appear as the scheduler requests them.
func (c *Context) NewSink() *Sink {
	s := &Sink{
		voices:     make(map[dtxplay.VoiceHandle]*sinkVoice),
		samples:    make(map[*dtxplay.ResourceEntry]*sample),
		sampleRate: c.sampleRate,
	}
	s.player = c.ctx.NewPlayer(s)
	s.player.Play()
	return s
}

// Preload decodes every sound resource of the table relative to baseDir.
// Load failures are returned for reporting but are not fatal: the entry is
// mapped to a silent voice and playback requests for it play nothing.
func (s *Sink) Preload(table *dtxplay.ResourceTable, baseDir string) []error {
	var errs []error
	for _, entry := range table.All(dtxplay.Sound) {
		planes, err := LoadWAV(baseDir, entry.PathOrValue, s.sampleRate)
		s.mu.Lock()
		if err != nil {
			s.samples[entry] = nil
			errs = append(errs, fmt.Errorf("sound %s: %w", entry.ID, err))
		} else {
			s.samples[entry] = &sample{planes: planes}
		}
		s.mu.Unlock()
	}
	return errs
}

// NowMs implements dtxplay.Clock from the number of frames the device has
// consumed. This is the playback-position ground truth the scheduler wants.
func (s *Sink) NowMs() float64 {
	return float64(s.frames.Load()) / float64(s.sampleRate) * 1000
}

// RequestPlayback implements dtxplay.Sink. Reusing a handle restarts its
// slot, which is exactly the voice-stealing contract.
func (s *Sink) RequestPlayback(v dtxplay.VoiceHandle, entry *dtxplay.ResourceEntry, volume, pan int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	smp, ok := s.samples[entry]
	if !ok || smp == nil {
		delete(s.voices, v) // silent no-op voice
		return
	}
	// Constant-power panning; volume is the chart's 0..100 percentage.
	theta := (float64(pan) + 100) / 200 * math.Pi / 2
	g := float32(volume) / 100
	s.voices[v] = &sinkVoice{
		smp:  smp,
		gain: [2]float32{g * float32(math.Cos(theta)), g * float32(math.Sin(theta))},
		rel:  1,
	}
}

// StopVoice implements dtxplay.Sink; the voice fades over the next few
// chunks rather than cutting on a sample boundary.
func (s *Sink) StopVoice(v dtxplay.VoiceHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if voice, ok := s.voices[v]; ok {
		voice.rel *= releaseDecay
	}
}

// Read is the oto callback: mix every live voice into the requested buffer.
// Format is interleaved stereo float32 little-endian.
func (s *Sink) Read(p []byte) (int, error) {
	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	s.mu.Lock()
	if len(s.acc[0]) < frames {
		for c := 0; c < 2; c++ {
			s.acc[c] = make([]float32, frames)
			s.scratch[c] = make([]float32, frames)
		}
	}
	for c := 0; c < 2; c++ {
		vek32.Zeros_Into(s.acc[c], frames)
	}
	for handle, voice := range s.voices {
		n := len(voice.smp.planes[0]) - voice.pos
		if n > frames {
			n = frames
		}
		for c := 0; c < 2; c++ {
			seg := voice.smp.planes[c][voice.pos : voice.pos+n]
			vek32.MulNumber_Into(s.scratch[c][:n], seg, voice.gain[c]*voice.rel)
			vek32.Add_Inplace(s.acc[c][:n], s.scratch[c][:n])
		}
		voice.pos += n
		if voice.rel < 1 {
			voice.rel *= releaseDecay
		}
		if voice.pos >= len(voice.smp.planes[0]) || voice.rel < 1e-3 {
			delete(s.voices, handle)
		}
	}
	s.mu.Unlock()

	for i := 0; i < frames; i++ {
		putFloat32LE(p[i*8:], s.acc[0][i])
		putFloat32LE(p[i*8+4:], s.acc[1][i])
	}
	s.frames.Add(int64(frames))
	return frames * 8, nil
}

func putFloat32LE(b []byte, f float32) {
	bits := math.Float32bits(f)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}

// Close stops and disposes the device player.
func (s *Sink) Close() error {
	if err := s.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}
