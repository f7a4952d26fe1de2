// Package audio owns the audio output context: device lifecycle, the
// sample-accurate clock every other component schedules against, and the
// pull path from the device into the synthesizer.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

var (
	ErrResumeFailed = errors.New("audio output could not be resumed")
	ErrClosed       = errors.New("audio engine closed")
)

// Output is an audio device. Open is called once with the stream the device
// should pull from; Resume may block until the device is allowed to run.
type Output interface {
	Open(sampleRate int, stream io.Reader) error
	Resume(ctx context.Context) error
	Suspend()
	Close() error
}

// Engine is the explicit audio context shared by the voice engine, transport
// and scheduler. Its clock counts rendered frames, so audio time only moves
// while the device (or an offline caller) pulls samples.
type Engine struct {
	sampleRate int
	output     Output
	stream     *StreamReader

	renderMu sync.Mutex
	source   atomic.Pointer[sourceRef]
	frames   atomic.Int64

	mu      sync.Mutex
	opened  bool
	running bool
	closed  bool
}

type sourceRef struct{ SampleSource }

type Option func(*Engine)

// WithOutput attaches a device. Without one the engine is offline and time
// advances only through Render.
func WithOutput(out Output) Option {
	return func(e *Engine) {
		e.output = out
	}
}

func NewEngine(sampleRate int, opts ...Option) (*Engine, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	e := &Engine{sampleRate: sampleRate}
	for _, opt := range opts {
		opt(e)
	}
	e.stream = NewStreamReader(e)
	return e, nil
}

func (e *Engine) SampleRate() int { return e.sampleRate }

// Now returns the audio clock in seconds: the time of the next frame to render.
func (e *Engine) Now() float64 {
	return float64(e.frames.Load()) / float64(e.sampleRate)
}

// Frames returns the number of frames rendered so far.
func (e *Engine) Frames() int64 { return e.frames.Load() }

// Attach sets the source rendered on every pull. A nil source renders silence.
func (e *Engine) Attach(src SampleSource) {
	if src == nil {
		e.source.Store(nil)
		return
	}
	e.source.Store(&sourceRef{src})
}

// Process renders len(dst)/2 stereo frames and advances the clock.
func (e *Engine) Process(dst []float32) {
	e.renderMu.Lock()
	defer e.renderMu.Unlock()
	if ref := e.source.Load(); ref != nil {
		ref.Process(dst)
	} else {
		for i := range dst {
			dst[i] = 0
		}
	}
	e.frames.Add(int64(len(dst) / 2))
}

// Render pulls frames synchronously, for offline rendering and tests.
func (e *Engine) Render(frames int) []float32 {
	if frames <= 0 {
		return nil
	}
	out := make([]float32, frames*2)
	e.Process(out)
	return out
}

// RenderUntil renders in blocks until the clock reaches t seconds.
func (e *Engine) RenderUntil(t float64, block int) {
	if block <= 0 {
		block = 128
	}
	target := int64(t * float64(e.sampleRate))
	buf := make([]float32, block*2)
	for {
		remaining := target - e.frames.Load()
		if remaining <= 0 {
			return
		}
		if remaining < int64(block) {
			buf = buf[:remaining*2]
		}
		e.Process(buf)
	}
}

// Resume activates the device, opening it on first use. Offline engines
// resume immediately. Failure is reported as ErrResumeFailed and leaves the
// engine suspended; callers may retry.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.running {
		return nil
	}
	if e.output != nil {
		if !e.opened {
			if err := e.output.Open(e.sampleRate, e.stream); err != nil {
				return fmt.Errorf("%w: %w", ErrResumeFailed, err)
			}
			e.opened = true
		}
		if err := e.output.Resume(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrResumeFailed, err)
		}
	}
	e.running = true
	return nil
}

func (e *Engine) Suspend() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	if e.output != nil {
		e.output.Suspend()
	}
	e.running = false
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Close releases the device. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.running = false
	_ = e.stream.Close()
	if e.output != nil && e.opened {
		return e.output.Close()
	}
	return nil
}
