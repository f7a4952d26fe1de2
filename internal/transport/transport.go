// Package transport is the virtual playback clock: a position in seconds
// derived from an audio clock, a speed multiplier set by tempo, and an
// optional loop region.
package transport

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrInvalidLoop is returned by SetLoop for an enabled region that ends
// before it starts or starts below zero.
var ErrInvalidLoop = errors.New("invalid loop region")

const (
	MinTempo     = 40.0
	MaxTempo     = 240.0
	DefaultTempo = 120.0
)

// Clock supplies the current audio time in seconds.
type Clock interface {
	Now() float64
}

// Loop is the region playback wraps around while Enabled.
type Loop struct {
	Enabled bool    `json:"enabled"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

func (l Loop) Length() float64 { return l.End - l.Start }

// State is a snapshot of the transport.
type State struct {
	Position float64 `json:"position"`
	Playing  bool    `json:"playing"`
	Speed    float64 `json:"speed"`
	Tempo    float64 `json:"tempo"`
	Loop     Loop    `json:"loop"`
}

// Wrap describes a loop boundary crossing detected by Advance.
type Wrap struct {
	Count int     // passes completed since the last Advance
	Point float64 // position the boundary was crossed at (the loop end)
}

// Transport is safe for concurrent use.
type Transport struct {
	mu      sync.Mutex
	clock   Clock
	playing bool
	ref     float64 // audio time at which offset held
	offset  float64
	speed   float64
	tempo   float64
	loop    Loop
}

// New returns a stopped transport at position 0 and the default tempo.
func New(clock Clock) *Transport {
	return &Transport{clock: clock, speed: 1, tempo: DefaultTempo}
}

// Play starts from the stored position.
func (t *Transport) Play() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ref = t.clock.Now()
	t.playing = true
}

// PlayFrom starts from position p.
func (t *Transport) PlayFrom(p float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ref = t.clock.Now()
	t.offset = math.Max(p, 0)
	t.playing = true
}

// Stop freezes the position; a later Play resumes from it.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.playing {
		return
	}
	t.offset = t.positionAt(t.clock.Now())
	t.playing = false
}

func (t *Transport) Seek(p float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offset = math.Max(p, 0)
	t.ref = t.clock.Now()
}

// SetTempo clamps bpm to [MinTempo, MaxTempo] and scales the speed by the
// tempo ratio without moving the current position. It returns the applied tempo.
func (t *Transport) SetTempo(bpm float64) float64 {
	bpm = math.Min(math.Max(bpm, MinTempo), MaxTempo)
	t.mu.Lock()
	defer t.mu.Unlock()
	if bpm == t.tempo {
		return bpm
	}
	t.rebase()
	t.speed *= bpm / t.tempo
	t.tempo = bpm
	return bpm
}

// SetLoop sets the loop region. An enabled loop needs end > start >= 0.
func (t *Transport) SetLoop(enabled bool, start, end float64) error {
	if enabled && (end <= start || start < 0) {
		return fmt.Errorf("%w: start=%g end=%g", ErrInvalidLoop, start, end)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rebase()
	t.loop = Loop{Enabled: enabled, Start: start, End: end}
	return nil
}

// Position returns the position now.
func (t *Transport) Position() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positionAt(t.clock.Now())
}

// PositionAt is a pure read: the same now always gives the same position.
func (t *Transport) PositionAt(now float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positionAt(now)
}

// Advance is the tick-side read. When the loop end has been reached it
// rewrites the reference to the folded position in the same critical
// section, so no caller ever observes a position at or past the loop end.
func (t *Transport) Advance(now float64) (float64, Wrap) {
	t.mu.Lock()
	defer t.mu.Unlock()
	raw := t.rawAt(now)
	if !t.playing || !t.loop.Enabled || raw < t.loop.End {
		return t.fold(raw), Wrap{}
	}
	n := int(math.Floor((raw - t.loop.Start) / t.loop.Length()))
	if n < 1 {
		n = 1
	}
	pos := t.fold(raw)
	t.offset = pos
	t.ref = now
	return pos, Wrap{Count: n, Point: t.loop.End}
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		Position: t.positionAt(t.clock.Now()),
		Playing:  t.playing,
		Speed:    t.speed,
		Tempo:    t.tempo,
		Loop:     t.loop,
	}
}

func (t *Transport) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

func (t *Transport) Tempo() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tempo
}

func (t *Transport) Speed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speed
}

func (t *Transport) Loop() Loop {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop
}

// rebase snapshots the position into offset so speed or loop can change
// without a jump.
func (t *Transport) rebase() {
	if !t.playing {
		return
	}
	now := t.clock.Now()
	t.offset = t.positionAt(now)
	t.ref = now
}

func (t *Transport) positionAt(now float64) float64 {
	return t.fold(t.rawAt(now))
}

func (t *Transport) rawAt(now float64) float64 {
	if !t.playing {
		return t.offset
	}
	return (now-t.ref)*t.speed + t.offset
}

func (t *Transport) fold(raw float64) float64 {
	if !t.loop.Enabled || raw < t.loop.End {
		return raw
	}
	return t.loop.Start + math.Mod(raw-t.loop.Start, t.loop.Length())
}
