package dsp

import (
	"math"
	"strings"
)

const twoPi = math.Pi * 2

type Waveform int

const (
	WaveSine Waveform = iota
	WaveSquare
	WaveSawtooth
	WaveTriangle
)

// ParseWaveform accepts the Web Audio oscillator type names. Unknown names
// fall back to sine.
func ParseWaveform(name string) Waveform {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "square":
		return WaveSquare
	case "sawtooth", "saw":
		return WaveSawtooth
	case "triangle":
		return WaveTriangle
	default:
		return WaveSine
	}
}

func (w Waveform) String() string {
	switch w {
	case WaveSquare:
		return "square"
	case WaveSawtooth:
		return "sawtooth"
	case WaveTriangle:
		return "triangle"
	default:
		return "sine"
	}
}

// Sample evaluates the waveform at phase in [0, 1).
func (w Waveform) Sample(phase float64) float64 {
	switch w {
	case WaveSquare:
		if phase < 0.5 {
			return 1
		}
		return -1
	case WaveSawtooth:
		return 2*phase - 1
	case WaveTriangle:
		if phase < 0.5 {
			return 4*phase - 1
		}
		return 3 - 4*phase
	default:
		return math.Sin(twoPi * phase)
	}
}

// Oscillator produces a periodic waveform between its start and stop times.
type Oscillator struct {
	Type      Waveform
	Frequency *Param // Hz
	Detune    *Param // cents
	phase     float64
	start     float64
	stop      float64
	started   bool
	stopped   bool
	out       float64
}

func NewOscillator(w Waveform, freq, detuneCents float64) *Oscillator {
	return &Oscillator{
		Type:      w,
		Frequency: NewParam(freq),
		Detune:    NewParam(detuneCents),
	}
}

func (o *Oscillator) Start(t float64) {
	o.start = t
	o.started = true
}

func (o *Oscillator) Stop(t float64) {
	o.stop = t
	o.stopped = true
}

// Playing reports whether the oscillator sounds at time t.
func (o *Oscillator) Playing(t float64) bool {
	return o.started && t >= o.start && !(o.stopped && t >= o.stop)
}

// Step renders one sample at time t and advances the phase.
func (o *Oscillator) Step(t, sampleRate float64) float64 {
	if !o.Playing(t) {
		o.out = 0
		return 0
	}
	freq := o.Frequency.At(t)
	if d := o.Detune.At(t); d != 0 {
		freq *= math.Pow(2, d/1200)
	}
	o.out = o.Type.Sample(o.phase)
	o.phase += freq / sampleRate
	o.phase -= math.Floor(o.phase)
	return o.out
}

// Value returns the most recent sample so an oscillator can modulate a Param.
func (o *Oscillator) Value() float64 { return o.out }

// Gain scales its input by an automatable gain.
type Gain struct {
	Gain *Param
	out  float64
}

func NewGain(v float64) *Gain {
	return &Gain{Gain: NewParam(v)}
}

func (g *Gain) Process(in, t float64) float64 {
	g.out = in * g.Gain.At(t)
	return g.out
}

func (g *Gain) Value() float64 { return g.out }
