package lfo

import "github.com/cbegin/pianoroll-go/internal/dsp"

// Target selects which voice parameter an LFO modulates.
type Target string

const (
	TargetFrequency Target = "frequency"
	TargetAmplitude Target = "amplitude"
	TargetFilter    Target = "filter"
)

// LFO is a low-frequency oscillator feeding a depth gain. Each voice owns one;
// its output is summed into the target parameter once connected.
type LFO struct {
	depth    float64 // units depend on target: Hz for frequency/filter, gain for amplitude
	rateHz   float64
	waveform dsp.Waveform
	phase    float64 // current phase [0, 1)
	out      float64
}

// Set configures the LFO parameters. The phase is kept so live edits do not
// restart the cycle.
func (l *LFO) Set(depth, rateHz float64, waveform dsp.Waveform) {
	l.depth = depth
	l.rateHz = rateHz
	l.waveform = waveform
}

// Sample advances the LFO by one sample and returns a value in [-depth, +depth].
// Returns 0 if depth or rate is zero.
func (l *LFO) Sample(sampleRate float64) float64 {
	if l.depth == 0 || l.rateHz == 0 || sampleRate == 0 {
		l.out = 0
		return 0
	}
	l.out = l.waveform.Sample(l.phase) * l.depth
	l.phase += l.rateHz / sampleRate
	for l.phase >= 1.0 {
		l.phase -= 1.0
	}
	return l.out
}

// Value returns the last sample; it lets the LFO act as a dsp.Signal.
func (l *LFO) Value() float64 { return l.out }

// Active returns true if the LFO has non-zero depth and rate.
func (l *LFO) Active() bool {
	return l.depth != 0 && l.rateHz != 0
}

func (l *LFO) Depth() float64 { return l.depth }

// Reset zeros the LFO phase.
func (l *LFO) Reset() {
	l.phase = 0
	l.out = 0
}
