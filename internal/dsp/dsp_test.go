package dsp

import (
	"math"
	"testing"
)

func TestParamLinearRamp(t *testing.T) {
	p := NewParam(0)
	p.SetValueAtTime(0, 1)
	p.LinearRampToValueAtTime(1, 2)
	p.LinearRampToValueAtTime(0.5, 3)
	cases := []struct {
		at   float64
		want float64
	}{
		{0, 0},
		{1, 0},
		{1.5, 0.5},
		{2, 1},
		{2.5, 0.75},
		{3, 0.5},
		{10, 0.5},
	}
	for _, tc := range cases {
		if got := p.At(tc.at); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("At(%v) = %v, want %v", tc.at, got, tc.want)
		}
	}
}

func TestParamCancelAndHold(t *testing.T) {
	p := NewParam(0)
	p.SetValueAtTime(0, 0)
	p.LinearRampToValueAtTime(1, 1)
	held := p.CancelAndHoldAtTime(0.25)
	if math.Abs(held-0.25) > 1e-12 {
		t.Fatalf("held value = %v, want 0.25", held)
	}
	p.LinearRampToValueAtTime(0, 0.75)
	if got := p.At(0.5); math.Abs(got-0.125) > 1e-12 {
		t.Fatalf("At(0.5) = %v, want 0.125", got)
	}
	if got := p.At(2); got != 0 {
		t.Fatalf("At(2) = %v, want 0", got)
	}
}

func TestParamPruneKeepsCurve(t *testing.T) {
	p := NewParam(0)
	p.SetValueAtTime(0, 0)
	p.LinearRampToValueAtTime(1, 1)
	p.LinearRampToValueAtTime(0, 2)
	before := p.At(1.5)
	p.Prune(1.2)
	if got := p.At(1.5); got != before {
		t.Fatalf("prune changed curve: %v != %v", got, before)
	}
	if got := p.At(2); got != 0 {
		t.Fatalf("ramp end after prune = %v, want 0", got)
	}
}

type constSignal float64

func (c constSignal) Value() float64 { return float64(c) }

func TestParamModulationInputs(t *testing.T) {
	p := NewParam(100)
	p.Connect(constSignal(5))
	if got := p.At(0); got != 105 {
		t.Fatalf("At = %v, want 105", got)
	}
	if got := p.Intrinsic(0); got != 100 {
		t.Fatalf("Intrinsic = %v, want 100", got)
	}
	p.Disconnect()
	if p.Inputs() != 0 || p.At(0) != 100 {
		t.Fatalf("disconnect should remove modulation")
	}
}

func TestOscillatorRespectsStartStop(t *testing.T) {
	const sr = 1000.0
	o := NewOscillator(WaveSquare, 10, 0)
	o.Start(0.1)
	o.Stop(0.2)
	var before, during, after int
	for i := 0; i < 300; i++ {
		tm := float64(i) / sr
		v := o.Step(tm, sr)
		switch {
		case tm < 0.1 && v != 0:
			before++
		case tm >= 0.1 && tm < 0.2 && v != 0:
			during++
		case tm >= 0.2 && v != 0:
			after++
		}
	}
	if before != 0 || after != 0 {
		t.Fatalf("oscillator sounded outside its window: before=%d after=%d", before, after)
	}
	if during == 0 {
		t.Fatalf("oscillator silent while started")
	}
}

func TestWaveformShapes(t *testing.T) {
	for _, w := range []Waveform{WaveSine, WaveSquare, WaveSawtooth, WaveTriangle} {
		t.Run(w.String(), func(t *testing.T) {
			var maxAbs float64
			for i := 0; i < 100; i++ {
				v := w.Sample(float64(i) / 100)
				if math.Abs(v) > 1+1e-12 {
					t.Fatalf("sample out of range: %v", v)
				}
				maxAbs = math.Max(maxAbs, math.Abs(v))
			}
			if maxAbs < 0.9 {
				t.Fatalf("waveform too quiet: %v", maxAbs)
			}
			if ParseWaveform(w.String()) != w {
				t.Fatalf("name round trip failed for %v", w)
			}
		})
	}
}

func rms(f func(in, t float64) float64, freq, sr float64) float64 {
	var sum float64
	n := int(sr / 2)
	for i := 0; i < n; i++ {
		tm := float64(i) / sr
		v := f(math.Sin(twoPi*freq*tm), tm)
		if i > n/2 {
			sum += v * v
		}
	}
	return math.Sqrt(sum / float64(n-n/2-1))
}

func TestBiquadLowpassAttenuatesHighs(t *testing.T) {
	const sr = 48000.0
	lowIn := NewBiquad(FilterLowpass, 500, 0.707, 0)
	highIn := NewBiquad(FilterLowpass, 500, 0.707, 0)
	low := rms(func(in, tm float64) float64 { return lowIn.Process(in, tm, sr) }, 100, sr)
	high := rms(func(in, tm float64) float64 { return highIn.Process(in, tm, sr) }, 8000, sr)
	if high >= low/10 {
		t.Fatalf("lowpass should attenuate 8kHz: low=%f high=%f", low, high)
	}
}

func TestBiquadBypass(t *testing.T) {
	f := NewBiquad(FilterHighpass, 5000, 1, 0)
	f.Bypass = true
	if got := f.Process(0.3, 0, 48000); got != 0.3 {
		t.Fatalf("bypass altered signal: %v", got)
	}
}

func TestFilterTypeNames(t *testing.T) {
	for name, ft := range filterNames {
		if ParseFilterType(name) != ft || ft.String() != name {
			t.Fatalf("name mapping broken for %s", name)
		}
	}
	if ParseFilterType("bogus") != FilterLowpass {
		t.Fatalf("unknown names should map to lowpass")
	}
}
