package dsp

import (
	"math"
	"strings"
)

type FilterType int

const (
	FilterLowpass FilterType = iota
	FilterHighpass
	FilterBandpass
	FilterNotch
	FilterAllpass
	FilterPeaking
	FilterLowshelf
	FilterHighshelf
)

var filterNames = map[string]FilterType{
	"lowpass":   FilterLowpass,
	"highpass":  FilterHighpass,
	"bandpass":  FilterBandpass,
	"notch":     FilterNotch,
	"allpass":   FilterAllpass,
	"peaking":   FilterPeaking,
	"lowshelf":  FilterLowshelf,
	"highshelf": FilterHighshelf,
}

// ParseFilterType accepts Web Audio biquad type names; unknown names are lowpass.
func ParseFilterType(name string) FilterType {
	if ft, ok := filterNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return ft
	}
	return FilterLowpass
}

func (f FilterType) String() string {
	for name, ft := range filterNames {
		if ft == f {
			return name
		}
	}
	return "lowpass"
}

// Biquad is a second-order IIR filter with RBJ cookbook coefficients.
// Coefficients are recomputed only when frequency, Q or gain change.
type Biquad struct {
	Type      FilterType
	Frequency *Param // Hz
	Q         *Param
	GainDB    *Param
	Bypass    bool

	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
	lastF, lastQ       float64
	lastG              float64
	lastType           FilterType
	ready              bool
}

func NewBiquad(ft FilterType, freq, q, gainDB float64) *Biquad {
	return &Biquad{
		Type:      ft,
		Frequency: NewParam(freq),
		Q:         NewParam(q),
		GainDB:    NewParam(gainDB),
	}
}

// Process filters one sample at time t.
func (f *Biquad) Process(in, t, sampleRate float64) float64 {
	if f.Bypass {
		return in
	}
	freq := clamp(f.Frequency.At(t), 10, sampleRate/2*0.999)
	q := f.Q.At(t)
	if q < 0.0001 {
		q = 0.0001
	}
	g := f.GainDB.At(t)
	if !f.ready || freq != f.lastF || q != f.lastQ || g != f.lastG || f.Type != f.lastType {
		f.coefficients(freq/sampleRate, q, g)
		f.lastF, f.lastQ, f.lastG, f.lastType = freq, q, g, f.Type
		f.ready = true
	}
	out := f.b0*in + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, in
	f.y2, f.y1 = f.y1, out
	return out
}

// Reset clears the filter history.
func (f *Biquad) Reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}

// coefficients follows RBJ's audio EQ cookbook; fc is normalized (Hz / rate).
func (f *Biquad) coefficients(fc, q, dbGain float64) {
	w0 := twoPi * fc
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * q)
	A := math.Pow(10, dbGain/40)
	var b0, b1, b2, a0, a1, a2 float64
	switch f.Type {
	case FilterHighpass:
		b0, b1, b2 = (1+cosw)/2, -(1 + cosw), (1+cosw)/2
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	case FilterBandpass:
		b0, b1, b2 = alpha, 0, -alpha
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	case FilterNotch:
		b0, b1, b2 = 1, -2*cosw, 1
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	case FilterAllpass:
		b0, b1, b2 = 1-alpha, -2*cosw, 1+alpha
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	case FilterPeaking:
		b0, b1, b2 = 1+alpha*A, -2*cosw, 1-alpha*A
		a0, a1, a2 = 1+alpha/A, -2*cosw, 1-alpha/A
	case FilterLowshelf:
		sq := 2 * math.Sqrt(A) * alpha
		b0 = A * ((A + 1) - (A-1)*cosw + sq)
		b1 = 2 * A * ((A - 1) - (A+1)*cosw)
		b2 = A * ((A + 1) - (A-1)*cosw - sq)
		a0 = (A + 1) + (A-1)*cosw + sq
		a1 = -2 * ((A - 1) + (A+1)*cosw)
		a2 = (A + 1) + (A-1)*cosw - sq
	case FilterHighshelf:
		sq := 2 * math.Sqrt(A) * alpha
		b0 = A * ((A + 1) + (A-1)*cosw + sq)
		b1 = -2 * A * ((A - 1) + (A+1)*cosw)
		b2 = A * ((A + 1) + (A-1)*cosw - sq)
		a0 = (A + 1) - (A-1)*cosw + sq
		a1 = 2 * ((A - 1) - (A+1)*cosw)
		a2 = (A + 1) - (A-1)*cosw - sq
	default: // lowpass
		b0, b1, b2 = (1-cosw)/2, 1-cosw, (1-cosw)/2
		a0, a1, a2 = 1+alpha, -2*cosw, 1-alpha
	}
	f.b0, f.b1, f.b2 = b0/a0, b1/a0, b2/a0
	f.a1, f.a2 = a1/a0, a2/a0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
