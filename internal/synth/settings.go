package synth

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cbegin/pianoroll-go/internal/lfo"
)

// Oscillator is one entry of the oscillator stack.
type Oscillator struct {
	Type        string  `json:"type"`
	DetuneCents float64 `json:"detune"`
	Gain        float64 `json:"gain"`
	OctaveShift int     `json:"octave"`
}

// Envelope times are seconds; Sustain is a level in [0,1].
type Envelope struct {
	Attack  float64 `json:"attack"`
	Decay   float64 `json:"decay"`
	Sustain float64 `json:"sustain"`
	Release float64 `json:"release"`
}

type Filter struct {
	Type        string  `json:"type"`
	FrequencyHz float64 `json:"frequency"`
	Q           float64 `json:"q"`
	GainDB      float64 `json:"gain"`
	Enabled     bool    `json:"enabled"`
}

// LFO depth is in Hz for the frequency and filter targets and in linear
// gain for the amplitude target.
type LFO struct {
	Type        string     `json:"type"`
	FrequencyHz float64    `json:"frequency"`
	Depth       float64    `json:"depth"`
	Target      lfo.Target `json:"target"`
	Enabled     bool       `json:"enabled"`
}

type Reverb struct {
	Enabled bool    `json:"enabled"`
	Room    float64 `json:"room"`
	Decay   float64 `json:"decay"`
	Mix     float64 `json:"mix"`
}

// Settings is the single active synthesizer configuration of an Engine.
type Settings struct {
	Oscillators []Oscillator `json:"oscillators"`
	Envelope    Envelope     `json:"envelope"`
	Filter      Filter       `json:"filter"`
	LFO         LFO          `json:"lfo"`
	MasterGain  float64      `json:"masterGain"`
	Pan         float64      `json:"pan"`
	Reverb      Reverb       `json:"reverb"`
}

// Clone returns a copy that shares no slices with s.
func (s Settings) Clone() Settings {
	out := s
	out.Oscillators = append([]Oscillator(nil), s.Oscillators...)
	return out
}

// clamped brings every field into its documented range.
func (s Settings) clamped() Settings {
	out := s.Clone()
	for i := range out.Oscillators {
		out.Oscillators[i].Gain = clamp(out.Oscillators[i].Gain, 0, 1)
	}
	env := &out.Envelope
	env.Attack = max(env.Attack, 0)
	env.Decay = max(env.Decay, 0)
	env.Release = max(env.Release, 0)
	env.Sustain = clamp(env.Sustain, 0, 1)
	out.Filter.FrequencyHz = clamp(out.Filter.FrequencyHz, 10, 22050)
	if out.Filter.Q <= 0 {
		out.Filter.Q = 0.0001
	}
	out.LFO.FrequencyHz = max(out.LFO.FrequencyHz, 0)
	switch out.LFO.Target {
	case lfo.TargetFrequency, lfo.TargetAmplitude, lfo.TargetFilter:
	default:
		out.LFO.Target = lfo.TargetFrequency
	}
	out.MasterGain = clamp(out.MasterGain, 0, 1)
	out.Pan = clamp(out.Pan, -1, 1)
	out.Reverb.Room = clamp(out.Reverb.Room, 0, 1)
	out.Reverb.Decay = clamp(out.Reverb.Decay, 0, 0.95)
	out.Reverb.Mix = clamp(out.Reverb.Mix, 0, 1)
	return out
}

// SettingsPatch is a partial update. Nil fields are left unchanged.
type SettingsPatch struct {
	Oscillators     []Oscillator `json:"oscillators,omitempty"`
	Envelope        *Envelope    `json:"envelope,omitempty"`
	Filter          *Filter      `json:"filter,omitempty"`
	FilterFrequency *float64     `json:"filterFrequency,omitempty"`
	LFO             *LFO         `json:"lfo,omitempty"`
	MasterGain      *float64     `json:"masterGain,omitempty"`
	Pan             *float64     `json:"pan,omitempty"`
	Reverb          *Reverb      `json:"reverb,omitempty"`
}

// Apply merges the patch into s and returns the result.
func (p SettingsPatch) Apply(s Settings) Settings {
	out := s.Clone()
	if p.Oscillators != nil {
		out.Oscillators = append([]Oscillator(nil), p.Oscillators...)
	}
	if p.Envelope != nil {
		out.Envelope = *p.Envelope
	}
	if p.Filter != nil {
		out.Filter = *p.Filter
	}
	if p.FilterFrequency != nil {
		out.Filter.FrequencyHz = *p.FilterFrequency
	}
	if p.LFO != nil {
		out.LFO = *p.LFO
	}
	if p.MasterGain != nil {
		out.MasterGain = *p.MasterGain
	}
	if p.Pan != nil {
		out.Pan = *p.Pan
	}
	if p.Reverb != nil {
		out.Reverb = *p.Reverb
	}
	return out.clamped()
}

// Float64 is a helper for building patches.
func Float64(v float64) *float64 { return &v }

// LoadSettings decodes JSON settings on top of the default preset, so a file
// only needs the fields it changes.
func LoadSettings(r io.Reader) (Settings, error) {
	s := DefaultSettings()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s.clamped(), nil
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
