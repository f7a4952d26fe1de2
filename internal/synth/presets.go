package synth

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cbegin/pianoroll-go/internal/lfo"
)

var presets = map[string]Settings{
	"piano": {
		Oscillators: []Oscillator{
			{Type: "triangle", Gain: 0.6},
			{Type: "sine", Gain: 0.3, OctaveShift: 1},
			{Type: "sawtooth", DetuneCents: 3, Gain: 0.08},
		},
		Envelope:   Envelope{Attack: 0.005, Decay: 0.8, Sustain: 0.25, Release: 0.4},
		Filter:     Filter{Type: "lowpass", FrequencyHz: 4200, Q: 0.7, Enabled: true},
		LFO:        LFO{Type: "sine", FrequencyHz: 5, Target: lfo.TargetFrequency},
		MasterGain: 0.5,
	},
	"organ": {
		Oscillators: []Oscillator{
			{Type: "sine", Gain: 0.5},
			{Type: "sine", Gain: 0.35, OctaveShift: 1},
			{Type: "sine", Gain: 0.2, OctaveShift: 2},
			{Type: "sine", Gain: 0.25, OctaveShift: -1},
		},
		Envelope:   Envelope{Attack: 0.01, Decay: 0.05, Sustain: 1, Release: 0.08},
		Filter:     Filter{Type: "lowpass", FrequencyHz: 8000, Q: 0.5},
		LFO:        LFO{Type: "sine", FrequencyHz: 6, Depth: 0.08, Target: lfo.TargetAmplitude, Enabled: true},
		MasterGain: 0.4,
	},
	"strings": {
		Oscillators: []Oscillator{
			{Type: "sawtooth", DetuneCents: -7, Gain: 0.4},
			{Type: "sawtooth", DetuneCents: 7, Gain: 0.4},
			{Type: "sawtooth", Gain: 0.2, OctaveShift: -1},
		},
		Envelope:   Envelope{Attack: 0.35, Decay: 0.3, Sustain: 0.8, Release: 0.7},
		Filter:     Filter{Type: "lowpass", FrequencyHz: 2800, Q: 0.9, Enabled: true},
		LFO:        LFO{Type: "sine", FrequencyHz: 5.5, Depth: 2.5, Target: lfo.TargetFrequency, Enabled: true},
		MasterGain: 0.45,
		Reverb:     Reverb{Enabled: true, Room: 0.7, Decay: 0.75, Mix: 0.25},
	},
	"bass": {
		Oscillators: []Oscillator{
			{Type: "square", Gain: 0.5, OctaveShift: -1},
			{Type: "sawtooth", DetuneCents: 5, Gain: 0.3, OctaveShift: -1},
		},
		Envelope:   Envelope{Attack: 0.01, Decay: 0.2, Sustain: 0.6, Release: 0.15},
		Filter:     Filter{Type: "lowpass", FrequencyHz: 900, Q: 4, Enabled: true},
		LFO:        LFO{Type: "sine", FrequencyHz: 2, Target: lfo.TargetFilter},
		MasterGain: 0.55,
	},
	"lead": {
		Oscillators: []Oscillator{
			{Type: "sawtooth", Gain: 0.5},
			{Type: "square", DetuneCents: 10, Gain: 0.3},
		},
		Envelope:   Envelope{Attack: 0.02, Decay: 0.15, Sustain: 0.7, Release: 0.25},
		Filter:     Filter{Type: "lowpass", FrequencyHz: 3500, Q: 6, Enabled: true},
		LFO:        LFO{Type: "triangle", FrequencyHz: 6, Depth: 4, Target: lfo.TargetFrequency, Enabled: true},
		MasterGain: 0.4,
	},
	"pad": {
		Oscillators: []Oscillator{
			{Type: "triangle", DetuneCents: -12, Gain: 0.4},
			{Type: "triangle", DetuneCents: 12, Gain: 0.4},
			{Type: "sine", Gain: 0.3, OctaveShift: 1},
		},
		Envelope:   Envelope{Attack: 0.8, Decay: 0.6, Sustain: 0.7, Release: 1.5},
		Filter:     Filter{Type: "lowpass", FrequencyHz: 1800, Q: 1, Enabled: true},
		LFO:        LFO{Type: "sine", FrequencyHz: 0.3, Depth: 600, Target: lfo.TargetFilter, Enabled: true},
		MasterGain: 0.4,
		Reverb:     Reverb{Enabled: true, Room: 0.9, Decay: 0.85, Mix: 0.4},
	},
	"pluck": {
		Oscillators: []Oscillator{
			{Type: "sawtooth", Gain: 0.5},
			{Type: "triangle", Gain: 0.3, OctaveShift: 1},
		},
		Envelope:   Envelope{Attack: 0.002, Decay: 0.25, Sustain: 0, Release: 0.1},
		Filter:     Filter{Type: "lowpass", FrequencyHz: 2500, Q: 2, Enabled: true},
		LFO:        LFO{Type: "sine", FrequencyHz: 4, Target: lfo.TargetFrequency},
		MasterGain: 0.5,
	},
	"sine": {
		Oscillators: []Oscillator{{Type: "sine", Gain: 0.8}},
		Envelope:    Envelope{Attack: 0.01, Decay: 0.1, Sustain: 0.8, Release: 0.2},
		Filter:      Filter{Type: "lowpass", FrequencyHz: 20000, Q: 0.7},
		LFO:         LFO{Type: "sine", FrequencyHz: 5, Target: lfo.TargetFrequency},
		MasterGain:  0.6,
	},
}

const DefaultInstrument = "piano"

// Preset returns a copy of the named preset. Names are case-insensitive.
func Preset(name string) (Settings, error) {
	s, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Settings{}, fmt.Errorf("%w: %q", ErrUnknownInstrument, name)
	}
	return s.Clone(), nil
}

// Instruments lists the preset names in alphabetical order.
func Instruments() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func DefaultSettings() Settings {
	s, _ := Preset(DefaultInstrument)
	return s
}
