package synth

import (
	"math"

	"github.com/cbegin/pianoroll-go/internal/dsp"
	"github.com/cbegin/pianoroll-go/internal/grid"
	"github.com/cbegin/pianoroll-go/internal/lfo"
)

// Note is a timed note event. Times are seconds on the transport timeline.
type Note struct {
	ID       string  `json:"id"`
	Key      int     `json:"key"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Velocity int     `json:"velocity"`
}

func (n Note) End() float64 { return n.Start + n.Duration }

// Valid reports whether the note can be played at all.
func (n Note) Valid() bool {
	return n.Key >= grid.MinKey && n.Key <= grid.MaxKey &&
		n.Duration > 0 && n.Start >= 0 && !math.IsInf(n.Start+n.Duration, 0)
}

// Phase is the envelope stage a voice is in.
type Phase int

const (
	PhaseAttack Phase = iota
	PhaseDecay
	PhaseSustain
	PhaseRelease
)

func (p Phase) String() string {
	switch p {
	case PhaseAttack:
		return "attack"
	case PhaseDecay:
		return "decay"
	case PhaseSustain:
		return "sustain"
	default:
		return "release"
	}
}

type voiceOsc struct {
	osc  *dsp.Oscillator
	gain *dsp.Gain
}

// Voice is the realized graph of one sounding note:
// oscillators -> per-oscillator gains -> filter -> envelope gain -> pan.
type Voice struct {
	noteID   string
	key      int
	velocity float64

	oscs      []voiceOsc
	filter    *dsp.Biquad
	amp       *dsp.Gain
	pan       *dsp.Param
	mod       *lfo.LFO
	modTarget lfo.Target

	env       Envelope
	startAt   float64
	releaseAt float64
	endAt     float64
	releasing bool
}

func newVoice(n Note, velocity, at float64, s *Settings) *Voice {
	v := &Voice{
		noteID:   n.ID,
		key:      n.Key,
		velocity: velocity,
		env:      s.Envelope,
		startAt:  at,
		mod:      &lfo.LFO{},
	}
	base := grid.KeyToFrequency(n.Key)
	for _, cfg := range s.Oscillators {
		osc := dsp.NewOscillator(dsp.ParseWaveform(cfg.Type), base*math.Pow(2, float64(cfg.OctaveShift)), cfg.DetuneCents)
		osc.Start(at)
		v.oscs = append(v.oscs, voiceOsc{
			osc:  osc,
			gain: dsp.NewGain(cfg.Gain * velocity * s.MasterGain),
		})
	}
	f := s.Filter
	v.filter = dsp.NewBiquad(dsp.ParseFilterType(f.Type), f.FrequencyHz, f.Q, f.GainDB)
	v.filter.Bypass = !f.Enabled
	v.pan = dsp.NewParam(s.Pan)

	v.amp = dsp.NewGain(0)
	env := s.Envelope
	v.amp.Gain.SetValueAtTime(0, at)
	v.amp.Gain.LinearRampToValueAtTime(velocity, at+env.Attack)
	v.amp.Gain.LinearRampToValueAtTime(velocity*env.Sustain, at+env.Attack+env.Decay)

	v.setLFO(s.LFO)
	return v
}

func (v *Voice) Key() int       { return v.key }
func (v *Voice) NoteID() string { return v.noteID }

// Phase returns the envelope stage at time t.
func (v *Voice) Phase(t float64) Phase {
	switch {
	case v.releasing && t >= v.releaseAt:
		return PhaseRelease
	case t < v.startAt+v.env.Attack:
		return PhaseAttack
	case t < v.startAt+v.env.Attack+v.env.Decay:
		return PhaseDecay
	default:
		return PhaseSustain
	}
}

// Level is the envelope gain at t without modulation.
func (v *Voice) Level(t float64) float64 { return v.amp.Gain.Intrinsic(t) }

// release ramps from the current level to zero. A voice already releasing
// keeps its original schedule.
func (v *Voice) release(t float64) bool {
	if v.releasing {
		return false
	}
	v.releasing = true
	v.releaseAt = t
	v.endAt = t + v.env.Release
	v.amp.Gain.CancelAndHoldAtTime(t)
	v.amp.Gain.LinearRampToValueAtTime(0, v.endAt)
	for _, o := range v.oscs {
		o.osc.Stop(v.endAt)
	}
	return true
}

func (v *Voice) finished(t float64) bool {
	return v.releasing && t >= v.endAt
}

// teardown stops every source and disconnects every modulation input.
func (v *Voice) teardown(t float64) {
	v.releasing = true
	if v.endAt == 0 || v.endAt > t {
		v.endAt = t
	}
	for _, o := range v.oscs {
		o.osc.Stop(t)
		o.osc.Frequency.Disconnect()
	}
	v.filter.Frequency.Disconnect()
	v.amp.Gain.Disconnect()
	v.mod.Set(0, 0, dsp.WaveSine)
}

// setLFO reconnects the modulator to its target parameter.
func (v *Voice) setLFO(cfg LFO) {
	v.disconnectLFO()
	if !cfg.Enabled || cfg.Depth <= 0 {
		v.mod.Set(0, 0, dsp.WaveSine)
		return
	}
	v.mod.Set(cfg.Depth, cfg.FrequencyHz, dsp.ParseWaveform(cfg.Type))
	v.modTarget = cfg.Target
	switch cfg.Target {
	case lfo.TargetAmplitude:
		v.amp.Gain.Connect(v.mod)
	case lfo.TargetFilter:
		v.filter.Frequency.Connect(v.mod)
	default:
		for _, o := range v.oscs {
			o.osc.Frequency.Connect(v.mod)
		}
	}
}

func (v *Voice) disconnectLFO() {
	switch v.modTarget {
	case lfo.TargetAmplitude:
		v.amp.Gain.Disconnect()
	case lfo.TargetFilter:
		v.filter.Frequency.Disconnect()
	case lfo.TargetFrequency:
		for _, o := range v.oscs {
			o.osc.Frequency.Disconnect()
		}
	}
	v.modTarget = ""
}

// apply pushes live settings into the voice's nodes. The envelope is left
// alone; oscillators added by the new settings only reach future notes.
func (v *Voice) apply(s *Settings) {
	base := grid.KeyToFrequency(v.key)
	for i := range v.oscs {
		o := &v.oscs[i]
		if i >= len(s.Oscillators) {
			o.gain.Gain.SetValue(0)
			continue
		}
		cfg := s.Oscillators[i]
		o.osc.Type = dsp.ParseWaveform(cfg.Type)
		o.osc.Frequency.SetValue(base * math.Pow(2, float64(cfg.OctaveShift)))
		o.osc.Detune.SetValue(cfg.DetuneCents)
		o.gain.Gain.SetValue(cfg.Gain * v.velocity * s.MasterGain)
	}
	f := s.Filter
	v.filter.Type = dsp.ParseFilterType(f.Type)
	v.filter.Frequency.SetValue(f.FrequencyHz)
	v.filter.Q.SetValue(f.Q)
	v.filter.GainDB.SetValue(f.GainDB)
	v.filter.Bypass = !f.Enabled
	v.pan.SetValue(s.Pan)
	if !v.releasing {
		v.setLFO(s.LFO)
	}
}

// render produces one stereo sample at time t.
func (v *Voice) render(t, sampleRate float64) (float64, float64) {
	v.mod.Sample(sampleRate)
	var sum float64
	for _, o := range v.oscs {
		sum += o.gain.Process(o.osc.Step(t, sampleRate), t)
	}
	x := v.filter.Process(sum, t, sampleRate)
	x = v.amp.Process(x, t)
	angle := (clamp(v.pan.At(t), -1, 1) + 1) * math.Pi / 4
	return x * math.Cos(angle), x * math.Sin(angle)
}

// prune drops automation events that are already in the past.
func (v *Voice) prune(t float64) {
	v.amp.Gain.Prune(t)
}
