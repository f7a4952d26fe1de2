package effects

// Reverb is a small Schroeder room: four parallel combs into two allpasses,
// fed from the mono sum.
type Reverb struct {
	combs   [4]delayLine
	allpass [2]delayLine
	room    float32
	wet     float32
}

type delayLine struct {
	buf []float32
	pos int
	fb  float32
}

var (
	combRatios    = [4]int{1000, 1117, 1271, 1437}
	allpassRatios = [2]int{347, 213}
)

// NewReverb: room 0..1 scales delay lengths, decay 0..0.95 sets the comb
// feedback, mix 0..1 is the wet level.
func NewReverb(sampleRate int, room, decay, mix float32) *Reverb {
	room = clamp32(room, 0, 1)
	base := int(float32(sampleRate) * room * 0.05)
	if base < 10 {
		base = 10
	}
	r := &Reverb{room: room, wet: clamp32(mix, 0, 1)}
	for i := range r.combs {
		r.combs[i] = delayLine{buf: make([]float32, base*combRatios[i]/1000)}
	}
	for i := range r.allpass {
		n := base * allpassRatios[i] / 1000
		if n < 1 {
			n = 1
		}
		r.allpass[i] = delayLine{buf: make([]float32, n), fb: 0.5}
	}
	r.SetDecay(decay)
	return r
}

// SetDecay and SetMix may be called between frames; room size needs a new
// Reverb because it changes buffer lengths.
func (r *Reverb) SetDecay(decay float32) {
	fb := clamp32(decay, 0, 0.95)
	for i := range r.combs {
		r.combs[i].fb = fb
	}
}

func (r *Reverb) SetMix(mix float32) { r.wet = clamp32(mix, 0, 1) }

func (r *Reverb) Room() float32 { return r.room }

func (r *Reverb) Process(l, rt float32) (float32, float32) {
	mono := (l + rt) * 0.5
	var out float32
	for i := range r.combs {
		out += r.combs[i].comb(mono)
	}
	out *= 0.25
	for i := range r.allpass {
		out = r.allpass[i].allpassStep(out)
	}
	dry := 1 - r.wet
	return l*dry + out*r.wet, rt*dry + out*r.wet
}

func (r *Reverb) Reset() {
	for i := range r.combs {
		r.combs[i].clear()
	}
	for i := range r.allpass {
		r.allpass[i].clear()
	}
}

func (d *delayLine) comb(in float32) float32 {
	out := d.buf[d.pos]
	d.buf[d.pos] = in + out*d.fb
	d.advance()
	return out
}

func (d *delayLine) allpassStep(in float32) float32 {
	delayed := d.buf[d.pos]
	d.buf[d.pos] = in + delayed*d.fb
	d.advance()
	return delayed - in
}

func (d *delayLine) advance() {
	d.pos++
	if d.pos >= len(d.buf) {
		d.pos = 0
	}
}

func (d *delayLine) clear() {
	for i := range d.buf {
		d.buf[i] = 0
	}
	d.pos = 0
}
