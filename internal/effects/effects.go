// Package effects holds the master-bus processors applied after every voice
// has been mixed: an optional room reverb and an output limiter.
package effects

// Effector processes one stereo frame.
type Effector interface {
	Process(l, r float32) (float32, float32)
	Reset()
}

// Chain applies effects in order. A nil entry is skipped so a slot can be
// switched off without rebuilding the chain.
type Chain struct {
	effects []Effector
}

func NewChain(effects ...Effector) *Chain {
	return &Chain{effects: effects}
}

func (c *Chain) Process(l, r float32) (float32, float32) {
	for _, e := range c.effects {
		if e == nil {
			continue
		}
		l, r = e.Process(l, r)
	}
	return l, r
}

// ProcessBuffer runs the chain over interleaved stereo samples in place.
func (c *Chain) ProcessBuffer(buf []float32) {
	if c == nil || len(c.effects) == 0 {
		return
	}
	for i := 0; i+1 < len(buf); i += 2 {
		buf[i], buf[i+1] = c.Process(buf[i], buf[i+1])
	}
}

func (c *Chain) Reset() {
	for _, e := range c.effects {
		if e != nil {
			e.Reset()
		}
	}
}

// Set replaces the effect in slot i, growing the chain if needed.
func (c *Chain) Set(i int, e Effector) {
	for len(c.effects) <= i {
		c.effects = append(c.effects, nil)
	}
	c.effects[i] = e
}

// At returns the effect in slot i, or nil.
func (c *Chain) At(i int) Effector {
	if i < 0 || i >= len(c.effects) {
		return nil
	}
	return c.effects[i]
}

func (c *Chain) Len() int { return len(c.effects) }

func clamp32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
