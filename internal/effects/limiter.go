package effects

import "math"

// Limiter is a peak-following compressor used on the output bus so that
// many overlapping voices do not clip the device.
type Limiter struct {
	threshold float32 // linear
	ratio     float32
	attack    float32 // one-pole coefficients
	release   float32
	env       float32
}

// NewLimiter builds a limiter. thresholdDB is typically just below 0 dBFS;
// ratio 20 or more behaves as a brickwall.
func NewLimiter(sampleRate int, thresholdDB, ratio, attackMs, releaseMs float64) *Limiter {
	sr := float64(sampleRate)
	if ratio < 1 {
		ratio = 1
	}
	return &Limiter{
		threshold: float32(math.Pow(10, thresholdDB/20)),
		ratio:     float32(ratio),
		attack:    float32(1 - math.Exp(-1/(attackMs*sr/1000))),
		release:   float32(1 - math.Exp(-1/(releaseMs*sr/1000))),
	}
}

// Linked stereo: both channels get the gain of the louder one so the image
// does not wander.
func (c *Limiter) Process(l, r float32) (float32, float32) {
	peak := float32(math.Max(math.Abs(float64(l)), math.Abs(float64(r))))
	if peak > c.env {
		c.env += c.attack * (peak - c.env)
	} else {
		c.env += c.release * (peak - c.env)
	}
	g := c.gain(c.env)
	return l * g, r * g
}

func (c *Limiter) gain(env float32) float32 {
	if env <= c.threshold || c.threshold <= 0 {
		return 1
	}
	over := env / c.threshold
	return float32(math.Pow(float64(over), float64(1/c.ratio-1)))
}

func (c *Limiter) Reset() { c.env = 0 }
