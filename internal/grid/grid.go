// Package grid holds the timing and pitch math shared by the editor
// collaborators and the engine: key/frequency conversion, beat/second
// conversion and snapping.
package grid

import (
	"math"
	"strconv"
)

const (
	// ConcertA is the tuning reference for key 69.
	ConcertA = 440.0
	MinKey   = 0
	MaxKey   = 127
)

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// KeyToFrequency returns the equal-tempered frequency of a MIDI key.
func KeyToFrequency(key int) float64 {
	return ConcertA * math.Pow(2, float64(key-69)/12)
}

// FrequencyToKey returns the nearest MIDI key, clamped to [0,127].
func FrequencyToKey(freq float64) int {
	if freq <= 0 {
		return MinKey
	}
	key := int(math.Round(math.Log2(freq/ConcertA)*12)) + 69
	if key < MinKey {
		return MinKey
	}
	if key > MaxKey {
		return MaxKey
	}
	return key
}

// NoteName formats a key as scientific pitch notation, e.g. 60 -> "C4".
func NoteName(key int) string {
	if key < MinKey || key > MaxKey {
		return "?"
	}
	octave := key/12 - 1
	return noteNames[key%12] + strconv.Itoa(octave)
}

// DetuneRatio converts cents to a frequency multiplier.
func DetuneRatio(cents float64) float64 {
	return math.Pow(2, cents/1200)
}

func SecondsPerBeat(bpm float64) float64 {
	if bpm <= 0 {
		return 0
	}
	return 60 / bpm
}

func BeatsToSeconds(beats, bpm float64) float64 {
	return beats * SecondsPerBeat(bpm)
}

func SecondsToBeats(sec, bpm float64) float64 {
	spb := SecondsPerBeat(bpm)
	if spb == 0 {
		return 0
	}
	return sec / spb
}

// Snap rounds t to the nearest multiple of division beats at bpm.
// division is in beats (0.25 = sixteenth note in 4/4). A non-positive
// division or tempo returns t unchanged.
func Snap(t, division, bpm float64) float64 {
	step := BeatsToSeconds(division, bpm)
	if step <= 0 {
		return t
	}
	s := math.Round(t/step) * step
	if s < 0 {
		return 0
	}
	return s
}

// SnapFloor is Snap rounding down, used when placing a note under the cursor.
func SnapFloor(t, division, bpm float64) float64 {
	step := BeatsToSeconds(division, bpm)
	if step <= 0 {
		return t
	}
	s := math.Floor(t/step+1e-9) * step
	if s < 0 {
		return 0
	}
	return s
}
