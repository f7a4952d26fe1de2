package scheduler

import (
	"sort"

	"github.com/cbegin/pianoroll-go/internal/synth"
)

// Sequence is the note source the scheduler reads each tick.
type Sequence interface {
	// Intersecting returns the notes with Start < to and End > from, in
	// start order.
	Intersecting(from, to float64) []synth.Note
}

// Notes is a Sequence backed by a slice sorted by start time.
type Notes []synth.Note

// NewNotes copies and sorts notes by start, then key.
func NewNotes(notes []synth.Note) Notes {
	out := make(Notes, len(notes))
	copy(out, notes)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func (ns Notes) Intersecting(from, to float64) []synth.Note {
	end := sort.Search(len(ns), func(i int) bool { return ns[i].Start >= to })
	var out []synth.Note
	for _, n := range ns[:end] {
		if n.End() > from {
			out = append(out, n)
		}
	}
	return out
}

// TotalDuration is the end time of the last note to finish.
func (ns Notes) TotalDuration() float64 {
	var total float64
	for _, n := range ns {
		total = max(total, n.End())
	}
	return total
}
