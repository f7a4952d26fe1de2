// Package dsp contains the signal-graph building blocks used by voices:
// automatable parameters, oscillators, gains and a biquad filter.
//
// All times are seconds on the audio clock. Nodes are stepped one sample at a
// time by their owner; nothing here is safe for concurrent use.
package dsp

import "sort"

// Signal is anything whose current sample can be summed into a Param.
type Signal interface {
	Value() float64
}

type eventKind int

const (
	eventSet eventKind = iota
	eventLinear
)

type paramEvent struct {
	kind  eventKind
	time  float64
	value float64
}

// Param is a value that can be scheduled against the audio clock, in the
// manner of a Web Audio AudioParam: set-value and linear-ramp events, plus any
// number of connected modulation signals added on top.
type Param struct {
	value  float64
	events []paramEvent
	inputs []Signal
}

func NewParam(v float64) *Param {
	return &Param{value: v}
}

// SetValue sets the value immediately and drops every scheduled event.
func (p *Param) SetValue(v float64) {
	p.value = v
	p.events = p.events[:0]
}

// SetValueAtTime jumps to v at time t.
func (p *Param) SetValueAtTime(v, t float64) {
	p.insert(paramEvent{kind: eventSet, time: t, value: v})
}

// LinearRampToValueAtTime ramps from the previous event to v, arriving at t.
func (p *Param) LinearRampToValueAtTime(v, t float64) {
	p.insert(paramEvent{kind: eventLinear, time: t, value: v})
}

// CancelScheduledValues removes all events at or after t.
func (p *Param) CancelScheduledValues(t float64) {
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time >= t })
	p.events = p.events[:i]
}

// CancelAndHoldAtTime freezes the automation curve at its value at t and
// removes everything scheduled after t, including a ramp in flight.
func (p *Param) CancelAndHoldAtTime(t float64) float64 {
	v := p.intrinsic(t)
	p.CancelScheduledValues(t)
	p.SetValueAtTime(v, t)
	return v
}

// Connect adds a modulation signal to the parameter.
func (p *Param) Connect(s Signal) {
	p.inputs = append(p.inputs, s)
}

// Disconnect removes every modulation input.
func (p *Param) Disconnect() {
	p.inputs = nil
}

func (p *Param) Inputs() int { return len(p.inputs) }

// At returns the parameter value at time t, modulation included.
func (p *Param) At(t float64) float64 {
	v := p.intrinsic(t)
	for _, in := range p.inputs {
		v += in.Value()
	}
	return v
}

// Intrinsic returns the automation value at t without modulation.
func (p *Param) Intrinsic(t float64) float64 {
	return p.intrinsic(t)
}

// Prune drops events that can no longer affect values at or after t.
func (p *Param) Prune(t float64) {
	i := p.lastAtOrBefore(t)
	if i <= 0 {
		return
	}
	// keep events[i] as the anchor for a following ramp
	p.value = p.events[i].value
	p.events = append(p.events[:0], p.events[i:]...)
}

func (p *Param) intrinsic(t float64) float64 {
	if len(p.events) == 0 {
		return p.value
	}
	i := p.lastAtOrBefore(t)
	if i < 0 {
		return p.value
	}
	cur := p.events[i]
	if i+1 < len(p.events) {
		next := p.events[i+1]
		if next.kind == eventLinear && next.time > cur.time {
			frac := (t - cur.time) / (next.time - cur.time)
			return cur.value + frac*(next.value-cur.value)
		}
	}
	return cur.value
}

func (p *Param) lastAtOrBefore(t float64) int {
	return sort.Search(len(p.events), func(i int) bool { return p.events[i].time > t }) - 1
}

// insert keeps events ordered by time; equal times keep insertion order.
func (p *Param) insert(ev paramEvent) {
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time > ev.time })
	p.events = append(p.events, paramEvent{})
	copy(p.events[i+1:], p.events[i:])
	p.events[i] = ev
}
