// Package automation evaluates piecewise-linear automation lanes.
package automation

import (
	"errors"
	"sort"
)

// LaneType identifies what a lane controls during playback.
type LaneType string

const (
	LaneVelocity LaneType = "velocity"
	LaneTempo    LaneType = "tempo"
	LaneVolume   LaneType = "volume"
	LanePan      LaneType = "pan"
	LaneFilter   LaneType = "filter"
	LaneCustom   LaneType = "custom"
)

var ErrLaneNotFound = errors.New("automation lane not found")

// Point is a control point. Value is normalized to [0, 1].
type Point struct {
	Time  float64 `json:"time"`
	Value float64 `json:"value"`
}

type Lane struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         LaneType `json:"type"`
	Points       []Point  `json:"points"`
	MinValue     float64  `json:"minValue"`
	MaxValue     float64  `json:"maxValue"`
	DefaultValue float64  `json:"defaultValue"`
	Visible      bool     `json:"visible"`
}

// NewLane returns an empty lane with the default range for its type.
func NewLane(id string, typ LaneType) *Lane {
	l := &Lane{ID: id, Name: string(typ), Type: typ, Visible: true}
	switch typ {
	case LaneVelocity:
		l.MinValue, l.MaxValue, l.DefaultValue = 0, 127, 100
	case LaneTempo:
		l.MinValue, l.MaxValue, l.DefaultValue = 40, 240, 120
	case LaneVolume:
		l.MinValue, l.MaxValue, l.DefaultValue = 0, 1, 0.8
	case LanePan:
		l.MinValue, l.MaxValue, l.DefaultValue = -1, 1, 0
	case LaneFilter:
		l.MinValue, l.MaxValue, l.DefaultValue = 20, 20000, 20000
	default:
		l.MinValue, l.MaxValue, l.DefaultValue = 0, 1, 0
	}
	return l
}

// AddPoint inserts a point keeping the list sorted by time. A point at an
// existing time replaces it.
func (l *Lane) AddPoint(t, value float64) {
	if t < 0 {
		t = 0
	}
	value = clamp01(value)
	i := sort.Search(len(l.Points), func(i int) bool { return l.Points[i].Time >= t })
	if i < len(l.Points) && l.Points[i].Time == t {
		l.Points[i].Value = value
		return
	}
	l.Points = append(l.Points, Point{})
	copy(l.Points[i+1:], l.Points[i:])
	l.Points[i] = Point{Time: t, Value: value}
}

// Sort orders points by time. Lanes decoded from JSON should be sorted once
// before evaluation.
func (l *Lane) Sort() {
	sort.SliceStable(l.Points, func(i, j int) bool { return l.Points[i].Time < l.Points[j].Time })
}

// Denormalize maps a stored [0,1] value onto the lane range.
func Denormalize(l *Lane, v float64) float64 {
	return l.MinValue + v*(l.MaxValue-l.MinValue)
}

// Normalize is the inverse of Denormalize. A zero-width range normalizes to 0.
func Normalize(l *Lane, x float64) float64 {
	span := l.MaxValue - l.MinValue
	if span == 0 {
		return 0
	}
	return (x - l.MinValue) / span
}

// ValueAt returns the denormalized lane value at time t. Points are assumed
// sorted ascending by time.
func ValueAt(l *Lane, t float64) float64 {
	pts := l.Points
	if len(pts) == 0 {
		return l.DefaultValue
	}
	if t <= pts[0].Time {
		return Denormalize(l, pts[0].Value)
	}
	last := pts[len(pts)-1]
	if t >= last.Time {
		return Denormalize(l, last.Value)
	}
	// first point strictly after t; pts[i-1].Time <= t < pts[i].Time
	i := sort.Search(len(pts), func(i int) bool { return pts[i].Time > t })
	p0, p1 := pts[i-1], pts[i]
	span := p1.Time - p0.Time
	if span <= 0 {
		return Denormalize(l, p1.Value)
	}
	// interpolate between denormalized endpoints; the map is affine so the
	// result is the same, with less rounding at the endpoints
	d0, d1 := Denormalize(l, p0.Value), Denormalize(l, p1.Value)
	return d0 + (t-p0.Time)/span*(d1-d0)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
