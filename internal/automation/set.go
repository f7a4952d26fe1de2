package automation

import (
	"fmt"
	"sync"
)

// Set is the lane collection shared between editor collaborators and the
// scheduler. Lookups and replacement are safe for concurrent use; lanes
// handed to Replace must not be mutated afterwards.
type Set struct {
	mu    sync.RWMutex
	lanes []*Lane
}

func NewSet(lanes ...*Lane) *Set {
	s := &Set{}
	s.Replace(lanes)
	return s
}

// Replace swaps the whole lane list. Each lane's points are sorted.
func (s *Set) Replace(lanes []*Lane) {
	cp := make([]*Lane, 0, len(lanes))
	for _, l := range lanes {
		if l == nil {
			continue
		}
		l.Sort()
		cp = append(cp, l)
	}
	s.mu.Lock()
	s.lanes = cp
	s.mu.Unlock()
}

func (s *Set) Lanes() []*Lane {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Lane, len(s.lanes))
	copy(out, s.lanes)
	return out
}

func (s *Set) ByID(id string) (*Lane, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.lanes {
		if l.ID == id {
			return l, true
		}
	}
	return nil, false
}

// ByType returns the first lane of the given type.
func (s *Set) ByType(typ LaneType) (*Lane, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.lanes {
		if l.Type == typ {
			return l, true
		}
	}
	return nil, false
}

// ValueAt evaluates the lane with the given id at time t.
func (s *Set) ValueAt(id string, t float64) (float64, error) {
	l, ok := s.ByID(id)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrLaneNotFound, id)
	}
	return ValueAt(l, t), nil
}
