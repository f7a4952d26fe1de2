// Package scheduler drives playback: every tick it reads the transport,
// feeds automation into tempo and synth settings, sweeps finished notes and
// schedules the notes that fall inside the look-ahead window against the
// audio clock.
package scheduler

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cbegin/pianoroll-go/internal/automation"
	"github.com/cbegin/pianoroll-go/internal/synth"
	"github.com/cbegin/pianoroll-go/internal/transport"
)

const (
	DefaultLookAhead    = time.Second
	DefaultTickInterval = 100 * time.Millisecond
)

type Clock interface {
	Now() float64
}

// Voices is the part of the voice engine the scheduler drives.
type Voices interface {
	PlayNoteAt(n synth.Note, velocity, when float64)
	StopNoteID(id string, when float64)
	CancelNoteID(id string) int
	CancelPending() int
	StopAll()
	UpdateSettings(p synth.SettingsPatch)
}

type Option func(*Scheduler)

func WithLookAhead(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.lookAhead = d.Seconds()
		}
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

type entryKey struct {
	id   string
	pass int
}

type entry struct {
	note  synth.Note
	token string // id the voice was started under
	pass  int
	vel   float64

	// audio times of the queued start and stop, and the speed they were
	// computed with
	startAt    float64
	stopAt     float64
	stopQueued bool
	speed      float64
}

type Scheduler struct {
	mu           sync.Mutex
	clock        Clock
	transport    *transport.Transport
	voices       Voices
	seq          Sequence
	lanes        *automation.Set
	lookAhead    float64
	tickInterval time.Duration
	log          *slog.Logger

	registry map[entryKey]entry
	pass     int
	applied  map[automation.LaneType]float64
}

func New(clock Clock, tr *transport.Transport, voices Voices, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:        clock,
		transport:    tr,
		voices:       voices,
		seq:          Notes(nil),
		lanes:        automation.NewSet(),
		lookAhead:    DefaultLookAhead.Seconds(),
		tickInterval: DefaultTickInterval,
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		registry:     make(map[entryKey]entry),
		applied:      make(map[automation.LaneType]float64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) SetSequence(seq Sequence) {
	if seq == nil {
		seq = Notes(nil)
	}
	s.mu.Lock()
	s.seq = seq
	s.mu.Unlock()
}

func (s *Scheduler) SetLanes(lanes *automation.Set) {
	if lanes == nil {
		lanes = automation.NewSet()
	}
	s.mu.Lock()
	s.lanes = lanes
	s.applied = make(map[automation.LaneType]float64)
	s.mu.Unlock()
}

func (s *Scheduler) Lanes() *automation.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lanes
}

func (s *Scheduler) TickInterval() time.Duration { return s.tickInterval }

// Tick runs one scheduling pass at audio time now.
func (s *Scheduler) Tick(now float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.transport.Playing() {
		return
	}
	pos, wrap := s.transport.Advance(now)
	if wrap.Count > 0 {
		s.pass += wrap.Count
		s.dropFinishedPasses(now, wrap)
	}
	s.applyLanes(pos)
	s.retime(now, pos)
	s.sweep(pos, now)
	s.schedule(now, pos)
	s.queueStops(now, pos)
}

// Stop cancels every pending start, cuts every voice and forgets what was
// scheduled. The transport is left to the caller.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.voices.CancelPending()
	s.voices.StopAll()
	s.registry = make(map[entryKey]entry)
	s.pass = 0
	s.log.Debug("scheduler stopped", "cancelled", n)
}

// Run ticks at the configured interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	return s.Drive(ctx, ticker.C)
}

// Drive ticks once per value received on ticks, using the audio clock for
// the tick time.
func (s *Scheduler) Drive(ctx context.Context, ticks <-chan time.Time) error {
	s.Tick(s.clock.Now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ticks:
			if !ok {
				return nil
			}
			s.Tick(s.clock.Now())
		}
	}
}

// Registry returns the ids of the notes currently scheduled, sorted.
func (s *Scheduler) Registry() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.registry))
	for _, e := range s.registry {
		ids = append(ids, e.token)
	}
	sort.Strings(ids)
	return ids
}

// Pass is the number of loop passes completed since playback started.
func (s *Scheduler) Pass() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pass
}

// dropFinishedPasses releases and forgets everything scheduled for passes
// before the current one, so the loop body can trigger again.
func (s *Scheduler) dropFinishedPasses(now float64, wrap transport.Wrap) {
	dropped := 0
	for k, e := range s.registry {
		if e.pass < s.pass {
			s.release(e, now)
			delete(s.registry, k)
			dropped++
		}
	}
	s.log.Debug("loop wrap", "pass", s.pass, "at", wrap.Point, "dropped", dropped)
}

func (s *Scheduler) applyLanes(pos float64) {
	if l, ok := s.lanes.ByType(automation.LaneTempo); ok {
		s.transport.SetTempo(automation.ValueAt(l, pos))
	}
	var patch synth.SettingsPatch
	changed := false
	value := func(typ automation.LaneType) (*float64, bool) {
		l, ok := s.lanes.ByType(typ)
		if !ok || len(l.Points) == 0 {
			return nil, false
		}
		v := automation.ValueAt(l, pos)
		if last, seen := s.applied[typ]; seen && last == v {
			return nil, false
		}
		s.applied[typ] = v
		return &v, true
	}
	if v, ok := value(automation.LaneVolume); ok {
		patch.MasterGain, changed = v, true
	}
	if v, ok := value(automation.LanePan); ok {
		patch.Pan, changed = v, true
	}
	if v, ok := value(automation.LaneFilter); ok {
		patch.FilterFrequency, changed = v, true
	}
	if changed {
		s.voices.UpdateSettings(patch)
	}
}

// sweep releases notes of the current pass that have already ended. The
// voice gets its normal release tail rather than a cut; usually the stop
// queued by queueStops has already started it.
func (s *Scheduler) sweep(pos, now float64) {
	for k, e := range s.registry {
		if e.pass == s.pass && e.note.End() <= pos {
			s.release(e, now)
			delete(s.registry, k)
		}
	}
}

// release stops e's voice at now unless its queued stop is already due.
func (s *Scheduler) release(e entry, now float64) {
	if e.stopQueued && e.stopAt <= now {
		return
	}
	if e.stopQueued {
		s.voices.CancelNoteID(e.token)
	}
	s.voices.StopNoteID(e.token, now)
}

// ahead is the timeline distance from pos to position p in the given pass.
// Only the current pass and, when looping, the next one are reachable.
func (s *Scheduler) ahead(p float64, pass int, pos float64, loop transport.Loop) (float64, bool) {
	switch {
	case pass == s.pass:
		return p - pos, true
	case loop.Enabled && pass == s.pass+1:
		return loop.End - pos + p - loop.Start, true
	}
	return 0, false
}

// noteEnd is where e's voice must be released, clipped to the loop end.
func noteEnd(e entry, loop transport.Loop) float64 {
	if loop.Enabled {
		return math.Min(e.note.End(), loop.End)
	}
	return e.note.End()
}

// retime moves queued starts and stops that were computed at another speed.
func (s *Scheduler) retime(now, pos float64) {
	speed := s.transport.Speed()
	if speed <= 0 {
		return
	}
	loop := s.transport.Loop()
	for k, e := range s.registry {
		if e.speed == speed {
			continue
		}
		startPending := e.startAt > now
		stopPending := e.stopQueued && e.stopAt > now
		if startPending || stopPending {
			s.voices.CancelNoteID(e.token)
		}
		if startPending {
			if d, ok := s.ahead(e.note.Start, e.pass, pos, loop); ok {
				e.startAt = now + math.Max(d, 0)/speed
				voiced := e.note
				voiced.ID = e.token
				s.voices.PlayNoteAt(voiced, e.vel, e.startAt)
			}
		}
		if stopPending {
			e.stopQueued = false
		}
		e.speed = speed
		s.registry[k] = e
	}
}

// queueStops puts a sample-accurate release on the audio clock for every
// note that ends before the next tick, timed at the current speed.
func (s *Scheduler) queueStops(now, pos float64) {
	speed := s.transport.Speed()
	if speed <= 0 {
		return
	}
	loop := s.transport.Loop()
	horizon := s.tickInterval.Seconds() * speed
	for k, e := range s.registry {
		if e.stopQueued {
			continue
		}
		d, ok := s.ahead(noteEnd(e, loop), e.pass, pos, loop)
		if !ok || d >= horizon {
			continue
		}
		e.stopAt = now + math.Max(d, 0)/speed
		e.stopQueued = true
		e.speed = speed
		s.voices.StopNoteID(e.token, e.stopAt)
		s.registry[k] = e
	}
}

// segment maps a span of the timeline onto audio time: position p plays at
// now + (shift + p - origin) / speed.
type segment struct {
	from, to float64
	origin   float64
	shift    float64
	pass     int
}

func (s *Scheduler) schedule(now, pos float64) {
	loop := s.transport.Loop()
	speed := s.transport.Speed()
	if !loop.Enabled {
		s.scheduleSegment(now, speed, loop, segment{from: pos, to: pos + s.lookAhead, origin: pos, pass: s.pass})
		return
	}
	to := pos + math.Min(s.lookAhead, loop.Length())
	if to <= loop.End {
		s.scheduleSegment(now, speed, loop, segment{from: pos, to: to, origin: pos, pass: s.pass})
		return
	}
	s.scheduleSegment(now, speed, loop, segment{from: pos, to: loop.End, origin: pos, pass: s.pass})
	s.scheduleSegment(now, speed, loop, segment{
		from:   loop.Start,
		to:     loop.Start + (to - loop.End),
		origin: loop.Start,
		shift:  loop.End - pos,
		pass:   s.pass + 1,
	})
}

func (s *Scheduler) scheduleSegment(now, speed float64, loop transport.Loop, seg segment) {
	if seg.to <= seg.from || speed <= 0 {
		return
	}
	at := func(p float64) float64 {
		return now + (seg.shift+p-seg.origin)/speed
	}
	velLane, hasVel := s.lanes.ByType(automation.LaneVelocity)
	for _, n := range s.seq.Intersecting(seg.from, seg.to) {
		if !n.Valid() {
			s.log.Debug("skip invalid note", "id", n.ID, "key", n.Key)
			continue
		}
		if loop.Enabled && seg.pass > 0 && n.Start < loop.Start {
			continue
		}
		k := entryKey{id: n.ID, pass: seg.pass}
		if _, ok := s.registry[k]; ok {
			continue
		}
		vel := float64(n.Velocity) / 127
		if hasVel {
			vel = automation.ValueAt(velLane, n.Start) / 127
		}
		vel = math.Min(math.Max(vel, 0), 1)

		token := n.ID
		if seg.pass > 0 {
			token = n.ID + "#" + strconv.Itoa(seg.pass)
		}
		voiced := n
		voiced.ID = token

		startAt := at(math.Max(n.Start, seg.origin))
		s.voices.PlayNoteAt(voiced, vel, startAt)
		s.registry[k] = entry{note: n, token: token, pass: seg.pass, vel: vel, startAt: startAt, speed: speed}
	}
}
