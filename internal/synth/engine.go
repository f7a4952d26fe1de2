// Package synth is the voice engine: it turns note starts and stops into
// per-note signal graphs and mixes them into the output bus.
package synth

import (
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/cbegin/pianoroll-go/internal/effects"
)

var ErrUnknownInstrument = errors.New("unknown instrument")

// Clock is the sample clock the engine renders against. Now is the time of
// the next frame Process will write.
type Clock interface {
	Now() float64
	SampleRate() int
}

type VoiceEventKind int

const (
	VoiceStarted VoiceEventKind = iota
	VoiceReleased
	VoiceEnded
)

func (k VoiceEventKind) String() string {
	switch k {
	case VoiceStarted:
		return "started"
	case VoiceReleased:
		return "released"
	default:
		return "ended"
	}
}

type VoiceEvent struct {
	Kind   VoiceEventKind
	Key    int
	NoteID string
	Time   float64
}

// VoiceObserver is called outside the engine lock. It may run on the audio
// thread, so it must not block.
type VoiceObserver func(VoiceEvent)

// VoiceInfo is a snapshot of a live voice.
type VoiceInfo struct {
	Key       int
	NoteID    string
	Velocity  float64
	Phase     Phase
	Level     float64
	StartedAt float64
}

type eventKind int

const (
	evStart eventKind = iota
	evStop
)

type queued struct {
	kind     eventKind
	when     float64
	note     Note
	velocity float64
	noteID   string // evStop: "" releases whatever holds the key
	key      int
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithObserver(fn VoiceObserver) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

func WithSettings(s Settings) Option {
	return func(e *Engine) {
		e.settings = s.clamped()
	}
}

// WithLimiter toggles the output limiter (on by default).
func WithLimiter(enabled bool) Option {
	return func(e *Engine) {
		e.limit = enabled
	}
}

type Engine struct {
	mu         sync.Mutex
	clock      Clock
	sampleRate float64
	settings   Settings

	voices map[int]*Voice
	active []*Voice
	queue  []queued

	bus   *effects.Chain
	limit bool

	observer VoiceObserver
	notes    []VoiceEvent
	log      *slog.Logger
}

const (
	busReverb = iota
	busLimiter
)

func NewEngine(clock Clock, opts ...Option) *Engine {
	e := &Engine{
		clock:      clock,
		sampleRate: float64(clock.SampleRate()),
		settings:   DefaultSettings(),
		voices:     make(map[int]*Voice),
		bus:        effects.NewChain(),
		limit:      true,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.limit {
		e.bus.Set(busLimiter, effects.NewLimiter(clock.SampleRate(), -1, 20, 1, 80))
	}
	e.configureBus()
	return e
}

// PlayNote starts a note now.
func (e *Engine) PlayNote(n Note, velocity float64) {
	e.PlayNoteAt(n, velocity, e.clock.Now())
}

// PlayNoteAt starts a note at audio time when. The start fires on the exact
// sample; any voice still holding the key at that moment is cut.
func (e *Engine) PlayNoteAt(n Note, velocity, when float64) {
	if !n.Valid() {
		e.log.Debug("skip invalid note", "id", n.ID, "key", n.Key, "duration", n.Duration)
		return
	}
	velocity = clamp(velocity, 0, 1)
	e.mu.Lock()
	now := e.clock.Now()
	if when <= now {
		e.startLocked(n, velocity, now)
	} else {
		e.enqueue(queued{kind: evStart, when: when, note: n, velocity: velocity, key: n.Key})
	}
	e.mu.Unlock()
	e.flushNotifications()
}

// StopNote releases the voice on key. Absent or releasing voices are ignored.
func (e *Engine) StopNote(key int) {
	e.StopNoteAt(key, e.clock.Now())
}

func (e *Engine) StopNoteAt(key int, when float64) {
	e.stop(queued{kind: evStop, when: when, key: key})
}

// StopNoteID releases the voice started for note id, if that voice still
// holds its key when the stop fires.
func (e *Engine) StopNoteID(id string, when float64) {
	e.stop(queued{kind: evStop, when: when, noteID: id, key: -1})
}

func (e *Engine) stop(ev queued) {
	e.mu.Lock()
	now := e.clock.Now()
	if ev.when <= now {
		e.releaseLocked(ev, now)
	} else {
		e.enqueue(ev)
	}
	e.mu.Unlock()
	e.flushNotifications()
}

// ForceStop cuts the voice on key without a release.
func (e *Engine) ForceStop(key int) {
	e.mu.Lock()
	if v, ok := e.voices[key]; ok {
		e.removeLocked(v, e.clock.Now())
	}
	e.mu.Unlock()
	e.flushNotifications()
}

// StopAll cuts every voice.
func (e *Engine) StopAll() {
	e.mu.Lock()
	now := e.clock.Now()
	for _, v := range append([]*Voice(nil), e.active...) {
		e.removeLocked(v, now)
	}
	e.mu.Unlock()
	e.flushNotifications()
}

// CancelPending drops every queued start and stop that has not fired yet.
func (e *Engine) CancelPending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.queue)
	e.queue = e.queue[:0]
	return n
}

// CancelNoteID drops the queued start and stop of note id and reports how
// many events were removed. Events that already fired are unaffected.
func (e *Engine) CancelNoteID(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.queue[:0]
	n := 0
	for _, ev := range e.queue {
		if (ev.kind == evStart && ev.note.ID == id) || (ev.kind == evStop && ev.noteID == id) {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	e.queue = kept
	return n
}

func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// UpdateSettings merges patch into the active settings and pushes the live
// parameters into every sounding voice. Envelopes in flight are unchanged.
func (e *Engine) UpdateSettings(patch SettingsPatch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyLocked(patch.Apply(e.settings))
}

// SetInstrument replaces the settings with a preset, retuning live voices
// the same way UpdateSettings does.
func (e *Engine) SetInstrument(name string) error {
	s, err := Preset(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyLocked(s.clamped())
	e.log.Debug("instrument changed", "name", name, "live_voices", len(e.active))
	return nil
}

// SetSettings replaces the settings wholesale.
func (e *Engine) SetSettings(s Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyLocked(s.clamped())
}

func (e *Engine) applyLocked(s Settings) {
	e.settings = s
	for _, v := range e.active {
		v.apply(&e.settings)
	}
	e.configureBus()
}

func (e *Engine) configureBus() {
	rv := e.settings.Reverb
	if !rv.Enabled || rv.Mix <= 0 {
		e.bus.Set(busReverb, nil)
		return
	}
	// keep the tail when only decay or mix moved
	if cur, ok := e.busReverb(); ok && cur.Room() == float32(rv.Room) {
		cur.SetDecay(float32(rv.Decay))
		cur.SetMix(float32(rv.Mix))
		return
	}
	e.bus.Set(busReverb, effects.NewReverb(int(e.sampleRate), float32(rv.Room), float32(rv.Decay), float32(rv.Mix)))
}

func (e *Engine) busReverb() (*effects.Reverb, bool) {
	r, ok := e.bus.At(busReverb).(*effects.Reverb)
	return r, ok && r != nil
}

func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings.Clone()
}

func (e *Engine) MasterGain() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings.MasterGain
}

// SoundingKeys returns the keys that currently own a voice, ascending.
func (e *Engine) SoundingKeys() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]int, 0, len(e.voices))
	for k := range e.voices {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func (e *Engine) ActiveVoiceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

func (e *Engine) Voice(key int) (VoiceInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.voices[key]
	if !ok {
		return VoiceInfo{}, false
	}
	now := e.clock.Now()
	return VoiceInfo{
		Key:       v.key,
		NoteID:    v.noteID,
		Velocity:  v.velocity,
		Phase:     v.Phase(now),
		Level:     v.Level(now),
		StartedAt: v.startAt,
	}, true
}

// Process renders len(dst)/2 interleaved stereo frames starting at the
// clock's current time, firing queued starts and stops on their sample.
func (e *Engine) Process(dst []float32) {
	e.mu.Lock()
	t0 := e.clock.Now()
	frames := len(dst) / 2
	for i := 0; i < frames; i++ {
		t := t0 + float64(i)/e.sampleRate
		e.fireDue(t)
		var l, r float64
		for j := 0; j < len(e.active); j++ {
			v := e.active[j]
			if v.finished(t) {
				e.removeLocked(v, t)
				j--
				continue
			}
			vl, vr := v.render(t, e.sampleRate)
			l += vl
			r += vr
		}
		dst[2*i] = float32(l)
		dst[2*i+1] = float32(r)
	}
	for _, v := range e.active {
		v.prune(t0)
	}
	e.bus.ProcessBuffer(dst)
	e.mu.Unlock()
	e.flushNotifications()
}

func (e *Engine) fireDue(t float64) {
	for len(e.queue) > 0 && e.queue[0].when <= t {
		ev := e.queue[0]
		e.queue = e.queue[1:]
		switch ev.kind {
		case evStart:
			e.startLocked(ev.note, ev.velocity, ev.when)
		case evStop:
			e.releaseLocked(ev, ev.when)
		}
	}
}

func (e *Engine) enqueue(ev queued) {
	i := sort.Search(len(e.queue), func(i int) bool { return e.queue[i].when > ev.when })
	e.queue = append(e.queue, queued{})
	copy(e.queue[i+1:], e.queue[i:])
	e.queue[i] = ev
}

func (e *Engine) startLocked(n Note, velocity, at float64) {
	if old, ok := e.voices[n.Key]; ok {
		e.log.Debug("cut voice", "key", n.Key, "old", old.noteID, "new", n.ID)
		e.removeLocked(old, at)
	}
	v := newVoice(n, velocity, at, &e.settings)
	e.voices[n.Key] = v
	e.active = append(e.active, v)
	e.notify(VoiceStarted, v, at)
}

func (e *Engine) releaseLocked(ev queued, at float64) {
	v := e.lookup(ev)
	if v == nil {
		return
	}
	if v.release(at) {
		e.notify(VoiceReleased, v, at)
	}
}

func (e *Engine) lookup(ev queued) *Voice {
	if ev.noteID == "" {
		return e.voices[ev.key]
	}
	for _, v := range e.active {
		if v.noteID == ev.noteID {
			return v
		}
	}
	return nil
}

// removeLocked is the single teardown path for released and cut voices.
func (e *Engine) removeLocked(v *Voice, at float64) {
	v.teardown(at)
	if e.voices[v.key] == v {
		delete(e.voices, v.key)
	}
	for i, a := range e.active {
		if a == v {
			e.active = append(e.active[:i], e.active[i+1:]...)
			break
		}
	}
	e.notify(VoiceEnded, v, at)
}

func (e *Engine) notify(kind VoiceEventKind, v *Voice, at float64) {
	if e.observer == nil {
		return
	}
	e.notes = append(e.notes, VoiceEvent{Kind: kind, Key: v.key, NoteID: v.noteID, Time: at})
}

func (e *Engine) flushNotifications() {
	if e.observer == nil {
		return
	}
	e.mu.Lock()
	pending := e.notes
	e.notes = nil
	e.mu.Unlock()
	for _, ev := range pending {
		e.observer(ev)
	}
}
