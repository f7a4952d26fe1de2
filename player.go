package pianoroll

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	intaudio "github.com/cbegin/pianoroll-go/internal/audio"
	intauto "github.com/cbegin/pianoroll-go/internal/automation"
	intsched "github.com/cbegin/pianoroll-go/internal/scheduler"
	intsynth "github.com/cbegin/pianoroll-go/internal/synth"
	inttransport "github.com/cbegin/pianoroll-go/internal/transport"
)

type (
	Note           = intsynth.Note
	Settings       = intsynth.Settings
	SettingsPatch  = intsynth.SettingsPatch
	VoiceEvent     = intsynth.VoiceEvent
	Lane           = intauto.Lane
	LaneType       = intauto.LaneType
	Point          = intauto.Point
	TransportState = inttransport.State
)

var (
	ErrInvalidSampleRate = errors.New("sampleRate must be positive")
	ErrResumeFailed      = intaudio.ErrResumeFailed
	ErrUnknownInstrument = intsynth.ErrUnknownInstrument
	ErrInvalidLoop       = inttransport.ErrInvalidLoop
	ErrLaneNotFound      = intauto.ErrLaneNotFound
)

type PlayerOption func(*playerConfig)

type playerConfig struct {
	lookAhead    time.Duration
	tickInterval time.Duration
	instrument   string
	settings     *intsynth.Settings
	logger       *slog.Logger
	output       intaudio.Output
	offline      bool
	manual       bool
	bufferSize   time.Duration
	observer     intsynth.VoiceObserver
	sampleTap    func([]float32)
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{
		lookAhead:    intsched.DefaultLookAhead,
		tickInterval: intsched.DefaultTickInterval,
		instrument:   intsynth.DefaultInstrument,
		bufferSize:   50 * time.Millisecond,
	}
}

func WithLookAhead(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.lookAhead = d
	}
}

func WithTickInterval(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.tickInterval = d
	}
}

func WithInstrument(name string) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.instrument = name
	}
}

// WithSettings overrides the instrument preset.
func WithSettings(s Settings) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.settings = &s
	}
}

func WithLogger(l *slog.Logger) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.logger = l
	}
}

// WithOutput plays through out instead of the default ebiten device.
func WithOutput(out intaudio.Output) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.output = out
	}
}

// WithOffline runs without a device; audio time advances only through Render.
func WithOffline() PlayerOption {
	return func(cfg *playerConfig) {
		cfg.offline = true
	}
}

// WithManualTicks disables the background driver; the caller invokes Tick.
func WithManualTicks() PlayerOption {
	return func(cfg *playerConfig) {
		cfg.manual = true
	}
}

func WithBufferSize(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.bufferSize = d
	}
}

func WithVoiceObserver(fn func(VoiceEvent)) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.observer = fn
	}
}

// WithSampleTap installs a callback invoked with each generated stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sampleTap = tap
	}
}

// Player wires the audio context, voice engine, transport and scheduler
// into one playback unit.
type Player struct {
	mu        sync.Mutex
	audio     *intaudio.Engine
	voices    *intsynth.Engine
	transport *inttransport.Transport
	sched     *intsched.Scheduler
	lanes     *intauto.Set
	notes     intsched.Notes
	manual    bool
	log       *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	eventCh   chan VoiceEvent
	eventChMu sync.Mutex
	observer  intsynth.VoiceObserver
}

// tapSource forwards rendered buffers to the sample tap.
type tapSource struct {
	src intaudio.SampleSource
	tap func([]float32)
}

func (w *tapSource) Process(dst []float32) {
	w.src.Process(dst)
	w.tap(dst)
}

func NewPlayer(sampleRate int, opts ...PlayerOption) (*Player, error) {
	if sampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	settings := cfg.settings
	if settings == nil {
		s, err := intsynth.Preset(cfg.instrument)
		if err != nil {
			return nil, err
		}
		settings = &s
	}

	var audioOpts []intaudio.Option
	switch {
	case cfg.offline:
	case cfg.output != nil:
		audioOpts = append(audioOpts, intaudio.WithOutput(cfg.output))
	default:
		audioOpts = append(audioOpts, intaudio.WithOutput(intaudio.NewEbitenOutput(cfg.bufferSize)))
	}
	ae, err := intaudio.NewEngine(sampleRate, audioOpts...)
	if err != nil {
		return nil, err
	}

	p := &Player{
		audio:    ae,
		lanes:    intauto.NewSet(),
		manual:   cfg.manual,
		log:      logger,
		observer: cfg.observer,
	}
	p.voices = intsynth.NewEngine(ae,
		intsynth.WithSettings(*settings),
		intsynth.WithLogger(logger),
		intsynth.WithObserver(p.onVoiceEvent),
	)
	p.transport = inttransport.New(ae)
	p.sched = intsched.New(ae, p.transport, p.voices,
		intsched.WithLookAhead(cfg.lookAhead),
		intsched.WithTickInterval(cfg.tickInterval),
		intsched.WithLogger(logger),
	)
	p.sched.SetLanes(p.lanes)

	var src intaudio.SampleSource = p.voices
	if cfg.sampleTap != nil {
		src = &tapSource{src: p.voices, tap: cfg.sampleTap}
	}
	ae.Attach(src)
	return p, nil
}

// SetNotes replaces the note sequence.
func (p *Player) SetNotes(notes []Note) {
	ns := intsched.NewNotes(notes)
	p.mu.Lock()
	p.notes = ns
	p.mu.Unlock()
	p.sched.SetSequence(ns)
}

func (p *Player) Notes() []Note {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Note(nil), p.notes...)
}

// SetLanes replaces the automation lanes.
func (p *Player) SetLanes(lanes []*Lane) {
	p.lanes.Replace(lanes)
}

func (p *Player) Lanes() []*Lane { return p.lanes.Lanes() }

// ValueAt evaluates lane id at time t.
func (p *Player) ValueAt(laneID string, t float64) (float64, error) {
	return p.lanes.ValueAt(laneID, t)
}

// Play resumes the audio output and starts the transport from its current
// position. If the output cannot be resumed the transport stays stopped and
// the error wraps ErrResumeFailed.
func (p *Player) Play(ctx context.Context) error {
	return p.play(ctx, nil)
}

func (p *Player) PlayFrom(ctx context.Context, pos float64) error {
	return p.play(ctx, &pos)
}

func (p *Player) play(ctx context.Context, from *float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.audio.Resume(ctx); err != nil {
		p.log.Warn("audio resume failed", "err", err)
		return err
	}
	if p.transport.Playing() {
		if from == nil {
			return nil
		}
		p.sched.Stop()
	}
	if from != nil {
		p.transport.PlayFrom(*from)
	} else {
		p.transport.Play()
	}
	p.sched.Tick(p.audio.Now())
	if !p.manual {
		p.startDriverLocked()
	}
	return nil
}

func (p *Player) startDriverLocked() {
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	go func() {
		defer close(done)
		_ = p.sched.Run(ctx)
	}()
}

func (p *Player) stopDriverLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
}

// Stop halts playback, keeping the position. Pending starts are cancelled
// and every voice is cut.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopDriverLocked()
	p.transport.Stop()
	p.sched.Stop()
	p.audio.Suspend()
}

// Seek moves the playhead. While playing, sounding notes are cut and the
// window is rescheduled from the new position.
func (p *Player) Seek(pos float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	playing := p.transport.Playing()
	if playing {
		p.sched.Stop()
	}
	p.transport.Seek(pos)
	if playing {
		p.sched.Tick(p.audio.Now())
	}
}

// SetTempo returns the tempo actually applied after clamping. While playing,
// queued starts and stops are retimed right away.
func (p *Player) SetTempo(bpm float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	applied := p.transport.SetTempo(bpm)
	if p.transport.Playing() {
		p.sched.Tick(p.audio.Now())
	}
	return applied
}

func (p *Player) SetLoop(enabled bool, start, end float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.transport.SetLoop(enabled, start, end); err != nil {
		return err
	}
	if p.transport.Playing() {
		p.sched.Stop()
		p.sched.Tick(p.audio.Now())
	}
	return nil
}

func (p *Player) UpdateSettings(patch SettingsPatch) {
	p.voices.UpdateSettings(patch)
}

func (p *Player) SetInstrument(name string) error {
	return p.voices.SetInstrument(name)
}

func (p *Player) Settings() Settings { return p.voices.Settings() }

// Tick runs one scheduler pass at the current audio time. Only needed with
// WithManualTicks.
func (p *Player) Tick() {
	p.sched.Tick(p.audio.Now())
}

// Render pulls frames from an offline player and returns interleaved stereo.
func (p *Player) Render(frames int) []float32 {
	return p.audio.Render(frames)
}

func (p *Player) SampleRate() int { return p.audio.SampleRate() }

// Now is the audio clock in seconds.
func (p *Player) Now() float64 { return p.audio.Now() }

// Position is the playhead in seconds; safe to poll at any rate.
func (p *Player) Position() float64 { return p.transport.Position() }

func (p *Player) State() TransportState { return p.transport.State() }

func (p *Player) Playing() bool { return p.transport.Playing() }

// SoundingKeys lists keys with a live voice, ascending.
func (p *Player) SoundingKeys() []int { return p.voices.SoundingKeys() }

func (p *Player) ActiveVoiceCount() int { return p.voices.ActiveVoiceCount() }

// Scheduled lists the note ids the scheduler currently tracks.
func (p *Player) Scheduled() []string { return p.sched.Registry() }

// Watch returns a channel that receives voice lifecycle events. The channel
// is buffered (cap 64); events are dropped when it is full. Only the most
// recent Watch channel receives events.
func (p *Player) Watch() <-chan VoiceEvent {
	ch := make(chan VoiceEvent, 64)
	p.eventChMu.Lock()
	p.eventCh = ch
	p.eventChMu.Unlock()
	return ch
}

func (p *Player) onVoiceEvent(ev VoiceEvent) {
	if p.observer != nil {
		p.observer(ev)
	}
	p.eventChMu.Lock()
	ch := p.eventCh
	p.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close stops playback and releases the audio output.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopDriverLocked()
	p.transport.Stop()
	p.sched.Stop()
	return p.audio.Close()
}

// Instruments lists the available presets.
func Instruments() []string { return intsynth.Instruments() }

// NewLane returns an empty lane with the default range for typ.
func NewLane(id string, typ LaneType) *Lane { return intauto.NewLane(id, typ) }

const (
	LaneVelocity = intauto.LaneVelocity
	LaneTempo    = intauto.LaneTempo
	LaneVolume   = intauto.LaneVolume
	LanePan      = intauto.LanePan
	LaneFilter   = intauto.LaneFilter
	LaneCustom   = intauto.LaneCustom
)
