package scheduler

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/cbegin/pianoroll-go/internal/audio"
	"github.com/cbegin/pianoroll-go/internal/automation"
	"github.com/cbegin/pianoroll-go/internal/synth"
	"github.com/cbegin/pianoroll-go/internal/transport"
)

type manualClock struct{ t float64 }

func (c *manualClock) Now() float64 { return c.t }

type start struct {
	id   string
	key  int
	vel  float64
	when float64
}

type stop struct {
	id   string
	when float64
}

// recordingVoices stands in for the voice engine. Cancelled events that
// had not fired yet are removed, so starts and stops hold what would sound.
type recordingVoices struct {
	clock     *manualClock
	starts    []start
	stops     []stop
	patches   []synth.SettingsPatch
	cancelled int
	stopAll   int
}

func (r *recordingVoices) PlayNoteAt(n synth.Note, vel, when float64) {
	r.starts = append(r.starts, start{id: n.ID, key: n.Key, vel: vel, when: when})
}
func (r *recordingVoices) StopNoteID(id string, when float64) {
	r.stops = append(r.stops, stop{id: id, when: when})
}
func (r *recordingVoices) CancelNoteID(id string) int {
	n := 0
	starts := r.starts[:0]
	for _, s := range r.starts {
		if s.id == id && s.when > r.clock.t {
			n++
			continue
		}
		starts = append(starts, s)
	}
	r.starts = starts
	stops := r.stops[:0]
	for _, s := range r.stops {
		if s.id == id && s.when > r.clock.t {
			n++
			continue
		}
		stops = append(stops, s)
	}
	r.stops = stops
	return n
}
func (r *recordingVoices) CancelPending() int { r.cancelled++; return 0 }
func (r *recordingVoices) StopAll()           { r.stopAll++ }
func (r *recordingVoices) UpdateSettings(p synth.SettingsPatch) {
	r.patches = append(r.patches, p)
}

func (r *recordingVoices) startsFor(id string) []start {
	var out []start
	for _, s := range r.starts {
		if s.id == id {
			out = append(out, s)
		}
	}
	return out
}

func (r *recordingVoices) stopsAt(id string, when float64) int {
	n := 0
	for _, s := range r.stops {
		if s.id == id && math.Abs(s.when-when) < 1e-9 {
			n++
		}
	}
	return n
}

// firstStop is the earliest stop recorded for id.
func (r *recordingVoices) firstStop(id string) (stop, bool) {
	for _, s := range r.stops {
		if s.id == id {
			return s, true
		}
	}
	return stop{}, false
}

func newFixture(notes []synth.Note, opts ...Option) (*manualClock, *transport.Transport, *recordingVoices, *Scheduler) {
	clk := &manualClock{}
	tr := transport.New(clk)
	rv := &recordingVoices{clock: clk}
	s := New(clk, tr, rv, opts...)
	s.SetSequence(NewNotes(notes))
	return clk, tr, rv, s
}

// runTicks ticks every 100ms from 0 through last seconds inclusive.
func runTicks(clk *manualClock, s *Scheduler, last float64) {
	for i := 0; float64(i)/10 <= last+1e-9; i++ {
		clk.t = float64(i) / 10
		s.Tick(clk.t)
	}
}

func TestEachNoteStartsAndStopsExactlyOnce(t *testing.T) {
	notes := []synth.Note{
		{ID: "a", Key: 60, Start: 0, Duration: 1, Velocity: 127},
		{ID: "b", Key: 62, Start: 0.55, Duration: 1, Velocity: 64},
		{ID: "c", Key: 64, Start: 2.3, Duration: 0.5, Velocity: 100},
	}
	clk, tr, rv, s := newFixture(notes)
	tr.PlayFrom(0)
	runTicks(clk, s, 4)

	for _, n := range notes {
		got := rv.startsFor(n.ID)
		if len(got) != 1 {
			t.Fatalf("note %s started %d times, want 1", n.ID, len(got))
		}
		if math.Abs(got[0].when-n.Start) > 1e-9 {
			t.Fatalf("note %s starts at %v, want %v", n.ID, got[0].when, n.Start)
		}
		if want := float64(n.Velocity) / 127; got[0].vel != want {
			t.Fatalf("note %s velocity = %v, want %v", n.ID, got[0].vel, want)
		}
		st, ok := rv.firstStop(n.ID)
		if !ok || math.Abs(st.when-n.End()) > 1e-9 {
			t.Fatalf("note %s stop = %+v, want scheduled at %v", n.ID, st, n.End())
		}
		for _, st := range rv.stops {
			if st.id == n.ID && st.when < n.End()-1e-9 {
				t.Fatalf("note %s stopped early at %v", n.ID, st.when)
			}
		}
	}
	if reg := s.Registry(); len(reg) != 0 {
		t.Fatalf("registry should be empty after all notes ended, got %v", reg)
	}
}

func TestNotesOutsideLookAheadWait(t *testing.T) {
	notes := []synth.Note{{ID: "late", Key: 60, Start: 1.5, Duration: 1, Velocity: 100}}
	clk, tr, rv, s := newFixture(notes)
	tr.PlayFrom(0)
	s.Tick(0)
	if len(rv.starts) != 0 {
		t.Fatalf("note beyond the 1s window scheduled early")
	}
	clk.t = 0.6
	s.Tick(clk.t)
	if len(rv.starts) != 1 || math.Abs(rv.starts[0].when-1.5) > 1e-9 {
		t.Fatalf("starts = %+v, want one at 1.5", rv.starts)
	}
	if got := s.Registry(); !reflect.DeepEqual(got, []string{"late"}) {
		t.Fatalf("registry = %v, want [late]", got)
	}
}

func TestTickDoesNothingWhileStopped(t *testing.T) {
	notes := []synth.Note{{ID: "a", Key: 60, Start: 0, Duration: 1, Velocity: 100}}
	_, _, rv, s := newFixture(notes)
	s.Tick(0)
	if len(rv.starts) != 0 {
		t.Fatalf("stopped transport should not schedule")
	}
}

func TestInvalidNotesAreSkipped(t *testing.T) {
	notes := []synth.Note{
		{ID: "bad", Key: 200, Start: 0, Duration: 1},
		{ID: "zero", Key: 60, Start: 0.1, Duration: 0},
		{ID: "ok", Key: 60, Start: 0.2, Duration: 0.5, Velocity: 90},
	}
	_, tr, rv, s := newFixture(notes)
	tr.PlayFrom(0)
	s.Tick(0)
	if len(rv.starts) != 1 || rv.starts[0].id != "ok" {
		t.Fatalf("starts = %+v, want only ok", rv.starts)
	}
}

func TestVelocityLaneOverridesNoteVelocity(t *testing.T) {
	notes := []synth.Note{
		{ID: "a", Key: 60, Start: 0, Duration: 0.2, Velocity: 10},
		{ID: "b", Key: 62, Start: 0.5, Duration: 0.2, Velocity: 10},
	}
	_, tr, rv, s := newFixture(notes)
	vel := automation.NewLane("vel", automation.LaneVelocity)
	vel.AddPoint(0, 0)
	vel.AddPoint(1, 1)
	s.SetLanes(automation.NewSet(vel))
	tr.PlayFrom(0)
	s.Tick(0)
	if len(rv.starts) != 2 {
		t.Fatalf("starts = %d, want 2", len(rv.starts))
	}
	if rv.starts[0].vel != 0 {
		t.Fatalf("velocity at t=0 = %v, want 0", rv.starts[0].vel)
	}
	if math.Abs(rv.starts[1].vel-63.5/127) > 1e-9 {
		t.Fatalf("velocity at t=0.5 = %v, want 0.5", rv.starts[1].vel)
	}
}

func TestTempoLaneDrivesTransportSpeed(t *testing.T) {
	notes := []synth.Note{{ID: "a", Key: 60, Start: 0.5, Duration: 0.5, Velocity: 100}}
	clk, tr, rv, s := newFixture(notes)
	tempo := automation.NewLane("tempo", automation.LaneTempo)
	tempo.AddPoint(0, 1) // 240 bpm
	s.SetLanes(automation.NewSet(tempo))
	tr.PlayFrom(0)
	s.Tick(0)
	if tr.Tempo() != 240 || tr.Speed() != 2 {
		t.Fatalf("tempo=%v speed=%v, want 240 and 2", tr.Tempo(), tr.Speed())
	}
	if len(rv.starts) != 1 || math.Abs(rv.starts[0].when-0.25) > 1e-9 {
		t.Fatalf("starts = %+v, want one at audio time 0.25", rv.starts)
	}
	runTicks(clk, s, 1)
	if len(rv.stops) != 1 || rv.stopsAt("a", 0.5) != 1 {
		t.Fatalf("want one stop at audio time 0.5, stops=%+v", rv.stops)
	}
}

// tickTrace records the transport after every tick so tests can work out
// when a timeline position was crossed.
type tickTrace struct {
	times, positions, speeds []float64
}

func traceTicks(clk *manualClock, tr *transport.Transport, s *Scheduler, last float64) tickTrace {
	var tt tickTrace
	for i := 0; float64(i)/10 <= last+1e-9; i++ {
		clk.t = float64(i) / 10
		s.Tick(clk.t)
		tt.times = append(tt.times, clk.t)
		tt.positions = append(tt.positions, tr.Position())
		tt.speeds = append(tt.speeds, tr.Speed())
	}
	return tt
}

// crossing is the audio time at which the transport reached position p,
// given that the speed only changes on ticks.
func (tt tickTrace) crossing(p float64) (float64, bool) {
	for i := range tt.times {
		if i+1 < len(tt.times) && tt.positions[i+1] < p {
			continue
		}
		if tt.positions[i] >= p {
			return tt.times[i], true
		}
		return tt.times[i] + (p-tt.positions[i])/tt.speeds[i], true
	}
	return 0, false
}

func TestTempoRampDownKeepsNotesToTheirTimelineLength(t *testing.T) {
	notes := []synth.Note{
		{ID: "held", Key: 60, Start: 0, Duration: 1.2, Velocity: 100},
		{ID: "queued", Key: 64, Start: 0.6, Duration: 0.8, Velocity: 100},
	}
	clk, tr, rv, s := newFixture(notes)
	tempo := automation.NewLane("tempo", automation.LaneTempo)
	tempo.AddPoint(0, 1)     // 240 bpm
	tempo.AddPoint(1.4, 0.1) // 60 bpm
	s.SetLanes(automation.NewSet(tempo))
	tr.PlayFrom(0)
	trace := traceTicks(clk, tr, s, 4)

	if got := trace.positions[len(trace.positions)-1]; got < 1.4 {
		t.Fatalf("transport only reached %v", got)
	}
	for _, n := range notes {
		starts := rv.startsFor(n.ID)
		if len(starts) != 1 {
			t.Fatalf("note %s has %d starts, want 1: %+v", n.ID, len(starts), rv.starts)
		}
		wantStart, _ := trace.crossing(n.Start)
		if math.Abs(starts[0].when-wantStart) > 1e-9 {
			t.Fatalf("note %s starts at %v, want %v", n.ID, starts[0].when, wantStart)
		}
		var stops []stop
		for _, st := range rv.stops {
			if st.id == n.ID {
				stops = append(stops, st)
			}
		}
		if len(stops) != 1 {
			t.Fatalf("note %s has %d stops, want 1: %+v", n.ID, len(stops), stops)
		}
		wantStop, _ := trace.crossing(n.End())
		if math.Abs(stops[0].when-wantStop) > 1e-9 {
			t.Fatalf("note %s released at %v, want %v when the playhead reaches %v",
				n.ID, stops[0].when, wantStop, n.End())
		}
	}
}

func TestSettingsLanesFeedUpdateSettings(t *testing.T) {
	_, tr, rv, s := newFixture(nil)
	vol := automation.NewLane("vol", automation.LaneVolume)
	vol.AddPoint(0, 0.5)
	pan := automation.NewLane("pan", automation.LanePan)
	pan.AddPoint(0, 0)
	empty := automation.NewLane("filter", automation.LaneFilter)
	s.SetLanes(automation.NewSet(vol, pan, empty))
	tr.PlayFrom(0)
	s.Tick(0)
	s.Tick(0)
	if len(rv.patches) != 1 {
		t.Fatalf("patches = %d, want 1 (unchanged values are not re-sent)", len(rv.patches))
	}
	p := rv.patches[0]
	if p.MasterGain == nil || *p.MasterGain != 0.5 {
		t.Fatalf("master gain patch = %v, want 0.5", p.MasterGain)
	}
	if p.Pan == nil || *p.Pan != -1 {
		t.Fatalf("pan patch = %v, want -1", p.Pan)
	}
	if p.FilterFrequency != nil {
		t.Fatalf("lanes without points should not patch settings")
	}
}

func TestLoopRetriggersEveryPass(t *testing.T) {
	notes := []synth.Note{
		{ID: "a", Key: 60, Start: 0.5, Duration: 0.5, Velocity: 100},
		{ID: "tail", Key: 64, Start: 1.5, Duration: 1, Velocity: 100},
		{ID: "outside", Key: 67, Start: 3, Duration: 0.5, Velocity: 100},
	}
	clk, tr, rv, s := newFixture(notes)
	if err := tr.SetLoop(true, 0, 2); err != nil {
		t.Fatalf("set loop: %v", err)
	}
	tr.PlayFrom(0)
	runTicks(clk, s, 5)

	got := rv.startsFor("a")
	got = append(got, rv.startsFor("a#1")...)
	got = append(got, rv.startsFor("a#2")...)
	if len(got) != 3 {
		t.Fatalf("note a started %d times over 2.5 passes, want 3: %+v", len(got), rv.starts)
	}
	for i, want := range []float64{0.5, 2.5, 4.5} {
		if math.Abs(got[i].when-want) > 1e-9 {
			t.Fatalf("pass %d start = %v, want %v", i, got[i].when, want)
		}
	}
	if len(rv.startsFor("outside")) != 0 {
		t.Fatalf("notes after the loop end must not play while looping")
	}
	if st, ok := rv.firstStop("tail"); !ok || math.Abs(st.when-2) > 1e-9 {
		t.Fatalf("tail stop should be clipped to the loop end, got %+v", st)
	}
	if s.Pass() != 2 {
		t.Fatalf("pass = %d, want 2", s.Pass())
	}
}

func TestLoopStartingBeforeRegionSkipsEarlyNotesOnRepeat(t *testing.T) {
	notes := []synth.Note{
		{ID: "intro", Key: 60, Start: 0.2, Duration: 0.3, Velocity: 100},
		{ID: "body", Key: 62, Start: 1.2, Duration: 0.3, Velocity: 100},
	}
	clk, tr, rv, s := newFixture(notes)
	_ = tr.SetLoop(true, 1, 2)
	tr.PlayFrom(0)
	runTicks(clk, s, 3.5)
	if n := len(rv.startsFor("intro")); n != 1 {
		t.Fatalf("intro started %d times, want 1", n)
	}
	if n := len(rv.startsFor("body")) + len(rv.startsFor("body#1")) + len(rv.startsFor("body#2")); n != 3 {
		t.Fatalf("body started %d times, want 3", n)
	}
}

func TestWrapReleasesPreviousPassVoices(t *testing.T) {
	notes := []synth.Note{{ID: "long", Key: 60, Start: 0, Duration: 5, Velocity: 100}}
	clk, tr, rv, s := newFixture(notes)
	_ = tr.SetLoop(true, 0, 1)
	tr.PlayFrom(0)
	s.Tick(0)
	clk.t = 1.05
	s.Tick(clk.t)
	found := false
	for _, st := range rv.stops {
		if st.id == "long" && st.when == 1.05 {
			found = true
		}
	}
	if !found {
		t.Fatalf("wrap should release the previous pass voice, stops=%+v", rv.stops)
	}
	for _, id := range s.Registry() {
		if id == "long" {
			t.Fatalf("previous pass entry still registered: %v", s.Registry())
		}
	}
}

func TestStopCancelsAndClears(t *testing.T) {
	notes := []synth.Note{{ID: "a", Key: 60, Start: 0.5, Duration: 1, Velocity: 100}}
	_, tr, rv, s := newFixture(notes)
	tr.PlayFrom(0)
	s.Tick(0)
	s.Stop()
	if rv.cancelled != 1 || rv.stopAll != 1 {
		t.Fatalf("Stop should cancel pending and stop all, got %d/%d", rv.cancelled, rv.stopAll)
	}
	if len(s.Registry()) != 0 {
		t.Fatalf("registry not cleared")
	}
}

func TestDriveTicksUntilCancelled(t *testing.T) {
	notes := []synth.Note{{ID: "a", Key: 60, Start: 0, Duration: 1, Velocity: 100}}
	_, tr, rv, s := newFixture(notes)
	tr.PlayFrom(0)
	ticks := make(chan time.Time)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Drive(ctx, ticks) }()
	ticks <- time.Now()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Drive returned %v, want context.Canceled", err)
	}
	if len(rv.startsFor("a")) != 1 {
		t.Fatalf("expected one start, got %+v", rv.starts)
	}
}

func TestNotesIntersecting(t *testing.T) {
	ns := NewNotes([]synth.Note{
		{ID: "c", Key: 60, Start: 3, Duration: 1},
		{ID: "a", Key: 60, Start: 0, Duration: 1},
		{ID: "b", Key: 62, Start: 0.5, Duration: 2},
	})
	cases := []struct {
		from, to float64
		want     []string
	}{
		{0, 1, []string{"a", "b"}},
		{1, 2, []string{"b"}},
		{2.5, 3, nil},
		{2.5, 3.01, []string{"c"}},
	}
	for _, tc := range cases {
		var got []string
		for _, n := range ns.Intersecting(tc.from, tc.to) {
			got = append(got, n.ID)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Intersecting(%v,%v) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
	if d := ns.TotalDuration(); d != 4 {
		t.Fatalf("total duration = %v, want 4", d)
	}
}

// End to end against the real voice engine on the offline audio clock.
func TestEndToEndSingleNote(t *testing.T) {
	ae, err := audio.NewEngine(8000)
	if err != nil {
		t.Fatalf("audio engine: %v", err)
	}
	sine, _ := synth.Preset("sine")
	voices := synth.NewEngine(ae, synth.WithSettings(sine))
	ae.Attach(voices)
	tr := transport.New(ae)
	s := New(ae, tr, voices)
	s.SetSequence(NewNotes([]synth.Note{{ID: "n", Key: 60, Start: 0, Duration: 1, Velocity: 100}}))
	tr.PlayFrom(0)

	step := func(until float64) {
		for ae.Now() < until {
			s.Tick(ae.Now())
			ae.Render(800)
		}
	}
	step(0.5)
	v, ok := voices.Voice(60)
	if !ok {
		t.Fatalf("no voice for key 60 at 0.5")
	}
	if v.Phase != synth.PhaseDecay && v.Phase != synth.PhaseSustain {
		t.Fatalf("phase at 0.5 = %s, want decay or sustain", v.Phase)
	}

	step(1 + sine.Envelope.Release + 0.05)
	s.Tick(ae.Now())
	if voices.ActiveVoiceCount() != 0 {
		t.Fatalf("voice still alive after release, keys=%v", voices.SoundingKeys())
	}
	if reg := s.Registry(); len(reg) != 0 {
		t.Fatalf("registry = %v, want empty", reg)
	}
}

func TestTempoDropWhileNoteSoundsDelaysRelease(t *testing.T) {
	ae, err := audio.NewEngine(8000)
	if err != nil {
		t.Fatalf("audio engine: %v", err)
	}
	var released []synth.VoiceEvent
	sine, _ := synth.Preset("sine")
	voices := synth.NewEngine(ae, synth.WithSettings(sine), synth.WithObserver(func(ev synth.VoiceEvent) {
		if ev.Kind == synth.VoiceReleased {
			released = append(released, ev)
		}
	}))
	ae.Attach(voices)
	tr := transport.New(ae)
	s := New(ae, tr, voices)
	s.SetSequence(NewNotes([]synth.Note{{ID: "n", Key: 60, Start: 0, Duration: 2, Velocity: 100}}))
	tr.PlayFrom(0)

	step := func(until float64) {
		for ae.Now() < until-1e-9 {
			s.Tick(ae.Now())
			ae.Render(800)
		}
	}
	step(0.5)
	tr.SetTempo(60)
	s.Tick(ae.Now())

	// position 1.9 is reached at audio 0.5 + 1.4/0.5
	step(3.3)
	v, ok := voices.Voice(60)
	if !ok {
		t.Fatalf("voice gone at position %v", tr.Position())
	}
	if v.Phase == synth.PhaseRelease || len(released) != 0 {
		t.Fatalf("released at position %v before the note end, events=%+v", tr.Position(), released)
	}

	step(3.6)
	if len(released) != 1 {
		t.Fatalf("released %d times, want 1", len(released))
	}
	if got := released[0].Time; math.Abs(got-3.5) > 1e-9 {
		t.Fatalf("released at audio %v, want 3.5", got)
	}
	if v, ok := voices.Voice(60); !ok || v.Phase != synth.PhaseRelease {
		t.Fatalf("voice at 3.6 = %+v (ok=%v), want a release tail", v, ok)
	}
}

func TestStopPreventsPendingStartsFromSounding(t *testing.T) {
	ae, _ := audio.NewEngine(8000)
	voices := synth.NewEngine(ae)
	ae.Attach(voices)
	tr := transport.New(ae)
	s := New(ae, tr, voices)
	s.SetSequence(NewNotes([]synth.Note{
		{ID: "a", Key: 60, Start: 0, Duration: 2, Velocity: 100},
		{ID: "b", Key: 64, Start: 0.6, Duration: 1, Velocity: 100},
	}))
	tr.PlayFrom(0)
	s.Tick(ae.Now())
	ae.RenderUntil(0.3, 64)
	if voices.ActiveVoiceCount() != 1 {
		t.Fatalf("active = %d, want 1", voices.ActiveVoiceCount())
	}

	tr.Stop()
	s.Stop()
	ae.RenderUntil(1.5, 64)
	if voices.ActiveVoiceCount() != 0 || voices.PendingCount() != 0 {
		t.Fatalf("after stop active=%d pending=%d, want 0/0", voices.ActiveVoiceCount(), voices.PendingCount())
	}
}
