package main

import (
	"bytes"
	"math"
	"testing"

	"github.com/cbegin/pianoroll-go"
)

func TestMIDIRoundTrip(t *testing.T) {
	in := []pianoroll.Note{
		{ID: "a", Key: 60, Start: 0, Duration: 0.5, Velocity: 100},
		{ID: "b", Key: 64, Start: 0.5, Duration: 0.25, Velocity: 80},
		{ID: "c", Key: 60, Start: 0.5, Duration: 1, Velocity: 127},
		{ID: "bad", Key: 200, Start: 0, Duration: 1, Velocity: 100},
	}
	var buf bytes.Buffer
	if err := writeMIDI(&buf, in, 90); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, bpm, err := readMIDI(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if math.Abs(bpm-90) > 1e-6 {
		t.Fatalf("tempo = %v, want 90", bpm)
	}
	want := []pianoroll.Note{
		{ID: "n1", Key: 60, Start: 0, Duration: 0.5, Velocity: 100},
		{ID: "n2", Key: 60, Start: 0.5, Duration: 1, Velocity: 127},
		{ID: "n3", Key: 64, Start: 0.5, Duration: 0.25, Velocity: 80},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d notes, want %d: %+v", len(got), len(want), got)
	}
	const tick = 60.0 / 90 / defaultResolution
	for i := range want {
		g, w := got[i], want[i]
		if g.ID != w.ID || g.Key != w.Key || g.Velocity != w.Velocity {
			t.Fatalf("note %d = %+v, want %+v", i, g, w)
		}
		if math.Abs(g.Start-w.Start) > tick || math.Abs(g.Duration-w.Duration) > tick {
			t.Fatalf("note %d timing = %.4f+%.4f, want %.4f+%.4f", i, g.Start, g.Duration, w.Start, w.Duration)
		}
	}
}

func TestTempoMapSeconds(t *testing.T) {
	m := tempoMap{resolution: 480, changes: []tempoChange{{tick: 0, bpm: 120}, {tick: 960, bpm: 60}}}
	tests := []struct {
		tick int64
		want float64
	}{
		{0, 0},
		{480, 0.5},
		{960, 1},
		{1440, 2},
	}
	for _, tt := range tests {
		if got := m.seconds(tt.tick); math.Abs(got-tt.want) > 1e-9 {
			t.Fatalf("seconds(%d) = %v, want %v", tt.tick, got, tt.want)
		}
	}
	if got := (tempoMap{resolution: 480}).seconds(960); got != 1 {
		t.Fatalf("default tempo seconds(960) = %v, want 1", got)
	}
}

func TestReadMIDIRejectsGarbage(t *testing.T) {
	if _, _, err := readMIDI(bytes.NewReader([]byte("not a midi file"))); err == nil {
		t.Fatalf("expected parse error")
	}
}
