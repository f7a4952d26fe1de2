package main

import (
	"fmt"
	"io"
	"math"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/pianoroll-go"
)

const (
	defaultResolution = 480
	defaultFileTempo  = 120.0
)

// tempoChange marks the tempo in effect from an absolute tick onward.
type tempoChange struct {
	tick int64
	bpm  float64
}

// tempoMap converts absolute ticks to seconds across tempo changes.
type tempoMap struct {
	resolution float64
	changes    []tempoChange
}

func (m tempoMap) seconds(tick int64) float64 {
	var sec float64
	last := tempoChange{bpm: defaultFileTempo}
	for _, c := range m.changes {
		if c.tick >= tick {
			break
		}
		sec += float64(c.tick-last.tick) / m.resolution * 60 / last.bpm
		last = c
	}
	return sec + float64(tick-last.tick)/m.resolution*60/last.bpm
}

// readMIDI flattens every track and channel of a standard MIDI file into
// notes with times in seconds. It also returns the first tempo found.
func readMIDI(r io.Reader) ([]pianoroll.Note, float64, error) {
	s, err := smf.ReadFrom(r)
	if err != nil {
		return nil, 0, fmt.Errorf("parse midi: %w", err)
	}
	res := float64(defaultResolution)
	if mt, ok := s.TimeFormat.(smf.MetricTicks); ok {
		res = float64(mt.Resolution())
	}

	type pending struct {
		tick int64
		vel  uint8
	}
	type span struct {
		key        uint8
		vel        uint8
		start, end int64
	}
	var (
		tempos []tempoChange
		spans  []span
	)
	for _, track := range s.Tracks {
		var tick int64
		open := map[[2]uint8][]pending{}
		for _, ev := range track {
			tick += int64(ev.Delta)
			var bpm float64
			if ev.Message.GetMetaTempo(&bpm) && bpm > 0 {
				tempos = append(tempos, tempoChange{tick: tick, bpm: bpm})
				continue
			}
			var ch, key, vel uint8
			msg := midi.Message(ev.Message)
			switch {
			case msg.GetNoteStart(&ch, &key, &vel):
				id := [2]uint8{ch, key}
				open[id] = append(open[id], pending{tick: tick, vel: vel})
			case msg.GetNoteEnd(&ch, &key):
				id := [2]uint8{ch, key}
				if q := open[id]; len(q) > 0 {
					spans = append(spans, span{key: key, vel: q[0].vel, start: q[0].tick, end: tick})
					open[id] = q[1:]
				}
			}
		}
	}
	sort.SliceStable(tempos, func(i, j int) bool { return tempos[i].tick < tempos[j].tick })
	tm := tempoMap{resolution: res, changes: tempos}

	notes := make([]pianoroll.Note, 0, len(spans))
	for _, sp := range spans {
		start := tm.seconds(sp.start)
		end := tm.seconds(sp.end)
		if end <= start {
			continue
		}
		notes = append(notes, pianoroll.Note{
			Key:      int(sp.key),
			Start:    start,
			Duration: end - start,
			Velocity: int(sp.vel),
		})
	}
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].Start != notes[j].Start {
			return notes[i].Start < notes[j].Start
		}
		return notes[i].Key < notes[j].Key
	})
	for i := range notes {
		notes[i].ID = fmt.Sprintf("n%d", i+1)
	}
	tempo := defaultFileTempo
	if len(tempos) > 0 {
		tempo = tempos[0].bpm
	}
	return notes, tempo, nil
}

// writeMIDI writes notes as a single-track format 0 file at a fixed tempo.
func writeMIDI(w io.Writer, notes []pianoroll.Note, bpm float64) error {
	if bpm <= 0 {
		bpm = defaultFileTempo
	}
	ticksPerSecond := defaultResolution * bpm / 60
	toTick := func(sec float64) int64 { return int64(math.Round(sec * ticksPerSecond)) }

	type event struct {
		tick int64
		on   bool
		key  uint8
		vel  uint8
	}
	events := make([]event, 0, len(notes)*2)
	for _, n := range notes {
		if !n.Valid() {
			continue
		}
		vel := n.Velocity
		if vel < 1 {
			vel = 1
		} else if vel > 127 {
			vel = 127
		}
		events = append(events,
			event{tick: toTick(n.Start), on: true, key: uint8(n.Key), vel: uint8(vel)},
			event{tick: toTick(n.End()), key: uint8(n.Key)},
		)
	}
	// note-offs first at equal ticks so repeated keys retrigger cleanly
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].tick != events[j].tick {
			return events[i].tick < events[j].tick
		}
		return !events[i].on && events[j].on
	})

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(defaultResolution)
	var track smf.Track
	track.Add(0, smf.MetaTempo(bpm))
	var cur int64
	for _, ev := range events {
		delta := uint32(ev.tick - cur)
		cur = ev.tick
		if ev.on {
			track.Add(delta, midi.NoteOn(0, ev.key, ev.vel))
		} else {
			track.Add(delta, midi.NoteOff(0, ev.key))
		}
	}
	track.Close(0)
	if err := s.Add(track); err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("write midi: %w", err)
	}
	return nil
}
