package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/cbegin/pianoroll-go"
)

// song is what the CLI plays: a note sequence with optional lanes and loop.
type song struct {
	Notes      []pianoroll.Note  `json:"notes"`
	Lanes      []*pianoroll.Lane `json:"lanes,omitempty"`
	Tempo      float64           `json:"tempo,omitempty"`
	Instrument string            `json:"instrument,omitempty"`
	Loop       *loopRegion       `json:"loop,omitempty"`
}

type loopRegion struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// duration is the end of the last note.
func (s *song) duration() float64 {
	var d float64
	for _, n := range s.Notes {
		d = math.Max(d, n.End())
	}
	return d
}

// loadSong reads a .mid/.midi file or a JSON song document.
func loadSong(path string) (*song, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mid", ".midi":
		notes, tempo, err := readMIDI(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return &song{Notes: notes, Tempo: tempo}, nil
	default:
		s, err := decodeSong(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return s, nil
	}
}

func decodeSong(r io.Reader) (*song, error) {
	var s song
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode song: %w", err)
	}
	for i := range s.Notes {
		if s.Notes[i].ID == "" {
			s.Notes[i].ID = fmt.Sprintf("n%d", i+1)
		}
		if s.Notes[i].Velocity == 0 {
			s.Notes[i].Velocity = 100
		}
	}
	for _, l := range s.Lanes {
		l.Sort()
	}
	return &s, nil
}

// defaultSong is an ascending C major arpeggio, used when no file is given.
func defaultSong() *song {
	keys := []int{60, 64, 67, 72, 67, 64, 60}
	s := &song{}
	for i, k := range keys {
		s.Notes = append(s.Notes, pianoroll.Note{
			ID:       fmt.Sprintf("n%d", i+1),
			Key:      k,
			Start:    float64(i) * 0.25,
			Duration: 0.22,
			Velocity: 100,
		})
	}
	return s
}

// load applies the song to a player. Note times are already in seconds, so
// the file tempo only matters when exporting.
func (s *song) load(p *pianoroll.Player) error {
	p.SetNotes(s.Notes)
	p.SetLanes(s.Lanes)
	if s.Instrument != "" {
		if err := p.SetInstrument(s.Instrument); err != nil {
			return err
		}
	}
	if s.Loop != nil {
		if err := p.SetLoop(true, s.Loop.Start, s.Loop.End); err != nil {
			return err
		}
	}
	return nil
}
