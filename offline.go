package pianoroll

import (
	"context"
	"encoding/binary"
	"math"

	inttransport "github.com/cbegin/pianoroll-go/internal/transport"
)

// RenderNotes plays notes on an offline player and returns interleaved
// stereo samples covering the last note's end plus the release tail.
// Loops are ignored; lanes are applied when given.
func RenderNotes(notes []Note, lanes []*Lane, sampleRate int, opts ...PlayerOption) ([]float32, error) {
	opts = append(opts, WithOffline(), WithManualTicks())
	p, err := NewPlayer(sampleRate, opts...)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	p.SetNotes(notes)
	p.SetLanes(lanes)

	var total float64
	for _, n := range p.Notes() {
		total = math.Max(total, n.End())
	}
	if err := p.PlayFrom(context.Background(), 0); err != nil {
		return nil, err
	}

	block := int(float64(sampleRate) * 0.05)
	if block < 1 {
		block = 1
	}
	release := p.Settings().Envelope.Release
	var out []float32
	for {
		p.Tick()
		out = append(out, p.Render(block)...)
		if p.Position() >= total && p.ActiveVoiceCount() == 0 {
			break
		}
		// the slowest tempo lane stretches playback by DefaultTempo/MinTempo
		if p.Now() > (total+release)*maxStretch+1 {
			break
		}
	}
	return out, nil
}

const maxStretch = inttransport.DefaultTempo / inttransport.MinTempo

func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	out := make([]byte, 44+dataSize)
	le := binary.LittleEndian
	copy(out[0:], "RIFF")
	le.PutUint32(out[4:], uint32(36+dataSize))
	copy(out[8:], "WAVEfmt ")
	le.PutUint32(out[16:], 16)
	le.PutUint16(out[20:], 3) // IEEE float
	le.PutUint16(out[22:], uint16(channels))
	le.PutUint32(out[24:], uint32(sampleRate))
	le.PutUint32(out[28:], uint32(sampleRate*channels*4))
	le.PutUint16(out[32:], uint16(channels*4))
	le.PutUint16(out[34:], 32)
	copy(out[36:], "data")
	le.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		le.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
