package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

// ebiten allows one audio context per process.
func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// EbitenOutput plays through the ebiten audio context.
type EbitenOutput struct {
	BufferSize time.Duration
	player     *ebitaudio.Player
	ctx        *ebitaudio.Context
}

func NewEbitenOutput(bufferSize time.Duration) *EbitenOutput {
	return &EbitenOutput{BufferSize: bufferSize}
}

func (o *EbitenOutput) Open(sampleRate int, stream io.Reader) error {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return err
	}
	pl, err := ctx.NewPlayerF32(stream)
	if err != nil {
		return err
	}
	if o.BufferSize > 0 {
		pl.SetBufferSize(o.BufferSize)
	}
	o.ctx = ctx
	o.player = pl
	return nil
}

// Resume waits for the device to become ready, then starts pulling.
func (o *EbitenOutput) Resume(ctx context.Context) error {
	if o.player == nil {
		return errors.New("output not opened")
	}
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for !o.ctx.IsReady() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	o.player.Play()
	return nil
}

func (o *EbitenOutput) Suspend() {
	if o.player != nil {
		o.player.Pause()
	}
}

func (o *EbitenOutput) Close() error {
	if o.player == nil {
		return nil
	}
	o.player.Pause()
	err := o.player.Close()
	o.player = nil
	return err
}
