//go:build nocgo
// +build nocgo

package audio

import (
	"context"
	"errors"
)

// Stub implementations for static analysis and builds without CGO.

// OtoPlayer stub for nocgo builds.
type OtoPlayer struct{}

// NewOtoPlayer always fails in nocgo builds; there is no audio device to
// open.
func NewOtoPlayer() (*OtoPlayer, error) {
	return nil, errors.New("audio not available in nocgo build")
}

func (p *OtoPlayer) Play(ctx context.Context, clip *Clip) error {
	return errors.New("audio not available in nocgo build")
}

func (p *OtoPlayer) Stop() error {
	return nil
}

func (p *OtoPlayer) IsPlaying() bool {
	return false
}

func (p *OtoPlayer) Done() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}

func (p *OtoPlayer) Close() error {
	return nil
}
