//go:build !nocgo
// +build !nocgo

package audio

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// OtoPlayer is the production Player backed by an oto audio context.
// One context is created per process; clips are played on short-lived
// oto players because oto readers are single-use.
type OtoPlayer struct {
	context *oto.Context

	mu      sync.Mutex
	current *oto.Player
	done    chan struct{}
	playing bool
	closed  bool
}

// NewOtoPlayer initializes the platform audio device for the synthesis PCM
// format and returns a ready player.
func NewOtoPlayer() (*OtoPlayer, error) {
	options := &oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: Channels,
		Format:       oto.FormatSignedInt16LE,
	}

	otoCtx, readyChan, err := oto.NewContext(options)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio context: %w", err)
	}

	select {
	case <-readyChan:
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("audio context initialization timeout")
	}

	log.Debug("audio context initialized",
		"sample_rate", options.SampleRate,
		"channels", options.ChannelCount)

	closed := make(chan struct{})
	close(closed)
	return &OtoPlayer{context: otoCtx, done: closed}, nil
}

// Play starts playback of clip. The WAV header is stripped before handing
// bytes to the device; oto consumes raw PCM.
func (p *OtoPlayer) Play(ctx context.Context, clip *Clip) error {
	if clip == nil || len(clip.Data) == 0 {
		return ErrNothingToPlay
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPlayerClosed
	}
	p.stopLocked()

	pcm := clip.Data
	if _, n, err := ParseWAVHeader(clip.Data); err == nil {
		pcm = clip.Data[wavHeaderSize : wavHeaderSize+n]
	}

	player := p.context.NewPlayer(bytes.NewReader(pcm))
	player.Play()

	done := make(chan struct{})
	p.current = player
	p.done = done
	p.playing = true

	go p.waitForCompletion(ctx, player, done)
	return nil
}

// waitForCompletion polls the oto player until the clip drains, the context
// is cancelled, or Stop swaps the current player out from under it.
func (p *OtoPlayer) waitForCompletion(ctx context.Context, player *oto.Player, done chan struct{}) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			if p.current == player {
				p.stopLocked()
			}
			p.mu.Unlock()
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.current != player {
				// Stopped or replaced; stopLocked already closed done.
				p.mu.Unlock()
				return
			}
			if !player.IsPlaying() {
				player.Close()
				p.current = nil
				p.playing = false
				close(done)
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		}
	}
}

// Stop halts playback of the current clip.
func (p *OtoPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

// stopLocked halts the current clip. Caller holds p.mu.
func (p *OtoPlayer) stopLocked() {
	if p.current == nil {
		return
	}
	p.current.Pause()
	p.current.Close()
	p.current = nil
	p.playing = false
	close(p.done)
}

// IsPlaying reports whether a clip is currently playing.
func (p *OtoPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Done returns a channel closed when the most recently started clip finishes.
func (p *OtoPlayer) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Close stops playback and marks the player unusable. The oto context itself
// has no Close in v3; it is released with the process.
func (p *OtoPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.closed = true
	return nil
}
