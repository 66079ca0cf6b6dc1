package audio

import (
	"context"
	"sync"
)

// MockPlayer is an in-memory Player for tests. Clips "play" until FinishCurrent
// or Stop is called, so tests control completion timing explicitly.
type MockPlayer struct {
	mu      sync.Mutex
	playing bool
	done    chan struct{}
	played  []*Clip
	stops   int
	closed  bool

	// PlayErr, when set, is returned by the next Play call.
	PlayErr error
}

// NewMockPlayer creates an idle mock player.
func NewMockPlayer() *MockPlayer {
	closed := make(chan struct{})
	close(closed)
	return &MockPlayer{done: closed}
}

// Play records the clip and marks the player as playing.
func (m *MockPlayer) Play(_ context.Context, clip *Clip) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrPlayerClosed
	}
	if m.PlayErr != nil {
		err := m.PlayErr
		m.PlayErr = nil
		return err
	}
	if clip == nil || len(clip.Data) == 0 {
		return ErrNothingToPlay
	}

	if m.playing {
		close(m.done)
	}
	m.played = append(m.played, clip)
	m.playing = true
	m.done = make(chan struct{})
	return nil
}

// Stop halts the current clip.
func (m *MockPlayer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stops++
	if m.playing {
		m.playing = false
		close(m.done)
	}
	return nil
}

// FinishCurrent simulates natural end-of-clip.
func (m *MockPlayer) FinishCurrent() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.playing {
		m.playing = false
		close(m.done)
	}
}

// IsPlaying reports whether a clip is currently playing.
func (m *MockPlayer) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// Done returns a channel closed when the current clip finishes.
func (m *MockPlayer) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Close marks the player unusable.
func (m *MockPlayer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.playing {
		m.playing = false
		close(m.done)
	}
	m.closed = true
	return nil
}

// Played returns the clips played so far.
func (m *MockPlayer) Played() []*Clip {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Clip, len(m.played))
	copy(out, m.played)
	return out
}

// StopCount returns how many times Stop was called.
func (m *MockPlayer) StopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}
