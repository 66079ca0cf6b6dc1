package audio

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Player errors.
var (
	// ErrNothingToPlay is returned when Play is called with empty audio.
	ErrNothingToPlay = errors.New("audio: no audio to play")

	// ErrPlayerClosed is returned when operations are attempted after Close.
	ErrPlayerClosed = errors.New("audio: player is closed")
)

// Clip is a playable unit of framed audio.
type Clip struct {
	Data     []byte        // RIFF/WAVE framed audio
	Duration time.Duration // playback duration of the PCM payload
}

// Player is the playback port. The production implementation wraps the
// platform audio device; tests use MockPlayer.
type Player interface {
	// Play starts playback of clip and returns without waiting for it to
	// finish. A clip already playing is stopped first.
	Play(ctx context.Context, clip *Clip) error

	// Stop halts playback. Stopping an idle player is a no-op.
	Stop() error

	// IsPlaying reports whether a clip is currently playing.
	IsPlaying() bool

	// Done returns a channel closed when the most recently started clip
	// finishes or is stopped.
	Done() <-chan struct{}

	// Close releases the underlying audio device.
	Close() error
}

// Every build of the platform player satisfies the port.
var _ Player = (*OtoPlayer)(nil)

// PendingQueue matches untagged playback-started signals from the platform
// audio layer to the request context ids that are waiting on them. The
// platform signal carries no correlation id, so matching is strictly
// first-in-first-out: overlapping requests can in principle be matched out of
// order. That limitation is accepted; the word playback path enforces
// at-most-one in-flight request, which makes the window unreachable there.
type PendingQueue struct {
	mu  sync.Mutex
	ids []string
}

// NewPendingQueue creates an empty pending-request queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{}
}

// Push records a request context id as awaiting a playback-started signal.
func (q *PendingQueue) Push(contextID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, contextID)
}

// Pop matches the oldest pending context id. It returns "" when nothing is
// pending (a spurious platform signal, ignored by callers).
func (q *PendingQueue) Pop() string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ids) == 0 {
		return ""
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id
}

// Drop removes a specific context id wherever it sits in the queue, for
// requests cancelled before their signal arrived.
func (q *PendingQueue) Drop(contextID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, id := range q.ids {
		if id == contextID {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			return
		}
	}
}

// Len returns the number of pending ids.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}
