// Package karaoke computes which word is currently being spoken, keeping
// on-screen highlighting synchronized with live or cached audio playback.
package karaoke

import (
	"sync"
	"time"
)

// WordTimestamp is one word's timing within an utterance. Start and End are
// seconds from the beginning of the audio and are non-decreasing across the
// sequence.
type WordTimestamp struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Config holds timing engine tuning.
type Config struct {
	// UpdateRate is how often the current word is re-evaluated.
	UpdateRate time.Duration

	// AudioLatency compensates for hardware/buffer delay between the
	// nominal synthesis timeline and what the listener actually hears.
	// It shifts the whole timer epoch; it is not a per-word adjustment.
	AudioLatency time.Duration

	// TrailingGrace is how long after the last word's end tracking keeps
	// running before it stops itself.
	TrailingGrace time.Duration
}

// DefaultConfig returns the standard engine tuning.
func DefaultConfig() Config {
	return Config{
		UpdateRate:    50 * time.Millisecond,
		AudioLatency:  150 * time.Millisecond,
		TrailingGrace: 500 * time.Millisecond,
	}
}

// Engine tracks the currently spoken word against a playback clock.
//
// The periodic evaluator is the only writer of the current index. All mutable
// state lives on the struct and is read under the lock on every tick, so
// timestamps appended mid-playback are visible to the very next evaluation;
// nothing is captured by the tick closure.
type Engine struct {
	mu sync.Mutex

	config Config
	now    func() time.Time

	epoch        time.Time
	timestamps   []WordTimestamp
	currentIndex int
	tracking     bool

	ticker *time.Ticker
	stopCh chan struct{}

	onChange func(index int)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock substitutes the time source. Test seam.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an idle timing engine. Zero config fields fall back to
// defaults.
func NewEngine(config Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if config.UpdateRate <= 0 {
		config.UpdateRate = def.UpdateRate
	}
	if config.AudioLatency < 0 {
		config.AudioLatency = def.AudioLatency
	}
	if config.TrailingGrace <= 0 {
		config.TrailingGrace = def.TrailingGrace
	}

	e := &Engine{
		config:       config,
		now:          time.Now,
		currentIndex: -1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartTracking resets the timer epoch, replaces the timestamp sequence
// wholesale and begins periodic evaluation.
func (e *Engine) StartTracking(timestamps []WordTimestamp) {
	e.mu.Lock()
	e.epoch = e.now().Add(e.config.AudioLatency)
	e.timestamps = append([]WordTimestamp(nil), timestamps...)
	e.currentIndex = 0
	alreadyRunning := e.tracking
	e.tracking = true
	e.mu.Unlock()

	if !alreadyRunning {
		e.startEvaluator()
	}
	e.notify(0)
}

// StartTimer begins the timer epoch without requiring timestamps, for the
// case where audio starts before the first timestamp batch arrives. Calling
// it while already tracking is a no-op; it never resets a running timer.
func (e *Engine) StartTimer() {
	e.mu.Lock()
	if e.tracking {
		e.mu.Unlock()
		return
	}
	e.epoch = e.now().Add(e.config.AudioLatency)
	e.timestamps = nil
	e.currentIndex = 0
	e.tracking = true
	e.mu.Unlock()

	e.startEvaluator()
	e.notify(0)
}

// AddTimestamps appends to the existing sequence without touching the epoch
// or the current index. Streamed synthesis delivers timestamps in batches
// after playback has already begun; every batch appended before the next
// evaluator tick is visible to that tick.
func (e *Engine) AddTimestamps(more []WordTimestamp) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timestamps = append(e.timestamps, more...)
}

// StopTracking cancels the periodic evaluator and resets all tracking state.
func (e *Engine) StopTracking() {
	e.mu.Lock()
	stopped := e.stopLocked()
	e.mu.Unlock()

	if stopped {
		e.notify(-1)
	}
}

// stopLocked resets state and signals the evaluator goroutine. Caller holds
// e.mu. Reports whether tracking was active.
func (e *Engine) stopLocked() bool {
	if !e.tracking {
		return false
	}
	e.tracking = false
	e.currentIndex = -1
	e.timestamps = nil
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
	return true
}

// CurrentWordIndex returns the index of the word being spoken, or -1 when
// inactive.
func (e *Engine) CurrentWordIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentIndex
}

// IsTracking reports whether the evaluator is running.
func (e *Engine) IsTracking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracking
}

// Timestamps returns a copy of the current timestamp sequence.
func (e *Engine) Timestamps() []WordTimestamp {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]WordTimestamp(nil), e.timestamps...)
}

// OnWordChange registers a callback invoked whenever the current index
// changes, including the -1 emitted on stop.
func (e *Engine) OnWordChange(fn func(index int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = fn
}

// startEvaluator launches the periodic evaluation loop.
func (e *Engine) startEvaluator() {
	e.mu.Lock()
	ticker := time.NewTicker(e.config.UpdateRate)
	stopCh := make(chan struct{})
	e.ticker = ticker
	e.stopCh = stopCh
	e.mu.Unlock()

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				e.Evaluate()
			}
		}
	}()
}

// Evaluate recomputes the current word from the latest state. The evaluator
// calls it on every tick; tests may call it directly after advancing an
// injected clock.
func (e *Engine) Evaluate() {
	e.mu.Lock()

	if !e.tracking {
		e.mu.Unlock()
		return
	}

	elapsed := e.now().Sub(e.epoch).Seconds()

	// Inside the latency compensation window the first word holds.
	if elapsed < 0 || len(e.timestamps) == 0 {
		e.setIndexLocked(0)
		return
	}

	last := e.timestamps[len(e.timestamps)-1]
	if elapsed > last.End+e.config.TrailingGrace.Seconds() {
		// Playback ran past the final word; terminal transition.
		stopped := e.stopLocked()
		e.mu.Unlock()
		if stopped {
			e.notify(-1)
		}
		return
	}

	e.setIndexLocked(wordAt(e.timestamps, elapsed))
}

// setIndexLocked stores index, releases the lock and fires the change
// callback if the index moved. Caller holds e.mu.
func (e *Engine) setIndexLocked(index int) {
	changed := index != e.currentIndex
	e.currentIndex = index
	e.mu.Unlock()

	if changed {
		e.notify(index)
	}
}

// wordAt scans the sequence for the word containing elapsed. A word stays
// current through the gap after its end until the next word starts, so the
// highlight holds through trailing silence instead of flickering off.
func wordAt(timestamps []WordTimestamp, elapsed float64) int {
	current := 0
	for i, ts := range timestamps {
		if elapsed < ts.Start {
			break
		}
		current = i
		if elapsed < ts.End {
			break
		}
	}
	return current
}

func (e *Engine) notify(index int) {
	e.mu.Lock()
	fn := e.onChange
	e.mu.Unlock()

	if fn != nil {
		fn(index)
	}
}
