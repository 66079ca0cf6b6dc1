// Package tts talks to the streaming speech synthesis backend and
// orchestrates word-level playback, including homograph pronunciation
// resolution and write-back into the audio caches.
package tts

import (
	"context"
	"errors"

	"github.com/storyweave/offline/internal/karaoke"
)

// Synthesis errors
var (
	// ErrCanceled is the distinguishable rejection for a synthesis or
	// playback superseded by a newer request. It is not a failure.
	ErrCanceled = errors.New("tts: canceled")
	// ErrNotConnected is returned when the stream client has no live
	// backend connection.
	ErrNotConnected = errors.New("tts: not connected")
)

// Request describes one synthesis call.
type Request struct {
	// Text is the transcript to speak, possibly carrying phoneme or
	// emotion markup.
	Text string
	// VoiceID selects the voice; empty uses the backend default.
	VoiceID string
	// ContextID correlates streamed responses with this request. Empty
	// lets the client generate one.
	ContextID string
}

// Result is a completed synthesis: raw PCM chunks in arrival order plus the
// word timestamps for the utterance.
type Result struct {
	ContextID  string
	Chunks     [][]byte
	Timestamps []karaoke.WordTimestamp
}

// StreamHandler receives synthesis output as it arrives. Either callback
// may be nil.
type StreamHandler struct {
	// OnAudioChunk is called with each decoded PCM chunk.
	OnAudioChunk func(chunk []byte)
	// OnTimestamps is called with each word timestamp batch.
	OnTimestamps func(batch []karaoke.WordTimestamp)
}

// Synthesizer is the speech synthesis collaborator.
type Synthesizer interface {
	// Synthesize runs one request to completion and returns everything
	// the backend streamed for it.
	Synthesize(ctx context.Context, req Request) (*Result, error)
	// Stream runs one request, delivering output through handler as it
	// arrives. It returns once the backend signals completion.
	Stream(ctx context.Context, req Request, handler StreamHandler) (*Result, error)
}
