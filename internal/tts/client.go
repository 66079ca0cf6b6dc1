package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/storyweave/offline/internal/audio"
	"github.com/storyweave/offline/internal/karaoke"
)

// TokenSource supplies the auth token for the backend session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// clientMessage is the outbound websocket frame.
type clientMessage struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	Text      string `json:"text,omitempty"`
	VoiceID   string `json:"voice_id,omitempty"`
	ContextID string `json:"context_id,omitempty"`
}

// serverMessage is the inbound websocket frame. Timestamp batches arrive as
// parallel word/start/end arrays.
type serverMessage struct {
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	Data      string    `json:"data,omitempty"`
	ContextID string    `json:"context_id,omitempty"`
	Words     []string  `json:"words,omitempty"`
	Start     []float64 `json:"start,omitempty"`
	End       []float64 `json:"end,omitempty"`
}

// StreamClient is a Synthesizer over the backend's TTS websocket. One
// synthesis runs at a time; calls are serialized on the single connection.
type StreamClient struct {
	url    string
	tokens TokenSource
	dialer *websocket.Dialer
	logger *log.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewStreamClient creates a client for the TTS websocket at url. A nil
// logger discards output.
func NewStreamClient(url string, tokens TokenSource, logger *log.Logger) *StreamClient {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &StreamClient{
		url:    url,
		tokens: tokens,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger.With("component", "tts-stream"),
	}
}

// Connect dials the backend, authenticates, and waits for the ready signal.
func (c *StreamClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, http.Header{})
	if err != nil {
		if resp != nil {
			c.logger.Error("websocket dial failed", "status", resp.StatusCode, "err", err)
		}
		return fmt.Errorf("dial tts backend: %w", err)
	}

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			conn.Close()
			return fmt.Errorf("resolve token: %w", err)
		}
		if err := conn.WriteJSON(clientMessage{Type: "auth", Token: token}); err != nil {
			conn.Close()
			return fmt.Errorf("send auth: %w", err)
		}
	}

	var msg serverMessage
	if err := conn.ReadJSON(&msg); err != nil {
		conn.Close()
		return fmt.Errorf("read ready signal: %w", err)
	}
	if msg.Type == "error" {
		conn.Close()
		return fmt.Errorf("tts backend rejected session: %s", msg.Message)
	}

	c.conn = conn
	c.logger.Info("connected to tts backend")
	return nil
}

// Close tears down the connection. Safe to call more than once.
func (c *StreamClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropLocked()
}

func (c *StreamClient) dropLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Synthesize runs req to completion and returns the accumulated output.
func (c *StreamClient) Synthesize(ctx context.Context, req Request) (*Result, error) {
	return c.Stream(ctx, req, StreamHandler{})
}

// Stream runs req, forwarding output through handler as it arrives. Frames
// carrying a stale context id, left over from a canceled request, are
// dropped rather than mixed into this request's result.
func (c *StreamClient) Stream(ctx context.Context, req Request, handler StreamHandler) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}

	contextID := req.ContextID
	if contextID == "" {
		contextID = uuid.NewString()
	}

	msg := clientMessage{
		Type:      "synthesize",
		Text:      req.Text,
		VoiceID:   req.VoiceID,
		ContextID: contextID,
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("send synthesize: %w", err)
	}
	c.logger.Debug("synthesis requested", "context_id", contextID, "text_len", len(req.Text))

	// Cancellation unblocks the read by expiring the deadline; the
	// connection is dropped because its read state is poisoned.
	conn := c.conn
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-readDone:
		}
	}()

	result := &Result{ContextID: contextID}
	for {
		var frame serverMessage
		if err := conn.ReadJSON(&frame); err != nil {
			c.dropLocked()
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
			}
			return nil, fmt.Errorf("read synthesis stream: %w", err)
		}

		if frame.ContextID != "" && frame.ContextID != contextID {
			c.logger.Debug("dropping stale frame", "type", frame.Type, "context_id", frame.ContextID)
			continue
		}

		switch frame.Type {
		case "audio":
			chunk, err := audio.DecodeBase64(frame.Data)
			if err != nil {
				c.logger.Warn("undecodable audio chunk", "err", err)
				continue
			}
			result.Chunks = append(result.Chunks, chunk)
			if handler.OnAudioChunk != nil {
				handler.OnAudioChunk(chunk)
			}

		case "timestamps":
			batch := zipTimestamps(frame.Words, frame.Start, frame.End)
			if len(batch) == 0 {
				continue
			}
			result.Timestamps = append(result.Timestamps, batch...)
			if handler.OnTimestamps != nil {
				handler.OnTimestamps(batch)
			}

		case "done":
			c.logger.Debug("synthesis complete",
				"context_id", contextID, "chunks", len(result.Chunks), "words", len(result.Timestamps))
			return result, nil

		case "error":
			return nil, fmt.Errorf("tts backend: %s", frame.Message)

		case "connected":
			// Ready signal replayed on reconnect; nothing to do.

		default:
			c.logger.Debug("ignoring frame", "type", frame.Type)
		}
	}
}

// zipTimestamps pairs the parallel arrays of a timestamp frame. A length
// mismatch keeps the common prefix.
func zipTimestamps(words []string, start, end []float64) []karaoke.WordTimestamp {
	n := len(words)
	if len(start) < n {
		n = len(start)
	}
	if len(end) < n {
		n = len(end)
	}
	batch := make([]karaoke.WordTimestamp, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, karaoke.WordTimestamp{Word: words[i], Start: start[i], End: end[i]})
	}
	return batch
}
