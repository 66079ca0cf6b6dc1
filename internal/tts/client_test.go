package tts_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyweave/offline/internal/audio"
	"github.com/storyweave/offline/internal/karaoke"
	"github.com/storyweave/offline/internal/tts"
)

type staticToken string

func (t staticToken) Token(context.Context) (string, error) { return string(t), nil }

// ttsScript drives a fake TTS backend: for each synthesize request it
// invokes respond with the request payload and a send function.
func newTTSServer(t *testing.T, respond func(req map[string]any, send func(v map[string]any))) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		send := func(v map[string]any) {
			if err := conn.WriteJSON(v); err != nil {
				t.Logf("server write: %v", err)
			}
		}

		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg["type"] {
			case "auth":
				send(map[string]any{"type": "connected", "message": "TTS ready"})
			case "synthesize":
				respond(msg, send)
			case "stop":
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamCollectsChunksAndTimestamps(t *testing.T) {
	srv := newTTSServer(t, func(req map[string]any, send func(map[string]any)) {
		ctxID := req["context_id"].(string)
		send(map[string]any{"type": "audio", "data": audio.EncodeBase64([]byte{1, 2, 3, 4, 5}), "context_id": ctxID})
		send(map[string]any{"type": "audio", "data": audio.EncodeBase64([]byte{6, 7, 8, 9, 10}), "context_id": ctxID})
		send(map[string]any{
			"type":       "timestamps",
			"words":      []string{"Hello", "world"},
			"start":      []float64{0.0, 0.35},
			"end":        []float64{0.3, 0.7},
			"context_id": ctxID,
		})
		send(map[string]any{"type": "done", "context_id": ctxID})
	})
	defer srv.Close()

	client := tts.NewStreamClient(wsURL(srv), staticToken("tok"), nil)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	var streamedChunks [][]byte
	var streamedBatches [][]karaoke.WordTimestamp
	result, err := client.Stream(context.Background(), tts.Request{Text: "Hello world"}, tts.StreamHandler{
		OnAudioChunk: func(chunk []byte) { streamedChunks = append(streamedChunks, chunk) },
		OnTimestamps: func(batch []karaoke.WordTimestamp) { streamedBatches = append(streamedBatches, batch) },
	})
	require.NoError(t, err)

	require.Len(t, result.Chunks, 2)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, result.Chunks[0])
	assert.Equal(t, []byte{6, 7, 8, 9, 10}, result.Chunks[1])

	require.Len(t, result.Timestamps, 2)
	assert.Equal(t, karaoke.WordTimestamp{Word: "Hello", Start: 0.0, End: 0.3}, result.Timestamps[0])
	assert.Equal(t, karaoke.WordTimestamp{Word: "world", Start: 0.35, End: 0.7}, result.Timestamps[1])

	assert.Len(t, streamedChunks, 2, "handler sees chunks as they arrive")
	assert.Len(t, streamedBatches, 1)
}

func TestStreamDropsStaleContextFrames(t *testing.T) {
	srv := newTTSServer(t, func(req map[string]any, send func(map[string]any)) {
		ctxID := req["context_id"].(string)
		// A leftover frame from an earlier, canceled request.
		send(map[string]any{"type": "audio", "data": audio.EncodeBase64([]byte{9, 9, 9}), "context_id": "stale-ctx"})
		send(map[string]any{"type": "audio", "data": audio.EncodeBase64([]byte{1, 2}), "context_id": ctxID})
		send(map[string]any{"type": "done", "context_id": "stale-ctx"})
		send(map[string]any{"type": "done", "context_id": ctxID})
	})
	defer srv.Close()

	client := tts.NewStreamClient(wsURL(srv), staticToken("tok"), nil)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	result, err := client.Synthesize(context.Background(), tts.Request{Text: "hi"})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, []byte{1, 2}, result.Chunks[0])
}

func TestStreamBackendError(t *testing.T) {
	srv := newTTSServer(t, func(req map[string]any, send func(map[string]any)) {
		send(map[string]any{"type": "error", "message": "Text too long (max 5000 chars)", "context_id": req["context_id"]})
	})
	defer srv.Close()

	client := tts.NewStreamClient(wsURL(srv), staticToken("tok"), nil)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	_, err := client.Synthesize(context.Background(), tts.Request{Text: "way too long"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Text too long")
}

func TestStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := newTTSServer(t, func(req map[string]any, send func(map[string]any)) {
		// Never answer; the client must unblock via its own context.
		<-release
	})
	defer srv.Close()
	defer close(release)

	client := tts.NewStreamClient(wsURL(srv), staticToken("tok"), nil)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Stream(ctx, tts.Request{Text: "never answered"}, tts.StreamHandler{})
	assert.ErrorIs(t, err, tts.ErrCanceled)
}

func TestSynthesizeWithoutConnect(t *testing.T) {
	client := tts.NewStreamClient("ws://127.0.0.1:1/voice/tts", staticToken("tok"), nil)
	_, err := client.Synthesize(context.Background(), tts.Request{Text: "hi"})
	assert.ErrorIs(t, err, tts.ErrNotConnected)
}

func TestConnectRejectedSession(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		raw, _ := json.Marshal(map[string]any{"type": "error", "message": "invalid token"})
		conn.WriteMessage(websocket.TextMessage, raw)
	}))
	defer srv.Close()

	client := tts.NewStreamClient(wsURL(srv), staticToken("bad"), nil)
	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")
}
