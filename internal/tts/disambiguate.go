package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Pronunciation is the resolved pronunciation of one word in context.
type Pronunciation struct {
	Word               string `json:"word"`
	PronunciationIndex int    `json:"pronunciation_index"`
	Phonemes           string `json:"phonemes,omitempty"`
	IsHomograph        bool   `json:"is_homograph"`
}

// DefaultPronunciation is the index-0 fallback used when disambiguation is
// unavailable or fails.
func DefaultPronunciation(word string) Pronunciation {
	p := Pronunciation{Word: word}
	if h, ok := LookupHomograph(word); ok {
		p.IsHomograph = true
		p.Phonemes = h.Pronunciations[0]
	}
	return p
}

// Disambiguator resolves which pronunciation of a homograph a sentence
// calls for.
type Disambiguator interface {
	// Disambiguate resolves word as used in sentence. occurrence is
	// 1-indexed and selects among repeated uses of the same word.
	Disambiguate(ctx context.Context, word, sentence string, occurrence int) (Pronunciation, error)
}

// DisambiguateClient calls the backend disambiguation endpoint.
type DisambiguateClient struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

// NewDisambiguateClient creates a client for the service at baseURL. A nil
// httpClient falls back to a 15 second timeout client.
func NewDisambiguateClient(baseURL string, tokens TokenSource, httpClient *http.Client) *DisambiguateClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &DisambiguateClient{baseURL: baseURL, http: httpClient, tokens: tokens}
}

// Disambiguate resolves word in its sentence context. Words not in the
// homograph table are answered locally without a network call.
func (c *DisambiguateClient) Disambiguate(ctx context.Context, word, sentence string, occurrence int) (Pronunciation, error) {
	if _, ok := LookupHomograph(word); !ok {
		return Pronunciation{Word: word}, nil
	}
	if occurrence < 1 {
		occurrence = 1
	}

	body, err := json.Marshal(map[string]any{
		"word":       word,
		"sentence":   sentence,
		"occurrence": occurrence,
	})
	if err != nil {
		return Pronunciation{}, fmt.Errorf("encode disambiguate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/voice/disambiguate", bytes.NewReader(body))
	if err != nil {
		return Pronunciation{}, fmt.Errorf("build disambiguate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return Pronunciation{}, fmt.Errorf("resolve token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Pronunciation{}, fmt.Errorf("disambiguate %q: %w", word, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Pronunciation{}, fmt.Errorf("disambiguate %q: unexpected status %d", word, resp.StatusCode)
	}

	var p Pronunciation
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Pronunciation{}, fmt.Errorf("decode disambiguate response: %w", err)
	}
	return p, nil
}
