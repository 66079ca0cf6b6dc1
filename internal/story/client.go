package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client errors
var (
	// ErrNotFound is returned when the service has no story for an id.
	ErrNotFound = errors.New("story: not found")
	// ErrUnauthorized is returned when the token was rejected.
	ErrUnauthorized = errors.New("story: unauthorized")
)

// TokenSource supplies the bearer token for authenticated requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token, for tools and tests.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Client talks to the story generation service.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

// NewClient creates a client for the service at baseURL. A nil httpClient
// falls back to a 30 second timeout client.
func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient, tokens: tokens}
}

// GetStory fetches the full story payload for id.
func (c *Client) GetStory(ctx context.Context, id string) (*Story, error) {
	req, err := c.newRequest(ctx, fmt.Sprintf("%s/stories/%s", c.baseURL, id))
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch story %s: %w", id, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("fetch story %s: %w", id, err)
	}

	var story Story
	if err := json.NewDecoder(resp.Body).Decode(&story); err != nil {
		return nil, fmt.Errorf("decode story %s: %w", id, err)
	}
	return &story, nil
}

// SpreadImageURL returns the service URL for a spread's illustration.
func (c *Client) SpreadImageURL(storyID string, spreadNumber int) string {
	return fmt.Sprintf("%s/stories/%s/spreads/%d/image", c.baseURL, storyID, spreadNumber)
}

// FetchSpreadImage downloads a spread illustration's bytes.
func (c *Client) FetchSpreadImage(ctx context.Context, storyID string, spreadNumber int) ([]byte, error) {
	req, err := c.newRequest(ctx, c.SpreadImageURL(storyID, spreadNumber))
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch spread %d of story %s: %w", spreadNumber, storyID, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("fetch spread %d of story %s: %w", spreadNumber, storyID, err)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
