package story_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/storyweave/offline/internal/story"
)

func TestGetStory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stories/abc123" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization header: got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "abc123",
			"status": "completed",
			"title": "The Brave Little Fox",
			"is_illustrated": true,
			"spreads": [
				{"spread_number": 1, "text": "Once upon a time.", "word_count": 4, "illustration_url": "/stories/abc123/spreads/1/image"},
				{"spread_number": 2, "text": "The fox set out.", "word_count": 4, "illustration_url": "/stories/abc123/spreads/2/image"}
			]
		}`))
	}))
	defer srv.Close()

	client := story.NewClient(srv.URL, story.StaticToken("tok-1"), nil)
	s, err := client.GetStory(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}

	if s.Title != "The Brave Little Fox" {
		t.Errorf("Title: got %q", s.Title)
	}
	if !s.IsComplete() || !s.IsIllustrated {
		t.Errorf("Expected completed illustrated story, got status=%q illustrated=%v", s.Status, s.IsIllustrated)
	}
	if s.SpreadCount() != 2 {
		t.Errorf("SpreadCount: got %d, want 2", s.SpreadCount())
	}
	if s.Spreads[1].IllustrationURL != "/stories/abc123/spreads/2/image" {
		t.Errorf("Spread 2 illustration URL: got %q", s.Spreads[1].IllustrationURL)
	}
}

func TestGetStoryNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := story.NewClient(srv.URL, nil, nil)
	if _, err := client.GetStory(context.Background(), "missing"); !errors.Is(err, story.ErrNotFound) {
		t.Errorf("GetStory on missing id: got %v, want ErrNotFound", err)
	}
}

func TestGetStoryUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := story.NewClient(srv.URL, story.StaticToken("expired"), nil)
	if _, err := client.GetStory(context.Background(), "abc"); !errors.Is(err, story.ErrUnauthorized) {
		t.Errorf("GetStory with rejected token: got %v, want ErrUnauthorized", err)
	}
}

func TestFetchSpreadImage(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stories/abc/spreads/3/image" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		w.Write(payload)
	}))
	defer srv.Close()

	client := story.NewClient(srv.URL, nil, nil)
	got, err := client.FetchSpreadImage(context.Background(), "abc", 3)
	if err != nil {
		t.Fatalf("FetchSpreadImage: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("Image bytes: got %v", got)
	}
}

func TestSpreadImageURL(t *testing.T) {
	client := story.NewClient("https://api.example.com", nil, nil)
	want := "https://api.example.com/stories/s1/spreads/2/image"
	if got := client.SpreadImageURL("s1", 2); got != want {
		t.Errorf("SpreadImageURL: got %q, want %q", got, want)
	}
}
