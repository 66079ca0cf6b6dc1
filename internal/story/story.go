// Package story defines the story model and the HTTP client for the story
// generation service.
package story

import "time"

// Story statuses reported by the generation service.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Spread is one pair of facing pages with its text and illustration.
type Spread struct {
	SpreadNumber    int    `json:"spread_number"`
	Text            string `json:"text"`
	WordCount       int    `json:"word_count"`
	IllustrationURL string `json:"illustration_url,omitempty"`
}

// Story is the full story payload returned by the service.
type Story struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Title          string     `json:"title,omitempty"`
	Goal           string     `json:"goal,omitempty"`
	TargetAgeRange string     `json:"target_age_range,omitempty"`
	IsIllustrated  bool       `json:"is_illustrated"`
	WordCount      int        `json:"word_count,omitempty"`
	Spreads        []Spread   `json:"spreads,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

// SpreadCount reports how many spreads the story carries.
func (s *Story) SpreadCount() int {
	return len(s.Spreads)
}

// IsComplete reports whether generation finished successfully.
func (s *Story) IsComplete() bool {
	return s.Status == StatusCompleted
}
