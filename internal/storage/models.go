package storage

import (
	"errors"
	"time"

	"github.com/xyrax/instra/internal/features"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Post is one analyzed post in a session's history.
type Post struct {
	ID        string          `json:"id"`
	Session   string          `json:"-"`
	CreatedAt time.Time       `json:"created_at"`
	Counts    features.Counts `json:"inputs"`

	PredictedImpressions float64 `json:"predicted_impressions"`
	ViralScore           float64 `json:"viral_score"`
	EngRate              float64 `json:"eng_rate"`
	FollowRate           float64 `json:"follow_rate"`
	ViralLabel           string  `json:"viral_label"`
}

// Message is one stored chat turn. Role is "user" or "assistant".
type Message struct {
	ID        string    `json:"id"`
	Session   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Source    string    `json:"source,omitempty"`
}
