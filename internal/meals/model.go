package meals

import (
	"errors"
	"time"

	"meal-backend/internal/analysis"
)

var (
	ErrNotFound = errors.New("meal not found")
	ErrRejected = errors.New("meal rejected")
)

// List paging bounds.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Meal is a persisted analysis of one photo.
type Meal struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	ImageURL      string          `json:"imageUrl"`
	ImageKey      string          `json:"-"`
	ImageMIME     string          `json:"imageMimeType,omitempty"`
	RequestID     string          `json:"requestId,omitempty"`
	Description   string          `json:"description"`
	Source        string          `json:"source"`
	LowConfidence bool            `json:"lowConfidence"`
	Analysis      analysis.Result `json:"analysis"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// ListOptions pages through a user's meals, newest first. Before is exclusive.
type ListOptions struct {
	Limit  int
	Before time.Time
}

func (o ListOptions) limit() int {
	switch {
	case o.Limit <= 0:
		return DefaultListLimit
	case o.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return o.Limit
	}
}
