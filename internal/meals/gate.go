package meals

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"meal-backend/internal/analysis"
	"meal-backend/internal/queue"
	"meal-backend/internal/shared/telemetry"
	"meal-backend/internal/shared/util"
)

// Rejection reasons.
const (
	RejectMissingUser        = "missing_user"
	RejectFallback           = "fallback_result"
	RejectMissingDescription = "missing_description"
	RejectMissingNutrients   = "missing_nutrients"
	RejectInvalid            = "invalid_result"
)

// RejectionError explains why the gate refused a result. It matches ErrRejected.
type RejectionError struct {
	Reason string
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return "meal rejected: " + e.Reason
	}
	return fmt.Sprintf("meal rejected: %s (%s)", e.Reason, e.Detail)
}

// Is reports ErrRejected.
func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

// SaveInput is what callers hand to the gate.
type SaveInput struct {
	UserID    string
	ImageURL  string
	ImageKey  string
	ImageMIME string
	RequestID string
	Analysis  analysis.Result
}

// Gate re-validates every result before it reaches the repository. It trusts nothing
// the caller claims about the result.
type Gate struct {
	repo   Repo
	events queue.Client
	now    func() time.Time
	newID  func() string
}

// NewGate builds a gate. events may be nil.
func NewGate(repo Repo, events queue.Client) *Gate {
	return &Gate{
		repo:   repo,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Check runs the gate's checks without saving.
func Check(in SaveInput) error {
	res := in.Analysis
	switch {
	case strings.TrimSpace(in.UserID) == "":
		return &RejectionError{Reason: RejectMissingUser}
	case res.Fallback || res.Source == analysis.SourceFallback || res.ModelInfo.UsedFallback:
		return &RejectionError{Reason: RejectFallback}
	case strings.TrimSpace(res.Description) == "":
		return &RejectionError{Reason: RejectMissingDescription}
	case len(res.Nutrients) == 0:
		return &RejectionError{Reason: RejectMissingNutrients}
	}
	if cls := analysis.Classify(res); !cls.IsValid {
		return &RejectionError{Reason: RejectInvalid, Detail: string(cls.Reason)}
	}
	return nil
}

// Save checks and stores the meal and publishes a meal-saved event. Rejected results
// never reach the repository. A failed publish is logged and does not fail the save.
func (g *Gate) Save(ctx context.Context, in SaveInput) (Meal, error) {
	if err := Check(in); err != nil {
		telemetry.Warn("meals.rejected", map[string]any{
			"request_id": in.RequestID,
			"user_id":    in.UserID,
			"reason":     err.Error(),
		})
		return Meal{}, err
	}

	res := in.Analysis.Clone()
	res.LowConfidence = analysis.Classify(res).IsLowConfidence
	meal := Meal{
		ID:            g.newID(),
		UserID:        strings.TrimSpace(in.UserID),
		ImageURL:      in.ImageURL,
		ImageKey:      in.ImageKey,
		ImageMIME:     in.ImageMIME,
		RequestID:     in.RequestID,
		Description:   res.Description,
		Source:        res.Source,
		LowConfidence: res.LowConfidence,
		Analysis:      res,
		CreatedAt:     g.now(),
	}
	if err := g.repo.Create(ctx, meal); err != nil {
		return Meal{}, fmt.Errorf("store meal: %w", err)
	}
	telemetry.Info("meals.saved", map[string]any{
		"request_id":     meal.RequestID,
		"user_id":        meal.UserID,
		"meal_id":        meal.ID,
		"source":         meal.Source,
		"low_confidence": meal.LowConfidence,
	})
	g.publish(ctx, meal)
	return meal, nil
}

// Get returns a stored meal.
func (g *Gate) Get(ctx context.Context, mealID string) (Meal, error) {
	return g.repo.GetByID(ctx, mealID)
}

// List returns a user's meals.
func (g *Gate) List(ctx context.Context, userID string, opts ListOptions) ([]Meal, error) {
	return g.repo.ListByUser(ctx, userID, opts)
}

func (g *Gate) publish(ctx context.Context, meal Meal) {
	if g.events == nil {
		return
	}
	err := g.events.Send(ctx, queue.Message{
		Type:          queue.EventMealSaved,
		MealID:        meal.ID,
		UserID:        meal.UserID,
		RequestID:     meal.RequestID,
		Source:        meal.Source,
		LowConfidence: meal.LowConfidence,
		SavedAt:       meal.CreatedAt.Format(time.RFC3339),
		Version:       queue.MessageVersion,
	})
	if err != nil {
		telemetry.Error("queue.publish_failed", map[string]any{
			"request_id": meal.RequestID,
			"meal_id":    meal.ID,
			"error":      util.ErrorText(err),
		})
	}
}
