package meals

import (
	"context"
	"errors"
	"testing"
	"time"

	"meal-backend/internal/analysis"
	"meal-backend/internal/queue"
)

const saladJSON = `{"description":"grilled chicken salad","source":"vision",
	"nutrients":{"calories":450,"protein":38,"carbs":12,"fat":24},
	"detailedIngredients":[{"name":"chicken","category":"protein","confidence":9},{"name":"lettuce","category":"vegetable","confidence":8}]}`

type countingRepo struct {
	*MemoryRepo
	creates int
	err     error
}

func (r *countingRepo) Create(ctx context.Context, meal Meal) error {
	r.creates++
	if r.err != nil {
		return r.err
	}
	return r.MemoryRepo.Create(ctx, meal)
}

func newTestGate(repo Repo, events queue.Client) *Gate {
	g := NewGate(repo, events)
	g.now = func() time.Time { return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC) }
	g.newID = func() string { return "3f0c8a8e-8f7e-4d0b-9b5e-2f1a7d9c6b11" }
	return g
}

func TestGateSavesValidResult(t *testing.T) {
	repo := &countingRepo{MemoryRepo: NewMemoryRepo()}
	events := queue.NewMemoryClient(nil)
	gate := newTestGate(repo, events)

	meal, err := gate.Save(context.Background(), SaveInput{
		UserID:    "user-1",
		ImageURL:  "https://cdn.example.com/meals/a.jpg",
		RequestID: "req-1",
		Analysis:  analysis.NormalizeText(saladJSON),
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if meal.ID == "" || meal.Description != "grilled chicken salad" || meal.Source != "vision" || meal.LowConfidence {
		t.Fatalf("unexpected meal %+v", meal)
	}

	stored, err := repo.GetByID(context.Background(), meal.ID)
	if err != nil || stored.ImageURL != "https://cdn.example.com/meals/a.jpg" {
		t.Fatalf("expected stored meal, got %+v %v", stored, err)
	}

	msgs := events.Messages()
	if len(msgs) != 1 || msgs[0].MealID != meal.ID || msgs[0].Type != queue.EventMealSaved {
		t.Fatalf("expected one meal.saved event, got %+v", msgs)
	}
	if msgs[0].SavedAt != "2026-02-01T12:00:00Z" {
		t.Fatalf("unexpected savedAt %q", msgs[0].SavedAt)
	}
}

func TestGateRejections(t *testing.T) {
	valid := analysis.NormalizeText(saladJSON)

	fallback := analysis.Fallback("all sources failed")

	flagged := valid.Clone()
	flagged.Fallback = true

	fallbackSource := valid.Clone()
	fallbackSource.Source = analysis.SourceFallback

	noDescription := valid.Clone()
	noDescription.Description = "  "

	noNutrients := valid.Clone()
	noNutrients.Nutrients = nil

	noIngredients := valid.Clone()
	noIngredients.DetailedIngredients = nil

	tests := []struct {
		name   string
		userID string
		result analysis.Result
		reason string
	}{
		{name: "missing user", userID: " ", result: valid, reason: RejectMissingUser},
		{name: "canned fallback", userID: "u", result: fallback, reason: RejectFallback},
		{name: "fallback flag on a well formed result", userID: "u", result: flagged, reason: RejectFallback},
		{name: "fallback source", userID: "u", result: fallbackSource, reason: RejectFallback},
		{name: "empty description", userID: "u", result: noDescription, reason: RejectMissingDescription},
		{name: "no nutrients", userID: "u", result: noNutrients, reason: RejectMissingNutrients},
		{name: "structurally invalid", userID: "u", result: noIngredients, reason: RejectInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &countingRepo{MemoryRepo: NewMemoryRepo()}
			events := queue.NewMemoryClient(nil)
			gate := newTestGate(repo, events)

			_, err := gate.Save(context.Background(), SaveInput{UserID: tt.userID, Analysis: tt.result})
			if !errors.Is(err, ErrRejected) {
				t.Fatalf("expected ErrRejected, got %v", err)
			}
			var rej *RejectionError
			if !errors.As(err, &rej) || rej.Reason != tt.reason {
				t.Fatalf("expected reason %s, got %v", tt.reason, err)
			}
			if repo.creates != 0 || len(events.Messages()) != 0 {
				t.Fatalf("rejected result must not reach storage or the queue")
			}
		})
	}
}

func TestGateReclassifiesLowConfidence(t *testing.T) {
	gate := newTestGate(NewMemoryRepo(), nil)
	res := analysis.NormalizeText(`{"description":"stew","nutrients":{"calories":300},
		"detailedIngredients":[{"name":"beef","confidence":3},{"name":"carrot","confidence":4}]}`)
	res.LowConfidence = false

	meal, err := gate.Save(context.Background(), SaveInput{UserID: "u", Analysis: res})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !meal.LowConfidence || !meal.Analysis.LowConfidence {
		t.Fatalf("expected the gate to restore the low confidence flag")
	}
}

func TestGatePublishFailureDoesNotFailSave(t *testing.T) {
	gate := newTestGate(NewMemoryRepo(), queue.NewMemoryClient(errors.New("queue down")))
	if _, err := gate.Save(context.Background(), SaveInput{UserID: "u", Analysis: analysis.NormalizeText(saladJSON)}); err != nil {
		t.Fatalf("expected save to succeed, got %v", err)
	}
}

func TestGateWrapsStorageErrors(t *testing.T) {
	repo := &countingRepo{MemoryRepo: NewMemoryRepo(), err: errors.New("connection refused")}
	gate := newTestGate(repo, nil)
	_, err := gate.Save(context.Background(), SaveInput{UserID: "u", Analysis: analysis.NormalizeText(saladJSON)})
	if err == nil || errors.Is(err, ErrRejected) {
		t.Fatalf("expected storage error, got %v", err)
	}
}
