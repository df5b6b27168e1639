package meals

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo stores meals in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu     sync.RWMutex
	byID   map[string]Meal
	byUser map[string][]string
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:   make(map[string]Meal),
		byUser: make(map[string][]string),
	}
}

// Create stores the meal.
func (r *MemoryRepo) Create(ctx context.Context, meal Meal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	meal.Analysis = meal.Analysis.Clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[meal.ID]; !exists {
		r.byUser[meal.UserID] = append(r.byUser[meal.UserID], meal.ID)
	}
	r.byID[meal.ID] = meal
	return nil
}

// GetByID returns a meal by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, mealID string) (Meal, error) {
	if err := ctx.Err(); err != nil {
		return Meal{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	meal, ok := r.byID[mealID]
	if !ok {
		return Meal{}, ErrNotFound
	}
	meal.Analysis = meal.Analysis.Clone()
	return meal, nil
}

// ListByUser returns a user's meals newest first.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]Meal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	out := make([]Meal, 0, len(r.byUser[userID]))
	for _, id := range r.byUser[userID] {
		meal := r.byID[id]
		if !opts.Before.IsZero() && !meal.CreatedAt.Before(opts.Before) {
			continue
		}
		out = append(out, meal)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := opts.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Repo = (*MemoryRepo)(nil)
