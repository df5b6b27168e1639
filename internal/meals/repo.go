package meals

import "context"

// Repo defines persistence operations for meals.
type Repo interface {
	Create(ctx context.Context, meal Meal) error
	GetByID(ctx context.Context, mealID string) (Meal, error)
	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]Meal, error)
}
