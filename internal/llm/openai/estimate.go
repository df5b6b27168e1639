package openai

import (
	"context"
	"fmt"
	"strings"

	"meal-backend/internal/llm"
)

// EstimateClient implements llm.NutritionEstimator from OCR text.
type EstimateClient struct {
	*Client
}

// NewEstimateClient constructs an estimator for the given model.
func NewEstimateClient(apiKey, model string) (*EstimateClient, error) {
	c, err := NewClient(apiKey, model)
	if err != nil {
		return nil, err
	}
	return &EstimateClient{Client: c}, nil
}

// EstimateNutrition asks the model for a nutrition estimate of the described meal.
func (e *EstimateClient) EstimateNutrition(ctx context.Context, input llm.EstimateInput) (string, error) {
	if strings.TrimSpace(input.Text) == "" {
		return "", fmt.Errorf("openai estimate: empty text")
	}
	messages := []chatMessage{
		{Role: "system", Content: llm.SystemPrompt},
		{Role: "user", Content: llm.EstimatePrompt(input.Text, input.HealthGoals)},
	}
	return e.complete(ctx, "estimate", input.RequestID, messages, 0, 800)
}

var _ llm.NutritionEstimator = (*EstimateClient)(nil)
