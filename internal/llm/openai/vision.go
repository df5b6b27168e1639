package openai

import (
	"context"
	"fmt"
	"strings"

	"meal-backend/internal/llm"
)

const (
	visionTemperature       = float32(0.2)
	visionEnrichTemperature = float32(0.7)
	visionMaxTokens         = 1500
)

// VisionClient implements llm.VisionClient with image content parts.
type VisionClient struct {
	*Client
}

// NewVisionClient constructs a vision client for the given model.
func NewVisionClient(apiKey, model string) (*VisionClient, error) {
	c, err := NewClient(apiKey, model)
	if err != nil {
		return nil, err
	}
	return &VisionClient{Client: c}, nil
}

// AnalyzeMeal sends the photo with low detail, or high detail and a higher temperature on
// the enrichment pass.
func (v *VisionClient) AnalyzeMeal(ctx context.Context, input llm.VisionInput) (string, error) {
	if strings.TrimSpace(input.ImageBase64) == "" {
		return "", fmt.Errorf("openai vision: empty image")
	}
	enrich := llm.EnrichmentFromContext(ctx)
	detail, temp, op := "low", visionTemperature, "vision"
	if enrich {
		detail, temp, op = "high", visionEnrichTemperature, "vision_enrich"
	}
	mime := input.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}

	messages := []chatMessage{
		{Role: "system", Content: llm.SystemPrompt},
		{Role: "user", Content: []contentPart{
			{Type: "text", Text: llm.VisionPrompt(input.HealthGoals, input.DietaryPreferences, enrich)},
			{Type: "image_url", ImageURL: &imageURL{
				URL:    "data:" + mime + ";base64," + input.ImageBase64,
				Detail: detail,
			}},
		}},
	}
	return v.complete(ctx, op, input.RequestID, messages, temp, visionMaxTokens)
}

var _ llm.VisionClient = (*VisionClient)(nil)
