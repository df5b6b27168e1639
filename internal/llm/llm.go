package llm

import (
	"context"
	"errors"
)

// VisionClient asks a vision-capable model to analyze a meal photo. The returned text is
// untrusted and goes straight to the normalizer.
type VisionClient interface {
	AnalyzeMeal(ctx context.Context, input VisionInput) (string, error)
	Model() string
}

// VisionInput captures the inputs for a meal analysis call.
type VisionInput struct {
	ImageBase64        string
	Image              []byte
	MIMEType           string
	HealthGoals        []string
	DietaryPreferences []string
	RequestID          string
}

// NutritionEstimator estimates nutrition from text read off the photo.
type NutritionEstimator interface {
	EstimateNutrition(ctx context.Context, input EstimateInput) (string, error)
	Model() string
}

// EstimateInput captures the inputs for a text-based nutrition estimate.
type EstimateInput struct {
	Text        string
	HealthGoals []string
	RequestID   string
}

type enrichmentKey struct{}

// WithEnrichment returns a context signaling the single, more aggressive enrichment pass.
func WithEnrichment(ctx context.Context) context.Context {
	return context.WithValue(ctx, enrichmentKey{}, true)
}

// EnrichmentFromContext reports whether the call is the enrichment pass.
func EnrichmentFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(enrichmentKey{}).(bool)
	return v
}

// ErrMissingAPIKey is returned when a provider is constructed without credentials.
var ErrMissingAPIKey = errors.New("llm: missing api key")
