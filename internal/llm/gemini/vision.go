package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"meal-backend/internal/llm"
	"meal-backend/internal/shared/telemetry"
)

const (
	visionTemperature       = float32(0.2)
	visionEnrichTemperature = float32(0.7)
)

type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// VisionClient implements llm.VisionClient on Gemini.
type VisionClient struct {
	client *genai.Client
	model  string
	base   generator
	enrich generator
}

// NewVisionClient dials Gemini with an API key. Close releases the connection.
func NewVisionClient(ctx context.Context, apiKey, model string) (*VisionClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required: %w", llm.ErrMissingAPIKey)
	}
	if strings.TrimSpace(model) == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &VisionClient{
		client: client,
		model:  model,
		base:   configure(client.GenerativeModel(model), visionTemperature),
		enrich: configure(client.GenerativeModel(model), visionEnrichTemperature),
	}, nil
}

func configure(m *genai.GenerativeModel, temperature float32) *genai.GenerativeModel {
	m.SetTemperature(temperature)
	m.SetMaxOutputTokens(2048)
	m.ResponseMIMEType = "application/json"
	m.SystemInstruction = genai.NewUserContent(genai.Text(llm.SystemPrompt))
	return m
}

// Model returns the configured model name.
func (v *VisionClient) Model() string {
	return v.model
}

// Close releases the underlying client.
func (v *VisionClient) Close() error {
	if v.client == nil {
		return nil
	}
	return v.client.Close()
}

// AnalyzeMeal sends the prompt and image inline.
func (v *VisionClient) AnalyzeMeal(ctx context.Context, input llm.VisionInput) (string, error) {
	if len(input.Image) == 0 {
		return "", fmt.Errorf("gemini vision: empty image")
	}
	enrich := llm.EnrichmentFromContext(ctx)
	gen := v.base
	if enrich {
		gen = v.enrich
	}
	mime := input.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}

	resp, err := gen.GenerateContent(ctx,
		genai.Text(llm.VisionPrompt(input.HealthGoals, input.DietaryPreferences, enrich)),
		genai.Blob{
			MIMEType: mime,
			Data:     input.Image,
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text, err := responseText(resp)
	if err != nil {
		return "", err
	}

	fields := map[string]any{
		"request_id": input.RequestID,
		"op":         "vision",
		"model":      v.model,
		"enrich":     enrich,
	}
	if resp.UsageMetadata != nil {
		fields["prompt_tokens"] = resp.UsageMetadata.PromptTokenCount
		fields["completion_tokens"] = resp.UsageMetadata.CandidatesTokenCount
		fields["total_tokens"] = resp.UsageMetadata.TotalTokenCount
	}
	telemetry.Info("llm.response", fields)
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil {
			return "", fmt.Errorf("gemini blocked prompt: %v", resp.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("no response from Gemini API")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return "", fmt.Errorf("no content parts from Gemini API (FinishReason: %v)", cand.FinishReason)
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("empty response from Gemini API")
	}
	return out, nil
}

var _ llm.VisionClient = (*VisionClient)(nil)
