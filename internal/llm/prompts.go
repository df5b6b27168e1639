package llm

import (
	_ "embed"
	"strings"
)

var (
	//go:embed prompts/vision.txt
	promptVision string
	//go:embed prompts/vision_enrich.txt
	promptVisionEnrich string
	//go:embed prompts/estimate.txt
	promptEstimate string
)

// SystemPrompt is shared by every provider.
const SystemPrompt = "You are a nutrition analysis engine. Respond with JSON only. No markdown. Never omit keys."

// VisionPrompt renders the meal analysis instructions. The enrichment pass prepends a
// request to look harder.
func VisionPrompt(goals, preferences []string, enrich bool) string {
	replacer := strings.NewReplacer(
		"{{HEALTH_GOALS}}", listOrNone(goals),
		"{{DIETARY_PREFERENCES}}", listOrNone(preferences),
	)
	body := replacer.Replace(promptVision)
	if enrich {
		return promptVisionEnrich + "\n" + body
	}
	return body
}

// EstimatePrompt renders the text-to-nutrition instructions.
func EstimatePrompt(text string, goals []string) string {
	replacer := strings.NewReplacer(
		"{{TEXT}}", strings.TrimSpace(text),
		"{{HEALTH_GOALS}}", listOrNone(goals),
	)
	return replacer.Replace(promptEstimate)
}

func listOrNone(items []string) string {
	var out []string
	for _, it := range items {
		if s := strings.TrimSpace(it); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return "none specified"
	}
	return strings.Join(out, ", ")
}
