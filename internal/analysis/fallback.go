package analysis

// FallbackDescription is the fixed description of the last-resort result.
const FallbackDescription = "Could not analyze meal"

// Fallback builds the canned result returned when no source produced a usable analysis.
// It has the four core nutrients at zero and is never persisted.
func Fallback(reason string) Result {
	nutrients := make([]Nutrient, 0, len(CoreNutrients))
	for _, name := range CoreNutrients {
		zero := 0.0
		nutrients = append(nutrients, Nutrient{
			Name:        name,
			Value:       "0",
			Unit:        DefaultUnit(name),
			IsHighlight: true,
			Amount:      &zero,
		})
	}
	r := Result{
		Description: FallbackDescription,
		Nutrients:   nutrients,
		Feedback: []string{
			"We couldn't analyze this image right now.",
		},
		Suggestions: []string{
			"Try again with a clear, well-lit photo of the whole plate.",
		},
		DetailedIngredients: []Ingredient{},
		GoalScore:           GoalScore{Overall: 0, Specific: map[string]float64{}},
		ModelInfo:           ModelInfo{Model: "none", UsedFallback: true},
		ImageChallenges:     []string{},
		LowConfidence:       true,
		Fallback:            true,
		Source:              SourceFallback,
	}
	if reason != "" {
		r.SetMeta("fallbackReason", reason)
	}
	return r
}
