package analysis

import (
	"strings"
)

const (
	// DefaultIngredientConfidence is assigned when a model omits a per-ingredient score.
	DefaultIngredientConfidence = 5.0
	defaultGoalScore            = 5.0

	PlaceholderDescription = "Meal details could not be fully determined"
	defaultCategory        = "other"
	defaultModel           = "unknown"
)

var (
	defaultFeedback    = []string{"Nutritional values are estimates based on the visible portion sizes."}
	defaultSuggestions = []string{"Take the photo from above in good lighting for a more precise analysis."}
)

// Normalize turns any parse outcome into a fully populated Result. It never fails:
// every required field is copied when usable and defaulted otherwise.
func Normalize(pr ParseResult) Result {
	switch p := pr.(type) {
	case ParseSuccess:
		return fromPayload(p.Payload)
	case ParseFailure:
		r := fromPayload(map[string]any{})
		r.SetMeta("parseError", p.Reason)
		return r
	default:
		return fromPayload(map[string]any{})
	}
}

// NormalizeText parses raw model output and normalizes it.
func NormalizeText(text string) Result {
	return Normalize(Parse(text))
}

// NormalizeValue normalizes any value ParseValue accepts, including an existing Result.
func NormalizeValue(v any) Result {
	return Normalize(ParseValue(v))
}

func fromPayload(obj map[string]any) Result {
	// Some models wrap everything in {"analysis": {...}}.
	if inner, ok := obj["analysis"].(map[string]any); ok && len(obj) == 1 {
		obj = inner
	}

	r := Result{
		Description:     PlaceholderDescription,
		Feedback:        append([]string{}, defaultFeedback...),
		Suggestions:     append([]string{}, defaultSuggestions...),
		ImageChallenges: []string{},
		Source:          SourceUnknown,
	}

	if s, ok := stringField(obj, "description", "mealDescription", "summary", "mealName"); ok {
		r.Description = s
	}

	nutrientsRaw, _ := firstPresent(obj, "nutrients", "nutrition", "nutritionalInfo", "macros")
	r.Nutrients = normalizeNutrients(nutrientsRaw)

	if raw, ok := firstPresent(obj, "feedback"); ok {
		if list := stringList(raw); len(list) > 0 {
			r.Feedback = list
		}
	}
	if raw, ok := firstPresent(obj, "suggestions", "recommendations"); ok {
		if list := stringList(raw); len(list) > 0 {
			r.Suggestions = list
		}
	}

	ingredientsRaw, _ := firstPresent(obj, "detailedIngredients", "ingredients", "foods", "items")
	r.DetailedIngredients = normalizeIngredients(ingredientsRaw)

	r.GoalScore = normalizeGoalScore(obj)
	r.ModelInfo = normalizeModelInfo(obj["modelInfo"])

	if c, ok := numberField(obj, "confidence", "confidenceScore", "overallConfidence"); ok {
		r.Confidence = round1(clamp(c, 0, 10))
	} else {
		r.Confidence = round1(meanConfidence(r.DetailedIngredients))
	}

	if raw, ok := firstPresent(obj, "imageChallenges", "challenges"); ok {
		r.ImageChallenges = stringList(raw)
	}

	if v, ok := boolField(obj, "lowConfidence"); ok {
		r.LowConfidence = v
	}
	if v, ok := boolField(obj, "fallback"); ok {
		r.Fallback = v
	}
	if s, ok := stringField(obj, "source"); ok {
		r.Source = s
	}
	if meta, ok := obj["_meta"].(map[string]any); ok && len(meta) > 0 {
		r.Meta = make(map[string]any, len(meta))
		for k, v := range meta {
			r.Meta[k] = v
		}
	}
	return r
}

func normalizeIngredients(v any) []Ingredient {
	out := []Ingredient{}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range items {
		switch val := item.(type) {
		case string:
			name := strings.TrimSpace(val)
			if name == "" {
				continue
			}
			out = append(out, newIngredient(name, defaultCategory, DefaultIngredientConfidence))
		case map[string]any:
			name, ok := stringField(val, "name", "ingredient", "item", "food", "food_name")
			if !ok {
				continue
			}
			category, ok := stringField(val, "category", "type", "group")
			if !ok {
				category = defaultCategory
			}
			confidence, ok := numberField(val, "confidence", "confidenceScore", "score")
			if !ok {
				confidence = DefaultIngredientConfidence
			}
			out = append(out, newIngredient(name, strings.ToLower(category), confidence))
		}
	}
	return out
}

func newIngredient(name, category string, confidence float64) Ingredient {
	confidence = round1(clamp(confidence, 0, 10))
	return Ingredient{
		Name:            name,
		Category:        category,
		Confidence:      confidence,
		ConfidenceEmoji: ConfidenceEmoji(confidence),
	}
}

// ConfidenceEmoji is the badge shown next to an ingredient.
func ConfidenceEmoji(confidence float64) string {
	switch {
	case confidence >= StrongConfidence:
		return "🟢"
	case confidence >= LowConfidenceThreshold:
		return "🟡"
	default:
		return "🔴"
	}
}

func normalizeGoalScore(obj map[string]any) GoalScore {
	gs := GoalScore{Overall: defaultGoalScore, Specific: map[string]float64{}}
	raw, ok := firstPresent(obj, "goalScore", "goalAlignment", "healthScore")
	if !ok {
		return gs
	}
	switch val := raw.(type) {
	case map[string]any:
		if overall, ok := numberField(val, "overall", "score", "total"); ok {
			gs.Overall = round1(clamp(overall, 0, 10))
		}
		if specific, ok := val["specific"].(map[string]any); ok {
			for goal, score := range specific {
				if n, ok := numberValue(score); ok && strings.TrimSpace(goal) != "" {
					gs.Specific[strings.TrimSpace(goal)] = round1(clamp(n, 0, 10))
				}
			}
		}
	default:
		if overall, ok := numberValue(val); ok {
			gs.Overall = round1(clamp(overall, 0, 10))
		}
	}
	return gs
}

func normalizeModelInfo(v any) ModelInfo {
	info := ModelInfo{Model: defaultModel}
	obj, ok := v.(map[string]any)
	if !ok {
		return info
	}
	if s, ok := stringField(obj, "model", "name"); ok {
		info.Model = s
	}
	if b, ok := boolField(obj, "usedFallback"); ok {
		info.UsedFallback = b
	}
	if b, ok := boolField(obj, "ocrExtracted"); ok {
		info.OCRExtracted = b
	}
	return info
}

func meanConfidence(items []Ingredient) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, it := range items {
		sum += it.Confidence
	}
	return sum / float64(len(items))
}
