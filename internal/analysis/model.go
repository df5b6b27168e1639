package analysis

// Provenance tags carried in Result.Source.
const (
	SourceVision      = "vision"
	SourceNutritionix = "nutritionix"
	SourceOCRLLM      = "ocr-llm"
	SourceFallback    = "fallback"
	SourceUnknown     = "unknown"
)

// Result is the canonical meal analysis returned to callers and persisted.
type Result struct {
	Description         string         `json:"description"`
	Nutrients           []Nutrient     `json:"nutrients"`
	Feedback            []string       `json:"feedback"`
	Suggestions         []string       `json:"suggestions"`
	DetailedIngredients []Ingredient   `json:"detailedIngredients"`
	GoalScore           GoalScore      `json:"goalScore"`
	ModelInfo           ModelInfo      `json:"modelInfo"`
	Confidence          float64        `json:"confidence"`
	ImageChallenges     []string       `json:"imageChallenges"`
	LowConfidence       bool           `json:"lowConfidence"`
	Fallback            bool           `json:"fallback"`
	Source              string         `json:"source"`
	Meta                map[string]any `json:"_meta,omitempty"`
}

// Nutrient is one display row. Value is the display form; Amount is the parsed number when known.
type Nutrient struct {
	Name                string   `json:"name"`
	Value               string   `json:"value"`
	Unit                string   `json:"unit"`
	IsHighlight         bool     `json:"isHighlight"`
	PercentOfDailyValue *float64 `json:"percentOfDailyValue,omitempty"`
	Amount              *float64 `json:"amount,omitempty"`
}

// Ingredient is a detected food item with a 0-10 confidence.
type Ingredient struct {
	Name            string  `json:"name"`
	Category        string  `json:"category"`
	Confidence      float64 `json:"confidence"`
	ConfidenceEmoji string  `json:"confidenceEmoji"`
}

// GoalScore rates the meal against the caller's health goals on a 0-10 scale.
type GoalScore struct {
	Overall  float64            `json:"overall"`
	Specific map[string]float64 `json:"specific"`
}

// ModelInfo records which model produced the result.
type ModelInfo struct {
	Model        string `json:"model"`
	UsedFallback bool   `json:"usedFallback"`
	OCRExtracted bool   `json:"ocrExtracted"`
}

// NutrientAmount returns the parsed amount of the named nutrient.
func (r Result) NutrientAmount(name string) (float64, bool) {
	for _, n := range r.Nutrients {
		if n.Name == name && n.Amount != nil {
			return *n.Amount, true
		}
	}
	return 0, false
}

// Clone returns a deep copy so callers can mutate flags without aliasing slices.
func (r Result) Clone() Result {
	out := r
	out.Nutrients = make([]Nutrient, len(r.Nutrients))
	for i, n := range r.Nutrients {
		out.Nutrients[i] = n
		if n.Amount != nil {
			v := *n.Amount
			out.Nutrients[i].Amount = &v
		}
		if n.PercentOfDailyValue != nil {
			v := *n.PercentOfDailyValue
			out.Nutrients[i].PercentOfDailyValue = &v
		}
	}
	out.Feedback = append([]string{}, r.Feedback...)
	out.Suggestions = append([]string{}, r.Suggestions...)
	out.DetailedIngredients = append([]Ingredient{}, r.DetailedIngredients...)
	out.ImageChallenges = append([]string{}, r.ImageChallenges...)
	out.GoalScore.Specific = make(map[string]float64, len(r.GoalScore.Specific))
	for k, v := range r.GoalScore.Specific {
		out.GoalScore.Specific[k] = v
	}
	if r.Meta != nil {
		out.Meta = make(map[string]any, len(r.Meta))
		for k, v := range r.Meta {
			out.Meta[k] = v
		}
	}
	return out
}

// SetMeta records a diagnostic value, allocating the bag on first use.
func (r *Result) SetMeta(key string, value any) {
	if r.Meta == nil {
		r.Meta = map[string]any{}
	}
	r.Meta[key] = value
}
