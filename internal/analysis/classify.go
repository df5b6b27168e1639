package analysis

// Reason explains a classification outcome.
type Reason string

const (
	ReasonOK                    Reason = "ok"
	ReasonNoIngredients         Reason = "no_ingredients"
	ReasonIngredientsBelowFloor Reason = "ingredients_below_floor"
	ReasonUpstreamFlag          Reason = "upstream_flag"
	ReasonLowOverallConfidence  Reason = "low_overall_confidence"
	ReasonLowMeanConfidence     Reason = "low_mean_confidence"
	ReasonMostlyLowConfidence   Reason = "majority_low_confidence"
	ReasonImageChallenges       Reason = "image_challenges"
)

const (
	// ValidityFloor: a result whose every ingredient scores below this is not a real detection.
	ValidityFloor = 2.0
	// LowConfidenceThreshold applies to the overall score, the ingredient mean and each ingredient.
	LowConfidenceThreshold = 5.0
	// StrongConfidence: when every ingredient reaches it the result is never low confidence.
	StrongConfidence = 8.0
)

// Classification is the two-axis verdict on a result.
type Classification struct {
	IsValid         bool   `json:"isValid"`
	IsLowConfidence bool   `json:"isLowConfidence"`
	Reason          Reason `json:"reason"`
}

// Classify decides whether a result is structurally usable and whether it should be
// treated as tentative. Reason is the validity failure if any, else the first
// low-confidence trigger, else ReasonOK.
func Classify(r Result) Classification {
	items := r.DetailedIngredients
	if len(items) == 0 {
		return Classification{IsValid: false, IsLowConfidence: true, Reason: ReasonNoIngredients}
	}

	var below2, below5, atLeast8 int
	for _, it := range items {
		if it.Confidence < ValidityFloor {
			below2++
		}
		if it.Confidence < LowConfidenceThreshold {
			below5++
		}
		if it.Confidence >= StrongConfidence {
			atLeast8++
		}
	}
	if below2 == len(items) {
		return Classification{IsValid: false, IsLowConfidence: true, Reason: ReasonIngredientsBelowFloor}
	}
	if atLeast8 == len(items) {
		return Classification{IsValid: true, Reason: ReasonOK}
	}

	reason := ReasonOK
	switch {
	case r.LowConfidence:
		reason = ReasonUpstreamFlag
	case r.Confidence < LowConfidenceThreshold:
		reason = ReasonLowOverallConfidence
	case meanConfidence(items) < LowConfidenceThreshold:
		reason = ReasonLowMeanConfidence
	case below5*2 > len(items):
		reason = ReasonMostlyLowConfidence
	case len(r.ImageChallenges) > 0:
		reason = ReasonImageChallenges
	}
	return Classification{IsValid: true, IsLowConfidence: reason != ReasonOK, Reason: reason}
}

// ShouldEnrich reports whether a first-pass result warrants the single enrichment call.
func ShouldEnrich(c Classification, alreadyEnriched bool) bool {
	return !alreadyEnriched && c.IsValid && c.IsLowConfidence
}
