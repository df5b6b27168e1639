package analysis

import "strings"

// Merge combines a first-pass result with its enrichment pass. The result with more
// ingredients is the base; confidences take the maximum of both passes per field.
// LowConfidence is kept only when both passes flagged it, so callers should classify
// the merged value again.
func Merge(primary, enriched Result) Result {
	base, other := primary, enriched
	if len(enriched.DetailedIngredients) > len(primary.DetailedIngredients) {
		base, other = enriched, primary
	}
	out := base.Clone()

	otherConf := make(map[string]float64, len(other.DetailedIngredients))
	for _, it := range other.DetailedIngredients {
		key := strings.ToLower(strings.TrimSpace(it.Name))
		if c, ok := otherConf[key]; !ok || it.Confidence > c {
			otherConf[key] = it.Confidence
		}
	}
	for i, it := range out.DetailedIngredients {
		if c, ok := otherConf[strings.ToLower(strings.TrimSpace(it.Name))]; ok && c > it.Confidence {
			out.DetailedIngredients[i] = newIngredient(it.Name, it.Category, c)
		}
	}

	if other.Confidence > out.Confidence {
		out.Confidence = other.Confidence
	}
	if out.Description == PlaceholderDescription && other.Description != PlaceholderDescription {
		out.Description = other.Description
	}
	if allZero(out.Nutrients) && !allZero(other.Nutrients) {
		out.Nutrients = other.Clone().Nutrients
	}

	out.LowConfidence = primary.LowConfidence && enriched.LowConfidence
	out.Fallback = false
	out.Source = primary.Source
	for k, v := range other.Meta {
		if _, exists := out.Meta[k]; !exists {
			out.SetMeta(k, v)
		}
	}
	out.SetMeta("enriched", true)
	return out
}

func allZero(nutrients []Nutrient) bool {
	for _, n := range nutrients {
		if n.Amount != nil && *n.Amount > 0 {
			return false
		}
	}
	return true
}
