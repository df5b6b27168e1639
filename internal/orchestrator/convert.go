package orchestrator

import (
	"math"
	"strings"

	"meal-backend/internal/analysis"
	"meal-backend/internal/nutrition"
	"meal-backend/internal/shared/util"
)

const maxMetaText = 500

// fromNutritionDB turns matched foods into an untrusted payload and normalizes it like any
// other adapter output. Ingredient confidence scales with how well the text was read.
func fromNutritionDB(n nutrition.Result, ocrConfidence float64) analysis.Result {
	tot := n.Totals()
	conf := math.Round((6+3*clamp01(ocrConfidence))*10) / 10

	names := make([]string, 0, len(n.Foods))
	ingredients := make([]any, 0, len(n.Foods))
	for _, f := range n.Foods {
		names = append(names, f.Name)
		ingredients = append(ingredients, map[string]any{
			"name":       f.Name,
			"category":   "other",
			"confidence": conf,
		})
	}

	payload := map[string]any{
		"description": strings.Join(names, ", "),
		"nutrients": map[string]any{
			"calories":      tot.Calories,
			"protein":       tot.Protein,
			"carbs":         tot.Carbs,
			"fat":           tot.Fat,
			"fiber":         tot.Fiber,
			"sugar":         tot.Sugar,
			"sodium":        tot.Sodium,
			"saturated fat": tot.SaturatedFat,
			"cholesterol":   tot.Cholesterol,
			"potassium":     tot.Potassium,
		},
		"detailedIngredients": ingredients,
		"confidence":          conf,
		"modelInfo": map[string]any{
			"model":        "nutritionix",
			"ocrExtracted": true,
		},
		"source": analysis.SourceNutritionix,
	}
	res := analysis.NormalizeValue(payload)
	res.SetMeta("foodsMatched", float64(len(n.Foods)))
	return res
}

// fromEstimate normalizes the estimator's raw text.
func fromEstimate(raw, model string) analysis.Result {
	res := analysis.NormalizeText(raw)
	res.Source = analysis.SourceOCRLLM
	res.ModelInfo.Model = model
	res.ModelInfo.OCRExtracted = true
	return res
}

func fromVision(raw, model string) analysis.Result {
	res := analysis.NormalizeText(raw)
	res.Source = analysis.SourceVision
	if res.ModelInfo.Model == "" || res.ModelInfo.Model == "unknown" {
		res.ModelInfo.Model = model
	}
	return res
}

func withOCRMeta(res analysis.Result, text string, confidence float64) analysis.Result {
	res.SetMeta("ocrText", util.Truncate(text, maxMetaText))
	res.SetMeta("ocrConfidence", math.Round(confidence*100)/100)
	return res
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
