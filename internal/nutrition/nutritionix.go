package nutrition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"meal-backend/internal/shared/telemetry"
)

const defaultEndpoint = "https://trac.nutritionix.com/v2/natural/nutrients"

// ErrNoFoods is returned when the text matched no foods.
var ErrNoFoods = errors.New("nutrition: no foods matched")

// Food is one matched item with per-serving nutrients. Mineral amounts are in mg.
type Food struct {
	Name         string
	ServingQty   float64
	ServingUnit  string
	ServingGrams float64
	Calories     float64
	Protein      float64
	Carbs        float64
	Fat          float64
	Fiber        float64
	Sugar        float64
	Sodium       float64
	SaturatedFat float64
	Cholesterol  float64
	Potassium    float64
}

// Result is a lookup outcome.
type Result struct {
	Query string
	Foods []Food
}

// Totals sums the nutrients of every food.
func (r Result) Totals() Food {
	var t Food
	for _, f := range r.Foods {
		t.Calories += f.Calories
		t.Protein += f.Protein
		t.Carbs += f.Carbs
		t.Fat += f.Fat
		t.Fiber += f.Fiber
		t.Sugar += f.Sugar
		t.Sodium += f.Sodium
		t.SaturatedFat += f.SaturatedFat
		t.Cholesterol += f.Cholesterol
		t.Potassium += f.Potassium
		t.ServingGrams += f.ServingGrams
	}
	return t
}

// Client looks up nutrition for free text.
type Client interface {
	Lookup(ctx context.Context, text, requestID string) (Result, error)
}

// Nutritionix queries the Nutritionix natural language endpoint.
type Nutritionix struct {
	appID      string
	appKey     string
	endpoint   string
	httpClient *http.Client
}

// NewNutritionix builds the client. An empty endpoint uses the public API.
func NewNutritionix(appID, appKey, endpoint string) *Nutritionix {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = defaultEndpoint
	}
	return &Nutritionix{
		appID:      appID,
		appKey:     appKey,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type nutrientsRequest struct {
	Query string `json:"query"`
}

type nutrientsResponse struct {
	Foods []struct {
		FoodName      string   `json:"food_name"`
		ServingQty    float64  `json:"serving_qty"`
		ServingUnit   string   `json:"serving_unit"`
		ServingWeight *float64 `json:"serving_weight_grams"`
		Calories      float64  `json:"nf_calories"`
		TotalFat      float64  `json:"nf_total_fat"`
		SaturatedFat  float64  `json:"nf_saturated_fat"`
		Cholesterol   float64  `json:"nf_cholesterol"`
		Sodium        float64  `json:"nf_sodium"`
		Carbohydrate  float64  `json:"nf_total_carbohydrate"`
		DietaryFiber  float64  `json:"nf_dietary_fiber"`
		Sugars        float64  `json:"nf_sugars"`
		Protein       float64  `json:"nf_protein"`
		Potassium     float64  `json:"nf_potassium"`
	} `json:"foods"`
	Message string `json:"message"`
}

// Lookup sends the text to Nutritionix and returns the matched foods.
func (n *Nutritionix) Lookup(ctx context.Context, text, requestID string) (Result, error) {
	query := strings.TrimSpace(text)
	if query == "" {
		return Result{}, ErrNoFoods
	}
	payload, err := json.Marshal(nutrientsRequest{Query: query})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-app-id", n.appID)
	req.Header.Set("x-app-key", n.appKey)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to call nutritionix: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read nutritionix response: %w", err)
	}

	var parsed nutrientsResponse
	jsonErr := json.Unmarshal(body, &parsed)
	// Nutritionix answers 404 with a message when the query matches nothing.
	if resp.StatusCode == http.StatusNotFound {
		return Result{}, ErrNoFoods
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if jsonErr == nil && parsed.Message != "" {
			msg = parsed.Message
		}
		return Result{}, fmt.Errorf("nutritionix API error %d: %s", resp.StatusCode, msg)
	}
	if jsonErr != nil {
		return Result{}, fmt.Errorf("failed to parse nutritionix JSON: %w", jsonErr)
	}

	out := Result{Query: query, Foods: make([]Food, 0, len(parsed.Foods))}
	for _, f := range parsed.Foods {
		name := strings.TrimSpace(f.FoodName)
		if name == "" {
			continue
		}
		food := Food{
			Name:         name,
			ServingQty:   f.ServingQty,
			ServingUnit:  f.ServingUnit,
			Calories:     f.Calories,
			Protein:      f.Protein,
			Carbs:        f.Carbohydrate,
			Fat:          f.TotalFat,
			Fiber:        f.DietaryFiber,
			Sugar:        f.Sugars,
			Sodium:       f.Sodium,
			SaturatedFat: f.SaturatedFat,
			Cholesterol:  f.Cholesterol,
			Potassium:    f.Potassium,
		}
		if f.ServingWeight != nil {
			food.ServingGrams = *f.ServingWeight
		}
		out.Foods = append(out.Foods, food)
	}
	if len(out.Foods) == 0 {
		return Result{}, ErrNoFoods
	}
	telemetry.Info("nutrition.lookup", map[string]any{
		"request_id": requestID,
		"foods":      len(out.Foods),
	})
	return out, nil
}

var _ Client = (*Nutritionix)(nil)
