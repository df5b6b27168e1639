package analysis

import (
	"sort"
	"strings"
)

// CoreNutrients are always present, in this order, at the head of Result.Nutrients.
var CoreNutrients = []string{"calories", "protein", "carbs", "fat"}

// secondaryOrder ranks common nutrients after the core four; anything else sorts alphabetically.
var secondaryOrder = []string{
	"fiber", "sugar", "saturated fat", "trans fat", "sodium", "cholesterol",
	"potassium", "calcium", "iron", "magnesium", "vitamin c", "vitamin d",
}

var nutrientAliases = map[string]string{
	"calorie":              "calories",
	"energy":               "calories",
	"kcal":                 "calories",
	"cal":                  "calories",
	"kilocalories":         "calories",
	"proteins":             "protein",
	"carb":                 "carbs",
	"carbohydrate":         "carbs",
	"carbohydrates":        "carbs",
	"total carbohydrate":   "carbs",
	"total carbohydrates":  "carbs",
	"total carbs":          "carbs",
	"net carbs":            "net carbs",
	"fats":                 "fat",
	"total fat":            "fat",
	"lipids":               "fat",
	"fibre":                "fiber",
	"dietary fiber":        "fiber",
	"dietary fibre":        "fiber",
	"sugars":               "sugar",
	"total sugar":          "sugar",
	"total sugars":         "sugar",
	"added sugar":          "added sugar",
	"saturated":            "saturated fat",
	"sat fat":              "saturated fat",
	"saturated fats":       "saturated fat",
	"vitamin c (ascorbic)": "vitamin c",
}

// mgNutrients default to milligrams when no unit is given.
var mgNutrients = map[string]bool{
	"sodium":      true,
	"calcium":     true,
	"potassium":   true,
	"cholesterol": true,
	"iron":        true,
	"magnesium":   true,
	"zinc":        true,
	"phosphorus":  true,
	"vitamin c":   true,
	"vitamin e":   true,
	"vitamin b6":  true,
	"niacin":      true,
	"caffeine":    true,
}

// mcgNutrients default to micrograms.
var mcgNutrients = map[string]bool{
	"vitamin a":   true,
	"vitamin d":   true,
	"vitamin k":   true,
	"vitamin b12": true,
	"folate":      true,
	"selenium":    true,
}

var unitAliases = map[string]string{
	"kcal":        "kcal",
	"kcals":       "kcal",
	"cal":         "kcal",
	"cals":        "kcal",
	"calorie":     "kcal",
	"calories":    "kcal",
	"kilocalorie": "kcal",
	"g":           "g",
	"gr":          "g",
	"gram":        "g",
	"grams":       "g",
	"mg":          "mg",
	"milligram":   "mg",
	"milligrams":  "mg",
	"mcg":         "mcg",
	"µg":          "mcg",
	"μg":          "mcg",
	"ug":          "mcg",
	"microgram":   "mcg",
	"micrograms":  "mcg",
	"iu":          "IU",
	"%":           "%",
}

// CanonicalNutrientName folds spelling variants onto one display name.
func CanonicalNutrientName(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	name = strings.Join(strings.Fields(name), " ")
	if alias, ok := nutrientAliases[name]; ok {
		return alias
	}
	return name
}

// DefaultUnit infers the unit for a canonical nutrient name.
func DefaultUnit(name string) string {
	switch {
	case name == "calories":
		return "kcal"
	case mgNutrients[name]:
		return "mg"
	case mcgNutrients[name]:
		return "mcg"
	default:
		return "g"
	}
}

func canonicalUnit(raw string) string {
	u := strings.ToLower(strings.TrimSpace(raw))
	if u == "" {
		return ""
	}
	if alias, ok := unitAliases[u]; ok {
		return alias
	}
	return u
}

func isCore(name string) bool {
	for _, c := range CoreNutrients {
		if c == name {
			return true
		}
	}
	return false
}

// normalizeNutrients accepts an array of {name, value} objects or a flat object keyed by
// nutrient name and produces the canonical ordered list with the core four first.
func normalizeNutrients(v any) []Nutrient {
	byName := map[string]Nutrient{}
	add := func(n Nutrient, ok bool) {
		if !ok {
			return
		}
		if _, exists := byName[n.Name]; !exists {
			byName[n.Name] = n
		}
	}

	switch val := v.(type) {
	case []any:
		for _, item := range val {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name, ok := stringField(obj, "name", "nutrient", "label")
			if !ok {
				continue
			}
			add(nutrientFromObject(name, obj))
		}
	case map[string]any:
		for _, key := range nutrientKeys(val) {
			raw := val[key]
			if obj, ok := raw.(map[string]any); ok {
				add(nutrientFromObject(key, obj))
				continue
			}
			add(nutrientFromObject(key, map[string]any{"value": raw}))
		}
	}

	out := make([]Nutrient, 0, len(byName)+len(CoreNutrients))
	for _, name := range CoreNutrients {
		if n, ok := byName[name]; ok {
			out = append(out, n)
			delete(byName, name)
			continue
		}
		zero := 0.0
		out = append(out, Nutrient{Name: name, Value: "0", Unit: DefaultUnit(name), IsHighlight: true, Amount: &zero})
	}

	rest := make([]Nutrient, 0, len(byName))
	for _, n := range byName {
		rest = append(rest, n)
	}
	sort.Slice(rest, func(i, j int) bool {
		ri, rj := secondaryRank(rest[i].Name), secondaryRank(rest[j].Name)
		if ri != rj {
			return ri < rj
		}
		return rest[i].Name < rest[j].Name
	})
	return append(out, rest...)
}

// nutrientKeys orders a flat nutrients object so that duplicates resolve the same way on
// every run: keys already spelled canonically win over their aliases, then alphabetical.
func nutrientKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := isCanonicalKey(keys[i]), isCanonicalKey(keys[j])
		if ci != cj {
			return ci
		}
		return keys[i] < keys[j]
	})
	return keys
}

func isCanonicalKey(key string) bool {
	name := CanonicalNutrientName(key)
	return name != "" && name == strings.ToLower(strings.TrimSpace(key))
}

func secondaryRank(name string) int {
	for i, n := range secondaryOrder {
		if n == name {
			return i
		}
	}
	return len(secondaryOrder)
}

func nutrientFromObject(rawName string, obj map[string]any) (Nutrient, bool) {
	name := CanonicalNutrientName(rawName)
	if name == "" {
		return Nutrient{}, false
	}
	n := Nutrient{Name: name}

	var (
		amount    float64
		hasAmount bool
		suffix    string
		display   string
	)
	rawValue, _ := firstPresent(obj, "value", "amount", "quantity")
	switch val := rawValue.(type) {
	case float64:
		amount, hasAmount = val, true
	case string:
		if q, unit, ok := parseQuantity(val); ok {
			amount, suffix, hasAmount = q, unit, true
		} else {
			display = strings.TrimSpace(val)
		}
	}
	if explicit, ok := numberValue(obj["amount"]); ok {
		amount, hasAmount = explicit, true
	}

	switch {
	case hasAmount:
		amount = round1(clamp(amount, 0, 1e6))
		n.Value = formatNumber(amount)
		n.Amount = &amount
	case display != "":
		n.Value = display
	default:
		zero := 0.0
		n.Value = "0"
		n.Amount = &zero
	}

	if unit, ok := stringField(obj, "unit", "units"); ok {
		n.Unit = canonicalUnit(unit)
	} else if u := canonicalUnit(suffix); u != "" && u != "%" {
		n.Unit = u
	} else {
		n.Unit = DefaultUnit(name)
	}

	if hl, ok := boolField(obj, "isHighlight"); ok {
		n.IsHighlight = hl
	} else {
		n.IsHighlight = isCore(name)
	}

	if pct, ok := numberField(obj, "percentOfDailyValue", "percentDailyValue", "dailyValue", "dv"); ok {
		pct = round1(clamp(pct, 0, 1000))
		n.PercentOfDailyValue = &pct
	} else if suffix == "%" && hasAmount {
		pct := *n.Amount
		n.PercentOfDailyValue = &pct
	}
	return n, true
}
