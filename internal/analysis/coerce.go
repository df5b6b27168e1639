package analysis

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	quantityPattern = regexp.MustCompile(`^\s*(?:~|≈|<|>|about|approx\.?|approximately)?\s*(-?\d+(?:[.,]\d+)*)\s*([a-zA-Zµμ%]*)`)
	// thousandsPattern matches "1,200" and "12,345.5"; a comma is a decimal point otherwise.
	thousandsPattern = regexp.MustCompile(`^-?\d{1,3}(?:,\d{3})+(?:\.\d+)?$`)
	leadingNumber    = regexp.MustCompile(`^-?\d+(?:[.,]\d+)?`)
)

// firstPresent returns the first key present in obj with a non-nil value.
func firstPresent(obj map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringValue(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		return s, s != ""
	case float64:
		return formatNumber(val), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}

func stringField(obj map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := stringValue(obj[k]); ok {
			return s, true
		}
	}
	return "", false
}

// numberValue accepts JSON numbers and numeric strings such as "7", "7.5/10" or "~30g".
func numberValue(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0, false
		}
		return val, true
	case string:
		n, _, ok := parseQuantity(val)
		return n, ok
	default:
		return 0, false
	}
}

func numberField(obj map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if n, ok := numberValue(obj[k]); ok {
			return n, true
		}
	}
	return 0, false
}

func boolField(obj map[string]any, key string) (bool, bool) {
	switch v := obj[key].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
	}
	return false, false
}

// parseQuantity splits "450 kcal" into 450 and "kcal".
func parseQuantity(raw string) (float64, string, bool) {
	m := quantityPattern.FindStringSubmatch(strings.ToLower(raw))
	if m == nil {
		return 0, "", false
	}
	n, ok := parseNumber(m[1])
	if !ok {
		return 0, "", false
	}
	return n, m[2], true
}

func parseNumber(s string) (float64, bool) {
	switch {
	case thousandsPattern.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ",")+strings.Count(s, ".") > 1:
		s = leadingNumber.FindString(s)
		s = strings.ReplaceAll(s, ",", ".")
	default:
		s = strings.ReplaceAll(s, ",", ".")
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// stringList coerces a string or an array of scalars into trimmed, non-empty strings.
func stringList(v any) []string {
	out := []string{}
	switch val := v.(type) {
	case string:
		if s := strings.TrimSpace(val); s != "" {
			out = append(out, s)
		}
	case []any:
		for _, item := range val {
			if s, ok := stringValue(item); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// formatNumber renders whole numbers without decimals and everything else with one.
func formatNumber(v float64) string {
	r := round1(v)
	if r == math.Trunc(r) {
		return strconv.FormatFloat(r, 'f', 0, 64)
	}
	return strconv.FormatFloat(r, 'f', 1, 64)
}
