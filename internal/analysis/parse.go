package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Strategy names the extraction step that produced a payload.
type Strategy string

const (
	StrategyDirect   Strategy = "direct"
	StrategyFenced   Strategy = "fenced"
	StrategyBraces   Strategy = "braces"
	StrategyStripped Strategy = "stripped"
	StrategyValue    Strategy = "value"
)

// ParseResult is either ParseSuccess or ParseFailure.
type ParseResult interface {
	isParseResult()
}

// ParseSuccess carries the decoded JSON object. Only the normalizer reads Payload.
type ParseSuccess struct {
	Payload  map[string]any
	Strategy Strategy
}

// ParseFailure explains why no JSON object could be recovered.
type ParseFailure struct {
	Reason   string
	Attempts []string
}

func (ParseSuccess) isParseResult() {}
func (ParseFailure) isParseResult() {}

var (
	fencePattern         = regexp.MustCompile("(?s)```(?:json|JSON|javascript)?\\s*(.*?)```")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	pythonLiteralPattern = regexp.MustCompile(`:\s*(None|True|False)\b`)
	smartQuoteReplacer   = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
)

// Parse recovers a JSON object from model output, trying progressively looser strategies.
func Parse(text string) ParseResult {
	trimmed := strings.TrimSpace(strings.TrimPrefix(text, "\ufeff"))
	if trimmed == "" {
		return ParseFailure{Reason: "empty payload"}
	}

	var attempts []string

	obj, err := decodeObject(trimmed, 0)
	if err == nil {
		return ParseSuccess{Payload: obj, Strategy: StrategyDirect}
	}
	attempts = append(attempts, fmt.Sprintf("%s: %v", StrategyDirect, err))

	if m := fencePattern.FindStringSubmatch(trimmed); m != nil {
		obj, err = decodeObject(strings.TrimSpace(m[1]), 0)
		if err == nil {
			return ParseSuccess{Payload: obj, Strategy: StrategyFenced}
		}
		attempts = append(attempts, fmt.Sprintf("%s: %v", StrategyFenced, err))
	} else {
		attempts = append(attempts, fmt.Sprintf("%s: no code fence", StrategyFenced))
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		obj, err = decodeObject(trimmed[start:end+1], 0)
		if err == nil {
			return ParseSuccess{Payload: obj, Strategy: StrategyBraces}
		}
		attempts = append(attempts, fmt.Sprintf("%s: %v", StrategyBraces, err))
	} else {
		attempts = append(attempts, fmt.Sprintf("%s: no object delimiters", StrategyBraces))
	}

	if candidate, ok := stripToObject(trimmed); ok {
		obj, err = decodeObject(candidate, 0)
		if err == nil {
			return ParseSuccess{Payload: obj, Strategy: StrategyStripped}
		}
		attempts = append(attempts, fmt.Sprintf("%s: %v", StrategyStripped, err))
	} else {
		attempts = append(attempts, fmt.Sprintf("%s: no opening brace", StrategyStripped))
	}

	return ParseFailure{Reason: "no JSON object found", Attempts: attempts}
}

// ParseValue accepts anything an adapter might hand back: text, bytes, a decoded map or a struct.
func ParseValue(v any) ParseResult {
	switch val := v.(type) {
	case nil:
		return ParseFailure{Reason: "nil payload"}
	case ParseSuccess:
		return val
	case ParseFailure:
		return val
	case string:
		return Parse(val)
	case []byte:
		return Parse(string(val))
	case json.RawMessage:
		return Parse(string(val))
	case map[string]any:
		return ParseSuccess{Payload: val, Strategy: StrategyValue}
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ParseFailure{Reason: fmt.Sprintf("marshal %T: %v", v, err)}
		}
		obj, err := decodeObject(string(data), 0)
		if err != nil {
			return ParseFailure{Reason: fmt.Sprintf("decode %T: %v", v, err)}
		}
		return ParseSuccess{Payload: obj, Strategy: StrategyValue}
	}
}

func decodeObject(text string, depth int) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	switch val := v.(type) {
	case map[string]any:
		return val, nil
	case string:
		// Some models return the object JSON-encoded inside a string.
		if depth > 0 {
			return nil, errors.New("nested string payload")
		}
		return decodeObject(strings.TrimSpace(val), depth+1)
	case []any:
		for _, item := range val {
			if obj, ok := item.(map[string]any); ok {
				return obj, nil
			}
		}
		return nil, errors.New("array without object element")
	default:
		return nil, fmt.Errorf("top-level value is %T", v)
	}
}

// stripToObject drops everything outside the first balanced object and repairs the usual
// model mistakes: smart quotes, raw control characters in strings, Python literals,
// trailing commas and truncated output.
func stripToObject(text string) (string, bool) {
	text = smartQuoteReplacer.Replace(text)
	start := strings.Index(text, "{")
	if start < 0 {
		return "", false
	}
	return outsideStrings(closeObject(text[start:]), repairLiterals), true
}

func repairLiterals(s string) string {
	s = pythonLiteralPattern.ReplaceAllStringFunc(s, func(m string) string {
		switch {
		case strings.HasSuffix(m, "None"):
			return strings.TrimSuffix(m, "None") + "null"
		case strings.HasSuffix(m, "True"):
			return strings.TrimSuffix(m, "True") + "true"
		default:
			return strings.TrimSuffix(m, "False") + "false"
		}
	})
	return trailingCommaPattern.ReplaceAllString(s, "$1")
}

// outsideStrings applies fn to every run of text that is not inside a JSON string.
func outsideStrings(text string, fn func(string) string) string {
	var (
		b        strings.Builder
		start    int
		inString bool
		escaped  bool
	)
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
				b.WriteString(text[start : i+1])
				start = i + 1
			}
			continue
		}
		if ch == '"' {
			b.WriteString(fn(text[start:i]))
			start = i
			inString = true
		}
	}
	if inString {
		b.WriteString(text[start:])
	} else {
		b.WriteString(fn(text[start:]))
	}
	return b.String()
}

// closeObject scans from an opening brace to its matching close, escaping control
// characters inside strings. Input that ends early is closed.
func closeObject(text string) string {
	var (
		b        strings.Builder
		stack    []byte
		inString bool
		escaped  bool
	)
	b.Grow(len(text) + 8)
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
				b.WriteByte(ch)
			case ch == '\\':
				escaped = true
				b.WriteByte(ch)
			case ch == '"':
				inString = false
				b.WriteByte(ch)
			case ch == '\n':
				b.WriteString(`\n`)
			case ch == '\r':
				b.WriteString(`\r`)
			case ch == '\t':
				b.WriteString(`\t`)
			default:
				b.WriteByte(ch)
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
		b.WriteByte(ch)
		if len(stack) == 0 && (ch == '}' || ch == ']') {
			return b.String()
		}
	}
	if inString {
		if escaped {
			b.WriteByte('\\')
		}
		b.WriteByte('"')
	}
	if strings.HasSuffix(strings.TrimSpace(b.String()), ":") {
		b.WriteString("null")
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}
