package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := load(source{env: envFrom(nil)})

	if cfg.Port != "8080" || cfg.Env != "dev" || cfg.ObjectStoreType != "local" {
		t.Fatalf("unexpected basics %+v", cfg)
	}
	if cfg.AnalysisTimeout != 30*time.Second || cfg.VisionTimeout != 25*time.Second {
		t.Fatalf("unexpected timeouts %v %v", cfg.AnalysisTimeout, cfg.VisionTimeout)
	}
	if cfg.NutritionDBPreference != 5*time.Second || cfg.EstimateTimeout != 15*time.Second {
		t.Fatalf("unexpected db timeouts %+v", cfg)
	}
	if cfg.CacheTTL != time.Hour || cfg.MaxConcurrentRequests != 16 || cfg.MaxImageBytes != 10<<20 {
		t.Fatalf("unexpected limits %+v", cfg)
	}
	if !cfg.EnableVision || cfg.LLMProvider != "openai" || cfg.OCRProvider != "" {
		t.Fatalf("unexpected sources %+v", cfg)
	}
	if !cfg.IsDevLike() {
		t.Fatalf("expected dev-like default env")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	file := map[string]string{
		"PORT":           "9000",
		"OCR_PROVIDER":   "aws",
		"VISION_TIMEOUT": "12s",
	}
	env := map[string]string{
		"PORT":         "7000",
		"ENV":          "prod",
		"LLM_PROVIDER": "Gemini",
		"OCR_TIMEOUT":  "2500",
	}
	cfg := load(source{file: file, env: envFrom(env)})

	if cfg.Port != "7000" {
		t.Fatalf("expected env to win, got %s", cfg.Port)
	}
	if cfg.OCRProvider != "rekognition" {
		t.Fatalf("expected file value, got %q", cfg.OCRProvider)
	}
	if cfg.VisionTimeout != 12*time.Second {
		t.Fatalf("expected file duration, got %v", cfg.VisionTimeout)
	}
	if cfg.OCRTimeout != 2500*time.Millisecond {
		t.Fatalf("expected millisecond duration, got %v", cfg.OCRTimeout)
	}
	if cfg.Env != "production" || cfg.IsDevLike() {
		t.Fatalf("unexpected env %q", cfg.Env)
	}
	if cfg.LLMProvider != "gemini" {
		t.Fatalf("unexpected provider %q", cfg.LLMProvider)
	}
}

func TestInvalidValuesKeepDefaults(t *testing.T) {
	env := map[string]string{
		"ANALYSIS_TIMEOUT":        "soon",
		"MAX_CONCURRENT_REQUESTS": "-3",
		"ENABLE_VISION":           "maybe",
		"RATE_LIMIT_RPS":          "fast",
	}
	cfg := load(source{env: envFrom(env)})

	if cfg.AnalysisTimeout != 30*time.Second {
		t.Fatalf("expected default timeout, got %v", cfg.AnalysisTimeout)
	}
	if cfg.MaxConcurrentRequests != 16 || !cfg.EnableVision || cfg.RateLimitRPS != 2 {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestParseYAML(t *testing.T) {
	data := []byte("port: 8181\ncors_allow_origins:\n  - https://a.example\n  - https://b.example\nenable_vision: false\nredis_url:\n")
	got, err := parseYAML(data)
	if err != nil {
		t.Fatalf("parseYAML: %v", err)
	}
	if got["PORT"] != "8181" || got["ENABLE_VISION"] != "false" {
		t.Fatalf("unexpected values %+v", got)
	}
	if got["CORS_ALLOW_ORIGINS"] != "https://a.example,https://b.example" {
		t.Fatalf("unexpected list %q", got["CORS_ALLOW_ORIGINS"])
	}
	if _, ok := got["REDIS_URL"]; ok {
		t.Fatalf("expected null value to be skipped")
	}

	cfg := load(source{file: got, env: envFrom(nil)})
	if len(cfg.CORSAllowOrigin) != 2 || cfg.EnableVision {
		t.Fatalf("unexpected cfg %+v", cfg)
	}

	if _, err := parseYAML([]byte("s3:\n  bucket: x\n")); err == nil {
		t.Fatalf("expected nested mapping to be rejected")
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meal.yaml")
	if err := os.WriteFile(path, []byte("S3_BUCKET: meals\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := readFile(path)
	if err != nil || got["S3_BUCKET"] != "meals" {
		t.Fatalf("unexpected %+v %v", got, err)
	}
	if _, err := readFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
