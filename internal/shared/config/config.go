package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"meal-backend/internal/shared/telemetry"
)

// FileEnvVar names the optional YAML file layered between defaults and the environment.
const FileEnvVar = "MEAL_CONFIG_FILE"

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string

	ObjectStoreType   string
	LocalStoreDir     string
	LocalStoreBaseURL string
	AWSRegion         string
	S3Bucket          string
	S3Prefix          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3PublicBaseURL   string
	SSEKMSKeyID       string

	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	MaxConcurrentRequests int
	RateLimitRPS          float64
	RateLimitBurst        int

	LLMProvider        string
	VisionModel        string
	LLMModel           string
	OpenAIAPIKey       string
	GeminiAPIKey       string
	EnableVision       bool
	OCRProvider        string
	GoogleVisionAPIKey string
	NutritionixAppID   string
	NutritionixAppKey  string
	MealEventsQueueURL string

	AnalysisTimeout       time.Duration
	VisionTimeout         time.Duration
	EnrichTimeout         time.Duration
	OCRTimeout            time.Duration
	NutritionDBTimeout    time.Duration
	NutritionDBPreference time.Duration
	EstimateTimeout       time.Duration
	UploadTimeout         time.Duration
	ImageFetchTimeout     time.Duration
	MaxImageBytes         int64
}

// Load reads configuration: defaults, then the YAML file named by MEAL_CONFIG_FILE, then
// environment variables. Values that fail to parse keep their default and are logged.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	_ = godotenv.Load(existing(".env", "cmd/.env")...)

	var file map[string]string
	if path := strings.TrimSpace(os.Getenv(FileEnvVar)); path != "" {
		var err error
		file, err = readFile(path)
		if err != nil {
			telemetry.Warn("config.file_invalid", map[string]any{"path": path, "error": err})
		}
	}
	return load(source{file: file, env: os.LookupEnv})
}

func existing(paths ...string) []string {
	var out []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// readFile parses a flat YAML mapping whose keys are the environment variable names.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseYAML(data)
}

func parseYAML(data []byte) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			out[strings.ToUpper(k)] = strings.Join(parts, ",")
		case map[string]any:
			return nil, fmt.Errorf("config key %s: nested mappings are not supported", k)
		default:
			out[strings.ToUpper(k)] = fmt.Sprint(val)
		}
	}
	return out, nil
}

type source struct {
	file map[string]string
	env  func(string) (string, bool)
}

func (s source) get(key string) (string, bool) {
	if s.env != nil {
		if v, ok := s.env(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	if v, ok := s.file[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	return "", false
}

func (s source) str(key, def string) string {
	if v, ok := s.get(key); ok {
		return v
	}
	return def
}

func (s source) integer(key string, def int) int {
	v, ok := s.get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		invalid(key, v)
		return def
	}
	return n
}

func (s source) float(key string, def float64) float64 {
	v, ok := s.get(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		invalid(key, v)
		return def
	}
	return f
}

func (s source) boolean(key string, def bool) bool {
	v, ok := s.get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		invalid(key, v)
		return def
	}
	return b
}

// duration accepts Go duration strings ("15s") or a bare integer of milliseconds.
func (s source) duration(key string, def time.Duration) time.Duration {
	v, ok := s.get(key)
	if !ok {
		return def
	}
	if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		invalid(key, v)
		return def
	}
	return d
}

func invalid(key, value string) {
	telemetry.Warn("config.invalid_value", map[string]any{"key": key, "value": value})
}

func load(s source) Config {
	env := normalizeEnv(s.str("ENV", "dev"))
	dbURL := s.str("DATABASE_URL", "")
	if env == "production" && dbURL == "" {
		telemetry.Warn("config.database_url_missing", map[string]any{"env": env})
	}

	return Config{
		Port:            s.str("PORT", "8080"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(s.str("CORS_ALLOW_ORIGINS", "http://localhost:5173")),

		ObjectStoreType:   normalizeStoreType(s.str("OBJECT_STORE", "local")),
		LocalStoreDir:     s.str("LOCAL_STORE_DIR", "./data"),
		LocalStoreBaseURL: s.str("LOCAL_STORE_BASE_URL", ""),
		AWSRegion:         s.str("AWS_REGION", ""),
		S3Bucket:          s.str("S3_BUCKET", ""),
		S3Prefix:          s.str("S3_PREFIX", ""),
		S3Endpoint:        s.str("S3_ENDPOINT", ""),
		S3AccessKeyID:     s.str("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: s.str("S3_SECRET_ACCESS_KEY", ""),
		S3PublicBaseURL:   s.str("S3_PUBLIC_BASE_URL", ""),
		SSEKMSKeyID:       s.str("SSE_KMS_KEY_ID", ""),

		DatabaseURL: dbURL,
		RedisURL:    s.str("REDIS_URL", ""),
		CacheTTL:    s.duration("CACHE_TTL", time.Hour),

		MaxConcurrentRequests: s.integer("MAX_CONCURRENT_REQUESTS", 16),
		RateLimitRPS:          s.float("RATE_LIMIT_RPS", 2),
		RateLimitBurst:        s.integer("RATE_LIMIT_BURST", 10),

		LLMProvider:        normalizeProvider(s.str("LLM_PROVIDER", "openai")),
		VisionModel:        s.str("VISION_MODEL", ""),
		LLMModel:           s.str("LLM_MODEL", ""),
		OpenAIAPIKey:       s.str("OPENAI_API_KEY", ""),
		GeminiAPIKey:       s.str("GEMINI_API_KEY", ""),
		EnableVision:       s.boolean("ENABLE_VISION", true),
		OCRProvider:        normalizeOCRProvider(s.str("OCR_PROVIDER", "")),
		GoogleVisionAPIKey: s.str("GOOGLE_VISION_API_KEY", ""),
		NutritionixAppID:   s.str("NUTRITIONIX_APP_ID", ""),
		NutritionixAppKey:  s.str("NUTRITIONIX_APP_KEY", ""),
		MealEventsQueueURL: s.str("MEAL_EVENTS_QUEUE_URL", ""),

		AnalysisTimeout:       s.duration("ANALYSIS_TIMEOUT", 30*time.Second),
		VisionTimeout:         s.duration("VISION_TIMEOUT", 25*time.Second),
		EnrichTimeout:         s.duration("ENRICH_TIMEOUT", 15*time.Second),
		OCRTimeout:            s.duration("OCR_TIMEOUT", 10*time.Second),
		NutritionDBTimeout:    s.duration("NUTRITION_DB_TIMEOUT", 8*time.Second),
		NutritionDBPreference: s.duration("NUTRITION_DB_PREFERENCE_WINDOW", 5*time.Second),
		EstimateTimeout:       s.duration("LLM_ESTIMATE_TIMEOUT", 15*time.Second),
		UploadTimeout:         s.duration("UPLOAD_TIMEOUT", 10*time.Second),
		ImageFetchTimeout:     s.duration("IMAGE_FETCH_TIMEOUT", 10*time.Second),
		MaxImageBytes:         int64(s.integer("MAX_IMAGE_BYTES", 10<<20)),
	}
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "gemini", "google":
		return "gemini"
	default:
		return "openai"
	}
}

// normalizeOCRProvider returns "" when OCR is disabled.
func normalizeOCRProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "rekognition", "aws":
		return "rekognition"
	case "google", "gcv":
		return "google"
	default:
		return ""
	}
}

// IsDevLike reports whether missing infrastructure may fall back to in-memory stand-ins.
func (c Config) IsDevLike() bool {
	return c.Env == "dev" || c.Env == "local"
}
