package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"meal-backend/internal/shared/config"
)

func devConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Env:                   "dev",
		ObjectStoreType:       "local",
		LocalStoreDir:         t.TempDir(),
		EnableVision:          true,
		LLMProvider:           "openai",
		CacheTTL:              time.Hour,
		MaxConcurrentRequests: 4,
		MaxImageBytes:         1 << 20,
	}
}

func TestBuildDevWithoutCredentials(t *testing.T) {
	app, err := Build(context.Background(), devConfig(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()

	if app.DB != nil || app.Queue != nil {
		t.Fatalf("expected memory-only app")
	}
	src := app.Orchestrator.Sources()
	if !reflect.DeepEqual(src.Missing, []string{"OPENAI_API_KEY"}) {
		t.Fatalf("unexpected missing list %v", src.Missing)
	}

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "OPENAI_API_KEY") {
		t.Fatalf("unexpected health %d %s", rec.Code, rec.Body.String())
	}
}

func TestBuildRequiresDatabaseOutsideDev(t *testing.T) {
	cfg := devConfig(t)
	cfg.Env = "production"
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatalf("expected DATABASE_URL error")
	}
}

func TestBuildSourcesNutritionixPartialCredentials(t *testing.T) {
	cfg := devConfig(t)
	cfg.EnableVision = false
	cfg.OCRProvider = "rekognition"
	cfg.NutritionixAppID = "app-id"

	app := &App{}
	src := app.buildSources(context.Background(), cfg, aws.Config{Region: "us-east-1"})
	if src.OCR == nil || src.NutritionDB != nil {
		t.Fatalf("unexpected sources %+v", src)
	}
	if !reflect.DeepEqual(src.Missing, []string{"NUTRITIONIX_APP_KEY"}) {
		t.Fatalf("unexpected missing list %v", src.Missing)
	}
}

func TestBuildSourcesFullOCRPath(t *testing.T) {
	cfg := devConfig(t)
	cfg.OCRProvider = "rekognition"
	cfg.OpenAIAPIKey = "sk-test"
	cfg.NutritionixAppID = "app-id"
	cfg.NutritionixAppKey = "app-key"

	app := &App{}
	src := app.buildSources(context.Background(), cfg, aws.Config{Region: "us-east-1"})
	if src.Vision == nil || src.OCR == nil || src.NutritionDB == nil || src.Estimator == nil {
		t.Fatalf("expected every source, got %+v", src)
	}
	if err := src.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestTimeouts(t *testing.T) {
	cfg := config.Config{AnalysisTimeout: 9 * time.Second, NutritionDBPreference: time.Second}
	got := Timeouts(cfg)
	if got.Global != 9*time.Second || got.DBPreference != time.Second {
		t.Fatalf("unexpected timeouts %+v", got)
	}
}
