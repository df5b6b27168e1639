package analyze

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"meal-backend/internal/analysis"
	"meal-backend/internal/ingest"
	"meal-backend/internal/llm"
	"meal-backend/internal/meals"
	"meal-backend/internal/orchestrator"
	"meal-backend/internal/shared/cache"
	"meal-backend/internal/shared/metrics"
	"meal-backend/internal/shared/storage/object"
	localstore "meal-backend/internal/shared/storage/object/local"
)

const chickenSalad = `{"description":"grilled chicken salad","confidence":9,
	"nutrients":{"calories":450,"protein":"40g","carbs":12,"fat":22},
	"detailedIngredients":[{"name":"chicken","category":"protein","confidence":9},{"name":"lettuce","category":"vegetable","confidence":8}]}`

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 24)...)

type stubVision struct {
	mu    sync.Mutex
	calls int
	raw   string
	err   error
	delay time.Duration
}

func (s *stubVision) AnalyzeMeal(ctx context.Context, _ llm.VisionInput) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.raw, s.err
}

func (s *stubVision) Model() string { return "stub-vision" }

func (s *stubVision) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type failingStore struct{}

func (failingStore) Save(context.Context, string, string, io.Reader) (object.Object, error) {
	return object.Object{}, errors.New("bucket unavailable")
}

func (failingStore) Open(context.Context, string) (io.ReadCloser, string, error) {
	return nil, "", errors.New("bucket unavailable")
}

func (failingStore) URL(string) string { return "" }

// stuckStore ignores its context and blocks until released.
type stuckStore struct{ release chan struct{} }

func (s stuckStore) Save(context.Context, string, string, io.Reader) (object.Object, error) {
	<-s.release
	return object.Object{Key: "late", URL: "https://img.example/late"}, nil
}

func (s stuckStore) Open(context.Context, string) (io.ReadCloser, string, error) {
	return nil, "", errors.New("not implemented")
}

func (stuckStore) URL(string) string { return "" }

func newTestService(vision *stubVision) (*Service, *meals.MemoryRepo) {
	repo := meals.NewMemoryRepo()
	orch := orchestrator.New(orchestrator.Sources{Vision: vision, VisionEnabled: true}, orchestrator.Timeouts{Global: 2 * time.Second})
	return &Service{
		Orchestrator:  orch,
		Cache:         cache.NewMemory(100, time.Hour, nil),
		CacheTTL:      time.Hour,
		Gate:          meals.NewGate(repo, nil),
		Metrics:       metrics.NewRegistry(),
		MaxImageBytes: 1 << 20,
	}, repo
}

func pngRequest() Request {
	return Request{
		RequestID:   "req-analyze-1",
		Input:       ingest.Input{Text: base64.StdEncoding.EncodeToString(pngBytes)},
		HealthGoals: []string{"muscle gain"},
	}
}

func TestAnalyzeConfidentResultIsCached(t *testing.T) {
	vision := &stubVision{raw: chickenSalad}
	svc, _ := newTestService(vision)

	resp := svc.Analyze(context.Background(), pngRequest())
	if !resp.Success || resp.Fallback || resp.LowConfidence {
		t.Fatalf("unexpected flags %+v", resp)
	}
	if resp.Message != MessageOK || resp.Result.Description != "grilled chicken salad" {
		t.Fatalf("unexpected response %q %q", resp.Message, resp.Result.Description)
	}
	if resp.Diagnostics.CacheHit || len(resp.Diagnostics.Attempts) != 1 {
		t.Fatalf("unexpected diagnostics %+v", resp.Diagnostics)
	}
	if resp.Diagnostics.ImageStrategy != ingest.StrategyBase64 {
		t.Fatalf("unexpected strategy %q", resp.Diagnostics.ImageStrategy)
	}

	again := svc.Analyze(context.Background(), pngRequest())
	if !again.Diagnostics.CacheHit {
		t.Fatalf("expected cache hit")
	}
	if again.Result.Description != resp.Result.Description {
		t.Fatalf("cached result differs: %q", again.Result.Description)
	}
	if vision.callCount() != 1 {
		t.Fatalf("expected one vision call, got %d", vision.callCount())
	}
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	svc.Metrics.Handler()(c)
	if !strings.Contains(rec.Body.String(), "meal_analyze_cache_hits_total 1") {
		t.Fatalf("expected cache hit metric in %s", rec.Body.String())
	}
}

func TestAnalyzeFallbackIsNotCached(t *testing.T) {
	vision := &stubVision{err: errors.New("upstream 503")}
	svc, repo := newTestService(vision)
	req := pngRequest()
	req.UserID = "user-1"
	req.SaveMeal = true

	resp := svc.Analyze(context.Background(), req)
	if resp.Success || !resp.Fallback {
		t.Fatalf("expected fallback, got %+v", resp)
	}
	if resp.Result.Description != analysis.FallbackDescription || resp.Message != MessageFallback {
		t.Fatalf("unexpected fallback response %+v", resp)
	}
	if resp.SavedMealID != "" {
		t.Fatalf("fallback must not be saved")
	}
	if got, _ := repo.ListByUser(context.Background(), "user-1", meals.ListOptions{}); len(got) != 0 {
		t.Fatalf("expected no saved meals, got %d", len(got))
	}

	svc.Analyze(context.Background(), pngRequest())
	if vision.callCount() != 2 {
		t.Fatalf("expected fallback to bypass cache, got %d calls", vision.callCount())
	}
}

func TestAnalyzeExtractionFailure(t *testing.T) {
	svc, _ := newTestService(&stubVision{raw: chickenSalad})

	resp := svc.Analyze(context.Background(), Request{RequestID: "req-empty"})
	if resp.Success || !resp.Fallback || resp.Diagnostics.Reason != ReasonExtraction {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(resp.Diagnostics.ExtractionFailures) == 0 {
		t.Fatalf("expected extraction failures")
	}
	if resp.Result.Description != analysis.FallbackDescription || len(resp.Result.Nutrients) != 4 {
		t.Fatalf("expected canned result, got %+v", resp.Result)
	}
	if resp.Error == "" || resp.RequestID != "req-empty" {
		t.Fatalf("unexpected error fields %+v", resp)
	}
}

func TestAnalyzeImageTooLarge(t *testing.T) {
	svc, _ := newTestService(&stubVision{raw: chickenSalad})
	svc.MaxImageBytes = 8

	resp := svc.Analyze(context.Background(), pngRequest())
	if resp.Success || resp.Diagnostics.Reason != ReasonTooLarge {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAnalyzeConfigurationError(t *testing.T) {
	svc := &Service{Orchestrator: orchestrator.New(orchestrator.Sources{
		VisionEnabled: true,
		Missing:       []string{"OPENAI_API_KEY"},
	}, orchestrator.Timeouts{})}

	resp := svc.Analyze(context.Background(), pngRequest())
	if resp.Success || resp.Diagnostics.Reason != ReasonConfiguration {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !strings.Contains(resp.Error, "OPENAI_API_KEY") || resp.Message != MessageConfiguration {
		t.Fatalf("expected missing key in error, got %q", resp.Error)
	}
}

func TestAnalyzeSavesMealWithImage(t *testing.T) {
	svc, repo := newTestService(&stubVision{raw: chickenSalad})
	svc.Store = localstore.New(t.TempDir(), "https://img.example")
	req := pngRequest()
	req.UserID = "user-42"
	req.SaveMeal = true

	resp := svc.Analyze(context.Background(), req)
	if resp.SavedMealID == "" || resp.Diagnostics.SaveError != "" {
		t.Fatalf("expected saved meal, got %+v", resp.Diagnostics)
	}
	if !strings.HasPrefix(resp.ImageURL, "https://img.example/meals/") || !strings.HasSuffix(resp.ImageURL, "req-analyze-1.png") {
		t.Fatalf("unexpected image url %q", resp.ImageURL)
	}
	meal, err := repo.GetByID(context.Background(), resp.SavedMealID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if meal.UserID != "user-42" || meal.ImageMIME != "image/png" || meal.ImageKey == "" {
		t.Fatalf("unexpected meal %+v", meal)
	}
}

func TestAnalyzeUploadFailureStillSaves(t *testing.T) {
	svc, _ := newTestService(&stubVision{raw: chickenSalad})
	svc.Store = failingStore{}
	req := pngRequest()
	req.UserID = "user-42"
	req.SaveMeal = true

	resp := svc.Analyze(context.Background(), req)
	if resp.SavedMealID == "" {
		t.Fatalf("expected meal to be saved without image, got %+v", resp.Diagnostics)
	}
	if resp.ImageURL != "" {
		t.Fatalf("expected empty image url, got %q", resp.ImageURL)
	}
}

func TestAnalyzeSaveMealFalse(t *testing.T) {
	svc, _ := newTestService(&stubVision{raw: chickenSalad})
	req := pngRequest()
	req.UserID = "user-42"

	resp := svc.Analyze(context.Background(), req)
	if resp.SavedMealID != "" {
		t.Fatalf("expected no save when SaveMeal is false")
	}
}

func TestCacheKey(t *testing.T) {
	a := CacheKey(pngBytes, []string{"Weight Loss", "low carb"}, nil)
	b := CacheKey(pngBytes, []string{" low carb", "weight loss", "weight loss"}, []string{})
	if a != b {
		t.Fatalf("expected goal order and case to be ignored")
	}
	if a == CacheKey(pngBytes, []string{"muscle gain"}, nil) {
		t.Fatalf("expected different goals to change the key")
	}
	if a == CacheKey(pngBytes, []string{"weight loss", "low carb"}, []string{"vegan"}) {
		t.Fatalf("expected preferences to change the key")
	}
	if len(a) != 64 {
		t.Fatalf("unexpected key length %d", len(a))
	}
}

func TestAnalyzeBudgetCoversUploadAndSave(t *testing.T) {
	svc, repo := newTestService(&stubVision{raw: chickenSalad, delay: 150 * time.Millisecond})
	store := stuckStore{release: make(chan struct{})}
	defer close(store.release)
	svc.Store = store
	svc.Budget = 250 * time.Millisecond
	req := pngRequest()
	req.UserID = "user-7"
	req.SaveMeal = true

	started := time.Now()
	resp := svc.Analyze(context.Background(), req)
	elapsed := time.Since(started)

	if elapsed > time.Second {
		t.Fatalf("analyze took %s with a 250ms budget", elapsed)
	}
	if !resp.Success || resp.Result.Description != "grilled chicken salad" {
		t.Fatalf("expected the vision result, got %+v", resp)
	}
	if resp.SavedMealID != "" || resp.ImageURL != "" {
		t.Fatalf("expected no save after the deadline, got id=%q url=%q", resp.SavedMealID, resp.ImageURL)
	}
	if resp.Diagnostics.SaveError == "" {
		t.Fatalf("expected a save error diagnostic")
	}
	if got, _ := repo.ListByUser(context.Background(), "user-7", meals.ListOptions{}); len(got) != 0 {
		t.Fatalf("expected no saved meals, got %d", len(got))
	}
}

func TestAnalyzeBudgetBoundsOrchestrator(t *testing.T) {
	svc, _ := newTestService(&stubVision{raw: chickenSalad, delay: time.Second})
	svc.Budget = 100 * time.Millisecond

	started := time.Now()
	resp := svc.Analyze(context.Background(), pngRequest())
	if elapsed := time.Since(started); elapsed > 700*time.Millisecond {
		t.Fatalf("analyze took %s with a 100ms budget", elapsed)
	}
	if !resp.Fallback || !resp.Diagnostics.TimedOut {
		t.Fatalf("expected timed-out fallback, got %+v", resp.Diagnostics)
	}
}
