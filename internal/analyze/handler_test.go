package analyze

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"meal-backend/internal/shared/server/middleware"
)

func newTestRouter(svc *Service, guards ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"), guards...)
	return r
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestAnalyzeJSON(t *testing.T) {
	svc, _ := newTestService(&stubVision{raw: chickenSalad})
	router := newTestRouter(svc)

	body, _ := json.Marshal(map[string]any{
		"base64Image": "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes),
		"healthGoals": []string{"weight loss"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-json-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	resp := decodeResponse(t, rec)
	if !resp.Success || resp.Result.Description != "grilled chicken salad" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.RequestID != "req-json-1" || resp.Diagnostics.RequestID != "req-json-1" {
		t.Fatalf("unexpected request id %q", resp.RequestID)
	}
}

func TestAnalyzeMultipart(t *testing.T) {
	svc, _ := newTestService(&stubVision{raw: chickenSalad})
	router := newTestRouter(svc)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "lunch.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = part.Write(pngBytes)
	_ = w.WriteField("healthGoals", `["heart health"]`)
	_ = w.WriteField("dietaryPreferences", "vegetarian, low salt")
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	resp := decodeResponse(t, rec)
	if !resp.Success || resp.Diagnostics.ImageStrategy != "file" {
		t.Fatalf("unexpected response %+v", resp.Diagnostics)
	}
}

func TestAnalyzeInvalidJSONIsStill200(t *testing.T) {
	svc, _ := newTestService(&stubVision{raw: chickenSalad})
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	resp := decodeResponse(t, rec)
	if resp.Success || !resp.Fallback || resp.Diagnostics.Reason != ReasonBadRequest {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.RequestID == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestAnalyzeJSONBodyLimit(t *testing.T) {
	vision := &stubVision{raw: chickenSalad}
	svc, _ := newTestService(vision)
	svc.MaxImageBytes = 1024
	router := newTestRouter(svc)

	body, _ := json.Marshal(map[string]any{
		"image": strings.Repeat("A", 2<<20),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	resp := decodeResponse(t, rec)
	if resp.Success || resp.Diagnostics.Reason != ReasonTooLarge {
		t.Fatalf("expected too-large rejection, got %+v", resp.Diagnostics)
	}
	if vision.callCount() != 0 {
		t.Fatalf("vision must not run for an oversized body")
	}
}

func TestAnalyzeBusy(t *testing.T) {
	svc, _ := newTestService(&stubVision{raw: chickenSalad})
	h := NewHandler(svc)
	admission := middleware.NewAdmission(1)
	if !admission.TryAcquire() {
		t.Fatalf("expected first slot")
	}
	defer admission.Release()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	h.RegisterRoutes(router.Group("/api/v1"), admission.Admit(h.Busy))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewBufferString("{}"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	resp := decodeResponse(t, rec)
	if resp.Success || resp.Message != MessageBusy || resp.Diagnostics.Reason != ReasonBusy {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAnalyzeRateLimited(t *testing.T) {
	svc, _ := newTestService(&stubVision{raw: chickenSalad})
	h := NewHandler(svc)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := middleware.NewRateLimiter(func() time.Time { return now })
	guard := middleware.RateLimit(middleware.RateLimitConfig{
		Rules:   map[string]middleware.RateLimitRule{"DEFAULT": {Rate: 1, Burst: 1}},
		Limiter: limiter,
		Reject:  h.RateLimited,
	})
	router := newTestRouter(svc, guard)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}
	send()
	rec := send()

	resp := decodeResponse(t, rec)
	if resp.Diagnostics.Reason != ReasonRateLimited {
		t.Fatalf("unexpected response %+v", resp)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("unexpected Retry-After %q", rec.Header().Get("Retry-After"))
	}
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "json array", raw: `["weight loss","low carb"]`, want: []string{"weight loss", "low carb"}},
		{name: "comma list", raw: " weight loss , ,low carb", want: []string{"weight loss", "low carb"}},
		{name: "broken array", raw: `["weight loss", low carb`, want: []string{"weight loss", "low carb"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := parseListString(tc.raw); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("parseListString(%q) = %#v, want %#v", tc.raw, got, tc.want)
			}
		})
	}

	got, err := parseListJSON(json.RawMessage(`"vegan,keto"`))
	if err != nil || !reflect.DeepEqual(got, []string{"vegan", "keto"}) {
		t.Fatalf("unexpected %#v %v", got, err)
	}
	if _, err := parseListJSON(json.RawMessage(`42`)); err == nil {
		t.Fatalf("expected error for number")
	}
}
