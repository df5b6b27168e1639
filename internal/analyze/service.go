package analyze

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"meal-backend/internal/analysis"
	"meal-backend/internal/ingest"
	"meal-backend/internal/meals"
	"meal-backend/internal/orchestrator"
	"meal-backend/internal/shared/cache"
	"meal-backend/internal/shared/metrics"
	"meal-backend/internal/shared/storage/object"
	"meal-backend/internal/shared/telemetry"
	"meal-backend/internal/shared/util"
)

const (
	MessageOK            = "Analysis complete."
	MessageLowConfidence = "Analysis complete, but some items could not be identified with confidence."
	MessageFallback      = "We couldn't analyze this meal. Please try again with a clearer photo."
	MessageNoImage       = "No usable image was provided."
	MessageConfiguration = "Meal analysis is not configured on this server."
	MessageBusy          = "The server is busy. Please try again shortly."
)

// Failure reasons reported in diagnostics.
const (
	ReasonExtraction    = "image_extraction_failed"
	ReasonFetch         = "image_fetch_failed"
	ReasonTooLarge      = "image_too_large"
	ReasonConfiguration = "configuration_error"
	ReasonBusy          = "busy"
	ReasonRateLimited   = "rate_limited"
	ReasonBadRequest    = "invalid_request"
)

// errBudgetSpent is reported when nothing is left of the request deadline for a save.
var errBudgetSpent = errors.New("request deadline reached before the meal could be saved")

// Request is one analyze call after transport decoding.
type Request struct {
	RequestID          string
	Input              ingest.Input
	ImageURL           string
	UserID             string
	HealthGoals        []string
	DietaryPreferences []string
	SaveMeal           bool
}

// Diagnostics describes how a response was produced.
type Diagnostics struct {
	RequestID          string                   `json:"requestId"`
	Attempts           []orchestrator.Attempt   `json:"attempts"`
	CacheHit           bool                     `json:"cacheHit"`
	Enriched           bool                     `json:"enriched"`
	TimedOut           bool                     `json:"timedOut"`
	OCRTextLength      int                      `json:"ocrTextLength"`
	ImageStrategy      string                   `json:"imageStrategy,omitempty"`
	ImageWarnings      []string                 `json:"imageWarnings,omitempty"`
	ImageBytes         int                      `json:"imageBytes,omitempty"`
	Classification     *analysis.Classification `json:"classification,omitempty"`
	ExtractionFailures []ingest.StrategyFailure `json:"extractionFailures,omitempty"`
	Reason             string                   `json:"reason,omitempty"`
	SaveError          string                   `json:"saveError,omitempty"`
}

// Response is the always-200 envelope. Success and failure travel in-band.
type Response struct {
	Success       bool            `json:"success"`
	Fallback      bool            `json:"fallback"`
	LowConfidence bool            `json:"lowConfidence"`
	Message       string          `json:"message"`
	Result        analysis.Result `json:"result"`
	Error         string          `json:"error,omitempty"`
	ElapsedTime   int64           `json:"elapsedTime"`
	RequestID     string          `json:"requestId"`
	SavedMealID   string          `json:"savedMealId,omitempty"`
	ImageURL      string          `json:"imageUrl,omitempty"`
	Diagnostics   Diagnostics     `json:"diagnostics"`
}

// Service runs analyze requests end to end.
type Service struct {
	Orchestrator  *orchestrator.Orchestrator
	Fetcher       *ingest.Fetcher
	Cache         cache.Cache
	CacheTTL      time.Duration
	Store         object.ObjectStore
	Gate          *meals.Gate
	Metrics       *metrics.Registry
	MaxImageBytes int64
	// Budget bounds the whole request: fetch, analysis, upload and save. Zero uses the
	// orchestrator's global timeout.
	Budget        time.Duration
	UploadTimeout time.Duration
	Now           func() time.Time
}

type cachedAnalysis struct {
	Result         analysis.Result         `json:"result"`
	Classification analysis.Classification `json:"classification"`
}

// Analyze never returns an error: every failure is folded into the response.
func (s *Service) Analyze(ctx context.Context, req Request) Response {
	start := s.now()
	s.metrics().IncAnalyzeRequests()

	ctx, cancel := context.WithTimeout(ctx, s.budget())
	defer cancel()

	resp := Response{
		RequestID:   req.RequestID,
		Diagnostics: Diagnostics{RequestID: req.RequestID, Attempts: []orchestrator.Attempt{}},
	}

	input := req.Input
	if isEmptyInput(input) && strings.TrimSpace(req.ImageURL) != "" {
		if s.Fetcher == nil {
			return s.fail(resp, start, ReasonFetch, MessageNoImage, errors.New("image urls are not supported"))
		}
		fetched, err := s.Fetcher.Fetch(ctx, req.ImageURL, req.RequestID)
		if err != nil {
			return s.fail(resp, start, ReasonFetch, MessageNoImage, err)
		}
		input = fetched
	}

	img, err := ingest.Extract(input)
	if err != nil {
		var ex *ingest.ExtractionError
		if errors.As(err, &ex) {
			resp.Diagnostics.ExtractionFailures = ex.Failures
		}
		return s.fail(resp, start, ReasonExtraction, MessageNoImage, err)
	}
	resp.Diagnostics.ImageStrategy = img.Strategy
	resp.Diagnostics.ImageWarnings = img.Warnings
	resp.Diagnostics.ImageBytes = len(img.Bytes)
	if s.MaxImageBytes > 0 && int64(len(img.Bytes)) > s.MaxImageBytes {
		return s.fail(resp, start, ReasonTooLarge, MessageNoImage,
			fmt.Errorf("%w: %d bytes exceeds %d", ingest.ErrTooLarge, len(img.Bytes), s.MaxImageBytes))
	}

	key := CacheKey(img.Bytes, req.HealthGoals, req.DietaryPreferences)
	var (
		result analysis.Result
		cls    analysis.Classification
	)
	if cached, ok := s.lookupCache(ctx, key, req.RequestID); ok {
		s.metrics().IncCacheHit()
		resp.Diagnostics.CacheHit = true
		result, cls = cached.Result, cached.Classification
	} else {
		out := s.Orchestrator.Run(ctx, orchestrator.Request{
			RequestID:          req.RequestID,
			Image:              img,
			HealthGoals:        req.HealthGoals,
			DietaryPreferences: req.DietaryPreferences,
		})
		resp.Diagnostics.Attempts = out.Attempts
		resp.Diagnostics.Enriched = out.Enriched
		resp.Diagnostics.TimedOut = out.TimedOut
		resp.Diagnostics.OCRTextLength = len(out.OCRText)
		if out.Enriched {
			s.metrics().IncEnrichment()
		}
		if out.TimedOut {
			s.metrics().IncTimeout()
		}
		if out.Err != nil {
			resp.Result = out.Result
			return s.fail(resp, start, ReasonConfiguration, MessageConfiguration, out.Err)
		}
		result, cls = out.Result, out.Classification
		if !out.Fallback && !out.TimedOut && ctx.Err() == nil {
			s.storeCache(ctx, key, req.RequestID, cachedAnalysis{Result: result, Classification: cls})
		}
	}

	resp.Result = result
	resp.Fallback = result.Fallback
	resp.LowConfidence = result.LowConfidence
	resp.Success = !result.Fallback
	resp.Diagnostics.Classification = &cls
	switch {
	case result.Fallback:
		resp.Message = MessageFallback
	case result.LowConfidence:
		resp.Message = MessageLowConfidence
	default:
		resp.Message = MessageOK
	}

	if req.SaveMeal && strings.TrimSpace(req.UserID) != "" && !result.Fallback {
		s.save(ctx, req, img, &resp)
	}

	s.complete(&resp, start)
	return resp
}

func (s *Service) save(ctx context.Context, req Request, img ingest.Image, resp *Response) {
	if s.Gate == nil {
		return
	}
	in := meals.SaveInput{
		UserID:    req.UserID,
		RequestID: req.RequestID,
		ImageMIME: img.MIMEType,
		Analysis:  resp.Result,
	}
	if ctx.Err() != nil {
		resp.Diagnostics.SaveError = errBudgetSpent.Error()
		return
	}
	if obj, ok := s.upload(ctx, req, img); ok {
		in.ImageKey = obj.Key
		in.ImageURL = obj.URL
		resp.ImageURL = obj.URL
	}
	if ctx.Err() != nil {
		resp.Diagnostics.SaveError = errBudgetSpent.Error()
		return
	}

	meal, err := untilDone(ctx, func(ctx context.Context) (meals.Meal, error) {
		return s.Gate.Save(ctx, in)
	})
	if err != nil {
		if errors.Is(err, meals.ErrRejected) {
			s.metrics().IncMealRejected()
		}
		resp.Diagnostics.SaveError = util.ErrorText(err)
		return
	}
	s.metrics().IncMealSaved()
	resp.SavedMealID = meal.ID
}

// upload stores the image. A failure is logged and yields ok=false, never an error.
func (s *Service) upload(ctx context.Context, req Request, img ingest.Image) (object.Object, bool) {
	if s.Store == nil {
		return object.Object{}, false
	}
	if s.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.UploadTimeout)
		defer cancel()
	}
	key := object.MealImageKey(req.UserID, req.RequestID, img.MIMEType, s.now())
	obj, err := untilDone(ctx, func(ctx context.Context) (object.Object, error) {
		return s.Store.Save(ctx, key, img.MIMEType, bytes.NewReader(img.Bytes))
	})
	if err != nil {
		telemetry.Warn("analyze.upload_failed", map[string]any{
			"request_id": req.RequestID,
			"user_id":    req.UserID,
			"key":        key,
			"error":      err,
		})
		return object.Object{}, false
	}
	return obj, true
}

func (s *Service) lookupCache(ctx context.Context, key, requestID string) (cachedAnalysis, bool) {
	if s.Cache == nil {
		return cachedAnalysis{}, false
	}
	data, err := s.Cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			telemetry.Warn("cache.error", map[string]any{"request_id": requestID, "op": "get", "error": err})
		}
		return cachedAnalysis{}, false
	}
	var entry cachedAnalysis
	if err := json.Unmarshal(data, &entry); err != nil {
		telemetry.Warn("cache.error", map[string]any{"request_id": requestID, "op": "decode", "error": err})
		return cachedAnalysis{}, false
	}
	return entry, true
}

func (s *Service) storeCache(ctx context.Context, key, requestID string, entry cachedAnalysis) {
	if s.Cache == nil || s.CacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(entry)
	if err == nil {
		err = s.Cache.Set(ctx, key, data, s.CacheTTL)
	}
	if err != nil {
		telemetry.Warn("cache.error", map[string]any{"request_id": requestID, "op": "set", "error": err})
	}
}

// fail builds an unsuccessful response carrying the canned result.
func (s *Service) fail(resp Response, start time.Time, reason, message string, err error) Response {
	if resp.Result.Description == "" {
		resp.Result = analysis.Fallback(reason)
	}
	resp.Success = false
	resp.Fallback = true
	resp.LowConfidence = true
	resp.Message = message
	resp.Error = util.ErrorText(err)
	resp.Diagnostics.Reason = reason
	s.complete(&resp, start)
	return resp
}

func (s *Service) complete(resp *Response, start time.Time) {
	elapsed := s.now().Sub(start)
	resp.ElapsedTime = elapsed.Milliseconds()

	m := s.metrics()
	m.ObserveDurationMs(float64(elapsed) / float64(time.Millisecond))
	m.IncSource(resp.Result.Source)
	if resp.Fallback {
		m.IncFallback()
	} else if resp.LowConfidence {
		m.IncLowConfidence()
	}

	fields := map[string]any{
		"request_id":     resp.RequestID,
		"success":        resp.Success,
		"fallback":       resp.Fallback,
		"low_confidence": resp.LowConfidence,
		"source":         resp.Result.Source,
		"cache_hit":      resp.Diagnostics.CacheHit,
		"enriched":       resp.Diagnostics.Enriched,
		"timed_out":      resp.Diagnostics.TimedOut,
		"attempts":       len(resp.Diagnostics.Attempts),
		"elapsed_ms":     resp.ElapsedTime,
	}
	if resp.Diagnostics.Reason != "" {
		fields["reason"] = resp.Diagnostics.Reason
	}
	if resp.SavedMealID != "" {
		fields["meal_id"] = resp.SavedMealID
	}
	if resp.Success {
		telemetry.Info("analyze.complete", fields)
	} else {
		fields["error"] = resp.Error
		telemetry.Warn("analyze.complete", fields)
	}
}

func (s *Service) budget() time.Duration {
	if s.Budget > 0 {
		return s.Budget
	}
	if s.Orchestrator != nil {
		return s.Orchestrator.Timeouts().Global
	}
	return orchestrator.DefaultTimeouts().Global
}

// untilDone stops waiting for fn once ctx is done. A late fn finishes in the background
// and its result is dropped.
func untilDone[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		ch <- outcome{v, err}
	}()
	select {
	case o := <-ch:
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// unrecorded absorbs counts when no registry is wired.
var unrecorded = metrics.NewRegistry()

func (s *Service) metrics() *metrics.Registry {
	if s.Metrics == nil {
		return unrecorded
	}
	return s.Metrics
}

// CacheKey hashes the image bytes together with the normalized goals and preferences,
// so the same photo analyzed for different goals is cached separately.
func CacheKey(image []byte, goals, prefs []string) string {
	h := sha256.New()
	h.Write(image)
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(normalizeList(goals), ",")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(normalizeList(prefs), ",")))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		v := strings.ToLower(strings.TrimSpace(item))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func isEmptyInput(in ingest.Input) bool {
	return in.File == nil && in.Reader == nil && len(in.Buffer) == 0 && strings.TrimSpace(in.Text) == ""
}
