package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"meal-backend/internal/analysis"
	"meal-backend/internal/ingest"
	"meal-backend/internal/llm"
	"meal-backend/internal/ocr"
	"meal-backend/internal/shared/telemetry"
	"meal-backend/internal/shared/util"
)

// Attempt outcomes.
const (
	OutcomeOK            = "ok"
	OutcomeLowConfidence = "low_confidence"
	OutcomeInvalid       = "invalid"
	OutcomeError         = "error"
	OutcomeTimeout       = "timeout"
)

// Attempt source names used in diagnostics.
const (
	AttemptVision      = "vision"
	AttemptEnrich      = "vision_enrich"
	AttemptOCR         = "ocr"
	AttemptNutritionDB = "nutritionix"
	AttemptEstimate    = "ocr-llm"
)

// Request is one analysis.
type Request struct {
	RequestID          string
	Image              ingest.Image
	HealthGoals        []string
	DietaryPreferences []string
}

// Attempt records one adapter call.
type Attempt struct {
	Source     string `json:"source"`
	Outcome    string `json:"outcome"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// Outcome is the orchestrator's answer. Result is always populated; Err is set only for
// configuration errors, which are reported before any adapter runs.
type Outcome struct {
	Result         analysis.Result
	Classification analysis.Classification
	Attempts       []Attempt
	Enriched       bool
	TimedOut       bool
	Fallback       bool
	OCRText        string
	Err            error
}

// Orchestrator picks the result for a request from the configured sources.
type Orchestrator struct {
	sources  Sources
	timeouts Timeouts
}

// New builds an orchestrator. Zero timeouts take their defaults.
func New(sources Sources, timeouts Timeouts) *Orchestrator {
	return &Orchestrator{sources: sources, timeouts: timeouts.withDefaults()}
}

// Sources returns the configured adapters.
func (o *Orchestrator) Sources() Sources {
	return o.sources
}

// Timeouts returns the stage budgets with defaults applied.
func (o *Orchestrator) Timeouts() Timeouts {
	return o.timeouts
}

// Run executes the source state machine under the global deadline. It always returns
// within that deadline: on expiry the best valid partial result or the canned fallback
// is returned and in-flight calls are abandoned.
func (o *Orchestrator) Run(ctx context.Context, req Request) Outcome {
	if err := o.sources.Validate(); err != nil {
		res := analysis.Fallback("configuration error")
		return Outcome{Result: res, Classification: analysis.Classify(res), Fallback: true, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Global)
	defer cancel()

	r := &run{o: o, req: req}
	done := make(chan Outcome, 1)
	go func() {
		done <- r.execute(ctx)
	}()

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		select {
		case out := <-done:
			return out
		default:
		}
		return r.expired()
	}
}

type run struct {
	o   *Orchestrator
	req Request

	mu       sync.Mutex
	attempts []Attempt
	best     *analysis.Result
	bestCls  analysis.Classification
	enriched bool
	ocrText  string
}

type sourceResult struct {
	res analysis.Result
	cls analysis.Classification
	err error
}

func (s sourceResult) usable() bool {
	return s.err == nil && s.cls.IsValid
}

func (r *run) execute(ctx context.Context) Outcome {
	src := r.o.sources

	if src.VisionEnabled && src.Vision != nil {
		primary := r.vision(ctx, false)
		if primary.usable() {
			if !analysis.ShouldEnrich(primary.cls, false) {
				return r.finish(primary.res, primary.cls)
			}
			return r.enrich(ctx, primary)
		}
		if ctx.Err() != nil {
			return r.expired()
		}
	}

	if src.OCR == nil {
		return r.fallback("all sources failed")
	}
	text, confidence, err := r.extractText(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return r.expired()
		}
		return r.fallback("ocr failed")
	}
	return r.lookup(ctx, text, confidence)
}

// enrich makes the single extra vision call. Whatever it returns, the request is done.
func (r *run) enrich(ctx context.Context, primary sourceResult) Outcome {
	r.mu.Lock()
	r.enriched = true
	r.mu.Unlock()
	telemetry.Info("analyze.enrich", map[string]any{
		"request_id": r.req.RequestID,
		"reason":     string(primary.cls.Reason),
	})

	second := r.vision(ctx, true)
	if !second.usable() {
		res := primary.res
		if second.err != nil {
			res.SetMeta("enrichError", util.ErrorText(second.err))
		}
		return r.finish(res, primary.cls)
	}
	merged := analysis.Merge(primary.res, second.res)
	return r.finish(merged, analysis.Classify(merged))
}

// lookup races the nutrition database against the estimator. The database wins if it
// answers with a usable result inside the preference window; after that the first usable
// answer from either wins.
func (r *run) lookup(ctx context.Context, text string, ocrConfidence float64) Outcome {
	src := r.o.sources
	var dbCh, llmCh chan sourceResult
	if src.NutritionDB != nil {
		dbCh = make(chan sourceResult, 1)
		go func() { dbCh <- r.nutritionDB(ctx, text, ocrConfidence) }()
	}
	if src.Estimator != nil {
		llmCh = make(chan sourceResult, 1)
		go func() { llmCh <- r.estimate(ctx, text, ocrConfidence) }()
	}

	window := time.NewTimer(r.o.timeouts.DBPreference)
	defer window.Stop()

	var held *sourceResult
	preferDB := dbCh != nil
	for preferDB {
		select {
		case d := <-dbCh:
			dbCh = nil
			preferDB = false
			if d.usable() {
				return r.finish(d.res, d.cls)
			}
		case l := <-llmCh:
			llmCh = nil
			held = &l
		case <-window.C:
			preferDB = false
		case <-ctx.Done():
			return r.expired()
		}
	}

	if held != nil && held.usable() {
		return r.finish(held.res, held.cls)
	}
	for dbCh != nil || llmCh != nil {
		select {
		case d := <-dbCh:
			dbCh = nil
			if d.usable() {
				return r.finish(d.res, d.cls)
			}
		case l := <-llmCh:
			llmCh = nil
			if l.usable() {
				return r.finish(l.res, l.cls)
			}
		case <-ctx.Done():
			return r.expired()
		}
	}
	return r.fallback("all sources failed")
}

func (r *run) vision(ctx context.Context, enrich bool) sourceResult {
	source, timeout := AttemptVision, r.o.timeouts.Vision
	if enrich {
		source, timeout = AttemptEnrich, r.o.timeouts.Enrich
		ctx = llm.WithEnrichment(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	vc := r.o.sources.Vision
	start := time.Now()
	raw, err := vc.AnalyzeMeal(cctx, llm.VisionInput{
		ImageBase64:        r.req.Image.Base64,
		Image:              r.req.Image.Bytes,
		MIMEType:           r.req.Image.MIMEType,
		HealthGoals:        r.req.HealthGoals,
		DietaryPreferences: r.req.DietaryPreferences,
		RequestID:          r.req.RequestID,
	})
	if err != nil {
		r.record(source, start, err, analysis.Classification{})
		return sourceResult{err: err}
	}
	return r.accept(source, start, fromVision(raw, vc.Model()))
}

func (r *run) extractText(ctx context.Context) (string, float64, error) {
	cctx, cancel := context.WithTimeout(ctx, r.o.timeouts.OCR)
	defer cancel()

	start := time.Now()
	res, err := r.o.sources.OCR.ExtractText(cctx, ocr.Request{
		Image:     r.req.Image.Bytes,
		MIMEType:  r.req.Image.MIMEType,
		RequestID: r.req.RequestID,
	})
	if err != nil {
		r.record(AttemptOCR, start, err, analysis.Classification{})
		return "", 0, err
	}
	r.mu.Lock()
	r.ocrText = res.Text
	r.mu.Unlock()
	r.record(AttemptOCR, start, nil, analysis.Classification{IsValid: true})
	return res.Text, res.Confidence, nil
}

func (r *run) nutritionDB(ctx context.Context, text string, ocrConfidence float64) sourceResult {
	cctx, cancel := context.WithTimeout(ctx, r.o.timeouts.NutritionDB)
	defer cancel()

	start := time.Now()
	found, err := r.o.sources.NutritionDB.Lookup(cctx, text, r.req.RequestID)
	if err != nil {
		r.record(AttemptNutritionDB, start, err, analysis.Classification{})
		return sourceResult{err: err}
	}
	res := withOCRMeta(fromNutritionDB(found, ocrConfidence), text, ocrConfidence)
	analysis.ScoreGoals(res, r.req.HealthGoals).Apply(&res)
	return r.accept(AttemptNutritionDB, start, res)
}

func (r *run) estimate(ctx context.Context, text string, ocrConfidence float64) sourceResult {
	cctx, cancel := context.WithTimeout(ctx, r.o.timeouts.Estimate)
	defer cancel()

	est := r.o.sources.Estimator
	start := time.Now()
	raw, err := est.EstimateNutrition(cctx, llm.EstimateInput{
		Text:        text,
		HealthGoals: r.req.HealthGoals,
		RequestID:   r.req.RequestID,
	})
	if err != nil {
		r.record(AttemptEstimate, start, err, analysis.Classification{})
		return sourceResult{err: err}
	}
	res := withOCRMeta(fromEstimate(raw, est.Model()), text, ocrConfidence)
	analysis.ScoreGoals(res, r.req.HealthGoals).Apply(&res)
	return r.accept(AttemptEstimate, start, res)
}

// accept classifies a normalized result, records the attempt and remembers it as a
// partial answer for the deadline path.
func (r *run) accept(source string, start time.Time, res analysis.Result) sourceResult {
	cls := analysis.Classify(res)
	res.LowConfidence = cls.IsLowConfidence
	r.record(source, start, nil, cls)
	if cls.IsValid {
		r.mu.Lock()
		if r.best == nil || (r.bestCls.IsLowConfidence && !cls.IsLowConfidence) {
			clone := res.Clone()
			r.best = &clone
			r.bestCls = cls
		}
		r.mu.Unlock()
	}
	return sourceResult{res: res, cls: cls}
}

func (r *run) record(source string, start time.Time, err error, cls analysis.Classification) {
	a := Attempt{Source: source, DurationMs: time.Since(start).Milliseconds()}
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		a.Outcome = OutcomeTimeout
		a.Error = util.ErrorText(err)
	case err != nil:
		a.Outcome = OutcomeError
		a.Error = util.ErrorText(err)
	case !cls.IsValid:
		a.Outcome = OutcomeInvalid
	case cls.IsLowConfidence:
		a.Outcome = OutcomeLowConfidence
	default:
		a.Outcome = OutcomeOK
	}

	r.mu.Lock()
	r.attempts = append(r.attempts, a)
	r.mu.Unlock()

	fields := map[string]any{
		"request_id":  r.req.RequestID,
		"source":      a.Source,
		"outcome":     a.Outcome,
		"duration_ms": a.DurationMs,
	}
	if a.Error != "" {
		fields["error"] = a.Error
	}
	telemetry.Info("analyze.source", fields)
}

func (r *run) finish(res analysis.Result, cls analysis.Classification) Outcome {
	res.LowConfidence = cls.IsLowConfidence
	res.Fallback = false
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enriched {
		res.SetMeta("enriched", true)
	}
	return Outcome{
		Result:         res,
		Classification: cls,
		Attempts:       append([]Attempt(nil), r.attempts...),
		Enriched:       r.enriched,
		OCRText:        r.ocrText,
	}
}

func (r *run) fallback(reason string) Outcome {
	res := analysis.Fallback(reason)
	r.mu.Lock()
	defer r.mu.Unlock()
	return Outcome{
		Result:         res,
		Classification: analysis.Classify(res),
		Attempts:       append([]Attempt(nil), r.attempts...),
		Enriched:       r.enriched,
		Fallback:       true,
		OCRText:        r.ocrText,
	}
}

// expired answers when the global deadline passed: the best valid partial result if one
// exists, the canned fallback otherwise.
func (r *run) expired() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Outcome{
		Attempts: append([]Attempt(nil), r.attempts...),
		Enriched: r.enriched,
		TimedOut: true,
		OCRText:  r.ocrText,
	}
	if r.best != nil {
		res := r.best.Clone()
		res.LowConfidence = r.bestCls.IsLowConfidence
		res.SetMeta("timedOut", true)
		out.Result = res
		out.Classification = r.bestCls
		return out
	}
	res := analysis.Fallback("timeout")
	res.SetMeta("timedOut", true)
	out.Result = res
	out.Classification = analysis.Classify(res)
	out.Fallback = true
	return out
}
