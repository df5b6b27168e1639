package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"meal-backend/internal/llm"
	"meal-backend/internal/nutrition"
	"meal-backend/internal/ocr"
)

// ErrConfiguration marks a request that cannot run because credentials or sources are missing.
var ErrConfiguration = errors.New("configuration error")

// Sources is the set of adapters available to a request. Nil adapters are disabled.
type Sources struct {
	Vision        llm.VisionClient
	VisionEnabled bool
	OCR           ocr.Client
	NutritionDB   nutrition.Client
	Estimator     llm.NutritionEstimator
	// Missing lists environment variables an enabled source needs but does not have.
	Missing []string
}

// Validate fails fast before any adapter is called.
func (s Sources) Validate() error {
	if len(s.Missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(s.Missing, ", "))
	}
	if s.VisionEnabled && s.Vision == nil {
		return fmt.Errorf("%w: vision analysis is enabled but no vision client is configured", ErrConfiguration)
	}
	hasVision := s.VisionEnabled && s.Vision != nil
	if !hasVision && s.OCR == nil {
		return fmt.Errorf("%w: no analysis source configured (enable vision or configure OCR)", ErrConfiguration)
	}
	if s.OCR != nil && s.NutritionDB == nil && s.Estimator == nil {
		return fmt.Errorf("%w: OCR is configured without a nutrition database or estimator", ErrConfiguration)
	}
	return nil
}

// Timeouts bounds every stage. Global is the single per-request deadline.
type Timeouts struct {
	Global       time.Duration
	Vision       time.Duration
	Enrich       time.Duration
	OCR          time.Duration
	NutritionDB  time.Duration
	DBPreference time.Duration
	Estimate     time.Duration
}

// DefaultTimeouts returns the stage budgets used when nothing is configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Global:       30 * time.Second,
		Vision:       25 * time.Second,
		Enrich:       15 * time.Second,
		OCR:          10 * time.Second,
		NutritionDB:  8 * time.Second,
		DBPreference: 5 * time.Second,
		Estimate:     15 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Global <= 0 {
		t.Global = d.Global
	}
	if t.Vision <= 0 {
		t.Vision = d.Vision
	}
	if t.Enrich <= 0 {
		t.Enrich = d.Enrich
	}
	if t.OCR <= 0 {
		t.OCR = d.OCR
	}
	if t.NutritionDB <= 0 {
		t.NutritionDB = d.NutritionDB
	}
	if t.DBPreference <= 0 {
		t.DBPreference = d.DBPreference
	}
	if t.Estimate <= 0 {
		t.Estimate = d.Estimate
	}
	return t
}
