package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DurationBuckets are the analysis latency histogram bounds in milliseconds.
var DurationBuckets = []float64{100, 250, 500, 1000, 2000, 5000, 10000, 20000, 30000}

// Registry holds the process counters. One instance is created at startup and passed to
// the handlers that record into it.
type Registry struct {
	reg *prometheus.Registry

	analyzeRequests   prometheus.Counter
	analyzeFallbacks  prometheus.Counter
	lowConfidence     prometheus.Counter
	enrichments       prometheus.Counter
	timeouts          prometheus.Counter
	cacheHits         prometheus.Counter
	admissionRejected prometheus.Counter
	rateLimitRejected prometheus.Counter
	mealsSaved        prometheus.Counter
	mealsRejected     prometheus.Counter

	sources  *prometheus.CounterVec
	duration prometheus.Histogram
}

func NewRegistry() *Registry {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	r := &Registry{
		reg:               prometheus.NewRegistry(),
		analyzeRequests:   counter("meal_analyze_requests_total", "Analyze requests received"),
		analyzeFallbacks:  counter("meal_analyze_fallback_total", "Analyze responses carrying the canned fallback"),
		lowConfidence:     counter("meal_analyze_low_confidence_total", "Analyze results classified low confidence"),
		enrichments:       counter("meal_analyze_enrichment_total", "Enrichment passes started"),
		timeouts:          counter("meal_analyze_timeout_total", "Analyses that hit the request deadline"),
		cacheHits:         counter("meal_analyze_cache_hits_total", "Analyze responses served from cache"),
		admissionRejected: counter("meal_admission_rejected_total", "Requests rejected by the concurrency ceiling"),
		rateLimitRejected: counter("meal_rate_limited_total", "Requests rejected by the rate limiter"),
		mealsSaved:        counter("meal_saved_total", "Meals persisted"),
		mealsRejected:     counter("meal_save_rejected_total", "Meals refused by the persistence gate"),
		sources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meal_analyze_source_total",
			Help: "Analyze results by producing source",
		}, []string{"source"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meal_analyze_duration_ms",
			Help:    "Analysis duration in milliseconds",
			Buckets: DurationBuckets,
		}),
	}
	r.reg.MustRegister(
		r.analyzeRequests, r.analyzeFallbacks, r.lowConfidence, r.enrichments, r.timeouts,
		r.cacheHits, r.admissionRejected, r.rateLimitRejected, r.mealsSaved, r.mealsRejected,
		r.sources, r.duration,
	)
	return r
}

func (r *Registry) IncAnalyzeRequests() { r.analyzeRequests.Inc() }
func (r *Registry) IncFallback() { r.analyzeFallbacks.Inc() }
func (r *Registry) IncLowConfidence() { r.lowConfidence.Inc() }
func (r *Registry) IncEnrichment() { r.enrichments.Inc() }
func (r *Registry) IncTimeout() { r.timeouts.Inc() }
func (r *Registry) IncCacheHit() { r.cacheHits.Inc() }
func (r *Registry) IncAdmissionRejected() { r.admissionRejected.Inc() }
func (r *Registry) IncRateLimited() { r.rateLimitRejected.Inc() }
func (r *Registry) IncMealSaved() { r.mealsSaved.Inc() }
func (r *Registry) IncMealRejected() { r.mealsRejected.Inc() }

// IncSource counts the source that produced a returned result.
func (r *Registry) IncSource(source string) {
	if source == "" {
		source = "unknown"
	}
	r.sources.WithLabelValues(source).Inc()
}

// ObserveDurationMs records an analysis duration in milliseconds.
func (r *Registry) ObserveDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	r.duration.Observe(value)
}

// Handler exposes the registry on /metrics.
func (r *Registry) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
}
