package health

import (
	"context"
	"time"

	"meal-backend/internal/orchestrator"
	"meal-backend/internal/shared/util"
)

const pingTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Service encapsulates health-related checks.
type Service struct {
	DB      Pinger
	Sources orchestrator.Sources
	// InFlight reports admitted analyze requests. Optional.
	InFlight func() int64
}

// Report is the health payload. OK is false only when a configured dependency is down;
// a missing analysis source leaves the process up but Degraded.
type Report struct {
	OK       bool            `json:"ok"`
	Degraded bool            `json:"degraded"`
	Database string          `json:"database"`
	Sources  map[string]bool `json:"sources"`
	Config   string          `json:"configError,omitempty"`
	InFlight int64           `json:"inFlight"`
}

// NewService constructs a new health service.
func NewService(db Pinger, sources orchestrator.Sources, inFlight func() int64) *Service {
	return &Service{DB: db, Sources: sources, InFlight: inFlight}
}

// Status runs the checks.
func (s *Service) Status(ctx context.Context) Report {
	r := Report{
		OK:       true,
		Database: "memory",
		Sources: map[string]bool{
			"vision":      s.Sources.VisionEnabled && s.Sources.Vision != nil,
			"ocr":         s.Sources.OCR != nil,
			"nutritionDb": s.Sources.NutritionDB != nil,
			"estimator":   s.Sources.Estimator != nil,
		},
	}
	if s.DB != nil {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := s.DB.PingContext(pingCtx); err != nil {
			r.OK = false
			r.Database = "unreachable"
		} else {
			r.Database = "ok"
		}
	}
	if err := s.Sources.Validate(); err != nil {
		r.Degraded = true
		r.Config = util.ErrorText(err)
	}
	if s.InFlight != nil {
		r.InFlight = s.InFlight()
	}
	return r
}
