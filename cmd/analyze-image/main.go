package main

// Analyze a local meal photo with the configured sources:
//   go run ./cmd/analyze-image -image lunch.jpg -goals "weight loss,low carb"

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"meal-backend/internal/analysis"
	"meal-backend/internal/bootstrap"
	"meal-backend/internal/ingest"
	"meal-backend/internal/orchestrator"
	"meal-backend/internal/shared/config"
)

type report struct {
	Result         analysis.Result         `json:"result"`
	Classification analysis.Classification `json:"classification"`
	Attempts       []orchestrator.Attempt  `json:"attempts,omitempty"`
	Enriched       bool                    `json:"enriched"`
	TimedOut       bool                    `json:"timedOut"`
	OCRText        string                  `json:"ocrText,omitempty"`
	Error          string                  `json:"error,omitempty"`
}

func main() {
	cfg := config.Load()

	imagePath := flag.String("image", "", "Path to a meal photo")
	goals := flag.String("goals", "", "Comma separated health goals")
	prefs := flag.String("prefs", "", "Comma separated dietary preferences")
	outPath := flag.String("out", "", "Path to write the JSON report (optional)")
	verbose := flag.Bool("v", false, "Include source attempts and OCR text")
	noVision := flag.Bool("no-vision", false, "Skip the vision model and use OCR only")
	flag.Parse()

	if strings.TrimSpace(*imagePath) == "" {
		exitErr("image path is required")
	}
	if *noVision {
		cfg.EnableVision = false
	}

	data, err := os.ReadFile(*imagePath)
	if err != nil {
		exitErr(fmt.Sprintf("read image: %v", err))
	}
	img, err := ingest.Extract(ingest.Input{Buffer: data})
	if err != nil {
		exitErr(err.Error())
	}

	ctx := context.Background()
	orch, closeFn, err := bootstrap.BuildOrchestrator(ctx, cfg)
	if err != nil {
		exitErr(err.Error())
	}
	defer closeFn()

	out := orch.Run(ctx, orchestrator.Request{
		RequestID:          "cli",
		Image:              img,
		HealthGoals:        splitList(*goals),
		DietaryPreferences: splitList(*prefs),
	})

	rep := report{
		Result:         out.Result,
		Classification: out.Classification,
		Enriched:       out.Enriched,
		TimedOut:       out.TimedOut,
	}
	if out.Err != nil {
		rep.Error = out.Err.Error()
	}
	if *verbose {
		rep.Attempts = out.Attempts
		rep.OCRText = out.OCRText
	}

	pretty, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		exitErr(fmt.Sprintf("encode report: %v", err))
	}
	if strings.TrimSpace(*outPath) != "" {
		if err := os.WriteFile(*outPath, pretty, 0o644); err != nil {
			exitErr(fmt.Sprintf("write output: %v", err))
		}
	}
	fmt.Println(string(pretty))
	if out.Err != nil || out.Fallback {
		os.Exit(2)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func exitErr(msg string) {
	_, _ = fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
