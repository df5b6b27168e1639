package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
)

type rekognitionAPI interface {
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

// Rekognition reads text with AWS Rekognition DetectText.
type Rekognition struct {
	api           rekognitionAPI
	minConfidence float32
}

// NewRekognition builds the adapter from an AWS config.
func NewRekognition(cfg aws.Config) *Rekognition {
	return &Rekognition{api: rekognition.NewFromConfig(cfg), minConfidence: 60}
}

// Name identifies the provider in diagnostics.
func (r *Rekognition) Name() string { return "rekognition" }

// ExtractText keeps LINE detections above the confidence floor, in reading order.
func (r *Rekognition) ExtractText(ctx context.Context, req Request) (Result, error) {
	if len(req.Image) == 0 {
		return Result{}, fmt.Errorf("rekognition: empty image")
	}
	out, err := r.api.DetectText(ctx, &rekognition.DetectTextInput{
		Image: &types.Image{Bytes: req.Image},
		Filters: &types.DetectTextFilters{
			WordFilter: &types.DetectionFilter{MinConfidence: aws.Float32(r.minConfidence)},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("rekognition detect text: %w", err)
	}

	var lines []string
	var sum float64
	for _, d := range out.TextDetections {
		if d.Type != types.TextTypesLine {
			continue
		}
		text := strings.TrimSpace(aws.ToString(d.DetectedText))
		if text == "" {
			continue
		}
		lines = append(lines, text)
		sum += float64(aws.ToFloat32(d.Confidence))
	}
	if len(lines) == 0 {
		return Result{}, ErrNoText
	}
	return Result{
		Text:       strings.Join(lines, "\n"),
		Confidence: sum / float64(len(lines)) / 100,
		Lines:      lines,
	}, nil
}

var _ Client = (*Rekognition)(nil)
