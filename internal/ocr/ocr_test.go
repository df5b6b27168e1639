package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
)

type fakeRekognition struct {
	out *rekognition.DetectTextOutput
	err error
	in  *rekognition.DetectTextInput
}

func (f *fakeRekognition) DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error) {
	f.in = params
	return f.out, f.err
}

func TestRekognitionKeepsLines(t *testing.T) {
	fake := &fakeRekognition{out: &rekognition.DetectTextOutput{TextDetections: []types.TextDetection{
		{DetectedText: aws.String("GRILLED CHICKEN WRAP"), Type: types.TextTypesLine, Confidence: aws.Float32(90)},
		{DetectedText: aws.String("GRILLED"), Type: types.TextTypesWord, Confidence: aws.Float32(99)},
		{DetectedText: aws.String("520 kcal"), Type: types.TextTypesLine, Confidence: aws.Float32(80)},
		{DetectedText: aws.String("  "), Type: types.TextTypesLine, Confidence: aws.Float32(10)},
	}}}
	r := &Rekognition{api: fake, minConfidence: 60}

	res, err := r.ExtractText(context.Background(), Request{Image: []byte{1, 2}})
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if res.Text != "GRILLED CHICKEN WRAP\n520 kcal" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if math.Abs(res.Confidence-0.85) > 1e-9 {
		t.Fatalf("confidence = %v, want 0.85", res.Confidence)
	}
	if got := aws.ToFloat32(fake.in.Filters.WordFilter.MinConfidence); got != 60 {
		t.Fatalf("expected min confidence filter 60, got %v", got)
	}
}

func TestRekognitionNoText(t *testing.T) {
	r := &Rekognition{api: &fakeRekognition{out: &rekognition.DetectTextOutput{}}}
	if _, err := r.ExtractText(context.Background(), Request{Image: []byte{1}}); !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
	r = &Rekognition{api: &fakeRekognition{err: errors.New("throttled")}}
	if _, err := r.ExtractText(context.Background(), Request{Image: []byte{1}}); err == nil || errors.Is(err, ErrNoText) {
		t.Fatalf("expected wrapped api error, got %v", err)
	}
}

func TestGoogleVision(t *testing.T) {
	var gotKey string
	var gotFeature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		var req annotateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(req.Requests) == 1 && len(req.Requests[0].Features) == 1 {
			gotFeature = req.Requests[0].Features[0].Type
		}
		_, _ = w.Write([]byte(`{"responses":[{"fullTextAnnotation":{"text":"PAD THAI\n\n12.50\n","pages":[{"confidence":0.9},{"confidence":0.7}]}}]}`))
	}))
	defer srv.Close()

	g, err := NewGoogleVision(context.Background(), "k-123", WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewGoogleVision: %v", err)
	}
	res, err := g.ExtractText(context.Background(), Request{Image: []byte("img")})
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if gotKey != "k-123" || gotFeature != "TEXT_DETECTION" {
		t.Fatalf("unexpected request key=%q feature=%q", gotKey, gotFeature)
	}
	if res.Text != "PAD THAI\n12.50" || len(res.Lines) != 2 {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if math.Abs(res.Confidence-0.8) > 1e-9 {
		t.Fatalf("confidence = %v, want 0.8", res.Confidence)
	}
}

func TestGoogleVisionErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		noText bool
	}{
		{name: "empty", status: http.StatusOK, body: `{"responses":[{}]}`, noText: true},
		{name: "api error", status: http.StatusOK, body: `{"responses":[{"error":{"code":7,"message":"denied"}}]}`},
		{name: "http error", status: http.StatusForbidden, body: `forbidden`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g, _ := NewGoogleVision(context.Background(), "k", WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))
			_, err := g.ExtractText(context.Background(), Request{Image: []byte("img")})
			if err == nil {
				t.Fatalf("expected error")
			}
			if errors.Is(err, ErrNoText) != tt.noText {
				t.Fatalf("ErrNoText match = %v, want %v (%v)", !tt.noText, tt.noText, err)
			}
		})
	}
}
