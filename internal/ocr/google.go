package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
)

const (
	defaultVisionEndpoint = "https://vision.googleapis.com/v1/images:annotate"
	cloudVisionScope      = "https://www.googleapis.com/auth/cloud-vision"
)

// GoogleVision reads text with the Cloud Vision REST API.
type GoogleVision struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// GoogleOption customizes the Google Vision adapter.
type GoogleOption func(*GoogleVision)

// WithEndpoint overrides the annotate endpoint.
func WithEndpoint(endpoint string) GoogleOption {
	return func(g *GoogleVision) { g.endpoint = endpoint }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) GoogleOption {
	return func(g *GoogleVision) { g.httpClient = c }
}

// NewGoogleVision authenticates with apiKey when set, otherwise with application default
// credentials.
func NewGoogleVision(ctx context.Context, apiKey string, opts ...GoogleOption) (*GoogleVision, error) {
	g := &GoogleVision{endpoint: defaultVisionEndpoint, apiKey: strings.TrimSpace(apiKey)}
	for _, opt := range opts {
		opt(g)
	}
	if g.httpClient == nil {
		if g.apiKey != "" {
			g.httpClient = &http.Client{Timeout: 30 * time.Second}
		} else {
			client, err := google.DefaultClient(ctx, cloudVisionScope)
			if err != nil {
				return nil, fmt.Errorf("google vision credentials: %w", err)
			}
			g.httpClient = client
		}
	}
	return g, nil
}

// Name identifies the provider in diagnostics.
func (g *GoogleVision) Name() string { return "google_vision" }

type annotateRequest struct {
	Requests []annotateImageRequest `json:"requests"`
}

type annotateImageRequest struct {
	Image    annotateImage     `json:"image"`
	Features []annotateFeature `json:"features"`
}

type annotateImage struct {
	Content string `json:"content"`
}

type annotateFeature struct {
	Type string `json:"type"`
}

type annotateResponse struct {
	Responses []struct {
		TextAnnotations []struct {
			Description string `json:"description"`
		} `json:"textAnnotations"`
		FullTextAnnotation *struct {
			Text  string `json:"text"`
			Pages []struct {
				Confidence float64 `json:"confidence"`
			} `json:"pages"`
		} `json:"fullTextAnnotation"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

// ExtractText runs TEXT_DETECTION on the image.
func (g *GoogleVision) ExtractText(ctx context.Context, req Request) (Result, error) {
	if len(req.Image) == 0 {
		return Result{}, fmt.Errorf("google vision: empty image")
	}
	payload, err := json.Marshal(annotateRequest{Requests: []annotateImageRequest{{
		Image:    annotateImage{Content: base64.StdEncoding.EncodeToString(req.Image)},
		Features: []annotateFeature{{Type: "TEXT_DETECTION"}},
	}}})
	if err != nil {
		return Result{}, err
	}

	target := g.endpoint
	if g.apiKey != "" {
		target += "?key=" + url.QueryEscape(g.apiKey)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("google vision request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("google vision http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed annotateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("google vision response parse: %w", err)
	}
	if len(parsed.Responses) == 0 {
		return Result{}, ErrNoText
	}
	r := parsed.Responses[0]
	if r.Error != nil {
		return Result{}, fmt.Errorf("google vision error %d: %s", r.Error.Code, r.Error.Message)
	}

	var text string
	confidence := 0.0
	if r.FullTextAnnotation != nil {
		text = r.FullTextAnnotation.Text
		for _, p := range r.FullTextAnnotation.Pages {
			confidence += p.Confidence
		}
		if n := len(r.FullTextAnnotation.Pages); n > 0 {
			confidence /= float64(n)
		}
	}
	if strings.TrimSpace(text) == "" && len(r.TextAnnotations) > 0 {
		text = r.TextAnnotations[0].Description
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrNoText
	}
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			lines = append(lines, s)
		}
	}
	return Result{Text: strings.Join(lines, "\n"), Confidence: confidence, Lines: lines}, nil
}

var _ Client = (*GoogleVision)(nil)
