package ocr

import (
	"context"
	"errors"
)

// ErrNoText is returned when the image contains no readable text.
var ErrNoText = errors.New("ocr: no text detected")

// Request is one OCR call.
type Request struct {
	Image     []byte
	MIMEType  string
	RequestID string
}

// Result is the text read from an image. Confidence is in [0, 1].
type Result struct {
	Text       string
	Confidence float64
	Lines      []string
}

// Client extracts text from an image.
type Client interface {
	ExtractText(ctx context.Context, req Request) (Result, error)
	Name() string
}
