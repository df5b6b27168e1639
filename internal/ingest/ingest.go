package ingest

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// Strategy names, in the order they are attempted.
const (
	StrategyFile      = "file"
	StrategyReader    = "reader"
	StrategyBuffer    = "buffer"
	StrategyDataURL   = "data_url"
	StrategyBase64    = "base64"
	StrategyStringify = "stringify"
)

// DefaultMIMEType is used when neither sniffing nor the caller yields an image type.
const DefaultMIMEType = "image/jpeg"

// maxReadBytes bounds what a single strategy will pull from a file or reader.
const maxReadBytes = 32 << 20

// ErrNoImage is matched by every extraction failure.
var ErrNoImage = errors.New("no image data")

// FileOpener is satisfied by *multipart.FileHeader.
type FileOpener interface {
	Open() (multipart.File, error)
}

// Input holds whatever the transport handed over. Any combination of fields may be set;
// strategies are tried from the most to the least specific.
type Input struct {
	File         FileOpener
	Reader       io.Reader
	Buffer       []byte
	Text         string
	DeclaredMIME string
}

// Image is the normalized image representation shared by every adapter.
type Image struct {
	Base64   string
	Bytes    []byte
	MIMEType string
	Strategy string
	Warnings []string
}

// DataURL renders the image as a data URL.
func (img Image) DataURL() string {
	return "data:" + img.MIMEType + ";base64," + img.Base64
}

// StrategyFailure records why one conversion strategy produced nothing.
type StrategyFailure struct {
	Strategy string `json:"strategy"`
	Reason   string `json:"reason"`
}

// ExtractionError lists the per-strategy failures when no strategy produced bytes.
type ExtractionError struct {
	Failures []StrategyFailure
}

func (e *ExtractionError) Error() string {
	if len(e.Failures) == 0 {
		return "image extraction failed"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Strategy+": "+f.Reason)
	}
	return "image extraction failed: " + strings.Join(parts, "; ")
}

func (e *ExtractionError) Unwrap() error { return ErrNoImage }

type strategy struct {
	name    string
	applies func(in Input) bool
	run     func(in Input) ([]byte, string, error)
}

var strategies = []strategy{
	{name: StrategyFile, applies: func(in Input) bool { return in.File != nil }, run: fromFile},
	{name: StrategyReader, applies: func(in Input) bool { return in.Reader != nil }, run: fromReader},
	{name: StrategyBuffer, applies: func(in Input) bool { return in.Buffer != nil }, run: fromBuffer},
	{name: StrategyDataURL, applies: func(in Input) bool { return hasDataURLPrefix(in.Text) }, run: fromDataURL},
	{name: StrategyBase64, applies: func(in Input) bool { return strings.TrimSpace(in.Text) != "" }, run: fromBase64},
	{name: StrategyStringify, applies: func(in Input) bool { return strings.TrimSpace(in.Text) != "" }, run: fromLooseText},
}

// Extract converts the input to an Image. A strategy yielding zero bytes counts as a
// failure and the next one is attempted.
func Extract(in Input) (Image, error) {
	var failures []StrategyFailure
	for _, s := range strategies {
		if !s.applies(in) {
			continue
		}
		data, declared, err := s.run(in)
		if err == nil && len(data) == 0 {
			err = errors.New("zero bytes")
		}
		if err != nil {
			failures = append(failures, StrategyFailure{Strategy: s.name, Reason: err.Error()})
			continue
		}
		if declared == "" {
			declared = in.DeclaredMIME
		}
		img := Image{
			Base64:   base64.StdEncoding.EncodeToString(data),
			Bytes:    data,
			Strategy: s.name,
		}
		img.MIMEType, img.Warnings = resolveMIME(data, declared)
		return img, nil
	}
	if len(failures) == 0 {
		failures = append(failures, StrategyFailure{Strategy: "input", Reason: "no image data provided"})
	}
	return Image{}, &ExtractionError{Failures: failures}
}

func fromFile(in Input) ([]byte, string, error) {
	f, err := in.File.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	declared := ""
	if fh, ok := in.File.(*multipart.FileHeader); ok {
		declared = fh.Header.Get("Content-Type")
	}
	data, err := readAllLimited(f)
	return data, declared, err
}

func fromReader(in Input) ([]byte, string, error) {
	data, err := readAllLimited(in.Reader)
	return data, "", err
}

func fromBuffer(in Input) ([]byte, string, error) {
	return in.Buffer, "", nil
}

func readAllLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxReadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if len(data) > maxReadBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxReadBytes)
	}
	return data, nil
}

func hasDataURLPrefix(s string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "data:")
}

func fromDataURL(in Input) ([]byte, string, error) {
	raw := strings.TrimSpace(in.Text)
	comma := strings.IndexByte(raw, ',')
	if comma < 0 {
		return nil, "", errors.New("data URL has no payload")
	}
	header, payload := raw[len("data:"):comma], raw[comma+1:]
	if !strings.HasSuffix(strings.ToLower(header), ";base64") {
		return nil, "", errors.New("data URL is not base64 encoded")
	}
	declared := strings.TrimSpace(header[:len(header)-len(";base64")])
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode: %w", err)
	}
	return data, declared, nil
}

func fromBase64(in Input) ([]byte, string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(in.Text))
	if err != nil {
		return nil, "", fmt.Errorf("decode: %w", err)
	}
	return data, "", nil
}

// fromLooseText is the last resort: it strips a data URL header, quotes and whitespace,
// accepts the URL-safe alphabet and missing padding.
func fromLooseText(in Input) ([]byte, string, error) {
	s := strings.TrimSpace(in.Text)
	if comma := strings.IndexByte(s, ','); comma >= 0 && hasDataURLPrefix(s) {
		s = s[comma+1:]
	}
	s = strings.Trim(s, `"'`)
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		case '-':
			return '+'
		case '_':
			return '/'
		}
		return r
	}, s)
	s = strings.TrimRight(s, "=")
	data, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, "", fmt.Errorf("decode: %w", err)
	}
	return data, "", nil
}

// resolveMIME trusts the sniffed type over the declared one. An unrecognized type is a
// warning, never a failure.
func resolveMIME(data []byte, declared string) (string, []string) {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	sniffed := http.DetectContentType(data[:min(len(data), 512)])
	if strings.HasPrefix(sniffed, "image/") {
		var warnings []string
		if declared != "" && declared != sniffed {
			warnings = append(warnings, fmt.Sprintf("declared type %s does not match content %s", declared, sniffed))
		}
		return sniffed, warnings
	}
	if strings.HasPrefix(declared, "image/") {
		return declared, []string{fmt.Sprintf("content type not recognized, using declared %s", declared)}
	}
	return DefaultMIMEType, []string{fmt.Sprintf("unknown image type %q, assuming %s", sniffed, DefaultMIMEType)}
}
