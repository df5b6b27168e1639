package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"meal-backend/internal/shared/telemetry"
)

const (
	fetchRetryBaseDelay = 250 * time.Millisecond
	fetchMaxAttempts    = 2
)

// StatusError is a non-2xx answer from the image host.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("image fetch: http status %d", e.StatusCode)
}

// ErrBlockedHost rejects URLs that resolve to loopback, private, link-local or
// unspecified addresses.
var ErrBlockedHost = errors.New("image fetch: host is not publicly routable")

// Fetcher downloads images referenced by URL. Transport failures are retried once.
type Fetcher struct {
	client     *http.Client
	maxBytes   int64
	baseDelay  time.Duration
	publicOnly bool
	lookup     func(ctx context.Context, host string) ([]net.IPAddr, error)
}

// NewFetcher builds a fetcher that only connects to public addresses. The check runs
// before the request and again on every dial, so redirects and DNS rebinding are
// covered. maxBytes <= 0 disables the size check.
func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second, Control: publicOnlyControl}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &Fetcher{
		client:     &http.Client{Timeout: timeout, Transport: transport},
		maxBytes:   maxBytes,
		baseDelay:  fetchRetryBaseDelay,
		publicOnly: true,
		lookup:     net.DefaultResolver.LookupIPAddr,
	}
}

// Fetch downloads rawURL and returns an Input ready for Extract.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, requestID string) (Input, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Input{}, fmt.Errorf("image fetch: invalid url %q", rawURL)
	}
	if f.publicOnly {
		if err := f.checkHost(ctx, u.Hostname()); err != nil {
			telemetry.Warn("ingest.fetch_blocked", map[string]any{
				"request_id": requestID,
				"host":       u.Hostname(),
				"error":      err.Error(),
			})
			return Input{}, err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= fetchMaxAttempts; attempt++ {
		in, err := f.fetchOnce(ctx, u.String())
		if err == nil {
			return in, nil
		}
		lastErr = err
		if attempt == fetchMaxAttempts || !shouldRetryFetch(ctx, err) {
			break
		}
		delay := f.baseDelay << (attempt - 1)
		telemetry.Warn("ingest.fetch_retry", map[string]any{
			"request_id": requestID,
			"attempt":    attempt,
			"delay_ms":   delay.Milliseconds(),
			"error":      err.Error(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Input{}, ctx.Err()
		}
	}
	return Input{}, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, target string) (Input, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Input{}, err
	}
	req.Header.Set("Accept", "image/*")
	resp, err := f.client.Do(req)
	if err != nil {
		return Input{}, fmt.Errorf("image fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Input{}, &StatusError{StatusCode: resp.StatusCode}
	}

	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return Input{}, fmt.Errorf("image fetch: read body: %w", err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return Input{}, fmt.Errorf("image fetch: %w", ErrTooLarge)
	}
	return Input{Buffer: data, DeclaredMIME: resp.Header.Get("Content-Type")}, nil
}

// ErrTooLarge marks images above the configured byte limit.
var ErrTooLarge = errors.New("image too large")

func (f *Fetcher) checkHost(ctx context.Context, host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if !isPublicIP(ip) {
			return fmt.Errorf("%w: %s", ErrBlockedHost, host)
		}
		return nil
	}
	addrs, err := f.lookup(ctx, host)
	if err != nil {
		return fmt.Errorf("image fetch: resolve %s: %w", host, err)
	}
	for _, addr := range addrs {
		if !isPublicIP(addr.IP) {
			return fmt.Errorf("%w: %s resolves to %s", ErrBlockedHost, host, addr.IP)
		}
	}
	return nil
}

// publicOnlyControl runs on every dial with the address actually being connected to.
func publicOnlyControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || !isPublicIP(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}
	return nil
}

func isPublicIP(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast())
}

func shouldRetryFetch(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, ErrTooLarge) || errors.Is(err, ErrBlockedHost) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "tls handshake timeout") ||
		strings.Contains(msg, "eof")
}
