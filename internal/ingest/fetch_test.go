package ingest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// newTestFetcher talks to httptest servers on loopback, so the public-address check is off.
func newTestFetcher(maxBytes int64) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: 2 * time.Second},
		maxBytes:  maxBytes,
		baseDelay: time.Millisecond,
	}
}

func TestFetchRetriesServerErrorOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	in, err := newTestFetcher(0).Fetch(context.Background(), srv.URL+"/meal.png", "req-1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
	img, err := Extract(in)
	if err != nil || img.MIMEType != "image/png" {
		t.Fatalf("unexpected extraction: %v %s", err, img.MIMEType)
	}
}

func TestFetchGivesUpAfterOneRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestFetcher(0).Fetch(context.Background(), srv.URL, "req-2")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 status error, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", calls.Load())
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := newTestFetcher(0).Fetch(context.Background(), srv.URL, "req-3"); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestFetchRejectsOversizedAndInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	if _, err := newTestFetcher(32).Fetch(context.Background(), srv.URL, "req-4"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if _, err := newTestFetcher(0).Fetch(context.Background(), "ftp://example.com/a.png", "req-5"); err == nil {
		t.Fatalf("expected invalid url error")
	}
}

func TestFetchRejectsNonPublicHosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("request reached %s", r.URL)
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, 0)
	urls := []string{
		srv.URL + "/meal.png",
		"http://169.254.169.254/latest/meta-data/",
		"http://10.0.0.5/meal.png",
		"http://192.168.1.20/meal.png",
		"http://[::1]/meal.png",
		"http://0.0.0.0/meal.png",
	}
	for _, u := range urls {
		if _, err := f.Fetch(context.Background(), u, "req-ssrf"); !errors.Is(err, ErrBlockedHost) {
			t.Fatalf("Fetch(%s) = %v, want ErrBlockedHost", u, err)
		}
	}
}

func TestFetchRejectsHostnamesResolvingPrivate(t *testing.T) {
	f := NewFetcher(time.Second, 0)
	f.lookup = func(context.Context, string) ([]net.IPAddr, error) {
		return []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}, {IP: net.ParseIP("10.1.2.3")}}, nil
	}
	if _, err := f.Fetch(context.Background(), "https://images.example.com/meal.png", "req-dns"); !errors.Is(err, ErrBlockedHost) {
		t.Fatalf("expected ErrBlockedHost, got %v", err)
	}
}

func TestPublicOnlyControl(t *testing.T) {
	tests := []struct {
		addr    string
		blocked bool
	}{
		{"127.0.0.1:80", true},
		{"169.254.169.254:80", true},
		{"172.16.4.4:443", true},
		{"[fe80::1]:443", true},
		{"[::ffff:10.0.0.1]:80", true},
		{"8.8.8.8:443", false},
		{"[2606:4700:4700::1111]:443", false},
	}
	for _, tt := range tests {
		err := publicOnlyControl("tcp", tt.addr, nil)
		if got := errors.Is(err, ErrBlockedHost); got != tt.blocked {
			t.Fatalf("publicOnlyControl(%s) blocked=%v, want %v (err %v)", tt.addr, got, tt.blocked, err)
		}
	}
}
