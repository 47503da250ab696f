package fetcher

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonesrussell/img-proxy/internal/cache"
	"github.com/jonesrussell/img-proxy/internal/fingerprint"
	"github.com/jonesrussell/img-proxy/internal/normalizer"
	"github.com/jonesrussell/img-proxy/internal/resilience"
	"github.com/jonesrussell/img-proxy/internal/resize"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func newTestFetcher(t *testing.T, maxSize int64) *Fetcher {
	t.Helper()
	store, err := cache.NewStore(t.TempDir(), time.Hour, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	pool := resize.New(resize.Config{Size: 1, RecycleAfter: 100}, resize.StillFrameEngine{}, nil, nil)
	t.Cleanup(pool.Close)

	cfg := Config{
		TempDir:         t.TempDir(),
		MaxSizeBytes:    maxSize,
		UpstreamTimeout: 5 * time.Second,
		OuterDeadline:   6 * time.Second,
		RetryConfig:     resilience.RetryConfig{MaxAttempts: 1},
		BreakerConfig:   resilience.DefaultBreakerConfig(),
	}
	return New(cfg, store, pool, nil, nil)
}

func TestFetchSuccessStoresAndReturnsOK(t *testing.T) {
	body := pngBytes(t, 50, 50)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 4*1024*1024)
	fp := fingerprint.New(srv.URL, normalizer.Options{})

	resp := f.Fetch(context.Background(), fp, srv.URL, normalizer.Options{})
	if resp.Outcome != OutcomeOK {
		t.Fatalf("Outcome = %v, want OutcomeOK", resp.Outcome)
	}
	if resp.Metadata.Headers["Content-Type"] != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", resp.Metadata.Headers["Content-Type"])
	}

	lookup, err := f.store.Lookup(fp)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if lookup.Kind != cache.Hit {
		t.Errorf("cache Kind = %v, want Hit after successful fetch", lookup.Kind)
	}
}

func TestFetchTooLargeFromContentLengthHeaderIsSticky(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "999999999")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 10)
	fp := fingerprint.New(srv.URL, normalizer.Options{})

	resp := f.Fetch(context.Background(), fp, srv.URL, normalizer.Options{})
	if resp.Outcome != OutcomeToolarge {
		t.Fatalf("Outcome = %v, want OutcomeToolarge", resp.Outcome)
	}

	lookup, err := f.store.Lookup(fp)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if lookup.Kind != cache.ErrorHit || lookup.Metadata.ErrorTag != cache.ErrorToolarge {
		t.Errorf("expected a sticky toolarge error, got Kind=%v Metadata=%+v", lookup.Kind, lookup.Metadata)
	}
}

func TestFetchBadformatIsNotCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<!DOCTYPE html><html></html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, 4*1024*1024)
	fp := fingerprint.New(srv.URL, normalizer.Options{})

	resp := f.Fetch(context.Background(), fp, srv.URL, normalizer.Options{})
	if resp.Outcome != OutcomeBadformat {
		t.Fatalf("Outcome = %v, want OutcomeBadformat", resp.Outcome)
	}

	lookup, err := f.store.Lookup(fp)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if lookup.Kind != cache.Absent {
		t.Errorf("badformat must not be cached, got Kind=%v", lookup.Kind)
	}
}

func TestFetchNon200IsCannotreadAndNotCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 4*1024*1024)
	fp := fingerprint.New(srv.URL, normalizer.Options{})

	resp := f.Fetch(context.Background(), fp, srv.URL, normalizer.Options{})
	if resp.Outcome != OutcomeCannotread {
		t.Fatalf("Outcome = %v, want OutcomeCannotread", resp.Outcome)
	}

	lookup, err := f.store.Lookup(fp)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if lookup.Kind != cache.Absent {
		t.Errorf("cannotread must not be cached, got Kind=%v", lookup.Kind)
	}
}

func TestFetchSizeCapEnforcedDuringStreaming(t *testing.T) {
	body := pngBytes(t, 2000, 2000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flushing before any Write forces chunked transfer with no
		// advertised Content-Length, so the cap is only caught by the
		// running-total check during streaming, not the header check.
		w.(http.Flusher).Flush()
		w.Write(body)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 1024)
	fp := fingerprint.New(srv.URL, normalizer.Options{})

	resp := f.Fetch(context.Background(), fp, srv.URL, normalizer.Options{})
	if resp.Outcome != OutcomeToolarge {
		t.Fatalf("Outcome = %v, want OutcomeToolarge", resp.Outcome)
	}

	lookup, err := f.store.Lookup(fp)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if lookup.Kind != cache.Absent {
		t.Errorf("Kind = %v, want Absent: a toolarge caught only during streaming must not be sticky", lookup.Kind)
	}
}

func TestFetchWithResizeOptionsUpdatesMetadata(t *testing.T) {
	body := pngBytes(t, 400, 300)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 4*1024*1024)
	opts := normalizer.Options{Width: 200}
	fp := fingerprint.New(srv.URL, opts)

	resp := f.Fetch(context.Background(), fp, srv.URL, opts)
	if resp.Outcome != OutcomeOK {
		t.Fatalf("Outcome = %v, want OutcomeOK", resp.Outcome)
	}
	if resp.Metadata.OriginalLength == 0 {
		t.Error("expected OriginalLength to be recorded for a resized entry")
	}
	if resp.Metadata.ContentLength == 0 {
		t.Error("expected ContentLength to reflect the resized payload")
	}
	if resp.Metadata.Headers["X-Image-Original-Length"] == "" {
		t.Error("expected an auxiliary header carrying the pre-resize content length")
	}
}
