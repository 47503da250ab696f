package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckerHealthyWhenAllChecksPass(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("ok", func(ctx context.Context) error { return nil })

	status, results := c.Check(context.Background())
	if status != StatusHealthy {
		t.Errorf("status = %v, want StatusHealthy", status)
	}
	if results["ok"] != "ok" {
		t.Errorf("results[ok] = %q, want ok", results["ok"])
	}
}

func TestCheckerUnhealthyWhenAnyCheckFails(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("good", func(ctx context.Context) error { return nil })
	c.RegisterFunc("bad", func(ctx context.Context) error { return errors.New("boom") })

	status, _ := c.Check(context.Background())
	if status != StatusUnhealthy {
		t.Errorf("status = %v, want StatusUnhealthy", status)
	}
}

func TestHTTPHandlerReturnsServiceUnavailableWhenUnhealthy(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("bad", func(ctx context.Context) error { return errors.New("boom") })

	rec := httptest.NewRecorder()
	c.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", rec.Code)
	}
}

func TestHTTPHandlerReturnsOKWhenHealthy(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("good", func(ctx context.Context) error { return nil })

	rec := httptest.NewRecorder()
	c.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status code = %d, want 200", rec.Code)
	}
}

func TestCacheDirWritableCheck(t *testing.T) {
	dir := t.TempDir()
	check := CacheDirWritable(dir)
	if err := check.Check(context.Background()); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestCacheDirWritableCheckFailsForMissingDir(t *testing.T) {
	check := CacheDirWritable("/nonexistent/path/that/should/not/exist")
	if err := check.Check(context.Background()); err == nil {
		t.Error("expected an error for a nonexistent cache directory")
	}
}
