package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jonesrussell/img-proxy/internal/normalizer"
)

// resizeSubmitter is the subset of resize.Pool exercised by
// ResizePoolAccepting; kept as an interface so tests can
// substitute a fake pool without pulling in a real image codec.
type resizeSubmitter interface {
	Resize(ctx context.Context, path string, opts normalizer.Options) (int64, error)
}

// CacheDirWritable returns a check that verifies dir accepts a write.
func CacheDirWritable(dir string) Check {
	return CheckFunc{
		FnName: "cache_dir_writable",
		Fn: func(ctx context.Context) error {
			f, err := os.CreateTemp(dir, ".healthz-*")
			if err != nil {
				return fmt.Errorf("cache dir not writable: %w", err)
			}
			name := f.Name()
			f.Close()
			return os.Remove(name)
		},
	}
}

// ResizePoolAccepting returns a check that submits a trivial job to pool
// and confirms it completes within a short deadline, proving the pool is
// still accepting work rather than deadlocked.
func ResizePoolAccepting(pool resizeSubmitter, probePath string) Check {
	return CheckFunc{
		FnName: "resize_pool_accepting",
		Fn: func(ctx context.Context) error {
			probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()

			if _, err := os.Stat(probePath); err != nil {
				return nil // no probe fixture configured; skip rather than fail
			}

			tmp, err := copyToTemp(probePath)
			if err != nil {
				return fmt.Errorf("prepare resize probe: %w", err)
			}
			defer os.Remove(tmp)

			_, err = pool.Resize(probeCtx, tmp, normalizer.Options{Width: 1})
			if err != nil {
				return fmt.Errorf("resize pool did not accept probe job: %w", err)
			}
			return nil
		},
	}
}

func copyToTemp(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".healthz-probe-*")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", err
	}
	return f.Name(), nil
}
