// Package resize runs image transformations off the request path in a
// small, bounded, recyclable worker pool.
package resize

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonesrussell/img-proxy/internal/logger"
	"github.com/jonesrussell/img-proxy/internal/metrics"
	"github.com/jonesrussell/img-proxy/internal/normalizer"
)

// Engine performs the actual pixel-level work for one job. It rewrites
// the file in place and returns the new file size.
type Engine interface {
	Resize(path string, opts normalizer.Options) (newSize int64, err error)
}

// job is one unit of work submitted to the pool.
type job struct {
	ctx    context.Context
	path   string
	opts   normalizer.Options
	result chan jobResult
}

type jobResult struct {
	size int64
	err  error
}

// Pool is a bounded pool of workers that each process one job at a time
// and are recycled — replaced with a fresh worker goroutine — after a
// configured number of jobs, to contain memory growth from the
// underlying image engine.
type Pool struct {
	engine       Engine
	jobs         chan job
	recycleAfter int
	metrics      *metrics.Metrics
	log          logger.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// Config configures a Pool.
type Config struct {
	Size         int
	RecycleAfter int
}

// New starts cfg.Size worker goroutines around engine. m and log may be
// nil.
func New(cfg Config, engine Engine, m *metrics.Metrics, log logger.Logger) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 4
	}
	if cfg.RecycleAfter <= 0 {
		cfg.RecycleAfter = 250
	}
	if log == nil {
		log = logger.NewNop()
	}

	p := &Pool{
		engine:       engine,
		jobs:         make(chan job),
		recycleAfter: cfg.RecycleAfter,
		metrics:      m,
		log:          log,
		stop:         make(chan struct{}),
	}

	for i := 0; i < cfg.Size; i++ {
		p.wg.Add(1)
		go p.supervise(i)
	}

	return p
}

// Resize submits one resize job and blocks until it completes, is
// cancelled via ctx, or the pool is closed.
func (p *Pool) Resize(ctx context.Context, path string, opts normalizer.Options) (int64, error) {
	j := job{ctx: ctx, path: path, opts: opts, result: make(chan jobResult, 1)}

	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-p.stop:
		return 0, fmt.Errorf("resize: pool is closed")
	}

	select {
	case r := <-j.result:
		return r.size, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close stops accepting new jobs and waits for in-flight workers to
// finish their current job.
func (p *Pool) Close() {
	close(p.stop)
	p.wg.Wait()
}

// supervise keeps slot occupied by a live worker goroutine for the life
// of the pool, replacing it with a fresh one each time it recycles.
func (p *Pool) supervise(slot int) {
	defer p.wg.Done()

	generation := 0
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		if !p.runWorker(slot, generation) {
			return
		}
		generation++
	}
}

// runWorker processes jobs until it either recycles (returns true, so
// supervise starts its replacement) or the pool is closed (returns
// false).
func (p *Pool) runWorker(slot, generation int) bool {
	processed := 0
	for {
		select {
		case <-p.stop:
			return false
		case j := <-p.jobs:
			start := time.Now()
			size, err := p.engine.Resize(j.path, j.opts)
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			if p.metrics != nil {
				p.metrics.ResizeDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
				p.metrics.ResizeJobs.WithLabelValues(outcome).Inc()
			}

			select {
			case j.result <- jobResult{size: size, err: err}:
			case <-j.ctx.Done():
			}

			processed++
			if processed >= p.recycleAfter {
				p.log.Debug("recycling resize worker",
					logger.Int("slot", slot),
					logger.Int("generation", generation),
					logger.Int("jobs_processed", processed),
				)
				return true
			}
		}
	}
}

// StillFrameEngine is a minimal Engine that composites the "still"
// first-frame overlay and resizes proportionally using the "only shrink"
// directive, auto-orienting by EXIF. The actual pixel manipulation is
// delegated to decodeAndTransform, kept in its own file so alternative
// image backends can be swapped in without touching the pool.
type StillFrameEngine struct{}

// Resize implements Engine.
func (StillFrameEngine) Resize(path string, opts normalizer.Options) (int64, error) {
	newSize, err := decodeAndTransform(path, opts)
	if err != nil {
		return 0, fmt.Errorf("resize: transform %s: %w", path, err)
	}
	return newSize, nil
}
