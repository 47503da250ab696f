// Package fetcher drives the streaming upstream download: header
// validation, magic-byte sniffing, size-cap enforcement, spill-to-temp,
// and atomic promotion into the cache store.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/jonesrussell/img-proxy/internal/cache"
	"github.com/jonesrussell/img-proxy/internal/fingerprint"
	"github.com/jonesrussell/img-proxy/internal/logger"
	"github.com/jonesrussell/img-proxy/internal/metrics"
	"github.com/jonesrussell/img-proxy/internal/normalizer"
	"github.com/jonesrussell/img-proxy/internal/resilience"
	"github.com/jonesrussell/img-proxy/internal/resize"
)

// Outcome is the terminal result of one fetch attempt.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeToolarge
	OutcomeBadformat
	OutcomeCannotread
	OutcomeInternal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeToolarge:
		return "toolarge"
	case OutcomeBadformat:
		return "badformat"
	case OutcomeCannotread:
		return "cannotread"
	default:
		return "internal"
	}
}

// Response is what a fetch produces, delivered to every registry waiter.
type Response struct {
	Outcome  Outcome
	Metadata cache.Metadata
}

// Config configures a Fetcher.
type Config struct {
	TempDir         string
	MaxSizeBytes    int64
	UpstreamTimeout time.Duration
	OuterDeadline   time.Duration
	RetryConfig     resilience.RetryConfig
	BreakerConfig   resilience.BreakerConfig
}

// Fetcher owns the streaming download state machine for one fetch at a
// time; a fresh call to Fetch is made per fingerprint by whichever caller
// won the single-flight leadership race.
type Fetcher struct {
	cfg      Config
	store    *cache.Store
	resize   *resize.Pool
	breakers *resilience.BreakerRegistry
	metrics  *metrics.Metrics
	log      logger.Logger
	client   *http.Client
}

// New builds a Fetcher against store, using pool for post-download resize
// jobs. m and log may be nil.
func New(cfg Config, store *cache.Store, pool *resize.Pool, m *metrics.Metrics, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Fetcher{
		cfg:      cfg,
		store:    store,
		resize:   pool,
		breakers: resilience.NewBreakerRegistry(cfg.BreakerConfig),
		metrics:  m,
		log:      log,
		client:   &http.Client{Timeout: cfg.UpstreamTimeout},
	}
}

// Fetch runs the streaming state machine to completion for a single
// upstream URL and set of transform options, and reports the outcome that
// should be fanned out to every waiter on fp.
func (f *Fetcher) Fetch(ctx context.Context, fp fingerprint.Fingerprint, upstreamURL string, opts normalizer.Options) Response {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, f.cfg.OuterDeadline)
	defer cancel()

	resp := f.fetch(ctx, fp, upstreamURL, opts)

	if f.metrics != nil {
		f.metrics.FetchDuration.WithLabelValues(resp.Outcome.String()).Observe(time.Since(start).Seconds())
	}
	f.log.Info("fetch complete",
		logger.String("fingerprint", fp.String()),
		logger.String("outcome", resp.Outcome.String()),
		logger.Duration("elapsed", time.Since(start)),
	)
	return resp
}

func (f *Fetcher) fetch(ctx context.Context, fp fingerprint.Fingerprint, upstreamURL string, opts normalizer.Options) Response {
	u, err := url.Parse(upstreamURL)
	if err != nil {
		return f.transient(fp, OutcomeCannotread)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstreamURL, nil)
	if err != nil {
		return f.transient(fp, OutcomeCannotread)
	}

	var httpResp *http.Response
	dialErr := resilience.DialWithBreaker(ctx, f.breakers, f.cfg.RetryConfig, u.Host, func() error {
		var doErr error
		httpResp, doErr = f.client.Do(req)
		return doErr
	})
	if dialErr != nil {
		return f.transient(fp, OutcomeCannotread)
	}
	defer httpResp.Body.Close()

	// opening: headers received, status != 200
	if httpResp.StatusCode != http.StatusOK {
		return f.transient(fp, OutcomeCannotread)
	}

	// opening: content-length present and exceeds cap
	if httpResp.ContentLength > 0 && httpResp.ContentLength > f.cfg.MaxSizeBytes {
		if err := f.store.MarkError(fp, cache.ErrorToolarge); err != nil {
			f.log.Error("mark sticky error failed", logger.Error(err))
		}
		return Response{Outcome: OutcomeToolarge, Metadata: cache.Metadata{ErrorTag: cache.ErrorToolarge}}
	}

	tmp, err := os.CreateTemp(f.cfg.TempDir, fp.String()+".tmp-*")
	if err != nil {
		return f.internal(fp)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	sniffBuf := make([]byte, 0, sniffWindow)
	var total int64
	buf := make([]byte, 32*1024)
	sniffed := false
	var contentType string

	for {
		n, readErr := httpResp.Body.Read(buf)
		if n > 0 {
			total += int64(n)

			if total > f.cfg.MaxSizeBytes {
				cleanup()
				// Unlike the header-detected case above, a cap hit discovered
				// only during streaming is not persisted sticky: the
				// Content-Length header (if any) understated the payload, so
				// a later request should re-check rather than trust a stale
				// sticky record.
				return f.transient(fp, OutcomeToolarge)
			}

			if !sniffed {
				remaining := sniffWindow - len(sniffBuf)
				take := n
				if take > remaining {
					take = remaining
				}
				sniffBuf = append(sniffBuf, buf[:take]...)

				if len(sniffBuf) >= sniffWindow || readErr == io.EOF {
					ct, ok := sniff(sniffBuf)
					if !ok {
						cleanup()
						return f.transient(fp, OutcomeBadformat)
					}
					contentType = ct
					sniffed = true
					if _, err := tmp.Write(sniffBuf); err != nil {
						cleanup()
						return f.internal(fp)
					}
					if n > take {
						if _, err := tmp.Write(buf[take:n]); err != nil {
							cleanup()
							return f.internal(fp)
						}
					}
				}
			} else {
				if _, err := tmp.Write(buf[:n]); err != nil {
					cleanup()
					return f.internal(fp)
				}
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			cleanup()
			return f.transient(fp, OutcomeCannotread)
		}
	}

	if !sniffed {
		ct, ok := sniff(sniffBuf)
		if !ok {
			cleanup()
			return f.transient(fp, OutcomeBadformat)
		}
		contentType = ct
		if _, err := tmp.Write(sniffBuf); err != nil {
			cleanup()
			return f.internal(fp)
		}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return f.internal(fp)
	}

	return f.finalize(ctx, fp, tmpPath, opts, httpResp, contentType, total)
}

func (f *Fetcher) finalize(ctx context.Context, fp fingerprint.Fingerprint, tmpPath string, opts normalizer.Options, upstream *http.Response, contentType string, size int64) Response {
	lastModified := upstream.Header.Get("Last-Modified")
	if lastModified == "" {
		lastModified = time.Now().UTC().Format(http.TimeFormat)
	}
	etag := upstream.Header.Get("ETag")
	if etag == "" {
		etag = fmt.Sprintf(`"%s"`, fp.String())
	}

	meta := cache.Metadata{
		Headers: map[string]string{
			"Content-Type":  contentType,
			"Cache-Control": "public, max-age=86400",
		},
		ETag:          etag,
		LastModified:  lastModified,
		ContentLength: size,
	}

	if !opts.Empty() {
		originalSize := size
		newSize, err := f.resize.Resize(ctx, tmpPath, opts)
		if err != nil {
			os.Remove(tmpPath)
			f.log.Warn("resize failed", logger.Error(err), logger.String("fingerprint", fp.String()))
			return f.transient(fp, OutcomeCannotread)
		}
		meta.ContentLength = newSize
		meta.OriginalLength = originalSize
		meta.Headers["X-Image-Original-Length"] = fmt.Sprintf("%d", originalSize)
	}

	if err := f.store.Store(fp, tmpPath, meta); err != nil {
		os.Remove(tmpPath)
		f.log.Error("cache store failed", logger.Error(err))
		if f.metrics != nil {
			f.metrics.CacheErrors.Inc()
		}
		return f.internal(fp)
	}

	if f.metrics != nil {
		f.metrics.FetchBytes.Observe(float64(size))
	}

	return Response{Outcome: OutcomeOK, Metadata: meta}
}

// transient produces an error outcome that is never persisted to the
// cache store — a later request for the same fingerprint must re-attempt
// the upstream.
func (f *Fetcher) transient(fp fingerprint.Fingerprint, outcome Outcome) Response {
	return Response{Outcome: outcome, Metadata: cache.Metadata{ErrorTag: outcome.String()}}
}

func (f *Fetcher) internal(fp fingerprint.Fingerprint) Response {
	return Response{Outcome: OutcomeInternal}
}
