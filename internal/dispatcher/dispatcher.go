// Package dispatcher wires the Normalizer, Referer Gate, Cache Store, and
// Single-Flight Registry together into the per-request decision sequence.
package dispatcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonesrussell/img-proxy/internal/assets"
	"github.com/jonesrussell/img-proxy/internal/cache"
	"github.com/jonesrussell/img-proxy/internal/fetcher"
	"github.com/jonesrussell/img-proxy/internal/fingerprint"
	"github.com/jonesrussell/img-proxy/internal/logger"
	"github.com/jonesrussell/img-proxy/internal/metrics"
	"github.com/jonesrussell/img-proxy/internal/normalizer"
	"github.com/jonesrussell/img-proxy/internal/referer"
	"github.com/jonesrussell/img-proxy/internal/singleflight"
)

// Dispatcher answers one HTTP request per call to ServeHTTP, implementing the
// normalize -> referer gate -> cache lookup -> single-flight sequence.
type Dispatcher struct {
	store    *cache.Store
	registry *singleflight.Registry
	fetcher  *fetcher.Fetcher
	referer  *referer.Gate
	assets   *assets.Set
	metrics  *metrics.Metrics
	log      logger.Logger
	bypass   map[string]struct{}
}

// Config configures a Dispatcher.
type Config struct {
	BypassHosts []string
}

// New wires a Dispatcher from its dependencies. m and log may be nil.
func New(cfg Config, store *cache.Store, registry *singleflight.Registry, f *fetcher.Fetcher, gate *referer.Gate, assetSet *assets.Set, m *metrics.Metrics, log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	bypass := make(map[string]struct{}, len(cfg.BypassHosts))
	for _, h := range cfg.BypassHosts {
		bypass[strings.ToLower(h)] = struct{}{}
	}
	return &Dispatcher{
		store:    store,
		registry: registry,
		fetcher:  f,
		referer:  gate,
		assets:   assetSet,
		metrics:  m,
		log:      log,
		bypass:   bypass,
	}
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := "unknown"
	defer func() {
		if d.metrics != nil {
			d.metrics.RequestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		}
	}()

	if r.URL.Path == "/favicon.ico" {
		outcome = "not_found"
		http.NotFound(w, r)
		return
	}

	result, ok := normalizer.Normalize(r.URL.Path)
	if !ok {
		outcome = "not_found"
		http.NotFound(w, r)
		return
	}

	switch d.referer.Check(r.Header.Get("Referer")) {
	case referer.Redirect:
		outcome = "referer_denied"
		http.Redirect(w, r, result.URL, http.StatusMovedPermanently)
		return
	}

	fp := fingerprint.New(result.URL, result.Options)
	bypassCache := d.shouldBypassCache(r, result.URL)

	if !bypassCache {
		if served := d.serveFromCache(w, r, fp); served != "" {
			outcome = served
			return
		}
	}

	outcome = d.serveViaFetch(r.Context(), w, fp, result)
}

func (d *Dispatcher) shouldBypassCache(r *http.Request, upstreamURL string) bool {
	if r.URL.Query().Get("uncache") == "1" {
		return true
	}
	u, err := url.Parse(upstreamURL)
	if err != nil {
		return false
	}
	_, bypass := d.bypass[strings.ToLower(u.Hostname())]
	return bypass
}

// serveFromCache attempts to answer entirely from the cache store,
// returning a non-empty outcome label if it did.
func (d *Dispatcher) serveFromCache(w http.ResponseWriter, r *http.Request, fp fingerprint.Fingerprint) string {
	lookup, err := d.store.Lookup(fp)
	if err != nil {
		d.log.Error("cache lookup failed", logger.Error(err))
		if d.metrics != nil {
			d.metrics.CacheErrors.Inc()
		}
		return ""
	}

	switch lookup.Kind {
	case cache.ErrorHit:
		if d.metrics != nil {
			d.metrics.CacheHits.Inc()
		}
		d.serveAsset(w, outcomeForErrorTag(lookup.Metadata.ErrorTag))
		return "cache_error_hit"

	case cache.Hit:
		if d.metrics != nil {
			d.metrics.CacheHits.Inc()
		}
		if d.serveConditional(w, r, lookup.Metadata) {
			return "cache_hit_304"
		}
		if d.servePayload(w, fp, lookup.Metadata) {
			return "cache_hit_200"
		}
		return ""

	default:
		if d.metrics != nil {
			d.metrics.CacheMisses.Inc()
		}
		return ""
	}
}

func (d *Dispatcher) serveConditional(w http.ResponseWriter, r *http.Request, meta cache.Metadata) bool {
	ifNoneMatch := r.Header.Get("If-None-Match")
	ifModifiedSince := r.Header.Get("If-Modified-Since")

	if (ifNoneMatch != "" && ifNoneMatch == meta.ETag) || (ifModifiedSince != "" && ifModifiedSince == meta.LastModified) {
		w.Header().Set("ETag", meta.ETag)
		w.Header().Set("Last-Modified", meta.LastModified)
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

func (d *Dispatcher) servePayload(w http.ResponseWriter, fp fingerprint.Fingerprint, meta cache.Metadata) bool {
	rc, err := d.store.Open(fp)
	if err != nil {
		d.log.Error("open cached payload failed", logger.Error(err))
		return false
	}
	defer rc.Close()

	writeMetaHeaders(w, meta)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc)
	return true
}

// serveViaFetch joins the single-flight registry and either drives the
// fetch (as leader) or waits for the leader's result (as a follower).
func (d *Dispatcher) serveViaFetch(ctx context.Context, w http.ResponseWriter, fp fingerprint.Fingerprint, result normalizer.Result) string {
	key := fp.String()
	waitCh, isLeader := d.registry.Join(key)

	if isLeader {
		// The fetch runs detached from the leader's own request context so
		// that the leader's client disconnecting does not abort the fetch
		// that every follower is waiting on.
		resp := d.fetcher.Fetch(context.WithoutCancel(ctx), fp, result.URL, result.Options)
		d.registry.Complete(key, singleflight.Result{Value: resp})
		return d.deliver(w, fp, resp)
	}

	select {
	case res := <-waitCh:
		resp, _ := res.Value.(fetcher.Response)
		return d.deliver(w, fp, resp)
	case <-ctx.Done():
		return "client_cancelled"
	}
}

func (d *Dispatcher) deliver(w http.ResponseWriter, fp fingerprint.Fingerprint, resp fetcher.Response) string {
	if resp.Outcome == fetcher.OutcomeOK {
		if d.servePayload(w, fp, resp.Metadata) {
			return "fetch_ok"
		}
		d.serveAsset(w, fetcher.OutcomeInternal)
		return "fetch_serve_error"
	}

	d.serveAsset(w, resp.Outcome)
	return "fetch_" + resp.Outcome.String()
}

func (d *Dispatcher) serveAsset(w http.ResponseWriter, outcome fetcher.Outcome) {
	a, ok := d.assets.Get(outcome)
	if !ok {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Length", itoa(a.ContentLength))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, a.NewReader())
}

func outcomeForErrorTag(tag string) fetcher.Outcome {
	switch tag {
	case cache.ErrorToolarge:
		return fetcher.OutcomeToolarge
	case cache.ErrorBadformat:
		return fetcher.OutcomeBadformat
	default:
		return fetcher.OutcomeCannotread
	}
}

func writeMetaHeaders(w http.ResponseWriter, meta cache.Metadata) {
	for k, v := range meta.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Length", itoa(meta.ContentLength))
	w.Header().Set("Last-Modified", meta.LastModified)
	w.Header().Set("ETag", meta.ETag)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
