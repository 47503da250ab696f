// Package admin exposes an operator-facing HTTP surface for inspecting
// and clearing the cache store, independent of the public image-serving
// path. Unlike the Request Dispatcher, which streams raw bytes and must
// stay off any framework's buffering, the admin surface is pure JSON and
// is built on gin.
package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/img-proxy/internal/cache"
	"github.com/jonesrussell/img-proxy/internal/fingerprint"
	"github.com/jonesrussell/img-proxy/internal/health"
	"github.com/jonesrussell/img-proxy/internal/logger"
	"github.com/jonesrussell/img-proxy/internal/singleflight"
)

// Handler wraps the cache store, single-flight registry, and health
// checker behind a *gin.Engine and implements http.Handler itself so it
// can be mounted with a plain net/http.ServeMux entry.
type Handler struct {
	engine    *gin.Engine
	store     *cache.Store
	registry  *singleflight.Registry
	checker   *health.Checker
	startedAt time.Time
	log       logger.Logger
}

// New wires an admin Handler. log may be nil.
func New(store *cache.Store, registry *singleflight.Registry, checker *health.Checker, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}

	h := &Handler{
		store:     store,
		registry:  registry,
		checker:   checker,
		startedAt: time.Now(),
		log:       log,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(recoveryMiddleware(log))
	engine.Use(requestIDMiddleware())
	engine.Use(loggerMiddleware(log))

	engine.GET("/admin/status", h.handleStatus)
	engine.GET("/admin/cache", h.handleListCache)
	engine.DELETE("/admin/cache", h.handlePurgeAll)
	engine.DELETE("/admin/cache/:key", h.handlePurgeOne)
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	h.engine = engine
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.engine.ServeHTTP(w, r)
}

type statusResponse struct {
	Uptime       string            `json:"uptime"`
	CacheRoot    string            `json:"cache_root"`
	CacheEntries int               `json:"cache_entries"`
	CacheBytes   int64             `json:"cache_bytes"`
	InFlight     int               `json:"in_flight"`
	Health       health.Status     `json:"health"`
	HealthChecks map[string]string `json:"health_checks"`
}

func (h *Handler) handleStatus(c *gin.Context) {
	entries, bytes, err := h.store.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status, checks := h.checker.Check(c.Request.Context())

	c.JSON(http.StatusOK, statusResponse{
		Uptime:       time.Since(h.startedAt).String(),
		CacheRoot:    h.store.Root(),
		CacheEntries: entries,
		CacheBytes:   bytes,
		InFlight:     h.registry.InFlight(),
		Health:       status,
		HealthChecks: checks,
	})
}

type cacheListResponse struct {
	Entries []string `json:"entries"`
	Count   int      `json:"count"`
	Limited bool     `json:"limited"`
}

const listLimit = 1000

func (h *Handler) handleListCache(c *gin.Context) {
	keys, err := h.store.Entries(listLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cacheListResponse{
		Entries: keys,
		Count:   len(keys),
		Limited: len(keys) == listLimit,
	})
}

func (h *Handler) handlePurgeAll(c *gin.Context) {
	if err := h.store.PurgeAll(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.log.Info("admin purged entire cache")
	c.JSON(http.StatusOK, gin.H{"status": "purged"})
}

func (h *Handler) handlePurgeOne(c *gin.Context) {
	key := c.Param("key")

	fp, err := fingerprint.Parse(key)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.Purge(fp); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.log.Info("admin purged cache entry", logger.String("key", key))
	c.JSON(http.StatusOK, gin.H{"status": "purged", "key": key})
}
