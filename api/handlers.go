package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"logs-distributor/config"
	"logs-distributor/dispatch"
	"logs-distributor/emitter"
	"logs-distributor/models"
	"logs-distributor/queue"
	"logs-distributor/registry"
)

// Handler wires the HTTP/WS surface (C6) to the registry, queue,
// dispatcher pool, and emitter controller. Grounded on the teacher's
// api/handlers.go: route group, recovery middleware, request-logging
// middleware, and CORS middleware, generalized from the teacher's
// in-process-distributor facade to the spec's ingress/registry/emitter
// surface.
type Handler struct {
	reg      *registry.Registry
	q        *queue.Queue
	pool     *dispatch.Pool
	emitters *emitter.Controller
	logger   *zap.Logger
	promux   *Prometheus
	hub      *hub
}

// NewHandler builds the API handler set.
func NewHandler(reg *registry.Registry, q *queue.Queue, pool *dispatch.Pool, emitters *emitter.Controller, logger *zap.Logger, promux *Prometheus) *Handler {
	return &Handler{
		reg:      reg,
		q:        q,
		pool:     pool,
		emitters: emitters,
		logger:   logger,
		promux:   promux,
		hub:      newHub(),
	}
}

// SetupRoutes configures every route in the spec's HTTP surface table.
func (h *Handler) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(h.loggingMiddleware())
	r.Use(h.corsMiddleware())

	r.POST("/log-packet", h.ingest)
	r.GET("/registry", h.listRegistry)
	r.POST("/registry/add", h.addAnalyzer)
	r.DELETE("/registry/:id", h.removeAnalyzer)
	r.POST("/analyzer/:id/enable", h.enableAnalyzer)
	r.POST("/analyzer/:id/disable", h.disableAnalyzer)
	r.POST("/emitter/:id/rate", h.proxyEmitterRate)
	r.POST("/emitter/:id/pause", h.proxyEmitterPause)
	r.POST("/emitter/:id/resume", h.proxyEmitterResume)
	r.GET("/emitter/:id/metrics", h.proxyEmitterMetrics)
	r.GET("/metrics", h.prometheusMetrics)
	r.GET("/ws/metrics", h.wsMetrics)

	return r
}

// ingest accepts one opaque JSON packet and enqueues it, blocking on
// queue capacity rather than rejecting — callers that exceed capacity
// observe latency, not an explicit error.
func (h *Handler) ingest(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, config.MaxPacketSizeBytes+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read body"})
		return
	}
	if len(body) > config.MaxPacketSizeBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "packet exceeds maximum size"})
		return
	}
	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "packet must be valid JSON"})
		return
	}

	packet := models.NewPacket("", body)
	if err := h.q.Put(c.Request.Context(), packet); err != nil {
		h.logger.Error("failed to enqueue packet", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.pool.RecordReceived()
	h.promux.IncReceived()

	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *Handler) listRegistry(c *gin.Context) {
	c.JSON(http.StatusOK, h.reg.ListSnapshot())
}

func (h *Handler) addAnalyzer(c *gin.Context) {
	var req struct {
		ID     string  `json:"id"`
		URL    string  `json:"url"`
		Weight float64 `json:"weight"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" || req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id and url are required"})
		return
	}
	if req.Weight == 0 {
		req.Weight = 1.0
	}

	if err := h.reg.Add(req.ID, req.URL, req.Weight); err != nil {
		var dup registry.ErrDuplicateID
		if errors.As(err, &dup) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": req.ID})
}

func (h *Handler) removeAnalyzer(c *gin.Context) {
	id := c.Param("id")
	h.reg.Remove(id)
	c.JSON(http.StatusOK, gin.H{"removed": id})
}

func (h *Handler) enableAnalyzer(c *gin.Context) {
	h.toggleAnalyzer(c, true)
}

func (h *Handler) disableAnalyzer(c *gin.Context) {
	h.toggleAnalyzer(c, false)
}

func (h *Handler) toggleAnalyzer(c *gin.Context, enable bool) {
	id := c.Param("id")
	if err := h.reg.ToggleAdmin(id, enable); err != nil {
		var unknown registry.ErrUnknownID
		if errors.As(err, &unknown) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"analyzer_id": id, "enabled": enable})
}

func (h *Handler) proxyEmitterRate(c *gin.Context) {
	id := c.Param("id")
	body, _ := io.ReadAll(c.Request.Body)
	if err := h.emitters.ProxyRate(c.Request.Context(), id, body); err != nil {
		h.emitterProxyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) proxyEmitterPause(c *gin.Context) {
	id := c.Param("id")
	if err := h.emitters.ProxyPause(c.Request.Context(), id); err != nil {
		h.emitterProxyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) proxyEmitterResume(c *gin.Context) {
	id := c.Param("id")
	if err := h.emitters.ProxyResume(c.Request.Context(), id); err != nil {
		h.emitterProxyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) proxyEmitterMetrics(c *gin.Context) {
	id := c.Param("id")
	raw, err := h.emitters.ProxyMetrics(c.Request.Context(), id)
	if err != nil {
		h.emitterProxyError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func (h *Handler) emitterProxyError(c *gin.Context, err error) {
	var unknown emitter.ErrUnknownEmitter
	if errors.As(err, &unknown) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.logger.Error("emitter proxy call failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// loggingMiddleware logs HTTP requests, teacher-style.
func (h *Handler) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		logLevel := zap.InfoLevel
		if c.Writer.Status() >= 400 {
			logLevel = zap.ErrorLevel
		}

		if ce := h.logger.Check(logLevel, "http request"); ce != nil {
			ce.Write(
				zap.String("method", c.Request.Method),
				zap.String("path", path),
				zap.Int("status", c.Writer.Status()),
				zap.Duration("latency", latency),
				zap.String("client_ip", c.ClientIP()),
			)
		}
	}
}

// corsMiddleware handles CORS headers, teacher-style.
func (h *Handler) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
