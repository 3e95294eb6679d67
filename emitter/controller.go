// Package emitter implements the emitter-control proxy and telemetry
// aggregator (C5): it polls each configured emitter's metrics and owns the
// system-wide pause-all/resume-all back-pressure state machine.
package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"logs-distributor/config"
	"logs-distributor/models"
)

// Seed is one emitter's startup configuration.
type Seed struct {
	EmitterID string
	URL       string
}

type record struct {
	bufferSize *int64
	rateRPS    float64
	prevRate   float64
	paused     bool
}

// Controller owns EMITTER_METRICS and SYSTEM_PAUSED. Grounded on the
// teacher's HealthMonitor ticker-goroutine shape
// (distributor/implementations/health_monitor.go), with no direct teacher
// equivalent for the pause/resume duties — those follow
// original_source/distributor/app/main.py's poll_emitters/pause-all/
// resume-all and original_source/emitters/emitter.py's HTTP contract.
type Controller struct {
	logger *zap.Logger
	client *http.Client
	seeds  []Seed
	byID   map[string]Seed

	mu      sync.Mutex
	metrics map[string]*record
	paused  bool
}

// New constructs a controller for the given emitters. All records start
// paused=true until the first successful poll, matching the distilled
// spec's EMITTER_METRICS seeding.
func New(logger *zap.Logger, seeds []Seed) *Controller {
	c := &Controller{
		logger:  logger,
		client:  &http.Client{Timeout: config.DispatchTotalTimeout},
		seeds:   seeds,
		byID:    make(map[string]Seed, len(seeds)),
		metrics: make(map[string]*record, len(seeds)),
	}
	for _, s := range seeds {
		c.byID[s.EmitterID] = s
		c.metrics[s.EmitterID] = &record{paused: true}
	}
	return c
}

// Lookup returns an emitter's URL, for the admin passthrough handlers.
func (c *Controller) Lookup(id string) (string, bool) {
	s, ok := c.byID[id]
	return s.URL, ok
}

// StartPolling runs the metrics-refresh loop until ctx is cancelled.
func (c *Controller) StartPolling(ctx context.Context, wg *sync.WaitGroup, interval time.Duration) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.pollAll(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Controller) pollAll(ctx context.Context) {
	for _, s := range c.seeds {
		c.pollOne(ctx, s)
	}
}

func (c *Controller) pollOne(ctx context.Context, s Seed) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL+"/metrics", nil)
	if err != nil {
		c.markUnreachable(s.EmitterID)
		return
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.markUnreachable(s.EmitterID)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.markUnreachable(s.EmitterID)
		return
	}

	var body struct {
		BufferSize int64   `json:"buffer_size"`
		RateRPS    float64 `json:"rate_rps"`
		Paused     bool    `json:"paused"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.markUnreachable(s.EmitterID)
		return
	}

	c.mu.Lock()
	rec := c.metrics[s.EmitterID]
	rec.bufferSize = &body.BufferSize
	rec.rateRPS = body.RateRPS
	rec.paused = body.Paused
	if body.RateRPS > 0 {
		rec.prevRate = body.RateRPS
	}
	c.mu.Unlock()
}

func (c *Controller) markUnreachable(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.metrics[id]
	rec.bufferSize = nil
	rec.rateRPS = 0
	rec.paused = true
}

// PauseAll is idempotent: if the system isn't already paused, it flips
// SYSTEM_PAUSED and POSTs /pause to every emitter. Per-emitter failures
// are logged and skipped.
func (c *Controller) PauseAll(ctx context.Context) {
	c.mu.Lock()
	if c.paused {
		c.mu.Unlock()
		return
	}
	c.paused = true
	c.mu.Unlock()

	c.logger.Warn("pausing all emitters: dispatcher starved of eligible analyzers")
	for _, s := range c.seeds {
		if err := c.post(ctx, s.URL+"/pause", nil); err != nil {
			c.logger.Error("failed to pause emitter", zap.String("emitter_id", s.EmitterID), zap.Error(err))
			continue
		}
		c.mu.Lock()
		c.metrics[s.EmitterID].paused = true
		c.mu.Unlock()
	}
}

// ResumeAll is idempotent: if the system is paused, it flips SYSTEM_PAUSED
// and, for each emitter, POSTs /resume followed by /rate to restore the
// last observed non-zero rate.
func (c *Controller) ResumeAll(ctx context.Context) {
	c.mu.Lock()
	if !c.paused {
		c.mu.Unlock()
		return
	}
	c.paused = false
	c.mu.Unlock()

	c.logger.Info("resuming all emitters")
	for _, s := range c.seeds {
		if err := c.post(ctx, s.URL+"/resume", nil); err != nil {
			c.logger.Error("failed to resume emitter", zap.String("emitter_id", s.EmitterID), zap.Error(err))
			continue
		}
		c.mu.Lock()
		rec := c.metrics[s.EmitterID]
		rate := rec.prevRate
		rec.paused = false
		c.mu.Unlock()

		body, _ := json.Marshal(map[string]float64{"rps": rate})
		if err := c.post(ctx, s.URL+"/rate", body); err != nil {
			c.logger.Error("failed to restore emitter rate", zap.String("emitter_id", s.EmitterID), zap.Error(err))
		}
	}
}

// IsPaused reports SYSTEM_PAUSED.
func (c *Controller) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Controller) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return nil
}

// ProxyRate, ProxyPause, ProxyResume forward an admin-triggered action to
// one emitter, for the /emitter/{id}/{action} passthrough routes.
func (c *Controller) ProxyRate(ctx context.Context, id string, body []byte) error {
	url, ok := c.Lookup(id)
	if !ok {
		return ErrUnknownEmitter{ID: id}
	}
	return c.post(ctx, url+"/rate", body)
}

func (c *Controller) ProxyPause(ctx context.Context, id string) error {
	url, ok := c.Lookup(id)
	if !ok {
		return ErrUnknownEmitter{ID: id}
	}
	return c.post(ctx, url+"/pause", nil)
}

func (c *Controller) ProxyResume(ctx context.Context, id string) error {
	url, ok := c.Lookup(id)
	if !ok {
		return ErrUnknownEmitter{ID: id}
	}
	return c.post(ctx, url+"/resume", nil)
}

// ProxyMetrics fetches and returns one emitter's raw /metrics body, for
// GET /emitter/{id}/metrics.
func (c *Controller) ProxyMetrics(ctx context.Context, id string) (json.RawMessage, error) {
	url, ok := c.Lookup(id)
	if !ok {
		return nil, ErrUnknownEmitter{ID: id}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/metrics", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ErrUnknownEmitter is returned when an admin route addresses an id the
// controller doesn't know about.
type ErrUnknownEmitter struct{ ID string }

func (e ErrUnknownEmitter) Error() string { return fmt.Sprintf("emitter %q not found", e.ID) }

// ListSnapshot returns a stable-ordered copy of every emitter's last
// observed state, for the metrics push channel.
func (c *Controller) ListSnapshot() []models.EmitterSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.EmitterSnapshot, 0, len(c.seeds))
	for _, s := range c.seeds {
		rec := c.metrics[s.EmitterID]
		out = append(out, models.EmitterSnapshot{
			EmitterID:  s.EmitterID,
			BufferSize: rec.bufferSize,
			RateRPS:    rec.rateRPS,
			Paused:     rec.paused,
		})
	}
	return out
}
