package dispatch

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"logs-distributor/registry"
)

// Prober is the health prober (C4): it independently re-asserts analyzer
// liveness on a fixed interval, the sole mechanism by which an unhealthy
// analyzer returns to service without dispatch traffic. Grounded on the
// teacher's HealthMonitor ticker-loop shape
// (distributor/implementations/health_monitor.go), replacing its
// rand.Float64() coin-flip simulation with a real outbound GET per
// original_source/distributor/app/main.py's health_probe().
type Prober struct {
	logger *zap.Logger
	reg    *registry.Registry
	client *http.Client
}

// NewProber builds a prober sharing the dispatcher's short-timeout client
// shape (connect <= 2s, total <= 5s).
func NewProber(logger *zap.Logger, reg *registry.Registry) *Prober {
	return &Prober{logger: logger, reg: reg, client: newForwardClient()}
}

// Start runs the probe loop until ctx is cancelled.
func (pr *Prober) Start(ctx context.Context, wg *sync.WaitGroup, interval time.Duration) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pr.probeOnce(ctx, interval)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (pr *Prober) probeOnce(ctx context.Context, interval time.Duration) {
	now := time.Now()
	for _, a := range pr.reg.DueForProbe(now) {
		ok := pr.check(ctx, a.HealthURL())
		pr.reg.BumpLastCheck(a.ID, now.Add(interval))
		if ok {
			if err := pr.reg.MarkSuccess(a.ID); err != nil {
				pr.logger.Error("mark success failed", zap.Error(err))
			}
		} else {
			if err := pr.reg.MarkFailure(a.ID); err != nil {
				pr.logger.Error("mark failure failed", zap.Error(err))
			}
		}
	}
}

func (pr *Prober) check(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := pr.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
