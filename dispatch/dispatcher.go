// Package dispatch implements the dispatcher pool (C3) and the health
// prober (C4): the worker pool that drains the ingress queue and forwards
// packets to analyzers, and the periodic liveness check that is the sole
// mechanism by which an unhealthy analyzer returns to service without
// dispatch traffic.
package dispatch

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"logs-distributor/config"
	"logs-distributor/emitter"
	"logs-distributor/models"
	"logs-distributor/queue"
	"logs-distributor/registry"
)

// newForwardClient builds the short-timeout HTTP client shared by the
// dispatcher and the prober: connect <= 2s, total <= 5s, per spec.
func newForwardClient() *http.Client {
	return &http.Client{
		Timeout: config.DispatchTotalTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: config.DispatchConnectTimeout}).DialContext,
		},
	}
}

// Pool is the fixed-size worker pool described in spec.md §4.3. Its size
// is externally configurable — the source this was distilled from varies
// it between 1 and 4 across revisions.
type Pool struct {
	logger   *zap.Logger
	reg      *registry.Registry
	q        *queue.Queue
	emitters *emitter.Controller
	client   *http.Client
	workers  int

	noTargetBackoff time.Duration

	received  int64
	forwarded int64
}

// NewPool wires a dispatcher pool around the shared registry, queue, and
// emitter controller. Grounded on the teacher's worker-pool shape in
// Distributor.Start/processPackets/sendToAnalyzer
// (distributor/implementations/distributor.go), replacing the teacher's
// in-process simulated analyzer call with a real outbound HTTP POST.
func NewPool(logger *zap.Logger, reg *registry.Registry, q *queue.Queue, emitters *emitter.Controller, workers int) *Pool {
	if workers <= 0 {
		workers = config.DefaultDispatcherPool
	}
	return &Pool{
		logger:          logger,
		reg:             reg,
		q:               q,
		emitters:        emitters,
		client:          newForwardClient(),
		workers:         workers,
		noTargetBackoff: config.DispatchRequeueBackoff,
	}
}

// Start launches the worker goroutines; they run until ctx is cancelled.
func (p *Pool) Start(ctx context.Context, wg *sync.WaitGroup) {
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go p.worker(ctx, wg)
	}
}

func (p *Pool) worker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		packet, ok := p.q.Get(ctx)
		if !ok {
			return
		}
		p.dispatchOne(ctx, packet)
	}
}

func (p *Pool) dispatchOne(ctx context.Context, packet models.Packet) {
	target := p.reg.Choose()
	if target == nil {
		p.handleNoTarget(ctx, packet)
		return
	}

	ok := p.forward(ctx, target, packet)
	if ok {
		p.reg.IncrementTx(target.ID)
		atomic.AddInt64(&p.forwarded, 1)
		if err := p.reg.MarkSuccess(target.ID); err != nil {
			p.logger.Error("mark success failed", zap.Error(err))
		}
		if p.emitters.IsPaused() {
			p.emitters.ResumeAll(ctx)
		}
		return
	}

	if err := p.reg.MarkFailure(target.ID); err != nil {
		p.logger.Error("mark failure failed", zap.Error(err))
	}
	// POST failures are per-packet losses, not retried on another
	// analyzer — intentional, per the at-most-once forwarding contract.
}

// handleNoTarget requeues the packet if there is room; otherwise the
// packet is dropped and the emitter controller is told to pause
// everything upstream.
func (p *Pool) handleNoTarget(ctx context.Context, packet models.Packet) {
	if p.q.TryPut(packet) {
		p.logger.Warn("no eligible analyzer, requeued packet", zap.String("packet_id", packet.ID))
	} else {
		p.logger.Error("no eligible analyzer and queue full, dropping packet", zap.String("packet_id", packet.ID))
		p.emitters.PauseAll(ctx)
	}

	select {
	case <-time.After(p.noTargetBackoff):
	case <-ctx.Done():
	}
}

func (p *Pool) forward(ctx context.Context, target *registry.Analyzer, packet models.Packet) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(packet.Payload))
	if err != nil {
		p.logger.Error("failed to build forward request", zap.String("analyzer_id", target.ID), zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Error("forward failed", zap.String("analyzer_id", target.ID), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// RecordReceived increments the global received-packet counter. Called by
// the ingress handler on every accepted packet.
func (p *Pool) RecordReceived() {
	atomic.AddInt64(&p.received, 1)
}

// Received returns the global received-packet counter.
func (p *Pool) Received() int64 {
	return atomic.LoadInt64(&p.received)
}

// Forwarded returns the global forwarded-packet counter.
func (p *Pool) Forwarded() int64 {
	return atomic.LoadInt64(&p.forwarded)
}
