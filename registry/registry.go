// Package registry implements the analyzer table: smooth weighted
// round-robin selection, weight renormalization, and the failure-driven
// health state machine described for the distributor's routing core.
package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"logs-distributor/models"
)

// Analyzer is one routable backend. All mutation happens under the
// Registry's lock; callers never touch these fields directly.
type Analyzer struct {
	ID              string
	URL             string
	Weight          float64
	EffectiveWeight float64
	CurrentWeight   float64
	Healthy         bool
	AdminEnabled    bool
	Failures        int
	LastCheck       time.Time
	txPackets       int64
}

// HealthURL derives the analyzer's health-check endpoint by substituting
// the trailing "/ingest" segment of its ingest URL with "/health".
func (a *Analyzer) HealthURL() string {
	if strings.HasSuffix(a.URL, "/ingest") {
		return strings.TrimSuffix(a.URL, "/ingest") + "/health"
	}
	return a.URL + "/health"
}

func (a *Analyzer) eligible() bool {
	return a.Healthy && a.AdminEnabled && a.EffectiveWeight > 0
}

func (a *Analyzer) snapshot() models.AnalyzerSnapshot {
	return models.AnalyzerSnapshot{
		ID:              a.ID,
		URL:             a.URL,
		Weight:          a.Weight,
		EffectiveWeight: a.EffectiveWeight,
		Healthy:         a.Healthy,
		AdminEnabled:    a.AdminEnabled,
		Failures:        a.Failures,
		TxPackets:       a.txPackets,
	}
}

// Registry owns the analyzer table under a single mutex — per the
// concurrency model, its critical sections never suspend: no channel
// operations or network calls happen while the lock is held.
type Registry struct {
	mu        sync.Mutex
	analyzers []*Analyzer
	byID      map[string]*Analyzer
	maxFail   int
	logger    *zap.Logger
}

// New builds a registry from startup seeds. Order is preserved — choose()
// breaks ties by insertion order.
func New(logger *zap.Logger, maxFail int, seeds ...Analyzer) *Registry {
	if maxFail <= 0 {
		maxFail = 3
	}
	r := &Registry{
		byID:    make(map[string]*Analyzer),
		maxFail: maxFail,
		logger:  logger,
	}
	for _, s := range seeds {
		a := s
		a.Healthy = true
		a.AdminEnabled = true
		r.analyzers = append(r.analyzers, &a)
		r.byID[a.ID] = &a
	}
	r.normalize()
	return r
}

// ErrDuplicateID is returned by Add when the id is already registered.
type ErrDuplicateID struct{ ID string }

func (e ErrDuplicateID) Error() string { return fmt.Sprintf("analyzer %q already exists", e.ID) }

// ErrUnknownID is returned by operations addressing an id the registry
// does not hold.
type ErrUnknownID struct{ ID string }

func (e ErrUnknownID) Error() string { return fmt.Sprintf("analyzer %q not found", e.ID) }

// Choose returns the next target using smooth weighted round-robin
// (Nginx-style): accumulate effective weight into each eligible
// analyzer's running total, pick the maximum, then subtract the sum of
// eligible weights from the winner. Returns nil iff no analyzer is
// eligible.
func (r *Registry) Choose() *Analyzer {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *Analyzer
	var total float64
	for _, a := range r.analyzers {
		if !a.eligible() {
			continue
		}
		a.CurrentWeight += a.EffectiveWeight
		total += a.EffectiveWeight
		if best == nil || a.CurrentWeight > best.CurrentWeight {
			best = a
		}
	}
	if best != nil {
		best.CurrentWeight -= total
	}
	return best
}

// MarkFailure records a forward/probe failure. After max_fail consecutive
// failures with no interleaved success, the analyzer is marked unhealthy.
func (r *Registry) MarkFailure(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return ErrUnknownID{ID: id}
	}
	a.Failures++
	if a.Failures >= r.maxFail && a.Healthy {
		a.Healthy = false
		a.CurrentWeight = 0
		r.logger.Warn("analyzer marked unhealthy",
			zap.String("analyzer_id", id),
			zap.Int("failures", a.Failures),
		)
		r.normalize()
	}
	return nil
}

// MarkSuccess records a successful forward/probe. It resets the failure
// counter and, if the analyzer was unhealthy, restores it to eligible at
// its baseline weight.
func (r *Registry) MarkSuccess(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return ErrUnknownID{ID: id}
	}
	a.Failures = 0
	wasUnhealthy := !a.Healthy
	if wasUnhealthy {
		a.CurrentWeight = 0
		r.logger.Info("analyzer marked healthy", zap.String("analyzer_id", id))
	}
	a.Healthy = true
	a.EffectiveWeight = a.Weight
	r.normalize()
	return nil
}

// ToggleAdmin enables or disables an analyzer via the admin API. Disabling
// clears Healthy immediately; enabling optimistically marks it healthy so
// it's selectable right away, and lets the prober correct that within one
// interval if it's actually down.
func (r *Registry) ToggleAdmin(id string, enable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return ErrUnknownID{ID: id}
	}
	if a.AdminEnabled == enable {
		return nil
	}
	a.AdminEnabled = enable
	a.Healthy = enable
	a.CurrentWeight = 0
	r.normalize()
	r.logger.Info("analyzer admin status changed",
		zap.String("analyzer_id", id),
		zap.Bool("enabled", enable),
	)
	return nil
}

// Add registers a new analyzer. It fails with ErrDuplicateID if the id is
// already present and leaves state unchanged.
func (r *Registry) Add(id, url string, weight float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; exists {
		return ErrDuplicateID{ID: id}
	}
	a := &Analyzer{
		ID:           id,
		URL:          url,
		Weight:       weight,
		Healthy:      true,
		AdminEnabled: true,
		LastCheck:    time.Now().Add(5 * time.Second), // grace period before first probe
	}
	r.analyzers = append(r.analyzers, a)
	r.byID[id] = a
	r.logger.Info("analyzer added", zap.String("analyzer_id", id), zap.Float64("weight", weight))
	r.normalize()
	return nil
}

// Remove deletes an analyzer; a no-op if the id is absent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	for i, a := range r.analyzers {
		if a.ID == id {
			r.analyzers = append(r.analyzers[:i], r.analyzers[i+1:]...)
			break
		}
	}
	r.logger.Info("analyzer removed", zap.String("analyzer_id", id))
	r.normalize()
}

// DueForProbe returns the analyzers whose grace period has elapsed,
// preserving insertion order.
func (r *Registry) DueForProbe(now time.Time) []*Analyzer {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := make([]*Analyzer, 0, len(r.analyzers))
	for _, a := range r.analyzers {
		if !now.Before(a.LastCheck) {
			due = append(due, a)
		}
	}
	return due
}

// BumpLastCheck schedules the next eligible probe time for an analyzer.
func (r *Registry) BumpLastCheck(id string, next time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.byID[id]; ok {
		a.LastCheck = next
	}
}

// IncrementTx records one successful forward for telemetry purposes.
func (r *Registry) IncrementTx(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.byID[id]; ok {
		a.txPackets++
	}
}

// ListSnapshot returns a stable-ordered, lock-protected copy of every
// analyzer record, for GET /registry and the metrics push channel.
func (r *Registry) ListSnapshot() []models.AnalyzerSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.AnalyzerSnapshot, 0, len(r.analyzers))
	for _, a := range r.analyzers {
		out = append(out, a.snapshot())
	}
	return out
}

// normalize re-derives EffectiveWeight for every analyzer after any
// mutation of health, admin flag, membership, or baseline weight. Eligible
// analyzers' weights always sum to 1.0 (or 0 if none are eligible).
//
// Must be called with r.mu held.
func (r *Registry) normalize() {
	var eligible []*Analyzer
	var total float64
	for _, a := range r.analyzers {
		if a.Healthy && a.AdminEnabled {
			eligible = append(eligible, a)
			total += a.Weight
		}
	}

	if len(eligible) == 0 {
		for _, a := range r.analyzers {
			a.EffectiveWeight = 0
		}
		return
	}

	isEligible := make(map[string]bool, len(eligible))
	for _, a := range eligible {
		isEligible[a.ID] = true
	}

	switch {
	case total == 0:
		equalShare := 1.0 / float64(len(eligible))
		for _, a := range r.analyzers {
			if isEligible[a.ID] {
				a.EffectiveWeight = equalShare
			} else {
				a.EffectiveWeight = 0
			}
		}
	case total < 1.0:
		gap := (1.0 - total) / float64(len(eligible))
		for _, a := range r.analyzers {
			if isEligible[a.ID] {
				a.EffectiveWeight = a.Weight + gap
			} else {
				a.EffectiveWeight = 0
			}
		}
	default:
		scale := 1.0 / total
		for _, a := range r.analyzers {
			if isEligible[a.ID] {
				a.EffectiveWeight = a.Weight * scale
			} else {
				a.EffectiveWeight = 0
			}
		}
	}
}
