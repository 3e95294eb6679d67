package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	// Server Configuration
	DefaultPort     = "8080"
	ReadTimeout     = 30 * time.Second
	WriteTimeout    = 30 * time.Second
	IdleTimeout     = 120 * time.Second
	ShutdownTimeout = 30 * time.Second

	// Distributor Configuration
	DefaultQueueCapacity    = 10000
	DefaultDispatcherPool   = 2
	DefaultProbeInterval    = 2 * time.Second
	DefaultPollInterval     = 1 * time.Second
	DefaultMaxFailures      = 3
	DispatchConnectTimeout  = 2 * time.Second
	DispatchTotalTimeout    = 5 * time.Second
	DispatchRequeueBackoff  = 1 * time.Second
	MetricsSnapshotInterval = 1 * time.Second

	// Validation
	MaxPacketSizeBytes = 1024 * 1024 // 1MB per packet
	MinWeight          = 0.0
)

// AnalyzerSeed is one entry of the ANALYZERS_JSON startup configuration.
type AnalyzerSeed struct {
	ID     string  `json:"id"`
	URL    string  `json:"url"`
	Weight float64 `json:"weight"`
}

// EmitterSeed is one entry of the EMITTERS_JSON startup configuration.
type EmitterSeed struct {
	EmitterID string `json:"emitter_id"`
	URL       string `json:"url"`
}

// Runtime holds the knobs that, per spec, must remain externally
// configurable rather than baked into the binary.
type Runtime struct {
	Port              string
	QueueCapacity     int
	DispatcherWorkers int
	ProbeInterval     time.Duration
	PollInterval      time.Duration
	MaxFailures       int
}

// LoadAnalyzers parses ANALYZERS_JSON. Missing or empty is fatal, per spec.
func LoadAnalyzers() ([]AnalyzerSeed, error) {
	raw := os.Getenv("ANALYZERS_JSON")
	if raw == "" {
		return nil, fmt.Errorf("ANALYZERS_JSON is not set")
	}
	var seeds []AnalyzerSeed
	if err := json.Unmarshal([]byte(raw), &seeds); err != nil {
		return nil, fmt.Errorf("invalid ANALYZERS_JSON: %w", err)
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("ANALYZERS_JSON must contain at least one analyzer")
	}
	return seeds, nil
}

// LoadEmitters parses EMITTERS_JSON. Missing or empty is fatal, per spec.
func LoadEmitters() ([]EmitterSeed, error) {
	raw := os.Getenv("EMITTERS_JSON")
	if raw == "" {
		return nil, fmt.Errorf("EMITTERS_JSON is not set")
	}
	var seeds []EmitterSeed
	if err := json.Unmarshal([]byte(raw), &seeds); err != nil {
		return nil, fmt.Errorf("invalid EMITTERS_JSON: %w", err)
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("EMITTERS_JSON must contain at least one emitter")
	}
	return seeds, nil
}

// LoadRuntime reads the optional tuning knobs, falling back to defaults.
func LoadRuntime() Runtime {
	return Runtime{
		Port:              envOr("PORT", DefaultPort),
		QueueCapacity:     envIntOr("QUEUE_CAPACITY", DefaultQueueCapacity),
		DispatcherWorkers: envIntOr("DISPATCHER_WORKERS", DefaultDispatcherPool),
		ProbeInterval:     envMillisOr("PROBE_INTERVAL_MS", DefaultProbeInterval),
		PollInterval:      envMillisOr("POLL_INTERVAL_MS", DefaultPollInterval),
		MaxFailures:       envIntOr("MAX_FAILURES", DefaultMaxFailures),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envMillisOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}
