package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"logs-distributor/registry"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func TestNormalization_ExactSplit(t *testing.T) {
	r := registry.New(testLogger(), 3,
		registry.Analyzer{ID: "a1", URL: "http://a1/ingest", Weight: 0.6},
		registry.Analyzer{ID: "a2", URL: "http://a2/ingest", Weight: 0.4},
	)

	snaps := r.ListSnapshot()
	require.Len(t, snaps, 2)
	var total float64
	for _, s := range snaps {
		total += s.EffectiveWeight
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestNormalization_ScalesWhenSumExceedsOne(t *testing.T) {
	// S5: a1 0.6, a2 0.4 running, then add a3 0.5 -> total configured 1.5.
	r := registry.New(testLogger(), 3,
		registry.Analyzer{ID: "a1", URL: "http://a1/ingest", Weight: 0.6},
		registry.Analyzer{ID: "a2", URL: "http://a2/ingest", Weight: 0.4},
	)
	require.NoError(t, r.Add("a3", "http://a3/ingest", 0.5))

	snaps := r.ListSnapshot()
	byID := map[string]float64{}
	var total float64
	for _, s := range snaps {
		byID[s.ID] = s.EffectiveWeight
		total += s.EffectiveWeight
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.InDelta(t, 0.4, byID["a1"], 1e-9)
	assert.InDelta(t, 0.4/1.5, byID["a2"], 1e-9)
	assert.InDelta(t, 0.5/1.5, byID["a3"], 1e-9)
}

func TestNormalization_ZeroWeightGap(t *testing.T) {
	r := registry.New(testLogger(), 3,
		registry.Analyzer{ID: "a1", URL: "http://a1/ingest", Weight: 0},
		registry.Analyzer{ID: "a2", URL: "http://a2/ingest", Weight: 0},
	)
	snaps := r.ListSnapshot()
	for _, s := range snaps {
		assert.InDelta(t, 0.5, s.EffectiveWeight, 1e-9)
	}
}

func TestChoose_ConvergesToWeightRatio(t *testing.T) {
	// S1: a1 0.6, a2 0.4 -> over 1000 picks, within +-10 of expectation.
	r := registry.New(testLogger(), 3,
		registry.Analyzer{ID: "a1", URL: "http://a1/ingest", Weight: 0.6},
		registry.Analyzer{ID: "a2", URL: "http://a2/ingest", Weight: 0.4},
	)

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		a := r.Choose()
		require.NotNil(t, a)
		counts[a.ID]++
	}

	assert.InDelta(t, 600, counts["a1"], 10)
	assert.InDelta(t, 400, counts["a2"], 10)
}

func TestChoose_NoConsecutiveRepeatWithEqualWeights(t *testing.T) {
	r := registry.New(testLogger(), 3,
		registry.Analyzer{ID: "a1", URL: "http://a1/ingest", Weight: 1.0 / 3},
		registry.Analyzer{ID: "a2", URL: "http://a2/ingest", Weight: 1.0 / 3},
		registry.Analyzer{ID: "a3", URL: "http://a3/ingest", Weight: 1.0 / 3},
	)

	var last string
	for i := 0; i < 30; i++ {
		a := r.Choose()
		require.NotNil(t, a)
		if i > 0 {
			assert.NotEqual(t, last, a.ID)
		}
		last = a.ID
	}
}

func TestChoose_NoneWhenNoneEligible(t *testing.T) {
	r := registry.New(testLogger(), 3,
		registry.Analyzer{ID: "a1", URL: "http://a1/ingest", Weight: 1.0},
	)
	require.NoError(t, r.MarkFailure("a1"))
	require.NoError(t, r.MarkFailure("a1"))
	require.NoError(t, r.MarkFailure("a1"))

	assert.Nil(t, r.Choose())
}

func TestMarkFailure_ThresholdAndRecovery(t *testing.T) {
	// S2: three analyzers, a2 fails 3x -> unhealthy -> renormalize to
	// a1=a3=0.5; then a2 recovers -> back to 1/3 each.
	r := registry.New(testLogger(), 3,
		registry.Analyzer{ID: "a1", URL: "http://a1/ingest", Weight: 1.0 / 3},
		registry.Analyzer{ID: "a2", URL: "http://a2/ingest", Weight: 1.0 / 3},
		registry.Analyzer{ID: "a3", URL: "http://a3/ingest", Weight: 1.0 / 3},
	)

	require.NoError(t, r.MarkFailure("a2"))
	require.NoError(t, r.MarkFailure("a2"))
	require.NoError(t, r.MarkFailure("a2"))

	byID := map[string]float64{}
	for _, s := range r.ListSnapshot() {
		byID[s.ID] = s.EffectiveWeight
	}
	assert.InDelta(t, 0.5, byID["a1"], 1e-9)
	assert.InDelta(t, 0.0, byID["a2"], 1e-9)
	assert.InDelta(t, 0.5, byID["a3"], 1e-9)

	require.NoError(t, r.MarkSuccess("a2"))
	byID = map[string]float64{}
	for _, s := range r.ListSnapshot() {
		byID[s.ID] = s.EffectiveWeight
	}
	assert.InDelta(t, 1.0/3, byID["a1"], 1e-9)
	assert.InDelta(t, 1.0/3, byID["a2"], 1e-9)
	assert.InDelta(t, 1.0/3, byID["a3"], 1e-9)
}

func TestMarkSuccess_ResetsFailuresAndRestoresEligibility(t *testing.T) {
	r := registry.New(testLogger(), 3,
		registry.Analyzer{ID: "a1", URL: "http://a1/ingest", Weight: 1.0},
	)
	require.NoError(t, r.MarkFailure("a1"))
	require.NoError(t, r.MarkFailure("a1"))
	require.NoError(t, r.MarkSuccess("a1"))

	chosen := r.Choose()
	require.NotNil(t, chosen)
	assert.Equal(t, "a1", chosen.ID)
}

func TestAdd_DuplicateIDFails(t *testing.T) {
	r := registry.New(testLogger(), 3,
		registry.Analyzer{ID: "a1", URL: "http://a1/ingest", Weight: 0.6},
		registry.Analyzer{ID: "a2", URL: "http://a2/ingest", Weight: 0.4},
	)
	before := r.ListSnapshot()

	err := r.Add("a1", "http://dup/ingest", 1.0)
	require.Error(t, err)

	after := r.ListSnapshot()
	assert.Equal(t, before, after)
}

func TestToggleAdmin_DisableMakesIneligibleImmediately(t *testing.T) {
	r := registry.New(testLogger(), 3,
		registry.Analyzer{ID: "a1", URL: "http://a1/ingest", Weight: 1.0},
	)
	require.NoError(t, r.ToggleAdmin("a1", false))
	assert.Nil(t, r.Choose())

	require.NoError(t, r.ToggleAdmin("a1", true))
	chosen := r.Choose()
	require.NotNil(t, chosen)
	assert.Equal(t, "a1", chosen.ID)
}

func TestHealthURL_SubstitutesIngestSuffix(t *testing.T) {
	r := registry.New(testLogger(), 3,
		registry.Analyzer{ID: "a1", URL: "http://a1.internal:8080/ingest", Weight: 1.0},
	)
	chosen := r.Choose()
	require.NotNil(t, chosen)
	assert.Equal(t, "http://a1.internal:8080/health", chosen.HealthURL())
}
