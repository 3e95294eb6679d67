package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"logs-distributor/api"
	"logs-distributor/dispatch"
	"logs-distributor/emitter"
	"logs-distributor/queue"
	"logs-distributor/registry"
)

func testHandler(t *testing.T, emitters []emitter.Seed, analyzers ...registry.Analyzer) (*api.Handler, *registry.Registry, *queue.Queue) {
	t.Helper()
	reg := registry.New(zap.NewNop(), 3, analyzers...)
	q := queue.New(4)
	em := emitter.New(zap.NewNop(), emitters)
	pool := dispatch.NewPool(zap.NewNop(), reg, q, em, 1)
	promux := api.NewPrometheus(q)
	return api.NewHandler(reg, q, pool, em, zap.NewNop(), promux), reg, q
}

func TestIngest_AcceptsValidJSONAndEnqueues(t *testing.T) {
	h, _, q := testHandler(t, nil)
	r := h.SetupRoutes()

	req := httptest.NewRequest(http.MethodPost, "/log-packet", bytes.NewReader([]byte(`{"x":1}`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, q.Len())
}

func TestIngest_RejectsMalformedJSON(t *testing.T) {
	h, _, _ := testHandler(t, nil)
	r := h.SetupRoutes()

	req := httptest.NewRequest(http.MethodPost, "/log-packet", bytes.NewReader([]byte(`not json`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRegistry_ReturnsSeededAnalyzers(t *testing.T) {
	h, _, _ := testHandler(t, nil, registry.Analyzer{ID: "a1", URL: "http://a1/ingest", Weight: 1.0})
	r := h.SetupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/registry", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var snaps []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, "a1", snaps[0]["id"])
}

func TestAddAnalyzer_RejectsDuplicateID(t *testing.T) {
	h, _, _ := testHandler(t, nil, registry.Analyzer{ID: "a1", URL: "http://a1/ingest", Weight: 1.0})
	r := h.SetupRoutes()

	body, _ := json.Marshal(map[string]any{"id": "a1", "url": "http://a1/ingest", "weight": 1.0})
	req := httptest.NewRequest(http.MethodPost, "/registry/add", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddAnalyzer_MissingFieldsRejected(t *testing.T) {
	h, _, _ := testHandler(t, nil)
	r := h.SetupRoutes()

	body, _ := json.Marshal(map[string]any{"id": "a1"})
	req := httptest.NewRequest(http.MethodPost, "/registry/add", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRemoveAnalyzer_IdempotentOnUnknownID(t *testing.T) {
	h, _, _ := testHandler(t, nil)
	r := h.SetupRoutes()

	req := httptest.NewRequest(http.MethodDelete, "/registry/nope", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnableDisableAnalyzer_UnknownIDReturns404(t *testing.T) {
	h, _, _ := testHandler(t, nil)
	r := h.SetupRoutes()

	req := httptest.NewRequest(http.MethodPost, "/analyzer/nope/disable", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProxyEmitterPause_UnknownIDReturns404(t *testing.T) {
	h, _, _ := testHandler(t, nil)
	r := h.SetupRoutes()

	req := httptest.NewRequest(http.MethodPost, "/emitter/nope/pause", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProxyEmitterMetrics_ForwardsUpstreamBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"buffer_size":3,"rate_rps":2.5,"paused":false}`))
	}))
	defer upstream.Close()

	h, _, _ := testHandler(t, []emitter.Seed{{EmitterID: "e1", URL: upstream.URL}})
	r := h.SetupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/emitter/e1/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"buffer_size":3,"rate_rps":2.5,"paused":false}`, w.Body.String())
}

func TestPrometheusMetrics_ExposesRegisteredFamilies(t *testing.T) {
	h, _, _ := testHandler(t, nil, registry.Analyzer{ID: "a1", URL: "http://a1/ingest", Weight: 1.0})
	r := h.SetupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "analyzer_effective_weight")
}
