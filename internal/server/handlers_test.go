package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsemetry/pulse/internal/metrics"
	"github.com/pulsemetry/pulse/internal/metrics/config"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Ingestion.WAL.Enabled = false
	cfg.Backpressure.Enabled = false

	engine, err := metrics.NewEngine(cfg)
	require.NoError(t, err)
	require.NoError(t, engine.Start())
	t.Cleanup(func() { engine.Stop() })

	return New(cfg, engine)
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t)

	for _, path := range []string{"/", "/healthz"} {
		w := doRequest(s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "Analytics Service Running", body["message"])
	}
}

func TestIngestBatch(t *testing.T) {
	s := testServer(t)

	now := time.Now().UnixMilli()
	payload := fmt.Sprintf(`[
		{"key": 1, "timestamp": %d, "value": 10.5},
		{"key": 1, "timestamp": %d, "value": 20.5},
		{"key": 2, "timestamp": %d, "value": 1}
	]`, now, now+1, now)

	w := doRequest(s, http.MethodPost, "/points", []byte(payload))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 3, body["accepted"])
}

func TestIngestSingleObject(t *testing.T) {
	s := testServer(t)

	w := doRequest(s, http.MethodPost, "/points", []byte(`{"key": 5, "value": 3.14}`))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	// The point landed and is visible in a snapshot
	w = doRequest(s, http.MethodGet, "/analytics/snapshot?key=5", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Snapshot struct {
			Count int64   `json:"count"`
			Sum   float64 `json:"sum"`
		} `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body.Snapshot.Count)
	assert.InDelta(t, 3.14, body.Snapshot.Sum, 1e-9)
}

func TestIngestInvalidBody(t *testing.T) {
	s := testServer(t)

	w := doRequest(s, http.MethodPost, "/points", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyticsQuery(t *testing.T) {
	s := testServer(t)

	now := time.Now().UnixMilli()
	payload := fmt.Sprintf(`[
		{"key": 7, "timestamp": %d, "value": 10},
		{"key": 7, "timestamp": %d, "value": 30}
	]`, now, now+1)
	w := doRequest(s, http.MethodPost, "/points", []byte(payload))
	require.Equal(t, http.StatusAccepted, w.Code)

	url := fmt.Sprintf("/analytics?key=7&from=%d&to=%d", now-1000, now+1000)
	w = doRequest(s, http.MethodGet, url, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Key     int64 `json:"key"`
		Buckets []struct {
			Count int64 `json:"count"`
		} `json:"buckets"`
		Summary struct {
			Count int64   `json:"count"`
			Sum   float64 `json:"sum"`
			Min   float64 `json:"min"`
			Max   float64 `json:"max"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.EqualValues(t, 7, body.Key)
	assert.EqualValues(t, 2, body.Summary.Count)
	assert.Equal(t, 40.0, body.Summary.Sum)
	assert.Equal(t, 10.0, body.Summary.Min)
	assert.Equal(t, 30.0, body.Summary.Max)
}

func TestAnalyticsUnknownKeyIsEmpty(t *testing.T) {
	s := testServer(t)

	w := doRequest(s, http.MethodGet, "/analytics?key=4040", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Buckets []json.RawMessage `json:"buckets"`
		Summary struct {
			Count int64 `json:"count"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Buckets)
	assert.Zero(t, body.Summary.Count)
}

func TestAnalyticsParamValidation(t *testing.T) {
	s := testServer(t)

	tests := []struct {
		name string
		url  string
	}{
		{"missing_key", "/analytics"},
		{"bad_key", "/analytics?key=abc"},
		{"bad_from", "/analytics?key=1&from=yesterday"},
		{"inverted_range", "/analytics?key=1&from=2000&to=1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(s, http.MethodGet, tt.url, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestAnalyticsRFC3339Range(t *testing.T) {
	s := testServer(t)

	now := time.Now().UTC()
	payload := fmt.Sprintf(`[{"key": 9, "timestamp": %d, "value": 5}]`, now.UnixMilli())
	doRequest(s, http.MethodPost, "/points", []byte(payload))

	url := fmt.Sprintf("/analytics?key=9&from=%s&to=%s",
		now.Add(-time.Minute).Format(time.RFC3339),
		now.Add(time.Minute).Format(time.RFC3339))
	w := doRequest(s, http.MethodGet, url, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Summary struct {
			Count int64 `json:"count"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body.Summary.Count)
}

func TestSnapshotUnknownKey(t *testing.T) {
	s := testServer(t)

	w := doRequest(s, http.MethodGet, "/analytics/snapshot?key=12345", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Nil(t, body["snapshot"])
}

func TestKeysEndpoint(t *testing.T) {
	s := testServer(t)

	now := time.Now().UnixMilli()
	payload := fmt.Sprintf(`[
		{"key": 3, "timestamp": %d, "value": 1},
		{"key": 1, "timestamp": %d, "value": 1}
	]`, now, now)
	doRequest(s, http.MethodPost, "/points", []byte(payload))

	w := doRequest(s, http.MethodGet, "/keys", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Keys  []int64 `json:"keys"`
		Count int     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []int64{1, 3}, body.Keys)
	assert.Equal(t, 2, body.Count)
}

func TestStatsEndpoint(t *testing.T) {
	s := testServer(t)

	w := doRequest(s, http.MethodGet, "/statsz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Ingestion")
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(t)

	// Generate one observed request first
	doRequest(s, http.MethodGet, "/keys", nil)

	w := doRequest(s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pulse_http_requests_total")
}

func TestRequestIDPropagation(t *testing.T) {
	s := testServer(t)

	w := doRequest(s, http.MethodGet, "/keys", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	// A provided ID is echoed back
	req := httptest.NewRequest(http.MethodGet, "/keys", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-ID"))
}
