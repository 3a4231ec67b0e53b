package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/empe/pkg/envelope"
	"github.com/vjranagit/empe/pkg/models"
	"github.com/vjranagit/empe/pkg/storage"
)

const samples = `# lnL p ps m0 slope dist
-1 1 1 -15 2 40
-2 1 1 -15 2 40
-3 1 1 -15 2 40
`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := storage.NewStorage(&storage.Config{Path: t.TempDir(), CompressionLevel: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := NewServer(
		Options{Envelope: envelope.DefaultConfig(), Seed: 1},
		store,
		storage.NewEnvelopeCache(16, time.Minute),
		models.NewRegistry(),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func createRun(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	status, body := do(t, http.MethodPost, ts.URL+"/api/v1/runs?event=GW170817&model=powerlaw&label=sampler:mcmc", samples)
	require.Equal(t, http.StatusCreated, status, body)
	return body["id"].(string)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	status, body := do(t, http.MethodGet, ts.URL+"/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestCreateAndListRuns(t *testing.T) {
	ts := newTestServer(t)
	id := createRun(t, ts)

	status, body := do(t, http.MethodGet, ts.URL+"/api/v1/runs?event=GW170817&label=sampler:mcmc", "")
	require.Equal(t, http.StatusOK, status)
	runs := body["runs"].([]any)
	require.Len(t, runs, 1)
	run := runs[0].(map[string]any)
	assert.Equal(t, id, run["id"])
	assert.Equal(t, float64(3), run["records"])

	status, body = do(t, http.MethodGet, ts.URL+"/api/v1/runs?event=GW190425", "")
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["runs"])

	status, body = do(t, http.MethodGet, ts.URL+"/api/v1/runs/"+id, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"m0", "slope", "dist"}, body["params"])
}

func TestCreateRunRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)

	status, _ := do(t, http.MethodPost, ts.URL+"/api/v1/runs", "# lnL p ps a\n1 2\n")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, http.MethodPost, ts.URL+"/api/v1/runs?model=nope", samples)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, http.MethodPost, ts.URL+"/api/v1/runs?label=nocolon", samples)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestWeights(t *testing.T) {
	ts := newTestServer(t)
	id := createRun(t, ts)

	status, body := do(t, http.MethodGet, ts.URL+"/api/v1/runs/"+id+"/weights", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(3), body["records"])
	assert.Equal(t, float64(3), body["kept"])
	assert.InDelta(t, 0.665241, body["max_weight"], 1e-5)

	status, body = do(t, http.MethodGet, ts.URL+"/api/v1/runs/"+id+"/weights?min_lnl=-1.5", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["kept"])
	assert.InDelta(t, 1.0, body["ess"], 1e-12)

	status, _ = do(t, http.MethodGet, ts.URL+"/api/v1/runs/"+id+"/weights?fraction=abc", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, http.MethodGet, ts.URL+"/api/v1/runs/missing/weights", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestQuantiles(t *testing.T) {
	ts := newTestServer(t)
	id := createRun(t, ts)

	status, body := do(t, http.MethodGet, ts.URL+"/api/v1/runs/"+id+"/quantiles?param=m0&q=0.5", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{-15.0}, body["values"])

	status, body = do(t, http.MethodGet, ts.URL+"/api/v1/runs/"+id+"/quantiles?param=slope", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["values"], 3)

	status, _ = do(t, http.MethodGet, ts.URL+"/api/v1/runs/"+id+"/quantiles?param=mej", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, http.MethodGet, ts.URL+"/api/v1/runs/"+id+"/quantiles?param=m0&q=1.5", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, http.MethodGet, ts.URL+"/api/v1/runs/"+id+"/quantiles", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestEnvelopeIsCachedAndArchived(t *testing.T) {
	ts := newTestServer(t)
	id := createRun(t, ts)

	url := ts.URL + "/api/v1/runs/" + id + "/envelope?band=g&tmin=1&tmax=100&points=3&draws=5"
	status, body := do(t, http.MethodGet, url, "")
	require.Equal(t, http.StatusOK, status, body)

	// Degenerate samples give the analytic curve: m0 + slope*log10(t) + DM(40 Mpc)
	dm := envelope.DistanceModulus(40)
	want := []float64{-15 + dm, -15 + 2 + dm, -15 + 4 + dm}
	mins := body["min"].([]any)
	maxs := body["max"].([]any)
	for i := range want {
		assert.InDelta(t, want[i], mins[i], 1e-9)
		assert.InDelta(t, want[i], maxs[i], 1e-9)
	}

	status, _ = do(t, http.MethodGet, url, "")
	require.Equal(t, http.StatusOK, status)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(raw), "empe_envelope_cache_hits_total 1\n")

	status, body = do(t, http.MethodGet, ts.URL+"/api/v1/runs/"+id+"/envelopes", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["envelopes"], 1)
}

func TestEnvelopeFixedValues(t *testing.T) {
	ts := newTestServer(t)
	id := createRun(t, ts)

	url := ts.URL + "/api/v1/runs/" + id + "/envelope?band=g&tmin=1&tmax=10&points=2&fixed=slope:0&fixed=dist:0.00001"
	status, body := do(t, http.MethodGet, url, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.InDelta(t, -15.0, body["max"].([]any)[1], 1e-9)
}

func TestEnvelopeSingleQuantileBound(t *testing.T) {
	ts := newTestServer(t)
	id := createRun(t, ts)
	base := ts.URL + "/api/v1/runs/" + id + "/envelope?band=g&tmin=1&tmax=10&points=2&draws=3"

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"low only", "&low=0.3", http.StatusOK},
		{"high only", "&high=0.9", http.StatusOK},
		{"explicit zero low", "&low=0&high=0.9", http.StatusOK},
		{"low above default high", "&low=0.7", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, http.MethodGet, base+tt.query, "")
			assert.Equal(t, tt.status, status, body)
		})
	}
}

func TestEnvelopeRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t)
	id := createRun(t, ts)
	base := ts.URL + "/api/v1/runs/" + id + "/envelope"

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"missing band", "?tmin=1&tmax=10", http.StatusBadRequest},
		{"bad time range", "?band=g&tmin=10&tmax=1", http.StatusBadRequest},
		{"bad fixed", "?band=g&tmin=1&tmax=10&fixed=slope", http.StatusBadRequest},
		{"unknown model", "?band=g&tmin=1&tmax=10&model=kilonova", http.StatusBadRequest},
		{"bad seed", "?band=g&tmin=1&tmax=10&seed=-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := do(t, http.MethodGet, base+tt.query, "")
			assert.Equal(t, tt.status, status)
		})
	}

	status, _ := do(t, http.MethodGet, ts.URL+"/api/v1/runs/missing/envelope?band=g&tmin=1&tmax=10", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDeleteRun(t *testing.T) {
	ts := newTestServer(t)
	id := createRun(t, ts)

	status, _ := do(t, http.MethodDelete, ts.URL+"/api/v1/runs/"+id, "")
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = do(t, http.MethodGet, ts.URL+"/api/v1/runs/"+id, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(storage.ErrNotFound))
	assert.Equal(t, http.StatusBadRequest, statusFor(envelope.ErrMissingParameter))
	assert.Equal(t, http.StatusBadRequest, statusFor(badRequest(io.EOF)))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(context.Canceled))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}
