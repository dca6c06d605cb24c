package metrics_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/pipeline/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// promStub answers the Prometheus instant-query API with a single-sample
// vector per query.
func promStub(t *testing.T, value float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[%d,"%g"]}]}}`,
			time.Now().Unix(), value)
	}))
}

func TestSnapshotFromBackend(t *testing.T) {
	server := promStub(t, 4.25)
	defer server.Close()

	client, err := metrics.NewClient(server.URL, time.Second, discardLogger())
	require.NoError(t, err)

	snap := client.Snapshot(context.Background())
	require.True(t, snap.Connected())
	require.NotNil(t, snap.RequestsPerSecond)
	assert.InDelta(t, 4.25, *snap.RequestsPerSecond, 1e-9)
	require.NotNil(t, snap.RequestsTotal)
	assert.InDelta(t, 4.25, *snap.RequestsTotal, 1e-9)
}

func TestSnapshotWithoutBackendIsDisconnected(t *testing.T) {
	client, err := metrics.NewClient("", time.Second, discardLogger())
	require.NoError(t, err)

	snap := client.Snapshot(context.Background())
	assert.False(t, snap.Connected())
}

func TestSnapshotBackendDownIsDisconnected(t *testing.T) {
	server := promStub(t, 1)
	server.Close() // immediately unreachable

	client, err := metrics.NewClient(server.URL, 200*time.Millisecond, discardLogger())
	require.NoError(t, err)

	snap := client.Snapshot(context.Background())
	assert.False(t, snap.Connected(), "an unreachable backend must degrade to empty, not error")
}

func TestInstrumenterCountsRequests(t *testing.T) {
	inst := metrics.NewInstrumenter()

	handler := inst.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	}

	rec := httptest.NewRecorder()
	inst.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `http_requests_total{code="418",method="GET"} 3`)
}
