package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/pipeline/domain"
	"github.com/forgeline/pipeline/internal/errcode"
	"github.com/forgeline/pipeline/internal/metrics"
	"github.com/forgeline/pipeline/internal/repo"
	"github.com/forgeline/pipeline/internal/server"
	"github.com/forgeline/pipeline/internal/store"
)

// fakeTriggerer validates like the real executor but runs no stages.
type fakeTriggerer struct {
	store *store.Store
	seq   uint64
	err   error
}

func (f *fakeTriggerer) Execute(ctx context.Context, rawRepo string) (domain.PipelineRun, error) {
	if f.err != nil {
		return domain.PipelineRun{}, f.err
	}
	id, err := repo.Normalize(rawRepo)
	if err != nil {
		return domain.PipelineRun{}, errcode.Wrap(err, errcode.CodeInvalidInput, "invalid trigger request")
	}

	f.seq++
	run := domain.PipelineRun{
		ID:         "run-1",
		Repository: id,
		Seq:        f.seq,
		Status:     domain.RunSuccess,
		StartedAt:  time.Now(),
		Stages: []domain.Stage{
			{ID: domain.StageIDCheckout, Name: "Checkout", Status: domain.StageSuccess},
			{ID: domain.StageIDTest, Name: "Test", Status: domain.StageSuccess},
			{ID: domain.StageIDBuild, Name: "Image build", Status: domain.StageSuccess},
			{ID: domain.StageIDPush, Name: "Image push", Status: domain.StageSkipped, Detail: "missing required configuration: REGISTRY_USERNAME, REGISTRY_PASSWORD"},
			{ID: domain.StageIDDeploy, Name: "Deploy", Status: domain.StageSkipped, Detail: "cluster CLI unavailable"},
		},
	}
	f.store.Put(run)
	return run, nil
}

type fixedMetrics struct {
	snap domain.MetricsSnapshot
}

func (f fixedMetrics) Snapshot(context.Context) domain.MetricsSnapshot {
	return f.snap
}

func newTestServer(t *testing.T, tools map[string]string, source metrics.Source) (*httptest.Server, *store.Store) {
	t.Helper()

	st := store.New()
	srv := server.New(
		&fakeTriggerer{store: st},
		st,
		source,
		metrics.NewInstrumenter(),
		tools,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, st
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

func postJSON(t *testing.T, url, body string, out any) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

func TestOverviewBeforeAnyTrigger(t *testing.T) {
	ts, _ := newTestServer(t, nil, fixedMetrics{})

	var body struct {
		PipelineStages []map[string]any `json:"pipelineStages"`
		Metrics        map[string]any   `json:"metrics"`
	}
	resp := getJSON(t, ts.URL+"/api/overview", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, body.PipelineStages, "stage list must be [] rather than null")
	assert.Empty(t, body.PipelineStages)
	assert.Empty(t, body.Metrics)
}

func TestTriggerReturnsStagesAndMetrics(t *testing.T) {
	rps := 2.5
	ts, _ := newTestServer(t, nil, fixedMetrics{snap: domain.MetricsSnapshot{RequestsPerSecond: &rps}})

	var body struct {
		PipelineStages []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Detail string `json:"detail"`
		} `json:"pipelineStages"`
		Metrics map[string]float64 `json:"metrics"`
	}
	resp := postJSON(t, ts.URL+"/api/trigger", `{"repo":"octocat/hello-world"}`, &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.PipelineStages, 5)
	assert.Equal(t, "checkout", body.PipelineStages[0].ID)
	assert.Equal(t, "success", body.PipelineStages[0].Status)
	assert.Equal(t, "skipped", body.PipelineStages[3].Status)
	assert.Contains(t, body.PipelineStages[3].Detail, "REGISTRY_")
	assert.InDelta(t, 2.5, body.Metrics["requestsPerSecond"], 1e-9)
}

func TestTriggerAcceptsURLForm(t *testing.T) {
	ts, st := newTestServer(t, nil, fixedMetrics{})

	var body map[string]any
	resp := postJSON(t, ts.URL+"/api/trigger", `{"repo":"https://github.com/octocat/hello-world"}`, &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, ok := st.Get("octocat/hello-world")
	assert.True(t, ok, "the URL form must normalize to the bare identifier")
}

func TestTriggerMalformedRepo(t *testing.T) {
	ts, st := newTestServer(t, nil, fixedMetrics{})

	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	resp := postJSON(t, ts.URL+"/api/trigger", `{"repo":"not-a-valid-id"}`, &body)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", body.Code)
	assert.NotEmpty(t, body.Error)
	assert.Empty(t, st.LastTriggered(), "a rejected trigger must not touch the store")
}

func TestTriggerBadBody(t *testing.T) {
	ts, _ := newTestServer(t, nil, fixedMetrics{})

	var body map[string]any
	resp := postJSON(t, ts.URL+"/api/trigger", `{not json`, &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOverviewAfterTrigger(t *testing.T) {
	ts, _ := newTestServer(t, nil, fixedMetrics{})

	var ignored map[string]any
	postJSON(t, ts.URL+"/api/trigger", `{"repo":"octocat/hello-world"}`, &ignored)

	var body struct {
		PipelineStages []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"pipelineStages"`
	}

	t.Run("explicit repo parameter", func(t *testing.T) {
		resp := getJSON(t, ts.URL+"/api/overview?repo=octocat/hello-world", &body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, body.PipelineStages, 5)
	})

	t.Run("defaults to last triggered", func(t *testing.T) {
		resp := getJSON(t, ts.URL+"/api/overview", &body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, body.PipelineStages, 5)
	})

	t.Run("unknown repo stays empty", func(t *testing.T) {
		resp := getJSON(t, ts.URL+"/api/overview?repo=nobody/nothing", &body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, body.PipelineStages)
	})
}

func TestPendingStagesServeAsUnknown(t *testing.T) {
	st := store.New()
	st.Put(domain.PipelineRun{
		Repository: "octocat/hello-world",
		Seq:        1,
		Status:     domain.RunInProgress,
		Stages: []domain.Stage{
			{ID: domain.StageIDCheckout, Status: domain.StageInProgress},
			{ID: domain.StageIDTest, Status: domain.StagePending},
		},
	})

	srv := server.New(&fakeTriggerer{store: st}, st, fixedMetrics{}, metrics.NewInstrumenter(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	var body struct {
		PipelineStages []struct {
			Status string `json:"status"`
		} `json:"pipelineStages"`
	}
	getJSON(t, ts.URL+"/api/overview?repo=octocat/hello-world", &body)

	require.Len(t, body.PipelineStages, 2)
	assert.Equal(t, "in_progress", body.PipelineStages[0].Status)
	assert.Equal(t, "unknown", body.PipelineStages[1].Status)
}

func TestToolsOmitsAbsentEntries(t *testing.T) {
	ts, _ := newTestServer(t, map[string]string{
		"gitHost":   "https://github.com",
		"metricsUI": "http://localhost:3000",
		"graphUI":   "",
	}, fixedMetrics{})

	var body map[string]string
	resp := getJSON(t, ts.URL+"/api/tools", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{
		"gitHost":   "https://github.com",
		"metricsUI": "http://localhost:3000",
	}, body)
}

func TestInternalErrorsAreServerErrors(t *testing.T) {
	st := store.New()
	broken := &fakeTriggerer{store: st, err: errcode.New(errcode.CodeInternal, "store unavailable")}
	srv := server.New(broken, st, fixedMetrics{}, metrics.NewInstrumenter(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	var body struct {
		Code string `json:"code"`
	}
	resp := postJSON(t, ts.URL+"/api/trigger", `{"repo":"octocat/hello-world"}`, &body)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "INTERNAL_ERROR", body.Code)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	ts, _ := newTestServer(t, nil, fixedMetrics{})

	// Generate some traffic first.
	var ignored map[string]any
	getJSON(t, ts.URL+"/api/overview", &ignored)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	buf := make([]byte, 64*1024)
	n, _ := resp.Body.Read(buf)
	assert.Contains(t, string(buf[:n]), "http_requests_total")
}
