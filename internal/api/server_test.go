package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/county-wage-etl/internal/model"
	"github.com/JakeFAU/county-wage-etl/internal/storage/postgres"
)

var knownRunID = uuid.MustParse("01928f4e-7c1a-7000-8000-0000000000aa")

type fakeRuns struct {
	runs     map[uuid.UUID]model.Run
	latest   map[string]model.Run
	err      error
	lastSeen string
}

func (f *fakeRuns) GetRun(_ context.Context, runID uuid.UUID) (model.Run, error) {
	if f.err != nil {
		return model.Run{}, f.err
	}
	run, ok := f.runs[runID]
	if !ok {
		return model.Run{}, postgres.ErrNotFound
	}
	return run, nil
}

func (f *fakeRuns) LatestRun(_ context.Context, state string) (model.Run, error) {
	f.lastSeen = state
	if f.err != nil {
		return model.Run{}, f.err
	}
	run, ok := f.latest[state]
	if !ok {
		return model.Run{}, postgres.ErrNotFound
	}
	return run, nil
}

type fakeStaging struct {
	counts map[string]int64
	err    error
}

func (f fakeStaging) StagingCounts(context.Context) (map[string]int64, error) {
	return f.counts, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func sampleRun() model.Run {
	ended := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	return model.Run{
		ID:        knownRunID,
		StateCode: "01",
		StartedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		EndedAt:   &ended,
		Status:    model.RunSuccess,
		Counts:    model.RunCounts{CountiesProcessed: 67, WagesLoaded: 2412},
	}
}

func newTestServer(runs *fakeRuns) *Server {
	return NewServer(Dependencies{
		Runs:    runs,
		Staging: fakeStaging{counts: map[string]int64{postgres.WagesTable: 10}},
		DB:      fakePinger{},
	}, zap.NewNop())
}

func serve(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(&fakeRuns{}), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok"`)
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestServer_RequestIDIsEchoed(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	newTestServer(&fakeRuns{}).Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	ok := serve(t, newTestServer(&fakeRuns{}), "/readyz")
	require.Equal(t, http.StatusOK, ok.Code)

	down := NewServer(Dependencies{DB: fakePinger{err: errors.New("refused")}}, zap.NewNop())
	rec := serve(t, down, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "database unavailable")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRuns{})
	serve(t, s, "/healthz")
	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "wage_etl_server_requests_total")
}

func TestServer_LatestRun(t *testing.T) {
	t.Parallel()

	runs := &fakeRuns{latest: map[string]model.Run{"01": sampleRun()}}
	rec := serve(t, newTestServer(runs), "/v1/runs/latest?state=al")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "01", runs.lastSeen)

	var body struct {
		Run map[string]any `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, knownRunID.String(), body.Run["run_id"])
	assert.Equal(t, "SUCCESS", body.Run["status"])
	counts, ok := body.Run["counts"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 67, counts["counties_processed"])
	assert.NotContains(t, body.Run, "error_message")
}

func TestServer_LatestRunErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		runs   *fakeRuns
		target string
		code   int
		want   string
	}{
		{name: "missing state", runs: &fakeRuns{}, target: "/v1/runs/latest", code: http.StatusBadRequest, want: "unknown state"},
		{name: "bad state", runs: &fakeRuns{}, target: "/v1/runs/latest?state=99", code: http.StatusBadRequest, want: "unknown state code"},
		{name: "no runs", runs: &fakeRuns{}, target: "/v1/runs/latest?state=01", code: http.StatusNotFound, want: "run not found"},
		{
			name:   "store failure",
			runs:   &fakeRuns{err: errors.New("conn reset")},
			target: "/v1/runs/latest?state=01",
			code:   http.StatusInternalServerError,
			want:   "failed to fetch run",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(t, newTestServer(tt.runs), tt.target)
			require.Equal(t, tt.code, rec.Code)
			require.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestServer_GetRun(t *testing.T) {
	t.Parallel()

	runs := &fakeRuns{runs: map[uuid.UUID]model.Run{knownRunID: sampleRun()}}
	s := newTestServer(runs)

	rec := serve(t, s, "/v1/runs/"+knownRunID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), knownRunID.String())

	rec = serve(t, s, "/v1/runs/"+uuid.NewString())
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, s, "/v1/runs/not-a-uuid")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StagingCounts(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(&fakeRuns{}), "/v1/staging/counts")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"stg_wages":10`)

	failing := NewServer(Dependencies{Staging: fakeStaging{err: errors.New("boom")}}, zap.NewNop())
	rec = serve(t, failing, "/v1/staging/counts")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_UnconfiguredStores(t *testing.T) {
	t.Parallel()

	s := NewServer(Dependencies{}, nil)
	for _, target := range []string{"/v1/runs/latest?state=01", "/v1/runs/" + knownRunID.String(), "/v1/staging/counts"} {
		rec := serve(t, s, target)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}
	// readyz has nothing to ping
	require.Equal(t, http.StatusOK, serve(t, s, "/readyz").Code)
}

func TestServer_ListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRuns{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.ListenAndServe(ctx, "127.0.0.1:0")
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_ListenAndServeBadAddress(t *testing.T) {
	t.Parallel()

	err := newTestServer(&fakeRuns{}).ListenAndServe(context.Background(), "bad:address:99999")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "status server"))
}
