package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/county-wage-etl/internal/app"
	"github.com/JakeFAU/county-wage-etl/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Cache.Dir = filepath.Join(dir, "cache")
	cfg.Archive.Provider = "local"
	cfg.Archive.BaseDir = filepath.Join(dir, "pages")
	cfg.CSV.Enabled = true
	cfg.CSV.Dir = filepath.Join(dir, "out")
	cfg.DB.DSN = ""
	return cfg
}

func TestBuildWithoutDatabase(t *testing.T) {
	t.Parallel()

	a, err := app.Build(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	assert.NotNil(t, a.Census())
	assert.Len(t, a.Caches(), 2)
	assert.Zero(t, a.RequestCount())

	_, err = a.DB()
	require.ErrorIs(t, err, app.ErrNoDatabase)
	_, err = a.Runs()
	require.ErrorIs(t, err, app.ErrNoDatabase)
	_, err = a.Pipeline()
	require.ErrorIs(t, err, app.ErrNoDatabase)

	rec := httptest.NewRecorder()
	a.StatusServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/latest?state=01", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuildCreatesDirectories(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a, err := app.Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	for _, dir := range []string{cfg.Cache.Dir, filepath.Join(cfg.Cache.Dir, "census"), cfg.Archive.BaseDir, cfg.CSV.Dir} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}
}

func TestBuildSweepsCensusCache(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	censusDir := filepath.Join(cfg.Cache.Dir, "census")
	require.NoError(t, os.MkdirAll(censusDir, 0o750))
	corrupt := filepath.Join(censusDir, "deadbeef.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o600))
	sourceEntry := filepath.Join(cfg.Cache.Dir, "cafebabe.json")
	require.NoError(t, os.WriteFile(sourceEntry, []byte("{not json"), 0o600))

	a, err := app.Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = os.Stat(corrupt)
	assert.True(t, os.IsNotExist(err), "census cache is swept on startup")
	_, err = os.Stat(sourceEntry)
	assert.NoError(t, err, "source cache is left alone")
}

func TestBuildWithoutUsableCacheDir(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[["NAME","state","county"],["Autauga County, Alabama","01","001"]]`))
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg.Cache.Dir = filepath.Join(blocker, "cache")
	cfg.Census.BaseURL = srv.URL
	cfg.HTTP.MinDelayMs = 0
	cfg.HTTP.MaxDelayMs = 0

	a, err := app.Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.Empty(t, a.Caches())

	for range 2 {
		counties, err := a.Census().FetchCounties(context.Background(), "01")
		require.NoError(t, err)
		require.Len(t, counties, 1)
	}
	assert.Equal(t, int32(2), hits.Load(), "every lookup goes to the network")
}

func TestBuildUnreachableDatabase(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.DB.DSN = "postgres://etl@127.0.0.1:1/etl?connect_timeout=1"
	_, err := app.Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "database init failed")
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	a, err := app.Build(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
