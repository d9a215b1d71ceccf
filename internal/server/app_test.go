package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/milestone-tracker/internal/config"
	"github.com/JakeFAU/milestone-tracker/internal/identity"
)

func devConfig(t *testing.T) (config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	status := filepath.Join(dir, "milestones.json")
	require.NoError(t, os.WriteFile(status, []byte(`{"idea_locked":true}`), 0o600))
	cfg := config.Config{
		App:      config.AppConfig{Environment: config.EnvDevelopment, ServiceName: "milestone-tracker-test"},
		Server:   config.ServerConfig{Enabled: false},
		Poll:     config.PollConfig{Interval: 20 * time.Millisecond, FetchTimeout: time.Second, Watch: true},
		Source:   config.SourceConfig{Kind: config.SourceFile, Path: status},
		Identity: config.IdentityConfig{Kind: config.IdentityStatic, Name: "Ada", Email: "ada@example.com"},
		Telemetry: config.TelemetryConfig{
			BufferSize:     16,
			MaxBatchEvents: 1,
			MaxBatchWait:   10 * time.Millisecond,
			SinkTimeout:    time.Second,
			Log:            true,
			Prometheus:     true,
		},
	}
	return cfg, status
}

func TestBuildAndRunTracksProgress(t *testing.T) {
	t.Parallel()

	cfg, status := devConfig(t)
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, app.Engine())
	require.Equal(t, 5, app.Catalog().Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return app.Engine().Step() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(status, []byte(`{"idea_locked":true,"first_screen":true}`), 0o600))
	require.Eventually(t, func() bool { return app.Engine().Step() == 3 }, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
		return rec.Code == http.StatusOK && len(rec.Body.String()) > len(`{"events":[]}`)+1
	}, 2*time.Second, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildProductionDisablesTracker(t *testing.T) {
	t.Parallel()

	cfg, _ := devConfig(t)
	cfg.App.Environment = config.EnvProduction
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	require.Nil(t, app.Engine())
	for path, want := range map[string]int{
		"/milestones.json": http.StatusNotFound,
		"/api/userinfo":    http.StatusNotFound,
		"/v1/progress":     http.StatusServiceUnavailable,
		"/healthz":         http.StatusOK,
		"/metrics":         http.StatusOK,
	} {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, want, rec.Code, path)
	}
}

func TestBuildRejectsBadCatalog(t *testing.T) {
	t.Parallel()

	cfg, _ := devConfig(t)
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "catalog init failed")
}

func TestBuildIdentityKinds(t *testing.T) {
	t.Parallel()

	require.IsType(t, identity.Static{}, buildIdentity(config.IdentityConfig{Kind: config.IdentityStatic}))
	require.IsType(t, identity.FileLookup{}, buildIdentity(config.IdentityConfig{Kind: config.IdentityFile, Path: "makesomething.json"}))
	require.IsType(t, &identity.HTTPLookup{}, buildIdentity(config.IdentityConfig{Kind: config.IdentityHTTP, URL: "http://localhost/api/userinfo"}))
}
