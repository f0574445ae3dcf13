// Shared test server setup utilities, which simplify all API tests.

package testutil

import (
	"testing"

	"github.com/vklg/chatlens/internal/api"
	"github.com/vklg/chatlens/internal/config"
	"github.com/vklg/chatlens/internal/core"
	"github.com/vklg/chatlens/internal/hub"
)

// SetupTestApp builds a core.App over an in-memory database with a temp
// uploads directory and test-friendly worker settings.
func SetupTestApp(t *testing.T) *core.App {
	t.Helper()

	cfg := &config.Config{}
	cfg.Uploads.Path = t.TempDir()
	cfg.Uploads.MaxSizeMB = 10
	cfg.Worker.Count = 1
	cfg.Worker.PollIntervalSeconds = 1
	cfg.Narrator.Model = "test-model"
	cfg.Narrator.TimeoutMinutes = 1

	return &core.App{
		Config:  cfg,
		DB:      SetupTestDB(t),
		Hub:     hub.New(),
		Version: "test",
	}
}

// SetupTestServer initializes a full core.App and api.Server for integration
// testing.
func SetupTestServer(t *testing.T) (*api.Server, *core.App) {
	t.Helper()
	app := SetupTestApp(t)
	return api.NewServer(app), app
}
