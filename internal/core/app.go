package core

import (
	"database/sql"
	"embed"
	"fmt"
	"log"
	"os"

	"github.com/vklg/chatlens/internal/config"
	"github.com/vklg/chatlens/internal/db"
	"github.com/vklg/chatlens/internal/hub"
)

// App holds the core components shared between the HTTP server, the pipeline
// worker and the background scheduler.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Hub     *hub.Hub
	Version string
}

// New sets up and returns a new App instance. It loads the configuration,
// initializes the database connection, runs migrations and prepares the
// uploads directory.
func New(migrationsFS embed.FS) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.RunMigrations(database, migrationsFS); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	if err := os.MkdirAll(cfg.Uploads.Path, 0o755); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}

	log.Println("Core application setup complete.")
	return &App{
		Config: cfg,
		DB:     database,
		Hub:    hub.New(),
	}, nil
}

// Close gracefully closes the application's resources.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
}
