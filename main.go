package main

import (
	"context"
	"embed"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vklg/chatlens/internal/api"
	"github.com/vklg/chatlens/internal/core"
	"github.com/vklg/chatlens/internal/jobs"
	"github.com/vklg/chatlens/internal/worker"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var version = "dev"

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	app, err := core.New(migrationsFS)
	if err != nil {
		log.Fatalf("Fatal error during application setup: %v", err)
	}
	defer app.Close()
	app.Version = version

	// Start the pipeline worker pool. Its context is cancelled on shutdown
	// so the claim loops stop picking up new jobs.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	worker.New(app).Start(workerCtx)

	// Background maintenance: stale-job reclaiming and upload cleanup.
	scheduler := jobs.StartScheduler(app)
	defer scheduler.Stop()

	server := api.NewServer(app)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", app.Config.Port),
		Handler: server.Router(),
	}

	// Start the server in a goroutine so it doesn't block.
	go func() {
		log.Printf("Starting web server on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %v", err)
		}
	}()

	// Wait for an interrupt signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}
