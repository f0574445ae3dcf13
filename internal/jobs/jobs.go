// Package jobs schedules the background maintenance tasks: reclaiming jobs
// stranded in processing by a worker restart, and purging upload files of
// long-terminal jobs.
package jobs

import (
	"log"
	"os"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/vklg/chatlens/internal/core"
	"github.com/vklg/chatlens/internal/store"
)

// Upload files of terminal jobs older than this are deleted; the job record
// and its result stay retrievable indefinitely.
const uploadRetention = 14 * 24 * time.Hour

// StartScheduler starts the background maintenance scheduler and returns it
// so the caller can stop it on shutdown.
func StartScheduler(app *core.App) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	st := store.New(app.DB)
	scheduleStaleJobReaper(s, app, st)
	scheduleUploadCleanup(s, st)

	log.Println("Starting background maintenance scheduler...")
	s.StartAsync()
	return s
}

// scheduleStaleJobReaper re-queues processing jobs whose claim outlived the
// configured staleness threshold. A threshold of 0 disables reclaiming.
func scheduleStaleJobReaper(s *gocron.Scheduler, app *core.App, st *store.Store) {
	staleAfter := time.Duration(app.Config.Worker.StaleAfterMinutes) * time.Minute
	if staleAfter == 0 {
		log.Println("Stale job threshold is 0, stranded jobs will not be reclaimed.")
		return
	}

	_, err := s.Every(1).Minute().Do(func() {
		n, err := st.ReclaimStaleJobs(staleAfter)
		if err != nil {
			log.Printf("Stale job reaper failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("Re-queued %d stale processing job(s)", n)
		}
	})
	if err != nil {
		log.Printf("Error scheduling stale job reaper: %v", err)
	}
}

func scheduleUploadCleanup(s *gocron.Scheduler, st *store.Store) {
	_, err := s.Every(24).Hours().Do(func() {
		uploads, err := st.ListPurgeableUploads(uploadRetention)
		if err != nil {
			log.Printf("Upload cleanup query failed: %v", err)
			return
		}
		for _, u := range uploads {
			if err := os.Remove(u.FilePath); err != nil && !os.IsNotExist(err) {
				log.Printf("Could not remove upload %s: %v", u.FilePath, err)
				continue
			}
			if err := st.MarkUploadPurged(u.JobID); err != nil {
				log.Printf("Could not mark upload purged for job %s: %v", u.JobID, err)
			}
		}
		if len(uploads) > 0 {
			log.Printf("Purged %d expired upload(s)", len(uploads))
		}
	})
	if err != nil {
		log.Printf("Error scheduling upload cleanup: %v", err)
	}
}
