// Package worker runs the background analysis pipeline: claim a queued job,
// parse the upload, run the classifiers, generate the narrative, persist the
// result. The HTTP layer never blocks on any of this.
package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/vklg/chatlens/internal/classify"
	"github.com/vklg/chatlens/internal/core"
	"github.com/vklg/chatlens/internal/hub"
	"github.com/vklg/chatlens/internal/models"
	"github.com/vklg/chatlens/internal/narrative"
	"github.com/vklg/chatlens/internal/parser"
	"github.com/vklg/chatlens/internal/store"
)

// Progress checkpoints for the pipeline stages. Classify steps through
// (parseDone, classifyDone]; narrate through (classifyDone, narrateDone].
const (
	parseDone    = 10
	classifyDone = 70
	narrateDone  = 95
)

// Worker is the pool of pipeline consumers. Concurrency is deliberately
// small and fixed: every job calls two external network services and parsing
// very large files is memory-bound.
type Worker struct {
	st         *store.Store
	hub        *hub.Hub
	classifier *classify.Client
	narrator   *narrative.Client
	count      int
	poll       time.Duration
}

// New constructs a worker pool from the application's configuration.
func New(app *core.App) *Worker {
	cfg := app.Config
	count := cfg.Worker.Count
	if count < 1 {
		count = 1
	}
	poll := time.Duration(cfg.Worker.PollIntervalSeconds) * time.Second
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Worker{
		st:         store.New(app.DB),
		hub:        app.Hub,
		classifier: classify.New(cfg.Classifier.URL),
		narrator:   narrative.New(cfg.Narrator.URL, cfg.Narrator.Model, time.Duration(cfg.Narrator.TimeoutMinutes)*time.Minute),
		count:      count,
		poll:       poll,
	}
}

// Start launches the consumer goroutines. They exit when ctx is cancelled;
// an in-flight job is still run to completion of its current stage sequence.
func (w *Worker) Start(ctx context.Context) {
	for i := 1; i <= w.count; i++ {
		go w.run(ctx, i)
	}
}

func (w *Worker) run(ctx context.Context, id int) {
	log.Printf("Starting pipeline worker %d", id)
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		job, err := w.st.ClaimNextJob()
		switch {
		case err == store.ErrNoJobs:
			select {
			case <-ctx.Done():
				log.Printf("Pipeline worker %d stopping", id)
				return
			case <-ticker.C:
			}
		case err != nil:
			log.Printf("Worker %d: failed to claim job: %v", id, err)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		default:
			w.Process(ctx, job)
		}
	}
}

// Process runs the full stage sequence for one claimed job. Any stage error
// moves the job to failed with a sanitized message; there is no automatic
// retry, the user resubmits as a new upload.
func (w *Worker) Process(ctx context.Context, job *models.Job) {
	log.Printf("Processing job %s (file %s, %d bytes)", job.ID, job.Input.FilePath, job.Input.FileSize)

	// Stage 1: parse.
	messages, err := parser.ParseFile(job.Input.FilePath)
	if err != nil {
		w.fail(job, "Could not read the uploaded chat export. Please upload an unmodified export file.", err)
		return
	}
	if err := w.st.SetJobMessageCount(job.ID, len(messages)); err != nil {
		log.Printf("Job %s: failed to record message count: %v", job.ID, err)
	}
	w.advance(job, parseDone, fmt.Sprintf("Parsed %d messages", len(messages)))

	// Stage 2: classify. One step of progress per classifier, with the
	// classifier's name surfaced so the UI can show what is running. Steps
	// start just past the parse checkpoint so every one lands on a distinct,
	// strictly increasing value.
	metrics := make(map[string]float64)
	classifyStart := parseDone + 2
	span := classifyDone - classifyStart
	for i, c := range classify.Classifiers {
		w.advance(job, classifyStart+span*i/len(classify.Classifiers), "Analyzing: "+c.DisplayName)
		scores, err := w.classifier.Run(ctx, c.ID, messages)
		if err != nil {
			w.fail(job, "The analysis service is currently unavailable. Please try again later.", err)
			return
		}
		for label, value := range scores {
			metrics[c.ID+"_"+label] = value
		}
		if v, ok := scores["score"]; ok {
			metrics[c.ID] = v
		}
	}
	w.advance(job, classifyDone, "Classification complete")

	// Stage 3: narrate. The adapter re-emits tokens as they stream in; we
	// nudge progress along so live subscribers see movement during the
	// longest stage.
	prompt := buildPrompt(job, metrics, messages)
	tokens := 0
	narrativeText, err := w.narrator.Generate(ctx, prompt, func(string) {
		tokens++
		if tokens%25 == 0 {
			pct := classifyDone + tokens/25
			if pct > narrateDone {
				pct = narrateDone
			}
			w.advance(job, pct, "Writing your report")
		}
	})
	if err != nil {
		w.fail(job, "The report writer is currently unavailable. Please try again later.", err)
		return
	}

	// Stage 4: finalize.
	report := &models.Report{
		HealthScore:  classify.HealthScore(metrics),
		Metrics:      metrics,
		Narrative:    narrativeText,
		Participants: parser.Participants(messages),
		MessageCount: len(messages),
		Goal:         job.Input.Goal,
	}
	if err := w.st.CompleteJob(job.ID, report); err != nil {
		log.Printf("Job %s: failed to persist result: %v", job.ID, err)
		w.fail(job, "Something went wrong while saving your report.", err)
		return
	}
	w.hub.CloseJob(job.ID, models.ProgressUpdate{
		JobID:    job.ID,
		Status:   models.StatusCompleted,
		Progress: 100,
		Message:  "Analysis complete",
		Done:     true,
	})
	log.Printf("Job %s completed (%d messages, health %.1f)", job.ID, len(messages), report.HealthScore)
}

// advance persists a progress update and mirrors it to live subscribers.
// Progress only ever moves forward; the store drops stale values.
func (w *Worker) advance(job *models.Job, percent int, message string) {
	if err := w.st.AdvanceJob(job.ID, percent, message); err != nil {
		log.Printf("Job %s: progress update rejected: %v", job.ID, err)
		return
	}
	w.hub.Publish(job.ID, models.ProgressUpdate{
		JobID:    job.ID,
		Status:   models.StatusProcessing,
		Progress: percent,
		Message:  message,
	})
}

// fail moves the job to its terminal failed state. The user sees only the
// sanitized message; the underlying cause is logged server-side.
func (w *Worker) fail(job *models.Job, userMessage string, cause error) {
	log.Printf("Job %s failed: %v", job.ID, cause)
	if err := w.st.FailJob(job.ID, userMessage); err != nil {
		log.Printf("Job %s: could not record failure: %v", job.ID, err)
	}
	// Mirror the stored state so the terminal push matches what a later
	// snapshot would report.
	progress := 0
	if cur, err := w.st.GetJob(job.ID); err == nil {
		progress = cur.ProgressPercent
	}
	w.hub.CloseJob(job.ID, models.ProgressUpdate{
		JobID:    job.ID,
		Status:   models.StatusFailed,
		Progress: progress,
		Message:  userMessage,
		Error:    userMessage,
		Done:     true,
	})
}
