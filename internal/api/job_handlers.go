package api

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vklg/chatlens/internal/models"
	"github.com/vklg/chatlens/internal/store"
)

// Multipart memory threshold; larger uploads spill to temp files instead of
// being held in RAM.
const multipartMemoryLimit = 32 << 20

var allowedUploadExtensions = map[string]bool{
	".txt":  true,
	".json": true,
	".zip":  true,
}

// handleCreateJob is the upload ingestion path. It validates, persists the
// file, creates the queued job record and returns the job id immediately; no
// analysis happens synchronously, so the response beats any proxy timeout.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)

	maxBytes := s.app.Config.Uploads.MaxSizeMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartMemoryLimit)

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		RespondWithError(w, http.StatusRequestEntityTooLarge, "Upload is too large or malformed")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Missing chat export file")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedUploadExtensions[ext] {
		RespondWithError(w, http.StatusUnsupportedMediaType, "Only .txt, .json and .zip chat exports are supported")
		return
	}
	if header.Size == 0 {
		RespondWithError(w, http.StatusBadRequest, "Uploaded file is empty")
		return
	}
	if header.Size > maxBytes {
		RespondWithError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Uploads are limited to %d MB", s.app.Config.Uploads.MaxSizeMB))
		return
	}

	selfName := strings.TrimSpace(r.FormValue("self_name"))
	partnerName := strings.TrimSpace(r.FormValue("partner_name"))
	if selfName == "" || partnerName == "" {
		RespondWithError(w, http.StatusBadRequest, "Both participant names are required")
		return
	}

	// Persist under a uuid-based name so uploads can never collide across
	// users. A failed write must leave neither a partial file nor a job row.
	destPath := filepath.Join(s.app.Config.Uploads.Path, uuid.NewString()+ext)
	dest, err := os.Create(destPath)
	if err != nil {
		log.Printf("Upload persist failed for user %d: %v", user.ID, err)
		RespondWithError(w, http.StatusInternalServerError, "Could not store the uploaded file")
		return
	}
	written, err := io.Copy(dest, file)
	closeErr := dest.Close()
	if err != nil || closeErr != nil {
		os.Remove(destPath)
		log.Printf("Upload write failed for user %d: copy=%v close=%v", user.ID, err, closeErr)
		RespondWithError(w, http.StatusInternalServerError, "Could not store the uploaded file")
		return
	}

	job, err := s.store.CreateJob(user.ID, models.InputDescriptor{
		FilePath:    destPath,
		FileSize:    written,
		SelfName:    selfName,
		PartnerName: partnerName,
		Goal:        strings.TrimSpace(r.FormValue("goal")),
	})
	if err != nil {
		os.Remove(destPath)
		log.Printf("Job creation failed for user %d: %v", user.ID, err)
		RespondWithError(w, http.StatusInternalServerError, "Could not create analysis job")
		return
	}

	RespondWithJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobId":         job.ID,
		"estimatedTime": estimateSeconds(written),
	})
}

// estimateSeconds is a coarse heuristic shown in the upload response so the
// UI can set expectations. Roughly half a minute plus a minute per 10 MB.
func estimateSeconds(fileSize int64) int {
	return 30 + int(fileSize>>20)*6
}

// handleGetJob returns a job's status and, once completed, its report.
// Ownership is absolute: a caller who does not own the job gets a 403 with
// no job fields leaked.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.authorizedJob(w, r)
	if !ok {
		return
	}
	RespondWithJSON(w, http.StatusOK, job)
}

// handleListJobs returns the caller's jobs, newest first.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)
	jobs, err := s.store.ListJobsByOwner(user.ID)
	if err != nil {
		log.Printf("Job listing failed for user %d: %v", user.ID, err)
		RespondWithError(w, http.StatusInternalServerError, "Could not list jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	RespondWithJSON(w, http.StatusOK, jobs)
}

// authorizedJob loads the job from the URL and enforces ownership, writing
// the error response itself when the lookup or check fails.
func (s *Server) authorizedJob(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	user := getUserFromContext(r)
	jobID := chi.URLParam(r, "jobID")

	job, err := s.store.GetJob(jobID)
	if err == store.ErrNotFound {
		RespondWithError(w, http.StatusNotFound, "Job not found")
		return nil, false
	}
	if err != nil {
		log.Printf("Job lookup failed for %s: %v", jobID, err)
		RespondWithError(w, http.StatusInternalServerError, "Could not load job")
		return nil, false
	}
	if job.OwnerID != user.ID {
		RespondWithError(w, http.StatusForbidden, "Access denied")
		return nil, false
	}
	return job, true
}
