package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vklg/chatlens/internal/models"
)

const jobColumns = `id, owner_id, status, progress_percent, progress_message,
	file_path, file_size, message_count, self_name, partner_name, goal,
	result_payload, error_detail, created_at, started_at, completed_at`

// CreateJob allocates a new job id, inserts the record with status=queued and
// returns the full row. Safe to call from any number of concurrent upload
// handlers; uuid generation makes id collisions a non-concern.
func (s *Store) CreateJob(ownerID int64, input models.InputDescriptor) (*models.Job, error) {
	job := &models.Job{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Status:    models.StatusQueued,
		Input:     input,
		CreatedAt: time.Now(),
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, owner_id, status, file_path, file_size, self_name, partner_name, goal, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, job.Status, input.FilePath, input.FileSize,
		input.SelfName, input.PartnerName, input.Goal, job.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}
	return job, nil
}

// GetJob retrieves a job by id. Returns ErrNotFound for unknown ids.
func (s *Store) GetJob(id string) (*models.Job, error) {
	row := s.db.QueryRow("SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	return scanJob(row)
}

// ListJobsByOwner returns all of a user's jobs, newest first. Result payloads
// are included so a history view can render completed reports without a
// second round trip.
func (s *Store) ListJobsByOwner(ownerID int64) ([]*models.Job, error) {
	rows, err := s.db.Query("SELECT "+jobColumns+" FROM jobs WHERE owner_id = ? ORDER BY created_at DESC, id DESC", ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimNextJob atomically selects the oldest queued job and moves it to
// processing, setting started_at. The status guard in the WHERE clause means
// at most one caller can win a given job even under concurrent claimers.
// Returns ErrNoJobs when the queue is empty.
func (s *Store) ClaimNextJob() (*models.Job, error) {
	row := s.db.QueryRow(`
		UPDATE jobs
		SET status = ?, started_at = ?, progress_message = 'Starting analysis'
		WHERE id = (
			SELECT id FROM jobs WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT 1
		) AND status = ?
		RETURNING `+jobColumns,
		models.StatusProcessing, time.Now(), models.StatusQueued, models.StatusQueued,
	)
	job, err := scanJob(row)
	if err == ErrNotFound {
		return nil, ErrNoJobs
	}
	return job, err
}

// AdvanceJob records a progress update for a processing job. Updates that do
// not increase the stored percentage are silently dropped to protect against
// out-of-order reports from the multi-stage pipeline. Calling it on a job
// that is not processing returns ErrInvalidTransition.
func (s *Store) AdvanceJob(id string, percent int, message string) error {
	res, err := s.db.Exec(`
		UPDATE jobs SET progress_percent = ?, progress_message = ?
		WHERE id = ? AND status = ? AND progress_percent < ?`,
		percent, message, id, models.StatusProcessing, percent,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	// Nothing updated: distinguish a stale (out-of-order) update, which is
	// fine, from a sequencing bug, which is not.
	job, err := s.GetJob(id)
	if err != nil {
		return err
	}
	if job.Status != models.StatusProcessing {
		return fmt.Errorf("%w: advance on %s job %s", ErrInvalidTransition, job.Status, id)
	}
	return nil
}

// SetJobMessageCount records the parsed message count on the input
// descriptor once the parse stage knows it.
func (s *Store) SetJobMessageCount(id string, count int) error {
	_, err := s.db.Exec("UPDATE jobs SET message_count = ? WHERE id = ?", count, id)
	return err
}

// CompleteJob moves a processing job to completed, storing the result payload
// and forcing progress to 100.
func (s *Store) CompleteJob(id string, result *models.Report) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result payload: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE jobs SET status = ?, result_payload = ?, progress_percent = 100,
			progress_message = 'Analysis complete', completed_at = ?
		WHERE id = ? AND status = ?`,
		models.StatusCompleted, string(payload), time.Now(), id, models.StatusProcessing,
	)
	if err != nil {
		return err
	}
	return s.checkTransition(res, id, "complete")
}

// FailJob moves a queued or processing job to failed with a sanitized,
// user-facing error message.
func (s *Store) FailJob(id string, errorDetail string) error {
	res, err := s.db.Exec(`
		UPDATE jobs SET status = ?, error_detail = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		models.StatusFailed, errorDetail, time.Now(), id,
		models.StatusQueued, models.StatusProcessing,
	)
	if err != nil {
		return err
	}
	return s.checkTransition(res, id, "fail")
}

// ReclaimStaleJobs returns processing jobs whose claim is older than the
// threshold to the queue, clearing their partial progress. This recovers
// jobs stranded by a worker process restart. Returns the number reclaimed.
func (s *Store) ReclaimStaleJobs(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.Exec(`
		UPDATE jobs SET status = ?, started_at = NULL, progress_percent = 0,
			progress_message = 'Re-queued after worker restart'
		WHERE status = ? AND started_at < ?`,
		models.StatusQueued, models.StatusProcessing, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeableUpload identifies an upload file whose retention window has
// passed.
type PurgeableUpload struct {
	JobID    string
	FilePath string
}

// ListPurgeableUploads returns the upload files of terminal jobs whose
// completion is older than the retention window and whose file has not been
// purged yet.
func (s *Store) ListPurgeableUploads(olderThan time.Duration) ([]PurgeableUpload, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := s.db.Query(`
		SELECT id, file_path FROM jobs
		WHERE status IN (?, ?) AND completed_at < ? AND file_path != ''`,
		models.StatusCompleted, models.StatusFailed, cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []PurgeableUpload
	for rows.Next() {
		var u PurgeableUpload
		if err := rows.Scan(&u.JobID, &u.FilePath); err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// MarkUploadPurged clears a job's file path after its upload was deleted.
func (s *Store) MarkUploadPurged(id string) error {
	_, err := s.db.Exec("UPDATE jobs SET file_path = '' WHERE id = ?", id)
	return err
}

func (s *Store) checkTransition(res sql.Result, id, op string) error {
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	job, err := s.GetJob(id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s on %s job %s", ErrInvalidTransition, op, job.Status, id)
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var resultPayload, errorDetail sql.NullString
	var startedAt, completedAt sql.NullTime
	err := row.Scan(
		&job.ID, &job.OwnerID, &job.Status, &job.ProgressPercent, &job.ProgressMessage,
		&job.Input.FilePath, &job.Input.FileSize, &job.Input.MessageCount,
		&job.Input.SelfName, &job.Input.PartnerName, &job.Input.Goal,
		&resultPayload, &errorDetail, &job.CreatedAt, &startedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if resultPayload.Valid && resultPayload.String != "" {
		var report models.Report
		if err := json.Unmarshal([]byte(resultPayload.String), &report); err != nil {
			return nil, fmt.Errorf("corrupt result payload for job %s: %w", job.ID, err)
		}
		job.ResultPayload = &report
	}
	if errorDetail.Valid {
		job.ErrorDetail = errorDetail.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}
