package models

// ProgressUpdate is the event pushed to live subscribers of a job. The same
// shape serves as the initial snapshot, every intermediate delta, and the
// terminal event (Done=true).
type ProgressUpdate struct {
	JobID    string    `json:"jobId"`
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"`
	Message  string    `json:"message"`
	Done     bool      `json:"done"`
	Error    string    `json:"error,omitempty"`
}

// SnapshotOf builds the progress event describing a job's current state, as
// sent to a subscriber the moment it connects.
func SnapshotOf(job *Job) ProgressUpdate {
	u := ProgressUpdate{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.ProgressPercent,
		Message:  job.ProgressMessage,
		Done:     job.Status.Terminal(),
	}
	if job.Status == StatusFailed {
		u.Error = job.ErrorDetail
	}
	return u
}
