package models

import "time"

// JobStatus enumerates the lifecycle of an analysis job. A job moves
// queued -> processing -> completed|failed and never regresses.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InputDescriptor captures everything known about the uploaded file and the
// personalization supplied at upload time. Immutable after creation.
type InputDescriptor struct {
	// FilePath is server-internal and never serialized to clients.
	FilePath     string `json:"-"`
	FileSize     int64  `json:"file_size"`
	MessageCount int    `json:"message_count,omitempty"` // filled in once the parse stage has run
	SelfName     string `json:"self_name"`
	PartnerName  string `json:"partner_name"`
	Goal         string `json:"goal,omitempty"`
}

// Job is one user-submitted analysis request and its lifecycle record.
type Job struct {
	ID              string          `json:"id"`
	OwnerID         int64           `json:"-"`
	Status          JobStatus       `json:"status"`
	ProgressPercent int             `json:"progress"`
	ProgressMessage string          `json:"message"`
	Input           InputDescriptor `json:"input"`
	ResultPayload   *Report         `json:"result,omitempty"`
	ErrorDetail     string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// Report is the structured result of a completed analysis. Clients treat it
// as an opaque document; the server only guarantees HealthScore is in [0,100].
type Report struct {
	HealthScore  float64            `json:"health_score"`
	Metrics      map[string]float64 `json:"metrics"`
	Narrative    string             `json:"narrative"`
	Participants []string           `json:"participants"`
	MessageCount int                `json:"message_count"`
	Goal         string             `json:"goal,omitempty"`
}
