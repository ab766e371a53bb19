package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a pipeline job in a transport-friendly format.
type Job struct {
	ID              string          `json:"id"`
	SourcePath      string          `json:"sourcePath"`
	State           string          `json:"state"`
	Title           string          `json:"title,omitempty"`
	Description     string          `json:"description,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	Privacy         string          `json:"privacy,omitempty"`
	ThumbnailPath   string          `json:"thumbnailPath,omitempty"`
	MetadataRev     int             `json:"metadataRevision,omitempty"`
	Stages          []string        `json:"stages,omitempty"`
	Attempts        map[string]int  `json:"attempts,omitempty"`
	EditedFields    []string        `json:"editedFields,omitempty"`
	Approval        *Approval       `json:"approval,omitempty"`
	Result          *Result         `json:"result,omitempty"`
	FailedStage     string          `json:"failedStage,omitempty"`
	FailureReason   string          `json:"failureReason,omitempty"`
	CancelRequested bool            `json:"cancelRequested,omitempty"`
	ClaimedBy       string          `json:"claimedBy,omitempty"`
	CreatedAt       string          `json:"createdAt,omitempty"`
	UpdatedAt       string          `json:"updatedAt,omitempty"`
	Overrides       json.RawMessage `json:"overrides,omitempty"`
}

// Approval mirrors the recorded approval decision.
type Approval struct {
	Decision  string `json:"decision"`
	DecidedBy string `json:"decidedBy"`
	DecidedAt string `json:"decidedAt,omitempty"`
}

// Result mirrors a successful publish.
type Result struct {
	VideoID     string `json:"videoId,omitempty"`
	VideoURL    string `json:"videoUrl"`
	PublishedAt string `json:"publishedAt,omitempty"`
}

// WorkflowStatus summarizes orchestrator state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	Workers     int            `json:"workers"`
	Owner       string         `json:"owner,omitempty"`
	InFlight    []string       `json:"inFlight,omitempty"`
	Queued      int            `json:"queued"`
	JobStats    map[string]int `json:"jobStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastJob     *Job           `json:"lastJob,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for stage collaborators.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"databasePath"`
	LockFilePath string         `json:"lockFilePath"`
	WatchFolder  string         `json:"watchFolder"`
	Telegram     bool           `json:"telegram"`
	YouTube      bool           `json:"youtube"`
	Workflow     WorkflowStatus `json:"workflow"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// SubmitRequest asks the daemon to create a job for a file on its host.
type SubmitRequest struct {
	Path         string   `json:"path"`
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Privacy      string   `json:"privacy,omitempty"`
	SkipApproval bool     `json:"skipApproval,omitempty"`
}

// SubmitResponse reports the job a submission maps to. Created is false when
// the same content was submitted before.
type SubmitResponse struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// DecisionRequest carries the reviewer name for approve and reject.
type DecisionRequest struct {
	DecidedBy string `json:"decidedBy,omitempty"`
}

// EditRequest changes one metadata field of a job awaiting approval.
type EditRequest struct {
	Field     string `json:"field"`
	Value     string `json:"value"`
	DecidedBy string `json:"decidedBy,omitempty"`
}

// DecisionResponse reports the effect of approve, reject or edit.
type DecisionResponse struct {
	Status  string `json:"status"`
	JobID   string `json:"jobId"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
}

// LogEvent represents a structured log line.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     string            `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	Stage         string            `json:"stage,omitempty"`
	JobID         string            `json:"jobId,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// LogStreamResponse wraps log events and the cursor for the next fetch.
type LogStreamResponse struct {
	Events []LogEvent `json:"events"`
	Next   uint64     `json:"next"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}
