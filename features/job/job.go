package job

import (
	"encoding/json"
	"time"
)

const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job is the bookkeeping record of an enqueued ingestion job. The broker
// owns delivery; these rows exist for operational visibility, retention and
// administrative tooling.
type Job struct {
	ID         string          `json:"id"`
	LogicalID  string          `json:"logical_id"`
	Status     string          `json:"status"`
	Priority   int             `json:"priority"`
	Payload    json.RawMessage `json:"payload"`
	Error      string          `json:"error,omitempty"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Counts summarizes queue state for operational visibility only, never for
// control flow.
type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
