package domain

import (
	"encoding/json"
	"slices"
	"time"
)

type JobState string

const (
	JobQueued     JobState = "queued"
	JobProcessing JobState = "processing"
	JobSucceeded  JobState = "succeeded"
	JobFailed     JobState = "failed"
)

// Terminal reports whether no further automatic transitions happen from s.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

type PayloadKind string

const (
	KindUpdateStatus     PayloadKind = "update-status"
	KindBulkUpdateStatus PayloadKind = "bulk-update-status"
)

// Payload is the work a job performs against the review store. It is one of
// UpdateStatus or BulkUpdateStatus.
type Payload interface {
	Kind() PayloadKind
	clone() Payload
}

type UpdateStatus struct {
	TargetID  string       `json:"id"`
	NewStatus ReviewStatus `json:"status"`
}

func (UpdateStatus) Kind() PayloadKind { return KindUpdateStatus }
func (p UpdateStatus) clone() Payload { return p }

type BulkUpdateStatus struct {
	TargetIDs []string     `json:"ids"`
	NewStatus ReviewStatus `json:"status"`
}

func (BulkUpdateStatus) Kind() PayloadKind { return KindBulkUpdateStatus }
func (p BulkUpdateStatus) clone() Payload {
	p.TargetIDs = slices.Clone(p.TargetIDs)
	return p
}

type Job struct {
	ID             string    `json:"id"`
	State          JobState  `json:"state"`
	Payload        Payload   `json:"payload"`
	Attempts       int       `json:"attempts"`
	MaxAttempts    int       `json:"maxAttempts"`
	LastError      string    `json:"lastError,omitempty"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Clone returns a copy that shares no mutable memory with j.
func (j Job) Clone() Job {
	if j.Payload != nil {
		j.Payload = j.Payload.clone()
	}
	return j
}

// MarshalJSON writes the payload with its kind tag inline, e.g.
// {"type":"update-status","id":"rev_1","status":"approved"}.
func (j Job) MarshalJSON() ([]byte, error) {
	type plain Job
	var payload any
	switch p := j.Payload.(type) {
	case UpdateStatus:
		payload = struct {
			Type PayloadKind `json:"type"`
			UpdateStatus
		}{p.Kind(), p}
	case BulkUpdateStatus:
		payload = struct {
			Type PayloadKind `json:"type"`
			BulkUpdateStatus
		}{p.Kind(), p}
	}
	return json.Marshal(struct {
		plain
		Payload any `json:"payload"`
	}{plain(j), payload})
}
