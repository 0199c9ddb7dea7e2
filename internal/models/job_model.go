package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
	JobStatusRetrying   JobStatus = "RETRYING"
)

// IsLive reports whether a job in this status may still fire.
func (s JobStatus) IsLive() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusRetrying:
		return true
	}
	return false
}

type JobKind string

const (
	JobKindQueue  JobKind = "queue"
	JobKindNative JobKind = "native"
)

// PublishStep is the resumable position of a multi-step publish.
type PublishStep string

const (
	StepStarted          PublishStep = "STARTED"
	StepContainerCreated PublishStep = "CONTAINER_CREATED"
	StepContainerReady   PublishStep = "CONTAINER_READY"
	StepPublished        PublishStep = "PUBLISHED"
)

// Checkpoint is the durable step state of a publish attempt.
type Checkpoint struct {
	Step        PublishStep `json:"step,omitempty"`
	ContainerID string      `json:"container_id,omitempty"`
	ChildIDs    []string    `json:"child_ids,omitempty"`
	PublishID   string      `json:"publish_id,omitempty"`
}

func (c Checkpoint) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *Checkpoint) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*c = Checkpoint{}
		return nil
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return errors.New("unsupported type for checkpoint")
	}
}

// ScheduledJob is the queue-level record driving publish attempts for a post.
type ScheduledJob struct {
	PostID     int64      `db:"post_id" json:"post_id"`
	Handle     string     `db:"handle" json:"handle"`
	Kind       JobKind    `db:"kind" json:"kind"`
	Status     JobStatus  `db:"status" json:"status"`
	Attempts   int        `db:"attempts" json:"attempts"`
	RunAt      time.Time  `db:"run_at" json:"run_at"`
	Checkpoint Checkpoint `db:"checkpoint" json:"checkpoint"`
	LastError  string     `db:"last_error" json:"last_error,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}
