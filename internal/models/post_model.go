package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostStatus string

const (
	PostStatusDraft           PostStatus = "DRAFT"
	PostStatusPendingApproval PostStatus = "PENDING_APPROVAL"
	PostStatusApproved        PostStatus = "APPROVED"
	PostStatusRejected        PostStatus = "REJECTED"
	PostStatusScheduled       PostStatus = "SCHEDULED"
	PostStatusPublishing      PostStatus = "PUBLISHING"
	PostStatusPublished       PostStatus = "PUBLISHED"
	PostStatusFailed          PostStatus = "FAILED"
	PostStatusCanceled        PostStatus = "CANCELED"
)

const DefaultMaxRetries = 3

// MaxErrorMessageLength bounds the error text persisted on a post.
const MaxErrorMessageLength = 500

type Post struct {
	ID             int64       `db:"id" json:"id"`
	OrganizationID int64       `db:"organization_id" json:"organization_id"`
	UserID         int64       `db:"user_id" json:"user_id"`
	AccountID      int64       `db:"account_id" json:"account_id"`
	Body           string      `db:"body" json:"body"`
	MediaIDs       []string    `db:"media_ids" json:"media_ids"`
	Options        PostOptions `db:"options" json:"options"`
	ScheduledAt    time.Time   `db:"scheduled_at" json:"scheduled_at"`
	Timezone       string      `db:"timezone" json:"timezone"`
	Status         PostStatus  `db:"status" json:"status"`
	JobID          *string     `db:"job_id" json:"job_id,omitempty"`
	QueueStatus    JobStatus   `db:"queue_status" json:"queue_status,omitempty"`
	PlatformPostID string      `db:"platform_post_id" json:"platform_post_id,omitempty"`
	ErrorMessage   string      `db:"error_message" json:"error_message,omitempty"`
	RetryCount     int         `db:"retry_count" json:"retry_count"`
	MaxRetries     int         `db:"max_retries" json:"max_retries"`
	Version        int64       `db:"version" json:"version"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

// JobKey is the queue key of the post. One live job per key.
func (p *Post) JobKey() string {
	return JobKeyFor(p.ID)
}

func JobKeyFor(postID int64) string {
	return fmt.Sprintf("post:%d", postID)
}

// SetError stores a truncated copy of msg.
func (p *Post) SetError(msg string) {
	r := []rune(msg)
	if len(r) > MaxErrorMessageLength {
		msg = string(r[:MaxErrorMessageLength])
	}
	p.ErrorMessage = msg
}

// RetriesExhausted reports whether the retry budget is spent.
func (p *Post) RetriesExhausted() bool {
	return p.RetryCount >= p.EffectiveMaxRetries()
}

func (p *Post) EffectiveMaxRetries() int {
	if p.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return p.MaxRetries
}

type PollOptions struct {
	Question string        `json:"question"`
	Options  []string      `json:"options"`
	Duration time.Duration `json:"duration"`
}

// PostOptions holds free-form per-platform flags.
type PostOptions struct {
	Title    string            `json:"title,omitempty"`
	Link     string            `json:"link,omitempty"`
	Carousel bool              `json:"carousel,omitempty"`
	Poll     *PollOptions      `json:"poll,omitempty"`
	Privacy  string            `json:"privacy,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

func (o PostOptions) Value() (driver.Value, error) {
	return json.Marshal(o)
}

func (o *PostOptions) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*o = PostOptions{}
		return nil
	case []byte:
		return json.Unmarshal(v, o)
	case string:
		return json.Unmarshal([]byte(v), o)
	default:
		return errors.New("unsupported type for post options")
	}
}
