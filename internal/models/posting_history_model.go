package models

import "time"

type EventType string

const (
	EventAttemptFailed EventType = "attempt_failed"
	EventPublished     EventType = "published"
	EventFailed        EventType = "failed"
	EventCanceled      EventType = "canceled"
	EventRescheduled   EventType = "rescheduled"
	EventScheduled     EventType = "scheduled"
	EventDeferred      EventType = "deferred"
)

// PostingHistory is one audit entry for a post.
type PostingHistory struct {
	ID             int64     `db:"id" json:"id" bson:"-"`
	OrganizationID int64     `db:"organization_id" json:"organization_id" bson:"organization_id"`
	PostID         int64     `db:"post_id" json:"post_id" bson:"post_id"`
	AccountID      int64     `db:"account_id" json:"account_id" bson:"account_id"`
	Platform       string    `db:"platform" json:"platform" bson:"platform"`
	Event          EventType `db:"event" json:"event" bson:"event"`
	Status         string    `db:"status" json:"status" bson:"status"`
	PlatformPostID string    `db:"platform_post_id" json:"platform_post_id,omitempty" bson:"platform_post_id,omitempty"`
	RetryCount     int       `db:"retry_count" json:"retry_count" bson:"retry_count"`
	ErrorMessage   string    `db:"error_message" json:"error_message,omitempty" bson:"error_message,omitempty"`
	Timezone       string    `db:"timezone" json:"timezone,omitempty" bson:"timezone,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at" bson:"created_at"`
}
