// Package platform defines the uniform publishing contract every destination
// platform implements, and the registry that resolves a client for a post.
//
// Clients never touch storage. Failures are surfaced as *Error so the retry
// classifier can stay platform-agnostic.
package platform

import (
	"context"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

type MediaKind string

const (
	MediaKindImage   MediaKind = "image"
	MediaKindVideo   MediaKind = "video"
	MediaKindUnknown MediaKind = "unknown"
)

// Media is a publicly fetchable media reference.
type Media struct {
	ID   string    `json:"id"`
	URL  string    `json:"url"`
	Kind MediaKind `json:"kind"`
}

// Target is a destination account together with a usable access token.
type Target struct {
	Account *models.Account
	Token   string
}

// Request is the platform-neutral publish request.
type Request struct {
	PostID  int64
	Body    string
	Media   []Media
	Options models.PostOptions

	// Checkpoint is the step state restored from a previous delivery.
	Checkpoint models.Checkpoint
	// OnCheckpoint persists step state between remote calls of a multi-step publish.
	OnCheckpoint func(ctx context.Context, cp models.Checkpoint) error
}

// Save records cp on the request and hands it to OnCheckpoint.
func (r *Request) Save(ctx context.Context, cp models.Checkpoint) error {
	r.Checkpoint = cp
	if r.OnCheckpoint == nil {
		return nil
	}
	return r.OnCheckpoint(ctx, cp)
}

func (r *Request) Videos() []Media {
	return r.mediaOfKind(MediaKindVideo)
}

func (r *Request) Images() []Media {
	return r.mediaOfKind(MediaKindImage)
}

func (r *Request) mediaOfKind(kind MediaKind) []Media {
	var out []Media
	for _, m := range r.Media {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type Result struct {
	PlatformPostID string            `json:"platform_post_id"`
	URL            string            `json:"url,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Client publishes to one platform.
type Client interface {
	Platform() string
	// Validate checks the request against platform content rules without any remote call.
	Validate(req *Request) error
	Publish(ctx context.Context, target Target, req *Request) (*Result, error)
	ValidateCredentials(ctx context.Context, target Target) (bool, error)
}

// NativeScheduler is implemented by clients whose platform can hold a post
// and publish it at a given instant on its own.
type NativeScheduler interface {
	Schedule(ctx context.Context, target Target, req *Request, at time.Time) (string, error)
	DeleteScheduled(ctx context.Context, ref string, target Target) (bool, error)
}

// StatusChecker reports whether a natively scheduled post went live.
type StatusChecker interface {
	IsPublished(ctx context.Context, target Target, ref string) (bool, error)
}
