// Package lifecycle is the authoritative status model of a post.
//
// Transitions are validated here and applied by the repository inside a
// single per-post atomic update. PUBLISHED and CANCELED are terminal; FAILED
// is terminal only once the retry budget is spent.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/maheshrc27/postflow/internal/models"
)

var (
	ErrInvalidTransition = errors.New("invalid post status transition")
	// ErrConflict is returned when a transition races an in-flight publish.
	ErrConflict = errors.New("post status conflict")
)

// TransitionError describes a rejected from -> to move.
type TransitionError struct {
	From models.PostStatus
	To   models.PostStatus
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", e.Err, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

var transitions = map[models.PostStatus]map[models.PostStatus]struct{}{
	models.PostStatusDraft: {
		models.PostStatusPendingApproval: {},
		models.PostStatusCanceled:        {},
	},
	models.PostStatusPendingApproval: {
		models.PostStatusApproved: {},
		models.PostStatusRejected: {},
		models.PostStatusCanceled: {},
	},
	models.PostStatusRejected: {
		models.PostStatusDraft: {},
	},
	models.PostStatusApproved: {
		models.PostStatusScheduled: {},
		models.PostStatusCanceled:  {},
	},
	models.PostStatusScheduled: {
		models.PostStatusScheduled:  {},
		models.PostStatusPublishing: {},
		models.PostStatusCanceled:   {},
	},
	models.PostStatusPublishing: {
		models.PostStatusPublished: {},
		models.PostStatusFailed:    {},
		// rate-limit deferral hands the post back to the queue
		models.PostStatusScheduled: {},
	},
	models.PostStatusFailed: {
		models.PostStatusScheduled: {},
	},
}

// CanTransition reports whether from -> to is an allowed move.
func CanTransition(from, to models.PostStatus) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Validate returns a *TransitionError wrapping ErrInvalidTransition, or
// ErrConflict for a cancellation of a post that is being published.
func Validate(from, to models.PostStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	if from == models.PostStatusPublishing && to == models.PostStatusCanceled {
		return &TransitionError{From: from, To: to, Err: ErrConflict}
	}
	return &TransitionError{From: from, To: to, Err: ErrInvalidTransition}
}

// Apply validates the move and sets p.Status to the target status.
func Apply(p *models.Post, to models.PostStatus) error {
	if err := Validate(p.Status, to); err != nil {
		return err
	}
	p.Status = to
	return nil
}

// Effective is the status p behaves as. A FAILED post whose retry is still
// queued waits like a SCHEDULED one.
func Effective(p *models.Post) models.PostStatus {
	if p.Status == models.PostStatusFailed && p.QueueStatus == models.JobStatusRetrying {
		return models.PostStatusScheduled
	}
	return p.Status
}

// Cancel moves p to CANCELED, judged from its effective status.
func Cancel(p *models.Post) error {
	if err := Validate(Effective(p), models.PostStatusCanceled); err != nil {
		return err
	}
	p.Status = models.PostStatusCanceled
	return nil
}

// IsTerminal reports whether no further automatic change will happen to p.
func IsTerminal(p *models.Post) bool {
	switch p.Status {
	case models.PostStatusPublished, models.PostStatusCanceled:
		return true
	case models.PostStatusFailed:
		return p.QueueStatus != models.JobStatusRetrying
	}
	return false
}

// IsSchedulable reports whether the scheduler may create a job for a post in status s.
func IsSchedulable(s models.PostStatus) bool {
	return CanTransition(s, models.PostStatusScheduled)
}
