// Package retry decides whether a failed publish attempt is worth repeating
// and how long to wait before the next one.
package retry

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"syscall"
	"time"

	"github.com/maheshrc27/postflow/internal/credentials"
	"github.com/maheshrc27/postflow/internal/media"
	"github.com/maheshrc27/postflow/internal/platform"
)

const (
	DefaultInitialDelay = 60 * time.Second
	DefaultBase         = 2.0
	DefaultMaxDelay     = time.Hour
)

type Policy struct {
	InitialDelay time.Duration
	Base         float64
	MaxDelay     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: DefaultInitialDelay,
		Base:         DefaultBase,
		MaxDelay:     DefaultMaxDelay,
	}
}

// Delay returns InitialDelay * Base^retryCount, capped at MaxDelay.
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := float64(p.InitialDelay) * math.Pow(p.Base, float64(retryCount))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

type Decision struct {
	Retryable bool
	Delay     time.Duration
	Reason    string
}

// Classifier is pure: the same error and retry count always yield the same decision.
type Classifier struct {
	policy Policy
}

func NewClassifier(policy Policy) *Classifier {
	def := DefaultPolicy()
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = def.InitialDelay
	}
	if policy.Base < 1 {
		policy.Base = def.Base
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = def.MaxDelay
	}
	return &Classifier{policy: policy}
}

func (c *Classifier) Policy() Policy {
	return c.policy
}

func (c *Classifier) Classify(err error, retryCount int) Decision {
	if err == nil {
		return Decision{Reason: "no error"}
	}

	switch {
	case errors.Is(err, credentials.ErrCredentialInvalid):
		return fatal("credential invalid")
	case errors.Is(err, media.ErrResolve):
		return fatal("media unresolvable")
	case errors.Is(err, platform.ErrUnsupportedPlatform):
		return fatal("unsupported platform")
	case errors.Is(err, context.Canceled):
		return c.retry(retryCount, 0, "canceled")
	}

	var perr *platform.Error
	if errors.As(err, &perr) {
		switch perr.Kind {
		case platform.KindAuth, platform.KindPermission, platform.KindInvalidContent, platform.KindNotFound:
			return fatal(perr.Kind.String())
		case platform.KindRateLimited:
			return c.retry(retryCount, perr.RetryAfter, perr.Kind.String())
		case platform.KindTransient:
			return c.retry(retryCount, perr.RetryAfter, perr.Kind.String())
		}
		// Unknown platform errors fall through to the transport checks below.
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return c.retry(retryCount, 0, "timeout")
	case errors.As(err, &netErr) && netErr.Timeout():
		return c.retry(retryCount, 0, "network timeout")
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return c.retry(retryCount, 0, "connection dropped")
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED):
		return c.retry(retryCount, 0, "connection refused")
	}

	return c.retry(retryCount, 0, "unknown")
}

// retry picks the larger of the backoff delay and the platform's hint,
// never beyond MaxDelay.
func (c *Classifier) retry(retryCount int, hint time.Duration, reason string) Decision {
	delay := c.policy.Delay(retryCount)
	if hint > delay {
		delay = hint
	}
	if delay > c.policy.MaxDelay {
		delay = c.policy.MaxDelay
	}
	return Decision{Retryable: true, Delay: delay, Reason: reason}
}

func fatal(reason string) Decision {
	return Decision{Retryable: false, Reason: reason}
}
