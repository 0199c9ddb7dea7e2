package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/maheshrc27/postflow/internal/credentials"
	"github.com/maheshrc27/postflow/internal/media"
	"github.com/maheshrc27/postflow/internal/platform"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestPolicy_Delay(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 60*time.Second, p.Delay(0))
	assert.Equal(t, 120*time.Second, p.Delay(1))
	assert.Equal(t, 240*time.Second, p.Delay(2))
	assert.Equal(t, time.Hour, p.Delay(10), "capped")
	assert.Equal(t, time.Hour, p.Delay(5000), "no overflow")
	assert.Equal(t, 60*time.Second, p.Delay(-1))
}

func TestClassify_FatalErrors(t *testing.T) {
	c := NewClassifier(DefaultPolicy())

	fatals := []error{
		platform.NewError("facebook", platform.KindAuth, "expired"),
		platform.NewError("facebook", platform.KindPermission, "no scope"),
		platform.Invalid("instagram", "too long"),
		platform.NewError("youtube", platform.KindNotFound, "gone"),
		fmt.Errorf("token: %w", credentials.ErrCredentialInvalid),
		fmt.Errorf("asset 9: %w", media.ErrResolve),
		fmt.Errorf("mastodon: %w", platform.ErrUnsupportedPlatform),
	}
	for _, err := range fatals {
		d := c.Classify(err, 0)
		assert.False(t, d.Retryable, "%v must be fatal", err)
		assert.Zero(t, d.Delay)
	}
}

func TestClassify_TransientBackoffSequence(t *testing.T) {
	c := NewClassifier(DefaultPolicy())
	err := platform.NewError("tiktok", platform.KindTransient, "503")

	var delays []time.Duration
	for retryCount := 0; retryCount < 3; retryCount++ {
		d := c.Classify(err, retryCount)
		assert.True(t, d.Retryable)
		delays = append(delays, d.Delay)
	}
	assert.Equal(t, []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second}, delays)
}

func TestClassify_RateLimitHonorsRetryAfter(t *testing.T) {
	c := NewClassifier(DefaultPolicy())

	err := &platform.Error{Platform: "facebook", Kind: platform.KindRateLimited, RetryAfter: 15 * time.Minute}
	d := c.Classify(err, 0)
	assert.True(t, d.Retryable)
	assert.Equal(t, 15*time.Minute, d.Delay)

	short := &platform.Error{Platform: "facebook", Kind: platform.KindRateLimited, RetryAfter: time.Second}
	assert.Equal(t, 60*time.Second, c.Classify(short, 0).Delay)

	long := &platform.Error{Platform: "tiktok", Kind: platform.KindRateLimited, RetryAfter: 5 * time.Hour}
	assert.Equal(t, DefaultMaxDelay, c.Classify(long, 0).Delay)
}

func TestClassify_TransportErrors(t *testing.T) {
	c := NewClassifier(DefaultPolicy())

	for _, err := range []error{
		context.DeadlineExceeded,
		fmt.Errorf("read: %w", io.ErrUnexpectedEOF),
		&net.OpError{Op: "dial", Err: timeoutErr{}},
		platform.Transport("youtube", errors.New("connection reset by peer")),
	} {
		assert.True(t, c.Classify(err, 1).Retryable, "%v", err)
	}
}

func TestClassify_UnknownIsRetryable(t *testing.T) {
	c := NewClassifier(DefaultPolicy())

	d := c.Classify(errors.New("something odd"), 0)
	assert.True(t, d.Retryable)
	assert.Equal(t, "unknown", d.Reason)

	d = c.Classify(platform.NewError("tiktok", platform.KindUnknown, "??"), 0)
	assert.True(t, d.Retryable)
}

func TestClassify_Deterministic(t *testing.T) {
	c := NewClassifier(Policy{InitialDelay: time.Second, Base: 3, MaxDelay: time.Minute})
	err := platform.NewError("x", platform.KindTransient, "")

	assert.Equal(t, c.Classify(err, 2), c.Classify(err, 2))
	assert.Equal(t, 9*time.Second, c.Classify(err, 2).Delay)
}

func TestNewClassifier_FillsDefaults(t *testing.T) {
	c := NewClassifier(Policy{})
	assert.Equal(t, DefaultPolicy(), c.Policy())
}
