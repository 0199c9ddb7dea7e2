package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maheshrc27/postflow/internal/models"
)

type stubClient struct{ name string }

func (s stubClient) Platform() string        { return s.name }
func (s stubClient) Validate(*Request) error { return nil }
func (s stubClient) Publish(context.Context, Target, *Request) (*Result, error) {
	return &Result{PlatformPostID: "1"}, nil
}
func (s stubClient) ValidateCredentials(context.Context, Target) (bool, error) { return true, nil }

type stubNative struct{ stubClient }

func (s stubNative) Schedule(context.Context, Target, *Request, time.Time) (string, error) {
	return "ref", nil
}
func (s stubNative) DeleteScheduled(context.Context, string, Target) (bool, error) { return true, nil }

func TestRegistry_GetAndPlatforms(t *testing.T) {
	r, err := NewRegistry(stubClient{"tiktok"}, stubNative{stubClient{"facebook"}})
	require.NoError(t, err)

	c, err := r.Get("tiktok")
	require.NoError(t, err)
	assert.Equal(t, "tiktok", c.Platform())

	assert.Equal(t, []string{"facebook", "tiktok"}, r.Platforms())
}

func TestRegistry_UnknownPlatform(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	_, err = r.ForAccount(&models.Account{Platform: "myspace"})
	assert.True(t, errors.Is(err, ErrUnsupportedPlatform))
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	_, err := NewRegistry(stubClient{"tiktok"}, stubClient{"tiktok"})
	assert.Error(t, err)
}

func TestRegistry_NativeFor(t *testing.T) {
	r, err := NewRegistry(stubClient{"tiktok"}, stubNative{stubClient{"facebook"}})
	require.NoError(t, err)

	_, ok := r.NativeFor(&models.Account{Platform: "facebook", AccountType: models.AccountTypePage})
	assert.True(t, ok)

	_, ok = r.NativeFor(&models.Account{Platform: "facebook", AccountType: models.AccountTypePersonal})
	assert.False(t, ok, "personal accounts publish through the queue")

	_, ok = r.NativeFor(&models.Account{Platform: "tiktok", AccountType: models.AccountTypeBusiness})
	assert.False(t, ok, "client without native scheduling")
}

func TestRequest_SaveCheckpoint(t *testing.T) {
	var saved models.Checkpoint
	req := &Request{OnCheckpoint: func(_ context.Context, cp models.Checkpoint) error {
		saved = cp
		return nil
	}}

	require.NoError(t, req.Save(context.Background(), models.Checkpoint{Step: models.StepContainerCreated, ContainerID: "c1"}))
	assert.Equal(t, "c1", saved.ContainerID)
	assert.Equal(t, models.StepContainerCreated, req.Checkpoint.Step)
}
