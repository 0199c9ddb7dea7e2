package graph

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maheshrc27/postflow/internal/platform"
)

func TestKindForCode(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		subcode   int
		transient bool
		want      platform.Kind
	}{
		{"expired token", 190, 463, false, platform.KindAuth},
		{"app rate limit", 4, 0, false, platform.KindRateLimited},
		{"user rate limit", 17, 0, false, platform.KindRateLimited},
		{"page rate limit", 32, 0, false, platform.KindRateLimited},
		{"permission", 10, 0, false, platform.KindPermission},
		{"permission range", 200, 0, false, platform.KindPermission},
		{"bad param", 100, 0, false, platform.KindInvalidContent},
		{"missing object", 100, 33, false, platform.KindNotFound},
		{"service hiccup", 2, 0, false, platform.KindTransient},
		{"flagged transient", 999, 0, true, platform.KindTransient},
		{"unmapped", 999, 0, false, platform.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindForCode(tt.code, tt.subcode, tt.transient))
		})
	}
}

func TestClient_DecodesGraphErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Application request limit reached","type":"OAuthException","code":4,"fbtrace_id":"x"}}`))
	}))
	defer srv.Close()

	c := &Client{Name: "facebook", BaseURL: srv.URL, HTTPClient: srv.Client()}
	err := c.Post(context.Background(), "123/feed", "tok", nil, nil)
	require.Error(t, err)

	var perr *platform.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, platform.KindRateLimited, perr.Kind)
	assert.Equal(t, "4", perr.Code)
	assert.Equal(t, 30, int(perr.RetryAfter.Seconds()))
	assert.True(t, errors.Is(err, platform.ErrRateLimited))
}

func TestClient_FallsBackToStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream down`))
	}))
	defer srv.Close()

	c := &Client{Name: "instagram", BaseURL: srv.URL, HTTPClient: srv.Client()}
	err := c.Get(context.Background(), "me", "tok", nil, nil)
	assert.True(t, errors.Is(err, platform.ErrTransient))
}
