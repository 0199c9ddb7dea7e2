// Package tiktok publishes through the TikTok Content Posting API using
// PULL_FROM_URL uploads.
package tiktok

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/platform"
)

const (
	Name = "tiktok"

	DefaultBaseURL = "https://open.tiktokapis.com"

	defaultPrivacy   = "PUBLIC_TO_EVERYONE"
	maxTitleLength   = 2200
	maxPhotoTitle    = 90
	maxPhotos        = 35
	statusComplete   = "PUBLISH_COMPLETE"
	statusFailed     = "FAILED"
	errorCodeSuccess = "ok"
)

type Options struct {
	BaseURL      string
	PollInterval time.Duration
	PollAttempts int
}

type Client struct {
	baseURL      string
	hc           *http.Client
	pollInterval time.Duration
	pollAttempts int
}

func New(opts Options, hc *http.Client) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 12
	}
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		hc:           hc,
		pollInterval: opts.PollInterval,
		pollAttempts: opts.PollAttempts,
	}
}

func (c *Client) Platform() string { return Name }

func (c *Client) Validate(req *platform.Request) error {
	videos, images := req.Videos(), req.Images()
	switch {
	case len(req.Media) == 0:
		return platform.Invalid(Name, "tiktok posts need a video or photos")
	case len(videos) > 0 && len(images) > 0:
		return platform.Invalid(Name, "cannot mix photos and videos")
	case len(videos) > 1:
		return platform.Invalid(Name, "only one video per post")
	case len(images) > maxPhotos:
		return platform.Invalid(Name, "at most %d photos per post", maxPhotos)
	case len(videos)+len(images) != len(req.Media):
		return platform.Invalid(Name, "unsupported media type")
	case req.Options.Poll != nil:
		return platform.Invalid(Name, "polls are not supported")
	}
	if utf8.RuneCountInString(req.Body) > maxTitleLength {
		return platform.Invalid(Name, "caption exceeds %d characters", maxTitleLength)
	}
	return nil
}

// Publish initializes the upload, then polls the publish status. The
// publish_id is checkpointed so a redelivery only resumes polling.
func (c *Client) Publish(ctx context.Context, target platform.Target, req *platform.Request) (*platform.Result, error) {
	cp := req.Checkpoint

	if cp.PublishID == "" {
		publishID, err := c.initPost(ctx, target, req)
		if err != nil {
			return nil, err
		}
		cp = models.Checkpoint{Step: models.StepContainerCreated, PublishID: publishID}
		if err := req.Save(ctx, cp); err != nil {
			return nil, err
		}
	}

	if cp.Step == models.StepPublished {
		return &platform.Result{PlatformPostID: cp.ContainerID, Metadata: map[string]string{"publish_id": cp.PublishID}}, nil
	}

	status, err := c.waitForPublish(ctx, target, cp.PublishID)
	if err != nil {
		return nil, err
	}

	switch status.Data.Status {
	case statusComplete:
		postID := cp.PublishID
		if ids := status.Data.PubliclyAvailablePostIDs; len(ids) > 0 {
			postID = strconv.FormatInt(ids[0], 10)
		}
		cp.Step = models.StepPublished
		cp.ContainerID = postID
		if err := req.Save(ctx, cp); err != nil {
			return nil, err
		}
		return &platform.Result{PlatformPostID: postID, Metadata: map[string]string{"publish_id": cp.PublishID}}, nil

	case statusFailed:
		return nil, failReasonError(status.Data.FailReason)
	}
	return nil, platform.NewError(Name, platform.KindTransient, "publish still processing: "+status.Data.Status)
}

// ValidateCredentials queries creator info, which requires a valid token
// with the video.publish scope.
func (c *Client) ValidateCredentials(ctx context.Context, target platform.Target) (bool, error) {
	var resp creatorInfoResponse
	err := c.call(ctx, target.Token, "/v2/post/publish/creator_info/query/", struct{}{}, &resp, &resp.Error)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, platform.ErrAuth), errors.Is(err, platform.ErrPermission):
		return false, nil
	}
	return false, err
}

func (c *Client) initPost(ctx context.Context, target platform.Target, req *platform.Request) (string, error) {
	privacy := req.Options.Privacy
	if privacy == "" {
		privacy = defaultPrivacy
	}

	var (
		path string
		body interface{}
	)
	if videos := req.Videos(); len(videos) == 1 {
		path = "/v2/post/publish/video/init/"
		body = videoInitRequest{
			PostInfo: videoPostInfo{
				Title:                 req.Body,
				PrivacyLevel:          privacy,
				VideoCoverTimestampMs: 1000,
			},
			SourceInfo: videoSourceInfo{Source: "PULL_FROM_URL", VideoURL: videos[0].URL},
		}
	} else {
		images := req.Images()
		photos := make([]string, 0, len(images))
		for _, img := range images {
			photos = append(photos, img.URL)
		}
		title := req.Options.Title
		if title == "" {
			title = truncateRunes(req.Body, maxPhotoTitle)
		}
		path = "/v2/post/publish/content/init/"
		body = photoInitRequest{
			PostInfo: photoPostInfo{
				Title:        title,
				Description:  req.Body,
				PrivacyLevel: privacy,
				AutoAddMusic: true,
			},
			SourceInfo: photoSourceInfo{Source: "PULL_FROM_URL", PhotoImages: photos},
			PostMode:   "DIRECT_POST",
			MediaType:  "PHOTO",
		}
	}

	var resp initResponse
	if err := c.call(ctx, target.Token, path, body, &resp, &resp.Error); err != nil {
		return "", err
	}
	if resp.Data.PublishID == "" {
		return "", platform.NewError(Name, platform.KindUnknown, "no publish_id returned")
	}
	return resp.Data.PublishID, nil
}

func (c *Client) waitForPublish(ctx context.Context, target platform.Target, publishID string) (*statusResponse, error) {
	var resp statusResponse
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		resp = statusResponse{}
		body := map[string]string{"publish_id": publishID}
		if err := c.call(ctx, target.Token, "/v2/post/publish/status/fetch/", body, &resp, &resp.Error); err != nil {
			return nil, err
		}
		if s := resp.Data.Status; s == statusComplete || s == statusFailed {
			return &resp, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return &resp, nil
}

// call POSTs a JSON body. TikTok reports some errors with HTTP 200 and a
// non-"ok" error code, so apiErr is checked after a successful decode too.
func (c *Client) call(ctx context.Context, token, path string, body, out interface{}, apiErr *apiError) error {
	headers := map[string]string{"Authorization": "Bearer " + token}
	if err := platform.DoJSON(ctx, c.hc, Name, http.MethodPost, c.baseURL+path, headers, body, out, decodeError); err != nil {
		return err
	}
	if apiErr.Code != "" && apiErr.Code != errorCodeSuccess {
		return &platform.Error{Platform: Name, Kind: kindForCode(apiErr.Code), StatusCode: http.StatusOK, Code: apiErr.Code, Message: apiErr.Message}
	}
	return nil
}

func decodeError(status int, header http.Header, body []byte) *platform.Error {
	var resp struct {
		Error apiError `json:"error"`
	}
	perr := platform.FromHTTP(Name, status, header, body)
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error.Code != "" {
		perr.Code = resp.Error.Code
		perr.Message = resp.Error.Message
		if kind := kindForCode(resp.Error.Code); kind != platform.KindUnknown {
			perr.Kind = kind
		}
	}
	return perr
}

func kindForCode(code string) platform.Kind {
	switch code {
	case "access_token_invalid", "token_not_authorized_for_specified_user":
		return platform.KindAuth
	case "scope_not_authorized", "scope_permission_missed", "unaudited_client_can_only_post_to_private_accounts",
		"spam_risk_user_banned_from_posting", "privacy_level_option_mismatch":
		return platform.KindPermission
	case "rate_limit_exceeded", "spam_risk_too_many_posts", "spam_risk_too_many_pending_share", "reached_active_user_cap":
		return platform.KindRateLimited
	case "invalid_params", "invalid_file_upload", "url_ownership_unverified", "duration_check_failed":
		return platform.KindInvalidContent
	case "internal_error":
		return platform.KindTransient
	}
	return platform.KindUnknown
}

func failReasonError(reason string) *platform.Error {
	kind := platform.KindInvalidContent
	switch reason {
	case "internal", "file_format_check_failed_retry", "publish_cancelled":
		kind = platform.KindTransient
	case "frequency_limit", "spam_risk_too_many_posts":
		kind = platform.KindRateLimited
	case "auth_removed", "access_token_invalid":
		kind = platform.KindAuth
	}
	return &platform.Error{Platform: Name, Kind: kind, Code: reason, Message: "publish failed"}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
