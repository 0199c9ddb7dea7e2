// Package facebook publishes to Facebook Pages through the Graph API.
package facebook

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/platform/graph"
)

const (
	Name = "facebook"

	DefaultBaseURL = "https://graph.facebook.com"

	maxMessageLength = 63206
	maxPhotos        = 10

	// Graph API accepts scheduled_publish_time between 10 minutes and 75 days ahead.
	minScheduleLead = 10 * time.Minute
	maxScheduleLead = 75 * 24 * time.Hour
)

type Client struct {
	graph *graph.Client
	now   func() time.Time
}

func New(baseURL string, hc *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		graph: &graph.Client{Name: Name, BaseURL: baseURL, HTTPClient: hc},
		now:   time.Now,
	}
}

func (c *Client) Platform() string { return Name }

func (c *Client) Validate(req *platform.Request) error {
	if req.Body == "" && len(req.Media) == 0 {
		return platform.Invalid(Name, "post needs a message or media")
	}
	if utf8.RuneCountInString(req.Body) > maxMessageLength {
		return platform.Invalid(Name, "message exceeds %d characters", maxMessageLength)
	}
	if req.Options.Poll != nil {
		return platform.Invalid(Name, "polls are not supported on pages")
	}

	videos, images := req.Videos(), req.Images()
	if len(videos) > 0 && len(images) > 0 {
		return platform.Invalid(Name, "cannot mix photos and videos in one post")
	}
	if len(videos) > 1 {
		return platform.Invalid(Name, "only one video per post")
	}
	if len(images) > maxPhotos {
		return platform.Invalid(Name, "at most %d photos per post", maxPhotos)
	}
	if len(videos)+len(images) != len(req.Media) {
		return platform.Invalid(Name, "unsupported media type")
	}
	return nil
}

func (c *Client) Publish(ctx context.Context, target platform.Target, req *platform.Request) (*platform.Result, error) {
	id, err := c.create(ctx, target, req, nil)
	if err != nil {
		return nil, err
	}
	return &platform.Result{
		PlatformPostID: id,
		URL:            "https://www.facebook.com/" + id,
	}, nil
}

// Schedule hands the post to Facebook to publish at the given instant.
func (c *Client) Schedule(ctx context.Context, target platform.Target, req *platform.Request, at time.Time) (string, error) {
	lead := at.Sub(c.now())
	if lead < minScheduleLead || lead > maxScheduleLead {
		return "", platform.Invalid(Name, "scheduled time must be between 10 minutes and 75 days ahead")
	}

	extra := url.Values{}
	extra.Set("published", "false")
	extra.Set("scheduled_publish_time", strconv.FormatInt(at.Unix(), 10))

	return c.create(ctx, target, req, extra)
}

// DeleteScheduled removes a natively scheduled post. A reference Facebook no
// longer knows about counts as already gone.
func (c *Client) DeleteScheduled(ctx context.Context, ref string, target platform.Target) (bool, error) {
	var resp graph.SuccessResponse
	err := c.graph.Delete(ctx, ref, target.Token, &resp)
	if errors.Is(err, platform.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return resp.Success, nil
}

func (c *Client) IsPublished(ctx context.Context, target platform.Target, ref string) (bool, error) {
	params := url.Values{}
	params.Set("fields", "is_published")

	var resp struct {
		IsPublished bool `json:"is_published"`
	}
	if err := c.graph.Get(ctx, ref, target.Token, params, &resp); err != nil {
		return false, err
	}
	return resp.IsPublished, nil
}

// ValidateCredentials reports false when the token is rejected; other
// failures are returned as errors.
func (c *Client) ValidateCredentials(ctx context.Context, target platform.Target) (bool, error) {
	params := url.Values{}
	params.Set("fields", "id")

	err := c.graph.Get(ctx, target.Account.ExternalID, target.Token, params, nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, platform.ErrAuth), errors.Is(err, platform.ErrPermission):
		return false, nil
	}
	return false, err
}

func (c *Client) create(ctx context.Context, target platform.Target, req *platform.Request, extra url.Values) (string, error) {
	pageID := target.Account.ExternalID
	params := url.Values{}
	for k, v := range extra {
		params[k] = v
	}

	videos, images := req.Videos(), req.Images()
	switch {
	case len(videos) == 1:
		params.Set("file_url", videos[0].URL)
		params.Set("description", req.Body)
		if req.Options.Title != "" {
			params.Set("title", req.Options.Title)
		}
		return c.post(ctx, pageID+"/videos", target.Token, params)

	case len(images) == 1:
		params.Set("url", images[0].URL)
		params.Set("caption", req.Body)
		return c.post(ctx, pageID+"/photos", target.Token, params)

	case len(images) > 1:
		// Multi-photo posts upload each photo unpublished, then attach them to a feed post.
		for i, img := range images {
			photo := url.Values{}
			photo.Set("url", img.URL)
			photo.Set("published", "false")
			if extra.Get("scheduled_publish_time") != "" {
				photo.Set("temporary", "true")
			}
			id, err := c.post(ctx, pageID+"/photos", target.Token, photo)
			if err != nil {
				return "", err
			}
			params.Set("attached_media["+strconv.Itoa(i)+"]", `{"media_fbid":"`+id+`"}`)
		}
		params.Set("message", req.Body)
		return c.post(ctx, pageID+"/feed", target.Token, params)
	}

	params.Set("message", req.Body)
	if req.Options.Link != "" {
		params.Set("link", req.Options.Link)
	}
	return c.post(ctx, pageID+"/feed", target.Token, params)
}

func (c *Client) post(ctx context.Context, path, token string, params url.Values) (string, error) {
	var resp graph.IDResponse
	if err := c.graph.Post(ctx, path, token, params, &resp); err != nil {
		return "", err
	}
	if resp.PostID != "" {
		return resp.PostID, nil
	}
	if resp.ID == "" {
		return "", platform.NewError(Name, platform.KindUnknown, "no id returned")
	}
	return resp.ID, nil
}
