// Package instagram publishes through the Instagram Graph API content
// publishing flow: create container(s), wait for processing, media_publish.
//
// Each step is saved to the request checkpoint before moving on, so a
// redelivered job resumes where the previous delivery stopped.
package instagram

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/platform/graph"
)

const (
	Name = "instagram"

	DefaultBaseURL = "https://graph.instagram.com"

	maxCaptionLength = 2200
	maxHashtags      = 30
	maxCarouselItems = 10
)

// Container status codes returned by GET /{container-id}?fields=status_code.
const (
	statusFinished   = "FINISHED"
	statusInProgress = "IN_PROGRESS"
	statusError      = "ERROR"
	statusExpired    = "EXPIRED"
	statusPublished  = "PUBLISHED"
)

type Options struct {
	BaseURL string
	// PollInterval is the wait between container status checks.
	PollInterval time.Duration
	// PollAttempts bounds status checks per delivery; an unfinished container
	// is reported as transient and picked up again on the next delivery.
	PollAttempts int
}

type Client struct {
	graph        *graph.Client
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
		graph:        &graph.Client{Name: Name, BaseURL: opts.BaseURL, HTTPClient: hc},
		pollInterval: opts.PollInterval,
		pollAttempts: opts.PollAttempts,
	}
}

func (c *Client) Platform() string { return Name }

func (c *Client) Validate(req *platform.Request) error {
	if len(req.Media) == 0 {
		return platform.Invalid(Name, "instagram posts need at least one image or video")
	}
	if len(req.Media) > maxCarouselItems {
		return platform.Invalid(Name, "carousel supports at most %d items", maxCarouselItems)
	}
	if utf8.RuneCountInString(req.Body) > maxCaptionLength {
		return platform.Invalid(Name, "caption exceeds %d characters", maxCaptionLength)
	}
	if strings.Count(req.Body, "#") > maxHashtags {
		return platform.Invalid(Name, "caption has more than %d hashtags", maxHashtags)
	}
	if req.Options.Poll != nil {
		return platform.Invalid(Name, "polls are not supported")
	}
	for _, m := range req.Media {
		if m.Kind != platform.MediaKindImage && m.Kind != platform.MediaKindVideo {
			return platform.Invalid(Name, "unsupported media type for %s", m.ID)
		}
	}
	return nil
}

func (c *Client) Publish(ctx context.Context, target platform.Target, req *platform.Request) (*platform.Result, error) {
	cp := req.Checkpoint

	for {
		switch cp.Step {
		case "", models.StepStarted:
			containerID, err := c.createContainers(ctx, target, req)
			if err != nil {
				return nil, err
			}
			cp = models.Checkpoint{Step: models.StepContainerCreated, ContainerID: containerID, ChildIDs: req.Checkpoint.ChildIDs}
			if err := req.Save(ctx, cp); err != nil {
				return nil, err
			}

		case models.StepContainerCreated:
			status, err := c.waitForContainer(ctx, target, cp.ContainerID)
			if err != nil {
				return nil, err
			}
			switch status {
			case statusFinished, statusPublished:
				cp.Step = models.StepContainerReady
			case statusExpired:
				// Containers expire after 24h; start over with fresh ones.
				cp = models.Checkpoint{Step: models.StepStarted}
				if err := req.Save(ctx, cp); err != nil {
					return nil, err
				}
				return nil, platform.NewError(Name, platform.KindTransient, "media container expired")
			case statusError:
				return nil, platform.NewError(Name, platform.KindInvalidContent, "media processing failed")
			default:
				return nil, platform.NewError(Name, platform.KindTransient, "media container still processing")
			}
			if err := req.Save(ctx, cp); err != nil {
				return nil, err
			}

		case models.StepContainerReady:
			mediaID, err := c.publishContainer(ctx, target, cp.ContainerID)
			if err != nil {
				return nil, err
			}
			cp.Step = models.StepPublished
			cp.PublishID = mediaID
			if err := req.Save(ctx, cp); err != nil {
				return nil, err
			}

		case models.StepPublished:
			return &platform.Result{PlatformPostID: cp.PublishID}, nil

		default:
			return nil, platform.NewError(Name, platform.KindUnknown, "unknown checkpoint step "+string(cp.Step))
		}
	}
}

func (c *Client) ValidateCredentials(ctx context.Context, target platform.Target) (bool, error) {
	params := url.Values{}
	params.Set("fields", "id,username")

	err := c.graph.Get(ctx, "me", target.Token, params, nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, platform.ErrAuth), errors.Is(err, platform.ErrPermission):
		return false, nil
	}
	return false, err
}

// createContainers creates the media container to publish. Carousel children
// are checkpointed one by one so a retry does not recreate them.
func (c *Client) createContainers(ctx context.Context, target platform.Target, req *platform.Request) (string, error) {
	userID := target.Account.ExternalID

	if len(req.Media) == 1 && !req.Options.Carousel {
		params := mediaParams(req.Media[0], false)
		params.Set("caption", req.Body)
		return c.create(ctx, userID, target.Token, params)
	}

	childIDs := append([]string(nil), req.Checkpoint.ChildIDs...)
	for i := len(childIDs); i < len(req.Media); i++ {
		id, err := c.create(ctx, userID, target.Token, mediaParams(req.Media[i], true))
		if err != nil {
			return "", err
		}
		childIDs = append(childIDs, id)
		if err := req.Save(ctx, models.Checkpoint{Step: models.StepStarted, ChildIDs: childIDs}); err != nil {
			return "", err
		}
	}

	params := url.Values{}
	params.Set("media_type", "CAROUSEL")
	params.Set("caption", req.Body)
	params.Set("children", strings.Join(childIDs, ","))
	return c.create(ctx, userID, target.Token, params)
}

func mediaParams(m platform.Media, carouselItem bool) url.Values {
	params := url.Values{}
	if m.Kind == platform.MediaKindVideo {
		if carouselItem {
			params.Set("media_type", "VIDEO")
		} else {
			params.Set("media_type", "REELS")
		}
		params.Set("video_url", m.URL)
	} else {
		params.Set("image_url", m.URL)
	}
	if carouselItem {
		params.Set("is_carousel_item", "true")
	}
	return params
}

func (c *Client) create(ctx context.Context, userID, token string, params url.Values) (string, error) {
	var resp graph.IDResponse
	if err := c.graph.Post(ctx, userID+"/media", token, params, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", platform.NewError(Name, platform.KindUnknown, "no media ID returned from Instagram")
	}
	return resp.ID, nil
}

func (c *Client) waitForContainer(ctx context.Context, target platform.Target, containerID string) (string, error) {
	params := url.Values{}
	params.Set("fields", "status_code")

	var status string
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		var resp struct {
			StatusCode string `json:"status_code"`
		}
		if err := c.graph.Get(ctx, containerID, target.Token, params, &resp); err != nil {
			return "", err
		}
		status = resp.StatusCode
		if status != statusInProgress && status != "" {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return status, nil
}

func (c *Client) publishContainer(ctx context.Context, target platform.Target, containerID string) (string, error) {
	params := url.Values{}
	params.Set("creation_id", containerID)

	var resp graph.IDResponse
	if err := c.graph.Post(ctx, target.Account.ExternalID+"/media_publish", target.Token, params, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", platform.NewError(Name, platform.KindUnknown, "no media ID returned from media_publish")
	}
	return resp.ID, nil
}
