// Package youtube uploads videos with the YouTube Data API v3.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/maheshrc27/postflow/internal/platform"
)

const (
	Name = "youtube"

	maxTitleLength       = 100
	maxDescriptionLength = 5000
	defaultCategoryID    = "22"
	defaultPrivacy       = "public"
)

type Options struct {
	// Endpoint overrides the API base URL.
	Endpoint string
	// TempDir receives the video downloaded before upload.
	TempDir string
}

type Client struct {
	endpoint string
	tempDir  string
	// hc downloads media and is the base transport for API calls.
	hc *http.Client
}

func New(opts Options, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Client{endpoint: opts.Endpoint, tempDir: opts.TempDir, hc: hc}
}

func (c *Client) Platform() string { return Name }

func (c *Client) Validate(req *platform.Request) error {
	if len(req.Videos()) != 1 || len(req.Media) != 1 {
		return platform.Invalid(Name, "youtube posts need exactly one video")
	}
	title := videoTitle(req)
	if title == "" {
		return platform.Invalid(Name, "video title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return platform.Invalid(Name, "title exceeds %d characters", maxTitleLength)
	}
	if strings.ContainsAny(title, "<>") {
		return platform.Invalid(Name, "title cannot contain < or >")
	}
	if len(req.Body) > maxDescriptionLength {
		return platform.Invalid(Name, "description exceeds %d bytes", maxDescriptionLength)
	}
	return nil
}

func (c *Client) Publish(ctx context.Context, target platform.Target, req *platform.Request) (*platform.Result, error) {
	id, err := c.upload(ctx, target, req, nil)
	if err != nil {
		return nil, err
	}
	return &platform.Result{PlatformPostID: id, URL: "https://youtu.be/" + id}, nil
}

// Schedule uploads the video as private with status.publishAt set; YouTube
// makes it public at that instant.
func (c *Client) Schedule(ctx context.Context, target platform.Target, req *platform.Request, at time.Time) (string, error) {
	if !at.After(time.Now()) {
		return "", platform.Invalid(Name, "publish time must be in the future")
	}
	return c.upload(ctx, target, req, &at)
}

func (c *Client) DeleteScheduled(ctx context.Context, ref string, target platform.Target) (bool, error) {
	svc, err := c.service(ctx, target.Token)
	if err != nil {
		return false, err
	}
	err = svc.Videos.Delete(ref).Context(ctx).Do()
	if err == nil {
		return true, nil
	}
	perr := convertError(err)
	if perr.Kind == platform.KindNotFound {
		return true, nil
	}
	return false, perr
}

func (c *Client) IsPublished(ctx context.Context, target platform.Target, ref string) (bool, error) {
	svc, err := c.service(ctx, target.Token)
	if err != nil {
		return false, err
	}
	resp, err := svc.Videos.List([]string{"status"}).Id(ref).Context(ctx).Do()
	if err != nil {
		return false, convertError(err)
	}
	if len(resp.Items) == 0 {
		return false, platform.NewError(Name, platform.KindNotFound, "video "+ref+" not found")
	}
	status := resp.Items[0].Status
	return status != nil && status.PrivacyStatus == defaultPrivacy, nil
}

func (c *Client) ValidateCredentials(ctx context.Context, target platform.Target) (bool, error) {
	svc, err := c.service(ctx, target.Token)
	if err != nil {
		return false, err
	}
	_, err = svc.Channels.List([]string{"id"}).Mine(true).Context(ctx).Do()
	if err == nil {
		return true, nil
	}
	perr := convertError(err)
	if perr.Kind == platform.KindAuth || perr.Kind == platform.KindPermission {
		return false, nil
	}
	return false, perr
}

func (c *Client) service(ctx context.Context, token string) (*yt.Service, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.hc)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating YouTube service: %w", err)
	}
	return svc, nil
}

func (c *Client) upload(ctx context.Context, target platform.Target, req *platform.Request, publishAt *time.Time) (string, error) {
	videos := req.Videos()
	if len(videos) != 1 {
		return "", platform.Invalid(Name, "youtube posts need exactly one video")
	}

	path, err := c.download(ctx, videos[0].URL)
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error opening video file: %w", err)
	}
	defer file.Close()

	svc, err := c.service(ctx, target.Token)
	if err != nil {
		return "", err
	}

	privacy := req.Options.Privacy
	if privacy == "" {
		privacy = defaultPrivacy
	}
	video := &yt.Video{
		Snippet: &yt.VideoSnippet{
			Title:       videoTitle(req),
			Description: req.Body,
			CategoryId:  defaultCategoryID,
		},
		Status: &yt.VideoStatus{PrivacyStatus: privacy},
	}
	if publishAt != nil {
		video.Status.PrivacyStatus = "private"
		video.Status.PublishAt = publishAt.UTC().Format(time.RFC3339)
	}

	resp, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(file).Context(ctx).Do()
	if err != nil {
		return "", convertError(err)
	}
	if resp.Id == "" {
		return "", platform.NewError(Name, platform.KindUnknown, "no video id returned")
	}
	return resp.Id, nil
}

// download copies the media URL into a temp file. A 4xx from the media host
// means the asset is gone, anything else may succeed later.
func (c *Client) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", platform.Transport(Name, fmt.Errorf("error downloading video: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := platform.KindTransient
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = platform.KindInvalidContent
		}
		return "", &platform.Error{Platform: Name, Kind: kind, StatusCode: resp.StatusCode, Message: "media download failed"}
	}

	tmp, err := os.CreateTemp(c.tempDir, "video-*.mp4")
	if err != nil {
		return "", fmt.Errorf("error creating temporary file: %w", err)
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		os.Remove(tmp.Name())
		return "", platform.Transport(Name, fmt.Errorf("error saving video to temporary file: %w", err))
	}
	return tmp.Name(), nil
}

func convertError(err error) *platform.Error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return platform.Transport(Name, err)
	}

	perr := &platform.Error{
		Platform:   Name,
		Kind:       platform.KindFromStatus(gerr.Code),
		StatusCode: gerr.Code,
		Message:    gerr.Message,
	}
	if gerr.Header != nil {
		perr.RetryAfter = platform.ParseRetryAfter(gerr.Header.Get("Retry-After"))
	}
	if len(gerr.Errors) > 0 {
		reason := gerr.Errors[0].Reason
		perr.Code = reason
		switch reason {
		case "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded", "uploadLimitExceeded":
			perr.Kind = platform.KindRateLimited
		case "authError", "invalidCredentials":
			perr.Kind = platform.KindAuth
		case "forbidden", "insufficientPermissions", "youtubeSignupRequired":
			perr.Kind = platform.KindPermission
		case "invalidTitle", "invalidDescription", "invalidCategoryId", "invalidPublishAt", "mediaBodyRequired":
			perr.Kind = platform.KindInvalidContent
		case "backendError", "internalError":
			perr.Kind = platform.KindTransient
		}
	}
	return perr
}

func videoTitle(req *platform.Request) string {
	if req.Options.Title != "" {
		return req.Options.Title
	}
	title, _, _ := strings.Cut(req.Body, "\n")
	return strings.TrimSpace(title)
}
