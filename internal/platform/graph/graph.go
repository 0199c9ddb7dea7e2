// Package graph holds the request and error plumbing shared by the Facebook
// and Instagram clients, which both speak the Graph API.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/maheshrc27/postflow/internal/platform"
)

const DefaultVersion = "v21.0"

type ErrorResponse struct {
	Error struct {
		Message        string `json:"message"`
		Type           string `json:"type"`
		Code           int    `json:"code"`
		ErrorSubcode   int    `json:"error_subcode"`
		IsTransient    bool   `json:"is_transient"`
		ErrorUserTitle string `json:"error_user_title"`
		ErrorUserMsg   string `json:"error_user_msg"`
		FbtraceID      string `json:"fbtrace_id"`
	} `json:"error"`
}

// KindForCode maps a Graph API error code onto a platform error kind.
func KindForCode(code, subcode int, transient bool) platform.Kind {
	if transient {
		return platform.KindTransient
	}
	switch code {
	case 190, 102, 463, 467:
		return platform.KindAuth
	case 4, 17, 32, 341, 613:
		return platform.KindRateLimited
	case 1, 2, 9004, 9007:
		return platform.KindTransient
	case 10, 368:
		return platform.KindPermission
	case 100:
		if subcode == 33 {
			return platform.KindNotFound
		}
		return platform.KindInvalidContent
	case 506, 324, 352, 36000, 36001, 36003:
		return platform.KindInvalidContent
	}
	switch {
	case code >= 200 && code <= 299:
		return platform.KindPermission
	case code >= 80001 && code <= 80014:
		return platform.KindRateLimited
	}
	return platform.KindUnknown
}

// Decode turns a non-2xx Graph response into a *platform.Error, falling back
// to status code mapping when the body has no error object.
func Decode(name string) func(status int, header http.Header, body []byte) *platform.Error {
	return func(status int, header http.Header, body []byte) *platform.Error {
		var resp ErrorResponse
		if err := json.Unmarshal(body, &resp); err != nil || resp.Error.Code == 0 {
			return platform.FromHTTP(name, status, header, body)
		}

		kind := KindForCode(resp.Error.Code, resp.Error.ErrorSubcode, resp.Error.IsTransient)
		if kind == platform.KindUnknown {
			kind = platform.KindFromStatus(status)
		}

		msg := resp.Error.Message
		if resp.Error.ErrorUserMsg != "" {
			msg = resp.Error.ErrorUserMsg
		}

		code := strconv.Itoa(resp.Error.Code)
		if resp.Error.ErrorSubcode != 0 {
			code = fmt.Sprintf("%d/%d", resp.Error.Code, resp.Error.ErrorSubcode)
		}

		return &platform.Error{
			Platform:   name,
			Kind:       kind,
			StatusCode: status,
			Code:       code,
			Message:    msg,
			RetryAfter: platform.ParseRetryAfter(header.Get("Retry-After")),
		}
	}
}

// Client issues form-encoded Graph API calls.
type Client struct {
	Name       string
	BaseURL    string
	Version    string
	HTTPClient *http.Client
}

func (c *Client) endpoint(path string) string {
	version := c.Version
	if version == "" {
		version = DefaultVersion
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(c.BaseURL, "/"), version, strings.TrimLeft(path, "/"))
}

// Get calls path with params and the access token in the query string.
func (c *Client) Get(ctx context.Context, path, token string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path)+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	return platform.Do(c.HTTPClient, c.Name, req, out, Decode(c.Name))
}

// Post sends params as a form body.
func (c *Client) Post(ctx context.Context, path, token string, params url.Values, out interface{}) error {
	return c.send(ctx, http.MethodPost, path, token, params, out)
}

func (c *Client) Delete(ctx context.Context, path, token string, out interface{}) error {
	return c.send(ctx, http.MethodDelete, path, token, nil, out)
}

func (c *Client) send(ctx context.Context, method, path, token string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", token)

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return platform.Do(c.HTTPClient, c.Name, req, out, Decode(c.Name))
}

type IDResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}
