package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DoJSON sends body as JSON (when non-nil), checks the status and decodes
// the response into out. Non-2xx responses are converted with decode, or
// FromHTTP when decode is nil.
func DoJSON(ctx context.Context, hc *http.Client, platform, method, url string, headers map[string]string, body, out interface{}, decode func(status int, header http.Header, body []byte) *Error) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshalling payload: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return Do(hc, platform, req, out, decode)
}

// Do executes req and decodes a JSON response into out.
func Do(hc *http.Client, platform string, req *http.Request, out interface{}, decode func(status int, header http.Header, body []byte) *Error) error {
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return Transport(platform, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transport(platform, fmt.Errorf("error reading response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decode != nil {
			return decode(resp.StatusCode, resp.Header, respBody)
		}
		return FromHTTP(platform, resp.StatusCode, resp.Header, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Platform: platform, Kind: KindUnknown, StatusCode: resp.StatusCode, Message: "error parsing response", Err: err}
	}
	return nil
}
