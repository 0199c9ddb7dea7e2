package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrAuth                = errors.New("platform credentials rejected")
	ErrPermission          = errors.New("platform permission denied")
	ErrInvalidContent      = errors.New("content rejected by platform")
	ErrNotFound            = errors.New("platform resource not found")
	ErrRateLimited         = errors.New("platform rate limited")
	ErrTransient           = errors.New("platform temporarily unavailable")
	ErrUnknown             = errors.New("platform error")
)

type Kind int

const (
	KindUnknown Kind = iota
	KindAuth
	KindPermission
	KindInvalidContent
	KindNotFound
	KindRateLimited
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindPermission:
		return "permission"
	case KindInvalidContent:
		return "invalid_content"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	}
	return "unknown"
}

func (k Kind) sentinel() error {
	switch k {
	case KindAuth:
		return ErrAuth
	case KindPermission:
		return ErrPermission
	case KindInvalidContent:
		return ErrInvalidContent
	case KindNotFound:
		return ErrNotFound
	case KindRateLimited:
		return ErrRateLimited
	case KindTransient:
		return ErrTransient
	}
	return ErrUnknown
}

// Error is the single failure shape of every platform client.
type Error struct {
	Platform   string
	Kind       Kind
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Platform)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " code=%s", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches the kind sentinel, so errors.Is(err, ErrRateLimited) works.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(platform string, kind Kind, msg string) *Error {
	return &Error{Platform: platform, Kind: kind, Message: msg}
}

// Invalid reports a content rule violation found before any remote call.
func Invalid(platform, format string, args ...interface{}) *Error {
	return &Error{Platform: platform, Kind: KindInvalidContent, Message: fmt.Sprintf(format, args...)}
}

// Transport wraps a network level failure.
func Transport(platform string, err error) *Error {
	return &Error{Platform: platform, Kind: KindTransient, Message: "request failed", Err: err}
}

// KindFromStatus maps an HTTP status code to an error kind.
func KindFromStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusForbidden:
		return KindPermission
	case status == http.StatusNotFound, status == http.StatusGone:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout, status >= 500:
		return KindTransient
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity,
		status == http.StatusRequestEntityTooLarge, status == http.StatusConflict:
		return KindInvalidContent
	}
	return KindUnknown
}

// FromHTTP builds an *Error from a non-2xx response. The message is taken
// from a JSON "message" or "error" field when the body has one.
func FromHTTP(platform string, status int, header http.Header, body []byte) *Error {
	e := &Error{
		Platform:   platform,
		Kind:       KindFromStatus(status),
		StatusCode: status,
		Message:    messageFromBody(body),
	}
	if header != nil {
		e.RetryAfter = ParseRetryAfter(header.Get("Retry-After"))
	}
	return e
}

// ParseRetryAfter understands both the seconds and the HTTP-date forms.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func messageFromBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(body, &generic); err != nil {
		return truncate(string(body), 200)
	}
	for _, key := range []string{"message", "error_description", "error"} {
		raw, ok := generic[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return truncate(string(body), 200)
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
