package classifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind groups failures by how the caller should react to them.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindRateLimited
	KindUnavailable
	KindTimeout
	KindAuth
	KindConfig
	KindBadRequest
	KindReply
)

var kindNames = map[ErrorKind]string{
	KindUnknown:     "unknown",
	KindRateLimited: "rate_limited",
	KindUnavailable: "unavailable",
	KindTimeout:     "timeout",
	KindAuth:        "auth",
	KindConfig:      "config",
	KindBadRequest:  "bad_request",
	KindReply:       "reply",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var (
	ErrUnparseableReply = errors.New("unparseable classification reply")
	ErrUnknownCategory  = errors.New("category not in taxonomy")
	ErrMissingAPIKey    = errors.New("missing or placeholder API key")
)

// Error is a classification failure tagged with its kind.
type Error struct {
	Kind       ErrorKind
	Service    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Service, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, service string, err error) *Error {
	return &Error{Kind: kind, Service: service, Err: err}
}

// FromStatus maps a non-2xx HTTP status to a failure kind.
func FromStatus(service string, status int, message string) *Error {
	kind := KindBadRequest
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = KindTimeout
	case status >= 500:
		kind = KindUnavailable
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Kind: kind, Service: service, StatusCode: status, Err: errors.New(message)}
}

// KindOf reports the kind of err, looking through wrapping.
func KindOf(err error) ErrorKind {
	var ce *Error
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &ce):
		return ce.Kind
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrUnparseableReply), errors.Is(err, ErrUnknownCategory):
		return KindReply
	}
	return KindUnknown
}
