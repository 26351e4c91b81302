package booru

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusKind classifies a non-200 provider response into the error taxonomy
// shared by all providers.
type StatusKind string

const (
	StatusBadRequest         StatusKind = "bad_request"
	StatusUnauthorized       StatusKind = "unauthorized"
	StatusForbidden          StatusKind = "forbidden"
	StatusNotFound           StatusKind = "not_found"
	StatusGone               StatusKind = "gone" // usually the pagination limit
	StatusThrottled          StatusKind = "throttled"
	StatusInvalidParameters  StatusKind = "invalid_parameters"
	StatusServerError        StatusKind = "server_error"
	StatusServiceUnavailable StatusKind = "service_unavailable"
	StatusUnknown            StatusKind = "unknown"
)

// StatusError is the typed failure surfaced for any non-200 provider reply.
// It carries the attempted URL so a caller can log actionable context without
// ever seeing the raw transport response.
type StatusError struct {
	Kind StatusKind
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	switch e.Kind {
	case StatusGone:
		return fmt.Sprintf("410 Gone (usually the pagination limit) fetching %s", e.URL)
	case StatusThrottled:
		return fmt.Sprintf("throttled by the server (status %d) fetching %s", e.Code, e.URL)
	case StatusInvalidParameters:
		return fmt.Sprintf("invalid request parameters (status %d) fetching %s", e.Code, e.URL)
	case StatusUnknown:
		return fmt.Sprintf("unexpected status %d fetching %s", e.Code, e.URL)
	default:
		return fmt.Sprintf("%d %s fetching %s", e.Code, http.StatusText(e.Code), e.URL)
	}
}

// interpretStatus maps an HTTP status code to a StatusError, or nil for 200.
// None of these are retried by the core; the caller decides.
func interpretStatus(code int, url string) error {
	if code == http.StatusOK {
		return nil
	}

	kind := StatusUnknown
	switch code {
	case http.StatusBadRequest:
		kind = StatusBadRequest
	case http.StatusUnauthorized:
		kind = StatusUnauthorized
	case http.StatusForbidden:
		kind = StatusForbidden
	case http.StatusNotFound:
		kind = StatusNotFound
	case http.StatusGone:
		kind = StatusGone
	case http.StatusMisdirectedRequest, http.StatusTooManyRequests:
		kind = StatusThrottled
	case http.StatusFailedDependency:
		kind = StatusInvalidParameters
	case http.StatusInternalServerError:
		kind = StatusServerError
	case http.StatusServiceUnavailable:
		kind = StatusServiceUnavailable
	}
	return &StatusError{Kind: kind, Code: code, URL: url}
}

// IsStatus reports whether err is (or wraps) a StatusError of the given kind.
func IsStatus(err error, kind StatusKind) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Kind == kind
}
