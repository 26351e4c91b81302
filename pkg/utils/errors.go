package utils

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrUnparsableResponse = errors.New("response is neither valid JSON nor XML")
	ErrInvalidBaseURL     = errors.New("invalid provider base URL")
	ErrMissingCredentials = errors.New("missing provider credentials")
	ErrUnsupported        = errors.New("operation not supported by provider")
	ErrFilesystem         = errors.New("filesystem error") // Wraps os errors
	ErrDatabase           = errors.New("database error")   // Wraps badger errors
	ErrRobotsDisallowed   = errors.New("disallowed by robots.txt")
	ErrRequestCreation    = errors.New("failed to create HTTP request")
	ErrResponseBodyRead   = errors.New("failed to read response body")
	ErrConfigValidation   = errors.New("configuration validation error")
)

// CategorizeError maps an error to a predefined category string for logging and
// run statistics.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrUnparsableResponse):
		return "Response_Unparsable"
	case errors.Is(err, ErrInvalidBaseURL):
		return "Provider_BaseURL"
	case errors.Is(err, ErrMissingCredentials):
		return "Provider_Credentials"
	case errors.Is(err, ErrUnsupported):
		return "Provider_Unsupported"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerMsg, "timeout"):
		return "Network_TimeoutGeneric"
	case strings.Contains(lowerMsg, "connection refused"):
		return "Network_ConnectionRefused"
	case strings.Contains(lowerMsg, "no such host"):
		return "Network_DNSLookup"
	case strings.Contains(lowerMsg, "tls"), strings.Contains(lowerMsg, "certificate"):
		return "Network_TLS"
	case strings.Contains(lowerMsg, "reset by peer"):
		return "Network_ConnectionReset"
	}

	return "Unknown"
}
