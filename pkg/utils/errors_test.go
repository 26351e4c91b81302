package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorizeErrorSentinels(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"nil":            {nil, "None"},
		"unparsable":     {fmt.Errorf("%w: empty body", ErrUnparsableResponse), "Response_Unparsable"},
		"base url":       {ErrInvalidBaseURL, "Provider_BaseURL"},
		"credentials":    {fmt.Errorf("%w: gelbooru", ErrMissingCredentials), "Provider_Credentials"},
		"unsupported":    {ErrUnsupported, "Provider_Unsupported"},
		"robots":         {ErrRobotsDisallowed, "Policy_Robots"},
		"fs permission":  {fmt.Errorf("%w: %w", ErrFilesystem, os.ErrPermission), "Filesystem_Permission"},
		"fs not exist":   {fmt.Errorf("%w: %w", ErrFilesystem, os.ErrNotExist), "Filesystem_NotExist"},
		"fs other":       {fmt.Errorf("%w: disk full", ErrFilesystem), "Filesystem_Other"},
		"database":       {ErrDatabase, "Database_Other"},
		"request":        {ErrRequestCreation, "Internal_RequestCreation"},
		"body read":      {ErrResponseBodyRead, "Network_BodyRead"},
		"config":         {ErrConfigValidation, "Config_Validation"},
		"ctx canceled":   {context.Canceled, "System_ContextCanceled"},
		"ctx deadline":   {context.DeadlineExceeded, "System_ContextDeadlineExceeded"},
		"unrecognizable": {errors.New("something else entirely"), "Unknown"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, CategorizeError(tc.err))
		})
	}
}

func TestCategorizeErrorNetwork(t *testing.T) {
	timeout := &net.OpError{Op: "dial", Err: timeoutErr{}}
	assert.Equal(t, "Network_Timeout", CategorizeError(timeout))

	assert.Equal(t, "Network_ConnectionRefused", CategorizeError(errors.New("dial tcp 127.0.0.1:1: connection refused")))
	assert.Equal(t, "Network_DNSLookup", CategorizeError(errors.New("lookup img.example: no such host")))
	assert.Equal(t, "Network_TLS", CategorizeError(errors.New("remote error: tls: handshake failure")))
	assert.Equal(t, "Network_ConnectionReset", CategorizeError(errors.New("read: connection reset by peer")))
}

// timeoutErr satisfies net.Error with Timeout() == true.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return false }

var _ net.Error = timeoutErr{}
