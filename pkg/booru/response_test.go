package booru

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpretStatus(t *testing.T) {
	cases := []struct {
		code int
		kind StatusKind
	}{
		{http.StatusBadRequest, StatusBadRequest},
		{http.StatusUnauthorized, StatusUnauthorized},
		{http.StatusForbidden, StatusForbidden},
		{http.StatusNotFound, StatusNotFound},
		{http.StatusGone, StatusGone},
		{http.StatusMisdirectedRequest, StatusThrottled},
		{http.StatusTooManyRequests, StatusThrottled},
		{http.StatusFailedDependency, StatusInvalidParameters},
		{http.StatusInternalServerError, StatusServerError},
		{http.StatusServiceUnavailable, StatusServiceUnavailable},
		{http.StatusTeapot, StatusUnknown},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d", tc.code), func(t *testing.T) {
			err := interpretStatus(tc.code, "https://example.org/post.json")
			require.Error(t, err)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tc.kind, se.Kind)
			assert.Equal(t, tc.code, se.Code)
			assert.Contains(t, err.Error(), "https://example.org/post.json")
		})
	}
}

func TestInterpretStatusOK(t *testing.T) {
	assert.NoError(t, interpretStatus(http.StatusOK, "https://example.org"))
}

func TestIsStatus(t *testing.T) {
	err := interpretStatus(http.StatusGone, "https://example.org")
	assert.True(t, IsStatus(err, StatusGone))
	assert.False(t, IsStatus(err, StatusThrottled))

	wrapped := fmt.Errorf("page 2001: %w", err)
	assert.True(t, IsStatus(wrapped, StatusGone))

	assert.False(t, IsStatus(nil, StatusGone))
	assert.False(t, IsStatus(fmt.Errorf("plain"), StatusGone))
}

func TestStatusErrorMessages(t *testing.T) {
	gone := interpretStatus(http.StatusGone, "u")
	assert.Contains(t, gone.Error(), "pagination limit")

	throttled := interpretStatus(http.StatusTooManyRequests, "u")
	assert.Contains(t, throttled.Error(), "throttled")
}
