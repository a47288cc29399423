package gtoken

import (
	"errors"
	"net/http"
	"testing"

	"github.com/SanteonNL/orca/gtoken/transport"
	"github.com/stretchr/testify/assert"
)

func Test_normalizeTokenError(t *testing.T) {
	networkErr := errors.New("dial tcp: connection refused")
	tests := []struct {
		name     string
		err      error
		expected string
		remote   bool
	}{
		{
			name:     "error code",
			err:      &transport.Error{StatusCode: http.StatusBadRequest, Data: map[string]interface{}{"error": "invalid_grant"}},
			expected: "invalid_grant",
			remote:   true,
		},
		{
			name: "error code and description",
			err: &transport.Error{StatusCode: http.StatusBadRequest, Data: map[string]interface{}{
				"error":             "invalid_grant",
				"error_description": "Invalid JWT Signature.",
			}},
			expected: "invalid_grant: Invalid JWT Signature.",
			remote:   true,
		},
		{
			name:     "no body",
			err:      &transport.Error{StatusCode: http.StatusNotFound},
			expected: "request failed with status code 404",
		},
		{
			name:     "body without error",
			err:      &transport.Error{StatusCode: http.StatusBadGateway, Data: map[string]interface{}{"message": "upstream down"}},
			expected: "request failed with status code 502",
		},
		{
			name:     "error is not a string",
			err:      &transport.Error{StatusCode: http.StatusBadRequest, Data: map[string]interface{}{"error": map[string]interface{}{"code": 400}}},
			expected: "request failed with status code 400",
		},
		{
			name:     "network error",
			err:      networkErr,
			expected: "dial tcp: connection refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := normalizeTokenError(tt.err)

			assert.EqualError(t, result, tt.expected)
			var remoteErr *RemoteTokenError
			assert.Equal(t, tt.remote, errors.As(result, &remoteErr))
			assert.ErrorIs(t, result, tt.err)
		})
	}
}
