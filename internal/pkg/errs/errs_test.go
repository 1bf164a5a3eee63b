package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError(t *testing.T) {
	tests := []struct {
		name        string
		code        int
		details     []any
		wantCode    int
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "plain template",
			code:        ErrNicknameTaken,
			wantCode:    ErrNicknameTaken,
			wantStatus:  http.StatusConflict,
			wantMessage: "Nickname already taken.",
		},
		{
			name:        "template with detail",
			code:        ErrMalformedMessage,
			details:     []any{"room and recipient are mutually exclusive"},
			wantCode:    ErrMalformedMessage,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Malformed message: room and recipient are mutually exclusive.",
		},
		{
			name:        "zero status defaults to OK",
			code:        ErrSessionKicked,
			wantCode:    ErrSessionKicked,
			wantStatus:  http.StatusOK,
			wantMessage: "You were signed in on another device.",
		},
		{
			name:        "unknown code falls back",
			code:        424242,
			wantCode:    ErrUnknown,
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "Something went wrong. Please try again.",
		},
		{
			name:        "persistence failure keeps generic message",
			code:        ErrPersistenceFailure,
			details:     []any{errors.New("connection refused")},
			wantCode:    ErrPersistenceFailure,
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "Failed to save your changes. Please try again.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewError(tt.code, tt.details...)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantMessage, got.Message)
		})
	}
}

func TestNewError_DoesNotMutateTemplate(t *testing.T) {
	first := NewError(ErrMalformedMessage, "first")
	second := NewError(ErrMalformedMessage, "second")

	assert.Equal(t, "Malformed message: first.", first.Message)
	assert.Equal(t, "Malformed message: second.", second.Message)
}

func TestFromAndHasCode(t *testing.T) {
	wrapped := fmt.Errorf("router: %w", NewError(ErrUnauthenticated))

	assert.True(t, HasCode(wrapped, ErrUnauthenticated))
	assert.False(t, HasCode(wrapped, ErrNicknameTaken))
	assert.Equal(t, ErrUnauthenticated, From(wrapped).Code)
	assert.Equal(t, ErrUnknown, From(errors.New("boom")).Code)
	assert.Nil(t, From(nil))
}
