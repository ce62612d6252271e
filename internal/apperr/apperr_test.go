// ABOUTME: Tests for the error taxonomy mapping
// ABOUTME: Covers status/wire code mapping and normalization of foreign errors

package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		status int
		wire   string
	}{
		{"unauthenticated", Unauthenticated("no token"), http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"forbidden", Forbidden("not yours"), http.StatusForbidden, "FORBIDDEN"},
		{"invalid", InvalidArgument("bad %s", "limit"), http.StatusBadRequest, "BAD_REQUEST"},
		{"not found", NotFound("gone"), http.StatusNotFound, "NOT_FOUND"},
		{"internal", Internal(errors.New("disk on fire")), http.StatusInternalServerError, "INTERNAL_SERVER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
			assert.Equal(t, tt.wire, tt.err.WireCode())
			assert.Equal(t, tt.wire, tt.err.Payload().Code)
		})
	}
}

func TestInternalHidesCause(t *testing.T) {
	cause := errors.New("constraint failed: secret table")
	e := Internal(cause)

	assert.Equal(t, "something went wrong", e.Payload().Message)
	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "secret table")
}

func TestFrom(t *testing.T) {
	assert.Nil(t, From(nil))

	plain := From(errors.New("boom"))
	assert.Equal(t, codes.Internal, plain.Code)

	wrapped := fmt.Errorf("loading: %w", NotFound("conversation %s", "c1"))
	got := From(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, codes.NotFound, got.Code)
	assert.Equal(t, "conversation c1", got.Payload().Message)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, codes.OK, CodeOf(nil))
	assert.Equal(t, codes.PermissionDenied, CodeOf(Forbidden("x")))
	assert.Equal(t, codes.Internal, CodeOf(errors.New("x")))
}
