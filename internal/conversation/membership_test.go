// ABOUTME: Tests for the membership authority
// ABOUTME: Covers participant checks and the NotFound/Forbidden discipline

package conversation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/2389/huddle/internal/apperr"
	"github.com/2389/huddle/internal/store"
)

func newStoreWithUsers(t *testing.T, ids ...string) *store.MockStore {
	t.Helper()
	s := store.NewMockStore()
	for _, id := range ids {
		require.NoError(t, s.CreateUser(t.Context(), &store.User{
			ID:          id,
			DisplayName: "Name " + id,
			CreatedAt:   time.Now(),
		}))
	}
	return s
}

func TestAuthority_IsParticipant(t *testing.T) {
	s := newStoreWithUsers(t, "u1", "u2", "u3")
	conv, _, err := NewResolver(s, nil).ResolveOrCreate(t.Context(), []string{"u2"}, "u1", Details{})
	require.NoError(t, err)

	a := NewAuthority(s)
	ok, err := a.IsParticipant(t.Context(), conv.ID, "u2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.IsParticipant(t.Context(), conv.ID, "u3")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.IsParticipant(t.Context(), "missing", "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthority_Require(t *testing.T) {
	s := newStoreWithUsers(t, "u1", "u2", "u3")
	conv, _, err := NewResolver(s, nil).ResolveOrCreate(t.Context(), []string{"u2"}, "u1", Details{})
	require.NoError(t, err)
	a := NewAuthority(s)

	got, err := a.Require(t.Context(), conv.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	tests := []struct {
		name   string
		convID string
		user   string
		code   codes.Code
	}{
		{"blank id", "  ", "u1", codes.InvalidArgument},
		{"missing conversation", "missing", "u1", codes.NotFound},
		{"not a member", conv.ID, "u3", codes.PermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Require(t.Context(), tt.convID, tt.user)
			assert.Equal(t, tt.code, apperr.CodeOf(err))
		})
	}
}

func TestAuthority_StoreFailure(t *testing.T) {
	s := store.NewMockStore()
	s.Err = errors.New("disk gone")
	a := NewAuthority(s)

	_, err := a.IsParticipant(t.Context(), "c", "u")
	assert.Error(t, err)

	_, err = a.Require(t.Context(), "c", "u")
	assert.Equal(t, codes.Internal, apperr.CodeOf(err))
}
