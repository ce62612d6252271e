// ABOUTME: Tests for conversation find-or-create resolution
// ABOUTME: Covers pair dedup, group proliferation, validation and the creation race

package conversation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/2389/huddle/internal/apperr"
	"github.com/2389/huddle/internal/store"
)

func TestResolver_DirectConversationIsUniquePerPair(t *testing.T) {
	s := newStoreWithUsers(t, "u1", "u2", "u3")
	r := NewResolver(s, nil)
	ctx := t.Context()

	c1, created, err := r.ResolveOrCreate(ctx, []string{"u2"}, "u1", Details{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"u1", "u2"}, c1.ParticipantIDs)
	assert.Equal(t, "u1", c1.CreatedBy)

	again, created, err := r.ResolveOrCreate(ctx, []string{"u2"}, "u1", Details{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c1.ID, again.ID)

	// Either side of the pair resolves to the same conversation.
	reverse, created, err := r.ResolveOrCreate(ctx, []string{"u1"}, "u2", Details{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c1.ID, reverse.ID)

	// Duplicates in the request collapse.
	dup, _, err := r.ResolveOrCreate(ctx, []string{"u2", "u2"}, "u1", Details{})
	require.NoError(t, err)
	assert.Equal(t, c1.ID, dup.ID)

	group, created, err := r.ResolveOrCreate(ctx, []string{"u2", "u3"}, "u1", Details{Name: "team"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, c1.ID, group.ID)
	assert.Equal(t, []string{"u1", "u2", "u3"}, group.ParticipantIDs)
	assert.Equal(t, "team", group.Name)
	assert.Empty(t, group.DirectKey)
}

func TestResolver_SeparatorInIDsDoesNotMatchOtherPair(t *testing.T) {
	s := newStoreWithUsers(t, "a:b", "c", "a", "b:c")
	r := NewResolver(s, nil)
	ctx := t.Context()

	first, created, err := r.ResolveOrCreate(ctx, []string{"c"}, "a:b", Details{})
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := r.ResolveOrCreate(ctx, []string{"b:c"}, "a", Details{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, []string{"a", "b:c"}, second.ParticipantIDs)
	assert.False(t, first.HasParticipant("a"))
}

func TestResolver_GroupsAreNeverDeduplicated(t *testing.T) {
	s := newStoreWithUsers(t, "u1", "u2", "u3")
	r := NewResolver(s, nil)

	g1, _, err := r.ResolveOrCreate(t.Context(), []string{"u2", "u3"}, "u1", Details{})
	require.NoError(t, err)
	g2, _, err := r.ResolveOrCreate(t.Context(), []string{"u3", "u2"}, "u1", Details{})
	require.NoError(t, err)
	assert.NotEqual(t, g1.ID, g2.ID)
}

func TestResolver_Validation(t *testing.T) {
	s := newStoreWithUsers(t, "u1", "u2")
	r := NewResolver(s, nil)

	tests := []struct {
		name      string
		requested []string
		message   string
	}{
		{"empty", nil, "There must be at least one person"},
		{"includes creator", []string{"u2", "u1"}, ""},
		{"blank id", []string{"u2", " "}, ""},
		{"unknown user", []string{"ghost"}, "unknown participant: ghost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := r.ResolveOrCreate(t.Context(), tt.requested, "u1", Details{})
			e := apperr.From(err)
			require.NotNil(t, e)
			assert.Equal(t, codes.InvalidArgument, e.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, e.Message)
			}
		})
	}
}

// racingStore hides the first lookup so both racers reach the insert.
type racingStore struct {
	*store.MockStore
	mu      sync.Mutex
	blinded int
}

func (r *racingStore) GetConversationByDirectKey(ctx context.Context, key string) (*store.Conversation, error) {
	r.mu.Lock()
	if r.blinded > 0 {
		r.blinded--
		r.mu.Unlock()
		return nil, store.ErrNotFound
	}
	r.mu.Unlock()
	return r.MockStore.GetConversationByDirectKey(ctx, key)
}

func TestResolver_CreationRaceReturnsWinner(t *testing.T) {
	s := &racingStore{MockStore: newStoreWithUsers(t, "u1", "u2"), blinded: 2}
	r := NewResolver(s, nil)

	first, created, err := r.ResolveOrCreate(t.Context(), []string{"u2"}, "u1", Details{})
	require.NoError(t, err)
	assert.True(t, created)

	// The second caller misses the lookup, loses the insert and re-reads.
	second, created, err := r.ResolveOrCreate(t.Context(), []string{"u1"}, "u2", Details{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestResolver_ConcurrentPairCreation(t *testing.T) {
	s := newStoreWithUsers(t, "u1", "u2")
	r := NewResolver(s, nil)

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			creator, other := "u1", "u2"
			if i%2 == 1 {
				creator, other = other, creator
			}
			conv, _, err := r.ResolveOrCreate(t.Context(), []string{other}, creator, Details{})
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}
