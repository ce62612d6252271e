// ABOUTME: Find-or-create resolution of conversations for a requested participant set
// ABOUTME: Direct conversations are unique per unordered pair; groups always get a new room

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/2389/huddle/internal/apperr"
	"github.com/2389/huddle/internal/store"
)

// ResolverStore defines what the resolver needs from storage.
type ResolverStore interface {
	GetUsers(ctx context.Context, ids []string) (map[string]*store.User, error)
	GetConversationByDirectKey(ctx context.Context, key string) (*store.Conversation, error)
	CreateConversation(ctx context.Context, conv *store.Conversation) error
}

// Details are optional attributes applied when a conversation is created.
type Details struct {
	Name      string
	AvatarRef string
}

// Resolver finds or creates conversations.
type Resolver struct {
	store  ResolverStore
	logger *slog.Logger
}

// NewResolver creates a Resolver. Pass nil logger for default.
func NewResolver(s ResolverStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  s,
		logger: logger.With("component", "resolver"),
	}
}

// ResolveOrCreate returns the conversation for requested plus creatorID.
// created reports whether a new conversation was stored.
func (r *Resolver) ResolveOrCreate(ctx context.Context, requested []string, creatorID string, details Details) (conv *store.Conversation, created bool, err error) {
	if len(requested) == 0 {
		return nil, false, apperr.InvalidArgument("There must be at least one person")
	}
	if lo.Contains(requested, creatorID) {
		return nil, false, apperr.InvalidArgument("participant list must not include the creator")
	}
	if lo.ContainsBy(requested, func(id string) bool { return strings.TrimSpace(id) == "" }) {
		return nil, false, apperr.InvalidArgument("participant ids must not be blank")
	}

	participants := append(lo.Uniq(requested), creatorID)
	slices.Sort(participants)

	known, err := r.store.GetUsers(ctx, participants)
	if err != nil {
		return nil, false, apperr.Internal(fmt.Errorf("loading participants: %w", err))
	}
	missing := lo.Reject(participants, func(id string, _ int) bool {
		_, ok := known[id]
		return ok
	})
	if len(missing) > 0 {
		return nil, false, apperr.InvalidArgument("unknown participant: %s", strings.Join(missing, ", "))
	}

	if len(participants) > 2 {
		conv, err := r.create(ctx, participants, creatorID, "", details)
		if err != nil {
			return nil, false, apperr.Internal(err)
		}
		return conv, true, nil
	}

	key := store.DirectKey(participants[0], participants[1])
	existing, err := r.store.GetConversationByDirectKey(ctx, key)
	if err == nil {
		r.logger.Debug("found existing direct conversation", "conversation_id", existing.ID)
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, apperr.Internal(err)
	}

	conv, err = r.create(ctx, participants, creatorID, key, details)
	if errors.Is(err, store.ErrDuplicateConversation) {
		// Another request created the pair between our lookup and insert.
		r.logger.Debug("direct conversation creation hit duplicate, retrying lookup", "direct_key", key)
		winner, lookupErr := r.store.GetConversationByDirectKey(ctx, key)
		if lookupErr != nil {
			r.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
			return nil, false, apperr.Internal(lookupErr)
		}
		return winner, false, nil
	}
	if err != nil {
		return nil, false, apperr.Internal(err)
	}
	return conv, true, nil
}

func (r *Resolver) create(ctx context.Context, participants []string, creatorID, directKey string, details Details) (*store.Conversation, error) {
	now := time.Now()
	conv := &store.Conversation{
		ID:             uuid.New().String(),
		ParticipantIDs: participants,
		Name:           details.Name,
		AvatarRef:      details.AvatarRef,
		CreatedBy:      creatorID,
		SeenBy:         []string{creatorID},
		DirectKey:      directKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	r.logger.Debug("conversation created", "conversation_id", conv.ID, "participants", len(participants))
	return conv, nil
}
