// ABOUTME: Membership authority deciding whether an identity belongs to a conversation
// ABOUTME: Applies the NotFound-then-Forbidden discipline to every conversation-scoped operation

package conversation

import (
	"context"
	"errors"
	"strings"

	"github.com/2389/huddle/internal/apperr"
	"github.com/2389/huddle/internal/store"
)

// ConversationReader loads a conversation by id.
type ConversationReader interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
}

// Authority answers membership questions.
type Authority struct {
	store ConversationReader
}

// NewAuthority creates an Authority backed by s.
func NewAuthority(s ConversationReader) *Authority {
	return &Authority{store: s}
}

// IsParticipant reports whether identityID is a participant of conversationID.
// A missing conversation is not an error; it simply has no participants.
func (a *Authority) IsParticipant(ctx context.Context, conversationID, identityID string) (bool, error) {
	conv, err := a.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return conv.HasParticipant(identityID), nil
}

// Require loads the conversation and checks that identityID participates in it.
// Blank id is InvalidArgument, a missing conversation NotFound, a non-member Forbidden.
func (a *Authority) Require(ctx context.Context, conversationID, identityID string) (*store.Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, apperr.InvalidArgument("conversation id is required")
	}
	conv, err := a.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !conv.HasParticipant(identityID) {
		return nil, apperr.Forbidden("You are not member of conversation!")
	}
	return conv, nil
}
