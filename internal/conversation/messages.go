// ABOUTME: Append-only per-conversation message log with windowed paging
// ABOUTME: Validates content and page bounds before touching storage

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/huddle/internal/apperr"
	"github.com/2389/huddle/internal/store"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
	MaxContentRunes  = 4000
)

// LogStore defines what the message log needs from storage.
type LogStore interface {
	AppendMessage(ctx context.Context, msg *store.Message) (*store.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]*store.Message, error)
	MarkSeen(ctx context.Context, conversationID, userID string) (*store.Conversation, error)
}

// Log is the message log. Callers check membership before calling it.
type Log struct {
	store  LogStore
	logger *slog.Logger
}

// NewLog creates a Log. Pass nil logger for default.
func NewLog(s LogStore, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		store:  s,
		logger: logger.With("component", "messages"),
	}
}

// ValidateContent rejects blank or oversized message content.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperr.InvalidArgument("message content must not be blank")
	}
	if n := utf8.RuneCountInString(content); n > MaxContentRunes {
		return apperr.InvalidArgument("message content is %d characters, limit is %d", n, MaxContentRunes)
	}
	return nil
}

// Append stores content as the newest message and resets the seen set to the sender.
// Returns the stored message and the conversation as it stands after the append.
func (l *Log) Append(ctx context.Context, conversationID, senderID, content string) (*store.Message, *store.Conversation, error) {
	if err := ValidateContent(content); err != nil {
		return nil, nil, err
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}
	conv, err := l.store.AppendMessage(ctx, msg)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return nil, nil, apperr.Internal(fmt.Errorf("appending message: %w", err))
	}

	l.logger.Debug("message appended",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"seq", msg.Seq)
	return msg, conv, nil
}

// Page returns limit messages starting offset messages back from the newest,
// oldest first. An offset past the end yields an empty slice.
func (l *Log) Page(ctx context.Context, conversationID string, offset, limit int) ([]*store.Message, error) {
	if offset < 0 {
		return nil, apperr.InvalidArgument("offset must not be negative")
	}
	if limit <= 0 {
		return nil, apperr.InvalidArgument("limit must be positive")
	}
	limit = min(limit, MaxPageLimit)

	msgs, err := l.store.ListMessages(ctx, conversationID, offset, limit)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("listing messages: %w", err))
	}
	return msgs, nil
}

// Latest returns the newest message, or nil for an empty conversation.
func (l *Log) Latest(ctx context.Context, conversationID string) (*store.Message, error) {
	msgs, err := l.Page(ctx, conversationID, 0, 1)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return msgs[0], nil
}

// MarkRead adds readerID to the seen set. Repeated calls are no-ops.
func (l *Log) MarkRead(ctx context.Context, conversationID, readerID string) (*store.Conversation, error) {
	conv, err := l.store.MarkSeen(ctx, conversationID, readerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("marking read: %w", err))
	}
	return conv, nil
}
