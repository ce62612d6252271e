// ABOUTME: Store interface and data types for huddle persistence
// ABOUTME: Defines User, Conversation, Message and the data-access contract used by the core

package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a direct conversation for the same pair already exists
var ErrDuplicateConversation = errors.New("direct conversation already exists")

// ErrDuplicateUser is returned when a user id or email is already taken
var ErrDuplicateUser = errors.New("user already exists")

// User is a persisted identity. Credentials live outside this store.
type User struct {
	ID          string
	DisplayName string
	Email       string
	AvatarRef   string
	CreatedAt   time.Time
}

// Conversation is a set of participants sharing one message log.
// ParticipantIDs and SeenBy are kept sorted.
type Conversation struct {
	ID             string
	ParticipantIDs []string
	Name           string
	AvatarRef      string
	CreatedBy      string
	SeenBy         []string
	DirectKey      string // "<low>:<high>" for two-party conversations, empty for groups
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasParticipant reports whether id is one of the conversation's participants.
func (c *Conversation) HasParticipant(id string) bool {
	_, ok := slices.BinarySearch(c.ParticipantIDs, id)
	return ok
}

// Clone returns a deep copy so callers can hand conversations across goroutines.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.ParticipantIDs = slices.Clone(c.ParticipantIDs)
	out.SeenBy = slices.Clone(c.SeenBy)
	return &out
}

// Message is one immutable entry of a conversation's log.
// Seq and CreatedAt are assigned by the store on append and both increase strictly
// per conversation.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Seq            int64
	CreatedAt      time.Time
}

// ConversationListing pairs a conversation with its latest message.
type ConversationListing struct {
	Conversation  *Conversation
	LatestMessage *Message
}

// DirectKey returns the canonical unordered pair key for two user ids.
// The lower id is length-prefixed so ids containing the separator cannot collide.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%s:%s", len(a), a, b)
}

// nextMessageTime returns now, or the instant just after last when the clock
// has not moved past it.
func nextMessageTime(now, last time.Time) time.Time {
	now = now.UTC()
	if !now.After(last) {
		return last.UTC().Add(time.Nanosecond)
	}
	return now
}

// Store is the data-access contract of the conversation core.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUsers(ctx context.Context, ids []string) (map[string]*User, error)
	SearchUsers(ctx context.Context, term, excludeID string, limit int) ([]*User, error)
	UpdateUserName(ctx context.Context, id, name string) error

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByDirectKey(ctx context.Context, key string) (*Conversation, error)
	ListConversationsWithMessages(ctx context.Context, userID string) ([]*ConversationListing, error)
	MarkSeen(ctx context.Context, conversationID, userID string) (*Conversation, error)

	// Messages
	AppendMessage(ctx context.Context, msg *Message) (*Conversation, error)
	ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]*Message, error)

	Close() error
}
