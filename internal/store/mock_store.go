// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[string]*User
	conversations map[string]*Conversation
	directIndex   map[string]string     // direct key -> conversation ID
	messages      map[string][]*Message // keyed by conversation ID, ascending seq
	now           func() time.Time

	// Err, when set, is returned by every call. Lets tests exercise fault paths.
	Err error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		conversations: make(map[string]*Conversation),
		directIndex:   make(map[string]string),
		messages:      make(map[string][]*Message),
		now:           time.Now,
	}
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if _, ok := m.users[user.ID]; ok {
		return ErrDuplicateUser
	}
	if user.Email != "" {
		for _, u := range m.users {
			if u.Email == user.Email {
				return ErrDuplicateUser
			}
		}
	}
	u := *user
	m.users[u.ID] = &u
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// GetUsers retrieves all known users among ids.
func (m *MockStore) GetUsers(ctx context.Context, ids []string) (map[string]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	result := make(map[string]*User, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			cp := *u
			result[id] = &cp
		}
	}
	return result, nil
}

// SearchUsers matches email or display name case-insensitively.
func (m *MockStore) SearchUsers(ctx context.Context, term, excludeID string, limit int) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	needle := strings.ToLower(term)
	result := []*User{}
	for _, u := range m.users {
		if u.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Email), needle) || strings.Contains(strings.ToLower(u.DisplayName), needle) {
			cp := *u
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DisplayName != result[j].DisplayName {
			return result[i].DisplayName < result[j].DisplayName
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// UpdateUserName sets a user's display name.
func (m *MockStore) UpdateUserName(ctx context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.DisplayName = name
	return nil
}

// CreateConversation stores a new conversation, enforcing direct key uniqueness.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if conv.DirectKey != "" {
		if _, ok := m.directIndex[conv.DirectKey]; ok {
			return ErrDuplicateConversation
		}
		m.directIndex[conv.DirectKey] = conv.ID
	}
	c := conv.Clone()
	slices.Sort(c.ParticipantIDs)
	slices.Sort(c.SeenBy)
	m.conversations[c.ID] = c
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// GetConversationByDirectKey retrieves the direct conversation for a pair key.
func (m *MockStore) GetConversationByDirectKey(ctx context.Context, key string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	id, ok := m.directIndex[key]
	if !ok {
		return nil, ErrNotFound
	}
	return m.conversations[id].Clone(), nil
}

// ListConversationsWithMessages lists userID's non-empty conversations, newest first.
func (m *MockStore) ListConversationsWithMessages(ctx context.Context, userID string) ([]*ConversationListing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	result := []*ConversationListing{}
	for id, c := range m.conversations {
		msgs := m.messages[id]
		if len(msgs) == 0 || !c.HasParticipant(userID) {
			continue
		}
		latest := *msgs[len(msgs)-1]
		result = append(result, &ConversationListing{Conversation: c.Clone(), LatestMessage: &latest})
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].Conversation, result[j].Conversation
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
	return result, nil
}

// MarkSeen adds userID to the seen set.
func (m *MockStore) MarkSeen(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	c, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	if i, found := slices.BinarySearch(c.SeenBy, userID); !found {
		c.SeenBy = slices.Insert(c.SeenBy, i, userID)
	}
	return c.Clone(), nil
}

// AppendMessage appends a message, assigns Seq and CreatedAt and resets the seen set.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return nil, ErrNotFound
	}

	msg.Seq = int64(len(m.messages[msg.ConversationID]) + 1)
	msg.CreatedAt = nextMessageTime(m.now(), c.UpdatedAt)
	stored := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &stored)

	c.UpdatedAt = msg.CreatedAt
	c.SeenBy = []string{msg.SenderID}
	return c.Clone(), nil
}

// ListMessages returns the offset/limit window counted back from the tail, ascending.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	msgs := m.messages[conversationID]
	end := len(msgs) - offset
	if end <= 0 {
		return []*Message{}, nil
	}
	start := max(end-limit, 0)

	result := make([]*Message, 0, end-start)
	for _, msg := range msgs[start:end] {
		cp := *msg
		result = append(result, &cp)
	}
	return result, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
