// ABOUTME: Read-time shaping of stored conversations and messages into API views
// ABOUTME: Enriches participants in one batched lookup and optionally renders markdown

package conversation

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"github.com/yuin/goldmark"

	"github.com/2389/huddle/internal/store"
)

// UserLoader batch-loads users by id.
type UserLoader interface {
	GetUsers(ctx context.Context, ids []string) (map[string]*store.User, error)
}

// Participant is a user as shown inside a conversation.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// ParticipantFromUser projects a stored user.
func ParticipantFromUser(u *store.User) Participant {
	return Participant{ID: u.ID, DisplayName: u.DisplayName, AvatarRef: u.AvatarRef}
}

// MessageView is a message as returned to callers.
type MessageView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	ContentHTML    string    `json:"contentHtml,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Summary is one row of a conversation list.
type Summary struct {
	ID            string        `json:"id"`
	Participants  []Participant `json:"participants"`
	LatestMessage *MessageView  `json:"latestMessage"`
	Name          string        `json:"name,omitempty"`
	AvatarRef     string        `json:"avatarRef,omitempty"`
	SeenBy        []string      `json:"seenBy"`
	CreatedBy     string        `json:"createdBy"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Detail is a single conversation fetched by id.
type Detail struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	Name         string        `json:"name,omitempty"`
	AvatarRef    string        `json:"avatarRef,omitempty"`
	SeenBy       []string      `json:"seenBy"`
	CreatedBy    string        `json:"createdBy"`
}

// Created is the result of createConversation.
type Created struct {
	ID             string        `json:"id"`
	ParticipantIDs []string      `json:"participantIds"`
	Participants   []Participant `json:"participants"`
	Name           string        `json:"name,omitempty"`
	AvatarRef      string        `json:"avatarRef,omitempty"`
	CreatedBy      string        `json:"createdBy"`
}

// Projector builds views.
type Projector struct {
	users          UserLoader
	renderMarkdown bool
	md             goldmark.Markdown
	logger         *slog.Logger
}

// NewProjector creates a Projector. When renderMarkdown is set, MessageView.ContentHTML
// carries goldmark output; raw HTML in the source is omitted by the default renderer.
func NewProjector(users UserLoader, renderMarkdown bool, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		users:          users,
		renderMarkdown: renderMarkdown,
		md:             goldmark.New(),
		logger:         logger.With("component", "projection"),
	}
}

// Message projects one stored message.
func (p *Projector) Message(m *store.Message) MessageView {
	view := MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
	if p.renderMarkdown {
		var buf bytes.Buffer
		if err := p.md.Convert([]byte(m.Content), &buf); err != nil {
			p.logger.Warn("failed to render markdown", "message_id", m.ID, "error", err)
		} else {
			view.ContentHTML = buf.String()
		}
	}
	return view
}

// Messages projects a page of messages, preserving order.
func (p *Projector) Messages(msgs []*store.Message) []MessageView {
	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, p.Message(m))
	}
	return views
}

// loadUsers fetches every user referenced by convs in one store call.
func (p *Projector) loadUsers(ctx context.Context, convs ...*store.Conversation) (map[string]*store.User, error) {
	ids := lo.Uniq(lo.FlatMap(convs, func(c *store.Conversation, _ int) []string { return c.ParticipantIDs }))
	users, err := p.users.GetUsers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading participants: %w", err)
	}
	return users, nil
}

// participants keeps the conversation's order. Unknown users keep their id only.
func participants(ids []string, users map[string]*store.User) []Participant {
	return lo.Map(ids, func(id string, _ int) Participant {
		if u, ok := users[id]; ok {
			return ParticipantFromUser(u)
		}
		return Participant{ID: id}
	})
}

func (p *Projector) summary(conv *store.Conversation, latest *store.Message, users map[string]*store.User) *Summary {
	s := &Summary{
		ID:           conv.ID,
		Participants: participants(conv.ParticipantIDs, users),
		Name:         conv.Name,
		AvatarRef:    conv.AvatarRef,
		SeenBy:       lo.Ternary(conv.SeenBy == nil, []string{}, conv.SeenBy),
		CreatedBy:    conv.CreatedBy,
		UpdatedAt:    conv.UpdatedAt,
	}
	if latest != nil {
		view := p.Message(latest)
		s.LatestMessage = &view
	}
	return s
}

// Summary projects one conversation with its latest message.
func (p *Projector) Summary(ctx context.Context, conv *store.Conversation, latest *store.Message) (*Summary, error) {
	users, err := p.loadUsers(ctx, conv)
	if err != nil {
		return nil, err
	}
	return p.summary(conv, latest, users), nil
}

// Summaries projects a conversation list with a single user lookup.
func (p *Projector) Summaries(ctx context.Context, listings []*store.ConversationListing) ([]*Summary, error) {
	convs := lo.Map(listings, func(l *store.ConversationListing, _ int) *store.Conversation { return l.Conversation })
	users, err := p.loadUsers(ctx, convs...)
	if err != nil {
		return nil, err
	}
	return lo.Map(listings, func(l *store.ConversationListing, _ int) *Summary {
		return p.summary(l.Conversation, l.LatestMessage, users)
	}), nil
}

// Detail projects a conversation fetched by id.
func (p *Projector) Detail(ctx context.Context, conv *store.Conversation) (*Detail, error) {
	users, err := p.loadUsers(ctx, conv)
	if err != nil {
		return nil, err
	}
	return &Detail{
		ID:           conv.ID,
		Participants: participants(conv.ParticipantIDs, users),
		Name:         conv.Name,
		AvatarRef:    conv.AvatarRef,
		SeenBy:       lo.Ternary(conv.SeenBy == nil, []string{}, conv.SeenBy),
		CreatedBy:    conv.CreatedBy,
	}, nil
}

// Created projects a freshly resolved conversation.
func (p *Projector) Created(ctx context.Context, conv *store.Conversation) (*Created, error) {
	users, err := p.loadUsers(ctx, conv)
	if err != nil {
		return nil, err
	}
	return &Created{
		ID:             conv.ID,
		ParticipantIDs: conv.ParticipantIDs,
		Participants:   participants(conv.ParticipantIDs, users),
		Name:           conv.Name,
		AvatarRef:      conv.AvatarRef,
		CreatedBy:      conv.CreatedBy,
	}, nil
}
