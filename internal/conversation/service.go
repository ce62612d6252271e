// ABOUTME: Service is the conversation core behind every API and subscription operation
// ABOUTME: Gates on identity and membership, mutates through the log, then publishes bus events

package conversation

import (
	"context"
	"log/slog"

	"github.com/2389/huddle/internal/apperr"
	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/bus"
	"github.com/2389/huddle/internal/store"
)

// Action names the mutation behind a conversation.updated event.
type Action string

const (
	ActionSentMessage Action = "SENT_MESSAGE"
	ActionMarkRead    Action = "MARK_READ"
)

// SentMessagePayload is delivered to sentMessage subscribers.
type SentMessagePayload struct {
	ConversationID string      `json:"conversationId"`
	Message        MessageView `json:"message"`
}

// ConversationUpdatePayload is delivered to hasUpdateConversation subscribers.
type ConversationUpdatePayload struct {
	Conversation *Summary `json:"conversation"`
	ActionUpdate Action   `json:"actionUpdate"`
}

// Store is everything the conversation core needs from storage.
type Store interface {
	ConversationReader
	ResolverStore
	LogStore
	ListConversationsWithMessages(ctx context.Context, userID string) ([]*store.ConversationListing, error)
}

// Publisher accepts bus events.
type Publisher interface {
	Publish(event *bus.Event)
}

// Service wires the membership authority, resolver, message log and projection.
type Service struct {
	store     Store
	authority *Authority
	resolver  *Resolver
	log       *Log
	projector *Projector
	publisher Publisher
	logger    *slog.Logger
}

// Options configures a Service.
type Options struct {
	RenderMarkdown bool
	Logger         *slog.Logger
}

// New creates a Service.
func New(s Store, publisher Publisher, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     s,
		authority: NewAuthority(s),
		resolver:  NewResolver(s, logger),
		log:       NewLog(s, logger),
		projector: NewProjector(s, opts.RenderMarkdown, logger),
		publisher: publisher,
		logger:    logger.With("component", "conversation"),
	}
}

// Authority exposes the membership authority for subscription checks.
func (s *Service) Authority() *Authority {
	return s.authority
}

func identityFrom(ctx context.Context) (*auth.Identity, error) {
	id := auth.FromContext(ctx)
	if id == nil {
		return nil, apperr.Unauthenticated("authentication required")
	}
	return id, nil
}

// Conversations lists the caller's conversations that hold at least one message,
// most recently updated first.
func (s *Service) Conversations(ctx context.Context) ([]*Summary, error) {
	id, err := identityFrom(ctx)
	if err != nil {
		return nil, err
	}
	listings, err := s.store.ListConversationsWithMessages(ctx, id.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	summaries, err := s.projector.Summaries(ctx, listings)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return summaries, nil
}

// Messages returns one page of a conversation's log, oldest first.
func (s *Service) Messages(ctx context.Context, conversationID string, offset, limit int) ([]MessageView, error) {
	id, err := identityFrom(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.authority.Require(ctx, conversationID, id.ID); err != nil {
		return nil, err
	}
	msgs, err := s.log.Page(ctx, conversationID, offset, limit)
	if err != nil {
		return nil, err
	}
	return s.projector.Messages(msgs), nil
}

// Conversation retrieves one conversation the caller participates in.
func (s *Service) Conversation(ctx context.Context, conversationID string) (*Detail, error) {
	id, err := identityFrom(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := s.authority.Require(ctx, conversationID, id.ID)
	if err != nil {
		return nil, err
	}
	detail, err := s.projector.Detail(ctx, conv)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return detail, nil
}

// Create resolves or creates the conversation between the caller and participantIDs.
// No event is published; the conversation surfaces in lists with its first message.
func (s *Service) Create(ctx context.Context, participantIDs []string, details Details) (*Created, bool, error) {
	id, err := identityFrom(ctx)
	if err != nil {
		return nil, false, err
	}
	conv, created, err := s.resolver.ResolveOrCreate(ctx, participantIDs, id.ID, details)
	if err != nil {
		return nil, false, err
	}
	view, err := s.projector.Created(ctx, conv)
	if err != nil {
		return nil, false, apperr.Internal(err)
	}
	return view, created, nil
}

// Send appends content to the conversation and publishes message.sent followed
// by conversation.updated.
func (s *Service) Send(ctx context.Context, conversationID, content string) (*MessageView, error) {
	id, err := identityFrom(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.authority.Require(ctx, conversationID, id.ID); err != nil {
		return nil, err
	}
	msg, conv, err := s.log.Append(ctx, conversationID, id.ID, content)
	if err != nil {
		return nil, err
	}

	view := s.projector.Message(msg)
	s.publisher.Publish(&bus.Event{
		Topic:          bus.TopicMessageSent,
		ConversationID: conversationID,
		Conversation:   conv,
		Payload:        SentMessagePayload{ConversationID: conversationID, Message: view},
	})
	s.publishUpdate(ctx, conv, msg, ActionSentMessage)

	return &view, nil
}

// MarkRead records that the caller has seen the conversation's current state.
func (s *Service) MarkRead(ctx context.Context, conversationID string) error {
	id, err := identityFrom(ctx)
	if err != nil {
		return err
	}
	if _, err := s.authority.Require(ctx, conversationID, id.ID); err != nil {
		return err
	}
	conv, err := s.log.MarkRead(ctx, conversationID, id.ID)
	if err != nil {
		return err
	}
	latest, err := s.log.Latest(ctx, conversationID)
	if err != nil {
		// The read is stored; only the notification is lost.
		s.logger.Error("loading latest message for update event", "conversation_id", conversationID, "error", err)
		return nil
	}
	s.publishUpdate(ctx, conv, latest, ActionMarkRead)
	return nil
}

// publishUpdate never fails the caller: the mutation has already been committed.
func (s *Service) publishUpdate(ctx context.Context, conv *store.Conversation, latest *store.Message, action Action) {
	summary, err := s.projector.Summary(ctx, conv, latest)
	if err != nil {
		s.logger.Error("projecting conversation update", "conversation_id", conv.ID, "error", err)
		return
	}
	s.publisher.Publish(&bus.Event{
		Topic:          bus.TopicConversationUpdated,
		ConversationID: conv.ID,
		Conversation:   conv,
		Payload:        ConversationUpdatePayload{Conversation: summary, ActionUpdate: action},
	})
}
