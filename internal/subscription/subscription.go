// ABOUTME: Subscription predicates and the per-connection router for live updates
// ABOUTME: Filters bus events down to what one connected identity is entitled to receive

package subscription

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/huddle/internal/apperr"
	"github.com/2389/huddle/internal/bus"
	"github.com/2389/huddle/internal/store"
)

// Kind is a client-facing subscription name.
type Kind string

const (
	KindSentMessage           Kind = "sentMessage"
	KindHasUpdateConversation Kind = "hasUpdateConversation"
)

// SentMessage matches message.sent events for one conversation.
func SentMessage(conversationID string) bus.Predicate {
	return func(e *bus.Event) bool {
		return e.ConversationID == conversationID
	}
}

// ConversationUpdated matches conversation.updated events whose conversation,
// as of the event, includes identityID.
func ConversationUpdated(identityID string) bus.Predicate {
	return func(e *bus.Event) bool {
		return e.Conversation != nil && e.Conversation.HasParticipant(identityID)
	}
}

// Membership checks participation once, at subscribe time.
type Membership interface {
	Require(ctx context.Context, conversationID, identityID string) (*store.Conversation, error)
}

// Subscriber registers predicates on the bus.
type Subscriber interface {
	Subscribe(ctx context.Context, topic bus.Topic, predicate bus.Predicate) *bus.Subscription
	Unsubscribe(sub *bus.Subscription)
}

// Args are the client-supplied subscription arguments.
type Args struct {
	ConversationID string
}

// Delivery is one event routed to a client subscription id.
type Delivery struct {
	ID      string
	Payload any
}

// Sink receives deliveries for a connection. It must not block; it reports
// false when the delivery was dropped.
type Sink func(Delivery) bool

type entry struct {
	sub    *bus.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// Router owns the subscriptions of one live connection.
type Router struct {
	identityID string
	bus        Subscriber
	membership Membership
	sink       Sink
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewRouter creates a router for identityID. Every subscription is torn down
// when ctx ends or Close is called.
func NewRouter(ctx context.Context, identityID string, b Subscriber, m Membership, sink Sink, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Router{
		identityID: identityID,
		bus:        b,
		membership: m,
		sink:       sink,
		logger:     logger.With("component", "subscription", "identity", identityID),
		ctx:        ctx,
		cancel:     cancel,
		entries:    make(map[string]*entry),
	}
	go func() {
		<-ctx.Done()
		r.Close()
	}()
	return r
}

// Add validates kind and args, checks entitlement and starts forwarding.
// ready, when non-nil, runs once the subscription is registered and before the
// first delivery, so a caller can acknowledge ahead of any event.
func (r *Router) Add(id string, kind Kind, args Args, ready func()) error {
	if strings.TrimSpace(id) == "" {
		return apperr.InvalidArgument("subscription id is required")
	}

	var topic bus.Topic
	var predicate bus.Predicate
	switch kind {
	case KindSentMessage:
		if strings.TrimSpace(args.ConversationID) == "" {
			return apperr.InvalidArgument("conversation_id is required for %s", kind)
		}
		if _, err := r.membership.Require(r.ctx, args.ConversationID, r.identityID); err != nil {
			return err
		}
		topic, predicate = bus.TopicMessageSent, SentMessage(args.ConversationID)
	case KindHasUpdateConversation:
		topic, predicate = bus.TopicConversationUpdated, ConversationUpdated(r.identityID)
	default:
		return apperr.InvalidArgument("unknown subscription topic %q", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return apperr.InvalidArgument("connection is closing")
	}
	if _, exists := r.entries[id]; exists {
		return apperr.InvalidArgument("subscription id %q already in use", id)
	}

	ctx, cancel := context.WithCancel(r.ctx)
	e := &entry{
		sub:    r.bus.Subscribe(ctx, topic, predicate),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.entries[id] = e
	// Events published from here on wait in the subscription buffer.
	if ready != nil {
		ready()
	}
	go r.forward(id, e)

	r.logger.Debug("subscription added", "sub", id, "kind", kind)
	return nil
}

func (r *Router) forward(id string, e *entry) {
	defer close(e.done)
	for ev := range e.sub.C {
		if !r.sink(Delivery{ID: id, Payload: ev.Payload}) {
			r.logger.Debug("dropped delivery for slow connection", "sub", id, "topic", ev.Topic)
		}
	}
}

// Remove stops subscription id. An id that is not active is InvalidArgument.
func (r *Router) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if !ok {
		return apperr.InvalidArgument("no active subscription %q", id)
	}
	r.stop(e)
	r.logger.Debug("subscription removed", "sub", id)
	return nil
}

func (r *Router) stop(e *entry) {
	e.cancel()
	r.bus.Unsubscribe(e.sub)
	<-e.done
}

// Len returns the number of active subscriptions.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close removes every subscription. Safe to call more than once.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	r.cancel()
	for _, e := range entries {
		r.stop(e)
	}
	r.logger.Debug("router closed", "subscriptions", len(entries))
}
