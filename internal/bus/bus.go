// ABOUTME: In-process topic-keyed pub/sub with per-subscriber predicates
// ABOUTME: Fans out message and conversation events to live subscribers without blocking publishers

package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/huddle/internal/store"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 64

// Topic names an event category.
type Topic string

const (
	TopicMessageSent         Topic = "message.sent"
	TopicConversationUpdated Topic = "conversation.updated"
)

// Event is immutable once published. Conversation is the post-mutation state
// used by predicates; Payload is the client-facing projection.
type Event struct {
	Topic          Topic
	ConversationID string
	Conversation   *store.Conversation
	Payload        any
	PublishedAt    time.Time
}

// Predicate decides whether one subscriber receives one event.
// It must be cheap and must not touch the store.
type Predicate func(*Event) bool

// Metrics receives bus counters. All methods must be safe for concurrent use.
type Metrics interface {
	Published(topic Topic)
	Delivered(topic Topic)
	Dropped(topic Topic)
	SubscriberDelta(topic Topic, delta int)
}

type nopMetrics struct{}

func (nopMetrics) Published(Topic)            {}
func (nopMetrics) Delivered(Topic)            {}
func (nopMetrics) Dropped(Topic)              {}
func (nopMetrics) SubscriberDelta(Topic, int) {}

// Subscription is one registration on the bus. C is closed on unsubscribe.
type Subscription struct {
	ID    string
	Topic Topic
	C     <-chan *Event

	ch        chan *Event
	predicate Predicate
}

// Options configures a Bus.
type Options struct {
	BufferSize int
	Metrics    Metrics
	Logger     *slog.Logger
}

// Bus is the process-wide event registry.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic]map[string]*Subscription
	closed      bool

	bufferSize int
	metrics    Metrics
	logger     *slog.Logger
}

// New creates a bus. Zero options pick defaults.
func New(opts Options) *Bus {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[Topic]map[string]*Subscription),
		bufferSize:  opts.BufferSize,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With("component", "bus"),
	}
}

// Subscribe registers predicate on topic. The subscription is removed
// automatically when ctx is cancelled. A nil predicate matches every event.
func (b *Bus) Subscribe(ctx context.Context, topic Topic, predicate Predicate) *Subscription {
	if predicate == nil {
		predicate = func(*Event) bool { return true }
	}
	ch := make(chan *Event, b.bufferSize)
	sub := &Subscription{
		ID:        uuid.New().String(),
		Topic:     topic,
		C:         ch,
		ch:        ch,
		predicate: predicate,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return sub
	}
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]*Subscription)
	}
	b.subscribers[topic][sub.ID] = sub
	b.mu.Unlock()

	b.metrics.SubscriberDelta(topic, 1)
	b.logger.Debug("subscriber added", "topic", topic, "sub_id", sub.ID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(sub)
	}()

	return sub
}

// Publish delivers event to every subscriber of its topic whose predicate matches.
// It never blocks: a subscriber with a full queue loses this event.
func (b *Bus) Publish(event *Event) {
	if event.PublishedAt.IsZero() {
		event.PublishedAt = time.Now()
	}
	b.metrics.Published(event.Topic)

	// Sends are non-blocking, so holding the read lock keeps Unsubscribe from
	// closing a channel mid-send without stalling anyone.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers[event.Topic] {
		if !b.matches(sub, event) {
			continue
		}
		select {
		case sub.ch <- event:
			b.metrics.Delivered(event.Topic)
		default:
			b.metrics.Dropped(event.Topic)
			b.logger.Debug("dropped event for slow subscriber",
				"topic", event.Topic,
				"sub_id", sub.ID,
				"conversation_id", event.ConversationID)
		}
	}
}

// matches evaluates the predicate, isolating the bus from a panicking one.
func (b *Bus) matches(sub *Subscription, event *Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.Dropped(event.Topic)
			b.logger.Error("subscription predicate panicked",
				"topic", event.Topic,
				"sub_id", sub.ID,
				"panic", r)
			ok = false
		}
	}()
	return sub.predicate(event)
}

// Unsubscribe removes sub and closes its channel. Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sub.Topic]
	if !ok {
		return
	}
	if _, exists := subs[sub.ID]; !exists {
		return
	}

	delete(subs, sub.ID)
	close(sub.ch)
	if len(subs) == 0 {
		delete(b.subscribers, sub.Topic)
	}

	b.metrics.SubscriberDelta(sub.Topic, -1)
	b.logger.Debug("subscriber removed", "topic", sub.Topic, "sub_id", sub.ID)
}

// SubscriberCount returns the number of live subscribers on topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Close closes every subscriber channel. Later subscriptions are born closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for id, sub := range subs {
			close(sub.ch)
			delete(subs, id)
			b.metrics.SubscriberDelta(topic, -1)
		}
		delete(b.subscribers, topic)
	}
	b.closed = true

	b.logger.Debug("bus closed")
}
