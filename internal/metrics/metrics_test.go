package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/huddle/internal/bus"
)

func TestBusCounters(t *testing.T) {
	m := New()

	m.Published(bus.TopicMessageSent)
	m.Published(bus.TopicMessageSent)
	m.Delivered(bus.TopicMessageSent)
	m.Dropped(bus.TopicConversationUpdated)
	m.SubscriberDelta(bus.TopicMessageSent, 2)
	m.SubscriberDelta(bus.TopicMessageSent, -1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.busPublished.WithLabelValues("message.sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.busDelivered.WithLabelValues("message.sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.busDropped.WithLabelValues("conversation.updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.busSubscribers.WithLabelValues("message.sent")))
}

func TestBusWiring(t *testing.T) {
	m := New()
	b := bus.New(bus.Options{Metrics: m})
	defer b.Close()

	sub := b.Subscribe(t.Context(), bus.TopicMessageSent, nil)
	b.Publish(&bus.Event{Topic: bus.TopicMessageSent, ConversationID: "c1"})
	<-sub.C

	assert.Equal(t, 1.0, testutil.ToFloat64(m.busDelivered.WithLabelValues("message.sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.busSubscribers.WithLabelValues("message.sent")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveRequest("sendMessage", "OK")
	m.ConnectionOpened()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `huddle_api_requests_total{code="OK",operation="sendMessage"} 1`)
	assert.Contains(t, body, "huddle_ws_connections 1")
	assert.Contains(t, body, "go_goroutines")
}
