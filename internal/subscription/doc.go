// Package subscription turns bus events into per-connection live updates.
//
// A Router belongs to one connection and one identity. Add registers a
// predicate on the bus and forwards matching payloads to the connection's
// Sink, tagged with the client's subscription id:
//
//   - sentMessage(conversationId): membership is checked once when
//     subscribing; afterwards only events for that conversation pass.
//   - hasUpdateConversation(): passes conversation.updated events whose
//     conversation includes the identity at the time of the event.
//
// Predicates read only the event and their bound arguments. Close (or
// cancelling the router's context) removes every bus subscription.
package subscription
