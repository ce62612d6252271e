// Package conversation is the huddle messaging core.
//
// # Overview
//
// Handlers call Service, which runs every conversation-scoped operation in
// the same order: resolve the caller Identity from the context, check
// membership through the Authority, mutate or query through the Resolver or
// Log, publish bus events after a successful mutation, and shape the result
// with the Projector.
//
// # Membership
//
// Authority.Require is the single gate for operations addressed by id:
//
//   - blank id: InvalidArgument
//   - no such conversation: NotFound
//   - caller not a participant: Forbidden
//
// # Resolution
//
// Two-party conversations are unique per unordered pair. The store enforces
// that with a unique direct key; when a concurrent creator wins the insert,
// the resolver re-reads and returns the winner. Three or more participants
// always get a new conversation.
//
// # Events
//
// Send publishes message.sent and then conversation.updated (SENT_MESSAGE).
// MarkRead publishes conversation.updated (MARK_READ). Creating a
// conversation publishes nothing.
package conversation
