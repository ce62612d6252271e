// Package store provides persistent storage for huddle using SQLite.
//
// # Architecture
//
// Store is the single data-access contract consumed by the conversation core.
// SQLiteStore implements it on modernc.org/sqlite; MockStore implements it in
// memory for tests.
//
// # Data Models
//
//   - User: a persisted identity (display name, email, avatar)
//   - Conversation: participants, seen set and an optional direct pair key
//   - Message: an immutable log entry with a per-conversation Seq
//   - ConversationListing: a conversation joined with its latest message
//
// # Concurrency
//
// SQLiteStore runs on a single connection in WAL mode, so every write is
// serialized. AppendMessage allocates Seq, inserts the message, bumps
// updated_at and resets the seen set inside one transaction, which keeps
// concurrent senders from colliding.
//
// Direct conversations carry DirectKey ("<low>:<high>"). A partial unique
// index on direct_key makes a second insert for the same pair fail with
// ErrDuplicateConversation; callers re-read the winner.
//
// # Error Handling
//
//   - ErrNotFound: the requested row does not exist
//   - ErrDuplicateConversation: a direct conversation for the pair exists
//   - ErrDuplicateUser: the user id or email is taken
//
// Everything else is wrapped with context via fmt.Errorf.
package store
