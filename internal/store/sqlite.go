// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists users, conversations and message logs with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithTimeout(path, 5*time.Second)
}

// NewSQLiteStoreWithTimeout is NewSQLiteStore with an explicit busy timeout.
func NewSQLiteStoreWithTimeout(path string, busyTimeout time.Duration) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serializes every write, including message appends.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			avatar_ref TEXT,
			created_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email
			ON users(email) WHERE email != '';

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			name TEXT,
			avatar_ref TEXT,
			created_by TEXT NOT NULL,
			direct_key TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (created_by) REFERENCES users(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_direct_key
			ON conversations(direct_key) WHERE direct_key IS NOT NULL;

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at);

		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (conversation_id, user_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			FOREIGN KEY (user_id) REFERENCES users(id)
		);

		CREATE INDEX IF NOT EXISTS idx_participants_user
			ON conversation_participants(user_id);

		CREATE TABLE IF NOT EXISTS conversation_seen (
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (conversation_id, user_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			content TEXT NOT NULL,
			seq INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE (conversation_id, seq),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by hand (sqlite3 shell, fixtures) tend to use plain RFC3339.
		return time.Parse(time.RFC3339, s)
	}
	return t, nil
}

// CreateUser inserts a user. Returns ErrDuplicateUser if the id or email is taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, avatar_ref, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.DisplayName, user.Email, nullString(user.AvatarRef), formatTime(user.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	s.logger.Debug("created user", "id", user.ID)
	return nil
}

const userColumns = `id, display_name, email, avatar_ref, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var avatar sql.NullString
	var createdAt string
	if err := row.Scan(&u.ID, &u.DisplayName, &u.Email, &avatar, &createdAt); err != nil {
		return nil, err
	}
	u.AvatarRef = avatar.String
	var err error
	u.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing user created_at: %w", err)
	}
	return &u, nil
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// GetUsers loads every known user among ids in one query. Unknown ids are absent from the map.
func (s *SQLiteStore) GetUsers(ctx context.Context, ids []string) (map[string]*User, error) {
	result := make(map[string]*User, len(ids))
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return result, nil
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, query, lo.ToAnySlice(ids)...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		result[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return result, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// escapeLike escapes LIKE wildcards so the term matches literally.
func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}

// SearchUsers returns users whose email or display name contains term
// (ASCII case-insensitive), excluding excludeID, ordered by display name.
func (s *SQLiteStore) SearchUsers(ctx context.Context, term, excludeID string, limit int) ([]*User, error) {
	pattern := "%" + escapeLike(term) + "%"
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id != ?
		  AND (email LIKE ? ESCAPE '\' OR display_name LIKE ? ESCAPE '\')
		ORDER BY display_name ASC, id ASC
	`
	args := []any{excludeID, pattern, pattern}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return users, nil
}

// UpdateUserName sets a user's display name.
func (s *SQLiteStore) UpdateUserName(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET display_name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("updating user name: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateConversation inserts a conversation together with its participant and seen sets.
// A second direct conversation for the same pair fails with ErrDuplicateConversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, name, avatar_ref, created_by, direct_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		conv.ID,
		nullString(conv.Name),
		nullString(conv.AvatarRef),
		conv.CreatedBy,
		nullString(conv.DirectKey),
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		if conv.DirectKey != "" && isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for _, uid := range conv.ParticipantIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id) VALUES (?, ?)`,
			conv.ID, uid,
		); err != nil {
			return fmt.Errorf("inserting participant %s: %w", uid, err)
		}
	}
	for _, uid := range conv.SeenBy {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_seen (conversation_id, user_id) VALUES (?, ?)`,
			conv.ID, uid,
		); err != nil {
			return fmt.Errorf("inserting seen %s: %w", uid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "participants", len(conv.ParticipantIDs))
	return nil
}

const conversationColumns = `id, name, avatar_ref, created_by, direct_key, created_at, updated_at`

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var name, avatar, directKey sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &name, &avatar, &c.CreatedBy, &directKey, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Name = name.String
	c.AvatarRef = avatar.String
	c.DirectKey = directKey.String

	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing conversation created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing conversation updated_at: %w", err)
	}
	return &c, nil
}

// loadMembers fills ParticipantIDs and SeenBy for conv.
func loadMembers(ctx context.Context, q querier, conv *Conversation) error {
	var err error
	conv.ParticipantIDs, err = selectIDs(ctx, q,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = ? ORDER BY user_id`, conv.ID)
	if err != nil {
		return fmt.Errorf("loading participants: %w", err)
	}
	conv.SeenBy, err = selectIDs(ctx, q,
		`SELECT user_id FROM conversation_seen WHERE conversation_id = ? ORDER BY user_id`, conv.ID)
	if err != nil {
		return fmt.Errorf("loading seen set: %w", err)
	}
	return nil
}

func selectIDs(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func getConversation(ctx context.Context, q querier, where string, arg any) (*Conversation, error) {
	row := q.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE `+where, arg)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	if err := loadMembers(ctx, q, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation retrieves a conversation by id.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return getConversation(ctx, s.db, `id = ?`, id)
}

// GetConversationByDirectKey retrieves the direct conversation for a pair key.
func (s *SQLiteStore) GetConversationByDirectKey(ctx context.Context, key string) (*Conversation, error) {
	return getConversation(ctx, s.db, `direct_key = ?`, key)
}

// ListConversationsWithMessages returns the conversations userID participates in that
// hold at least one message, newest activity first, each with its latest message.
func (s *SQLiteStore) ListConversationsWithMessages(ctx context.Context, userID string) ([]*ConversationListing, error) {
	query := `
		SELECT c.id, c.name, c.avatar_ref, c.created_by, c.direct_key, c.created_at, c.updated_at,
		       m.id, m.sender_id, m.content, m.seq, m.created_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id AND p.user_id = ?
		JOIN messages m ON m.conversation_id = c.id
		 AND m.seq = (SELECT MAX(seq) FROM messages WHERE conversation_id = c.id)
		ORDER BY c.updated_at DESC, c.id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}

	listings := []*ConversationListing{}
	for rows.Next() {
		var c Conversation
		var m Message
		var name, avatar, directKey sql.NullString
		var cCreated, cUpdated, mCreated string

		if err := rows.Scan(
			&c.ID, &name, &avatar, &c.CreatedBy, &directKey, &cCreated, &cUpdated,
			&m.ID, &m.SenderID, &m.Content, &m.Seq, &mCreated,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		c.Name, c.AvatarRef, c.DirectKey = name.String, avatar.String, directKey.String
		m.ConversationID = c.ID

		c.CreatedAt, err = parseTime(cCreated)
		if err == nil {
			c.UpdatedAt, err = parseTime(cUpdated)
		}
		if err == nil {
			m.CreatedAt, err = parseTime(mCreated)
		}
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("parsing listing timestamp: %w", err)
		}
		listings = append(listings, &ConversationListing{Conversation: &c, LatestMessage: &m})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	// Release the single connection before issuing member queries.
	rows.Close()

	for _, l := range listings {
		if err := loadMembers(ctx, s.db, l.Conversation); err != nil {
			return nil, err
		}
	}
	return listings, nil
}

// MarkSeen adds userID to the conversation's seen set and returns the updated conversation.
func (s *SQLiteStore) MarkSeen(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := getConversation(ctx, tx, `id = ?`, conversationID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversation_seen (conversation_id, user_id) VALUES (?, ?)`,
		conversationID, userID,
	); err != nil {
		return nil, fmt.Errorf("marking seen: %w", err)
	}
	conv, err := getConversation(ctx, tx, `id = ?`, conversationID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing seen: %w", err)
	}
	return conv, nil
}

// AppendMessage appends msg to its conversation's log in one transaction: it assigns
// the next Seq and CreatedAt, bumps updated_at and resets the seen set to the sender.
// msg.Seq and msg.CreatedAt are set on success. Returns the updated conversation.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) (*Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	current, err := getConversation(ctx, tx, `id = ?`, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	// updated_at is the latest message time, or creation time before the first send.
	msg.CreatedAt = nextMessageTime(s.now(), current.UpdatedAt)

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`, msg.ConversationID,
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("allocating seq: %w", err)
	}

	created := formatTime(msg.CreatedAt)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, seq, created); err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, created, msg.ConversationID,
	); err != nil {
		return nil, fmt.Errorf("touching conversation: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_seen WHERE conversation_id = ?`, msg.ConversationID,
	); err != nil {
		return nil, fmt.Errorf("resetting seen set: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_seen (conversation_id, user_id) VALUES (?, ?)`,
		msg.ConversationID, msg.SenderID,
	); err != nil {
		return nil, fmt.Errorf("seeding seen set: %w", err)
	}

	conv, err := getConversation(ctx, tx, `id = ?`, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	msg.Seq = seq
	s.logger.Debug("appended message", "conversation", msg.ConversationID, "seq", seq)
	return conv, nil
}

// ListMessages returns the window of limit messages that starts offset messages back
// from the tail, in ascending order. Past the end it returns an empty slice.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]*Message, error) {
	// Select the window newest-first, then flip it to chronological order.
	query := `
		SELECT id, conversation_id, sender_id, content, seq, created_at
		FROM (
			SELECT id, conversation_id, sender_id, content, seq, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY seq DESC
			LIMIT ? OFFSET ?
		)
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		var msg Message
		var createdAtStr string

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.Seq, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}
