// ABOUTME: Contract tests for the SQLite schema the store creates on open
// ABOUTME: Pins tables, columns and the constraints that ordering and pair uniqueness rely on

package contract

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/huddle/internal/store"
)

// expectedSchema is the exact column set of every table. Adding a column means
// updating this map in the same change.
var expectedSchema = map[string][]string{
	"users":                     {"id", "display_name", "email", "avatar_ref", "created_at"},
	"conversations":             {"id", "name", "avatar_ref", "created_by", "direct_key", "created_at", "updated_at"},
	"conversation_participants": {"conversation_id", "user_id"},
	"conversation_seen":         {"conversation_id", "user_id"},
	"messages":                  {"id", "conversation_id", "sender_id", "content", "seq", "created_at"},
}

// openSchema opens a store at a temp path and returns a second handle on the same file.
func openSchema(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contract.db")
	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
		s.Close()
	})
	return db
}

func queryStrings(t *testing.T, db *sql.DB, query string, args ...any) []string {
	t.Helper()
	rows, err := db.QueryContext(t.Context(), query, args...)
	require.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		out = append(out, s)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestSchema_Tables(t *testing.T) {
	db := openSchema(t)

	tables := queryStrings(t, db, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	want := make([]string, 0, len(expectedSchema))
	for table := range expectedSchema {
		want = append(want, table)
	}
	assert.ElementsMatch(t, want, tables)

	for table, columns := range expectedSchema {
		t.Run(table, func(t *testing.T) {
			assert.ElementsMatch(t, columns, queryStrings(t, db, `SELECT name FROM pragma_table_info(?)`, table))
		})
	}
}

func TestSchema_Indexes(t *testing.T) {
	db := openSchema(t)

	indexes := queryStrings(t, db, `SELECT name FROM sqlite_master WHERE type = 'index' AND name NOT LIKE 'sqlite_%'`)
	assert.Subset(t, indexes, []string{
		"idx_users_email",
		"idx_conversations_direct_key",
		"idx_conversations_updated",
		"idx_participants_user",
	})

	// One direct conversation per pair, groups unconstrained.
	ddl := queryStrings(t, db, `SELECT sql FROM sqlite_master WHERE name = 'idx_conversations_direct_key'`)
	require.Len(t, ddl, 1)
	assert.Contains(t, ddl[0], "UNIQUE")
	assert.Contains(t, ddl[0], "WHERE direct_key IS NOT NULL")
}

func TestSchema_MessageSeqIsUniquePerConversation(t *testing.T) {
	db := openSchema(t)

	var unique []string
	for _, idx := range queryStrings(t, db, `SELECT name FROM pragma_index_list('messages') WHERE "unique" = 1`) {
		cols := queryStrings(t, db, `SELECT name FROM pragma_index_info(?)`, idx)
		if len(cols) == 2 && cols[0] == "conversation_id" && cols[1] == "seq" {
			unique = append(unique, idx)
		}
	}
	assert.Len(t, unique, 1, "messages needs UNIQUE (conversation_id, seq)")
}
