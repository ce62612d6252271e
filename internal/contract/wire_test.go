// ABOUTME: Contract tests for the JSON wire surface to detect breaking API changes.
// ABOUTME: Validates field names of every payload clients decode over HTTP and WebSocket.

package contract

import (
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/huddle/internal/apperr"
	"github.com/2389/huddle/internal/conversation"
	"github.com/2389/huddle/internal/users"
)

// expectedPayloads defines the contract for JSON field names.
// If a field is removed or renamed, these tests will fail,
// catching breaking changes before clients do.
var expectedPayloads = map[string]struct {
	value  any
	fields []string
}{
	"Participant": {
		value:  conversation.Participant{},
		fields: []string{"id", "displayName", "avatarRef"},
	},
	"MessageView": {
		value:  conversation.MessageView{},
		fields: []string{"id", "conversationId", "senderId", "content", "contentHtml", "createdAt"},
	},
	"Summary": {
		value: conversation.Summary{},
		fields: []string{
			"id", "participants", "latestMessage", "name",
			"avatarRef", "seenBy", "createdBy", "updatedAt",
		},
	},
	"Detail": {
		value:  conversation.Detail{},
		fields: []string{"id", "participants", "name", "avatarRef", "seenBy", "createdBy"},
	},
	"Created": {
		value:  conversation.Created{},
		fields: []string{"id", "participantIds", "participants", "name", "avatarRef", "createdBy"},
	},
	"SentMessagePayload": {
		value:  conversation.SentMessagePayload{},
		fields: []string{"conversationId", "message"},
	},
	"ConversationUpdatePayload": {
		value:  conversation.ConversationUpdatePayload{},
		fields: []string{"conversation", "actionUpdate"},
	},
	"RenameResult": {
		value:  users.RenameResult{},
		fields: []string{"success", "message"},
	},
	"ErrorPayload": {
		value:  apperr.Payload{},
		fields: []string{"code", "message"},
	},
}

// jsonFields returns the JSON names of a struct's exported fields.
func jsonFields(v any) []string {
	typ := reflect.TypeOf(v)
	var names []string
	for i := range typ.NumField() {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		names = append(names, name)
	}
	return names
}

// TestWireSurface verifies that every payload exposes the expected JSON fields.
func TestWireSurface(t *testing.T) {
	for name, expected := range expectedPayloads {
		t.Run(name, func(t *testing.T) {
			actual := jsonFields(expected.value)

			for _, field := range expected.fields {
				assert.True(t, slices.Contains(actual, field),
					"field %s.%s should exist", name, field)
			}

			// Report any extra fields not in contract (informational, not failure)
			for _, field := range actual {
				if !slices.Contains(expected.fields, field) {
					t.Logf("INFO: extra field %s.%s not in contract (consider adding)", name, field)
				}
			}
		})
	}
}

// TestActionUpdateValues pins the action names hasUpdateConversation subscribers switch on.
func TestActionUpdateValues(t *testing.T) {
	assert.Equal(t, conversation.Action("SENT_MESSAGE"), conversation.ActionSentMessage)
	assert.Equal(t, conversation.Action("MARK_READ"), conversation.ActionMarkRead)
}

// TestErrorCodes pins the wire codes for each error kind.
func TestErrorCodes(t *testing.T) {
	cases := map[string]*apperr.Error{
		"UNAUTHENTICATED": apperr.Unauthenticated("x"),
		"FORBIDDEN":       apperr.Forbidden("x"),
		"BAD_REQUEST":     apperr.InvalidArgument("x"),
		"NOT_FOUND":       apperr.NotFound("x"),
		"INTERNAL_SERVER": apperr.Internal(nil),
	}
	for code, err := range cases {
		assert.Equal(t, code, err.WireCode())
	}
}
