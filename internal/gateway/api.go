// ABOUTME: HTTP JSON API for conversations, messages and users
// ABOUTME: Resolves identity, validates bodies, maps failures onto the error taxonomy

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc/codes"

	"github.com/2389/huddle/internal/apperr"
	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/conversation"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// CreateConversationRequest is the JSON request body for POST /api/conversations.
type CreateConversationRequest struct {
	ParticipantIDs []string `json:"participantIds" validate:"max=256"`
	Name           string   `json:"name,omitempty" validate:"max=100"`
	AvatarRef      string   `json:"avatarRef,omitempty" validate:"max=2048"`
}

// SendMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// RenameRequest is the JSON request body for PUT /api/users/me/name.
type RenameRequest struct {
	Name string `json:"name"`
}

// OKResponse acknowledges a mutation without a body of its own.
type OKResponse struct {
	OK bool `json:"ok"`
}

// SendMessageResponse is the JSON response for a sent message.
type SendMessageResponse struct {
	OK      bool                      `json:"ok"`
	Message *conversation.MessageView `json:"message"`
}

type errorResponse struct {
	Error apperr.Payload `json:"error"`
}

// apiFunc handles one operation for an authenticated caller.
type apiFunc func(w http.ResponseWriter, r *http.Request) error

func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/conversations", g.api("getConversations", g.handleListConversations))
	mux.Handle("POST /api/conversations", g.api("createConversation", g.handleCreateConversation))
	mux.Handle("GET /api/conversations/{id}", g.api("retrieveConversation", g.handleGetConversation))
	mux.Handle("GET /api/conversations/{id}/messages", g.api("getConversationMessages", g.handleListMessages))
	mux.Handle("POST /api/conversations/{id}/messages", g.api("sendMessage", g.handleSendMessage))
	mux.Handle("POST /api/conversations/{id}/read", g.api("markAsRead", g.handleMarkRead))
	mux.Handle("GET /api/users/search", g.api("searchUsers", g.handleSearchUsers))
	mux.Handle("PUT /api/users/me/name", g.api("changeUserName", g.handleRename))

	mux.Handle("GET /api/subscriptions", g.gate.Middleware(http.HandlerFunc(g.handleSubscriptions)))
}

// api resolves the caller identity, runs fn and records the outcome.
func (g *Gateway) api(operation string, fn apiFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := g.gate.Resolve(r)
		if err != nil {
			g.writeError(w, operation, err)
			return
		}
		r = r.WithContext(auth.WithIdentity(r.Context(), id))

		if err := fn(w, r); err != nil {
			g.writeError(w, operation, err)
			return
		}
		g.metrics.ObserveRequest(operation, "OK")
	})
}

func (g *Gateway) writeError(w http.ResponseWriter, operation string, err error) {
	e := apperr.From(err)
	if apperr.CodeOf(err) == codes.Internal {
		g.logger.Error("request failed", "operation", operation, "error", err)
	} else {
		g.logger.Debug("request rejected", "operation", operation, "code", e.WireCode(), "message", e.Message)
	}
	g.metrics.ObserveRequest(operation, e.WireCode())
	writeJSON(w, e.HTTPStatus(), errorResponse{Error: e.Payload()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON body into dst and validates it.
func (g *Gateway) decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return apperr.InvalidArgument("reading request body: %v", err)
	}
	if len(body) > maxBodyBytes {
		return apperr.InvalidArgument("request body exceeds %d bytes", maxBodyBytes)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.InvalidArgument("invalid JSON in request body")
	}
	if err := g.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.InvalidArgument("invalid request")
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return apperr.InvalidArgument("%s is required", fe.Field())
	case "max":
		return apperr.InvalidArgument("%s must be at most %s long", fe.Field(), fe.Param())
	default:
		return apperr.InvalidArgument("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// pageParams reads offset and limit, defaulting to the first page.
func pageParams(r *http.Request) (offset, limit int, err error) {
	q := r.URL.Query()
	offset, limit = 0, conversation.DefaultPageLimit
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			return 0, 0, apperr.InvalidArgument("offset must be an integer")
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return 0, 0, apperr.InvalidArgument("limit must be an integer")
		}
	}
	return offset, limit, nil
}

// handleListConversations handles GET /api/conversations.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) error {
	list, err := g.conversations.Conversations(r.Context())
	if err != nil {
		return err
	}
	if list == nil {
		list = []*conversation.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// handleCreateConversation handles POST /api/conversations.
// Returns 201 for a new conversation and 200 when an existing direct one is reused.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) error {
	var req CreateConversationRequest
	if err := g.decodeBody(r, &req); err != nil {
		return err
	}
	view, created, err := g.conversations.Create(r.Context(), req.ParticipantIDs, conversation.Details{
		Name:      req.Name,
		AvatarRef: req.AvatarRef,
	})
	if err != nil {
		return err
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, view)
	return nil
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) error {
	detail, err := g.conversations.Conversation(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, detail)
	return nil
}

// handleListMessages handles GET /api/conversations/{id}/messages.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) error {
	offset, limit, err := pageParams(r)
	if err != nil {
		return err
	}
	msgs, err := g.conversations.Messages(r.Context(), r.PathValue("id"), offset, limit)
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []conversation.MessageView{}
	}
	writeJSON(w, http.StatusOK, msgs)
	return nil
}

// handleSendMessage handles POST /api/conversations/{id}/messages.
// A repeated Idempotency-Key from the same caller replays the first result.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) error {
	var req SendMessageRequest
	if err := g.decodeBody(r, &req); err != nil {
		return err
	}

	ctx := r.Context()
	conversationID := r.PathValue("id")
	send := func() (*conversation.MessageView, error) {
		return g.conversations.Send(ctx, conversationID, req.Content)
	}

	var (
		view *conversation.MessageView
		err  error
	)
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		identity := auth.MustFromContext(ctx)
		var replayed bool
		view, replayed, err = g.sends.Do(fmt.Sprintf("%s|%s|%s", identity.ID, conversationID, key), send)
		if replayed {
			w.Header().Set("Idempotent-Replayed", "true")
		}
	} else {
		view, err = send()
	}
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, SendMessageResponse{OK: true, Message: view})
	return nil
}

// handleMarkRead handles POST /api/conversations/{id}/read.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) error {
	if err := g.conversations.MarkRead(r.Context(), r.PathValue("id")); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
	return nil
}

// handleSearchUsers handles GET /api/users/search?q=.
func (g *Gateway) handleSearchUsers(w http.ResponseWriter, r *http.Request) error {
	found, err := g.users.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		return err
	}
	if found == nil {
		found = []conversation.Participant{}
	}
	writeJSON(w, http.StatusOK, found)
	return nil
}

// handleRename handles PUT /api/users/me/name.
func (g *Gateway) handleRename(w http.ResponseWriter, r *http.Request) error {
	var req RenameRequest
	if err := g.decodeBody(r, &req); err != nil {
		return err
	}
	result, err := g.users.Rename(r.Context(), req.Name)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, result)
	return nil
}
