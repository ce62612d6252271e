// ABOUTME: User search and display-name changes for the signed-in identity
// ABOUTME: Rejects blank and overly common search fragments before querying storage

package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/2389/huddle/internal/apperr"
	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/conversation"
	"github.com/2389/huddle/internal/store"
)

const (
	DefaultSearchLimit = 20
	MaxNameRunes       = 100
)

// commonFragments would match nearly every account, so they are refused.
var commonFragments = []string{".com", ".org", ".net", "com", "org", "net", "@", "@gmail", "gmail"}

// Store defines what the user service needs from storage.
type Store interface {
	SearchUsers(ctx context.Context, term, excludeID string, limit int) ([]*store.User, error)
	UpdateUserName(ctx context.Context, id, name string) error
}

// RenameResult is the response to changeUserName.
type RenameResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Service implements searchUsers and changeUserName.
type Service struct {
	store       Store
	searchLimit int
	logger      *slog.Logger
}

// New creates a Service. A non-positive searchLimit uses DefaultSearchLimit.
func New(s Store, searchLimit int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if searchLimit <= 0 {
		searchLimit = DefaultSearchLimit
	}
	return &Service{
		store:       s,
		searchLimit: searchLimit,
		logger:      logger.With("component", "users"),
	}
}

// Search finds other users whose email or name contains terms.
func (s *Service) Search(ctx context.Context, terms string) ([]conversation.Participant, error) {
	id := auth.FromContext(ctx)
	if id == nil {
		return nil, apperr.Unauthenticated("authentication required")
	}

	term := strings.TrimSpace(terms)
	if term == "" || lo.Contains(commonFragments, strings.ToLower(term)) {
		return nil, apperr.InvalidArgument("Invalid search terms")
	}

	found, err := s.store.SearchUsers(ctx, term, id.ID, s.searchLimit)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("searching users: %w", err))
	}
	return lo.Map(found, func(u *store.User, _ int) conversation.Participant {
		return conversation.ParticipantFromUser(u)
	}), nil
}

// Rename sets the caller's display name.
func (s *Service) Rename(ctx context.Context, name string) (*RenameResult, error) {
	id := auth.FromContext(ctx)
	if id == nil {
		return nil, apperr.Unauthenticated("authentication required")
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.InvalidArgument("Invalid username")
	}
	if utf8.RuneCountInString(name) > MaxNameRunes {
		return nil, apperr.InvalidArgument("username must be at most %d characters", MaxNameRunes)
	}

	err := s.store.UpdateUserName(ctx, id.ID, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Unauthenticated("unknown identity")
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("updating user name: %w", err))
	}

	s.logger.Info("user renamed", "user_id", id.ID)
	return &RenameResult{Success: true, Message: "Update username success!"}, nil
}
