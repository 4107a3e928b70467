package ports

import (
	"context"

	"github.com/mindspace/group-meditation/internal/core/domain"
)

// SessionStore is the durable home of meditation sessions.
type SessionStore interface {
	Create(ctx context.Context, draft domain.SessionDraft) (*domain.Session, error)
	// Get returns domain.ErrSessionNotFound when no session has that id.
	Get(ctx context.Context, id string) (*domain.Session, error)
	// Complete applies the outcome only if the session has not ended yet. It
	// returns domain.ErrSessionEnded when it already has, and
	// domain.ErrSessionNotFound when the id is unknown.
	Complete(ctx context.Context, id string, outcome domain.SessionOutcome) (*domain.Session, error)
	// ListActive returns the group's sessions that have not ended, newest first.
	ListActive(ctx context.Context, groupID string) ([]*domain.Session, error)
}

// CacheInvalidator drops derived views cached per user.
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID string) error
}
