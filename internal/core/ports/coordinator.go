package ports

import (
	"context"

	"github.com/mindspace/group-meditation/internal/core/domain"
)

// StartInput is the payload of a start_meditation event.
type StartInput struct {
	GroupID  string
	Type     string
	Duration int
}

// EndInput is the payload of an end_meditation event.
type EndInput struct {
	SessionID      string
	ActualDuration int
	Completed      bool
}

// GroupCoordinator drives group membership and the session lifecycle.
type GroupCoordinator interface {
	Join(ctx context.Context, caller domain.Caller, groupID string) (*domain.GroupSnapshot, error)
	Leave(ctx context.Context, caller domain.Caller, groupID string) error
	Start(ctx context.Context, caller domain.Caller, in StartInput) (*domain.Session, error)
	End(ctx context.Context, caller domain.Caller, in EndInput) (*domain.Session, error)
	Disconnect(ctx context.Context, caller domain.Caller)
	Snapshot(ctx context.Context, groupID string) (*domain.GroupSnapshot, error)
	ReapStale(ctx context.Context) (int, error)
}
