package ports

import (
	"context"
	"time"

	"github.com/mindspace/group-meditation/internal/core/domain"
)

// MembershipDirectory is the shared, cross-process record of who is in which
// group. Every mutation is a single atomic operation on the backend.
type MembershipDirectory interface {
	// Join upserts the (group, user) record so that conn owns it.
	Join(ctx context.Context, groupID, userID string, conn domain.ConnectionRef) (*domain.JoinResult, error)
	// Leave removes the record only while conn still owns it.
	Leave(ctx context.Context, groupID, userID string, conn domain.ConnectionRef) (removed bool, remaining int64, err error)
	// RemoveAllFor drops every record conn owns.
	RemoveAllFor(ctx context.Context, conn domain.ConnectionRef) ([]domain.Departure, error)
	MembersOf(ctx context.Context, groupID string) ([]string, error)
	Count(ctx context.Context, groupID string) (int64, error)

	// Heartbeat marks processID alive for ttl.
	Heartbeat(ctx context.Context, processID string, ttl time.Duration) error
	// StaleConnections lists connections whose process stopped heartbeating.
	StaleConnections(ctx context.Context) ([]domain.ConnectionRef, error)
}
