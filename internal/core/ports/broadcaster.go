package ports

import (
	"context"
	"encoding/json"

	"github.com/mindspace/group-meditation/internal/core/domain"
)

// Broadcaster delivers events to connections wherever they are attached.
// Delivery is fire-and-forget: failures are logged by the implementation and
// never reported back to the coordinator.
type Broadcaster interface {
	// Attach starts routing the group's broadcasts to conn on this process.
	// It reports whether the route is new.
	Attach(conn domain.ConnectionRef, groupID string) bool
	// Detach stops routing the group's broadcasts to conn on this process.
	Detach(conn domain.ConnectionRef, groupID string)
	// Evict detaches conn from the group on whichever process owns it.
	Evict(ctx context.Context, conn domain.ConnectionRef, groupID string)
	// Broadcast sends ev to every member of the group except exclude.
	Broadcast(ctx context.Context, groupID string, exclude domain.ConnectionRef, ev domain.Event)
	// Send delivers ev to a single connection.
	Send(ctx context.Context, conn domain.ConnectionRef, ev domain.Event)
}

// FanoutKind tells receivers what to do with a fan-out message.
type FanoutKind string

const (
	FanoutBroadcast FanoutKind = "broadcast"
	FanoutDirect    FanoutKind = "direct"
	FanoutEvict     FanoutKind = "evict"
)

// FanoutMessage is what travels between processes.
type FanoutMessage struct {
	Origin  string          `json:"origin"`
	Kind    FanoutKind      `json:"kind"`
	GroupID string          `json:"groupId,omitempty"`
	Exclude string          `json:"exclude,omitempty"`
	Target  string          `json:"target,omitempty"`
	Frame   json.RawMessage `json:"frame,omitempty"`
}

// Fanout is the cross-process publish/subscribe medium.
type Fanout interface {
	Publish(ctx context.Context, msg FanoutMessage) error
	// Subscribe returns once the subscription is active. handle is then
	// called for every message, from one goroutine, until ctx is done.
	Subscribe(ctx context.Context, handle func(FanoutMessage)) error
}
