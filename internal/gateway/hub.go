package gateway

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mindspace/group-meditation/internal/api/metrics"
	"github.com/mindspace/group-meditation/internal/core/domain"
	"github.com/mindspace/group-meditation/internal/core/ports"
	"github.com/mindspace/group-meditation/internal/infrastructure/queue"
)

// Hub routes outbound frames to the connections held by this process and
// relays them to the other processes through the fan-out channel.
//
// The group table here decides delivery only. Who is a member is always
// answered by the membership directory.
type Hub struct {
	processID  string
	fanout     ports.Fanout
	dispatcher *queue.Dispatcher
	log        zerolog.Logger

	mu     sync.RWMutex
	conns  map[string]*Connection            // connection id -> connection
	groups map[string]map[string]*Connection // group id -> connection id -> connection
}

// NewHub builds a hub for processID. workers sizes the pool that delivers
// messages received from other processes.
func NewHub(processID string, fanout ports.Fanout, workers int, log zerolog.Logger) *Hub {
	h := &Hub{
		processID: processID,
		fanout:    fanout,
		log:       log,
		conns:     make(map[string]*Connection),
		groups:    make(map[string]map[string]*Connection),
	}
	h.dispatcher = queue.NewDispatcher(workers, h.deliver, log)
	return h
}

var _ ports.Broadcaster = (*Hub)(nil)

// ProcessID is the id stamped on every connection ref created here.
func (h *Hub) ProcessID() string { return h.processID }

// Run starts the delivery workers and subscribes to the fan-out channel. It
// returns once the subscription is active; delivery continues until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	h.dispatcher.Start(ctx)
	return h.fanout.Subscribe(ctx, func(msg ports.FanoutMessage) {
		if msg.Origin == h.processID {
			metrics.FanoutMessagesTotal.WithLabelValues("in", "self").Inc()
			return
		}
		metrics.FanoutMessagesTotal.WithLabelValues("in", "ok").Inc()
		h.dispatcher.Enqueue(ctx, msg)
	})
}

// Register makes c reachable for direct sends.
func (h *Hub) Register(c *Connection) {
	h.mu.Lock()
	h.conns[c.ref.ConnectionID] = c
	h.mu.Unlock()
	metrics.ConnectionsActive.Inc()
}

// Unregister removes c from every routing table.
func (h *Hub) Unregister(c *Connection) {
	h.mu.Lock()
	if _, ok := h.conns[c.ref.ConnectionID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.ref.ConnectionID)
	for gid, members := range h.groups {
		delete(members, c.ref.ConnectionID)
		if len(members) == 0 {
			delete(h.groups, gid)
		}
	}
	h.mu.Unlock()
	metrics.ConnectionsActive.Dec()
}

func (h *Hub) Attach(ref domain.ConnectionRef, groupID string) bool {
	if ref.ProcessID != h.processID {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[ref.ConnectionID]
	if !ok {
		return false
	}
	members := h.groups[groupID]
	if members == nil {
		members = make(map[string]*Connection)
		h.groups[groupID] = members
	}
	if _, routed := members[ref.ConnectionID]; routed {
		return false
	}
	members[ref.ConnectionID] = c
	return true
}

func (h *Hub) Detach(ref domain.ConnectionRef, groupID string) {
	if ref.ProcessID != h.processID {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.groups[groupID]
	delete(members, ref.ConnectionID)
	if len(members) == 0 {
		delete(h.groups, groupID)
	}
}

func (h *Hub) Evict(ctx context.Context, ref domain.ConnectionRef, groupID string) {
	if ref.ProcessID == h.processID {
		h.Detach(ref, groupID)
		return
	}
	h.publish(ctx, ports.FanoutMessage{
		Kind:    ports.FanoutEvict,
		GroupID: groupID,
		Target:  ref.String(),
	})
}

func (h *Hub) Broadcast(ctx context.Context, groupID string, exclude domain.ConnectionRef, ev domain.Event) {
	frame, err := EncodeEvent(ev)
	if err != nil {
		metrics.BroadcastDroppedTotal.WithLabelValues("encode_failed").Inc()
		h.log.Error().Err(err).Str("group_id", groupID).Msg("broadcast encode failed")
		return
	}

	h.deliverGroup(groupID, exclude, frame)

	msg := ports.FanoutMessage{
		Kind:    ports.FanoutBroadcast,
		GroupID: groupID,
		Frame:   frame,
	}
	if !exclude.IsZero() {
		msg.Exclude = exclude.String()
	}
	h.publish(ctx, msg)
}

func (h *Hub) Send(ctx context.Context, ref domain.ConnectionRef, ev domain.Event) {
	frame, err := EncodeEvent(ev)
	if err != nil {
		metrics.BroadcastDroppedTotal.WithLabelValues("encode_failed").Inc()
		h.log.Error().Err(err).Str("conn", ref.String()).Msg("send encode failed")
		return
	}

	if ref.ProcessID == h.processID {
		h.deliverDirect(ref, frame)
		return
	}
	h.publish(ctx, ports.FanoutMessage{
		Kind:   ports.FanoutDirect,
		Target: ref.String(),
		Frame:  frame,
	})
}

func (h *Hub) publish(ctx context.Context, msg ports.FanoutMessage) {
	msg.Origin = h.processID
	if err := h.fanout.Publish(ctx, msg); err != nil {
		metrics.FanoutMessagesTotal.WithLabelValues("out", "error").Inc()
		metrics.BroadcastDroppedTotal.WithLabelValues("publish_failed").Inc()
		h.log.Error().Err(err).
			Str("kind", string(msg.Kind)).
			Str("group_id", msg.GroupID).
			Msg("fan-out publish failed")
		return
	}
	metrics.FanoutMessagesTotal.WithLabelValues("out", "ok").Inc()
}

// deliver handles a message received from another process.
func (h *Hub) deliver(_ context.Context, msg ports.FanoutMessage) {
	switch msg.Kind {
	case ports.FanoutBroadcast:
		var exclude domain.ConnectionRef
		if msg.Exclude != "" {
			exclude, _ = domain.ParseConnectionRef(msg.Exclude)
		}
		h.deliverGroup(msg.GroupID, exclude, msg.Frame)
	case ports.FanoutDirect, ports.FanoutEvict:
		target, err := domain.ParseConnectionRef(msg.Target)
		if err != nil {
			h.log.Warn().Err(err).Str("target", msg.Target).Msg("fan-out target malformed")
			return
		}
		if target.ProcessID != h.processID {
			return
		}
		if msg.Kind == ports.FanoutEvict {
			h.Detach(target, msg.GroupID)
			return
		}
		h.deliverDirect(target, msg.Frame)
	default:
		h.log.Warn().Str("kind", string(msg.Kind)).Msg("fan-out kind unknown")
	}
}

func (h *Hub) deliverGroup(groupID string, exclude domain.ConnectionRef, frame []byte) {
	h.mu.RLock()
	members := h.groups[groupID]
	targets := make([]*Connection, 0, len(members))
	for _, c := range members {
		if c.ref == exclude {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.Enqueue(frame) {
			h.log.Warn().
				Str("group_id", groupID).
				Str("conn", c.ref.String()).
				Msg("frame dropped")
		}
	}
}

func (h *Hub) deliverDirect(ref domain.ConnectionRef, frame []byte) {
	h.mu.RLock()
	c, ok := h.conns[ref.ConnectionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if !c.Enqueue(frame) {
		h.log.Warn().Str("conn", ref.String()).Msg("frame dropped")
	}
}

// CloseAll asks every local connection to shut down.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}
