package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindspace/group-meditation/internal/core/domain"
	"github.com/mindspace/group-meditation/internal/core/ports"
	"github.com/mindspace/group-meditation/internal/core/service"
	redisdb "github.com/mindspace/group-meditation/internal/infrastructure/db/redis"
)

const testChannel = "test:fanout"

// memSessionStore is a minimal in-memory ports.SessionStore.
type memSessionStore struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]*domain.Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: map[string]*domain.Session{}}
}

func (s *memSessionStore) Create(_ context.Context, d domain.SessionDraft) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	sess := &domain.Session{
		ID: fmt.Sprintf("s-%d", s.seq), UserID: d.UserID, Type: d.Type,
		PlannedDuration: d.PlannedDuration, GroupID: d.GroupID, StartedAt: time.Now().UTC(),
	}
	s.sessions[sess.ID] = sess
	cp := *sess
	return &cp, nil
}

func (s *memSessionStore) Get(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memSessionStore) Complete(_ context.Context, id string, out domain.SessionOutcome) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if sess.Ended() {
		return nil, domain.ErrSessionEnded
	}
	now := time.Now().UTC()
	d := out.ActualDuration
	sess.ActualDuration, sess.Completed, sess.CompletedAt = &d, out.Completed, &now
	cp := *sess
	return &cp, nil
}

func (s *memSessionStore) ListActive(_ context.Context, groupID string) ([]*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Session
	for _, sess := range s.sessions {
		if sess.GroupID == groupID && !sess.Ended() {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

// process is one gateway worker wired to a shared miniredis.
type process struct {
	hub   *Hub
	coord *service.Coordinator
}

func startProcess(t *testing.T, mr *miniredis.Miniredis, id string, store ports.SessionStore) *process {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = client.Close()
	})

	hub := NewHub(id, redisdb.NewFanout(client, testChannel, zerolog.Nop()), 2, zerolog.Nop())
	require.NoError(t, hub.Run(ctx))

	coord := service.NewCoordinator(redisdb.NewDirectory(client), store, nil, hub, zerolog.Nop())
	return &process{hub: hub, coord: coord}
}

func (p *process) connect(userID, connID string) *Connection {
	c := NewConnection(
		domain.ConnectionRef{ProcessID: p.hub.ProcessID(), ConnectionID: connID},
		domain.Identity{UserID: userID, Email: userID + "@example.com"},
		16,
	)
	p.hub.Register(c)
	return c
}

// routed reports whether ref currently receives the group's broadcasts.
func (h *Hub) routed(groupID string, ref domain.ConnectionRef) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.groups[groupID][ref.ConnectionID]
	return ok
}

type receivedFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func expectFrame(t *testing.T, c *Connection, eventType string) receivedFrame {
	t.Helper()
	select {
	case raw := <-c.send:
		var f receivedFrame
		require.NoError(t, json.Unmarshal(raw, &f))
		require.Equal(t, eventType, f.Type, "frame: %s", raw)
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s on %s", eventType, c.Ref())
		return receivedFrame{}
	}
}

func expectNoFrame(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected frame on %s: %s", c.Ref(), raw)
	case <-time.After(150 * time.Millisecond):
	}
}

func frameData[T any](t *testing.T, f receivedFrame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func TestHub_CrossProcessSessionFlow(t *testing.T) {
	mr := miniredis.RunT(t)
	store := newMemSessionStore()
	a := startProcess(t, mr, "pa", store)
	b := startProcess(t, mr, "pb", store)
	ctx := context.Background()

	u1 := a.connect("u1", "c1")
	u2 := b.connect("u2", "c2")

	_, err := a.coord.Join(ctx, u1.Caller(), "room-7")
	require.NoError(t, err)
	snap, err := b.coord.Join(ctx, u2.Caller(), "room-7")
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.ActiveMembers)

	joined := frameData[domain.MemberJoined](t, expectFrame(t, u1, "member_joined"))
	assert.Equal(t, domain.MemberJoined{UserID: "u2", ActiveMembers: 2}, joined)
	expectNoFrame(t, u2)

	session, err := a.coord.Start(ctx, u1.Caller(), ports.StartInput{GroupID: "room-7", Type: "guided", Duration: 10})
	require.NoError(t, err)

	started := frameData[domain.MeditationStarted](t, expectFrame(t, u2, "meditation_started"))
	assert.Equal(t, "u1", started.UserID)
	assert.Equal(t, session.ID, started.SessionID)
	assert.Equal(t, domain.SessionGuided, started.Type)
	assert.Equal(t, 10, started.Duration)
	expectNoFrame(t, u1)

	_, err = a.coord.End(ctx, u1.Caller(), ports.EndInput{SessionID: session.ID, ActualDuration: 9, Completed: true})
	require.NoError(t, err)

	ended := frameData[domain.MeditationEnded](t, expectFrame(t, u2, "meditation_ended"))
	assert.Equal(t, domain.MeditationEnded{UserID: "u1", SessionID: session.ID, Completed: true, Duration: 9}, ended)

	b.hub.Unregister(u2)
	b.coord.Disconnect(ctx, u2.Caller())

	left := frameData[domain.MemberLeft](t, expectFrame(t, u1, "member_left"))
	assert.Equal(t, domain.MemberLeft{UserID: "u2", ActiveMembers: 1}, left)
}

func TestHub_ReconnectOnAnotherProcessEvictsOldConnection(t *testing.T) {
	mr := miniredis.RunT(t)
	store := newMemSessionStore()
	a := startProcess(t, mr, "pa", store)
	b := startProcess(t, mr, "pb", store)
	ctx := context.Background()

	old := a.connect("u1", "c1")
	_, err := a.coord.Join(ctx, old.Caller(), "room-1")
	require.NoError(t, err)
	require.True(t, a.hub.routed("room-1", old.Ref()))

	fresh := b.connect("u1", "c2")
	snap, err := b.coord.Join(ctx, fresh.Caller(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.ActiveMembers)

	assert.Eventually(t, func() bool {
		return !a.hub.routed("room-1", old.Ref())
	}, 2*time.Second, 10*time.Millisecond)

	// The superseded connection going away leaves the new membership alone.
	a.hub.Unregister(old)
	a.coord.Disconnect(ctx, old.Caller())
	snap, err = b.coord.Snapshot(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.ActiveMembers)
}

func TestHub_DirectSendAcrossProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	store := newMemSessionStore()
	a := startProcess(t, mr, "pa", store)
	b := startProcess(t, mr, "pb", store)

	target := b.connect("u2", "c2")
	a.hub.Send(context.Background(), target.Ref(), domain.Pong{})

	expectFrame(t, target, "pong")
}

func TestHub_LocalBroadcastDeliversOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	p := startProcess(t, mr, "pa", newMemSessionStore())
	ctx := context.Background()

	sender := p.connect("u1", "c1")
	other := p.connect("u2", "c2")
	p.hub.Attach(sender.Ref(), "room-1")
	p.hub.Attach(other.Ref(), "room-1")

	p.hub.Broadcast(ctx, "room-1", sender.Ref(), domain.MemberJoined{UserID: "u1", ActiveMembers: 2})

	expectFrame(t, other, "member_joined")
	// Our own fan-out echo is ignored, so nothing arrives twice.
	expectNoFrame(t, other)
	expectNoFrame(t, sender)
}

func TestHub_AttachIgnoresUnknownAndRemoteConnections(t *testing.T) {
	mr := miniredis.RunT(t)
	p := startProcess(t, mr, "pa", newMemSessionStore())

	remote := domain.ConnectionRef{ProcessID: "pb", ConnectionID: "c9"}
	unknown := domain.ConnectionRef{ProcessID: "pa", ConnectionID: "nope"}
	p.hub.Attach(remote, "room-1")
	p.hub.Attach(unknown, "room-1")

	assert.False(t, p.hub.routed("room-1", remote))
	assert.False(t, p.hub.routed("room-1", unknown))
}

func TestHub_AttachReportsNewRoutes(t *testing.T) {
	mr := miniredis.RunT(t)
	p := startProcess(t, mr, "pa", newMemSessionStore())

	c := p.connect("u1", "c1")
	assert.True(t, p.hub.Attach(c.Ref(), "room-1"))
	assert.False(t, p.hub.Attach(c.Ref(), "room-1"))
	assert.True(t, p.hub.Attach(c.Ref(), "room-2"))
}

func TestHub_FailedRejoinKeepsMemberRouted(t *testing.T) {
	mr := miniredis.RunT(t)
	p := startProcess(t, mr, "pa", newMemSessionStore())
	ctx := context.Background()

	a := p.connect("u1", "c1")
	b := p.connect("u2", "c2")
	_, err := p.coord.Join(ctx, a.Caller(), "g")
	require.NoError(t, err)
	_, err = p.coord.Join(ctx, b.Caller(), "g")
	require.NoError(t, err)
	expectFrame(t, a, "member_joined")

	mr.SetError("LOADING redis is loading the dataset")
	_, err = p.coord.Join(ctx, a.Caller(), "g")
	require.ErrorIs(t, err, domain.ErrDirectory)
	mr.SetError("")

	snap, err := p.coord.Snapshot(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.ActiveMembers)
	assert.True(t, p.hub.routed("g", a.Ref()))

	require.NoError(t, p.coord.Leave(ctx, b.Caller(), "g"))
	left := frameData[domain.MemberLeft](t, expectFrame(t, a, "member_left"))
	assert.Equal(t, domain.MemberLeft{UserID: "u2", ActiveMembers: 1}, left)
}

func TestHub_UnregisterDropsRouting(t *testing.T) {
	mr := miniredis.RunT(t)
	p := startProcess(t, mr, "pa", newMemSessionStore())

	c := p.connect("u1", "c1")
	p.hub.Attach(c.Ref(), "room-1")
	p.hub.Attach(c.Ref(), "room-2")
	p.hub.Unregister(c)

	assert.False(t, p.hub.routed("room-1", c.Ref()))
	assert.False(t, p.hub.routed("room-2", c.Ref()))
	p.hub.mu.RLock()
	assert.Empty(t, p.hub.groups)
	p.hub.mu.RUnlock()

	// Unregistering twice is harmless.
	p.hub.Unregister(c)
}

func TestConnection_EnqueueDropsWhenFullOrClosed(t *testing.T) {
	c := NewConnection(domain.ConnectionRef{ProcessID: "p", ConnectionID: "c"}, domain.Identity{UserID: "u"}, 1)

	assert.True(t, c.Enqueue([]byte("a")))
	assert.False(t, c.Enqueue([]byte("b")), "full queue must drop")

	<-c.send
	c.Close()
	c.Close()
	assert.False(t, c.Enqueue([]byte("c")), "closed connection must drop")
}
