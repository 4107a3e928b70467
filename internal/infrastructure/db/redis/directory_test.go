package redis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindspace/group-meditation/internal/core/domain"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// ownerOf reads the connection stored in the (group, user) record.
func ownerOf(t *testing.T, client *redis.Client, groupID, userID string) domain.ConnectionRef {
	t.Helper()
	v, err := client.HGet(context.Background(), groupKey(groupID), userID).Result()
	require.NoError(t, err)
	owner, _, _ := strings.Cut(v, "|")
	parsed, err := domain.ParseConnectionRef(owner)
	require.NoError(t, err)
	return parsed
}

func ref(proc, conn string) domain.ConnectionRef {
	return domain.ConnectionRef{ProcessID: proc, ConnectionID: conn}
}

func TestDirectory_JoinIsIdempotentPerUser(t *testing.T) {
	_, client := newTestClient(t)
	dir := NewDirectory(client)
	ctx := context.Background()
	c1, c2 := ref("p1", "c1"), ref("p2", "c2")

	first, err := dir.Join(ctx, "room-7", "u1", c1)
	require.NoError(t, err)
	assert.Nil(t, first.PriorOwner)
	assert.Equal(t, int64(1), first.Count)

	second, err := dir.Join(ctx, "room-7", "u1", c2)
	require.NoError(t, err)
	require.NotNil(t, second.PriorOwner)
	assert.Equal(t, c1, *second.PriorOwner)
	assert.Equal(t, int64(1), second.Count, "second join must replace, not duplicate")

	assert.Equal(t, c2, ownerOf(t, client, "room-7", "u1"))

	removed, remaining, err := dir.Leave(ctx, "room-7", "u1", c1)
	require.NoError(t, err)
	assert.False(t, removed, "stale leave must not evict the newer join")
	assert.Equal(t, int64(1), remaining)

	members, err := dir.MembersOf(ctx, "room-7")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, members)
}

func TestDirectory_RejoinFromSameConnectionHasNoPriorOwner(t *testing.T) {
	_, client := newTestClient(t)
	dir := NewDirectory(client)
	ctx := context.Background()

	_, err := dir.Join(ctx, "g", "u1", ref("p1", "c1"))
	require.NoError(t, err)
	res, err := dir.Join(ctx, "g", "u1", ref("p1", "c1"))
	require.NoError(t, err)
	assert.Nil(t, res.PriorOwner)
	assert.Equal(t, int64(1), res.Count)
}

func TestDirectory_LeaveDeletesEmptyGroup(t *testing.T) {
	mr, client := newTestClient(t)
	dir := NewDirectory(client)
	ctx := context.Background()
	c1 := ref("p1", "c1")

	_, err := dir.Join(ctx, "g", "u1", c1)
	require.NoError(t, err)

	removed, remaining, err := dir.Leave(ctx, "g", "u1", c1)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, int64(0), remaining)
	assert.False(t, mr.Exists("mg:group:g"), "empty group must be deleted")

	removed, _, err = dir.Leave(ctx, "g", "u1", c1)
	require.NoError(t, err)
	assert.False(t, removed, "second leave is a no-op")
}

func TestDirectory_RemoveAllFor(t *testing.T) {
	mr, client := newTestClient(t)
	dir := NewDirectory(client)
	ctx := context.Background()
	c1, other := ref("p1", "c1"), ref("p2", "c9")

	for _, g := range []string{"A", "B"} {
		_, err := dir.Join(ctx, g, "u1", c1)
		require.NoError(t, err)
	}
	_, err := dir.Join(ctx, "A", "u2", other)
	require.NoError(t, err)

	departures, err := dir.RemoveAllFor(ctx, c1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.Departure{
		{GroupID: "A", UserID: "u1", Remaining: 1},
		{GroupID: "B", UserID: "u1", Remaining: 0},
	}, departures)

	assert.False(t, mr.Exists("mg:group:B"))
	assert.False(t, mr.Exists("mg:conn:"+c1.String()))

	n, err := dir.Count(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDirectory_RemoveAllForSkipsSupersededRecords(t *testing.T) {
	_, client := newTestClient(t)
	dir := NewDirectory(client)
	ctx := context.Background()
	c1, c2 := ref("p1", "c1"), ref("p1", "c2")

	_, err := dir.Join(ctx, "g", "u1", c1)
	require.NoError(t, err)
	_, err = dir.Join(ctx, "g", "u1", c2)
	require.NoError(t, err)

	departures, err := dir.RemoveAllFor(ctx, c1)
	require.NoError(t, err)
	assert.Empty(t, departures)

	assert.Equal(t, c2, ownerOf(t, client, "g", "u1"))
}

func TestDirectory_StaleConnections(t *testing.T) {
	mr, client := newTestClient(t)
	dir := NewDirectory(client)
	ctx := context.Background()

	require.NoError(t, dir.Heartbeat(ctx, "p1", 10*time.Second))
	_, err := dir.Join(ctx, "g", "u1", ref("p1", "c1"))
	require.NoError(t, err)
	_, err = dir.Join(ctx, "g", "u2", ref("p2", "c2"))
	require.NoError(t, err)

	stale, err := dir.StaleConnections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ConnectionRef{ref("p2", "c2")}, stale)

	mr.FastForward(11 * time.Second)

	stale, err = dir.StaleConnections(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.ConnectionRef{ref("p1", "c1"), ref("p2", "c2")}, stale)
}

func TestDirectory_FailsWhenRedisIsDown(t *testing.T) {
	mr, client := newTestClient(t)
	dir := NewDirectory(client)
	mr.Close()

	_, err := dir.Join(context.Background(), "g", "u1", ref("p1", "c1"))
	assert.Error(t, err)
}
