package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mindspace/group-meditation/internal/core/domain"
)

// Key layout:
//
//	mg:group:<groupId>  hash userId -> "<connRef>|<joinedAtMillis>"
//	mg:conn:<connRef>   hash groupId -> userId (reverse index)
//	mg:proc:<processId> liveness marker with TTL
//
// Scripts touch keys derived from stored values, so the layout assumes a
// single Redis primary rather than a cluster.
const (
	groupKeyPrefix = "mg:group:"
	connKeyPrefix  = "mg:conn:"
	procKeyPrefix  = "mg:proc:"
	scanBatch      = 200
)

// joinScript upserts the member record and moves the reverse-index entry away
// from the previous owner. Returns {priorRef, count}; priorRef is "" when the
// user was absent or already owned by the same connection.
var joinScript = redis.NewScript(`
local prev = redis.call('HGET', KEYS[1], ARGV[1])
local prior = ''
if prev then
  local ref = string.match(prev, '^([^|]*)')
  if ref ~= ARGV[2] then
    prior = ref
    redis.call('HDEL', ARGV[5] .. ref, ARGV[4])
  end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2] .. '|' .. ARGV[3])
redis.call('HSET', KEYS[2], ARGV[4], ARGV[1])
return {prior, redis.call('HLEN', KEYS[1])}
`)

// leaveScript removes the member record only while ARGV[2] owns it. The hash
// disappears with its last field, so an empty group leaves nothing behind.
// Returns {removed (0|1), count}.
var leaveScript = redis.NewScript(`
redis.call('HDEL', KEYS[2], ARGV[3])
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if not cur or string.match(cur, '^([^|]*)') ~= ARGV[2] then
  return {0, redis.call('HLEN', KEYS[1])}
end
redis.call('HDEL', KEYS[1], ARGV[1])
return {1, redis.call('HLEN', KEYS[1])}
`)

// removeAllScript drops every record still owned by ARGV[1] and deletes the
// reverse index. Returns a flat list of {groupId, userId, remaining} triples.
var removeAllScript = redis.NewScript(`
local entries = redis.call('HGETALL', KEYS[1])
local out = {}
for i = 1, #entries, 2 do
  local gid = entries[i]
  local uid = entries[i + 1]
  local gkey = ARGV[2] .. gid
  local cur = redis.call('HGET', gkey, uid)
  if cur and string.match(cur, '^([^|]*)') == ARGV[1] then
    redis.call('HDEL', gkey, uid)
    table.insert(out, gid)
    table.insert(out, uid)
    table.insert(out, redis.call('HLEN', gkey))
  end
end
redis.call('DEL', KEYS[1])
return out
`)

// Directory implements ports.MembershipDirectory on Redis.
type Directory struct {
	client *redis.Client
	now    func() time.Time
}

// NewDirectory creates a Directory wrapping the given Redis client.
func NewDirectory(client *redis.Client) *Directory {
	return &Directory{client: client, now: time.Now}
}

func (d *Directory) Join(ctx context.Context, groupID, userID string, conn domain.ConnectionRef) (*domain.JoinResult, error) {
	joinedAt := d.now().UTC().Truncate(time.Millisecond)
	ref := conn.String()

	res, err := joinScript.Run(ctx, d.client,
		[]string{groupKey(groupID), connKey(ref)},
		userID, ref, joinedAt.UnixMilli(), groupID, connKeyPrefix,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("directory join: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("directory join: unexpected reply %v", res)
	}

	out := &domain.JoinResult{
		Record: domain.MembershipRecord{
			GroupID:  groupID,
			UserID:   userID,
			Conn:     conn,
			JoinedAt: joinedAt,
		},
		Count: toInt64(res[1]),
	}
	if prior, _ := res[0].(string); prior != "" {
		priorRef, err := domain.ParseConnectionRef(prior)
		if err != nil {
			return nil, fmt.Errorf("directory join: %w", err)
		}
		out.PriorOwner = &priorRef
	}
	return out, nil
}

func (d *Directory) Leave(ctx context.Context, groupID, userID string, conn domain.ConnectionRef) (bool, int64, error) {
	ref := conn.String()
	res, err := leaveScript.Run(ctx, d.client,
		[]string{groupKey(groupID), connKey(ref)},
		userID, ref, groupID,
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("directory leave: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("directory leave: unexpected reply %v", res)
	}
	return toInt64(res[0]) == 1, toInt64(res[1]), nil
}

func (d *Directory) RemoveAllFor(ctx context.Context, conn domain.ConnectionRef) ([]domain.Departure, error) {
	ref := conn.String()
	res, err := removeAllScript.Run(ctx, d.client,
		[]string{connKey(ref)},
		ref, groupKeyPrefix,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("directory remove all: %w", err)
	}

	departures := make([]domain.Departure, 0, len(res)/3)
	for i := 0; i+2 < len(res); i += 3 {
		gid, _ := res[i].(string)
		uid, _ := res[i+1].(string)
		departures = append(departures, domain.Departure{
			GroupID:   gid,
			UserID:    uid,
			Remaining: toInt64(res[i+2]),
		})
	}
	return departures, nil
}

func (d *Directory) MembersOf(ctx context.Context, groupID string) ([]string, error) {
	members, err := d.client.HKeys(ctx, groupKey(groupID)).Result()
	if err != nil {
		return nil, fmt.Errorf("directory members: %w", err)
	}
	return members, nil
}

func (d *Directory) Count(ctx context.Context, groupID string) (int64, error) {
	n, err := d.client.HLen(ctx, groupKey(groupID)).Result()
	if err != nil {
		return 0, fmt.Errorf("directory count: %w", err)
	}
	return n, nil
}

func (d *Directory) Heartbeat(ctx context.Context, processID string, ttl time.Duration) error {
	if err := d.client.Set(ctx, procKeyPrefix+processID, d.now().UTC().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("directory heartbeat: %w", err)
	}
	return nil
}

func (d *Directory) StaleConnections(ctx context.Context) ([]domain.ConnectionRef, error) {
	alive := make(map[string]bool)
	var stale []domain.ConnectionRef

	iter := d.client.Scan(ctx, 0, connKeyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		ref, err := domain.ParseConnectionRef(strings.TrimPrefix(iter.Val(), connKeyPrefix))
		if err != nil {
			continue
		}
		ok, seen := alive[ref.ProcessID]
		if !seen {
			n, err := d.client.Exists(ctx, procKeyPrefix+ref.ProcessID).Result()
			if err != nil {
				return nil, fmt.Errorf("directory liveness: %w", err)
			}
			ok = n > 0
			alive[ref.ProcessID] = ok
		}
		if !ok {
			stale = append(stale, ref)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("directory scan: %w", err)
	}
	return stale, nil
}

func groupKey(groupID string) string { return groupKeyPrefix + groupID }

func connKey(ref string) string { return connKeyPrefix + ref }

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}
