package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Denylist records revoked bearer tokens.
// Key format: blacklist:<token>
type Denylist struct {
	client *redis.Client
}

// NewDenylist creates a Denylist wrapping the given Redis client.
func NewDenylist(client *redis.Client) *Denylist {
	return &Denylist{client: client}
}

// IsRevoked reports whether token was revoked before it expired.
func (d *Denylist) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("denylist check: %w", err)
	}
	return n > 0, nil
}

// Revoke denies token for ttl, which should cover its remaining lifetime.
func (d *Denylist) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	return d.client.Set(ctx, d.key(token), "1", ttl).Err()
}

func (d *Denylist) key(token string) string {
	return "blacklist:" + token
}
