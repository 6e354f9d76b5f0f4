package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sapliy/txrelay/internal/outbox"
)

// DefaultRelayLockKey is the key the relay lease lives under.
const DefaultRelayLockKey = "outbox:relay:lock"

// Deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is a SET NX PX lock with a random owner token. The TTL must exceed
// the longest dispatch cycle; an expired lease can be taken by another relay.
type Lease struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	token  string
}

var _ outbox.Locker = (*Lease)(nil)

func NewLease(client redis.UniversalClient, key string, ttl time.Duration) *Lease {
	if key == "" {
		key = DefaultRelayLockKey
	}
	return &Lease{client: client, key: key, ttl: ttl, token: uuid.NewString()}
}

func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *Lease) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
