// Package reauth tracks step-up re-authentication.
//
// A user re-enters their credential, the caller marks the (user, session) pair,
// and for the configured window sensitive operations such as impersonation are
// permitted and audit entries record recent_reauth=true. Marks are bound to the
// session id, so a step-up on one device does not unlock another.
package reauth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
)

// DefaultWindow is how long a step-up stays valid
const DefaultWindow = 10 * time.Minute

// Tracker records and checks step-up re-authentication
type Tracker interface {
	Mark(ctx context.Context, userID int64, sessionID string) error
	Recent(ctx context.Context, userID int64, sessionID string) (bool, error)
}

func key(userID int64, sessionID string) string {
	return fmt.Sprintf("reauth:%d:%s", userID, sessionID)
}

// LRUTracker keeps marks in a bounded in-process cache
type LRUTracker struct {
	window time.Duration
	clock  clockwork.Clock
	cache  *lru.LRU[string, time.Time]
}

// NewLRUTracker creates a tracker holding at most size marks
func NewLRUTracker(window time.Duration, size int, clock clockwork.Clock) *LRUTracker {
	if window <= 0 {
		window = DefaultWindow
	}
	if size < 16 {
		size = 16
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LRUTracker{
		window: window,
		clock:  clock,
		cache:  lru.NewLRU[string, time.Time](size, nil, window),
	}
}

// Mark records a step-up for the session at the current time
func (t *LRUTracker) Mark(_ context.Context, userID int64, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	t.cache.Add(key(userID, sessionID), t.clock.Now())
	return nil
}

// Recent reports whether the session stepped up within the window
func (t *LRUTracker) Recent(_ context.Context, userID int64, sessionID string) (bool, error) {
	at, ok := t.cache.Get(key(userID, sessionID))
	if !ok {
		return false, nil
	}
	return t.clock.Since(at) < t.window, nil
}

// RedisTracker shares marks between instances through Redis
type RedisTracker struct {
	client redis.UniversalClient
	window time.Duration
	prefix string
}

// NewRedisTracker creates a tracker on an existing client
func NewRedisTracker(client redis.UniversalClient, window time.Duration) *RedisTracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisTracker{client: client, window: window, prefix: "backoffice:"}
}

// NewRedisClient parses url and verifies the connection
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Mark stores the step-up with the window as TTL
func (t *RedisTracker) Mark(ctx context.Context, userID int64, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if err := t.client.Set(ctx, t.prefix+key(userID, sessionID), time.Now().Unix(), t.window).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Recent reports whether the mark still exists
func (t *RedisTracker) Recent(ctx context.Context, userID int64, sessionID string) (bool, error) {
	n, err := t.client.Exists(ctx, t.prefix+key(userID, sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}
