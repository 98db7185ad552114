package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript starts or advances a window atomically and keeps the key
// alive until both the window and any lock have passed.
var incrementScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])

	local state = redis.call('HMGET', key, 'count', 'reset_at', 'locked_until')
	local count = tonumber(state[1])
	local reset_at = tonumber(state[2])
	local locked_until = tonumber(state[3]) or 0

	if count == nil or reset_at == nil or now_ms >= reset_at or (locked_until > 0 and now_ms >= locked_until) then
		count = 1
		reset_at = now_ms + window_ms
		locked_until = 0
	else
		count = count + 1
	end

	redis.call('HSET', key, 'count', count, 'reset_at', reset_at, 'locked_until', locked_until)
	local expire_at = reset_at
	if locked_until > expire_at then expire_at = locked_until end
	redis.call('PEXPIREAT', key, expire_at)

	return { count, reset_at, locked_until }
`)

// RedisStore keeps entries in Redis hashes so every server instance shares
// one count per key.  Keys expire on their own once they carry no
// information.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	vals, err := s.client.HMGet(ctx, key, "count", "reset_at", "locked_until").Result()
	if err != nil {
		return Entry{}, false, err
	}
	if len(vals) != 3 || vals[0] == nil || vals[1] == nil {
		return Entry{}, false, nil
	}
	count, err := asInt64(vals[0])
	if err != nil {
		return Entry{}, false, fmt.Errorf("count: %w", err)
	}
	resetAt, err := asInt64(vals[1])
	if err != nil {
		return Entry{}, false, fmt.Errorf("reset_at: %w", err)
	}
	var locked int64
	if vals[2] != nil {
		if locked, err = asInt64(vals[2]); err != nil {
			return Entry{}, false, fmt.Errorf("locked_until: %w", err)
		}
	}
	return Entry{Count: int(count), ResetAt: time.UnixMilli(resetAt), LockedUntil: fromMillis(locked)}, true, nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (Entry, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{key}, now.UnixMilli(), window.Milliseconds()).Int64Slice()
	if err != nil {
		return Entry{}, err
	}
	if len(res) != 3 {
		return Entry{}, fmt.Errorf("unexpected script result length: %d", len(res))
	}
	return Entry{Count: int(res[0]), ResetAt: time.UnixMilli(res[1]), LockedUntil: fromMillis(res[2])}, nil
}

func (s *RedisStore) SetLockout(ctx context.Context, key string, until time.Time) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "locked_until", until.UnixMilli())
		// Once the lock passes the next increment starts a fresh window,
		// so nothing in the entry is needed after until.
		p.PExpireAt(ctx, key, until)
		return nil
	})
	return err
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func asInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	}
	return 0, fmt.Errorf("unexpected type %T", v)
}
