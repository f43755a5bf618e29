package redis

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// fixedWindowScript counts a hit and starts the window on the first one. A
// counter found without an expiry is given one, so a crashed caller cannot
// leave a key that never resets. Returns {count, pttl}.
const fixedWindowScript = `
local n = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}`

// compareAndDeleteScript removes KEYS[1] only while it still holds ARGV[1].
const compareAndDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`

// Window is the state of one fixed-window counter after a hit.
type Window struct {
	Allowed bool
	Count   int64
	ResetIn time.Duration
}

// FixedWindowAllow counts a hit against scope and reports whether the count
// is still within limit.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (Window, error) {
	if c.store == nil {
		return Window{}, errNotInitialized
	}
	if window < time.Millisecond {
		return Window{}, errors.New("rate limit window must be at least 1ms")
	}
	key := c.RateLimitKey(scope)
	vals, err := c.store.Eval(ctx, fixedWindowScript, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("fixed window %s: %w", key, err)
	}
	if len(vals) != 2 {
		return Window{}, fmt.Errorf("fixed window %s: unexpected reply %v", key, vals)
	}
	return Window{
		Allowed: vals[0] <= limit,
		Count:   vals[0],
		ResetIn: time.Duration(vals[1]) * time.Millisecond,
	}, nil
}

// CompareAndDelete deletes key only if it still holds expected. It reports
// whether the key was removed.
func (c *Client) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if c.store == nil {
		return false, errNotInitialized
	}
	removed, err := c.store.Eval(ctx, compareAndDeleteScript, []string{key}, expected).Int64()
	if err != nil {
		return false, fmt.Errorf("compare and delete %s: %w", key, err)
	}
	return removed == 1, nil
}
