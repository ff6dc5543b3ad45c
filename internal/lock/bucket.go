package lock

import (
	"context"
	"errors"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Refills at ARGV[1] tokens per second up to ARGV[2], using the redis
// server clock so every API replica shares one bucket per key.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
  ts = now
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  tokens = math.min(burst, tokens + (delta / 1000) * rate)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HMSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, math.floor(tokens * 1000)}
`

var ErrInvalidRate = errors.New("rate_limit_invalid")

type TokenBucket struct {
	client redis.UniversalClient
	script *redis.Script
}

type Allowance struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

func NewTokenBucket(client redis.UniversalClient) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

func (b *TokenBucket) Enabled() bool {
	return b != nil && b.client != nil
}

// Allow takes one token from the bucket at key.
func (b *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (Allowance, error) {
	if !b.Enabled() {
		return Allowance{}, ErrNotConfigured
	}
	if key == "" {
		return Allowance{}, ErrEmptyKey
	}
	if rate <= 0 || burst <= 0 {
		return Allowance{}, ErrInvalidRate
	}

	res, err := b.script.Run(ctx, b.client, []string{key},
		rate,
		burst,
		bucketTTL(rate, burst).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Allowance{}, err
	}
	if len(res) < 2 {
		return Allowance{}, errors.New("unexpected token bucket reply")
	}

	// Lua numbers are truncated to integers on the way out, so the script
	// reports milli-tokens.
	remaining := float64(res[1]) / 1000
	out := Allowance{
		Allowed:   res[0] == 1,
		Remaining: int(remaining),
	}
	if !out.Allowed {
		out.RetryAfter = time.Duration((1 - remaining) / rate * float64(time.Second))
	}
	return out, nil
}

func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil((float64(burst) / rate) * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}
