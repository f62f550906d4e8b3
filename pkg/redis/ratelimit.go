package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
	RetryIn   time.Duration
}

// RateLimiter is a sliding-window limiter over a Redis sorted set.
type RateLimiter struct {
	client    *Client
	keyPrefix string
	now       func() time.Time
}

var slidingWindowScript = goredis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call("zremrangebyscore", key, "-inf", window_start)

	local current = redis.call("zcard", key)

	if current < limit then
		redis.call("zadd", key, now, now .. "-" .. math.random())
		redis.call("pexpire", key, window_ms)
		return {1, limit - current - 1}
	else
		local oldest = redis.call("zrange", key, 0, 0, "WITHSCORES")
		if #oldest > 0 then
			return {0, 0, oldest[2]}
		end
		return {0, 0, 0}
	end
`)

func NewRateLimiter(client *Client, keyPrefix string) *RateLimiter {
	if keyPrefix == "" {
		keyPrefix = "lifecycle:ratelimit:"
	}
	return &RateLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		// zrange WITHSCORES comes back as strings
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(n, 64)
			if ferr != nil {
				return 0, err
			}
			return int64(f), nil
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}

func (r *RateLimiter) blockKey(key string) string {
	return r.keyPrefix + key + ":block"
}

// BlockFor blocks key for d, e.g. after a provider answers 429.
func (r *RateLimiter) BlockFor(ctx context.Context, key string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.blockKey(key), "1", d)
}

// IsBlocked returns whether key is blocked and for how long.
func (r *RateLimiter) IsBlocked(ctx context.Context, key string) (bool, time.Duration, error) {
	exists, err := r.client.Exists(ctx, r.blockKey(key))
	if err != nil {
		return false, 0, err
	}
	if !exists {
		return false, 0, nil
	}
	ttl, err := r.client.TTL(ctx, r.blockKey(key))
	if err != nil {
		return true, 0, err
	}
	if ttl < 0 {
		ttl = 0
	}
	return true, ttl, nil
}

// Allow records one hit for key if fewer than limit hits landed in the last window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error) {
	now := r.now()
	windowStart := now.Add(-window)

	if blocked, ttl, err := r.IsBlocked(ctx, key); err == nil && blocked {
		return &RateLimitResult{
			Allowed: false,
			ResetAt: now.Add(ttl),
			RetryIn: ttl,
		}, nil
	}

	result, err := slidingWindowScript.Run(ctx, r.client.rdb, []string{r.keyPrefix + key},
		now.UnixMilli(),
		windowStart.UnixMilli(),
		limit,
		window.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, err
	}

	allowedFlag, err := toInt64(result[0])
	if err != nil {
		return nil, err
	}
	remaining, err := toInt64(result[1])
	if err != nil {
		return nil, err
	}

	res := &RateLimitResult{
		Allowed:   allowedFlag == 1,
		Remaining: remaining,
		ResetAt:   now.Add(window),
	}

	if !res.Allowed && len(result) > 2 {
		oldestMs, err := toInt64(result[2])
		if err != nil {
			return nil, err
		}
		if oldestMs > 0 {
			res.RetryIn = time.UnixMilli(oldestMs).Add(window).Sub(now)
		}
	}

	return res, nil
}

// SendThrottle caps provider sends per (restaurant, channel).
type SendThrottle struct {
	limiter *RateLimiter
	limit   int64
	window  time.Duration
}

func NewSendThrottle(limiter *RateLimiter, limit int64, window time.Duration) *SendThrottle {
	return &SendThrottle{limiter: limiter, limit: limit, window: window}
}

// ThrottleKey is the limiter key of a restaurant's channel.
func ThrottleKey(restaurantID uuid.UUID, channel models.Channel) string {
	return "send:" + restaurantID.String() + ":" + string(channel)
}

// Allow consumes one send slot. When the window is exhausted or the channel is
// backing off it returns false and how long until a send may go out. Without a
// limit only the backoff applies.
func (t *SendThrottle) Allow(ctx context.Context, restaurantID uuid.UUID, channel models.Channel) (bool, time.Duration, error) {
	key := ThrottleKey(restaurantID, channel)
	if t.limit <= 0 {
		blocked, retryIn, err := t.limiter.IsBlocked(ctx, key)
		if err != nil {
			return false, 0, err
		}
		return !blocked, retryIn, nil
	}
	res, err := t.limiter.Allow(ctx, key, t.limit, t.window)
	if err != nil {
		return false, 0, err
	}
	return res.Allowed, res.RetryIn, nil
}

// Backoff blocks a restaurant's channel for d, e.g. after the provider answered
// 429.
func (t *SendThrottle) Backoff(ctx context.Context, restaurantID uuid.UUID, channel models.Channel, d time.Duration) error {
	return t.limiter.BlockFor(ctx, ThrottleKey(restaurantID, channel), d)
}
