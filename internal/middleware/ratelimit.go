package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/trainsync/internal/metrics"
)

const counterDownBody = `{"error":"unavailable","message":"please retry shortly"}` + "\n"

const rateLimitedBody = `{"error":"too_many_requests","message":"too many attempts, try again later"}` + "\n"

// RateLimit limits each client IP to requests per window on the routes it
// wraps. A nil counter uses httprate's in-memory sliding window, which is
// per process. Pass a RedisCounter to share windows across replicas.
func RateLimit(requests int, window time.Duration, counter httprate.LimitCounter, logger *slog.Logger) func(http.Handler) http.Handler {
	opts := []httprate.Option{
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.RateLimitRejectionsTotal.WithLabelValues(r.URL.Path).Inc()
			if w.Header().Get("Retry-After") == "" {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(rateLimitedBody))
		}),
		httprate.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("rate limit counter failed", slog.String("error", err.Error()))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(counterDownBody))
		}),
	}
	if counter != nil {
		opts = append(opts, httprate.WithLimitCounter(counter))
	}
	return httprate.Limit(requests, window, opts...)
}

// RedisCounter implements httprate.LimitCounter on Redis so every replica
// sees the same windows. Each (key, window) pair is one INCR counter that
// expires after two windows, which is all the sliding estimate needs.
type RedisCounter struct {
	client    redis.Cmdable
	prefix    string
	window    time.Duration
	opTimeout time.Duration
}

var _ httprate.LimitCounter = (*RedisCounter)(nil)

func NewRedisCounter(client redis.Cmdable, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix, window: time.Minute, opTimeout: time.Second}
}

func (c *RedisCounter) Config(requestLimit int, windowLength time.Duration) {
	c.window = windowLength
}

func (c *RedisCounter) Increment(key string, currentWindow time.Time) error {
	return c.IncrementBy(key, currentWindow, 1)
}

func (c *RedisCounter) IncrementBy(key string, currentWindow time.Time, amount int) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()

	k := c.key(key, currentWindow)
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.IncrBy(ctx, k, int64(amount))
		p.Expire(ctx, k, 2*c.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ratelimit: incrementing %s: %w", k, err)
	}
	return nil
}

func (c *RedisCounter) Get(key string, currentWindow, previousWindow time.Time) (int, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()

	vals, err := c.client.MGet(ctx, c.key(key, currentWindow), c.key(key, previousWindow)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("ratelimit: reading counters: %w", err)
	}
	return counterValue(vals[0]), counterValue(vals[1]), nil
}

func (c *RedisCounter) key(key string, window time.Time) string {
	return fmt.Sprintf("%s:%s:%d", c.prefix, key, window.Unix())
}

// counterValue converts an MGET element (nil for a missing key, string
// otherwise) to a count.
func counterValue(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
