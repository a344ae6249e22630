// Package cache stores serialized vehicle pages in Redis, keyed by a
// fingerprint of the listing parameters.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"vehicleinfo/internal/vehicle/models"
	"vehicleinfo/pkg/platform/circuit"
	"vehicleinfo/pkg/platform/sentinel"
)

const keyPrefix = "vehicles:list:"

// DefaultTTL applies when a non-positive TTL is configured.
const DefaultTTL = 60 * time.Second

// ErrCircuitOpen is returned without touching Redis while the breaker is open.
var ErrCircuitOpen = fmt.Errorf("vehicle cache circuit open: %w", sentinel.ErrUnavailable)

// PageCache is a Redis-backed cache of serialized page envelopes.
type PageCache struct {
	client  redis.Cmdable
	ttl     time.Duration
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type Option func(*PageCache)

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *PageCache) {
		if b != nil {
			c.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *PageCache) {
		c.logger = logger
	}
}

// New constructs a cache over client. The client lifecycle is managed externally.
func New(client redis.Cmdable, ttl time.Duration, opts ...Option) *PageCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &PageCache{
		client:  client,
		ttl:     ttl,
		breaker: circuit.New("vehicle-cache", circuit.WithFailureThreshold(3), circuit.WithSuccessThreshold(1)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Key fingerprints the parameters that determine a page's content.
func Key(q models.ListQuery) string {
	h := sha256.New()
	h.Write([]byte(strconv.Itoa(q.Page)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(q.Limit)))
	h.Write([]byte{'|'})
	h.Write([]byte(q.SortBy))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(int(q.SortOrder))))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// TTL reports the expiry applied by Set.
func (c *PageCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached payload for q. A miss returns sentinel.ErrNotFound.
func (c *PageCache) Get(ctx context.Context, q models.ListQuery) ([]byte, error) {
	if !c.breaker.Allow() {
		return nil, ErrCircuitOpen
	}
	payload, err := c.client.Get(ctx, Key(q)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.recordSuccess()
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		c.recordFailure(err)
		return nil, fmt.Errorf("cache get: %w", err)
	}
	c.recordSuccess()
	return payload, nil
}

// Set stores payload for q with the configured TTL.
func (c *PageCache) Set(ctx context.Context, q models.ListQuery, payload []byte) error {
	if !c.breaker.Allow() {
		return ErrCircuitOpen
	}
	if err := c.client.Set(ctx, Key(q), payload, c.ttl).Err(); err != nil {
		c.recordFailure(err)
		return fmt.Errorf("cache set: %w", err)
	}
	c.recordSuccess()
	return nil
}

// Delete evicts the entry for q. Deleting a missing key is not an error.
func (c *PageCache) Delete(ctx context.Context, q models.ListQuery) error {
	if !c.breaker.Allow() {
		return ErrCircuitOpen
	}
	if err := c.client.Del(ctx, Key(q)).Err(); err != nil {
		c.recordFailure(err)
		return fmt.Errorf("cache delete: %w", err)
	}
	c.recordSuccess()
	return nil
}

func (c *PageCache) recordFailure(err error) {
	if _, change := c.breaker.RecordFailure(); change.Opened && c.logger != nil {
		c.logger.Warn("vehicle cache circuit opened", "breaker", c.breaker.Name(), "error", err)
	}
}

func (c *PageCache) recordSuccess() {
	if _, change := c.breaker.RecordSuccess(); change.Closed && c.logger != nil {
		c.logger.Info("vehicle cache circuit closed", "breaker", c.breaker.Name())
	}
}
