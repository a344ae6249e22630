package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"vehicleinfo/internal/platform/config"
	"vehicleinfo/internal/platform/retry"
	"vehicleinfo/pkg/platform/sentinel"
)

// Client owns the driver client and the selected database.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB and pings the primary, retrying with a fixed backoff.
// Exhausting the retries returns an error wrapping sentinel.ErrUnavailable.
func Connect(ctx context.Context, cfg config.Mongo, logger *slog.Logger) (*Client, error) {
	policy := retry.NewPolicy(cfg.ConnectRetries, cfg.ConnectBackoff)

	var client *mongo.Client
	err := policy.Do(ctx, func(ctx context.Context) error {
		opts := options.Client().ApplyURI(cfg.URI)
		if cfg.MaxPoolSize > 0 {
			opts.SetMaxPoolSize(cfg.MaxPoolSize)
		}
		if cfg.ServerSelectionTimeout > 0 {
			opts.SetServerSelectionTimeout(cfg.ServerSelectionTimeout)
		}
		c, err := mongo.Connect(opts)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		if err := c.Ping(ctx, readpref.Primary()); err != nil {
			_ = c.Disconnect(context.Background())
			return fmt.Errorf("ping: %w", err)
		}
		client = c
		return nil
	}, func(attempt int, err error) {
		if logger != nil {
			logger.WarnContext(ctx, "mongodb connection failed, retrying",
				"attempt", attempt,
				"max_attempts", policy.Attempts,
				"backoff", policy.Backoff.String(),
				"error", err,
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("mongodb %w: %w", sentinel.ErrUnavailable, err)
	}

	if logger != nil {
		logger.InfoContext(ctx, "mongodb connected", "database", cfg.Database)
	}
	return &Client{client: client, db: client.Database(cfg.Database)}, nil
}

// Database returns the configured database handle.
func (c *Client) Database() *mongo.Database {
	return c.db
}

// Health pings the primary.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the driver client.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}
