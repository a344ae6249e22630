package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"vehicleinfo/internal/platform/config"
	platformmongo "vehicleinfo/internal/platform/mongo"
	platformredis "vehicleinfo/internal/platform/redis"
	"vehicleinfo/internal/vehicle/cache"
	"vehicleinfo/internal/vehicle/service"
	"vehicleinfo/internal/vehicle/store"
)

type openedStore struct {
	store service.Store
	close func(ctx context.Context) error
}

// openStore connects the configured document store. The mongo driver retries
// the initial connection; exhausting the retries is fatal to the caller.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (*openedStore, error) {
	switch cfg.Vehicles.StoreDriver {
	case config.StoreDriverMemory:
		mem := store.NewInMemoryStore()
		if path := cfg.Vehicles.MemorySeedFile; path != "" {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open seed file: %w", err)
			}
			defer f.Close()
			if err := mem.LoadExtJSON(f); err != nil {
				return nil, err
			}
			log.Info("memory store seeded", "file", path)
		}
		return &openedStore{store: mem, close: func(context.Context) error { return nil }}, nil

	case config.StoreDriverMongo:
		client, err := platformmongo.Connect(ctx, cfg.Mongo, log)
		if err != nil {
			return nil, err
		}
		return &openedStore{store: store.NewMongoStore(client.Database()), close: client.Close}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Vehicles.StoreDriver)
	}
}

type openedCache struct {
	cache *cache.PageCache
	close func() error
}

// openCache returns nil when REDIS_URL is unset.
func openCache(ctx context.Context, cfg config.Config, log *slog.Logger) (*openedCache, error) {
	client, err := platformredis.Connect(ctx, cfg.Redis, log)
	if err != nil {
		return nil, err
	}
	if client == nil {
		log.Info("vehicle cache disabled: REDIS_URL not set")
		return nil, nil
	}
	pc := cache.New(client.Cmdable(), cfg.Vehicles.CacheTTL, cache.WithLogger(log))
	log.Info("vehicle cache enabled", "ttl", pc.TTL().String())
	return &openedCache{cache: pc, close: client.Close}, nil
}
