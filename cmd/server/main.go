package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vehicleinfo/internal/platform/config"
	"vehicleinfo/internal/platform/httpserver"
	"vehicleinfo/internal/platform/logger"
	"vehicleinfo/internal/platform/metrics"
	"vehicleinfo/internal/platform/ratelimit"
	httptransport "vehicleinfo/internal/transport/http"
	vehiclehandler "vehicleinfo/internal/vehicle/handler"
	vehiclemetrics "vehicleinfo/internal/vehicle/metrics"
	"vehicleinfo/internal/vehicle/pipeline"
	"vehicleinfo/internal/vehicle/service"
)

const shutdownTimeout = 10 * time.Second

// main wires configuration, stores and the HTTP router, then serves until
// SIGINT or SIGTERM.
func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(log)

	// A malformed join pipeline can never serve a request.
	if _, err := pipeline.BuildVehiclePipeline(); err != nil {
		log.Error("vehicle pipeline invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("store unavailable", "driver", cfg.Vehicles.StoreDriver, "error", err)
		os.Exit(1)
	}

	reg := prometheus.DefaultRegisterer
	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(vehiclemetrics.New(reg)),
	}
	pageCache, err := openCache(ctx, cfg, log)
	if err != nil {
		log.Warn("vehicle cache disabled", "error", err)
	}
	if pageCache != nil {
		opts = append(opts, service.WithCache(pageCache.cache))
	}
	svc := service.New(st.store, opts...)

	var limiter *ratelimit.SlidingWindow
	if cfg.Server.RateLimitRequests > 0 {
		limiter = ratelimit.NewSlidingWindow(cfg.Server.RateLimitRequests, cfg.Server.RateLimitWindow, nil)
		go ratelimit.RunSweeper(ctx, limiter, cfg.Server.RateLimitWindow)
	}

	router := httptransport.NewRouter(httptransport.Config{
		Logger:            log,
		Metrics:           metrics.New(reg),
		Gatherer:          prometheus.DefaultGatherer,
		RequestTimeout:    cfg.Server.RequestTimeout,
		RateLimiter:       limiter,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
		Modules:           []httptransport.RouteRegistrar{vehiclehandler.New(svc, log)},
	})
	srv := httpserver.New(cfg.Server.Addr, router, cfg.Server.RequestTimeout)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting vehicle info api", "addr", cfg.Server.Addr, "store", cfg.Vehicles.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			log.Error("server error", "error", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		exitCode = 1
	}
	if pageCache != nil {
		if err := pageCache.close(); err != nil {
			log.Warn("redis close failed", "error", err)
		}
	}
	if err := st.close(shutdownCtx); err != nil {
		log.Warn("store close failed", "error", err)
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
