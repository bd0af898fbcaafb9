package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olyamironova/quote-engine/internal/adapter/cache"
	"github.com/olyamironova/quote-engine/internal/adapter/exchange"
	"github.com/olyamironova/quote-engine/internal/adapter/in_memory"
	"github.com/olyamironova/quote-engine/internal/adapter/pg"
	grpcapi "github.com/olyamironova/quote-engine/internal/api/grpc"
	httpapi "github.com/olyamironova/quote-engine/internal/api/http"
	"github.com/olyamironova/quote-engine/internal/api/ws"
	"github.com/olyamironova/quote-engine/internal/config"
	"github.com/olyamironova/quote-engine/internal/core"
	"github.com/olyamironova/quote-engine/internal/logger"
	"github.com/olyamironova/quote-engine/internal/port"
	"github.com/olyamironova/quote-engine/internal/ratelimit"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	log := logger.New()
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Fatal("failed to configure logger")
	}
	mainLog := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store port.Cache
	if cfg.Redis.Enabled {
		rc := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rc.Ping(pingCtx); err != nil {
			mainLog.WithError(err).Warn("redis not reachable at startup, rate limiting will deny requests until it is")
		}
		cancel()
		store = rc
	} else {
		mc := in_memory.NewCache()
		go sweep(ctx, mc, time.Minute)
		store = mc
		mainLog.Info("redis disabled, using in-process cache")
	}
	defer store.Close()

	var creds port.CredentialStore = exchange.StaticCredentials(cfg.Exchanges.Credentials)
	var keyStore port.CredentialWriter
	if cfg.Postgres.Enabled {
		pgStore, err := pg.NewCredentialStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			mainLog.WithError(err).Fatal("failed to create postgres pool")
		}
		defer pgStore.Close()
		if err := pgStore.EnsureSchema(ctx); err != nil {
			mainLog.WithError(err).Warn("could not ensure exchange_keys schema")
		}
		creds, keyStore = pgStore, pgStore
	}

	registry := exchange.NewRegistry(cfg.Exchanges, creds, log)
	engine := core.NewEngine(registry, store, core.Options{
		CallTimeout:    cfg.Exchanges.CallTimeout,
		MaxConcurrency: cfg.Exchanges.MaxConcurrency,
		AggregateTTL:   cfg.Cache.AggregateTTL,
		OrderBookTTL:   cfg.Cache.OrderBookTTL,
		ExtraTakerFee:  cfg.Exchanges.ExtraTakerFee,
		ExtraMakerFee:  cfg.Exchanges.ExtraMakerFee,
		Supported:      exchange.Supported(),
	}, log)
	limiter := ratelimit.New(store, cfg.RateLimit.Requests, cfg.RateLimit.Window)
	hub := ws.NewHub(engine, registry, cfg.WebSocket.PollInterval, cfg.WebSocket.SendBuffer, log)
	defer hub.Close()

	httpOpts := httpapi.Options{
		Hub:               hub,
		TrustedProxies:    cfg.RateLimit.TrustedProxies,
		TrustClientHeader: cfg.RateLimit.TrustClientHeader,
	}
	if keyStore != nil {
		httpOpts.Keys = core.NewKeys(keyStore, exchange.Supported(), log)
	}
	httpServer := httpapi.NewHTTPServer(engine, limiter, httpOpts, log)
	errs := make(chan error, 2)
	go func() { errs <- httpServer.Run(cfg.Server.HTTPAddr) }()

	var grpcServer *grpcapi.GRPCServer
	if cfg.Server.GRPCAddr != "" {
		grpcServer = grpcapi.NewGRPCServer(engine, limiter, cfg.RateLimit.TrustClientHeader, log)
		go func() { errs <- grpcServer.Run(cfg.Server.GRPCAddr) }()
	}

	select {
	case <-ctx.Done():
		mainLog.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			mainLog.WithError(err).Error("server stopped unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		mainLog.WithError(err).Error("http shutdown failed")
	}
	if grpcServer != nil {
		grpcServer.Stop()
	}
	mainLog.Info("quote engine stopped")
}

// sweep reclaims expired in-process cache entries.
func sweep(ctx context.Context, c *in_memory.Cache, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Sweep()
		}
	}
}
