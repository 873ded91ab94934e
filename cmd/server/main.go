package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"walias/internal/audit"
	"walias/internal/domains"
	"walias/internal/platform/config"
	"walias/internal/platform/httpserver"
	"walias/internal/platform/logger"
	"walias/internal/platform/metrics"
	platformredis "walias/internal/platform/redis"
	"walias/internal/storage"
	httptransport "walias/internal/transport/http"
	"walias/internal/user"
	"walias/internal/walias"
	"walias/internal/wallet"
)

// main wires the dependency graph and owns the server lifecycle. Business
// logic lives in the internal services; everything here is assembly.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Empty DATABASE_URL selects the in-memory store for local development.
	var store storage.Store
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			log.Error("migration failed", "error", err)
			os.Exit(1)
		}
		store = pg
		log.Info("storage ready", "backend", "postgres")
	} else {
		store = storage.NewMemory()
		log.Warn("DATABASE_URL not set, using in-memory storage")
	}

	rdb, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis connect failed", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var emitter *audit.Emitter
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			log.Error("kafka connect failed", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		emitter = audit.NewEmitter(publisher, log)
		log.Info("audit publisher ready", "topic", cfg.AuditTopic)
	}

	domainOpts := []domains.Option{
		domains.WithLogger(log), domains.WithMetrics(m), domains.WithAudit(emitter),
	}
	waliasOpts := []walias.Option{
		walias.WithLogger(log), walias.WithMetrics(m), walias.WithAudit(emitter),
	}
	if rdb != nil {
		cache := walias.NewRedisCache(rdb, 5*time.Minute)
		waliasOpts = append(waliasOpts, walias.WithCache(cache))
		// Domain deletion cascades waliases, so it has to drop their
		// cached resolutions too.
		domainOpts = append(domainOpts, domains.WithAliasInvalidator(cache))
	}
	domainSvc := domains.NewService(store, domains.NewHTTPFetcher(cfg.VerifyTimeout), domainOpts...)
	waliasSvc := walias.NewService(store, walias.FixedOracle{Price: 21}, waliasOpts...)

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:   log,
		Metrics:  m,
		Store:    store,
		Redis:    rdb,
		Domains:  domainSvc,
		Waliases: waliasSvc,
		Users:    user.NewService(store, log),
		Wallets:  wallet.NewService(store, log, emitter),
	})

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("walias directory listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	if err := httpserver.Shutdown(srv); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
