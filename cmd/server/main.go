// @title                       Group Meditation API
// @version                     1.0
// @description                 Real-time coordination of group meditation sessions.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @description                 Type "Bearer" followed by a space and the JWT.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"

	"github.com/mindspace/group-meditation/internal/api"
	"github.com/mindspace/group-meditation/internal/api/handler"
	"github.com/mindspace/group-meditation/internal/core/ports"
	"github.com/mindspace/group-meditation/internal/core/service"
	"github.com/mindspace/group-meditation/internal/gateway"
	"github.com/mindspace/group-meditation/internal/infrastructure/db/mongo"
	"github.com/mindspace/group-meditation/internal/infrastructure/db/postgres"
	"github.com/mindspace/group-meditation/internal/infrastructure/db/redis"
	"github.com/mindspace/group-meditation/internal/pkg/config"
	"github.com/mindspace/group-meditation/internal/worker/liveness"
	"github.com/mindspace/group-meditation/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.Init(logger.Options{
		Level:     cfg.LogLevel,
		Pretty:    cfg.IsDevelopment(),
		ProcessID: cfg.ProcessID,
	})

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	// --- Redis: directory, fan-out, cache, denylist ---
	rdb, err := redis.Connect(ctx, redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer rdb.Close()

	checks := map[string]handler.DependencyCheck{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}

	// --- Session store ---
	store, closeStore, err := openSessionStore(ctx, cfg, checks)
	if err != nil {
		return err
	}
	defer closeStore()

	// --- Core ---
	directory := redis.NewDirectory(rdb)
	fanout := redis.NewFanout(rdb, cfg.Gateway.FanoutChannel, logger.For("fanout"))
	hub := gateway.NewHub(cfg.ProcessID, fanout, cfg.Gateway.DeliveryWorkers, logger.For("hub"))

	coordinator := service.NewCoordinator(
		directory,
		store,
		redis.NewCacheInvalidator(rdb),
		hub,
		logger.For("coordinator"),
	)
	verifier := service.NewTokenVerifier(cfg.JWTSecret, redis.NewDenylist(rdb))

	job := liveness.NewJob(directory, coordinator, liveness.Config{
		ProcessID:         cfg.ProcessID,
		HeartbeatInterval: cfg.Liveness.HeartbeatInterval,
		HeartbeatTTL:      cfg.Liveness.HeartbeatTTL,
		ReapInterval:      cfg.Liveness.ReapInterval,
	}, logger.For("liveness"))
	if err := job.Beat(ctx); err != nil {
		return err
	}

	if err := hub.Run(ctx); err != nil {
		return err
	}
	go job.Run(ctx)

	// --- HTTP ---
	socket := gateway.NewServer(hub, coordinator, gateway.Options{
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		SendQueueSize:  cfg.Gateway.SendQueueSize,
		EventTimeout:   cfg.Gateway.EventTimeout,
	}, logger.For("gateway"))

	e := api.NewRouter(api.Dependencies{
		Log:         logger.For("http"),
		Verifier:    verifier,
		Coordinator: coordinator,
		Socket:      socket,
		Checks:      checks,
		SocketPath:  cfg.Gateway.Path,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("session_store", cfg.SessionStore).
			Str("ws_path", cfg.Gateway.Path).
			Msg("server starting")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websockets are not tracked by the HTTP server; close them so
	// their memberships are released before the process exits.
	hub.CloseAll()
	if err := socket.Drain(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("websocket sessions still open at shutdown")
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

// openSessionStore connects the configured backend and registers its readiness check.
func openSessionStore(ctx context.Context, cfg *config.Config, checks map[string]handler.DependencyCheck) (ports.SessionStore, func(), error) {
	switch cfg.SessionStore {
	case config.StorePostgres:
		if err := postgres.RunMigrations(cfg.Postgres.URL); err != nil {
			return nil, nil, err
		}
		db, err := postgres.Open(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, err
		}
		checks["postgres"] = func(ctx context.Context) error { return db.PingContext(ctx) }
		return postgres.NewSessionRepository(db), closeDB(db), nil

	default:
		client, db, err := mongo.Connect(ctx, mongo.Config{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
		})
		if err != nil {
			return nil, nil, err
		}
		repo := mongo.NewSessionRepository(db)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = mongo.Disconnect(context.Background(), client)
			return nil, nil, err
		}
		checks["mongodb"] = mongoCheck(db)
		return repo, func() { _ = mongo.Disconnect(context.Background(), client) }, nil
	}
}

func mongoCheck(db *mongodriver.Database) handler.DependencyCheck {
	return func(ctx context.Context) error {
		return db.RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
	}
}

func closeDB(db *sql.DB) func() {
	return func() { _ = db.Close() }
}
