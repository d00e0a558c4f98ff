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

	"messenger-platform/internal/auth"
	"messenger-platform/internal/call"
	"messenger-platform/internal/config"
	"messenger-platform/internal/directory"
	"messenger-platform/internal/gateway"
	"messenger-platform/internal/history"
	"messenger-platform/internal/httpapi"
	"messenger-platform/internal/media"
	"messenger-platform/internal/presence"
	sig "messenger-platform/internal/signal"
	"messenger-platform/pkg/logger"
	"messenger-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	issuer, err := media.NewIssuer(cfg.Media)
	if err != nil {
		log.Error("media issuer init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	bus := sig.NewRedisBus(rdb, log)
	dir := directory.NewPostgresDirectory(db)

	recorder := history.NewRecorder(
		history.NewPostgresConversationStore(db),
		history.NewPostgresMessageStore(db),
		dir,
		bus,
		log,
	)

	calls := call.NewService(
		call.NewPostgresStore(db),
		bus,
		call.NewRedisFence(rdb),
		issuer,
		recorder,
		call.NewSupervisor(),
		call.ServiceOptions{
			RingTimeout: cfg.Call.RingTimeout,
			EndFenceTTL: cfg.Call.EndFenceTTL,
			Logger:      log,
		},
	)

	bridge := presence.NewBridge(presence.NewRedisCounters(rdb, 0), bus, log)
	gw := gateway.New(authManager, calls, bridge, bus, gateway.Options{Logger: log})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, httpapi.Handlers{
		Auth:     authManager,
		Calls:    calls,
		Presence: bridge,
	}, gw, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
