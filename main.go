package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scrap-pickup-api/catalog"
	"scrap-pickup-api/config"
	"scrap-pickup-api/handlers"
	"scrap-pickup-api/identity"
	"scrap-pickup-api/lifecycle"
	"scrap-pickup-api/logger"
	"scrap-pickup-api/metrics"
	"scrap-pickup-api/reconcile"
	"scrap-pickup-api/routes"
	"scrap-pickup-api/store"
)

func main() {
	cfg := config.Load()

	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	} else if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.Init(cfg.Server.Env, cfg.Log.Level, "scrap-pickup-api")
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Options{
		RemoteDriver:  cfg.Store.RemoteDriver,
		RemoteDSN:     cfg.Store.RemoteDSN,
		RemoteTimeout: cfg.Store.RemoteTimeout,
		DataFile:      cfg.Store.DataFile,
	}, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()
	metrics.SetActiveBackend(st.BackendName())

	var cache identity.TokenCache = identity.NoopCache{}
	if cfg.Cache.RedisURL != "" {
		redisCache, err := identity.NewRedisTokenCache(cfg.Cache.RedisURL, cfg.Cache.TokenTTL)
		if err != nil {
			log.Warn("token cache disabled", zap.Error(err))
		} else {
			log.Info("using redis token cache")
			defer redisCache.Close()
			cache = redisCache
		}
	}

	ids := identity.NewService(st, cache, cfg.Admin.Phones, log)
	cat := catalog.NewService(st, ids, log)
	engine := lifecycle.NewEngine(st, ids, log)
	jobs := reconcile.NewJobs(st, ids, log)

	if cfg.Store.SeedScrapTypes {
		if _, err := cat.SeedDefaults(ctx); err != nil {
			log.Warn("seeding scrap types failed", zap.Error(err))
		}
	}
	jobs.RunAll(ctx)
	jobs.Start(ctx, cfg.Reconcile.Interval)

	h := handlers.New(st, ids, cat, engine, jobs, log)
	router := routes.NewRouter(h, ids, routes.Options{CORSOrigin: cfg.Server.CORSOrigin, Log: log})

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", server.Addr), zap.String("backend", st.BackendName()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", zap.Error(err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
}
