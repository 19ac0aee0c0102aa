package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "callsync/docs"
	"callsync/internal/auth"
	"callsync/internal/config"
	cronrunner "callsync/internal/cron"
	"callsync/internal/db"
	"callsync/internal/feed"
	"callsync/internal/handler"
	"callsync/internal/logger"
	gormrepository "callsync/internal/repository/gorm"
	"callsync/internal/searchindex"
	"callsync/internal/service"
)

func main() {
	cfgPath := os.Getenv("CS_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("CS_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log, cfg.App.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		log.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		log.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		log.Warn("init default system switches failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sessionFeed feed.SessionFeed = feed.NewClient(cfg.Upstream)
	if cfg.Upstream.Breaker.Enabled {
		sessionFeed = feed.NewBreakerFeed(sessionFeed, cfg.Upstream.Breaker, logger.Component(log, "feed"))
	}

	indexer, pinger := initSearchIndex(ctx, cfg, log)
	var outbox *searchindex.Outbox
	if indexer != nil {
		outbox = searchindex.NewOutbox(indexer, searchindex.OutboxOptions{
			Workers:   cfg.SearchIndex.Workers,
			QueueSize: cfg.SearchIndex.QueueSize,
			Timeout:   cfg.SearchIndex.Timeout,
		}, logger.Component(log, "searchindex"))
		outbox.Start(context.WithoutCancel(ctx))
	}

	syncSvc := &service.RecordingSyncService{
		Repo:     store,
		Feed:     sessionFeed,
		Upserter: &service.RecordingUpsertService{Repo: store, Logger: logger.Component(log, "upsert")},
		Settings: settingsSvc,
		Guard:    service.NewRunGuard(),
		Logger:   logger.Component(log, "sync"),
		Config:   cfg.RecordingSync,
	}
	var rebuildSvc *service.IndexRebuildService
	if outbox != nil {
		syncSvc.Index = outbox
		rebuildSvc = &service.IndexRebuildService{
			Repo:      store,
			Queue:     outbox,
			Guard:     service.NewRunGuard(),
			BatchSize: cfg.SearchIndex.BatchSize,
			Logger:    logger.Component(log, "rebuild"),
		}
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(auth.RequireRoleMiddleware(cfg.Auth, logger.Component(log, "auth")))

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	if pinger != nil {
		healthHandler.Index = pinger
	}
	healthHandler.Register(engine)
	handler.RegisterDocs(engine)
	syncHandler := &handler.RecordingSyncHandler{
		Sync:    syncSvc,
		Rebuild: rebuildSvc,
		Logger:  logger.Component(log, "http"),
	}
	syncHandler.Register(engine)
	settingsHandler := &handler.SettingsHandler{Settings: settingsSvc}
	settingsHandler.Register(engine)

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	cronRunner := cronrunner.New(logger.Component(log, "cron"), ctx)
	scheduler := &service.SyncScheduler{
		Sync:     syncSvc,
		Settings: settingsSvc,
		Cron:     cronRunner,
		Spec:     cfg.Cron.RecordingSync,
		Logger:   logger.Component(log, "scheduler"),
	}
	if cfg.Cron.Enabled {
		if err := scheduler.Register(); err != nil {
			log.Warn("cron register recording sync failed", zap.Error(err))
		}
	}
	cronRunner.Start()
	scheduler.RecordNextRun(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	cronRunner.Stop()
	if outbox != nil {
		outbox.Close()
		st := outbox.Stats()
		log.Info("search index outbox drained",
			zap.Uint64("dispatched", st.Dispatched),
			zap.Uint64("failed", st.Failed),
			zap.Uint64("dropped", st.Dropped),
		)
	}
}

// initSearchIndex prefers redis and falls back to an in-process index when
// redis is unreachable at startup.
func initSearchIndex(ctx context.Context, cfg config.Config, log *zap.Logger) (searchindex.Indexer, handler.Pinger) {
	if !cfg.SearchIndex.Enabled {
		log.Info("search index disabled")
		return nil, nil
	}
	idx := searchindex.NewRedisIndex(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.SearchIndex.KeyPrefix)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := idx.Ping(pingCtx); err != nil {
		log.Warn("redis unreachable, using in-process search index", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		return searchindex.NewMemoryIndex(), nil
	}
	log.Info("redis search index ready", zap.String("addr", cfg.Redis.Addr))
	return idx, idx
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-Correlation-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
