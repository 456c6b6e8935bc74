package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"pairwave/backend/internal/allocator"
	"pairwave/backend/internal/api/handler"
	"pairwave/backend/internal/config"
	"pairwave/backend/internal/logger"
	"pairwave/backend/internal/relay"
	"pairwave/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// .env is optional; production sets the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	if err := storage.Migrate(db); err != nil {
		log.Fatal("run migrations", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("connect redis", zap.Error(err))
	}

	store := storage.NewService(db)
	bus := relay.NewRedisBus(rdb)
	notifications := relay.NewNotificationMailbox(store, bus, log)
	signals := relay.NewSignalMailbox(store, bus, log)
	presence := relay.NewPresenceService(&relay.RedisMemberSet{Client: rdb}, bus, log)

	alloc := allocator.NewService(store, notifications, config.WaitingTTL, log)

	sweeper := allocator.NewSweeper(store, config.WaitingTTL, config.SweepInterval, log)
	if err := sweeper.RunOnce(ctx); err != nil {
		log.Warn("startup waiting pool sweep failed", zap.Error(err))
	}
	go sweeper.Run(ctx)

	h := handler.NewHandler(alloc, notifications, signals, presence, []byte(cfg.JWTSecret), log)

	r := gin.Default()
	r.GET("/anonid", h.GetAnonID)
	r.POST("/match", h.RequestMatch)
	r.DELETE("/match", h.CancelSearch)
	r.GET("/ws", h.ServeWebSocket)

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown server", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}
}
