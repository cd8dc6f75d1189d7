package main

// @title Inboxcast API
// @version 1.0.0
// @description 一次性收件箱实时推送服务：生成临时地址、注入测试邮件，并通过 SSE / WebSocket 推送给订阅者
// @BasePath /
// @schemes http https

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/inboxcast/internal/config"
	"tempmail/inboxcast/internal/health"
	"tempmail/inboxcast/internal/hub"
	"tempmail/inboxcast/internal/logger"
	"tempmail/inboxcast/internal/middleware"
	"tempmail/inboxcast/internal/monitoring"
	"tempmail/inboxcast/internal/service"
	"tempmail/inboxcast/internal/storage/memory"
	"tempmail/inboxcast/internal/stream"
	httptransport "tempmail/inboxcast/internal/transport/http"

	_ "tempmail/inboxcast/docs" // Swagger docs
)

const (
	shutdownTimeout     = 10 * time.Second
	healthWatchInterval = time.Minute
)

// main 启动收件箱推送服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting inboxcast server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.Strings("domains", cfg.Inbox.Domains),
		zap.Duration("inbox_ttl", cfg.Inbox.TTL),
		zap.Int("ring_capacity", cfg.Stream.RingCapacity),
		zap.Bool("backpressure", cfg.Broadcast.Backpressure),
	)

	metrics := monitoring.NewMetrics(nil)

	broadcaster := hub.New(hub.Options{
		RingCapacity:      cfg.Stream.RingCapacity,
		SummaryFields:     cfg.Stream.SummaryFields,
		QueueSize:         cfg.Stream.QueueSize,
		MaxRecipients:     cfg.Broadcast.MaxRecipients,
		YieldBatch:        cfg.Broadcast.YieldBatch,
		Backpressure:      cfg.Broadcast.Backpressure,
		DropFailedClients: cfg.Broadcast.DropFailedClients,
	}, log, hub.WithRecorder(metrics))

	inboxes := service.NewInboxService(memory.NewStore(), broadcaster, cfg.Inbox, log,
		service.WithRecorder(metrics))

	streams := stream.NewServer(broadcaster, inboxes, stream.Options{
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Stream.HeartbeatTimeout,
	}, log)

	healthChecker := health.NewHealthChecker(inboxes, broadcaster, health.Options{
		SweepInterval: cfg.Inbox.SweepInterval,
	}, log)
	reporter := monitoring.NewReporter(inboxes, broadcaster, healthChecker, cfg, log)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit, metrics.RecordRateLimitBlock)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:      cfg,
		Inboxes:     inboxes,
		Streams:     streams,
		Metrics:     metrics,
		Health:      healthChecker,
		Reporter:    reporter,
		RateLimiter: rateLimiter,
		Logger:      log.Named("http"),
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// 推送流是长连接，写超时由每次写入的 deadline 控制
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		ticker := time.NewTicker(cfg.Inbox.SweepInterval)
		defer ticker.Stop()

		log.Info("starting ttl sweep task",
			zap.Duration("interval", cfg.Inbox.SweepInterval),
			zap.Duration("inbox_ttl", cfg.Inbox.TTL),
			zap.Duration("subscriber_ttl", cfg.Inbox.SubscriberTTL))

		for {
			select {
			case <-groupCtx.Done():
				log.Info("ttl sweep task stopped")
				return nil
			case <-ticker.C:
				inboxes.Sweep(groupCtx)
			}
		}
	})

	group.Go(func() error {
		return rateLimiter.Run(groupCtx)
	})

	group.Go(func() error {
		reporter.Watch(groupCtx, healthWatchInterval)
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		// 先关闭推送连接，否则 Shutdown 会等待长连接结束
		closed := broadcaster.Shutdown()
		log.Info("stream connections closed", zap.Int("count", closed))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
