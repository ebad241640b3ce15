package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/weapon-detect/internal/application"
	"github.com/bryanwahyu/weapon-detect/internal/application/detection"
	"github.com/bryanwahyu/weapon-detect/internal/application/sessions"
	"github.com/bryanwahyu/weapon-detect/internal/config"
	domain "github.com/bryanwahyu/weapon-detect/internal/domain/detection"
	"github.com/bryanwahyu/weapon-detect/internal/infra/detector"
	"github.com/bryanwahyu/weapon-detect/internal/infra/httpserver"
	"github.com/bryanwahyu/weapon-detect/internal/infra/preview"
	minioStore "github.com/bryanwahyu/weapon-detect/internal/infra/storage"
	"github.com/bryanwahyu/weapon-detect/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	client, err := detector.New(cfg.Detector.BaseURL, detector.WithLogger(logger))
	if err != nil {
		logger.Fatal("detector client init error", zap.Error(err))
	}

	previews, err := previewStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("preview store init error", zap.Error(err))
	}

	// one orchestrator per browser session
	factory := func() *detection.Orchestrator {
		opts := []detection.Option{
			detection.WithLogger(logger),
			detection.WithClock(application.SystemClock{}),
			detection.WithMetrics(middleware.DetectionMetrics{}),
			detection.WithFetcher(client),
		}
		if previews != nil {
			opts = append(opts, detection.WithPreviews(previews))
		}
		return detection.New(client, opts...)
	}
	reg := sessions.New(cfg.Sessions.MaxSessions, cfg.Sessions.IdleTTL, factory, logger)
	defer reg.Close()

	limiter := middleware.NewRateLimiter(cfg.Server.SubmitRate, cfg.Server.SubmitBurst)
	defer limiter.Close()

	handler, err := httpserver.NewRouter(reg, httpserver.Options{
		APIKey:         cfg.Server.APIKey,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Limiter:        limiter,
		Health: map[string]middleware.HealthChecker{
			"detector": client,
		},
		HealthTimeout:  cfg.Detector.HealthTimeout,
		UploadDir:      cfg.Server.UploadDir,
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("router init error", zap.Error(err))
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		IdleTimeout:       60 * time.Second,
	}

	// run server
	go func() {
		logger.Info("server listening", zap.String("addr", addr), zap.String("detector", cfg.Detector.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

func previewStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (domain.PreviewStore, error) {
	switch cfg.Preview.Backend {
	case "minio":
		return minioStore.New(ctx, minioStore.Options{
			Endpoint:  cfg.Minio.Endpoint,
			Region:    cfg.Minio.Region,
			Bucket:    cfg.Minio.BucketName,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			UseSSL:    cfg.Minio.UseSSL,
			URLExpiry: cfg.Minio.URLExpiry,
		}, logger)
	case "none":
		return nil, nil
	default:
		return preview.NewTempDir(cfg.Preview.Dir)
	}
}
