// Package main запускает HTTP-сервер сервиса генерации дизайнов интерьера.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/roomdesign-system/internal/blobstore"
	"github.com/mmeshcher/roomdesign-system/internal/config"
	"github.com/mmeshcher/roomdesign-system/internal/handler"
	"github.com/mmeshcher/roomdesign-system/internal/middleware"
	"github.com/mmeshcher/roomdesign-system/internal/orchestrator"
	"github.com/mmeshcher/roomdesign-system/internal/provider"
	"github.com/mmeshcher/roomdesign-system/internal/repository"
	"github.com/mmeshcher/roomdesign-system/internal/service"
)

// Интервал фонового обхода ежемесячных начислений.
const monthlyGrantInterval = time.Hour

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	blobs, err := blobstore.NewClient(context.Background(), blobstore.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		Bucket:        cfg.S3Bucket,
		AccessKeyID:   cfg.S3AccessKeyID,
		SecretKey:     cfg.S3SecretKey,
		PublicBaseURL: cfg.S3PublicBaseURL,
	})
	if err != nil {
		sugar.Fatalw("blob storage initialization error", "error", err.Error())
	}

	// Порядок адаптеров задаёт приоритет каскада: первый настроенный
	// провайдер, вернувший изображения, выигрывает.
	adapters := []provider.Adapter{
		provider.NewFal(cfg.FalAPIKey, logger),
		provider.NewReplicate(cfg.ReplicateAPIKey, logger),
		provider.NewOpenAI(cfg.OpenAIAPIKey, logger),
		provider.NewGoogle(cfg.GoogleAPIKey, logger),
		provider.NewHuggingFace(cfg.HuggingFaceAPIKey, logger),
		provider.NewOpenRouter(cfg.OpenRouterAPIKey, logger),
	}
	orch := orchestrator.New(adapters, logger)

	svc := service.NewService(repo, blobs, orch, logger, cfg.MonthlyCredits)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового процесса ежемесячных начислений
	svc.StartMonthlyGrants(ctx, monthlyGrantInterval)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting roomdesign server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
