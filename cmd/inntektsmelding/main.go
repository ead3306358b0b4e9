// Package main запускает HTTP-сервер сервиса inntektsmelding.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/inntektsmelding-service/internal/archive"
	"github.com/mmeshcher/inntektsmelding-service/internal/config"
	"github.com/mmeshcher/inntektsmelding-service/internal/handler"
	"github.com/mmeshcher/inntektsmelding-service/internal/metrics"
	"github.com/mmeshcher/inntektsmelding-service/internal/middleware"
	"github.com/mmeshcher/inntektsmelding-service/internal/notification"
	"github.com/mmeshcher/inntektsmelding-service/internal/person"
	"github.com/mmeshcher/inntektsmelding-service/internal/repository"
	"github.com/mmeshcher/inntektsmelding-service/internal/service"
)

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

	notifier := notification.NewClient(cfg.NotificationAddress)
	persons := person.NewClient(cfg.PersonAddress)

	var archiver service.Archiver
	if cfg.ArchiveAddress != "" {
		archiver = archive.NewClient(cfg.ArchiveAddress)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	svc := service.NewService(repo, notifier, persons, archiver, m, logger, cfg.SchemaBaseURL)
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

	// Запуск фоновой отправки inntektsmelding в архив
	g.Go(func() error {
		svc.StartArchiveWorker(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting inntektsmelding server", "addr", cfg.RunAddress)
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
