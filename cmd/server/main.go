package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/snapclass/internal/catalog"
	"github.com/Brownie44l1/snapclass/internal/config"
	"github.com/Brownie44l1/snapclass/internal/handlers"
	"github.com/Brownie44l1/snapclass/internal/model"
	"github.com/Brownie44l1/snapclass/internal/predict"
	"github.com/Brownie44l1/snapclass/internal/presentation"
	"github.com/Brownie44l1/snapclass/internal/session"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher, err := newFetcher(cfg, log)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrStartup, err)
	}

	loader := model.NewONNXLoader(log, cfg.ONNXRuntimeLib)
	defer loader.Close()

	gateway := model.NewGateway(log, fetcher, loader, cfg.FetchTimeout)
	defer gateway.Close()

	log.Info("Loading model", "artifact_id", cfg.ModelArtifactID, "path", cfg.ModelPath)

	classifier, err := gateway.Ensure(ctx, cfg.ModelArtifactID, cfg.ModelPath)
	if err != nil {
		return err
	}
	log.Info("Model ready", "labels", classifier.Labels())

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	cat, err = cat.Bind(classifier.Labels())
	if err != nil {
		return err
	}

	sessions, err := session.NewStore(cfg.SessionCapacity)
	if err != nil {
		return err
	}

	renderer, err := presentation.NewRenderer()
	if err != nil {
		return err
	}

	handler := handlers.NewHandler(log, classifier, predict.NewService(log), cat, sessions, renderer, cfg.MaxUploadBytes())

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Server starting", "address", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Error shutting down server", "error", err)
	}
	log.Info("Server stopped cleanly")
	return nil
}

func newFetcher(cfg *config.Config, log *slog.Logger) (model.Fetcher, error) {
	switch cfg.ArtifactSource {
	case config.SourceS3:
		return model.NewS3Fetcher(log, model.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
	default:
		return model.NewHTTPFetcher(log, &http.Client{}, cfg.URLTemplate), nil
	}
}
