package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bnema/clipper/config"
	HTTPAdapter "github.com/bnema/clipper/internal/adapter/http"
	"github.com/bnema/clipper/internal/adapter/http/ratelimit"
	"github.com/bnema/clipper/internal/adapter/objectstore/r2"
	"github.com/bnema/clipper/internal/adapter/storage/jsonfile"
	sqlitestore "github.com/bnema/clipper/internal/adapter/storage/sqlite"
	"github.com/bnema/clipper/internal/adapter/trigger"
	"github.com/bnema/clipper/internal/domain"
	"github.com/bnema/clipper/internal/infrastructure/logger"
	"github.com/bnema/clipper/internal/infrastructure/metrics"
	"github.com/bnema/clipper/internal/port"
	"github.com/bnema/clipper/internal/service"
)

type backend struct {
	store port.Store
	queue port.TaskQueue
	ping  func(ctx context.Context) error
}

func openBackend(cfg *config.Config) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendJSONFile:
		store, err := jsonfile.NewStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return &backend{store: store, queue: jsonfile.NewTaskQueue(store)}, nil
	default:
		store, err := sqlitestore.NewStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return &backend{store: store, queue: sqlitestore.NewTaskQueue(store), ping: store.Ping}, nil
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error.Printf("failed to load config: %v", err)
		os.Exit(1)
	}
	logger.Configure(os.Stdout, cfg.LogLevel)

	logger.Info.Printf("starting clipper on port %d, store=%s", cfg.Port, cfg.StoreBackend)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error.Printf("failed to create data directory: %v", err)
		os.Exit(1)
	}

	be, err := openBackend(cfg)
	if err != nil {
		logger.Error.Printf("failed to create store: %v", err)
		os.Exit(1)
	}
	defer func() { _ = be.store.Close() }()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	storage, err := r2.NewClient(workerCtx, r2.Config{
		Endpoint:        cfg.S3.Endpoint,
		Region:          cfg.S3.Region,
		Bucket:          cfg.S3.Bucket,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
	})
	if err != nil {
		logger.Error.Printf("failed to create object storage client: %v", err)
		os.Exit(1)
	}

	// Left nil when unset so each hand-off fails with stage trigger.
	var processing port.ProcessingTrigger
	if cfg.WorkerEndpoint != "" {
		processing = trigger.NewClient(cfg.WorkerEndpoint, cfg.WorkerTimeout)
	} else {
		logger.Warn.Printf("WORKER_ENDPOINT is not set, uploaded jobs will fail at hand-off")
	}
	if cfg.WebhookSecret == "" {
		logger.Warn.Printf("WEBHOOK_SECRET is not set, worker callbacks will be rejected")
	}

	promMetrics := metrics.New()
	eventBus := service.NewEventBus()

	authSvc := service.NewAuthService(cfg.AuthSecret)
	jobSvc := service.NewJobService(be.store, storage, processing, eventBus, promMetrics, service.JobSettings{
		WebhookSecret:  cfg.WebhookSecret,
		DownloadURLTTL: cfg.DownloadURLTTL,
	})
	uploadSvc := service.NewUploadService(be.store, storage, eventBus, promMetrics, service.UploadSettings{
		UploadURLTTL: cfg.UploadURLTTL,
		MaxPartCount: cfg.MaxPartCount,
	})
	locks := service.NewLockManager(be.store, eventBus, promMetrics, cfg.StaleLockAfter)

	dispatcher := service.NewDispatcher(be.queue, cfg.DispatchWorkers, cfg.DispatchMaxAttempts,
		service.NewBackoff(time.Second, 5*time.Minute, 2.0), promMetrics)
	dispatcher.Handle(domain.TaskKindTriggerProcessing, func(ctx context.Context, t *domain.Task) error {
		return jobSvc.HandOff(ctx, t.JobID)
	})
	dispatcher.Handle(domain.TaskKindAbortMultipart, uploadSvc.ReleaseUpload)
	dispatcher.Start(workerCtx)

	sweeper := service.NewSweeper(be.store, domain.RetentionPolicy{
		FailedAfter:    cfg.RetentionFailed,
		ReadyAfter:     cfg.RetentionReady,
		AbandonedAfter: cfg.RetentionAbandoned,
	}, promMetrics)
	go sweeper.Run(workerCtx, cfg.SweepInterval)

	webhookLimiter := ratelimit.NewFailureLimiter(10, 5*time.Minute, 15*time.Minute)
	go webhookLimiter.Run(workerCtx)

	server := HTTPAdapter.NewServer(authSvc, jobSvc, uploadSvc, locks, eventBus, HTTPAdapter.ServerConfig{
		WebhookSecret:  cfg.WebhookSecret,
		BehindProxy:    cfg.BehindProxy,
		WebhookLimiter: webhookLimiter,
		Metrics:        promMetrics.Handler(),
		Health:         be.ping,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		// SSE streams stay open for the whole processing run.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info.Printf("received %s, shutting down", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error.Printf("http shutdown error: %v", err)
		}

		// In-flight tasks finish; the rest stay pending in the outbox.
		workerCancel()
		dispatcher.Wait()

		logger.Info.Printf("shutdown complete")
	}()

	logger.Info.Printf("server listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error.Printf("server failed: %v", err)
		os.Exit(1)
	}
	<-shutdownDone
}
