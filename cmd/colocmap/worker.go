package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/minerva/colocmap/internal/blobstore"
	"github.com/minerva/colocmap/internal/cache"
	"github.com/minerva/colocmap/internal/datalayer"
	"github.com/minerva/colocmap/internal/notifications"
	"github.com/minerva/colocmap/internal/queue"
	"github.com/minerva/colocmap/internal/reports"
	"github.com/minerva/colocmap/internal/store"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Render queued heatmap exports and upload them to the export bucket",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "Concurrent exports (default: exports.workers)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	q, err := queue.New(queue.Config{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer q.Close()

	bucket, err := blobstore.Open(ctx, cfg.Storage.ExportURL, cfg.Storage.BlobOptions())
	if err != nil {
		return err
	}
	defer bucket.Close()

	provider := &datalayer.Provider{
		Store:  st,
		Cache:  cache.NewWithClient(q.Client(), cfg.Exports.CacheTTL),
		Logger: logger,
	}

	concurrency := workerConcurrency
	if concurrency <= 0 {
		concurrency = cfg.Exports.Workers
	}

	w := queue.NewWorker(queue.WorkerConfig{
		Queue:        q,
		Exporter:     reports.NewGenerator(provider),
		Bucket:       bucket,
		Notifier:     notifications.NewService(cfg.Notifications.ServiceConfig(), logger),
		Logger:       logger,
		Concurrency:  concurrency,
		PollInterval: cfg.Exports.PollInterval,
		StaleTimeout: cfg.Exports.StaleTimeout,
	})
	if err := w.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	w.Stop()
	logger.Info("worker stopped", "worker_id", w.ID())
	return nil
}
