package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/minerva/colocmap/internal/blobstore"
	"github.com/minerva/colocmap/internal/notifications"
	"github.com/minerva/colocmap/internal/reports"
)

// JobQueue is the part of Queue a Worker drives.
type JobQueue interface {
	DequeueJob(ctx context.Context, workerID string) (*Job, error)
	CompleteJob(ctx context.Context, job *Job, outputURL string, jobErr error) error
	RequeueJob(ctx context.Context, job *Job, jobErr error) (bool, error)
	WorkerHeartbeat(ctx context.Context, workerID string) error
	CleanupStaleJobs(ctx context.Context, timeout time.Duration) (int, error)
}

type Exporter interface {
	Generate(ctx context.Context, req *reports.ReportRequest) (*reports.Report, error)
}

type Notifier interface {
	NotifyExportCompleted(ctx context.Context, res notifications.ExportResult) error
	NotifyExportFailed(ctx context.Context, res notifications.ExportResult, err error) error
}

type Worker struct {
	id       string
	queue    JobQueue
	exporter Exporter
	bucket   blobstore.Bucket
	notifier Notifier
	logger   *slog.Logger

	concurrency  int
	pollInterval time.Duration
	staleTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running bool
	mu      sync.Mutex
}

type WorkerConfig struct {
	Queue    JobQueue
	Exporter Exporter
	Bucket   blobstore.Bucket
	Notifier Notifier // optional
	Logger   *slog.Logger

	Concurrency  int
	PollInterval time.Duration
	StaleTimeout time.Duration
}

func NewWorker(cfg WorkerConfig) *Worker {
	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = 30 * time.Minute
	}

	return &Worker{
		id:           workerID,
		queue:        cfg.Queue,
		exporter:     cfg.Exporter,
		bucket:       cfg.Bucket,
		notifier:     cfg.Notifier,
		logger:       logger.With("worker_id", workerID),
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		staleTimeout: cfg.StaleTimeout,
	}
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.logger.Info("worker starting", "concurrency", w.concurrency)

	w.wg.Add(1)
	go w.heartbeatLoop()

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.processLoop()
	}

	w.wg.Add(1)
	go w.staleJobLoop()

	return nil
}

func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopping")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

func (w *Worker) heartbeatLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	_ = w.queue.WorkerHeartbeat(w.ctx, w.id)
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.WorkerHeartbeat(w.ctx, w.id); err != nil {
				w.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		job, err := w.queue.DequeueJob(w.ctx, w.id)
		if err != nil {
			if w.ctx.Err() == nil {
				w.logger.Error("dequeuing job", "error", err)
			}
			w.sleep(5 * w.pollInterval)
			continue
		}
		if job == nil {
			w.sleep(w.pollInterval)
			continue
		}

		w.handle(w.ctx, job)
	}
}

// ExportKey is where a job's output lands in the export bucket.
func ExportKey(job *Job) string {
	return fmt.Sprintf("exports/%s/%s.%s", job.DatasetID, job.ID, job.Format)
}

func (w *Worker) handle(ctx context.Context, job *Job) {
	start := time.Now()
	logger := w.logger.With("job_id", job.ID, "dataset_id", job.DatasetID, "format", job.Format)
	logger.Info("processing export job", "attempt", job.Attempts+1)

	res := notifications.ExportResult{
		JobID:     job.ID.String(),
		DatasetID: job.DatasetID.String(),
		Format:    job.Format,
	}

	url, name, err := w.export(ctx, job)
	if err != nil {
		logger.Error("export job failed", "error", err)
		retried, qErr := w.queue.RequeueJob(ctx, job, err)
		if qErr != nil {
			logger.Error("requeuing job", "error", qErr)
		}
		if !retried && w.notifier != nil {
			if nErr := w.notifier.NotifyExportFailed(ctx, res, err); nErr != nil {
				logger.Warn("failure notification not sent", "error", nErr)
			}
		}
		return
	}

	if err := w.queue.CompleteJob(ctx, job, url, nil); err != nil {
		logger.Error("completing job", "error", err)
	}
	logger.Info("export job completed", "output_url", url, "duration", time.Since(start))

	if w.notifier != nil {
		res.Dataset = name
		res.OutputURL = url
		res.Duration = time.Since(start)
		if err := w.notifier.NotifyExportCompleted(ctx, res); err != nil {
			logger.Warn("completion notification not sent", "error", err)
		}
	}
}

func (w *Worker) export(ctx context.Context, job *Job) (string, string, error) {
	format, err := reports.ParseFormat(job.Format)
	if err != nil {
		return "", "", err
	}

	report, err := w.exporter.Generate(ctx, &reports.ReportRequest{
		DatasetID: job.DatasetID,
		Format:    format,
		Title:     job.Title,
	})
	if err != nil {
		return "", "", fmt.Errorf("generating report: %w", err)
	}

	key := ExportKey(job)
	if err := w.bucket.Put(ctx, key, report.Data, report.MimeType); err != nil {
		return "", "", fmt.Errorf("uploading export: %w", err)
	}
	return w.bucket.URL(key), report.DatasetName, nil
}

func (w *Worker) staleJobLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			cleaned, err := w.queue.CleanupStaleJobs(w.ctx, w.staleTimeout)
			if err != nil {
				w.logger.Error("cleaning stale jobs", "error", err)
			} else if cleaned > 0 {
				w.logger.Info("requeued stale jobs", "count", cleaned)
			}
		}
	}
}
