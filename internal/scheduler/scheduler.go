package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/minerva/colocmap/internal/reports"
)

// Job represents a scheduled job
type Job struct {
	ID          string            `json:"id" db:"id"`
	Name        string            `json:"name" db:"name"`
	Description string            `json:"description" db:"description"`
	Schedule    string            `json:"schedule" db:"schedule"` // Cron expression
	JobType     JobType           `json:"job_type" db:"job_type"`
	Config      map[string]string `json:"config" db:"config"`
	Enabled     bool              `json:"enabled" db:"enabled"`
	LastRun     *time.Time        `json:"last_run,omitempty" db:"last_run"`
	NextRun     *time.Time        `json:"next_run,omitempty" db:"next_run"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// JobType defines the type of scheduled job
type JobType string

const (
	JobTypeExportHeatmap    JobType = "export_heatmap"
	JobTypeSyncInteractions JobType = "sync_interactions"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrInvalidJob     = errors.New("invalid job")
	ErrUnknownJobType = errors.New("unknown job type")
)

// JobExecution tracks job execution history
type JobExecution struct {
	ID        string          `json:"id" db:"id"`
	JobID     string          `json:"job_id" db:"job_id"`
	Status    ExecutionStatus `json:"status" db:"status"`
	StartedAt time.Time       `json:"started_at" db:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty" db:"ended_at"`
	Error     string          `json:"error,omitempty" db:"error"`
	Output    string          `json:"output,omitempty" db:"output"`
}

// ExecutionStatus represents job execution status
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// JobHandler executes a job. The returned string is kept as the execution's
// output.
type JobHandler func(ctx context.Context, job *Job) (string, error)

// ExecutionTimeout bounds a single run of any job.
const ExecutionTimeout = 10 * time.Minute

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Target is the typed form of a job's config map. Export jobs use Format
// and Title, sync jobs use Threshold.
type Target struct {
	DatasetID uuid.UUID
	Format    reports.ReportFormat
	Title     string
	Threshold float64
}

// Target parses the config keys the job type needs.
func (j *Job) Target() (Target, error) {
	var t Target
	id, err := uuid.Parse(j.Config["dataset_id"])
	if err != nil {
		return t, fmt.Errorf("%w: config.dataset_id must be a dataset id", ErrInvalidJob)
	}
	t.DatasetID = id

	switch j.JobType {
	case JobTypeExportHeatmap:
		if t.Format, err = reports.ParseFormat(j.Config["format"]); err != nil {
			return t, fmt.Errorf("%w: config.format: %v", ErrInvalidJob, err)
		}
		t.Title = j.Config["title"]
	case JobTypeSyncInteractions:
		t.Threshold = DefaultSyncThreshold
		if v, ok := j.Config["threshold"]; ok {
			if t.Threshold, err = strconv.ParseFloat(v, 64); err != nil {
				return t, fmt.Errorf("%w: config.threshold: %v", ErrInvalidJob, err)
			}
			if t.Threshold < 0 || t.Threshold > 1 {
				return t, fmt.Errorf("%w: config.threshold must be within [0, 1]", ErrInvalidJob)
			}
		}
	default:
		return t, fmt.Errorf("%w: %q", ErrUnknownJobType, j.JobType)
	}
	return t, nil
}

// Config renders t back into the config map for jobType.
func (t Target) Config(jobType JobType) map[string]string {
	cfg := map[string]string{"dataset_id": t.DatasetID.String()}
	switch jobType {
	case JobTypeExportHeatmap:
		cfg["format"] = string(t.Format)
		if t.Title != "" {
			cfg["title"] = t.Title
		}
	case JobTypeSyncInteractions:
		cfg["threshold"] = strconv.FormatFloat(t.Threshold, 'g', -1, 64)
	}
	return cfg
}

// Validate checks the schedule and the job's target.
func (j *Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidJob)
	}
	if _, err := cronParser.Parse(j.Schedule); err != nil {
		return fmt.Errorf("%w: schedule %q: %v", ErrInvalidJob, j.Schedule, err)
	}
	if j.JobType != JobTypeExportHeatmap && j.JobType != JobTypeSyncInteractions {
		return fmt.Errorf("%w: %q", ErrUnknownJobType, j.JobType)
	}
	_, err := j.Target()
	return err
}

// Store defines the interface for job persistence
type Store interface {
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context) ([]*Job, error)
	CreateJob(ctx context.Context, job *Job) error
	UpdateJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, id string) error
	UpdateLastRun(ctx context.Context, id string, lastRun time.Time) error
	CreateExecution(ctx context.Context, exec *JobExecution) error
	UpdateExecution(ctx context.Context, exec *JobExecution) error
	GetJobExecutions(ctx context.Context, jobID string, limit int) ([]*JobExecution, error)
	PruneExecutions(ctx context.Context, jobID string, keep int) error
}

// ExecutionHistory is how many executions are kept per job.
const ExecutionHistory = 50

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron     *cron.Cron
	store    Store
	handlers map[JobType]JobHandler
	entries  map[string]cron.EntryID
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(store Store, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cron:     cron.New(cron.WithParser(cronParser)),
		store:    store,
		handlers: make(map[JobType]JobHandler),
		entries:  make(map[string]cron.EntryID),
		logger:   logger,
	}
}

// RegisterHandler registers a handler for a job type
func (s *Scheduler) RegisterHandler(jobType JobType, handler JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobType] = handler
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	// Load all jobs from store
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}

	// Schedule all enabled jobs
	for _, job := range jobs {
		if job.Enabled {
			if err := s.scheduleJob(job); err != nil {
				s.logger.Error("failed to schedule job",
					"job_id", job.ID,
					"job_name", job.Name,
					"error", err)
			}
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs_count", len(jobs))

	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// AddJob validates and stores a new job
func (s *Scheduler) AddJob(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return err
	}

	if job.Enabled {
		return s.scheduleJob(job)
	}

	return nil
}

// UpdateJob updates a job
func (s *Scheduler) UpdateJob(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	// Remove existing schedule
	s.unscheduleJob(job.ID)

	if err := s.store.UpdateJob(ctx, job); err != nil {
		return err
	}

	if job.Enabled {
		return s.scheduleJob(job)
	}

	return nil
}

// DeleteJob deletes a job
func (s *Scheduler) DeleteJob(ctx context.Context, id string) error {
	s.unscheduleJob(id)
	return s.store.DeleteJob(ctx, id)
}

// DeleteDatasetJobs deletes every job that targets datasetID and returns how
// many were removed.
func (s *Scheduler) DeleteDatasetJobs(ctx context.Context, datasetID uuid.UUID) (int, error) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range jobs {
		t, err := job.Target()
		if err != nil || t.DatasetID != datasetID {
			continue
		}
		if err := s.DeleteJob(ctx, job.ID); err != nil && !errors.Is(err, ErrJobNotFound) {
			return n, err
		}
		n++
	}
	return n, nil
}

// EnableJob enables a job
func (s *Scheduler) EnableJob(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	job.Enabled = true
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return err
	}

	return s.scheduleJob(job)
}

// DisableJob disables a job
func (s *Scheduler) DisableJob(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	job.Enabled = false
	s.unscheduleJob(id)

	return s.store.UpdateJob(ctx, job)
}

// RunJobNow starts a job immediately in the background
func (s *Scheduler) RunJobNow(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	go s.executeJob(job)
	return nil
}

// Executions returns the most recent runs of a job
func (s *Scheduler) Executions(ctx context.Context, id string, limit int) ([]*JobExecution, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	return s.store.GetJobExecutions(ctx, id, limit)
}

func (s *Scheduler) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.store.GetJob(ctx, id)
}

func (s *Scheduler) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.store.ListJobs(ctx)
}

// GetNextRuns returns the next N runs for a job
func (s *Scheduler) GetNextRuns(id string, count int) []time.Time {
	s.mu.RLock()
	entryID, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok {
		return nil
	}

	entry := s.cron.Entry(entryID)
	if entry.ID == 0 {
		return nil
	}

	runs := make([]time.Time, 0, count)
	next := entry.Next
	for i := 0; i < count; i++ {
		runs = append(runs, next)
		next = entry.Schedule.Next(next)
	}

	return runs
}

// scheduleJob adds a job to the cron scheduler
func (s *Scheduler) scheduleJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Remove existing entry if present
	if entryID, ok := s.entries[job.ID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, job.ID)
	}

	// Add new entry
	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		s.executeJob(job)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	s.entries[job.ID] = entryID

	// Update next run time
	entry := s.cron.Entry(entryID)
	nextRun := entry.Next
	job.NextRun = &nextRun

	s.logger.Info("scheduled job",
		"job_id", job.ID,
		"job_name", job.Name,
		"schedule", job.Schedule,
		"next_run", nextRun)

	return nil
}

// unscheduleJob removes a job from the cron scheduler
func (s *Scheduler) unscheduleJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

// executeJob executes a job
func (s *Scheduler) executeJob(job *Job) {
	ctx, cancel := context.WithTimeout(context.Background(), ExecutionTimeout)
	defer cancel()
	startTime := time.Now()

	// Create execution record
	exec := &JobExecution{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		Status:    StatusRunning,
		StartedAt: startTime,
	}

	if err := s.store.CreateExecution(ctx, exec); err != nil {
		s.logger.Error("failed to create execution record", "error", err)
	}

	s.logger.Info("executing job",
		"job_id", job.ID,
		"job_name", job.Name,
		"execution_id", exec.ID)

	// Get handler
	s.mu.RLock()
	handler, ok := s.handlers[job.JobType]
	s.mu.RUnlock()

	if !ok {
		exec.Status = StatusFailed
		exec.Error = fmt.Sprintf("no handler registered for job type: %s", job.JobType)
		endTime := time.Now()
		exec.EndedAt = &endTime
		_ = s.store.UpdateExecution(ctx, exec)
		return
	}

	// Execute handler
	output, err := handler(ctx, job)
	endTime := time.Now()
	exec.EndedAt = &endTime
	exec.Output = output

	if err != nil {
		exec.Status = StatusFailed
		exec.Error = err.Error()
		s.logger.Error("job execution failed",
			"job_id", job.ID,
			"job_name", job.Name,
			"error", err,
			"duration", endTime.Sub(startTime))
	} else {
		exec.Status = StatusCompleted
		s.logger.Info("job execution completed",
			"job_id", job.ID,
			"job_name", job.Name,
			"duration", endTime.Sub(startTime))
	}

	_ = s.store.UpdateExecution(ctx, exec)
	_ = s.store.UpdateLastRun(ctx, job.ID, startTime)
	if err := s.store.PruneExecutions(ctx, job.ID, ExecutionHistory); err != nil {
		s.logger.Warn("failed to prune executions", "job_id", job.ID, "error", err)
	}
}

// DefaultHandlers returns common job handlers
type DefaultHandlers struct {
	ExportFunc func(ctx context.Context, datasetID uuid.UUID, format reports.ReportFormat, title string) (string, error)
	SyncFunc   func(ctx context.Context, datasetID uuid.UUID, threshold float64) (int, error)
}

// DefaultSyncThreshold is used when a sync job does not set one.
const DefaultSyncThreshold = 0.3

// Register registers default handlers with the scheduler
func (h *DefaultHandlers) Register(s *Scheduler) {
	if h.ExportFunc != nil {
		s.RegisterHandler(JobTypeExportHeatmap, func(ctx context.Context, job *Job) (string, error) {
			t, err := job.Target()
			if err != nil {
				return "", err
			}
			exportID, err := h.ExportFunc(ctx, t.DatasetID, t.Format, t.Title)
			if err != nil {
				return "", err
			}
			return "export job " + exportID, nil
		})
	}

	if h.SyncFunc != nil {
		s.RegisterHandler(JobTypeSyncInteractions, func(ctx context.Context, job *Job) (string, error) {
			t, err := job.Target()
			if err != nil {
				return "", err
			}
			edges, err := h.SyncFunc(ctx, t.DatasetID, t.Threshold)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d edges written", edges), nil
		})
	}
}
