package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	ExportJobsQueue      = "colocmap:exports:queue"
	ExportJobsDelayed    = "colocmap:exports:delayed"
	ExportJobsProcessing = "colocmap:exports:processing"
	ExportJobsCompleted  = "colocmap:exports:completed"
	ExportJobsFailed     = "colocmap:exports:failed"
	WorkerHeartbeatKey   = "colocmap:workers:heartbeat"
	JobProgressPrefix    = "colocmap:export:progress:"

	MaxAttempts = 3
	MaxPriority = 10
)

var ErrInvalidPriority = fmt.Errorf("priority must be between 0 and %d", MaxPriority)

type Config struct {
	Addr     string
	Password string
	DB       int
}

type Queue struct {
	client *redis.Client
}

func New(cfg Config) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Client exposes the connection so the matrix cache can share it.
func (q *Queue) Client() *redis.Client {
	return q.client
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Job asks a worker to render one dataset's heatmap and publish it.
type Job struct {
	ID          uuid.UUID `json:"id"`
	DatasetID   uuid.UUID `json:"dataset_id"`
	Format      string    `json:"format"`
	Title       string    `json:"title,omitempty"`
	Priority    int       `json:"priority"`
	RequestedBy string    `json:"requested_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Attempts    int       `json:"attempts"`
}

type JobProgress struct {
	JobID       uuid.UUID  `json:"job_id"`
	DatasetID   uuid.UUID  `json:"dataset_id"`
	Format      string     `json:"format"`
	Status      JobStatus  `json:"status"`
	OutputURL   string     `json:"output_url,omitempty"`
	Attempts    int        `json:"attempts"`
	Errors      []string   `json:"errors"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	WorkerID    string     `json:"worker_id,omitempty"`
}

// score orders the ready set: earlier and higher priority jobs pop first. It
// is a rank, not a due time.
func score(at time.Time, priority int) float64 {
	return float64(at.Unix()) - float64(priority*1000)
}

func (q *Queue) EnqueueExportJob(ctx context.Context, job *Job) error {
	if job.Priority < 0 || job.Priority > MaxPriority {
		return fmt.Errorf("%w, got %d", ErrInvalidPriority, job.Priority)
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	if err := q.client.ZAdd(ctx, ExportJobsQueue, redis.Z{
		Score:  score(job.CreatedAt, job.Priority),
		Member: string(data),
	}).Err(); err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}

	progress := &JobProgress{
		JobID:     job.ID,
		DatasetID: job.DatasetID,
		Format:    job.Format,
		Status:    StatusPending,
	}
	if err := q.UpdateProgress(ctx, progress); err != nil {
		return fmt.Errorf("initializing progress: %w", err)
	}

	return nil
}

// promoteDue moves retries whose backoff has elapsed from the delayed set
// back into the ready set.
func (q *Queue) promoteDue(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, ExportJobsDelayed, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("reading delayed jobs: %w", err)
	}

	for _, member := range due {
		removed, err := q.client.ZRem(ctx, ExportJobsDelayed, member).Result()
		if err != nil {
			return fmt.Errorf("promoting delayed job: %w", err)
		}
		if removed == 0 {
			// another worker promoted it
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			return fmt.Errorf("unmarshaling delayed job: %w", err)
		}
		if err := q.client.ZAdd(ctx, ExportJobsQueue, redis.Z{
			Score:  score(job.CreatedAt, job.Priority),
			Member: member,
		}).Err(); err != nil {
			back := redis.Z{Score: 0, Member: member}
			if perr := q.client.ZAdd(context.WithoutCancel(ctx), ExportJobsDelayed, back).Err(); perr != nil {
				return fmt.Errorf("promoting delayed job: %w (job %s lost: %v)", err, job.ID, perr)
			}
			return fmt.Errorf("promoting delayed job: %w", err)
		}
	}
	return nil
}

// DequeueJob pops the next ready job, or returns nil when none is ready.
func (q *Queue) DequeueJob(ctx context.Context, workerID string) (*Job, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}

	results, err := q.client.ZPopMin(ctx, ExportJobsQueue, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("dequeuing job: %w", err)
	}

	if len(results) == 0 {
		return nil, nil
	}

	member, _ := results[0].Member.(string)
	var job Job
	if err := json.Unmarshal([]byte(member), &job); err != nil {
		return nil, fmt.Errorf("unmarshaling job: %w", err)
	}

	// The pop already happened, so the put-back must outlive a cancelled ctx.
	if err := q.client.SAdd(ctx, ExportJobsProcessing, member).Err(); err != nil {
		if perr := q.client.ZAdd(context.WithoutCancel(ctx), ExportJobsQueue, results[0]).Err(); perr != nil {
			return nil, fmt.Errorf("marking job as processing: %w (job %s lost: %v)", err, job.ID, perr)
		}
		return nil, fmt.Errorf("marking job as processing: %w", err)
	}

	progress, _ := q.GetProgress(ctx, job.ID)
	if progress == nil {
		progress = &JobProgress{JobID: job.ID, DatasetID: job.DatasetID, Format: job.Format}
	}
	now := time.Now()
	progress.Status = StatusRunning
	progress.StartedAt = &now
	progress.WorkerID = workerID
	progress.Attempts = job.Attempts + 1
	_ = q.UpdateProgress(ctx, progress)

	return &job, nil
}

// CompleteJob moves job out of the processing set. A nil jobErr marks it
// completed with outputURL; otherwise it is failed for good.
func (q *Queue) CompleteJob(ctx context.Context, job *Job, outputURL string, jobErr error) error {
	data, _ := json.Marshal(job)

	q.client.SRem(ctx, ExportJobsProcessing, string(data))

	targetSet := ExportJobsCompleted
	status := StatusCompleted
	if jobErr != nil {
		targetSet = ExportJobsFailed
		status = StatusFailed
	}

	if err := q.client.SAdd(ctx, targetSet, job.ID.String()).Err(); err != nil {
		return fmt.Errorf("marking job complete: %w", err)
	}

	now := time.Now()
	progress, _ := q.GetProgress(ctx, job.ID)
	if progress == nil {
		progress = &JobProgress{JobID: job.ID, DatasetID: job.DatasetID, Format: job.Format}
	}
	progress.Status = status
	progress.OutputURL = outputURL
	progress.CompletedAt = &now
	if jobErr != nil {
		progress.Errors = append(progress.Errors, jobErr.Error())
	}
	return q.UpdateProgress(ctx, progress)
}

// RequeueJob parks the job in the delayed set for a linear backoff. It
// reports false once the job has used MaxAttempts and has been marked failed.
func (q *Queue) RequeueJob(ctx context.Context, job *Job, jobErr error) (bool, error) {
	data, _ := json.Marshal(job)

	q.client.SRem(ctx, ExportJobsProcessing, string(data))

	job.Attempts++

	if job.Attempts >= MaxAttempts {
		return false, q.CompleteJob(ctx, job, "", jobErr)
	}

	newData, _ := json.Marshal(job)
	if err := q.client.ZAdd(ctx, ExportJobsDelayed, redis.Z{
		Score:  float64(time.Now().Add(Backoff(job.Attempts)).Unix()),
		Member: string(newData),
	}).Err(); err != nil {
		return false, fmt.Errorf("requeuing job: %w", err)
	}

	progress, _ := q.GetProgress(ctx, job.ID)
	if progress == nil {
		progress = &JobProgress{JobID: job.ID, DatasetID: job.DatasetID, Format: job.Format}
	}
	progress.Status = StatusPending
	progress.Errors = append(progress.Errors, jobErr.Error())
	_ = q.UpdateProgress(ctx, progress)

	return true, nil
}

// Backoff is the wait before the given retry attempt.
func Backoff(attempts int) time.Duration {
	return time.Duration(attempts*30) * time.Second
}

func (q *Queue) UpdateProgress(ctx context.Context, progress *JobProgress) error {
	progress.UpdatedAt = time.Now()
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshaling progress: %w", err)
	}

	key := JobProgressPrefix + progress.JobID.String()
	if err := q.client.Set(ctx, key, string(data), 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("updating progress: %w", err)
	}

	return nil
}

// GetProgress returns nil without error for unknown or expired jobs.
func (q *Queue) GetProgress(ctx context.Context, jobID uuid.UUID) (*JobProgress, error) {
	key := JobProgressPrefix + jobID.String()
	data, err := q.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting progress: %w", err)
	}

	var progress JobProgress
	if err := json.Unmarshal([]byte(data), &progress); err != nil {
		return nil, fmt.Errorf("unmarshaling progress: %w", err)
	}

	return &progress, nil
}

func (q *Queue) GetQueueStats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)

	pending, _ := q.client.ZCard(ctx, ExportJobsQueue).Result()
	delayed, _ := q.client.ZCard(ctx, ExportJobsDelayed).Result()
	processing, _ := q.client.SCard(ctx, ExportJobsProcessing).Result()
	completed, _ := q.client.SCard(ctx, ExportJobsCompleted).Result()
	failed, _ := q.client.SCard(ctx, ExportJobsFailed).Result()

	stats["pending"] = pending
	stats["delayed"] = delayed
	stats["processing"] = processing
	stats["completed"] = completed
	stats["failed"] = failed

	return stats, nil
}

func (q *Queue) WorkerHeartbeat(ctx context.Context, workerID string) error {
	return q.client.HSet(ctx, WorkerHeartbeatKey, workerID, time.Now().Unix()).Err()
}

func (q *Queue) GetActiveWorkers(ctx context.Context, timeout time.Duration) ([]string, error) {
	workers, err := q.client.HGetAll(ctx, WorkerHeartbeatKey).Result()
	if err != nil {
		return nil, fmt.Errorf("getting workers: %w", err)
	}

	var active []string
	cutoff := time.Now().Add(-timeout).Unix()

	for workerID, lastSeen := range workers {
		var ts int64
		_, _ = fmt.Sscanf(lastSeen, "%d", &ts)
		if ts > cutoff {
			active = append(active, workerID)
		}
	}

	return active, nil
}

// CleanupStaleJobs returns jobs whose worker stopped reporting to the queue.
func (q *Queue) CleanupStaleJobs(ctx context.Context, timeout time.Duration) (int, error) {
	jobs, err := q.client.SMembers(ctx, ExportJobsProcessing).Result()
	if err != nil {
		return 0, fmt.Errorf("getting processing jobs: %w", err)
	}

	cleaned := 0
	for _, jobData := range jobs {
		var job Job
		if err := json.Unmarshal([]byte(jobData), &job); err != nil {
			continue
		}

		progress, err := q.GetProgress(ctx, job.ID)
		if err != nil || progress == nil {
			continue
		}

		if time.Since(progress.UpdatedAt) > timeout {
			if _, err := q.RequeueJob(ctx, &job, errors.New("worker timed out")); err != nil {
				return cleaned, err
			}
			cleaned++
		}
	}

	return cleaned, nil
}
