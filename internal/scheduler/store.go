package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/minerva/colocmap/internal/reports"
)

// PostgresStore keeps jobs in scheduled_jobs with their target as typed
// columns. A job's dataset_id references datasets, so deleting a dataset
// drops its schedules and their history.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `id, name, description, schedule, job_type, dataset_id, format, title,
	threshold, enabled, last_run, next_run, created_at, updated_at`

type jobRow struct {
	ID          string          `db:"id"`
	Name        string          `db:"name"`
	Description string          `db:"description"`
	Schedule    string          `db:"schedule"`
	JobType     string          `db:"job_type"`
	DatasetID   uuid.UUID       `db:"dataset_id"`
	Format      string          `db:"format"`
	Title       string          `db:"title"`
	Threshold   sql.NullFloat64 `db:"threshold"`
	Enabled     bool            `db:"enabled"`
	LastRun     *time.Time      `db:"last_run"`
	NextRun     *time.Time      `db:"next_run"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func (r *jobRow) job() *Job {
	jobType := JobType(r.JobType)
	t := Target{
		DatasetID: r.DatasetID,
		Format:    reports.ReportFormat(r.Format),
		Title:     r.Title,
		Threshold: r.Threshold.Float64,
	}

	return &Job{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Schedule:    r.Schedule,
		JobType:     jobType,
		Config:      t.Config(jobType),
		Enabled:     r.Enabled,
		LastRun:     r.LastRun,
		NextRun:     r.NextRun,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// targetColumns splits a job's target into the format, title and threshold
// columns. Only the columns of the job's own type are set.
func targetColumns(job *Job) (uuid.UUID, string, string, sql.NullFloat64, error) {
	t, err := job.Target()
	if err != nil {
		return uuid.Nil, "", "", sql.NullFloat64{}, err
	}
	if job.JobType == JobTypeSyncInteractions {
		return t.DatasetID, "", "", sql.NullFloat64{Float64: t.Threshold, Valid: true}, nil
	}
	return t.DatasetID, string(t.Format), t.Title, sql.NullFloat64{}, nil
}

// foreignKeyViolation is the Postgres error code for a missing referenced row.
const foreignKeyViolation = "23503"

func wrapWriteErr(err error, job *Job) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		return fmt.Errorf("%w: dataset %s does not exist", ErrInvalidJob, job.Config["dataset_id"])
	}
	return err
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return row.job(), nil
}

func (s *PostgresStore) ListJobs(ctx context.Context) ([]*Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT `+jobColumns+` FROM scheduled_jobs ORDER BY created_at DESC`); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	jobs := make([]*Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].job()
	}
	return jobs, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *Job) error {
	datasetID, format, title, threshold, err := targetColumns(job)
	if err != nil {
		return err
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, name, description, schedule, job_type, dataset_id, format, title,
			threshold, enabled, next_run, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, job.ID, job.Name, job.Description, job.Schedule, string(job.JobType), datasetID, format, title,
		threshold, job.Enabled, job.NextRun, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return wrapWriteErr(fmt.Errorf("creating job: %w", err), job)
	}
	return nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *Job) error {
	datasetID, format, title, threshold, err := targetColumns(job)
	if err != nil {
		return err
	}
	job.UpdatedAt = time.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET
			name = $2, description = $3, schedule = $4, job_type = $5, dataset_id = $6,
			format = $7, title = $8, threshold = $9, enabled = $10, next_run = $11, updated_at = $12
		WHERE id = $1
	`, job.ID, job.Name, job.Description, job.Schedule, string(job.JobType), datasetID,
		format, title, threshold, job.Enabled, job.NextRun, job.UpdatedAt)
	if err != nil {
		return wrapWriteErr(fmt.Errorf("updating job: %w", err), job)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

// UpdateLastRun is a no-op for a job whose dataset was deleted mid-run.
func (s *PostgresStore) UpdateLastRun(ctx context.Context, id string, lastRun time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET last_run = $2, updated_at = NOW() WHERE id = $1`, id, lastRun)
	return err
}

func (s *PostgresStore) CreateExecution(ctx context.Context, exec *JobExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO job_executions (id, job_id, status, started_at, ended_at, error, output)
		VALUES (:id, :job_id, :status, :started_at, :ended_at, :error, :output)
	`, exec)
	return err
}

func (s *PostgresStore) UpdateExecution(ctx context.Context, exec *JobExecution) error {
	_, err := s.db.NamedExecContext(ctx, `
		UPDATE job_executions SET status = :status, ended_at = :ended_at, error = :error, output = :output
		WHERE id = :id
	`, exec)
	return err
}

// GetJobExecutions returns the newest executions first.
func (s *PostgresStore) GetJobExecutions(ctx context.Context, jobID string, limit int) ([]*JobExecution, error) {
	var execs []*JobExecution
	err := s.db.SelectContext(ctx, &execs, `
		SELECT id, job_id, status, started_at, ended_at, error, output
		FROM job_executions WHERE job_id = $1
		ORDER BY started_at DESC LIMIT $2
	`, jobID, limit)
	return execs, err
}

// PruneExecutions keeps the newest keep executions of a job.
func (s *PostgresStore) PruneExecutions(ctx context.Context, jobID string, keep int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM job_executions
		WHERE job_id = $1 AND id NOT IN (
			SELECT id FROM job_executions WHERE job_id = $1
			ORDER BY started_at DESC LIMIT $2
		)
	`, jobID, keep)
	return err
}
