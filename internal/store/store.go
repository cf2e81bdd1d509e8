package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/minerva/colocmap/internal/models"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sqlx.DB
}

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Migrate creates any missing tables. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// CreateDataset stores ds and its matrix in one transaction. The matrix must
// be n×n where n is the number of phenotypes.
func (s *Store) CreateDataset(ctx context.Context, ds *models.Dataset, matrix models.CorrelationMatrix) error {
	if err := matrix.Validate(len(ds.Phenotypes)); err != nil {
		return err
	}

	ds.ID = uuid.New()
	ds.CreatedAt = time.Now()
	ds.UpdatedAt = ds.CreatedAt

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO datasets (id, name, description, phenotypes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ds.ID, ds.Name, ds.Description, ds.Phenotypes, ds.CreatedAt, ds.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting dataset: %w", err)
	}

	if err := insertCells(ctx, tx, ds.ID, matrix); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetDataset(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	var ds models.Dataset
	query := `SELECT id, name, description, phenotypes, created_at, updated_at FROM datasets WHERE id = $1`
	err := s.db.GetContext(ctx, &ds, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// ListDatasets returns one page of datasets, newest first, and the total count.
func (s *Store) ListDatasets(ctx context.Context, limit, offset int) ([]models.Dataset, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM datasets`); err != nil {
		return nil, 0, err
	}

	datasets := []models.Dataset{}
	err := s.db.SelectContext(ctx, &datasets, `
		SELECT id, name, description, phenotypes, created_at, updated_at
		FROM datasets
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	return datasets, total, err
}

func (s *Store) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("dataset %s: %w", id, ErrNotFound)
	}
	return nil
}

type cellRow struct {
	Row   int     `db:"row_idx"`
	Col   int     `db:"col_idx"`
	Value float64 `db:"value"`
}

// GetMatrix rebuilds the dataset's matrix in phenotype order.
func (s *Store) GetMatrix(ctx context.Context, id uuid.UUID) (models.CorrelationMatrix, error) {
	ds, err := s.GetDataset(ctx, id)
	if err != nil {
		return nil, err
	}

	var cells []cellRow
	err = s.db.SelectContext(ctx, &cells, `
		SELECT row_idx, col_idx, value FROM correlations
		WHERE dataset_id = $1
		ORDER BY row_idx, col_idx
	`, id)
	if err != nil {
		return nil, err
	}

	n := len(ds.Phenotypes)
	m := make(models.CorrelationMatrix, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	for _, c := range cells {
		if c.Row >= n || c.Col >= n {
			return nil, fmt.Errorf("dataset %s: cell (%d,%d) outside %d×%d: %w",
				id, c.Row, c.Col, n, n, models.ErrSizeMismatch)
		}
		m[c.Row][c.Col] = c.Value
	}
	return m, nil
}

// ReplaceMatrix swaps the stored coefficients for matrix, keeping the
// dataset's phenotype order.
func (s *Store) ReplaceMatrix(ctx context.Context, id uuid.UUID, matrix models.CorrelationMatrix) error {
	ds, err := s.GetDataset(ctx, id)
	if err != nil {
		return err
	}
	if err := matrix.Validate(len(ds.Phenotypes)); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM correlations WHERE dataset_id = $1`, id); err != nil {
		return err
	}
	if err := insertCells(ctx, tx, id, matrix); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE datasets SET updated_at = $1 WHERE id = $2`, time.Now(), id); err != nil {
		return err
	}
	return tx.Commit()
}

func insertCells(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, matrix models.CorrelationMatrix) error {
	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO correlations (dataset_id, row_idx, col_idx, value)
		VALUES ($1, $2, $3, $4)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, row := range matrix {
		for j, v := range row {
			if _, err := stmt.ExecContext(ctx, id, i, j, v); err != nil {
				return fmt.Errorf("inserting cell (%d,%d): %w", i, j, err)
			}
		}
	}
	return nil
}
