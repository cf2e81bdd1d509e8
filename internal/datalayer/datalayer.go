// Package datalayer supplies heatmap widgets with correlation matrices from
// the dataset store, reading through the Redis matrix cache.
package datalayer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/minerva/colocmap/internal/cache"
	"github.com/minerva/colocmap/internal/heatmap"
	"github.com/minerva/colocmap/internal/models"
)

// DatasetStore is the subset of store.Store the layer reads from.
type DatasetStore interface {
	GetDataset(ctx context.Context, id uuid.UUID) (*models.Dataset, error)
	GetMatrix(ctx context.Context, id uuid.UUID) (models.CorrelationMatrix, error)
}

// MatrixCache is the subset of cache.MatrixCache the layer uses. A nil
// MatrixCache disables caching.
type MatrixCache interface {
	Get(ctx context.Context, id uuid.UUID) (*cache.Entry, bool, error)
	Set(ctx context.Context, id uuid.UUID, e *cache.Entry) error
}

// Layer serves one dataset.
type Layer struct {
	store   DatasetStore
	cache   MatrixCache
	logger  *slog.Logger
	dataset *models.Dataset
}

// Open loads the dataset's phenotype order so that Phenotypes can answer
// synchronously once the widget asks for it.
func Open(ctx context.Context, st DatasetStore, mc MatrixCache, id uuid.UUID, logger *slog.Logger) (*Layer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ds, err := st.GetDataset(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("opening dataset %s: %w", id, err)
	}
	return &Layer{store: st, cache: mc, logger: logger, dataset: ds}, nil
}

// Provider opens a Layer per request. It satisfies reports.DataProvider.
type Provider struct {
	Store  DatasetStore
	Cache  MatrixCache
	Logger *slog.Logger
}

func (p *Provider) HeatmapSource(ctx context.Context, id uuid.UUID) (*models.Dataset, heatmap.DataSource, error) {
	layer, err := Open(ctx, p.Store, p.Cache, id, p.Logger)
	if err != nil {
		return nil, nil, err
	}
	return layer.Dataset(), layer, nil
}

func (l *Layer) Dataset() *models.Dataset {
	return l.dataset
}

func (l *Layer) Phenotypes() []models.Category {
	return l.dataset.Categories()
}

// HeatmapData returns the matrix from cache when the cached phenotype order
// still matches, otherwise from the store, refreshing the cache.
func (l *Layer) HeatmapData(ctx context.Context) (models.CorrelationMatrix, error) {
	id := l.dataset.ID

	if l.cache != nil {
		entry, found, err := l.cache.Get(ctx, id)
		if err != nil {
			l.logger.Warn("matrix cache read failed", "dataset_id", id, "error", err)
		} else if found && sameOrder(entry.Phenotypes, l.dataset.Phenotypes) {
			return entry.Matrix, nil
		}
	}

	m, err := l.store.GetMatrix(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading matrix for dataset %s: %w", id, err)
	}

	if l.cache != nil {
		entry := &cache.Entry{Phenotypes: l.dataset.Phenotypes, Matrix: m}
		if err := l.cache.Set(ctx, id, entry); err != nil {
			l.logger.Warn("matrix cache write failed", "dataset_id", id, "error", err)
		}
	}
	return m, nil
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Static serves a fixed matrix. It backs the CLI renderer and tests.
type Static struct {
	Labels []models.Category
	Matrix models.CorrelationMatrix
	Err    error
}

func NewStatic(names []string, m models.CorrelationMatrix) *Static {
	return &Static{Labels: models.Categories(names), Matrix: m}
}

func (s *Static) Phenotypes() []models.Category {
	return s.Labels
}

func (s *Static) HeatmapData(ctx context.Context) (models.CorrelationMatrix, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Matrix, nil
}
