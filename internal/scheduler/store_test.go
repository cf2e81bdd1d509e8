package scheduler

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minerva/colocmap/internal/models"
	"github.com/minerva/colocmap/internal/store"
)

func skipIfNoTestDB(t *testing.T) *store.Store {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=colocmap password=colocmap dbname=colocmap_test sslmode=disable"
	}
	st, err := store.New(store.Config{DSN: dsn, MaxOpenConns: 5, MaxIdleConns: 2})
	if err != nil {
		t.Skipf("Skipping test, database not available: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		t.Skipf("Skipping test, database not reachable: %v", err)
		return nil
	}
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPostgresStore_TypedTargets(t *testing.T) {
	st := skipIfNoTestDB(t)
	if st == nil {
		return
	}
	ctx := context.Background()

	ds := &models.Dataset{Name: "scheduler fixture", Phenotypes: []string{"A", "B"}}
	require.NoError(t, st.CreateDataset(ctx, ds, models.CorrelationMatrix{{1, 0.4}, {0.4, 1}}))

	jobs := NewPostgresStore(st.DB())

	export := &Job{
		Name:     "weekly pdf",
		Schedule: "@weekly",
		JobType:  JobTypeExportHeatmap,
		Config:   map[string]string{"dataset_id": ds.ID.String(), "format": "pdf", "title": "Weekly"},
		Enabled:  true,
	}
	require.NoError(t, jobs.CreateJob(ctx, export))

	sync := &Job{
		Name:     "nightly sync",
		Schedule: "@daily",
		JobType:  JobTypeSyncInteractions,
		Config:   map[string]string{"dataset_id": ds.ID.String(), "threshold": "0.45"},
	}
	require.NoError(t, jobs.CreateJob(ctx, sync))

	got, err := jobs.GetJob(ctx, export.ID)
	require.NoError(t, err)
	assert.Equal(t, export.Config, got.Config)

	got, err = jobs.GetJob(ctx, sync.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"dataset_id": ds.ID.String(), "threshold": "0.45"}, got.Config)

	sync.Config["threshold"] = "0.6"
	require.NoError(t, jobs.UpdateJob(ctx, sync))
	got, err = jobs.GetJob(ctx, sync.ID)
	require.NoError(t, err)
	target, err := got.Target()
	require.NoError(t, err)
	assert.Equal(t, 0.6, target.Threshold)

	orphan := &Job{
		Name:     "orphan",
		Schedule: "@daily",
		JobType:  JobTypeExportHeatmap,
		Config:   map[string]string{"dataset_id": uuid.NewString(), "format": "svg"},
	}
	assert.ErrorIs(t, jobs.CreateJob(ctx, orphan), ErrInvalidJob)

	require.NoError(t, st.DeleteDataset(ctx, ds.ID))
	_, err = jobs.GetJob(ctx, export.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}
