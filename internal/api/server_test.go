package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minerva/colocmap/internal/auth"
	"github.com/minerva/colocmap/internal/config"
	"github.com/minerva/colocmap/internal/interactions"
	"github.com/minerva/colocmap/internal/models"
	"github.com/minerva/colocmap/internal/queue"
	"github.com/minerva/colocmap/internal/scheduler"
	"github.com/minerva/colocmap/internal/store"
)

type memDatasets struct {
	mu       sync.Mutex
	datasets map[uuid.UUID]*models.Dataset
	matrices map[uuid.UUID]models.CorrelationMatrix
}

func newMemDatasets() *memDatasets {
	return &memDatasets{
		datasets: map[uuid.UUID]*models.Dataset{},
		matrices: map[uuid.UUID]models.CorrelationMatrix{},
	}
}

func (m *memDatasets) CreateDataset(ctx context.Context, ds *models.Dataset, matrix models.CorrelationMatrix) error {
	if err := matrix.Validate(len(ds.Phenotypes)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ds.ID = uuid.New()
	ds.CreatedAt = time.Now()
	m.datasets[ds.ID] = ds
	m.matrices[ds.ID] = matrix.Clone()
	return nil
}

func (m *memDatasets) GetDataset(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[id]
	if !ok {
		return nil, fmt.Errorf("dataset %s: %w", id, store.ErrNotFound)
	}
	return ds, nil
}

func (m *memDatasets) GetMatrix(ctx context.Context, id uuid.UUID) (models.CorrelationMatrix, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mat, ok := m.matrices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return mat, nil
}

func (m *memDatasets) ListDatasets(ctx context.Context, limit, offset int) ([]models.Dataset, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Dataset{}
	for _, ds := range m.datasets {
		out = append(out, *ds)
	}
	return out, len(out), nil
}

func (m *memDatasets) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.datasets[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.datasets, id)
	delete(m.matrices, id)
	return nil
}

func (m *memDatasets) ReplaceMatrix(ctx context.Context, id uuid.UUID, matrix models.CorrelationMatrix) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[id]
	if !ok {
		return store.ErrNotFound
	}
	if err := matrix.Validate(len(ds.Phenotypes)); err != nil {
		return err
	}
	m.matrices[id] = matrix.Clone()
	return nil
}

func (m *memDatasets) Ping(ctx context.Context) error { return nil }

type memUsers struct {
	mu    sync.Mutex
	users []*auth.User
	live  map[string]bool
}

func (m *memUsers) GetUserByID(ctx context.Context, id string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (m *memUsers) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (m *memUsers) CreateUser(ctx context.Context, user *auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.ID = uuid.NewString()
	m.users = append(m.users, user)
	return nil
}

func (m *memUsers) UpdateUser(ctx context.Context, user *auth.User) error { return nil }
func (m *memUsers) DeleteUser(ctx context.Context, id string) error       { return nil }

func (m *memUsers) ListUsers(ctx context.Context) ([]*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*auth.User(nil), m.users...), nil
}

func (m *memUsers) StoreRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == nil {
		m.live = map[string]bool{}
	}
	m.live[tokenHash] = true
	return nil
}

func (m *memUsers) ValidateRefreshToken(ctx context.Context, userID, tokenHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[tokenHash], nil
}

func (m *memUsers) RevokeRefreshToken(ctx context.Context, userID, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, tokenHash)
	return nil
}

func (m *memUsers) RevokeAllRefreshTokens(ctx context.Context, userID string) error { return nil }

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*scheduler.Job
}

func (m *memJobs) GetJob(ctx context.Context, id string) (*scheduler.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return j, nil
	}
	return nil, scheduler.ErrJobNotFound
}

func (m *memJobs) ListJobs(ctx context.Context) ([]*scheduler.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*scheduler.Job{}
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (m *memJobs) CreateJob(ctx context.Context, job *scheduler.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.ID = uuid.NewString()
	m.jobs[job.ID] = job
	return nil
}

func (m *memJobs) UpdateJob(ctx context.Context, job *scheduler.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return scheduler.ErrJobNotFound
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *memJobs) DeleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return scheduler.ErrJobNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *memJobs) UpdateLastRun(ctx context.Context, id string, lastRun time.Time) error { return nil }
func (m *memJobs) CreateExecution(ctx context.Context, exec *scheduler.JobExecution) error {
	return nil
}
func (m *memJobs) UpdateExecution(ctx context.Context, exec *scheduler.JobExecution) error {
	return nil
}
func (m *memJobs) GetJobExecutions(ctx context.Context, jobID string, limit int) ([]*scheduler.JobExecution, error) {
	return []*scheduler.JobExecution{}, nil
}
func (m *memJobs) PruneExecutions(ctx context.Context, jobID string, keep int) error { return nil }

type fakeQueue struct {
	mu       sync.Mutex
	jobs     []*queue.Job
	progress map[uuid.UUID]*queue.JobProgress
}

func (q *fakeQueue) EnqueueExportJob(ctx context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.ID = uuid.New()
	q.jobs = append(q.jobs, job)
	if q.progress == nil {
		q.progress = map[uuid.UUID]*queue.JobProgress{}
	}
	q.progress[job.ID] = &queue.JobProgress{JobID: job.ID, DatasetID: job.DatasetID, Format: job.Format, Status: queue.StatusPending}
	return nil
}

func (q *fakeQueue) GetProgress(ctx context.Context, jobID uuid.UUID) (*queue.JobProgress, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.progress[jobID], nil
}

type fakeGraph struct {
	synced    int
	threshold float64
}

func (g *fakeGraph) Sync(ctx context.Context, id uuid.UUID, cats []models.Category, m models.CorrelationMatrix, threshold float64) (int, error) {
	edges, err := interactions.Edges(cats, m, threshold)
	if err != nil {
		return 0, err
	}
	g.synced = len(edges)
	g.threshold = threshold
	return len(edges), nil
}

func (g *fakeGraph) Partners(ctx context.Context, id uuid.UUID, phenotype string, limit int) ([]interactions.Partner, error) {
	return []interactions.Partner{{Name: "CD8 T", Rho: -0.42, Relation: interactions.RelationAvoids}}, nil
}

type harness struct {
	srv      *Server
	datasets *memDatasets
	queue    *fakeQueue
	graph    *fakeGraph
	tokens   map[auth.Role]string
	tonsil   uuid.UUID
}

func newHarness(t *testing.T, withQueue bool) *harness {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	h := &harness{
		datasets: newMemDatasets(),
		graph:    &fakeGraph{},
		tokens:   map[auth.Role]string{},
	}
	deps := Deps{
		Store: h.datasets,
		Users: &memUsers{},
		Jobs:  &memJobs{jobs: map[string]*scheduler.Job{}},
		Graph: h.graph,
	}
	if withQueue {
		h.queue = &fakeQueue{}
		deps.Queue = h.queue
	}
	h.srv = New(cfg, deps, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	ctx := context.Background()
	for _, role := range []auth.Role{auth.RoleAdmin, auth.RoleAnalyst, auth.RoleViewer} {
		email := string(role) + "@lab.org"
		_, err := h.srv.authService.EnsureUser(ctx, email, string(role), "pw-"+string(role), role)
		require.NoError(t, err)
		pair, err := h.srv.authService.Login(ctx, email, "pw-"+string(role))
		require.NoError(t, err)
		h.tokens[role] = pair.AccessToken
	}

	ds := &models.Dataset{Name: "tonsil", Phenotypes: models.StringArray{"Tumor", "CD8 T", "Macrophage"}}
	require.NoError(t, h.datasets.CreateDataset(ctx, ds, models.CorrelationMatrix{
		{1, -0.42, 0.1},
		{-0.42, 1, 0.61},
		{0.1, 0.61, 1},
	}))
	h.tonsil = ds.ID
	return h
}

func (h *harness) do(t *testing.T, role auth.Role, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+h.tokens[role])
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) apiResponse {
	t.Helper()
	resp := apiResponse{Data: data}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func (h *harness) path(suffix string) string {
	return "/api/v1/datasets/" + h.tonsil.String() + suffix
}

func TestHealthAndReady(t *testing.T) {
	h := newHarness(t, false)
	assert.Equal(t, http.StatusOK, h.do(t, "", http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, "", http.MethodGet, "/ready", nil).Code)
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(t, "", http.MethodGet, "/api/v1/datasets", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRoute(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(t, "", http.MethodPost, "/api/v1/auth/login", loginRequest{Email: "viewer@lab.org", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var pair auth.TokenPair
	rec = h.do(t, "", http.MethodPost, "/api/v1/auth/login", loginRequest{Email: "viewer@lab.org", Password: "pw-viewer"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &pair)
	assert.NotEmpty(t, pair.AccessToken)

	rec = h.do(t, "", http.MethodPost, "/api/v1/auth/refresh", refreshRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListDatasets(t *testing.T) {
	h := newHarness(t, false)
	var datasets []models.Dataset
	rec := h.do(t, auth.RoleViewer, http.MethodGet, "/api/v1/datasets?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec, &datasets)
	require.Len(t, datasets, 1)
	assert.Equal(t, "tonsil", datasets[0].Name)
	assert.Equal(t, 1, resp.Meta.Total)
	assert.Equal(t, 10, resp.Meta.Limit)
}

func TestImportDataset(t *testing.T) {
	h := newHarness(t, false)
	body := importDatasetRequest{
		Name:       "spleen",
		Phenotypes: []string{"A", "B"},
		Matrix:     models.CorrelationMatrix{{1, 0.2}, {0.2, 1}},
	}

	rec := h.do(t, auth.RoleViewer, http.MethodPost, "/api/v1/datasets", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var ds models.Dataset
	rec = h.do(t, auth.RoleAnalyst, http.MethodPost, "/api/v1/datasets", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decode(t, rec, &ds)
	assert.NotEqual(t, uuid.Nil, ds.ID)
	assert.Len(t, h.datasets.datasets, 2)

	body.Matrix = models.CorrelationMatrix{{1, 0.2}, {0.2}}
	rec = h.do(t, auth.RoleAnalyst, http.MethodPost, "/api/v1/datasets", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, auth.RoleAnalyst, http.MethodPost, "/api/v1/datasets", importDatasetRequest{
		Phenotypes: []string{"A"},
		Matrix:     models.CorrelationMatrix{{1}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "name is required")
}

func TestImportDataset_RejectsLocalSources(t *testing.T) {
	h := newHarness(t, false)
	dir := filepath.Join(t.TempDir(), "newdir")

	rec := h.do(t, auth.RoleAnalyst, http.MethodPost, "/api/v1/datasets", importDatasetRequest{
		SourceURL: "file://" + filepath.ToSlash(dir) + "/x.yaml",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_source")
	assert.NoDirExists(t, dir)
	assert.Len(t, h.datasets.datasets, 1)

	rec = h.do(t, auth.RoleAnalyst, http.MethodPost, "/api/v1/datasets", importDatasetRequest{
		SourceURL: "ftp://lab/x.csv",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckImportSource_Allowlist(t *testing.T) {
	h := newHarness(t, false)
	assert.NoError(t, h.srv.checkImportSource("s3://anywhere/m.csv"))

	h.srv.cfg.Storage.ImportSources = []string{"s3://lab-data/matrices", "gs://shared"}
	assert.NoError(t, h.srv.checkImportSource("s3://lab-data/matrices/tonsil/m.csv"))
	assert.NoError(t, h.srv.checkImportSource("gs://shared/any/m.json"))

	for _, raw := range []string{
		"s3://lab-data/other/m.csv",
		"s3://lab-data/matrices-old/m.csv",
		"s3://lab-data/matrices/../secret/m.csv",
		"s3://other/matrices/m.csv",
		"azblob://shared/m.csv",
	} {
		assert.ErrorIs(t, h.srv.checkImportSource(raw), errSourceNotAllowed, raw)
	}
}

func TestGetDataset(t *testing.T) {
	h := newHarness(t, false)
	assert.Equal(t, http.StatusOK, h.do(t, auth.RoleViewer, http.MethodGet, h.path(""), nil).Code)
	assert.Equal(t, http.StatusNotFound,
		h.do(t, auth.RoleViewer, http.MethodGet, "/api/v1/datasets/"+uuid.NewString(), nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		h.do(t, auth.RoleViewer, http.MethodGet, "/api/v1/datasets/tonsil", nil).Code)
}

func TestDeleteDataset_AdminOnly(t *testing.T) {
	h := newHarness(t, false)
	assert.Equal(t, http.StatusForbidden, h.do(t, auth.RoleAnalyst, http.MethodDelete, h.path(""), nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, auth.RoleAdmin, http.MethodDelete, h.path(""), nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, auth.RoleAdmin, http.MethodDelete, h.path(""), nil).Code)
}

func TestDeleteDataset_RemovesSchedules(t *testing.T) {
	h := newHarness(t, true)
	var job scheduler.Job
	rec := h.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/jobs", createJobRequest{
		Name:     "nightly sync",
		Schedule: "@daily",
		JobType:  scheduler.JobTypeSyncInteractions,
		Config:   map[string]string{"dataset_id": h.tonsil.String()},
		Enabled:  true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decode(t, rec, &job)

	require.Equal(t, http.StatusOK, h.do(t, auth.RoleAdmin, http.MethodDelete, h.path(""), nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, auth.RoleViewer, http.MethodGet, "/api/v1/jobs/"+job.ID, nil).Code)
}

func TestMatrixAndTiles(t *testing.T) {
	h := newHarness(t, false)

	var file struct {
		Phenotypes []string                 `json:"phenotypes"`
		Matrix     models.CorrelationMatrix `json:"matrix"`
	}
	rec := h.do(t, auth.RoleViewer, http.MethodGet, h.path("/matrix"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &file)
	assert.Equal(t, []string{"Tumor", "CD8 T", "Macrophage"}, file.Phenotypes)
	assert.Equal(t, 0.61, file.Matrix.At(1, 2))

	var tiles struct {
		Tiles []models.Tile `json:"tiles"`
	}
	rec = h.do(t, auth.RoleViewer, http.MethodGet, h.path("/tiles"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &tiles)
	require.Len(t, tiles.Tiles, 9)
	assert.Equal(t, models.Tile{Row: "Tumor", Col: "CD8 T", Value: -0.42}, tiles.Tiles[1])
}

func TestReplaceMatrix(t *testing.T) {
	h := newHarness(t, false)
	next := models.CorrelationMatrix{
		{1, 0.2, 0.1},
		{0.2, 1, -0.5},
		{0.1, -0.5, 1},
	}

	rec := h.do(t, auth.RoleViewer, http.MethodPut, h.path("/matrix"), replaceMatrixRequest{Matrix: next})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, auth.RoleAnalyst, http.MethodPut, h.path("/matrix"), replaceMatrixRequest{Matrix: models.CorrelationMatrix{{1}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, auth.RoleAnalyst, http.MethodPut, h.path("/matrix"), replaceMatrixRequest{Matrix: next})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, -0.5, h.datasets.matrices[h.tonsil].At(1, 2))

	rec = h.do(t, auth.RoleAnalyst, http.MethodPut, "/api/v1/datasets/"+uuid.NewString()+"/matrix", replaceMatrixRequest{Matrix: next})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRenderHeatmap(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(t, auth.RoleViewer, http.MethodGet, h.path("/heatmap.svg"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "inline")
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 9, doc.Find("rect.tile").Length())

	rec = h.do(t, auth.RoleViewer, http.MethodGet, h.path("/heatmap?title=Tonsil&download=1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	doc, err = goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "Tonsil", doc.Find("title").Text())
	assert.Equal(t, 1, doc.Find("#heatmap-tooltip").Length())

	rec = h.do(t, auth.RoleViewer, http.MethodGet, h.path("/heatmap.pdf"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))

	rec = h.do(t, auth.RoleViewer, http.MethodGet, h.path("/heatmap.png"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, auth.RoleViewer, http.MethodGet, h.path("/heatmap.html?hide_tooltip_on_leave=true"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, auth.RoleViewer, http.MethodGet, h.path("/heatmap.html?hide_tooltip_on_leave=yes"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_parameter")
}

func TestRenderHeatmap_DimensionMismatch(t *testing.T) {
	h := newHarness(t, false)
	h.datasets.matrices[h.tonsil] = models.CorrelationMatrix{{1, 0}, {0, 1}}

	rec := h.do(t, auth.RoleViewer, http.MethodGet, h.path("/heatmap.svg"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestExports(t *testing.T) {
	h := newHarness(t, true)

	rec := h.do(t, auth.RoleViewer, http.MethodPost, h.path("/exports"), createExportRequest{Format: "pdf"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, auth.RoleAnalyst, http.MethodPost, h.path("/exports"), createExportRequest{Format: "gif"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, p := range []int{-1, queue.MaxPriority + 1} {
		rec = h.do(t, auth.RoleAnalyst, http.MethodPost, h.path("/exports"), createExportRequest{Format: "svg", Priority: p})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "priority %d", p)
	}
	assert.Empty(t, h.queue.jobs)

	var job queue.Job
	rec = h.do(t, auth.RoleAnalyst, http.MethodPost, h.path("/exports"), createExportRequest{Format: "PDF", Priority: 2})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	decode(t, rec, &job)
	assert.Equal(t, "pdf", job.Format)
	assert.Equal(t, "analyst@lab.org", job.RequestedBy)
	require.Len(t, h.queue.jobs, 1)

	var progress queue.JobProgress
	rec = h.do(t, auth.RoleViewer, http.MethodGet, "/api/v1/exports/"+job.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &progress)
	assert.Equal(t, queue.StatusPending, progress.Status)

	rec = h.do(t, auth.RoleViewer, http.MethodGet, "/api/v1/exports/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExports_NoQueue(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(t, auth.RoleAnalyst, http.MethodPost, h.path("/exports"), createExportRequest{Format: "svg"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInteractions(t *testing.T) {
	h := newHarness(t, false)

	var edges []interactions.Edge
	rec := h.do(t, auth.RoleViewer, http.MethodGet, h.path("/interactions?threshold=0.4"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &edges)
	require.Len(t, edges, 2)
	assert.Equal(t, interactions.RelationInteracts, edges[0].Relation)

	rec = h.do(t, auth.RoleViewer, http.MethodGet, h.path("/interactions?threshold=2"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var partners []interactions.Partner
	rec = h.do(t, auth.RoleViewer, http.MethodGet, h.path("/interactions?phenotype=Tumor"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &partners)
	assert.Equal(t, "CD8 T", partners[0].Name)

	rec = h.do(t, auth.RoleAnalyst, http.MethodPost, h.path("/interactions/sync"), map[string]float64{"threshold": 0.5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, h.graph.synced)
	assert.Equal(t, 0.5, h.graph.threshold)
}

func TestScheduledJobs(t *testing.T) {
	h := newHarness(t, true)
	body := createJobRequest{
		Name:     "weekly export",
		Schedule: "0 6 * * 1",
		JobType:  scheduler.JobTypeExportHeatmap,
		Config:   map[string]string{"dataset_id": h.tonsil.String(), "format": "pdf"},
	}

	assert.Equal(t, http.StatusForbidden, h.do(t, auth.RoleAnalyst, http.MethodPost, "/api/v1/jobs", body).Code)

	bad := body
	bad.Schedule = "whenever"
	assert.Equal(t, http.StatusBadRequest, h.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/jobs", bad).Code)

	var job scheduler.Job
	rec := h.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/jobs", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decode(t, rec, &job)

	rec = h.do(t, auth.RoleViewer, http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, auth.RoleViewer, http.MethodGet, "/api/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/jobs/"+job.ID+"/run", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Eventually(t, func() bool {
		h.queue.mu.Lock()
		defer h.queue.mu.Unlock()
		return len(h.queue.jobs) == 1 && h.queue.jobs[0].RequestedBy == "scheduler"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusOK, h.do(t, auth.RoleAdmin, http.MethodDelete, "/api/v1/jobs/"+job.ID, nil).Code)
}

func TestUsers_AdminOnly(t *testing.T) {
	h := newHarness(t, false)
	body := createUserRequest{Email: "new@lab.org", Password: "pw", Role: "analyst"}

	assert.Equal(t, http.StatusForbidden, h.do(t, auth.RoleAnalyst, http.MethodPost, "/api/v1/users", body).Code)

	var user auth.User
	rec := h.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/users", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decode(t, rec, &user)
	assert.Equal(t, auth.RoleAnalyst, user.Role)
	assert.NotContains(t, rec.Body.String(), "password")

	assert.Equal(t, http.StatusConflict, h.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/users", body).Code)

	body.Email, body.Role = "other@lab.org", "root"
	assert.Equal(t, http.StatusBadRequest, h.do(t, auth.RoleAdmin, http.MethodPost, "/api/v1/users", body).Code)

	var me map[string]interface{}
	rec = h.do(t, auth.RoleViewer, http.MethodGet, "/api/v1/auth/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &me)
	assert.Equal(t, "viewer@lab.org", me["email"])
}
