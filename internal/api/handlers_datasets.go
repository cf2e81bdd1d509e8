package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/minerva/colocmap/internal/blobstore"
	"github.com/minerva/colocmap/internal/heatmap"
	"github.com/minerva/colocmap/internal/matrixio"
	"github.com/minerva/colocmap/internal/models"
	"github.com/minerva/colocmap/internal/reports"
)

func datasetID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "datasetID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid dataset ID")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	datasets, total, err := s.deps.Store.ListDatasets(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSONWithMeta(w, http.StatusOK, datasets, &apiMeta{
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// importDatasetRequest carries either an inline matrix or the URL of a matrix
// file in a bucket.
type importDatasetRequest struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Phenotypes  []string                 `json:"phenotypes"`
	Matrix      models.CorrelationMatrix `json:"matrix"`
	SourceURL   string                   `json:"source_url"`
}

func (s *Server) importDataset(w http.ResponseWriter, r *http.Request) {
	var req importDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	file := &matrixio.File{Name: req.Name, Phenotypes: req.Phenotypes, Matrix: req.Matrix}
	if req.SourceURL != "" {
		if err := s.checkImportSource(req.SourceURL); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_source", err.Error())
			return
		}
		fetched, err := matrixio.Fetch(r.Context(), req.SourceURL, s.deps.Blobs)
		if err != nil {
			respondError(w, http.StatusBadRequest, "import_error", err.Error())
			return
		}
		file = fetched
		if req.Name != "" {
			file.Name = req.Name
		}
		if file.Name == "" {
			base := path.Base(req.SourceURL)
			file.Name = strings.TrimSuffix(base, path.Ext(base))
		}
	}

	if file.Name == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "name is required")
		return
	}
	if err := file.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	ds := &models.Dataset{
		Name:        file.Name,
		Description: req.Description,
		Phenotypes:  file.Phenotypes,
	}
	if err := s.deps.Store.CreateDataset(r.Context(), ds, file.Matrix); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	if n := file.Matrix.OutOfRange(); n > 0 {
		s.logger.Warn("imported matrix has values outside [-1, 1]", "dataset_id", ds.ID, "cells", n)
	}
	s.logger.Info("dataset imported", "dataset_id", ds.ID, "name", ds.Name, "phenotypes", len(ds.Phenotypes))

	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.NotifyDatasetImported(r.Context(), ds.ID.String(), ds.Name, len(ds.Phenotypes)); err != nil {
			s.logger.Warn("import notification failed", "dataset_id", ds.ID, "error", err)
		}
	}

	respondJSON(w, http.StatusCreated, ds)
}

var errSourceNotAllowed = errors.New("source_url is not an allowed import source")

// checkImportSource accepts bucket URLs only. Local file URLs are never read
// on behalf of a client.
func (s *Server) checkImportSource(raw string) error {
	loc, err := blobstore.ParseURL(raw)
	if err != nil {
		return err
	}
	if loc.Scheme == "file" {
		return errSourceNotAllowed
	}
	allowed := s.cfg.Storage.ImportSources
	if len(allowed) == 0 {
		return nil
	}
	dir, _ := blobstore.SplitObjectURL(raw)
	src, err := blobstore.ParseURL(dir)
	if err != nil {
		return err
	}
	for _, a := range allowed {
		root, err := blobstore.ParseURL(a)
		if err != nil || root.Scheme != src.Scheme || root.Bucket != src.Bucket {
			continue
		}
		prefix := path.Clean("/" + src.Prefix)
		want := path.Clean("/" + root.Prefix)
		if want == "/" || prefix == want || strings.HasPrefix(prefix, want+"/") {
			return nil
		}
	}
	return errSourceNotAllowed
}

func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := datasetID(w, r)
	if !ok {
		return
	}

	ds, err := s.deps.Store.GetDataset(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, ds)
}

func (s *Server) deleteDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := datasetID(w, r)
	if !ok {
		return
	}

	if _, err := s.deps.Store.GetDataset(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	n, err := s.scheduler.DeleteDatasetJobs(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if n > 0 {
		s.logger.Info("removed scheduled jobs of deleted dataset", "dataset_id", id, "jobs", n)
	}

	if err := s.deps.Store.DeleteDataset(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	if s.deps.Cache != nil {
		if err := s.deps.Cache.Invalidate(r.Context(), id); err != nil {
			s.logger.Warn("cache invalidation failed", "dataset_id", id, "error", err)
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// loadMatrix reads a dataset's labels and matrix through the cache and checks
// that they agree.
func (s *Server) loadMatrix(r *http.Request, id uuid.UUID) ([]models.Category, models.CorrelationMatrix, error) {
	_, src, err := s.provider.HeatmapSource(r.Context(), id)
	if err != nil {
		return nil, nil, err
	}
	m, err := src.HeatmapData(r.Context())
	if err != nil {
		return nil, nil, err
	}
	cats := src.Phenotypes()
	if err := m.Validate(len(cats)); err != nil {
		return nil, nil, errors.Join(heatmap.ErrDimensionMismatch, err)
	}
	return cats, m, nil
}

func (s *Server) respondLoadError(w http.ResponseWriter, err error) {
	if errors.Is(err, heatmap.ErrDimensionMismatch) || errors.Is(err, models.ErrSizeMismatch) || errors.Is(err, models.ErrNotSquare) {
		respondError(w, http.StatusUnprocessableEntity, "dimension_mismatch", err.Error())
		return
	}
	respondStoreError(w, err)
}

func (s *Server) getMatrix(w http.ResponseWriter, r *http.Request) {
	id, ok := datasetID(w, r)
	if !ok {
		return
	}

	cats, m, err := s.loadMatrix(r, id)
	if err != nil {
		s.respondLoadError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, matrixio.File{
		Phenotypes: models.CategoryNames(cats),
		Matrix:     m,
	})
}

type replaceMatrixRequest struct {
	Matrix models.CorrelationMatrix `json:"matrix"`
}

// replaceMatrix swaps in recomputed coefficients for an existing dataset.
// The phenotype order is fixed at import.
func (s *Server) replaceMatrix(w http.ResponseWriter, r *http.Request) {
	id, ok := datasetID(w, r)
	if !ok {
		return
	}

	var req replaceMatrixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if err := s.deps.Store.ReplaceMatrix(r.Context(), id, req.Matrix); err != nil {
		if errors.Is(err, models.ErrSizeMismatch) || errors.Is(err, models.ErrNotSquare) {
			respondError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		respondStoreError(w, err)
		return
	}
	if s.deps.Cache != nil {
		if err := s.deps.Cache.Invalidate(r.Context(), id); err != nil {
			s.logger.Warn("failed to invalidate matrix cache", "dataset_id", id, "error", err)
		}
	}

	s.logger.Info("matrix replaced", "dataset_id", id)
	respondJSON(w, http.StatusOK, map[string]string{"status": "replaced"})
}

func (s *Server) getTiles(w http.ResponseWriter, r *http.Request) {
	id, ok := datasetID(w, r)
	if !ok {
		return
	}

	cats, m, err := s.loadMatrix(r, id)
	if err != nil {
		s.respondLoadError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, reports.TilesDocument{
		Phenotypes: models.CategoryNames(cats),
		Tiles:      models.Flatten(cats, m),
	})
}

// renderHeatmap serves /heatmap as an HTML page and /heatmap.{format} in the
// named format. ?download=1 asks the browser to save the file.
func (s *Server) renderHeatmap(w http.ResponseWriter, r *http.Request) {
	id, ok := datasetID(w, r)
	if !ok {
		return
	}

	format := reports.FormatHTML
	if f := chi.URLParam(r, "format"); f != "" {
		var err error
		if format, err = reports.ParseFormat(f); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_format", err.Error())
			return
		}
	}

	q := r.URL.Query()
	req := &reports.ReportRequest{
		DatasetID:          id,
		Format:             format,
		Title:              s.cfg.Heatmap.Title,
		Subtitle:           s.cfg.Heatmap.Subtitle,
		HideTooltipOnLeave: s.cfg.Heatmap.HideTooltipOnLeave,
	}
	if t := q.Get("title"); t != "" {
		req.Title = t
	}
	if st := q.Get("subtitle"); st != "" {
		req.Subtitle = st
	}
	if h := q.Get("hide_tooltip_on_leave"); h != "" {
		hide, err := strconv.ParseBool(h)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_parameter", "hide_tooltip_on_leave must be true or false")
			return
		}
		req.HideTooltipOnLeave = hide
	}

	report, err := s.reportGenerator.Generate(r.Context(), req)
	if err != nil {
		s.respondLoadError(w, err)
		return
	}

	disposition := "inline"
	if q.Get("download") != "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", report.MimeType)
	w.Header().Set("Content-Disposition", disposition+"; filename="+report.Filename)
	w.Header().Set("Content-Length", strconv.Itoa(len(report.Data)))
	_, _ = w.Write(report.Data)
}
