package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/minerva/colocmap/internal/auth"
	"github.com/minerva/colocmap/internal/interactions"
	"github.com/minerva/colocmap/internal/queue"
	"github.com/minerva/colocmap/internal/reports"
	"github.com/minerva/colocmap/internal/scheduler"
)

var (
	errQueueUnavailable = errors.New("export queue not configured")
	errGraphUnavailable = errors.New("interaction graph not configured")
)

type createExportRequest struct {
	Format   string `json:"format"`
	Title    string `json:"title"`
	Priority int    `json:"priority"`
}

func (s *Server) createExport(w http.ResponseWriter, r *http.Request) {
	id, ok := datasetID(w, r)
	if !ok {
		return
	}
	if s.deps.Queue == nil {
		respondError(w, http.StatusServiceUnavailable, "queue_unavailable", errQueueUnavailable.Error())
		return
	}

	var req createExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	format, err := reports.ParseFormat(req.Format)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_format", err.Error())
		return
	}
	if req.Priority < 0 || req.Priority > queue.MaxPriority {
		respondError(w, http.StatusBadRequest, "invalid_priority", queue.ErrInvalidPriority.Error())
		return
	}
	if _, err := s.deps.Store.GetDataset(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	job := &queue.Job{
		DatasetID: id,
		Format:    string(format),
		Title:     req.Title,
		Priority:  req.Priority,
	}
	if claims, ok := auth.GetUserFromContext(r.Context()); ok {
		job.RequestedBy = claims.Email
	}
	if err := s.deps.Queue.EnqueueExportJob(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, job)
}

func (s *Server) getExport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid export job ID")
		return
	}
	if s.deps.Queue == nil {
		respondError(w, http.StatusServiceUnavailable, "queue_unavailable", errQueueUnavailable.Error())
		return
	}

	progress, err := s.deps.Queue.GetProgress(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}
	if progress == nil {
		respondError(w, http.StatusNotFound, "not_found", "Export job not found")
		return
	}

	respondJSON(w, http.StatusOK, progress)
}

// enqueueExport backs scheduled export_heatmap jobs.
func (s *Server) enqueueExport(ctx context.Context, datasetID uuid.UUID, format reports.ReportFormat, title string) (string, error) {
	if s.deps.Queue == nil {
		return "", errQueueUnavailable
	}
	job := &queue.Job{
		DatasetID:   datasetID,
		Format:      string(format),
		Title:       title,
		RequestedBy: "scheduler",
	}
	if err := s.deps.Queue.EnqueueExportJob(ctx, job); err != nil {
		return "", err
	}
	return job.ID.String(), nil
}

// syncInteractions backs scheduled sync_interactions jobs and the sync route.
func (s *Server) syncInteractions(ctx context.Context, datasetID uuid.UUID, threshold float64) (int, error) {
	if s.deps.Graph == nil {
		return 0, errGraphUnavailable
	}
	_, src, err := s.provider.HeatmapSource(ctx, datasetID)
	if err != nil {
		return 0, err
	}
	m, err := src.HeatmapData(ctx)
	if err != nil {
		return 0, err
	}
	return s.deps.Graph.Sync(ctx, datasetID, src.Phenotypes(), m, threshold)
}

func thresholdParam(raw string) (float64, error) {
	if raw == "" {
		return scheduler.DefaultSyncThreshold, nil
	}
	t, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("threshold: %w", err)
	}
	return t, nil
}

// getInteractions lists a phenotype's graph partners when ?phenotype= is
// given, otherwise the dataset's edges computed from the matrix.
func (s *Server) getInteractions(w http.ResponseWriter, r *http.Request) {
	id, ok := datasetID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	if phenotype := q.Get("phenotype"); phenotype != "" {
		if s.deps.Graph == nil {
			respondError(w, http.StatusServiceUnavailable, "graph_unavailable", errGraphUnavailable.Error())
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		partners, err := s.deps.Graph.Partners(r.Context(), id, phenotype, limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "graph_error", err.Error())
			return
		}
		if partners == nil {
			partners = []interactions.Partner{}
		}
		respondJSON(w, http.StatusOK, partners)
		return
	}

	threshold, err := thresholdParam(q.Get("threshold"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	cats, m, err := s.loadMatrix(r, id)
	if err != nil {
		s.respondLoadError(w, err)
		return
	}
	edges, err := interactions.Edges(cats, m, threshold)
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if edges == nil {
		edges = []interactions.Edge{}
	}
	respondJSON(w, http.StatusOK, edges)
}

type syncInteractionsRequest struct {
	Threshold *float64 `json:"threshold"`
}

func (s *Server) syncInteractionGraph(w http.ResponseWriter, r *http.Request) {
	id, ok := datasetID(w, r)
	if !ok {
		return
	}
	if s.deps.Graph == nil {
		respondError(w, http.StatusServiceUnavailable, "graph_unavailable", errGraphUnavailable.Error())
		return
	}

	var req syncInteractionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	threshold := scheduler.DefaultSyncThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	n, err := s.syncInteractions(r.Context(), id, threshold)
	switch {
	case errors.Is(err, interactions.ErrInvalidThreshold):
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	case err != nil:
		s.respondLoadError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"dataset_id": id,
		"threshold":  threshold,
		"edges":      n,
	})
}
