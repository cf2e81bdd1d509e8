package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/minerva/colocmap/internal/auth"
	"github.com/minerva/colocmap/internal/blobstore"
	"github.com/minerva/colocmap/internal/cache"
	"github.com/minerva/colocmap/internal/config"
	"github.com/minerva/colocmap/internal/datalayer"
	"github.com/minerva/colocmap/internal/interactions"
	"github.com/minerva/colocmap/internal/models"
	"github.com/minerva/colocmap/internal/notifications"
	"github.com/minerva/colocmap/internal/queue"
	"github.com/minerva/colocmap/internal/reports"
	"github.com/minerva/colocmap/internal/scheduler"
	"github.com/minerva/colocmap/internal/store"
)

// DatasetStore is the persistence the API needs; *store.Store implements it.
type DatasetStore interface {
	datalayer.DatasetStore
	CreateDataset(ctx context.Context, ds *models.Dataset, matrix models.CorrelationMatrix) error
	ListDatasets(ctx context.Context, limit, offset int) ([]models.Dataset, int, error)
	DeleteDataset(ctx context.Context, id uuid.UUID) error
	ReplaceMatrix(ctx context.Context, id uuid.UUID, matrix models.CorrelationMatrix) error
	Ping(ctx context.Context) error
}

type MatrixCache interface {
	datalayer.MatrixCache
	Invalidate(ctx context.Context, id uuid.UUID) error
}

type ExportQueue interface {
	EnqueueExportJob(ctx context.Context, job *queue.Job) error
	GetProgress(ctx context.Context, jobID uuid.UUID) (*queue.JobProgress, error)
}

type InteractionGraph interface {
	Sync(ctx context.Context, datasetID uuid.UUID, cats []models.Category, m models.CorrelationMatrix, threshold float64) (int, error)
	Partners(ctx context.Context, datasetID uuid.UUID, phenotype string, limit int) ([]interactions.Partner, error)
}

type ImportNotifier interface {
	NotifyDatasetImported(ctx context.Context, datasetID, name string, phenotypes int) error
}

// Deps are the collaborators a Server runs against. Cache, Queue, Graph and
// Notifier are optional; the routes that need a missing one answer 503.
type Deps struct {
	Store    DatasetStore
	Users    auth.UserStore
	Jobs     scheduler.Store
	Cache    MatrixCache
	Queue    ExportQueue
	Graph    InteractionGraph
	Notifier ImportNotifier
	Blobs    blobstore.Options
}

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	http   *http.Server
	logger *slog.Logger
	deps   Deps

	authService *auth.Service
	scheduler   *scheduler.Scheduler

	provider        *datalayer.Provider
	reportGenerator *reports.Generator

	closers []func() error
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// Open connects to Postgres, Redis and (when configured) Neo4j, then builds
// the server. Redis and Neo4j failures are logged and their routes disabled.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	deps := Deps{
		Store:    st,
		Users:    auth.NewPostgresUserStore(st.DB()),
		Jobs:     scheduler.NewPostgresStore(st.DB()),
		Notifier: notifications.NewService(cfg.Notifications.ServiceConfig(), logger),
		Blobs:    cfg.Storage.BlobOptions(),
	}
	closers := []func() error{st.Close}

	mc, err := cache.New(cache.Config{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Exports.CacheTTL,
	})
	if err != nil {
		logger.Warn("matrix cache disabled", "error", err)
	} else {
		deps.Cache = mc
		closers = append(closers, mc.Close)
	}

	q, err := queue.New(queue.Config{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Warn("export queue disabled", "error", err)
	} else {
		deps.Queue = q
		closers = append(closers, q.Close)
	}

	if cfg.Neo4j.URI != "" {
		g, err := interactions.New(ctx, interactions.Config{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.User,
			Password: cfg.Neo4j.Password,
		})
		if err != nil {
			logger.Warn("interaction graph disabled", "error", err)
		} else {
			deps.Graph = g
			closers = append(closers, func() error { return g.Close(context.Background()) })
		}
	}

	s := New(cfg, deps, WithLogger(logger))
	s.closers = closers

	if cfg.Auth.AdminEmail != "" {
		if _, err := s.authService.EnsureUser(ctx, cfg.Auth.AdminEmail, "Administrator", cfg.Auth.AdminPassword, auth.RoleAdmin); err != nil {
			s.Close()
			return nil, fmt.Errorf("seeding admin user: %w", err)
		}
	}

	return s, nil
}

func New(cfg *config.Config, deps Deps, opts ...ServerOption) *Server {
	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		logger: slog.Default(),
		deps:   deps,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.authService = auth.NewService(auth.Config{
		JWTSecret:          cfg.Auth.JWTSecret,
		AccessTokenExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.Auth.RefreshTokenExpiry,
	}, deps.Users)

	s.provider = &datalayer.Provider{Store: deps.Store, Logger: s.logger}
	if deps.Cache != nil {
		s.provider.Cache = deps.Cache
	}
	s.reportGenerator = reports.NewGenerator(s.provider)

	s.scheduler = scheduler.NewScheduler(deps.Jobs, s.logger)
	(&scheduler.DefaultHandlers{
		ExportFunc: s.enqueueExport,
		SyncFunc:   s.syncInteractions,
	}).Register(s.scheduler)

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(s.corsMiddleware())
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	allowOrigin := s.cfg.Server.CORSAllowOrigin
	if allowOrigin == "*" {
		s.logger.Warn("CORS Allow-Origin set to '*' - configure server.cors_allow_origin in production")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Post("/auth/refresh", s.refresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)

			r.Post("/auth/logout", s.logout)
			r.Get("/auth/me", s.getCurrentUser)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/users", s.listUsers)
				r.Post("/users", s.createUser)
			})

			r.Route("/datasets", func(r chi.Router) {
				r.Get("/", s.listDatasets)
				r.With(auth.RequireRole(auth.RoleAdmin, auth.RoleAnalyst)).Post("/", s.importDataset)

				r.Route("/{datasetID}", func(r chi.Router) {
					r.Get("/", s.getDataset)
					r.With(auth.RequireRole(auth.RoleAdmin)).Delete("/", s.deleteDataset)
					r.Get("/matrix", s.getMatrix)
					r.With(auth.RequireRole(auth.RoleAnalyst, auth.RoleAdmin)).Put("/matrix", s.replaceMatrix)
					r.Get("/tiles", s.getTiles)
					r.Get("/heatmap", s.renderHeatmap)
					r.Get("/heatmap.{format}", s.renderHeatmap)
					r.With(auth.RequireRole(auth.RoleAdmin, auth.RoleAnalyst)).Post("/exports", s.createExport)
					r.Get("/interactions", s.getInteractions)
					r.With(auth.RequireRole(auth.RoleAdmin, auth.RoleAnalyst)).Post("/interactions/sync", s.syncInteractionGraph)
				})
			})

			r.Get("/exports/{jobID}", s.getExport)

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", s.listScheduledJobs)
				r.Get("/{jobID}", s.getScheduledJob)
				r.Get("/{jobID}/executions", s.getJobExecutions)

				r.Group(func(r chi.Router) {
					r.Use(auth.RequireRole(auth.RoleAdmin))
					r.Post("/", s.createScheduledJob)
					r.Put("/{jobID}", s.updateScheduledJob)
					r.Delete("/{jobID}", s.deleteScheduledJob)
					r.Post("/{jobID}/run", s.runScheduledJobNow)
				})
			})
		})
	})
}

func (s *Server) Run(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		s.logger.Error("failed to start scheduler", "error", err)
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		<-s.scheduler.Stop().Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// Close releases the connections Open made.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    *apiMeta    `json:"meta,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiMeta struct {
	Total  int `json:"total,omitempty"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondJSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *apiMeta) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

// respondStoreError maps lookup failures to 404 and everything else to 500.
func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "Dataset not found")
		return
	}
	respondError(w, http.StatusInternalServerError, "db_error", err.Error())
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db_unavailable", "Database not available")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
