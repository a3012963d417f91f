// Package api exposes the reconciler over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
	"github.com/aluiziolira/go-scrape-catalog/store"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Catalog is the set of reconciler operations served by the API.
type Catalog interface {
	GetOrScrapeNavigation(ctx context.Context, force bool) ([]models.Navigation, pipeline.Outcome, error)
	GetCategories(ctx context.Context, navigationID string) ([]models.Category, error)
	ScrapeCategories(ctx context.Context, req pipeline.CategoryRequest) ([]models.Category, pipeline.Outcome, error)
	ScrapeProducts(ctx context.Context, req pipeline.ProductRequest) ([]models.Product, pipeline.Outcome, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ScrapeProductDetail(ctx context.Context, productID string, force bool) (*models.Product, pipeline.Outcome, error)
	ListProducts(ctx context.Context, filter store.ProductFilter) ([]models.Product, int, error)
	ListJobs(ctx context.Context, limit int) ([]models.ScrapeJob, error)
}

var _ Catalog = (*pipeline.Reconciler)(nil)

// Server routes HTTP requests to a Catalog.
type Server struct {
	catalog  Catalog
	gatherer prometheus.Gatherer
	validate *validator.Validate
	logger   *slog.Logger
	router   *mux.Router
}

// NewServer builds the router. gatherer backs /metrics; nil disables it.
func NewServer(catalog Catalog, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		catalog:  catalog,
		gatherer: gatherer,
		validate: validator.New(),
		logger:   logger.With("component", "api"),
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.logRequests)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/navigation", s.handleNavigation).Methods(http.MethodGet)
	api.HandleFunc("/categories", s.handleListCategories).Methods(http.MethodGet)
	api.HandleFunc("/categories/scrape", s.handleScrapeCategories).Methods(http.MethodPost)
	api.HandleFunc("/products", s.handleListProducts).Methods(http.MethodGet)
	api.HandleFunc("/products/scrape", s.handleScrapeProducts).Methods(http.MethodPost)
	api.HandleFunc("/products/{id}", s.handleGetProduct).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}/scrape", s.handleScrapeDetail).Methods(http.MethodPost)
	api.HandleFunc("/products/{id}/refresh", s.handleRefreshProduct).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}
