package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/pipeline"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
	"github.com/aluiziolira/go-scrape-catalog/store"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

type scrapeCategoriesRequest struct {
	URL          string `json:"url" validate:"required,url"`
	NavigationID string `json:"navigation_id"`
	ParentID     string `json:"parent_id"`
	Force        bool   `json:"force"`
}

type scrapeProductsRequest struct {
	URL        string `json:"url" validate:"required,url"`
	CategoryID string `json:"category_id"`
	MaxPages   int    `json:"max_pages" validate:"gte=0,lte=50"`
	Force      bool   `json:"force"`
}

type productQuery struct {
	CategoryID string
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
	MinRating  *float64 `validate:"omitempty,gte=0,lte=5"`
	Author     string
	Search     string
	SortBy     string `validate:"omitempty,oneof=created createdAt price title"`
	Order      string `validate:"omitempty,oneof=asc desc ASC DESC"`
	Page       int    `validate:"gte=0"`
	Limit      int    `validate:"gte=0,lte=100"`
}

type scrapeResponse struct {
	Data    any              `json:"data"`
	Outcome pipeline.Outcome `json:"outcome"`
}

type listResponse struct {
	Data       any `json:"data"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"total_pages"`
}

// badRequest marks malformed input.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request) {
	force, err := queryBool(r, "force")
	if err != nil {
		s.writeError(w, err)
		return
	}
	nav, outcome, err := s.catalog.GetOrScrapeNavigation(r.Context(), force)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scrapeResponse{Data: nav, Outcome: outcome})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.catalog.GetCategories(r.Context(), r.URL.Query().Get("navigation_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

func (s *Server) handleScrapeCategories(w http.ResponseWriter, r *http.Request) {
	var req scrapeCategoriesRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	q := r.URL.Query()
	if req.NavigationID == "" {
		req.NavigationID = q.Get("navigation_id")
	}
	if req.ParentID == "" {
		req.ParentID = q.Get("parent_id")
	}

	cats, outcome, err := s.catalog.ScrapeCategories(r.Context(), pipeline.CategoryRequest{
		URL:          req.URL,
		NavigationID: req.NavigationID,
		ParentID:     req.ParentID,
		Force:        req.Force,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scrapeResponse{Data: cats, Outcome: outcome})
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q, err := parseProductQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.validate.Struct(q); err != nil {
		s.writeError(w, err)
		return
	}

	filter := store.ProductFilter{
		CategoryID: q.CategoryID,
		Author:     q.Author,
		Search:     q.Search,
		MinRating:  q.MinRating,
		SortBy:     q.SortBy,
		Order:      q.Order,
		Page:       q.Page,
		Limit:      q.Limit,
	}
	if filter.SortBy == "createdAt" {
		filter.SortBy = store.SortCreated
	}
	if q.MinPrice != nil {
		filter.MinPrice = decimal.NewNullDecimal(*q.MinPrice)
	}
	if q.MaxPrice != nil {
		filter.MaxPrice = decimal.NewNullDecimal(*q.MaxPrice)
	}
	filter = filter.Normalized()

	products, total, err := s.catalog.ListProducts(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       products,
		Total:      total,
		Page:       filter.Page,
		Limit:      filter.Limit,
		TotalPages: (total + filter.Limit - 1) / filter.Limit,
	})
}

func (s *Server) handleScrapeProducts(w http.ResponseWriter, r *http.Request) {
	var req scrapeProductsRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	q := r.URL.Query()
	if req.CategoryID == "" {
		req.CategoryID = q.Get("category_id")
	}
	if req.MaxPages == 0 {
		n, err := queryInt(r, "max_pages")
		if err != nil {
			s.writeError(w, err)
			return
		}
		req.MaxPages = n
	}

	products, outcome, err := s.catalog.ScrapeProducts(r.Context(), pipeline.ProductRequest{
		URL:        req.URL,
		CategoryID: req.CategoryID,
		MaxPages:   req.MaxPages,
		Force:      req.Force,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scrapeResponse{Data: products, Outcome: outcome})
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.catalog.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleScrapeDetail(w http.ResponseWriter, r *http.Request) {
	force, err := queryBool(r, "force")
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.scrapeDetail(w, r, force)
}

// handleRefreshProduct always re-scrapes the detail page.
func (s *Server) handleRefreshProduct(w http.ResponseWriter, r *http.Request) {
	s.scrapeDetail(w, r, true)
}

func (s *Server) scrapeDetail(w http.ResponseWriter, r *http.Request, force bool) {
	p, outcome, err := s.catalog.ScrapeProductDetail(r.Context(), mux.Vars(r)["id"], force)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scrapeResponse{Data: p, Outcome: outcome})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, err)
		return
	}
	jobs, err := s.catalog.ListJobs(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) decode(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return badRequest{msg: "read body: " + err.Error()}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return badRequest{msg: "invalid JSON body: " + err.Error()}
	}
	return s.validate.Struct(dst)
}

// writeError maps domain errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var (
		validationErrs validator.ValidationErrors
		bad            badRequest
		extractErr     *scraper.ExtractionError
	)
	switch {
	case errors.As(err, &validationErrs), errors.As(err, &bad):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &extractErr):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("error", err.Error()))
	}
	body := map[string]any{"error": err.Error()}
	if extractErr != nil {
		body["stage"] = extractErr.Stage
		body["kind"] = extractErr.Kind()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseProductQuery(r *http.Request) (productQuery, error) {
	values := r.URL.Query()
	q := productQuery{
		CategoryID: values.Get("category_id"),
		Author:     values.Get("author"),
		Search:     values.Get("search"),
		SortBy:     values.Get("sort_by"),
		Order:      values.Get("order"),
	}

	var err error
	if q.Page, err = queryInt(r, "page"); err != nil {
		return q, err
	}
	if q.Limit, err = queryInt(r, "limit"); err != nil {
		return q, err
	}
	if q.MinPrice, err = queryDecimal(r, "min_price"); err != nil {
		return q, err
	}
	if q.MaxPrice, err = queryDecimal(r, "max_price"); err != nil {
		return q, err
	}
	if raw := values.Get("min_rating"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return q, badRequest{msg: fmt.Sprintf("min_rating: %q is not a number", raw)}
		}
		q.MinRating = &f
	}
	return q, nil
}

func queryBool(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badRequest{msg: fmt.Sprintf("%s: %q is not a boolean", key, raw)}
	}
	return v, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest{msg: fmt.Sprintf("%s: %q is not an integer", key, raw)}
	}
	return v, nil
}

func queryDecimal(r *http.Request, key string) (*decimal.Decimal, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, badRequest{msg: fmt.Sprintf("%s: %q is not a number", key, raw)}
	}
	return &d, nil
}
