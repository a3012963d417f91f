package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
	"github.com/aluiziolira/go-scrape-catalog/store"
	"github.com/shopspring/decimal"
)

type stubExtractor struct {
	err     error
	reviews []models.ReviewCandidate
}

func (s *stubExtractor) Navigation(context.Context, string) ([]models.NavigationCandidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []models.NavigationCandidate{{Title: "Fiction", Href: "/collections/fiction"}}, nil
}

func (s *stubExtractor) Categories(context.Context, string) ([]models.CategoryCandidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []models.CategoryCandidate{{Title: "Crime (4)", Href: "/collections/crime"}}, nil
}

func (s *stubExtractor) Products(context.Context, string, int) ([]models.ProductRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []models.ProductRecord{{SourceID: "emma", Title: "Emma", Currency: "GBP", SourceURL: "http://shop.example.test/products/emma"}}, nil
}

func (s *stubExtractor) ProductDetail(context.Context, string) (models.ProductDetailCandidate, []models.ReviewCandidate, error) {
	if s.err != nil {
		return models.ProductDetailCandidate{}, nil, s.err
	}
	return models.ProductDetailCandidate{Description: "A novel."}, s.reviews, nil
}

func (s *stubExtractor) CategoryPathHints() []string { return nil }

type fixture struct {
	server *httptest.Server
	store  *store.Memory
	ex     *stubExtractor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://shop.example.test"
	st := store.NewMemory()
	ex := &stubExtractor{}
	metrics := scraper.NewMetrics()
	rec := pipeline.NewReconciler(st, ex, cfg, pipeline.WithMetrics(metrics))
	srv := httptest.NewServer(NewServer(rec, metrics.Registry, nil))
	t.Cleanup(srv.Close)
	return &fixture{server: srv, store: st, ex: ex}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, decoded
}

func (f *fixture) seedProduct(t *testing.T, sourceID, title, price string) *models.Product {
	t.Helper()
	now := time.Now()
	p := &models.Product{
		SourceID:  sourceID,
		Title:     title,
		Currency:  "GBP",
		SourceURL: "http://shop.example.test/products/" + sourceID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if price != "" {
		p.Price = decimal.NewNullDecimal(decimal.RequireFromString(price))
	}
	if err := f.store.SaveProduct(context.Background(), p); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return p
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodGet, "/healthz", nil)
	if status != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("status %d, body %v", status, body)
	}
}

func TestNavigationScrapedThenCached(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodGet, "/api/navigation", nil)
	if status != http.StatusOK || body["outcome"] != string(pipeline.OutcomeScraped) {
		t.Fatalf("first: %d %v", status, body)
	}
	status, body = f.do(t, http.MethodGet, "/api/navigation", nil)
	if status != http.StatusOK || body["outcome"] != string(pipeline.OutcomeCached) {
		t.Fatalf("second: %d %v", status, body)
	}
	if data, _ := body["data"].([]any); len(data) != 1 {
		t.Fatalf("data = %v", body["data"])
	}

	status, _ = f.do(t, http.MethodGet, "/api/navigation?force=maybe", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("bad force flag status = %d", status)
	}
}

func TestScrapeCategoriesRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"invalid json", "/api/categories/scrape", "{", http.StatusBadRequest},
		{"missing url", "/api/categories/scrape", map[string]any{"force": true}, http.StatusBadRequest},
		{"relative url", "/api/categories/scrape", map[string]any{"url": "/collections"}, http.StatusBadRequest},
		{"unknown navigation", "/api/categories/scrape?navigation_id=nope", map[string]any{"url": "http://shop.example.test/collections"}, http.StatusNotFound},
		{"ok", "/api/categories/scrape", map[string]any{"url": "http://shop.example.test/collections"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, http.MethodPost, tt.path, tt.body)
			if status != tt.status {
				t.Fatalf("status = %d, want %d (%v)", status, tt.status, body)
			}
		})
	}

	status, _ := f.do(t, http.MethodGet, "/api/categories", nil)
	if status != http.StatusOK {
		t.Fatalf("list categories status = %d", status)
	}
}

func TestExtractionFailureIsBadGateway(t *testing.T) {
	f := newFixture(t)
	f.ex.err = &scraper.ExtractionError{
		Stage: models.StageProductList,
		URL:   "http://shop.example.test/collections/crime",
		Err:   context.DeadlineExceeded,
	}

	status, body := f.do(t, http.MethodPost, "/api/products/scrape", map[string]any{"url": "http://shop.example.test/collections/crime"})
	if status != http.StatusBadGateway {
		t.Fatalf("status = %d, body %v", status, body)
	}
	if body["stage"] != string(models.StageProductList) || body["kind"] != "timeout" {
		t.Fatalf("body = %v", body)
	}

	status, body = f.do(t, http.MethodGet, "/api/jobs", nil)
	if status != http.StatusOK {
		t.Fatalf("jobs status = %d", status)
	}
}

func TestScrapeProducts(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodPost, "/api/products/scrape?max_pages=2", map[string]any{"url": "http://shop.example.test/collections/classics"})
	if status != http.StatusOK || body["outcome"] != string(pipeline.OutcomeScraped) {
		t.Fatalf("status %d, body %v", status, body)
	}
	if _, err := f.store.ProductBySourceID(context.Background(), "emma"); err != nil {
		t.Fatalf("product not stored: %v", err)
	}

	status, _ = f.do(t, http.MethodPost, "/api/products/scrape", map[string]any{"url": "http://shop.example.test/x", "max_pages": 500})
	if status != http.StatusBadRequest {
		t.Fatalf("max_pages bound status = %d", status)
	}
}

func TestListProducts(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "cheap", "Cheap Book", "2.00")
	f.seedProduct(t, "mid", "Middle Book", "6.50")
	f.seedProduct(t, "dear", "Dear Book", "19.99")

	status, body := f.do(t, http.MethodGet, "/api/products?min_price=5&sort_by=price&order=desc", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %v", status, body)
	}
	if body["total"] != float64(2) || body["total_pages"] != float64(1) {
		t.Fatalf("body = %v", body)
	}
	data := body["data"].([]any)
	if first := data[0].(map[string]any); first["source_id"] != "dear" {
		t.Fatalf("first = %v", first)
	}

	for _, query := range []string{"min_rating=9", "limit=abc", "sort_by=rank", "min_price=cheap"} {
		if status, _ := f.do(t, http.MethodGet, "/api/products?"+query, nil); status != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", query, status)
		}
	}
}

func TestProductEndpoints(t *testing.T) {
	f := newFixture(t)
	f.ex.reviews = []models.ReviewCandidate{{RatingText: "4"}, {RatingText: "5"}, {RatingText: "3"}}
	p := f.seedProduct(t, "emma", "Emma", "")

	status, _ := f.do(t, http.MethodGet, "/api/products/missing", nil)
	if status != http.StatusNotFound {
		t.Fatalf("missing product status = %d", status)
	}

	status, body := f.do(t, http.MethodPost, "/api/products/"+p.ID+"/scrape", nil)
	if status != http.StatusOK || body["outcome"] != string(pipeline.OutcomeScraped) {
		t.Fatalf("scrape: %d %v", status, body)
	}
	detail := body["data"].(map[string]any)["detail"].(map[string]any)
	if detail["ratings_avg"] != 4.0 || detail["reviews_count"] != float64(3) {
		t.Fatalf("detail = %v", detail)
	}

	status, body = f.do(t, http.MethodPost, "/api/products/"+p.ID+"/scrape", nil)
	if status != http.StatusOK || body["outcome"] != string(pipeline.OutcomeCached) {
		t.Fatalf("cached: %d %v", status, body)
	}
	status, body = f.do(t, http.MethodPost, "/api/products/"+p.ID+"/refresh", nil)
	if status != http.StatusOK || body["outcome"] != string(pipeline.OutcomeScraped) {
		t.Fatalf("refresh: %d %v", status, body)
	}

	status, body = f.do(t, http.MethodGet, "/api/products/"+p.ID, nil)
	if status != http.StatusOK || len(body["reviews"].([]any)) != 3 {
		t.Fatalf("get: %d %v", status, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/api/navigation", nil)

	resp, err := http.Get(f.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), "scraper_cache_decisions_total") {
		t.Fatalf("metrics status %d:\n%s", resp.StatusCode, raw)
	}
}

func TestWriteErrorDefaultsToInternal(t *testing.T) {
	s := NewServer(nil, nil, nil)
	rec := httptest.NewRecorder()
	s.writeError(rec, errors.New("boom"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}
