package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/browser"
	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
	"github.com/aluiziolira/go-scrape-catalog/store"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

const testBase = "http://shop.example.test"

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeExtractor struct {
	nav      []models.NavigationCandidate
	cats     []models.CategoryCandidate
	products []models.ProductRecord
	detail   models.ProductDetailCandidate
	reviews  []models.ReviewCandidate
	err      error

	calls        map[models.Stage]int
	lastMaxPages int
}

func (f *fakeExtractor) record(stage models.Stage) error {
	if f.calls == nil {
		f.calls = make(map[models.Stage]int)
	}
	f.calls[stage]++
	return f.err
}

func (f *fakeExtractor) Navigation(context.Context, string) ([]models.NavigationCandidate, error) {
	if err := f.record(models.StageNavigation); err != nil {
		return nil, err
	}
	return f.nav, nil
}

func (f *fakeExtractor) Categories(context.Context, string) ([]models.CategoryCandidate, error) {
	if err := f.record(models.StageCategory); err != nil {
		return nil, err
	}
	return f.cats, nil
}

func (f *fakeExtractor) Products(_ context.Context, _ string, maxPages int) ([]models.ProductRecord, error) {
	f.lastMaxPages = maxPages
	if err := f.record(models.StageProductList); err != nil {
		return nil, err
	}
	return f.products, nil
}

func (f *fakeExtractor) ProductDetail(context.Context, string) (models.ProductDetailCandidate, []models.ReviewCandidate, error) {
	if err := f.record(models.StageProductDetail); err != nil {
		return models.ProductDetailCandidate{}, nil, err
	}
	return f.detail, f.reviews, nil
}

func (f *fakeExtractor) CategoryPathHints() []string { return []string{"/collections/"} }

// failingStore fails the nth SaveProduct call (1-based), or every SaveJob
// call when failJobs is set.
type failingStore struct {
	store.Store
	failProductAt int
	productSaves  int
	failJobs      bool
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) SaveProduct(ctx context.Context, p *models.Product) error {
	s.productSaves++
	if s.productSaves == s.failProductAt {
		return errDiskFull
	}
	return s.Store.SaveProduct(ctx, p)
}

func (s *failingStore) SaveJob(ctx context.Context, j *models.ScrapeJob) error {
	if s.failJobs {
		return errDiskFull
	}
	return s.Store.SaveJob(ctx, j)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBase
	cfg.BrowserMode = "static"
	cfg.RequestDelay = 0
	cfg.SettleDelay = 0
	cfg.NavigationTimeout = 5 * time.Second
	return cfg
}

func newTestReconciler(st store.Store, ex Extractor) (*Reconciler, *fakeClock, *scraper.Metrics) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := scraper.NewMetrics()
	r := NewReconciler(st, ex, testConfig(), WithClock(clock.Now), WithMetrics(m))
	return r, clock, m
}

func navCandidates() []models.NavigationCandidate {
	return []models.NavigationCandidate{
		{Title: "Fiction", Href: "/collections/fiction"},
		{Title: "Non-Fiction", Href: "/collections/non-fiction"},
	}
}

func productRecord(id, title string, price string) models.ProductRecord {
	rec := models.ProductRecord{
		SourceID:  id,
		Title:     title,
		Currency:  "GBP",
		SourceURL: testBase + "/products/" + id,
	}
	if price != "" {
		rec.Price = decimal.NewNullDecimal(decimal.RequireFromString(price))
	}
	return rec
}

func TestIsFresh(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ttl := 24 * time.Hour
	tests := []struct {
		name string
		last time.Time
		want bool
	}{
		{"23h old", now.Add(-23 * time.Hour), true},
		{"25h old", now.Add(-25 * time.Hour), false},
		{"exactly ttl", now.Add(-24 * time.Hour), false},
		{"never scraped", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFresh(tt.last, ttl, now); got != tt.want {
				t.Fatalf("IsFresh = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCollectionFreshUsesMostRecent(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	get := func(ts time.Time) time.Time { return ts }

	if CollectionFresh(nil, get, time.Hour, now) {
		t.Fatal("empty collection reported fresh")
	}
	mixed := []time.Time{now.Add(-48 * time.Hour), now.Add(-30 * time.Minute)}
	if !CollectionFresh(mixed, get, time.Hour, now) {
		t.Fatal("collection with a fresh member reported stale")
	}
}

func TestNavigationCacheHitAndForce(t *testing.T) {
	ctx := context.Background()
	ex := &fakeExtractor{nav: navCandidates()}
	r, clock, m := newTestReconciler(store.NewMemory(), ex)

	nav, outcome, err := r.GetOrScrapeNavigation(ctx, false)
	if err != nil || outcome != OutcomeScraped || len(nav) != 2 {
		t.Fatalf("first call: %d items, %s, %v", len(nav), outcome, err)
	}

	clock.Advance(23 * time.Hour)
	nav, outcome, err = r.GetOrScrapeNavigation(ctx, false)
	if err != nil || outcome != OutcomeCached || len(nav) != 2 {
		t.Fatalf("second call: %d items, %s, %v", len(nav), outcome, err)
	}
	if ex.calls[models.StageNavigation] != 1 {
		t.Fatalf("extractor calls = %d, want 1", ex.calls[models.StageNavigation])
	}

	if _, outcome, _ = r.GetOrScrapeNavigation(ctx, true); outcome != OutcomeScraped {
		t.Fatalf("forced call outcome = %s", outcome)
	}

	clock.Advance(25 * time.Hour)
	if _, outcome, _ = r.GetOrScrapeNavigation(ctx, false); outcome != OutcomeScraped {
		t.Fatalf("stale call outcome = %s", outcome)
	}
	if ex.calls[models.StageNavigation] != 3 {
		t.Fatalf("extractor calls = %d, want 3", ex.calls[models.StageNavigation])
	}

	if got := testutil.ToFloat64(m.CacheDecisions.WithLabelValues("navigation", "hit")); got != 1 {
		t.Fatalf("cache hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheDecisions.WithLabelValues("navigation", "forced")); got != 1 {
		t.Fatalf("forced = %v, want 1", got)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	r, clock, _ := newTestReconciler(st, &fakeExtractor{nav: navCandidates()})

	first, _, err := r.GetOrScrapeNavigation(ctx, true)
	if err != nil {
		t.Fatalf("first scrape: %v", err)
	}
	firstScraped := clock.Now()
	clock.Advance(time.Hour)
	second, _, err := r.GetOrScrapeNavigation(ctx, true)
	if err != nil {
		t.Fatalf("second scrape: %v", err)
	}

	stored, _ := st.ListNavigation(ctx)
	if len(stored) != 2 || len(second) != len(first) {
		t.Fatalf("stored = %d, first = %d, second = %d", len(stored), len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Slug != second[i].Slug {
			t.Fatalf("entity %d changed identity: %+v vs %+v", i, first[i], second[i])
		}
		if !second[i].LastScrapedAt.After(firstScraped) {
			t.Fatalf("LastScrapedAt not advanced for %s", second[i].Slug)
		}
		if !second[i].CreatedAt.Equal(first[i].CreatedAt) {
			t.Fatalf("CreatedAt changed for %s", second[i].Slug)
		}
	}
}

func TestCategoriesNaturalKeyCollapse(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	ex := &fakeExtractor{cats: []models.CategoryCandidate{
		{Title: "Fiction (10)", Href: "/collections/fiction"},
		{Title: "Fiction (99)", Href: "/collections/fiction-dup"},
		{Title: "About us", Href: "/pages/about"},
	}}
	r, _, _ := newTestReconciler(st, ex)

	cats, _, err := r.ScrapeCategories(ctx, CategoryRequest{URL: testBase + "/collections/all"})
	if err != nil {
		t.Fatalf("ScrapeCategories: %v", err)
	}
	if len(cats) != 1 || cats[0].ProductCount != 10 {
		t.Fatalf("cats = %+v", cats)
	}

	ex.cats = []models.CategoryCandidate{{Title: "Fiction", Href: "/collections/fiction"}}
	cats, _, err = r.ScrapeCategories(ctx, CategoryRequest{URL: testBase + "/collections/all"})
	if err != nil {
		t.Fatalf("rescrape: %v", err)
	}
	stored, _ := st.ListCategories(ctx, store.CategoryFilter{})
	if len(stored) != 1 {
		t.Fatalf("stored categories = %d, want 1", len(stored))
	}
	if stored[0].ProductCount != 0 || cats[0].ID != stored[0].ID {
		t.Fatalf("stored = %+v", stored[0])
	}
}

func TestScrapeCategoriesLinkage(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	ex := &fakeExtractor{nav: navCandidates()}
	r, _, _ := newTestReconciler(st, ex)

	nav, _, err := r.GetOrScrapeNavigation(ctx, false)
	if err != nil {
		t.Fatalf("navigation: %v", err)
	}
	navID := nav[0].ID

	ex.cats = []models.CategoryCandidate{
		{Title: "Fiction (3)", Href: "/collections/fiction"},
		{Title: "Crime (2)", Href: "/collections/crime"},
	}
	cats, outcome, err := r.ScrapeCategories(ctx, CategoryRequest{URL: testBase + "/collections/fiction", NavigationID: navID})
	if err != nil || outcome != OutcomeScraped {
		t.Fatalf("scrape: %s, %v", outcome, err)
	}
	for _, c := range cats {
		if c.NavigationID != navID {
			t.Fatalf("category %s not linked to navigation", c.Slug)
		}
	}
	fiction := cats[0]

	// Cached while fresh for the same navigation.
	if _, outcome, _ := r.ScrapeCategories(ctx, CategoryRequest{URL: testBase + "/collections/fiction", NavigationID: navID}); outcome != OutcomeCached {
		t.Fatalf("outcome = %s, want cached", outcome)
	}

	// The fiction page lists itself; it must not become its own parent.
	children, _, err := r.ScrapeCategories(ctx, CategoryRequest{URL: fiction.URL, ParentID: fiction.ID})
	if err != nil {
		t.Fatalf("child scrape: %v", err)
	}
	for _, c := range children {
		switch c.Slug {
		case "fiction":
			if c.ParentID != "" {
				t.Fatalf("fiction linked to itself")
			}
		case "crime":
			if c.ParentID != fiction.ID {
				t.Fatalf("crime parent = %q", c.ParentID)
			}
		}
		if c.NavigationID != navID {
			t.Fatalf("%s lost navigation linkage", c.Slug)
		}
	}
}

func TestScrapeCategoriesKeepsTreeAcyclic(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	ex := &fakeExtractor{cats: []models.CategoryCandidate{{Title: "Fiction", Href: "/collections/fiction"}}}
	r, _, _ := newTestReconciler(st, ex)

	top, _, err := r.ScrapeCategories(ctx, CategoryRequest{URL: testBase + "/collections"})
	if err != nil {
		t.Fatalf("top-level scrape: %v", err)
	}
	fiction := top[0]

	ex.cats = []models.CategoryCandidate{{Title: "Crime", Href: "/collections/crime"}}
	children, _, err := r.ScrapeCategories(ctx, CategoryRequest{URL: fiction.URL, ParentID: fiction.ID})
	if err != nil {
		t.Fatalf("fiction page: %v", err)
	}
	crime := children[0]
	if crime.ParentID != fiction.ID {
		t.Fatalf("crime parent = %q, want fiction", crime.ParentID)
	}

	// The crime page sidebar links back up to fiction.
	ex.cats = []models.CategoryCandidate{
		{Title: "Fiction", Href: "/collections/fiction"},
		{Title: "Noir", Href: "/collections/noir"},
	}
	if _, _, err := r.ScrapeCategories(ctx, CategoryRequest{URL: crime.URL, ParentID: crime.ID}); err != nil {
		t.Fatalf("crime page: %v", err)
	}

	all, err := st.ListCategories(ctx, store.CategoryFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	parents := make(map[string]string, len(all))
	bySlug := make(map[string]models.Category, len(all))
	for _, c := range all {
		parents[c.ID] = c.ParentID
		bySlug[c.Slug] = c
	}
	if bySlug["fiction"].ParentID != "" {
		t.Fatalf("fiction re-parented under %q", bySlug["fiction"].ParentID)
	}
	if bySlug["noir"].ParentID != crime.ID {
		t.Fatalf("noir parent = %q, want crime", bySlug["noir"].ParentID)
	}
	for id := range parents {
		steps := 0
		for cur := parents[id]; cur != ""; cur = parents[cur] {
			if cur == id || steps > len(parents) {
				t.Fatalf("category %s is its own ancestor", id)
			}
			steps++
		}
	}
}

func TestScrapeCategoriesUnknownParent(t *testing.T) {
	ex := &fakeExtractor{}
	r, _, _ := newTestReconciler(store.NewMemory(), ex)

	_, _, err := r.ScrapeCategories(context.Background(), CategoryRequest{URL: testBase, ParentID: "missing"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	_, _, err = r.ScrapeProducts(context.Background(), ProductRequest{URL: testBase, CategoryID: "missing"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if len(ex.calls) != 0 {
		t.Fatalf("extractor called: %v", ex.calls)
	}
}

func TestScrapeProductsUpdatesAndClearsPrice(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	ex := &fakeExtractor{products: []models.ProductRecord{
		productRecord("emma", "Emma", "4.99"),
		productRecord("dracula", "Dracula", "3.50"),
	}}
	r, _, _ := newTestReconciler(st, ex)

	saved, outcome, err := r.ScrapeProducts(ctx, ProductRequest{URL: testBase + "/collections/classics"})
	if err != nil || outcome != OutcomeScraped || len(saved) != 2 {
		t.Fatalf("scrape: %d, %s, %v", len(saved), outcome, err)
	}
	if ex.lastMaxPages != 5 {
		t.Fatalf("maxPages = %d, want default 5", ex.lastMaxPages)
	}

	ex.products = []models.ProductRecord{productRecord("emma", "Emma", "")}
	if _, _, err := r.ScrapeProducts(ctx, ProductRequest{URL: testBase + "/collections/classics", MaxPages: 2}); err != nil {
		t.Fatalf("rescrape: %v", err)
	}
	if ex.lastMaxPages != 2 {
		t.Fatalf("maxPages = %d, want 2", ex.lastMaxPages)
	}
	emma, _ := st.ProductBySourceID(ctx, "emma")
	if emma.Price.Valid {
		t.Fatalf("price = %v, want cleared", emma.Price)
	}
	if emma.ID != saved[0].ID {
		t.Fatal("product id changed on update")
	}
}

func TestScrapeProductsMatchesBySourceURL(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	ex := &fakeExtractor{products: []models.ProductRecord{productRecord("emma", "Emma", "")}}
	r, _, _ := newTestReconciler(st, ex)

	first, _, err := r.ScrapeProducts(ctx, ProductRequest{URL: testBase})
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}

	renamed := productRecord("emma-2", "Emma", "")
	renamed.SourceURL = first[0].SourceURL
	ex.products = []models.ProductRecord{renamed}
	second, _, err := r.ScrapeProducts(ctx, ProductRequest{URL: testBase})
	if err != nil {
		t.Fatalf("rescrape: %v", err)
	}
	if second[0].ID != first[0].ID || second[0].SourceID != "emma-2" {
		t.Fatalf("second = %+v", second[0])
	}
}

func TestScrapeProductsCategoryCache(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cat := &models.Category{Title: "Classics", Slug: "classics", URL: testBase + "/collections/classics", LastScrapedAt: now, CreatedAt: now, UpdatedAt: now}
	if err := st.SaveCategory(ctx, cat); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ex := &fakeExtractor{products: []models.ProductRecord{productRecord("emma", "Emma", "4.99")}}
	r, _, _ := newTestReconciler(st, ex)

	req := ProductRequest{URL: cat.URL, CategoryID: cat.ID}
	saved, _, err := r.ScrapeProducts(ctx, req)
	if err != nil || saved[0].CategoryID != cat.ID {
		t.Fatalf("scrape: %+v, %v", saved, err)
	}
	cached, outcome, err := r.ScrapeProducts(ctx, req)
	if err != nil || outcome != OutcomeCached || len(cached) != 1 {
		t.Fatalf("cached: %d, %s, %v", len(cached), outcome, err)
	}

	// Without a category the linkage already stored is kept.
	if _, _, err := r.ScrapeProducts(ctx, ProductRequest{URL: cat.URL}); err != nil {
		t.Fatalf("unlinked scrape: %v", err)
	}
	emma, _ := st.ProductBySourceID(ctx, "emma")
	if emma.CategoryID != cat.ID {
		t.Fatalf("category linkage lost: %q", emma.CategoryID)
	}
}

func TestPersistenceFailureHaltsBatch(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	st := &failingStore{Store: mem, failProductAt: 2}
	ex := &fakeExtractor{products: []models.ProductRecord{
		productRecord("a", "A", ""),
		productRecord("b", "B", ""),
		productRecord("c", "C", ""),
	}}
	r, _, _ := newTestReconciler(st, ex)

	saved, _, err := r.ScrapeProducts(ctx, ProductRequest{URL: testBase})
	if !errors.Is(err, errDiskFull) || saved != nil {
		t.Fatalf("saved = %v, err = %v", saved, err)
	}
	if _, err := mem.ProductBySourceID(ctx, "a"); err != nil {
		t.Fatalf("earlier save rolled back: %v", err)
	}
	if _, err := mem.ProductBySourceID(ctx, "c"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("later record persisted: %v", err)
	}

	jobs, _ := mem.ListJobs(ctx, 10)
	if len(jobs) != 1 || jobs[0].Status != models.JobFailed || !strings.Contains(jobs[0].ErrorLog, "disk full") {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestExtractionFailureSkipsUpsert(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	cause := &scraper.ExtractionError{Stage: models.StageNavigation, URL: testBase, Err: errors.New("net::ERR_TIMED_OUT")}
	r, _, _ := newTestReconciler(st, &fakeExtractor{nav: navCandidates(), err: cause})

	nav, _, err := r.GetOrScrapeNavigation(ctx, false)
	var extractErr *scraper.ExtractionError
	if !errors.As(err, &extractErr) || nav != nil {
		t.Fatalf("nav = %v, err = %v", nav, err)
	}
	if stored, _ := st.ListNavigation(ctx); len(stored) != 0 {
		t.Fatalf("stored navigation = %d, want 0", len(stored))
	}
	jobs, _ := st.ListJobs(ctx, 10)
	if len(jobs) != 1 || jobs[0].Status != models.JobFailed || jobs[0].FinishedAt == nil {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestJobRecordingFailureIsIgnored(t *testing.T) {
	st := &failingStore{Store: store.NewMemory(), failJobs: true}
	r, _, _ := newTestReconciler(st, &fakeExtractor{nav: navCandidates()})

	if _, _, err := r.GetOrScrapeNavigation(context.Background(), false); err != nil {
		t.Fatalf("stage failed because of job recording: %v", err)
	}
}

func TestScrapeJobRecorded(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	r, _, _ := newTestReconciler(st, &fakeExtractor{nav: navCandidates()})

	if _, _, err := r.GetOrScrapeNavigation(ctx, false); err != nil {
		t.Fatalf("navigation: %v", err)
	}
	jobs, err := r.ListJobs(ctx, 0)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("jobs = %v, err = %v", jobs, err)
	}
	job := jobs[0]
	if job.Status != models.JobCompleted || job.ItemsScraped != 2 || job.TargetType != models.StageNavigation || job.TargetURL != testBase {
		t.Fatalf("job = %+v", job)
	}
}

func seedProduct(t *testing.T, st store.Store) *models.Product {
	t.Helper()
	p := &models.Product{SourceID: "the-hobbit", Title: "The Hobbit", Currency: "GBP", SourceURL: testBase + "/products/the-hobbit"}
	if err := st.SaveProduct(context.Background(), p); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return p
}

func reviewCandidates(ratings ...string) []models.ReviewCandidate {
	out := make([]models.ReviewCandidate, len(ratings))
	for i, r := range ratings {
		out[i] = models.ReviewCandidate{Author: fmt.Sprintf("reader %d", i), RatingText: r}
	}
	return out
}

func TestRatingAggregation(t *testing.T) {
	tests := []struct {
		name      string
		ratings   []string
		wantCount int
		wantAvg   *float64
	}{
		{"three reviews", []string{"4", "5", "3"}, 3, ptr(4.0)},
		{"rounded", []string{"5", "4", "4"}, 3, ptr(4.33)},
		{"unrated dropped", []string{"5", "0", "n/a"}, 1, ptr(5.0)},
		{"no reviews", nil, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemory()
			p := seedProduct(t, st)
			r, _, _ := newTestReconciler(st, &fakeExtractor{reviews: reviewCandidates(tt.ratings...)})

			got, outcome, err := r.ScrapeProductDetail(context.Background(), p.ID, false)
			if err != nil || outcome != OutcomeScraped {
				t.Fatalf("ScrapeProductDetail: %s, %v", outcome, err)
			}
			if got.Detail == nil {
				t.Fatal("detail missing")
			}
			if got.Detail.ReviewsCount != tt.wantCount || len(got.Reviews) != tt.wantCount {
				t.Fatalf("count = %d, reviews = %d, want %d", got.Detail.ReviewsCount, len(got.Reviews), tt.wantCount)
			}
			switch {
			case tt.wantAvg == nil && got.Detail.RatingsAvg != nil:
				t.Fatalf("avg = %v, want nil", *got.Detail.RatingsAvg)
			case tt.wantAvg != nil && (got.Detail.RatingsAvg == nil || *got.Detail.RatingsAvg != *tt.wantAvg):
				t.Fatalf("avg = %v, want %v", got.Detail.RatingsAvg, *tt.wantAvg)
			}
		})
	}
}

func ptr(f float64) *float64 { return &f }

func TestProductDetailReplacesReviews(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	p := seedProduct(t, st)
	ex := &fakeExtractor{
		detail: models.ProductDetailCandidate{
			Description: "There and back again.",
			Specs:       map[string]string{"Publisher:": "HarperCollins", "ISBN-13:": "978-0-261-10221-7"},
		},
		reviews: reviewCandidates("5", "4"),
	}
	r, clock, _ := newTestReconciler(st, ex)

	first, _, err := r.ScrapeProductDetail(ctx, p.ID, false)
	if err != nil {
		t.Fatalf("first scrape: %v", err)
	}
	if first.Detail.Publisher != "HarperCollins" || first.Detail.ISBN != "9780261102217" {
		t.Fatalf("detail = %+v", first.Detail)
	}
	if !first.LastScrapedAt.Equal(clock.Now()) {
		t.Fatalf("LastScrapedAt = %v, want %v", first.LastScrapedAt, clock.Now())
	}
	if first.Reviews[0].Author != "reader 0" {
		t.Fatalf("reviews out of order: %+v", first.Reviews)
	}

	clock.Advance(time.Hour)
	cached, outcome, err := r.ScrapeProductDetail(ctx, p.ID, false)
	if err != nil || outcome != OutcomeCached || len(cached.Reviews) != 2 {
		t.Fatalf("cached: %s, %v", outcome, err)
	}

	ex.reviews = reviewCandidates("1")
	refreshed, outcome, err := r.ScrapeProductDetail(ctx, p.ID, true)
	if err != nil || outcome != OutcomeScraped {
		t.Fatalf("forced: %s, %v", outcome, err)
	}
	if len(refreshed.Reviews) != 1 || refreshed.Detail.ReviewsCount != 1 || *refreshed.Detail.RatingsAvg != 1 {
		t.Fatalf("refreshed = %+v, reviews %+v", refreshed.Detail, refreshed.Reviews)
	}
	if refreshed.Detail.ID != first.Detail.ID {
		t.Fatal("detail id changed on refresh")
	}
	if ex.calls[models.StageProductDetail] != 2 {
		t.Fatalf("detail scrapes = %d, want 2", ex.calls[models.StageProductDetail])
	}
}

func TestGetProductNotFound(t *testing.T) {
	r, _, _ := newTestReconciler(store.NewMemory(), &fakeExtractor{})
	ctx := context.Background()

	if _, err := r.GetProduct(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetProduct err = %v", err)
	}
	var nf *store.NotFoundError
	if _, _, err := r.ScrapeProductDetail(ctx, "missing", false); !errors.As(err, &nf) || nf.Entity != "product" {
		t.Fatalf("ScrapeProductDetail err = %v", err)
	}
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func listingPage(title string) string {
	return `<html><body><div class="product-card">` +
		`<h3 class="card__heading"><a href="/products/the-hobbit">` + title + `</a></h3>` +
		`<span class="price-item--regular">&pound;8.99</span>` +
		`</div></body></html>`
}

// TestRescrapeAfterTitleChange runs the real extractor over the static
// browser: the same listing scraped twice with a changed title keeps one
// product whose title comes from the second scrape.
func TestRescrapeAfterTitleChange(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	b, err := browser.New(cfg, browser.WithTransport(transport))
	if err != nil {
		t.Fatalf("new browser: %v", err)
	}
	st := store.NewMemory()
	r := NewReconciler(st, scraper.NewExtractor(b, cfg), cfg)

	listing := testBase + "/collections/fantasy"
	transport.RegisterResponder("GET", listing, htmlResponder(listingPage("The Hobit")))
	first, _, err := r.ScrapeProducts(ctx, ProductRequest{URL: listing})
	if err != nil || len(first) != 1 {
		t.Fatalf("first scrape: %v, %v", first, err)
	}

	transport.RegisterResponder("GET", listing, htmlResponder(listingPage("The Hobbit")))
	if _, _, err := r.ScrapeProducts(ctx, ProductRequest{URL: listing, Force: true}); err != nil {
		t.Fatalf("second scrape: %v", err)
	}

	products, total, err := st.ListProducts(ctx, store.ProductFilter{})
	if err != nil || total != 1 {
		t.Fatalf("total = %d, err = %v", total, err)
	}
	got := products[0]
	if got.Title != "The Hobbit" || got.ID != first[0].ID || got.SourceID != "the-hobbit" {
		t.Fatalf("product = %+v", got)
	}
	if !got.Price.Valid || got.Price.Decimal.StringFixed(2) != "8.99" {
		t.Fatalf("price = %v", got.Price)
	}
}
