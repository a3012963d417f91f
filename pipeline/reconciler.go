// Package pipeline reconciles scraped catalog data with the store and
// exports persisted products.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
	"github.com/aluiziolira/go-scrape-catalog/store"
)

// Extractor is the scraping capability the reconciler drives.
// *scraper.Extractor implements it.
type Extractor interface {
	Navigation(ctx context.Context, url string) ([]models.NavigationCandidate, error)
	Categories(ctx context.Context, url string) ([]models.CategoryCandidate, error)
	Products(ctx context.Context, url string, maxPages int) ([]models.ProductRecord, error)
	ProductDetail(ctx context.Context, url string) (models.ProductDetailCandidate, []models.ReviewCandidate, error)
	CategoryPathHints() []string
}

var _ Extractor = (*scraper.Extractor)(nil)

// Outcome tells a cache hit apart from a fresh scrape.
type Outcome string

const (
	OutcomeScraped Outcome = "scraped"
	OutcomeCached  Outcome = "cached"
)

// CategoryRequest asks for the categories listed at URL. NavigationID and
// ParentID, when set, link the scraped categories and scope the cache check.
type CategoryRequest struct {
	URL          string
	NavigationID string
	ParentID     string
	Force        bool
}

// ProductRequest asks for the products listed at URL. MaxPages <= 0 uses the
// configured default.
type ProductRequest struct {
	URL        string
	CategoryID string
	MaxPages   int
	Force      bool
}

// Reconciler runs the cache policy and upserts scraped records into the
// store. It holds no per-request state and may be shared between goroutines.
type Reconciler struct {
	store     store.Store
	extractor Extractor
	cfg       *config.Config
	metrics   *scraper.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithMetrics records cache decisions and upserts on m.
func WithMetrics(m *scraper.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithLogger sets the reconciler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// NewReconciler wires a reconciler over st and ex.
func NewReconciler(st store.Store, ex Extractor, cfg *config.Config, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:     st,
		extractor: ex,
		cfg:       cfg,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "reconciler")
	return r
}

// GetOrScrapeNavigation returns the stored navigation when fresh and scrapes
// the base URL otherwise.
func (r *Reconciler) GetOrScrapeNavigation(ctx context.Context, force bool) ([]models.Navigation, Outcome, error) {
	const stage = models.StageNavigation
	existing, err := r.store.ListNavigation(ctx)
	if err != nil {
		return nil, "", err
	}
	if cacheHit(r, stage, force, existing, func(n models.Navigation) time.Time { return n.LastScrapedAt }) {
		return existing, OutcomeCached, nil
	}

	url := r.cfg.BaseURL
	saved, err := runJob(ctx, r, stage, url, func(ctx context.Context) ([]models.Navigation, error) {
		candidates, err := r.extractor.Navigation(ctx, url)
		if err != nil {
			return nil, err
		}
		records := parser.NormalizeNavigation(url, candidates, parser.NewDeduper(r.cfg.DedupeMaxSize))
		return r.upsertNavigation(ctx, records)
	})
	if err != nil {
		return nil, "", err
	}
	return saved, OutcomeScraped, nil
}

// GetCategories lists stored categories, optionally for one navigation
// heading. It never scrapes.
func (r *Reconciler) GetCategories(ctx context.Context, navigationID string) ([]models.Category, error) {
	return r.store.ListCategories(ctx, store.CategoryFilter{NavigationID: navigationID})
}

// ScrapeCategories scrapes the categories listed at req.URL unless the
// categories already linked to req.NavigationID or req.ParentID are fresh.
// Requests without linkage always scrape.
func (r *Reconciler) ScrapeCategories(ctx context.Context, req CategoryRequest) ([]models.Category, Outcome, error) {
	const stage = models.StageCategory
	if req.URL == "" {
		return nil, "", errors.New("category url is required")
	}
	if req.NavigationID != "" {
		if _, err := r.store.NavigationByID(ctx, req.NavigationID); err != nil {
			return nil, "", err
		}
	}
	if req.ParentID != "" {
		if _, err := r.store.CategoryByID(ctx, req.ParentID); err != nil {
			return nil, "", err
		}
	}

	if req.NavigationID != "" || req.ParentID != "" {
		existing, err := r.store.ListCategories(ctx, store.CategoryFilter{NavigationID: req.NavigationID, ParentID: req.ParentID})
		if err != nil {
			return nil, "", err
		}
		if cacheHit(r, stage, req.Force, existing, func(c models.Category) time.Time { return c.LastScrapedAt }) {
			return existing, OutcomeCached, nil
		}
	}

	saved, err := runJob(ctx, r, stage, req.URL, func(ctx context.Context) ([]models.Category, error) {
		candidates, err := r.extractor.Categories(ctx, req.URL)
		if err != nil {
			return nil, err
		}
		records := parser.NormalizeCategories(req.URL, candidates, r.extractor.CategoryPathHints(), parser.NewDeduper(r.cfg.DedupeMaxSize))
		return r.upsertCategories(ctx, records, req.NavigationID, req.ParentID)
	})
	if err != nil {
		return nil, "", err
	}
	return saved, OutcomeScraped, nil
}

// ScrapeProducts walks the listing at req.URL and upserts every product in
// extraction order. With a CategoryID the category's stored products are
// returned instead while they are fresh.
func (r *Reconciler) ScrapeProducts(ctx context.Context, req ProductRequest) ([]models.Product, Outcome, error) {
	const stage = models.StageProductList
	if req.URL == "" {
		return nil, "", errors.New("product listing url is required")
	}
	if req.CategoryID != "" {
		if _, err := r.store.CategoryByID(ctx, req.CategoryID); err != nil {
			return nil, "", err
		}
		existing, err := r.categoryProducts(ctx, req.CategoryID)
		if err != nil {
			return nil, "", err
		}
		if cacheHit(r, stage, req.Force, existing, func(p models.Product) time.Time { return p.LastScrapedAt }) {
			return existing, OutcomeCached, nil
		}
	}

	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = r.cfg.DefaultMaxPages
	}
	saved, err := runJob(ctx, r, stage, req.URL, func(ctx context.Context) ([]models.Product, error) {
		records, err := r.extractor.Products(ctx, req.URL, maxPages)
		if err != nil {
			return nil, err
		}
		return r.upsertProducts(ctx, records, req.CategoryID)
	})
	if err != nil {
		return nil, "", err
	}
	return saved, OutcomeScraped, nil
}

// GetProduct loads a product with its detail and reviews.
func (r *Reconciler) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := r.store.ProductByID(ctx, id)
	if err != nil {
		return nil, err
	}
	detail, err := r.store.DetailByProductID(ctx, id)
	switch {
	case err == nil:
		p.Detail = detail
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	reviews, err := r.store.ListReviews(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Reviews = reviews
	return p, nil
}

// ScrapeProductDetail refreshes the detail and reviews of a stored product.
// A product whose detail exists and was scraped within the TTL is returned
// as stored unless force is set.
func (r *Reconciler) ScrapeProductDetail(ctx context.Context, productID string, force bool) (*models.Product, Outcome, error) {
	const stage = models.StageProductDetail
	product, err := r.GetProduct(ctx, productID)
	if err != nil {
		return nil, "", err
	}
	var cached []models.Product
	if product.Detail != nil {
		cached = []models.Product{*product}
	}
	if cacheHit(r, stage, force, cached, func(p models.Product) time.Time { return p.LastScrapedAt }) {
		return product, OutcomeCached, nil
	}

	_, err = runJob(ctx, r, stage, product.SourceURL, func(ctx context.Context) ([]models.Review, error) {
		candidate, reviewCandidates, err := r.extractor.ProductDetail(ctx, product.SourceURL)
		if err != nil {
			return nil, err
		}
		detail := parser.NormalizeDetail(product.SourceURL, candidate)
		reviews := parser.NormalizeReviews(reviewCandidates)
		return r.replaceDetail(ctx, product, detail, reviews)
	})
	if err != nil {
		return nil, "", err
	}

	refreshed, err := r.GetProduct(ctx, productID)
	if err != nil {
		return nil, "", err
	}
	return refreshed, OutcomeScraped, nil
}

// ListProducts pages through stored products.
func (r *Reconciler) ListProducts(ctx context.Context, filter store.ProductFilter) ([]models.Product, int, error) {
	return r.store.ListProducts(ctx, filter.Normalized())
}

// ListJobs returns the most recent scrape jobs, newest first.
func (r *Reconciler) ListJobs(ctx context.Context, limit int) ([]models.ScrapeJob, error) {
	return r.store.ListJobs(ctx, limit)
}

func (r *Reconciler) upsertNavigation(ctx context.Context, records []models.NavigationRecord) ([]models.Navigation, error) {
	out := make([]models.Navigation, 0, len(records))
	for _, rec := range records {
		now := r.now()
		n, err := r.store.NavigationBySlug(ctx, rec.Slug)
		op := "update"
		switch {
		case errors.Is(err, store.ErrNotFound):
			op = "create"
			n = &models.Navigation{Slug: rec.Slug, CreatedAt: now}
		case err != nil:
			return nil, err
		}
		n.Title = rec.Title
		n.URL = rec.URL
		n.LastScrapedAt = now
		n.UpdatedAt = now
		if err := r.store.SaveNavigation(ctx, n); err != nil {
			return nil, fmt.Errorf("save navigation %q: %w", rec.Slug, err)
		}
		r.metrics.IncUpsert("navigation", op)
		out = append(out, *n)
	}
	return out, nil
}

func (r *Reconciler) upsertCategories(ctx context.Context, records []models.CategoryRecord, navigationID, parentID string) ([]models.Category, error) {
	out := make([]models.Category, 0, len(records))
	for _, rec := range records {
		now := r.now()
		c, err := r.store.CategoryBySlug(ctx, rec.Slug)
		op := "update"
		switch {
		case errors.Is(err, store.ErrNotFound):
			op = "create"
			c = &models.Category{Slug: rec.Slug, CreatedAt: now}
		case err != nil:
			return nil, err
		}
		c.Title = rec.Title
		c.URL = rec.URL
		c.ProductCount = rec.ProductCount
		if navigationID != "" {
			c.NavigationID = navigationID
		}
		// Category pages list siblings and ancestors too; relinking one of
		// those under parentID would close a loop.
		if parentID != "" && parentID != c.ParentID {
			loop, err := r.hasAncestor(ctx, parentID, c.ID)
			if err != nil {
				return nil, err
			}
			if !loop {
				c.ParentID = parentID
			}
		}
		c.LastScrapedAt = now
		c.UpdatedAt = now
		if err := r.store.SaveCategory(ctx, c); err != nil {
			return nil, fmt.Errorf("save category %q: %w", rec.Slug, err)
		}
		r.metrics.IncUpsert("category", op)
		out = append(out, *c)
	}
	return out, nil
}

// hasAncestor reports whether id is start or one of start's ancestors.
func (r *Reconciler) hasAncestor(ctx context.Context, start, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	seen := make(map[string]bool)
	for cur := start; cur != "" && !seen[cur]; {
		if cur == id {
			return true, nil
		}
		seen[cur] = true
		c, err := r.store.CategoryByID(ctx, cur)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		cur = c.ParentID
	}
	return false, nil
}

func (r *Reconciler) upsertProducts(ctx context.Context, records []models.ProductRecord, categoryID string) ([]models.Product, error) {
	out := make([]models.Product, 0, len(records))
	for _, rec := range records {
		now := r.now()
		p, err := r.findProduct(ctx, rec)
		op := "update"
		switch {
		case errors.Is(err, store.ErrNotFound):
			op = "create"
			p = &models.Product{CreatedAt: now}
		case err != nil:
			return nil, err
		}
		p.SourceID = rec.SourceID
		p.Title = rec.Title
		p.Author = rec.Author
		p.Price = rec.Price
		p.Currency = rec.Currency
		p.ImageURL = rec.ImageURL
		p.SourceURL = rec.SourceURL
		if categoryID != "" {
			p.CategoryID = categoryID
		}
		p.LastScrapedAt = now
		p.UpdatedAt = now
		if err := r.store.SaveProduct(ctx, p); err != nil {
			return nil, fmt.Errorf("save product %q: %w", rec.SourceID, err)
		}
		r.metrics.IncUpsert("product", op)
		out = append(out, *p)
	}
	return out, nil
}

// findProduct matches on source id first, then on source URL.
func (r *Reconciler) findProduct(ctx context.Context, rec models.ProductRecord) (*models.Product, error) {
	p, err := r.store.ProductBySourceID(ctx, rec.SourceID)
	if !errors.Is(err, store.ErrNotFound) {
		return p, err
	}
	return r.store.ProductBySourceURL(ctx, rec.SourceURL)
}

func (r *Reconciler) replaceDetail(ctx context.Context, product *models.Product, rec models.DetailRecord, reviews []models.ReviewRecord) ([]models.Review, error) {
	now := r.now()
	detail := product.Detail
	op := "update"
	if detail == nil {
		op = "create"
		detail = &models.ProductDetail{ProductID: product.ID, CreatedAt: now}
	}
	detail.Description = rec.Description
	detail.Specs = rec.Specs
	detail.ISBN = rec.ISBN
	detail.Publisher = rec.Publisher
	detail.PublicationDate = rec.PublicationDate
	detail.RelatedProductIDs = rec.RelatedProductIDs
	detail.ReviewsCount, detail.RatingsAvg = aggregateRatings(reviews)
	detail.UpdatedAt = now
	if err := r.store.SaveDetail(ctx, detail); err != nil {
		return nil, fmt.Errorf("save detail for %q: %w", product.ID, err)
	}
	r.metrics.IncUpsert("product_detail", op)

	if err := r.store.DeleteReviews(ctx, product.ID); err != nil {
		return nil, fmt.Errorf("delete reviews for %q: %w", product.ID, err)
	}
	saved := make([]models.Review, 0, len(reviews))
	for i, rr := range reviews {
		review := &models.Review{
			ProductID:  product.ID,
			Author:     rr.Author,
			Rating:     rr.Rating,
			Text:       rr.Text,
			Title:      rr.Title,
			Verified:   rr.Verified,
			ReviewDate: rr.ReviewDate,
			Position:   i,
			CreatedAt:  now,
		}
		if err := r.store.SaveReview(ctx, review); err != nil {
			return nil, fmt.Errorf("save review for %q: %w", product.ID, err)
		}
		r.metrics.IncUpsert("review", "create")
		saved = append(saved, *review)
	}

	stored, err := r.store.ProductByID(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	stored.LastScrapedAt = now
	stored.UpdatedAt = now
	if err := r.store.SaveProduct(ctx, stored); err != nil {
		return nil, fmt.Errorf("save product %q: %w", product.ID, err)
	}
	return saved, nil
}

// aggregateRatings returns the review count and the mean rating rounded to
// two decimals, or nil when there are no reviews.
func aggregateRatings(reviews []models.ReviewRecord) (int, *float64) {
	if len(reviews) == 0 {
		return 0, nil
	}
	sum := 0
	for _, r := range reviews {
		sum += r.Rating
	}
	avg := math.Round(float64(sum)/float64(len(reviews))*100) / 100
	return len(reviews), &avg
}

func (r *Reconciler) categoryProducts(ctx context.Context, categoryID string) ([]models.Product, error) {
	filter := store.ProductFilter{CategoryID: categoryID, Limit: store.MaxPageSize}.Normalized()
	var all []models.Product
	for {
		page, total, err := r.store.ListProducts(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) == 0 || len(all) >= total {
			return all, nil
		}
		filter.Page++
	}
}

// cacheHit applies the freshness policy to a stored collection and records
// the decision.
func cacheHit[T any](r *Reconciler, stage models.Stage, force bool, items []T, get func(T) time.Time) bool {
	if force {
		r.metrics.IncCache(stage, "forced")
		return false
	}
	if CollectionFresh(items, get, r.cfg.CacheTTL, r.now()) {
		r.metrics.IncCache(stage, "hit")
		r.logger.Info("using cached data",
			slog.String("stage", string(stage)),
			slog.Int("count", len(items)),
		)
		return true
	}
	r.metrics.IncCache(stage, "miss")
	return false
}
