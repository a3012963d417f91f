package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/google/uuid"
)

// Memory keeps the catalog in process memory. Values are copied in and out
// so callers never share state with the store.
type Memory struct {
	mu          sync.RWMutex
	navigation  map[string]models.Navigation
	categories  map[string]models.Category
	products    map[string]models.Product
	details     map[string]models.ProductDetail // by product id
	reviews     map[string][]models.Review      // by product id
	jobs        map[string]models.ScrapeJob
	navOrder    []string
	catOrder    []string
	productSeq  map[string]int
	nextProduct int
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		navigation: make(map[string]models.Navigation),
		categories: make(map[string]models.Category),
		products:   make(map[string]models.Product),
		details:    make(map[string]models.ProductDetail),
		reviews:    make(map[string][]models.Review),
		jobs:       make(map[string]models.ScrapeJob),
		productSeq: make(map[string]int),
	}
}

func (m *Memory) NavigationBySlug(_ context.Context, slug string) (*models.Navigation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.navOrder {
		if n := m.navigation[id]; n.Slug == slug {
			return &n, nil
		}
	}
	return nil, &NotFoundError{Entity: "navigation", Key: slug}
}

func (m *Memory) NavigationByID(_ context.Context, id string) (*models.Navigation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.navigation[id]
	if !ok {
		return nil, &NotFoundError{Entity: "navigation", Key: id}
	}
	return &n, nil
}

func (m *Memory) ListNavigation(_ context.Context) ([]models.Navigation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Navigation, 0, len(m.navOrder))
	for _, id := range m.navOrder {
		out = append(out, m.navigation[id])
	}
	return out, nil
}

func (m *Memory) SaveNavigation(_ context.Context, n *models.Navigation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.navOrder {
		if other := m.navigation[id]; other.Slug == n.Slug && other.ID != n.ID {
			return fmt.Errorf("navigation %q: %w", n.Slug, ErrDuplicate)
		}
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if _, ok := m.navigation[n.ID]; !ok {
		m.navOrder = append(m.navOrder, n.ID)
	}
	m.navigation[n.ID] = *n
	return nil
}

func (m *Memory) CategoryBySlug(_ context.Context, slug string) (*models.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.catOrder {
		if c := m.categories[id]; c.Slug == slug {
			return &c, nil
		}
	}
	return nil, &NotFoundError{Entity: "category", Key: slug}
}

func (m *Memory) CategoryByID(_ context.Context, id string) (*models.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.categories[id]
	if !ok {
		return nil, &NotFoundError{Entity: "category", Key: id}
	}
	return &c, nil
}

func (m *Memory) ListCategories(_ context.Context, filter CategoryFilter) ([]models.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Category
	for _, id := range m.catOrder {
		c := m.categories[id]
		if filter.NavigationID != "" && c.NavigationID != filter.NavigationID {
			continue
		}
		if filter.ParentID != "" && c.ParentID != filter.ParentID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) SaveCategory(_ context.Context, c *models.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.catOrder {
		if other := m.categories[id]; other.Slug == c.Slug && other.ID != c.ID {
			return fmt.Errorf("category %q: %w", c.Slug, ErrDuplicate)
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, ok := m.categories[c.ID]; !ok {
		m.catOrder = append(m.catOrder, c.ID)
	}
	m.categories[c.ID] = *c
	return nil
}

func (m *Memory) ProductBySourceID(_ context.Context, sourceID string) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.products {
		if p.SourceID == sourceID {
			return &p, nil
		}
	}
	return nil, &NotFoundError{Entity: "product", Key: sourceID}
}

func (m *Memory) ProductBySourceURL(_ context.Context, sourceURL string) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.products {
		if p.SourceURL == sourceURL {
			return &p, nil
		}
	}
	return nil, &NotFoundError{Entity: "product", Key: sourceURL}
}

func (m *Memory) ProductByID(_ context.Context, id string) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, &NotFoundError{Entity: "product", Key: id}
	}
	return &p, nil
}

func (m *Memory) ListProducts(_ context.Context, filter ProductFilter) ([]models.Product, int, error) {
	filter = filter.Normalized()
	m.mu.RLock()
	defer m.mu.RUnlock()

	author := strings.ToLower(filter.Author)
	search := strings.ToLower(filter.Search)
	var matched []models.Product
	for _, p := range m.products {
		if filter.CategoryID != "" && p.CategoryID != filter.CategoryID {
			continue
		}
		if filter.MinPrice.Valid && (!p.Price.Valid || p.Price.Decimal.LessThan(filter.MinPrice.Decimal)) {
			continue
		}
		if filter.MaxPrice.Valid && (!p.Price.Valid || p.Price.Decimal.GreaterThan(filter.MaxPrice.Decimal)) {
			continue
		}
		if author != "" && !strings.Contains(strings.ToLower(p.Author), author) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Title), search) {
			continue
		}
		if filter.MinRating != nil {
			d, ok := m.details[p.ID]
			if !ok || d.RatingsAvg == nil || *d.RatingsAvg < *filter.MinRating {
				continue
			}
		}
		matched = append(matched, p)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var less, equal bool
		switch filter.SortBy {
		case SortPrice:
			// Products without a price sort last in either order.
			if a.Price.Valid != b.Price.Valid {
				return a.Price.Valid
			}
			less = a.Price.Decimal.LessThan(b.Price.Decimal)
			equal = a.Price.Decimal.Equal(b.Price.Decimal)
		case SortTitle:
			less = a.Title < b.Title
			equal = a.Title == b.Title
		default:
			less = a.CreatedAt.Before(b.CreatedAt)
			equal = a.CreatedAt.Equal(b.CreatedAt)
		}
		if equal {
			return m.productSeq[a.ID] < m.productSeq[b.ID]
		}
		if filter.Order == "desc" {
			return !less
		}
		return less
	})

	total := len(matched)
	start := min(filter.Offset(), total)
	end := min(start+filter.Limit, total)
	return slices.Clone(matched[start:end]), total, nil
}

func (m *Memory) SaveProduct(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.products {
		if other.ID == p.ID {
			continue
		}
		if other.SourceID == p.SourceID || other.SourceURL == p.SourceURL {
			return fmt.Errorf("product %q: %w", p.SourceID, ErrDuplicate)
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := m.products[p.ID]; !ok {
		m.nextProduct++
		m.productSeq[p.ID] = m.nextProduct
	}
	stored := *p
	stored.Detail = nil
	stored.Reviews = nil
	m.products[p.ID] = stored
	return nil
}

func (m *Memory) DetailByProductID(_ context.Context, productID string) (*models.ProductDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.details[productID]
	if !ok {
		return nil, &NotFoundError{Entity: "product detail", Key: productID}
	}
	d.Specs = maps.Clone(d.Specs)
	d.RelatedProductIDs = slices.Clone(d.RelatedProductIDs)
	return &d, nil
}

func (m *Memory) SaveDetail(_ context.Context, d *models.ProductDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[d.ProductID]; !ok {
		return &NotFoundError{Entity: "product", Key: d.ProductID}
	}
	if existing, ok := m.details[d.ProductID]; ok && existing.ID != d.ID {
		if d.ID != "" {
			return fmt.Errorf("product detail %q: %w", d.ProductID, ErrDuplicate)
		}
		d.ID = existing.ID
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	stored := *d
	stored.Specs = maps.Clone(d.Specs)
	stored.RelatedProductIDs = slices.Clone(d.RelatedProductIDs)
	m.details[d.ProductID] = stored
	return nil
}

func (m *Memory) ListReviews(_ context.Context, productID string) ([]models.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.reviews[productID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *Memory) DeleteReviews(_ context.Context, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reviews, productID)
	return nil
}

func (m *Memory) SaveReview(_ context.Context, r *models.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[r.ProductID]; !ok {
		return &NotFoundError{Entity: "product", Key: r.ProductID}
	}
	list := m.reviews[r.ProductID]
	if r.ID != "" {
		for i := range list {
			if list[i].ID == r.ID {
				list[i] = *r
				return nil
			}
		}
	} else {
		r.ID = uuid.NewString()
	}
	m.reviews[r.ProductID] = append(list, *r)
	return nil
}

func (m *Memory) SaveJob(_ context.Context, j *models.ScrapeJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	m.jobs[j.ID] = *j
	return nil
}

func (m *Memory) ListJobs(_ context.Context, limit int) ([]models.ScrapeJob, error) {
	if limit <= 0 {
		limit = DefaultJobLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Collect(maps.Values(m.jobs))
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
