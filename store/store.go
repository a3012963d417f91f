// Package store defines catalog persistence. Lookups by natural key return
// a *NotFoundError when nothing matches; Save methods insert when the
// entity has no ID yet and update otherwise.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/shopspring/decimal"
)

// Store is implemented by the in-memory store and by sqlstore.
// Implementations are safe for concurrent use.
type Store interface {
	NavigationBySlug(ctx context.Context, slug string) (*models.Navigation, error)
	NavigationByID(ctx context.Context, id string) (*models.Navigation, error)
	ListNavigation(ctx context.Context) ([]models.Navigation, error)
	SaveNavigation(ctx context.Context, n *models.Navigation) error

	CategoryBySlug(ctx context.Context, slug string) (*models.Category, error)
	CategoryByID(ctx context.Context, id string) (*models.Category, error)
	ListCategories(ctx context.Context, filter CategoryFilter) ([]models.Category, error)
	SaveCategory(ctx context.Context, c *models.Category) error

	ProductBySourceID(ctx context.Context, sourceID string) (*models.Product, error)
	ProductBySourceURL(ctx context.Context, sourceURL string) (*models.Product, error)
	ProductByID(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]models.Product, int, error)
	SaveProduct(ctx context.Context, p *models.Product) error

	DetailByProductID(ctx context.Context, productID string) (*models.ProductDetail, error)
	SaveDetail(ctx context.Context, d *models.ProductDetail) error
	ListReviews(ctx context.Context, productID string) ([]models.Review, error)
	DeleteReviews(ctx context.Context, productID string) error
	SaveReview(ctx context.Context, r *models.Review) error

	SaveJob(ctx context.Context, j *models.ScrapeJob) error
	ListJobs(ctx context.Context, limit int) ([]models.ScrapeJob, error)

	Close() error
}

var (
	// ErrNotFound matches every *NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate reports an insert that collides with an existing
	// natural key.
	ErrDuplicate = errors.New("duplicate natural key")
)

// NotFoundError names the entity and key that could not be found.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// CategoryFilter restricts ListCategories. Empty fields match everything.
type CategoryFilter struct {
	NavigationID string
	ParentID     string
}

// Sort keys accepted by ProductFilter.SortBy.
const (
	SortCreated = "created"
	SortPrice   = "price"
	SortTitle   = "title"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ProductFilter selects and pages products.
type ProductFilter struct {
	CategoryID string
	MinPrice   decimal.NullDecimal
	MaxPrice   decimal.NullDecimal
	// Author and Search are case-insensitive substring matches on author
	// and title.
	Author    string
	Search    string
	MinRating *float64
	SortBy    string
	Order     string // asc or desc
	Page      int
	Limit     int
}

// Normalized fills defaults: newest first, page 1, DefaultPageSize items,
// at most MaxPageSize.
func (f ProductFilter) Normalized() ProductFilter {
	switch f.SortBy {
	case SortPrice, SortTitle:
	default:
		f.SortBy = SortCreated
	}
	f.Order = strings.ToLower(f.Order)
	if f.Order != "asc" && f.Order != "desc" {
		if f.SortBy == SortCreated {
			f.Order = "desc"
		} else {
			f.Order = "asc"
		}
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	return f
}

// Offset is the number of rows skipped for the current page.
func (f ProductFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// DefaultJobLimit bounds ListJobs when the caller passes a non-positive
// limit.
const DefaultJobLimit = 50
