// Package models defines the catalog entities and the records that flow
// between the extractor, the normalizer and the reconciler.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Navigation is a top-level heading of the source site's taxonomy.
type Navigation struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Slug          string    `json:"slug"`
	URL           string    `json:"url"`
	LastScrapedAt time.Time `json:"last_scraped_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Category belongs to a Navigation or to a parent Category. Empty
// NavigationID/ParentID mean the link is absent.
type Category struct {
	ID            string    `json:"id"`
	NavigationID  string    `json:"navigation_id,omitempty"`
	ParentID      string    `json:"parent_id,omitempty"`
	Title         string    `json:"title"`
	Slug          string    `json:"slug"`
	URL           string    `json:"url"`
	ProductCount  int       `json:"product_count"`
	LastScrapedAt time.Time `json:"last_scraped_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Product is a catalog item keyed by SourceID and SourceURL.
type Product struct {
	ID            string              `json:"id"`
	SourceID      string              `json:"source_id"`
	CategoryID    string              `json:"category_id,omitempty"`
	Title         string              `json:"title"`
	Author        string              `json:"author,omitempty"`
	Price         decimal.NullDecimal `json:"price"`
	Currency      string              `json:"currency"`
	ImageURL      string              `json:"image_url,omitempty"`
	SourceURL     string              `json:"source_url"`
	LastScrapedAt time.Time           `json:"last_scraped_at"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`

	Detail  *ProductDetail `json:"detail,omitempty"`
	Reviews []Review       `json:"reviews,omitempty"`
}

// ProductDetail is owned 1:1 by a Product. RatingsAvg is nil when the
// product has no reviews.
type ProductDetail struct {
	ID                string            `json:"id"`
	ProductID         string            `json:"product_id"`
	Description       string            `json:"description,omitempty"`
	Specs             map[string]string `json:"specs,omitempty"`
	RatingsAvg        *float64          `json:"ratings_avg"`
	ReviewsCount      int               `json:"reviews_count"`
	ISBN              string            `json:"isbn,omitempty"`
	Publisher         string            `json:"publisher,omitempty"`
	PublicationDate   *time.Time        `json:"publication_date,omitempty"`
	RelatedProductIDs []string          `json:"related_product_ids,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Review has no durable natural key; a product's reviews are replaced as a
// unit on every detail refresh.
type Review struct {
	ID         string     `json:"id"`
	ProductID  string     `json:"product_id"`
	Author     string     `json:"author,omitempty"`
	Rating     int        `json:"rating"`
	Text       string     `json:"text,omitempty"`
	Title      string     `json:"title,omitempty"`
	Verified   bool       `json:"verified"`
	ReviewDate *time.Time `json:"review_date,omitempty"`
	// Position keeps reviews in page order.
	Position   int        `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
}

// LatestScrape returns the most recent LastScrapedAt across items, using get
// to read each timestamp.
func LatestScrape[T any](items []T, get func(T) time.Time) time.Time {
	var latest time.Time
	for _, item := range items {
		if ts := get(item); ts.After(latest) {
			latest = ts
		}
	}
	return latest
}
