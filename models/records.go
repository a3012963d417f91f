package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stage names one scrape phase.
type Stage string

const (
	StageNavigation    Stage = "navigation"
	StageCategory      Stage = "category"
	StageProductList   Stage = "product_list"
	StageProductDetail Stage = "product_detail"
)

// Candidates are what the extractor reads off a rendered page. Fields hold
// trimmed text or raw attribute values; empty means the field was missing.

// NavigationCandidate is a navigation link.
type NavigationCandidate struct {
	Title string
	Href  string
}

// CategoryCandidate is a category link, possibly titled "Fiction (123)".
type CategoryCandidate struct {
	Title string
	Href  string
}

// ProductCandidate is one product card on a listing page.
type ProductCandidate struct {
	Title     string
	Author    string
	PriceText string
	ImageSrc  string
	Href      string
}

// ProductDetailCandidate holds the detail fields of a product page.
type ProductDetailCandidate struct {
	Description     string
	Specs           map[string]string
	ISBN            string
	Publisher       string
	PublicationDate string
	RelatedHrefs    []string
}

// ReviewCandidate is one review block of a product page.
type ReviewCandidate struct {
	Author     string
	RatingText string
	Text       string
	Title      string
	Verified   bool
	Date       string
}

// Normalized records are keyed and typed, ready for reconciliation.

// NavigationRecord is a normalized navigation link.
type NavigationRecord struct {
	Slug  string
	Title string
	URL   string
}

// CategoryRecord is a normalized category link.
type CategoryRecord struct {
	Slug         string
	Title        string
	URL          string
	ProductCount int
	HasCount     bool
}

// ProductRecord is a normalized product summary.
type ProductRecord struct {
	SourceID  string
	Title     string
	Author    string
	Price     decimal.NullDecimal
	Currency  string
	ImageURL  string
	SourceURL string
}

// DetailRecord is a normalized product detail.
type DetailRecord struct {
	Description       string
	Specs             map[string]string
	ISBN              string
	Publisher         string
	PublicationDate   *time.Time
	RelatedProductIDs []string
}

// ReviewRecord is a normalized review.
type ReviewRecord struct {
	Author     string
	Rating     int
	Text       string
	Title      string
	Verified   bool
	ReviewDate *time.Time
}
