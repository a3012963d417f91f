package parser

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/shopspring/decimal"
)

// minNavigationTitle drops icon links and short utility labels ("Go", "EN").
const minNavigationTitle = 3

// NormalizeNavigation converts navigation candidates found on the page at
// base into keyed records, dropping duplicates by slug.
func NormalizeNavigation(base string, candidates []models.NavigationCandidate, seen *Deduper) []models.NavigationRecord {
	out := make([]models.NavigationRecord, 0, len(candidates))
	for _, c := range candidates {
		title := CleanText(c.Title)
		link := ResolveURL(c.Href, base)
		if link == "" || utf8.RuneCountInString(title) < minNavigationTitle {
			continue
		}
		slug := Slugify(title)
		if !seen.First(slug) {
			continue
		}
		out = append(out, models.NavigationRecord{Slug: slug, Title: title, URL: link})
	}
	return out
}

// NormalizeCategories converts category candidates into keyed records.
// When pathHints is non-empty, only links whose URL contains one of the
// hints are kept.
func NormalizeCategories(base string, candidates []models.CategoryCandidate, pathHints []string, seen *Deduper) []models.CategoryRecord {
	out := make([]models.CategoryRecord, 0, len(candidates))
	for _, c := range candidates {
		title, count, hasCount := ExtractCount(c.Title)
		link := ResolveURL(c.Href, base)
		if title == "" || link == "" || !matchesAny(link, pathHints) {
			continue
		}
		slug := Slugify(title)
		if !seen.First(slug) {
			continue
		}
		out = append(out, models.CategoryRecord{
			Slug:         slug,
			Title:        title,
			URL:          link,
			ProductCount: count,
			HasCount:     hasCount,
		})
	}
	return out
}

// NormalizeProducts converts product cards into keyed records, dropping
// cards without a title or link and duplicates by source id.
func NormalizeProducts(base string, candidates []models.ProductCandidate, currency string, seen *Deduper) []models.ProductRecord {
	out := make([]models.ProductRecord, 0, len(candidates))
	for _, c := range candidates {
		title := CleanText(c.Title)
		link := ResolveURL(c.Href, base)
		if title == "" || link == "" {
			continue
		}
		sourceID := ExtractSourceID(link)
		if !seen.First(sourceID) {
			continue
		}

		record := models.ProductRecord{
			SourceID:  sourceID,
			Title:     title,
			Author:    CleanText(c.Author),
			Currency:  currency,
			ImageURL:  ResolveURL(c.ImageSrc, base),
			SourceURL: link,
		}
		if price, ok := ParsePrice(c.PriceText); ok {
			record.Price = decimal.NewNullDecimal(price)
		}
		out = append(out, record)
	}
	return out
}

// NormalizeDetail cleans the detail fields of a product page. Missing ISBN,
// publisher and publication date fall back to the specification table.
func NormalizeDetail(base string, c models.ProductDetailCandidate) models.DetailRecord {
	specs := make(map[string]string, len(c.Specs))
	for k, v := range c.Specs {
		key := strings.TrimSuffix(CleanText(k), ":")
		if key == "" {
			continue
		}
		specs[key] = CleanText(v)
	}

	record := models.DetailRecord{
		Description: strings.TrimSpace(c.Description),
		ISBN:        NormalizeISBN(firstNonEmpty(c.ISBN, specValue(specs, "isbn"))),
		Publisher:   CleanText(firstNonEmpty(c.Publisher, specValue(specs, "publisher"))),
	}
	if len(specs) > 0 {
		record.Specs = specs
	}
	if ts, ok := ParseDate(firstNonEmpty(c.PublicationDate, specValue(specs, "publication date", "published"))); ok {
		record.PublicationDate = &ts
	}

	related := NewDeduper(len(c.RelatedHrefs) + 1)
	for _, href := range c.RelatedHrefs {
		link := ResolveURL(href, base)
		if link == "" {
			continue
		}
		if id := ExtractSourceID(link); related.First(id) {
			record.RelatedProductIDs = append(record.RelatedProductIDs, id)
		}
	}
	return record
}

// NormalizeReviews keeps reviews carrying a positive rating.
func NormalizeReviews(candidates []models.ReviewCandidate) []models.ReviewRecord {
	out := make([]models.ReviewRecord, 0, len(candidates))
	for _, c := range candidates {
		rating, ok := ParseRating(c.RatingText)
		if !ok || rating <= 0 {
			continue
		}
		record := models.ReviewRecord{
			Author:   CleanText(c.Author),
			Rating:   rating,
			Text:     strings.TrimSpace(c.Text),
			Title:    CleanText(c.Title),
			Verified: c.Verified,
		}
		if ts, ok := ParseDate(c.Date); ok {
			record.ReviewDate = &ts
		}
		out = append(out, record)
	}
	return out
}

// NormalizeISBN strips labels and hyphens from a 10 or 13 digit ISBN. Text
// that does not look like an ISBN is returned cleaned but otherwise intact.
func NormalizeISBN(raw string) string {
	var b strings.Builder
	for _, r := range isbnLabel.ReplaceAllString(raw, "") {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'X' || r == 'x':
			b.WriteRune('X')
		}
	}
	digits := b.String()
	if len(digits) == 10 || len(digits) == 13 {
		return digits
	}
	return CleanText(raw)
}

var isbnLabel = regexp.MustCompile(`(?i)isbn(?:[- ]?1[03])?`)

// specValue returns the value of the first spec key, in sorted key order,
// containing one of needles.
func specValue(specs map[string]string, needles ...string) string {
	keys := make([]string, 0, len(specs))
	for k := range specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, needle := range needles {
		for _, k := range keys {
			if strings.Contains(strings.ToLower(k), needle) {
				return specs[k]
			}
		}
	}
	return ""
}

func matchesAny(link string, hints []string) bool {
	if len(hints) == 0 {
		return true
	}
	for _, hint := range hints {
		if strings.Contains(link, hint) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
