// Package parser turns raw extracted text into canonical catalog fields.
// Every function here is pure.
package parser

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	nonSlugRun   = regexp.MustCompile(`[^a-z0-9]+`)
	parenCount   = regexp.MustCompile(`\((\d+)\)`)
	priceToken   = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?|\.\d+`)
	integerToken = regexp.MustCompile(`\d+`)
	spaceRun     = regexp.MustCompile(`\s+`)
)

// Slugify lowercases text, collapses every run of characters outside
// [a-z0-9] into a single hyphen and trims leading/trailing hyphens.
func Slugify(text string) string {
	slug := nonSlugRun.ReplaceAllString(strings.ToLower(text), "-")
	return strings.Trim(slug, "-")
}

// ExtractCount finds a parenthesized integer such as "Fiction (123)". It
// returns the title with the parenthetical removed.
func ExtractCount(text string) (string, int, bool) {
	match := parenCount.FindStringSubmatchIndex(text)
	if match == nil {
		return CleanText(text), 0, false
	}
	count, err := strconv.Atoi(text[match[2]:match[3]])
	if err != nil {
		return CleanText(text), 0, false
	}
	title := text[:match[0]] + text[match[1]:]
	return CleanText(title), count, true
}

// CleanText trims and collapses internal whitespace.
func CleanText(text string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(text, " "))
}

// ResolveURL resolves href against base. Protocol-relative and relative
// hrefs become absolute; absolute hrefs pass through. Fragments are dropped.
// An unparseable href yields "".
func ResolveURL(href, base string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if !ref.IsAbs() {
		baseURL, err := url.Parse(base)
		if err != nil || baseURL.Host == "" {
			if strings.HasPrefix(href, "//") {
				ref.Scheme = "https"
				ref.Fragment = ""
				return ref.String()
			}
			return ""
		}
		ref = baseURL.ResolveReference(ref)
	}
	ref.Fragment = ""
	return ref.String()
}

// ExtractSourceID derives a stable product identifier from the last
// meaningful path segment of rawURL. Query strings and fragments are
// ignored, as are index documents such as "index.html".
func ExtractSourceID(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	} else if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	segments := strings.Split(path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if seg == "" || isIndexDocument(seg) {
			continue
		}
		return seg
	}
	return rawURL
}

func isIndexDocument(seg string) bool {
	lower := strings.ToLower(seg)
	return lower == "index.html" || lower == "index.htm" || lower == "index.php"
}

// ParsePrice extracts the first numeric token from price-bearing text. The
// currency symbol is discarded; thousands separators are tolerated.
func ParsePrice(text string) (decimal.Decimal, bool) {
	token := priceToken.FindString(text)
	if token == "" {
		return decimal.Decimal{}, false
	}
	token = strings.ReplaceAll(token, ",", "")
	if strings.HasPrefix(token, ".") {
		token = "0" + token
	}
	value, err := decimal.NewFromString(token)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return value, true
}

// ParseRating reads the first integer in text, e.g. "4 out of 5" or
// "Rated 5". Values above MaxRating are clamped.
func ParseRating(text string) (int, bool) {
	token := integerToken.FindString(text)
	if token == "" {
		return 0, false
	}
	rating, err := strconv.Atoi(token)
	if err != nil {
		return 0, false
	}
	if rating > MaxRating {
		rating = MaxRating
	}
	return rating, true
}

// MaxRating is the top of the review scale.
const MaxRating = 5

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2 January 2006",
	"02 January 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"02/01/2006",
	"January 2006",
	"2006",
}

// ParseDate tries the date layouts commonly seen on product pages.
func ParseDate(text string) (time.Time, bool) {
	text = CleanText(text)
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, text); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
