package scraper

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-catalog/browser"
	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

// ProductPage is one rendered product listing page.
type ProductPage = Page[models.ProductCandidate]

// Extractor reads catalog candidates off rendered pages. Every stage call
// opens its own browser session and closes it before returning.
type Extractor struct {
	cfg       *config.Config
	browser   browser.Browser
	selectors *Selectors
	metrics   *Metrics
	logger    *slog.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithSelectors replaces the default selector chains.
func WithSelectors(sel *Selectors) Option {
	return func(e *Extractor) { e.selectors = sel }
}

// WithMetrics records page loads and errors on m.
func WithMetrics(m *Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

// WithLogger sets the extractor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) { e.logger = logger }
}

// NewExtractor builds an extractor rendering through b.
func NewExtractor(b browser.Browser, cfg *config.Config, opts ...Option) *Extractor {
	e := &Extractor{
		cfg:       cfg,
		browser:   b,
		selectors: DefaultSelectors(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "extractor")
	return e
}

// CategoryPathHints lists URL fragments that mark a link as a category.
func (e *Extractor) CategoryPathHints() []string {
	return e.selectors.CategoryPathHints
}

// Navigation extracts the taxonomy headings from url, or from the
// configured base URL when url is empty.
func (e *Extractor) Navigation(ctx context.Context, url string) ([]models.NavigationCandidate, error) {
	if url == "" {
		url = e.cfg.BaseURL
	}
	return extractOne(ctx, e, models.StageNavigation, url, func(page *browser.Page) []models.NavigationCandidate {
		links := e.selectors.NavigationLinks.Find(page.Root())
		out := make([]models.NavigationCandidate, 0, links.Length())
		links.Each(func(_ int, a *goquery.Selection) {
			out = append(out, models.NavigationCandidate{
				Title: parser.CleanText(a.Text()),
				Href:  href(a, page.URL),
			})
		})
		return out
	})
}

// Categories extracts the category links listed on url.
func (e *Extractor) Categories(ctx context.Context, url string) ([]models.CategoryCandidate, error) {
	return extractOne(ctx, e, models.StageCategory, url, func(page *browser.Page) []models.CategoryCandidate {
		links := e.selectors.CategoryLinks.Find(page.Root())
		out := make([]models.CategoryCandidate, 0, links.Length())
		links.Each(func(_ int, a *goquery.Selection) {
			out = append(out, models.CategoryCandidate{
				Title: parser.CleanText(a.Text()),
				Href:  href(a, page.URL),
			})
		})
		return out
	})
}

// ProductPage renders one listing page in session and reads its product
// cards and next-page link.
func (e *Extractor) ProductPage(ctx context.Context, session browser.Session, url string) (ProductPage, error) {
	page, err := e.render(ctx, session, models.StageProductList, url)
	if err != nil {
		return ProductPage{}, err
	}

	sel := e.selectors
	cards := sel.ProductCards.Find(page.Root())
	items := make([]models.ProductCandidate, 0, cards.Length())
	missingPrice := 0
	cards.Each(func(_ int, card *goquery.Selection) {
		c := models.ProductCandidate{
			Title:     text(sel.CardTitle.Find(card)),
			Author:    text(sel.CardAuthor.Find(card)),
			PriceText: text(sel.CardPrice.Find(card)),
			ImageSrc:  attr(sel.CardImage.Find(card), "src", "data-src"),
			Href:      href(sel.CardLink.Find(card), page.URL),
		}
		if c.PriceText == "" {
			missingPrice++
		}
		items = append(items, c)
	})
	if missingPrice > 0 {
		e.logger.Debug("cards without price",
			slog.String("url", url),
			slog.Int("count", missingPrice),
		)
	}

	return ProductPage{
		URL:   page.URL,
		Items: items,
		Next:  nextLink(sel.NextPage.Find(page.Root()), page.URL),
	}, nil
}

// Products walks the listing starting at url for at most maxPages pages
// and returns deduplicated product records. maxPages <= 0 uses the
// configured default.
func (e *Extractor) Products(ctx context.Context, url string, maxPages int) ([]models.ProductRecord, error) {
	const stage = models.StageProductList
	if maxPages <= 0 {
		maxPages = e.cfg.DefaultMaxPages
	}

	session, err := e.open(ctx, stage, url)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	seen := parser.NewDeduper(e.cfg.DedupeMaxSize)
	limits := Limits{MaxPages: maxPages, PerPageCeiling: e.cfg.PerPageCeiling}
	records, err := Paginate(ctx, url, limits,
		func(ctx context.Context, pageURL string) (ProductPage, error) {
			e.logger.Info("scraping listing page", slog.String("url", pageURL))
			return e.ProductPage(ctx, session, pageURL)
		},
		func(p ProductPage) []models.ProductRecord {
			return parser.NormalizeProducts(p.URL, p.Items, e.cfg.Currency, seen)
		},
	)
	if err != nil {
		var extractErr *ExtractionError
		if errors.As(err, &extractErr) {
			return nil, err
		}
		return nil, e.fail(stage, url, err)
	}

	e.metrics.AddItems(stage, len(records))
	e.logger.Info("products extracted",
		slog.String("url", url),
		slog.Int("count", len(records)),
	)
	return records, nil
}

// ProductDetail extracts the detail fields and reviews of a product page.
func (e *Extractor) ProductDetail(ctx context.Context, url string) (models.ProductDetailCandidate, []models.ReviewCandidate, error) {
	type result struct {
		detail  models.ProductDetailCandidate
		reviews []models.ReviewCandidate
	}
	res, err := extractOne(ctx, e, models.StageProductDetail, url, func(page *browser.Page) []result {
		sel := e.selectors
		root := page.Root()

		detail := models.ProductDetailCandidate{
			Description:     strings.TrimSpace(sel.Description.Find(root).First().Text()),
			ISBN:            text(sel.ISBN.Find(root)),
			Publisher:       text(sel.Publisher.Find(root)),
			PublicationDate: text(sel.PublicationDate.Find(root)),
			Specs:           make(map[string]string),
		}
		sel.SpecRows.Find(root).Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td, th")
			if cells.Length() < 2 {
				return
			}
			key := parser.CleanText(cells.Eq(0).Text())
			if key != "" {
				detail.Specs[key] = parser.CleanText(cells.Eq(1).Text())
			}
		})
		sel.RelatedLinks.Find(root).Each(func(_ int, a *goquery.Selection) {
			if link := href(a, page.URL); link != "" {
				detail.RelatedHrefs = append(detail.RelatedHrefs, link)
			}
		})

		var reviews []models.ReviewCandidate
		sel.Reviews.Find(root).Each(func(_ int, block *goquery.Selection) {
			rating := sel.ReviewRating.Find(block)
			ratingText := text(rating)
			if ratingText == "" {
				ratingText = attr(rating, "data-rating")
			}
			date := sel.ReviewDate.Find(block)
			dateText := attr(date, "datetime")
			if dateText == "" {
				dateText = text(date)
			}
			reviews = append(reviews, models.ReviewCandidate{
				Author:     text(sel.ReviewAuthor.Find(block)),
				RatingText: ratingText,
				Text:       text(sel.ReviewText.Find(block)),
				Title:      text(sel.ReviewTitle.Find(block)),
				Verified:   sel.ReviewVerified.Find(block).Length() > 0,
				Date:       dateText,
			})
		})
		return []result{{detail: detail, reviews: reviews}}
	})
	if err != nil {
		return models.ProductDetailCandidate{}, nil, err
	}
	return res[0].detail, res[0].reviews, nil
}

// extractOne renders a single page in a fresh session and reads it with fn.
// The recorded load time includes opening the session.
func extractOne[T any](ctx context.Context, e *Extractor, stage models.Stage, url string, fn func(*browser.Page) []T) ([]T, error) {
	start := time.Now()
	items, err := browser.WithPage(ctx, e.browser, url, func(page *browser.Page) ([]T, error) {
		e.metrics.ObservePageLoad(stage, time.Since(start))
		return fn(page), nil
	})
	if err != nil {
		return nil, e.fail(stage, url, err)
	}
	e.metrics.AddItems(stage, len(items))
	e.logger.Info("page extracted",
		slog.String("stage", string(stage)),
		slog.String("url", url),
		slog.Int("count", len(items)),
	)
	return items, nil
}

func (e *Extractor) open(ctx context.Context, stage models.Stage, url string) (browser.Session, error) {
	session, err := e.browser.Open(ctx)
	if err != nil {
		return nil, e.fail(stage, url, err)
	}
	return session, nil
}

func (e *Extractor) render(ctx context.Context, session browser.Session, stage models.Stage, url string) (*browser.Page, error) {
	start := time.Now()
	page, err := session.Render(ctx, url)
	if err != nil {
		return nil, e.fail(stage, url, err)
	}
	e.metrics.ObservePageLoad(stage, time.Since(start))
	return page, nil
}

func (e *Extractor) fail(stage models.Stage, url string, err error) error {
	classified := classifyError(err)
	category := errorTypeLabel(classified)
	e.metrics.IncError(category)
	e.logger.Error("extraction failed",
		slog.String("stage", string(stage)),
		slog.String("url", url),
		slog.String("category", category),
		slog.Any("error", err),
	)
	return &ExtractionError{Stage: stage, URL: url, Err: classified}
}

func text(s *goquery.Selection) string {
	return parser.CleanText(s.First().Text())
}

func attr(s *goquery.Selection, names ...string) string {
	first := s.First()
	for _, name := range names {
		if v, ok := first.Attr(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// href returns the absolute link target of the first node, as a browser's
// anchor.href would.
func href(s *goquery.Selection, base string) string {
	return parser.ResolveURL(attr(s, "href"), base)
}

// nextLink reads a next-page control, which may be the anchor itself or a
// wrapper around it.
func nextLink(s *goquery.Selection, base string) string {
	if s.Length() == 0 {
		return ""
	}
	if link := href(s, base); link != "" {
		return link
	}
	return href(s.First().Find("a[href]"), base)
}
