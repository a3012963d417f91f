// Package browser renders pages for the extractor. A Browser opens one
// Session per scrape invocation; the session paces page loads and returns
// parsed documents.
package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-catalog/config"
)

// Browser opens rendering sessions.
type Browser interface {
	Open(ctx context.Context) (Session, error)
}

// Session renders pages one at a time. A session is not safe for
// concurrent use.
type Session interface {
	Render(ctx context.Context, url string) (*Page, error)
	Close() error
}

// Page is a rendered document together with the URL it was served from,
// which is the base for resolving relative links.
type Page struct {
	URL string
	Doc *goquery.Document
}

// NewPage parses html served from pageURL.
func NewPage(pageURL string, html io.Reader) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(html)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{URL: pageURL, Doc: doc}, nil
}

// Root returns the document's top-level selection.
func (p *Page) Root() *goquery.Selection {
	return p.Doc.Selection
}

// WithPage opens a session, renders url and hands the page to fn. The
// session is closed before returning.
func WithPage[T any](ctx context.Context, b Browser, url string, fn func(*Page) (T, error)) (T, error) {
	var zero T
	session, err := b.Open(ctx)
	if err != nil {
		return zero, err
	}
	defer session.Close()

	page, err := session.Render(ctx, url)
	if err != nil {
		return zero, err
	}
	return fn(page)
}

// StatusError reports an HTTP error response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http status %d", e.URL, e.Code)
}

// Options configures both browser backends.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	RequestDelay time.Duration
	SettleDelay  time.Duration
	WaitSelector string
	Headless     bool
	Transport    http.RoundTripper
	Logger       *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithTransport routes static-mode requests through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *Options) { o.Transport = rt }
}

// WithLogger sets the logger used by sessions.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// OptionsFromConfig maps configuration onto Options.
func OptionsFromConfig(cfg *config.Config, opts ...Option) Options {
	o := Options{
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.NavigationTimeout,
		RequestDelay: cfg.RequestDelay,
		SettleDelay:  cfg.SettleDelay,
		WaitSelector: cfg.WaitSelector,
		Headless:     cfg.Headless,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// New returns the backend selected by cfg.BrowserMode.
func New(cfg *config.Config, opts ...Option) (Browser, error) {
	o := OptionsFromConfig(cfg, opts...)
	switch cfg.BrowserMode {
	case "chrome":
		return NewChrome(o), nil
	case "static":
		return NewStatic(o), nil
	default:
		return nil, fmt.Errorf("unsupported browser mode: %s", cfg.BrowserMode)
	}
}
