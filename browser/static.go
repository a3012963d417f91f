package browser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// Static fetches pages over plain HTTP with colly. It does not run
// JavaScript, so it suits server-rendered storefronts and tests.
type Static struct {
	opts Options
}

// NewStatic builds a Static backend.
func NewStatic(opts Options) *Static {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Static{opts: opts}
}

// Open prepares a collector for one scrape invocation.
func (b *Static) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	collector := colly.NewCollector(
		colly.UserAgent(b.opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(b.opts.Timeout)
	if b.opts.Transport != nil {
		collector.WithTransport(b.opts.Transport)
	} else {
		collector.WithTransport(&http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   b.opts.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		})
	}

	s := &staticSession{
		collector: collector,
		pacer:     newPacer(b.opts.RequestDelay),
		logger:    b.opts.Logger.With("component", "static_session"),
	}
	collector.OnResponse(func(r *colly.Response) {
		s.body = r.Body
		s.finalURL = r.Request.URL.String()
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			s.status = r.StatusCode
		}
	})
	return s, nil
}

type staticSession struct {
	collector *colly.Collector
	pacer     *pacer
	logger    *slog.Logger

	body     []byte
	finalURL string
	status   int
}

func (s *staticSession) Render(ctx context.Context, target string) (*Page, error) {
	if err := s.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	s.body, s.finalURL, s.status = nil, "", 0

	start := time.Now()
	if err := s.collector.Visit(target); err != nil {
		if s.status >= http.StatusBadRequest {
			return nil, &StatusError{Code: s.status, URL: target}
		}
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	if s.body == nil {
		return nil, fmt.Errorf("fetch %s: empty response", target)
	}
	s.logger.Debug("page fetched",
		slog.String("url", target),
		slog.Duration("elapsed", time.Since(start)),
	)

	pageURL := s.finalURL
	if pageURL == "" {
		pageURL = target
	}
	return NewPage(pageURL, bytes.NewReader(s.body))
}

func (s *staticSession) Close() error {
	return nil
}
