package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// Chrome renders pages in headless Chrome through chromedp. Each session
// launches its own browser process.
type Chrome struct {
	opts Options
}

// NewChrome builds a Chrome backend.
func NewChrome(opts Options) *Chrome {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Chrome{opts: opts}
}

func (c *Chrome) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", c.opts.Headless),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
	)
	if c.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.opts.UserAgent))
	}
	return opts
}

// Open launches a browser and a tab.
func (c *Chrome) Open(ctx context.Context) (Session, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, c.allocatorOptions()...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// An empty Run starts the browser so launch failures surface here.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &chromeSession{
		opts:        c.opts,
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		pacer:       newPacer(c.opts.RequestDelay),
		logger:      c.opts.Logger.With("component", "chrome_session"),
	}, nil
}

type chromeSession struct {
	opts        Options
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	pacer       *pacer
	logger      *slog.Logger
}

// Render navigates, waits for the body, the optional readiness marker and
// the fixed settle delay, then snapshots the DOM.
func (s *chromeSession) Render(ctx context.Context, target string) (*Page, error) {
	if err := s.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(s.tabCtx, s.opts.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html, location string
	tasks := chromedp.Tasks{
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if s.opts.WaitSelector != "" {
		tasks = append(tasks, chromedp.WaitVisible(s.opts.WaitSelector, chromedp.ByQuery))
	}
	if s.opts.SettleDelay > 0 {
		tasks = append(tasks, chromedp.Sleep(s.opts.SettleDelay))
	}
	tasks = append(tasks,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	start := time.Now()
	if err := chromedp.Run(runCtx, tasks); err != nil {
		return nil, fmt.Errorf("render %s: %w", target, err)
	}
	s.logger.Debug("page rendered",
		slog.String("url", target),
		slog.Duration("elapsed", time.Since(start)),
	)

	if location == "" {
		location = target
	}
	return NewPage(location, strings.NewReader(html))
}

func (s *chromeSession) Close() error {
	s.cancelTab()
	s.cancelAlloc()
	return nil
}
