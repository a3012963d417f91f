package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/api"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
	"github.com/aluiziolira/go-scrape-catalog/store"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// withServices runs fn with a signal-aware context and open services.
func (a *app) withServices(fn func(ctx context.Context, rt *services) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

type scrapeOutput struct {
	Outcome pipeline.Outcome `json:"outcome"`
	Data    any              `json:"data"`
}

func newNavigationCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "navigation",
		Short: "Print the store navigation, scraping it when the cache is stale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withServices(func(ctx context.Context, rt *services) error {
				nav, outcome, err := rt.reconciler.GetOrScrapeNavigation(ctx, force)
				if err != nil {
					return err
				}
				return printJSON(scrapeOutput{Outcome: outcome, Data: nav})
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "ignore the cache")
	return cmd
}

func newCategoriesCmd(a *app) *cobra.Command {
	var req pipeline.CategoryRequest
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Scrape the categories listed at --url, or list stored categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withServices(func(ctx context.Context, rt *services) error {
				if req.URL == "" {
					cats, err := rt.reconciler.GetCategories(ctx, req.NavigationID)
					if err != nil {
						return err
					}
					return printJSON(cats)
				}
				cats, outcome, err := rt.reconciler.ScrapeCategories(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(scrapeOutput{Outcome: outcome, Data: cats})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.URL, "url", "", "category listing URL to scrape")
	f.StringVar(&req.NavigationID, "navigation-id", "", "navigation entry the categories belong to")
	f.StringVar(&req.ParentID, "parent-id", "", "parent category of the scraped categories")
	f.BoolVar(&req.Force, "force", false, "ignore the cache")
	return cmd
}

func newProductsCmd(a *app) *cobra.Command {
	var req pipeline.ProductRequest
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Scrape product listings starting at --url",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.URL == "" {
				return fmt.Errorf("--url is required")
			}
			return a.withServices(func(ctx context.Context, rt *services) error {
				products, outcome, err := rt.reconciler.ScrapeProducts(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(scrapeOutput{Outcome: outcome, Data: products})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.URL, "url", "", "listing URL")
	f.StringVar(&req.CategoryID, "category-id", "", "category to link the products to")
	f.IntVar(&req.MaxPages, "max-pages", 0, "listing pages to follow (0 uses the configured default)")
	f.BoolVar(&req.Force, "force", false, "ignore the cache")
	return cmd
}

func newProductCmd(a *app) *cobra.Command {
	var scrape, force bool
	cmd := &cobra.Command{
		Use:   "product <id>",
		Short: "Print a stored product, optionally scraping its detail page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(func(ctx context.Context, rt *services) error {
				if !scrape && !force {
					p, err := rt.reconciler.GetProduct(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(p)
				}
				p, outcome, err := rt.reconciler.ScrapeProductDetail(ctx, args[0], force)
				if err != nil {
					return err
				}
				return printJSON(scrapeOutput{Outcome: outcome, Data: p})
			})
		},
	}
	cmd.Flags().BoolVar(&scrape, "scrape", false, "scrape the detail page when the cache is stale")
	cmd.Flags().BoolVar(&force, "force", false, "always scrape the detail page")
	return cmd
}

func newJobsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent scrape jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withServices(func(ctx context.Context, rt *services) error {
				jobs, err := rt.reconciler.ListJobs(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(jobs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum jobs to list")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		filter             store.ProductFilter
		minPrice, maxPrice string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored products to CSV, JSON lines, or both",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if filter.MinPrice, err = parsePrice("min-price", minPrice); err != nil {
				return err
			}
			if filter.MaxPrice, err = parsePrice("max-price", maxPrice); err != nil {
				return err
			}
			return a.withServices(func(ctx context.Context, rt *services) error {
				writer, err := pipeline.NewWriter(a.cfg.OutputFormat, a.cfg.OutputFile)
				if err != nil {
					return err
				}

				start := time.Now()
				stats, err := pipeline.Export(ctx, rt.store, filter, writer, a.logger)
				if err != nil {
					return fmt.Errorf("export: %w", err)
				}
				if err := writer.Validate(); err != nil {
					return fmt.Errorf("output validation failed: %w", err)
				}
				printSummary(stats, time.Since(start), a.cfg.OutputFile)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.String("output", "", "output file path")
	f.String("format", "", "output format: csv, json, or dual")
	f.StringVar(&filter.CategoryID, "category-id", "", "only products in this category")
	f.StringVar(&filter.Author, "author", "", "author substring")
	f.StringVar(&filter.Search, "search", "", "title substring")
	f.StringVar(&minPrice, "min-price", "", "minimum price")
	f.StringVar(&maxPrice, "max-price", "", "maximum price")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog REST API and Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withServices(func(ctx context.Context, rt *services) error {
				srv := api.NewServer(rt.reconciler, rt.metrics.Registry, a.logger)
				return srv.ListenAndServe(ctx, a.cfg.ListenAddr)
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (e.g. :8080)")
	return cmd
}

func parsePrice(name, raw string) (decimal.NullDecimal, error) {
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("--%s: %q is not a number", name, raw)
	}
	return decimal.NewNullDecimal(d), nil
}

func printSummary(stats pipeline.ExportStats, duration time.Duration, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(os.Stderr, "\n"+separator)
	fmt.Fprintln(os.Stderr, "Export complete")
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(stats.Written) / duration.Seconds()
	}
	fmt.Fprintf(os.Stderr, "  Total items:   %d\n", stats.Written)
	if len(stats.Rejected) > 0 {
		fmt.Fprintf(os.Stderr, "  Rejected:      %v\n", stats.Rejected)
	}
	fmt.Fprintf(os.Stderr, "  Duration:      %v\n", duration)
	fmt.Fprintf(os.Stderr, "  Items/sec:     %.2f\n", itemsPerSec)
	fmt.Fprintf(os.Stderr, "  Output file:   %s\n", outputFile)
	fmt.Fprintln(os.Stderr, separator)
}
