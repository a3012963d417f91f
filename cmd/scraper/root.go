package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aluiziolira/go-scrape-catalog/browser"
	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
	"github.com/aluiziolira/go-scrape-catalog/store"
	"github.com/aluiziolira/go-scrape-catalog/store/sqlstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flagKeys maps command flags onto config keys so that a flag, when set,
// wins over the config file and SCRAPER_* environment variables.
var flagKeys = map[string]string{
	"verbose":  "verbose",
	"base-url": "base_url",
	"store":    "store_driver",
	"dsn":      "store_dsn",
	"browser":  "browser_mode",
	"addr":     "listen_addr",
	"output":   "output_file",
	"format":   "output_format",
}

type app struct {
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "scraper",
		Short: "Scrape a book store catalog into a local database",
		Long: `scraper crawls the navigation, categories, product listings and
product pages of an online book store, keeps the results in a database
and serves them over HTTP.

Examples:
  # Discover the top-level navigation
  scraper navigation

  # Scrape two listing pages of a category
  scraper products --url https://www.worldofbooks.com/en-gb/collections/crime --max-pages 2

  # Export everything under 5 GBP as JSON lines
  scraper export --format json --output out/cheap.jsonl --max-price 5

  # Serve the REST API
  scraper serve --addr :8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "YAML config file")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.String("base-url", "", "store base URL")
	flags.String("store", "", "store driver: sqlite, postgres, or memory")
	flags.String("dsn", "", "store data source name")
	flags.String("browser", "", "browser backend: chrome or static")

	root.AddCommand(
		newNavigationCmd(a),
		newCategoriesCmd(a),
		newProductsCmd(a),
		newProductCmd(a),
		newJobsCmd(a),
		newExportCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	v, err := config.NewViper(a.configFile)
	if err != nil {
		return err
	}
	if err := bindFlags(v, cmd); err != nil {
		return err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	a.cfg = cfg
	a.logger = logger
	return nil
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

// services holds the components shared by every command.
type services struct {
	store      store.Store
	metrics    *scraper.Metrics
	reconciler *pipeline.Reconciler
}

func (a *app) open(ctx context.Context) (*services, error) {
	st, err := openStore(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}

	b, err := browser.New(a.cfg, browser.WithLogger(a.logger))
	if err != nil {
		st.Close()
		return nil, err
	}
	selectors, err := scraper.LoadSelectors(a.cfg.SelectorsFile)
	if err != nil {
		st.Close()
		return nil, err
	}

	metrics := scraper.NewMetrics()
	extractor := scraper.NewExtractor(b, a.cfg,
		scraper.WithSelectors(selectors),
		scraper.WithMetrics(metrics),
		scraper.WithLogger(a.logger),
	)
	rec := pipeline.NewReconciler(st, extractor, a.cfg,
		pipeline.WithMetrics(metrics),
		pipeline.WithLogger(a.logger),
	)
	return &services{store: st, metrics: metrics, reconciler: rec}, nil
}

func (rt *services) Close() {
	if err := rt.store.Close(); err != nil {
		slog.Error("close store", slog.Any("error", err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite", "postgres":
		st, err := sqlstore.Open(ctx, cfg.StoreDriver, cfg.StoreDSN, logger)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
