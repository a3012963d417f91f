package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/store"
)

// NewWriter opens the output writer for format ("csv", "json" or "dual").
// Dual output writes path and a sibling .jsonl file.
func NewWriter(format, path string) (OutputWriter, error) {
	var (
		w   OutputWriter
		err error
	)
	switch format {
	case "csv":
		w, err = NewCSVWriter(path)
	case "json":
		w, err = NewJSONWriter(path)
	case "dual":
		base := strings.TrimSuffix(path, ".csv")
		w, err = NewDualWriter(base+".csv", base+".jsonl")
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Export writes the stored products matching filter. Store pages are read
// on a separate goroutine while earlier pages are written. The writer is
// closed before returning.
func Export(ctx context.Context, st store.Store, filter store.ProductFilter, writer OutputWriter, logger *slog.Logger) (ExportStats, error) {
	p := NewPipeline(writer, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pages := make(chan []models.Product, 2)
	readErr := make(chan error, 1)
	go func() {
		defer close(pages)
		readErr <- readPages(ctx, st, filter, pages)
	}()

	var writeErr error
	for page := range pages {
		if writeErr != nil {
			continue
		}
		batch := make([]*models.Product, len(page))
		for i := range page {
			batch[i] = &page[i]
		}
		if err := p.Add(batch); err != nil {
			writeErr = fmt.Errorf("write batch: %w", err)
			cancel()
		}
	}
	if writeErr == nil {
		if err := p.Flush(); err != nil {
			writeErr = fmt.Errorf("write batch: %w", err)
		}
	}

	err := writeErr
	if rerr := <-readErr; err == nil {
		err = rerr
	}
	if cerr := writer.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close writer: %w", cerr)
	}

	stats := p.Stats()
	if len(stats.Rejected) > 0 {
		p.logger.Warn("products rejected during export", slog.Any("rejected", stats.Rejected))
	}
	return stats, err
}

func readPages(ctx context.Context, st store.Store, filter store.ProductFilter, out chan<- []models.Product) error {
	filter = filter.Normalized()
	filter.Page = 1
	filter.Limit = store.MaxPageSize

	read := 0
	for {
		page, total, err := st.ListProducts(ctx, filter)
		if err != nil {
			return fmt.Errorf("list products: %w", err)
		}
		if len(page) == 0 {
			return nil
		}
		select {
		case out <- page:
		case <-ctx.Done():
			return ctx.Err()
		}
		read += len(page)
		if read >= total {
			return nil
		}
		filter.Page++
	}
}
