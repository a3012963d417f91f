package pipeline

import (
	"log/slog"
	"maps"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/go-playground/validator/v10"
)

// OutputWriter receives batches of exported products.
type OutputWriter interface {
	Write(products []*models.Product) error
	Close() error
	Validate() error
}

// Rejection reasons counted in ExportStats.Rejected.
const (
	RejectInvalid   = "invalid_record"
	RejectDuplicate = "duplicate_product"
)

// exportRecord holds the fields an exported product must carry.
type exportRecord struct {
	SourceID  string `validate:"required"`
	Title     string `validate:"required"`
	SourceURL string `validate:"required,url"`
	Currency  string `validate:"required,len=3"`
}

// ExportStats summarizes an export. Written counts only rows the writer
// accepted.
type ExportStats struct {
	Written  int
	Rejected map[string]int
}

// Pipeline validates products, drops repeats and hands full batches to an
// OutputWriter. It is used from a single goroutine.
type Pipeline struct {
	writer    OutputWriter
	batchSize int
	validate  *validator.Validate
	logger    *slog.Logger

	// Offset paging over a store that is being scraped into can return a
	// row twice when earlier pages grow.
	seen    map[string]struct{}
	pending []*models.Product
	batches int
	stats   ExportStats
}

// NewPipeline returns a pipeline writing batches of 64 products.
func NewPipeline(writer OutputWriter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		writer:    writer,
		batchSize: 64,
		validate:  validator.New(),
		logger:    logger.With("component", "export"),
		seen:      make(map[string]struct{}),
		stats:     ExportStats{Rejected: make(map[string]int)},
	}
}

// Add accepts products and writes every batch that fills up. A write error
// leaves the failed batch pending and is returned as is.
func (p *Pipeline) Add(products []*models.Product) error {
	for _, product := range products {
		if product == nil || !p.accept(product) {
			continue
		}
		p.pending = append(p.pending, product)
		if len(p.pending) >= p.batchSize {
			if err := p.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush writes pending products.
func (p *Pipeline) Flush() error {
	if len(p.pending) == 0 {
		return nil
	}
	if err := p.writer.Write(p.pending); err != nil {
		return err
	}
	p.stats.Written += len(p.pending)
	p.batches++
	p.pending = p.pending[:0]
	if p.batches%16 == 0 {
		p.logger.Debug("export progress",
			slog.Int("written", p.stats.Written),
			slog.Int("batches", p.batches),
		)
	}
	return nil
}

// Stats returns a copy of the counters.
func (p *Pipeline) Stats() ExportStats {
	return ExportStats{Written: p.stats.Written, Rejected: maps.Clone(p.stats.Rejected)}
}

func (p *Pipeline) accept(product *models.Product) bool {
	record := exportRecord{
		SourceID:  product.SourceID,
		Title:     product.Title,
		SourceURL: product.SourceURL,
		Currency:  product.Currency,
	}
	if err := p.validate.Struct(record); err != nil {
		p.stats.Rejected[RejectInvalid]++
		p.logger.Debug("product rejected",
			slog.String("source_id", product.SourceID),
			slog.String("error", err.Error()),
		)
		return false
	}

	key := product.ID
	if key == "" {
		key = product.SourceID
	}
	if _, ok := p.seen[key]; ok {
		p.stats.Rejected[RejectDuplicate]++
		return false
	}
	p.seen[key] = struct{}{}
	return true
}
