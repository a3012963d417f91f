package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// MultiWriter fans every batch out to several writers in order.
type MultiWriter struct {
	mu      sync.Mutex
	writers []OutputWriter
}

// NewMultiWriter wraps writers. It takes ownership: Close closes them all.
func NewMultiWriter(writers ...OutputWriter) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// NewDualWriter writes CSV to csvPath and JSONL to jsonPath.
func NewDualWriter(csvPath, jsonPath string) (*MultiWriter, error) {
	csvWriter, err := NewCSVWriter(csvPath)
	if err != nil {
		return nil, err
	}
	jsonWriter, err := NewJSONWriter(jsonPath)
	if err != nil {
		csvWriter.Close()
		return nil, err
	}
	return NewMultiWriter(csvWriter, jsonWriter), nil
}

// Write stops at the first writer that fails.
func (mw *MultiWriter) Write(products []*models.Product) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	for i, w := range mw.writers {
		if err := w.Write(products); err != nil {
			return fmt.Errorf("writer %d: %w", i, err)
		}
	}
	return nil
}

// Close closes every writer and joins their errors.
func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.each(OutputWriter.Close)
}

// Validate validates every writer and joins their errors.
func (mw *MultiWriter) Validate() error {
	return mw.each(OutputWriter.Validate)
}

func (mw *MultiWriter) each(fn func(OutputWriter) error) error {
	var errs []error
	for i, w := range mw.writers {
		if err := fn(w); err != nil {
			errs = append(errs, fmt.Errorf("writer %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
