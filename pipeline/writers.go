package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

var csvHeader = []string{"id", "source_id", "title", "author", "price", "currency", "category_id", "image_url", "source_url", "last_scraped_at"}

// exportFile owns an output file. Every Write is flushed so that the file
// can be validated from its path while the writer is still open.
type exportFile struct {
	path string
	file *os.File
	buf  *bufio.Writer
	mu   sync.Mutex
}

func createExportFile(path, kind string) (*exportFile, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s file: %w", kind, err)
	}
	return &exportFile{path: path, file: f, buf: bufio.NewWriter(f)}, nil
}

func (ef *exportFile) close() error {
	ef.mu.Lock()
	defer ef.mu.Unlock()
	if ef.file == nil {
		return nil
	}
	flushErr := ef.buf.Flush()
	closeErr := ef.file.Close()
	ef.file = nil
	return errors.Join(flushErr, closeErr)
}

// CSVWriter writes one row per product under a fixed header.
type CSVWriter struct {
	*exportFile
	csv *csv.Writer
}

// NewCSVWriter creates path, including missing parent directories, and
// writes the header row.
func NewCSVWriter(path string) (*CSVWriter, error) {
	ef, err := createExportFile(path, "csv")
	if err != nil {
		return nil, err
	}
	cw := &CSVWriter{exportFile: ef, csv: csv.NewWriter(ef.buf)}
	if err := cw.writeRows([][]string{csvHeader}); err != nil {
		ef.file.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return cw, nil
}

func productRow(p *models.Product) []string {
	price := ""
	if p.Price.Valid {
		price = p.Price.Decimal.StringFixed(2)
	}
	scraped := ""
	if !p.LastScrapedAt.IsZero() {
		scraped = p.LastScrapedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		p.ID,
		p.SourceID,
		p.Title,
		p.Author,
		price,
		p.Currency,
		p.CategoryID,
		p.ImageURL,
		p.SourceURL,
		scraped,
	}
}

// Write appends products. Unpriced products get an empty price cell.
func (cw *CSVWriter) Write(products []*models.Product) error {
	rows := make([][]string, 0, len(products))
	for _, p := range products {
		rows = append(rows, productRow(p))
	}
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.writeRows(rows)
}

func (cw *CSVWriter) writeRows(rows [][]string) error {
	if cw.file == nil {
		return os.ErrClosed
	}
	if err := cw.csv.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv records: %w", err)
	}
	if err := cw.buf.Flush(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file. It is safe to call twice.
func (cw *CSVWriter) Close() error {
	return cw.close()
}

// Validate re-reads the file and checks the header and the width of every
// row.
func (cw *CSVWriter) Validate() error {
	f, err := os.Open(cw.path)
	if err != nil {
		return fmt.Errorf("open csv file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(csvHeader)
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}
	if !slices.Equal(header, csvHeader) {
		return fmt.Errorf("unexpected csv header %v", header)
	}
	for {
		if _, err := r.Read(); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("read csv row: %w", err)
		}
	}
}

// JSONWriter writes newline-delimited JSON, one product per line.
type JSONWriter struct {
	*exportFile
	enc *json.Encoder
}

// NewJSONWriter creates path, including missing parent directories.
func NewJSONWriter(path string) (*JSONWriter, error) {
	ef, err := createExportFile(path, "json")
	if err != nil {
		return nil, err
	}
	return &JSONWriter{exportFile: ef, enc: json.NewEncoder(ef.buf)}, nil
}

// Write appends products in JSONL format.
func (jw *JSONWriter) Write(products []*models.Product) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.file == nil {
		return os.ErrClosed
	}
	for _, p := range products {
		if err := jw.enc.Encode(p); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	if err := jw.buf.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes and closes the file. It is safe to call twice.
func (jw *JSONWriter) Close() error {
	return jw.close()
}

// Validate re-reads the file and checks that every line decodes as a
// product. An empty file is a valid export of zero products.
func (jw *JSONWriter) Validate() error {
	f, err := os.Open(jw.path)
	if err != nil {
		return fmt.Errorf("open json file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var p models.Product
		if err := json.Unmarshal(scanner.Bytes(), &p); err != nil {
			return fmt.Errorf("json line %d: %w", line, err)
		}
	}
	return scanner.Err()
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
