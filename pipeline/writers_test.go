package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/shopspring/decimal"
)

func sampleProduct() *models.Product {
	return &models.Product{
		ID:            "p-1",
		SourceID:      "test-book",
		Title:         "Test Book",
		Author:        "A. Writer",
		Price:         decimal.NewNullDecimal(decimal.RequireFromString("10.5")),
		Currency:      "GBP",
		ImageURL:      "http://example.test/img.png",
		SourceURL:     "http://example.test/products/test-book",
		LastScrapedAt: time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC),
	}
}

func TestCSVWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}

	unpriced := sampleProduct()
	unpriced.ID = "p-2"
	unpriced.Price = decimal.NullDecimal{}

	if err := writer.Write([]*models.Product{sampleProduct(), unpriced}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records=%d, want 3", len(records))
	}
	if records[0][2] != "title" || records[0][4] != "price" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][4] != "10.50" {
		t.Fatalf("price cell = %q, want 10.50", records[1][4])
	}
	if records[2][4] != "" {
		t.Fatalf("unpriced cell = %q, want empty", records[2][4])
	}
	if records[1][9] != "2025-11-04T13:09:13Z" {
		t.Fatalf("last_scraped_at = %q", records[1][9])
	}
}

func TestJSONWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}

	if err := writer.Write([]*models.Product{sampleProduct()}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var decoded models.Product
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		if decoded.SourceID != "test-book" || !decoded.Price.Valid {
			t.Fatalf("decoded = %+v", decoded)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if count != 1 {
		t.Fatalf("json lines=%d, want 1", count)
	}
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "products.csv")
	jsonPath := filepath.Join(dir, "out", "products.jsonl")

	writer, err := NewDualWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}

	if err := writer.Write([]*models.Product{sampleProduct()}); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	if info, err := os.Stat(csvPath); err != nil || info.Size() == 0 {
		t.Fatalf("csv file missing or empty")
	}
	if info, err := os.Stat(jsonPath); err != nil || info.Size() == 0 {
		t.Fatalf("json file missing or empty")
	}
}

func TestWritersValidateAfterClose(t *testing.T) {
	dir := t.TempDir()

	csvWriter, err := NewCSVWriter(filepath.Join(dir, "empty.csv"))
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	jsonWriter, err := NewJSONWriter(filepath.Join(dir, "empty.jsonl"))
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	w := NewMultiWriter(csvWriter, jsonWriter)
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := w.Validate(); err != nil {
		t.Fatalf("an export of zero products should validate, got %v", err)
	}
	if err := csvWriter.Write([]*models.Product{sampleProduct()}); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("write after close = %v, want os.ErrClosed", err)
	}
}

func TestJSONWriterValidateRejectsCorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.jsonl")
	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	if err := writer.Write([]*models.Product{sampleProduct()}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("{not json\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	if err := writer.Validate(); err == nil {
		t.Fatal("expected validation error for corrupt line")
	}
}
