// Package data provides price series storage and loading.
package data

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atlas-desktop/forecasting-studio/pkg/types"
	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither CSV nor Parquet.
	ErrUnsupportedFormat = errors.New("unsupported data format")
	// ErrMissingColumn is returned when a CSV lacks the timestamp or close column.
	ErrMissingColumn = errors.New("CSV must contain 'timestamp' and 'close' columns")
	// ErrInvalidRow is returned when a row cannot be parsed.
	ErrInvalidRow = errors.New("invalid row")
)

const (
	// UploadFilename is the name uploads are persisted under in the data dir.
	UploadFilename = "uploaded.csv"

	timestampColumn = "timestamp"
	closeColumn     = "close"
	previewRows     = 5
)

// priceRecord is the Parquet row layout of a price series.
type priceRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Close     float64 `parquet:"close"`
}

// Table is a parsed CSV file.
type Table struct {
	Series  types.PriceSeries
	Columns []string
	// Head holds up to the first five rows in file order, keyed by column.
	Head []map[string]any
}

// Store loads price series from local files and persists uploads.
type Store struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	dataDir   string
	cache     map[string]cachedSeries
	validator *QualityValidator
}

type cachedSeries struct {
	modTime time.Time
	size    int64
	series  types.PriceSeries
}

// NewStore creates a new data store
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &Store{
		logger:    logger,
		dataDir:   abs,
		cache:     make(map[string]cachedSeries),
		validator: NewQualityValidator(logger),
	}, nil
}

// DataDir returns the absolute data directory.
func (s *Store) DataDir() string {
	return s.dataDir
}

// Resolve maps a caller-supplied path to a file. Relative paths are tried
// against the working directory, then the data directory. If neither exists
// the path is returned unchanged so the open error names what was asked for.
func (s *Store) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	if wd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(wd, path)
		if fileExists(candidate) {
			return candidate
		}
	}

	candidate := filepath.Join(s.dataDir, path)
	if fileExists(candidate) {
		return candidate
	}
	return path
}

// LoadSeries resolves path and loads a price series from a .csv or .parquet
// file, sorted ascending by timestamp. Unchanged files are served from cache.
func (s *Store) LoadSeries(ctx context.Context, path string) (types.PriceSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resolved := s.Resolve(path)
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}

	s.mu.RLock()
	cached, ok := s.cache[resolved]
	s.mu.RUnlock()
	if ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		return cached.series, nil
	}

	var series types.PriceSeries
	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".csv":
		series, err = s.loadCSV(resolved)
	case ".parquet":
		series, err = s.loadParquet(resolved)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(resolved))
	}
	if err != nil {
		return nil, err
	}

	if report := s.validator.Validate(series); len(report.Issues) > 0 {
		s.logger.Warn("Data quality issues",
			zap.String("path", resolved),
			zap.Int("issues", len(report.Issues)),
			zap.Int("score", report.QualityScore),
		)
	}

	s.mu.Lock()
	s.cache[resolved] = cachedSeries{modTime: info.ModTime(), size: info.Size(), series: series}
	s.mu.Unlock()

	s.logger.Info("Loaded price series",
		zap.String("path", resolved),
		zap.Int("rows", len(series)),
	)
	return series, nil
}

func (s *Store) loadCSV(path string) (types.PriceSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	defer f.Close()

	table, err := ParseCSV(f)
	if err != nil {
		return nil, err
	}
	return table.Series, nil
}

func (s *Store) loadParquet(path string) (types.PriceSeries, error) {
	rows, err := parquet.ReadFile[priceRecord](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet file: %w", err)
	}

	series := make(types.PriceSeries, len(rows))
	for i, r := range rows {
		series[i] = types.PricePoint{Timestamp: time.UnixMilli(r.Timestamp).UTC(), Close: r.Close}
	}
	sortSeries(series)
	return series, nil
}

// SaveUpload validates content as a price CSV and writes it to
// <data dir>/uploaded.csv, replacing any previous upload.
func (s *Store) SaveUpload(content []byte) (string, *Table, error) {
	table, err := ParseCSV(bytes.NewReader(content))
	if err != nil {
		return "", nil, err
	}

	path := filepath.Join(s.dataDir, UploadFilename)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", nil, fmt.Errorf("failed to save upload: %w", err)
	}

	s.logger.Info("Saved upload",
		zap.String("path", path),
		zap.Int("rows", len(table.Series)),
	)
	return path, table, nil
}

// SaveParquet writes series to path as Parquet.
func (s *Store) SaveParquet(path string, series types.PriceSeries) error {
	records := make([]priceRecord, len(series))
	for i, p := range series {
		records[i] = priceRecord{Timestamp: p.Timestamp.UnixMilli(), Close: p.Close}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return fmt.Errorf("failed to write parquet file: %w", err)
	}
	return nil
}

// Validate runs the quality checks on series.
func (s *Store) Validate(series types.PriceSeries) *QualityReport {
	return s.validator.Validate(series)
}

// ClearCache clears the in-memory cache
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]cachedSeries)
}

// GetCacheSize returns the number of cached series
func (s *Store) GetCacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// ParseCSV reads a CSV with a header row containing at least "timestamp" and
// "close" columns. Other columns are kept only in the preview rows.
func ParseCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrMissingColumn
		}
		return nil, fmt.Errorf("failed to parse CSV header: %w", err)
	}

	columns := make([]string, len(header))
	tsIdx, closeIdx := -1, -1
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		columns[i] = h
		switch h {
		case timestampColumn:
			tsIdx = i
		case closeColumn:
			closeIdx = i
		}
	}
	if tsIdx < 0 || closeIdx < 0 {
		return nil, ErrMissingColumn
	}

	table := &Table{Columns: columns}
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV: %w", err)
		}
		if len(rec) <= tsIdx || len(rec) <= closeIdx {
			return nil, fmt.Errorf("%w: line %d has %d fields", ErrInvalidRow, line, len(rec))
		}

		ts, err := ParseTimestamp(rec[tsIdx])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidRow, line, err)
		}
		closePrice, err := decimal.NewFromString(strings.TrimSpace(rec[closeIdx]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: invalid close %q", ErrInvalidRow, line, rec[closeIdx])
		}

		table.Series = append(table.Series, types.PricePoint{
			Timestamp: ts,
			Close:     closePrice.InexactFloat64(),
		})
		if len(table.Head) < previewRows {
			table.Head = append(table.Head, previewRow(columns, rec, tsIdx, ts))
		}
	}

	sortSeries(table.Series)
	return table, nil
}

// ParseTimestamp parses RFC3339, date-only, "YYYY-MM-DD HH:MM:SS" and the
// other layouts cast understands, plus Unix seconds or milliseconds. Values
// without a zone are UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	if epoch, err := cast.ToInt64E(raw); err == nil && !strings.ContainsAny(raw, "-:/") {
		if epoch > 1e11 || epoch < -1e11 {
			return time.UnixMilli(epoch).UTC(), nil
		}
		return time.Unix(epoch, 0).UTC(), nil
	}

	ts, err := cast.ToTimeInDefaultLocationE(raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
	}
	return ts.UTC(), nil
}

// previewRow converts one record to a map, with numeric cells as numbers and
// the timestamp normalised.
func previewRow(columns, rec []string, tsIdx int, ts time.Time) map[string]any {
	row := make(map[string]any, len(columns))
	for i, col := range columns {
		if i >= len(rec) {
			row[col] = nil
			continue
		}
		if i == tsIdx {
			row[col] = ts.Format(types.TimestampLayout)
			continue
		}
		if v, err := cast.ToFloat64E(strings.TrimSpace(rec[i])); err == nil {
			row[col] = v
			continue
		}
		row[col] = rec[i]
	}
	return row
}

func sortSeries(series types.PriceSeries) {
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].Timestamp.Before(series[j].Timestamp)
	})
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
