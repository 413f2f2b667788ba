// Package archive writes aggregate bars to Parquet files, one file per
// granularity and bucket day.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/models"
)

// ParquetSink archives bars under dir/<granularity>/<granularity>_<day>.parquet.
// It is safe for concurrent use; a second batch for the same day gets a
// numbered suffix instead of overwriting the first.
type ParquetSink struct {
	dir string

	mu    sync.Mutex
	files map[string]int
}

// NewParquetSink creates the archive root if needed.
func NewParquetSink(dir string) (*ParquetSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive dir: %w", err)
	}
	return &ParquetSink{dir: dir, files: make(map[string]int)}, nil
}

// WriteBars writes one batch of bars, grouped by granularity.
func (s *ParquetSink) WriteBars(ctx context.Context, bars []*models.AggregateBar) error {
	groups := make(map[models.Granularity][]models.AggregateBar)
	for _, b := range bars {
		groups[b.Granularity] = append(groups[b.Granularity], *b)
	}
	for g, rows := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].MarketID != rows[j].MarketID {
				return rows[i].MarketID < rows[j].MarketID
			}
			return rows[i].StartMs < rows[j].StartMs
		})
		path, err := s.path(g, rows[0].StartMs)
		if err != nil {
			return err
		}
		if err := parquet.WriteFile(path, rows); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		logger.Debug("archived %d %s bars to %s", len(rows), g, path)
	}
	return nil
}

// Files returns the archived file paths, sorted.
func (s *ParquetSink) Files() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "*", "*.parquet"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (s *ParquetSink) path(g models.Granularity, startMs int64) (string, error) {
	dir := filepath.Join(s.dir, string(g))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive dir: %w", err)
	}
	day := time.UnixMilli(startMs).UTC().Format("2006-01-02")
	name := fmt.Sprintf("%s_%s", g, day)

	s.mu.Lock()
	n := s.files[name]
	s.files[name] = n + 1
	s.mu.Unlock()

	if n > 0 {
		name = fmt.Sprintf("%s_%d", name, n)
	}
	return filepath.Join(dir, name+".parquet"), nil
}

// ReadBars loads an archived file.
func ReadBars(path string) ([]models.AggregateBar, error) {
	rows, err := parquet.ReadFile[models.AggregateBar](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return rows, nil
}
