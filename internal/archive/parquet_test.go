package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rewired-gh/seismo/internal/models"
)

var day0 = time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

func bar(market string, g models.Granularity, start time.Time, open, close float64) *models.AggregateBar {
	return &models.AggregateBar{
		MarketID:    market,
		EventID:     "e1",
		Granularity: g,
		StartMs:     start.UnixMilli(),
		EndMs:       start.Add(g.Duration()).UnixMilli(),
		Open:        open,
		High:        max(open, close),
		Low:         min(open, close),
		Close:       close,
		Volume:      100,
		USDVolume:   50,
	}
}

func TestParquetSink_WriteAndRead(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewParquetSink(dir)
	if err != nil {
		t.Fatalf("NewParquetSink: %v", err)
	}
	ctx := context.Background()

	bars := []*models.AggregateBar{
		bar("m2", models.GranularityHour, day0.Add(time.Hour), 0.4, 0.5),
		bar("m1", models.GranularityHour, day0.Add(2*time.Hour), 0.6, 0.55),
		bar("m1", models.GranularityHour, day0.Add(time.Hour), 0.5, 0.6),
		bar("m1", models.GranularityDay, day0, 0.5, 0.55),
	}
	if err := sink.WriteBars(ctx, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	files, err := sink.Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	want := []string{
		filepath.Join(dir, "day", "day_2026-03-04.parquet"),
		filepath.Join(dir, "hour", "hour_2026-03-04.parquet"),
	}
	if len(files) != len(want) || files[0] != want[0] || files[1] != want[1] {
		t.Fatalf("files = %v, want %v", files, want)
	}

	rows, err := ReadBars(want[1])
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0].MarketID != "m1" || rows[0].StartMs != day0.Add(time.Hour).UnixMilli() || rows[2].MarketID != "m2" {
		t.Errorf("rows not ordered by market, start: %+v", rows)
	}
	if rows[0].Granularity != models.GranularityHour || rows[0].Close != 0.6 || rows[0].USDVolume != 50 {
		t.Errorf("row round trip = %+v", rows[0])
	}
}

func TestParquetSink_SameDayDoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewParquetSink(dir)
	if err != nil {
		t.Fatalf("NewParquetSink: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := sink.WriteBars(ctx, []*models.AggregateBar{bar("m1", models.GranularityHour, day0, 0.5, 0.5)}); err != nil {
			t.Fatalf("WriteBars: %v", err)
		}
	}
	files, _ := sink.Files()
	if len(files) != 2 {
		t.Errorf("files = %v, want two distinct files", files)
	}
}
