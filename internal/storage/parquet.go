package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"ts-data/internal/model"
)

const (
	indexColumnsKey = "index_columns"
	datetimeColumn  = "datetime"
)

// barRow is the on-disk row. datetime is epoch milliseconds, UTC.
type barRow struct {
	Datetime int64   `parquet:"datetime,timestamp(millisecond)"`
	Open     float64 `parquet:"open"`
	High     float64 `parquet:"high"`
	Low      float64 `parquet:"low"`
	Close    float64 `parquet:"close"`
	Volume   int64   `parquet:"volume"`
}

// CorruptPartitionError reports a partition file that could not be decoded.
type CorruptPartitionError struct {
	Path string
	Err  error
}

func (e *CorruptPartitionError) Error() string {
	return fmt.Sprintf("corrupt partition %s: %v", e.Path, e.Err)
}

func (e *CorruptPartitionError) Unwrap() error { return e.Err }

func toRows(bars model.Series) []barRow {
	rows := make([]barRow, len(bars))
	for i, b := range bars {
		rows[i] = barRow{
			Datetime: b.Time.UnixMilli(),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   b.Volume,
		}
	}
	return rows
}

func fromRows(rows []barRow) model.Series {
	bars := make(model.Series, len(rows))
	for i, r := range rows {
		bars[i] = model.Bar{
			Time:   time.UnixMilli(r.Datetime).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
	}
	return bars
}

// writePartition replaces path with bars. The file is written next to its target
// and renamed into place, so readers see either the old or the new content.
func writePartition(path string, bars model.Series, codec compress.Codec, index bool) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	opts := []parquet.WriterOption{parquet.Compression(codec)}
	if index {
		opts = append(opts,
			parquet.SortingWriterConfig(parquet.SortingColumns(parquet.Ascending(datetimeColumn))),
			parquet.KeyValueMetadata(indexColumnsKey, datetimeColumn),
		)
	}
	w := parquet.NewGenericWriter[barRow](tmp, opts...)
	if _, err = w.Write(toRows(bars)); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// readPartition decodes one partition file. Decode failures come back as
// *CorruptPartitionError.
func readPartition(path string) (bars model.Series, err error) {
	defer func() {
		if r := recover(); r != nil {
			bars, err = nil, &CorruptPartitionError{Path: path, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	rows, err := parquet.ReadFile[barRow](path)
	if err != nil {
		return nil, &CorruptPartitionError{Path: path, Err: err}
	}
	return fromRows(rows), nil
}
