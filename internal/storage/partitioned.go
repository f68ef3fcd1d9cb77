package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"ts-data/internal/model"
)

// partitionScheme describes a Hive-style partitioned layout.
type partitionScheme struct {
	format Format
	// partDir is the partition directory of t relative to the symbol directory.
	partDir func(t time.Time) string
	// fileName is the partition file name inside partDir.
	fileName func(name string) string
	// globs match partition files relative to the symbol directory.
	globs []string
}

var dailyScheme = partitionScheme{
	format: FormatDaily,
	partDir: func(t time.Time) string {
		return fmt.Sprintf("year=%04d/month=%02d/day=%02d", t.Year(), int(t.Month()), t.Day())
	},
	fileName: func(name string) string { return name + ".parquet" },
	globs:    []string{"year=*/month=*/day=*/*.parquet"},
}

var monthlyScheme = partitionScheme{
	format: FormatMonthly,
	partDir: func(t time.Time) string {
		return fmt.Sprintf("year_month=%04d-%02d", t.Year(), int(t.Month()))
	},
	fileName: func(string) string { return "data-0.parquet" },
	// year=YYYY/month=MM is the older monthly layout; it is read but never written.
	globs: []string{"year_month=*/*.parquet", "year=*/month=*/*.parquet"},
}

// partitioned writes one file per UTC calendar day or month.
type partitioned struct {
	store
	scheme partitionScheme
}

func (p *partitioned) Format() Format { return p.scheme.format }

func (p *partitioned) symbolDir(symbol string) string {
	return filepath.Join(p.dir, p.name(symbol))
}

// Save groups the normalized series by partition and rewrites every partition it touches.
// Partitions outside the series are left alone.
func (p *partitioned) Save(symbol string, bars model.Series) error {
	bars = model.Normalize(bars)
	if len(bars) == 0 {
		return nil
	}
	dir := p.symbolDir(symbol)
	file := p.scheme.fileName(p.name(symbol))

	written := 0
	for start := 0; start < len(bars); {
		key := p.scheme.partDir(bars[start].Time)
		end := start + 1
		for end < len(bars) && p.scheme.partDir(bars[end].Time) == key {
			end++
		}
		path := filepath.Join(dir, filepath.FromSlash(key), file)
		if err := p.write(path, bars[start:end]); err != nil {
			return fmt.Errorf("save %s partition %s: %w", symbol, key, err)
		}
		written++
		start = end
	}
	p.logger.Debug("saved", "symbol", symbol, "bars", len(bars), "partitions", written)
	return nil
}

func (p *partitioned) Load(symbol string) (model.Series, error) {
	files, err := p.files(symbol)
	if err != nil || len(files) == 0 {
		return nil, err
	}
	return p.readAll(symbol, files), nil
}

func (p *partitioned) files(symbol string) ([]string, error) {
	return globAll(p.symbolDir(symbol), p.scheme.globs)
}

func (p *partitioned) ListSymbols() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sym, ok := p.symbolFromName(e.Name())
		if !ok {
			continue
		}
		files, err := globAll(filepath.Join(p.dir, e.Name()), p.scheme.globs)
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			out = append(out, sym)
		}
	}
	return sortedUnique(out), nil
}

func (p *partitioned) FileSize(symbol string) (int64, error) {
	files, err := p.files(symbol)
	if err != nil {
		return 0, err
	}
	return totalSize(files)
}

// globAll returns the sorted, de-duplicated matches of patterns under root.
func globAll(root string, patterns []string) ([]string, error) {
	var out []string
	for _, pat := range patterns {
		m, err := filepath.Glob(filepath.Join(root, filepath.FromSlash(pat)))
		if err != nil {
			return nil, err
		}
		out = append(out, m...)
	}
	return sortedUnique(out), nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
