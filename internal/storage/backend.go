// Package storage persists bar series as parquet files under one of three
// layouts: a single file per symbol, or Hive-style daily or monthly partitions.
package storage

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"ts-data/internal/model"
)

// indexSuffix marks datasets written with the datetime sorting index.
const indexSuffix = "_index_1"

// Backend persists and loads a symbol's series under one layout.
// Load returns a nil series and nil error when the symbol has nothing on disk.
type Backend interface {
	Save(symbol string, bars model.Series) error
	Load(symbol string) (model.Series, error)
	ListSymbols() ([]string, error)
	FileSize(symbol string) (int64, error)
	Format() Format
}

// Options tunes file encoding. Zero value: zstd, no datetime index, default logger.
type Options struct {
	Compression   Compression
	DatetimeIndex bool
	Logger        *slog.Logger
}

// New creates the backend for format rooted at dataDir, creating the directory.
func New(format Format, dataDir string, opts Options) (Backend, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if opts.Compression == "" {
		opts.Compression = CompressionZstd
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := store{
		dir:    dataDir,
		opts:   opts,
		logger: opts.Logger.With("storage", format.String()),
	}
	switch format {
	case FormatSingle:
		return &singleFile{store: s}, nil
	case FormatDaily:
		return &partitioned{store: s, scheme: dailyScheme}, nil
	case FormatMonthly:
		return &partitioned{store: s, scheme: monthlyScheme}, nil
	default:
		return nil, fmt.Errorf("unsupported storage format %v", format)
	}
}

// CleanSymbol makes a symbol safe as a path element: "@ES" -> "ES", "EUR/USD" -> "EUR_USD".
func CleanSymbol(symbol string) string {
	return strings.ReplaceAll(strings.ReplaceAll(symbol, "@", ""), "/", "_")
}

type store struct {
	dir    string
	opts   Options
	logger *slog.Logger
}

// name is the on-disk dataset name of symbol.
func (s store) name(symbol string) string {
	n := CleanSymbol(symbol)
	if s.opts.DatetimeIndex {
		n += indexSuffix
	}
	return n
}

// symbolFromName reverses name, reporting false for datasets written in the other index mode.
func (s store) symbolFromName(n string) (string, bool) {
	indexed := strings.HasSuffix(n, indexSuffix)
	if indexed != s.opts.DatetimeIndex {
		return "", false
	}
	return strings.TrimSuffix(n, indexSuffix), true
}

func (s store) write(path string, bars model.Series) error {
	return writePartition(path, bars, s.opts.Compression.codec(), s.opts.DatetimeIndex)
}

// readAll loads paths in order, skipping corrupt ones. It returns nil when
// no file could be read.
func (s store) readAll(symbol string, paths []string) model.Series {
	var (
		acc  model.Series
		read int
	)
	for _, p := range paths {
		bars, err := readPartition(p)
		if err != nil {
			s.logger.Warn("skipping unreadable partition", "symbol", symbol, "error", err)
			continue
		}
		read++
		acc = append(acc, bars...)
	}
	if read == 0 {
		return nil
	}
	if read < len(paths) {
		s.logger.Warn("partial load", "symbol", symbol, "partitions", len(paths), "read", read)
	}
	return model.Normalize(acc)
}

func totalSize(paths []string) (int64, error) {
	var total int64
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += fi.Size()
	}
	return total, nil
}

func sortedUnique(names []string) []string {
	sort.Strings(names)
	out := names[:0]
	for i, n := range names {
		if i == 0 || n != names[i-1] {
			out = append(out, n)
		}
	}
	return out
}
