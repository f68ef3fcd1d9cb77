package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"ts-data/internal/model"
)

const singleSuffix = "_1min.parquet"

// singleFile keeps each symbol's whole history in {dir}/{name}_1min.parquet.
type singleFile struct {
	store
}

func (s *singleFile) Format() Format { return FormatSingle }

func (s *singleFile) path(symbol string) string {
	return filepath.Join(s.dir, s.name(symbol)+singleSuffix)
}

// Save writes the normalized series. An empty series writes nothing.
func (s *singleFile) Save(symbol string, bars model.Series) error {
	bars = model.Normalize(bars)
	if len(bars) == 0 {
		return nil
	}
	if err := s.write(s.path(symbol), bars); err != nil {
		return fmt.Errorf("save %s: %w", symbol, err)
	}
	s.logger.Debug("saved", "symbol", symbol, "bars", len(bars))
	return nil
}

func (s *singleFile) Load(symbol string) (model.Series, error) {
	p := s.path(symbol)
	if ok, err := exists(p); err != nil || !ok {
		return nil, err
	}
	return s.readAll(symbol, []string{p}), nil
}

func (s *singleFile) ListSymbols() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+singleSuffix))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		if sym, ok := s.symbolFromName(strings.TrimSuffix(filepath.Base(m), singleSuffix)); ok {
			out = append(out, sym)
		}
	}
	return sortedUnique(out), nil
}

func (s *singleFile) FileSize(symbol string) (int64, error) {
	return totalSize([]string{s.path(symbol)})
}
