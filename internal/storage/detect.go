package storage

import (
	"os"
	"path/filepath"
	"strings"
)

// Detect infers the layout already used under dataDir from its first symbol
// directory with partitions. A missing or empty directory is FormatSingle.
func Detect(dataDir string) Format {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return FormatSingle
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		dir := filepath.Join(dataDir, e.Name())
		switch {
		case hasMatch(dir, "year=*/month=*/day=*"):
			return FormatDaily
		case hasMatch(dir, "year_month=*"):
			return FormatMonthly
		case hasMatch(dir, "year=*/month=*"):
			return FormatMonthly
		}
	}
	return FormatSingle
}

func hasMatch(dir, pattern string) bool {
	m, err := filepath.Glob(filepath.Join(dir, filepath.FromSlash(pattern)))
	return err == nil && len(m) > 0
}
