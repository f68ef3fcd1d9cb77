package tradestation

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LoadSymbolsFromFile reads a list of symbols from a file.
// Supported formats:
//   - .txt  : one symbol per line, '#' lines are treated as comments
//   - .json : JSON array of strings
func LoadSymbolsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file %s: %w", path, err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var symbols []string

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(content, &symbols); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	case ".txt":
		symbols = parseSymbolsFromText(string(content))
	default:
		return nil, fmt.Errorf("unsupported symbol file extension %q (use .txt or .json)", filepath.Ext(path))
	}

	return UniqueSymbols(symbols), nil
}

// UniqueSymbols upper-cases, trims and removes empty and duplicate symbols, keeping order.
func UniqueSymbols(symbols []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range symbols {
		s = strings.TrimSpace(strings.ToUpper(s))
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// parseSymbolsFromText parses a plain text representation of symbols
// where each non-empty, non-comment line represents a symbol.
// Trailing "# comment" parts are dropped.
func parseSymbolsFromText(s string) []string {
	lines := strings.Split(s, "\n")
	var symbols []string
	for _, line := range lines {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			symbols = append(symbols, line)
		}
	}
	return symbols
}
