package app

import (
	"fmt"
	"log/slog"

	"ts-data/internal/provider/tradestation"
)

// ResolveSymbols merges the configured symbols with the symbols file, if any.
// The result is upper-cased and de-duplicated in order of appearance.
func ResolveSymbols(cfg *Config, logger *slog.Logger) ([]string, error) {
	symbols := append([]string(nil), cfg.Symbols...)
	if cfg.SymbolsFile != "" {
		fromFile, err := tradestation.LoadSymbolsFromFile(cfg.SymbolsFile)
		if err != nil {
			return nil, fmt.Errorf("symbols file: %w", err)
		}
		logger.Info("loaded symbols from file", "count", len(fromFile), "path", cfg.SymbolsFile)
		symbols = append(symbols, fromFile...)
	}
	return tradestation.UniqueSymbols(symbols), nil
}
