package app

import (
	"log/slog"
	"net/http"
	"time"

	"ts-data/internal/auth"
	"ts-data/internal/crawl"
	"ts-data/internal/provider"
	"ts-data/internal/provider/tradestation"
	"ts-data/internal/slogx"
	"ts-data/internal/storage"
)

// ProvideLogger builds the process logger (for Wire). The cleanup closes the log file.
func ProvideLogger(cfg *Config) (*slog.Logger, func()) {
	logger, closeFn := slogx.New(cfg.LogLevel, cfg.LogFile)
	slog.SetDefault(logger)
	return logger, func() { _ = closeFn() }
}

// ProvideHTTPClient returns the client shared by the token provider and the fetcher.
func ProvideHTTPClient() *http.Client {
	return tradestation.NewHTTPClient()
}

// ProvideTokenProvider creates the OAuth refresh-token provider (for Wire).
func ProvideTokenProvider(cfg *Config, client *http.Client, logger *slog.Logger) *auth.Provider {
	return auth.NewProvider(auth.Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RefreshToken: cfg.RefreshToken,
		TokenURL:     cfg.TokenURL,
	}, client, logger)
}

// ProvideFetcher creates the barcharts fetcher (for Wire).
func ProvideFetcher(cfg *Config, client *http.Client, tokens *auth.Provider, logger *slog.Logger) *tradestation.Fetcher {
	return tradestation.NewFetcher(client, tokens, tradestation.Options{
		BaseURL:           cfg.BaseURL,
		MaxBarsPerRequest: cfg.MaxBarsPerRequest,
		RateLimitDelay:    cfg.RateLimitDelay,
		MaxRetries:        cfg.MaxRetries,
	}, logger)
}

// ProvideDataProvider wraps the fetcher as a DataProvider (for Wire).
// The cleanup releases idle connections.
func ProvideDataProvider(f *tradestation.Fetcher) (provider.DataProvider, func()) {
	p := provider.NewTradeStationProvider(f)
	return p, func() { _ = p.Close() }
}

// ProvideStorage opens the storage backend. "auto" picks the layout found in DataDir.
func ProvideStorage(cfg *Config, logger *slog.Logger) (storage.Backend, error) {
	format, err := ResolveFormat(cfg)
	if err != nil {
		return nil, err
	}
	compression, err := storage.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, &ConfigError{Field: "storage.compression", Msg: err.Error()}
	}
	logger.Info("storage", "format", format.String(), "compression", string(compression),
		"datetime_index", cfg.DatetimeIndex, "dir", cfg.DataDir)
	return storage.New(format, cfg.DataDir, storage.Options{
		Compression:   compression,
		DatetimeIndex: cfg.DatetimeIndex,
		Logger:        logger,
	})
}

// ResolveFormat returns the configured layout, detecting it for "auto".
func ResolveFormat(cfg *Config) (storage.Format, error) {
	if cfg.StorageFormat == FormatAuto || cfg.StorageFormat == "" {
		return storage.Detect(cfg.DataDir), nil
	}
	f, err := storage.ParseFormat(cfg.StorageFormat)
	if err != nil {
		return 0, &ConfigError{Field: "storage.format", Msg: err.Error()}
	}
	return f, nil
}

// ProvideDownloader creates the orchestrator (for Wire).
func ProvideDownloader(cfg *Config, dp provider.DataProvider, store storage.Backend, logger *slog.Logger) (*crawl.Downloader, error) {
	start, err := cfg.Start()
	if err != nil {
		return nil, &ConfigError{Field: "start_date", Msg: err.Error()}
	}
	logger.Info("wire", "provider", dp.GetName(), "workers", cfg.Workers, "start", start.Format(time.DateOnly))
	return crawl.NewDownloader(dp, store, crawl.Options{
		StartDate:   start,
		Workers:     cfg.Workers,
		SymbolDelay: cfg.SymbolDelay,
		ReportDir:   cfg.DataDir,
	}, logger), nil
}
