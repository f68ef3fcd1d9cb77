package main

import (
	"log/slog"

	"ts-data/internal/app"
	"ts-data/internal/crawl"
	"ts-data/internal/storage"
)

// App holds application dependencies built by Wire.
type App struct {
	Config     *app.Config
	Logger     *slog.Logger
	Store      storage.Backend
	Downloader *crawl.Downloader
}
