package app

import (
	"context"
	"log/slog"
	"time"

	"ts-data/internal/crawl"
	"ts-data/internal/model"
)

// Downloader is the part of crawl.Downloader the run loop needs.
type Downloader interface {
	DownloadAll(ctx context.Context, symbols []string, incremental bool) (map[string]model.Series, *crawl.Session, error)
}

// RunFlow runs one download. With cfg.Watch it then waits for the next
// scheduled time (UTC) and runs again until ctx is done. It returns the last
// session and any run-level error; cancellation of ctx is not an error.
func RunFlow(ctx context.Context, cfg *Config, d Downloader, symbols []string, logger *slog.Logger) (*crawl.Session, error) {
	var last *crawl.Session
	for {
		_, sess, err := d.DownloadAll(ctx, symbols, !cfg.FullRefresh)
		if sess != nil {
			last = sess
		}
		if err != nil {
			return last, err
		}
		if !cfg.Watch || ctx.Err() != nil {
			return last, nil
		}

		nextRun := nextRunTime(cfg, time.Now().UTC())
		waitDur := time.Until(nextRun)
		logger.Info("done, wait until next run", "hours", waitDur.Hours(), "until", nextRun.Format("2006-01-02 15:04"))
		timer := time.NewTimer(waitDur)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("stopping", "restart_at", nextRun.Format("2006-01-02 15:04"))
			return last, nil
		case <-timer.C:
		}
	}
}

func nextRunTime(cfg *Config, now time.Time) time.Time {
	hour, min := cfg.ScheduleHour, cfg.ScheduleMinute
	targetToday := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, time.UTC)
	if now.Before(targetToday) {
		return targetToday
	}
	tomorrow := now.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), hour, min, 0, 0, time.UTC)
}
