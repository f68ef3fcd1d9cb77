package crawl

import (
	"context"
	"log/slog"
	"time"

	"ts-data/internal/model"
)

// collector is the single consumer of worker outcomes and the only writer of
// the session, results and report.
type collector struct {
	sess    *Session
	logger  *slog.Logger
	results map[string]model.Series
	report  runReport
	fatal   error
}

func newCollector(sess *Session, logger *slog.Logger) *collector {
	return &collector{sess: sess, logger: logger, results: make(map[string]model.Series)}
}

func (c *collector) run(outcomes <-chan outcome) {
	for o := range outcomes {
		c.sess.record(o)
		c.report.add(o)
		if o.series != nil {
			c.results[o.symbol] = o.series
		}
		switch o.status {
		case statusOK:
			c.logger.Info("symbol done", "symbol", o.symbol, "new_bars", o.newBars, "total_bars", len(o.series))
		case statusSkipped:
			c.logger.Info("symbol skipped", "symbol", o.symbol, "reason", o.reason)
		case statusFailed:
			c.logger.Error("symbol failed", "symbol", o.symbol, "reason", o.reason)
			if c.fatal == nil && isFatal(o.err) {
				c.fatal = o.err
				c.logger.Error("authentication failed, stopping run", "error", o.err)
			}
		}
	}
}

func runHeartbeat(ctx context.Context, interval time.Duration, total int, sess *Session, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := sess.Stats()
			logger.Info("heartbeat", "done", st.Processed+st.Skipped+st.Errors, "total", total,
				"processed", st.Processed, "skipped", st.Skipped, "errors", st.Errors,
				"bars", st.BarsDownloaded, "elapsed", sess.Elapsed().Round(time.Second).String())
		}
	}
}

func logSummary(logger *slog.Logger, sess *Session, report runReport) {
	logger.Info("summary",
		"processed", sess.Processed,
		"skipped", sess.Skipped,
		"errors", sess.Errors,
		"bars_downloaded", sess.BarsDownloaded,
		"elapsed", sess.Elapsed().Round(time.Millisecond).String())
	if len(report.Failed) > 0 {
		logger.Info("summary failed", "count", len(report.Failed), "reasons", joinFailedReasons(report.Failed))
	}
}
