// Package crawl drives incremental downloads across many symbols:
// load what is stored, fetch what is missing, merge and save back.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ts-data/internal/auth"
	"ts-data/internal/model"
	"ts-data/internal/provider"
	"ts-data/internal/storage"
)

var (
	// ErrNoSymbols is returned by DownloadAll for an empty symbol list.
	ErrNoSymbols = errors.New("no symbols to download")

	// ErrNoData marks a symbol for which nothing is stored and the API returned nothing.
	ErrNoData = errors.New("no data")
)

const defaultHeartbeat = 30 * time.Second

// Options configures a Downloader.
type Options struct {
	StartDate         time.Time     // earliest bar to request when nothing is stored
	Workers           int           // <= 1 runs symbols one at a time
	SymbolDelay       time.Duration // pause between symbols in sequential mode
	HeartbeatInterval time.Duration
	ReportDir         string // run report destination; empty disables it
}

// Downloader runs load -> fetch -> merge -> save for each symbol.
type Downloader struct {
	provider provider.DataProvider
	store    storage.Backend
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

func NewDownloader(dp provider.DataProvider, store storage.Backend, opts Options, logger *slog.Logger) *Downloader {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{provider: dp, store: store, opts: opts, logger: logger, now: time.Now, sleep: sleepCtx}
}

type status int

const (
	statusOK status = iota
	statusSkipped
	statusFailed
)

// outcome is what a worker reports to the collector for one symbol.
type outcome struct {
	symbol  string
	status  status
	start   time.Time
	newBars int
	series  model.Series // merged series, or the stored one when up to date
	reason  string
	err     error
}

func skipped(symbol, reason string) outcome {
	return outcome{symbol: symbol, status: statusSkipped, reason: reason}
}

func failed(symbol string, start time.Time, err error) outcome {
	return outcome{symbol: symbol, status: statusFailed, start: start, reason: err.Error(), err: err}
}

// DownloadAll downloads every symbol and returns the resulting series of the
// symbols that succeeded or were already up to date. Per-symbol failures are
// counted in the Session and do not stop the run. A token refresh failure
// stops dispatching and is returned together with the partial results.
// Canceling ctx also stops dispatching; symbols not yet started count as skipped.
func (d *Downloader) DownloadAll(ctx context.Context, symbols []string, incremental bool) (map[string]model.Series, *Session, error) {
	if len(symbols) == 0 {
		return nil, nil, ErrNoSymbols
	}
	sess := newSession(d.now())
	logger := d.logger.With("run_id", sess.RunID)
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	workers := min(d.opts.Workers, len(symbols))
	logger.Info("download started", "symbols", len(symbols), "workers", workers,
		"incremental", incremental, "storage", d.store.Format().String())

	outcomes := make(chan outcome, len(symbols))
	col := newCollector(sess, logger)
	var colWg sync.WaitGroup
	colWg.Add(1)
	go func() {
		defer colWg.Done()
		col.run(outcomes)
	}()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go runHeartbeat(hbCtx, d.opts.HeartbeatInterval, len(symbols), sess, logger)

	r := &run{ctx: ctx, cancel: cancel, incremental: incremental, out: outcomes, logger: logger}
	if workers <= 1 {
		d.runSequential(r, symbols)
	} else {
		d.runParallel(r, workers, symbols)
	}
	close(outcomes)
	colWg.Wait()
	stopHeartbeat()
	sess.finish(d.now())

	logSummary(logger, sess, col.report)
	if d.opts.ReportDir != "" && !col.report.empty() {
		if err := writeRunReport(d.opts.ReportDir, col.report); err != nil {
			logger.Warn("could not write run report", "error", err)
		}
	}
	return col.results, sess, col.fatal
}

// run is the per-call state shared by the workers of one DownloadAll.
type run struct {
	ctx         context.Context
	cancel      context.CancelCauseFunc
	incremental bool
	out         chan<- outcome
	logger      *slog.Logger
}

// handle processes symbol and reports its outcome. An authentication failure
// cancels the run before the outcome is reported.
func (d *Downloader) handle(r *run, symbol string) {
	o := d.process(r.ctx, symbol, r.incremental, r.logger)
	if o.status == statusFailed && isFatal(o.err) {
		r.cancel(o.err)
	}
	r.out <- o
}

func (d *Downloader) runSequential(r *run, symbols []string) {
	for i, sym := range symbols {
		if i > 0 && d.opts.SymbolDelay > 0 {
			_ = d.sleep(r.ctx, d.opts.SymbolDelay)
		}
		if r.ctx.Err() != nil {
			skipRemaining(symbols[i:], r.out)
			return
		}
		d.handle(r, sym)
	}
}

func (d *Downloader) runParallel(r *run, workers int, symbols []string) {
	jobs := make(chan string)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for sym := range jobs {
				d.handle(r, sym)
			}
		}()
	}

dispatch:
	for i, sym := range symbols {
		select {
		case <-r.ctx.Done():
			skipRemaining(symbols[i:], r.out)
			break dispatch
		case jobs <- sym:
		}
	}
	close(jobs)
	wg.Wait()
}

func skipRemaining(symbols []string, out chan<- outcome) {
	for _, sym := range symbols {
		out <- skipped(sym, "canceled")
	}
}

// process handles one symbol end to end. Panics become failed outcomes.
func (d *Downloader) process(ctx context.Context, symbol string, incremental bool, logger *slog.Logger) (o outcome) {
	start := d.opts.StartDate.UTC()
	defer func() {
		if r := recover(); r != nil {
			o = failed(symbol, start, fmt.Errorf("panic: %v", r))
		}
	}()
	if ctx.Err() != nil {
		return skipped(symbol, "canceled")
	}

	var prior model.Series
	if incremental {
		stored, err := d.store.Load(symbol)
		if err != nil {
			return failed(symbol, start, fmt.Errorf("load: %w", err))
		}
		prior = stored
		if last, ok := prior.Last(); ok {
			if next := last.Add(time.Minute); next.After(start) {
				start = next
			}
		}
	}
	logger.Info("downloading", "symbol", symbol, "from", start.Format(time.DateTime), "stored_bars", len(prior))

	fresh, err := d.provider.FetchBars(ctx, symbol, start)
	if err != nil {
		return failed(symbol, start, fmt.Errorf("fetch: %w", err))
	}
	if len(fresh) == 0 {
		if len(prior) == 0 {
			return failed(symbol, start, ErrNoData)
		}
		o = skipped(symbol, "up to date")
		o.start, o.series = start, prior
		return o
	}

	merged := model.Merge(prior, fresh)
	if err := d.store.Save(symbol, merged); err != nil {
		return failed(symbol, start, fmt.Errorf("save: %w", err))
	}
	return outcome{symbol: symbol, status: statusOK, start: start, newBars: len(fresh), series: merged}
}

func isFatal(err error) bool {
	var ae *auth.Error
	return errors.As(err, &ae)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
