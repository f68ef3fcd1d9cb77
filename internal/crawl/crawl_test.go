package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ts-data/internal/auth"
	"ts-data/internal/model"
	"ts-data/internal/provider"
	"ts-data/internal/provider/tradestation"
	"ts-data/internal/storage"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var floor = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func minute(hhmm string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", "2024-01-01 "+hhmm)
	if err != nil {
		panic(err)
	}
	return t
}

func bars(from, to string) model.Series {
	var s model.Series
	for t := minute(from); !t.After(minute(to)); t = t.Add(time.Minute) {
		s = append(s, model.Bar{Time: t, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10})
	}
	return s
}

type fetchFunc func(ctx context.Context, symbol string, start time.Time) (model.Series, error)

// fakeProvider records calls and delegates to fetch.
type fakeProvider struct {
	fetch fetchFunc

	mu     sync.Mutex
	starts map[string]time.Time
	calls  atomic.Int32
}

func newFakeProvider(fetch fetchFunc) *fakeProvider {
	return &fakeProvider{fetch: fetch, starts: make(map[string]time.Time)}
}

func (p *fakeProvider) GetName() string { return "fake" }
func (p *fakeProvider) Close() error    { return nil }

func (p *fakeProvider) FetchBars(ctx context.Context, symbol string, start time.Time) (model.Series, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.starts[symbol] = start
	p.mu.Unlock()
	return p.fetch(ctx, symbol, start)
}

func newStore(t *testing.T, f storage.Format) (storage.Backend, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := storage.New(f, dir, storage.Options{Logger: quietLogger})
	require.NoError(t, err)
	return s, dir
}

func newDownloader(dp provider.DataProvider, store storage.Backend, opts Options) *Downloader {
	if opts.StartDate.IsZero() {
		opts.StartDate = floor
	}
	return NewDownloader(dp, store, opts, quietLogger)
}

func TestDownloadAll_NoSymbols(t *testing.T) {
	store, _ := newStore(t, storage.FormatSingle)
	d := newDownloader(newFakeProvider(nil), store, Options{})

	res, sess, err := d.DownloadAll(context.Background(), nil, true)

	assert.ErrorIs(t, err, ErrNoSymbols)
	assert.Nil(t, res)
	assert.Nil(t, sess)
}

type staticTokens struct{}

func (staticTokens) AccessToken(context.Context) (string, error) { return "tok", nil }
func (staticTokens) InvalidateToken(string)                        {}

// Stored bars end at 09:35; the API has 09:36..09:40 and 09:40 is still forming.
func TestDownloadAll_IncrementalES(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/marketdata/barcharts/@ES", r.URL.Path)
		var resp tradestation.BarsResponse
		if requests.Add(1) == 1 {
			for _, b := range bars("09:36", "09:40") {
				resp.Bars = append(resp.Bars, tradestation.BarRaw{
					TimeStamp:   b.Time.Format(time.RFC3339),
					TotalVolume: tradestation.FlexibleInt64(b.Volume),
				})
			}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	fetcher := tradestation.NewFetcher(srv.Client(), staticTokens{}, tradestation.Options{BaseURL: srv.URL}, quietLogger)
	dp := provider.NewTradeStationProvider(fetcher)
	store, _ := newStore(t, storage.FormatDaily)
	require.NoError(t, store.Save("@ES", bars("09:30", "09:35")))

	res, sess, err := newDownloader(dp, store, Options{}).DownloadAll(context.Background(), []string{"@ES"}, true)
	require.NoError(t, err)

	assert.Equal(t, int32(1), requests.Load())
	assert.Equal(t, 1, sess.Processed)
	assert.Equal(t, 4, sess.BarsDownloaded)
	assert.Zero(t, sess.Errors)

	got := res["@ES"]
	require.Len(t, got, 10)
	first, _ := got.First()
	last, _ := got.Last()
	assert.Equal(t, minute("09:30"), first)
	assert.Equal(t, minute("09:39"), last)
	assert.True(t, model.IsNormalized(got))

	stored, err := store.Load("@ES")
	require.NoError(t, err)
	assert.Equal(t, got, stored)
}

func TestDownloadAll_StartsAfterLastStoredBar(t *testing.T) {
	store, _ := newStore(t, storage.FormatSingle)
	require.NoError(t, store.Save("@NQ", bars("09:30", "09:35")))
	dp := newFakeProvider(func(context.Context, string, time.Time) (model.Series, error) {
		return bars("09:36", "09:37"), nil
	})

	_, _, err := newDownloader(dp, store, Options{}).DownloadAll(context.Background(), []string{"@NQ", "@YM"}, true)
	require.NoError(t, err)

	assert.Equal(t, minute("09:36"), dp.starts["@NQ"])
	assert.Equal(t, floor, dp.starts["@YM"])
}

func TestDownloadAll_FullIgnoresStoredData(t *testing.T) {
	store, _ := newStore(t, storage.FormatSingle)
	require.NoError(t, store.Save("@NQ", bars("09:30", "09:35")))
	dp := newFakeProvider(func(context.Context, string, time.Time) (model.Series, error) {
		return bars("09:00", "09:01"), nil
	})

	res, _, err := newDownloader(dp, store, Options{}).DownloadAll(context.Background(), []string{"@NQ"}, false)
	require.NoError(t, err)

	assert.Equal(t, floor, dp.starts["@NQ"])
	assert.Equal(t, bars("09:00", "09:01"), res["@NQ"])
}

func TestDownloadAll_ParallelIsolatesFailure(t *testing.T) {
	store, dir := newStore(t, storage.FormatMonthly)
	permanent := errors.New("symbol not found")
	dp := newFakeProvider(func(_ context.Context, symbol string, _ time.Time) (model.Series, error) {
		if symbol == "@BAD" {
			return nil, permanent
		}
		return bars("10:00", "10:09"), nil
	})
	d := newDownloader(dp, store, Options{Workers: 2, ReportDir: dir})

	res, sess, err := d.DownloadAll(context.Background(), []string{"@ES", "@BAD", "@NQ"}, true)
	require.NoError(t, err)

	assert.Equal(t, 1, sess.Errors)
	assert.Equal(t, []string{"@BAD"}, sess.FailedSymbols)
	assert.Equal(t, 2, sess.Processed)
	assert.Equal(t, 20, sess.BarsDownloaded)
	assert.Len(t, res, 2)
	assert.Contains(t, res, "@ES")
	assert.Contains(t, res, "@NQ")
	assert.False(t, sess.EndTime.Before(sess.StartTime))
	assert.NotEmpty(t, sess.RunID)

	var success []string
	readJSON(t, filepath.Join(dir, successReportName), &success)
	assert.ElementsMatch(t, []string{"@ES", "@NQ"}, success)

	var failedList []failedEntry
	readJSON(t, filepath.Join(dir, failedReportName), &failedList)
	require.Len(t, failedList, 1)
	assert.Equal(t, "@BAD", failedList[0].Symbol)
	assert.Contains(t, failedList[0].Reason, "symbol not found")
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestDownloadAll_NoDataIsFailure(t *testing.T) {
	store, _ := newStore(t, storage.FormatDaily)
	dp := newFakeProvider(func(context.Context, string, time.Time) (model.Series, error) {
		return model.Series{}, nil
	})

	res, sess, err := newDownloader(dp, store, Options{}).DownloadAll(context.Background(), []string{"@ES"}, true)
	require.NoError(t, err)

	assert.Equal(t, 1, sess.Errors)
	assert.Empty(t, res)
	stored, err := store.Load("@ES")
	require.NoError(t, err)
	assert.Nil(t, stored)
	syms, err := store.ListSymbols()
	require.NoError(t, err)
	assert.Empty(t, syms)
}

func TestDownloadAll_UpToDateIsSkipped(t *testing.T) {
	store, dir := newStore(t, storage.FormatSingle)
	prior := bars("09:30", "09:35")
	require.NoError(t, store.Save("@ES", prior))
	path := filepath.Join(dir, "ES_1min.parquet")
	before, err := os.Stat(path)
	require.NoError(t, err)

	dp := newFakeProvider(func(context.Context, string, time.Time) (model.Series, error) {
		return nil, nil
	})
	res, sess, err := newDownloader(dp, store, Options{}).DownloadAll(context.Background(), []string{"@ES"}, true)
	require.NoError(t, err)

	assert.Equal(t, 1, sess.Skipped)
	assert.Zero(t, sess.Processed)
	assert.Zero(t, sess.Errors)
	assert.Equal(t, prior, res["@ES"])

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestDownloadAll_AuthErrorStopsRun(t *testing.T) {
	store, _ := newStore(t, storage.FormatSingle)
	dp := newFakeProvider(func(context.Context, string, time.Time) (model.Series, error) {
		return nil, fmt.Errorf("window: %w", &auth.Error{Err: errors.New("invalid_grant")})
	})

	_, sess, err := newDownloader(dp, store, Options{}).DownloadAll(context.Background(), []string{"@ES", "@NQ", "@YM"}, true)

	var ae *auth.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, int32(1), dp.calls.Load())
	assert.Equal(t, 1, sess.Errors)
	assert.Equal(t, 2, sess.Skipped)
}

func TestDownloadAll_CanceledBeforeStart(t *testing.T) {
	store, _ := newStore(t, storage.FormatSingle)
	dp := newFakeProvider(func(context.Context, string, time.Time) (model.Series, error) {
		return bars("09:30", "09:31"), nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, workers := range []int{1, 3} {
		res, sess, err := newDownloader(dp, store, Options{Workers: workers}).DownloadAll(ctx, []string{"@ES", "@NQ", "@YM"}, true)
		require.NoError(t, err)
		assert.Equal(t, 3, sess.Skipped)
		assert.Empty(t, res)
	}
	assert.Zero(t, dp.calls.Load())
}

func TestDownloadAll_CancelStopsDispatch(t *testing.T) {
	store, _ := newStore(t, storage.FormatSingle)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dp := newFakeProvider(func(ctx context.Context, symbol string, _ time.Time) (model.Series, error) {
		if symbol == "@NQ" {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return bars("09:30", "09:31"), nil
	})

	res, sess, err := newDownloader(dp, store, Options{SymbolDelay: time.Millisecond}).
		DownloadAll(ctx, []string{"@ES", "@NQ", "@YM", "@RTY"}, true)
	require.NoError(t, err)

	assert.Equal(t, 1, sess.Processed)
	assert.Equal(t, 1, sess.Errors)
	assert.Equal(t, 2, sess.Skipped)
	assert.Equal(t, []string{"@NQ"}, sess.FailedSymbols)
	assert.Len(t, res, 1)
}

// pacedDownloader records fetches and symbol-delay waits in call order.
func pacedDownloader(t *testing.T, opts Options) (*Downloader, func() []string) {
	t.Helper()
	store, _ := newStore(t, storage.FormatSingle)
	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	dp := newFakeProvider(func(_ context.Context, symbol string, _ time.Time) (model.Series, error) {
		record("fetch " + symbol)
		return bars("09:30", "09:31"), nil
	})
	d := newDownloader(dp, store, opts)
	d.sleep = func(ctx context.Context, delay time.Duration) error {
		record("wait " + delay.String())
		return ctx.Err()
	}
	return d, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), events...)
	}
}

func TestDownloadAll_SequentialSymbolDelay(t *testing.T) {
	d, events := pacedDownloader(t, Options{SymbolDelay: 2 * time.Second})

	_, sess, err := d.DownloadAll(context.Background(), []string{"@ES", "@NQ", "@YM"}, true)
	require.NoError(t, err)

	assert.Equal(t, 3, sess.Processed)
	assert.Equal(t, []string{
		"fetch @ES", "wait 2s", "fetch @NQ", "wait 2s", "fetch @YM",
	}, events())
}

func TestDownloadAll_ParallelIgnoresSymbolDelay(t *testing.T) {
	d, events := pacedDownloader(t, Options{Workers: 3, SymbolDelay: 2 * time.Second})

	_, sess, err := d.DownloadAll(context.Background(), []string{"@ES", "@NQ", "@YM"}, true)
	require.NoError(t, err)

	assert.Equal(t, 3, sess.Processed)
	assert.ElementsMatch(t, []string{"fetch @ES", "fetch @NQ", "fetch @YM"}, events())
}

func TestDownloadAll_PanicIsFailure(t *testing.T) {
	store, _ := newStore(t, storage.FormatSingle)
	dp := newFakeProvider(func(_ context.Context, symbol string, _ time.Time) (model.Series, error) {
		if symbol == "@ES" {
			panic("boom")
		}
		return bars("09:30", "09:31"), nil
	})

	res, sess, err := newDownloader(dp, store, Options{Workers: 2}).DownloadAll(context.Background(), []string{"@ES", "@NQ"}, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"@ES"}, sess.FailedSymbols)
	assert.Contains(t, res, "@NQ")
}

func TestSession_Stats(t *testing.T) {
	s := newSession(time.Now())
	s.record(outcome{symbol: "@ES", status: statusOK, newBars: 5})
	s.record(outcome{symbol: "@NQ", status: statusSkipped})
	s.record(outcome{symbol: "@YM", status: statusFailed})

	st := s.Stats()
	assert.Equal(t, Stats{Processed: 1, Skipped: 1, BarsDownloaded: 5, Errors: 1, FailedSymbols: []string{"@YM"}}, st)

	st.FailedSymbols[0] = "changed"
	assert.Equal(t, []string{"@YM"}, s.FailedSymbols)
}

func TestJoinFailedReasons(t *testing.T) {
	var list []failedEntry
	for i := 0; i < 8; i++ {
		list = append(list, failedEntry{Symbol: fmt.Sprintf("S%d", i), Reason: "x"})
	}

	got := joinFailedReasons(list)

	assert.Equal(t, "S0: x; S1: x; S2: x; S3: x; S4: x (+3 more)", got)
	assert.Equal(t, "S0: x", joinFailedReasons(list[:1]))
}
