package tradestation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"ts-data/internal/model"
)

const (
	// DefaultBaseURL is the TradeStation v3 API root.
	DefaultBaseURL = "https://api.tradestation.com/v3"

	// ~40 days of 1-minute bars, the API maximum for barsback
	DefaultMaxBarsPerRequest = 57600

	DefaultRateLimitDelay = 500 * time.Millisecond
	DefaultMaxRetries     = 3
	DefaultBackoffBase    = time.Second

	// defaultRetryAfter applies to a 429 without a usable Retry-After header.
	defaultRetryAfter = 60 * time.Second

	// maxUnauthorized bounds consecutive 401s for one request. The first ones are
	// expected (expired token); a fresh token being rejected repeatedly is not.
	maxUnauthorized = 3

	lastDateLayout = "2006-01-02T15:04:05Z"
)

var (
	// ErrRetriesExhausted wraps the last transient failure once the retry budget is spent.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrUnauthorized is returned when freshly refreshed tokens keep being rejected.
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusError is a non-2xx response other than 401 and 429.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API status %d: %s", e.StatusCode, e.Body)
}

// TokenSource supplies bearer tokens. InvalidateToken reports a token the API rejected.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	InvalidateToken(value string)
}

// Options configures the fetcher. Zero BaseURL, Interval, Unit, MaxBarsPerRequest
// and BackoffBase take the package defaults; a zero RateLimitDelay disables pacing.
type Options struct {
	BaseURL           string
	Interval          int
	Unit              string
	MaxBarsPerRequest int
	RateLimitDelay    time.Duration
	MaxRetries        int
	BackoffBase       time.Duration // backoff is BackoffBase * 2^attempt
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.Interval <= 0 {
		o.Interval = 1
	}
	if o.Unit == "" {
		o.Unit = "Minute"
	}
	if o.MaxBarsPerRequest <= 0 {
		o.MaxBarsPerRequest = DefaultMaxBarsPerRequest
	}
	if o.RateLimitDelay < 0 {
		o.RateLimitDelay = 0
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	return o
}

// Fetcher retrieves minute bars from the barcharts endpoint by paging backward
// from now until the requested start is covered.
type Fetcher struct {
	client *http.Client
	tokens TokenSource
	opts   Options
	logger *slog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewFetcher constructs a Fetcher. client may be nil.
func NewFetcher(client *http.Client, tokens TokenSource, opts Options, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = NewHTTPClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client: client,
		tokens: tokens,
		opts:   opts.withDefaults(),
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Close releases idle connections.
func (f *Fetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// FetchBars returns the bars of symbol with time >= start, sorted and deduplicated,
// without the most recent bar (still forming on a live feed). An API with no
// history before now yields an empty series. Any request that fails after its
// retries aborts the whole fetch; nothing accumulated so far is returned.
func (f *Fetcher) FetchBars(ctx context.Context, symbol string, start time.Time) (model.Series, error) {
	start = start.UTC()
	limiter := rate.NewLimiter(rate.Every(f.opts.RateLimitDelay), 1)

	var acc model.Series
	windowEnd := f.now().UTC()
	batch := 0
	for windowEnd.After(start) {
		if err := f.pace(ctx, limiter); err != nil {
			return nil, err
		}
		bars, err := f.requestWindow(ctx, symbol, windowEnd)
		if err != nil {
			return nil, fmt.Errorf("%s: window ending %s: %w", symbol, windowEnd.Format(lastDateLayout), err)
		}
		if len(bars) == 0 {
			break
		}
		acc = append(acc, bars...)
		batch++

		oldest, newest := span(bars)
		f.logger.Info("batch", "symbol", symbol, "batch", batch, "bars", len(bars),
			"from", oldest.Format(time.DateTime), "to", newest.Format(time.DateTime))

		if !oldest.After(start) {
			break
		}
		windowEnd = oldest.Add(-time.Minute)
	}

	return model.Normalize(acc).From(start).DropLast(), nil
}

// pace waits for the limiter's next token on the fetcher's own clock.
func (f *Fetcher) pace(ctx context.Context, limiter *rate.Limiter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := f.now()
	if d := limiter.ReserveN(now, 1).DelayFrom(now); d > 0 {
		return f.sleep(ctx, d)
	}
	return nil
}

func span(bars []model.Bar) (oldest, newest time.Time) {
	oldest, newest = bars[0].Time, bars[0].Time
	for _, b := range bars[1:] {
		if b.Time.Before(oldest) {
			oldest = b.Time
		}
		if b.Time.After(newest) {
			newest = b.Time
		}
	}
	return oldest, newest
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeRateLimited
	outcomeUnauthorized
	outcomeTransient
	outcomeFatal
)

type result struct {
	outcome    outcome
	bars       []model.Bar
	retryAfter time.Duration
	token      string
	err        error
}

// requestWindow runs one barcharts request until it succeeds or its budget runs out.
// 429 and 401 retries do not consume the budget.
func (f *Fetcher) requestWindow(ctx context.Context, symbol string, end time.Time) ([]model.Bar, error) {
	attempt := 0
	unauthorized := 0
	for {
		res := f.do(ctx, symbol, end)
		switch res.outcome {
		case outcomeOK:
			return res.bars, nil

		case outcomeRateLimited:
			f.logger.Warn("rate limited", "symbol", symbol, "wait_sec", res.retryAfter.Seconds())
			if err := f.sleep(ctx, res.retryAfter); err != nil {
				return nil, err
			}

		case outcomeUnauthorized:
			unauthorized++
			if unauthorized > maxUnauthorized {
				return nil, fmt.Errorf("%w: token rejected %d times", ErrUnauthorized, unauthorized)
			}
			f.logger.Info("token expired, refreshing", "symbol", symbol)
			f.tokens.InvalidateToken(res.token)

		case outcomeTransient:
			if attempt >= f.opts.MaxRetries {
				return nil, fmt.Errorf("%w after %d retries: %w", ErrRetriesExhausted, attempt, res.err)
			}
			wait := f.opts.BackoffBase << attempt
			f.logger.Warn("request failed, retrying", "symbol", symbol, "error", res.err,
				"attempt", attempt+1, "wait_sec", wait.Seconds())
			if err := f.sleep(ctx, wait); err != nil {
				return nil, err
			}
			attempt++

		default:
			return nil, res.err
		}
	}
}

// buildBarsRequest builds GET request for bars ending at end (interval, unit, barsback, lastdate).
func (f *Fetcher) buildBarsRequest(ctx context.Context, symbol string, end time.Time, token string) (*http.Request, error) {
	u, err := url.Parse(f.opts.BaseURL + "/marketdata/barcharts/" + url.PathEscape(symbol))
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("interval", strconv.Itoa(f.opts.Interval))
	q.Set("unit", f.opts.Unit)
	q.Set("barsback", strconv.Itoa(f.opts.MaxBarsPerRequest))
	q.Set("lastdate", end.UTC().Format(lastDateLayout))
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do performs a single request and classifies the response.
func (f *Fetcher) do(ctx context.Context, symbol string, end time.Time) result {
	token, err := f.tokens.AccessToken(ctx)
	if err != nil {
		return result{outcome: outcomeFatal, err: err}
	}
	req, err := f.buildBarsRequest(ctx, symbol, end, token)
	if err != nil {
		return result{outcome: outcomeFatal, err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return result{outcome: outcomeFatal, err: ctx.Err()}
		}
		return result{outcome: outcomeTransient, err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return result{outcome: outcomeRateLimited, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), f.now())}
	case resp.StatusCode == http.StatusUnauthorized:
		_, _ = io.Copy(io.Discard, resp.Body)
		return result{outcome: outcomeUnauthorized, token: token}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return result{outcome: outcomeTransient, err: &StatusError{StatusCode: resp.StatusCode, Body: string(body)}}
	}

	var body BarsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if ctx.Err() != nil {
			return result{outcome: outcomeFatal, err: ctx.Err()}
		}
		return result{outcome: outcomeTransient, err: fmt.Errorf("parse JSON: %w", err)}
	}
	bars, err := body.ToBars()
	if err != nil {
		return result{outcome: outcomeTransient, err: err}
	}
	return result{outcome: outcomeOK, bars: bars}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
