package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stockdata/internal/marketdata"
	"stockdata/internal/normalize"
	"stockdata/internal/ratelimit"
	"stockdata/internal/version"
)

const (
	defaultTimeout          = 10 * time.Second
	defaultBatchConcurrency = 4
	maxErrorBody            = 256
)

// Options are the transport knobs shared by every adapter.
type Options struct {
	UserAgent        string
	BatchConcurrency int
	// Client overrides the HTTP client; its Timeout is left alone.
	Client *http.Client
	// Now stamps FetchedAt and anchors current/health windows.
	Now            func() time.Time
	LimiterOptions []ratelimit.Option
}

// base carries what every adapter shares: throttling, transport, timeouts
// and the last-error slot.
type base struct {
	cfg       marketdata.ProviderConfig
	limiter   *ratelimit.SlidingWindow
	client    *http.Client
	logger    zerolog.Logger
	userAgent string
	batchSize int
	now       func() time.Time

	mu      sync.RWMutex
	lastErr error
}

func newBase(cfg marketdata.ProviderConfig, defaultBaseURL string, opts Options, logger zerolog.Logger) *base {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = string(cfg.Name)
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = version.UserAgent()
	}
	batch := opts.BatchConcurrency
	if batch <= 0 {
		batch = defaultBatchConcurrency
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &base{
		cfg:       cfg,
		limiter:   ratelimit.FromConfig(cfg.RateLimit, opts.LimiterOptions...),
		client:    client,
		logger:    logger.With().Str("component", "provider").Str("provider", string(cfg.Name)).Logger(),
		userAgent: ua,
		batchSize: batch,
		now:       now,
	}
}

func (b *base) Name() marketdata.ProviderName     { return b.cfg.Name }
func (b *base) Enabled() bool                     { return b.cfg.Enabled }
func (b *base) Config() marketdata.ProviderConfig { return b.cfg }

func (b *base) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

func (b *base) setLastError(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
}

// fail records a non-nil err as the last error and returns it unchanged.
func (b *base) fail(err error) error {
	if err != nil {
		b.setLastError(err)
	}
	return err
}

func (b *base) upstream(op string, status int, err error) error {
	return &marketdata.UpstreamError{Provider: b.cfg.Name, Op: op, StatusCode: status, Err: err}
}

func (b *base) noData(symbol string) error {
	return &marketdata.NoDataError{Provider: b.cfg.Name, Symbol: symbol}
}

func (b *base) unsupported(op, reason string) error {
	return &marketdata.UnsupportedOperationError{Provider: b.cfg.Name, Op: op, Reason: reason}
}

// request describes one upstream call.
type request struct {
	op          string
	method      string
	url         string
	body        string
	contentType string
	headers     map[string]string
}

// do waits on the limiter, then issues req under the per-call timeout and
// returns the body of a 2xx response.
func (b *base) do(ctx context.Context, req request) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if req.body != "" {
		body = strings.NewReader(req.body)
	}
	method := req.method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(callCtx, method, req.url, body)
	if err != nil {
		return nil, b.upstream(req.op, 0, err)
	}
	httpReq.Header.Set("Accept", "application/json, text/plain, */*")
	httpReq.Header.Set("User-Agent", b.userAgent)
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	started := time.Now()
	resp, err := b.client.Do(httpReq)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("request timed out after %s: %w", b.cfg.Timeout, context.DeadlineExceeded)
		}
		return nil, b.upstream(req.op, 0, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, b.upstream(req.op, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}

	b.logger.Debug().
		Str("op", req.op).
		Int("status", resp.StatusCode).
		Int("bytes", len(payload)).
		Dur("elapsed", time.Since(started)).
		Msg("upstream call finished")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, b.upstream(req.op, resp.StatusCode, parseHTTPError(payload))
	}
	return payload, nil
}

// decodeJSON unmarshals payload, reporting failures as malformed upstream data.
func (b *base) decodeJSON(op string, payload []byte, out any) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return b.upstream(op, 0, fmt.Errorf("decode payload: %w", err))
	}
	return nil
}

type errorResponse struct {
	Message string `json:"message"`
	ErrMsg  string `json:"errmsg"`
	Error   string `json:"error"`
}

func parseHTTPError(payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		for _, msg := range []string{apiErr.Message, apiErr.ErrMsg, apiErr.Error} {
			if msg != "" {
				return errors.New(msg)
			}
		}
	}
	text := strings.TrimSpace(string(payload))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	if text == "" {
		return errors.New("empty response body")
	}
	return errors.New(text)
}

type historyFunc func(ctx context.Context, params marketdata.HistoricalDataParams) ([]marketdata.StandardStockData, error)

// currentFromHistory pulls a short lookback window and returns its latest point.
func (b *base) currentFromHistory(ctx context.Context, fetch historyFunc, symbol string, res marketdata.Resolution) (marketdata.StandardStockData, error) {
	params := marketdata.DayRange(symbol, res, b.now(), lookbackDays(res))
	series, err := fetch(ctx, params)
	if err != nil {
		return marketdata.StandardStockData{}, err
	}
	latest, ok := normalize.Latest(series)
	if !ok {
		return marketdata.StandardStockData{}, b.noData(symbol)
	}
	return latest, nil
}

type currentFunc func(ctx context.Context, symbol string, res marketdata.Resolution) (marketdata.StandardStockData, error)

// fetchEach runs fetch for every symbol with bounded concurrency. Failed
// symbols are logged and left out; the output keeps request order.
func (b *base) fetchEach(ctx context.Context, symbols []string, res marketdata.Resolution, fetch currentFunc) ([]marketdata.StandardStockData, error) {
	results := make([]*marketdata.StandardStockData, len(symbols))

	var g errgroup.Group
	g.SetLimit(b.batchSize)
	for i, symbol := range symbols {
		g.Go(func() error {
			item, err := fetch(ctx, symbol, res)
			if err != nil {
				b.logger.Warn().Err(err).
					Str("op", "batch").
					Str("symbol", symbol).
					Msg("symbol dropped from batch")
				return nil
			}
			results[i] = &item
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]marketdata.StandardStockData, 0, len(symbols))
	for _, item := range results {
		if item != nil {
			out = append(out, *item)
		}
	}
	if len(out) < len(symbols) {
		b.logger.Info().
			Int("requested", len(symbols)).
			Int("returned", len(out)).
			Msg("batch finished with omissions")
	}
	return out, nil
}

// healthCheck issues a short canary history request for the health symbol.
func (b *base) healthCheck(ctx context.Context, fetch historyFunc, symbol string) bool {
	if symbol == "" {
		symbol = b.cfg.HealthSymbol
	}
	params := marketdata.DayRange(symbol, marketdata.ResolutionDaily, b.now(), healthWindowDays)
	series, err := fetch(ctx, params)
	if err != nil {
		b.logger.Warn().Err(err).Str("op", "health").Str("symbol", symbol).Msg("health check failed")
		return false
	}
	if len(series) == 0 {
		b.setLastError(b.noData(symbol))
		return false
	}
	return true
}

func formatUnix(t time.Time) string {
	return fmt.Sprintf("%d", t.Unix())
}

// endOfDay is the last second of t's market day.
func endOfDay(t time.Time) time.Time {
	local := t.In(marketdata.MarketLocation)
	return time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 59, 0, marketdata.MarketLocation)
}
