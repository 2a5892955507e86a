package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"stockdata/internal/marketdata"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertPriceBarSQL = `INSERT INTO price_bars (
        symbol,
        resolution,
        trade_date,
        source,
        open_price,
        high_price,
        low_price,
        close_price,
        adjusted_price,
        volume,
        negotiated_volume,
        negotiated_value,
        change_value,
        change_pct,
        fetched_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    )
    ON CONFLICT (symbol, resolution, trade_date) DO UPDATE
    SET
        source            = EXCLUDED.source,
        open_price        = EXCLUDED.open_price,
        high_price        = EXCLUDED.high_price,
        low_price         = EXCLUDED.low_price,
        close_price       = EXCLUDED.close_price,
        adjusted_price    = EXCLUDED.adjusted_price,
        volume            = EXCLUDED.volume,
        negotiated_volume = EXCLUDED.negotiated_volume,
        negotiated_value  = EXCLUDED.negotiated_value,
        change_value      = EXCLUDED.change_value,
        change_pct        = EXCLUDED.change_pct,
        fetched_at        = EXCLUDED.fetched_at;`

	priceBarColumns = `symbol,
        resolution,
        trade_date,
        source,
        open_price::text,
        high_price::text,
        low_price::text,
        close_price::text,
        adjusted_price::text,
        volume,
        negotiated_volume,
        negotiated_value::text,
        change_value::text,
        change_pct::text,
        fetched_at,
        created_at`

	listBarsBetweenSQL = `SELECT ` + priceBarColumns + `
    FROM price_bars
    WHERE symbol = $1
      AND resolution = $2
      AND trade_date >= $3
      AND trade_date <= $4
    ORDER BY trade_date;`

	listRecentBarsSQL = `SELECT ` + priceBarColumns + `
    FROM price_bars
    WHERE ($1 = '' OR symbol = $1)
    ORDER BY trade_date DESC, symbol
    LIMIT $2;`

	countBarsSQL = `SELECT COUNT(*) FROM price_bars;`

	insertHealthEventSQL = `INSERT INTO health_events (
        provider,
        healthy,
        error,
        channels,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, provider, healthy, error, channels, observed_at, created_at;`

	listRecentHealthEventsSQL = `SELECT
        id,
        provider,
        healthy,
        error,
        channels,
        observed_at,
        created_at
    FROM health_events
    ORDER BY observed_at DESC, id DESC
    LIMIT $1;`

	deleteHealthEventsBeforeSQL = `DELETE FROM health_events WHERE observed_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// BarStore defines operations for the price bar archive.
type BarStore interface {
	UpsertBars(ctx context.Context, bars []PriceBar) (int, error)
	ListBarsBetween(ctx context.Context, symbol string, res marketdata.Resolution, from, to time.Time) ([]PriceBar, error)
	ListRecentBars(ctx context.Context, symbol string, limit int) ([]PriceBar, error)
	CountBars(ctx context.Context) (int64, error)
}

// HealthStore defines operations for provider health auditing.
type HealthStore interface {
	InsertHealthEvent(ctx context.Context, event HealthEvent) (HealthEvent, error)
	ListRecentHealthEvents(ctx context.Context, limit int) ([]HealthEvent, error)
	DeleteHealthEventsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to price bars and health events.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertBars writes the bars in one batch round trip and returns how many
// rows were written.
func (s *Store) UpsertBars(ctx context.Context, bars []PriceBar) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, bar := range bars {
		var negVolume interface{}
		if bar.NegotiatedVolume != nil {
			negVolume = *bar.NegotiatedVolume
		}
		var negValue interface{}
		if bar.NegotiatedValue != nil {
			negValue = bar.NegotiatedValue.String()
		}
		batch.Queue(upsertPriceBarSQL,
			bar.Symbol,
			string(bar.Resolution),
			bar.TradeDate,
			string(bar.Source),
			bar.Open.String(),
			bar.High.String(),
			bar.Low.String(),
			bar.Close.String(),
			bar.Adjusted.String(),
			bar.Volume,
			negVolume,
			negValue,
			bar.ChangeValue.String(),
			bar.ChangePct.String(),
			bar.FetchedAt,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	written := 0
	for _, bar := range bars {
		if _, execErr := results.Exec(); execErr != nil {
			return written, fmt.Errorf("upsert price bar %s %s: %w", bar.Symbol, bar.TradeDate.Format(marketdata.DateLayout), execErr)
		}
		written++
	}
	return written, nil
}

// ListBarsBetween lists a symbol's bars within an inclusive window.
func (s *Store) ListBarsBetween(ctx context.Context, symbol string, res marketdata.Resolution, from, to time.Time) ([]PriceBar, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listBarsBetweenSQL, symbol, string(res), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list bars between: %w", queryErr)
	}
	defer rows.Close()

	bars := make([]PriceBar, 0)
	for rows.Next() {
		bar, scanErr := scanPriceBar(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		bars = append(bars, bar)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return bars, nil
}

// ListRecentBars lists the newest bars, optionally for one symbol.
func (s *Store) ListRecentBars(ctx context.Context, symbol string, limit int) ([]PriceBar, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentBarsSQL, symbol, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent bars: %w", queryErr)
	}
	defer rows.Close()

	bars := make([]PriceBar, 0, limit)
	for rows.Next() {
		bar, scanErr := scanPriceBar(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		bars = append(bars, bar)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return bars, nil
}

// CountBars counts archived bars.
func (s *Store) CountBars(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countBarsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count bars: %w", scanErr)
	}
	return count, nil
}

// InsertHealthEvent persists a provider health transition.
func (s *Store) InsertHealthEvent(ctx context.Context, event HealthEvent) (HealthEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return HealthEvent{}, err
	}

	var errMsg interface{}
	if event.Error != nil {
		errMsg = *event.Error
	}

	row := pool.QueryRow(ctx, insertHealthEventSQL,
		string(event.Provider),
		event.Healthy,
		errMsg,
		event.Channels,
		event.ObservedAt,
	)
	rec, scanErr := scanHealthEvent(row)
	if scanErr != nil {
		return HealthEvent{}, fmt.Errorf("insert health event: %w", scanErr)
	}
	return rec, nil
}

// ListRecentHealthEvents lists the newest health transitions.
func (s *Store) ListRecentHealthEvents(ctx context.Context, limit int) ([]HealthEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentHealthEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent health events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]HealthEvent, 0, limit)
	for rows.Next() {
		rec, scanErr := scanHealthEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// DeleteHealthEventsBefore prunes old health events.
func (s *Store) DeleteHealthEventsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteHealthEventsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete health events before: %w", execErr)
	}
	return nil
}

func scanHealthEvent(row pgx.Row) (HealthEvent, error) {
	var (
		rec      HealthEvent
		provider string
		errMsg   sql.NullString
	)
	if err := row.Scan(
		&rec.ID,
		&provider,
		&rec.Healthy,
		&errMsg,
		&rec.Channels,
		&rec.ObservedAt,
		&rec.CreatedAt,
	); err != nil {
		return HealthEvent{}, err
	}
	rec.Provider = marketdata.ProviderName(provider)
	if errMsg.Valid {
		msg := errMsg.String
		rec.Error = &msg
	}
	return rec, nil
}

func scanPriceBar(rows pgx.Rows) (PriceBar, error) {
	var (
		symbol      string
		resolution  string
		tradeDate   time.Time
		source      string
		openStr     string
		highStr     string
		lowStr      string
		closeStr    string
		adjustedStr string
		volume      int64
		negVolume   sql.NullInt64
		negValue    sql.NullString
		changeStr   string
		pctStr      string
		fetchedAt   time.Time
		createdAt   time.Time
	)

	if err := rows.Scan(
		&symbol,
		&resolution,
		&tradeDate,
		&source,
		&openStr,
		&highStr,
		&lowStr,
		&closeStr,
		&adjustedStr,
		&volume,
		&negVolume,
		&negValue,
		&changeStr,
		&pctStr,
		&fetchedAt,
		&createdAt,
	); err != nil {
		return PriceBar{}, err
	}

	prices := make([]decimal.Decimal, 7)
	for i, raw := range []string{openStr, highStr, lowStr, closeStr, adjustedStr, changeStr, pctStr} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return PriceBar{}, fmt.Errorf("parse price column %d of %s: %w", i, symbol, err)
		}
		prices[i] = d
	}

	bar := PriceBar{
		Symbol:      symbol,
		Resolution:  marketdata.Resolution(resolution),
		TradeDate:   tradeDate,
		Source:      marketdata.ProviderName(source),
		Open:        prices[0],
		High:        prices[1],
		Low:         prices[2],
		Close:       prices[3],
		Adjusted:    prices[4],
		Volume:      volume,
		ChangeValue: prices[5],
		ChangePct:   prices[6],
		FetchedAt:   fetchedAt,
		CreatedAt:   createdAt,
	}
	if negVolume.Valid {
		v := negVolume.Int64
		bar.NegotiatedVolume = &v
	}
	if negValue.Valid {
		d, err := decimal.NewFromString(negValue.String)
		if err != nil {
			return PriceBar{}, fmt.Errorf("parse negotiated value of %s: %w", symbol, err)
		}
		bar.NegotiatedValue = &d
	}
	return bar, nil
}
