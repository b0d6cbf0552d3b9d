package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"metalledger/internal/audit"
	"metalledger/internal/pricing"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertRawSQL = `INSERT INTO prices_raw (
        source,
        metal,
        venue,
        price_ts,
        value,
        currency,
        external_id
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (source, external_id) DO NOTHING
    RETURNING id;`

	promoteCanonicalSQL = `INSERT INTO prices_canonical (
        metal,
        price_ts,
        value,
        currency,
        source,
        raw_id
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (metal, price_ts) DO UPDATE
    SET value       = EXCLUDED.value,
        currency    = EXCLUDED.currency,
        source      = EXCLUDED.source,
        raw_id      = EXCLUDED.raw_id,
        promoted_at = NOW();`

	historicalValuesSQL = `SELECT value::float8
    FROM prices_canonical
    WHERE metal = $1
      AND price_ts >= $2
    ORDER BY price_ts;`

	listCanonicalBetweenSQL = `SELECT
        id,
        metal,
        price_ts,
        value::text,
        currency,
        source,
        raw_id,
        promoted_at
    FROM prices_canonical
    WHERE metal = $1
      AND price_ts >= $2
      AND price_ts < $3
    ORDER BY price_ts;`

	listRecentCanonicalSQL = `SELECT
        id,
        metal,
        price_ts,
        value::text,
        currency,
        source,
        raw_id,
        promoted_at
    FROM prices_canonical
    WHERE metal = $1
    ORDER BY price_ts DESC
    LIMIT $2;`

	insertAuditSQL = `INSERT INTO audit_log (
        request_id,
        actor,
        action,
        payload_hash,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5
    );`

	listAuditSQL = `SELECT id, request_id, actor, action, payload_hash, created_at
    FROM audit_log
    WHERE request_id = $1
    ORDER BY id;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RawPriceStore keeps every fetched observation.
type RawPriceStore interface {
	// InsertRaw stores obs unless (source, external id) already exists.
	// inserted is false for a duplicate and id is then zero.
	InsertRaw(ctx context.Context, obs pricing.PriceObservation) (id int64, inserted bool, err error)
}

// CanonicalStore holds at most one accepted price per (metal, instant).
type CanonicalStore interface {
	PromoteCanonical(ctx context.Context, obs pricing.PriceObservation, rawID int64) error
	HistoricalValues(ctx context.Context, metal pricing.MetalSlug, since time.Time) ([]float64, error)
	ListCanonicalBetween(ctx context.Context, metal pricing.MetalSlug, from, to time.Time) ([]CanonicalPrice, error)
	ListRecentCanonical(ctx context.Context, metal pricing.MetalSlug, limit int) ([]CanonicalPrice, error)
}

// AuditStore is the append-only audit log.
type AuditStore interface {
	audit.Recorder
	ListAudit(ctx context.Context, requestID uuid.UUID) ([]audit.Entry, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Ledger is everything the ingestion pipeline persists through.
//
//go:generate mockgen -package=ingest -destination=../ingest/mock_ledger_test.go -source=repository.go Ledger
type Ledger interface {
	RawPriceStore
	CanonicalStore
	AuditStore
	AdvisoryLocker
}

// Store is the PostgreSQL Ledger.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for migrations.
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
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
		// Best effort; the session lock also ends when the connection closes.
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

// InsertRaw implements RawPriceStore.
func (s *Store) InsertRaw(ctx context.Context, obs pricing.PriceObservation) (int64, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, false, err
	}

	var id int64
	scanErr := pool.QueryRow(ctx, insertRawSQL,
		obs.Source.String(),
		obs.Metal.String(),
		obs.Venue,
		obs.ObservedAt.UTC(),
		obs.Value.String(),
		obs.CurrencyOrDefault(),
		obs.ExternalID,
	).Scan(&id)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if scanErr != nil {
		return 0, false, fmt.Errorf("insert raw price: %w", scanErr)
	}
	return id, true, nil
}

// PromoteCanonical implements CanonicalStore. A later promotion for the same
// (metal, instant) overwrites the earlier one.
func (s *Store) PromoteCanonical(ctx context.Context, obs pricing.PriceObservation, rawID int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, promoteCanonicalSQL,
		obs.Metal.String(),
		obs.ObservedAt.UTC(),
		obs.Value.String(),
		obs.CurrencyOrDefault(),
		obs.Source.String(),
		rawID,
	)
	if execErr != nil {
		return fmt.Errorf("promote canonical: %w", execErr)
	}
	return nil
}

// HistoricalValues returns canonical values for metal since the cut-off, oldest first.
func (s *Store) HistoricalValues(ctx context.Context, metal pricing.MetalSlug, since time.Time) ([]float64, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, historicalValuesSQL, metal.String(), since.UTC())
	if queryErr != nil {
		return nil, fmt.Errorf("historical values: %w", queryErr)
	}
	values, collectErr := pgx.CollectRows(rows, pgx.RowTo[float64])
	if collectErr != nil {
		return nil, fmt.Errorf("historical values: %w", collectErr)
	}
	return values, nil
}

// ListCanonicalBetween lists canonical prices within [from, to).
func (s *Store) ListCanonicalBetween(ctx context.Context, metal pricing.MetalSlug, from, to time.Time) ([]CanonicalPrice, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCanonicalBetweenSQL, metal.String(), from.UTC(), to.UTC())
	if queryErr != nil {
		return nil, fmt.Errorf("list canonical between: %w", queryErr)
	}
	return collectCanonical(rows)
}

// ListRecentCanonical lists the most recent canonical prices, newest first.
func (s *Store) ListRecentCanonical(ctx context.Context, metal pricing.MetalSlug, limit int) ([]CanonicalPrice, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentCanonicalSQL, metal.String(), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent canonical: %w", queryErr)
	}
	return collectCanonical(rows)
}

// InsertAudit implements audit.Recorder.
func (s *Store) InsertAudit(ctx context.Context, entry audit.Entry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, execErr := pool.Exec(ctx, insertAuditSQL,
		entry.RequestID,
		entry.Actor,
		entry.Action,
		entry.PayloadHash,
		createdAt,
	); execErr != nil {
		return fmt.Errorf("insert audit entry: %w", execErr)
	}
	return nil
}

// ListAudit returns the entries written under requestID.
func (s *Store) ListAudit(ctx context.Context, requestID uuid.UUID) ([]audit.Entry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAuditSQL, requestID)
	if queryErr != nil {
		return nil, fmt.Errorf("list audit: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]audit.Entry, 0)
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Actor, &e.Action, &e.PayloadHash, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

func collectCanonical(rows pgx.Rows) ([]CanonicalPrice, error) {
	defer rows.Close()

	prices := make([]CanonicalPrice, 0)
	for rows.Next() {
		price, scanErr := scanCanonical(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		prices = append(prices, price)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return prices, nil
}

func scanCanonical(rows pgx.Rows) (CanonicalPrice, error) {
	var (
		price    CanonicalPrice
		metal    string
		valueStr string
		source   string
	)

	if err := rows.Scan(
		&price.ID,
		&metal,
		&price.ObservedAt,
		&valueStr,
		&price.Currency,
		&source,
		&price.RawID,
		&price.PromotedAt,
	); err != nil {
		return CanonicalPrice{}, err
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return CanonicalPrice{}, fmt.Errorf("parse canonical value: %w", err)
	}
	price.Value = value
	price.Metal = pricing.MetalSlug(metal)
	price.Source = pricing.SourceID(source)
	return price, nil
}

var _ Ledger = (*Store)(nil)
