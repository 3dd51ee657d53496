package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"spreadwatch/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a store backed by the given connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunityCols = `id, ticker, decided_at,
	lower_exchange, lower_price, lower_latency_ms,
	higher_exchange, higher_price, higher_latency_ms,
	spread_percent, rechecked_percent, window_ms`

// Insert stores a new opportunity record.
func (s *OpportunityStore) Insert(ctx context.Context, rec domain.OpportunityRecord) error {
	const query = `
		INSERT INTO opportunities (
			id, ticker, decided_at,
			lower_exchange, lower_price, lower_latency_ms,
			higher_exchange, higher_price, higher_latency_ms,
			spread_percent, rechecked_percent, window_ms
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9,
			$10, $11, $12
		)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Ticker, rec.Timestamp,
		rec.LowerExchange, rec.LowerPrice, rec.LowerLatency.Milliseconds(),
		rec.HigherExchange, rec.HigherPrice, rec.HigherLatency.Milliseconds(),
		rec.SpreadPercent, rec.RecheckedPercent, rec.WindowDuration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns the most recent records ordered by decision time.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.OpportunityRecord, error) {
	query := `SELECT ` + opportunityCols + ` FROM opportunities ORDER BY decided_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ListBefore returns all records decided strictly before the cutoff, oldest
// first, for archival.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.OpportunityRecord, error) {
	query := `SELECT ` + opportunityCols + ` FROM opportunities WHERE decided_at < $1 ORDER BY decided_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", before, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// DeleteBefore removes all records decided strictly before the cutoff and
// returns the number deleted.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM opportunities WHERE decided_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRecords(rows rowScanner) ([]domain.OpportunityRecord, error) {
	var recs []domain.OpportunityRecord
	for rows.Next() {
		var (
			rec                      domain.OpportunityRecord
			lowerMs, higherMs, winMs int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.Ticker, &rec.Timestamp,
			&rec.LowerExchange, &rec.LowerPrice, &lowerMs,
			&rec.HigherExchange, &rec.HigherPrice, &higherMs,
			&rec.SpreadPercent, &rec.RecheckedPercent, &winMs,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		rec.LowerLatency = time.Duration(lowerMs) * time.Millisecond
		rec.HigherLatency = time.Duration(higherMs) * time.Millisecond
		rec.WindowDuration = time.Duration(winMs) * time.Millisecond
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: opportunity rows: %w", err)
	}
	return recs, nil
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
