package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfeed/compindex/internal/domain"
)

// IndexStore persists emitted index results.
type IndexStore struct {
	pool *pgxpool.Pool
}

// NewIndexStore creates an IndexStore backed by the given client.
func NewIndexStore(client *Client) *IndexStore {
	return &IndexStore{pool: client.Pool()}
}

const insertIndexSQL = `
	INSERT INTO index_results (
		symbol, window_ms, vwap_buy, vwap_sell, index_mid,
		expected_exchanges, sources, expected_status,
		provisional, no_publish, actual_avg, diff, ratio, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

const selectIndexColumns = `
	SELECT symbol, window_ms, vwap_buy, vwap_sell, index_mid,
	       expected_exchanges, sources, expected_status,
	       provisional, no_publish, actual_avg, diff, ratio, created_at
	FROM index_results`

// Insert stores a single index result.
func (s *IndexStore) Insert(ctx context.Context, res domain.IndexResult) error {
	args, err := indexArgs(res)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, insertIndexSQL, args...); err != nil {
		return fmt.Errorf("postgres: insert index result: %w", err)
	}
	return nil
}

// InsertBatch stores multiple index results in a single round trip.
func (s *IndexStore) InsertBatch(ctx context.Context, results []domain.IndexResult) error {
	if len(results) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, res := range results {
		args, err := indexArgs(res)
		if err != nil {
			return err
		}
		batch.Queue(insertIndexSQL, args...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: batch insert index results: %w", err)
		}
	}
	return nil
}

// ListBySymbol returns results for a symbol and window, newest first.
func (s *IndexStore) ListBySymbol(ctx context.Context, symbol string, window time.Duration, opts domain.ListOpts) ([]domain.IndexResult, error) {
	query := selectIndexColumns + " WHERE symbol = $1 AND window_ms = $2"
	args := []any{symbol, window.Milliseconds()}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list index results: %w", err)
	}
	defer rows.Close()

	return scanIndexRows(rows)
}

// ListBefore returns results created before the cutoff, oldest first, for
// archival.
func (s *IndexStore) ListBefore(ctx context.Context, before time.Time) ([]domain.IndexResult, error) {
	rows, err := s.pool.Query(ctx,
		selectIndexColumns+" WHERE created_at < $1 ORDER BY created_at ASC",
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list index results before cutoff: %w", err)
	}
	defer rows.Close()

	return scanIndexRows(rows)
}

// DeleteBefore removes results created before the cutoff and reports how
// many rows were deleted.
func (s *IndexStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM index_results WHERE created_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete index results before cutoff: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetLastTimestamp returns the newest created_at for a symbol and window.
func (s *IndexStore) GetLastTimestamp(ctx context.Context, symbol string, window time.Duration) (time.Time, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT created_at FROM index_results
		WHERE symbol = $1 AND window_ms = $2
		ORDER BY created_at DESC
		LIMIT 1`, symbol, window.Milliseconds()).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, fmt.Errorf("postgres: last timestamp for %s: %w", symbol, domain.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: last timestamp for %s: %w", symbol, err)
	}
	return ts, nil
}

func indexArgs(res domain.IndexResult) ([]any, error) {
	expected, err := json.Marshal(res.Expected)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal expected exchanges: %w", err)
	}
	sources, err := json.Marshal(res.Sources)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal sources: %w", err)
	}
	status, err := json.Marshal(res.Status)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal source status: %w", err)
	}

	return []any{
		res.Symbol,
		res.Window.Milliseconds(),
		res.VwapBuy,
		res.VwapSell,
		res.IndexMid,
		expected,
		sources,
		status,
		res.Provisional,
		res.NoPublish,
		res.ActualAvg,
		res.Diff,
		res.Ratio,
		res.CreatedAt,
	}, nil
}

func scanIndexRows(rows pgx.Rows) ([]domain.IndexResult, error) {
	var results []domain.IndexResult
	for rows.Next() {
		var (
			res      domain.IndexResult
			windowMs int64
			expected []byte
			sources  []byte
			status   []byte
		)
		if err := rows.Scan(
			&res.Symbol, &windowMs, &res.VwapBuy, &res.VwapSell, &res.IndexMid,
			&expected, &sources, &status,
			&res.Provisional, &res.NoPublish, &res.ActualAvg, &res.Diff, &res.Ratio,
			&res.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan index result: %w", err)
		}
		res.Window = time.Duration(windowMs) * time.Millisecond
		if err := json.Unmarshal(expected, &res.Expected); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal expected exchanges: %w", err)
		}
		if err := json.Unmarshal(sources, &res.Sources); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal sources: %w", err)
		}
		if err := json.Unmarshal(status, &res.Status); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal source status: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate index results: %w", err)
	}
	return results, nil
}

var _ domain.IndexStore = (*IndexStore)(nil)
