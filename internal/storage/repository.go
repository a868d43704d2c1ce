package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertResultSQL = `INSERT INTO trade_results (
        opportunity_id,
        opportunity_type,
        pair,
        source_tx,
        tx_hash,
        success,
        score,
        estimated_profit,
        profit,
        fee_paid,
        reason,
        executed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    ) RETURNING id, created_at;`

	listResultsBetweenSQL = `SELECT
        id,
        opportunity_id,
        opportunity_type,
        pair,
        source_tx,
        tx_hash,
        success,
        score,
        estimated_profit,
        profit,
        fee_paid,
        reason,
        executed_at,
        created_at
    FROM trade_results
    WHERE executed_at >= $1
      AND executed_at < $2
    ORDER BY executed_at;`

	listRecentResultsSQL = `SELECT
        id,
        opportunity_id,
        opportunity_type,
        pair,
        source_tx,
        tx_hash,
        success,
        score,
        estimated_profit,
        profit,
        fee_paid,
        reason,
        executed_at,
        created_at
    FROM trade_results
    ORDER BY executed_at DESC
    LIMIT $1;`

	countResultsSQL = `SELECT COUNT(*) FROM trade_results;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ResultStore defines operations for execution-outcome persistence.
type ResultStore interface {
	InsertResult(ctx context.Context, res TradeResult) error
	ListResultsBetween(ctx context.Context, from, to time.Time) ([]TradeResult, error)
	ListRecentResults(ctx context.Context, limit int) ([]TradeResult, error)
	CountResults(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers. The run command uses it as
// a single-instance guard.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to trade results.
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
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort
		}
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

// InsertResult persists one execution outcome.
func (s *Store) InsertResult(ctx context.Context, res TradeResult) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	row := pool.QueryRow(ctx, insertResultSQL,
		res.OpportunityID,
		res.OpportunityType,
		res.Pair,
		res.SourceTx,
		res.TxHash,
		res.Success,
		res.Score,
		res.EstimatedProfit.String(),
		res.Profit.String(),
		res.FeePaid.String(),
		res.Reason,
		res.ExecutedAt,
	)

	var id int64
	var createdAt time.Time
	if scanErr := row.Scan(&id, &createdAt); scanErr != nil {
		return fmt.Errorf("insert trade result: %w", scanErr)
	}
	return nil
}

// ListResultsBetween lists results within a time window ordered by execution time.
func (s *Store) ListResultsBetween(ctx context.Context, from, to time.Time) ([]TradeResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listResultsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list results between: %w", queryErr)
	}
	defer rows.Close()

	return collectResults(rows, 0)
}

// ListRecentResults lists the most recent results ordered by descending execution time.
func (s *Store) ListRecentResults(ctx context.Context, limit int) ([]TradeResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentResultsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent results: %w", queryErr)
	}
	defer rows.Close()

	return collectResults(rows, limit)
}

// CountResults counts stored results.
func (s *Store) CountResults(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countResultsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count results: %w", scanErr)
	}
	return count, nil
}

func collectResults(rows pgx.Rows, sizeHint int) ([]TradeResult, error) {
	results := make([]TradeResult, 0, sizeHint)
	for rows.Next() {
		res, scanErr := scanTradeResult(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		results = append(results, res)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return results, nil
}

func scanTradeResult(rows pgx.Rows) (TradeResult, error) {
	var (
		res          TradeResult
		estimatedStr string
		profitStr    string
		feeStr       string
	)

	if err := rows.Scan(
		&res.ID,
		&res.OpportunityID,
		&res.OpportunityType,
		&res.Pair,
		&res.SourceTx,
		&res.TxHash,
		&res.Success,
		&res.Score,
		&estimatedStr,
		&profitStr,
		&feeStr,
		&res.Reason,
		&res.ExecutedAt,
		&res.CreatedAt,
	); err != nil {
		return TradeResult{}, err
	}

	var convErr error
	res.EstimatedProfit, convErr = decimal.NewFromString(estimatedStr)
	if convErr != nil {
		return TradeResult{}, fmt.Errorf("parse estimated profit: %w", convErr)
	}
	res.Profit, convErr = decimal.NewFromString(profitStr)
	if convErr != nil {
		return TradeResult{}, fmt.Errorf("parse profit: %w", convErr)
	}
	res.FeePaid, convErr = decimal.NewFromString(feeStr)
	if convErr != nil {
		return TradeResult{}, fmt.Errorf("parse fee paid: %w", convErr)
	}

	return res, nil
}
