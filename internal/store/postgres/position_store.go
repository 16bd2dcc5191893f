package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/steward/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, signal_id, symbol, asset_class, side, status,
	qty, entry_fill_price, current_stop_loss, breakeven_applied,
	broker_order_id, take_profit_order_id, stop_loss_order_id, exit_order_id,
	exit_reason, exit_fill_price, trade_type, account_id, strategy_name,
	scaled_out_prices, failed_reason, created_at, closed_at, archived_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var assetClass, side, status, tradeType string
	var exitReason *string
	var scaleOuts []byte

	err := row.Scan(
		&p.ID, &p.SignalID, &p.Symbol, &assetClass, &side, &status,
		&p.Qty, &p.EntryFillPrice, &p.CurrentStopLoss, &p.BreakevenApplied,
		&p.BrokerOrderID, &p.TakeProfitOrderID, &p.StopLossOrderID, &p.ExitOrderID,
		&exitReason, &p.ExitFillPrice, &tradeType, &p.AccountID, &p.Strategy,
		&scaleOuts, &p.FailedReason, &p.CreatedAt, &p.ClosedAt, &p.ArchivedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.AssetClass = domain.AssetClass(assetClass)
	p.Side = domain.OrderSide(side)
	p.Status = domain.PositionStatus(status)
	p.TradeType = domain.TradeType(tradeType)
	if exitReason != nil {
		r := domain.ExitReason(*exitReason)
		p.ExitReason = &r
	}
	if len(scaleOuts) > 0 {
		if err := json.Unmarshal(scaleOuts, &p.ScaledOutPrices); err != nil {
			return domain.Position{}, fmt.Errorf("postgres: unmarshal scale-outs for %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func positionArgs(p domain.Position) ([]any, error) {
	scaleOuts, err := json.Marshal(p.ScaledOutPrices)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal scale-outs for %s: %w", p.ID, err)
	}
	var exitReason *string
	if p.ExitReason != nil {
		s := string(*p.ExitReason)
		exitReason = &s
	}
	return []any{
		p.ID, p.SignalID, p.Symbol, string(p.AssetClass), string(p.Side), string(p.Status),
		p.Qty, p.EntryFillPrice, p.CurrentStopLoss, p.BreakevenApplied,
		p.BrokerOrderID, p.TakeProfitOrderID, p.StopLossOrderID, p.ExitOrderID,
		exitReason, p.ExitFillPrice, string(p.TradeType), p.AccountID, p.Strategy,
		scaleOuts, p.FailedReason, p.CreatedAt, p.ClosedAt, p.ArchivedAt,
	}, nil
}

// Save inserts a new position.
func (s *PositionStore) Save(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, signal_id, symbol, asset_class, side, status,
			qty, entry_fill_price, current_stop_loss, breakeven_applied,
			broker_order_id, take_profit_order_id, stop_loss_order_id, exit_order_id,
			exit_reason, exit_fill_price, trade_type, account_id, strategy_name,
			scaled_out_prices, failed_reason, created_at, closed_at, archived_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24, NOW()
		)`

	args, err := positionArgs(p)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: save position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position, keyed by ID.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			signal_id            = $2,
			symbol               = $3,
			asset_class          = $4,
			side                 = $5,
			status               = $6,
			qty                  = $7,
			entry_fill_price     = $8,
			current_stop_loss    = $9,
			breakeven_applied    = $10,
			broker_order_id      = $11,
			take_profit_order_id = $12,
			stop_loss_order_id   = $13,
			exit_order_id        = $14,
			exit_reason          = $15,
			exit_fill_price      = $16,
			trade_type           = $17,
			account_id           = $18,
			strategy_name        = $19,
			scaled_out_prices    = $20,
			failed_reason        = $21,
			created_at           = $22,
			closed_at            = $23,
			archived_at          = $24,
			updated_at           = NOW()
		WHERE id = $1`

	args, err := positionArgs(p)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetBySignalID retrieves the position created for the given signal.
func (s *PositionStore) GetBySignalID(ctx context.Context, signalID string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE signal_id = $1
		 ORDER BY created_at DESC LIMIT 1`, signalID)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position by signal %s: %w", signalID, err)
	}
	return p, nil
}

// GetOpenPositions returns all open positions, newest first.
func (s *PositionStore) GetOpenPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open'
		 ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// GetOpenPositionBySymbol returns the open position for a symbol. The
// steady-state expectation is at most one; if transient duplicates exist the
// newest wins, and reconciliation flags the remainder.
func (s *PositionStore) GetOpenPositionBySymbol(ctx context.Context, symbol string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE symbol = $1 AND status = 'open'
		 ORDER BY created_at DESC LIMIT 1`, symbol)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get open position for %s: %w", symbol, err)
	}
	return p, nil
}

// GetLatestBySymbol returns the newest position record for a symbol in any
// status, or domain.ErrNotFound when the symbol was never traded.
func (s *PositionStore) GetLatestBySymbol(ctx context.Context, symbol string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE symbol = $1
		 ORDER BY created_at DESC LIMIT 1`, symbol)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get latest position for %s: %w", symbol, err)
	}
	return p, nil
}

// CountOpenByClass counts open executed positions in the given asset class.
// Theoretical and risk-blocked records do not consume sector-cap slots.
func (s *PositionStore) CountOpenByClass(ctx context.Context, class domain.AssetClass) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions
		 WHERE asset_class = $1 AND status = 'open' AND trade_type = 'executed'`,
		string(class),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count open positions for %s: %w", class, err)
	}
	return count, nil
}

// ListHistory returns positions with pagination and optional time filtering.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return positions, nil
}

// ListClosedBefore returns closed, unarchived positions closed strictly
// before the cutoff.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'closed' AND archived_at IS NULL AND closed_at < $1
		 ORDER BY closed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// MarkArchived stamps the given positions as archived at the given time.
func (s *PositionStore) MarkArchived(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE positions SET archived_at = $2, updated_at = NOW() WHERE id = ANY($1)`,
		ids, at)
	if err != nil {
		return fmt.Errorf("postgres: mark %d positions archived: %w", len(ids), err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
