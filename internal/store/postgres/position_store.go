package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anirudhsk/optrader/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Status
// transitions are compare-and-swap updates (`WHERE status = ...`); the
// database row is the authoritative reservation, so two concurrent closure
// attempts can never both succeed.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, symbol, option_type, strike_price, expiry_date, lot_size,
	action, quantity, avg_entry_price, stop_loss, take_profit,
	status, opened_at, closed_at, exit_price, close_reason`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var optionType, action, status string
	var closeReason *string

	err := row.Scan(
		&p.ID, &p.Instrument.Symbol, &optionType, &p.Instrument.StrikePrice,
		&p.Instrument.ExpiryDate, &p.Instrument.LotSize,
		&action, &p.Quantity, &p.AvgEntryPrice,
		&p.StopLoss, &p.TakeProfit,
		&status, &p.OpenedAt, &p.ClosedAt, &p.ExitPrice, &closeReason,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Instrument.OptionType = domain.OptionType(optionType)
	p.Action = domain.OrderAction(action)
	p.Status = domain.PositionStatus(status)
	if closeReason != nil {
		r := domain.CloseReason(*closeReason)
		p.CloseReason = &r
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

// Create builds an open position from a filled order and inserts it.
func (s *PositionStore) Create(ctx context.Context, order domain.Order, fillPrice float64) (domain.Position, error) {
	pos, err := domain.NewPositionFromFill(uuid.New().String(), order, fillPrice, time.Now().UTC())
	if err != nil {
		return domain.Position{}, err
	}

	const query = `
		INSERT INTO positions (
			id, symbol, option_type, strike_price, expiry_date, lot_size,
			instrument_key, action, quantity, avg_entry_price,
			stop_loss, take_profit, status, opened_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, NOW()
		)`

	_, err = s.pool.Exec(ctx, query,
		pos.ID, pos.Instrument.Symbol, string(pos.Instrument.OptionType),
		pos.Instrument.StrikePrice, pos.Instrument.ExpiryDate, pos.Instrument.LotSize,
		pos.Instrument.Key(), string(pos.Action), pos.Quantity, pos.AvgEntryPrice,
		pos.StopLoss, pos.TakeProfit, string(pos.Status), pos.OpenedAt,
	)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: create position %s: %w", pos.ID, err)
	}
	return pos, nil
}

// Get retrieves a single position by id.
func (s *PositionStore) Get(ctx context.Context, id string) (domain.Position, error) {
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

// ListOpen returns all open positions in stable opened-at order.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open'
		 ORDER BY opened_at, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListOpenByInstrument returns open positions on one instrument.
func (s *PositionStore) ListOpenByInstrument(ctx context.Context, instrumentKey string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open' AND instrument_key = $1
		 ORDER BY opened_at, id`, instrumentKey)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions for %s: %w", instrumentKey, err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// Reserve transitions open→closing via a conditional update.
func (s *PositionStore) Reserve(ctx context.Context, id string) error {
	return s.swapStatus(ctx, id, domain.PositionStatusOpen, domain.PositionStatusClosing)
}

// Release reverses closing→open after a failed closure.
func (s *PositionStore) Release(ctx context.Context, id string) error {
	return s.swapStatus(ctx, id, domain.PositionStatusClosing, domain.PositionStatusOpen)
}

func (s *PositionStore) swapStatus(ctx context.Context, id string, from, to domain.PositionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET status = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("postgres: transition position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, id, from)
	}
	return nil
}

// transitionFailure distinguishes a missing row from a row in the wrong
// state after a zero-row conditional update.
func (s *PositionStore) transitionFailure(ctx context.Context, id string, want domain.PositionStatus) error {
	pos, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: position %s is %s, want %s", domain.ErrInvalidState, id, pos.Status, want)
}

// FinalizeClose transitions closing→closed and records the closure facts.
func (s *PositionStore) FinalizeClose(ctx context.Context, id string, reason domain.CloseReason, closePrice float64, closedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET
			status = 'closed',
			exit_price = $2,
			closed_at = $3,
			close_reason = $4,
			updated_at = NOW()
		 WHERE id = $1 AND status = 'closing'`,
		id, closePrice, closedAt, string(reason))
	if err != nil {
		return fmt.Errorf("postgres: finalize close %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, id, domain.PositionStatusClosing)
	}
	return nil
}

// UpdateRules replaces the bracket of an open position, re-validating the
// invariant against the stored entry price.
func (s *PositionStore) UpdateRules(ctx context.Context, id string, stopLoss, takeProfit *float64) (domain.Position, error) {
	pos, err := s.Get(ctx, id)
	if err != nil {
		return domain.Position{}, err
	}
	if pos.Status != domain.PositionStatusOpen {
		return domain.Position{}, fmt.Errorf("%w: position %s is %s, rules are mutable only while open", domain.ErrInvalidState, id, pos.Status)
	}
	if err := domain.ValidateBracket(pos.Action, pos.AvgEntryPrice, stopLoss, takeProfit); err != nil {
		return domain.Position{}, err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET stop_loss = $2, take_profit = $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'open'`,
		id, stopLoss, takeProfit)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: update rules %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// The position left the open state between the read and the write.
		return domain.Position{}, s.transitionFailure(ctx, id, domain.PositionStatusOpen)
	}

	pos.StopLoss = stopLoss
	pos.TakeProfit = takeProfit
	return pos, nil
}

// ReopenStale sweeps closing positions back to open. Run once at startup: a
// closure that was never confirmed did not happen, and the position must be
// re-armed for monitoring.
func (s *PositionStore) ReopenStale(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET status = 'open', updated_at = NOW()
		 WHERE status = 'closing'`)
	if err != nil {
		return 0, fmt.Errorf("postgres: reopen stale positions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListClosedBefore returns closed positions older than the cutoff, oldest
// first.
func (s *PositionStore) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'closed' AND closed_at < $1
		 ORDER BY closed_at
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// DeleteClosed removes archived closed positions.
func (s *PositionStore) DeleteClosed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE id = ANY($1) AND status = 'closed'`, ids)
	if err != nil {
		return fmt.Errorf("postgres: delete closed positions: %w", err)
	}
	return nil
}

// ListHistory returns positions with pagination and optional time filters,
// newest first.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE TRUE`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

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

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
