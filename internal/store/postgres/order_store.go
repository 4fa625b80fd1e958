package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anirudhsk/optrader/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. Terminal states
// are enforced with conditional updates so a filled or rejected order can
// never change again.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, symbol, option_type, strike_price, expiry_date, lot_size,
	action, order_type, limit_price, quantity, stop_loss, take_profit,
	status, reject_reason, fill_price, filled_at, created_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var optionType, action, orderType, status string

	err := row.Scan(
		&o.ID, &o.Instrument.Symbol, &optionType, &o.Instrument.StrikePrice,
		&o.Instrument.ExpiryDate, &o.Instrument.LotSize,
		&action, &orderType, &o.LimitPrice, &o.Quantity,
		&o.StopLoss, &o.TakeProfit,
		&status, &o.RejectReason, &o.FillPrice, &o.FilledAt, &o.CreatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Instrument.OptionType = domain.OptionType(optionType)
	o.Action = domain.OrderAction(action)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// Create inserts a new order record.
func (s *OrderStore) Create(ctx context.Context, order domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, symbol, option_type, strike_price, expiry_date, lot_size,
			action, order_type, limit_price, quantity, stop_loss, take_profit,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		order.ID, order.Instrument.Symbol, string(order.Instrument.OptionType),
		order.Instrument.StrikePrice, order.Instrument.ExpiryDate, order.Instrument.LotSize,
		string(order.Action), string(order.Type), order.LimitPrice, order.Quantity,
		order.StopLoss, order.TakeProfit, string(order.Status), order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", order.ID, err)
	}
	return nil
}

// Get retrieves a single order by id.
func (s *OrderStore) Get(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// MarkFilled moves an order to its terminal filled state.
func (s *OrderStore) MarkFilled(ctx context.Context, id string, fillPrice float64, filledAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = 'filled', fill_price = $2, filled_at = $3, updated_at = NOW()
		 WHERE id = $1 AND status NOT IN ('filled', 'rejected')`,
		id, fillPrice, filledAt)
	if err != nil {
		return fmt.Errorf("postgres: mark order %s filled: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.finalizeFailure(ctx, id)
	}
	return nil
}

// MarkRejected moves an order to its terminal rejected state, preserving the
// broker's reason verbatim.
func (s *OrderStore) MarkRejected(ctx context.Context, id string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = 'rejected', reject_reason = $2, updated_at = NOW()
		 WHERE id = $1 AND status NOT IN ('filled', 'rejected')`,
		id, reason)
	if err != nil {
		return fmt.Errorf("postgres: mark order %s rejected: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.finalizeFailure(ctx, id)
	}
	return nil
}

func (s *OrderStore) finalizeFailure(ctx context.Context, id string) error {
	order, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: order %s already %s", domain.ErrInvalidState, id, order.Status)
}

// ListRecent returns orders newest first.
func (s *OrderStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
