package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-storefront-checkout/internal/money"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// Schema creates the relational ledger. provider_order_id is UNIQUE, which is
// the one-order-per-provider-order guarantee on this backend.
const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	order_id            TEXT PRIMARY KEY,
	user_id             TEXT,
	address_id          TEXT NOT NULL,
	items               JSONB NOT NULL,
	total_amount        NUMERIC NOT NULL,
	amount_minor        BIGINT NOT NULL,
	currency            TEXT NOT NULL,
	status              TEXT NOT NULL,
	provider_order_id   TEXT UNIQUE,
	provider_payment_id TEXT,
	provider_signature  TEXT,
	failure_reason      TEXT,
	attempts            INT NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL,
	paid_at             TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS orders_user_created_idx ON orders (user_id, created_at DESC);
`

const selectColumns = `order_id, COALESCE(user_id, ''), address_id, items, total_amount::text, amount_minor,
	currency, status, COALESCE(provider_order_id, ''), COALESCE(provider_payment_id, ''),
	COALESCE(provider_signature, ''), COALESCE(failure_reason, ''), attempts, created_at, updated_at, paid_at`

// PgxIface is the part of *pgxpool.Pool the ledger uses.
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore is the relational order ledger. It honours the same contract
// as Store.
type PostgresStore struct {
	db      PgxIface
	nowFunc func() time.Time
}

func NewPostgresStore(db PgxIface) *PostgresStore {
	return &PostgresStore{db: db, nowFunc: time.Now}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate orders schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, order *Order) error {
	if !order.LinesTotal().Equal(order.TotalAmount.Decimal) {
		return ErrTotalMismatch
	}
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = StatusCreated
	}
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	tag, err := s.db.Exec(ctx, `
		INSERT INTO orders (order_id, user_id, address_id, items, total_amount, amount_minor, currency, status, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5::numeric, $6, $7, $8, $9, $10)
		ON CONFLICT (order_id) DO NOTHING`,
		order.OrderID, order.UserID, order.AddressID, items, order.TotalAmount.String(), order.AmountMinor,
		order.Currency, order.Status, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *PostgresStore) AttachProviderOrder(ctx context.Context, orderID, providerOrderID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders SET provider_order_id = $2, updated_at = $3
		WHERE order_id = $1 AND provider_order_id IS NULL AND status = $4`,
		orderID, providerOrderID, s.nowFunc().UTC(), StatusCreated)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("attach %s to %s: %w", providerOrderID, orderID, ErrDuplicate)
		}
		return fmt.Errorf("attach provider order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attach %s to %s: %w", providerOrderID, orderID, ErrDuplicate)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.one(ctx, `SELECT `+selectColumns+` FROM orders WHERE order_id = $1`, orderID)
}

func (s *PostgresStore) GetByProviderOrderID(ctx context.Context, providerOrderID string) (*Order, error) {
	return s.one(ctx, `SELECT `+selectColumns+` FROM orders WHERE provider_order_id = $1`, providerOrderID)
}

func (s *PostgresStore) MarkPaid(ctx context.Context, providerOrderID, paymentID, signature string) error {
	now := s.nowFunc().UTC()
	return s.transition(ctx, providerOrderID, `
		UPDATE orders SET status = $2, provider_payment_id = $3, provider_signature = $4, paid_at = $5, updated_at = $5
		WHERE provider_order_id = $1 AND status = $6`,
		providerOrderID, StatusPaid, paymentID, signature, now, StatusCreated)
}

func (s *PostgresStore) RecordFailure(ctx context.Context, orderID, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders SET failure_reason = $2, updated_at = $3
		WHERE order_id = $1 AND status = $4`,
		orderID, reason, s.nowFunc().UTC(), StatusCreated)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusMismatch
	}
	return nil
}

func (s *PostgresStore) transition(ctx context.Context, providerOrderID, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE provider_order_id = $1)`, providerOrderID).Scan(&exists); err != nil {
		return fmt.Errorf("check order: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusMismatch
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error {
	tag, err := s.db.Exec(ctx, `UPDATE orders SET status = $3, updated_at = $4 WHERE order_id = $1 AND status = $2`,
		orderID, expectedStatus, newStatus, s.nowFunc().UTC())
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusMismatch
	}
	return nil
}

func (s *PostgresStore) IncrementAttempts(ctx context.Context, orderID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE orders SET attempts = attempts + 1, updated_at = $2 WHERE order_id = $1`,
		orderID, s.nowFunc().UTC())
	if err != nil {
		return fmt.Errorf("increment attempts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	rows, err := s.db.Query(ctx, `SELECT `+selectColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders by user: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) one(ctx context.Context, sql string, arg string) (*Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o     Order
		items []byte
		total string
	)
	err := row.Scan(&o.OrderID, &o.UserID, &o.AddressID, &items, &total, &o.AmountMinor,
		&o.Currency, &o.Status, &o.ProviderOrderID, &o.ProviderPaymentID,
		&o.ProviderSignature, &o.FailureReason, &o.Attempts, &o.CreatedAt, &o.UpdatedAt, &o.PaidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("parse total_amount: %w", err)
	}
	o.TotalAmount = money.NewAmount(d)
	return &o, nil
}
