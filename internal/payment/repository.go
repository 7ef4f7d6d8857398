package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByReference(ctx context.Context, reference string) (*Payment, error)
	// ListByOrderID returns the payments of an order, newest first.
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]Payment, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]Payment, error)
	ListByStatus(ctx context.Context, status Status) ([]Payment, error)
	ListAll(ctx context.Context) ([]Payment, error)
	// Update writes p only if the stored status still equals expected and
	// returns ErrStaleStatus otherwise.
	Update(ctx context.Context, p *Payment, expected Status) error
	Stats(ctx context.Context, since time.Time) (*Stats, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

const paymentColumns = `id, payment_reference, order_id, order_number, user_id, user_email, amount, currency,
	status, payment_method, card_last_four, card_brand, gateway_transaction_id, gateway_response,
	description, created_at, updated_at, paid_at`

func (r *postgresRepository) Create(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate payment ID: %w", err)
		}
		p.ID = id
	}

	query := `
		INSERT INTO payment_service.payments (` + paymentColumns + `)
		VALUES (:id, :payment_reference, :order_id, :order_number, :user_id, :user_email, :amount, :currency,
			:status, :payment_method, :card_last_four, :card_brand, :gateway_transaction_id, :gateway_response,
			:description, :created_at, :updated_at, :paid_at)`

	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateReference, p.PaymentReference)
		}
		return fmt.Errorf("repository: failed to insert payment: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payment_service.payments WHERE id = $1`, id)
}

func (r *postgresRepository) GetByReference(ctx context.Context, reference string) (*Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payment_service.payments WHERE payment_reference = $1`, reference)
}

func (r *postgresRepository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]Payment, error) {
	return r.getMany(ctx, `SELECT `+paymentColumns+` FROM payment_service.payments WHERE order_id = $1 ORDER BY created_at DESC`, orderID)
}

func (r *postgresRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]Payment, error) {
	return r.getMany(ctx, `SELECT `+paymentColumns+` FROM payment_service.payments WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (r *postgresRepository) ListByStatus(ctx context.Context, status Status) ([]Payment, error) {
	return r.getMany(ctx, `SELECT `+paymentColumns+` FROM payment_service.payments WHERE status = $1 ORDER BY created_at DESC`, string(status))
}

func (r *postgresRepository) ListAll(ctx context.Context) ([]Payment, error) {
	return r.getMany(ctx, `SELECT `+paymentColumns+` FROM payment_service.payments ORDER BY created_at DESC`)
}

func (r *postgresRepository) Update(ctx context.Context, p *Payment, expected Status) error {
	query := `
		UPDATE payment_service.payments SET
			amount = $3, status = $4, payment_method = $5, card_last_four = $6, card_brand = $7,
			gateway_transaction_id = $8, gateway_response = $9, description = $10,
			updated_at = $11, paid_at = $12
		WHERE id = $1 AND status = $2`

	res, err := r.db.ExecContext(ctx, query,
		p.ID, string(expected),
		p.Amount, string(p.Status), string(p.PaymentMethod), p.CardLastFour, p.CardBrand,
		p.GatewayTransactionID, p.GatewayResponse, p.Description,
		p.UpdatedAt, p.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update payment %s: %w", p.ID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: failed to read affected rows for payment %s: %w", p.ID, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: payment %s is no longer %s", ErrStaleStatus, p.ID, expected)
	}
	return nil
}

func (r *postgresRepository) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	stats := &Stats{PaymentsByMethod: map[string]int64{}}

	revenueQuery := `
		SELECT COALESCE(SUM(amount), 0) FROM payment_service.payments
		WHERE status = $1 AND created_at >= $2`
	var revenue decimal.Decimal
	if err := r.db.GetContext(ctx, &revenue, revenueQuery, string(StatusSucceeded), since); err != nil {
		return nil, fmt.Errorf("repository: failed to sum revenue: %w", err)
	}
	stats.TotalRevenueLast30Days = revenue

	countQuery := `SELECT COUNT(*) FROM payment_service.payments WHERE status = $1`
	if err := r.db.GetContext(ctx, &stats.SucceededCount, countQuery, string(StatusSucceeded)); err != nil {
		return nil, fmt.Errorf("repository: failed to count succeeded payments: %w", err)
	}

	byMethodQuery := `
		SELECT payment_method, COUNT(*) AS count FROM payment_service.payments
		WHERE status = $1 GROUP BY payment_method`
	var rows []struct {
		Method string `db:"payment_method"`
		Count  int64  `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, byMethodQuery, string(StatusSucceeded)); err != nil {
		return nil, fmt.Errorf("repository: failed to count payments by method: %w", err)
	}
	for _, row := range rows {
		stats.PaymentsByMethod[row.Method] = row.Count
	}
	return stats, nil
}

func (r *postgresRepository) getOne(ctx context.Context, query string, arg any) (*Payment, error) {
	var p Payment
	if err := r.db.GetContext(ctx, &p, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("repository: failed to fetch payment: %w", err)
	}
	return &p, nil
}

func (r *postgresRepository) getMany(ctx context.Context, query string, args ...any) ([]Payment, error) {
	payments := []Payment{}
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, fmt.Errorf("repository: failed to list payments: %w", err)
	}
	return payments, nil
}
