package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type Repository interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error)
	GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error)
	GetOrdersByStatus(ctx context.Context, status OrderStatus) ([]Order, error)
	GetAllOrders(ctx context.Context) ([]Order, error)
	GetUserStats(ctx context.Context, userID uuid.UUID) (*UserStats, error)
	// UpdateOrder locks the order, lets mutate change it and writes it back
	// in one transaction. An error from mutate aborts the update and is
	// returned as is.
	UpdateOrder(ctx context.Context, id uuid.UUID, mutate func(*Order) error) (*Order, error)
	// ApplyPaymentEvent behaves like UpdateOrder but runs mutate at most once
	// per eventKey. applied is false when eventKey was already processed.
	ApplyPaymentEvent(ctx context.Context, id uuid.UUID, eventKey string, mutate func(*Order) error) (order *Order, applied bool, err error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `
	id, order_number, user_id, user_email, user_name,
	street, city, postal_code, country, phone,
	total_amount, tax_amount, shipping_cost, final_amount,
	status, payment_status, payment_method, payment_reference, tracking_number, notes,
	created_at, updated_at, paid_at, shipped_at, delivered_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *postgresRepository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Msg("repository: panic recovered, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("repository: failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("repository: failed to rollback transaction")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(tx)
}

func (r *postgresRepository) CreateOrder(ctx context.Context, o *Order) error {
	if o.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		o.ID = id
	}

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	return r.withTx(ctx, func(tx pgx.Tx) error {
		queryOrder := `
			INSERT INTO order_service.orders (` + orderColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`

		_, err := tx.Exec(ctx, queryOrder,
			o.ID, o.OrderNumber, o.UserID, o.UserEmail, o.UserName,
			o.ShippingAddress.Street, o.ShippingAddress.City, o.ShippingAddress.PostalCode, o.ShippingAddress.Country, o.ShippingAddress.Phone,
			o.TotalAmount, o.TaxAmount, o.ShippingCost, o.FinalAmount,
			string(o.Status), string(o.PaymentStatus), o.PaymentMethod, o.PaymentReference, o.TrackingNumber, o.Notes,
			o.CreatedAt, o.UpdatedAt, o.PaidAt, o.ShippedAt, o.DeliveredAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, o.OrderNumber)
			}
			return fmt.Errorf("repository: failed to insert order: %w", err)
		}

		queryItem := `
			INSERT INTO order_service.order_items (id, order_id, position, book_id, title, author, isbn, price, quantity, total_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

		for i := range o.Items {
			item := &o.Items[i]
			itemID, err := uuid.NewV4()
			if err != nil {
				return fmt.Errorf("repository: failed to generate order item ID: %w", err)
			}
			item.ID = itemID
			item.OrderID = o.ID

			_, err = tx.Exec(ctx, queryItem,
				item.ID, item.OrderID, i, item.BookID, item.Title, item.Author, item.ISBN,
				item.Price, item.Quantity, item.TotalPrice,
			)
			if err != nil {
				return fmt.Errorf("repository: failed to insert order item for order %s: %w", o.ID, err)
			}
		}
		return nil
	})
}

func (r *postgresRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM order_service.orders WHERE id = $1`
	return r.getOne(ctx, r.db, query, id)
}

func (r *postgresRepository) GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM order_service.orders WHERE order_number = $1`
	return r.getOne(ctx, r.db, query, orderNumber)
}

func (r *postgresRepository) GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM order_service.orders WHERE user_id = $1 ORDER BY created_at DESC`
	return r.getMany(ctx, query, userID)
}

func (r *postgresRepository) GetOrdersByStatus(ctx context.Context, status OrderStatus) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM order_service.orders WHERE status = $1 ORDER BY created_at DESC`
	return r.getMany(ctx, query, string(status))
}

func (r *postgresRepository) GetAllOrders(ctx context.Context) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM order_service.orders ORDER BY created_at DESC`
	return r.getMany(ctx, query)
}

func (r *postgresRepository) GetUserStats(ctx context.Context, userID uuid.UUID) (*UserStats, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(final_amount), 0)
		FROM order_service.orders
		WHERE user_id = $1 AND status <> $2`

	stats := UserStats{UserID: userID}
	if err := r.db.QueryRow(ctx, query, userID, string(StatusCancelled)).Scan(&stats.OrderCount, &stats.TotalSpent); err != nil {
		return nil, fmt.Errorf("repository: failed to compute stats for user %s: %w", userID, err)
	}
	return &stats, nil
}

func (r *postgresRepository) UpdateOrder(ctx context.Context, id uuid.UUID, mutate func(*Order) error) (*Order, error) {
	var updated *Order
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		o, err := r.lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := mutate(o); err != nil {
			return err
		}
		if err := r.writeBack(ctx, tx, o); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *postgresRepository) ApplyPaymentEvent(ctx context.Context, id uuid.UUID, eventKey string, mutate func(*Order) error) (*Order, bool, error) {
	var (
		result  *Order
		applied bool
	)
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		o, err := r.lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO order_service.processed_payment_events (event_key, order_id)
			VALUES ($1, $2)
			ON CONFLICT (event_key) DO NOTHING`, eventKey, id)
		if err != nil {
			return fmt.Errorf("repository: failed to record payment event %s: %w", eventKey, err)
		}
		result = o
		if tag.RowsAffected() == 0 {
			return nil
		}

		if err := mutate(o); err != nil {
			return err
		}
		if err := r.writeBack(ctx, tx, o); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, applied, nil
}

func (r *postgresRepository) lockOrder(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM order_service.orders WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, tx, query, id)
}

func (r *postgresRepository) writeBack(ctx context.Context, tx pgx.Tx, o *Order) error {
	o.Recalculate()
	o.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE order_service.orders SET
			total_amount = $2, tax_amount = $3, shipping_cost = $4, final_amount = $5,
			status = $6, payment_status = $7, payment_reference = $8, tracking_number = $9, notes = $10,
			updated_at = $11, paid_at = $12, shipped_at = $13, delivered_at = $14
		WHERE id = $1`

	tag, err := tx.Exec(ctx, query,
		o.ID,
		o.TotalAmount, o.TaxAmount, o.ShippingCost, o.FinalAmount,
		string(o.Status), string(o.PaymentStatus), o.PaymentReference, o.TrackingNumber, o.Notes,
		o.UpdatedAt, o.PaidAt, o.ShippedAt, o.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	for _, item := range o.Items {
		if _, err := tx.Exec(ctx, `UPDATE order_service.order_items SET total_price = $1 WHERE id = $2`, item.TotalPrice, item.ID); err != nil {
			return fmt.Errorf("repository: failed to update order item %s: %w", item.ID, err)
		}
	}
	return nil
}

func (r *postgresRepository) getOne(ctx context.Context, q querier, query string, arg any) (*Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to fetch order: %w", err)
	}

	items, err := loadItems(ctx, q, []uuid.UUID{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (r *postgresRepository) getMany(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []Order
		ids    []uuid.UUID
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed to iterate orders: %w", err)
	}
	if len(orders) == 0 {
		return []Order{}, nil
	}

	items, err := loadItems(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o             Order
		status        string
		paymentStatus string
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.UserEmail, &o.UserName,
		&o.ShippingAddress.Street, &o.ShippingAddress.City, &o.ShippingAddress.PostalCode, &o.ShippingAddress.Country, &o.ShippingAddress.Phone,
		&o.TotalAmount, &o.TaxAmount, &o.ShippingCost, &o.FinalAmount,
		&status, &paymentStatus, &o.PaymentMethod, &o.PaymentReference, &o.TrackingNumber, &o.Notes,
		&o.CreatedAt, &o.UpdatedAt, &o.PaidAt, &o.ShippedAt, &o.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = OrderStatus(status)
	o.PaymentStatus = PaymentStatus(paymentStatus)
	return &o, nil
}

func loadItems(ctx context.Context, q querier, orderIDs []uuid.UUID) (map[uuid.UUID][]OrderItem, error) {
	ids := make([]string, len(orderIDs))
	for i, id := range orderIDs {
		ids[i] = id.String()
	}

	query := `
		SELECT id, order_id, book_id, title, author, isbn, price, quantity, total_price
		FROM order_service.order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position`

	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	items := make(map[uuid.UUID][]OrderItem, len(orderIDs))
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.BookID, &item.Title, &item.Author, &item.ISBN, &item.Price, &item.Quantity, &item.TotalPrice); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed to iterate order items: %w", err)
	}
	return items, nil
}
