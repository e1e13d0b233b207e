// Package postgres provides the PostgreSQL-backed repositories.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/feldrin/BookstoreGo/internal/domain"
	"github.com/feldrin/BookstoreGo/internal/repository"
	"github.com/feldrin/BookstoreGo/pkg/database"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	pool database.DBTX
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool database.DBTX) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `o.id, o.user_id, o.customer_email, o.customer_name, o.status,
	o.subtotal, o.tax, o.total, o.currency, o.payment_method,
	o.stripe_payment_intent_id, o.stripe_session_id, o.mercado_pago_payment_id,
	o.ip_address, o.user_agent, o.created_at, o.updated_at`

// Create inserts a new order and its items atomically within a transaction.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	orderQuery := `
		INSERT INTO orders (id, user_id, customer_email, customer_name, status, subtotal, tax, total, currency, payment_method, stripe_payment_intent_id, stripe_session_id, mercado_pago_payment_id, ip_address, user_agent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = tx.Exec(ctx, orderQuery,
		o.ID,
		o.UserID,
		o.CustomerEmail,
		o.CustomerName,
		o.Status,
		o.Subtotal,
		o.Tax,
		o.Total,
		o.Currency,
		o.PaymentMethod,
		o.StripePaymentIntentID,
		o.StripeSessionID,
		o.MercadoPagoPaymentID,
		o.IPAddress,
		o.UserAgent,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, product_id, product_name, product_slug, price, quantity, subtotal, file_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, item := range o.Items {
		_, err = tx.Exec(ctx, itemQuery,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.ProductName,
			item.ProductSlug,
			item.Price,
			item.Quantity,
			item.Subtotal,
			item.FileKey,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves an order by its ID, eagerly loading its items with a
// single LEFT JOIN + JSONB_AGG query.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOne(ctx, "o.id = $1", id)
}

// GetByProviderPaymentID retrieves the order carrying the given provider
// payment reference.
func (r *OrderRepository) GetByProviderPaymentID(ctx context.Context, method, providerPaymentID string) (*domain.Order, error) {
	switch method {
	case domain.PaymentMethodStripe:
		return r.getOne(ctx, "(o.stripe_payment_intent_id = $1 OR o.stripe_session_id = $1)", providerPaymentID)
	case domain.PaymentMethodMercadoPago:
		return r.getOne(ctx, "o.mercado_pago_payment_id = $1", providerPaymentID)
	}
	return nil, apperrors.InvalidInput("unknown payment method: " + method)
}

func (r *OrderRepository) getOne(ctx context.Context, where string, arg any) (*domain.Order, error) {
	query := fmt.Sprintf(`
		SELECT %s,
			COALESCE(
				JSONB_AGG(
					JSONB_BUILD_OBJECT(
						'id', oi.id,
						'order_id', oi.order_id,
						'product_id', oi.product_id,
						'product_name', oi.product_name,
						'product_slug', oi.product_slug,
						'price', oi.price,
						'quantity', oi.quantity,
						'subtotal', oi.subtotal,
						'file_key', oi.file_key
					) ORDER BY oi.id
				) FILTER (WHERE oi.id IS NOT NULL),
				'[]'::jsonb
			) AS items
		FROM orders o
		LEFT JOIN order_items oi ON o.id = oi.order_id
		WHERE %s
		GROUP BY o.id`, orderColumns, where)

	var (
		o         domain.Order
		itemsJSON []byte
	)

	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&o.ID,
		&o.UserID,
		&o.CustomerEmail,
		&o.CustomerName,
		&o.Status,
		&o.Subtotal,
		&o.Tax,
		&o.Total,
		&o.Currency,
		&o.PaymentMethod,
		&o.StripePaymentIntentID,
		&o.StripeSessionID,
		&o.MercadoPagoPaymentID,
		&o.IPAddress,
		&o.UserAgent,
		&o.CreatedAt,
		&o.UpdatedAt,
		&itemsJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if len(itemsJSON) > 0 && string(itemsJSON) != "null" && string(itemsJSON) != "[]" {
		if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
			return nil, fmt.Errorf("unmarshal order items: %w", err)
		}
	} else {
		o.Items = []domain.OrderItem{}
	}

	return &o, nil
}

// List returns orders matching the given filter with the total count.
func (r *OrderRepository) List(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if filter.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIndex))
		args = append(args, *filter.UserID)
		argIndex++
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// count(*) OVER() gives the total count in a single query.
	query := fmt.Sprintf(`
		SELECT id, user_id, customer_email, customer_name, status, subtotal, tax, total, currency, payment_method,
			   stripe_payment_intent_id, stripe_session_id, mercado_pago_payment_id, ip_address, user_agent, created_at, updated_at,
			   count(*) OVER() AS total_count
		FROM orders
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		whereClause, argIndex, argIndex+1,
	)

	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}

	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var totalCount int
	orders := make([]domain.Order, 0)

	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(
			&o.ID,
			&o.UserID,
			&o.CustomerEmail,
			&o.CustomerName,
			&o.Status,
			&o.Subtotal,
			&o.Tax,
			&o.Total,
			&o.Currency,
			&o.PaymentMethod,
			&o.StripePaymentIntentID,
			&o.StripeSessionID,
			&o.MercadoPagoPaymentID,
			&o.IPAddress,
			&o.UserAgent,
			&o.CreatedAt,
			&o.UpdatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}

	// Batch-load items for all orders in a single query to avoid N+1.
	if len(orders) > 0 {
		orderIDs := make([]string, len(orders))
		for i := range orders {
			orderIDs[i] = orders[i].ID
		}

		itemsQuery := `
			SELECT id, order_id, product_id, product_name, product_slug, price, quantity, subtotal, file_key
			FROM order_items
			WHERE order_id = ANY($1)
			ORDER BY id`

		itemRows, err := r.pool.Query(ctx, itemsQuery, orderIDs)
		if err != nil {
			return nil, 0, fmt.Errorf("batch load order items: %w", err)
		}
		defer itemRows.Close()

		itemsByOrderID := make(map[string][]domain.OrderItem, len(orders))
		for itemRows.Next() {
			var item domain.OrderItem
			if err := itemRows.Scan(
				&item.ID,
				&item.OrderID,
				&item.ProductID,
				&item.ProductName,
				&item.ProductSlug,
				&item.Price,
				&item.Quantity,
				&item.Subtotal,
				&item.FileKey,
			); err != nil {
				return nil, 0, fmt.Errorf("scan order item: %w", err)
			}
			itemsByOrderID[item.OrderID] = append(itemsByOrderID[item.OrderID], item)
		}
		if err := itemRows.Err(); err != nil {
			return nil, 0, fmt.Errorf("iterate batch order item rows: %w", err)
		}

		for i := range orders {
			if items, ok := itemsByOrderID[orders[i].ID]; ok {
				orders[i].Items = items
			} else {
				orders[i].Items = []domain.OrderItem{}
			}
		}
	}

	return orders, totalCount, nil
}

// SetProviderRefs records provider payment references on an order.
func (r *OrderRepository) SetProviderRefs(ctx context.Context, id string, refs repository.ProviderRefs) error {
	query := `
		UPDATE orders
		SET stripe_payment_intent_id = COALESCE(NULLIF($1, ''), stripe_payment_intent_id),
		    stripe_session_id = COALESCE(NULLIF($2, ''), stripe_session_id),
		    mercado_pago_payment_id = COALESCE(NULLIF($3, ''), mercado_pago_payment_id),
		    updated_at = $4
		WHERE id = $5`

	ct, err := r.pool.Exec(ctx, query,
		refs.StripePaymentIntentID,
		refs.StripeSessionID,
		refs.MercadoPagoPaymentID,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("set provider refs: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("order", id)
	}
	return nil
}

// UpdateStatus changes the status of an order and records any provider refs
// learned from the status change.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status string, refs repository.ProviderRefs) error {
	query := `
		UPDATE orders
		SET status = $1,
		    stripe_payment_intent_id = COALESCE(NULLIF($2, ''), stripe_payment_intent_id),
		    stripe_session_id = COALESCE(NULLIF($3, ''), stripe_session_id),
		    mercado_pago_payment_id = COALESCE(NULLIF($4, ''), mercado_pago_payment_id),
		    updated_at = $5
		WHERE id = $6`

	ct, err := r.pool.Exec(ctx, query,
		status,
		refs.StripePaymentIntentID,
		refs.StripeSessionID,
		refs.MercadoPagoPaymentID,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("order", id)
	}
	return nil
}
