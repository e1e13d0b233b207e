package postgres

import (
	"context"
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

// RefundRepository implements repository.RefundRepository using PostgreSQL.
type RefundRepository struct {
	pool database.DBTX
}

// NewRefundRepository creates a new PostgreSQL-backed refund repository.
func NewRefundRepository(pool database.DBTX) *RefundRepository {
	return &RefundRepository{pool: pool}
}

const refundColumns = `id, order_id, user_id, reason, status, admin_notes,
	processed_by, processed_at, created_at, updated_at`

// Create inserts a new refund request.
func (r *RefundRepository) Create(ctx context.Context, req *domain.RefundRequest) error {
	query := `
		INSERT INTO refund_requests (id, order_id, user_id, reason, status, admin_notes, processed_by, processed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		req.ID,
		req.OrderID,
		req.UserID,
		req.Reason,
		req.Status,
		req.AdminNotes,
		req.ProcessedBy,
		req.ProcessedAt,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund request: %w", err)
	}
	return nil
}

// GetByID retrieves a refund request by ID.
func (r *RefundRepository) GetByID(ctx context.Context, id string) (*domain.RefundRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM refund_requests WHERE id = $1`, refundColumns)

	var req domain.RefundRequest
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&req.ID,
		&req.OrderID,
		&req.UserID,
		&req.Reason,
		&req.Status,
		&req.AdminNotes,
		&req.ProcessedBy,
		&req.ProcessedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan refund request: %w", err)
	}
	return &req, nil
}

// HasPendingForOrder reports whether the order already has a pending request.
func (r *RefundRepository) HasPendingForOrder(ctx context.Context, orderID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM refund_requests WHERE order_id = $1 AND status = $2)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, orderID, domain.RefundStatusPending).Scan(&exists); err != nil {
		return false, fmt.Errorf("check pending refund request: %w", err)
	}
	return exists, nil
}

// List returns refund requests matching the given filter with the total count.
func (r *RefundRepository) List(ctx context.Context, filter repository.RefundFilter) ([]domain.RefundRequest, int, error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if filter.OrderID != nil {
		conditions = append(conditions, fmt.Sprintf("order_id = $%d", argIndex))
		args = append(args, *filter.OrderID)
		argIndex++
	}
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

	query := fmt.Sprintf(`
		SELECT %s, count(*) OVER() AS total_count
		FROM refund_requests
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		refundColumns, whereClause, argIndex, argIndex+1,
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
		return nil, 0, fmt.Errorf("list refund requests: %w", err)
	}
	defer rows.Close()

	var totalCount int
	requests := make([]domain.RefundRequest, 0)

	for rows.Next() {
		var req domain.RefundRequest
		if err := rows.Scan(
			&req.ID,
			&req.OrderID,
			&req.UserID,
			&req.Reason,
			&req.Status,
			&req.AdminNotes,
			&req.ProcessedBy,
			&req.ProcessedAt,
			&req.CreatedAt,
			&req.UpdatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan refund request row: %w", err)
		}
		requests = append(requests, req)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate refund request rows: %w", err)
	}

	return requests, totalCount, nil
}

// Deny marks a pending request as denied. The status guard in the WHERE
// clause keeps terminal requests terminal.
func (r *RefundRepository) Deny(ctx context.Context, id, adminID, notes string) error {
	query := `
		UPDATE refund_requests
		SET status = $1, admin_notes = $2, processed_by = $3, processed_at = $4, updated_at = $4
		WHERE id = $5 AND status = $6`

	ct, err := r.pool.Exec(ctx, query,
		domain.RefundStatusDenied, notes, adminID, time.Now().UTC(), id, domain.RefundStatusPending,
	)
	if err != nil {
		return fmt.Errorf("deny refund request: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.Conflict("refund request already processed")
	}
	return nil
}

// Approve marks a pending request as approved and moves its order to
// refunded in the same transaction.
func (r *RefundRepository) Approve(ctx context.Context, id, adminID, notes, orderID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	requestQuery := `
		UPDATE refund_requests
		SET status = $1, admin_notes = $2, processed_by = $3, processed_at = $4, updated_at = $4
		WHERE id = $5 AND status = $6`

	ct, err := tx.Exec(ctx, requestQuery,
		domain.RefundStatusApproved, notes, adminID, now, id, domain.RefundStatusPending,
	)
	if err != nil {
		return fmt.Errorf("approve refund request: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.Conflict("refund request already processed")
	}

	orderQuery := `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`

	ct, err = tx.Exec(ctx, orderQuery, domain.OrderStatusRefunded, now, orderID, domain.OrderStatusPaid)
	if err != nil {
		return fmt.Errorf("mark order refunded: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.Conflict("order is not in a refundable state")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
