package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/feldrin/BookstoreGo/internal/domain"
	"github.com/feldrin/BookstoreGo/pkg/database"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// DownloadRepository implements repository.DownloadRepository using PostgreSQL.
type DownloadRepository struct {
	pool database.DBTX
}

// NewDownloadRepository creates a new PostgreSQL-backed download repository.
func NewDownloadRepository(pool database.DBTX) *DownloadRepository {
	return &DownloadRepository{pool: pool}
}

const downloadColumns = `id, token, order_id, product_id, user_id, file_key,
	max_downloads, download_count, expires_at, is_active, last_ip,
	last_downloaded_at, created_at, updated_at`

// Create inserts a new download link.
func (r *DownloadRepository) Create(ctx context.Context, link *domain.DownloadLink) error {
	query := `
		INSERT INTO download_links (id, token, order_id, product_id, user_id, file_key, max_downloads, download_count, expires_at, is_active, last_ip, last_downloaded_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.pool.Exec(ctx, query,
		link.ID,
		link.Token,
		link.OrderID,
		link.ProductID,
		link.UserID,
		link.FileKey,
		link.MaxDownloads,
		link.DownloadCount,
		link.ExpiresAt,
		link.IsActive,
		link.LastIP,
		link.LastDownloadedAt,
		link.CreatedAt,
		link.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert download link: %w", err)
	}
	return nil
}

// GetByToken retrieves a download link by its token.
func (r *DownloadRepository) GetByToken(ctx context.Context, token string) (*domain.DownloadLink, error) {
	query := fmt.Sprintf(`SELECT %s FROM download_links WHERE token = $1`, downloadColumns)

	var l domain.DownloadLink
	err := r.pool.QueryRow(ctx, query, token).Scan(
		&l.ID,
		&l.Token,
		&l.OrderID,
		&l.ProductID,
		&l.UserID,
		&l.FileKey,
		&l.MaxDownloads,
		&l.DownloadCount,
		&l.ExpiresAt,
		&l.IsActive,
		&l.LastIP,
		&l.LastDownloadedAt,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan download link: %w", err)
	}
	return &l, nil
}

// ListByOrder returns all download links issued for an order.
func (r *DownloadRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.DownloadLink, error) {
	query := fmt.Sprintf(`SELECT %s FROM download_links WHERE order_id = $1 ORDER BY created_at`, downloadColumns)

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list download links: %w", err)
	}
	defer rows.Close()

	links := make([]domain.DownloadLink, 0)
	for rows.Next() {
		var l domain.DownloadLink
		if err := rows.Scan(
			&l.ID,
			&l.Token,
			&l.OrderID,
			&l.ProductID,
			&l.UserID,
			&l.FileKey,
			&l.MaxDownloads,
			&l.DownloadCount,
			&l.ExpiresAt,
			&l.IsActive,
			&l.LastIP,
			&l.LastDownloadedAt,
			&l.CreatedAt,
			&l.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan download link row: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate download link rows: %w", err)
	}
	return links, nil
}

// RegisterDownload increments the download count only while the link is
// still redeemable. The guard lives in the WHERE clause so two concurrent
// redemptions cannot push the count past its cap.
func (r *DownloadRepository) RegisterDownload(ctx context.Context, id string, ip string, at time.Time) (bool, error) {
	query := `
		UPDATE download_links
		SET download_count = download_count + 1,
		    last_ip = $1,
		    last_downloaded_at = $2,
		    updated_at = $2
		WHERE id = $3
		  AND is_active
		  AND download_count < max_downloads
		  AND expires_at > $2`

	ct, err := r.pool.Exec(ctx, query, ip, at, id)
	if err != nil {
		return false, fmt.Errorf("register download: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
