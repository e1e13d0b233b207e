package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/feldrin/BookstoreGo/internal/domain"
	"github.com/feldrin/BookstoreGo/internal/event"
	"github.com/feldrin/BookstoreGo/internal/repository"
	"github.com/feldrin/BookstoreGo/internal/storage"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// Download link defaults.
const (
	// DefaultMaxDownloads is how many times a link can be redeemed.
	DefaultMaxDownloads = 5
	// DefaultLinkValidity is how long a link stays redeemable.
	DefaultLinkValidity = 7 * 24 * time.Hour
	// tokenBytes is the entropy of a download token before hex encoding.
	tokenBytes = 32
)

// DownloadView is a download link together with its resolved file URL. The
// URL is only present while the link is redeemable.
type DownloadView struct {
	*domain.DownloadLink
	FileURL string `json:"file_url,omitempty"`
}

// DownloadService issues and redeems download links for purchased files.
type DownloadService struct {
	repo         repository.DownloadRepository
	files        storage.Resolver
	producer     event.Publisher
	logger       *slog.Logger
	maxDownloads int
	validity     time.Duration
	now          func() time.Time
}

// NewDownloadService creates a new download service.
func NewDownloadService(
	repo repository.DownloadRepository,
	files storage.Resolver,
	producer event.Publisher,
	logger *slog.Logger,
	maxDownloads int,
	validity time.Duration,
) *DownloadService {
	if maxDownloads <= 0 {
		maxDownloads = DefaultMaxDownloads
	}
	if validity <= 0 {
		validity = DefaultLinkValidity
	}
	return &DownloadService{
		repo:         repo,
		files:        files,
		producer:     producer,
		logger:       logger,
		maxDownloads: maxDownloads,
		validity:     validity,
		now:          time.Now,
	}
}

// IssueForOrder issues one download link per order item that carries a file.
// Items without a file key (physical add-ons, bundles resolved elsewhere)
// are skipped.
func (s *DownloadService) IssueForOrder(ctx context.Context, order *domain.Order) ([]domain.DownloadLink, error) {
	now := s.now().UTC()
	links := make([]domain.DownloadLink, 0, len(order.Items))

	for _, item := range order.Items {
		if item.FileKey == "" {
			continue
		}

		token, err := newToken()
		if err != nil {
			return nil, fmt.Errorf("generate download token: %w", err)
		}

		link := domain.DownloadLink{
			ID:            uuid.New().String(),
			Token:         token,
			OrderID:       order.ID,
			ProductID:     item.ProductID,
			UserID:        order.UserID,
			FileKey:       item.FileKey,
			MaxDownloads:  s.maxDownloads,
			DownloadCount: 0,
			ExpiresAt:     now.Add(s.validity),
			IsActive:      true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		if err := s.repo.Create(ctx, &link); err != nil {
			return nil, fmt.Errorf("create download link: %w", err)
		}
		links = append(links, link)

		if err := s.producer.PublishDownloadIssued(ctx, &link); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish download.issued event",
				slog.String("link_id", link.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "download links issued",
		slog.String("order_id", order.ID),
		slog.Int("count", len(links)),
	)

	return links, nil
}

// Get returns the link metadata for a token, resolving the file URL while
// the link is still redeemable.
func (s *DownloadService) Get(ctx context.Context, token string) (*DownloadView, error) {
	link, err := s.getByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	view := &DownloadView{DownloadLink: link}
	if link.Redeemable(s.now().UTC()) {
		url, err := s.files.FileURL(ctx, link.FileKey)
		if err != nil {
			return nil, fmt.Errorf("resolve file url: %w", err)
		}
		view.FileURL = url
	}
	return view, nil
}

// ListByOrder returns all links issued for an order.
func (s *DownloadService) ListByOrder(ctx context.Context, orderID string) ([]domain.DownloadLink, error) {
	if orderID == "" {
		return nil, apperrors.InvalidInput("order id is required")
	}
	return s.repo.ListByOrder(ctx, orderID)
}

// Track redeems one download against the link. A deactivated link is a
// conflict; an expired or exhausted one is gone. Failed redemptions never
// mutate the link.
func (s *DownloadService) Track(ctx context.Context, token, ip string) (*DownloadView, error) {
	link, err := s.getByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := classifyLink(link, now); err != nil {
		return nil, err
	}

	ok, err := s.repo.RegisterDownload(ctx, link.ID, ip, now)
	if err != nil {
		return nil, fmt.Errorf("register download: %w", err)
	}
	if !ok {
		// Lost a race with another redemption; re-read to classify.
		link, err = s.getByToken(ctx, token)
		if err != nil {
			return nil, err
		}
		if err := classifyLink(link, now); err != nil {
			return nil, err
		}
		return nil, apperrors.Conflict("download could not be registered, please retry")
	}

	link.DownloadCount++
	link.LastIP = ip
	link.LastDownloadedAt = &now
	link.UpdatedAt = now

	url, err := s.files.FileURL(ctx, link.FileKey)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}

	s.logger.InfoContext(ctx, "download tracked",
		slog.String("link_id", link.ID),
		slog.String("order_id", link.OrderID),
		slog.Int("download_count", link.DownloadCount),
	)

	return &DownloadView{DownloadLink: link, FileURL: url}, nil
}

func (s *DownloadService) getByToken(ctx context.Context, token string) (*domain.DownloadLink, error) {
	if token == "" {
		return nil, apperrors.InvalidInput("download token is required")
	}

	link, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("download link", token)
		}
		return nil, fmt.Errorf("get download link: %w", err)
	}
	return link, nil
}

// classifyLink maps an unredeemable link to its error. Deactivation is an
// administrative state, so it is reported before expiry or exhaustion.
func classifyLink(link *domain.DownloadLink, now time.Time) error {
	switch {
	case !link.IsActive:
		return apperrors.Conflict("download link has been deactivated")
	case link.IsExpired(now):
		return apperrors.Gone("download link has expired")
	case link.IsExhausted():
		return apperrors.Gone("download limit reached")
	}
	return nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
