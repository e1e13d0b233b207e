package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/feldrin/BookstoreGo/internal/directory"
	"github.com/feldrin/BookstoreGo/internal/domain"
	"github.com/feldrin/BookstoreGo/internal/event"
	"github.com/feldrin/BookstoreGo/internal/gateway"
	"github.com/feldrin/BookstoreGo/internal/repository"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// Refund processing actions.
const (
	RefundActionApprove = "approve"
	RefundActionDeny    = "deny"
)

// SubmitRefundInput holds the parameters for a customer refund request.
type SubmitRefundInput struct {
	OrderID string `json:"order_id" validate:"required,uuid"`
	Reason  string `json:"reason" validate:"required,min=10,max=1000"`
}

// ProcessRefundInput holds an admin decision on a refund request.
type ProcessRefundInput struct {
	Action string `json:"action" validate:"required,oneof=approve deny"`
	Notes  string `json:"notes" validate:"max=1000"`
}

// RefundService implements the refund workflow: customers submit requests
// against their paid orders, admins approve or deny them. Approval charges
// the provider back before any local state changes, so a failed provider
// refund leaves both the request and the order untouched.
type RefundService struct {
	refunds   repository.RefundRepository
	orders    repository.OrderRepository
	gateways  *gateway.Resolver
	directory directory.Directory
	producer  event.Publisher
	locks     *OrderLocks
	logger    *slog.Logger
}

// NewRefundService creates a new refund service.
func NewRefundService(
	refunds repository.RefundRepository,
	orders repository.OrderRepository,
	gateways *gateway.Resolver,
	dir directory.Directory,
	producer event.Publisher,
	locks *OrderLocks,
	logger *slog.Logger,
) *RefundService {
	return &RefundService{
		refunds:   refunds,
		orders:    orders,
		gateways:  gateways,
		directory: dir,
		producer:  producer,
		locks:     locks,
		logger:    logger,
	}
}

// Submit files a refund request for a paid order owned by the user. At most
// one pending request may exist per order.
func (s *RefundService) Submit(ctx context.Context, userID string, input SubmitRefundInput) (*domain.RefundRequest, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}

	order, err := s.orders.GetByID(ctx, input.OrderID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("order", input.OrderID)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order.UserID != userID {
		return nil, apperrors.Forbidden("you can only request refunds for your own orders")
	}
	if order.Status != domain.OrderStatusPaid {
		return nil, apperrors.Conflict(fmt.Sprintf("order in status %s is not refundable", order.Status))
	}

	pending, err := s.refunds.HasPendingForOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("check pending refunds: %w", err)
	}
	if pending {
		return nil, apperrors.Conflict("a refund request for this order is already pending")
	}

	now := time.Now().UTC()
	req := &domain.RefundRequest{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		UserID:    userID,
		Reason:    input.Reason,
		Status:    domain.RefundStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.refunds.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create refund request: %w", err)
	}

	s.logger.InfoContext(ctx, "refund request submitted",
		slog.String("refund_id", req.ID),
		slog.String("order_id", order.ID),
		slog.String("user_id", userID),
	)

	return req, nil
}

// Process applies an admin decision to a pending refund request. Approval
// refunds the payment with the provider first, then marks the request
// approved and the order refunded in one transaction.
func (s *RefundService) Process(ctx context.Context, adminID, requestID string, input ProcessRefundInput) (*domain.RefundRequest, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.IsProcessed() {
		return nil, apperrors.Conflict("refund request already processed")
	}

	switch input.Action {
	case RefundActionDeny:
		return s.deny(ctx, req, adminID, input.Notes)
	case RefundActionApprove:
		return s.approve(ctx, req, adminID, input.Notes)
	}
	return nil, apperrors.InvalidInput("unknown refund action: " + input.Action)
}

// Get retrieves a refund request by ID.
func (s *RefundService) Get(ctx context.Context, id string) (*domain.RefundRequest, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("refund request id is required")
	}

	req, err := s.refunds.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("refund request", id)
		}
		return nil, fmt.Errorf("get refund request: %w", err)
	}
	return req, nil
}

// List returns refund requests matching the filter with the total count.
func (s *RefundService) List(ctx context.Context, filter repository.RefundFilter) ([]domain.RefundRequest, int, error) {
	if filter.Status != nil && !domain.IsValidRefundStatus(*filter.Status) {
		return nil, 0, apperrors.InvalidInput("invalid refund status: " + *filter.Status)
	}
	return s.refunds.List(ctx, filter)
}

func (s *RefundService) deny(ctx context.Context, req *domain.RefundRequest, adminID, notes string) (*domain.RefundRequest, error) {
	if err := s.refunds.Deny(ctx, req.ID, adminID, notes); err != nil {
		return nil, fmt.Errorf("deny refund request: %w", err)
	}

	now := time.Now().UTC()
	req.Status = domain.RefundStatusDenied
	req.AdminNotes = notes
	req.ProcessedBy = adminID
	req.ProcessedAt = &now
	req.UpdatedAt = now

	s.logger.InfoContext(ctx, "refund request denied",
		slog.String("refund_id", req.ID),
		slog.String("order_id", req.OrderID),
		slog.String("admin_id", adminID),
	)

	return req, nil
}

func (s *RefundService) approve(ctx context.Context, req *domain.RefundRequest, adminID, notes string) (*domain.RefundRequest, error) {
	unlock := s.locks.Lock(req.OrderID)
	defer unlock()

	order, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("order", req.OrderID)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order.Status != domain.OrderStatusPaid {
		return nil, apperrors.Conflict(fmt.Sprintf("order in status %s is not refundable", order.Status))
	}

	providerPaymentID := order.ProviderPaymentID()
	if providerPaymentID == "" {
		return nil, apperrors.InvalidInput("order has no provider payment reference")
	}

	gw, err := s.gateways.Resolve(order.PaymentMethod)
	if err != nil {
		return nil, err
	}

	// The provider refund goes first. If it fails here, nothing has changed
	// locally and the admin can retry the approval.
	result, err := gw.Refund(ctx, providerPaymentID, order.Total)
	if err != nil {
		return nil, fmt.Errorf("refund payment: %w", err)
	}

	if err := s.refunds.Approve(ctx, req.ID, adminID, notes, order.ID); err != nil {
		// Money already moved; the ledger is now behind the provider. This
		// needs an operator, so make the log unmissable.
		s.logger.ErrorContext(ctx, "provider refund succeeded but ledger update failed",
			slog.String("refund_id", req.ID),
			slog.String("order_id", order.ID),
			slog.String("provider_refund_id", result.RefundID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("approve refund request: %w", err)
	}

	now := time.Now().UTC()
	req.Status = domain.RefundStatusApproved
	req.AdminNotes = notes
	req.ProcessedBy = adminID
	req.ProcessedAt = &now
	req.UpdatedAt = now
	order.Status = domain.OrderStatusRefunded

	if err := s.producer.PublishOrderRefunded(ctx, order, req.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.refunded event",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "refund request approved",
		slog.String("refund_id", req.ID),
		slog.String("order_id", order.ID),
		slog.String("admin_id", adminID),
		slog.String("provider_refund_id", result.RefundID),
	)

	return req, nil
}

func (s *RefundService) requireAdmin(ctx context.Context, adminID string) error {
	if adminID == "" {
		return apperrors.Unauthorized("admin id is required")
	}

	profile, err := s.directory.GetProfile(ctx, adminID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.Forbidden("refund processing requires an admin account")
		}
		return fmt.Errorf("get admin profile: %w", err)
	}
	if !profile.IsAdmin() {
		return apperrors.Forbidden("refund processing requires an admin account")
	}
	return nil
}
