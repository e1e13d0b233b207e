package gateway

import (
	"github.com/feldrin/BookstoreGo/internal/domain"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// Resolver maps an order's payment method to its gateway implementation.
// The provider set is closed; adding a provider means registering it here
// and nowhere else.
type Resolver struct {
	gateways map[string]Gateway
}

// NewResolver creates a resolver over the given gateways, keyed by
// payment method.
func NewResolver(gateways map[string]Gateway) *Resolver {
	return &Resolver{gateways: gateways}
}

// Resolve returns the gateway for the given payment method. An unknown
// method is an input error; a known method with no configured gateway is a
// GatewayUnavailable error so callers can distinguish misconfiguration from
// bad requests.
func (r *Resolver) Resolve(method string) (Gateway, error) {
	if !domain.IsValidPaymentMethod(method) {
		return nil, apperrors.InvalidInput("unknown payment method: " + method)
	}
	g, ok := r.gateways[method]
	if !ok {
		return nil, apperrors.GatewayUnavailable(method, apperrors.ErrServiceUnavail)
	}
	return g, nil
}
