package domain

import "time"

// Order status constants.
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusCancelled = "cancelled"
	OrderStatusRefunded  = "refunded"
)

// Payment method constants.
const (
	PaymentMethodStripe      = "stripe"
	PaymentMethodMercadoPago = "mercado_pago"
)

// Supported currencies.
const (
	CurrencyUSD = "USD"
	CurrencyBRL = "BRL"
)

// Order represents a customer order for digital goods. All monetary amounts
// are in minor units (cents/centavos).
type Order struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	CustomerEmail string      `json:"customer_email"`
	CustomerName  string      `json:"customer_name,omitempty"`
	Status        string      `json:"status"`
	Items         []OrderItem `json:"items"`
	Subtotal      int64       `json:"subtotal"`
	Tax           int64       `json:"tax"`
	Total         int64       `json:"total"`
	Currency      string      `json:"currency"`
	PaymentMethod string      `json:"payment_method"`

	// Provider references populated as the payment progresses.
	StripePaymentIntentID string `json:"stripe_payment_intent_id,omitempty"`
	StripeSessionID       string `json:"stripe_session_id,omitempty"`
	MercadoPagoPaymentID  string `json:"mercado_pago_payment_id,omitempty"`

	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidOrderStatuses returns all valid order statuses.
func ValidOrderStatuses() []string {
	return []string{
		OrderStatusPending,
		OrderStatusPaid,
		OrderStatusCancelled,
		OrderStatusRefunded,
	}
}

// IsValidOrderStatus checks if a status string is valid.
func IsValidOrderStatus(status string) bool {
	for _, s := range ValidOrderStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// ValidPaymentMethods returns all valid payment methods.
func ValidPaymentMethods() []string {
	return []string{PaymentMethodStripe, PaymentMethodMercadoPago}
}

// IsValidPaymentMethod checks whether the given method is a valid payment method.
func IsValidPaymentMethod(method string) bool {
	for _, m := range ValidPaymentMethods() {
		if m == method {
			return true
		}
	}
	return false
}

// IsValidCurrency checks whether the given currency is supported.
func IsValidCurrency(currency string) bool {
	return currency == CurrencyUSD || currency == CurrencyBRL
}

// AllowedTransitions defines which order status transitions are valid.
// Paid orders can only move to refunded; cancelled and refunded are terminal.
func AllowedTransitions() map[string][]string {
	return map[string][]string{
		OrderStatusPending:   {OrderStatusPaid, OrderStatusCancelled},
		OrderStatusPaid:      {OrderStatusRefunded},
		OrderStatusCancelled: {},
		OrderStatusRefunded:  {},
	}
}

// CanTransitionTo checks if the order can transition to the target status.
func (o *Order) CanTransitionTo(target string) bool {
	allowed, ok := AllowedTransitions()[o.Status]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// ProviderPaymentID returns the provider-side payment reference for the
// order's payment method, or empty when the payment has not been recorded.
func (o *Order) ProviderPaymentID() string {
	switch o.PaymentMethod {
	case PaymentMethodStripe:
		return o.StripePaymentIntentID
	case PaymentMethodMercadoPago:
		return o.MercadoPagoPaymentID
	}
	return ""
}
