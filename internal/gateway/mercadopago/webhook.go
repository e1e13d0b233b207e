package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/feldrin/BookstoreGo/internal/domain"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// webhookVerifier checks Mercado Pago x-signature headers.
//
// The header carries "ts=<unix>,v1=<hex>"; the signature is HMAC-SHA256 over
// the manifest "id:{data.id};request-id:{x-request-id};ts:{ts};" with the
// webhook secret. The data id is lowercased in the manifest.
type webhookVerifier struct {
	secret string
}

func newWebhookVerifier(secret string) *webhookVerifier {
	return &webhookVerifier{secret: secret}
}

func (v *webhookVerifier) verify(xSignature, xRequestID, dataID string) error {
	if v.secret == "" {
		return apperrors.GatewayUnavailable(domain.PaymentMethodMercadoPago, apperrors.ErrServiceUnavail)
	}
	if xSignature == "" {
		return apperrors.BadSignature(domain.PaymentMethodMercadoPago)
	}

	var ts, v1 string
	for _, part := range strings.Split(xSignature, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "ts":
			ts = value
		case "v1":
			v1 = value
		}
	}
	if ts == "" || v1 == "" {
		return apperrors.BadSignature(domain.PaymentMethodMercadoPago)
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(dataID), xRequestID, ts)

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(v1)) {
		return apperrors.BadSignature(domain.PaymentMethodMercadoPago)
	}
	return nil
}
