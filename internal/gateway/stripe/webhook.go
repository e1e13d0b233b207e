package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/feldrin/BookstoreGo/internal/domain"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// signatureTolerance bounds how old a signed timestamp may be before the
// delivery is rejected as a possible replay.
const signatureTolerance = 5 * time.Minute

// webhookVerifier checks Stripe-Signature headers.
//
// The header carries "t=<unix>,v1=<hex>[,v1=<hex>...]"; the signature is
// HMAC-SHA256 over "<t>.<payload>" with the endpoint's signing secret.
type webhookVerifier struct {
	secret string
	now    func() time.Time
}

func newWebhookVerifier(secret string) *webhookVerifier {
	return &webhookVerifier{secret: secret, now: time.Now}
}

func (v *webhookVerifier) verify(payload []byte, header string) error {
	if v.secret == "" {
		return apperrors.GatewayUnavailable(domain.PaymentMethodStripe, apperrors.ErrServiceUnavail)
	}
	if header == "" {
		return apperrors.BadSignature(domain.PaymentMethodStripe)
	}

	var ts string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if ts == "" || len(signatures) == 0 {
		return apperrors.BadSignature(domain.PaymentMethodStripe)
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return apperrors.BadSignature(domain.PaymentMethodStripe)
	}
	age := v.now().Sub(time.Unix(tsUnix, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return apperrors.BadSignature(domain.PaymentMethodStripe)
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return apperrors.BadSignature(domain.PaymentMethodStripe)
}
