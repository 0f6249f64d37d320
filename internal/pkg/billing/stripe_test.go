package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

// signPayload builds a Stripe-Signature header the way the provider does:
// v1 = HMAC-SHA256(secret, "<timestamp>.<payload>").
func signPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyWebhookValidSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_test","type":"invoice.payment_succeeded","data":{"object":{"id":"in_1"}}}`)
	secret := "whsec_test"

	header := signPayload(payload, secret, time.Now())
	ev, err := VerifyWebhook(payload, header, secret)
	if err != nil {
		t.Fatalf("unexpected verification error: %v", err)
	}
	if ev.ID != "evt_test" {
		t.Fatalf("unexpected event id %q", ev.ID)
	}
	if ev.Type != EventInvoiceSucceeded {
		t.Fatalf("unexpected event type %q", ev.Type)
	}
	if len(ev.Raw) == 0 {
		t.Fatalf("expected raw data object")
	}
}

func TestVerifyWebhookInvalidSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_test","type":"invoice.payment_succeeded","data":{"object":{}}}`)

	header := signPayload(payload, "whsec_other", time.Now())
	_, err := VerifyWebhook(payload, header, "whsec_test")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyWebhookTamperedPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_test","type":"invoice.payment_succeeded","data":{"object":{}}}`)
	secret := "whsec_test"

	header := signPayload(payload, secret, time.Now())
	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-2] = ' '
	if _, err := VerifyWebhook(tampered, header, secret); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for tampered payload, got %v", err)
	}
}

func TestVerifyWebhookMissingSecret(t *testing.T) {
	_, err := VerifyWebhook([]byte(`{}`), "t=1,v1=abc", "")
	if !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestCheckoutInputValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := CreateCheckoutSession(ctx, CheckoutInput{UserID: 1}); err == nil {
		t.Fatalf("expected error for missing price id")
	}
	if _, err := CreateCheckoutSession(ctx, CheckoutInput{PriceID: "price_x"}); err == nil {
		t.Fatalf("expected error for missing user and organization")
	}
}

func TestCheckoutInputBillingTypeMustMatchMode(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		in   CheckoutInput
	}{
		{
			name: "recurring without subscription flag",
			in:   CheckoutInput{UserID: 1, PriceID: "price_x", Subscription: false, BillingType: BillingTypeRecurring},
		},
		{
			name: "one_time with subscription flag",
			in:   CheckoutInput{UserID: 1, PriceID: "price_x", Subscription: true, BillingType: PurchaseOneTime},
		},
		{
			name: "unknown billing type",
			in:   CheckoutInput{UserID: 1, PriceID: "price_x", BillingType: "weekly"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CreateCheckoutSession(ctx, tt.in); err == nil {
				t.Fatalf("expected error for inconsistent billing type")
			}
		})
	}
}
