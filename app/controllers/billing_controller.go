package controllers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nimbusdeck/nimbusdeck/app/models"
	"github.com/nimbusdeck/nimbusdeck/internal/pkg/billing"
	"github.com/nimbusdeck/nimbusdeck/internal/pkg/database"
	"github.com/nimbusdeck/nimbusdeck/internal/pkg/env"
	"github.com/nimbusdeck/nimbusdeck/internal/pkg/metrics/counter"
	"github.com/nimbusdeck/nimbusdeck/internal/pkg/usercontext"
)

// HandleStripeWebhook receives provider events, verifies the signature,
// records the event idempotently and dispatches it. The signature check
// runs before any persistence so rejected payloads leave no rows behind.
// Most branches report their outcome through a status field in the body.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	ev, err := billing.VerifyWebhook(rawBody, signature, secret)
	if err != nil {
		if errors.Is(err, billing.ErrMissingSecret) {
			log.Printf("webhook: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"status": "error",
				"error":  "webhook secret not configured",
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status": "error",
			"error":  "invalid signature",
		})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	created, stored, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		log.Printf("webhook: record event failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "error",
			"error":  "could not record event",
		})
	}
	// A redelivered event is only a duplicate once it has been processed
	// without error; failed deliveries run again so the provider retry
	// can recover them.
	if !created && !stored.NeedsProcessing() {
		return c.JSON(fiber.Map{
			"status":  "ignored",
			"message": "duplicate event",
		})
	}

	outcome, handleErr := svc.HandleEvent(ctx, ev)
	if err := svc.MarkWebhookProcessed(ctx, stored.ID, handleErr); err != nil {
		log.Printf("webhook: mark processed failed: %v", err)
	}
	if handleErr != nil {
		log.Printf("webhook: %s failed: %v", ev.Type, handleErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "error",
			"error":  handleErr.Error(),
		})
	}

	if err := counter.AddWebhookEvent(ev.Type); err != nil {
		log.Printf("webhook: counter increment failed: %v", err)
	}

	if !outcome.Handled {
		return c.JSON(fiber.Map{
			"status":  "ignored",
			"message": "unhandled event type: " + ev.Type,
		})
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"message": outcome.Action,
	})
}

type checkoutSessionRequest struct {
	UserID         uint   `json:"userId"`
	OrganizationID uint   `json:"organizationId"`
	PriceID        string `json:"priceId" validate:"required"`
	Subscription   bool   `json:"subscription"`
	Quantity       int64  `json:"quantity" validate:"omitempty,min=1,max=1000"`
	BillingType    string `json:"billingType" validate:"omitempty,oneof=one_time recurring"`
	SuccessURL     string `json:"successUrl" validate:"omitempty,url"`
	CancelURL      string `json:"cancelUrl" validate:"omitempty,url"`
}

// HandleCreateCheckoutSession creates a provider checkout session for the
// calling user or organization.
func HandleCreateCheckoutSession(c *fiber.Ctx) error {
	var req checkoutSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "request body must be valid JSON")
	}
	if err := validate.Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", validationMessage(err))
	}

	// Fall back to the session user so browser clients do not have to
	// send their own id.
	if req.UserID == 0 && req.OrganizationID == 0 {
		req.UserID = usercontext.GetUserID(c)
	}
	if req.UserID == 0 && req.OrganizationID == 0 {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", "userId or organizationId is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	session, err := billing.CreateCheckoutSession(ctx, billing.CheckoutInput{
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		PriceID:        req.PriceID,
		Subscription:   req.Subscription,
		Quantity:       req.Quantity,
		BillingType:    req.BillingType,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
	})
	if err != nil {
		if errors.Is(err, billing.ErrUpstream) {
			log.Printf("checkout: session create failed: %v", err)
			return jsonError(c, fiber.StatusInternalServerError, "provider_error", "could not create checkout session")
		}
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	return c.JSON(session)
}
