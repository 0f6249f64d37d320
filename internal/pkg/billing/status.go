package billing

import (
	"strings"

	"github.com/nimbusdeck/nimbusdeck/app/models"
)

// NormalizeStatus maps a provider subscription status onto the local
// status enum. Stripe spells cancellation "canceled"; the local enum
// uses "cancelled".
func NormalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return models.SubscriptionStatusActive
	case "trialing":
		return models.SubscriptionStatusTrialing
	case "past_due", "unpaid":
		return models.SubscriptionStatusPastDue
	case "canceled", "cancelled":
		return models.SubscriptionStatusCancelled
	case "paused":
		return models.SubscriptionStatusPaused
	default:
		return models.SubscriptionStatusIncomplete
	}
}

// MinorToMajor converts provider integer minor units into major currency
// units (1050 -> 10.50).
func MinorToMajor(minor int64) float64 {
	return float64(minor) / 100
}
