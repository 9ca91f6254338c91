package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
	"github.com/campuskit-io/campuskit-backend/pkg/enums"
	pkgerrors "github.com/campuskit-io/campuskit-backend/pkg/errors"
)

// Guardrail thresholds are behaviorally significant policy, not tuning
// knobs.
const (
	purchaseCooldown  = time.Hour
	yearlyDupWindow   = 7 * 24 * time.Hour
	idempotencyWindow = time.Hour
)

// Machine-readable guard reasons carried in error details.
const (
	reasonActiveSubscription = "active_subscription_exists"
	reasonDuplicateYearly    = "duplicate_yearly_purchase"
	reasonPurchaseCooldown   = "purchase_cooldown"
)

// guardNoActiveSubscription blocks fresh purchases while an external
// subscription is still the billing source of truth.
func (s *Service) guardNoActiveSubscription(account *models.Account) error {
	if account.StripeSubscriptionID == nil || *account.StripeSubscriptionID == "" {
		return nil
	}
	switch account.SubscriptionStatus {
	case enums.SubscriptionStatusActive, enums.SubscriptionStatusPaid, enums.SubscriptionStatusTrialing, enums.SubscriptionStatusPastDue:
		return pkgerrors.New(pkgerrors.CodePolicy,
			"an active subscription already exists; use the upgrade flow or the billing portal to change plans").
			WithDetails(map[string]any{
				"reason":          reasonActiveSubscription,
				"subscription_id": *account.StripeSubscriptionID,
			})
	}
	return nil
}

// guardPurchaseWindows enforces the repeat-purchase cooldown and the
// duplicate-yearly window.
func (s *Service) guardPurchaseWindows(ctx context.Context, account *models.Account, target enums.BillingCycle) error {
	now := s.now()

	latest, err := s.payments.FindLatestSucceeded(ctx, account.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading purchase history")
	}
	if latest != nil {
		elapsed := now.Sub(latest.CreatedAt)
		if elapsed < purchaseCooldown {
			remaining := (purchaseCooldown - elapsed).Round(time.Second)
			return pkgerrors.New(pkgerrors.CodePolicy,
				fmt.Sprintf("a purchase succeeded %s ago; retry in %s", elapsed.Round(time.Second), remaining)).
				WithDetails(map[string]any{
					"reason":            reasonPurchaseCooldown,
					"remaining_seconds": int64(remaining.Seconds()),
				})
		}
	}

	if target == enums.BillingCycleYearly {
		yearly := enums.BillingCycleYearly
		recent, err := s.payments.FindSucceededSince(ctx, account.ID, &yearly, now.Add(-yearlyDupWindow))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading purchase history")
		}
		if len(recent) > 0 {
			return pkgerrors.New(pkgerrors.CodePolicy,
				"a yearly purchase already completed within the last 7 days").
				WithDetails(map[string]any{
					"reason":     reasonDuplicateYearly,
					"payment_id": recent[0].ID.String(),
				})
		}
	}
	return nil
}

// checkIdempotencyKey short-circuits replays of the same upgrade request
// within the trailing window.
func (s *Service) checkIdempotencyKey(ctx context.Context, account *models.Account, key string) error {
	if key == "" {
		return nil
	}
	existing, err := s.payments.FindByIdempotencyKey(ctx, account.ID, key, s.now().Add(-idempotencyWindow))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking idempotency key")
	}
	if existing != nil {
		return pkgerrors.New(pkgerrors.CodeIdempotency,
			"this upgrade request was already submitted").
			WithDetails(map[string]any{"payment_id": existing.ID.String()})
	}
	return nil
}
