package checkout

import (
	"fmt"

	"github.com/campuskit-io/campuskit-backend/pkg/db/models"
	"github.com/campuskit-io/campuskit-backend/pkg/enums"
	pkgerrors "github.com/campuskit-io/campuskit-backend/pkg/errors"
)

// billingSource is where the account's billing currently originates:
// an unexpired trial or a paid cycle.
type billingSource string

const (
	sourceTrial   billingSource = "trial"
	sourceMonthly billingSource = "monthly"
	sourceYearly  billingSource = "yearly"
)

type transitionKey struct {
	source billingSource
	target enums.BillingCycle
}

type transition struct {
	conversion enums.ConversionType
	// prorate is false for trial sources: a trial has no unused paid time.
	prorate bool
}

// transitionTable enumerates the six supported upgrade shapes. A key miss
// is a state conflict, never a silent fallthrough.
var transitionTable = map[transitionKey]transition{
	{sourceTrial, enums.BillingCycleMonthly}:   {conversion: enums.ConversionTrialToMonthly, prorate: false},
	{sourceTrial, enums.BillingCycleYearly}:    {conversion: enums.ConversionTrialToYearly, prorate: false},
	{sourceYearly, enums.BillingCycleMonthly}:  {conversion: enums.ConversionYearlyToMonthly, prorate: true},
	{sourceMonthly, enums.BillingCycleYearly}:  {conversion: enums.ConversionMonthlyToYearly, prorate: true},
	{sourceMonthly, enums.BillingCycleMonthly}: {conversion: enums.ConversionMonthlyToMonthly, prorate: true},
	{sourceYearly, enums.BillingCycleYearly}:   {conversion: enums.ConversionYearlyToYearly, prorate: true},
}

func deriveBillingSource(account *models.Account) (billingSource, error) {
	if account.SubscriptionStatus.IsTrial() {
		return sourceTrial, nil
	}
	switch account.BillingCycle {
	case enums.BillingCycleMonthly:
		return sourceMonthly, nil
	case enums.BillingCycleYearly:
		return sourceYearly, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("no upgrade path from billing cycle %q", account.BillingCycle))
	}
}

func resolveTransition(account *models.Account, target enums.BillingCycle) (transition, error) {
	source, err := deriveBillingSource(account)
	if err != nil {
		return transition{}, err
	}
	entry, ok := transitionTable[transitionKey{source: source, target: target}]
	if !ok {
		return transition{}, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("no supported transition from %s billing to %s", source, target))
	}
	return entry, nil
}
