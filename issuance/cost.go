package issuance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/warp/meal-token-engine/logging"
	"github.com/warp/meal-token-engine/meal"
)

// =============================================================================
// COST ALLOCATOR
// =============================================================================

// Reasons for a default Paid decision.
const (
	DefaultUnknownGender  = "unknown_gender"
	DefaultPolicyNotFound = "policy_not_found"
)

// Allocation is the pay decision and the contribution split it produces.
type Allocation struct {
	PayStatus            meal.PayStatus
	CompanyContribution  meal.Money
	EmployeeContribution meal.Money

	// DefaultReason is set when PayStatus came from a default branch.
	DefaultReason string
}

type PolicyLookup interface {
	GetPayPolicy(ctx context.Context, shift meal.Shift, mealTypeID meal.MealTypeID) (*meal.PayPolicy, error)
}

// DecidePayStatus applies the pay policy to a person. Visitors never pay.
//
// Two branches default to Paid: an employee with no recorded gender, and
// a (shift, meal type) without a policy row. Both affect billing and are
// pending product-owner confirmation; DefaultReason makes them visible.
func DecidePayStatus(p meal.Person, policy *meal.PayPolicy) (meal.PayStatus, string) {
	if p.Type != meal.PersonEmployer {
		return meal.PayStatusFree, ""
	}
	if policy == nil {
		return meal.PayStatusPaid, DefaultPolicyNotFound
	}
	switch p.Gender {
	case meal.GenderMale:
		return payStatus(policy.IsMalePaid), ""
	case meal.GenderFemale:
		return payStatus(policy.IsFemalePaid), ""
	}
	return meal.PayStatusPaid, DefaultUnknownGender
}

func payStatus(paid bool) meal.PayStatus {
	if paid {
		return meal.PayStatusPaid
	}
	return meal.PayStatusFree
}

// Split returns (company, employee) contributions. Free moves the whole
// employee cost onto the company.
func Split(status meal.PayStatus, cost meal.MealCost) (company, employee meal.Money) {
	if status == meal.PayStatusFree {
		return cost.CompanyCost.Add(cost.EmployeeCost), meal.ZeroMoney()
	}
	return cost.CompanyCost, cost.EmployeeCost
}

// Allocate looks up the policy and computes the allocation. Only a
// storage fault is an error; a missing policy degrades to Paid.
func Allocate(ctx context.Context, policies PolicyLookup, p meal.Person, s meal.Shift, cost meal.MealCost, logger *slog.Logger) (Allocation, error) {
	var policy *meal.PayPolicy
	if p.Type == meal.PersonEmployer {
		var err error
		policy, err = policies.GetPayPolicy(ctx, s, cost.MealTypeID)
		if err != nil {
			return Allocation{}, fmt.Errorf("load pay policy: %w", err)
		}
	}

	status, reason := DecidePayStatus(p, policy)
	if reason != "" {
		logging.FromContext(ctx, logger).Warn("pay status defaulted to Paid",
			"reason", reason,
			"person_id", p.ID,
			"shift", s,
			"meal_type_id", cost.MealTypeID,
		)
	}

	company, employee := Split(status, cost)
	return Allocation{
		PayStatus:            status,
		CompanyContribution:  company,
		EmployeeContribution: employee,
		DefaultReason:        reason,
	}, nil
}
