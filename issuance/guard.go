package issuance

import (
	"context"
	"fmt"

	"github.com/warp/meal-token-engine/meal"
)

// =============================================================================
// ISSUANCE GUARD - One token per (person, meal type, date)
// =============================================================================

type ConsumptionFinder interface {
	FindConsumption(ctx context.Context, personID meal.PersonID, mealTypeID meal.MealTypeID, d meal.Date) (*meal.Consumption, error)
}

// Guard checks for an existing record before a new one is built.
//
// It returns (nil, nil) when the request may create a record, the pending
// record when one exists and should be reused, and AlreadyIssuedError when
// the token was already printed. The check is not atomic with the insert;
// the store's unique constraint closes that gap.
func Guard(ctx context.Context, s ConsumptionFinder, personID meal.PersonID, mealTypeID meal.MealTypeID, d meal.Date) (*meal.Consumption, error) {
	existing, err := s.FindConsumption(ctx, personID, mealTypeID, d)
	if err != nil {
		return nil, fmt.Errorf("check existing consumption: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	if existing.Issued {
		return nil, &meal.AlreadyIssuedError{
			PersonID:   personID,
			MealTypeID: mealTypeID,
			Date:       d,
			Existing:   existing.ID,
		}
	}
	return existing, nil
}
