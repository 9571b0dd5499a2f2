/*
Package issuance decides and records meal tokens.

PURPOSE:
  A token request travels through four stages, each short-circuiting the
  rest on failure:

    Distribution Resolver -> Shift Classifier -> Issuance Guard -> Cost Allocator

  and ends in one Consumption record. This package holds the resolver,
  the guard, the allocator and the Issuer that runs them in order. The
  classifier lives in shift/.

FILES:
  distribution.go: (person, date, time, key) -> one scheduled meal
  guard.go:        One token per (person, meal type, date)
  cost.go:         Paid/Free and the contribution split
  issuer.go:       The pipeline, receipts, confirmation

SEE ALSO:
  - shift/classifier.go
  - meal/store.go: What the stages read and write
*/
package issuance

import (
	"context"
	"fmt"

	"github.com/warp/meal-token-engine/meal"
)

// =============================================================================
// DISTRIBUTION RESOLVER
// =============================================================================

// Query is what the resolver needs from a token request.
type Query struct {
	PersonID    meal.PersonID
	Date        meal.Date
	Time        meal.TimeOfDay
	FunctionKey string
}

// Resolution is the scheduled meal a request is entitled to.
type Resolution struct {
	ScheduleID     meal.ScheduleID
	ScheduleName   string
	ScheduleMealID meal.ScheduleMealID
	MealTypeID     meal.MealTypeID
	MealTypeName   string
	SubTypeID      meal.SubTypeID
	SubTypeName    string
	SupplierID     meal.SupplierID
	Window         meal.Window
}

// ResolverStore is the subset of meal.Store the resolver reads.
type ResolverStore interface {
	meal.ScheduleStore
	GetMealType(ctx context.Context, id meal.MealTypeID) (*meal.MealType, error)
	GetSubType(ctx context.Context, id meal.SubTypeID) (*meal.SubType, error)
}

// Resolve finds the single scheduled meal for q. It only reads.
//
// Dimensions are checked in order person, date, time so the error names
// the first one that left nothing to choose from. The time dimension is
// scoped to the person's schedules; NoMatchingSchedule means the person
// has a meal at this time but not on a schedule in force on the date. Candidates are ordered
// by schedule id, meals by schedule-meal id; the first match wins.
func Resolve(ctx context.Context, s ResolverStore, q Query) (*Resolution, error) {
	byPerson, err := s.SchedulesByPerson(ctx, q.PersonID)
	if err != nil {
		return nil, fmt.Errorf("load schedules for person: %w", err)
	}
	if len(byPerson) == 0 {
		return nil, resolutionErr(meal.ErrNoScheduleForPerson, q)
	}

	byDate, err := s.SchedulesByDate(ctx, q.Date)
	if err != nil {
		return nil, fmt.Errorf("load schedules for date: %w", err)
	}
	onDate := intersect(byPerson, byDate)
	if len(onDate) == 0 {
		return nil, resolutionErr(meal.ErrNoScheduleForDate, q)
	}

	atTime, err := s.ScheduleMealsByTime(ctx, q.Time)
	if err != nil {
		return nil, fmt.Errorf("load meals for time: %w", err)
	}
	mealIDs := make([]meal.ScheduleID, 0, len(atTime))
	for _, sm := range atTime {
		mealIDs = append(mealIDs, sm.ScheduleID)
	}
	// Meals served now on other people's schedules do not count.
	if len(intersect(byPerson, mealIDs)) == 0 {
		return nil, resolutionErr(meal.ErrNoMealForTime, q)
	}
	candidates := intersect(onDate, mealIDs)
	if len(candidates) == 0 {
		return nil, resolutionErr(meal.ErrNoMatchingSchedule, q)
	}

	chosen, err := pick(candidates, atTime, q)
	if err != nil {
		return nil, err
	}
	return describe(ctx, s, chosen)
}

func pick(candidates []meal.ScheduleID, atTime []meal.ScheduleMeal, q Query) (meal.ScheduleMeal, error) {
	inCandidates := make(map[meal.ScheduleID]bool, len(candidates))
	for _, id := range candidates {
		inCandidates[id] = true
	}

	if q.FunctionKey != "" {
		for _, sm := range atTime {
			if inCandidates[sm.ScheduleID] && sm.Available && sm.FunctionKey == q.FunctionKey {
				return sm, nil
			}
		}
		return meal.ScheduleMeal{}, resolutionErr(meal.ErrInvalidFunctionKey, q)
	}

	for _, id := range candidates {
		for _, sm := range atTime {
			if sm.ScheduleID == id && sm.Available {
				return sm, nil
			}
		}
	}
	return meal.ScheduleMeal{}, resolutionErr(meal.ErrNoAvailableMeal, q)
}

func describe(ctx context.Context, s ResolverStore, sm meal.ScheduleMeal) (*Resolution, error) {
	sched, err := s.GetSchedule(ctx, sm.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("load schedule %s: %w", sm.ScheduleID, err)
	}
	if sched == nil {
		return nil, fmt.Errorf("schedule %s: %w", sm.ScheduleID, meal.ErrScheduleNotFound)
	}

	mt, err := s.GetMealType(ctx, sm.MealTypeID)
	if err != nil {
		return nil, fmt.Errorf("load meal type %s: %w", sm.MealTypeID, err)
	}
	if mt == nil {
		return nil, fmt.Errorf("meal type %s: %w", sm.MealTypeID, meal.ErrMealTypeNotFound)
	}

	r := &Resolution{
		ScheduleID:     sched.ID,
		ScheduleName:   sched.Name,
		ScheduleMealID: sm.ID,
		MealTypeID:     mt.ID,
		MealTypeName:   mt.Name,
		SubTypeID:      sm.SubTypeID,
		SupplierID:     sm.SupplierID,
		Window:         sm.EffectiveWindow(mt.DefaultWindow),
	}
	if sm.SubTypeID != "" {
		st, err := s.GetSubType(ctx, sm.SubTypeID)
		if err != nil {
			return nil, fmt.Errorf("load sub type %s: %w", sm.SubTypeID, err)
		}
		if st != nil {
			r.SubTypeName = st.Name
		}
	}
	return r, nil
}

// intersect keeps a's order.
func intersect(a, b []meal.ScheduleID) []meal.ScheduleID {
	in := make(map[meal.ScheduleID]bool, len(b))
	for _, id := range b {
		in[id] = true
	}
	var out []meal.ScheduleID
	seen := make(map[meal.ScheduleID]bool)
	for _, id := range a {
		if in[id] && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func resolutionErr(kind error, q Query) error {
	return &meal.ResolutionError{Kind: kind, PersonID: q.PersonID, Date: q.Date, Time: q.Time, Key: q.FunctionKey}
}
