/*
Package schedule validates and persists meal schedules.

PURPOSE:
  A person may hold several schedules, but on any date the token windows
  of all meals they hold must not overlap. The conflict validator checks
  a proposed schedule against every other schedule of each assigned
  person before anything is written.

OVERLAP:
  Windows are half-open: [08:00, 09:00) and [09:00, 10:00) touch but do
  not conflict. A schedule meal without its own window uses the meal
  type default.

SCOPE:
  Only the proposal against existing schedules. Meals inside one proposal
  may share a window (e.g. sub-type variants at lunch).

SEE ALSO:
  - service.go: Create / Update / Validate
  - meal/errors.go: ScheduleConflictError
*/
package schedule

import (
	"context"
	"fmt"

	"github.com/warp/meal-token-engine/meal"
)

// =============================================================================
// CONFLICT VALIDATOR
// =============================================================================

// Proposal is the shape being assigned. ScheduleID is excluded from the
// comparison so an update does not conflict with itself.
type Proposal struct {
	ScheduleID meal.ScheduleID
	PersonIDs  []meal.PersonID
	Dates      []meal.Date
	Meals      []meal.ScheduleMeal
}

type ConflictStore interface {
	SchedulesForPersonOnDate(ctx context.Context, personID meal.PersonID, d meal.Date) ([]meal.Schedule, error)
	GetMealType(ctx context.Context, id meal.MealTypeID) (*meal.MealType, error)
	GetPerson(ctx context.Context, id meal.PersonID) (*meal.Person, error)
}

// FindConflicts returns every overlap, ordered by person, date, existing
// schedule and meal, then proposed meal.
func FindConflicts(ctx context.Context, s ConflictStore, p Proposal) ([]meal.Conflict, error) {
	types := make(map[meal.MealTypeID]*meal.MealType)
	slot := func(sm meal.ScheduleMeal) (meal.MealSlot, error) {
		mt, ok := types[sm.MealTypeID]
		if !ok {
			var err error
			mt, err = s.GetMealType(ctx, sm.MealTypeID)
			if err != nil {
				return meal.MealSlot{}, fmt.Errorf("load meal type %s: %w", sm.MealTypeID, err)
			}
			types[sm.MealTypeID] = mt
		}
		out := meal.MealSlot{MealTypeID: sm.MealTypeID, SubTypeID: sm.SubTypeID}
		var fallback meal.Window
		if mt != nil {
			out.MealTypeName = mt.Name
			fallback = mt.DefaultWindow
		}
		out.Window = sm.EffectiveWindow(fallback)
		return out, nil
	}

	proposed := make([]meal.MealSlot, 0, len(p.Meals))
	for _, sm := range p.Meals {
		ms, err := slot(sm)
		if err != nil {
			return nil, err
		}
		proposed = append(proposed, ms)
	}

	var conflicts []meal.Conflict
	for _, personID := range p.PersonIDs {
		var name string
		if person, err := s.GetPerson(ctx, personID); err != nil {
			return nil, fmt.Errorf("load person %s: %w", personID, err)
		} else if person != nil {
			name = person.Name
		}

		for _, d := range p.Dates {
			existing, err := s.SchedulesForPersonOnDate(ctx, personID, d)
			if err != nil {
				return nil, fmt.Errorf("load schedules for %s on %s: %w", personID, d, err)
			}
			for _, other := range existing {
				if other.ID == p.ScheduleID {
					continue
				}
				for _, sm := range other.Meals {
					held, err := slot(sm)
					if err != nil {
						return nil, err
					}
					for _, n := range proposed {
						if !n.Window.Overlaps(held.Window) {
							continue
						}
						conflicts = append(conflicts, meal.Conflict{
							PersonID:             personID,
							PersonName:           name,
							Date:                 d,
							New:                  n,
							ExistingScheduleID:   other.ID,
							ExistingScheduleName: other.Name,
							Existing:             held,
						})
					}
				}
			}
		}
	}
	return conflicts, nil
}

// Check fails with ScheduleConflictError when FindConflicts finds any.
func Check(ctx context.Context, s ConflictStore, p Proposal) error {
	conflicts, err := FindConflicts(ctx, s, p)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &meal.ScheduleConflictError{Conflicts: conflicts}
	}
	return nil
}
