package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/warp/meal-token-engine/logging"
	"github.com/warp/meal-token-engine/meal"
)

// =============================================================================
// SCHEDULE SERVICE - validate -> check conflicts -> persist
// =============================================================================

// Input is a schedule as submitted by the schedule editor. Meal ids may be
// empty; the service assigns them.
type Input struct {
	Name      string
	Period    string
	Dates     []meal.Date
	Meals     []meal.ScheduleMeal
	PersonIDs []meal.PersonID
}

// Observer receives conflict counts, e.g. for metrics.
type Observer interface {
	ScheduleConflicts(n int)
}

type Service struct {
	stores   meal.Resolver
	newID    func() string
	logger   *slog.Logger
	observer Observer
}

// NewService wires the schedule service. A nil newID uses random UUIDs.
func NewService(stores meal.Resolver, newID func() string, logger *slog.Logger, observer Observer) *Service {
	if newID == nil {
		newID = uuid.NewString
	}
	return &Service{stores: stores, newID: newID, logger: logger, observer: observer}
}

// Create validates in, rejects it on any conflict and stores it. Every
// schedule meal gets a fresh id; ids sent by the client are ignored.
func (s *Service) Create(ctx context.Context, tenant meal.TenantID, in Input) (*meal.Schedule, error) {
	return s.save(ctx, tenant, meal.ScheduleID(s.newID()), in, nil)
}

// Update replaces schedule id. The schedule is not compared with itself.
// Meal ids are kept only when they already belong to this schedule.
func (s *Service) Update(ctx context.Context, tenant meal.TenantID, id meal.ScheduleID, in Input) (*meal.Schedule, error) {
	store, err := s.stores.Store(ctx, tenant)
	if err != nil {
		return nil, err
	}
	existing, err := store.GetSchedule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load schedule %s: %w", id, err)
	}
	if existing == nil {
		return nil, fmt.Errorf("schedule %s: %w", id, meal.ErrScheduleNotFound)
	}
	return s.save(ctx, tenant, id, in, existing.Meals)
}

// Validate runs every check Create would, then returns the conflicts
// instead of failing on them. id, when set, is excluded like on Update.
func (s *Service) Validate(ctx context.Context, tenant meal.TenantID, id meal.ScheduleID, in Input) ([]meal.Conflict, error) {
	store, err := s.stores.Store(ctx, tenant)
	if err != nil {
		return nil, err
	}
	in = normalize(in)
	if err := validate(ctx, store, in); err != nil {
		return nil, err
	}
	return FindConflicts(ctx, store, proposal(id, in))
}

func (s *Service) Get(ctx context.Context, tenant meal.TenantID, id meal.ScheduleID) (*meal.Schedule, error) {
	store, err := s.stores.Store(ctx, tenant)
	if err != nil {
		return nil, err
	}
	sched, err := store.GetSchedule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load schedule %s: %w", id, err)
	}
	if sched == nil {
		return nil, fmt.Errorf("schedule %s: %w", id, meal.ErrScheduleNotFound)
	}
	return sched, nil
}

func (s *Service) save(ctx context.Context, tenant meal.TenantID, id meal.ScheduleID, in Input, owned []meal.ScheduleMeal) (*meal.Schedule, error) {
	log := logging.FromContext(ctx, s.logger).With("tenant_id", tenant, "schedule_id", id)

	store, err := s.stores.Store(ctx, tenant)
	if err != nil {
		return nil, err
	}

	in = normalize(in)
	if err := validate(ctx, store, in); err != nil {
		return nil, err
	}

	if err := Check(ctx, store, proposal(id, in)); err != nil {
		var conflict *meal.ScheduleConflictError
		if errors.As(err, &conflict) {
			log.Info("schedule conflicts", "count", len(conflict.Conflicts))
			if s.observer != nil {
				s.observer.ScheduleConflicts(len(conflict.Conflicts))
			}
		}
		return nil, err
	}

	sched := meal.Schedule{
		ID:        id,
		Name:      in.Name,
		Period:    in.Period,
		Dates:     in.Dates,
		PersonIDs: in.PersonIDs,
		Meals:     make([]meal.ScheduleMeal, len(in.Meals)),
	}
	keep := make(map[meal.ScheduleMealID]bool, len(owned))
	for _, sm := range owned {
		keep[sm.ID] = true
	}
	for i, sm := range in.Meals {
		if sm.ID == "" || !keep[sm.ID] {
			sm.ID = meal.ScheduleMealID(s.newID())
		}
		delete(keep, sm.ID)
		sm.ScheduleID = id
		sched.Meals[i] = sm
	}

	if err := store.SaveSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("save schedule: %w", err)
	}
	log.Info("schedule saved", "dates", len(sched.Dates), "meals", len(sched.Meals), "persons", len(sched.PersonIDs))
	return &sched, nil
}

func proposal(id meal.ScheduleID, in Input) Proposal {
	return Proposal{ScheduleID: id, PersonIDs: in.PersonIDs, Dates: in.Dates, Meals: in.Meals}
}

// =============================================================================
// VALIDATION
// =============================================================================

// normalize trims the name and drops duplicate dates and persons.
func normalize(in Input) Input {
	in.Name = strings.TrimSpace(in.Name)

	seenDates := make(map[string]bool, len(in.Dates))
	dates := make([]meal.Date, 0, len(in.Dates))
	for _, d := range in.Dates {
		if d.IsZero() || seenDates[d.String()] {
			continue
		}
		seenDates[d.String()] = true
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	in.Dates = dates

	seenPersons := make(map[meal.PersonID]bool, len(in.PersonIDs))
	persons := make([]meal.PersonID, 0, len(in.PersonIDs))
	for _, p := range in.PersonIDs {
		if p == "" || seenPersons[p] {
			continue
		}
		seenPersons[p] = true
		persons = append(persons, p)
	}
	in.PersonIDs = persons
	return in
}

// validate returns a ValidationError for malformed input, or a
// MealCostNotConfiguredError for the first offering without a cost row.
func validate(ctx context.Context, s meal.Store, in Input) error {
	vErr := &meal.ValidationError{}

	if in.Name == "" {
		vErr.Add("name", "name is required")
	}
	if len(in.Dates) == 0 {
		vErr.Add("dates", "at least one date is required")
	}
	if len(in.Meals) == 0 {
		vErr.Add("meals", "at least one meal is required")
	}

	for i, sm := range in.Meals {
		field := fmt.Sprintf("meals[%d]", i)
		if sm.MealTypeID == "" {
			vErr.Add(field+".meal_type_id", "meal type is required")
		} else {
			mt, err := s.GetMealType(ctx, sm.MealTypeID)
			if err != nil {
				return fmt.Errorf("load meal type %s: %w", sm.MealTypeID, err)
			}
			if mt == nil {
				vErr.Add(field+".meal_type_id", "unknown meal type")
			} else if sm.Window == nil && !mt.DefaultWindow.Valid() {
				vErr.Add(field+".window", "meal type has no default window")
			}
		}
		if sm.SupplierID == "" {
			vErr.Add(field+".supplier_id", "supplier is required")
		}
		if sm.Window != nil && !sm.Window.Valid() {
			vErr.Add(field+".window", "start must be before end")
		}
	}

	for _, p := range in.PersonIDs {
		person, err := s.GetPerson(ctx, p)
		if err != nil {
			return fmt.Errorf("load person %s: %w", p, err)
		}
		if person == nil {
			vErr.Add("person_ids", fmt.Sprintf("unknown person %s", p))
		}
	}

	if vErr.HasErrors() {
		return vErr
	}

	for _, sm := range in.Meals {
		cost, err := s.GetMealCost(ctx, sm.SupplierID, sm.MealTypeID, sm.SubTypeID)
		if err != nil {
			return fmt.Errorf("load meal cost: %w", err)
		}
		if cost == nil {
			return &meal.MealCostNotConfiguredError{SupplierID: sm.SupplierID, MealTypeID: sm.MealTypeID, SubTypeID: sm.SubTypeID}
		}
	}
	return nil
}
