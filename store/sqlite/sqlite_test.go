package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/meal-token-engine/meal"
)

var jan10 = meal.MustParseDate("2025-01-10")

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.SaveMealType(ctx, meal.MealType{ID: "lunch", Name: "Lunch", DefaultWindow: meal.MustWindow("12:00", "13:00")}))
	require.NoError(t, s.SaveMealType(ctx, meal.MealType{ID: "tea", Name: "Tea"}))
	require.NoError(t, s.SaveSubType(ctx, meal.SubType{ID: "chicken", MealTypeID: "lunch", Name: "Chicken"}))
	require.NoError(t, s.SaveSupplier(ctx, meal.Supplier{ID: "sup-1", Name: "Canteen"}))
	require.NoError(t, s.SaveDepartment(ctx, meal.Department{ID: "eng", Name: "Engineering"}))
	require.NoError(t, s.SavePerson(ctx, meal.Person{
		ID: "p-1", Number: "1001", Name: "Sam", Type: meal.PersonEmployer,
		Gender: meal.GenderMale, DepartmentID: "eng", Active: true,
	}))
	require.NoError(t, s.SaveDevice(ctx, meal.Device{ID: "k-1", SerialNumber: "DAY-1", Shift: meal.DeviceDay, Location: "Hall"}))

	tea := meal.MustWindow("15:00", "15:30")
	require.NoError(t, s.SaveSchedule(ctx, meal.Schedule{
		ID:    "s-1",
		Name:  "Weekday",
		Dates: []meal.Date{jan10, jan10.AddDays(1)},
		Meals: []meal.ScheduleMeal{
			{ID: "sm-1", MealTypeID: "lunch", SupplierID: "sup-1", Available: true},
			{ID: "sm-2", MealTypeID: "lunch", SubTypeID: "chicken", SupplierID: "sup-1", FunctionKey: "F2", Available: false},
			{ID: "sm-3", MealTypeID: "tea", SupplierID: "sup-1", Window: &tea, Available: true},
		},
		PersonIDs: []meal.PersonID{"p-1"},
	}))
}

func consumption(id meal.ConsumptionID, at time.Time) meal.Consumption {
	return meal.Consumption{
		ID:                   id,
		PersonID:             "p-1",
		Date:                 meal.DateOf(at),
		Time:                 meal.TimeOfDayOf(at),
		At:                   at,
		ScheduleID:           "s-1",
		ScheduleName:         "Weekday",
		MealTypeID:           "lunch",
		MealTypeName:         "Lunch",
		SupplierID:           "sup-1",
		Window:               meal.MustWindow("12:00", "13:00"),
		SupplierCost:         meal.NewMoney(5),
		SellingPrice:         meal.NewMoney(6),
		CompanyCost:          meal.NewMoney(3),
		EmployeeCost:         meal.NewMoney(2.5),
		CompanyContribution:  meal.NewMoney(3),
		EmployeeContribution: meal.NewMoney(2.5),
		DeviceID:             "k-1",
		Shift:                meal.ShiftDay,
		PayStatus:            meal.PayStatusPaid,
		JobStatus:            meal.JobStatusPending,
	}
}

// =============================================================================
// SCHEDULES
// =============================================================================

func TestScheduleRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	got, err := s.GetSchedule(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Weekday", got.Name)
	assert.Len(t, got.Dates, 2)
	require.Len(t, got.Meals, 3)
	assert.Nil(t, got.Meals[0].Window, "default window stays unset")
	assert.False(t, got.Meals[1].Available)
	assert.Equal(t, "F2", got.Meals[1].FunctionKey)
	assert.Equal(t, "15:00-15:30", got.Meals[2].Window.String())
	assert.Equal(t, []meal.PersonID{"p-1"}, got.PersonIDs)

	missing, err := s.GetSchedule(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSaveScheduleReplacesChildren(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.SaveSchedule(ctx, meal.Schedule{
		ID:    "s-1",
		Name:  "Friday only",
		Dates: []meal.Date{jan10},
		Meals: []meal.ScheduleMeal{{ID: "sm-9", MealTypeID: "lunch", SupplierID: "sup-1", Available: true}},
	}))

	got, err := s.GetSchedule(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "Friday only", got.Name)
	assert.Len(t, got.Dates, 1)
	assert.Len(t, got.Meals, 1)
	assert.Empty(t, got.PersonIDs)

	ids, err := s.SchedulesByPerson(ctx, "p-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestScheduleMealsByTime_UsesDefaultWindow(t *testing.T) {
	// GIVEN: sm-1/sm-2 without a window (lunch default 12:00-13:00), sm-3 tea 15:00-15:30
	// WHEN: Looking up meals at several times
	// THEN: The effective window decides, end is exclusive

	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	at := func(v string) []meal.ScheduleMealID {
		meals, err := s.ScheduleMealsByTime(ctx, meal.MustParseTimeOfDay(v))
		require.NoError(t, err)
		var ids []meal.ScheduleMealID
		for _, m := range meals {
			require.NotNil(t, m.Window)
			ids = append(ids, m.ID)
		}
		return ids
	}

	assert.Equal(t, []meal.ScheduleMealID{"sm-1", "sm-2"}, at("12:00"))
	assert.Equal(t, []meal.ScheduleMealID{"sm-1", "sm-2"}, at("12:59"))
	assert.Empty(t, at("13:00"))
	assert.Equal(t, []meal.ScheduleMealID{"sm-3"}, at("15:10"))
}

func TestSchedulesForPersonOnDate(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	got, err := s.SchedulesForPersonOnDate(ctx, "p-1", jan10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, meal.ScheduleID("s-1"), got[0].ID)

	got, err = s.SchedulesForPersonOnDate(ctx, "p-1", jan10.AddDays(5))
	require.NoError(t, err)
	assert.Empty(t, got)

	ids, err := s.SchedulesByDate(ctx, jan10.AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, []meal.ScheduleID{"s-1"}, ids)
}

// =============================================================================
// CATALOG & DIRECTORY
// =============================================================================

func TestCatalogLookups(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.SaveMealCost(ctx, meal.MealCost{
		SupplierID: "sup-1", MealTypeID: "lunch",
		SupplierCost: meal.NewMoney(5), SellingPrice: meal.NewMoney(6),
		CompanyCost: meal.NewMoney(3), EmployeeCost: meal.NewMoney(2.5),
	}))
	require.NoError(t, s.SavePayPolicy(ctx, meal.PayPolicy{Shift: meal.ShiftDay, MealTypeID: "lunch", IsMalePaid: true}))

	cost, err := s.GetMealCost(ctx, "sup-1", "lunch", "")
	require.NoError(t, err)
	require.NotNil(t, cost)
	assert.True(t, cost.EmployeeCost.Equal(meal.NewMoney(2.5)))

	cost, err = s.GetMealCost(ctx, "sup-1", "lunch", "chicken")
	require.NoError(t, err)
	assert.Nil(t, cost, "sub-type cost is a separate row")

	policy, err := s.GetPayPolicy(ctx, meal.ShiftDay, "lunch")
	require.NoError(t, err)
	require.NotNil(t, policy)
	assert.True(t, policy.IsMalePaid)
	assert.False(t, policy.IsFemalePaid)

	policy, err = s.GetPayPolicy(ctx, meal.ShiftNight, "lunch")
	require.NoError(t, err)
	assert.Nil(t, policy)

	mt, err := s.GetMealType(ctx, "tea")
	require.NoError(t, err)
	require.NotNil(t, mt)
	assert.False(t, mt.DefaultWindow.Valid(), "tea has no default window")

	st, err := s.GetSubType(ctx, "chicken")
	require.NoError(t, err)
	assert.Equal(t, "Chicken", st.Name)
}

func TestDirectoryLookups(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	p, err := s.GetPersonByNumber(ctx, "1001")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, meal.GenderMale, p.Gender)
	assert.True(t, p.Active)

	p, err = s.GetPersonByNumber(ctx, "9999")
	require.NoError(t, err)
	assert.Nil(t, p)

	name, err := s.GetDepartmentName(ctx, "eng")
	require.NoError(t, err)
	assert.Equal(t, "Engineering", name)

	name, err = s.GetDepartmentName(ctx, "ops")
	require.NoError(t, err)
	assert.Empty(t, name)

	d, err := s.GetDeviceBySerial(ctx, "DAY-1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, meal.DeviceDay, d.Shift)
}

// =============================================================================
// CONSUMPTIONS
// =============================================================================

func TestInsertConsumption_UniqueBackstop(t *testing.T) {
	// GIVEN: A lunch consumption for p-1 on Jan 10
	// WHEN: Inserting a second one with another id
	// THEN: The unique index rejects it as a duplicate

	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	noon := time.Date(2025, 1, 10, 12, 5, 0, 0, time.UTC)

	require.NoError(t, s.InsertConsumption(ctx, consumption("c-1", noon)))
	err := s.InsertConsumption(ctx, consumption("c-2", noon.Add(time.Minute)))
	assert.ErrorIs(t, err, meal.ErrDuplicateConsumption)

	// Another day is fine.
	require.NoError(t, s.InsertConsumption(ctx, consumption("c-3", noon.AddDate(0, 0, 1))))
}

func TestConsumptionRoundTripAndConfirm(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	noon := time.Date(2025, 1, 10, 12, 5, 0, 0, time.UTC)

	require.NoError(t, s.InsertConsumption(ctx, consumption("c-1", noon)))

	c, err := s.FindConsumption(ctx, "p-1", "lunch", jan10)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, meal.ConsumptionID("c-1"), c.ID)
	assert.True(t, c.At.Equal(noon))
	assert.Equal(t, "12:05", c.Time.String())
	assert.True(t, c.EmployeeContribution.Equal(meal.NewMoney(2.5)))
	assert.False(t, c.Issued)

	require.NoError(t, s.MarkIssued(ctx, "c-1", meal.JobStatusIssued))
	c, err = s.GetConsumption(ctx, "c-1")
	require.NoError(t, err)
	assert.True(t, c.Issued)
	assert.Equal(t, meal.JobStatusIssued, c.JobStatus)

	// A second confirmation does not overwrite the first.
	assert.ErrorIs(t, s.MarkIssued(ctx, "c-1", "reprinted"), meal.ErrAlreadyIssued)
	c, err = s.GetConsumption(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, meal.JobStatusIssued, c.JobStatus)

	assert.ErrorIs(t, s.MarkIssued(ctx, "c-404", meal.JobStatusIssued), meal.ErrConsumptionNotFound)

	missing, err := s.FindConsumption(ctx, "p-1", "tea", jan10)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLastConsumptionSince(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	evening := time.Date(2025, 1, 9, 20, 0, 0, 0, time.UTC)
	noon := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertConsumption(ctx, consumption("c-1", evening)))

	last, err := s.LastConsumptionSince(ctx, "p-1", noon.Add(-13*time.Hour), noon)
	require.NoError(t, err)
	assert.Nil(t, last, "20:00 the day before is outside 13 hours")

	last, err = s.LastConsumptionSince(ctx, "p-1", noon.Add(-17*time.Hour), noon)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, meal.ConsumptionID("c-1"), last.ID)

	today, err := s.ConsumptionsOnDate(ctx, "p-1", meal.DateOf(evening))
	require.NoError(t, err)
	assert.Len(t, today, 1)
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.Reset(ctx))

	p, err := s.GetPersonByNumber(ctx, "1001")
	require.NoError(t, err)
	assert.Nil(t, p)

	sched, err := s.GetSchedule(ctx, "s-1")
	require.NoError(t, err)
	assert.Nil(t, sched)
}
