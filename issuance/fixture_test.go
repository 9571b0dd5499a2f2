package issuance_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/meal-token-engine/issuance"
	"github.com/warp/meal-token-engine/meal"
	"github.com/warp/meal-token-engine/meal/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const tenant = meal.TenantID("acme")

var jan10 = meal.MustParseDate("2025-01-10")

func at(date meal.Date, clock string) time.Time {
	return date.At(meal.MustParseTimeOfDay(clock), time.UTC)
}

// seed writes a small catalog: a lunch schedule on Jan 10 for person p-1
// (male employee, number 1001), a Day and a Night kiosk, lunch policy
// Paid for men and Free for women.
func seed(t *testing.T, s meal.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.SaveMealType(ctx, meal.MealType{ID: "lunch", Name: "Lunch", DefaultWindow: meal.MustWindow("12:00", "13:00")}))
	require.NoError(t, s.SaveMealType(ctx, meal.MealType{ID: "dinner", Name: "Dinner", DefaultWindow: meal.MustWindow("23:00", "23:59")}))
	require.NoError(t, s.SaveSubType(ctx, meal.SubType{ID: "chicken", MealTypeID: "lunch", Name: "Chicken"}))
	require.NoError(t, s.SaveSupplier(ctx, meal.Supplier{ID: "sup-1", Name: "Canteen"}))
	require.NoError(t, s.SaveMealCost(ctx, meal.MealCost{
		SupplierID:   "sup-1",
		MealTypeID:   "lunch",
		SupplierCost: meal.NewMoney(5),
		SellingPrice: meal.NewMoney(6),
		CompanyCost:  meal.NewMoney(3),
		EmployeeCost: meal.NewMoney(2),
	}))
	require.NoError(t, s.SaveMealCost(ctx, meal.MealCost{
		SupplierID:   "sup-1",
		MealTypeID:   "dinner",
		CompanyCost:  meal.NewMoney(4),
		EmployeeCost: meal.NewMoney(1),
	}))
	require.NoError(t, s.SavePayPolicy(ctx, meal.PayPolicy{Shift: meal.ShiftDay, MealTypeID: "lunch", IsMalePaid: true, IsFemalePaid: false}))

	require.NoError(t, s.SaveDepartment(ctx, meal.Department{ID: "d-1", Name: "Engineering"}))
	require.NoError(t, s.SavePerson(ctx, meal.Person{ID: "p-1", Number: "1001", Name: "Sam", Type: meal.PersonEmployer, Gender: meal.GenderMale, DepartmentID: "d-1", Active: true}))
	require.NoError(t, s.SavePerson(ctx, meal.Person{ID: "p-2", Number: "1002", Name: "Ana", Type: meal.PersonEmployer, Gender: meal.GenderFemale, DepartmentID: "d-1", Active: true}))
	require.NoError(t, s.SavePerson(ctx, meal.Person{ID: "p-3", Number: "1003", Name: "Left", Type: meal.PersonEmployer, Active: false}))
	require.NoError(t, s.SaveDevice(ctx, meal.Device{ID: "dev-day", SerialNumber: "DAY-1", Shift: meal.DeviceDay}))
	require.NoError(t, s.SaveDevice(ctx, meal.Device{ID: "dev-night", SerialNumber: "NIGHT-1", Shift: meal.DeviceNight}))

	lunch := meal.MustWindow("12:00", "13:00")
	require.NoError(t, s.SaveSchedule(ctx, meal.Schedule{
		ID:    "s-lunch",
		Name:  "Lunch",
		Dates: []meal.Date{jan10},
		Meals: []meal.ScheduleMeal{
			{ID: "sm-1", MealTypeID: "lunch", SupplierID: "sup-1", Window: &lunch, Available: true},
		},
		PersonIDs: []meal.PersonID{"p-1", "p-2"},
	}))
	// Dinner carries no window of its own: the meal type default applies.
	require.NoError(t, s.SaveSchedule(ctx, meal.Schedule{
		ID:        "s-night",
		Name:      "Night",
		Dates:     []meal.Date{jan10},
		Meals:     []meal.ScheduleMeal{{ID: "sm-9", MealTypeID: "dinner", SupplierID: "sup-1", Available: true}},
		PersonIDs: []meal.PersonID{"p-1"},
	}))
}

type fixture struct {
	store  *store.Memory
	issuer *issuance.Issuer
	obs    *countingObserver
}

func newFixture(t *testing.T) *fixture {
	mem := store.NewMemory()
	seed(t, mem)
	resolver := meal.NewStaticResolver()
	resolver.Register(tenant, mem)
	return newFixtureWith(mem, resolver)
}

func newFixtureWith(mem *store.Memory, resolver meal.Resolver) *fixture {
	obs := &countingObserver{rejected: map[string]int{}}
	n := 0
	return &fixture{
		store: mem,
		obs:   obs,
		issuer: issuance.NewIssuer(resolver, issuance.Config{
			Now:      func() time.Time { return at(jan10, "12:00") },
			NewID:    func() string { n++; return fmt.Sprintf("c-%d", n) },
			Observer: obs,
		}),
	}
}

func (f *fixture) request(number, serial string, when time.Time) issuance.Request {
	return issuance.Request{Tenant: tenant, Actor: "kiosk", PersonNumber: number, DeviceSerial: serial, At: when}
}

type countingObserver struct {
	issued   int
	rejected map[string]int
}

func (o *countingObserver) TokenIssued(meal.Shift, meal.PayStatus) { o.issued++ }
func (o *countingObserver) TokenRejected(reason string)            { o.rejected[reason]++ }
