/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built catalogs that populate a tenant store with realistic
	canteen data for demos. Each scenario creates meal types, costs, pay
	policies, kiosks, people and a week of schedules starting today.

AVAILABLE SCENARIOS:

	day-canteen:    Breakfast and lunch, one Day kiosk, mixed genders
	night-shift:    Dinner and midnight meal, Day and Night kiosks
	function-keys:  Lunch variants picked with kiosk function keys
	overlap:        Overlapping meal types to try the conflict checker

HOW SCENARIOS WORK:
 1. Reset the caller's tenant store (clear all data)
 2. Build a catalog dated from today
 3. Validate it through factory.FromJSON
 4. Load it via factory.Load

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "night-shift"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create a catalog builder: xxxCatalog(dates []string)
 3. Register it in scenarioCatalogs

NOTE:

	Scenarios reset the tenant store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Token and schedule handlers
  - factory/catalog.go: Catalog JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/meal-token-engine/factory"
	"github.com/warp/meal-token-engine/meal"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "day-canteen",
		Name:        "Day Canteen",
		Description: "Breakfast and lunch on a Day kiosk; female employees eat free at lunch",
		Category:    "issuance",
	},
	{
		ID:          "night-shift",
		Name:        "Night Shift",
		Description: "Dinner and midnight meal with Day and Night kiosks to exercise shift classification",
		Category:    "issuance",
	},
	{
		ID:          "function-keys",
		Name:        "Function Keys",
		Description: "Lunch variants selected with kiosk function keys, one variant unavailable",
		Category:    "issuance",
	},
	{
		ID:          "overlap",
		Name:        "Schedule Overlap",
		Description: "Breakfast schedule in place; propose a brunch schedule to see conflicts",
		Category:    "schedules",
	},
}

var scenarioCatalogs = map[string]func(dates []string) factory.CatalogJSON{
	"day-canteen":   dayCanteenCatalog,
	"night-shift":   nightShiftCatalog,
	"function-keys": functionKeysCatalog,
	"overlap":       overlapCatalog,
}

// resetter is implemented by every store that supports scenario loading.
type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the scenario loaded for the caller's tenant, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	tenant := ClaimsFromContext(r.Context()).Tenant()

	h.mu.Lock()
	current := h.currentScenario[tenant]
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the tenant store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	tenant := ClaimsFromContext(r.Context()).Tenant()

	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	build, ok := scenarioCatalogs[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	if err := h.loadScenario(r.Context(), tenant, build); err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	h.mu.Lock()
	h.currentScenario[tenant] = req.ScenarioID
	h.mu.Unlock()

	h.log(r).Info("scenario loaded", "scenario_id", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

func (h *Handler) loadScenario(ctx context.Context, tenant meal.TenantID, build func([]string) factory.CatalogJSON) error {
	store, err := h.Stores.Store(ctx, tenant)
	if err != nil {
		return err
	}
	rs, ok := store.(resetter)
	if !ok {
		return fmt.Errorf("store for tenant %s cannot be reset", tenant)
	}

	catalog, err := factory.FromJSON(build(h.weekDates()))
	if err != nil {
		return fmt.Errorf("build scenario catalog: %w", err)
	}
	if err := rs.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	return factory.Load(ctx, store, catalog)
}

// weekDates returns today and the six following days.
func (h *Handler) weekDates() []string {
	today := meal.DateOf(h.Now())
	dates := make([]string, 7)
	for i := range dates {
		dates[i] = today.AddDays(i).String()
	}
	return dates
}

// =============================================================================
// CATALOGS
// =============================================================================

func mealCost(supplier, mealType, subType, companyCost, employeeCost string) factory.MealCostJSON {
	return factory.MealCostJSON{
		SupplierID:   supplier,
		MealTypeID:   mealType,
		SubTypeID:    subType,
		SupplierCost: "5.00",
		SellingPrice: "6.00",
		CompanyCost:  companyCost,
		EmployeeCost: employeeCost,
	}
}

func staff() []factory.PersonJSON {
	return []factory.PersonJSON{
		{ID: "emp-sam", Number: "1001", Name: "Sam Perera", Type: "Employer", Gender: "Male", DepartmentID: "ops"},
		{ID: "emp-ana", Number: "1002", Name: "Ana Silva", Type: "Employer", Gender: "Female", DepartmentID: "ops"},
		{ID: "emp-lee", Number: "1003", Name: "Lee Fernando", Type: "Employer", DepartmentID: "eng"},
		{ID: "vis-kim", Number: "V-01", Name: "Kim (visitor)", Type: "Visitor"},
	}
}

var departments = []factory.DepartmentJSON{
	{ID: "ops", Name: "Operations"},
	{ID: "eng", Name: "Engineering"},
}

func dayCanteenCatalog(dates []string) factory.CatalogJSON {
	return factory.CatalogJSON{
		MealTypes: []factory.MealTypeJSON{
			{ID: "breakfast", Name: "Breakfast", Window: &factory.WindowJSON{Start: "07:00", End: "09:00"}},
			{ID: "lunch", Name: "Lunch", Window: &factory.WindowJSON{Start: "12:00", End: "14:00"}},
		},
		Suppliers: []factory.SupplierJSON{{ID: "canteen", Name: "Main Canteen"}},
		MealCosts: []factory.MealCostJSON{
			mealCost("canteen", "breakfast", "", "2.00", "1.00"),
			mealCost("canteen", "lunch", "", "3.50", "2.50"),
		},
		PayPolicies: []factory.PayPolicyJSON{
			{Shift: "DayShift", MealTypeID: "breakfast", IsMalePaid: true, IsFemalePaid: true},
			{Shift: "DayShift", MealTypeID: "lunch", IsMalePaid: true, IsFemalePaid: false},
		},
		Departments: departments,
		Devices:     []factory.DeviceJSON{{ID: "kiosk-day", SerialNumber: "DAY-1", Shift: "Day", Location: "Main hall"}},
		Persons:     staff(),
		Schedules: []factory.ScheduleJSON{{
			ID:    "sched-day",
			Name:  "Weekday canteen",
			Dates: dates,
			Meals: []factory.ScheduleMealJSON{
				{ID: "sched-day-breakfast", MealTypeID: "breakfast", SupplierID: "canteen"},
				{ID: "sched-day-lunch", MealTypeID: "lunch", SupplierID: "canteen"},
			},
			PersonIDs: []string{"emp-sam", "emp-ana", "emp-lee", "vis-kim"},
		}},
	}
}

func nightShiftCatalog(dates []string) factory.CatalogJSON {
	return factory.CatalogJSON{
		MealTypes: []factory.MealTypeJSON{
			{ID: "lunch", Name: "Lunch", Window: &factory.WindowJSON{Start: "12:00", End: "14:00"}},
			{ID: "dinner", Name: "Dinner", Window: &factory.WindowJSON{Start: "19:30", End: "21:00"}},
			{ID: "midnight", Name: "Midnight Meal", Window: &factory.WindowJSON{Start: "00:00", End: "02:00"}},
		},
		Suppliers: []factory.SupplierJSON{{ID: "canteen", Name: "Main Canteen"}},
		MealCosts: []factory.MealCostJSON{
			mealCost("canteen", "lunch", "", "3.50", "2.50"),
			mealCost("canteen", "dinner", "", "4.00", "2.00"),
			mealCost("canteen", "midnight", "", "4.00", "1.00"),
		},
		PayPolicies: []factory.PayPolicyJSON{
			{Shift: "DayShift", MealTypeID: "lunch", IsMalePaid: true, IsFemalePaid: true},
			{Shift: "DayShiftExtended", MealTypeID: "dinner", IsMalePaid: false, IsFemalePaid: false},
			{Shift: "DayAndNightShift", MealTypeID: "dinner", IsMalePaid: false, IsFemalePaid: false},
			{Shift: "NightShift", MealTypeID: "dinner", IsMalePaid: true, IsFemalePaid: false},
			{Shift: "NightShift", MealTypeID: "midnight", IsMalePaid: false, IsFemalePaid: false},
			{Shift: "NightAndDayShift", MealTypeID: "lunch", IsMalePaid: false, IsFemalePaid: false},
		},
		Departments: departments,
		Devices: []factory.DeviceJSON{
			{ID: "kiosk-day", SerialNumber: "DAY-1", Shift: "Day", Location: "Main hall"},
			{ID: "kiosk-night", SerialNumber: "NIGHT-1", Shift: "Night", Location: "Plant floor"},
		},
		Persons: staff(),
		Schedules: []factory.ScheduleJSON{
			{
				ID:    "sched-day",
				Name:  "Day shift",
				Dates: dates,
				Meals: []factory.ScheduleMealJSON{
					{ID: "sched-day-lunch", MealTypeID: "lunch", SupplierID: "canteen"},
					{ID: "sched-day-dinner", MealTypeID: "dinner", SupplierID: "canteen"},
				},
				PersonIDs: []string{"emp-sam", "emp-ana"},
			},
			{
				ID:    "sched-night",
				Name:  "Night shift",
				Dates: dates,
				Meals: []factory.ScheduleMealJSON{
					{ID: "sched-night-dinner", MealTypeID: "dinner", SupplierID: "canteen"},
					{ID: "sched-night-midnight", MealTypeID: "midnight", SupplierID: "canteen"},
					{ID: "sched-night-lunch", MealTypeID: "lunch", SupplierID: "canteen"},
				},
				PersonIDs: []string{"emp-lee"},
			},
		},
	}
}

func functionKeysCatalog(dates []string) factory.CatalogJSON {
	unavailable := false
	return factory.CatalogJSON{
		MealTypes: []factory.MealTypeJSON{
			{ID: "lunch", Name: "Lunch", Window: &factory.WindowJSON{Start: "12:00", End: "14:00"}},
		},
		SubTypes: []factory.SubTypeJSON{
			{ID: "chicken", MealTypeID: "lunch", Name: "Chicken"},
			{ID: "fish", MealTypeID: "lunch", Name: "Fish"},
			{ID: "veg", MealTypeID: "lunch", Name: "Vegetarian"},
		},
		Suppliers: []factory.SupplierJSON{
			{ID: "canteen", Name: "Main Canteen"},
			{ID: "greens", Name: "Greens Catering"},
		},
		MealCosts: []factory.MealCostJSON{
			mealCost("canteen", "lunch", "chicken", "3.50", "2.50"),
			mealCost("canteen", "lunch", "fish", "4.00", "3.00"),
			mealCost("greens", "lunch", "veg", "3.00", "2.00"),
		},
		PayPolicies: []factory.PayPolicyJSON{
			{Shift: "DayShift", MealTypeID: "lunch", IsMalePaid: true, IsFemalePaid: true},
		},
		Departments: departments,
		Devices:     []factory.DeviceJSON{{ID: "kiosk-day", SerialNumber: "DAY-1", Shift: "Day", Location: "Main hall"}},
		Persons:     staff(),
		Schedules: []factory.ScheduleJSON{{
			ID:    "sched-lunch",
			Name:  "Lunch choices",
			Dates: dates,
			Meals: []factory.ScheduleMealJSON{
				{ID: "sched-lunch-1", MealTypeID: "lunch", SubTypeID: "chicken", SupplierID: "canteen", FunctionKey: "F1"},
				{ID: "sched-lunch-2", MealTypeID: "lunch", SubTypeID: "fish", SupplierID: "canteen", FunctionKey: "F2", Available: &unavailable},
				{ID: "sched-lunch-3", MealTypeID: "lunch", SubTypeID: "veg", SupplierID: "greens", FunctionKey: "F3"},
			},
			PersonIDs: []string{"emp-sam", "emp-ana", "emp-lee"},
		}},
	}
}

func overlapCatalog(dates []string) factory.CatalogJSON {
	return factory.CatalogJSON{
		MealTypes: []factory.MealTypeJSON{
			{ID: "breakfast", Name: "Breakfast", Window: &factory.WindowJSON{Start: "08:00", End: "09:00"}},
			{ID: "brunch", Name: "Brunch", Window: &factory.WindowJSON{Start: "08:30", End: "10:00"}},
			{ID: "tea", Name: "Tea", Window: &factory.WindowJSON{Start: "09:00", End: "09:30"}},
		},
		Suppliers: []factory.SupplierJSON{{ID: "canteen", Name: "Main Canteen"}},
		MealCosts: []factory.MealCostJSON{
			mealCost("canteen", "breakfast", "", "2.00", "1.00"),
			mealCost("canteen", "brunch", "", "3.00", "2.00"),
			mealCost("canteen", "tea", "", "0.50", "0.50"),
		},
		Departments: departments,
		Devices:     []factory.DeviceJSON{{ID: "kiosk-day", SerialNumber: "DAY-1", Shift: "Day"}},
		Persons:     staff(),
		Schedules: []factory.ScheduleJSON{{
			ID:        "sched-breakfast",
			Name:      "Breakfast",
			Dates:     dates,
			Meals:     []factory.ScheduleMealJSON{{ID: "sched-breakfast-1", MealTypeID: "breakfast", SupplierID: "canteen"}},
			PersonIDs: []string{"emp-sam", "emp-ana"},
		}},
	}
}
