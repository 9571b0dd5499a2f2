/*
Package factory provides JSON to Go catalog conversion.

PURPOSE:
  Converts JSON catalog definitions into meal types and loads them into
  a store. Canteen admins describe meal types, costs, pay policies,
  kiosks, people and schedules in one document; the factory validates
  it and produces the meal structs.

JSON SCHEMA:
  {
    "meal_types":   [{"id": "lunch", "name": "Lunch",
                      "window": {"start": "12:00", "end": "13:00"}}],
    "sub_types":    [{"id": "chicken", "meal_type_id": "lunch", "name": "Chicken"}],
    "suppliers":    [{"id": "canteen", "name": "Main Canteen"}],
    "meal_costs":   [{"supplier_id": "canteen", "meal_type_id": "lunch",
                      "supplier_cost": "5.00", "selling_price": "6.00",
                      "company_cost": "3.00", "employee_cost": "2.00"}],
    "pay_policies": [{"shift": "DayShift", "meal_type_id": "lunch",
                      "is_male_paid": true, "is_female_paid": false}],
    "departments":  [{"id": "eng", "name": "Engineering"}],
    "devices":      [{"id": "k1", "serial_number": "DAY-1", "shift": "Day"}],
    "persons":      [{"id": "p1", "number": "1001", "name": "Sam",
                      "type": "Employer", "gender": "Male", "department_id": "eng"}],
    "schedules":    [{"id": "s1", "name": "Lunch", "dates": ["2025-01-10"],
                      "meals": [{"id": "m1", "meal_type_id": "lunch", "supplier_id": "canteen"}],
                      "person_ids": ["p1"]}]
  }

DEFAULTS:
  - persons[].active and schedules[].meals[].available default to true
  - amounts are decimal strings; empty means zero
  - a schedule meal without "window" uses the meal type window

USAGE:
  catalog, err := factory.ParseCatalog(data)
  err = factory.Load(ctx, store, catalog)

SEE ALSO:
  - meal/types.go: Target types
  - api/scenarios.go: Demo catalogs
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/warp/meal-token-engine/meal"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type CatalogJSON struct {
	MealTypes   []MealTypeJSON   `json:"meal_types,omitempty"`
	SubTypes    []SubTypeJSON    `json:"sub_types,omitempty"`
	Suppliers   []SupplierJSON   `json:"suppliers,omitempty"`
	MealCosts   []MealCostJSON   `json:"meal_costs,omitempty"`
	PayPolicies []PayPolicyJSON  `json:"pay_policies,omitempty"`
	Departments []DepartmentJSON `json:"departments,omitempty"`
	Devices     []DeviceJSON     `json:"devices,omitempty"`
	Persons     []PersonJSON     `json:"persons,omitempty"`
	Schedules   []ScheduleJSON   `json:"schedules,omitempty"`
}

type WindowJSON struct {
	Start string `json:"start"` // HH:MM
	End   string `json:"end"`
}

type MealTypeJSON struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Window *WindowJSON `json:"window,omitempty"`
}

type SubTypeJSON struct {
	ID         string `json:"id"`
	MealTypeID string `json:"meal_type_id"`
	Name       string `json:"name"`
}

type SupplierJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type MealCostJSON struct {
	SupplierID   string `json:"supplier_id"`
	MealTypeID   string `json:"meal_type_id"`
	SubTypeID    string `json:"sub_type_id,omitempty"`
	SupplierCost string `json:"supplier_cost,omitempty"`
	SellingPrice string `json:"selling_price,omitempty"`
	CompanyCost  string `json:"company_cost,omitempty"`
	EmployeeCost string `json:"employee_cost,omitempty"`
}

type PayPolicyJSON struct {
	Shift        string `json:"shift"`
	MealTypeID   string `json:"meal_type_id"`
	IsMalePaid   bool   `json:"is_male_paid"`
	IsFemalePaid bool   `json:"is_female_paid"`
}

type DepartmentJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type DeviceJSON struct {
	ID           string `json:"id"`
	SerialNumber string `json:"serial_number"`
	Shift        string `json:"shift"` // Day, Night
	Location     string `json:"location,omitempty"`
}

type PersonJSON struct {
	ID           string `json:"id"`
	Number       string `json:"number"`
	Name         string `json:"name"`
	Type         string `json:"type"`             // Employer, Visitor
	Gender       string `json:"gender,omitempty"` // Male, Female
	DepartmentID string `json:"department_id,omitempty"`
	Active       *bool  `json:"active,omitempty"`
}

type ScheduleJSON struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Period    string             `json:"period,omitempty"`
	Dates     []string           `json:"dates"`
	Meals     []ScheduleMealJSON `json:"meals"`
	PersonIDs []string           `json:"person_ids"`
}

type ScheduleMealJSON struct {
	ID          string      `json:"id"`
	MealTypeID  string      `json:"meal_type_id"`
	SubTypeID   string      `json:"sub_type_id,omitempty"`
	SupplierID  string      `json:"supplier_id"`
	FunctionKey string      `json:"function_key,omitempty"`
	Window      *WindowJSON `json:"window,omitempty"`
	Available   *bool       `json:"available,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is a parsed, validated catalog document.
type Catalog struct {
	MealTypes   []meal.MealType
	SubTypes    []meal.SubType
	Suppliers   []meal.Supplier
	MealCosts   []meal.MealCost
	PayPolicies []meal.PayPolicy
	Departments []meal.Department
	Devices     []meal.Device
	Persons     []meal.Person
	Schedules   []meal.Schedule
}

// ParseCatalog parses a JSON catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return FromJSON(cj)
}

// FromJSON converts CatalogJSON into meal types, failing on the first
// invalid entry.
func FromJSON(cj CatalogJSON) (*Catalog, error) {
	c := &Catalog{}

	for i, mj := range cj.MealTypes {
		if mj.ID == "" {
			return nil, fmt.Errorf("meal_types[%d]: id is required", i)
		}
		mt := meal.MealType{ID: meal.MealTypeID(mj.ID), Name: mj.Name}
		if mj.Window != nil {
			w, err := parseWindow(*mj.Window)
			if err != nil {
				return nil, fmt.Errorf("meal_types[%d]: %w", i, err)
			}
			mt.DefaultWindow = w
		}
		c.MealTypes = append(c.MealTypes, mt)
	}

	for _, sj := range cj.SubTypes {
		c.SubTypes = append(c.SubTypes, meal.SubType{ID: meal.SubTypeID(sj.ID), MealTypeID: meal.MealTypeID(sj.MealTypeID), Name: sj.Name})
	}
	for _, sj := range cj.Suppliers {
		c.Suppliers = append(c.Suppliers, meal.Supplier{ID: meal.SupplierID(sj.ID), Name: sj.Name})
	}

	for i, mcj := range cj.MealCosts {
		mc, err := parseMealCost(mcj)
		if err != nil {
			return nil, fmt.Errorf("meal_costs[%d]: %w", i, err)
		}
		c.MealCosts = append(c.MealCosts, mc)
	}

	for i, pj := range cj.PayPolicies {
		s := meal.Shift(pj.Shift)
		if !s.Valid() {
			return nil, fmt.Errorf("pay_policies[%d]: unknown shift %q", i, pj.Shift)
		}
		c.PayPolicies = append(c.PayPolicies, meal.PayPolicy{
			Shift:        s,
			MealTypeID:   meal.MealTypeID(pj.MealTypeID),
			IsMalePaid:   pj.IsMalePaid,
			IsFemalePaid: pj.IsFemalePaid,
		})
	}

	for _, dj := range cj.Departments {
		c.Departments = append(c.Departments, meal.Department{ID: meal.DepartmentID(dj.ID), Name: dj.Name})
	}

	for i, dj := range cj.Devices {
		d, err := parseDeviceShift(dj.Shift)
		if err != nil {
			return nil, fmt.Errorf("devices[%d]: %w", i, err)
		}
		c.Devices = append(c.Devices, meal.Device{ID: meal.DeviceID(dj.ID), SerialNumber: dj.SerialNumber, Shift: d, Location: dj.Location})
	}

	for i, pj := range cj.Persons {
		p, err := parsePerson(pj)
		if err != nil {
			return nil, fmt.Errorf("persons[%d]: %w", i, err)
		}
		c.Persons = append(c.Persons, p)
	}

	for i, sj := range cj.Schedules {
		s, err := parseSchedule(sj)
		if err != nil {
			return nil, fmt.Errorf("schedules[%d]: %w", i, err)
		}
		c.Schedules = append(c.Schedules, s)
	}

	return c, nil
}

// Load writes every catalog entry into s. Entries are upserts, so loading
// the same catalog twice is harmless.
func Load(ctx context.Context, s meal.Store, c *Catalog) error {
	for _, mt := range c.MealTypes {
		if err := s.SaveMealType(ctx, mt); err != nil {
			return fmt.Errorf("save meal type %s: %w", mt.ID, err)
		}
	}
	for _, st := range c.SubTypes {
		if err := s.SaveSubType(ctx, st); err != nil {
			return fmt.Errorf("save sub type %s: %w", st.ID, err)
		}
	}
	for _, sp := range c.Suppliers {
		if err := s.SaveSupplier(ctx, sp); err != nil {
			return fmt.Errorf("save supplier %s: %w", sp.ID, err)
		}
	}
	for _, mc := range c.MealCosts {
		if err := s.SaveMealCost(ctx, mc); err != nil {
			return fmt.Errorf("save meal cost %s/%s: %w", mc.SupplierID, mc.MealTypeID, err)
		}
	}
	for _, p := range c.PayPolicies {
		if err := s.SavePayPolicy(ctx, p); err != nil {
			return fmt.Errorf("save pay policy %s/%s: %w", p.Shift, p.MealTypeID, err)
		}
	}
	for _, d := range c.Departments {
		if err := s.SaveDepartment(ctx, d); err != nil {
			return fmt.Errorf("save department %s: %w", d.ID, err)
		}
	}
	for _, d := range c.Devices {
		if err := s.SaveDevice(ctx, d); err != nil {
			return fmt.Errorf("save device %s: %w", d.SerialNumber, err)
		}
	}
	for _, p := range c.Persons {
		if err := s.SavePerson(ctx, p); err != nil {
			return fmt.Errorf("save person %s: %w", p.ID, err)
		}
	}
	for _, sc := range c.Schedules {
		if err := s.SaveSchedule(ctx, sc); err != nil {
			return fmt.Errorf("save schedule %s: %w", sc.ID, err)
		}
	}
	return nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseWindow(wj WindowJSON) (meal.Window, error) {
	return meal.NewWindow(wj.Start, wj.End)
}

func parseMealCost(cj MealCostJSON) (meal.MealCost, error) {
	mc := meal.MealCost{
		SupplierID: meal.SupplierID(cj.SupplierID),
		MealTypeID: meal.MealTypeID(cj.MealTypeID),
		SubTypeID:  meal.SubTypeID(cj.SubTypeID),
	}
	fields := []struct {
		name string
		raw  string
		dst  *meal.Money
	}{
		{"supplier_cost", cj.SupplierCost, &mc.SupplierCost},
		{"selling_price", cj.SellingPrice, &mc.SellingPrice},
		{"company_cost", cj.CompanyCost, &mc.CompanyCost},
		{"employee_cost", cj.EmployeeCost, &mc.EmployeeCost},
	}
	for _, f := range fields {
		m, err := meal.ParseMoney(f.raw)
		if err != nil {
			return meal.MealCost{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = m
	}
	return mc, nil
}

func parseDeviceShift(s string) (meal.DeviceShift, error) {
	switch meal.DeviceShift(s) {
	case meal.DeviceDay, meal.DeviceNight:
		return meal.DeviceShift(s), nil
	}
	return "", fmt.Errorf("unknown device shift %q (use Day or Night)", s)
}

func parsePerson(pj PersonJSON) (meal.Person, error) {
	p := meal.Person{
		ID:           meal.PersonID(pj.ID),
		Number:       pj.Number,
		Name:         pj.Name,
		DepartmentID: meal.DepartmentID(pj.DepartmentID),
		Active:       pj.Active == nil || *pj.Active,
	}
	switch meal.PersonType(pj.Type) {
	case meal.PersonEmployer, meal.PersonVisitor:
		p.Type = meal.PersonType(pj.Type)
	default:
		return meal.Person{}, fmt.Errorf("unknown person type %q", pj.Type)
	}
	switch meal.Gender(pj.Gender) {
	case meal.GenderMale, meal.GenderFemale, meal.GenderUnknown:
		p.Gender = meal.Gender(pj.Gender)
	default:
		return meal.Person{}, fmt.Errorf("unknown gender %q", pj.Gender)
	}
	return p, nil
}

func parseSchedule(sj ScheduleJSON) (meal.Schedule, error) {
	s := meal.Schedule{ID: meal.ScheduleID(sj.ID), Name: sj.Name, Period: sj.Period}
	for _, raw := range sj.Dates {
		d, err := meal.ParseDate(raw)
		if err != nil {
			return meal.Schedule{}, err
		}
		s.Dates = append(s.Dates, d)
	}
	for i, mj := range sj.Meals {
		sm := meal.ScheduleMeal{
			ID:          meal.ScheduleMealID(mj.ID),
			ScheduleID:  s.ID,
			MealTypeID:  meal.MealTypeID(mj.MealTypeID),
			SubTypeID:   meal.SubTypeID(mj.SubTypeID),
			SupplierID:  meal.SupplierID(mj.SupplierID),
			FunctionKey: mj.FunctionKey,
			Available:   mj.Available == nil || *mj.Available,
		}
		if mj.Window != nil {
			w, err := parseWindow(*mj.Window)
			if err != nil {
				return meal.Schedule{}, fmt.Errorf("meals[%d]: %w", i, err)
			}
			sm.Window = &w
		}
		if sm.ID == "" {
			sm.ID = meal.ScheduleMealID(fmt.Sprintf("%s-m%d", s.ID, i+1))
		}
		s.Meals = append(s.Meals, sm)
	}
	for _, p := range sj.PersonIDs {
		s.PersonIDs = append(s.PersonIDs, meal.PersonID(p))
	}
	return s, nil
}
