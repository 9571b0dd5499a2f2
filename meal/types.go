/*
Package meal provides the data model of the meal token engine.

PURPOSE:
  Types shared by every component that decides who gets which meal token:
  people, schedules and their meal offerings, kiosks, issued-token records,
  pay policies and meal costs. Storage lives behind the interfaces in
  store.go; this package holds no state.

KEY CONCEPTS IN THIS FILE (types.go):
  - Person: Employee or visitor who requests tokens (read-only here)
  - Schedule / ScheduleMeal: Dates x offered meals x assigned persons
  - Device: Kiosk with an operator-declared Day/Night shift
  - Consumption: The issued-token record, source of truth for history
  - PayPolicy / MealCost: Inputs of the cost allocation step

INVARIANTS:
  1. At most one Consumption per (person, meal type, date)
  2. Consumption.Shift and PayStatus are frozen when the record is written
  3. A ScheduleMeal window is half-open and never wraps midnight

SEE ALSO:
  - time.go: TimeOfDay, Window, Date
  - errors.go: Failure taxonomy
  - store.go: Storage interfaces consumed by the engine
*/
package meal

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type PersonID string
type DepartmentID string
type ScheduleID string
type ScheduleMealID string
type MealTypeID string
type SubTypeID string
type SupplierID string
type DeviceID string
type ConsumptionID string

// =============================================================================
// MONEY
// =============================================================================

// Money is a currency amount. Decimal avoids float drift in cost sums.
type Money struct {
	decimal.Decimal
}

func NewMoney(v float64) Money                 { return Money{decimal.NewFromFloat(v)} }
func MoneyFromDecimal(d decimal.Decimal) Money { return Money{d} }
func ZeroMoney() Money                         { return Money{decimal.Zero} }

func ParseMoney(s string) (Money, error) {
	if s == "" {
		return ZeroMoney(), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{d}, nil
}

func (m Money) Add(o Money) Money  { return Money{m.Decimal.Add(o.Decimal)} }
func (m Money) Equal(o Money) bool { return m.Decimal.Equal(o.Decimal) }

// =============================================================================
// PERSON
// =============================================================================

type PersonType string

const (
	PersonEmployer PersonType = "Employer"
	PersonVisitor  PersonType = "Visitor"
)

type Gender string

const (
	GenderMale    Gender = "Male"
	GenderFemale  Gender = "Female"
	GenderUnknown Gender = ""
)

// Person is owned by the admin subsystem; the engine only reads it.
type Person struct {
	ID           PersonID
	Number       string // badge / employee number typed at the kiosk
	Name         string
	Type         PersonType
	Gender       Gender
	DepartmentID DepartmentID
	Active       bool
}

type Department struct {
	ID   DepartmentID
	Name string
}

// =============================================================================
// CATALOG - Meal types, sub-types, suppliers, costs
// =============================================================================

// MealType is a catalog meal (Breakfast, Lunch...). DefaultWindow applies
// to schedule meals that do not carry their own issuance window.
type MealType struct {
	ID            MealTypeID
	Name          string
	DefaultWindow Window
}

type SubType struct {
	ID         SubTypeID
	MealTypeID MealTypeID
	Name       string
}

type Supplier struct {
	ID   SupplierID
	Name string
}

// MealCost is keyed by (supplier, meal type, optional sub-type).
type MealCost struct {
	SupplierID   SupplierID
	MealTypeID   MealTypeID
	SubTypeID    SubTypeID // empty = applies to the meal type without sub-type
	SupplierCost Money
	SellingPrice Money
	CompanyCost  Money
	EmployeeCost Money
}

// =============================================================================
// SCHEDULE
// =============================================================================

// Schedule binds calendar dates, offered meals and assigned persons. It is
// in force for a person only on the dates it lists.
type Schedule struct {
	ID        ScheduleID
	Name      string
	Period    string // free-form label, e.g. "2025-W02"
	Dates     []Date
	Meals     []ScheduleMeal
	PersonIDs []PersonID
}

// HasDate reports whether the schedule is in force on d.
func (s Schedule) HasDate(d Date) bool {
	for _, sd := range s.Dates {
		if sd.Equal(d) {
			return true
		}
	}
	return false
}

// HasPerson reports whether id is assigned to the schedule.
func (s Schedule) HasPerson(id PersonID) bool {
	for _, p := range s.PersonIDs {
		if p == id {
			return true
		}
	}
	return false
}

// ScheduleMeal is one orderable meal within a schedule.
type ScheduleMeal struct {
	ID          ScheduleMealID
	ScheduleID  ScheduleID
	MealTypeID  MealTypeID
	SubTypeID   SubTypeID // optional
	SupplierID  SupplierID
	FunctionKey string  // optional kiosk key to pick this variant
	Window      *Window // nil = meal type default window
	Available   bool
}

// EffectiveWindow returns the meal's own window, or fallback when unset.
func (m ScheduleMeal) EffectiveWindow(fallback Window) Window {
	if m.Window != nil {
		return *m.Window
	}
	return fallback
}

// =============================================================================
// DEVICE - Token kiosk
// =============================================================================

// DeviceShift is the operator-declared shift of a kiosk. It is a hint the
// shift classifier checks, not ground truth.
type DeviceShift string

const (
	DeviceDay   DeviceShift = "Day"
	DeviceNight DeviceShift = "Night"
)

type Device struct {
	ID           DeviceID
	SerialNumber string
	Shift        DeviceShift
	Location     string
}

// =============================================================================
// SHIFT - Classification frozen into each consumption
// =============================================================================

type Shift string

const (
	ShiftDay         Shift = "DayShift"
	ShiftNight       Shift = "NightShift"
	ShiftDayExtended Shift = "DayShiftExtended"
	ShiftDayAndNight Shift = "DayAndNightShift" // day worker crossing into night
	ShiftNightAndDay Shift = "NightAndDayShift" // night worker crossing into day
)

// IsDayFamily reports shifts that count as day-side history.
func (s Shift) IsDayFamily() bool {
	return s == ShiftDay || s == ShiftDayExtended || s == ShiftDayAndNight
}

// IsNightFamily reports shifts that count as night-side history.
// DayAndNightShift belongs to both families.
func (s Shift) IsNightFamily() bool {
	return s == ShiftNight || s == ShiftNightAndDay || s == ShiftDayAndNight
}

func (s Shift) Valid() bool {
	switch s {
	case ShiftDay, ShiftNight, ShiftDayExtended, ShiftDayAndNight, ShiftNightAndDay:
		return true
	}
	return false
}

// =============================================================================
// PAY POLICY
// =============================================================================

type PayStatus string

const (
	PayStatusPaid PayStatus = "Paid"
	PayStatusFree PayStatus = "Free"
)

// PayPolicy decides, per (shift, meal type), whether male and female
// employees pay for the meal themselves.
type PayPolicy struct {
	Shift        Shift
	MealTypeID   MealTypeID
	IsMalePaid   bool
	IsFemalePaid bool
}

// =============================================================================
// CONSUMPTION - Issued token record
// =============================================================================

const (
	JobStatusPending = "pending"
	JobStatusIssued  = "issued"
)

// Consumption is written once by the issuing pipeline. Afterwards only
// Issued and JobStatus change, when the kiosk confirms the printed token.
type Consumption struct {
	ID           ConsumptionID
	PersonID     PersonID
	Date         Date
	Time         TimeOfDay
	At           time.Time
	ScheduleID   ScheduleID
	ScheduleName string
	MealTypeID   MealTypeID
	MealTypeName string
	SubTypeID    SubTypeID
	SubTypeName  string
	SupplierID   SupplierID
	Window       Window

	SupplierCost         Money
	SellingPrice         Money
	CompanyCost          Money
	EmployeeCost         Money
	CompanyContribution  Money
	EmployeeContribution Money

	DeviceID  DeviceID
	Shift     Shift
	PayStatus PayStatus
	Issued    bool
	JobStatus string
	CreatedAt time.Time
}

// MealLabel is the printable meal name, "Lunch" or "Lunch - Chicken".
func (c Consumption) MealLabel() string {
	if c.SubTypeName == "" {
		return c.MealTypeName
	}
	return c.MealTypeName + " - " + c.SubTypeName
}
