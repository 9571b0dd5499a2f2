/*
errors.go - Failure taxonomy of the meal token engine

PURPOSE:
  Every failure a token request or schedule edit can hit, in one place.
  All of them are recoverable: callers get a typed error and a message
  for the kiosk or the schedule editor, never a crash.

ERROR CATEGORIES:
  1. Resolution - No schedule / meal applies to the request
  2. Classification - Wrong kiosk for the inferred shift
  3. Issuance - Token already issued today
  4. Catalog - Missing cost configuration
  5. Scheduling - Overlapping token windows, invalid input
  6. Lookup - Unknown person, device, tenant, consumption

USAGE:
  Match sentinels with errors.Is, details with errors.As:

    var wrong *meal.WrongDeviceError
    if errors.As(err, &wrong) {
        fmt.Println("use", wrong.Required, "device")
    }

SEE ALSO:
  - issuance/: Produces resolution, issuance and catalog errors
  - shift/: Produces WrongDeviceError
  - schedule/: Produces ScheduleConflictError and ValidationError
*/
package meal

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNoScheduleForPerson = errors.New("no schedule assigned to this person")
	ErrNoScheduleForDate   = errors.New("no schedule for this date")
	ErrNoMealForTime       = errors.New("no meal at this time")
	ErrNoMatchingSchedule  = errors.New("no schedule matches this person, date and time")
	ErrInvalidFunctionKey  = errors.New("invalid function key")
	ErrNoAvailableMeal     = errors.New("no available meal")

	ErrWrongDevice = errors.New("wrong device")

	// ErrAlreadyIssued is returned when a token was already printed for the
	// same (person, meal type, date).
	ErrAlreadyIssued = errors.New("token already issued")

	ErrMealCostNotConfigured = errors.New("meal cost not configured")

	// ErrPolicyNotFound never fails a request: the cost allocator falls back
	// to Paid and logs it. It exists so the fallback can be labelled.
	ErrPolicyNotFound = errors.New("pay policy not found")

	ErrScheduleConflict = errors.New("schedule conflict")
	ErrInvalidSchedule  = errors.New("invalid schedule")

	ErrPersonNotFound      = errors.New("person not found")
	ErrPersonInactive      = errors.New("person is inactive")
	ErrDeviceNotFound      = errors.New("device not found")
	ErrTenantNotFound      = errors.New("tenant not found")
	ErrScheduleNotFound    = errors.New("schedule not found")
	ErrMealTypeNotFound    = errors.New("meal type not found")
	ErrConsumptionNotFound = errors.New("consumption not found")

	// ErrDuplicateConsumption is the storage backstop for the one-record-per
	// (person, meal type, date) invariant.
	ErrDuplicateConsumption = errors.New("duplicate consumption for person, meal type and date")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ResolutionError names the dimension the distribution resolver could not
// satisfy. Unwraps to one of the ErrNo* sentinels.
type ResolutionError struct {
	Kind     error
	PersonID PersonID
	Date     Date
	Time     TimeOfDay
	Key      string
}

func (e *ResolutionError) Error() string {
	switch e.Kind {
	case ErrNoScheduleForPerson:
		return fmt.Sprintf("%s (person %s)", e.Kind, e.PersonID)
	case ErrNoScheduleForDate:
		return fmt.Sprintf("%s (%s)", e.Kind, e.Date)
	case ErrNoMealForTime:
		return fmt.Sprintf("%s (%s)", e.Kind, e.Time)
	case ErrInvalidFunctionKey:
		return fmt.Sprintf("%s %q", e.Kind, e.Key)
	}
	return fmt.Sprintf("%s (person %s, %s %s)", e.Kind, e.PersonID, e.Date, e.Time)
}

func (e *ResolutionError) Unwrap() error { return e.Kind }

// WrongDeviceError is the shift classifier rejecting a kiosk.
type WrongDeviceError struct {
	Used     DeviceShift
	Required DeviceShift
}

func (e *WrongDeviceError) Error() string {
	return fmt.Sprintf("wrong device: use %s device", strings.ToUpper(string(e.Required)))
}

func (e *WrongDeviceError) Unwrap() error { return ErrWrongDevice }

// AlreadyIssuedError points at the consumption that already holds the token.
type AlreadyIssuedError struct {
	PersonID   PersonID
	MealTypeID MealTypeID
	Date       Date
	Existing   ConsumptionID
}

func (e *AlreadyIssuedError) Error() string {
	return fmt.Sprintf("token already issued for meal %s on %s (consumption %s)",
		e.MealTypeID, e.Date, e.Existing)
}

func (e *AlreadyIssuedError) Unwrap() error { return ErrAlreadyIssued }

type MealCostNotConfiguredError struct {
	SupplierID SupplierID
	MealTypeID MealTypeID
	SubTypeID  SubTypeID
}

func (e *MealCostNotConfiguredError) Error() string {
	if e.SubTypeID == "" {
		return fmt.Sprintf("meal cost not configured for supplier %s, meal type %s", e.SupplierID, e.MealTypeID)
	}
	return fmt.Sprintf("meal cost not configured for supplier %s, meal type %s, sub type %s",
		e.SupplierID, e.MealTypeID, e.SubTypeID)
}

func (e *MealCostNotConfiguredError) Unwrap() error { return ErrMealCostNotConfigured }

// =============================================================================
// SCHEDULE CONFLICTS
// =============================================================================

// MealSlot is one meal offering with its effective issuance window.
type MealSlot struct {
	MealTypeID   MealTypeID
	MealTypeName string
	SubTypeID    SubTypeID
	Window       Window
}

func (s MealSlot) label() string {
	name := s.MealTypeName
	if name == "" {
		name = string(s.MealTypeID)
	}
	return fmt.Sprintf("%s (%s)", name, s.Window)
}

// Conflict is one overlap between a proposed meal and a meal the person
// already holds through another schedule on the same date.
type Conflict struct {
	PersonID             PersonID
	PersonName           string
	Date                 Date
	New                  MealSlot
	ExistingScheduleID   ScheduleID
	ExistingScheduleName string
	Existing             MealSlot
}

func (c Conflict) personLabel() string {
	if c.PersonName != "" {
		return c.PersonName
	}
	return string(c.PersonID)
}

// ScheduleConflictError carries every conflict found, not just the first.
type ScheduleConflictError struct {
	Conflicts []Conflict
}

// Error renders one sentence for a single conflict and per-person counts
// otherwise.
func (e *ScheduleConflictError) Error() string {
	switch len(e.Conflicts) {
	case 0:
		return ErrScheduleConflict.Error()
	case 1:
		c := e.Conflicts[0]
		return fmt.Sprintf("schedule conflict: %s already has %s on %s in schedule %q, which overlaps %s",
			c.personLabel(), c.Existing.label(), c.Date, c.ExistingScheduleName, c.New.label())
	}

	counts := make(map[string]int)
	for _, c := range e.Conflicts {
		counts[c.personLabel()]++
	}
	people := make([]string, 0, len(counts))
	for p := range counts {
		people = append(people, p)
	}
	sort.Strings(people)

	parts := make([]string, len(people))
	for i, p := range people {
		parts[i] = fmt.Sprintf("%s (%d)", p, counts[p])
	}
	return fmt.Sprintf("schedule conflict: %d overlapping token windows for %d persons: %s",
		len(e.Conflicts), len(people), strings.Join(parts, ", "))
}

func (e *ScheduleConflictError) Unwrap() error { return ErrScheduleConflict }

// ValidationError captures field level problems in a schedule edit.
type ValidationError struct {
	FieldErrors map[string]string
}

func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return ErrInvalidSchedule.Error()
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for f := range v.FieldErrors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + ": " + v.FieldErrors[f]
	}
	return ErrInvalidSchedule.Error() + ": " + strings.Join(parts, "; ")
}

func (v *ValidationError) Unwrap() error { return ErrInvalidSchedule }

func (v *ValidationError) HasErrors() bool { return v != nil && len(v.FieldErrors) > 0 }

// Add records a field error; the first message per field wins.
func (v *ValidationError) Add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	if _, ok := v.FieldErrors[field]; !ok {
		v.FieldErrors[field] = message
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the request itself cannot be honored.
func IsClientError(err error) bool {
	return ErrorKind(err) != "internal_error" && !IsNotFound(err)
}

// IsNotFound returns true if a referenced entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPersonNotFound) ||
		errors.Is(err, ErrDeviceNotFound) ||
		errors.Is(err, ErrTenantNotFound) ||
		errors.Is(err, ErrScheduleNotFound) ||
		errors.Is(err, ErrMealTypeNotFound) ||
		errors.Is(err, ErrConsumptionNotFound)
}

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrNoScheduleForPerson, "no_schedule_for_person"},
	{ErrNoScheduleForDate, "no_schedule_for_date"},
	{ErrNoMealForTime, "no_meal_for_time"},
	{ErrNoMatchingSchedule, "no_matching_schedule"},
	{ErrInvalidFunctionKey, "invalid_function_key"},
	{ErrNoAvailableMeal, "no_available_meal"},
	{ErrWrongDevice, "wrong_device"},
	{ErrAlreadyIssued, "already_issued"},
	{ErrMealCostNotConfigured, "meal_cost_not_configured"},
	{ErrPolicyNotFound, "policy_not_found"},
	{ErrScheduleConflict, "schedule_conflict"},
	{ErrInvalidSchedule, "invalid_schedule"},
	{ErrPersonNotFound, "person_not_found"},
	{ErrPersonInactive, "person_inactive"},
	{ErrDeviceNotFound, "device_not_found"},
	{ErrTenantNotFound, "tenant_not_found"},
	{ErrScheduleNotFound, "schedule_not_found"},
	{ErrMealTypeNotFound, "meal_type_not_found"},
	{ErrConsumptionNotFound, "consumption_not_found"},
	{ErrDuplicateConsumption, "duplicate_consumption"},
}

// ErrorKind maps an error to a stable label for responses, logs and metrics.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal_error"
}
