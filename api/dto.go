/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the meal model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Tokens:
    IssueTokenRequest, ReceiptDTO, ConfirmTokenRequest, ConsumptionDTO

  Schedules:
    ScheduleRequest, ScheduleMealDTO, ScheduleDTO,
    ConflictDTO, ValidateScheduleResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

MONEY:
  Amounts are decimal strings ("2.5"), never floats.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/meal-token-engine/issuance"
	"github.com/warp/meal-token-engine/meal"
	"github.com/warp/meal-token-engine/schedule"
)

// =============================================================================
// TOKENS
// =============================================================================

// IssueTokenRequest is sent by the kiosk. A missing timestamp means now.
type IssueTokenRequest struct {
	PersonNumber string     `json:"person_number"`
	DeviceSerial string     `json:"device_serial"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
	FunctionKey  string     `json:"function_key,omitempty"`
}

// ReceiptDTO is the printable token.
type ReceiptDTO struct {
	ConsumptionID        string `json:"consumption_id"`
	Date                 string `json:"date"`
	Time                 string `json:"time"`
	Meal                 string `json:"meal"`
	ScheduleName         string `json:"schedule_name"`
	Window               string `json:"window"`
	Shift                string `json:"shift"`
	PersonName           string `json:"person_name"`
	PersonNumber         string `json:"person_number"`
	Gender               string `json:"gender,omitempty"`
	Department           string `json:"department,omitempty"`
	PayStatus            string `json:"pay_status"`
	EmployeeContribution string `json:"employee_contribution"`
	CompanyContribution  string `json:"company_contribution"`
	Issued               bool   `json:"issued"`
	Reused               bool   `json:"reused"`
}

type ConfirmTokenRequest struct {
	JobStatus string `json:"job_status,omitempty"`
}

// ConsumptionDTO is a stored consumption record.
type ConsumptionDTO struct {
	ID                   string `json:"id"`
	PersonID             string `json:"person_id"`
	Date                 string `json:"date"`
	Time                 string `json:"time"`
	ScheduleID           string `json:"schedule_id"`
	Meal                 string `json:"meal"`
	Window               string `json:"window"`
	DeviceID             string `json:"device_id"`
	Shift                string `json:"shift"`
	PayStatus            string `json:"pay_status"`
	EmployeeContribution string `json:"employee_contribution"`
	CompanyContribution  string `json:"company_contribution"`
	Issued               bool   `json:"issued"`
	JobStatus            string `json:"job_status"`
}

// =============================================================================
// SCHEDULES
// =============================================================================

type WindowDTO struct {
	Start meal.TimeOfDay `json:"start"`
	End   meal.TimeOfDay `json:"end"`
}

type ScheduleMealDTO struct {
	ID          string     `json:"id,omitempty"`
	MealTypeID  string     `json:"meal_type_id"`
	SubTypeID   string     `json:"sub_type_id,omitempty"`
	SupplierID  string     `json:"supplier_id"`
	FunctionKey string     `json:"function_key,omitempty"`
	Window      *WindowDTO `json:"window,omitempty"`
	Available   *bool      `json:"available,omitempty"`
}

// ScheduleRequest is the body of create, update and validate.
type ScheduleRequest struct {
	Name      string            `json:"name"`
	Period    string            `json:"period,omitempty"`
	Dates     []meal.Date       `json:"dates"`
	Meals     []ScheduleMealDTO `json:"meals"`
	PersonIDs []string          `json:"person_ids"`
}

type ScheduleDTO struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Period    string            `json:"period,omitempty"`
	Dates     []meal.Date       `json:"dates"`
	Meals     []ScheduleMealDTO `json:"meals"`
	PersonIDs []string          `json:"person_ids"`
}

type MealSlotDTO struct {
	MealTypeID string `json:"meal_type_id"`
	Meal       string `json:"meal"`
	SubTypeID  string `json:"sub_type_id,omitempty"`
	Window     string `json:"window"`
}

type ConflictDTO struct {
	PersonID             string      `json:"person_id"`
	PersonName           string      `json:"person_name,omitempty"`
	Date                 string      `json:"date"`
	New                  MealSlotDTO `json:"new"`
	ExistingScheduleID   string      `json:"existing_schedule_id"`
	ExistingScheduleName string      `json:"existing_schedule_name"`
	Existing             MealSlotDTO `json:"existing"`
}

type ValidateScheduleResponse struct {
	Valid     bool          `json:"valid"`
	Conflicts []ConflictDTO `json:"conflicts"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response. Code is a stable
// machine-readable kind such as "wrong_device".
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toReceiptDTO(r *issuance.Receipt) ReceiptDTO {
	return ReceiptDTO{
		ConsumptionID:        string(r.ConsumptionID),
		Date:                 r.Date.String(),
		Time:                 r.Time.String(),
		Meal:                 r.Meal,
		ScheduleName:         r.ScheduleName,
		Window:               r.Window.String(),
		Shift:                string(r.Shift),
		PersonName:           r.PersonName,
		PersonNumber:         r.PersonNumber,
		Gender:               string(r.Gender),
		Department:           r.Department,
		PayStatus:            string(r.PayStatus),
		EmployeeContribution: r.EmployeeContribution.String(),
		CompanyContribution:  r.CompanyContribution.String(),
		Issued:               r.Issued,
		Reused:               r.Reused,
	}
}

func toConsumptionDTO(c *meal.Consumption) ConsumptionDTO {
	return ConsumptionDTO{
		ID:                   string(c.ID),
		PersonID:             string(c.PersonID),
		Date:                 c.Date.String(),
		Time:                 c.Time.String(),
		ScheduleID:           string(c.ScheduleID),
		Meal:                 c.MealLabel(),
		Window:               c.Window.String(),
		DeviceID:             string(c.DeviceID),
		Shift:                string(c.Shift),
		PayStatus:            string(c.PayStatus),
		EmployeeContribution: c.EmployeeContribution.String(),
		CompanyContribution:  c.CompanyContribution.String(),
		Issued:               c.Issued,
		JobStatus:            c.JobStatus,
	}
}

func (req ScheduleRequest) toInput() schedule.Input {
	in := schedule.Input{
		Name:   req.Name,
		Period: req.Period,
		Dates:  req.Dates,
	}
	for _, m := range req.Meals {
		sm := meal.ScheduleMeal{
			ID:          meal.ScheduleMealID(m.ID),
			MealTypeID:  meal.MealTypeID(m.MealTypeID),
			SubTypeID:   meal.SubTypeID(m.SubTypeID),
			SupplierID:  meal.SupplierID(m.SupplierID),
			FunctionKey: m.FunctionKey,
			Available:   m.Available == nil || *m.Available,
		}
		if m.Window != nil {
			sm.Window = &meal.Window{Start: m.Window.Start, End: m.Window.End}
		}
		in.Meals = append(in.Meals, sm)
	}
	for _, p := range req.PersonIDs {
		in.PersonIDs = append(in.PersonIDs, meal.PersonID(p))
	}
	return in
}

func toScheduleDTO(s *meal.Schedule) ScheduleDTO {
	dto := ScheduleDTO{
		ID:        string(s.ID),
		Name:      s.Name,
		Period:    s.Period,
		Dates:     s.Dates,
		Meals:     []ScheduleMealDTO{},
		PersonIDs: []string{},
	}
	if dto.Dates == nil {
		dto.Dates = []meal.Date{}
	}
	for _, m := range s.Meals {
		available := m.Available
		md := ScheduleMealDTO{
			ID:          string(m.ID),
			MealTypeID:  string(m.MealTypeID),
			SubTypeID:   string(m.SubTypeID),
			SupplierID:  string(m.SupplierID),
			FunctionKey: m.FunctionKey,
			Available:   &available,
		}
		if m.Window != nil {
			md.Window = &WindowDTO{Start: m.Window.Start, End: m.Window.End}
		}
		dto.Meals = append(dto.Meals, md)
	}
	for _, p := range s.PersonIDs {
		dto.PersonIDs = append(dto.PersonIDs, string(p))
	}
	return dto
}

func toMealSlotDTO(s meal.MealSlot) MealSlotDTO {
	return MealSlotDTO{
		MealTypeID: string(s.MealTypeID),
		Meal:       s.MealTypeName,
		SubTypeID:  string(s.SubTypeID),
		Window:     s.Window.String(),
	}
}

func toConflictDTOs(conflicts []meal.Conflict) []ConflictDTO {
	out := make([]ConflictDTO, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, ConflictDTO{
			PersonID:             string(c.PersonID),
			PersonName:           c.PersonName,
			Date:                 c.Date.String(),
			New:                  toMealSlotDTO(c.New),
			ExistingScheduleID:   string(c.ExistingScheduleID),
			ExistingScheduleName: c.ExistingScheduleName,
			Existing:             toMealSlotDTO(c.Existing),
		})
	}
	return out
}
