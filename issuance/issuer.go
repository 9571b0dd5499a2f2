package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/warp/meal-token-engine/logging"
	"github.com/warp/meal-token-engine/meal"
	"github.com/warp/meal-token-engine/shift"
)

// =============================================================================
// ISSUER - The token pipeline
// =============================================================================

// Request is one kiosk token request. Tenant and Actor are explicit; the
// issuer reads no ambient request state.
type Request struct {
	Tenant       meal.TenantID
	Actor        string
	PersonNumber string
	DeviceSerial string
	At           time.Time // zero = now
	FunctionKey  string
}

// Receipt is what the kiosk prints.
type Receipt struct {
	ConsumptionID        meal.ConsumptionID
	Date                 meal.Date
	Time                 meal.TimeOfDay
	Meal                 string
	ScheduleName         string
	Window               meal.Window
	Shift                meal.Shift
	PersonName           string
	PersonNumber         string
	Gender               meal.Gender
	Department           string
	PayStatus            meal.PayStatus
	EmployeeContribution meal.Money
	CompanyContribution  meal.Money
	Issued               bool

	// Reused is true when a pending record was returned instead of a new one.
	Reused bool
}

// Observer receives issuance outcomes, e.g. for metrics.
type Observer interface {
	TokenIssued(s meal.Shift, status meal.PayStatus)
	TokenRejected(reason string)
}

type nopObserver struct{}

func (nopObserver) TokenIssued(meal.Shift, meal.PayStatus) {}
func (nopObserver) TokenRejected(string)                   {}

type Config struct {
	// Location turns request timestamps into the local date and clock.
	Location *time.Location
	Now      func() time.Time
	NewID    func() string
	Logger   *slog.Logger
	Observer Observer
}

type Issuer struct {
	stores   meal.Resolver
	loc      *time.Location
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
	observer Observer
}

func NewIssuer(stores meal.Resolver, cfg Config) *Issuer {
	i := &Issuer{
		stores:   stores,
		loc:      cfg.Location,
		now:      cfg.Now,
		newID:    cfg.NewID,
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}
	if i.loc == nil {
		i.loc = time.UTC
	}
	if i.now == nil {
		i.now = time.Now
	}
	if i.newID == nil {
		i.newID = uuid.NewString
	}
	if i.observer == nil {
		i.observer = nopObserver{}
	}
	return i
}

// Issue resolves, classifies, guards and costs a request, then writes
// the consumption record. Every failure is a typed error from meal/.
func (i *Issuer) Issue(ctx context.Context, req Request) (*Receipt, error) {
	log := logging.FromContext(ctx, i.logger).With("tenant_id", req.Tenant, "person_number", req.PersonNumber)

	r, err := i.issue(ctx, log, req)
	if err != nil {
		i.reject(log, err)
		return nil, err
	}
	if r.Reused {
		log.Debug("reused pending consumption", "consumption_id", r.ConsumptionID)
		return r, nil
	}
	i.observer.TokenIssued(r.Shift, r.PayStatus)
	log.Info("token issued",
		"consumption_id", r.ConsumptionID,
		"meal", r.Meal,
		"shift", r.Shift,
		"pay_status", r.PayStatus,
	)
	return r, nil
}

func (i *Issuer) issue(ctx context.Context, log *slog.Logger, req Request) (*Receipt, error) {
	store, err := i.stores.Store(ctx, req.Tenant)
	if err != nil {
		return nil, err
	}

	at := req.At
	if at.IsZero() {
		at = i.now()
	}
	at = at.In(i.loc)
	date, tod := meal.DateOf(at), meal.TimeOfDayOf(at)

	person, err := store.GetPersonByNumber(ctx, req.PersonNumber)
	if err != nil {
		return nil, fmt.Errorf("load person: %w", err)
	}
	if person == nil {
		return nil, fmt.Errorf("person %q: %w", req.PersonNumber, meal.ErrPersonNotFound)
	}
	if !person.Active {
		return nil, fmt.Errorf("person %q: %w", req.PersonNumber, meal.ErrPersonInactive)
	}

	device, err := store.GetDeviceBySerial(ctx, req.DeviceSerial)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	if device == nil {
		return nil, fmt.Errorf("device %q: %w", req.DeviceSerial, meal.ErrDeviceNotFound)
	}

	// 1. Distribution
	res, err := Resolve(ctx, store, Query{PersonID: person.ID, Date: date, Time: tod, FunctionKey: req.FunctionKey})
	if err != nil {
		return nil, err
	}

	// 2. Shift
	todays, err := store.ConsumptionsOnDate(ctx, person.ID, date)
	if err != nil {
		return nil, fmt.Errorf("load today's consumptions: %w", err)
	}
	last, err := store.LastConsumptionSince(ctx, person.ID, at.Add(-shift.LookBack), at)
	if err != nil {
		return nil, fmt.Errorf("load last consumption: %w", err)
	}
	decision, err := shift.Classify(tod, device.Shift, shift.History{Today: todays, Last: last})
	if err != nil {
		log.Info("wrong device", "device", device.SerialNumber, "rule", decision.Rule, "error", err)
		return nil, err
	}

	dept, err := store.GetDepartmentName(ctx, person.DepartmentID)
	if err != nil {
		return nil, fmt.Errorf("load department: %w", err)
	}

	// 3. Guard
	pending, err := Guard(ctx, store, person.ID, res.MealTypeID, date)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return newReceipt(*pending, *person, dept, true), nil
	}

	// 4. Cost
	cost, err := store.GetMealCost(ctx, res.SupplierID, res.MealTypeID, res.SubTypeID)
	if err != nil {
		return nil, fmt.Errorf("load meal cost: %w", err)
	}
	if cost == nil {
		return nil, &meal.MealCostNotConfiguredError{SupplierID: res.SupplierID, MealTypeID: res.MealTypeID, SubTypeID: res.SubTypeID}
	}
	alloc, err := Allocate(ctx, store, *person, decision.Shift, *cost, log)
	if err != nil {
		return nil, err
	}

	c := meal.Consumption{
		ID:                   meal.ConsumptionID(i.newID()),
		PersonID:             person.ID,
		Date:                 date,
		Time:                 tod,
		At:                   at,
		ScheduleID:           res.ScheduleID,
		ScheduleName:         res.ScheduleName,
		MealTypeID:           res.MealTypeID,
		MealTypeName:         res.MealTypeName,
		SubTypeID:            res.SubTypeID,
		SubTypeName:          res.SubTypeName,
		SupplierID:           res.SupplierID,
		Window:               res.Window,
		SupplierCost:         cost.SupplierCost,
		SellingPrice:         cost.SellingPrice,
		CompanyCost:          cost.CompanyCost,
		EmployeeCost:         cost.EmployeeCost,
		CompanyContribution:  alloc.CompanyContribution,
		EmployeeContribution: alloc.EmployeeContribution,
		DeviceID:             device.ID,
		Shift:                decision.Shift,
		PayStatus:            alloc.PayStatus,
		JobStatus:            meal.JobStatusPending,
		CreatedAt:            i.now(),
	}

	if err := store.InsertConsumption(ctx, c); err != nil {
		if !errors.Is(err, meal.ErrDuplicateConsumption) {
			return nil, fmt.Errorf("insert consumption: %w", err)
		}
		// Lost a race with a concurrent request for the same token.
		pending, gerr := Guard(ctx, store, person.ID, res.MealTypeID, date)
		if gerr != nil {
			return nil, gerr
		}
		if pending == nil {
			return nil, fmt.Errorf("insert consumption: %w", err)
		}
		return newReceipt(*pending, *person, dept, true), nil
	}
	return newReceipt(c, *person, dept, false), nil
}

func (i *Issuer) reject(log *slog.Logger, err error) {
	kind := meal.ErrorKind(err)
	i.observer.TokenRejected(kind)
	switch {
	case errors.Is(err, meal.ErrAlreadyIssued):
		log.Info("duplicate issuance", "error", err)
	case errors.Is(err, meal.ErrWrongDevice):
		// logged with the rule at classification
	case kind == "internal_error":
		log.Error("token issuance failed", "error", err)
	default:
		log.Info("token request rejected", "reason", kind, "error", err)
	}
}

func newReceipt(c meal.Consumption, p meal.Person, dept string, reused bool) *Receipt {
	return &Receipt{
		ConsumptionID:        c.ID,
		Date:                 c.Date,
		Time:                 c.Time,
		Meal:                 c.MealLabel(),
		ScheduleName:         c.ScheduleName,
		Window:               c.Window,
		Shift:                c.Shift,
		PersonName:           p.Name,
		PersonNumber:         p.Number,
		Gender:               p.Gender,
		Department:           dept,
		PayStatus:            c.PayStatus,
		EmployeeContribution: c.EmployeeContribution,
		CompanyContribution:  c.CompanyContribution,
		Issued:               c.Issued,
		Reused:               reused,
	}
}

// =============================================================================
// CONFIRMATION
// =============================================================================

// Confirm marks a printed token as issued. Shift and pay status stay as
// they were written. An empty jobStatus means JobStatusIssued.
func (i *Issuer) Confirm(ctx context.Context, tenant meal.TenantID, id meal.ConsumptionID, jobStatus string) (*meal.Consumption, error) {
	log := logging.FromContext(ctx, i.logger).With("tenant_id", tenant, "consumption_id", id)

	store, err := i.stores.Store(ctx, tenant)
	if err != nil {
		return nil, err
	}
	c, err := store.GetConsumption(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load consumption: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("consumption %s: %w", id, meal.ErrConsumptionNotFound)
	}
	duplicate := func() error {
		log.Info("duplicate confirmation")
		return &meal.AlreadyIssuedError{PersonID: c.PersonID, MealTypeID: c.MealTypeID, Date: c.Date, Existing: c.ID}
	}
	if c.Issued {
		return nil, duplicate()
	}

	if jobStatus == "" {
		jobStatus = meal.JobStatusIssued
	}
	// Another confirmation may have won between the read and the write.
	if err := store.MarkIssued(ctx, id, jobStatus); err != nil {
		if errors.Is(err, meal.ErrAlreadyIssued) {
			return nil, duplicate()
		}
		return nil, fmt.Errorf("mark issued: %w", err)
	}
	c.Issued = true
	c.JobStatus = jobStatus
	log.Info("token confirmed", "job_status", jobStatus)
	return c, nil
}
