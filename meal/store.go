/*
store.go - Storage interfaces consumed by the meal token engine

PURPOSE:
  The engine owns no state. Everything it reads or writes belongs to a
  storage collaborator reached through the interfaces below. Lookups are
  issued one at a time within a request; implementations may share a
  single session per request.

KEY INTERFACES:
  ScheduleStore:    Schedules, their dates, meals and assigned persons
  CatalogStore:     Meal types, sub-types, suppliers, costs, pay policies
  DirectoryStore:   Persons, departments, kiosks
  ConsumptionStore: Issued-token records (insert + confirm only)
  Store:            All of the above
  Resolver:         Per-tenant Store lookup

NOT FOUND CONTRACT:
  Single-row lookups return (nil, nil) when the row does not exist. The
  caller decides which sentinel error that becomes.

DUPLICATE BACKSTOP:
  InsertConsumption must return ErrDuplicateConsumption when a record for
  the same (person, meal type, date) already exists. The issuance guard's
  check-then-insert is not atomic; the constraint is.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - meal/store/memory.go: In-memory for tests and demos

SEE ALSO:
  - issuance/: Reads schedules, catalog, directory; writes consumptions
  - schedule/: Reads and writes schedules
*/
package meal

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// SCHEDULES
// =============================================================================

type ScheduleStore interface {
	// GetSchedule returns the schedule with its dates, meals and persons.
	GetSchedule(ctx context.Context, id ScheduleID) (*Schedule, error)

	// SchedulesByPerson returns ids of schedules the person is assigned to.
	SchedulesByPerson(ctx context.Context, personID PersonID) ([]ScheduleID, error)

	// SchedulesByDate returns ids of schedules whose date set contains d.
	SchedulesByDate(ctx context.Context, d Date) ([]ScheduleID, error)

	// ScheduleMealsByTime returns every schedule meal whose effective window
	// (own window, else the meal type default) contains t, ordered by
	// schedule id then schedule-meal id. Window is filled in on the result.
	ScheduleMealsByTime(ctx context.Context, t TimeOfDay) ([]ScheduleMeal, error)

	// SchedulesForPersonOnDate returns full schedules the person holds on d.
	SchedulesForPersonOnDate(ctx context.Context, personID PersonID, d Date) ([]Schedule, error)

	// SaveSchedule inserts or replaces a schedule with its children.
	SaveSchedule(ctx context.Context, s Schedule) error
}

// =============================================================================
// CATALOG
// =============================================================================

type CatalogStore interface {
	GetMealType(ctx context.Context, id MealTypeID) (*MealType, error)
	GetSubType(ctx context.Context, id SubTypeID) (*SubType, error)

	// GetMealCost matches subTypeID exactly; an empty sub-type matches the
	// row configured without one.
	GetMealCost(ctx context.Context, supplierID SupplierID, mealTypeID MealTypeID, subTypeID SubTypeID) (*MealCost, error)

	GetPayPolicy(ctx context.Context, shift Shift, mealTypeID MealTypeID) (*PayPolicy, error)

	SaveMealType(ctx context.Context, mt MealType) error
	SaveSubType(ctx context.Context, st SubType) error
	SaveSupplier(ctx context.Context, s Supplier) error
	SaveMealCost(ctx context.Context, c MealCost) error
	SavePayPolicy(ctx context.Context, p PayPolicy) error
}

// =============================================================================
// DIRECTORY - Persons, departments, devices
// =============================================================================

type DirectoryStore interface {
	GetPersonByNumber(ctx context.Context, number string) (*Person, error)
	GetPerson(ctx context.Context, id PersonID) (*Person, error)
	GetDepartmentName(ctx context.Context, id DepartmentID) (string, error)
	GetDeviceBySerial(ctx context.Context, serial string) (*Device, error)

	SavePerson(ctx context.Context, p Person) error
	SaveDepartment(ctx context.Context, d Department) error
	SaveDevice(ctx context.Context, d Device) error
}

// =============================================================================
// CONSUMPTIONS - Issued-token records
// =============================================================================

// ConsumptionStore has no Delete. Records are written once and later only
// confirmed.
type ConsumptionStore interface {
	// ConsumptionsOnDate returns the person's records for d ordered by At.
	ConsumptionsOnDate(ctx context.Context, personID PersonID, d Date) ([]Consumption, error)

	// LastConsumptionSince returns the most recent record with
	// since <= At < before, or nil.
	LastConsumptionSince(ctx context.Context, personID PersonID, since, before time.Time) (*Consumption, error)

	FindConsumption(ctx context.Context, personID PersonID, mealTypeID MealTypeID, d Date) (*Consumption, error)
	GetConsumption(ctx context.Context, id ConsumptionID) (*Consumption, error)

	// InsertConsumption returns ErrDuplicateConsumption on a
	// (person, meal type, date) collision.
	InsertConsumption(ctx context.Context, c Consumption) error

	// MarkIssued sets Issued and JobStatus. Nothing else is writable.
	// The check and the write are one step: a consumption that is already
	// issued returns ErrAlreadyIssued.
	MarkIssued(ctx context.Context, id ConsumptionID, jobStatus string) error
}

// Store is everything the engine needs from one tenant's storage.
type Store interface {
	ScheduleStore
	CatalogStore
	DirectoryStore
	ConsumptionStore
}

// =============================================================================
// TENANT RESOLUTION
// =============================================================================

// Resolver hands out the Store of a tenant. Tenant identity is always an
// explicit argument, never ambient state.
type Resolver interface {
	Store(ctx context.Context, tenant TenantID) (Store, error)
}

// StaticResolver maps tenant ids to stores registered up front.
type StaticResolver struct {
	mu     sync.RWMutex
	stores map[TenantID]Store
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{stores: make(map[TenantID]Store)}
}

// Register binds a store to a tenant, replacing any previous binding.
func (r *StaticResolver) Register(tenant TenantID, s Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[tenant] = s
}

func (r *StaticResolver) Store(_ context.Context, tenant TenantID) (Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[tenant]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return s, nil
}
