// Package store provides an in-memory meal.Store.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/meal-token-engine/meal"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	schedules    map[meal.ScheduleID]meal.Schedule
	mealTypes    map[meal.MealTypeID]meal.MealType
	subTypes     map[meal.SubTypeID]meal.SubType
	suppliers    map[meal.SupplierID]meal.Supplier
	costs        map[costKey]meal.MealCost
	policies     map[policyKey]meal.PayPolicy
	persons      map[meal.PersonID]meal.Person
	departments  map[meal.DepartmentID]meal.Department
	devices      map[string]meal.Device
	consumptions map[meal.ConsumptionID]meal.Consumption
	issuedKeys   map[issueKey]meal.ConsumptionID
}

type costKey struct {
	SupplierID meal.SupplierID
	MealTypeID meal.MealTypeID
	SubTypeID  meal.SubTypeID
}

type policyKey struct {
	Shift      meal.Shift
	MealTypeID meal.MealTypeID
}

type issueKey struct {
	PersonID   meal.PersonID
	MealTypeID meal.MealTypeID
	Date       string
}

var _ meal.Store = (*Memory)(nil)

func NewMemory() *Memory {
	m := &Memory{}
	m.clear()
	return m
}

func (m *Memory) clear() {
	m.schedules = make(map[meal.ScheduleID]meal.Schedule)
	m.mealTypes = make(map[meal.MealTypeID]meal.MealType)
	m.subTypes = make(map[meal.SubTypeID]meal.SubType)
	m.suppliers = make(map[meal.SupplierID]meal.Supplier)
	m.costs = make(map[costKey]meal.MealCost)
	m.policies = make(map[policyKey]meal.PayPolicy)
	m.persons = make(map[meal.PersonID]meal.Person)
	m.departments = make(map[meal.DepartmentID]meal.Department)
	m.devices = make(map[string]meal.Device)
	m.consumptions = make(map[meal.ConsumptionID]meal.Consumption)
	m.issuedKeys = make(map[issueKey]meal.ConsumptionID)
}

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clear()
	return nil
}

// =============================================================================
// SCHEDULES
// =============================================================================

func (m *Memory) GetSchedule(_ context.Context, id meal.ScheduleID) (*meal.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, nil
	}
	s = cloneSchedule(s)
	return &s, nil
}

func (m *Memory) SchedulesByPerson(_ context.Context, personID meal.PersonID) ([]meal.ScheduleID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []meal.ScheduleID
	for id, s := range m.schedules {
		if s.HasPerson(personID) {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	return ids, nil
}

func (m *Memory) SchedulesByDate(_ context.Context, d meal.Date) ([]meal.ScheduleID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []meal.ScheduleID
	for id, s := range m.schedules {
		if s.HasDate(d) {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	return ids, nil
}

func (m *Memory) ScheduleMealsByTime(_ context.Context, t meal.TimeOfDay) ([]meal.ScheduleMeal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []meal.ScheduleMeal
	for _, s := range m.schedules {
		for _, sm := range s.Meals {
			w := sm.EffectiveWindow(m.mealTypes[sm.MealTypeID].DefaultWindow)
			if !w.Contains(t) {
				continue
			}
			sm.ScheduleID = s.ID
			sm.Window = &w
			out = append(out, sm)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduleID != out[j].ScheduleID {
			return out[i].ScheduleID < out[j].ScheduleID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) SchedulesForPersonOnDate(_ context.Context, personID meal.PersonID, d meal.Date) ([]meal.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []meal.Schedule
	for _, s := range m.schedules {
		if s.HasPerson(personID) && s.HasDate(d) {
			out = append(out, cloneSchedule(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveSchedule(_ context.Context, s meal.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s = cloneSchedule(s)
	for i := range s.Meals {
		s.Meals[i].ScheduleID = s.ID
	}
	m.schedules[s.ID] = s
	return nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) GetMealType(_ context.Context, id meal.MealTypeID) (*meal.MealType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.mealTypes[id]
	if !ok {
		return nil, nil
	}
	return &mt, nil
}

func (m *Memory) GetSubType(_ context.Context, id meal.SubTypeID) (*meal.SubType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.subTypes[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *Memory) GetMealCost(_ context.Context, supplierID meal.SupplierID, mealTypeID meal.MealTypeID, subTypeID meal.SubTypeID) (*meal.MealCost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.costs[costKey{supplierID, mealTypeID, subTypeID}]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) GetPayPolicy(_ context.Context, shift meal.Shift, mealTypeID meal.MealTypeID) (*meal.PayPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[policyKey{shift, mealTypeID}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) SaveMealType(_ context.Context, mt meal.MealType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mealTypes[mt.ID] = mt
	return nil
}

func (m *Memory) SaveSubType(_ context.Context, st meal.SubType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subTypes[st.ID] = st
	return nil
}

func (m *Memory) SaveSupplier(_ context.Context, s meal.Supplier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suppliers[s.ID] = s
	return nil
}

func (m *Memory) SaveMealCost(_ context.Context, c meal.MealCost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costs[costKey{c.SupplierID, c.MealTypeID, c.SubTypeID}] = c
	return nil
}

func (m *Memory) SavePayPolicy(_ context.Context, p meal.PayPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[policyKey{p.Shift, p.MealTypeID}] = p
	return nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) GetPersonByNumber(_ context.Context, number string) (*meal.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.persons {
		if p.Number == number {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetPerson(_ context.Context, id meal.PersonID) (*meal.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.persons[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) GetDepartmentName(_ context.Context, id meal.DepartmentID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.departments[id].Name, nil
}

func (m *Memory) GetDeviceBySerial(_ context.Context, serial string) (*meal.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[serial]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *Memory) SavePerson(_ context.Context, p meal.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persons[p.ID] = p
	return nil
}

func (m *Memory) SaveDepartment(_ context.Context, d meal.Department) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.departments[d.ID] = d
	return nil
}

func (m *Memory) SaveDevice(_ context.Context, d meal.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[d.SerialNumber] = d
	return nil
}

// =============================================================================
// CONSUMPTIONS
// =============================================================================

func (m *Memory) ConsumptionsOnDate(_ context.Context, personID meal.PersonID, d meal.Date) ([]meal.Consumption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []meal.Consumption
	for _, c := range m.consumptions {
		if c.PersonID == personID && c.Date.Equal(d) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (m *Memory) LastConsumptionSince(_ context.Context, personID meal.PersonID, since, before time.Time) (*meal.Consumption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *meal.Consumption
	for _, c := range m.consumptions {
		if c.PersonID != personID || c.At.Before(since) || !c.At.Before(before) {
			continue
		}
		if last == nil || c.At.After(last.At) {
			c := c
			last = &c
		}
	}
	return last, nil
}

func (m *Memory) FindConsumption(_ context.Context, personID meal.PersonID, mealTypeID meal.MealTypeID, d meal.Date) (*meal.Consumption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.issuedKeys[issueKey{personID, mealTypeID, d.String()}]
	if !ok {
		return nil, nil
	}
	c := m.consumptions[id]
	return &c, nil
}

func (m *Memory) GetConsumption(_ context.Context, id meal.ConsumptionID) (*meal.Consumption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.consumptions[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// InsertConsumption enforces the same uniqueness as the SQLite index.
func (m *Memory) InsertConsumption(_ context.Context, c meal.Consumption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := issueKey{c.PersonID, c.MealTypeID, c.Date.String()}
	if _, exists := m.issuedKeys[k]; exists {
		return meal.ErrDuplicateConsumption
	}
	m.consumptions[c.ID] = c
	m.issuedKeys[k] = c.ID
	return nil
}

func (m *Memory) MarkIssued(_ context.Context, id meal.ConsumptionID, jobStatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consumptions[id]
	if !ok {
		return meal.ErrConsumptionNotFound
	}
	if c.Issued {
		return meal.ErrAlreadyIssued
	}
	c.Issued = true
	c.JobStatus = jobStatus
	m.consumptions[id] = c
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func cloneSchedule(s meal.Schedule) meal.Schedule {
	s.Dates = append([]meal.Date(nil), s.Dates...)
	s.PersonIDs = append([]meal.PersonID(nil), s.PersonIDs...)
	meals := make([]meal.ScheduleMeal, len(s.Meals))
	for i, sm := range s.Meals {
		if sm.Window != nil {
			w := *sm.Window
			sm.Window = &w
		}
		meals[i] = sm
	}
	s.Meals = meals
	return s
}

func sortIDs(ids []meal.ScheduleID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
