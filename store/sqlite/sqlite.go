/*
Package sqlite provides a SQLite-backed implementation of meal.Store.

PURPOSE:
  Implements every storage interface the meal token engine consumes
  (schedules, catalog, directory, consumptions) on one SQLite database.
  The same SQL runs on PostgreSQL with minor dialect changes.

KEY TABLES:
  meal_types, sub_types, suppliers, meal_costs, pay_policies: Catalog
  persons, departments, devices:                            Directory
  schedules, schedule_dates, schedule_meals, schedule_persons: Schedules
  consumptions:                                             Issued tokens

INDEXES:
  - idx_unique_consumption: One record per (person, meal type, date).
    The issuance guard checks before inserting; this index is what makes
    the check hold under concurrent requests.
  - idx_consumptions_person_at: Today's history and the 13-hour look-back
  - idx_schedule_dates_date / idx_schedule_persons_person: Resolver sets

WINDOWS:
  Stored as minutes since midnight. A schedule meal with NULL window
  columns uses the meal type window (COALESCE in the time lookup).

MONEY:
  Decimal strings in TEXT columns, never REAL.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection so
  ":memory:" databases are shared by every query.

USAGE:
  store, err := sqlite.New("./mealtoken.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - meal/store.go: Interface definitions
  - meal/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/meal-token-engine/meal"
)

// Store implements meal.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ meal.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Catalog
	CREATE TABLE IF NOT EXISTS meal_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		window_start INTEGER,
		window_end INTEGER
	);

	CREATE TABLE IF NOT EXISTS sub_types (
		id TEXT PRIMARY KEY,
		meal_type_id TEXT NOT NULL,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS suppliers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	-- sub_type_id '' is the row for a meal type without sub-type
	CREATE TABLE IF NOT EXISTS meal_costs (
		supplier_id TEXT NOT NULL,
		meal_type_id TEXT NOT NULL,
		sub_type_id TEXT NOT NULL DEFAULT '',
		supplier_cost TEXT NOT NULL,
		selling_price TEXT NOT NULL,
		company_cost TEXT NOT NULL,
		employee_cost TEXT NOT NULL,
		PRIMARY KEY (supplier_id, meal_type_id, sub_type_id)
	);

	CREATE TABLE IF NOT EXISTS pay_policies (
		shift TEXT NOT NULL,
		meal_type_id TEXT NOT NULL,
		is_male_paid INTEGER NOT NULL,
		is_female_paid INTEGER NOT NULL,
		PRIMARY KEY (shift, meal_type_id)
	);

	-- Directory
	CREATE TABLE IF NOT EXISTS departments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS persons (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		person_type TEXT NOT NULL,
		gender TEXT NOT NULL DEFAULT '',
		department_id TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		serial_number TEXT NOT NULL UNIQUE,
		shift TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT ''
	);

	-- Schedules
	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		period TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS schedule_dates (
		schedule_id TEXT NOT NULL,
		date TEXT NOT NULL,
		PRIMARY KEY (schedule_id, date)
	);

	CREATE INDEX IF NOT EXISTS idx_schedule_dates_date
		ON schedule_dates(date);

	CREATE TABLE IF NOT EXISTS schedule_meals (
		id TEXT PRIMARY KEY,
		schedule_id TEXT NOT NULL,
		meal_type_id TEXT NOT NULL,
		sub_type_id TEXT NOT NULL DEFAULT '',
		supplier_id TEXT NOT NULL,
		function_key TEXT NOT NULL DEFAULT '',
		window_start INTEGER,
		window_end INTEGER,
		available INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_schedule_meals_schedule
		ON schedule_meals(schedule_id);

	CREATE TABLE IF NOT EXISTS schedule_persons (
		schedule_id TEXT NOT NULL,
		person_id TEXT NOT NULL,
		PRIMARY KEY (schedule_id, person_id)
	);

	CREATE INDEX IF NOT EXISTS idx_schedule_persons_person
		ON schedule_persons(person_id);

	-- Consumptions (issued tokens)
	CREATE TABLE IF NOT EXISTS consumptions (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		date TEXT NOT NULL,
		time_of_day INTEGER NOT NULL,
		at_unix_nano INTEGER NOT NULL,
		schedule_id TEXT NOT NULL,
		schedule_name TEXT NOT NULL,
		meal_type_id TEXT NOT NULL,
		meal_type_name TEXT NOT NULL,
		sub_type_id TEXT NOT NULL DEFAULT '',
		sub_type_name TEXT NOT NULL DEFAULT '',
		supplier_id TEXT NOT NULL,
		window_start INTEGER NOT NULL,
		window_end INTEGER NOT NULL,
		supplier_cost TEXT NOT NULL,
		selling_price TEXT NOT NULL,
		company_cost TEXT NOT NULL,
		employee_cost TEXT NOT NULL,
		company_contribution TEXT NOT NULL,
		employee_contribution TEXT NOT NULL,
		device_id TEXT NOT NULL,
		shift TEXT NOT NULL,
		pay_status TEXT NOT NULL,
		issued INTEGER NOT NULL DEFAULT 0,
		job_status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one token per person, meal type and day
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_consumption
		ON consumptions(person_id, meal_type_id, date);

	CREATE INDEX IF NOT EXISTS idx_consumptions_person_at
		ON consumptions(person_id, at_unix_nano);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SCHEDULE STORE
// =============================================================================

func (s *Store) GetSchedule(ctx context.Context, id meal.ScheduleID) (*meal.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadSchedule(ctx, id)
}

func (s *Store) loadSchedule(ctx context.Context, id meal.ScheduleID) (*meal.Schedule, error) {
	var sched meal.Schedule
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, period FROM schedules WHERE id = ?", id,
	).Scan(&sched.ID, &sched.Name, &sched.Period)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dates, err := s.db.QueryContext(ctx, "SELECT date FROM schedule_dates WHERE schedule_id = ? ORDER BY date", id)
	if err != nil {
		return nil, err
	}
	defer dates.Close()
	for dates.Next() {
		var raw string
		if err := dates.Scan(&raw); err != nil {
			return nil, err
		}
		d, err := meal.ParseDate(raw)
		if err != nil {
			return nil, err
		}
		sched.Dates = append(sched.Dates, d)
	}
	if err := dates.Err(); err != nil {
		return nil, err
	}

	meals, err := s.queryScheduleMeals(ctx, `
		SELECT id, schedule_id, meal_type_id, sub_type_id, supplier_id, function_key,
		       window_start, window_end, available
		FROM schedule_meals WHERE schedule_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	sched.Meals = meals

	persons, err := s.db.QueryContext(ctx, "SELECT person_id FROM schedule_persons WHERE schedule_id = ? ORDER BY person_id", id)
	if err != nil {
		return nil, err
	}
	defer persons.Close()
	for persons.Next() {
		var p meal.PersonID
		if err := persons.Scan(&p); err != nil {
			return nil, err
		}
		sched.PersonIDs = append(sched.PersonIDs, p)
	}
	return &sched, persons.Err()
}

func (s *Store) SchedulesByPerson(ctx context.Context, personID meal.PersonID) ([]meal.ScheduleID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryScheduleIDs(ctx,
		"SELECT schedule_id FROM schedule_persons WHERE person_id = ? ORDER BY schedule_id", personID)
}

func (s *Store) SchedulesByDate(ctx context.Context, d meal.Date) ([]meal.ScheduleID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryScheduleIDs(ctx,
		"SELECT schedule_id FROM schedule_dates WHERE date = ? ORDER BY schedule_id", d.String())
}

func (s *Store) ScheduleMealsByTime(ctx context.Context, t meal.TimeOfDay) ([]meal.ScheduleMeal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryScheduleMeals(ctx, `
		SELECT sm.id, sm.schedule_id, sm.meal_type_id, sm.sub_type_id, sm.supplier_id, sm.function_key,
		       COALESCE(sm.window_start, mt.window_start), COALESCE(sm.window_end, mt.window_end), sm.available
		FROM schedule_meals sm
		LEFT JOIN meal_types mt ON mt.id = sm.meal_type_id
		WHERE COALESCE(sm.window_start, mt.window_start) <= ?
		  AND ? < COALESCE(sm.window_end, mt.window_end)
		ORDER BY sm.schedule_id, sm.id`, int(t), int(t))
}

func (s *Store) SchedulesForPersonOnDate(ctx context.Context, personID meal.PersonID, d meal.Date) ([]meal.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := s.queryScheduleIDs(ctx, `
		SELECT sp.schedule_id FROM schedule_persons sp
		JOIN schedule_dates sd ON sd.schedule_id = sp.schedule_id
		WHERE sp.person_id = ? AND sd.date = ?
		ORDER BY sp.schedule_id`, personID, d.String())
	if err != nil {
		return nil, err
	}

	out := make([]meal.Schedule, 0, len(ids))
	for _, id := range ids {
		sched, err := s.loadSchedule(ctx, id)
		if err != nil {
			return nil, err
		}
		if sched != nil {
			out = append(out, *sched)
		}
	}
	return out, nil
}

// SaveSchedule replaces the schedule and all of its children atomically.
func (s *Store) SaveSchedule(ctx context.Context, sched meal.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO schedules (id, name, period, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			period = excluded.period,
			updated_at = excluded.updated_at`,
		sched.ID, sched.Name, sched.Period, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}

	for _, table := range []string{"schedule_dates", "schedule_meals", "schedule_persons"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE schedule_id = ?", sched.ID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, d := range sched.Dates {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO schedule_dates (schedule_id, date) VALUES (?, ?)", sched.ID, d.String()); err != nil {
			return fmt.Errorf("failed to save schedule date: %w", err)
		}
	}
	for _, sm := range sched.Meals {
		if err := insertScheduleMeal(ctx, tx, sched.ID, sm); err != nil {
			return err
		}
	}
	for _, p := range sched.PersonIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO schedule_persons (schedule_id, person_id) VALUES (?, ?)", sched.ID, p); err != nil {
			return fmt.Errorf("failed to save schedule person: %w", err)
		}
	}

	return tx.Commit()
}

func insertScheduleMeal(ctx context.Context, db execer, id meal.ScheduleID, sm meal.ScheduleMeal) error {
	var start, end sql.NullInt64
	if sm.Window != nil {
		start = sql.NullInt64{Int64: int64(sm.Window.Start), Valid: true}
		end = sql.NullInt64{Int64: int64(sm.Window.End), Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO schedule_meals
		(id, schedule_id, meal_type_id, sub_type_id, supplier_id, function_key, window_start, window_end, available)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sm.ID, id, sm.MealTypeID, sm.SubTypeID, sm.SupplierID, sm.FunctionKey, start, end, sm.Available)
	if err != nil {
		return fmt.Errorf("failed to save schedule meal %s: %w", sm.ID, err)
	}
	return nil
}

func (s *Store) queryScheduleIDs(ctx context.Context, query string, args ...any) ([]meal.ScheduleID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []meal.ScheduleID
	for rows.Next() {
		var id meal.ScheduleID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) queryScheduleMeals(ctx context.Context, query string, args ...any) ([]meal.ScheduleMeal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meals []meal.ScheduleMeal
	for rows.Next() {
		var sm meal.ScheduleMeal
		var start, end sql.NullInt64
		if err := rows.Scan(&sm.ID, &sm.ScheduleID, &sm.MealTypeID, &sm.SubTypeID, &sm.SupplierID,
			&sm.FunctionKey, &start, &end, &sm.Available); err != nil {
			return nil, err
		}
		if start.Valid && end.Valid {
			sm.Window = &meal.Window{Start: meal.TimeOfDay(start.Int64), End: meal.TimeOfDay(end.Int64)}
		}
		meals = append(meals, sm)
	}
	return meals, rows.Err()
}

// =============================================================================
// CATALOG STORE
// =============================================================================

func (s *Store) GetMealType(ctx context.Context, id meal.MealTypeID) (*meal.MealType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mt meal.MealType
	var start, end sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, window_start, window_end FROM meal_types WHERE id = ?", id,
	).Scan(&mt.ID, &mt.Name, &start, &end)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if start.Valid && end.Valid {
		mt.DefaultWindow = meal.Window{Start: meal.TimeOfDay(start.Int64), End: meal.TimeOfDay(end.Int64)}
	}
	return &mt, nil
}

func (s *Store) GetSubType(ctx context.Context, id meal.SubTypeID) (*meal.SubType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st meal.SubType
	err := s.db.QueryRowContext(ctx,
		"SELECT id, meal_type_id, name FROM sub_types WHERE id = ?", id,
	).Scan(&st.ID, &st.MealTypeID, &st.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) GetMealCost(ctx context.Context, supplierID meal.SupplierID, mealTypeID meal.MealTypeID, subTypeID meal.SubTypeID) (*meal.MealCost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := meal.MealCost{SupplierID: supplierID, MealTypeID: mealTypeID, SubTypeID: subTypeID}
	var supplierCost, sellingPrice, companyCost, employeeCost string
	err := s.db.QueryRowContext(ctx, `
		SELECT supplier_cost, selling_price, company_cost, employee_cost
		FROM meal_costs WHERE supplier_id = ? AND meal_type_id = ? AND sub_type_id = ?`,
		supplierID, mealTypeID, subTypeID,
	).Scan(&supplierCost, &sellingPrice, &companyCost, &employeeCost)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := parseMoney(
		moneyField{supplierCost, &c.SupplierCost},
		moneyField{sellingPrice, &c.SellingPrice},
		moneyField{companyCost, &c.CompanyCost},
		moneyField{employeeCost, &c.EmployeeCost},
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetPayPolicy(ctx context.Context, shift meal.Shift, mealTypeID meal.MealTypeID) (*meal.PayPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := meal.PayPolicy{Shift: shift, MealTypeID: mealTypeID}
	err := s.db.QueryRowContext(ctx,
		"SELECT is_male_paid, is_female_paid FROM pay_policies WHERE shift = ? AND meal_type_id = ?",
		shift, mealTypeID,
	).Scan(&p.IsMalePaid, &p.IsFemalePaid)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) SaveMealType(ctx context.Context, mt meal.MealType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var start, end sql.NullInt64
	if mt.DefaultWindow.Valid() {
		start = sql.NullInt64{Int64: int64(mt.DefaultWindow.Start), Valid: true}
		end = sql.NullInt64{Int64: int64(mt.DefaultWindow.End), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meal_types (id, name, window_start, window_end) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			window_start = excluded.window_start,
			window_end = excluded.window_end`,
		mt.ID, mt.Name, start, end)
	return err
}

func (s *Store) SaveSubType(ctx context.Context, st meal.SubType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO sub_types (id, meal_type_id, name) VALUES (?, ?, ?)",
		st.ID, st.MealTypeID, st.Name)
	return err
}

func (s *Store) SaveSupplier(ctx context.Context, sp meal.Supplier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO suppliers (id, name) VALUES (?, ?)", sp.ID, sp.Name)
	return err
}

func (s *Store) SaveMealCost(ctx context.Context, c meal.MealCost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO meal_costs
		(supplier_id, meal_type_id, sub_type_id, supplier_cost, selling_price, company_cost, employee_cost)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.SupplierID, c.MealTypeID, c.SubTypeID,
		moneyText(c.SupplierCost), moneyText(c.SellingPrice), moneyText(c.CompanyCost), moneyText(c.EmployeeCost))
	return err
}

func (s *Store) SavePayPolicy(ctx context.Context, p meal.PayPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO pay_policies (shift, meal_type_id, is_male_paid, is_female_paid) VALUES (?, ?, ?, ?)",
		p.Shift, p.MealTypeID, p.IsMalePaid, p.IsFemalePaid)
	return err
}

// =============================================================================
// DIRECTORY STORE
// =============================================================================

const personColumns = "id, number, name, person_type, gender, department_id, active"

func (s *Store) GetPersonByNumber(ctx context.Context, number string) (*meal.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanPerson(s.db.QueryRowContext(ctx, "SELECT "+personColumns+" FROM persons WHERE number = ?", number))
}

func (s *Store) GetPerson(ctx context.Context, id meal.PersonID) (*meal.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanPerson(s.db.QueryRowContext(ctx, "SELECT "+personColumns+" FROM persons WHERE id = ?", id))
}

func scanPerson(row *sql.Row) (*meal.Person, error) {
	var p meal.Person
	err := row.Scan(&p.ID, &p.Number, &p.Name, &p.Type, &p.Gender, &p.DepartmentID, &p.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetDepartmentName returns "" for an unknown department.
func (s *Store) GetDepartmentName(ctx context.Context, id meal.DepartmentID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var name string
	err := s.db.QueryRowContext(ctx, "SELECT name FROM departments WHERE id = ?", id).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return name, err
}

func (s *Store) GetDeviceBySerial(ctx context.Context, serial string) (*meal.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var d meal.Device
	err := s.db.QueryRowContext(ctx,
		"SELECT id, serial_number, shift, location FROM devices WHERE serial_number = ?", serial,
	).Scan(&d.ID, &d.SerialNumber, &d.Shift, &d.Location)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) SavePerson(ctx context.Context, p meal.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO persons (`+personColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			name = excluded.name,
			person_type = excluded.person_type,
			gender = excluded.gender,
			department_id = excluded.department_id,
			active = excluded.active`,
		p.ID, p.Number, p.Name, p.Type, p.Gender, p.DepartmentID, p.Active)
	return err
}

func (s *Store) SaveDepartment(ctx context.Context, d meal.Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO departments (id, name) VALUES (?, ?)", d.ID, d.Name)
	return err
}

func (s *Store) SaveDevice(ctx context.Context, d meal.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, serial_number, shift, location) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			serial_number = excluded.serial_number,
			shift = excluded.shift,
			location = excluded.location`,
		d.ID, d.SerialNumber, d.Shift, d.Location)
	return err
}

// =============================================================================
// CONSUMPTION STORE
// =============================================================================

const consumptionColumns = `id, person_id, date, time_of_day, at_unix_nano, schedule_id, schedule_name,
	meal_type_id, meal_type_name, sub_type_id, sub_type_name, supplier_id, window_start, window_end,
	supplier_cost, selling_price, company_cost, employee_cost, company_contribution, employee_contribution,
	device_id, shift, pay_status, issued, job_status, created_at`

func (s *Store) ConsumptionsOnDate(ctx context.Context, personID meal.PersonID, d meal.Date) ([]meal.Consumption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryConsumptions(ctx,
		"SELECT "+consumptionColumns+" FROM consumptions WHERE person_id = ? AND date = ? ORDER BY at_unix_nano",
		personID, d.String())
}

func (s *Store) LastConsumptionSince(ctx context.Context, personID meal.PersonID, since, before time.Time) (*meal.Consumption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, err := s.queryConsumptions(ctx,
		"SELECT "+consumptionColumns+` FROM consumptions
		WHERE person_id = ? AND at_unix_nano >= ? AND at_unix_nano < ?
		ORDER BY at_unix_nano DESC LIMIT 1`,
		personID, since.UnixNano(), before.UnixNano())
	if err != nil || len(cs) == 0 {
		return nil, err
	}
	return &cs[0], nil
}

func (s *Store) FindConsumption(ctx context.Context, personID meal.PersonID, mealTypeID meal.MealTypeID, d meal.Date) (*meal.Consumption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, err := s.queryConsumptions(ctx,
		"SELECT "+consumptionColumns+" FROM consumptions WHERE person_id = ? AND meal_type_id = ? AND date = ?",
		personID, mealTypeID, d.String())
	if err != nil || len(cs) == 0 {
		return nil, err
	}
	return &cs[0], nil
}

func (s *Store) GetConsumption(ctx context.Context, id meal.ConsumptionID) (*meal.Consumption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, err := s.queryConsumptions(ctx, "SELECT "+consumptionColumns+" FROM consumptions WHERE id = ?", id)
	if err != nil || len(cs) == 0 {
		return nil, err
	}
	return &cs[0], nil
}

// InsertConsumption maps the unique index violation to
// meal.ErrDuplicateConsumption.
func (s *Store) InsertConsumption(ctx context.Context, c meal.Consumption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consumptions (`+consumptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.PersonID, c.Date.String(), int(c.Time), c.At.UnixNano(), c.ScheduleID, c.ScheduleName,
		c.MealTypeID, c.MealTypeName, c.SubTypeID, c.SubTypeName, c.SupplierID, int(c.Window.Start), int(c.Window.End),
		moneyText(c.SupplierCost), moneyText(c.SellingPrice), moneyText(c.CompanyCost), moneyText(c.EmployeeCost),
		moneyText(c.CompanyContribution), moneyText(c.EmployeeContribution),
		c.DeviceID, c.Shift, c.PayStatus, c.Issued, c.JobStatus, createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConsumptionError(err) {
			return meal.ErrDuplicateConsumption
		}
		return fmt.Errorf("failed to insert consumption: %w", err)
	}
	return nil
}

// MarkIssued is the only UPDATE on consumptions.
func (s *Store) MarkIssued(ctx context.Context, id meal.ConsumptionID, jobStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE consumptions SET issued = 1, job_status = ? WHERE id = ? AND issued = 0", jobStatus, id)
	if err != nil {
		return fmt.Errorf("failed to mark consumption issued: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var issued bool
	err = s.db.QueryRowContext(ctx, "SELECT issued FROM consumptions WHERE id = ?", id).Scan(&issued)
	if errors.Is(err, sql.ErrNoRows) {
		return meal.ErrConsumptionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read consumption: %w", err)
	}
	return meal.ErrAlreadyIssued
}

func (s *Store) queryConsumptions(ctx context.Context, query string, args ...any) ([]meal.Consumption, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []meal.Consumption
	for rows.Next() {
		c, err := scanConsumption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanConsumption(rows *sql.Rows) (meal.Consumption, error) {
	var c meal.Consumption
	var date, createdAt string
	var tod, wStart, wEnd int
	var atNano int64
	var supplierCost, sellingPrice, companyCost, employeeCost, companyContrib, employeeContrib string

	err := rows.Scan(&c.ID, &c.PersonID, &date, &tod, &atNano, &c.ScheduleID, &c.ScheduleName,
		&c.MealTypeID, &c.MealTypeName, &c.SubTypeID, &c.SubTypeName, &c.SupplierID, &wStart, &wEnd,
		&supplierCost, &sellingPrice, &companyCost, &employeeCost, &companyContrib, &employeeContrib,
		&c.DeviceID, &c.Shift, &c.PayStatus, &c.Issued, &c.JobStatus, &createdAt)
	if err != nil {
		return meal.Consumption{}, err
	}

	if c.Date, err = meal.ParseDate(date); err != nil {
		return meal.Consumption{}, err
	}
	c.Time = meal.TimeOfDay(tod)
	c.At = time.Unix(0, atNano).UTC()
	c.Window = meal.Window{Start: meal.TimeOfDay(wStart), End: meal.TimeOfDay(wEnd)}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	err = parseMoney(
		moneyField{supplierCost, &c.SupplierCost},
		moneyField{sellingPrice, &c.SellingPrice},
		moneyField{companyCost, &c.CompanyCost},
		moneyField{employeeCost, &c.EmployeeCost},
		moneyField{companyContrib, &c.CompanyContribution},
		moneyField{employeeContrib, &c.EmployeeContribution},
	)
	return c, err
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"consumptions", "schedule_persons", "schedule_meals", "schedule_dates", "schedules",
		"devices", "persons", "departments", "pay_policies", "meal_costs", "suppliers", "sub_types", "meal_types",
	}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("failed to clear %s: %w", t, err)
		}
	}
	return nil
}

// Helper functions

type moneyField struct {
	raw string
	dst *meal.Money
}

func parseMoney(fields ...moneyField) error {
	for _, f := range fields {
		m, err := meal.ParseMoney(f.raw)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", f.raw, err)
		}
		*f.dst = m
	}
	return nil
}

func moneyText(m meal.Money) string {
	return m.Decimal.String()
}

func isUniqueConsumptionError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
			strings.Contains(sqliteErr.Error(), "consumptions.")
	}
	return false
}
