/*
handlers_test.go - HTTP tests for the API surface

Tests for:
- Bearer JWT enforcement and roles
- Token issuance, reuse, confirmation and typed failures
- Schedule create/validate/update with conflict responses
- Scenarios, health and metrics
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/meal-token-engine/issuance"
	"github.com/warp/meal-token-engine/meal"
	"github.com/warp/meal-token-engine/meal/store"
	"github.com/warp/meal-token-engine/schedule"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const tenant = meal.TenantID("acme")

var testNow = time.Date(2025, 1, 10, 12, 30, 0, 0, time.UTC)

type testAPI struct {
	router *chi.Mux
	tokens *TokenManager
	mem    *store.Memory
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	mem := store.NewMemory()
	resolver := meal.NewStaticResolver()
	resolver.Register(tenant, mem)

	now := func() time.Time { return testNow }
	n := 0
	newID := func() string { n++; return fmt.Sprintf("id-%d", n) }

	metrics := NewMetrics()
	issuer := issuance.NewIssuer(resolver, issuance.Config{Now: now, NewID: newID, Observer: metrics})
	schedules := schedule.NewService(resolver, newID, nil, metrics)

	h := NewHandler(resolver, issuer, schedules, nil)
	h.Now = now

	tm := NewTokenManager("test-secret", time.Hour)
	tm.now = now

	return &testAPI{
		router: NewRouter(h, RouterConfig{Tokens: tm, Metrics: metrics}),
		tokens: tm,
		mem:    mem,
	}
}

func (a *testAPI) token(t *testing.T, tenant meal.TenantID, role string) string {
	t.Helper()
	tok, err := a.tokens.Generate(tenant, "user-1", role)
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) loadScenario(t *testing.T, id string) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/scenarios/load", a.token(t, tenant, RoleAdmin), LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func issueAt(number, device, clock string) IssueTokenRequest {
	ts := meal.DateOf(testNow).At(meal.MustParseTimeOfDay(clock), time.UTC)
	return IssueTokenRequest{PersonNumber: number, DeviceSerial: device, Timestamp: &ts}
}

// =============================================================================
// AUTH
// =============================================================================

func TestAuth(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/tokens", "", issueAt("1001", "DAY-1", "12:30"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/tokens", "not-a-jwt", issueAt("1001", "DAY-1", "12:30"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other := NewTokenManager("other-secret", time.Hour)
	other.now = a.tokens.now
	forged, err := other.Generate(tenant, "user-1", RoleAdmin)
	require.NoError(t, err)
	rec = a.do(t, http.MethodPost, "/api/tokens", forged, issueAt("1001", "DAY-1", "12:30"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "signed with another key")

	rec = a.do(t, http.MethodPost, "/api/scenarios/load", a.token(t, tenant, RoleKiosk), LoadScenarioRequest{ScenarioID: "day-canteen"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/tokens", a.token(t, "ghost", RoleKiosk), issueAt("1001", "DAY-1", "12:30"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "tenant_not_found", decode[ErrorResponse](t, rec).Code)
}

func TestTokenManager_RejectsExpiredAndIncomplete(t *testing.T) {
	tm := NewTokenManager("secret", time.Minute)
	tm.now = func() time.Time { return testNow }

	tok, err := tm.Generate(tenant, "user-1", RoleKiosk)
	require.NoError(t, err)
	claims, err := tm.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, tenant, claims.Tenant())
	assert.Equal(t, "user-1", claims.Subject)

	tm.now = func() time.Time { return testNow.Add(2 * time.Minute) }
	_, err = tm.Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	tm.now = func() time.Time { return testNow }
	noTenant, err := tm.Generate("", "user-1", RoleKiosk)
	require.NoError(t, err)
	_, err = tm.Validate(noTenant)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// =============================================================================
// TOKENS
// =============================================================================

func TestIssueToken_IssueReuseConfirm(t *testing.T) {
	// GIVEN: The day canteen with Sam (male, lunch Paid)
	// WHEN: Issuing twice, confirming, then issuing again
	// THEN: 201, 200 reused, confirmed, 409 already issued

	a := newTestAPI(t)
	a.loadScenario(t, "day-canteen")
	kiosk := a.token(t, tenant, RoleKiosk)

	rec := a.do(t, http.MethodPost, "/api/tokens", kiosk, issueAt("1001", "DAY-1", "12:30"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	receipt := decode[ReceiptDTO](t, rec)
	assert.Equal(t, "Lunch", receipt.Meal)
	assert.Equal(t, "12:00-14:00", receipt.Window)
	assert.Equal(t, "DayShift", receipt.Shift)
	assert.Equal(t, "Paid", receipt.PayStatus)
	assert.Equal(t, "2.5", receipt.EmployeeContribution)
	assert.Equal(t, "3.5", receipt.CompanyContribution)
	assert.Equal(t, "Operations", receipt.Department)
	assert.False(t, receipt.Reused)

	rec = a.do(t, http.MethodPost, "/api/tokens", kiosk, issueAt("1001", "DAY-1", "12:40"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reused := decode[ReceiptDTO](t, rec)
	assert.True(t, reused.Reused)
	assert.Equal(t, receipt.ConsumptionID, reused.ConsumptionID)

	rec = a.do(t, http.MethodPost, "/api/tokens/"+receipt.ConsumptionID+"/confirm", kiosk, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	confirmed := decode[ConsumptionDTO](t, rec)
	assert.True(t, confirmed.Issued)
	assert.Equal(t, meal.JobStatusIssued, confirmed.JobStatus)

	rec = a.do(t, http.MethodPost, "/api/tokens", kiosk, issueAt("1001", "DAY-1", "12:50"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_issued", decode[ErrorResponse](t, rec).Code)

	rec = a.do(t, http.MethodPost, "/api/tokens/"+receipt.ConsumptionID+"/confirm", kiosk, ConfirmTokenRequest{JobStatus: "printed"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/tokens/"+receipt.ConsumptionID, kiosk, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DayShift", decode[ConsumptionDTO](t, rec).Shift)
}

func TestIssueToken_FemaleEmployeeEatsFree(t *testing.T) {
	a := newTestAPI(t)
	a.loadScenario(t, "day-canteen")

	rec := a.do(t, http.MethodPost, "/api/tokens", a.token(t, tenant, RoleKiosk), issueAt("1002", "DAY-1", "13:00"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	receipt := decode[ReceiptDTO](t, rec)
	assert.Equal(t, "Free", receipt.PayStatus)
	assert.Equal(t, "0", receipt.EmployeeContribution)
	assert.Equal(t, "6", receipt.CompanyContribution)
}

func TestIssueToken_Failures(t *testing.T) {
	tests := []struct {
		name     string
		scenario string
		req      IssueTokenRequest
		status   int
		code     string
	}{
		{"unknown person", "day-canteen", issueAt("9999", "DAY-1", "12:30"), http.StatusNotFound, "person_not_found"},
		{"unknown device", "day-canteen", issueAt("1001", "DAY-9", "12:30"), http.StatusNotFound, "device_not_found"},
		{"no meal at that time", "day-canteen", issueAt("1001", "DAY-1", "16:00"), http.StatusNotFound, "no_meal_for_time"},
		{"night meal on day kiosk", "night-shift", issueAt("1003", "DAY-1", "00:30"), http.StatusUnprocessableEntity, "wrong_device"},
		{"unavailable variant key", "function-keys", withKey(issueAt("1001", "DAY-1", "12:30"), "F2"), http.StatusUnprocessableEntity, "invalid_function_key"},
		{"missing fields", "day-canteen", IssueTokenRequest{PersonNumber: "1001"}, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(t)
			a.loadScenario(t, tt.scenario)

			rec := a.do(t, http.MethodPost, "/api/tokens", a.token(t, tenant, RoleKiosk), tt.req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func withKey(req IssueTokenRequest, key string) IssueTokenRequest {
	req.FunctionKey = key
	return req
}

func TestIssueToken_WrongDeviceMessage(t *testing.T) {
	a := newTestAPI(t)
	a.loadScenario(t, "night-shift")

	rec := a.do(t, http.MethodPost, "/api/tokens", a.token(t, tenant, RoleKiosk), issueAt("1003", "DAY-1", "00:30"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "wrong device: use NIGHT device", decode[ErrorResponse](t, rec).Error)

	rec = a.do(t, http.MethodPost, "/api/tokens", a.token(t, tenant, RoleKiosk), issueAt("1003", "NIGHT-1", "00:30"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "NightShift", decode[ReceiptDTO](t, rec).Shift)
}

func TestIssueToken_FunctionKeyPicksVariant(t *testing.T) {
	a := newTestAPI(t)
	a.loadScenario(t, "function-keys")

	rec := a.do(t, http.MethodPost, "/api/tokens", a.token(t, tenant, RoleKiosk), withKey(issueAt("1003", "DAY-1", "12:30"), "F3"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	receipt := decode[ReceiptDTO](t, rec)
	assert.Equal(t, "Lunch - Vegetarian", receipt.Meal)
	assert.Equal(t, "Paid", receipt.PayStatus, "no gender on record defaults to Paid")
}

// =============================================================================
// SCHEDULES
// =============================================================================

func brunchRequest(persons ...string) ScheduleRequest {
	return ScheduleRequest{
		Name:      "Brunch",
		Dates:     []meal.Date{meal.DateOf(testNow)},
		Meals:     []ScheduleMealDTO{{MealTypeID: "brunch", SupplierID: "canteen"}},
		PersonIDs: persons,
	}
}

func TestSchedules_ConflictCheck(t *testing.T) {
	// GIVEN: Sam holds breakfast 08:00-09:00 today
	// WHEN: Validating and then creating a brunch 08:30-10:00 for Sam
	// THEN: One conflict reported, creation refused with 409

	a := newTestAPI(t)
	a.loadScenario(t, "overlap")
	admin := a.token(t, tenant, RoleAdmin)

	rec := a.do(t, http.MethodPost, "/api/schedules/validate", admin, brunchRequest("emp-sam"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	validation := decode[ValidateScheduleResponse](t, rec)
	assert.False(t, validation.Valid)
	require.Len(t, validation.Conflicts, 1)
	assert.Equal(t, "sched-breakfast", validation.Conflicts[0].ExistingScheduleID)
	assert.Equal(t, "08:00-09:00", validation.Conflicts[0].Existing.Window)
	assert.Equal(t, "08:30-10:00", validation.Conflicts[0].New.Window)

	rec = a.do(t, http.MethodPost, "/api/schedules", admin, brunchRequest("emp-sam"))
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "schedule_conflict", resp.Code)
	assert.True(t, strings.HasPrefix(resp.Error, "schedule conflict: Sam Perera already has Breakfast (08:00-09:00)"), resp.Error)

	rec = a.do(t, http.MethodPost, "/api/schedules", admin, brunchRequest("emp-lee"))
	assert.Equal(t, http.StatusCreated, rec.Code, "Lee has no breakfast")
}

func TestSchedules_CreateGetUpdate(t *testing.T) {
	a := newTestAPI(t)
	a.loadScenario(t, "overlap")
	admin := a.token(t, tenant, RoleAdmin)

	tea := ScheduleRequest{
		Name:      "Tea",
		Dates:     []meal.Date{meal.DateOf(testNow)},
		Meals:     []ScheduleMealDTO{{MealTypeID: "tea", SupplierID: "canteen"}},
		PersonIDs: []string{"emp-sam"},
	}
	rec := a.do(t, http.MethodPost, "/api/schedules", admin, tea)
	require.Equal(t, http.StatusCreated, rec.Code, "tea starts when breakfast ends: "+rec.Body.String())
	created := decode[ScheduleDTO](t, rec)

	rec = a.do(t, http.MethodGet, "/api/schedules/"+created.ID, a.token(t, tenant, RoleKiosk), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Tea", decode[ScheduleDTO](t, rec).Name)

	tea.Name = ""
	rec = a.do(t, http.MethodPut, "/api/schedules/"+created.ID, admin, tea)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "invalid_schedule", resp.Code)
	assert.Contains(t, resp.Details, "name")

	tea.Name = "Afternoon tea"
	rec = a.do(t, http.MethodPut, "/api/schedules/"+created.ID, admin, tea)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPut, "/api/schedules/missing", admin, tea)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/schedules", a.token(t, tenant, RoleKiosk), tea)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// SCENARIOS, HEALTH, METRICS
// =============================================================================

func TestScenarios(t *testing.T) {
	a := newTestAPI(t)
	admin := a.token(t, tenant, RoleAdmin)

	rec := a.do(t, http.MethodGet, "/api/scenarios", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), len(scenarios))

	rec = a.do(t, http.MethodPost, "/api/scenarios/load", admin, LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	a.loadScenario(t, "night-shift")
	rec = a.do(t, http.MethodGet, "/api/scenarios/current", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "night-shift", decode[ScenarioDTO](t, rec).ID)

	// Loading another scenario replaces the data.
	a.loadScenario(t, "overlap")
	d, err := a.mem.GetDeviceBySerial(context.Background(), "NIGHT-1")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(t)
	a.loadScenario(t, "day-canteen")

	rec := a.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	kiosk := a.token(t, tenant, RoleKiosk)
	a.do(t, http.MethodPost, "/api/tokens", kiosk, issueAt("1001", "DAY-1", "12:30"))
	a.do(t, http.MethodPost, "/api/tokens", kiosk, issueAt("1001", "DAY-1", "16:00"))

	rec = a.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `mealtoken_tokens_issued_total{pay_status="Paid",shift="DayShift"} 1`)
	assert.Contains(t, body, `mealtoken_token_rejections_total{reason="no_meal_for_time"} 1`)
	assert.Contains(t, body, "mealtoken_http_request_duration_seconds_count")
}
