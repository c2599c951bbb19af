package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arnavshah/shift-optimizer/pkg/apperrors"
	"github.com/arnavshah/shift-optimizer/pkg/auth"
	"github.com/arnavshah/shift-optimizer/pkg/config"
	"github.com/arnavshah/shift-optimizer/pkg/models"
	"github.com/arnavshah/shift-optimizer/pkg/orchestrator"
	"github.com/arnavshah/shift-optimizer/pkg/testutil"
	"github.com/arnavshah/shift-optimizer/pkg/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeDispatcher struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (d *fakeDispatcher) Submit(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)
	return true
}

type testServer struct {
	*testutil.Fixture
	router     *gin.Engine
	handler    *Handler
	dispatcher *fakeDispatcher
	apiKey     string

	role      models.Role
	employees []models.Employee
	shift     models.Shift
}

// newTestServer seeds one lunch shift needing two of three waiters.
func newTestServer(t *testing.T) *testServer {
	f := testutil.NewFixture(t)
	logger := zap.NewNop()
	authSvc := auth.New(config.AuthConfig{JWTSecret: "jwt", MasterSecret: "master"})
	dispatcher := &fakeDispatcher{}
	h := &Handler{
		DB:           f.DB,
		Store:        f.Store,
		Orchestrator: orchestrator.New(f.Store, config.SolverConfig{SoftPenalty: 10000, DefaultRuntimeSeconds: 30}, logger),
		Validator:    validator.NewService(f.Store, logger),
		Dispatcher:   dispatcher,
		Auth:         authSvc,
		Logger:       logger,
	}

	s := &testServer{
		Fixture:    f,
		router:     NewRouter(h),
		handler:    h,
		dispatcher: dispatcher,
		apiKey:     authSvc.GenerateHMACKey("acme"),
		role:       f.Role("Waiter"),
	}
	for _, name := range []string{"Ana", "Ben", "Cy"} {
		s.employees = append(s.employees, f.Employee(name, s.role))
	}
	tmpl := f.Template("Lunch", map[uint]int{s.role.ID: 2})
	s.shift = f.Shift(tmpl, 0, 11, 6)
	f.Config("default", true)
	return s
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func (s *testServer) api(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	return s.do(t, method, path, s.apiKey, body)
}

func TestAPIKeyRequired(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodGet, "/api/usage", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body := s.do(t, http.MethodGet, "/api/usage", "acme.forged", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", body["error"])
}

func TestRunLifecycle(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	schedule := fmt.Sprintf("/api/schedules/%d", s.Schedule.ID)

	w, body := s.api(t, http.MethodPost, schedule+"/optimize", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, string(models.RunPending), body["status"])
	runID, err := uuid.Parse(body["run_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{runID}, s.dispatcher.ids)

	// the worker is faked out, so execute inline
	require.NoError(t, s.handler.Orchestrator.Execute(ctx, runID))
	run := "/api/runs/" + runID.String()

	w, body = s.api(t, http.MethodGet, run, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(models.RunCompleted), body["status"])
	assert.Equal(t, string(models.SolverOptimal), body["solver_status"])
	assert.EqualValues(t, 2, body["total_assignments"])
	assert.EqualValues(t, 100, body["coverage_percentage"])

	w, body = s.api(t, http.MethodGet, run+"/solutions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["solutions"], 2)

	w, body = s.api(t, http.MethodGet, schedule+"/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["runs"], 1)

	w, body = s.api(t, http.MethodPost, run+"/apply", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 2, body["assignments_created"])
	assert.EqualValues(t, 1, body["shifts_updated"])

	w, body = s.api(t, http.MethodPost, run+"/apply", gin.H{"overwrite": false})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", body["error"])

	w, _ = s.api(t, http.MethodPost, run+"/apply", gin.H{"overwrite": true})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.api(t, http.MethodPost, run+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.api(t, http.MethodDelete, run, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, body = s.api(t, http.MethodGet, run, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["error"])
}

func TestSubmitOptimization_Errors(t *testing.T) {
	s := newTestServer(t)

	w, body := s.api(t, http.MethodPost, "/api/schedules/999/optimize", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["error"])

	w, _ = s.api(t, http.MethodPost, "/api/schedules/abc/optimize", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.api(t, http.MethodPost, fmt.Sprintf("/api/schedules/%d/optimize", s.Schedule.ID), gin.H{"config_id": 999})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.api(t, http.MethodGet, "/api/runs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, s.dispatcher.ids)
}

func TestCancelRun(t *testing.T) {
	s := newTestServer(t)

	_, body := s.api(t, http.MethodPost, fmt.Sprintf("/api/schedules/%d/optimize", s.Schedule.ID), gin.H{"apply_assignments": true})
	run := "/api/runs/" + body["run_id"].(string)

	w, body := s.api(t, http.MethodPost, run+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(models.RunCancelled), body["status"])
	assert.Equal(t, true, body["apply_assignments"])

	w, _ = s.api(t, http.MethodPost, run+"/apply", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUsageRecordedOnSubmit(t *testing.T) {
	s := newTestServer(t)
	path := fmt.Sprintf("/api/schedules/%d/optimize", s.Schedule.ID)
	for i := 0; i < 2; i++ {
		w, _ := s.api(t, http.MethodPost, path, nil)
		require.Equal(t, http.StatusAccepted, w.Code)
	}

	w, body := s.api(t, http.MethodGet, "/api/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acme", body["key_name"])
	totals := body["totals"].(map[string]any)
	assert.EqualValues(t, 2, totals["requests"])
	assert.EqualValues(t, 2, totals["shifts"])
	assert.EqualValues(t, 6, totals["employees"])
}

func TestValidateAssignment(t *testing.T) {
	s := newTestServer(t)
	s.Constraint(models.MinRestHours, 8, true)
	tmpl := s.Template("Evening", map[uint]int{s.role.ID: 1})
	evening := s.Shift(tmpl, 0, 19, 4)
	s.Assign(s.shift, s.employees[0], s.role)

	req := gin.H{"employee_id": s.employees[0].ID, "shift_id": evening.ID, "role_id": s.role.ID}
	w, body := s.api(t, http.MethodPost, "/api/validate/assignment", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, body["is_valid"])
	errs := body["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, string(validator.InsufficientRest), errs[0].(map[string]any)["type"])

	req["existing"] = []any{}
	w, body = s.api(t, http.MethodPost, "/api/validate/assignment", req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["is_valid"])
	assert.Empty(t, body["warnings"])

	w, _ = s.api(t, http.MethodPost, "/api/validate/assignment", gin.H{"employee_id": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateSchedule(t *testing.T) {
	s := newTestServer(t)
	s.Constraint(models.MaxShiftsPerWeek, 1, true)
	tmpl := s.Template("Dinner", map[uint]int{s.role.ID: 1})
	dinner := s.Shift(tmpl, 1, 18, 4)
	path := fmt.Sprintf("/api/schedules/%d/validate", s.Schedule.ID)

	w, body := s.api(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["is_valid"])

	proposed := gin.H{"assignments": []gin.H{
		{"employee_id": s.employees[0].ID, "shift_id": s.shift.ID, "role_id": s.role.ID},
		{"employee_id": s.employees[0].ID, "shift_id": dinner.ID, "role_id": s.role.ID},
	}}
	w, body = s.api(t, http.MethodPost, path, proposed)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["is_valid"])
	errs := body["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, string(validator.MaxShiftsExceeded), errs[0].(map[string]any)["type"])

	w, _ = s.api(t, http.MethodPost, "/api/schedules/999/validate", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminKeys(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, auth.EnsureAdminExists(s.DB, "admin", "pw", zap.NewNop()))

	w, _ := s.do(t, http.MethodPost, "/admin/login", "", gin.H{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body := s.do(t, http.MethodPost, "/admin/login", "", gin.H{"username": "admin", "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	token := body["access_token"].(string)

	w, _ = s.do(t, http.MethodGet, "/admin/keys", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body = s.do(t, http.MethodPost, "/admin/keys", token, gin.H{"name": "partner"})
	require.Equal(t, http.StatusOK, w.Code)
	key := body["key"].(string)
	id := uint(body["id"].(float64))

	w, body = s.do(t, http.MethodGet, "/api/usage", key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "partner", body["key_name"])

	w, body = s.do(t, http.MethodGet, "/admin/keys", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["keys"], 1)

	keyPath := fmt.Sprintf("/admin/keys/%d", id)
	w, _ = s.do(t, http.MethodPut, keyPath, token, gin.H{"rate_limit": 50})
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodPut, keyPath, token, gin.H{"rate_limit": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, http.MethodGet, fmt.Sprintf("/admin/usage/%d", id), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["usage"])

	w, _ = s.do(t, http.MethodDelete, keyPath, token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodDelete, keyPath, token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRespondError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("run x: %w", apperrors.ErrNotFound), http.StatusNotFound, "not_found"},
		{apperrors.ErrConflict, http.StatusConflict, "conflict"},
		{apperrors.ErrInsufficientData, http.StatusUnprocessableEntity, "insufficient_data"},
		{apperrors.ErrInfeasible, http.StatusUnprocessableEntity, "infeasible"},
		{apperrors.ErrValidationFailure, http.StatusUnprocessableEntity, "validation_failure"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	h := &Handler{Logger: zap.NewNop()}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			h.respondError(c, tc.err)

			assert.Equal(t, tc.status, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body["error"])
			assert.Equal(t, tc.err.Error(), body["message"])
		})
	}
}
