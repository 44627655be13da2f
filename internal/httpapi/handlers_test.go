package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crm-platform/internal/assignment"
	"crm-platform/internal/audit"
	"crm-platform/internal/auth"
	"crm-platform/internal/fetchconfig"
	"crm-platform/internal/leads"
	"crm-platform/internal/maintenance"
	"crm-platform/internal/quota"
	"crm-platform/internal/reporting"
	"crm-platform/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type fixture struct {
	router *gin.Engine
	store  *store.Memory
}

func newFixture(t *testing.T, nLeads int) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := store.NewMemory().WithClock(clock)
	for i := 0; i < nLeads; i++ {
		mem.AddLead(leads.Lead{FullName: "Lead", CreatedAt: now.Add(-time.Duration(nLeads-i) * time.Minute)})
	}
	defaults := fetchconfig.QuotaConfig{PerRequestLimit: 2, DailyCallLimit: 5, OutstandingLimit: 3, TTLHours: 24, ReactivationWindowDays: 30}
	repo := fetchconfig.NewMemoryRepo()
	resolver := fetchconfig.NewResolver(repo, defaults)
	auditSvc := audit.NewService(audit.NewMemoryRepo())
	ledger := quota.NewLedger(time.UTC)
	reports := reporting.NewService(mem, ledger).WithClock(clock)

	h := Handlers{
		Assign: assignment.NewService(assignment.Deps{
			Store:  mem,
			Config: resolver,
			Ledger: ledger,
			Audit:  auditSvc,
			Now:    clock,
		}),
		Configs:     fetchconfig.NewAdmin(repo, resolver, auditSvc),
		Reports:     reports,
		Maintenance: maintenance.NewScheduler(mem, reports, nil, nil, nil, maintenance.Options{Now: clock}),
	}

	r := gin.New()
	// identity comes from X-Test-User / X-Test-Role instead of a token
	r.Use(func(c *gin.Context) {
		if uid := c.GetHeader("X-Test-User"); uid != "" {
			ctx := auth.WithIdentity(c.Request.Context(), auth.Identity{UserID: uid, Role: c.GetHeader("X-Test-Role")})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	})
	r.POST("/leads/fetch", h.Fetch)
	r.POST("/leads/recycled/fetch", h.FetchRecycled)
	r.GET("/leads/recycled/stats", h.RecycledStats)
	r.GET("/leads/recycled/mine", h.ListMyRecycled)
	r.POST("/leads/:id/response", h.ChangeResponse)
	r.GET("/assignments/mine", h.ListMine)
	r.DELETE("/assignments/:id", h.Release)
	r.POST("/assignments/release", h.ReleaseMany)
	r.GET("/admin/fetch-configs", h.ListFetchConfigs)
	r.POST("/admin/fetch-configs", h.CreateFetchConfig)
	r.GET("/admin/fetch-configs/resolve", h.ResolveFetchConfig)
	r.GET("/admin/fetch-configs/:id", h.GetFetchConfig)
	r.PUT("/admin/fetch-configs/:id", h.UpdateFetchConfig)
	r.DELETE("/admin/fetch-configs/:id", h.DeleteFetchConfig)
	r.GET("/admin/lead-stats", h.LeadStats)
	r.GET("/admin/maintenance", h.MaintenanceStatus)
	r.POST("/admin/maintenance/:job", h.RunMaintenance)
	return &fixture{router: r, store: mem}
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
		req.Header.Set("X-Test-Role", "BA")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestFetch_ResponseShape(t *testing.T) {
	f := newFixture(t, 5)

	w := f.do(t, http.MethodPost, "/leads/fetch", "E1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	decode(t, w, &body)
	assert.EqualValues(t, 2, body["fetched_count"])
	assert.EqualValues(t, 2, body["current_outstanding"])
	assert.EqualValues(t, 1, body["daily_calls_used"])
	assert.EqualValues(t, 4, body["daily_calls_remaining"])
	assert.Equal(t, "Successfully fetched 2 leads", body["message"])
	assert.NotContains(t, body, "blocked_reason")

	limits := body["limits"].(map[string]any)
	assert.EqualValues(t, 3, limits["outstanding_limit"])
	assert.Equal(t, "default", limits["source"])
	assert.Len(t, body["leads"], 2)
}

func TestFetch_BlockedIs200(t *testing.T) {
	f := newFixture(t, 5)
	f.do(t, http.MethodPost, "/leads/fetch", "E1", nil)
	f.do(t, http.MethodPost, "/leads/fetch", "E1", nil)

	w := f.do(t, http.MethodPost, "/leads/fetch", "E1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body assignment.FetchResult
	decode(t, w, &body)
	assert.Equal(t, quota.BlockedOutstanding, body.BlockedReason)
	assert.Equal(t, "You have 3 active leases (limit: 3).", body.Message)
	assert.NotNil(t, body.Leads)
}

func TestFetch_Unauthenticated(t *testing.T) {
	f := newFixture(t, 1)
	w := f.do(t, http.MethodPost, "/leads/fetch", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAssignments_ListAndRelease(t *testing.T) {
	f := newFixture(t, 5)
	var fetched assignment.FetchResult
	decode(t, f.do(t, http.MethodPost, "/leads/fetch", "E1", nil), &fetched)
	require.Len(t, fetched.Leads, 2)

	w := f.do(t, http.MethodGet, "/assignments/mine", "E1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var mine assignment.MineResult
	decode(t, w, &mine)
	assert.Equal(t, 2, mine.Total)
	assert.True(t, mine.CanFetchNew)

	w = f.do(t, http.MethodDelete, "/assignments/"+fetched.Leads[0].LeaseID, "E2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "not owned")

	w = f.do(t, http.MethodDelete, "/assignments/"+fetched.Leads[0].LeaseID, "E1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/assignments/release", "E1", map[string]any{"lease_ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/assignments/release", "E1", map[string]any{"lease_ids": []string{fetched.Leads[0].LeaseID, fetched.Leads[1].LeaseID}})
	assert.Equal(t, http.StatusNotFound, w.Code, "first id already released")

	w = f.do(t, http.MethodPost, "/assignments/release", "E1", map[string]any{"lease_ids": []string{fetched.Leads[1].LeaseID}})
	require.Equal(t, http.StatusOK, w.Code)
	var rel map[string]any
	decode(t, w, &rel)
	assert.EqualValues(t, 1, rel["released"])
}

func TestChangeResponse(t *testing.T) {
	f := newFixture(t, 1)

	w := f.do(t, http.MethodPost, "/leads/1/response", "E1", map[string]any{"lead_response_id": 3})
	require.Equal(t, http.StatusOK, w.Code)
	var out assignment.RecycleResult
	decode(t, w, &out)
	assert.Equal(t, 30, out.DaysRemaining)
	assert.Equal(t, now.AddDate(0, 0, 30), out.ReactivationDeadline)

	w = f.do(t, http.MethodPost, "/leads/99/response", "E1", map[string]any{"lead_response_id": 3})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/leads/1/response", "E1", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/leads/recycled/stats", "E1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats map[string]int
	decode(t, w, &stats)
	assert.Equal(t, 1, stats["my_assigned"])

	w = f.do(t, http.MethodGet, "/leads/recycled/mine", "E1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var mine assignment.PinnedResult
	decode(t, w, &mine)
	require.Equal(t, 1, mine.Count)
	assert.Equal(t, int64(1), mine.Leads[0].ID)
	require.NotNil(t, mine.Leads[0].DaysRemaining)
	assert.Equal(t, 30, *mine.Leads[0].DaysRemaining)

	w = f.do(t, http.MethodGet, "/leads/recycled/mine", "E2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &mine)
	assert.Zero(t, mine.Count)
}

func TestFetchConfigs_CRUD(t *testing.T) {
	f := newFixture(t, 0)
	row := map[string]any{
		"role_id": "BA", "branch_id": 7,
		"per_request_limit": 5, "daily_call_limit": 10, "outstanding_limit": 20,
		"ttl_hours": 12, "reactivation_window_days": 15,
	}

	w := f.do(t, http.MethodPost, "/admin/fetch-configs", "ADM", row)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created fetchconfig.Row
	decode(t, w, &created)
	require.NotZero(t, created.ID)

	w = f.do(t, http.MethodPost, "/admin/fetch-configs", "ADM", row)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, "/admin/fetch-configs/resolve?role_id=BA&branch_id=7", "ADM", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resolved fetchconfig.Resolved
	decode(t, w, &resolved)
	assert.Equal(t, fetchconfig.SourceRoleBranch, resolved.Source)
	assert.Equal(t, 12, resolved.TTLHours)

	w = f.do(t, http.MethodPost, "/admin/fetch-configs", "ADM", map[string]any{
		"per_request_limit": 5, "daily_call_limit": 10, "outstanding_limit": 20,
		"ttl_hours": 12, "reactivation_window_days": 15,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "role and branch both missing")

	row["ttl_hours"] = 0
	w = f.do(t, http.MethodPut, "/admin/fetch-configs/1", "ADM", row)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodDelete, "/admin/fetch-configs/1", "ADM", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, http.MethodGet, "/admin/fetch-configs/1", "ADM", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLeadStatsAndMaintenance(t *testing.T) {
	f := newFixture(t, 3)
	f.do(t, http.MethodPost, "/leads/fetch", "E1", nil)

	w := f.do(t, http.MethodGet, "/admin/lead-stats", "ADM", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats reporting.LeadStats
	decode(t, w, &stats)
	assert.Equal(t, 2, stats.ActiveLeases)
	assert.Equal(t, 1, stats.UnassignedEligible)
	assert.Equal(t, 1, stats.FetchCallsToday)

	w = f.do(t, http.MethodGet, "/admin/lead-stats?from=2026-06-01", "ADM", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/admin/maintenance/"+maintenance.JobResetExpiredPins, "ADM", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodPost, "/admin/maintenance/vacuum", "ADM", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/admin/maintenance", "ADM", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st maintenance.Status
	decode(t, w, &st)
	assert.False(t, st.Running)
	assert.Len(t, st.Jobs, 3)
}

func TestWriteErr_Mapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		code int
	}{
		{assignment.ErrFetchInProgress, http.StatusTooManyRequests},
		{assignment.ErrLeadBusy, http.StatusConflict},
		{errors.Join(assignment.ErrUnavailable, context.DeadlineExceeded), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		writeErr(c, tc.err)
		assert.Equal(t, tc.code, w.Code, tc.err.Error())
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	writeErr(c, assignment.ErrFetchInProgress)
	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, true, body["retryable"], "clients retry a concurrent fetch")
}
