package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "procflow/pkg/platform/audit"
	"procflow/pkg/platform/audit/recorder"
	auditmemory "procflow/pkg/platform/audit/store/memory"
	"procflow/pkg/requestcontext"
	"procflow/pkg/testutil"
)

var today = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*chi.Mux, *auditmemory.InMemoryStore) {
	t.Helper()
	ctx := context.Background()
	sink := auditmemory.NewInMemoryStore()
	for _, e := range []audit.Entry{
		{OperationType: audit.OpSubmit, Module: audit.ModuleLeave, ActorID: "E1", ActorName: "Erin", Status: audit.StatusSuccess, RiskLevel: audit.RiskLow, StartTime: today.Add(-2 * time.Hour)},
		{OperationType: audit.OpApprove, Module: audit.ModuleWorkflow, ActorID: "M1", ActorName: "Mia", Status: audit.StatusSuccess, RiskLevel: audit.RiskMedium, StartTime: today.Add(-time.Hour)},
		{OperationType: audit.OpReject, Module: audit.ModuleWorkflow, ActorID: "M1", ActorName: "Mia", Status: audit.StatusFailed, ErrorMessage: "engine down", RiskLevel: audit.RiskMedium, StartTime: today.Add(-30 * time.Minute)},
		{OperationType: audit.OpSubmit, Module: audit.ModuleLeave, ActorID: "E1", Status: audit.StatusSuccess, RiskLevel: audit.RiskLow, StartTime: today.AddDate(0, -3, 0)},
	} {
		e.Normalize()
		require.NoError(t, sink.Append(ctx, e))
	}

	rec := recorder.New(sink, recorder.WithMetrics(recorder.NewMetricsWithRegistry(prometheus.NewRegistry())))
	t.Cleanup(func() { _ = rec.Close(context.Background()) })

	h := New(rec, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return today }
	r := chi.NewRouter()
	h.Register(r)
	return r, sink
}

func get(t *testing.T, r http.Handler, path string, out any) int {
	t.Helper()
	req := testutil.WithUser(testutil.NewRequest(t, http.MethodGet, path), "A1", "Admin", requestcontext.RoleAdmin)
	rr := testutil.DoRequest(r, req)
	if out != nil && rr.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out))
	}
	return rr.Code
}

func getError(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.WithUser(testutil.NewRequest(t, http.MethodGet, path), "A1", "Admin", requestcontext.RoleAdmin)
	return testutil.DoRequest(r, req)
}

func TestHandleQuery(t *testing.T) {
	r, _ := setup(t)

	var all EntriesResponse
	require.Equal(t, http.StatusOK, get(t, r, "/audit/logs", &all))
	assert.EqualValues(t, 4, all.Total)

	var byActor EntriesResponse
	require.Equal(t, http.StatusOK, get(t, r, "/audit/logs?actor_id=M1&status=failed", &byActor))
	require.Len(t, byActor.Entries, 1)
	assert.Equal(t, "REJECT", byActor.Entries[0].OperationType)
	assert.Equal(t, "engine down", byActor.Entries[0].ErrorMessage)

	var paged EntriesResponse
	require.Equal(t, http.StatusOK, get(t, r, "/audit/logs?page=2&size=3", &paged))
	assert.Len(t, paged.Entries, 1)
	assert.Equal(t, 2, paged.Page)

	testutil.AssertError(t, getError(t, r, "/audit/logs?module=payroll"), http.StatusBadRequest, "validation_error")
	assert.Equal(t, http.StatusBadRequest, get(t, r, "/audit/logs?start_time=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, r, "/audit/logs?page=-1", nil))
	testutil.AssertError(t, getError(t, r, "/audit/logs?page=9223372036854775807"), http.StatusBadRequest, "validation_error")
}

func TestHandleStats(t *testing.T) {
	r, _ := setup(t)

	var stats StatsResponse
	require.Equal(t, http.StatusOK, get(t, r, "/audit/logs/stats", &stats))
	assert.Equal(t, "2024-03-10", stats.EndDate)
	assert.Equal(t, "2024-02-10", stats.StartDate)

	var total int64
	for _, c := range stats.ByOperationType {
		total += c.Count
	}
	assert.EqualValues(t, 3, total)

	assert.Equal(t, http.StatusBadRequest, get(t, r, "/audit/logs/stats?start_date=2024-03-10&end_date=2024-03-01", nil))
}

func TestHandleAbnormalAndActors(t *testing.T) {
	r, _ := setup(t)

	var abnormal EntriesResponse
	require.Equal(t, http.StatusOK, get(t, r, "/audit/logs/abnormal", &abnormal))
	require.Len(t, abnormal.Entries, 1)
	assert.Equal(t, "FAILED", abnormal.Entries[0].Status)

	var actors ActorStatsResponse
	require.Equal(t, http.StatusOK, get(t, r, "/audit/logs/actors?limit=1", &actors))
	require.Len(t, actors.Actors, 1)
	assert.Equal(t, "M1", actors.Actors[0].ActorID)
	assert.EqualValues(t, 2, actors.Actors[0].Total)
	assert.EqualValues(t, 1, actors.Actors[0].Failed)
}

func TestHandlePurge(t *testing.T) {
	r, sink := setup(t)
	ctx := context.Background()

	req := testutil.WithUser(testutil.NewRequest(t, http.MethodDelete, "/audit/logs?before=2024-03-01"), "A1", "Admin", requestcontext.RoleAdmin)
	rr := testutil.DoRequest(r, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var out PurgeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.EqualValues(t, 1, out.Deleted)

	entries, err := sink.ListAll(ctx)
	require.NoError(t, err)
	// three survivors plus the purge record
	assert.Len(t, entries, 4)

	missing := testutil.WithUser(testutil.NewRequest(t, http.MethodDelete, "/audit/logs"), "A1", "Admin", requestcontext.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, testutil.DoRequest(r, missing).Code)

	// the role check lives in the recorder as well as the route guard
	plain := testutil.WithUser(testutil.NewRequest(t, http.MethodDelete, "/audit/logs?before=2024-03-01"), "E1", "Erin")
	assert.Equal(t, http.StatusForbidden, testutil.DoRequest(r, plain).Code)
}

func TestLimitParamCapsAtPageSize(t *testing.T) {
	for query, want := range map[string]int{"": defaultListLimit, "limit=0": audit.MaxPageSize, "limit=5000": audit.MaxPageSize, "limit=7": 7} {
		q, err := url.ParseQuery(query)
		require.NoError(t, err)
		got, err := limitParam(q)
		require.NoError(t, err)
		assert.Equal(t, want, got, query)
	}
}
