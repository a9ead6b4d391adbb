package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"procflow/internal/approval/models"
	"procflow/internal/approval/service"
	"procflow/internal/approval/store/memory"
	"procflow/internal/workflow/embedded"
	audit "procflow/pkg/platform/audit"
	"procflow/pkg/platform/audit/intercept"
	"procflow/pkg/platform/audit/recorder"
	auditmemory "procflow/pkg/platform/audit/store/memory"
	"procflow/pkg/platform/httputil"
	"procflow/pkg/requestcontext"
	"procflow/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	router *chi.Mux
	rec    *recorder.Recorder
	sink   *auditmemory.InMemoryStore
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2024, 2, 28, 9, 0, 0, 0, time.UTC)
	store := memory.New()
	backend := embedded.New(&embedded.Directory{
		Managers: map[string]string{"E1": "M1"},
	}, embedded.WithLogger(logger))
	engine := service.New(store, store, backend,
		service.WithLogger(logger),
		service.WithClock(func() time.Time { return now }))

	s.sink = auditmemory.NewInMemoryStore()
	s.rec = recorder.New(s.sink, recorder.WithMetrics(recorder.NewMetricsWithRegistry(prometheus.NewRegistry())))
	s.T().Cleanup(func() { _ = s.rec.Close(context.Background()) })

	h := New(service.NewAudited(engine, intercept.New(s.rec)), logger)
	s.router = chi.NewRouter()
	h.Register(s.router)
	s.router.Route("/admin", h.RegisterAdmin)
}

func (s *HandlerSuite) do(req *http.Request, user string, roles ...string) (int, []byte) {
	if user != "" {
		req = testutil.WithUser(req, user, user+" name", roles...)
	}
	rr := testutil.DoRequest(s.router, req)
	return rr.Code, rr.Body.Bytes()
}

func (s *HandlerSuite) submit(user string) *models.Request {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/requests", map[string]any{
		"kind":       "leave",
		"leave_type": "annual",
		"start_date": "2024-03-01",
		"end_date":   "2024-03-03",
		"reason":     "family visit",
	})
	code, body := s.do(req, user)
	s.Require().Equal(http.StatusCreated, code, string(body))
	var out models.Request
	s.Require().NoError(json.Unmarshal(body, &out))
	return &out
}

func (s *HandlerSuite) TestSubmitAndApprove() {
	r := s.submit("E1")
	s.Equal(models.StatusInProgress, r.Status)
	s.Equal("M1", r.CurrentApproverID.String())

	code, body := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/tasks"), "M1")
	s.Require().Equal(http.StatusOK, code)
	var pending ListResponse
	s.Require().NoError(json.Unmarshal(body, &pending))
	s.Equal(1, pending.Count)

	decision := testutil.NewJSONRequest(s.T(), http.MethodPost, "/requests/"+r.ID.String()+"/decision", DecisionBody{
		Action: "approve", TaskID: r.CurrentTaskID, Comment: "enjoy",
	})
	code, body = s.do(decision, "M1")
	s.Require().Equal(http.StatusOK, code, string(body))
	var decided models.Request
	s.Require().NoError(json.Unmarshal(body, &decided))
	s.Equal(models.StatusApproved, decided.Status)

	code, body = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/requests/"+r.ID.String()+"/history"), "E1")
	s.Require().Equal(http.StatusOK, code)
	var history HistoryResponse
	s.Require().NoError(json.Unmarshal(body, &history))
	s.Require().Len(history.History, 1)
	s.Equal(models.ActionApprove, history.History[0].Action)

	s.Require().NoError(s.rec.Close(context.Background()))
	entries, err := s.sink.ListAll(context.Background())
	s.Require().NoError(err)
	s.Len(entries, 2)
	for _, e := range entries {
		s.Equal(audit.StatusSuccess, e.Status)
		s.Equal(http.MethodPost, e.RequestMethod)
	}
}

func (s *HandlerSuite) TestSubmitUsesIdempotencyHeader() {
	body := map[string]any{
		"kind": "leave", "leave_type": "SICK", "start_date": "2024-03-01", "end_date": "2024-03-01",
	}
	first := testutil.NewJSONRequest(s.T(), http.MethodPost, "/requests", body)
	first.Header.Set(HeaderIdempotencyKey, "k-1")
	code, raw := s.do(first, "E1")
	s.Require().Equal(http.StatusCreated, code)
	var a models.Request
	s.Require().NoError(json.Unmarshal(raw, &a))

	again := testutil.NewJSONRequest(s.T(), http.MethodPost, "/requests", body)
	again.Header.Set(HeaderIdempotencyKey, "k-1")
	code, raw = s.do(again, "E1")
	s.Require().Equal(http.StatusCreated, code)
	var b models.Request
	s.Require().NoError(json.Unmarshal(raw, &b))
	s.Equal(a.ID, b.ID)
}

func (s *HandlerSuite) TestSubmitRejectsBadInput() {
	code, _ := s.do(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/requests", `{"kind":`), "E1")
	s.Equal(http.StatusBadRequest, code)

	code, body := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/requests", map[string]any{
		"kind": "leave", "leave_type": "ANNUAL", "start_date": "01/03/2024", "end_date": "2024-03-03",
	}), "E1")
	s.Equal(http.StatusBadRequest, code)
	var errResp httputil.ErrorResponse
	s.Require().NoError(json.Unmarshal(body, &errResp))
	s.Contains(errResp.ErrorDescription, "start_date")

	code, _ = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/requests", map[string]any{
		"kind": "business",
	}), "E1")
	s.Equal(http.StatusBadRequest, code)

	code, _ = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/requests", map[string]any{}), "")
	s.Equal(http.StatusUnauthorized, code)
}

func (s *HandlerSuite) TestVisibility() {
	r := s.submit("E1")
	path := "/requests/" + r.ID.String()

	code, _ := s.do(testutil.NewRequest(s.T(), http.MethodGet, path), "E1")
	s.Equal(http.StatusOK, code)
	code, _ = s.do(testutil.NewRequest(s.T(), http.MethodGet, path), "M1")
	s.Equal(http.StatusOK, code)
	code, _ = s.do(testutil.NewRequest(s.T(), http.MethodGet, path), "X9")
	s.Equal(http.StatusNotFound, code)
	code, _ = s.do(testutil.NewRequest(s.T(), http.MethodGet, path), "A1", requestcontext.RoleAdmin)
	s.Equal(http.StatusOK, code)

	code, _ = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/requests/not-a-uuid"), "E1")
	s.Equal(http.StatusBadRequest, code)
}

func (s *HandlerSuite) TestDecisionGuards() {
	r := s.submit("E1")
	path := "/requests/" + r.ID.String() + "/decision"
	decide := func(user string, body DecisionBody) *httptest.ResponseRecorder {
		req := testutil.WithUser(testutil.NewJSONRequest(s.T(), http.MethodPost, path, body), user, user)
		return testutil.DoRequest(s.router, req)
	}

	testutil.AssertError(s.T(), decide("E1", DecisionBody{Action: "approve", TaskID: r.CurrentTaskID}), http.StatusForbidden, "forbidden")
	testutil.AssertError(s.T(), decide("M1", DecisionBody{Action: "approve", TaskID: "stale"}), http.StatusConflict, "invalid_state")
	testutil.AssertError(s.T(), decide("M1", DecisionBody{Action: "maybe", TaskID: r.CurrentTaskID}), http.StatusBadRequest, "validation_error")

	rr := decide("M1", DecisionBody{Action: "REJECT", TaskID: r.CurrentTaskID, Comment: "team offsite"})
	s.Require().Equal(http.StatusOK, rr.Code)
	rejected := testutil.DecodeJSON[models.Request](s.T(), rr)
	s.Equal(models.StatusRejected, rejected.Status)
	s.Equal("team offsite", rejected.Comment)
}

func (s *HandlerSuite) TestCancelAndList() {
	r := s.submit("E1")
	path := "/requests/" + r.ID.String() + "/cancel"

	code, _ := s.do(testutil.NewRequest(s.T(), http.MethodPost, path), "M1")
	s.Equal(http.StatusForbidden, code)

	code, body := s.do(testutil.NewRequest(s.T(), http.MethodPost, path), "E1")
	s.Require().Equal(http.StatusOK, code)
	var cancelled models.Request
	s.Require().NoError(json.Unmarshal(body, &cancelled))
	s.Equal(models.StatusCancelled, cancelled.Status)

	s.submit("E1")
	code, body = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/requests?status=cancelled"), "E1")
	s.Require().Equal(http.StatusOK, code)
	var list ListResponse
	s.Require().NoError(json.Unmarshal(body, &list))
	s.Require().Equal(1, list.Count)
	s.Equal(r.ID, list.Requests[0].ID)

	code, _ = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/requests?status=bogus"), "E1")
	s.Equal(http.StatusBadRequest, code)

	code, _ = s.do(testutil.NewRequest(s.T(), http.MethodPost, path), "E1")
	s.Equal(http.StatusConflict, code)
}

func (s *HandlerSuite) TestResumeAndReconcile() {
	r := s.submit("E1")

	code, _ := s.do(testutil.NewRequest(s.T(), http.MethodPost, "/requests/"+r.ID.String()+"/resume"), "M1")
	s.Equal(http.StatusForbidden, code)
	code, _ = s.do(testutil.NewRequest(s.T(), http.MethodPost, "/requests/"+r.ID.String()+"/resume"), "E1")
	s.Equal(http.StatusOK, code)

	code, body := s.do(testutil.NewRequest(s.T(), http.MethodPost, "/admin/requests/"+r.ID.String()+"/reconcile"), "A1", requestcontext.RoleAdmin)
	s.Require().Equal(http.StatusOK, code)
	var report service.Reconciliation
	s.Require().NoError(json.Unmarshal(body, &report))
	s.True(report.Consistent, report.Detail)
}

func TestSubmitBody_ToModel(t *testing.T) {
	b := &SubmitBody{Kind: "leave", StartDate: "2024-03-01", EndDate: "2024-03-02", ManagerID: " M7 "}
	require.NoError(t, b.Validate())

	m := b.ToModel("E1", "Erin", "hdr-key")
	assert.Equal(t, "hdr-key", m.IdempotencyKey)
	assert.Equal(t, "M7", m.ManagerID.String())
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), m.StartDate)
	assert.True(t, m.Days.IsZero())

	b.IdempotencyKey = "body-key"
	assert.Equal(t, "body-key", b.ToModel("E1", "", "hdr-key").IdempotencyKey)
}
