//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	audit "procflow/pkg/platform/audit"
	"procflow/pkg/platform/audit/store/postgres"
	"procflow/pkg/testutil/containers"
)

type AuditStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	day      time.Time
}

func TestAuditStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(AuditStoreSuite))
}

func (s *AuditStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.day = time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
}

func (s *AuditStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "audit_logs"))

	seed := []audit.Entry{
		{
			OperationType: audit.OpApprove, OperationName: "approve_request", Module: audit.ModuleWorkflow,
			ActorID: "mgr-1", ActorName: "Marta 100%", RiskLevel: audit.RiskHigh, Status: audit.StatusSuccess,
			StartTime: s.day, EndTime: s.day.Add(20 * time.Millisecond), TargetName: "annual_leave",
		},
		{
			OperationType: audit.OpSubmit, OperationName: "submit_request", Module: audit.ModuleLeave,
			ActorID: "emp-1", ActorName: "Erin", RiskLevel: audit.RiskLow, Status: audit.StatusFailed,
			ErrorMessage: "engine down", StartTime: s.day.Add(time.Hour), EndTime: s.day.Add(time.Hour),
		},
		{
			OperationType: audit.OpQuery, OperationName: "list_requests", RiskLevel: audit.RiskLow,
			Status: audit.StatusSuccess, StartTime: s.day.AddDate(0, -2, 0), EndTime: s.day.AddDate(0, -2, 0),
		},
	}
	for _, e := range seed {
		s.Require().NoError(s.store.Append(ctx, e))
	}
}

func (s *AuditStoreSuite) TestQuery() {
	ctx := context.Background()

	s.Run("filters by risk and escaped actor name", func() {
		res, err := s.store.Query(ctx, audit.Filter{RiskLevel: audit.RiskHigh, ActorName: "100%"}, audit.Page{})
		s.Require().NoError(err)
		s.Require().Equal(int64(1), res.Total)
		got := res.Entries[0]
		s.Equal(audit.OpApprove, got.OperationType)
		s.Equal(int64(20), got.DurationMs)
		s.True(s.day.Equal(got.StartTime))
	})

	s.Run("newest first with paging", func() {
		res, err := s.store.Query(ctx, audit.Filter{}, audit.Page{Number: 1, Size: 2})
		s.Require().NoError(err)
		s.Equal(int64(3), res.Total)
		s.Require().Len(res.Entries, 2)
		s.Equal(audit.OpSubmit, res.Entries[0].OperationType)

		res, err = s.store.Query(ctx, audit.Filter{}, audit.Page{Number: 2, Size: 2})
		s.Require().NoError(err)
		s.Require().Len(res.Entries, 1)
		s.Equal(audit.OpQuery, res.Entries[0].OperationType)
	})
}

func (s *AuditStoreSuite) TestAggregateAndActorStats() {
	ctx := context.Background()

	counts, err := s.store.Aggregate(ctx, audit.GroupByRiskLevel, s.day, s.day)
	s.Require().NoError(err)
	s.Equal([]audit.Count{{Key: "HIGH", Count: 1}, {Key: "LOW", Count: 1}}, counts)

	stats, err := s.store.ActorStats(ctx, s.day, s.day, 10)
	s.Require().NoError(err)
	s.Require().Len(stats, 2)
	for _, st := range stats {
		switch st.ActorID {
		case "emp-1":
			s.Equal(int64(1), st.Failed)
		case "mgr-1":
			s.Equal(int64(1), st.HighRisk)
		default:
			s.Failf("unexpected actor", "%s", st.ActorID)
		}
	}
}

func (s *AuditStoreSuite) TestAbnormalAndPurge() {
	ctx := context.Background()

	abnormal, err := s.store.Abnormal(ctx, s.day.Add(-time.Hour), 0, 10)
	s.Require().NoError(err)
	s.Require().Len(abnormal, 2)
	s.Equal(audit.StatusFailed, abnormal[0].Status)

	n, err := s.store.DeleteBefore(ctx, audit.DateOf(s.day.AddDate(0, -1, 0)))
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	res, err := s.store.Query(ctx, audit.Filter{}, audit.Page{})
	s.Require().NoError(err)
	s.Equal(int64(2), res.Total)
}
