package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"procflow/internal/approval/models"
	id "procflow/pkg/domain"
	"procflow/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *InMemoryStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = New()
}

func newRequest(requester id.UserID, created time.Time) *models.Request {
	return &models.Request{
		ID:          id.NewRequestID(),
		RequesterID: requester,
		Kind:        models.KindLeave,
		Status:      models.StatusPending,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func (s *InMemoryStoreSuite) TestSaveRequestVersioning() {
	r := newRequest("E1", time.Now())
	s.Require().NoError(s.store.SaveRequest(s.ctx, r))
	s.Equal(int64(1), r.Version)

	stale := r.Clone()
	r.Status = models.StatusInProgress
	s.Require().NoError(s.store.SaveRequest(s.ctx, r))
	s.Equal(int64(2), r.Version)

	stale.Status = models.StatusCancelled
	err := s.store.SaveRequest(s.ctx, stale)
	s.ErrorIs(err, sentinel.ErrConflict)

	loaded, err := s.store.LoadRequest(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusInProgress, loaded.Status)

	_, err = s.store.LoadRequest(s.ctx, id.NewRequestID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestRunInTxRollsBackEverything() {
	r := newRequest("E1", time.Now())
	s.Require().NoError(s.store.SaveRequest(s.ctx, r))

	boom := errors.New("boom")
	err := s.store.RunInTx(s.ctx, func(ctx context.Context) error {
		s.Require().NoError(s.store.SaveHistoryEntry(ctx, &models.HistoryEntry{
			ID: id.NewHistoryID(), RequestID: r.ID, Sequence: 1, Action: models.ActionCancel,
		}))
		r.Status = models.StatusCancelled
		s.Require().NoError(s.store.SaveRequest(ctx, r))
		return boom
	})
	s.ErrorIs(err, boom)

	loaded, _ := s.store.LoadRequest(s.ctx, r.ID)
	s.Equal(models.StatusPending, loaded.Status)
	history, _ := s.store.ListHistory(s.ctx, r.ID)
	s.Empty(history)
}

func (s *InMemoryStoreSuite) TestHistoryOrderingAndUniqueness() {
	r := newRequest("E1", time.Now())
	s.Require().NoError(s.store.SaveRequest(s.ctx, r))
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, seq := range []int{2, 1} {
		s.Require().NoError(s.store.SaveHistoryEntry(s.ctx, &models.HistoryEntry{
			ID: id.NewHistoryID(), RequestID: r.ID, Sequence: seq, Timestamp: base.Add(time.Duration(seq) * time.Minute),
		}))
	}
	err := s.store.SaveHistoryEntry(s.ctx, &models.HistoryEntry{ID: id.NewHistoryID(), RequestID: r.ID, Sequence: 1})
	s.ErrorIs(err, sentinel.ErrConflict)

	err = s.store.SaveHistoryEntry(s.ctx, &models.HistoryEntry{ID: id.NewHistoryID(), RequestID: id.NewRequestID(), Sequence: 1})
	s.ErrorIs(err, sentinel.ErrNotFound)

	history, err := s.store.ListHistory(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(1, history[0].Sequence)
	s.Equal(2, history[1].Sequence)
}

func (s *InMemoryStoreSuite) TestListsAndIdempotencyKey() {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	older := newRequest("E1", base)
	older.Status = models.StatusInProgress
	older.CurrentApproverID = "M1"
	newer := newRequest("E1", base.Add(time.Hour))
	newer.Status = models.StatusInProgress
	newer.CurrentApproverID = "M1"
	newer.IdempotencyKey = "k-1"
	other := newRequest("E2", base)
	other.Status = models.StatusApproved

	for _, r := range []*models.Request{older, newer, other} {
		s.Require().NoError(s.store.SaveRequest(s.ctx, r))
	}

	pending, err := s.store.ListByApprover(s.ctx, "M1", models.StatusInProgress)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(newer.ID, pending[0].ID)

	mine, err := s.store.ListByRequester(s.ctx, "E2")
	s.Require().NoError(err)
	s.Len(mine, 1)

	none, err := s.store.ListByRequester(s.ctx, "E1", models.StatusApproved)
	s.Require().NoError(err)
	s.Empty(none)

	found, err := s.store.FindByIdempotencyKey(s.ctx, "k-1")
	s.Require().NoError(err)
	s.Equal(newer.ID, found.ID)

	dup := newRequest("E1", base)
	dup.IdempotencyKey = "k-1"
	s.ErrorIs(s.store.SaveRequest(s.ctx, dup), sentinel.ErrConflict)
}
