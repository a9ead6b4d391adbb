// Package memory is an in-process approval store for tests and single-node use.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"procflow/internal/approval/models"
	id "procflow/pkg/domain"
	"procflow/pkg/platform/sentinel"
)

type stagedKey struct{}

// staged collects the writes of one transaction until commit.
type staged struct {
	requests []*models.Request
	history  []*models.HistoryEntry
}

// InMemoryStore keeps requests and history in maps. Transactions are
// serialized by a single lock and applied all at once on commit.
type InMemoryStore struct {
	txMu sync.Mutex

	mu       sync.RWMutex
	requests map[id.RequestID]*models.Request
	history  map[id.RequestID][]*models.HistoryEntry
	byKey    map[string]id.RequestID
}

func New() *InMemoryStore {
	return &InMemoryStore{
		requests: make(map[id.RequestID]*models.Request),
		history:  make(map[id.RequestID][]*models.HistoryEntry),
		byKey:    make(map[string]id.RequestID),
	}
}

func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(stagedKey{}).(*staged); ok {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	st := &staged{}
	if err := fn(context.WithValue(ctx, stagedKey{}, st)); err != nil {
		return err
	}
	return s.commit(st)
}

func (s *InMemoryStore) SaveRequest(ctx context.Context, r *models.Request) error {
	return s.RunInTx(ctx, func(ctx context.Context) error {
		st := ctx.Value(stagedKey{}).(*staged)
		if err := s.checkRequest(st, r); err != nil {
			return err
		}
		r.Version++
		st.requests = append(st.requests, r.Clone())
		return nil
	})
}

func (s *InMemoryStore) SaveHistoryEntry(ctx context.Context, h *models.HistoryEntry) error {
	return s.RunInTx(ctx, func(ctx context.Context) error {
		st := ctx.Value(stagedKey{}).(*staged)
		if err := s.checkHistory(st, h); err != nil {
			return err
		}
		c := *h
		st.history = append(st.history, &c)
		return nil
	})
}

// checkRequest validates r against committed state plus earlier staged writes.
func (s *InMemoryStore) checkRequest(st *staged, r *models.Request) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	current, exists := s.requests[r.ID]
	for _, p := range st.requests {
		if p.ID == r.ID {
			current, exists = p, true
		}
	}
	if r.Version == 0 {
		if exists {
			return fmt.Errorf("request %s: %w", r.ID, sentinel.ErrConflict)
		}
		if r.IdempotencyKey != "" {
			if _, taken := s.byKey[r.IdempotencyKey]; taken {
				return fmt.Errorf("idempotency key %q: %w", r.IdempotencyKey, sentinel.ErrConflict)
			}
		}
		return nil
	}
	if !exists {
		return fmt.Errorf("request %s: %w", r.ID, sentinel.ErrNotFound)
	}
	if current.Version != r.Version {
		return fmt.Errorf("request %s version %d is stale: %w", r.ID, r.Version, sentinel.ErrConflict)
	}
	return nil
}

func (s *InMemoryStore) checkHistory(st *staged, h *models.HistoryEntry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.requests[h.RequestID]
	seqs := make([]int, 0, len(s.history[h.RequestID]))
	for _, e := range s.history[h.RequestID] {
		seqs = append(seqs, e.Sequence)
	}
	for _, p := range st.requests {
		exists = exists || p.ID == h.RequestID
	}
	for _, p := range st.history {
		if p.RequestID == h.RequestID {
			seqs = append(seqs, p.Sequence)
		}
	}
	if !exists {
		return fmt.Errorf("request %s: %w", h.RequestID, sentinel.ErrNotFound)
	}
	if slices.Contains(seqs, h.Sequence) {
		return fmt.Errorf("history sequence %d for %s: %w", h.Sequence, h.RequestID, sentinel.ErrConflict)
	}
	return nil
}

func (s *InMemoryStore) commit(st *staged) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range st.requests {
		s.requests[r.ID] = r
		if r.IdempotencyKey != "" {
			s.byKey[r.IdempotencyKey] = r.ID
		}
	}
	for _, h := range st.history {
		s.history[h.RequestID] = append(s.history[h.RequestID], h)
	}
	return nil
}

func (s *InMemoryStore) LoadRequest(_ context.Context, requestID id.RequestID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", requestID, sentinel.ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *InMemoryStore) ListHistory(_ context.Context, requestID id.RequestID) ([]*models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[requestID]
	out := make([]*models.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		c := *e
		out = append(out, &c)
	}
	slices.SortStableFunc(out, func(a, b *models.HistoryEntry) int {
		return cmp.Or(cmp.Compare(a.Sequence, b.Sequence), a.Timestamp.Compare(b.Timestamp))
	})
	return out, nil
}

func (s *InMemoryStore) ListByApprover(_ context.Context, approverID id.UserID, statuses ...models.Status) ([]*models.Request, error) {
	return s.list(func(r *models.Request) bool {
		return r.CurrentApproverID == approverID && matchStatus(r.Status, statuses)
	}), nil
}

func (s *InMemoryStore) ListByRequester(_ context.Context, requesterID id.UserID, statuses ...models.Status) ([]*models.Request, error) {
	return s.list(func(r *models.Request) bool {
		return r.RequesterID == requesterID && matchStatus(r.Status, statuses)
	}), nil
}

func (s *InMemoryStore) FindByIdempotencyKey(_ context.Context, key string) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	requestID, ok := s.byKey[key]
	if !ok {
		return nil, fmt.Errorf("idempotency key %q: %w", key, sentinel.ErrNotFound)
	}
	return s.requests[requestID].Clone(), nil
}

// list returns matching requests newest first.
func (s *InMemoryStore) list(keep func(*models.Request) bool) []*models.Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Request
	for _, r := range s.requests {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Request) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return out
}

func matchStatus(s models.Status, statuses []models.Status) bool {
	return len(statuses) == 0 || slices.Contains(statuses, s)
}
