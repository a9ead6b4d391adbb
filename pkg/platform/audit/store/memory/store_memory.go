package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	audit "procflow/pkg/platform/audit"
)

// InMemoryStore is an audit sink for tests and single-process development.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

func (s *InMemoryStore) Append(_ context.Context, entry audit.Entry) error {
	entry.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// ListAll returns every entry in insertion order.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries), nil
}

func (s *InMemoryStore) Query(_ context.Context, filter audit.Filter, page audit.Page) (audit.PageResult, error) {
	page = page.Normalize()
	matched := s.matching(func(e audit.Entry) bool { return filter.Matches(e) })
	sortNewestFirst(matched)

	result := audit.PageResult{Total: int64(len(matched)), Page: page}
	start := min(max(page.Offset(), 0), len(matched))
	end := min(start+page.Size, len(matched))
	result.Entries = matched[start:end]
	return result, nil
}

func (s *InMemoryStore) Aggregate(_ context.Context, by audit.GroupBy, start, end time.Time) ([]audit.Count, error) {
	start, end = audit.DateOf(start), audit.DateOf(end)
	counts := make(map[string]int64)
	for _, e := range s.matching(func(e audit.Entry) bool {
		return !e.OperationDate.Before(start) && !e.OperationDate.After(end)
	}) {
		var key string
		switch by {
		case audit.GroupByOperationType:
			key = string(e.OperationType)
		case audit.GroupByRiskLevel:
			key = string(e.RiskLevel)
		case audit.GroupByDate:
			key = e.OperationDate.Format(time.DateOnly)
		}
		counts[key]++
	}
	out := make([]audit.Count, 0, len(counts))
	for k, n := range counts {
		out = append(out, audit.Count{Key: k, Count: n})
	}
	slices.SortFunc(out, func(a, b audit.Count) int { return cmp.Compare(a.Key, b.Key) })
	return out, nil
}

func (s *InMemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.entries)
	s.entries = slices.DeleteFunc(s.entries, func(e audit.Entry) bool {
		return e.OperationDate.Before(cutoff)
	})
	return int64(before - len(s.entries)), nil
}

func (s *InMemoryStore) Abnormal(_ context.Context, since time.Time, slowMs int64, limit int) ([]audit.Entry, error) {
	matched := s.matching(func(e audit.Entry) bool {
		return !e.StartTime.Before(since) && audit.IsAbnormal(e, slowMs)
	})
	sortNewestFirst(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *InMemoryStore) ActorStats(_ context.Context, start, end time.Time, limit int) ([]audit.ActorStat, error) {
	start, end = audit.DateOf(start), audit.DateOf(end)
	byActor := make(map[string]*audit.ActorStat)
	for _, e := range s.matching(func(e audit.Entry) bool {
		return e.ActorID != "" && !e.OperationDate.Before(start) && !e.OperationDate.After(end)
	}) {
		st, ok := byActor[e.ActorID]
		if !ok {
			st = &audit.ActorStat{ActorID: e.ActorID, ActorName: e.ActorName}
			byActor[e.ActorID] = st
		}
		st.Total++
		if e.Status == audit.StatusFailed {
			st.Failed++
		}
		if e.RiskLevel == audit.RiskHigh || e.RiskLevel == audit.RiskCritical {
			st.HighRisk++
		}
		if e.StartTime.After(st.LastSeenAt) {
			st.LastSeenAt = e.StartTime
		}
	}
	out := make([]audit.ActorStat, 0, len(byActor))
	for _, st := range byActor {
		out = append(out, *st)
	}
	slices.SortFunc(out, func(a, b audit.ActorStat) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.ActorID, b.ActorID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) matching(keep func(audit.Entry) bool) []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func sortNewestFirst(entries []audit.Entry) {
	slices.SortStableFunc(entries, func(a, b audit.Entry) int {
		return b.StartTime.Compare(a.StartTime)
	})
}
