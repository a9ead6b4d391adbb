//go:build integration

package idempotency_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"procflow/internal/approval/idempotency"
	id "procflow/pkg/domain"
	"procflow/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *idempotency.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = idempotency.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestReserveReturnsOwner() {
	ctx := context.Background()
	first, second := id.NewRequestID(), id.NewRequestID()

	owner, ok, err := s.store.Reserve(ctx, "submit-1", first, time.Minute)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(first, owner)

	owner, ok, err = s.store.Reserve(ctx, "submit-1", second, time.Minute)
	s.Require().NoError(err)
	s.False(ok)
	s.Equal(first, owner)

	s.Require().NoError(s.store.Release(ctx, "submit-1"))
	_, ok, err = s.store.Reserve(ctx, "submit-1", second, time.Minute)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *RedisStoreSuite) TestConcurrentReserveHasOneWinner() {
	ctx := context.Background()
	const goroutines = 20
	var wg sync.WaitGroup
	var winners atomic.Int32
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.store.Reserve(ctx, "race", id.NewRequestID(), time.Minute)
			s.NoError(err)
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), winners.Load())
}
