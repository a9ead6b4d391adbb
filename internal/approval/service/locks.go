package service

import (
	"context"
	"sync"

	id "procflow/pkg/domain"
	dErrors "procflow/pkg/domain-errors"
)

// numRequestShards spreads per-request serialization over a fixed mutex table.
const numRequestShards = 128

// requestLocks serializes load -> backend -> persist for one request within
// this process. Requests hashing to the same shard also wait on each other.
type requestLocks struct {
	shards [numRequestShards]sync.Mutex
}

// acquire locks the shard for requestID and returns its unlock func.
func (l *requestLocks) acquire(ctx context.Context, requestID id.RequestID) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "operation aborted: context cancelled")
	}
	mu := &l.shards[hashString(requestID.String())%numRequestShards]
	mu.Lock()
	if err := ctx.Err(); err != nil {
		mu.Unlock()
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "operation aborted: context cancelled")
	}
	return mu.Unlock, nil
}

// hashString is FNV-1a.
func hashString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
