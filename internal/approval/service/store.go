package service

import (
	"context"

	"procflow/internal/approval/models"
	id "procflow/pkg/domain"
)

// Store persists requests and their history. Not-found and lost version races
// surface as sentinel.ErrNotFound and sentinel.ErrConflict.
//
// SaveRequest inserts when Version is zero and otherwise updates only if the
// stored version still equals r.Version. On success r.Version is advanced.
type Store interface {
	SaveRequest(ctx context.Context, r *models.Request) error
	SaveHistoryEntry(ctx context.Context, h *models.HistoryEntry) error
	LoadRequest(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	ListHistory(ctx context.Context, requestID id.RequestID) ([]*models.HistoryEntry, error)
	ListByApprover(ctx context.Context, approverID id.UserID, statuses ...models.Status) ([]*models.Request, error)
	ListByRequester(ctx context.Context, requesterID id.UserID, statuses ...models.Status) ([]*models.Request, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Request, error)
}

// StoreTx runs fn atomically. Store calls made with the ctx passed to fn join
// the transaction; an error from fn discards every write.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
