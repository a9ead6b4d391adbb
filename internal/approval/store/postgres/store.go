// Package postgres persists approval requests and history in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"procflow/internal/approval/models"
	id "procflow/pkg/domain"
	dErrors "procflow/pkg/domain-errors"
	"procflow/pkg/platform/sentinel"
	txcontext "procflow/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore implements the approval store over database/sql.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

func New(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, timeout: defaultTxTimeout}
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// RunInTx runs fn in one database transaction, bounded by a default timeout
// when ctx has no deadline.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return txcontext.Run(ctx, s.db, fn)
}

const requestColumns = `id, requester_id, requester_name, kind, payload, status, current_approver_id,
	current_task_id, process_instance_id, idempotency_key, comment, final_approver_id,
	final_decision_at, created_at, updated_at, version`

func (s *PostgresStore) SaveRequest(ctx context.Context, r *models.Request) error {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	var idemKey sql.NullString
	if r.IdempotencyKey != "" {
		idemKey = sql.NullString{String: r.IdempotencyKey, Valid: true}
	}
	var decidedAt sql.NullTime
	if r.FinalDecisionAt != nil {
		decidedAt = sql.NullTime{Time: *r.FinalDecisionAt, Valid: true}
	}

	if r.Version == 0 {
		res, err := s.execer(ctx).ExecContext(ctx, `
			INSERT INTO approval_requests (`+requestColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1)
			ON CONFLICT DO NOTHING`,
			uuid.UUID(r.ID), r.RequesterID.String(), r.RequesterName, string(r.Kind), payload,
			string(r.Status), r.CurrentApproverID.String(), r.CurrentTaskID, r.ProcessInstanceID,
			idemKey, r.Comment, r.FinalApproverID.String(), decidedAt, r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("request %s or its idempotency key already exists: %w", r.ID, sentinel.ErrConflict)
		}
		r.Version = 1
		return nil
	}

	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE approval_requests SET
			status = $3, current_approver_id = $4, current_task_id = $5, process_instance_id = $6,
			comment = $7, final_approver_id = $8, final_decision_at = $9, updated_at = $10,
			payload = $11, version = version + 1
		WHERE id = $1 AND version = $2`,
		uuid.UUID(r.ID), r.Version, string(r.Status), r.CurrentApproverID.String(), r.CurrentTaskID,
		r.ProcessInstanceID, r.Comment, r.FinalApproverID.String(), decidedAt, r.UpdatedAt, payload,
	)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := s.execer(ctx).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM approval_requests WHERE id = $1)`, uuid.UUID(r.ID)).Scan(&exists); err != nil {
			return fmt.Errorf("check request: %w", err)
		}
		if !exists {
			return fmt.Errorf("request %s: %w", r.ID, sentinel.ErrNotFound)
		}
		return fmt.Errorf("request %s version %d is stale: %w", r.ID, r.Version, sentinel.ErrConflict)
	}
	r.Version++
	return nil
}

func (s *PostgresStore) SaveHistoryEntry(ctx context.Context, h *models.HistoryEntry) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO approval_history (id, request_id, sequence, actor_id, actor_name, before_status,
			after_status, action, comment, task_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (request_id, sequence) DO NOTHING`,
		uuid.UUID(h.ID), uuid.UUID(h.RequestID), h.Sequence, h.ActorID.String(), h.ActorName,
		string(h.BeforeStatus), string(h.AfterStatus), string(h.Action), h.Comment, h.TaskID, h.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("history sequence %d for %s: %w", h.Sequence, h.RequestID, sentinel.ErrConflict)
	}
	return nil
}

func (s *PostgresStore) LoadRequest(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests WHERE id = $1`, uuid.UUID(requestID))
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", requestID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) FindByIdempotencyKey(ctx context.Context, key string) (*models.Request, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests WHERE idempotency_key = $1`, key)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("idempotency key %q: %w", key, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find by idempotency key: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListHistory(ctx context.Context, requestID id.RequestID) ([]*models.HistoryEntry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, request_id, sequence, actor_id, actor_name, before_status, after_status,
			action, comment, task_id, created_at
		FROM approval_history
		WHERE request_id = $1
		ORDER BY sequence, created_at`, uuid.UUID(requestID))
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []*models.HistoryEntry
	for rows.Next() {
		var (
			h                     models.HistoryEntry
			entryID, reqID        uuid.UUID
			actorID               string
			before, after, action string
		)
		if err := rows.Scan(&entryID, &reqID, &h.Sequence, &actorID, &h.ActorName, &before, &after,
			&action, &h.Comment, &h.TaskID, &h.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.ID = id.HistoryID(entryID)
		h.RequestID = id.RequestID(reqID)
		h.ActorID = id.UserID(actorID)
		h.BeforeStatus = models.Status(before)
		h.AfterStatus = models.Status(after)
		h.Action = models.Action(action)
		h.Timestamp = h.Timestamp.UTC()
		out = append(out, &h)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListByApprover(ctx context.Context, approverID id.UserID, statuses ...models.Status) ([]*models.Request, error) {
	return s.list(ctx, "current_approver_id", approverID.String(), statuses)
}

func (s *PostgresStore) ListByRequester(ctx context.Context, requesterID id.UserID, statuses ...models.Status) ([]*models.Request, error) {
	return s.list(ctx, "requester_id", requesterID.String(), statuses)
}

// list filters on one identity column; column is never user input.
func (s *PostgresStore) list(ctx context.Context, column, value string, statuses []models.Status) ([]*models.Request, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM approval_requests
		WHERE `+column+` = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		ORDER BY created_at DESC, id`, value, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []*models.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.Request, error) {
	var (
		r                                        models.Request
		reqID                                    uuid.UUID
		requesterID, approverID, finalApproverID string
		kind, status                             string
		payload                                  []byte
		idemKey                                  sql.NullString
		decidedAt                                sql.NullTime
	)
	if err := row.Scan(&reqID, &requesterID, &r.RequesterName, &kind, &payload, &status, &approverID,
		&r.CurrentTaskID, &r.ProcessInstanceID, &idemKey, &r.Comment, &finalApproverID,
		&decidedAt, &r.CreatedAt, &r.UpdatedAt, &r.Version); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &r.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	r.ID = id.RequestID(reqID)
	r.RequesterID = id.UserID(requesterID)
	r.CurrentApproverID = id.UserID(approverID)
	r.FinalApproverID = id.UserID(finalApproverID)
	r.Kind = models.Kind(kind)
	r.Status = models.Status(status)
	r.IdempotencyKey = idemKey.String
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	if decidedAt.Valid {
		t := decidedAt.Time.UTC()
		r.FinalDecisionAt = &t
	}
	return &r, nil
}
