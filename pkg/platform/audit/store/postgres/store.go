package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	id "procflow/pkg/domain"
	audit "procflow/pkg/platform/audit"
	txcontext "procflow/pkg/platform/tx"
)

// Store persists audit entries in the flat audit_logs table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const entryColumns = `
	id, operation_type, operation_name, operation_desc, business_module,
	target_type, target_id, target_name, actor_id, actor_name,
	ip_address, user_agent, client_device, request_method, request_path,
	request_params, request_body, request_headers, response_body,
	start_time, end_time, duration_ms, operation_date, status,
	error_message, risk_level, trace_id, server_name`

// Append inserts one entry. Replays of the same id are ignored.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	entry.Normalize()
	query := `INSERT INTO audit_logs (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(entry.ID),
		string(entry.OperationType),
		entry.OperationName,
		entry.OperationDesc,
		string(entry.Module),
		entry.TargetType,
		entry.TargetID,
		entry.TargetName,
		entry.ActorID,
		entry.ActorName,
		entry.IPAddress,
		entry.UserAgent,
		entry.ClientDevice,
		entry.RequestMethod,
		entry.RequestPath,
		entry.RequestParams,
		entry.RequestBody,
		entry.RequestHeaders,
		entry.ResponseBody,
		entry.StartTime,
		entry.EndTime,
		entry.DurationMs,
		entry.OperationDate,
		string(entry.Status),
		entry.ErrorMessage,
		string(entry.RiskLevel),
		entry.TraceID,
		entry.ServerName,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// whereClause renders filter as SQL predicates with positional args.
func whereClause(f audit.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.ActorName != "" {
		add("actor_name ILIKE $%d", "%"+escapeLike(f.ActorName)+"%")
	}
	if f.OperationType != "" {
		add("operation_type = $%d", string(f.OperationType))
	}
	if f.Module != "" {
		add("business_module = $%d", string(f.Module))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.RiskLevel != "" {
		add("risk_level = $%d", string(f.RiskLevel))
	}
	if f.IPAddress != "" {
		add("ip_address = $%d", f.IPAddress)
	}
	if !f.StartTime.IsZero() {
		add("start_time >= $%d", f.StartTime)
	}
	if !f.EndTime.IsZero() {
		add("start_time <= $%d", f.EndTime)
	}
	if f.Keyword != "" {
		args = append(args, "%"+escapeLike(f.Keyword)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(operation_name ILIKE $%d OR operation_desc ILIKE $%d OR target_name ILIKE $%d)", n, n, n))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *Store) Query(ctx context.Context, filter audit.Filter, page audit.Page) (audit.PageResult, error) {
	page = page.Normalize()
	where, args := whereClause(filter)

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return audit.PageResult{}, fmt.Errorf("count audit logs: %w", err)
	}

	args = append(args, page.Size, page.Offset())
	query := fmt.Sprintf(`SELECT %s FROM audit_logs%s ORDER BY start_time DESC, id LIMIT $%d OFFSET $%d`,
		entryColumns, where, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return audit.PageResult{}, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return audit.PageResult{}, err
	}
	return audit.PageResult{Entries: entries, Total: total, Page: page}, nil
}

var groupColumns = map[audit.GroupBy]string{
	audit.GroupByOperationType: "operation_type",
	audit.GroupByRiskLevel:     "risk_level",
	audit.GroupByDate:          "to_char(operation_date, 'YYYY-MM-DD')",
}

func (s *Store) Aggregate(ctx context.Context, by audit.GroupBy, start, end time.Time) ([]audit.Count, error) {
	col, ok := groupColumns[by]
	if !ok {
		return nil, fmt.Errorf("unsupported aggregation %q", by)
	}
	query := fmt.Sprintf(`
		SELECT %[1]s AS bucket, COUNT(*)
		FROM audit_logs
		WHERE operation_date BETWEEN $1 AND $2
		GROUP BY bucket
		ORDER BY bucket`, col)
	rows, err := s.db.QueryContext(ctx, query, audit.DateOf(start), audit.DateOf(end))
	if err != nil {
		return nil, fmt.Errorf("aggregate audit logs: %w", err)
	}
	defer rows.Close()

	var out []audit.Count
	for rows.Next() {
		var c audit.Count
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, fmt.Errorf("scan audit aggregate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit aggregate: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM audit_logs WHERE operation_date < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete audit logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete audit logs rows affected: %w", err)
	}
	return n, nil
}

func (s *Store) Abnormal(ctx context.Context, since time.Time, slowMs int64, limit int) ([]audit.Entry, error) {
	query := `SELECT ` + entryColumns + `
		FROM audit_logs
		WHERE start_time >= $1
		  AND (status = 'FAILED' OR risk_level IN ('HIGH', 'CRITICAL') OR ($2::bigint > 0 AND duration_ms > $2::bigint))
		ORDER BY start_time DESC
		LIMIT $3`
	rows, err := s.db.QueryContext(ctx, query, since, slowMs, limit)
	if err != nil {
		return nil, fmt.Errorf("query abnormal audit logs: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) ActorStats(ctx context.Context, start, end time.Time, limit int) ([]audit.ActorStat, error) {
	query := `
		SELECT actor_id, MAX(actor_name), COUNT(*),
			COUNT(*) FILTER (WHERE status = 'FAILED'),
			COUNT(*) FILTER (WHERE risk_level IN ('HIGH', 'CRITICAL')),
			MAX(start_time)
		FROM audit_logs
		WHERE actor_id <> '' AND operation_date BETWEEN $1 AND $2
		GROUP BY actor_id
		ORDER BY COUNT(*) DESC, actor_id
		LIMIT $3`
	rows, err := s.db.QueryContext(ctx, query, audit.DateOf(start), audit.DateOf(end), limit)
	if err != nil {
		return nil, fmt.Errorf("query actor stats: %w", err)
	}
	defer rows.Close()

	var out []audit.ActorStat
	for rows.Next() {
		var st audit.ActorStat
		if err := rows.Scan(&st.ActorID, &st.ActorName, &st.Total, &st.Failed, &st.HighRisk, &st.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan actor stats: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actor stats: %w", err)
	}
	return out, nil
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var entries []audit.Entry
	for rows.Next() {
		var (
			e                                 audit.Entry
			entryID                           uuid.UUID
			opType, module, status, riskLevel string
		)
		err := rows.Scan(
			&entryID, &opType, &e.OperationName, &e.OperationDesc, &module,
			&e.TargetType, &e.TargetID, &e.TargetName, &e.ActorID, &e.ActorName,
			&e.IPAddress, &e.UserAgent, &e.ClientDevice, &e.RequestMethod, &e.RequestPath,
			&e.RequestParams, &e.RequestBody, &e.RequestHeaders, &e.ResponseBody,
			&e.StartTime, &e.EndTime, &e.DurationMs, &e.OperationDate, &status,
			&e.ErrorMessage, &riskLevel, &e.TraceID, &e.ServerName,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		e.ID = id.AuditEntryID(entryID)
		e.OperationType = audit.OperationType(opType)
		e.Module = audit.Module(module)
		e.Status = audit.Status(status)
		e.RiskLevel = audit.RiskLevel(riskLevel)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return entries, nil
}
