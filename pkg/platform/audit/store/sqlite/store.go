// Package sqlite is a single-file audit sink for local development and
// deployments without Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	id "procflow/pkg/domain"
	audit "procflow/pkg/platform/audit"
)

// timestamps are stored as fixed-width UTC text so they sort lexically
const (
	tsLayout   = "2006-01-02 15:04:05.000000"
	dateLayout = time.DateOnly
)

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database file at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite audit db: %w", err)
	}
	// single writer; readers share the pool
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite audit db: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		operation_type TEXT NOT NULL,
		operation_name TEXT,
		operation_desc TEXT,
		business_module TEXT,
		target_type TEXT,
		target_id TEXT,
		target_name TEXT,
		actor_id TEXT,
		actor_name TEXT,
		ip_address TEXT,
		user_agent TEXT,
		client_device TEXT,
		request_method TEXT,
		request_path TEXT,
		request_params TEXT,
		request_body TEXT,
		request_headers TEXT,
		response_body TEXT,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		operation_date TEXT NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT,
		risk_level TEXT NOT NULL,
		trace_id TEXT,
		server_name TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_start_time ON audit_logs (start_time);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_operation_date ON audit_logs (operation_date);
	`)
	if err != nil {
		return fmt.Errorf("create sqlite audit schema: %w", err)
	}
	return nil
}

const columns = `id, operation_type, operation_name, operation_desc, business_module,
	target_type, target_id, target_name, actor_id, actor_name, ip_address, user_agent,
	client_device, request_method, request_path, request_params, request_body,
	request_headers, response_body, start_time, end_time, duration_ms, operation_date,
	status, error_message, risk_level, trace_id, server_name`

func (s *Store) Append(ctx context.Context, e audit.Entry) error {
	e.Normalize()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO audit_logs (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), string(e.OperationType), e.OperationName, e.OperationDesc, string(e.Module),
		e.TargetType, e.TargetID, e.TargetName, e.ActorID, e.ActorName, e.IPAddress, e.UserAgent,
		e.ClientDevice, e.RequestMethod, e.RequestPath, e.RequestParams, e.RequestBody,
		e.RequestHeaders, e.ResponseBody, formatTS(e.StartTime), formatTS(e.EndTime), e.DurationMs,
		e.OperationDate.Format(dateLayout), string(e.Status), e.ErrorMessage, string(e.RiskLevel),
		e.TraceID, e.ServerName,
	)
	if err != nil {
		return fmt.Errorf("insert sqlite audit log: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, f audit.Filter, page audit.Page) (audit.PageResult, error) {
	page = page.Normalize()
	var (
		conds []string
		args  []any
	)
	eq := func(col, v string) {
		if v != "" {
			conds = append(conds, col+" = ?")
			args = append(args, v)
		}
	}
	eq("actor_id", f.ActorID)
	eq("operation_type", string(f.OperationType))
	eq("business_module", string(f.Module))
	eq("status", string(f.Status))
	eq("risk_level", string(f.RiskLevel))
	eq("ip_address", f.IPAddress)
	if f.ActorName != "" {
		conds = append(conds, `actor_name LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(f.ActorName))
	}
	if !f.StartTime.IsZero() {
		conds = append(conds, "start_time >= ?")
		args = append(args, formatTS(f.StartTime))
	}
	if !f.EndTime.IsZero() {
		conds = append(conds, "start_time <= ?")
		args = append(args, formatTS(f.EndTime))
	}
	if f.Keyword != "" {
		p := likePattern(f.Keyword)
		conds = append(conds, `(operation_name LIKE ? ESCAPE '\' OR operation_desc LIKE ? ESCAPE '\' OR target_name LIKE ? ESCAPE '\')`)
		args = append(args, p, p, p)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return audit.PageResult{}, fmt.Errorf("count sqlite audit logs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+columns+" FROM audit_logs"+where+" ORDER BY start_time DESC, id LIMIT ? OFFSET ?",
		append(args, page.Size, page.Offset())...)
	if err != nil {
		return audit.PageResult{}, fmt.Errorf("query sqlite audit logs: %w", err)
	}
	defer rows.Close()

	entries, err := scan(rows)
	if err != nil {
		return audit.PageResult{}, err
	}
	return audit.PageResult{Entries: entries, Total: total, Page: page}, nil
}

func (s *Store) Aggregate(ctx context.Context, by audit.GroupBy, start, end time.Time) ([]audit.Count, error) {
	var col string
	switch by {
	case audit.GroupByOperationType:
		col = "operation_type"
	case audit.GroupByRiskLevel:
		col = "risk_level"
	case audit.GroupByDate:
		col = "operation_date"
	default:
		return nil, fmt.Errorf("unsupported aggregation %q", by)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+col+", COUNT(*) FROM audit_logs WHERE operation_date BETWEEN ? AND ? GROUP BY "+col+" ORDER BY "+col,
		audit.DateOf(start).Format(dateLayout), audit.DateOf(end).Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("aggregate sqlite audit logs: %w", err)
	}
	defer rows.Close()

	var out []audit.Count
	for rows.Next() {
		var c audit.Count
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, fmt.Errorf("scan sqlite aggregate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE operation_date < ?",
		audit.DateOf(cutoff).Format(dateLayout))
	if err != nil {
		return 0, fmt.Errorf("delete sqlite audit logs: %w", err)
	}
	return res.RowsAffected()
}

func scan(rows *sql.Rows) ([]audit.Entry, error) {
	var out []audit.Entry
	for rows.Next() {
		var (
			e                                 audit.Entry
			rawID, start, end, date           string
			opType, module, status, riskLevel string
		)
		if err := rows.Scan(&rawID, &opType, &e.OperationName, &e.OperationDesc, &module,
			&e.TargetType, &e.TargetID, &e.TargetName, &e.ActorID, &e.ActorName, &e.IPAddress,
			&e.UserAgent, &e.ClientDevice, &e.RequestMethod, &e.RequestPath, &e.RequestParams,
			&e.RequestBody, &e.RequestHeaders, &e.ResponseBody, &start, &end, &e.DurationMs,
			&date, &status, &e.ErrorMessage, &riskLevel, &e.TraceID, &e.ServerName); err != nil {
			return nil, fmt.Errorf("scan sqlite audit log: %w", err)
		}
		u, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("parse sqlite audit id: %w", err)
		}
		e.ID = id.AuditEntryID(u)
		e.OperationType = audit.OperationType(opType)
		e.Module = audit.Module(module)
		e.Status = audit.Status(status)
		e.RiskLevel = audit.RiskLevel(riskLevel)
		e.StartTime, _ = time.Parse(tsLayout, start)
		e.EndTime, _ = time.Parse(tsLayout, end)
		e.OperationDate, _ = time.Parse(dateLayout, date)
		out = append(out, e)
	}
	return out, rows.Err()
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func likePattern(s string) string {
	return "%" + strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s) + "%"
}
