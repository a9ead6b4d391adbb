package admin

import (
	"time"

	audit "procflow/pkg/platform/audit"
)

// EntryResponse is the HTTP response DTO for one audit entry.
type EntryResponse struct {
	ID             string    `json:"id"`
	OperationType  string    `json:"operation_type"`
	OperationName  string    `json:"operation_name"`
	OperationDesc  string    `json:"operation_desc,omitempty"`
	Module         string    `json:"module"`
	TargetType     string    `json:"target_type,omitempty"`
	TargetID       string    `json:"target_id,omitempty"`
	TargetName     string    `json:"target_name,omitempty"`
	ActorID        string    `json:"actor_id"`
	ActorName      string    `json:"actor_name,omitempty"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	ClientDevice   string    `json:"client_device,omitempty"`
	RequestMethod  string    `json:"request_method,omitempty"`
	RequestPath    string    `json:"request_path,omitempty"`
	RequestParams  string    `json:"request_params,omitempty"`
	RequestBody    string    `json:"request_body,omitempty"`
	RequestHeaders string    `json:"request_headers,omitempty"`
	ResponseBody   string    `json:"response_body,omitempty"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	DurationMs     int64     `json:"duration_ms"`
	OperationDate  string    `json:"operation_date"`
	Status         string    `json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	RiskLevel      string    `json:"risk_level"`
	TraceID        string    `json:"trace_id,omitempty"`
	ServerName     string    `json:"server_name,omitempty"`
}

// EntriesResponse wraps a page of audit entries.
type EntriesResponse struct {
	Entries []*EntryResponse `json:"entries"`
	Total   int64            `json:"total"`
	Page    int              `json:"page"`
	Size    int              `json:"size"`
}

type CountResponse struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

type StatsResponse struct {
	StartDate       string          `json:"start_date"`
	EndDate         string          `json:"end_date"`
	ByOperationType []CountResponse `json:"by_operation_type"`
	ByRiskLevel     []CountResponse `json:"by_risk_level"`
	ByDate          []CountResponse `json:"by_date"`
}

type ActorStatResponse struct {
	ActorID    string    `json:"actor_id"`
	ActorName  string    `json:"actor_name,omitempty"`
	Total      int64     `json:"total"`
	Failed     int64     `json:"failed"`
	HighRisk   int64     `json:"high_risk"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

type ActorStatsResponse struct {
	Actors []ActorStatResponse `json:"actors"`
}

type PurgeResponse struct {
	Before  string `json:"before"`
	Deleted int64  `json:"deleted"`
}

func toEntryResponse(e audit.Entry) *EntryResponse {
	return &EntryResponse{
		ID:             e.ID.String(),
		OperationType:  string(e.OperationType),
		OperationName:  e.OperationName,
		OperationDesc:  e.OperationDesc,
		Module:         string(e.Module),
		TargetType:     e.TargetType,
		TargetID:       e.TargetID,
		TargetName:     e.TargetName,
		ActorID:        e.ActorID,
		ActorName:      e.ActorName,
		IPAddress:      e.IPAddress,
		UserAgent:      e.UserAgent,
		ClientDevice:   e.ClientDevice,
		RequestMethod:  e.RequestMethod,
		RequestPath:    e.RequestPath,
		RequestParams:  e.RequestParams,
		RequestBody:    e.RequestBody,
		RequestHeaders: e.RequestHeaders,
		ResponseBody:   e.ResponseBody,
		StartTime:      e.StartTime,
		EndTime:        e.EndTime,
		DurationMs:     e.DurationMs,
		OperationDate:  e.OperationDate.Format(time.DateOnly),
		Status:         string(e.Status),
		ErrorMessage:   e.ErrorMessage,
		RiskLevel:      string(e.RiskLevel),
		TraceID:        e.TraceID,
		ServerName:     e.ServerName,
	}
}

func toEntriesResponse(entries []audit.Entry) []*EntryResponse {
	out := make([]*EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	return out
}

func toCounts(counts []audit.Count) []CountResponse {
	out := make([]CountResponse, 0, len(counts))
	for _, c := range counts {
		out = append(out, CountResponse{Key: c.Key, Count: c.Count})
	}
	return out
}
