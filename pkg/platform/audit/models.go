package audit

import (
	"fmt"
	"strings"
	"time"

	id "procflow/pkg/domain"
)

// OperationType classifies what an audited operation did.
type OperationType string

const (
	OpCreate   OperationType = "CREATE"
	OpUpdate   OperationType = "UPDATE"
	OpDelete   OperationType = "DELETE"
	OpQuery    OperationType = "QUERY"
	OpLogin    OperationType = "LOGIN"
	OpLogout   OperationType = "LOGOUT"
	OpExport   OperationType = "EXPORT"
	OpImport   OperationType = "IMPORT"
	OpUpload   OperationType = "UPLOAD"
	OpDownload OperationType = "DOWNLOAD"
	OpSubmit   OperationType = "SUBMIT"
	OpApprove  OperationType = "APPROVE"
	OpReject   OperationType = "REJECT"
	OpCancel   OperationType = "CANCEL"
	OpPurge    OperationType = "PURGE"
	OpUnknown  OperationType = "UNKNOWN"
)

var operationTypes = []OperationType{
	OpCreate, OpUpdate, OpDelete, OpQuery, OpLogin, OpLogout, OpExport, OpImport,
	OpUpload, OpDownload, OpSubmit, OpApprove, OpReject, OpCancel, OpPurge, OpUnknown,
}

// OperationTypeFromMethod infers an operation type from an HTTP verb.
func OperationTypeFromMethod(method string) OperationType {
	switch strings.ToUpper(method) {
	case "POST":
		return OpCreate
	case "PUT", "PATCH":
		return OpUpdate
	case "DELETE":
		return OpDelete
	case "GET":
		return OpQuery
	default:
		return OpUnknown
	}
}

// Module is the business area an operation belongs to.
type Module string

const (
	ModuleUser       Module = "USER"
	ModuleAuth       Module = "AUTH"
	ModuleAsset      Module = "ASSET"
	ModuleRole       Module = "ROLE"
	ModulePermission Module = "PERMISSION"
	ModuleSystem     Module = "SYSTEM"
	ModuleDepartment Module = "DEPARTMENT"
	ModuleDocument   Module = "DOCUMENT"
	ModuleLeave      Module = "LEAVE"
	ModuleWorkflow   Module = "WORKFLOW"
	ModuleAudit      Module = "AUDIT"
)

var modules = []Module{
	ModuleUser, ModuleAuth, ModuleAsset, ModuleRole, ModulePermission, ModuleSystem,
	ModuleDepartment, ModuleDocument, ModuleLeave, ModuleWorkflow, ModuleAudit,
}

// Status is the outcome of an audited operation.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// RiskLevel orders operations by how much scrutiny they deserve.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

var riskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}

func ParseOperationType(s string) (OperationType, error) {
	return parseEnum(s, operationTypes, "operation type")
}

func ParseModule(s string) (Module, error) {
	return parseEnum(s, modules, "business module")
}

func ParseStatus(s string) (Status, error) {
	return parseEnum(s, []Status{StatusSuccess, StatusFailed}, "status")
}

func ParseRiskLevel(s string) (RiskLevel, error) {
	return parseEnum(s, riskLevels, "risk level")
}

func parseEnum[T ~string](s string, allowed []T, label string) (T, error) {
	v := T(strings.ToUpper(strings.TrimSpace(s)))
	for _, a := range allowed {
		if a == v {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown %s: %q", label, s)
}

// Entry is one immutable audit record.
type Entry struct {
	ID             id.AuditEntryID
	OperationType  OperationType
	OperationName  string
	OperationDesc  string
	Module         Module
	TargetType     string
	TargetID       string
	TargetName     string
	ActorID        string
	ActorName      string
	IPAddress      string
	UserAgent      string
	ClientDevice   string
	RequestMethod  string
	RequestPath    string
	RequestParams  string
	RequestBody    string
	RequestHeaders string
	ResponseBody   string
	StartTime      time.Time
	EndTime        time.Time
	DurationMs     int64
	OperationDate  time.Time
	Status         Status
	ErrorMessage   string
	RiskLevel      RiskLevel
	TraceID        string
	ServerName     string
}

// Normalize fills derived fields so every sink stores the same shape.
func (e *Entry) Normalize() {
	if e.ID.IsNil() {
		e.ID = id.NewAuditEntryID()
	}
	if e.StartTime.IsZero() {
		e.StartTime = time.Now()
	}
	if e.EndTime.IsZero() {
		e.EndTime = e.StartTime
	}
	if e.DurationMs == 0 {
		e.DurationMs = e.EndTime.Sub(e.StartTime).Milliseconds()
	}
	e.OperationDate = DateOf(e.StartTime)
	if e.OperationType == "" {
		e.OperationType = OpUnknown
	}
	if e.RiskLevel == "" {
		e.RiskLevel = RiskLow
	}
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Filter selects entries for Query. Zero fields do not constrain.
type Filter struct {
	ActorID       string
	ActorName     string // substring
	OperationType OperationType
	Module        Module
	Status        Status
	RiskLevel     RiskLevel
	IPAddress     string
	StartTime     time.Time
	EndTime       time.Time
	Keyword       string // substring of name, description or target name
}

// Matches applies the filter in memory. SQL sinks translate it instead.
func (f Filter) Matches(e Entry) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.ActorName != "" && !containsFold(e.ActorName, f.ActorName) {
		return false
	}
	if f.OperationType != "" && e.OperationType != f.OperationType {
		return false
	}
	if f.Module != "" && e.Module != f.Module {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.RiskLevel != "" && e.RiskLevel != f.RiskLevel {
		return false
	}
	if f.IPAddress != "" && e.IPAddress != f.IPAddress {
		return false
	}
	if !f.StartTime.IsZero() && e.StartTime.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.StartTime.After(f.EndTime) {
		return false
	}
	if f.Keyword != "" &&
		!containsFold(e.OperationName, f.Keyword) &&
		!containsFold(e.OperationDesc, f.Keyword) &&
		!containsFold(e.TargetName, f.Keyword) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
	// MaxPageNumber keeps Offset well inside int range.
	MaxPageNumber = 1_000_000
)

// Page is 1-based.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps the page into the supported range.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Number > MaxPageNumber {
		p.Number = MaxPageNumber
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) Offset() int { return (p.Number - 1) * p.Size }

type PageResult struct {
	Entries []Entry
	Total   int64
	Page    Page
}

// GroupBy names an aggregation dimension.
type GroupBy string

const (
	GroupByOperationType GroupBy = "operation_type"
	GroupByRiskLevel     GroupBy = "risk_level"
	GroupByDate          GroupBy = "operation_date"
)

// Count is one aggregation bucket.
type Count struct {
	Key   string
	Count int64
}

// Stats is the combined aggregation over a date range.
type Stats struct {
	StartDate       time.Time
	EndDate         time.Time
	ByOperationType []Count
	ByRiskLevel     []Count
	ByDate          []Count
}

// ActorStat summarizes one actor's activity.
type ActorStat struct {
	ActorID    string
	ActorName  string
	Total      int64
	Failed     int64
	HighRisk   int64
	LastSeenAt time.Time
}
