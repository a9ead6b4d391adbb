// Package domain holds typed identifiers shared across modules.
package domain

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	dErrors "procflow/pkg/domain-errors"
)

// RequestID identifies an approval request.
type RequestID uuid.UUID

// HistoryID identifies an approval history entry.
type HistoryID uuid.UUID

// AuditEntryID identifies an audit log entry.
type AuditEntryID uuid.UUID

// UserID identifies an actor. Identity comes from an external directory,
// so it is an opaque string rather than a UUID.
type UserID string

const maxUserIDLength = 128

func NewRequestID() RequestID       { return RequestID(uuid.New()) }
func NewHistoryID() HistoryID       { return HistoryID(uuid.New()) }
func NewAuditEntryID() AuditEntryID { return AuditEntryID(uuid.New()) }

func (id RequestID) String() string    { return uuid.UUID(id).String() }
func (id RequestID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id HistoryID) String() string    { return uuid.UUID(id).String() }
func (id AuditEntryID) String() string { return uuid.UUID(id).String() }
func (id AuditEntryID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id UserID) String() string       { return string(id) }
func (id UserID) IsNil() bool          { return id == "" }

// ParseRequestID validates a request identifier at a trust boundary.
func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID(s, "request ID")
	if err != nil {
		return RequestID{}, err
	}
	return RequestID(u), nil
}

// ParseAuditEntryID validates an audit entry identifier.
func ParseAuditEntryID(s string) (AuditEntryID, error) {
	u, err := parseUUID(s, "audit entry ID")
	if err != nil {
		return AuditEntryID{}, err
	}
	return AuditEntryID(u), nil
}

// ParseUserID accepts any non-empty printable identifier up to 128 bytes.
func ParseUserID(s string) (UserID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user ID is required")
	}
	if len(s) > maxUserIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user ID is too long")
	}
	for _, r := range s {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "user ID contains invalid characters")
		}
	}
	return UserID(s), nil
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}

func (id RequestID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *RequestID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid request ID")
	}
	*id = RequestID(u)
	return nil
}

func (id HistoryID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id AuditEntryID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
