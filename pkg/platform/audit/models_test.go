package audit

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnums(t *testing.T) {
	op, err := ParseOperationType(" approve ")
	require.NoError(t, err)
	assert.Equal(t, OpApprove, op)

	_, err = ParseOperationType("ESCALATE")
	assert.Error(t, err)

	risk, err := ParseRiskLevel("high")
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, risk)

	_, err = ParseModule("PAYROLL")
	assert.Error(t, err)
}

func TestOperationTypeFromMethod(t *testing.T) {
	assert.Equal(t, OpCreate, OperationTypeFromMethod("post"))
	assert.Equal(t, OpUpdate, OperationTypeFromMethod("PATCH"))
	assert.Equal(t, OpDelete, OperationTypeFromMethod("DELETE"))
	assert.Equal(t, OpQuery, OperationTypeFromMethod("GET"))
	assert.Equal(t, OpUnknown, OperationTypeFromMethod("OPTIONS"))
}

func TestEntryNormalize(t *testing.T) {
	start := time.Date(2024, 3, 1, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	e := Entry{StartTime: start, EndTime: start.Add(1500 * time.Millisecond)}
	e.Normalize()

	assert.False(t, e.ID.IsNil())
	assert.Equal(t, int64(1500), e.DurationMs)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), e.OperationDate)
	assert.Equal(t, OpUnknown, e.OperationType)
	assert.Equal(t, RiskLow, e.RiskLevel)
}

func TestFilterMatches(t *testing.T) {
	at := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	e := Entry{
		ActorID: "u1", ActorName: "Alice Chen", OperationType: OpApprove, Module: ModuleLeave,
		Status: StatusSuccess, RiskLevel: RiskHigh, OperationName: "approve leave",
		TargetName: "annual leave", StartTime: at,
	}

	assert.True(t, Filter{}.Matches(e))
	assert.True(t, Filter{ActorName: "alice", RiskLevel: RiskHigh}.Matches(e))
	assert.True(t, Filter{Keyword: "ANNUAL"}.Matches(e))
	assert.True(t, Filter{StartTime: at.Add(-time.Hour), EndTime: at}.Matches(e))
	assert.False(t, Filter{StartTime: at.Add(time.Second)}.Matches(e))
	assert.False(t, Filter{Status: StatusFailed}.Matches(e))
	assert.False(t, Filter{Keyword: "sick"}.Matches(e))
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Number: 1, Size: DefaultPageSize}, Page{}.Normalize())
	assert.Equal(t, Page{Number: 3, Size: MaxPageSize}, Page{Number: 3, Size: 5000}.Normalize())
	assert.Equal(t, 40, Page{Number: 3, Size: 20}.Offset())

	huge := Page{Number: math.MaxInt64, Size: MaxPageSize}.Normalize()
	assert.Equal(t, MaxPageNumber, huge.Number)
	assert.Positive(t, huge.Offset())
}

func TestIsAbnormal(t *testing.T) {
	assert.True(t, IsAbnormal(Entry{Status: StatusFailed, RiskLevel: RiskLow}, 0))
	assert.True(t, IsAbnormal(Entry{Status: StatusSuccess, RiskLevel: RiskCritical}, 0))
	assert.True(t, IsAbnormal(Entry{Status: StatusSuccess, RiskLevel: RiskLow, DurationMs: 3001}, 3000))
	assert.False(t, IsAbnormal(Entry{Status: StatusSuccess, RiskLevel: RiskMedium, DurationMs: 10}, 3000))
}
