package quality

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/models"
)

func TestCheck_NoRules(t *testing.T) {
	rows := []Row{{"a": 1}, {"a": 2}}
	result, err := Check(rows, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ValidRows)
	assert.Empty(t, result.Violations)
	assert.False(t, result.HasFailures())
}

func TestCheck_NotNull(t *testing.T) {
	rows := []Row{
		{"email": "a@x.com"},
		{"email": nil},
		{"email": ""},
		{"other": "no email key"},
	}
	result, err := Check(rows, []models.QualityRule{
		{Column: "email", RuleType: models.RuleNotNull, Severity: models.SeverityFail},
	})
	require.NoError(t, err)

	// nil and the missing key violate; the empty string is a value
	assert.Equal(t, 2, result.TotalViolations)
	assert.Equal(t, 2, result.ValidRows)
	assert.True(t, result.HasFailures())
}

func TestCheck_Unique(t *testing.T) {
	rows := []Row{
		{"id": "a"},
		{"id": "b"},
		{"id": "a"},
		{"id": "a"},
		{"id": nil},
	}
	result, err := Check(rows, []models.QualityRule{
		{Column: "id", RuleType: models.RuleUnique, Severity: models.SeverityWarn},
	})
	require.NoError(t, err)

	// Every occurrence after the first is a violation; nulls are skipped
	assert.Equal(t, 2, result.TotalViolations)
	assert.Equal(t, 2, result.Violations[0].RowIndex)
	assert.Equal(t, 3, result.Violations[1].RowIndex)
	assert.False(t, result.HasFailures())
}

func TestCheck_Range(t *testing.T) {
	rows := []Row{
		{"age": 25},
		{"age": -1},
		{"age": 200},
		{"age": "abc"},
		{"age": nil},
	}
	result, err := Check(rows, []models.QualityRule{
		{Column: "age", RuleType: models.RuleRange, Severity: models.SeverityFail,
			Params: map[string]string{"min": "0", "max": "150"}},
	})
	require.NoError(t, err)

	// -1 below min, 200 above max, "abc" non-numeric; null skipped
	assert.Equal(t, 3, result.TotalViolations)
	assert.Equal(t, 2, result.ValidRows)
	assert.True(t, result.HasFailures())
}

func TestCheck_RangeMalformedBound(t *testing.T) {
	_, err := Check([]Row{{"a": 1}}, []models.QualityRule{
		{Column: "a", RuleType: models.RuleRange, Severity: models.SeverityWarn,
			Params: map[string]string{"min": "zero"}},
	})
	assert.Error(t, err)
}

func TestCheck_RangeWithoutBounds(t *testing.T) {
	_, err := Check([]Row{{"a": 1}}, []models.QualityRule{
		{Column: "a", RuleType: models.RuleRange, Severity: models.SeverityWarn},
	})
	assert.Error(t, err)
}

func TestCheck_Regex(t *testing.T) {
	rows := []Row{
		{"email": "good@example.com"},
		{"email": "not-an-email"},
		{"email": nil},
	}
	result, err := Check(rows, []models.QualityRule{
		{Column: "email", RuleType: models.RuleRegex, Severity: models.SeverityWarn,
			Params: map[string]string{"pattern": `^[^@]+@[^@]+$`}},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.TotalViolations)
	assert.Equal(t, 1, result.Violations[0].RowIndex)
}

func TestCheck_RegexInvalidPattern(t *testing.T) {
	_, err := Check([]Row{{"a": "x"}}, []models.QualityRule{
		{Column: "a", RuleType: models.RuleRegex, Severity: models.SeverityWarn,
			Params: map[string]string{"pattern": "("}},
	})
	assert.Error(t, err)
}

func TestCheck_UnknownRuleType(t *testing.T) {
	_, err := Check([]Row{{"a": 1}}, []models.QualityRule{
		{Column: "a", RuleType: models.RuleType("checksum"), Severity: models.SeverityWarn},
	})
	assert.Error(t, err)
}

func TestCheck_DetailCap(t *testing.T) {
	rows := make([]Row, 0, 80)
	for i := 0; i < 80; i++ {
		rows = append(rows, Row{"v": nil})
	}
	result, err := Check(rows, []models.QualityRule{
		{Column: "v", RuleType: models.RuleNotNull, Severity: models.SeverityWarn},
	})
	require.NoError(t, err)

	assert.Len(t, result.Violations, MaxDetailedViolations)
	assert.Equal(t, 80, result.TotalViolations)
	assert.True(t, result.Truncated)
	assert.Equal(t, 0, result.ValidRows)
}

func TestCheck_FailPastCapStillGates(t *testing.T) {
	// The first 60 violations are WARN and fill the detail list; the FAIL
	// breach lands past the cap but must still close the gate.
	rows := make([]Row, 0, 61)
	for i := 0; i < 60; i++ {
		rows = append(rows, Row{"w": nil, "f": "ok"})
	}
	rows = append(rows, Row{"w": "ok", "f": nil})

	result, err := Check(rows, []models.QualityRule{
		{Column: "w", RuleType: models.RuleNotNull, Severity: models.SeverityWarn},
		{Column: "f", RuleType: models.RuleNotNull, Severity: models.SeverityFail},
	})
	require.NoError(t, err)

	assert.Equal(t, 61, result.TotalViolations)
	assert.True(t, result.Truncated)
	for _, v := range result.Violations {
		assert.Equal(t, models.SeverityWarn, v.Severity)
	}
	assert.True(t, result.HasFailures())
}

func TestCheck_MultipleRulesShareRowAccounting(t *testing.T) {
	rows := []Row{
		{"id": "a", "age": 10},
		{"id": "a", "age": 300},
		{"id": "b", "age": 20},
	}
	result, err := Check(rows, []models.QualityRule{
		{Column: "id", RuleType: models.RuleUnique, Severity: models.SeverityWarn},
		{Column: "age", RuleType: models.RuleRange, Severity: models.SeverityFail,
			Params: map[string]string{"max": "150"}},
	})
	require.NoError(t, err)

	// Row 1 breaches both rules but counts once against ValidRows
	assert.Equal(t, 2, result.TotalViolations)
	assert.Equal(t, 2, result.ValidRows)
	assert.True(t, result.HasFailures())
}

func TestCheck_ViolationMessagesNameColumn(t *testing.T) {
	rows := []Row{{"score": 999}}
	result, err := Check(rows, []models.QualityRule{
		{Column: "score", RuleType: models.RuleRange, Severity: models.SeverityWarn,
			Params: map[string]string{"max": "100"}},
	})
	require.NoError(t, err)
	require.Len(t, result.Violations, 1)
	assert.Contains(t, result.Violations[0].Message, "score")
	assert.Contains(t, result.Violations[0].Message, fmt.Sprintf("%v", 100.0))
}
