package transform

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/models"
)

func TestApply_NoStepsCopiesInput(t *testing.T) {
	rows := []Row{{"a": 1}, {"a": 2}}

	out, report, err := Apply(rows, nil)
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, 2, report.RowsIn)
	assert.Equal(t, 2, report.RowsOut)
	assert.Equal(t, 0, report.RowsDropped)
}

func TestApply_InputNeverMutated(t *testing.T) {
	rows := []Row{{"name": "  padded  "}}
	steps := []models.TransformationStep{
		{Type: models.StepTrim, Column: "name"},
	}

	out, _, err := Apply(rows, steps)
	require.NoError(t, err)
	assert.Equal(t, "padded", out[0]["name"])
	assert.Equal(t, "  padded  ", rows[0]["name"])
}

func TestApply_Deterministic(t *testing.T) {
	rows := []Row{
		{"name": " a ", "amount": 5},
		{"name": "b", "amount": 15},
		{"name": "b", "amount": 15},
	}
	steps := []models.TransformationStep{
		{Type: models.StepTrim, Column: "name"},
		{Type: models.StepFilter, Column: "amount", Params: map[string]string{"operator": ">", "value": "10"}},
		{Type: models.StepDedupe, Column: "name"},
	}

	first, _, err := Apply(rows, steps)
	require.NoError(t, err)
	second, _, err := Apply(rows, steps)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestApply_Trim(t *testing.T) {
	rows := []Row{
		{"name": "  hello\t"},
		{"name": 42},
		{"name": nil},
	}
	out, _, err := Apply(rows, []models.TransformationStep{
		{Type: models.StepTrim, Column: "name"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", out[0]["name"])
	assert.Equal(t, 42, out[1]["name"])
	assert.Nil(t, out[2]["name"])
}

func TestApply_Rename(t *testing.T) {
	rows := []Row{
		{"old": "v", "other": 1},
		{"other": 2},
	}
	out, _, err := Apply(rows, []models.TransformationStep{
		{Type: models.StepRename, Column: "old", Params: map[string]string{"to": "new"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "v", out[0]["new"])
	_, exists := out[0]["old"]
	assert.False(t, exists)
	// Rows without the source column are untouched
	assert.Equal(t, 2, out[1]["other"])
}

func TestApply_Cast(t *testing.T) {
	t.Run("coercible values convert", func(t *testing.T) {
		rows := []Row{{"n": "42"}, {"n": 7.0}}
		out, _, err := Apply(rows, []models.TransformationStep{
			{Type: models.StepCast, Column: "n", Params: map[string]string{"targetType": "INTEGER"}},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(42), out[0]["n"])
		assert.Equal(t, int64(7), out[1]["n"])
	})

	t.Run("non-coercible values become null", func(t *testing.T) {
		rows := []Row{{"n": "not a number"}}
		out, _, err := Apply(rows, []models.TransformationStep{
			{Type: models.StepCast, Column: "n", Params: map[string]string{"targetType": "INTEGER"}},
		})
		require.NoError(t, err)
		assert.Nil(t, out[0]["n"])
	})

	t.Run("failFast errors on non-coercible value", func(t *testing.T) {
		rows := []Row{{"n": "not a number"}}
		_, _, err := Apply(rows, []models.TransformationStep{
			{Type: models.StepCast, Column: "n", Params: map[string]string{"targetType": "INTEGER", "failFast": "true"}},
		})
		assert.Error(t, err)
	})

	t.Run("unknown target type errors", func(t *testing.T) {
		_, _, err := Apply([]Row{{"n": 1}}, []models.TransformationStep{
			{Type: models.StepCast, Column: "n", Params: map[string]string{"targetType": "DECIMAL"}},
		})
		assert.Error(t, err)
	})
}

func TestApply_Filter(t *testing.T) {
	rows := make([]Row, 0, 100)
	for i := 0; i < 100; i++ {
		rows = append(rows, Row{"amount": i})
	}

	out, report, err := Apply(rows, []models.TransformationStep{
		{Type: models.StepFilter, Column: "amount", Params: map[string]string{"operator": ">=", "value": "10"}},
	})
	require.NoError(t, err)
	assert.Len(t, out, 90)
	assert.Equal(t, 100, report.RowsIn)
	assert.Equal(t, 90, report.RowsOut)
	assert.Equal(t, 10, report.RowsDropped)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, 10, report.Steps[0].RowsDropped)
}

func TestApply_FilterNullDropsRow(t *testing.T) {
	rows := []Row{
		{"amount": nil},
		{"amount": 20},
	}
	out, _, err := Apply(rows, []models.TransformationStep{
		{Type: models.StepFilter, Column: "amount", Params: map[string]string{"operator": ">", "value": "10"}},
	})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, 20, out[0]["amount"])
}

func TestApply_FilterUnknownOperator(t *testing.T) {
	_, _, err := Apply([]Row{{"a": 1}}, []models.TransformationStep{
		{Type: models.StepFilter, Column: "a", Params: map[string]string{"operator": "~=", "value": "1"}},
	})
	assert.Error(t, err)
}

func TestApply_DedupeFirstWins(t *testing.T) {
	rows := []Row{
		{"email": "a@x.com", "seq": 1},
		{"email": "b@x.com", "seq": 2},
		{"email": "a@x.com", "seq": 3},
	}
	out, report, err := Apply(rows, []models.TransformationStep{
		{Type: models.StepDedupe, Column: "email"},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0]["seq"])
	assert.Equal(t, 2, out[1]["seq"])
	assert.Equal(t, 1, report.RowsDropped)
}

func TestApply_DedupeCompositeKey(t *testing.T) {
	rows := []Row{
		{"a": "x", "b": "y"},
		{"a": "x", "b": "z"},
		{"a": "x", "b": "y"},
	}
	out, _, err := Apply(rows, []models.TransformationStep{
		{Type: models.StepDedupe, Columns: []string{"a", "b"}},
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestApply_Derive(t *testing.T) {
	rows := []Row{
		{"price": 2.0, "quantity": 3},
		{"price": 10.0, "quantity": 1},
	}
	out, _, err := Apply(rows, []models.TransformationStep{
		{Type: models.StepDerive, Params: map[string]string{"expression": "price * quantity", "as": "total"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 6.0, out[0]["total"])
	assert.Equal(t, 10.0, out[1]["total"])
}

func TestApply_DeriveInvalidExpression(t *testing.T) {
	_, _, err := Apply([]Row{{"a": 1}}, []models.TransformationStep{
		{Type: models.StepDerive, Params: map[string]string{"expression": "a +", "as": "b"}},
	})
	assert.Error(t, err)
}

func TestApply_StepsRunInOrder(t *testing.T) {
	// Rename first, then filter on the renamed column: order matters.
	rows := []Row{
		{"v": 5},
		{"v": 50},
	}
	steps := []models.TransformationStep{
		{Type: models.StepRename, Column: "v", Params: map[string]string{"to": "value"}},
		{Type: models.StepFilter, Column: "value", Params: map[string]string{"operator": ">", "value": "10"}},
	}
	out, _, err := Apply(rows, steps)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 50, out[0]["value"])
}

func TestApply_ErrorReturnsNoPartialOutput(t *testing.T) {
	rows := []Row{{"a": "x"}}
	steps := []models.TransformationStep{
		{Type: models.StepTrim, Column: "a"},
		{Type: models.StepType("explode"), Column: "a"},
	}
	out, report, err := Apply(rows, steps)
	assert.Error(t, err)
	assert.Nil(t, out)
	assert.Nil(t, report)
}

func TestApply_ReportPerStepCounts(t *testing.T) {
	rows := make([]Row, 0, 10)
	for i := 0; i < 10; i++ {
		rows = append(rows, Row{"n": i, "k": fmt.Sprintf("key-%d", i%3)})
	}
	steps := []models.TransformationStep{
		{Type: models.StepFilter, Column: "n", Params: map[string]string{"operator": "<", "value": "8"}},
		{Type: models.StepDedupe, Column: "k"},
	}
	_, report, err := Apply(rows, steps)
	require.NoError(t, err)
	require.Len(t, report.Steps, 2)

	assert.Equal(t, 10, report.Steps[0].RowsIn)
	assert.Equal(t, 8, report.Steps[0].RowsOut)
	assert.Equal(t, 8, report.Steps[1].RowsIn)
	assert.Equal(t, 3, report.Steps[1].RowsOut)
	assert.Equal(t, 7, report.RowsDropped)
}
