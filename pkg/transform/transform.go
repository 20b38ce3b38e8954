// Package transform applies an ordered list of column-level operations
// to an in-memory record batch. Apply is pure: the input batch is never
// mutated and repeat application yields identical output.
package transform

import (
	"strings"

	"github.com/flowforge/flowforge/pkg/connector/core"
	"github.com/flowforge/flowforge/pkg/errors"
	"github.com/flowforge/flowforge/pkg/models"
	"github.com/flowforge/flowforge/pkg/sqlselect"
)

// Row is one record keyed by column name
type Row = map[string]interface{}

// StepReport describes what one step did to the batch
type StepReport struct {
	Type        models.StepType `json:"type"`
	Column      string          `json:"column,omitempty"`
	RowsIn      int             `json:"rowsIn"`
	RowsOut     int             `json:"rowsOut"`
	RowsDropped int             `json:"rowsDropped"`
}

// Report summarizes a full Apply pass
type Report struct {
	Steps       []StepReport `json:"steps"`
	RowsIn      int          `json:"rowsIn"`
	RowsOut     int          `json:"rowsOut"`
	RowsDropped int          `json:"rowsDropped"`
}

// Apply runs the steps strictly in list order. Step i's output is step
// i+1's input. Errors stop the pass; partial output is never returned.
func Apply(rows []Row, steps []models.TransformationStep) ([]Row, *Report, error) {
	current := copyRows(rows)
	report := &Report{RowsIn: len(rows)}

	for _, step := range steps {
		in := len(current)
		var err error

		switch step.Type {
		case models.StepTrim:
			current, err = applyTrim(current, step)
		case models.StepRename:
			current, err = applyRename(current, step)
		case models.StepCast:
			current, err = applyCast(current, step)
		case models.StepFilter:
			current, err = applyFilter(current, step)
		case models.StepDedupe:
			current, err = applyDedupe(current, step)
		case models.StepDerive:
			current, err = applyDerive(current, step)
		default:
			err = errors.Newf(errors.ErrorTypeValidation, "unknown transformation step %q", step.Type)
		}
		if err != nil {
			return nil, nil, err
		}

		report.Steps = append(report.Steps, StepReport{
			Type:        step.Type,
			Column:      step.Column,
			RowsIn:      in,
			RowsOut:     len(current),
			RowsDropped: in - len(current),
		})
	}

	report.RowsOut = len(current)
	report.RowsDropped = report.RowsIn - report.RowsOut
	return current, report, nil
}

// applyTrim strips whitespace from a string column. Non-string values
// pass through untouched.
func applyTrim(rows []Row, step models.TransformationStep) ([]Row, error) {
	if step.Column == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "trim requires a column")
	}
	for _, row := range rows {
		if s, ok := row[step.Column].(string); ok {
			row[step.Column] = strings.TrimSpace(s)
		}
	}
	return rows, nil
}

// applyRename remaps a column key across all rows
func applyRename(rows []Row, step models.TransformationStep) ([]Row, error) {
	to := step.Params["to"]
	if step.Column == "" || to == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "rename requires a column and params.to")
	}
	for _, row := range rows {
		if v, ok := row[step.Column]; ok {
			delete(row, step.Column)
			row[to] = v
		}
	}
	return rows, nil
}

// applyCast coerces a column to a canonical primitive. Non-coercible
// values become null unless params.failFast is set.
func applyCast(rows []Row, step models.TransformationStep) ([]Row, error) {
	target := core.ColumnType(strings.ToUpper(step.Params["targetType"]))
	switch target {
	case core.TypeInteger, core.TypeReal, core.TypeBoolean, core.TypeText, core.TypeTimestamp:
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "cast: unknown target type %q", step.Params["targetType"])
	}
	if step.Column == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "cast requires a column")
	}
	failFast := strings.EqualFold(step.Params["failFast"], "true")

	for i, row := range rows {
		v, ok := row[step.Column]
		if !ok || v == nil {
			continue
		}
		coerced := core.Coerce(v, target)
		if !coercedOK(coerced, target) {
			if failFast {
				return nil, errors.Newf(errors.ErrorTypeData,
					"cast: row %d column %s value %v is not coercible to %s", i, step.Column, v, target)
			}
			row[step.Column] = nil
			continue
		}
		row[step.Column] = coerced
	}
	return rows, nil
}

// coercedOK reports whether Coerce produced a value of the target type
func coercedOK(v interface{}, target core.ColumnType) bool {
	switch target {
	case core.TypeInteger:
		_, ok := v.(int64)
		return ok
	case core.TypeReal:
		_, ok := v.(float64)
		return ok
	case core.TypeBoolean:
		_, ok := v.(bool)
		return ok
	case core.TypeText, core.TypeTimestamp:
		_, ok := v.(string)
		return ok
	default:
		return false
	}
}

// applyFilter retains rows matching the (column, operator, value)
// predicate. Rows where the comparison is false or NULL drop out.
func applyFilter(rows []Row, step models.TransformationStep) ([]Row, error) {
	op := step.Params["operator"]
	value := step.Params["value"]
	if step.Column == "" || op == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "filter requires a column and params.operator")
	}
	switch op {
	case ">", "<", ">=", "<=", "=", "!=":
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "filter: unknown operator %q", op)
	}

	out := rows[:0]
	for _, row := range rows {
		keep, err := sqlselect.Compare(row[step.Column], op, value)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, row)
		}
	}
	return out, nil
}

// applyDedupe removes duplicates on the configured key set, keeping the
// first occurrence in input order.
func applyDedupe(rows []Row, step models.TransformationStep) ([]Row, error) {
	keys := step.Columns
	if len(keys) == 0 && step.Column != "" {
		keys = []string{step.Column}
	}
	if len(keys) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "dedupe requires at least one key column")
	}

	seen := make(map[string]bool, len(rows))
	out := rows[:0]
	for _, row := range rows {
		var b strings.Builder
		for _, k := range keys {
			b.WriteString(sqlselect.Stringify(row[k]))
			b.WriteByte(0x1f) // unit separator avoids key collisions
		}
		key := b.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row)
	}
	return out, nil
}

// applyDerive computes a new column from an expression over existing
// columns. The expression is parsed once per step.
func applyDerive(rows []Row, step models.TransformationStep) ([]Row, error) {
	exprText := step.Params["expression"]
	as := step.Params["as"]
	if exprText == "" || as == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "derive requires params.expression and params.as")
	}

	expr, err := sqlselect.ParseExpression(exprText)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "derive: invalid expression")
	}

	for _, row := range rows {
		v, err := sqlselect.EvalExpr(expr, row)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "derive: evaluation failed")
		}
		row[as] = v
	}
	return rows, nil
}

// copyRows deep-copies the batch one level down so Apply never mutates
// its input. Values themselves are treated as immutable.
func copyRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		cp := make(Row, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}
