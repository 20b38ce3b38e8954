// Package sqlselect evaluates a restricted SELECT dialect over in-memory
// record sets. Connectors for sources without a native SQL engine parse
// the incoming query once, fetch raw records from the origin, and apply
// the projection, predicate and aggregation here.
package sqlselect

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/flowforge/flowforge/pkg/errors"
)

// Row is one record keyed by column name
type Row = map[string]interface{}

// Result is the evaluated output of a SELECT
type Result struct {
	Columns []string
	Rows    []Row
}

// Evaluate applies a parsed SELECT to the given rows. The input is never
// mutated; output rows contain exactly the projected columns in
// projection order.
func Evaluate(rows []Row, stmt *SelectStatement) (*Result, error) {
	// Predicate first
	filtered := rows
	if stmt.Where != nil {
		filtered = make([]Row, 0, len(rows))
		for _, row := range rows {
			ok, err := evalPredicate(stmt.Where, row)
			if err != nil {
				return nil, err
			}
			if ok {
				filtered = append(filtered, row)
			}
		}
	}

	if stmt.HasAggregates() {
		return evalAggregates(filtered, stmt)
	}

	var columns []string
	if stmt.Star() {
		columns = starColumns(filtered)
	} else {
		columns = stmt.Columns()
	}

	out := make([]Row, 0, len(filtered))
	for _, row := range filtered {
		if stmt.Limit >= 0 && len(out) >= stmt.Limit {
			break
		}
		projected := make(Row, len(columns))
		if stmt.Star() {
			for _, col := range columns {
				projected[col] = row[col]
			}
		} else {
			for i, item := range stmt.Items {
				v, err := EvalExpr(item.Expr, row)
				if err != nil {
					return nil, err
				}
				projected[columns[i]] = v
			}
		}
		out = append(out, projected)
	}

	return &Result{Columns: columns, Rows: out}, nil
}

// starColumns derives a stable column order for SELECT *
func starColumns(rows []Row) []string {
	seen := make(map[string]bool)
	var columns []string
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				columns = append(columns, col)
			}
		}
	}
	sort.Strings(columns)
	return columns
}

// evalAggregates reduces the row set to a single output row
func evalAggregates(rows []Row, stmt *SelectStatement) (*Result, error) {
	columns := stmt.Columns()
	out := make(Row, len(columns))

	for i, item := range stmt.Items {
		if item.Aggregate == "" {
			return nil, errors.New(errors.ErrorTypeQuery, "cannot mix aggregate and plain columns without GROUP BY")
		}
		v, err := computeAggregate(rows, item)
		if err != nil {
			return nil, err
		}
		out[columns[i]] = v
	}

	return &Result{Columns: columns, Rows: []Row{out}}, nil
}

func computeAggregate(rows []Row, item SelectItem) (interface{}, error) {
	if item.Aggregate == "COUNT" {
		if item.Column == "*" {
			return int64(len(rows)), nil
		}
		var n int64
		for _, row := range rows {
			if row[item.Column] != nil {
				n++
			}
		}
		return n, nil
	}

	var (
		sum   float64
		count int64
		min   float64
		max   float64
	)
	for _, row := range rows {
		v := row[item.Column]
		if v == nil {
			continue
		}
		f, ok := ToNumber(v)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeQuery, "%s(%s): non-numeric value", item.Aggregate, item.Column)
		}
		if count == 0 {
			min, max = f, f
		} else {
			if f < min {
				min = f
			}
			if f > max {
				max = f
			}
		}
		sum += f
		count++
	}

	switch item.Aggregate {
	case "SUM":
		return sum, nil
	case "AVG":
		if count == 0 {
			return nil, nil
		}
		return sum / float64(count), nil
	case "MIN":
		if count == 0 {
			return nil, nil
		}
		return min, nil
	case "MAX":
		if count == 0 {
			return nil, nil
		}
		return max, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeQuery, "unsupported aggregate %s", item.Aggregate)
	}
}

// evalPredicate evaluates an expression as a boolean; NULL is false
func evalPredicate(expr Expr, row Row) (bool, error) {
	v, err := EvalExpr(expr, row)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// EvalExpr evaluates an expression against one row
func EvalExpr(expr Expr, row Row) (interface{}, error) {
	switch e := expr.(type) {
	case *ColumnRef:
		return row[e.Name], nil
	case *NumberLit:
		return e.Value, nil
	case *StringLit:
		return e.Value, nil
	case *BoolLit:
		return e.Value, nil
	case *NullLit:
		return nil, nil
	case *IsNullExpr:
		v, err := EvalExpr(e.Operand, row)
		if err != nil {
			return nil, err
		}
		if e.Negate {
			return v != nil, nil
		}
		return v == nil, nil
	case *UnaryExpr:
		v, err := EvalExpr(e.Operand, row)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case "NOT":
			return !Truthy(v), nil
		case "-":
			f, ok := ToNumber(v)
			if !ok {
				return nil, errors.New(errors.ErrorTypeQuery, "unary minus on non-numeric value")
			}
			return -f, nil
		}
		return nil, errors.Newf(errors.ErrorTypeQuery, "unsupported unary operator %s", e.Op)
	case *BinaryExpr:
		return evalBinary(e, row)
	default:
		return nil, errors.Newf(errors.ErrorTypeQuery, "unsupported expression %T", expr)
	}
}

func evalBinary(e *BinaryExpr, row Row) (interface{}, error) {
	// Short-circuit logical operators
	switch e.Op {
	case "AND":
		l, err := evalPredicate(e.Left, row)
		if err != nil || !l {
			return false, err
		}
		return evalPredicate(e.Right, row)
	case "OR":
		l, err := evalPredicate(e.Left, row)
		if err != nil {
			return nil, err
		}
		if l {
			return true, nil
		}
		return evalPredicate(e.Right, row)
	}

	left, err := EvalExpr(e.Left, row)
	if err != nil {
		return nil, err
	}
	right, err := EvalExpr(e.Right, row)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case "=", "!=", "<", "<=", ">", ">=":
		return Compare(left, e.Op, right)
	case "+", "-", "*", "/", "%":
		return arith(left, e.Op, right)
	case "||":
		return Stringify(left) + Stringify(right), nil
	}
	return nil, errors.Newf(errors.ErrorTypeQuery, "unsupported operator %s", e.Op)
}

func arith(left interface{}, op string, right interface{}) (interface{}, error) {
	lf, lok := ToNumber(left)
	rf, rok := ToNumber(right)
	if !lok || !rok {
		if op == "+" {
			// String concatenation fallback
			return Stringify(left) + Stringify(right), nil
		}
		return nil, errors.Newf(errors.ErrorTypeQuery, "operator %s requires numeric operands", op)
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, nil
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, nil
		}
		return float64(int64(lf) % int64(rf)), nil
	}
	return nil, errors.Newf(errors.ErrorTypeQuery, "unsupported operator %s", op)
}

// Compare applies a comparison operator with SQL-ish semantics:
// comparisons involving NULL are false; numbers compare numerically,
// everything else compares as strings.
func Compare(left interface{}, op string, right interface{}) (bool, error) {
	if left == nil || right == nil {
		// Only explicit equality on two NULLs holds
		if op == "=" {
			return left == nil && right == nil, nil
		}
		if op == "!=" {
			return (left == nil) != (right == nil), nil
		}
		return false, nil
	}

	lf, lok := ToNumber(left)
	rf, rok := ToNumber(right)
	if lok && rok {
		switch op {
		case "=":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}

	ls, rs := Stringify(left), Stringify(right)
	switch op {
	case "=":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case "<":
		return ls < rs, nil
	case "<=":
		return ls <= rs, nil
	case ">":
		return ls > rs, nil
	case ">=":
		return ls >= rs, nil
	}
	return false, errors.Newf(errors.ErrorTypeQuery, "unsupported comparison %s", op)
}

// ToNumber coerces a value to float64 where possible
func ToNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Truthy interprets a value as a boolean; NULL and zero values are false
func Truthy(v interface{}) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		return b != ""
	default:
		if f, ok := ToNumber(v); ok {
			return f != 0
		}
		return true
	}
}

// Stringify renders a value the way it would appear in a result cell
func Stringify(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
