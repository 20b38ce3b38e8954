package sqlselect

// SelectStatement is the parsed form of the restricted SELECT dialect:
// a projection over one collection with an optional predicate and limit.
type SelectStatement struct {
	// Items is nil when the projection is '*'
	Items      []SelectItem
	Collection string
	Where      Expr
	Limit      int // -1 when absent
}

// Star reports whether the projection is 'SELECT *'
func (s *SelectStatement) Star() bool {
	return len(s.Items) == 0
}

// Columns returns the output column names in projection order. For '*'
// the caller derives columns from the row set.
func (s *SelectStatement) Columns() []string {
	cols := make([]string, len(s.Items))
	for i, item := range s.Items {
		cols[i] = item.OutputName()
	}
	return cols
}

// HasAggregates reports whether any projection item is an aggregate
func (s *SelectStatement) HasAggregates() bool {
	for _, item := range s.Items {
		if item.Aggregate != "" {
			return true
		}
	}
	return false
}

// SelectItem is one projection entry: either a plain expression or an
// aggregate over a column.
type SelectItem struct {
	// Aggregate is COUNT, SUM, AVG, MIN or MAX; empty for plain items
	Aggregate string
	// Column is the aggregate argument; "*" only for COUNT(*)
	Column string
	// Expr is the projected expression for non-aggregate items
	Expr Expr
	// Alias from an AS clause, may be empty
	Alias string
}

// OutputName returns the column name this item produces
func (i SelectItem) OutputName() string {
	if i.Alias != "" {
		return i.Alias
	}
	if i.Aggregate != "" {
		if i.Column == "*" {
			return i.Aggregate + "(*)"
		}
		return i.Aggregate + "(" + i.Column + ")"
	}
	return i.Expr.String()
}

// Expr is an expression node evaluated against a single row
type Expr interface {
	String() string
}

// ColumnRef references a row column by name
type ColumnRef struct {
	Name string
}

func (e *ColumnRef) String() string { return e.Name }

// NumberLit is a numeric literal
type NumberLit struct {
	Value   float64
	Literal string
}

func (e *NumberLit) String() string { return e.Literal }

// StringLit is a string literal
type StringLit struct {
	Value string
}

func (e *StringLit) String() string { return "'" + e.Value + "'" }

// BoolLit is TRUE or FALSE
type BoolLit struct {
	Value bool
}

func (e *BoolLit) String() string {
	if e.Value {
		return "TRUE"
	}
	return "FALSE"
}

// NullLit is the NULL literal
type NullLit struct{}

func (e *NullLit) String() string { return "NULL" }

// BinaryExpr applies an operator to two operands
type BinaryExpr struct {
	Left  Expr
	Op    string
	Right Expr
}

func (e *BinaryExpr) String() string {
	return "(" + e.Left.String() + " " + e.Op + " " + e.Right.String() + ")"
}

// UnaryExpr applies NOT or unary minus
type UnaryExpr struct {
	Op      string
	Operand Expr
}

func (e *UnaryExpr) String() string {
	return "(" + e.Op + " " + e.Operand.String() + ")"
}

// IsNullExpr tests a value against NULL
type IsNullExpr struct {
	Operand Expr
	Negate  bool
}

func (e *IsNullExpr) String() string {
	if e.Negate {
		return "(" + e.Operand.String() + " IS NOT NULL)"
	}
	return "(" + e.Operand.String() + " IS NULL)"
}
