// Package quality validates a record batch against declarative rules.
// Check is pure and never errors on violations: it reports them
// structurally and leaves escalation to the caller.
package quality

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/flowforge/flowforge/pkg/errors"
	"github.com/flowforge/flowforge/pkg/models"
	"github.com/flowforge/flowforge/pkg/sqlselect"
)

// Row is one record keyed by column name
type Row = map[string]interface{}

// MaxDetailedViolations caps the per-check detail list. Violations past
// the cap are counted, not listed.
const MaxDetailedViolations = 50

// Violation is one rule breach at one row
type Violation struct {
	RowIndex int                 `json:"rowIndex"`
	Column   string              `json:"column"`
	Message  string              `json:"message"`
	Severity models.RuleSeverity `json:"severity"`
}

// Result is the outcome of a Check pass
type Result struct {
	ValidRows  int         `json:"validRows"`
	Violations []Violation `json:"violations"`
	// TotalViolations counts every breach including those past the
	// detail cap
	TotalViolations int  `json:"totalViolations"`
	Truncated       bool `json:"truncated"`

	// failPastCap remembers a FAIL-severity breach whose detail was
	// dropped at the cap, so the gate still closes
	failPastCap bool
}

// HasFailures reports whether any FAIL-severity violation occurred
func (r *Result) HasFailures() bool {
	for _, v := range r.Violations {
		if v.Severity == models.SeverityFail {
			return true
		}
	}
	return r.failPastCap
}

// Check validates rows against rules. Malformed rules (bad regex,
// non-numeric bounds) return an error; data violations never do.
func Check(rows []Row, rules []models.QualityRule) (*Result, error) {
	result := &Result{}
	rowViolations := make([]bool, len(rows))

	record := func(idx int, column, message string, severity models.RuleSeverity) {
		result.TotalViolations++
		if idx >= 0 && idx < len(rowViolations) {
			rowViolations[idx] = true
		}
		if len(result.Violations) < MaxDetailedViolations {
			result.Violations = append(result.Violations, Violation{
				RowIndex: idx,
				Column:   column,
				Message:  message,
				Severity: severity,
			})
			return
		}
		result.Truncated = true
		if severity == models.SeverityFail {
			result.failPastCap = true
		}
	}

	for _, rule := range rules {
		switch rule.RuleType {
		case models.RuleNotNull:
			checkNotNull(rows, rule, record)
		case models.RuleUnique:
			checkUnique(rows, rule, record)
		case models.RuleRange:
			if err := checkRange(rows, rule, record); err != nil {
				return nil, err
			}
		case models.RuleRegex:
			if err := checkRegex(rows, rule, record); err != nil {
				return nil, err
			}
		default:
			return nil, errors.Newf(errors.ErrorTypeValidation, "unknown rule type %q", rule.RuleType)
		}
	}

	for _, bad := range rowViolations {
		if !bad {
			result.ValidRows++
		}
	}
	return result, nil
}

type recordFn func(idx int, column, message string, severity models.RuleSeverity)

// checkNotNull flags absent and nil values. Empty strings are values,
// not nulls; a regex rule can reject blanks when that matters.
func checkNotNull(rows []Row, rule models.QualityRule, record recordFn) {
	for i, row := range rows {
		v, ok := row[rule.Column]
		if !ok || v == nil {
			record(i, rule.Column, fmt.Sprintf("column %s is null", rule.Column), rule.Severity)
		}
	}
}

// checkUnique flags every occurrence of a duplicated value after the
// first, within the batch.
func checkUnique(rows []Row, rule models.QualityRule, record recordFn) {
	seen := make(map[string]bool, len(rows))
	for i, row := range rows {
		v := row[rule.Column]
		if v == nil {
			continue
		}
		key := sqlselect.Stringify(v)
		if seen[key] {
			record(i, rule.Column, fmt.Sprintf("column %s has duplicate value %q", rule.Column, key), rule.Severity)
			continue
		}
		seen[key] = true
	}
}

func checkRange(rows []Row, rule models.QualityRule, record recordFn) error {
	var (
		min, max       float64
		hasMin, hasMax bool
	)
	if s, ok := rule.Params["min"]; ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return errors.Newf(errors.ErrorTypeValidation, "range: invalid min %q", s)
		}
		min, hasMin = f, true
	}
	if s, ok := rule.Params["max"]; ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return errors.Newf(errors.ErrorTypeValidation, "range: invalid max %q", s)
		}
		max, hasMax = f, true
	}
	if !hasMin && !hasMax {
		return errors.New(errors.ErrorTypeValidation, "range requires min or max")
	}

	for i, row := range rows {
		v := row[rule.Column]
		if v == nil {
			continue
		}
		f, ok := sqlselect.ToNumber(v)
		if !ok {
			record(i, rule.Column, fmt.Sprintf("column %s value %v is not numeric", rule.Column, v), rule.Severity)
			continue
		}
		if hasMin && f < min {
			record(i, rule.Column, fmt.Sprintf("column %s value %v is below minimum %v", rule.Column, f, min), rule.Severity)
		}
		if hasMax && f > max {
			record(i, rule.Column, fmt.Sprintf("column %s value %v is above maximum %v", rule.Column, f, max), rule.Severity)
		}
	}
	return nil
}

func checkRegex(rows []Row, rule models.QualityRule, record recordFn) error {
	pattern := rule.Params["pattern"]
	if pattern == "" {
		return errors.New(errors.ErrorTypeValidation, "regex requires params.pattern")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeValidation, "regex: invalid pattern %q", pattern)
	}

	for i, row := range rows {
		v := row[rule.Column]
		if v == nil {
			continue
		}
		if !re.MatchString(sqlselect.Stringify(v)) {
			record(i, rule.Column, fmt.Sprintf("column %s value %q does not match %s", rule.Column, sqlselect.Stringify(v), pattern), rule.Severity)
		}
	}
	return nil
}
