// Package models defines the persistent entities of the pipeline
// execution subsystem.
package models

import (
	"time"

	"github.com/flowforge/flowforge/pkg/config"
)

// PipelineMode selects when transformation happens relative to load
type PipelineMode string

const (
	// ModeETL transforms the batch in-process before loading
	ModeETL PipelineMode = "ETL"
	// ModeELT loads the raw batch and hands transformation off to the
	// destination (external collaborator)
	ModeELT PipelineMode = "ELT"
)

// RunStatus is the pipeline-level status of the most recent run
type RunStatus string

const (
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
)

// Pipeline is a configured data pipeline. LastRunAt and LastStatus are
// mutated only by the worker.
type Pipeline struct {
	ID                string                  `json:"id"`
	Name              string                  `json:"name"`
	WorkspaceID       string                  `json:"workspaceId"`
	SourceType        string                  `json:"sourceType"`
	SourceConfig      *config.ConnectionConfig `json:"sourceConfig"`
	DestinationType   string                  `json:"destinationType"`
	DestinationConfig *config.ConnectionConfig `json:"destinationConfig,omitempty"`
	Mode              PipelineMode            `json:"mode"`
	Query             string                  `json:"query"`
	Steps             []TransformationStep    `json:"transformationSteps"`
	QualityRules      []QualityRule           `json:"qualityRules"`
	ScheduleCron      string                  `json:"scheduleCron,omitempty"`
	LastRunAt         *time.Time              `json:"lastRunAt,omitempty"`
	LastStatus        RunStatus               `json:"lastStatus,omitempty"`
	CreatedAt         time.Time               `json:"createdAt"`
	UpdatedAt         time.Time               `json:"updatedAt"`
}

// StepType identifies a transformation step
type StepType string

const (
	StepTrim   StepType = "trim"
	StepRename StepType = "rename"
	StepCast   StepType = "cast"
	StepFilter StepType = "filter"
	StepDedupe StepType = "dedupe"
	StepDerive StepType = "derive"
)

// TransformationStep is a value object describing one column-level
// operation. Position in the pipeline's step list is semantically
// significant: step i's output is step i+1's input.
type TransformationStep struct {
	Type StepType `json:"type"`
	// Column is the target column for trim/cast/filter and the source
	// column for rename
	Column string `json:"column,omitempty"`
	// Columns is the key set for dedupe
	Columns []string `json:"columns,omitempty"`
	// Params carries step-specific parameters:
	//   rename: to          — new column key
	//   cast:   targetType  — INTEGER|REAL|BOOLEAN|TEXT|TIMESTAMP
	//   cast:   failFast    — "true" to error on non-coercible values
	//   filter: operator    — > < >= <= = !=
	//   filter: value       — comparison operand
	//   derive: expression  — expression over existing columns
	//   derive: as          — derived column name
	Params map[string]string `json:"params,omitempty"`
}

// RuleSeverity classifies a quality violation
type RuleSeverity string

const (
	// SeverityWarn logs the violation and lets the run proceed
	SeverityWarn RuleSeverity = "WARN"
	// SeverityFail aborts the run before load
	SeverityFail RuleSeverity = "FAIL"
)

// RuleType identifies a quality rule
type RuleType string

const (
	RuleNotNull RuleType = "not_null"
	RuleUnique  RuleType = "unique"
	RuleRange   RuleType = "range"
	RuleRegex   RuleType = "regex"
)

// QualityRule is a declarative validation rule. Severity is a static
// property of the rule, not data-dependent.
type QualityRule struct {
	Column   string       `json:"column"`
	RuleType RuleType     `json:"ruleType"`
	Severity RuleSeverity `json:"severity"`
	// Params carries rule-specific parameters:
	//   range: min, max — numeric bounds (either may be omitted)
	//   regex: pattern  — RE2 pattern the value must match
	Params map[string]string `json:"params,omitempty"`
}

// Connection is a saved connector configuration
type Connection struct {
	ID        string                   `json:"id"`
	Name      string                   `json:"name"`
	Type      string                   `json:"type"`
	Config    *config.ConnectionConfig `json:"config"`
	CreatedAt time.Time                `json:"createdAt"`
}
