package models

import (
	"time"

	"github.com/flowforge/flowforge/pkg/config"
)

// AlertOperator compares the observed value to the threshold
type AlertOperator string

const (
	OpGreater        AlertOperator = ">"
	OpLess           AlertOperator = "<"
	OpGreaterOrEqual AlertOperator = ">="
	OpLessOrEqual    AlertOperator = "<="
	OpEqual          AlertOperator = "="
	OpNotEqual       AlertOperator = "!="
)

// AlertStatus is the outcome of one evaluation cycle for an alert
type AlertStatus string

const (
	// AlertOK means the condition did not hold
	AlertOK AlertStatus = "OK"
	// AlertTriggered means the condition held and notifications were sent
	AlertTriggered AlertStatus = "TRIGGERED"
	// AlertError means evaluation itself failed (connector error,
	// non-numeric value); recorded, never propagated
	AlertError AlertStatus = "ERROR"
)

// SavedQuery is a saved query an alert re-executes each cycle
type SavedQuery struct {
	ID         string                   `json:"id"`
	Name       string                   `json:"name"`
	SQL        string                   `json:"sql"`
	SourceType string                   `json:"sourceType"`
	Source     *config.ConnectionConfig `json:"source"`
}

// Alert is a threshold watch over a saved query. LastRunAt and LastStatus
// are mutated by the evaluator each cycle.
type Alert struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	QueryID        string            `json:"queryId"`
	Column         string            `json:"column"`
	Operator       AlertOperator     `json:"operator"`
	Threshold      float64           `json:"threshold"`
	Schedule       string            `json:"schedule,omitempty"`
	Email          string            `json:"email,omitempty"`
	WebhookURL     string            `json:"webhookUrl,omitempty"`
	WebhookHeaders map[string]string `json:"webhookHeaders,omitempty"`
	LastRunAt      *time.Time        `json:"lastRunAt,omitempty"`
	LastStatus     AlertStatus       `json:"lastStatus,omitempty"`
	IsActive       bool              `json:"isActive"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// AlertHistory is one append-only record per evaluation; never mutated.
type AlertHistory struct {
	ID        string      `json:"id"`
	AlertID   string      `json:"alertId"`
	Status    AlertStatus `json:"status"`
	Value     *float64    `json:"value,omitempty"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}
