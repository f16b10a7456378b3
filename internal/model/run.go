package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of an ETL run.
type RunStatus string

// Run statuses stored in etl_runs.run_status.
const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunPartial RunStatus = "PARTIAL"
	RunFailed  RunStatus = "FAILED"
)

// RunCounts are the per-category totals recorded when a run closes.
type RunCounts struct {
	CountiesProcessed int `json:"counties_processed"`
	WagesLoaded       int `json:"wages_loaded"`
	WagesRejected     int `json:"wages_rejected"`
	ExpensesLoaded    int `json:"expenses_loaded"`
	ExpensesRejected  int `json:"expenses_rejected"`
}

// Rejected returns the total number of rejected records.
func (c RunCounts) Rejected() int {
	return c.WagesRejected + c.ExpensesRejected
}

// Run is one row of etl_runs.
type Run struct {
	ID           uuid.UUID  `json:"run_id"`
	StateCode    string     `json:"state_code"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Status       RunStatus  `json:"status"`
	Counts       RunCounts  `json:"counts"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// RunSummary is what a run is closed with.
type RunSummary struct {
	Status       RunStatus
	Counts       RunCounts
	ErrorMessage string
}
