package model

import "time"

// GateResult is the persisted outcome of one QA gate within one
// evaluation run. Rows are created fresh per evaluation, never
// updated in place.
type GateResult struct {
	QARunID        string    `json:"qa_run_id"`
	QADate         string    `json:"qa_date"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
	Name           string    `json:"gate_name"`
	Passed         bool      `json:"passed"`
	Actual         *float64  `json:"actual_value,omitempty"`
	Threshold      *float64  `json:"threshold_value,omitempty"`
	Details        string    `json:"details"`
	ExternalRan    bool      `json:"external_test_ran"`
	ExternalPassed bool      `json:"external_test_passed"`
	ExternalCmd    string    `json:"external_test_command,omitempty"`
}
