// Package model holds the row types shared by the ingestion pipeline,
// the store, and the QA engine.
package model

import "time"

// Run identifies one ingestion execution. Rows are immutable once
// inserted; all provenance rows reference the run id.
type Run struct {
	ID                  string    `json:"run_id"`
	StartedAt           time.Time `json:"run_started_at"`
	RunDate             string    `json:"run_date"`
	RegisterIndustry    string    `json:"register_industry"`
	FilterIndustry      string    `json:"filter_industry"`
	FetchProductDetails bool      `json:"fetch_product_details"`
	Notes               string    `json:"notes,omitempty"`
}

// RunSummary is a run row joined with per-run provenance counts, for
// the `runs list` command.
type RunSummary struct {
	Run
	BrandCount    int64 `json:"brand_count"`
	APICallCount  int64 `json:"api_call_count"`
	APIErrorCount int64 `json:"api_error_count"`
}
