package model

import "time"

// Fingerprint is a structural signature of a payload shape for one
// (provider, endpoint) pair. Rows are append-only and time-ordered;
// the latest row by ObservedAt is the comparison baseline for drift.
type Fingerprint struct {
	ProviderID string    `json:"provider_id"`
	Endpoint   string    `json:"endpoint"`
	Hash       string    `json:"fingerprint_hash"`
	Paths      []string  `json:"fingerprint_paths"`
	ObservedAt time.Time `json:"observed_at"`
	RunID      string    `json:"run_id"`
}

// DriftEvent records a fingerprint hash change between two
// observations of the same (provider, endpoint).
type DriftEvent struct {
	ProviderID string    `json:"provider_id"`
	Endpoint   string    `json:"endpoint"`
	OldHash    string    `json:"old_fingerprint_hash"`
	NewHash    string    `json:"new_fingerprint_hash"`
	ObservedAt time.Time `json:"observed_at"`
	RunID      string    `json:"run_id"`
	Note       string    `json:"note,omitempty"`
}
