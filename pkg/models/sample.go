package models

import "time"

// SampleRecord is the canonical laboratory sample after validation. It is
// immutable once built: the normalizer returns a copy rather than mutating
// in place.
type SampleRecord struct {
	SampleID      string                 `json:"sample_id"`
	VariableID    string                 `json:"variable_id,omitempty"`
	Metric        string                 `json:"metric"`
	Timestamp     time.Time              `json:"timestamp"`
	Value         float64                `json:"value"`
	Unit          string                 `json:"unit,omitempty"`
	Source        string                 `json:"source,omitempty"`
	SchemaVersion string                 `json:"schema_version"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
}

// UpsertBody is the payload shape the Clever samples API expects. Timestamps
// are epoch milliseconds and values travel as strings, matching the store's
// contract.
type UpsertBody struct {
	Timestamp  int64  `json:"timestamp"`
	Value      string `json:"value"`
	VariableID string `json:"variable_id"`
	Categoric  bool   `json:"categoric"`
}
