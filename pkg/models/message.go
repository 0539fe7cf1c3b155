package models

import "time"

// MessageEnvelope is the wire format on every topic the pipeline touches:
// the input topic, the retry topic and the dead-letter topic all carry the
// same shape so a record can be replayed from any of them.
type MessageEnvelope struct {
	ID            string                 `json:"id"`
	SampleID      string                 `json:"sample_id"`
	Source        string                 `json:"source,omitempty"`
	SchemaVersion string                 `json:"schema_version"`
	Timestamp     time.Time              `json:"timestamp"`
	Payload       map[string]interface{} `json:"payload"`
	Attempt       *AttemptInfo           `json:"attempt,omitempty"`
}

// AttemptInfo accumulates retry state across requeues. It rides inside the
// envelope so the attempt count survives broker redelivery and process
// restarts.
type AttemptInfo struct {
	Count     int       `json:"count"`
	LastError string    `json:"last_error,omitempty"`
	NotBefore time.Time `json:"not_before,omitempty"`
	FirstSeen time.Time `json:"first_seen,omitempty"`
}

// AttemptCount returns the number of write attempts already made, treating a
// missing attempt block as zero.
func (m *MessageEnvelope) AttemptCount() int {
	if m.Attempt == nil {
		return 0
	}
	return m.Attempt.Count
}
