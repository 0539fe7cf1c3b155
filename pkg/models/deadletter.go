package models

import "time"

// DeadLetterRecord is the durable trail left for a message the pipeline gave
// up on. It carries the original payload and enough failure context for an
// operator to fix upstream data and replay. Never mutated after creation.
type DeadLetterRecord struct {
	ID             string    `json:"id" bson:"_id"`
	SampleID       string    `json:"sample_id" bson:"sample_id"`
	Topic          string    `json:"topic" bson:"topic"`
	Partition      int       `json:"partition" bson:"partition"`
	Offset         int64     `json:"offset" bson:"offset"`
	Payload        []byte    `json:"payload" bson:"payload"`
	Stage          string    `json:"stage" bson:"stage"`
	Reason         string    `json:"reason" bson:"reason"`
	Attempts       int       `json:"attempts" bson:"attempts"`
	FirstSeen      time.Time `json:"first_seen" bson:"first_seen"`
	DeadLetteredAt time.Time `json:"dead_lettered_at" bson:"dead_lettered_at"`
}
