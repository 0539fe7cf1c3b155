package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	LedgerKeyPrefix       = "sample:"
	CatalogCacheKeyPrefix = "catalog:"
)

const (
	DefaultInputTopic = "lab_samples"
	DefaultRetryTopic = "lab_samples_retry"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	SchemaVersion1 = "1"
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	StageValidate   = "validate"
	StageTransform  = "transform"
	StageResolve    = "resolve"
	StageDedupCheck = "dedup"
	StageWrite      = "write"
)
