package transform

import (
	"fmt"
	"math"
	"strings"
	"time"

	"sampleflow/pkg/errors"
	"sampleflow/pkg/models"
)

// unitScales maps recognized units to their base unit and scale factor.
// Base units map to themselves so a second normalization pass is a no-op.
var unitScales = map[string]struct {
	base  string
	scale float64
}{
	"g":  {"g", 1},
	"mg": {"g", 0.001},
	"kg": {"g", 1000},
	"l":  {"l", 1},
	"ml": {"l", 0.001},
	"s":  {"s", 1},
	"ms": {"s", 0.001},
}

// Normalizer applies the deterministic conversions the store expects:
// UTC timestamps, base units, canonical metric names, range-checked values.
// Normalize is pure and idempotent; failures are TransformErrors and
// permanent.
type Normalizer struct {
	minValue float64
	maxValue float64
}

func NewNormalizer() *Normalizer {
	return &Normalizer{
		minValue: 0,
		maxValue: 1e12,
	}
}

// NewNormalizerWithBounds overrides the accepted measurement range.
func NewNormalizerWithBounds(minValue, maxValue float64) *Normalizer {
	return &Normalizer{minValue: minValue, maxValue: maxValue}
}

func (n *Normalizer) Normalize(rec models.SampleRecord) (models.SampleRecord, error) {
	out := rec

	if math.IsNaN(out.Value) || math.IsInf(out.Value, 0) {
		return models.SampleRecord{}, errors.NewTransformError("value", "value is not a finite number")
	}

	out.Metric = canonicalMetric(out.Metric)

	if out.Unit != "" {
		unit := strings.ToLower(strings.TrimSpace(out.Unit))
		if conv, ok := unitScales[unit]; ok {
			out.Value = out.Value * conv.scale
			out.Unit = conv.base
		} else {
			out.Unit = unit
		}
	}

	if out.Value < n.minValue || out.Value > n.maxValue {
		return models.SampleRecord{}, errors.NewTransformError("value",
			fmt.Sprintf("value %g outside accepted range [%g, %g]", out.Value, n.minValue, n.maxValue))
	}

	if out.Timestamp.IsZero() {
		return models.SampleRecord{}, errors.NewTransformError("timestamp", "timestamp is zero")
	}
	out.Timestamp = out.Timestamp.UTC().Truncate(time.Millisecond)

	if out.Timestamp.After(time.Now().UTC().Add(24 * time.Hour)) {
		return models.SampleRecord{}, errors.NewTransformError("timestamp", "timestamp is more than a day in the future")
	}

	return out, nil
}

// canonicalMetric lowers and strips a metric name the same way the catalog
// indexes variable names, so lookups are case and whitespace insensitive.
func canonicalMetric(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "")
}
