package transform

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sampleflow/pkg/errors"
	"sampleflow/pkg/models"
)

func testRecord() models.SampleRecord {
	return models.SampleRecord{
		SampleID:  "s-1",
		Metric:    "Glucose Level",
		Timestamp: time.Date(2025, 3, 14, 9, 30, 0, 123456789, time.FixedZone("CET", 3600)),
		Value:     250,
		Unit:      "mg",
	}
}

func TestNormalizer_Normalize_UnitConversion(t *testing.T) {
	n := NewNormalizer()

	rec, err := n.Normalize(testRecord())
	require.NoError(t, err)
	assert.InDelta(t, 0.25, rec.Value, 1e-9)
	assert.Equal(t, "g", rec.Unit)
}

func TestNormalizer_Normalize_Idempotent(t *testing.T) {
	n := NewNormalizer()

	once, err := n.Normalize(testRecord())
	require.NoError(t, err)

	twice, err := n.Normalize(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestNormalizer_Normalize_CanonicalMetric(t *testing.T) {
	n := NewNormalizer()

	rec, err := n.Normalize(testRecord())
	require.NoError(t, err)
	assert.Equal(t, "glucoselevel", rec.Metric)
}

func TestNormalizer_Normalize_TimestampUTC(t *testing.T) {
	n := NewNormalizer()

	rec, err := n.Normalize(testRecord())
	require.NoError(t, err)
	assert.Equal(t, time.UTC, rec.Timestamp.Location())
	assert.Equal(t, time.Date(2025, 3, 14, 8, 30, 0, 123000000, time.UTC), rec.Timestamp)
}

func TestNormalizer_Normalize_UnknownUnitKept(t *testing.T) {
	n := NewNormalizer()

	rec := testRecord()
	rec.Unit = " PPM "

	out, err := n.Normalize(rec)
	require.NoError(t, err)
	assert.Equal(t, "ppm", out.Unit)
	assert.Equal(t, 250.0, out.Value)
}

func TestNormalizer_Normalize_NegativeValueRejected(t *testing.T) {
	n := NewNormalizer()

	rec := testRecord()
	rec.Value = -1
	rec.Unit = ""

	_, err := n.Normalize(rec)
	require.Error(t, err)
	assert.True(t, errors.IsTransform(err))
	assert.True(t, errors.IsPermanent(err))
}

func TestNormalizer_Normalize_NonFiniteValueRejected(t *testing.T) {
	n := NewNormalizer()

	for _, value := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		rec := testRecord()
		rec.Value = value

		_, err := n.Normalize(rec)
		require.Error(t, err)
		assert.True(t, errors.IsTransform(err))
	}
}

func TestNormalizer_Normalize_ZeroTimestampRejected(t *testing.T) {
	n := NewNormalizer()

	rec := testRecord()
	rec.Timestamp = time.Time{}

	_, err := n.Normalize(rec)
	require.Error(t, err)
	assert.True(t, errors.IsTransform(err))
}

func TestNormalizer_Normalize_FarFutureTimestampRejected(t *testing.T) {
	n := NewNormalizer()

	rec := testRecord()
	rec.Timestamp = time.Now().UTC().Add(48 * time.Hour)

	_, err := n.Normalize(rec)
	require.Error(t, err)
	assert.True(t, errors.IsTransform(err))
}

func TestNormalizer_Normalize_CustomBounds(t *testing.T) {
	n := NewNormalizerWithBounds(-100, 100)

	rec := testRecord()
	rec.Value = -40
	rec.Unit = ""

	out, err := n.Normalize(rec)
	require.NoError(t, err)
	assert.Equal(t, -40.0, out.Value)
}
