package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sampleflow/internal/constants"
	"sampleflow/pkg/errors"
	"sampleflow/pkg/models"
)

// Field aliases tolerated on the wire. Upstream producers have historically
// published Spanish column names, so both spellings are accepted.
var (
	dateFields   = []string{"timestamp", "fecha", "date"}
	valueFields  = []string{"value", "valor"}
	metricFields = []string{"metric", "variable"}
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"02/01/2006",
	"2006/01/02",
}

// DecodeEnvelope parses the raw broker payload into a message envelope.
// Failure here is permanent: the bytes will not become valid JSON on retry.
func DecodeEnvelope(raw []byte) (models.MessageEnvelope, error) {
	var env models.MessageEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.MessageEnvelope{}, errors.NewValidationError("payload", fmt.Sprintf("invalid JSON: %v", err))
	}
	return env, nil
}

// Validator builds a typed SampleRecord from an envelope. It is
// side-effect-free; all failures are ValidationErrors.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) Validate(env models.MessageEnvelope) (models.SampleRecord, error) {
	sampleID := strings.TrimSpace(env.SampleID)
	if sampleID == "" {
		if raw, ok := env.Payload["sample_id"]; ok {
			sampleID = strings.TrimSpace(fmt.Sprintf("%v", raw))
		}
	}
	if sampleID == "" {
		return models.SampleRecord{}, errors.NewValidationError("sample_id", "must be non-empty")
	}

	schemaVersion := strings.TrimSpace(env.SchemaVersion)
	if schemaVersion == "" {
		schemaVersion = constants.SchemaVersion1
	}

	ts, field, err := v.parseTimestamp(env)
	if err != nil {
		return models.SampleRecord{}, err
	}

	value, err := v.parseValue(env.Payload)
	if err != nil {
		return models.SampleRecord{}, err
	}

	metric := firstString(env.Payload, metricFields)
	variableID := firstString(env.Payload, []string{"variable_id"})
	if metric == "" && variableID == "" {
		return models.SampleRecord{}, errors.NewValidationError("metric", "either metric or variable_id is required")
	}

	unit := firstString(env.Payload, []string{"unit"})

	attrs := make(map[string]interface{})
	for k, val := range env.Payload {
		if isReserved(k, field) {
			continue
		}
		attrs[k] = val
	}
	if len(attrs) == 0 {
		attrs = nil
	}

	return models.SampleRecord{
		SampleID:      sampleID,
		VariableID:    variableID,
		Metric:        metric,
		Timestamp:     ts,
		Value:         value,
		Unit:          unit,
		Source:        env.Source,
		SchemaVersion: schemaVersion,
		Attributes:    attrs,
	}, nil
}

func (v *Validator) parseTimestamp(env models.MessageEnvelope) (time.Time, string, error) {
	if !env.Timestamp.IsZero() {
		return env.Timestamp, "", nil
	}

	for _, field := range dateFields {
		raw, ok := env.Payload[field]
		if !ok {
			continue
		}

		text := strings.TrimSpace(fmt.Sprintf("%v", raw))
		if text == "" {
			continue
		}

		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, text); err == nil {
				return ts, field, nil
			}
		}
		return time.Time{}, field, errors.NewValidationError(field, fmt.Sprintf("unrecognized date format %q", text))
	}

	return time.Time{}, "", errors.NewValidationError("timestamp", "no timestamp or date field present")
}

func (v *Validator) parseValue(payload map[string]interface{}) (float64, error) {
	for _, field := range valueFields {
		raw, ok := payload[field]
		if !ok {
			continue
		}

		switch n := raw.(type) {
		case float64:
			return n, nil
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return 0, errors.NewValidationError(field, fmt.Sprintf("not a number: %v", raw))
			}
			return f, nil
		case string:
			// Comma decimals show up in exported CSV data.
			text := strings.TrimSpace(strings.ReplaceAll(n, ",", "."))
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return 0, errors.NewValidationError(field, fmt.Sprintf("not a number: %q", n))
			}
			return f, nil
		default:
			return 0, errors.NewValidationError(field, fmt.Sprintf("unsupported value type %T", raw))
		}
	}

	return 0, errors.NewValidationError("value", "no value field present")
}

func firstString(payload map[string]interface{}, fields []string) string {
	for _, field := range fields {
		if raw, ok := payload[field]; ok {
			if s, ok := raw.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func isReserved(key, dateField string) bool {
	if key == dateField || key == "sample_id" || key == "variable_id" || key == "unit" {
		return true
	}
	for _, f := range dateFields {
		if key == f {
			return true
		}
	}
	for _, f := range valueFields {
		if key == f {
			return true
		}
	}
	for _, f := range metricFields {
		if key == f {
			return true
		}
	}
	return false
}
