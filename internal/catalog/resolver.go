package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sampleflow/internal/config"
	"sampleflow/internal/logger"
	"sampleflow/pkg/errors"
)

// Resolver maps a (source entity, metric name) pair to the variable_id the
// store keys measurements under.
type Resolver interface {
	Resolve(ctx context.Context, source, metric string) (string, error)
}

type variableEntry struct {
	VariableID    string `json:"variable_id"`
	EntityID      string `json:"entity_id"`
	OpcUaName     string `json:"opc_ua_name"`
	Configuration struct {
		NodeMapping struct {
			SourceName string `json:"source_name"`
		} `json:"node_mapping"`
	} `json:"configuration"`
}

type variablesResponse struct {
	Result struct {
		Variables []variableEntry `json:"variables"`
	} `json:"result"`
}

// APIResolver queries the Entities API directly. Variables are matched by
// their node-mapping source name, falling back to the OPC UA name, the same
// precedence the entities service applies.
type APIResolver struct {
	client     *http.Client
	baseURL    string
	autoCreate bool
	logger     logger.Logger
}

func NewAPIResolver(cfg config.CatalogConfig, log logger.Logger) *APIResolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &APIResolver{
		client:     &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		autoCreate: cfg.AutoCreate,
		logger:     log,
	}
}

func (r *APIResolver) Resolve(ctx context.Context, source, metric string) (string, error) {
	variables, err := r.fetchVariables(ctx, source)
	if err != nil {
		return "", err
	}

	want := canonicalName(metric)
	for _, v := range variables {
		name := v.Configuration.NodeMapping.SourceName
		if name == "" {
			name = v.OpcUaName
		}
		if canonicalName(name) == want && strings.TrimSpace(v.VariableID) != "" {
			return strings.TrimSpace(v.VariableID), nil
		}
	}

	if r.autoCreate {
		return r.createVariable(ctx, source, metric)
	}

	return "", errors.NewTransformError("metric",
		fmt.Sprintf("no variable defined for metric %q on entity %q", metric, source))
}

func (r *APIResolver) fetchVariables(ctx context.Context, source string) ([]variableEntry, error) {
	url := fmt.Sprintf("%s/entities/%s/variables", r.baseURL, source)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrStoreUnavailable.AsRetryable())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.NewTransformError("source",
			fmt.Sprintf("entity %q does not exist", source))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Wrap(
			fmt.Errorf("entities api returned status %d", resp.StatusCode),
			errors.ErrStoreUnavailable.AsRetryable(),
		)
	}

	var parsed variablesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, errors.ErrStoreUnavailable.AsRetryable())
	}

	return parsed.Result.Variables, nil
}

func (r *APIResolver) createVariable(ctx context.Context, source, metric string) (string, error) {
	body := map[string]interface{}{
		"type":               "DATALOGGER",
		"variable_type_name": "DB_PARAM",
		"configuration": map[string]interface{}{
			"description":   metric,
			"readable_name": metric,
			"node_mapping": map[string]interface{}{
				"source_name": metric,
				"type":        "string to float",
				"unit":        "float",
			},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/entities/%s/variables", r.baseURL, source)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrStoreUnavailable.AsRetryable())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.Wrap(
			fmt.Errorf("variable creation returned status %d", resp.StatusCode),
			errors.ErrStoreUnavailable.AsRetryable(),
		)
	}

	var created struct {
		Result struct {
			VariableID string `json:"variable_id"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", errors.Wrap(err, errors.ErrStoreUnavailable.AsRetryable())
	}

	if created.Result.VariableID == "" {
		return "", errors.NewTransformError("metric", "variable creation returned no id")
	}

	r.logger.InfowCtx(ctx, "Created catalog variable",
		"source", source,
		"metric", metric,
		"variable_id", created.Result.VariableID,
	)

	return created.Result.VariableID, nil
}

func canonicalName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "")
}
