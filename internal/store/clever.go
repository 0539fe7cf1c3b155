package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"sampleflow/internal/config"
	"sampleflow/internal/logger"
	"sampleflow/pkg/metrics"
	"sampleflow/pkg/models"
)

// CleverWriter upserts normalized samples into the Clever samples API, one
// PUT per record keyed by sample_id. The limiter throttles the whole worker
// pool so a burst of redeliveries cannot trip the store's rate limits.
type CleverWriter struct {
	client  *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	logger  logger.Logger
}

func NewCleverWriter(cfg config.StoreConfig, log logger.Logger) *CleverWriter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit.Enabled {
		burst := cfg.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), burst)
	}

	return &CleverWriter{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		limiter: limiter,
		logger:  log,
	}
}

func (w *CleverWriter) Write(ctx context.Context, rec models.SampleRecord) Outcome {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return Retryable("rate limiter wait canceled", err)
		}
	}

	start := time.Now()
	outcome := w.write(ctx, rec)
	metrics.ObserveStoreWrite(time.Since(start), outcome.Kind.String())
	return outcome
}

func (w *CleverWriter) write(ctx context.Context, rec models.SampleRecord) Outcome {
	body := models.UpsertBody{
		Timestamp:  rec.Timestamp.UnixMilli(),
		Value:      strconv.FormatFloat(rec.Value, 'f', -1, 64),
		VariableID: rec.VariableID,
		Categoric:  false,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Permanent("failed to encode upsert body", err)
	}

	url := fmt.Sprintf("%s/samples/%s", w.baseURL, rec.SampleID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return Permanent("failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		// Transport errors and client timeouts are transient by definition.
		return Retryable("store request failed", err)
	}
	defer resp.Body.Close()

	return w.classify(resp)
}

func (w *CleverWriter) classify(resp *http.Response) Outcome {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Success()
	}

	snippet := readSnippet(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		out := Retryable(fmt.Sprintf("store rate limited: %s", snippet), nil)
		out.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return out
	case resp.StatusCode == http.StatusRequestTimeout:
		return Retryable(fmt.Sprintf("store timeout: %s", snippet), nil)
	case resp.StatusCode >= 500:
		return Retryable(fmt.Sprintf("store returned %d: %s", resp.StatusCode, snippet), nil)
	default:
		// Remaining 4xx: the store rejected this record and always will.
		return Permanent(fmt.Sprintf("store rejected with %d: %s", resp.StatusCode, snippet), nil)
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

func readSnippet(r io.Reader) string {
	buf, err := io.ReadAll(io.LimitReader(r, 256))
	if err != nil {
		return ""
	}
	return string(buf)
}
