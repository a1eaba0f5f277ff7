package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/klabs/labelqueue/internal/core"
	"github.com/klabs/labelqueue/internal/core/resilience"
)

// HTTP fetches samples from an external sample service over JSON, guarded by a CircuitBreaker
// and the teacher's generic exponential-backoff retry helper (§4.2).
type HTTP struct {
	baseURL string
	client  *http.Client
	breaker *CircuitBreaker
	retry   *resilience.RetryPolicy
}

func NewHTTP(baseURL string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTP{
		baseURL: baseURL,
		client:  client,
		breaker: NewCircuitBreaker(5, 10*time.Second, 30*time.Second),
		retry:   resilience.DefaultRetryPolicy(),
	}
}

// WithTelemetry attaches a measurement sink for circuit-breaker state transitions; returns h for
// chaining.
func (h *HTTP) WithTelemetry(t core.Telemetry) *HTTP {
	h.breaker.WithTelemetry(t)
	return h
}

func (h *HTTP) FetchSample(ctx context.Context, id string, opts core.FetchOptions) (core.SampleDTO, error) {
	result, err := resilience.WithRetryFunc(ctx, h.retry, func() (core.SampleDTO, error) {
		return h.doFetch(ctx, id)
	})
	return result, err
}

func (h *HTTP) doFetch(ctx context.Context, id string) (core.SampleDTO, error) {
	if !h.breaker.Allow() {
		return core.SampleDTO{}, core.ErrCircuitOpen
	}

	url := fmt.Sprintf("%s/samples/%s", h.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return core.SampleDTO{}, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.breaker.RecordFailure(time.Now())
		return core.SampleDTO{}, fmt.Errorf("%w: %v", core.ErrForgeUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		h.breaker.RecordSuccess()
		return core.SampleDTO{}, core.ErrNotFound
	}
	if resp.StatusCode >= 500 {
		h.breaker.RecordFailure(time.Now())
		return core.SampleDTO{}, fmt.Errorf("%w: status %d", core.ErrForgeUnavailable, resp.StatusCode)
	}

	var dto core.SampleDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		h.breaker.RecordFailure(time.Now())
		return core.SampleDTO{}, err
	}
	h.breaker.RecordSuccess()
	return dto, nil
}

func (h *HTTP) FetchSamples(ctx context.Context, ids []string, opts core.FetchOptions) ([]core.SampleDTO, error) {
	out := make([]core.SampleDTO, 0, len(ids))
	for _, id := range ids {
		dto, err := h.FetchSample(ctx, id, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, dto)
	}
	return out, nil
}

func (h *HTTP) VerifyExists(ctx context.Context, id string) (bool, error) {
	_, err := h.FetchSample(ctx, id, core.FetchOptions{})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (h *HTTP) FetchVersion(ctx context.Context, id string) (string, error) {
	if !h.breaker.Allow() {
		return "", core.ErrCircuitOpen
	}
	url := fmt.Sprintf("%s/samples/%s/version", h.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		h.breaker.RecordFailure(time.Now())
		return "", fmt.Errorf("%w: %v", core.ErrForgeUnavailable, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", err
	}
	h.breaker.RecordSuccess()
	return buf.String(), nil
}
