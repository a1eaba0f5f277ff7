// Package bridge implements the three sample-source bridge variants of §4.2: an in-process
// Direct bridge over a local SampleStore, an HTTP bridge guarded by a circuit breaker, and a
// TTL-caching decorator that wraps either.
package bridge

import (
	"context"
	"fmt"

	"github.com/klabs/labelqueue/internal/core"
)

// Direct serves samples straight out of the local SampleStore/content map, used when the
// labeling queue owns its own sample content rather than fetching it from an external service.
type Direct struct {
	samples core.SampleStore
	content map[string]core.SampleDTO // sample_id -> content, populated out of band
}

func NewDirect(samples core.SampleStore, content map[string]core.SampleDTO) *Direct {
	if content == nil {
		content = make(map[string]core.SampleDTO)
	}
	return &Direct{samples: samples, content: content}
}

func (d *Direct) FetchSample(ctx context.Context, id string, opts core.FetchOptions) (core.SampleDTO, error) {
	dto, ok := d.content[id]
	if !ok {
		return core.SampleDTO{}, fmt.Errorf("sample %q: %w", id, core.ErrNotFound)
	}
	return dto, nil
}

func (d *Direct) FetchSamples(ctx context.Context, ids []string, opts core.FetchOptions) ([]core.SampleDTO, error) {
	out := make([]core.SampleDTO, 0, len(ids))
	for _, id := range ids {
		dto, err := d.FetchSample(ctx, id, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, dto)
	}
	return out, nil
}

func (d *Direct) VerifyExists(ctx context.Context, id string) (bool, error) {
	_, ok := d.content[id]
	return ok, nil
}

func (d *Direct) FetchVersion(ctx context.Context, id string) (string, error) {
	dto, ok := d.content[id]
	if !ok {
		return "", fmt.Errorf("sample %q: %w", id, core.ErrNotFound)
	}
	return dto.Version, nil
}
