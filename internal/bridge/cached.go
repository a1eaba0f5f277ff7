package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/klabs/labelqueue/internal/core"
	"github.com/klabs/labelqueue/internal/infrastructure/cache"
)

// Cached decorates another SampleBridge with a TTL cache: a local LRU in front of a shared Redis
// cache, falling back to the underlying bridge (and degrading gracefully if Redis itself is
// unavailable) per §4.2's "cache" section.
type Cached struct {
	inner     core.SampleBridge
	redis     cache.Cache
	local     *lru.Cache[string, core.SampleDTO]
	ttl       time.Duration
	warmLimit int
	logger    *slog.Logger
}

func NewCached(inner core.SampleBridge, redisCache cache.Cache, ttl time.Duration, localSize, warmConcurrency int, logger *slog.Logger) (*Cached, error) {
	local, err := lru.New[string, core.SampleDTO](localSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if warmConcurrency <= 0 {
		warmConcurrency = 4
	}
	return &Cached{inner: inner, redis: redisCache, local: local, ttl: ttl, warmLimit: warmConcurrency, logger: logger}, nil
}

func cacheKey(id string) string { return "sample:" + id }

func (c *Cached) FetchSample(ctx context.Context, id string, opts core.FetchOptions) (core.SampleDTO, error) {
	if !opts.BypassCache {
		if dto, ok := c.local.Get(id); ok {
			return dto, nil
		}
		if c.redis != nil {
			var dto core.SampleDTO
			if err := c.redis.Get(ctx, cacheKey(id), &dto); err == nil {
				c.local.Add(id, dto)
				return dto, nil
			}
			// Redis miss or unavailable: fall through to the inner bridge. A down cache must
			// never block sample delivery.
		}
	}

	dto, err := c.inner.FetchSample(ctx, id, opts)
	if err != nil {
		return core.SampleDTO{}, err
	}

	c.local.Add(id, dto)
	if c.redis != nil {
		if setErr := c.redis.Set(ctx, cacheKey(id), dto, c.ttl); setErr != nil {
			c.logger.Warn("cache write failed, continuing uncached", "sample_id", id, "error", setErr)
		}
	}
	return dto, nil
}

func (c *Cached) FetchSamples(ctx context.Context, ids []string, opts core.FetchOptions) ([]core.SampleDTO, error) {
	out := make([]core.SampleDTO, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.warmLimit)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			dto, err := c.FetchSample(gctx, id, opts)
			if err != nil {
				return fmt.Errorf("sample %q: %w", id, err)
			}
			out[i] = dto
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// WarmCache prefetches ids into both cache tiers with bounded concurrency (§4.2 "warm_cache").
func (c *Cached) WarmCache(ctx context.Context, ids []string) error {
	_, err := c.FetchSamples(ctx, ids, core.FetchOptions{})
	return err
}

func (c *Cached) VerifyExists(ctx context.Context, id string) (bool, error) {
	if _, ok := c.local.Get(id); ok {
		return true, nil
	}
	return c.inner.VerifyExists(ctx, id)
}

func (c *Cached) FetchVersion(ctx context.Context, id string) (string, error) {
	if dto, ok := c.local.Get(id); ok {
		return dto.Version, nil
	}
	return c.inner.FetchVersion(ctx, id)
}
