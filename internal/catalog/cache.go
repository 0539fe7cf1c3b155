package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sampleflow/internal/constants"
	"sampleflow/internal/logger"
	"sampleflow/pkg/errors"
	"sampleflow/pkg/metrics"
)

// CachedResolver fronts another resolver with a Redis cache. Mappings change
// rarely, so a short TTL removes nearly all Entities API traffic from the
// hot path. Cache failures degrade to the inner resolver, never to a
// message failure.
type CachedResolver struct {
	inner  Resolver
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedResolver(inner Resolver, client *redis.Client, ttl time.Duration, log logger.Logger) *CachedResolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedResolver{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: log,
	}
}

func (r *CachedResolver) Resolve(ctx context.Context, source, metric string) (string, error) {
	key := fmt.Sprintf("%s%s:%s", constants.CatalogCacheKeyPrefix, source, canonicalName(metric))

	cached, err := r.client.Get(ctx, key).Result()
	if err == nil && cached != "" {
		metrics.CatalogLookupsTotal.WithLabelValues("cache_hit").Inc()
		return cached, nil
	}
	if err != nil && err != redis.Nil {
		r.logger.DebugwCtx(ctx, "Catalog cache read failed, falling through",
			"error", err,
		)
	}

	variableID, err := r.inner.Resolve(ctx, source, metric)
	if err != nil {
		if errors.IsPermanent(err) {
			metrics.CatalogLookupsTotal.WithLabelValues("miss").Inc()
		} else {
			metrics.CatalogLookupsTotal.WithLabelValues("error").Inc()
		}
		return "", err
	}

	metrics.CatalogLookupsTotal.WithLabelValues("resolved").Inc()

	if err := r.client.Set(ctx, key, variableID, r.ttl).Err(); err != nil {
		r.logger.DebugwCtx(ctx, "Catalog cache write failed",
			"error", err,
		)
	}

	return variableID, nil
}
