package labapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/labportal/labportal/internal/domain/results"
	"github.com/labportal/labportal/internal/domain/trends"
	"github.com/labportal/labportal/internal/platform/auth"
	"github.com/labportal/labportal/internal/platform/cache"
)

// Upstream is everything the caching layer can front.
type Upstream interface {
	results.Fetcher
	results.SummaryFetcher
	trends.CumulativeFetcher
}

// CachingFetcher serves responses from a cache.Store keyed by endpoint,
// principal and canonical query encoding. Entries hold the normalized
// response serialized to JSON and every hit decodes a fresh copy, so a
// caller can never mutate a stored entry. Concurrent identical misses share
// a single upstream call.
type CachingFetcher struct {
	upstream Upstream
	store    cache.Store
	ttl      time.Duration
	group    singleflight.Group
	logger   zerolog.Logger
}

func NewCachingFetcher(upstream Upstream, store cache.Store, ttl time.Duration, logger zerolog.Logger) *CachingFetcher {
	return &CachingFetcher{
		upstream: upstream,
		store:    store,
		ttl:      ttl,
		logger:   logger,
	}
}

func (f *CachingFetcher) FetchPage(ctx context.Context, q results.CompiledQuery) (*results.ResultPage, error) {
	return cached(ctx, f, cacheKey(ctx, "results", q.Encode()), func(ctx context.Context) (*results.ResultPage, error) {
		return f.upstream.FetchPage(ctx, q)
	})
}

func (f *CachingFetcher) FetchSummary(ctx context.Context, q results.CompiledQuery) (*results.Summary, error) {
	return cached(ctx, f, cacheKey(ctx, "summary", q.SummaryValues().Encode()), func(ctx context.Context) (*results.Summary, error) {
		return f.upstream.FetchSummary(ctx, q)
	})
}

func (f *CachingFetcher) FetchCumulative(ctx context.Context, reportID string) (*trends.Cumulative, error) {
	return cached(ctx, f, cacheKey(ctx, "cumulative", reportID), func(ctx context.Context) (*trends.Cumulative, error) {
		return f.upstream.FetchCumulative(ctx, reportID)
	})
}

// cacheKey scopes entries to the calling principal because the backend
// filters results by the forwarded identity.
func cacheKey(ctx context.Context, endpoint, encoded string) string {
	return endpoint + "|" + auth.UserIDFromContext(ctx) + "|" + encoded
}

// cached serves key from the store or loads it once for every concurrent
// caller. The shared load runs detached from the first caller's
// cancellation; each caller still stops waiting when its own ctx is done.
func cached[T any](ctx context.Context, f *CachingFetcher, key string, load func(ctx context.Context) (*T, error)) (*T, error) {
	if data, ok := f.store.Get(ctx, key); ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			return &v, nil
		}
		f.logger.Warn().Str("key", key).Msg("dropping undecodable cache entry")
		_ = f.store.Delete(ctx, key)
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := f.group.DoChan(key, func() (interface{}, error) {
		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if err := f.store.Set(loadCtx, key, data, f.ttl); err != nil {
			f.logger.Warn().Err(err).Str("key", key).Msg("failed to store cache entry")
		}
		return data, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		f.logger.Debug().Str("key", key).Msg("coalesced upstream fetch")
	}

	var v T
	if err := json.Unmarshal(res.Val.([]byte), &v); err != nil {
		return nil, err
	}
	return &v, nil
}
