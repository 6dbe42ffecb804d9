package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/labportal/labportal/internal/config"
	"github.com/labportal/labportal/internal/domain/results"
	"github.com/labportal/labportal/internal/domain/trends"
	"github.com/labportal/labportal/internal/platform/auth"
	"github.com/labportal/labportal/internal/platform/cache"
	"github.com/labportal/labportal/internal/platform/db"
	"github.com/labportal/labportal/internal/platform/labapi"
)

const (
	serviceSubject       = "labportal"
	serviceTokenLifetime = 5 * time.Minute
	purgeTimeout         = 30 * time.Second
)

// app holds the wired services shared by serve and the CLI commands.
type app struct {
	pool    *pgxpool.Pool
	store   cache.Store
	results *results.Service
	trends  *trends.Aggregator
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	store, pool, err := newCacheStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client := labapi.NewClient(cfg.BackendURL, cfg.BackendTimeout, logger,
		labapi.WithTokenProvider(tokenChain(cfg)),
	)
	fetcher := labapi.NewCachingFetcher(client, store, cfg.CacheTTL, logger)
	return wire(cfg, pool, store, fetcher, logger), nil
}

func wire(cfg *config.Config, pool *pgxpool.Pool, store cache.Store, upstream labapi.Upstream, logger zerolog.Logger) *app {
	compiler := results.NewCompiler(cfg.PageSize)
	return &app{
		pool:    pool,
		store:   store,
		results: results.NewService(compiler, upstream, upstream, logger.With().Str("component", "results").Logger()),
		trends:  trends.NewAggregator(compiler, upstream, upstream, cfg.TrendWindow, logger.With().Str("component", "trends").Logger()),
	}
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// newCacheStore selects the response cache backend. The pool is only opened
// for the postgres backend.
func newCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, *pgxpool.Pool, error) {
	switch cfg.CacheBackend {
	case config.CachePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, fmt.Errorf("connect response cache database: %w", err)
		}
		return cache.NewPGStore(pool), pool, nil
	case config.CacheNone:
		return cache.NopStore{}, nil, nil
	default:
		return cache.NewMemoryStore(), nil, nil
	}
}

// tokenChain prefers the caller's own bearer token, then the static
// backend token, then a minted service token.
func tokenChain(cfg *config.Config) auth.TokenProvider {
	chain := auth.ChainTokenProvider{auth.ForwardedTokenProvider{}}
	if cfg.BackendToken != "" {
		chain = append(chain, auth.StaticTokenProvider(cfg.BackendToken))
	}
	if cfg.ServiceTokenKey != "" {
		chain = append(chain, auth.NewServiceTokenProvider(
			[]byte(cfg.ServiceTokenKey), cfg.ServiceTokenIssuer, serviceSubject, serviceTokenLifetime,
		))
	}
	return chain
}

type sessionEvicter interface {
	EvictIdleSessions(maxIdle time.Duration) int
}

// startMaintenance schedules idle session eviction and expired cache purges.
func startMaintenance(schedule string, sessions sessionEvicter, store cache.Store, idle time.Duration, logger zerolog.Logger) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, maintenanceJob(sessions, store, idle, logger)); err != nil {
		return nil, fmt.Errorf("invalid MAINTENANCE_SCHEDULE %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}

func maintenanceJob(sessions sessionEvicter, store cache.Store, idle time.Duration, logger zerolog.Logger) func() {
	return func() {
		evicted := sessions.EvictIdleSessions(idle)

		ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
		defer cancel()
		purged, err := store.Purge(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("response cache purge failed")
			return
		}
		if evicted > 0 || purged > 0 {
			logger.Debug().Int("sessions_evicted", evicted).Int("cache_purged", purged).Msg("maintenance run")
		}
	}
}
