package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// queryer is the subset of pgxpool.Pool used by PGStore.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore keeps cache entries in the response_cache table so several
// instances can share them.
type PGStore struct {
	db queryer
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{db: pool}
}

func (s *PGStore) Get(ctx context.Context, key string) ([]byte, bool) {
	var data []byte
	err := s.db.QueryRow(ctx,
		`SELECT payload FROM response_cache WHERE cache_key = $1 AND expires_at > NOW()`, key,
	).Scan(&data)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (s *PGStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO response_cache (cache_key, payload, expires_at)
		VALUES ($1, $2, NOW() + make_interval(secs => $3))
		ON CONFLICT (cache_key) DO UPDATE
		SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at`,
		key, value, ttl.Seconds())
	if err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM response_cache WHERE cache_key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (s *PGStore) Purge(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM response_cache WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("purge cache: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// NopStore never stores anything. It backs CACHE_BACKEND=none.
type NopStore struct{}

func (NopStore) Get(context.Context, string) ([]byte, bool)               { return nil, false }
func (NopStore) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NopStore) Delete(context.Context, string) error                     { return nil }
func (NopStore) Purge(context.Context) (int, error)                       { return 0, nil }
