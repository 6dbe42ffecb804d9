package results

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service ties the compiler, page fetcher, sessions and counters together.
type Service struct {
	compiler   *Compiler
	fetcher    Fetcher
	reconciler *Reconciler
	sessions   *SessionStore
	logger     zerolog.Logger
}

func NewService(compiler *Compiler, fetcher Fetcher, summaries SummaryFetcher, logger zerolog.Logger) *Service {
	return &Service{
		compiler:   compiler,
		fetcher:    fetcher,
		reconciler: NewReconciler(summaries, logger),
		sessions:   NewSessionStore(),
		logger:     logger,
	}
}

// Compiler returns the service's FilterSpec compiler.
func (s *Service) Compiler() *Compiler {
	return s.compiler
}

// Fetcher returns the page fetcher backing new sessions.
func (s *Service) Fetcher() Fetcher {
	return s.fetcher
}

// FetchPage compiles and fetches a single page without opening a session.
func (s *Service) FetchPage(ctx context.Context, filter FilterSpec, period PeriodSelector, cursor PageCursor) (*ResultPage, error) {
	q, err := s.compiler.Compile(filter, period, cursor)
	if err != nil {
		return nil, err
	}
	return s.fetcher.FetchPage(ctx, q)
}

// OpenSession compiles the filter, registers a new session for owner and
// loads its first page. A pageSize of zero uses the compiler default; the
// chosen size is fixed for the session's lifetime.
func (s *Service) OpenSession(ctx context.Context, owner string, filter FilterSpec, period PeriodSelector, pageSize int) (uuid.UUID, Snapshot, error) {
	q, err := s.compiler.Compile(filter, period, PageCursor{Page: 1, Size: pageSize})
	if err != nil {
		return uuid.Nil, Snapshot{}, err
	}
	sess, err := NewSession(s.fetcher, q, s.logger)
	if err != nil {
		return uuid.Nil, Snapshot{}, err
	}
	if _, err := sess.LoadNextPage(ctx); err != nil {
		return uuid.Nil, Snapshot{}, err
	}
	id := s.sessions.Put(owner, sess)
	s.logger.Debug().Str("session_id", id.String()).Str("owner", owner).Msg("result session opened")
	return id, sess.Snapshot(), nil
}

// Session returns a snapshot of an existing session.
func (s *Service) Session(owner string, id uuid.UUID) (Snapshot, error) {
	sess, err := s.sessions.Get(owner, id)
	if err != nil {
		return Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// LoadNext advances the session by one page.
func (s *Service) LoadNext(ctx context.Context, owner string, id uuid.UUID) (LoadOutcome, Snapshot, error) {
	sess, err := s.sessions.Get(owner, id)
	if err != nil {
		return "", Snapshot{}, err
	}
	outcome, err := sess.LoadNextPage(ctx)
	if err != nil {
		return "", Snapshot{}, err
	}
	return outcome, sess.Snapshot(), nil
}

// ResetSession replaces the session's query and reloads page one. The
// session keeps its original page size.
func (s *Service) ResetSession(ctx context.Context, owner string, id uuid.UUID, filter FilterSpec, period PeriodSelector) (Snapshot, error) {
	sess, err := s.sessions.Get(owner, id)
	if err != nil {
		return Snapshot{}, err
	}
	q, err := s.compiler.Compile(filter, period, PageCursor{Page: 1})
	if err != nil {
		return Snapshot{}, err
	}
	sess.Reset(q)
	if _, err := sess.LoadNextPage(ctx); err != nil {
		return Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// CloseSession drops a session.
func (s *Service) CloseSession(owner string, id uuid.UUID) error {
	return s.sessions.Delete(owner, id)
}

// Counters resolves category counters for period, using loaded as the
// client-side fallback source.
func (s *Service) Counters(ctx context.Context, period PeriodSelector, loaded []ResultRecord) (CategoryCounters, error) {
	q, err := s.compiler.Compile(FilterSpec{}, period, PageCursor{Page: 1})
	if err != nil {
		return CategoryCounters{}, err
	}
	return s.reconciler.Counters(ctx, q, loaded), nil
}

// SessionCounters resolves category counters scoped to the session's own
// query, so archived sessions and date-bounded filters are summarized
// against the same parameters as the listing.
func (s *Service) SessionCounters(ctx context.Context, owner string, id uuid.UUID) (CategoryCounters, error) {
	sess, err := s.sessions.Get(owner, id)
	if err != nil {
		return CategoryCounters{}, err
	}
	return s.reconciler.Counters(ctx, sess.Query(), sess.CurrentItems()), nil
}

// EvictIdleSessions drops sessions idle for longer than maxIdle.
func (s *Service) EvictIdleSessions(maxIdle time.Duration) int {
	n := s.sessions.EvictIdle(time.Now(), maxIdle)
	if n > 0 {
		s.logger.Info().Int("evicted", n).Msg("evicted idle result sessions")
	}
	return n
}
