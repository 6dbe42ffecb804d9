package results

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Fetcher issues one backend request for one compiled query.
type Fetcher interface {
	FetchPage(ctx context.Context, q CompiledQuery) (*ResultPage, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, q CompiledQuery) (*ResultPage, error)

func (f FetcherFunc) FetchPage(ctx context.Context, q CompiledQuery) (*ResultPage, error) {
	return f(ctx, q)
}

// SessionState is the pagination state machine position.
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateFetching  SessionState = "fetching"
	StateHasMore   SessionState = "has_more"
	StateExhausted SessionState = "exhausted"
)

// LoadOutcome describes what a LoadNextPage call did.
type LoadOutcome string

const (
	OutcomeLoaded    LoadOutcome = "loaded"
	OutcomeExhausted LoadOutcome = "exhausted"
	OutcomeInFlight  LoadOutcome = "in_flight"
	OutcomeStale     LoadOutcome = "stale"
)

// Snapshot is a point-in-time copy of a session's public state.
type Snapshot struct {
	State       SessionState   `json:"state"`
	HasMore     bool           `json:"has_more"`
	Page        int            `json:"page"`
	PageSize    int            `json:"page_size"`
	TotalLoaded int            `json:"total_loaded"`
	TotalCount  *int           `json:"total_count,omitempty"`
	Items       []ResultRecord `json:"items"`
}

// Session is one logical infinite-list over a single CompiledQuery. At most
// one page fetch is outstanding at a time; the page size is fixed for the
// lifetime of the session.
type Session struct {
	fetcher Fetcher
	logger  zerolog.Logger

	mu          sync.Mutex
	query       CompiledQuery
	generation  uint64
	state       SessionState
	cursor      int
	inFlight    bool
	totalLoaded int
	totalCount  *int
	items       []ResultRecord
	seen        map[string]struct{}
	lastUsed    time.Time
}

// NewSession starts a session at Idle for the given query. The query's page
// size becomes the session's fixed page size.
func NewSession(fetcher Fetcher, q CompiledQuery, logger zerolog.Logger) (*Session, error) {
	if q.PageSize <= 0 {
		return nil, ErrInvalidPageSize
	}
	s := &Session{fetcher: fetcher, logger: logger}
	s.resetLocked(q)
	return s, nil
}

// Reset discards all accumulated pages and restarts at Idle with a new query.
// The page size of the session is kept regardless of q.PageSize. Any fetch
// still in flight is discarded when it arrives.
func (s *Session) Reset(q CompiledQuery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q.PageSize = s.query.PageSize
	s.resetLocked(q)
}

func (s *Session) resetLocked(q CompiledQuery) {
	s.query = q.WithPage(1)
	s.generation++
	s.state = StateIdle
	s.cursor = 0
	s.inFlight = false
	s.totalLoaded = 0
	s.totalCount = nil
	s.items = nil
	s.seen = make(map[string]struct{})
	s.lastUsed = time.Now()
}

// LoadNextPage fetches the page after the last one loaded. It is a no-op when
// the session is exhausted or a fetch is already in flight.
func (s *Session) LoadNextPage(ctx context.Context) (LoadOutcome, error) {
	s.mu.Lock()
	s.lastUsed = time.Now()
	if s.state == StateExhausted {
		s.mu.Unlock()
		return OutcomeExhausted, nil
	}
	if s.inFlight {
		s.mu.Unlock()
		return OutcomeInFlight, nil
	}
	gen := s.generation
	prev := s.state
	q := s.query.WithPage(s.cursor + 1)
	s.inFlight = true
	s.state = StateFetching
	s.mu.Unlock()

	page, err := s.fetcher.FetchPage(ctx, q)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.logger.Debug().Int("page", q.Page()).Msg("discarding response for superseded query")
		return OutcomeStale, nil
	}
	s.inFlight = false
	if err != nil {
		s.state = prev
		return "", err
	}

	s.cursor = q.Page()
	s.totalLoaded += page.ItemsReturned
	s.totalCount = page.TotalCount
	for _, r := range page.Records {
		if _, dup := s.seen[r.ID]; dup && r.ID != "" {
			continue
		}
		s.seen[r.ID] = struct{}{}
		s.items = append(s.items, r)
	}

	if hasMore(s.totalLoaded, page) {
		s.state = StateHasMore
	} else {
		s.state = StateExhausted
	}

	s.logger.Debug().
		Int("page", s.cursor).
		Int("items_returned", page.ItemsReturned).
		Int("total_loaded", s.totalLoaded).
		Str("state", string(s.state)).
		Msg("result page loaded")

	return OutcomeLoaded, nil
}

// hasMore applies the continuation rule. A short page always ends the
// session; a known total only ends it early.
func hasMore(totalLoaded int, page *ResultPage) bool {
	if page.Incomplete() {
		return false
	}
	if page.TotalCount != nil {
		return totalLoaded < *page.TotalCount
	}
	return true
}

// HasMore applies the continuation rule to a page fetched outside a
// session, assuming every earlier page was full.
func (p *ResultPage) HasMore() bool {
	page := p.Page
	if page < 1 {
		page = 1
	}
	return hasMore((page-1)*p.RequestedPageSize+p.ItemsReturned, p)
}

// CurrentItems returns a copy of the records accumulated so far.
func (s *Session) CurrentItems() []ResultRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ResultRecord, len(s.items))
	copy(out, s.items)
	return out
}

// State returns the current state machine position.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HasMore reports whether another LoadNextPage may yield records.
func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateExhausted
}

// Query returns the session's base query (page 1).
func (s *Session) Query() CompiledQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query.clone()
}

// Snapshot returns a consistent copy of the session state and items.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]ResultRecord, len(s.items))
	copy(items, s.items)
	snap := Snapshot{
		State:       s.state,
		HasMore:     s.state != StateExhausted,
		Page:        s.cursor,
		PageSize:    s.query.PageSize,
		TotalLoaded: s.totalLoaded,
		Items:       items,
	}
	if s.totalCount != nil {
		tc := *s.totalCount
		snap.TotalCount = &tc
	}
	return snap
}

// idleSince reports when the session was last touched.
func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}
