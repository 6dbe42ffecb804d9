package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/labportal/labportal/internal/config"
	"github.com/labportal/labportal/internal/domain/results"
	"github.com/labportal/labportal/internal/domain/trends"
	"github.com/labportal/labportal/internal/platform/auth"
	"github.com/labportal/labportal/internal/platform/cache"
	"github.com/labportal/labportal/internal/platform/db"
)

// fakeUpstream serves total records in pages of the requested size.
type fakeUpstream struct {
	total int
}

func (u *fakeUpstream) FetchPage(_ context.Context, q results.CompiledQuery) (*results.ResultPage, error) {
	start := (q.Page() - 1) * q.PageSize
	var recs []results.ResultRecord
	for i := start; i < start+q.PageSize && i < u.total; i++ {
		recs = append(recs, results.ResultRecord{
			ID:         fmt.Sprintf("r-%d", i+1),
			PatientID:  "p-1",
			ReportDate: time.Date(2024, 3, 1+i, 8, 0, 0, 0, time.UTC),
		})
	}
	return &results.ResultPage{
		Records:           recs,
		Page:              q.Page(),
		RequestedPageSize: q.PageSize,
		ItemsReturned:     len(recs),
	}, nil
}

func (u *fakeUpstream) FetchSummary(context.Context, results.CompiledQuery) (*results.Summary, error) {
	n := u.total
	return &results.Summary{Total: &n}, nil
}

func (u *fakeUpstream) FetchCumulative(_ context.Context, reportID string) (*trends.Cumulative, error) {
	v := 5.0
	return &trends.Cumulative{
		Catalog: []trends.TestMeta{{Code: "HB", Name: "Hemoglobin", Unit: "g/dl"}},
		Reports: []trends.CumulativeReport{{
			ReportID:   reportID,
			ReportDate: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
			Values:     map[string]trends.CumulativeValue{"HB": {Value: &v}},
		}},
	}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Env:            "development",
		BackendURL:     "http://lab.test",
		BackendTimeout: time.Second,
		PageSize:       2,
		TrendWindow:    20,
		CacheBackend:   config.CacheMemory,
		CacheTTL:       time.Minute,
		SessionIdleTTL: time.Minute,
		CORSOrigins:    []string{"http://localhost:3000"},
	}
}

func testSession(t *testing.T, total, pageSize int) *results.Session {
	t.Helper()
	q, err := results.NewCompiler(pageSize).Compile(results.FilterSpec{}, "", results.PageCursor{Page: 1})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	sess, err := results.NewSession(&fakeUpstream{total: total}, q, zerolog.Nop())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return sess
}

func TestDrainSession_UntilExhausted(t *testing.T) {
	var out bytes.Buffer
	pages, err := drainSession(context.Background(), testSession(t, 5, 2), 0, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pages != 3 {
		t.Errorf("expected 3 pages, got %d", pages)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 JSON lines, got %d: %q", len(lines), out.String())
	}
	var rec results.ResultRecord
	if err := json.Unmarshal([]byte(lines[4]), &rec); err != nil || rec.ID != "r-5" {
		t.Errorf("expected last record r-5, got %+v (%v)", rec, err)
	}
}

func TestDrainSession_MaxPages(t *testing.T) {
	var out bytes.Buffer
	pages, err := drainSession(context.Background(), testSession(t, 10, 2), 2, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pages != 2 {
		t.Errorf("expected 2 pages, got %d", pages)
	}
	if n := strings.Count(out.String(), "\n"); n != 4 {
		t.Errorf("expected 4 records, got %d", n)
	}
}

func TestDrainSession_ExactMultipleNeedsTrailingFetch(t *testing.T) {
	var out bytes.Buffer
	pages, err := drainSession(context.Background(), testSession(t, 4, 2), 0, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Without a total the empty third page is what proves exhaustion.
	if pages != 3 {
		t.Errorf("expected 3 pages, got %d", pages)
	}
	if n := strings.Count(out.String(), "\n"); n != 4 {
		t.Errorf("expected 4 records, got %d", n)
	}
}

func TestDrainSession_Error(t *testing.T) {
	q, _ := results.NewCompiler(2).Compile(results.FilterSpec{}, "", results.PageCursor{Page: 1})
	fail := results.FetcherFunc(func(context.Context, results.CompiledQuery) (*results.ResultPage, error) {
		return nil, &results.FetchError{Status: http.StatusBadGateway, Message: "down"}
	})
	sess, err := results.NewSession(fail, q, zerolog.Nop())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := drainSession(context.Background(), sess, 0, &bytes.Buffer{}); err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestResultsFlags_FilterRequest(t *testing.T) {
	f := &resultsFlags{dateFrom: "2024-01-02"}
	req, err := f.filterRequest()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.DateFrom == nil || !req.DateFrom.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected date_from: %v", req.DateFrom)
	}
	if req.DateTo != nil {
		t.Errorf("expected nil date_to, got %v", req.DateTo)
	}

	f.dateTo = "02/01/2024"
	if _, err := f.filterRequest(); err == nil {
		t.Error("expected error for malformed --to")
	}
}

func TestNewCacheStore(t *testing.T) {
	cfg := testConfig()

	store, pool, err := newCacheStore(context.Background(), cfg)
	if err != nil || pool != nil {
		t.Fatalf("memory: unexpected pool=%v err=%v", pool, err)
	}
	if _, ok := store.(*cache.MemoryStore); !ok {
		t.Errorf("expected *cache.MemoryStore, got %T", store)
	}

	cfg.CacheBackend = config.CacheNone
	store, _, _ = newCacheStore(context.Background(), cfg)
	if _, ok := store.(cache.NopStore); !ok {
		t.Errorf("expected cache.NopStore, got %T", store)
	}
}

func TestTokenChain(t *testing.T) {
	cfg := testConfig()

	if _, err := tokenChain(cfg).Token(context.Background()); !errors.Is(err, auth.ErrNoToken) {
		t.Errorf("expected ErrNoToken with no credentials, got %v", err)
	}

	cfg.BackendToken = "static-token"
	cfg.ServiceTokenKey = "service-key"
	chain := tokenChain(cfg)
	tok, err := chain.Token(context.Background())
	if err != nil || tok != "static-token" {
		t.Errorf("expected static token before service token, got %q %v", tok, err)
	}

	ctx := context.WithValue(context.Background(), auth.BearerKey, "caller-token")
	if tok, _ := chain.Token(ctx); tok != "caller-token" {
		t.Errorf("expected forwarded caller token first, got %q", tok)
	}

	cfg.BackendToken = ""
	tok, err = tokenChain(cfg).Token(context.Background())
	if err != nil || tok == "" || strings.Count(tok, ".") != 2 {
		t.Errorf("expected minted JWT, got %q %v", tok, err)
	}
}

type countingEvicter struct{ calls int }

func (e *countingEvicter) EvictIdleSessions(time.Duration) int {
	e.calls++
	return 1
}

type failingPurge struct{ cache.NopStore }

func (failingPurge) Purge(context.Context) (int, error) { return 0, errors.New("db down") }

func TestMaintenanceJob(t *testing.T) {
	store := cache.NewMemoryStore()
	_ = store.Set(context.Background(), "k", []byte("v"), time.Nanosecond)
	time.Sleep(time.Millisecond)

	ev := &countingEvicter{}
	maintenanceJob(ev, store, time.Minute, zerolog.Nop())()
	if ev.calls != 1 {
		t.Errorf("expected one eviction pass, got %d", ev.calls)
	}
	if store.Len() != 0 {
		t.Errorf("expected expired entry purged, %d left", store.Len())
	}

	// A purge failure must not panic or skip eviction.
	maintenanceJob(ev, failingPurge{}, time.Minute, zerolog.Nop())()
	if ev.calls != 2 {
		t.Errorf("expected eviction despite purge failure, got %d", ev.calls)
	}
}

func TestStartMaintenance_InvalidSchedule(t *testing.T) {
	if _, err := startMaintenance("every now and then", &countingEvicter{}, cache.NopStore{}, time.Minute, zerolog.Nop()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	c, err := startMaintenance("@every 1h", &countingEvicter{}, cache.NopStore{}, time.Minute, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Stop()
}

func newTestServer(t *testing.T, total int) http.Handler {
	t.Helper()
	cfg := testConfig()
	a := wire(cfg, nil, cache.NewMemoryStore(), &fakeUpstream{total: total}, zerolog.Nop())
	return newServer(cfg, a, zerolog.Nop())
}

func TestServer_Health(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(t, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestServer_ListResults(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(t, 3).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/results?page=1&page_size=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data    []results.ResultRecord `json:"data"`
		HasMore bool                   `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(body.Data) != 2 || !body.HasMore {
		t.Errorf("expected 2 records with more, got %d has_more=%v", len(body.Data), body.HasMore)
	}
}

func TestServer_SessionFlow(t *testing.T) {
	srv := newTestServer(t, 3)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/result-sessions", strings.NewReader(`{"page_size":2}`))
	req.Header.Set("Content-Type", "application/json")
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/result-sessions/"+created.ID+"/next", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var snap struct {
		State       string `json:"state"`
		TotalLoaded int    `json:"total_loaded"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &snap)
	if snap.State != string(results.StateExhausted) || snap.TotalLoaded != 3 {
		t.Errorf("expected exhausted with 3 loaded, got %+v", snap)
	}
}

func TestServer_Trends(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(t, 1).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/patients/p-1/trends", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body trends.Trends
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if s := body.TrendData["HB"]; s == nil || len(s.Points) != 1 {
		t.Errorf("expected one HB point, got %+v", body.TrendData)
	}
}

func TestPrintStatus(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	printStatus(&out, []db.MigrationStatus{
		{Version: 1, Name: "001_response_cache.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_next.sql"},
	})
	s := out.String()
	if !strings.Contains(s, "applied    2024-03-01 12:00:00") || !strings.Contains(s, "pending") {
		t.Errorf("unexpected status output:\n%s", s)
	}
}
