package results

import (
	"context"

	"github.com/rs/zerolog"
)

// CounterSource records where a counter value came from.
type CounterSource string

const (
	SourceServer CounterSource = "server"
	SourceClient CounterSource = "client"
)

// Counter is a single reconciled count with its provenance.
type Counter struct {
	Value  int           `json:"value"`
	Source CounterSource `json:"source"`
}

// CategoryCounters holds per-category counts. Each field is sourced
// independently from either the summary endpoint or the loaded records.
type CategoryCounters struct {
	Total            Counter `json:"total"`
	Unread           Counter `json:"unread"`
	Pathological     Counter `json:"pathological"`
	HighPathological Counter `json:"high_pathological"`
	Urgent           Counter `json:"urgent"`
}

// SummaryFetcher loads the backend's counter summary for a query's date
// bounds and archival scope.
type SummaryFetcher interface {
	FetchSummary(ctx context.Context, q CompiledQuery) (*Summary, error)
}

// Reconciler combines the summary endpoint with client-side counts.
type Reconciler struct {
	summaries SummaryFetcher
	logger    zerolog.Logger
}

// NewReconciler creates a counter reconciler.
func NewReconciler(summaries SummaryFetcher, logger zerolog.Logger) *Reconciler {
	return &Reconciler{summaries: summaries, logger: logger}
}

// Counters fetches the summary for q and resolves every field, falling back
// to counting loaded for any field the server did not return. A failed
// summary call degrades every field to its client count.
func (r *Reconciler) Counters(ctx context.Context, q CompiledQuery, loaded []ResultRecord) CategoryCounters {
	summary, err := r.summaries.FetchSummary(ctx, q)
	if err != nil {
		r.logger.Warn().Err(err).Msg("counter summary unavailable, counting loaded results")
		summary = nil
	}
	return Reconcile(summary, loaded)
}

// Reconcile resolves counters field by field. It never mixes sources within
// one field.
func Reconcile(summary *Summary, loaded []ResultRecord) CategoryCounters {
	if summary == nil {
		summary = &Summary{}
	}
	return CategoryCounters{
		Total:            pick(summary.Total, len(loaded)),
		Unread:           pick(summary.Unread, countMatching(loaded, CategoryNew)),
		Pathological:     pick(summary.Pathological, countMatching(loaded, CategoryPathological)),
		HighPathological: pick(summary.HighPathological, countMatching(loaded, CategoryHighPathological)),
		Urgent:           pick(summary.Urgent, countMatching(loaded, CategoryUrgent)),
	}
}

func pick(server *int, client int) Counter {
	if server != nil {
		return Counter{Value: *server, Source: SourceServer}
	}
	return Counter{Value: client, Source: SourceClient}
}

func countMatching(records []ResultRecord, c Category) int {
	n := 0
	for _, r := range records {
		if c.Matches(r) {
			n++
		}
	}
	return n
}
