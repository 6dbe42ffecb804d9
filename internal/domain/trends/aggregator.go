package trends

import (
	"context"
	"errors"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"

	"github.com/labportal/labportal/internal/domain/results"
)

// DefaultWindow is the number of most recent reports inspected when no
// window is configured.
const DefaultWindow = 20

// CumulativeFetcher loads the cross-report view anchored at one report.
type CumulativeFetcher interface {
	FetchCumulative(ctx context.Context, reportID string) (*Cumulative, error)
}

// Aggregator builds per-test trend series for a patient.
type Aggregator struct {
	compiler   *results.Compiler
	reports    results.Fetcher
	cumulative CumulativeFetcher
	window     int
	logger     zerolog.Logger
}

// NewAggregator creates an Aggregator. reports is the same page fetcher the
// result list uses.
func NewAggregator(compiler *results.Compiler, reports results.Fetcher, cumulative CumulativeFetcher, window int, logger zerolog.Logger) *Aggregator {
	if window <= 0 {
		window = DefaultWindow
	}
	if window > results.MaxPageSize {
		window = results.MaxPageSize
	}
	return &Aggregator{
		compiler:   compiler,
		reports:    reports,
		cumulative: cumulative,
		window:     window,
		logger:     logger,
	}
}

// BuildTrends fetches the patient's most recent reports, then the cumulative
// view anchored at the newest one, and merges both into trend series.
func (a *Aggregator) BuildTrends(ctx context.Context, patientID string) (*Trends, error) {
	q, err := a.compiler.Compile(
		results.FilterSpec{PatientIDs: []string{patientID}},
		results.PeriodNone,
		results.PageCursor{Page: 1, Size: a.window},
	)
	if err != nil {
		return nil, err
	}
	q = q.WithArchiveState(results.ScopeAll)

	page, err := a.reports.FetchPage(ctx, q)
	if err != nil {
		return nil, &TrendFetchError{Phase: PhaseReports, Err: err}
	}
	if len(page.Records) == 0 {
		a.logger.Debug().Str("patient_id", patientID).Msg("no reports, returning empty trends")
		return emptyTrends(), nil
	}
	anchor, ok := newestReport(page.Records)
	if !ok {
		return nil, &TrendFetchError{Phase: PhaseReports, Err: errNoAnchorID}
	}

	cum, err := a.cumulative.FetchCumulative(ctx, anchor)
	if err != nil {
		return nil, &TrendFetchError{Phase: PhaseCumulative, Err: err}
	}

	t := Merge(cum)
	a.logger.Debug().
		Str("patient_id", patientID).
		Str("anchor_report", anchor).
		Int("reports", len(cum.Reports)).
		Int("series", len(t.TrendData)).
		Msg("trends built")
	return t, nil
}

var errNoAnchorID = errors.New("newest report has no identifier")

// newestReport returns the id of the most recent record. The first record
// wins ties, matching the backend's descending order.
func newestReport(records []results.ResultRecord) (string, bool) {
	if len(records) == 0 {
		return "", false
	}
	best := records[0]
	for _, r := range records[1:] {
		if r.ReportDate.After(best.ReportDate) {
			best = r
		}
	}
	return best.ID, best.ID != ""
}

// Merge seeds test metadata from the catalog, then overlays the observed
// values of every report. Catalog metadata always takes precedence; an
// observation only fills fields the catalog left blank, newest report first.
func Merge(cum *Cumulative) *Trends {
	t := emptyTrends()
	if cum == nil {
		return t
	}

	for _, m := range cum.Catalog {
		if m.Code == "" {
			continue
		}
		if existing, ok := t.TestsMap[m.Code]; ok {
			existing.fillFrom(m)
			t.TestsMap[m.Code] = existing
			continue
		}
		t.TestsMap[m.Code] = m
	}

	reports := make([]CumulativeReport, len(cum.Reports))
	copy(reports, cum.Reports)
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].ReportDate.After(reports[j].ReportDate)
	})

	seen := make(map[string]map[string]struct{})
	for _, r := range reports {
		for code, v := range r.Values {
			if code == "" || v.Value == nil {
				continue
			}
			meta, ok := t.TestsMap[code]
			if !ok {
				meta = TestMeta{Code: code}
			}
			meta.fillFrom(TestMeta{
				Name:          v.Name,
				Unit:          v.Unit,
				ReferenceLow:  v.ReferenceLow,
				ReferenceHigh: v.ReferenceHigh,
				ReferenceText: v.ReferenceText,
			})
			if meta.Name == "" {
				meta.Name = code
			}
			t.TestsMap[code] = meta

			if seen[code] == nil {
				seen[code] = make(map[string]struct{})
			}
			if _, dup := seen[code][r.ReportID]; dup {
				continue
			}
			seen[code][r.ReportID] = struct{}{}

			series, ok := t.TrendData[code]
			if !ok {
				series = &TrendSeries{Code: code}
				t.TrendData[code] = series
			}
			series.Points = append(series.Points, TrendPoint{
				Timestamp: r.ReportDate,
				Value:     *v.Value,
				ReportID:  r.ReportID,
				Label:     label(r),
			})
		}
	}

	for code, series := range t.TrendData {
		sort.SliceStable(series.Points, func(i, j int) bool {
			pi, pj := series.Points[i], series.Points[j]
			if pi.Timestamp.Equal(pj.Timestamp) {
				return pi.ReportID < pj.ReportID
			}
			return pi.Timestamp.Before(pj.Timestamp)
		})
		meta := t.TestsMap[code]
		for i := range series.Points {
			series.Points[i].OutOfRange = outOfRange(series.Points[i].Value, meta)
		}
		series.Summary = summarize(series.Points)
	}
	return t
}

func label(r CumulativeReport) string {
	if r.OrderNumber != "" {
		return r.OrderNumber
	}
	if r.ReportDate.IsZero() {
		return r.ReportID
	}
	return r.ReportDate.Format("2006-01-02")
}

func outOfRange(v float64, meta TestMeta) bool {
	if meta.ReferenceLow != nil && v < *meta.ReferenceLow {
		return true
	}
	if meta.ReferenceHigh != nil && v > *meta.ReferenceHigh {
		return true
	}
	return false
}

func summarize(points []TrendPoint) SeriesSummary {
	if len(points) == 0 {
		return SeriesSummary{}
	}
	data := make(stats.Float64Data, len(points))
	for i, p := range points {
		data[i] = p.Value
	}
	// Errors only occur for empty input, which is excluded above.
	min, _ := stats.Min(data)
	max, _ := stats.Max(data)
	mean, _ := stats.Mean(data)
	median, _ := stats.Median(data)
	return SeriesSummary{
		Count:  len(points),
		Min:    min,
		Max:    max,
		Mean:   mean,
		Median: median,
		Latest: points[len(points)-1].Value,
	}
}
