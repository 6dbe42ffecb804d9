package trends

import "time"

// TestMeta is the display metadata of one laboratory test.
type TestMeta struct {
	Code          string   `json:"code"`
	Name          string   `json:"name"`
	Unit          string   `json:"unit,omitempty"`
	Section       string   `json:"section,omitempty"`
	ReferenceLow  *float64 `json:"reference_low,omitempty"`
	ReferenceHigh *float64 `json:"reference_high,omitempty"`
	ReferenceText string   `json:"reference_text,omitempty"`
}

// fillFrom copies every field of other into m that m leaves blank.
func (m *TestMeta) fillFrom(other TestMeta) {
	if m.Name == "" {
		m.Name = other.Name
	}
	if m.Unit == "" {
		m.Unit = other.Unit
	}
	if m.Section == "" {
		m.Section = other.Section
	}
	if m.ReferenceLow == nil && other.ReferenceLow != nil {
		v := *other.ReferenceLow
		m.ReferenceLow = &v
	}
	if m.ReferenceHigh == nil && other.ReferenceHigh != nil {
		v := *other.ReferenceHigh
		m.ReferenceHigh = &v
	}
	if m.ReferenceText == "" {
		m.ReferenceText = other.ReferenceText
	}
}

// Cumulative is the normalized cross-report response for one anchor report.
type Cumulative struct {
	Catalog []TestMeta
	Reports []CumulativeReport
}

// CumulativeReport is one report's observed values keyed by test code.
type CumulativeReport struct {
	ReportID    string
	ReportDate  time.Time
	OrderNumber string
	Values      map[string]CumulativeValue
}

// CumulativeValue is a single observation inside a cumulative report. Value
// is nil for textual or missing results.
type CumulativeValue struct {
	Value         *float64
	Text          string
	Unit          string
	Name          string
	ReferenceLow  *float64
	ReferenceHigh *float64
	ReferenceText string
}

// TrendPoint is one observation of a test on the time axis.
type TrendPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	Value      float64   `json:"value"`
	ReportID   string    `json:"report_id"`
	Label      string    `json:"label"`
	OutOfRange bool      `json:"out_of_range"`
}

// SeriesSummary holds descriptive statistics over a series' values.
type SeriesSummary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Latest float64 `json:"latest"`
}

// TrendSeries is the chronological history of one test.
type TrendSeries struct {
	Code    string        `json:"code"`
	Points  []TrendPoint  `json:"points"`
	Summary SeriesSummary `json:"summary"`
}

// Trends is the aggregator output. Both maps are empty, never nil, for a
// patient without reports.
type Trends struct {
	TestsMap  map[string]TestMeta     `json:"tests_map"`
	TrendData map[string]*TrendSeries `json:"trend_data"`
}

func emptyTrends() *Trends {
	return &Trends{
		TestsMap:  map[string]TestMeta{},
		TrendData: map[string]*TrendSeries{},
	}
}
