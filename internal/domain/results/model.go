package results

import "time"

// Pathology classifies a single observed value against its reference range.
type Pathology string

const (
	PathologyNone         Pathology = "none"
	PathologyLow          Pathology = "low"
	PathologyHigh         Pathology = "high"
	PathologyCriticalLow  Pathology = "critical-low"
	PathologyCriticalHigh Pathology = "critical-high"
)

// IsCritical reports whether the indicator is one of the critical variants.
func (p Pathology) IsCritical() bool {
	return p == PathologyCriticalLow || p == PathologyCriticalHigh
}

// TestObservation is one measured test value within a report.
type TestObservation struct {
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	Value         string    `json:"value"`
	Unit          string    `json:"unit,omitempty"`
	ReferenceLow  *float64  `json:"reference_low,omitempty"`
	ReferenceHigh *float64  `json:"reference_high,omitempty"`
	ReferenceText string    `json:"reference_text,omitempty"`
	Pathology     Pathology `json:"pathology"`
}

// ResultFlags carries the per-report state shown in the result list.
type ResultFlags struct {
	Read              bool `json:"read"`
	Favorite          bool `json:"favorite"`
	Archived          bool `json:"archived"`
	Pathological      bool `json:"pathological"`
	Urgent            bool `json:"urgent"`
	HasCriticalValues bool `json:"has_critical_values"`
}

// ResultRecord is a lab report summary as normalized from any backend
// generation.
type ResultRecord struct {
	ID           string            `json:"id"`
	PatientID    string            `json:"patient_id"`
	PatientName  string            `json:"patient_name,omitempty"`
	SenderID     string            `json:"sender_id,omitempty"`
	OrderNumber  string            `json:"order_number,omitempty"`
	ResultType   ResultType        `json:"result_type,omitempty"`
	ReportDate   time.Time         `json:"report_date"`
	Flags        ResultFlags       `json:"flags"`
	Observations []TestObservation `json:"observations,omitempty"`
}

// ResultPage is one fetched page. TotalCount is nil when the backend did not
// report a total; callers must not treat that as zero.
type ResultPage struct {
	Records           []ResultRecord `json:"records"`
	Page              int            `json:"page"`
	RequestedPageSize int            `json:"requested_page_size"`
	ItemsReturned     int            `json:"items_returned"`
	TotalCount        *int           `json:"total_count,omitempty"`
}

// Incomplete reports whether the page came back shorter than requested,
// which is conclusive proof that no further pages exist.
func (p *ResultPage) Incomplete() bool {
	return p.ItemsReturned < p.RequestedPageSize
}

// Summary is the backend's counter response. Every field is optional.
type Summary struct {
	Total            *int `json:"total,omitempty"`
	Unread           *int `json:"unread,omitempty"`
	Pathological     *int `json:"pathological,omitempty"`
	HighPathological *int `json:"high_pathological,omitempty"`
	Urgent           *int `json:"urgent,omitempty"`
}
