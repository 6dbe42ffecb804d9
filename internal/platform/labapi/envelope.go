package labapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/labportal/labportal/internal/domain/results"
	"github.com/labportal/labportal/internal/domain/trends"
)

// wireTime accepts RFC 3339 timestamps as well as the zone-less forms older
// backends emit, which are read as UTC.
type wireTime struct {
	time.Time
}

var wireTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func (t *wireTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range wireTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

type wireTest struct {
	Code          string   `json:"Code"`
	Name          string   `json:"Name"`
	Value         string   `json:"Value"`
	Unit          string   `json:"Unit"`
	ReferenceLow  *float64 `json:"ReferenceLow"`
	ReferenceHigh *float64 `json:"ReferenceHigh"`
	ReferenceText string   `json:"ReferenceText"`
	Pathology     string   `json:"Pathology"`
}

func (w wireTest) normalize() results.TestObservation {
	return results.TestObservation{
		Code:          w.Code,
		Name:          w.Name,
		Value:         w.Value,
		Unit:          w.Unit,
		ReferenceLow:  w.ReferenceLow,
		ReferenceHigh: w.ReferenceHigh,
		ReferenceText: w.ReferenceText,
		Pathology:     pathologyFromCode(w.Pathology),
	}
}

func pathologyFromCode(code string) results.Pathology {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "L", "LOW":
		return results.PathologyLow
	case "H", "HIGH":
		return results.PathologyHigh
	case "LL", "CRITICAL-LOW", "CRITICALLOW":
		return results.PathologyCriticalLow
	case "HH", "CRITICAL-HIGH", "CRITICALHIGH":
		return results.PathologyCriticalHigh
	}
	return results.PathologyNone
}

func observations(tests []wireTest) ([]results.TestObservation, bool) {
	if len(tests) == 0 {
		return nil, false
	}
	out := make([]results.TestObservation, len(tests))
	critical := false
	for i, t := range tests {
		out[i] = t.normalize()
		critical = critical || out[i].Pathology.IsCritical()
	}
	return out, critical
}

// v2Envelope is the current listing generation.
type v2Envelope struct {
	Items []v2Item `json:"Items"`
}

type v2Item struct {
	ID                string     `json:"Id"`
	PatientID         string     `json:"PatientId"`
	PatientName       string     `json:"PatientName"`
	SenderID          string     `json:"SenderId"`
	OrderNumber       string     `json:"OrderNumber"`
	ResultType        string     `json:"ResultType"`
	ReportDate        wireTime   `json:"ReportDate"`
	IsRead            bool       `json:"IsRead"`
	IsFavorite        bool       `json:"IsFavorite"`
	IsArchived        bool       `json:"IsArchived"`
	IsPathological    bool       `json:"IsPathological"`
	IsUrgent          bool       `json:"IsUrgent"`
	HasCriticalValues bool       `json:"HasCriticalValues"`
	Tests             []wireTest `json:"Tests"`
}

func (it v2Item) normalize() results.ResultRecord {
	obs, critical := observations(it.Tests)
	return results.ResultRecord{
		ID:          it.ID,
		PatientID:   it.PatientID,
		PatientName: it.PatientName,
		SenderID:    it.SenderID,
		OrderNumber: it.OrderNumber,
		ResultType:  results.ResultTypeFromLetter(it.ResultType),
		ReportDate:  it.ReportDate.Time,
		Flags: results.ResultFlags{
			Read:              it.IsRead,
			Favorite:          it.IsFavorite,
			Archived:          it.IsArchived,
			Pathological:      it.IsPathological,
			Urgent:            it.IsUrgent,
			HasCriticalValues: it.HasCriticalValues || critical,
		},
		Observations: obs,
	}
}

// v1Envelope is the legacy listing generation.
type v1Envelope struct {
	Results []v1Item `json:"Results"`
}

// listingMeta holds the paging fields. Backends mix the names of both
// generations freely, so they are read independently of the list field.
type listingMeta struct {
	TotalCount      *int `json:"TotalCount"`
	TotalItemsCount *int `json:"TotalItemsCount"`
	PageIndex       *int `json:"PageIndex"`   // 0-based
	CurrentPage     *int `json:"CurrentPage"` // 1-based
}

func (m listingMeta) apply(page *results.ResultPage) {
	switch {
	case m.TotalCount != nil:
		page.TotalCount = m.TotalCount
	case m.TotalItemsCount != nil:
		page.TotalCount = m.TotalItemsCount
	}
	switch {
	case m.PageIndex != nil && *m.PageIndex >= 0:
		page.Page = *m.PageIndex + 1
	case m.CurrentPage != nil && *m.CurrentPage > 0:
		page.Page = *m.CurrentPage
	}
}

type v1Item struct {
	ReportID string `json:"ReportId"`
	Patient  struct {
		ID   string `json:"Id"`
		Name string `json:"Name"`
	} `json:"Patient"`
	Sender         string     `json:"Sender"`
	LabOrderNumber string     `json:"LabOrderNumber"`
	ReportType     string     `json:"ReportType"`
	ReportDateTime wireTime   `json:"ReportDateTime"`
	Read           bool       `json:"Read"`
	Favorite       bool       `json:"Favorite"`
	Archived       bool       `json:"Archived"`
	Pathological   bool       `json:"Pathological"`
	Urgent         bool       `json:"Urgent"`
	Critical       bool       `json:"Critical"`
	Observations   []wireTest `json:"Observations"`
}

func (it v1Item) normalize() results.ResultRecord {
	obs, critical := observations(it.Observations)
	return results.ResultRecord{
		ID:          it.ReportID,
		PatientID:   it.Patient.ID,
		PatientName: it.Patient.Name,
		SenderID:    it.Sender,
		OrderNumber: it.LabOrderNumber,
		ResultType:  results.ResultTypeFromLetter(it.ReportType),
		ReportDate:  it.ReportDateTime.Time,
		Flags: results.ResultFlags{
			Read:              it.Read,
			Favorite:          it.Favorite,
			Archived:          it.Archived,
			Pathological:      it.Pathological,
			Urgent:            it.Urgent,
			HasCriticalValues: it.Critical || critical,
		},
		Observations: obs,
	}
}

var errUnknownEnvelope = errors.New("listing response has neither Items nor Results")

// decodeListing detects the envelope generation and normalizes it. The
// requested page size always comes from q, never from the response, so a
// backend echoing a different size cannot hide a short page.
func decodeListing(body []byte, q results.CompiledQuery) (*results.ResultPage, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	page := &results.ResultPage{RequestedPageSize: q.PageSize, Page: q.Page()}
	switch {
	case probe["Items"] != nil:
		var env v2Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode listing: %w", err)
		}
		page.Records = make([]results.ResultRecord, len(env.Items))
		for i, it := range env.Items {
			page.Records[i] = it.normalize()
		}
	case probe["Results"] != nil:
		var env v1Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode listing: %w", err)
		}
		page.Records = make([]results.ResultRecord, len(env.Results))
		for i, it := range env.Results {
			page.Records[i] = it.normalize()
		}
	default:
		return nil, errUnknownEnvelope
	}

	var meta listingMeta
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	meta.apply(page)
	page.ItemsReturned = len(page.Records)
	return page, nil
}

type summaryEnvelope struct {
	Total            *int `json:"Total"`
	Unread           *int `json:"Unread"`
	Pathological     *int `json:"Pathological"`
	HighPathological *int `json:"HighPathological"`
	Urgent           *int `json:"Urgent"`
}

func (e summaryEnvelope) normalize() *results.Summary {
	return &results.Summary{
		Total:            e.Total,
		Unread:           e.Unread,
		Pathological:     e.Pathological,
		HighPathological: e.HighPathological,
		Urgent:           e.Urgent,
	}
}

type cumulativeEnvelope struct {
	Sections []struct {
		Name  string `json:"Name"`
		Tests []struct {
			Code          string   `json:"Code"`
			Name          string   `json:"Name"`
			Unit          string   `json:"Unit"`
			ReferenceLow  *float64 `json:"ReferenceLow"`
			ReferenceHigh *float64 `json:"ReferenceHigh"`
			ReferenceText string   `json:"ReferenceText"`
		} `json:"Tests"`
	} `json:"Sections"`
	Results []struct {
		ReportID    string                     `json:"ReportId"`
		ReportDate  wireTime                   `json:"ReportDate"`
		OrderNumber string                     `json:"OrderNumber"`
		Values      map[string]cumulativeValue `json:"Values"`
	} `json:"Results"`
}

type cumulativeValue struct {
	Value         *float64 `json:"Value"`
	Text          string   `json:"Text"`
	Unit          string   `json:"Unit"`
	Name          string   `json:"Name"`
	ReferenceLow  *float64 `json:"ReferenceLow"`
	ReferenceHigh *float64 `json:"ReferenceHigh"`
	ReferenceText string   `json:"ReferenceText"`
}

func (e cumulativeEnvelope) normalize() *trends.Cumulative {
	out := &trends.Cumulative{}
	for _, s := range e.Sections {
		for _, t := range s.Tests {
			out.Catalog = append(out.Catalog, trends.TestMeta{
				Code:          t.Code,
				Name:          t.Name,
				Unit:          t.Unit,
				Section:       s.Name,
				ReferenceLow:  t.ReferenceLow,
				ReferenceHigh: t.ReferenceHigh,
				ReferenceText: t.ReferenceText,
			})
		}
	}
	for _, r := range e.Results {
		values := make(map[string]trends.CumulativeValue, len(r.Values))
		for code, v := range r.Values {
			values[code] = trends.CumulativeValue{
				Value:         v.Value,
				Text:          v.Text,
				Unit:          v.Unit,
				Name:          v.Name,
				ReferenceLow:  v.ReferenceLow,
				ReferenceHigh: v.ReferenceHigh,
				ReferenceText: v.ReferenceText,
			}
		}
		out.Reports = append(out.Reports, trends.CumulativeReport{
			ReportID:    r.ReportID,
			ReportDate:  r.ReportDate.Time,
			OrderNumber: r.OrderNumber,
			Values:      values,
		})
	}
	return out
}
