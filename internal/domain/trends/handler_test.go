package trends

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/labportal/labportal/internal/domain/results"
)

type mockBuilder struct {
	trends *Trends
	err    error
}

func (m *mockBuilder) BuildTrends(context.Context, string) (*Trends, error) {
	return m.trends, m.err
}

func callGetTrends(t *testing.T, b Builder, id string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	return rec, NewHandler(b).GetTrends(c)
}

func TestGetTrends_Success(t *testing.T) {
	trends := Merge(&Cumulative{
		Reports: []CumulativeReport{
			{ReportID: "R1", ReportDate: day1, Values: map[string]CumulativeValue{"HB": {Value: f64(5)}}},
		},
	})
	rec, err := callGetTrends(t, &mockBuilder{trends: trends}, "p-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if _, ok := body["trend_data"]["HB"]; !ok {
		t.Errorf("expected HB series in response, got %s", rec.Body.String())
	}
}

func TestGetTrends_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"upstream failure", &TrendFetchError{Phase: PhaseReports, Err: &results.FetchError{Status: 500}}, http.StatusBadGateway},
		{"upstream not found", &TrendFetchError{Phase: PhaseCumulative, Err: &results.FetchError{Status: 404}}, http.StatusNotFound},
		{"invalid filter", &results.InvalidFilterError{Field: "period", Value: "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := callGetTrends(t, &mockBuilder{err: tt.err}, "p-1")
			httpErr, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected echo.HTTPError, got %T", err)
			}
			if httpErr.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, httpErr.Code)
			}
		})
	}
}

func TestGetTrends_MissingID(t *testing.T) {
	_, err := callGetTrends(t, &mockBuilder{}, " ")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
