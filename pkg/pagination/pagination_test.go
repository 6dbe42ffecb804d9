package pagination

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestFromContext_Defaults(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.Page != 1 {
		t.Errorf("expected default page 1, got %d", p.Page)
	}
	if p.PageSize != 0 {
		t.Errorf("expected unset page size 0, got %d", p.PageSize)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?page=3&page_size=50", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.Page != 3 {
		t.Errorf("expected page 3, got %d", p.Page)
	}
	if p.PageSize != 50 {
		t.Errorf("expected page size 50, got %d", p.PageSize)
	}
}

func TestFromContext_CountAlias(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?_count=10", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.PageSize != 10 {
		t.Errorf("expected page size 10, got %d", p.PageSize)
	}
}

func TestFromContext_MaxPageSize(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?page_size=500", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.PageSize != MaxPageSize {
		t.Errorf("expected page size capped at %d, got %d", MaxPageSize, p.PageSize)
	}
}

func TestFromContext_NegativePage(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?page=-4&page_size=-1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.Page != 1 {
		t.Errorf("expected page 1, got %d", p.Page)
	}
	if p.PageSize != 0 {
		t.Errorf("expected page size 0, got %d", p.PageSize)
	}
}

func TestNewResponse_OmitsUnknownTotal(t *testing.T) {
	resp := NewResponse([]string{"a"}, 1, 25, nil, true)
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["total"]; ok {
		t.Error("expected total to be omitted when unknown")
	}
	if m["has_more"] != true {
		t.Errorf("expected has_more true, got %v", m["has_more"])
	}
}

func TestNewResponse_KnownTotal(t *testing.T) {
	total := 0
	resp := NewResponse([]string{}, 2, 25, &total, false)
	if resp.Total == nil || *resp.Total != 0 {
		t.Fatalf("expected total 0 to be kept, got %v", resp.Total)
	}
	if resp.Page != 2 || resp.PageSize != 25 {
		t.Errorf("unexpected page fields: %+v", resp)
	}
}

func TestParams_HasPrevious(t *testing.T) {
	if (Params{Page: 1}).HasPrevious() {
		t.Error("page 1 has no previous page")
	}
	if !(Params{Page: 2}).HasPrevious() {
		t.Error("page 2 has a previous page")
	}
}

func TestParams_Next(t *testing.T) {
	next := Params{Page: 4, PageSize: 20}.Next()
	if next.Page != 5 || next.PageSize != 20 {
		t.Errorf("unexpected next params: %+v", next)
	}
}
