package results

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labportal/labportal/internal/platform/auth"
	"github.com/labportal/labportal/pkg/pagination"
)

// FilterRequest is the API representation of a FilterSpec plus period.
type FilterRequest struct {
	Period           string     `json:"period"`
	Query            string     `json:"query"`
	PatientIDs       []string   `json:"patient_ids"`
	SenderIDs        []string   `json:"sender_ids"`
	Archived         bool       `json:"archived"`
	Category         string     `json:"category"`
	OnlyFavorites    bool       `json:"only_favorites"`
	OnlyNew          bool       `json:"only_new"`
	OnlyPathological bool       `json:"only_pathological"`
	OnlyUrgent       bool       `json:"only_urgent"`
	DateFrom         *time.Time `json:"date_from"`
	DateTo           *time.Time `json:"date_to"`
	ResultTypes      []string   `json:"result_types"`
	SortColumn       string     `json:"sort_column"`
	SortDirection    string     `json:"sort_direction"`
	PageSize         int        `json:"page_size"`
}

// Filter converts the request into compiler input.
func (r FilterRequest) Filter() (FilterSpec, PeriodSelector) {
	f := FilterSpec{
		Query:            strings.TrimSpace(r.Query),
		PatientIDs:       r.PatientIDs,
		SenderIDs:        r.SenderIDs,
		Archived:         r.Archived,
		Category:         Category(r.Category),
		OnlyFavorites:    r.OnlyFavorites,
		OnlyNew:          r.OnlyNew,
		OnlyPathological: r.OnlyPathological,
		OnlyUrgent:       r.OnlyUrgent,
		DateFrom:         r.DateFrom,
		DateTo:           r.DateTo,
		SortColumn:       r.SortColumn,
		SortDirection:    strings.ToLower(r.SortDirection),
	}
	for _, rt := range r.ResultTypes {
		f.ResultTypes = append(f.ResultTypes, ResultType(rt))
	}
	return f, PeriodSelector(r.Period)
}

// filterFromQuery reads a FilterRequest from query parameters. Identifier
// sets and result types may be repeated or comma separated.
func filterFromQuery(c echo.Context) (FilterRequest, error) {
	qp := c.QueryParams()
	r := FilterRequest{
		Period:        qp.Get("period"),
		Query:         qp.Get("query"),
		PatientIDs:    splitList(qp["patient_id"]),
		SenderIDs:     splitList(qp["sender_id"]),
		Category:      qp.Get("category"),
		ResultTypes:   splitList(qp["result_type"]),
		SortColumn:    qp.Get("sort"),
		SortDirection: qp.Get("order"),
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"archived", &r.Archived},
		{"favorites", &r.OnlyFavorites},
		{"new", &r.OnlyNew},
		{"pathological", &r.OnlyPathological},
		{"urgent", &r.OnlyUrgent},
	}
	for _, b := range bools {
		if v := qp.Get(b.name); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return r, &InvalidFilterError{Field: b.name, Value: v}
			}
			*b.dst = parsed
		}
	}

	var err error
	if r.DateFrom, err = parseDateParam("date_from", qp.Get("date_from")); err != nil {
		return r, err
	}
	if r.DateTo, err = parseDateParam("date_to", qp.Get("date_to")); err != nil {
		return r, err
	}
	return r, nil
}

func parseDateParam(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, &InvalidFilterError{Field: name, Value: v}
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("patient", "physician")

	read := api.Group("", role)
	read.GET("/results", h.ListResults)
	read.GET("/results/counters", h.GetCounters)
	read.GET("/result-sessions/:id", h.GetSession)

	write := api.Group("", role)
	write.POST("/result-sessions", h.CreateSession)
	write.POST("/result-sessions/:id/next", h.NextPage)
	write.PUT("/result-sessions/:id", h.ResetSession)
	write.DELETE("/result-sessions/:id", h.DeleteSession)
}

// sessionResponse is a session snapshot with its id.
type sessionResponse struct {
	ID      uuid.UUID   `json:"id"`
	Outcome LoadOutcome `json:"outcome,omitempty"`
	Snapshot
}

func (h *Handler) ListResults(c echo.Context) error {
	req, err := filterFromQuery(c)
	if err != nil {
		return resultError(err)
	}
	pg := pagination.FromContext(c)
	filter, period := req.Filter()
	page, err := h.svc.FetchPage(c.Request().Context(), filter, period, PageCursor{Page: pg.Page, Size: pg.PageSize})
	if err != nil {
		return resultError(err)
	}
	records := page.Records
	if records == nil {
		records = []ResultRecord{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(records, page.Page, page.RequestedPageSize, page.TotalCount, page.HasMore()))
}

func (h *Handler) CreateSession(c echo.Context) error {
	owner, err := principal(c)
	if err != nil {
		return err
	}
	var req FilterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PageSize < 0 || req.PageSize > MaxPageSize {
		return echo.NewHTTPError(http.StatusBadRequest, "page_size must be between 1 and 100")
	}
	filter, period := req.Filter()
	id, snap, err := h.svc.OpenSession(c.Request().Context(), owner, filter, period, req.PageSize)
	if err != nil {
		return resultError(err)
	}
	c.Response().Header().Set("Location", c.Path()+"/"+id.String())
	return c.JSON(http.StatusCreated, sessionResponse{ID: id, Outcome: OutcomeLoaded, Snapshot: snap})
}

func (h *Handler) GetSession(c echo.Context) error {
	owner, id, err := sessionParams(c)
	if err != nil {
		return err
	}
	snap, err := h.svc.Session(owner, id)
	if err != nil {
		return resultError(err)
	}
	return c.JSON(http.StatusOK, sessionResponse{ID: id, Snapshot: snap})
}

func (h *Handler) NextPage(c echo.Context) error {
	owner, id, err := sessionParams(c)
	if err != nil {
		return err
	}
	outcome, snap, err := h.svc.LoadNext(c.Request().Context(), owner, id)
	if err != nil {
		return resultError(err)
	}
	return c.JSON(http.StatusOK, sessionResponse{ID: id, Outcome: outcome, Snapshot: snap})
}

func (h *Handler) ResetSession(c echo.Context) error {
	owner, id, err := sessionParams(c)
	if err != nil {
		return err
	}
	var req FilterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	filter, period := req.Filter()
	snap, err := h.svc.ResetSession(c.Request().Context(), owner, id, filter, period)
	if err != nil {
		return resultError(err)
	}
	return c.JSON(http.StatusOK, sessionResponse{ID: id, Outcome: OutcomeLoaded, Snapshot: snap})
}

func (h *Handler) DeleteSession(c echo.Context) error {
	owner, id, err := sessionParams(c)
	if err != nil {
		return err
	}
	if err := h.svc.CloseSession(owner, id); err != nil {
		return resultError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetCounters reconciles counters for a period. When a session id is given,
// its loaded records back the client-side fallback.
func (h *Handler) GetCounters(c echo.Context) error {
	owner, err := principal(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	var counters CategoryCounters
	if raw := c.QueryParam("session"); raw != "" {
		sessionID, perr := uuid.Parse(raw)
		if perr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
		}
		// The session's query wins over period.
		counters, err = h.svc.SessionCounters(ctx, owner, sessionID)
	} else {
		counters, err = h.svc.Counters(ctx, PeriodSelector(c.QueryParam("period")), nil)
	}
	if err != nil {
		return resultError(err)
	}
	return c.JSON(http.StatusOK, counters)
}

func principal(c echo.Context) (string, error) {
	uid := auth.UserIDFromContext(c.Request().Context())
	if uid == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "no authenticated principal")
	}
	return uid, nil
}

func sessionParams(c echo.Context) (string, uuid.UUID, error) {
	o, err := principal(c)
	if err != nil {
		return "", uuid.Nil, err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return "", uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return o, id, nil
}

// resultError maps the error taxonomy onto HTTP statuses.
func resultError(err error) error {
	if errors.Is(err, ErrSessionNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "result session not found")
	}
	if IsInvalidFilter(err) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if fe, ok := AsFetchError(err); ok {
		if fe.Status == http.StatusNotFound {
			return echo.NewHTTPError(http.StatusNotFound, fe.Message)
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
