package results

import (
	"net/url"
	"strconv"
	"time"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

// Category is the user-facing result category selection.
type Category string

const (
	CategoryNone             Category = ""
	CategoryNew              Category = "new"
	CategoryPathological     Category = "pathological"
	CategoryHighPathological Category = "high-pathological"
	CategoryUrgent           Category = "urgent"
	CategoryFavorites        Category = "favorites"
)

// categoryCodes maps each category to the backend's category code.
var categoryCodes = map[Category]string{
	CategoryNew:              "Unread",
	CategoryPathological:     "Pathological",
	CategoryHighPathological: "HighPathological",
	CategoryUrgent:           "Urgent",
	CategoryFavorites:        "Favorites",
}

// BackendCode returns the backend category code and whether c is known.
func (c Category) BackendCode() (string, bool) {
	code, ok := categoryCodes[c]
	return code, ok
}

// Matches reports whether a loaded record belongs to the category. The
// compiler's category codes and the client-side counter fallback both go
// through this table so the two can not drift apart.
func (c Category) Matches(r ResultRecord) bool {
	switch c {
	case CategoryNew:
		return !r.Flags.Read
	case CategoryPathological:
		return r.Flags.Pathological
	case CategoryHighPathological:
		return r.Flags.HasCriticalValues
	case CategoryUrgent:
		return r.Flags.Urgent
	case CategoryFavorites:
		return r.Flags.Favorite
	}
	return false
}

// ResultType is the internal report-type code.
type ResultType string

const (
	ResultTypeFinal       ResultType = "final"
	ResultTypePartial     ResultType = "partial"
	ResultTypePreliminary ResultType = "preliminary"
	ResultTypeFollowUp    ResultType = "follow-up"
	ResultTypeArchive     ResultType = "archive"
)

var resultTypeLetters = map[ResultType]string{
	ResultTypeFinal:       "E",
	ResultTypePartial:     "T",
	ResultTypePreliminary: "V",
	ResultTypeFollowUp:    "N",
	ResultTypeArchive:     "A",
}

// ResultTypeFromLetter maps a backend letter code back to the internal code.
func ResultTypeFromLetter(letter string) ResultType {
	for rt, l := range resultTypeLetters {
		if l == letter {
			return rt
		}
	}
	return ""
}

// ArchivalScope selects archived, non-archived or all reports.
type ArchivalScope string

const (
	ScopeNotArchived ArchivalScope = "NotArchived"
	ScopeArchived    ArchivalScope = "Archived"
	ScopeAll         ArchivalScope = "All"
)

// PeriodSelector is a named shorthand for a date range and archival scope.
type PeriodSelector string

const (
	PeriodNone       PeriodSelector = ""
	PeriodToday      PeriodSelector = "today"
	PeriodLast7Days  PeriodSelector = "last-7-days"
	PeriodLast30Days PeriodSelector = "last-30-days"
	PeriodAll        PeriodSelector = "all"
	PeriodArchive    PeriodSelector = "archive"
)

// periodBounds is what a PeriodSelector derives. Zero fields are unset.
type periodBounds struct {
	from  time.Time
	to    time.Time
	scope ArchivalScope
}

func (p PeriodSelector) derive(now time.Time) (periodBounds, error) {
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch p {
	case PeriodToday:
		return periodBounds{from: startOfToday, to: now}, nil
	case PeriodLast7Days:
		return periodBounds{from: startOfToday.AddDate(0, 0, -7), to: now}, nil
	case PeriodLast30Days:
		return periodBounds{from: startOfToday.AddDate(0, 0, -30), to: now}, nil
	case PeriodAll:
		return periodBounds{}, nil
	case PeriodArchive:
		return periodBounds{scope: ScopeArchived}, nil
	}
	return periodBounds{}, &InvalidFilterError{Field: "period", Value: string(p)}
}

// sortColumns maps the user-facing sort keys to backend column names.
var sortColumns = map[string]string{
	"report_date":  "ReportDate",
	"patient_name": "PatientName",
	"order_number": "OrderNumber",
	"sender":       "Sender",
	"result_type":  "ResultType",
}

// FilterSpec is the user's selection of result-list criteria.
type FilterSpec struct {
	Query      string
	PatientIDs []string
	SenderIDs  []string
	Archived   bool

	// Category, when set, fully determines the category code and the
	// boolean shortcuts below are ignored.
	Category         Category
	OnlyFavorites    bool
	OnlyNew          bool
	OnlyPathological bool
	OnlyUrgent       bool

	DateFrom    *time.Time
	DateTo      *time.Time
	ResultTypes []ResultType

	SortColumn    string
	SortDirection string
}

// PageCursor addresses a page using a 1-based page number.
type PageCursor struct {
	Page int
	Size int
}

// CompiledQuery is the fully resolved, backend-shaped parameter set. It is a
// value type; the With* helpers return modified copies.
type CompiledQuery struct {
	DateFrom      time.Time
	DateTo        time.Time
	ArchiveState  ArchivalScope
	Category      string
	ResultTypes   []string
	Query         string
	PatientIDs    []string
	SenderIDs     []string
	SortColumn    string
	SortDirection string
	PageIndex     int
	PageSize      int
}

// Page returns the 1-based page number addressed by the query.
func (q CompiledQuery) Page() int {
	return q.PageIndex + 1
}

// WithPage returns a copy addressing the given 1-based page.
func (q CompiledQuery) WithPage(page int) CompiledQuery {
	out := q.clone()
	if page < 1 {
		page = 1
	}
	out.PageIndex = page - 1
	return out
}

// WithArchiveState returns a copy with a different archival scope.
func (q CompiledQuery) WithArchiveState(scope ArchivalScope) CompiledQuery {
	out := q.clone()
	out.ArchiveState = scope
	return out
}

func (q CompiledQuery) clone() CompiledQuery {
	out := q
	out.ResultTypes = cloneStrings(q.ResultTypes)
	out.PatientIDs = cloneStrings(q.PatientIDs)
	out.SenderIDs = cloneStrings(q.SenderIDs)
	return out
}

// Values renders the query as backend request parameters.
func (q CompiledQuery) Values() url.Values {
	v := q.filterValues()
	v.Set("PageIndex", strconv.Itoa(q.PageIndex))
	v.Set("PageSize", strconv.Itoa(q.PageSize))
	return v
}

// SummaryValues renders only the date-bound and scope parameters, which is
// what the summary endpoint accepts.
func (q CompiledQuery) SummaryValues() url.Values {
	v := url.Values{}
	q.setBounds(v)
	return v
}

// Encode is the canonical, byte-stable encoding of the query. It doubles as
// the response cache key.
func (q CompiledQuery) Encode() string {
	return q.Values().Encode()
}

// Identity encodes everything except the page index. Two queries with the
// same identity belong to the same pagination session.
func (q CompiledQuery) Identity() string {
	v := q.filterValues()
	v.Set("PageSize", strconv.Itoa(q.PageSize))
	return v.Encode()
}

func (q CompiledQuery) setBounds(v url.Values) {
	if !q.DateFrom.IsZero() {
		v.Set("DateFrom", q.DateFrom.UTC().Format(time.RFC3339))
	}
	if !q.DateTo.IsZero() {
		v.Set("DateTo", q.DateTo.UTC().Format(time.RFC3339))
	}
	if q.ArchiveState != "" {
		v.Set("ArchiveState", string(q.ArchiveState))
	}
}

func (q CompiledQuery) filterValues() url.Values {
	v := url.Values{}
	q.setBounds(v)
	if q.Category != "" {
		v.Set("Category", q.Category)
	}
	for _, rt := range q.ResultTypes {
		v.Add("ResultTypes", rt)
	}
	if q.Query != "" {
		v.Set("Query", q.Query)
	}
	for _, id := range q.PatientIDs {
		v.Add("PatientIds", id)
	}
	for _, id := range q.SenderIDs {
		v.Add("SenderIds", id)
	}
	v.Set("SortColumn", q.SortColumn)
	v.Set("SortDirection", q.SortDirection)
	return v
}

// Compiler turns a FilterSpec and PeriodSelector into a CompiledQuery. It is
// pure apart from the injected clock.
type Compiler struct {
	pageSize int
	now      func() time.Time
}

// NewCompiler creates a compiler with the given default page size.
func NewCompiler(pageSize int) *Compiler {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return &Compiler{pageSize: pageSize, now: time.Now}
}

// WithClock returns a copy of the compiler that reads the time from now.
func (c *Compiler) WithClock(now func() time.Time) *Compiler {
	cp := *c
	cp.now = now
	return &cp
}

// PageSize returns the compiler's default page size.
func (c *Compiler) PageSize() int {
	return c.pageSize
}

// Compile resolves filter and period into backend parameters.
//
// Precedence: period-derived bounds are applied first and win over the
// explicit date range for every field they set; Archived only ever widens
// the scope to archived; Category beats the boolean shortcuts.
//
// Output is deterministic only for a fixed clock: the relative periods read
// the compiler's clock, so pin it with WithClock when comparing encodings.
func (c *Compiler) Compile(filter FilterSpec, period PeriodSelector, cursor PageCursor) (CompiledQuery, error) {
	size := cursor.Size
	if size <= 0 {
		size = c.pageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	page := cursor.Page
	if page < 1 {
		page = 1
	}

	q := CompiledQuery{
		ArchiveState:  ScopeNotArchived,
		SortColumn:    "ReportDate",
		SortDirection: "desc",
		PageIndex:     page - 1,
		PageSize:      size,
	}

	if period != PeriodNone {
		bounds, err := period.derive(c.now())
		if err != nil {
			return CompiledQuery{}, err
		}
		q.DateFrom = bounds.from
		q.DateTo = bounds.to
		if bounds.scope != "" {
			q.ArchiveState = bounds.scope
		}
	}

	if filter.Archived {
		q.ArchiveState = ScopeArchived
	}

	category, err := resolveCategory(filter)
	if err != nil {
		return CompiledQuery{}, err
	}
	q.Category = category

	for _, rt := range filter.ResultTypes {
		if letter, ok := resultTypeLetters[rt]; ok {
			q.ResultTypes = append(q.ResultTypes, letter)
		}
	}

	if q.DateFrom.IsZero() && filter.DateFrom != nil {
		q.DateFrom = *filter.DateFrom
	}
	if q.DateTo.IsZero() && filter.DateTo != nil {
		q.DateTo = *filter.DateTo
	}

	q.Query = filter.Query
	q.PatientIDs = cloneStrings(filter.PatientIDs)
	q.SenderIDs = cloneStrings(filter.SenderIDs)

	if filter.SortColumn != "" {
		col, ok := sortColumns[filter.SortColumn]
		if !ok {
			return CompiledQuery{}, &InvalidFilterError{Field: "sort column", Value: filter.SortColumn}
		}
		q.SortColumn = col
	}
	switch filter.SortDirection {
	case "":
	case "asc", "desc":
		q.SortDirection = filter.SortDirection
	default:
		return CompiledQuery{}, &InvalidFilterError{Field: "sort direction", Value: filter.SortDirection}
	}

	return q, nil
}

// resolveCategory picks exactly one backend category code. An explicit
// category wins outright; otherwise the first set boolean in the order
// favorites, new, pathological, urgent is used.
func resolveCategory(filter FilterSpec) (string, error) {
	if filter.Category != CategoryNone {
		code, ok := filter.Category.BackendCode()
		if !ok {
			return "", &InvalidFilterError{Field: "category", Value: string(filter.Category)}
		}
		return code, nil
	}
	switch {
	case filter.OnlyFavorites:
		return categoryCodes[CategoryFavorites], nil
	case filter.OnlyNew:
		return categoryCodes[CategoryNew], nil
	case filter.OnlyPathological:
		return categoryCodes[CategoryPathological], nil
	case filter.OnlyUrgent:
		return categoryCodes[CategoryUrgent], nil
	}
	return "", nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
