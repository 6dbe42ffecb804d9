package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

// Params holds 1-based page parameters extracted from a request.
type Params struct {
	Page     int
	PageSize int
}

// FromContext extracts pagination parameters from the echo context. A
// missing page_size yields zero so that callers can apply their own default.
func FromContext(c echo.Context) Params {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}

	size, _ := strconv.Atoi(c.QueryParam("page_size"))
	if size <= 0 {
		size, _ = strconv.Atoi(c.QueryParam("_count"))
	}
	if size < 0 {
		size = 0
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	return Params{Page: page, PageSize: size}
}

// Response wraps a paginated API response. Total is omitted when the
// upstream did not report one.
type Response struct {
	Data     interface{} `json:"data"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Total    *int        `json:"total,omitempty"`
	HasMore  bool        `json:"has_more"`
}

func NewResponse(data interface{}, page, pageSize int, total *int, hasMore bool) *Response {
	return &Response{
		Data:     data,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		HasMore:  hasMore,
	}
}

// HasPrevious returns true if there are pages before the current one.
func (p Params) HasPrevious() bool {
	return p.Page > 1
}

// Next returns the parameters for the following page.
func (p Params) Next() Params {
	return Params{Page: p.Page + 1, PageSize: p.PageSize}
}
