package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params is a limit/offset window over an ordered listing.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset=. Missing or malformed values fall
// back to the defaults; limit is capped at MaxLimit.
func FromContext(c echo.Context) Params {
	return Parse(c.QueryParam("limit"), c.QueryParam("offset"))
}

func Parse(rawLimit, rawOffset string) Params {
	p := Params{Limit: DefaultLimit}
	if n, err := strconv.Atoi(rawLimit); err == nil && n > 0 {
		p.Limit = min(n, MaxLimit)
	}
	if n, err := strconv.Atoi(rawOffset); err == nil && n > 0 {
		p.Offset = n
	}
	return p
}

// Page is the list envelope returned by every collection endpoint.
type Page[T any] struct {
	Data       []T  `json:"data"`
	Total      int  `json:"total"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
	NextOffset *int `json:"next_offset,omitempty"`
	PrevOffset *int `json:"prev_offset,omitempty"`
}

// NewPage wraps one window of items. A nil slice is reported as [].
func NewPage[T any](items []T, total int, p Params) *Page[T] {
	if items == nil {
		items = []T{}
	}
	page := &Page[T]{
		Data:   items,
		Total:  total,
		Limit:  p.Limit,
		Offset: p.Offset,
	}
	if end := p.Offset + p.Limit; end < total {
		page.HasMore = true
		page.NextOffset = &end
	}
	if p.Offset > 0 {
		prev := max(p.Offset-p.Limit, 0)
		page.PrevOffset = &prev
	}
	return page
}
