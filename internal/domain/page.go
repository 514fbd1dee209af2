package domain

import (
	"errors"
	"net/url"
	"strconv"
)

// ErrNotFound is returned when a record does not exist or does not belong to the caller.
var ErrNotFound = errors.New("record not found")

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Filter is the list query a store binds each fetch to. It is replaced
// wholesale on every change; there is no partial merge.
type Filter struct {
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
	SortBy   string `json:"sortBy,omitempty"`
	SortDesc bool   `json:"sortDesc,omitempty"`
	IsRead   *bool  `json:"isRead,omitempty"`
	Type     string `json:"type,omitempty"`
	Status   string `json:"status,omitempty"`
	Search   string `json:"search,omitempty"`
	ParentID string `json:"parentId,omitempty"`
}

// DefaultFilter is the first page, newest first.
func DefaultFilter() Filter {
	return Filter{Page: 1, PageSize: DefaultPageSize, SortBy: "created_at", SortDesc: true}
}

// Normalize clamps paging values into their valid range.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > MaxPageSize {
		f.PageSize = DefaultPageSize
	}
	return f
}

// WithPage returns a copy of f pointing at page p.
func (f Filter) WithPage(p int) Filter {
	f.Page = p
	return f
}

// Offset is the zero-based index of the first item on the page.
func (f Filter) Offset() int {
	n := f.Normalize()
	return (n.Page - 1) * n.PageSize
}

// Key renders f deterministically for use in cache keys. Values are
// query-escaped, so distinct filters never share a key.
func (f Filter) Key() string {
	v := url.Values{}
	v.Set("p", strconv.Itoa(f.Page))
	v.Set("s", strconv.Itoa(f.PageSize))
	if f.SortBy != "" {
		v.Set("sort", f.SortBy)
		if f.SortDesc {
			v.Set("desc", "true")
		}
	}
	if f.IsRead != nil {
		v.Set("read", strconv.FormatBool(*f.IsRead))
	}
	for k, val := range map[string]string{"type": f.Type, "status": f.Status, "q": f.Search, "parent": f.ParentID} {
		if val != "" {
			v.Set(k, val)
		}
	}
	return v.Encode()
}

// Page is the pagination envelope returned by list endpoints.
type Page[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"totalCount"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
}

// HasMore reports whether another page exists after this one.
func (p Page[T]) HasMore() bool {
	return p.Page*p.PageSize < p.TotalCount
}
