package types

import "time"

// PageResponse is the wire shape of every backend list endpoint.
type PageResponse[T any] struct {
	Data      []T `json:"data"`
	Page      int `json:"page"`
	PageSize  int `json:"page_size"`
	PageCount int `json:"page_count"`
	Total     int `json:"total"`
}

// CachedPage is the last known result for a resource. When IsFull reports
// true, Data holds every record across all pages and Page/PageSize only
// describe the request that triggered the fetch.
type CachedPage[T any] struct {
	Data      []T       `json:"data"`
	Total     int       `json:"total"`
	Page      int       `json:"page"`
	PageSize  int       `json:"page_size"`
	PageCount int       `json:"page_count"`
	FetchedAt time.Time `json:"fetched_at"`

	// MissingPages lists pages a background merge failed to fetch.
	// A snapshot with missing pages is never full.
	MissingPages []int `json:"missing_pages,omitempty"`

	// Merged marks a snapshot concatenated from every page. Page and
	// PageSize then describe the triggering request, not Data.
	Merged bool `json:"merged,omitempty"`
}

// IsFull reports whether Data is the complete merged record set.
func (c *CachedPage[T]) IsFull() bool {
	return c.Total > 0 && len(c.Data) >= c.Total && len(c.MissingPages) == 0
}

// ComputePageCount returns ceil(total/pageSize), or 1 when either is unknown.
func ComputePageCount(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

// EmptyPage returns a well-formed page with no data.
func EmptyPage[T any](page, pageSize, total int) CachedPage[T] {
	return CachedPage[T]{
		Data:      []T{},
		Total:     total,
		Page:      page,
		PageSize:  pageSize,
		PageCount: ComputePageCount(total, pageSize),
	}
}
