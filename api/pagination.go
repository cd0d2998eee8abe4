package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// PaginationMeta accompanies every paginated list response.
type PaginationMeta struct {
	TotalCount int  `json:"total_count"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
}

// parsePagination reads the "limit" and "offset" query parameters. Missing,
// invalid or non-positive values fall back to the defaults and limit is
// capped at maxPageLimit.
func parsePagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()

	limit = defaultPageLimit
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, maxPageLimit)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		offset = n
	}
	return limit, offset
}

// paginate returns the requested window of items. An offset past the end
// yields an empty, non-nil page.
func paginate[T any](items []T, limit, offset int) ([]T, PaginationMeta) {
	start := min(offset, len(items))
	end := min(start+limit, len(items))
	return items[start:end:end], PaginationMeta{
		TotalCount: len(items),
		Limit:      limit,
		Offset:     offset,
		HasMore:    end < len(items),
	}
}
