package utils

import (
	"net/http"
	"strconv"
)

const maxPageSize = 100

type QueryOptions struct {
	Page  int
	Limit int
}

func ParseQueryOptions(r *http.Request) QueryOptions {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 {
		limit = 20
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	return QueryOptions{Page: page, Limit: limit}
}

// Skip is the number of records before the requested page.
func (q QueryOptions) Skip() int64 {
	return int64((q.Page - 1) * q.Limit)
}
