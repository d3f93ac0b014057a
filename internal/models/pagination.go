package models

const (
	DefaultPageSize = 20
	MaxPageSize     = 50
)

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination clamps page to at least 1 and limit to 1..MaxPageSize,
// using DefaultPageSize when limit is unset.
func NewPagination(page, limit int) Pagination {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return Pagination{Page: page, Limit: limit}
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

func (p Pagination) WithTotal(total int) Pagination {
	p.Total = total
	p.TotalPages = (total + p.Limit - 1) / p.Limit
	return p
}
