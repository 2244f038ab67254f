// internal/utils/pagination.go
package utils

import (
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PaginationParams is the page window and ordering every list endpoint
// accepts through its query string.
type PaginationParams struct {
	Page   int    `json:"page"`
	Limit  int    `json:"limit"`
	Sort   string `json:"sort"`
	Order  string `json:"order"`
	Search string `json:"search"`
}

func (p PaginationParams) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

func (p PaginationParams) Descending() bool {
	return p.Order != "asc"
}

type PaginationResult struct {
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	Total      int64       `json:"total"`
	TotalPages int         `json:"total_pages"`
	Data       interface{} `json:"data"`
}

func GetPaginationParams(c *gin.Context) PaginationParams {
	params := PaginationParams{
		Page:   queryInt(c, "page", 1),
		Limit:  queryInt(c, "limit", defaultPageSize),
		Sort:   c.DefaultQuery("sort", "created_at"),
		Order:  c.DefaultQuery("order", "desc"),
		Search: c.Query("search"),
	}

	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit < 1 || params.Limit > maxPageSize {
		params.Limit = defaultPageSize
	}
	if params.Order != "asc" {
		params.Order = "desc"
	}
	return params
}

func queryInt(c *gin.Context, key string, fallback int) int {
	value, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return value
}

func ApplyPagination(db *gorm.DB, params PaginationParams) *gorm.DB {
	limit := params.Limit
	if limit < 1 {
		limit = defaultPageSize
	}
	return db.Offset(params.Offset()).Limit(limit)
}

// ApplySort orders by params.Sort when it is one of allowedSortFields and by
// created_at otherwise. Column names never come from the request verbatim.
func ApplySort(db *gorm.DB, params PaginationParams, allowedSortFields []string) *gorm.DB {
	column := "created_at"
	if idx := slices.Index(allowedSortFields, params.Sort); idx >= 0 {
		column = allowedSortFields[idx]
	}
	return db.Order(clause.OrderByColumn{
		Column: clause.Column{Name: column},
		Desc:   params.Descending(),
	})
}

func CreatePaginationResult(data interface{}, total int64, params PaginationParams) PaginationResult {
	totalPages := 0
	if params.Limit > 0 {
		totalPages = int((total + int64(params.Limit) - 1) / int64(params.Limit))
	}

	return PaginationResult{
		Page:       params.Page,
		Limit:      params.Limit,
		Total:      total,
		TotalPages: totalPages,
		Data:       data,
	}
}

func SetPaginationHeaders(c *gin.Context, result PaginationResult) {
	c.Header("X-Total-Count", strconv.FormatInt(result.Total, 10))
	c.Header("X-Total-Pages", strconv.Itoa(result.TotalPages))
}
