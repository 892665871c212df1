package models

import "time"

// Page size limits for record queries
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// RecordFilter represents filter parameters for querying persisted records.
// Time bounds apply to the record start (still timestamp, movement/sleep start, visit entry).
type RecordFilter struct {
	StartTime   int64  `form:"startTime"`   // Unix milliseconds, inclusive
	EndTime     int64  `form:"endTime"`     // Unix milliseconds, exclusive
	Kind        string `form:"kind"`        // movement records only
	PlaceID     int64  `form:"placeId"`     // visits only
	MinDuration int64  `form:"minDuration"` // Milliseconds
	Page        int    `form:"page"`
	PageSize    int    `form:"pageSize"`
}

// Normalize applies paging defaults and bounds
func (f *RecordFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
}

// Offset returns the number of rows to skip for the current page
func (f RecordFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// Matches reports whether a record starting at start with the given duration passes the time filters
func (f RecordFilter) Matches(start time.Time, durationMillis int64) bool {
	ms := start.UnixMilli()
	if f.StartTime > 0 && ms < f.StartTime {
		return false
	}
	if f.EndTime > 0 && ms >= f.EndTime {
		return false
	}
	return f.MinDuration <= 0 || durationMillis >= f.MinDuration
}

// PaginatedResponse represents a paginated query result
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	TotalPages int         `json:"totalPages"`
}

// NewPaginatedResponse wraps one page of results
func NewPaginatedResponse(data interface{}, total int64, filter RecordFilter) PaginatedResponse {
	totalPages := int(total) / filter.PageSize
	if int(total)%filter.PageSize > 0 {
		totalPages++
	}
	return PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalPages: totalPages,
	}
}
