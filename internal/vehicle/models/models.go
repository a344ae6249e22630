package models

import (
	"math"
	"strings"
	"time"
)

// PlateColor is the normalized licence plate colour.
type PlateColor string

const (
	PlateColorBlue   PlateColor = "blue"
	PlateColorYellow PlateColor = "yellow"
	PlateColorBlack  PlateColor = "black"
	PlateColorWhite  PlateColor = "white"
	PlateColorGreen  PlateColor = "green"
)

// ParsePlateColor normalizes a stored plate colour, accepting the Chinese
// spellings found in registration records as well as the English enum values.
// ok is false for unknown values.
func ParsePlateColor(raw string) (PlateColor, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "蓝色", "蓝", "blue":
		return PlateColorBlue, true
	case "黄色", "黄", "yellow":
		return PlateColorYellow, true
	case "黑色", "黑", "black":
		return PlateColorBlack, true
	case "白色", "白", "white":
		return PlateColorWhite, true
	case "绿色", "绿", "渐变绿色", "黄绿双拼色", "green":
		return PlateColorGreen, true
	}
	return "", false
}

// VehicleRecord is the denormalized row returned by the listing.
// Every field is nullable and always serialized.
type VehicleRecord struct {
	LicensePlateNumber *string     `json:"license_plate_number"`
	RegistrationDate   *time.Time  `json:"registration_date"`
	PlateColor         *PlateColor `json:"plate_color"`
	OperationScope     *string     `json:"operation_scope"`
	Tonnage            *float64    `json:"tonnage"`
}

// IsEmpty reports whether every field is null.
func (v VehicleRecord) IsEmpty() bool {
	return v.LicensePlateNumber == nil &&
		v.RegistrationDate == nil &&
		v.PlateColor == nil &&
		v.OperationScope == nil &&
		v.Tonnage == nil
}

// SortOrder is the requested sort direction, matching the store's 1/-1 convention.
type SortOrder int

const (
	SortAscending  SortOrder = 1
	SortDescending SortOrder = -1
)

// Valid reports whether the order is 1 or -1.
func (o SortOrder) Valid() bool {
	return o == SortAscending || o == SortDescending
}

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// ListQuery carries the paging and sorting parameters of a listing.
type ListQuery struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder SortOrder
}

// Skip is the number of rows preceding the requested page. The query must have
// passed validation, which bounds page so this cannot overflow.
func (q ListQuery) Skip() int64 {
	return int64(q.Page-1) * int64(q.Limit)
}

// Pagination is the metadata half of the page envelope.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// NewPagination computes pages = ceil(total/limit).
func NewPagination(page, limit int, total int64) Pagination {
	var pages int64
	if limit > 0 && total > 0 {
		pages = int64(math.Ceil(float64(total) / float64(limit)))
	}
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

// VehiclePage is the paginated envelope.
type VehiclePage struct {
	Data       []VehicleRecord `json:"data"`
	Pagination Pagination      `json:"pagination"`
}
