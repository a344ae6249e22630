package handler

import (
	"time"

	"vehicleinfo/internal/vehicle/models"
)

// ListResponse is the HTTP response for GET /vehicles.
type ListResponse struct {
	Data       []VehicleResponse  `json:"data"`
	Pagination PaginationResponse `json:"pagination"`
}

// VehicleResponse is one row. Every key is always present; absent values are null.
type VehicleResponse struct {
	LicensePlateNumber *string  `json:"license_plate_number"`
	RegistrationDate   *string  `json:"registration_date"`
	PlateColor         *string  `json:"plate_color"`
	OperationScope     *string  `json:"operation_scope"`
	Tonnage            *float64 `json:"tonnage"`
}

type PaginationResponse struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// FromPage converts a domain page to its wire form.
func FromPage(page *models.VehiclePage) *ListResponse {
	resp := &ListResponse{
		Data: make([]VehicleResponse, 0, len(page.Data)),
		Pagination: PaginationResponse{
			Page:  page.Pagination.Page,
			Limit: page.Pagination.Limit,
			Total: page.Pagination.Total,
			Pages: page.Pagination.Pages,
		},
	}
	for _, r := range page.Data {
		v := VehicleResponse{
			LicensePlateNumber: r.LicensePlateNumber,
			OperationScope:     r.OperationScope,
			Tonnage:            r.Tonnage,
		}
		if r.RegistrationDate != nil {
			s := r.RegistrationDate.UTC().Format(time.RFC3339)
			v.RegistrationDate = &s
		}
		if r.PlateColor != nil {
			s := string(*r.PlateColor)
			v.PlateColor = &s
		}
		resp.Data = append(resp.Data, v)
	}
	return resp
}
