package handler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"vehicleinfo/internal/vehicle/models"
	dErrors "vehicleinfo/pkg/domain-errors"
)

// Query parameter names accepted by GET /vehicles.
const (
	paramPage      = "page"
	paramLimit     = "limit"
	paramSortBy    = "sort_by"
	paramSortOrder = "sort_order"
)

// ParseListQuery reads the listing parameters, applying defaults for absent
// ones. Range checks are left to the service; non-integers are rejected here.
func ParseListQuery(values url.Values) (models.ListQuery, error) {
	q := models.ListQuery{
		Page:      models.DefaultPage,
		Limit:     models.DefaultLimit,
		SortBy:    strings.TrimSpace(values.Get(paramSortBy)),
		SortOrder: models.SortDescending,
	}

	var err error
	if q.Page, err = intParam(values, paramPage, q.Page); err != nil {
		return q, err
	}
	if q.Limit, err = intParam(values, paramLimit, q.Limit); err != nil {
		return q, err
	}
	order, err := intParam(values, paramSortOrder, int(q.SortOrder))
	if err != nil {
		return q, err
	}
	q.SortOrder = models.SortOrder(order)
	return q, nil
}

func intParam(values url.Values, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("%s must be an integer", name))
	}
	return n, nil
}
