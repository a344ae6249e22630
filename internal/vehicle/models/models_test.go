package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlateColor(t *testing.T) {
	tests := []struct {
		raw  string
		want PlateColor
		ok   bool
	}{
		{"蓝色", PlateColorBlue, true},
		{"黄色", PlateColorYellow, true},
		{"黑色", PlateColorBlack, true},
		{"白色", PlateColorWhite, true},
		{"绿色", PlateColorGreen, true},
		{" Yellow ", PlateColorYellow, true},
		{"紫色", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParsePlateColor(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewPagination(t *testing.T) {
	assert.Equal(t, Pagination{Page: 1, Limit: 10, Total: 0, Pages: 0}, NewPagination(1, 10, 0))
	assert.Equal(t, int64(1), NewPagination(1, 10, 10).Pages)
	assert.Equal(t, int64(2), NewPagination(1, 10, 11).Pages)
	assert.Equal(t, int64(25), NewPagination(3, 1, 25).Pages)
}

func TestListQuerySkip(t *testing.T) {
	assert.Equal(t, int64(0), ListQuery{Page: 1, Limit: 10}.Skip())
	assert.Equal(t, int64(1), ListQuery{Page: 2, Limit: 1}.Skip())
	assert.Equal(t, int64(200), ListQuery{Page: 3, Limit: 100}.Skip())
}

func TestVehicleRecordSerializesNullFields(t *testing.T) {
	plate := "粤A12345"
	body, err := json.Marshal(VehicleRecord{LicensePlateNumber: &plate})
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"license_plate_number": "粤A12345",
		"registration_date": null,
		"plate_color": null,
		"operation_scope": null,
		"tonnage": null
	}`, string(body))
}

func TestVehicleRecordIsEmpty(t *testing.T) {
	assert.True(t, VehicleRecord{}.IsEmpty())
	tonnage := 0.0
	assert.False(t, VehicleRecord{Tonnage: &tonnage}.IsEmpty())
}
