package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"vehicleinfo/internal/vehicle/models"
	"vehicleinfo/internal/vehicle/pipeline"
)

// dateLayouts are the string spellings of the registration date found in the
// registration collection.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"20060102",
	"2006年1月2日",
	time.RFC3339,
}

// lossyValue records a stored value that normalized to null.
type lossyValue struct {
	field string
	value string
}

// decodeRecord normalizes one projected row. Values that cannot be interpreted
// for their column fail the row; unknown plate colours become null and are
// reported back as lossy. A row left with no non-null field fails too, since
// the store only filtered on the raw values.
func decodeRecord(raw bson.Raw) (models.VehicleRecord, []lossyValue, error) {
	var (
		rec   models.VehicleRecord
		lossy []lossyValue
		err   error
	)

	if rec.LicensePlateNumber, err = decodeString(raw, pipeline.OutLicensePlateNumber); err != nil {
		return rec, nil, err
	}
	if rec.OperationScope, err = decodeString(raw, pipeline.OutOperationScope); err != nil {
		return rec, nil, err
	}
	if rec.RegistrationDate, err = decodeDate(raw, pipeline.OutRegistrationDate); err != nil {
		return rec, nil, err
	}
	if rec.Tonnage, err = decodeNumber(raw, pipeline.OutTonnage); err != nil {
		return rec, nil, err
	}

	color, err := decodeString(raw, pipeline.OutPlateColor)
	if err != nil {
		return rec, nil, err
	}
	if color != nil {
		if c, ok := models.ParsePlateColor(*color); ok {
			rec.PlateColor = &c
		} else {
			lossy = append(lossy, lossyValue{field: pipeline.OutPlateColor, value: *color})
		}
	}
	if rec.IsEmpty() {
		return rec, nil, fmt.Errorf("no field left after normalization (raw %s %q)", pipeline.OutPlateColor, deref(color))
	}
	return rec, lossy, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// lookup returns the value of key, ok=false when it is absent or null.
func lookup(raw bson.Raw, key string) (bson.RawValue, bool) {
	v := raw.Lookup(key)
	if v.IsZero() || v.Type == bson.TypeNull || v.Type == bson.TypeUndefined {
		return v, false
	}
	return v, true
}

// numeric reads the three BSON numeric types as a float64.
func numeric(v bson.RawValue) (float64, bool) {
	if d, ok := v.DoubleOK(); ok {
		return d, true
	}
	if i, ok := v.Int32OK(); ok {
		return float64(i), true
	}
	if i, ok := v.Int64OK(); ok {
		return float64(i), true
	}
	return 0, false
}

func decodeString(raw bson.Raw, key string) (*string, error) {
	v, ok := lookup(raw, key)
	if !ok {
		return nil, nil
	}
	var s string
	switch v.Type {
	case bson.TypeString:
		s = strings.TrimSpace(v.StringValue())
	case bson.TypeInt32, bson.TypeInt64, bson.TypeDouble:
		n, _ := numeric(v)
		s = strconv.FormatFloat(n, 'f', -1, 64)
	default:
		return nil, fmt.Errorf("%s: unsupported BSON type %s", key, v.Type)
	}
	return &s, nil
}

func decodeDate(raw bson.Raw, key string) (*time.Time, error) {
	v, ok := lookup(raw, key)
	if !ok {
		return nil, nil
	}
	switch v.Type {
	case bson.TypeDateTime:
		t := v.Time().UTC()
		return &t, nil
	case bson.TypeString:
		t, err := parseDate(v.StringValue())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return &t, nil
	default:
		return nil, fmt.Errorf("%s: unsupported BSON type %s", key, v.Type)
	}
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func decodeNumber(raw bson.Raw, key string) (*float64, error) {
	v, ok := lookup(raw, key)
	if !ok {
		return nil, nil
	}
	var (
		n   float64
		err error
	)
	switch v.Type {
	case bson.TypeDouble, bson.TypeInt32, bson.TypeInt64:
		n, _ = numeric(v)
	case bson.TypeDecimal128:
		d, _ := v.Decimal128OK()
		if n, err = strconv.ParseFloat(d.String(), 64); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	case bson.TypeString:
		if n, err = strconv.ParseFloat(strings.TrimSpace(v.StringValue()), 64); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported BSON type %s", key, v.Type)
	}
	return &n, nil
}
