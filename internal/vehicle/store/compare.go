package store

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Canonical BSON sort ranks; missing and null share the lowest rank.
const (
	rankNull   = 1
	rankNumber = 2
	rankString = 3
	rankObject = 4
	rankArray  = 5
	rankBinary = 6
	rankObjID  = 7
	rankBool   = 8
	rankDate   = 9
	rankOther  = 10
)

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case int, int32, int64, float64, float32, bson.Decimal128:
		return rankNumber
	case string:
		return rankString
	case bson.M, bson.D:
		return rankObject
	case []any, bson.A:
		return rankArray
	case []byte, bson.Binary:
		return rankBinary
	case bson.ObjectID:
		return rankObjID
	case bool:
		return rankBool
	case time.Time, bson.DateTime:
		return rankDate
	default:
		return rankOther
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case bson.Decimal128:
		f, err := decimalToFloat(n)
		return f, err == nil
	default:
		return 0, false
	}
}

func decimalToFloat(d bson.Decimal128) (float64, error) {
	var f float64
	_, err := fmt.Sscan(d.String(), &f)
	return f, err
}

func toTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case bson.DateTime:
		return t.Time()
	default:
		return time.Time{}
	}
}

// compareValues orders two values using BSON comparison order.
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch ra {
	case rankNull:
		return 0
	case rankNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case rankString:
		sa, sb := a.(string), b.(string)
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
		return 0
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		if ba == bb {
			return 0
		}
		if !ba {
			return -1
		}
		return 1
	case rankDate:
		return toTime(a).Compare(toTime(b))
	case rankObjID:
		return compareStrings(a.(bson.ObjectID).Hex(), b.(bson.ObjectID).Hex())
	case rankArray:
		aa, _ := toArray(a)
		ab, _ := toArray(b)
		for i := 0; i < len(aa) && i < len(ab); i++ {
			if c := compareValues(aa[i], ab[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(aa), len(ab))
	default:
		return compareStrings(fmt.Sprint(a), fmt.Sprint(b))
	}
}

// valuesEqual treats a missing value as null.
func valuesEqual(a any, aPresent bool, b any, bPresent bool) bool {
	if !aPresent {
		a = nil
	}
	if !bPresent {
		b = nil
	}
	return compareValues(a, b) == 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
