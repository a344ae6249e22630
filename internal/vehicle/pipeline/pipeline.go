// Package pipeline builds the aggregation that joins the vehicle licence,
// registration and road transport licence collections into one flat row per
// vehicle. The join topology is fixed; callers append sort and paging stages.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Collections.
const (
	BaseCollection             = "Vehicle_License_Info"
	RegistrationCollection     = "Vehicle_Registration_Info"
	TransportLicenseCollection = "Road_Transport_License_Info"
)

// Source field names. The VIN and the plate number are named differently in
// each collection.
const (
	BasePlateField = "号牌号码"
	BaseVINField   = "车辆识别代号"

	RegistrationVINField  = "车辆识别代号/车架号"
	RegistrationDateField = "登记日期"
	PlateColorField       = "车牌颜色"

	TransportPlateField = "车牌号码"
	OperationScopeField = "经营范围"
	TonnageField        = "吨(座)位"
)

// Intermediate join targets.
const (
	RegistrationAs = "registration_info"
	TransportAs    = "transport_info"
)

// Output keys of the final projection.
const (
	OutLicensePlateNumber = "license_plate_number"
	OutRegistrationDate   = "registration_date"
	OutPlateColor         = "plate_color"
	OutOperationScope     = "operation_scope"
	OutTonnage            = "tonnage"
)

// OutputFields lists the projected keys in response order.
var OutputFields = []string{
	OutLicensePlateNumber,
	OutRegistrationDate,
	OutPlateColor,
	OutOperationScope,
	OutTonnage,
}

// sourceAliases maps source field names callers may still sort by to the
// projected output key.
var sourceAliases = map[string]string{
	BasePlateField:        OutLicensePlateNumber,
	RegistrationDateField: OutRegistrationDate,
	PlateColorField:       OutPlateColor,
	OperationScopeField:   OutOperationScope,
	TonnageField:          OutTonnage,
}

// ErrConfiguration marks a structurally invalid pipeline.
var ErrConfiguration = errors.New("pipeline configuration error")

// BuildVehiclePipeline returns a fresh copy of the join pipeline.
func BuildVehiclePipeline() (mongo.Pipeline, error) {
	p := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: BasePlateField, Value: bson.D{{Key: "$exists", Value: true}}},
		}}},

		lookupStage(RegistrationCollection, BaseVINField, RegistrationVINField, RegistrationAs,
			RegistrationDateField, RegistrationDateField, PlateColorField),
		unwindStage(RegistrationAs),

		lookupStage(TransportLicenseCollection, BasePlateField, TransportPlateField, TransportAs,
			TonnageField, OperationScopeField, TonnageField),
		unwindStage(TransportAs),

		{{Key: "$match", Value: bson.D{
			{Key: "$or", Value: bson.A{
				notNull(BasePlateField),
				notNull(RegistrationAs + "." + RegistrationDateField),
				notNull(RegistrationAs + "." + PlateColorField),
				notNull(TransportAs + "." + OperationScopeField),
				notNull(TransportAs + "." + TonnageField),
			}},
		}}},

		{{Key: "$project", Value: bson.D{
			{Key: OutLicensePlateNumber, Value: ifNull("$" + BasePlateField)},
			{Key: OutRegistrationDate, Value: ifNull("$" + RegistrationAs + "." + RegistrationDateField)},
			{Key: OutPlateColor, Value: ifNull("$" + RegistrationAs + "." + PlateColorField)},
			{Key: OutOperationScope, Value: ifNull("$" + TransportAs + "." + OperationScopeField)},
			{Key: OutTonnage, Value: ifNull("$" + TransportAs + "." + TonnageField)},
			{Key: "_id", Value: 0},
		}}},
	}

	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// lookupStage is a left join whose sub-pipeline keeps only candidates carrying
// requiredField and projects them down to fields.
func lookupStage(from, localField, foreignField, as, requiredField string, fields ...string) bson.D {
	projection := bson.D{}
	for _, f := range fields {
		projection = append(projection, bson.E{Key: f, Value: 1})
	}
	projection = append(projection, bson.E{Key: "_id", Value: 0})

	return bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: from},
		{Key: "localField", Value: localField},
		{Key: "foreignField", Value: foreignField},
		{Key: "as", Value: as},
		{Key: "pipeline", Value: bson.A{
			bson.D{{Key: "$match", Value: bson.D{
				{Key: requiredField, Value: bson.D{{Key: "$exists", Value: true}}},
			}}},
			bson.D{{Key: "$project", Value: projection}},
		}},
	}}}
}

func unwindStage(field string) bson.D {
	return bson.D{{Key: "$unwind", Value: bson.D{
		{Key: "path", Value: "$" + field},
		{Key: "preserveNullAndEmptyArrays", Value: true},
	}}}
}

func notNull(path string) bson.D {
	return bson.D{{Key: path, Value: bson.D{{Key: "$ne", Value: nil}}}}
}

func ifNull(expr string) bson.D {
	return bson.D{{Key: "$ifNull", Value: bson.A{expr, nil}}}
}

// WithSort appends a sort stage. field is passed through to the store unless
// it names a known source field, in which case it is mapped to the output key.
func WithSort(p mongo.Pipeline, field string, order int) mongo.Pipeline {
	return append(p, bson.D{{Key: "$sort", Value: bson.D{{Key: ResolveSortField(field), Value: order}}}})
}

// WithPage appends skip and limit stages.
func WithPage(p mongo.Pipeline, skip, limit int64) mongo.Pipeline {
	return append(p,
		bson.D{{Key: "$skip", Value: skip}},
		bson.D{{Key: "$limit", Value: limit}},
	)
}

// WithCount appends a count stage emitting {total: n}.
func WithCount(p mongo.Pipeline) mongo.Pipeline {
	return append(p, bson.D{{Key: "$count", Value: "total"}})
}

// ResolveSortField maps a source field alias to its output key.
func ResolveSortField(field string) string {
	if out, ok := sourceAliases[strings.TrimSpace(field)]; ok {
		return out
	}
	return field
}

var knownStages = map[string]bool{
	"$match":   true,
	"$lookup":  true,
	"$unwind":  true,
	"$project": true,
	"$sort":    true,
	"$skip":    true,
	"$limit":   true,
	"$count":   true,
}

// Validate checks that every stage is a single known operator with a
// well-formed body.
func Validate(p mongo.Pipeline) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty pipeline", ErrConfiguration)
	}
	for i, stage := range p {
		if len(stage) != 1 {
			return fmt.Errorf("%w: stage %d has %d operators", ErrConfiguration, i, len(stage))
		}
		op := stage[0].Key
		if !knownStages[op] {
			return fmt.Errorf("%w: stage %d: unknown operator %q", ErrConfiguration, i, op)
		}
		if op == "$lookup" {
			if err := validateLookup(stage[0].Value); err != nil {
				return fmt.Errorf("%w: stage %d: %v", ErrConfiguration, i, err)
			}
		}
	}
	return nil
}

func validateLookup(v any) error {
	body, ok := v.(bson.D)
	if !ok {
		return fmt.Errorf("$lookup body must be a document")
	}
	seen := map[string]bool{}
	for _, e := range body {
		seen[e.Key] = true
		if s, isString := e.Value.(string); isString && s == "" {
			return fmt.Errorf("$lookup.%s must not be empty", e.Key)
		}
	}
	for _, required := range []string{"from", "localField", "foreignField", "as"} {
		if !seen[required] {
			return fmt.Errorf("$lookup missing %q", required)
		}
	}
	return nil
}
