package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"vehicleinfo/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *InMemoryStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemoryStore()
}

func (s *InMemoryStoreSuite) aggregate(collection string, p mongo.Pipeline) []bson.M {
	raws, err := s.store.Aggregate(s.ctx, collection, p)
	s.Require().NoError(err)
	out := make([]bson.M, 0, len(raws))
	for _, raw := range raws {
		var m bson.M
		s.Require().NoError(bson.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

func (s *InMemoryStoreSuite) TestMissingCollectionIsEmpty() {
	docs := s.aggregate("nope", mongo.Pipeline{{{Key: "$match", Value: bson.D{}}}})
	s.Empty(docs)
}

func (s *InMemoryStoreSuite) TestExistsDistinguishesNullFromMissing() {
	s.store.Insert("c",
		bson.M{"name": "a", "plate": "P1"},
		bson.M{"name": "b", "plate": nil},
		bson.M{"name": "c"},
	)

	exists := s.aggregate("c", mongo.Pipeline{{{Key: "$match", Value: bson.D{
		{Key: "plate", Value: bson.D{{Key: "$exists", Value: true}}},
	}}}})
	s.Len(exists, 2)

	notNull := s.aggregate("c", mongo.Pipeline{{{Key: "$match", Value: bson.D{
		{Key: "plate", Value: bson.D{{Key: "$ne", Value: nil}}},
	}}}})
	s.Require().Len(notNull, 1)
	s.Equal("a", notNull[0]["name"])
}

func (s *InMemoryStoreSuite) TestOrMatchesAnyClause() {
	s.store.Insert("c", bson.M{"a": 1}, bson.M{"b": 2}, bson.M{"c": 3})

	docs := s.aggregate("c", mongo.Pipeline{{{Key: "$match", Value: bson.D{
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "a", Value: bson.D{{Key: "$ne", Value: nil}}}},
			bson.D{{Key: "b", Value: bson.D{{Key: "$ne", Value: nil}}}},
		}},
	}}}})
	s.Len(docs, 2)
}

func (s *InMemoryStoreSuite) TestLookupAndOuterUnwind() {
	s.store.Insert("base", bson.M{"k": "x"}, bson.M{"k": "y"})
	s.store.Insert("other",
		bson.M{"fk": "x", "v": 1},
		bson.M{"fk": "x", "v": 2},
		bson.M{"fk": "x"},
	)

	docs := s.aggregate("base", mongo.Pipeline{
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "other"},
			{Key: "localField", Value: "k"},
			{Key: "foreignField", Value: "fk"},
			{Key: "as", Value: "joined"},
			{Key: "pipeline", Value: bson.A{
				bson.D{{Key: "$match", Value: bson.D{{Key: "v", Value: bson.D{{Key: "$exists", Value: true}}}}}},
				bson.D{{Key: "$project", Value: bson.D{{Key: "v", Value: 1}, {Key: "_id", Value: 0}}}},
			}},
		}}},
		{{Key: "$unwind", Value: bson.D{{Key: "path", Value: "$joined"}, {Key: "preserveNullAndEmptyArrays", Value: true}}}},
		{{Key: "$sort", Value: bson.D{{Key: "k", Value: 1}, {Key: "joined.v", Value: 1}}}},
	})

	s.Require().Len(docs, 3)
	s.Equal("x", docs[0]["k"])
	s.EqualValues(1, subField(docs[0]["joined"], "v"))
	s.EqualValues(2, subField(docs[1]["joined"], "v"))
	s.Equal("y", docs[2]["k"])
	_, hasJoined := docs[2]["joined"]
	s.False(hasJoined, "unmatched document keeps no joined field")
}

func (s *InMemoryStoreSuite) TestInnerUnwindDropsUnmatched() {
	s.store.Insert("base", bson.M{"arr": bson.A{}}, bson.M{"arr": bson.A{"a", "b"}}, bson.M{})

	docs := s.aggregate("base", mongo.Pipeline{{{Key: "$unwind", Value: "$arr"}}})
	s.Len(docs, 2)
}

func (s *InMemoryStoreSuite) TestProjectIfNullEmitsExplicitNull() {
	s.store.Insert("c", bson.M{"_id": 1, "a": "kept"})

	docs := s.aggregate("c", mongo.Pipeline{{{Key: "$project", Value: bson.D{
		{Key: "out_a", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$a", nil}}}},
		{Key: "out_b", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$missing", nil}}}},
		{Key: "_id", Value: 0},
	}}}})

	s.Require().Len(docs, 1)
	s.Equal(bson.M{"out_a": "kept", "out_b": nil}, docs[0])
}

func (s *InMemoryStoreSuite) TestSortUsesBSONTypeOrder() {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.store.Insert("c",
		bson.M{"id": "date", "v": now},
		bson.M{"id": "str", "v": "abc"},
		bson.M{"id": "num", "v": 5.5},
		bson.M{"id": "null", "v": nil},
		bson.M{"id": "missing"},
		bson.M{"id": "int", "v": int32(3)},
	)

	docs := s.aggregate("c", mongo.Pipeline{{{Key: "$sort", Value: bson.D{{Key: "v", Value: 1}}}}})
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d["id"].(string))
	}
	s.Equal([]string{"null", "missing", "int", "num", "str", "date"}, ids)

	docs = s.aggregate("c", mongo.Pipeline{{{Key: "$sort", Value: bson.D{{Key: "v", Value: -1}}}}})
	s.Equal("date", docs[0]["id"])
}

func (s *InMemoryStoreSuite) TestSkipLimitAndCount() {
	for i := 0; i < 5; i++ {
		s.store.Insert("c", bson.M{"n": i})
	}

	docs := s.aggregate("c", mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "n", Value: 1}}}},
		{{Key: "$skip", Value: int64(1)}},
		{{Key: "$limit", Value: int64(2)}},
	})
	s.Require().Len(docs, 2)
	s.EqualValues(1, docs[0]["n"])
	s.EqualValues(2, docs[1]["n"])

	docs = s.aggregate("c", mongo.Pipeline{{{Key: "$skip", Value: int64(10)}}})
	s.Empty(docs)

	docs = s.aggregate("c", mongo.Pipeline{{{Key: "$count", Value: "total"}}})
	s.Require().Len(docs, 1)
	s.EqualValues(5, docs[0]["total"])

	docs = s.aggregate("empty", mongo.Pipeline{{{Key: "$count", Value: "total"}}})
	s.Empty(docs)
}

func (s *InMemoryStoreSuite) TestMalformedStagesReturnQueryError() {
	s.store.Insert("c", bson.M{"a": 1})

	cases := map[string]mongo.Pipeline{
		"unknown stage":  {{{Key: "$facet", Value: bson.D{}}}},
		"empty sort key": {{{Key: "$sort", Value: bson.D{{Key: "", Value: 1}}}}},
		"bad sort order": {{{Key: "$sort", Value: bson.D{{Key: "a", Value: 2}}}}},
		"zero limit":     {{{Key: "$limit", Value: int64(0)}}},
		"negative skip":  {{{Key: "$skip", Value: int64(-1)}}},
		"bad operator":   {{{Key: "$match", Value: bson.D{{Key: "a", Value: bson.D{{Key: "$regexish", Value: 1}}}}}}},
	}
	for name, p := range cases {
		s.Run(name, func() {
			_, err := s.store.Aggregate(s.ctx, "c", p)
			s.Require().Error(err)
			s.ErrorIs(err, sentinel.ErrQuery)
		})
	}
}

func (s *InMemoryStoreSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.store.Aggregate(ctx, "c", mongo.Pipeline{})
	s.Require().Error(err)
	s.ErrorIs(err, context.Canceled)
}

func TestLoadExtJSON(t *testing.T) {
	store := NewInMemoryStore()
	seed := `{
		"Vehicle_License_Info": [{"号牌号码": "粤A12345", "车辆识别代号": "VIN1"}],
		"Vehicle_Registration_Info": [{"车辆识别代号/车架号": "VIN1", "登记日期": {"$date": "2020-05-01T00:00:00Z"}, "车牌颜色": "蓝色"}]
	}`
	require.NoError(t, store.LoadExtJSON(strings.NewReader(seed)))

	raws, err := store.Aggregate(context.Background(), "Vehicle_Registration_Info", mongo.Pipeline{{{Key: "$match", Value: bson.D{}}}})
	require.NoError(t, err)
	require.Len(t, raws, 1)

	date := raws[0].Lookup("登记日期")
	assert.Equal(t, bson.TypeDateTime, date.Type)
	assert.Equal(t, time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC), date.Time().UTC())
}

func TestLoadExtJSONRejectsNonArrayCollections(t *testing.T) {
	store := NewInMemoryStore()
	err := store.LoadExtJSON(strings.NewReader(`{"Vehicle_License_Info": {"号牌号码": "x"}}`))
	require.Error(t, err)
}

func subField(v any, key string) any {
	switch d := v.(type) {
	case bson.D:
		for _, e := range d {
			if e.Key == key {
				return e.Value
			}
		}
	case bson.M:
		return d[key]
	}
	return nil
}
