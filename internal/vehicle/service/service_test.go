package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/mock/gomock"

	"vehicleinfo/internal/vehicle/cache"
	"vehicleinfo/internal/vehicle/metrics"
	"vehicleinfo/internal/vehicle/models"
	"vehicleinfo/internal/vehicle/pipeline"
	"vehicleinfo/internal/vehicle/service/mocks"
	dErrors "vehicleinfo/pkg/domain-errors"
	"vehicleinfo/pkg/platform/sentinel"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,Cache

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	store   *mocks.MockStore
	cache   *mocks.MockCache
	metrics *metrics.Metrics
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.ctx = context.Background()
	s.store = mocks.NewMockStore(ctrl)
	s.cache = mocks.NewMockCache(ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.service = New(s.store, WithCache(s.cache), WithMetrics(s.metrics))
}

func defaultQuery() models.ListQuery {
	return models.ListQuery{Page: 1, Limit: 10, SortBy: "registration_date", SortOrder: models.SortDescending}
}

func mustRaw(s *ServiceSuite, d bson.D) bson.Raw {
	raw, err := bson.Marshal(d)
	s.Require().NoError(err)
	return raw
}

func lastStage(p mongo.Pipeline) bson.E {
	return p[len(p)-1][0]
}

func isCount(p mongo.Pipeline) bool {
	return lastStage(p).Key == "$count"
}

// expectStore answers the page and count aggregations, which arrive concurrently.
func (s *ServiceSuite) expectStore(rows []bson.Raw, total int32) {
	s.store.EXPECT().Aggregate(gomock.Any(), pipeline.BaseCollection, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, p mongo.Pipeline) ([]bson.Raw, error) {
			if isCount(p) {
				if total == 0 {
					return nil, nil
				}
				return []bson.Raw{mustRaw(s, bson.D{{Key: "total", Value: total}})}, nil
			}
			return rows, nil
		}).Times(2)
}

func (s *ServiceSuite) TestValidationRejectsBadParameters() {
	cases := map[string]models.ListQuery{
		"page zero":      {Page: 0, Limit: 10, SortOrder: models.SortDescending},
		"negative page":  {Page: -1, Limit: 10, SortOrder: models.SortDescending},
		"limit zero":     {Page: 1, Limit: 0, SortOrder: models.SortDescending},
		"limit too high": {Page: 1, Limit: 101, SortOrder: models.SortDescending},
		"sort order 0":   {Page: 1, Limit: 10, SortOrder: 0},
		"sort order 2":   {Page: 1, Limit: 10, SortOrder: 2},
		"max page":       {Page: math.MaxInt, Limit: 100, SortOrder: models.SortDescending},
		"skip overflow":  {Page: math.MaxInt/4 + 2, Limit: 4, SortOrder: models.SortDescending},
	}
	for name, q := range cases {
		s.Run(name, func() {
			page, err := s.service.List(s.ctx, q)
			s.Nil(page)
			s.True(dErrors.HasCode(err, dErrors.CodeBadRequest), "got %v", err)
		})
	}
}

func (s *ServiceSuite) TestPagePipelineAppendsSortSkipLimit() {
	q := models.ListQuery{Page: 3, Limit: 25, SortBy: "tonnage", SortOrder: models.SortAscending}
	s.cache.EXPECT().Get(gomock.Any(), q).Return(nil, sentinel.ErrNotFound)
	s.cache.EXPECT().Set(gomock.Any(), q, gomock.Any()).Return(nil)

	s.store.EXPECT().Aggregate(gomock.Any(), pipeline.BaseCollection, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, p mongo.Pipeline) ([]bson.Raw, error) {
			if isCount(p) {
				s.Equal("total", lastStage(p).Value)
				for _, stage := range p {
					s.NotEqual("$skip", stage[0].Key, "count must not be paginated")
				}
				return []bson.Raw{mustRaw(s, bson.D{{Key: "total", Value: int32(60)}})}, nil
			}
			n := len(p)
			s.Equal(bson.E{Key: "$sort", Value: bson.D{{Key: "tonnage", Value: 1}}}, p[n-3][0])
			s.Equal(bson.E{Key: "$skip", Value: int64(50)}, p[n-2][0])
			s.Equal(bson.E{Key: "$limit", Value: int64(25)}, p[n-1][0])
			return nil, nil
		}).Times(2)

	page, err := s.service.List(s.ctx, q)
	s.Require().NoError(err)
	s.Equal(models.Pagination{Page: 3, Limit: 25, Total: 60, Pages: 3}, page.Pagination)
	s.NotNil(page.Data)
	s.Empty(page.Data)
}

func (s *ServiceSuite) TestSortFieldDefaultsAndAliases() {
	cases := []struct{ in, want string }{
		{"", "registration_date"},
		{"登记日期", "registration_date"},
		{"吨(座)位", "tonnage"},
		{"no_such", "no_such"},
		{" tonnage ", "tonnage"},
	}
	for _, tc := range cases {
		in, want := tc.in, tc.want
		s.Run(in, func() {
			s.SetupTest()
			q := models.ListQuery{Page: 1, Limit: 10, SortBy: in, SortOrder: models.SortDescending}
			normalized := q
			normalized.SortBy = want
			s.cache.EXPECT().Get(gomock.Any(), normalized).Return(nil, sentinel.ErrNotFound)
			s.cache.EXPECT().Set(gomock.Any(), normalized, gomock.Any()).Return(nil)
			s.store.EXPECT().Aggregate(gomock.Any(), pipeline.BaseCollection, gomock.Any()).
				DoAndReturn(func(_ context.Context, _ string, p mongo.Pipeline) ([]bson.Raw, error) {
					if !isCount(p) {
						s.Equal(bson.D{{Key: want, Value: -1}}, p[len(p)-3][0].Value)
					}
					return nil, nil
				}).Times(2)

			_, err := s.service.List(s.ctx, q)
			s.Require().NoError(err)
		})
	}
}

func (s *ServiceSuite) TestDecodesAndNormalizesRows() {
	q := defaultQuery()
	s.cache.EXPECT().Get(gomock.Any(), q).Return(nil, sentinel.ErrNotFound)
	s.cache.EXPECT().Set(gomock.Any(), q, gomock.Any()).Return(nil)
	s.expectStore([]bson.Raw{
		mustRaw(s, bson.D{
			{Key: "license_plate_number", Value: " 粤B12345 "},
			{Key: "registration_date", Value: "2019-07-15"},
			{Key: "plate_color", Value: "黄色"},
			{Key: "operation_scope", Value: "道路普通货物运输"},
			{Key: "tonnage", Value: "31.5"},
		}),
		mustRaw(s, bson.D{
			{Key: "license_plate_number", Value: "粤B00001"},
			{Key: "registration_date", Value: time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)},
			{Key: "plate_color", Value: "紫色"},
			{Key: "operation_scope", Value: nil},
			{Key: "tonnage", Value: int32(20)},
		}),
	}, 2)

	page, err := s.service.List(s.ctx, q)
	s.Require().NoError(err)
	s.Require().Len(page.Data, 2)

	first := page.Data[0]
	s.Equal("粤B12345", *first.LicensePlateNumber)
	s.Equal(time.Date(2019, 7, 15, 0, 0, 0, 0, time.UTC), *first.RegistrationDate)
	s.Equal(models.PlateColorYellow, *first.PlateColor)
	s.Equal("道路普通货物运输", *first.OperationScope)
	s.InDelta(31.5, *first.Tonnage, 1e-9)

	second := page.Data[1]
	s.Nil(second.PlateColor, "unknown colour normalizes to null")
	s.Nil(second.OperationScope)
	s.InDelta(20.0, *second.Tonnage, 1e-9)
	s.Equal(models.Pagination{Page: 1, Limit: 10, Total: 2, Pages: 1}, page.Pagination)
}

func (s *ServiceSuite) TestUnparsableDateIsQueryFailure() {
	q := defaultQuery()
	s.cache.EXPECT().Get(gomock.Any(), q).Return(nil, sentinel.ErrNotFound)
	s.expectStore([]bson.Raw{
		mustRaw(s, bson.D{{Key: "license_plate_number", Value: "粤B1"}, {Key: "registration_date", Value: "last tuesday"}}),
	}, 1)

	_, err := s.service.List(s.ctx, q)
	s.True(dErrors.Is(err, dErrors.CodeQueryFailed), "got %v", err)
}

func (s *ServiceSuite) TestLargestPageWithinRangeReachesStore() {
	q := models.ListQuery{Page: math.MaxInt/100 + 1, Limit: 100, SortBy: "registration_date", SortOrder: models.SortAscending}
	s.cache.EXPECT().Get(gomock.Any(), q).Return(nil, sentinel.ErrNotFound)
	s.cache.EXPECT().Set(gomock.Any(), q, gomock.Any()).Return(nil)
	s.store.EXPECT().Aggregate(gomock.Any(), pipeline.BaseCollection, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, p mongo.Pipeline) ([]bson.Raw, error) {
			if !isCount(p) {
				skip := p[len(p)-2][0]
				s.Equal("$skip", skip.Key)
				s.GreaterOrEqual(skip.Value.(int64), int64(0))
			}
			return nil, nil
		}).Times(2)

	page, err := s.service.List(s.ctx, q)
	s.Require().NoError(err)
	s.Empty(page.Data)
}

func (s *ServiceSuite) TestRegionalDateSpellings() {
	for _, raw := range []string{"20200101", "2020年1月1日", "2020年01月01日"} {
		s.Run(raw, func() {
			s.SetupTest()
			q := defaultQuery()
			s.cache.EXPECT().Get(gomock.Any(), q).Return(nil, sentinel.ErrNotFound)
			s.cache.EXPECT().Set(gomock.Any(), q, gomock.Any()).Return(nil)
			s.expectStore([]bson.Raw{
				mustRaw(s, bson.D{{Key: "license_plate_number", Value: "粤B1"}, {Key: "registration_date", Value: raw}}),
			}, 1)

			page, err := s.service.List(s.ctx, q)
			s.Require().NoError(err)
			s.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), *page.Data[0].RegistrationDate)
		})
	}
}

func (s *ServiceSuite) TestRowEmptiedByNormalizationIsQueryFailure() {
	q := defaultQuery()
	s.cache.EXPECT().Get(gomock.Any(), q).Return(nil, sentinel.ErrNotFound)
	s.expectStore([]bson.Raw{
		mustRaw(s, bson.D{
			{Key: "license_plate_number", Value: nil},
			{Key: "registration_date", Value: nil},
			{Key: "plate_color", Value: "红色"},
			{Key: "operation_scope", Value: nil},
			{Key: "tonnage", Value: nil},
		}),
	}, 1)

	page, err := s.service.List(s.ctx, q)
	s.Nil(page)
	s.True(dErrors.Is(err, dErrors.CodeQueryFailed), "got %v", err)
	s.Contains(err.Error(), "红色")
}

func (s *ServiceSuite) TestStoreFailuresMapToCodes() {
	cases := []struct {
		name string
		err  error
		code dErrors.Code
	}{
		{"unavailable", errors.Join(sentinel.ErrUnavailable, errors.New("server selection timeout")), dErrors.CodeUnavailable},
		{"query", errors.Join(sentinel.ErrQuery, errors.New("$sort key must not be empty")), dErrors.CodeQueryFailed},
		{"deadline", context.DeadlineExceeded, dErrors.CodeTimeout},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.SetupTest()
			q := defaultQuery()
			s.cache.EXPECT().Get(gomock.Any(), q).Return(nil, sentinel.ErrNotFound)
			s.store.EXPECT().Aggregate(gomock.Any(), pipeline.BaseCollection, gomock.Any()).
				Return(nil, tc.err).MinTimes(1).MaxTimes(2)

			page, err := s.service.List(s.ctx, q)
			s.Nil(page)
			s.True(dErrors.Is(err, tc.code), "got %v", err)
			s.ErrorIs(err, tc.err)
		})
	}
}

func (s *ServiceSuite) TestCacheHitSkipsStore() {
	q := defaultQuery()
	plate := "粤C88888"
	cached, err := json.Marshal(models.VehiclePage{
		Data:       []models.VehicleRecord{{LicensePlateNumber: &plate}},
		Pagination: models.NewPagination(1, 10, 1),
	})
	s.Require().NoError(err)
	s.cache.EXPECT().Get(gomock.Any(), q).Return(cached, nil)

	page, err := s.service.List(s.ctx, q)
	s.Require().NoError(err)
	s.Require().Len(page.Data, 1)
	s.Equal(plate, *page.Data[0].LicensePlateNumber)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.CacheHits))
}

func (s *ServiceSuite) TestCacheMissStoresPage() {
	q := defaultQuery()
	s.cache.EXPECT().Get(gomock.Any(), q).Return(nil, sentinel.ErrNotFound)
	s.expectStore([]bson.Raw{mustRaw(s, bson.D{{Key: "license_plate_number", Value: "粤A1"}})}, 1)
	s.cache.EXPECT().Set(gomock.Any(), q, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ models.ListQuery, payload []byte) error {
			var page models.VehiclePage
			s.Require().NoError(json.Unmarshal(payload, &page))
			s.Len(page.Data, 1)
			s.EqualValues(1, page.Pagination.Total)
			return nil
		})

	_, err := s.service.List(s.ctx, q)
	s.Require().NoError(err)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.CacheMisses))
}

func (s *ServiceSuite) TestCorruptCacheEntryIsEvictedAndRecomputed() {
	q := defaultQuery()
	gomock.InOrder(
		s.cache.EXPECT().Get(gomock.Any(), q).Return([]byte("{not json"), nil),
		s.cache.EXPECT().Delete(gomock.Any(), q).Return(nil),
	)
	s.expectStore(nil, 0)
	s.cache.EXPECT().Set(gomock.Any(), q, gomock.Any()).Return(nil)

	page, err := s.service.List(s.ctx, q)
	s.Require().NoError(err)
	s.EqualValues(0, page.Pagination.Total)
	s.EqualValues(0, page.Pagination.Pages)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.CacheErrors))
}

func (s *ServiceSuite) TestCacheFailuresNeverFailTheRequest() {
	q := defaultQuery()
	s.cache.EXPECT().Get(gomock.Any(), q).Return(nil, errors.New("i/o timeout"))
	s.expectStore(nil, 0)
	s.cache.EXPECT().Set(gomock.Any(), q, gomock.Any()).Return(errors.New("i/o timeout"))

	_, err := s.service.List(s.ctx, q)
	s.Require().NoError(err)
	s.Equal(2.0, promtest.ToFloat64(s.metrics.CacheErrors))
}

func (s *ServiceSuite) TestOpenCacheCircuitIsBypassed() {
	q := defaultQuery()
	s.cache.EXPECT().Get(gomock.Any(), q).Return(nil, cache.ErrCircuitOpen)
	s.expectStore(nil, 0)
	s.cache.EXPECT().Set(gomock.Any(), q, gomock.Any()).Return(cache.ErrCircuitOpen)

	_, err := s.service.List(s.ctx, q)
	s.Require().NoError(err)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.CacheBypassed))
	s.Equal(0.0, promtest.ToFloat64(s.metrics.CacheErrors))
}

func (s *ServiceSuite) TestWithoutCache() {
	svc := New(s.store)
	s.expectStore(nil, 0)

	page, err := svc.List(s.ctx, defaultQuery())
	s.Require().NoError(err)
	s.Empty(page.Data)
}
