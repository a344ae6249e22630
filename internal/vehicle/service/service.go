package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"vehicleinfo/internal/vehicle/cache"
	"vehicleinfo/internal/vehicle/metrics"
	"vehicleinfo/internal/vehicle/models"
	"vehicleinfo/internal/vehicle/pipeline"
	dErrors "vehicleinfo/pkg/domain-errors"
	"vehicleinfo/pkg/platform/sentinel"
	"vehicleinfo/pkg/requestcontext"
)

// DefaultSortBy is applied when a query names no sort field.
const DefaultSortBy = pipeline.OutRegistrationDate

type Store interface {
	Aggregate(ctx context.Context, collection string, p mongo.Pipeline) ([]bson.Raw, error)
}

type Cache interface {
	Get(ctx context.Context, q models.ListQuery) ([]byte, error)
	Set(ctx context.Context, q models.ListQuery, payload []byte) error
	Delete(ctx context.Context, q models.ListQuery) error
}

// Service answers paginated vehicle listings over the joined collections.
type Service struct {
	store   Store
	cache   Cache
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithCache(c Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// New constructs a Service over store.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
		tracer: otel.Tracer("vehicleinfo/vehicle"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Normalize fills the default sort field and maps source-field aliases to
// their output key. Page, limit and order are left for Validate.
func Normalize(q models.ListQuery) models.ListQuery {
	q.SortBy = strings.TrimSpace(q.SortBy)
	if q.SortBy == "" {
		q.SortBy = DefaultSortBy
	}
	q.SortBy = pipeline.ResolveSortField(q.SortBy)
	return q
}

// Validate rejects out-of-range paging parameters and unknown sort orders.
func Validate(q models.ListQuery) error {
	if q.Page < 1 {
		return dErrors.New(dErrors.CodeBadRequest, "page must be a positive integer")
	}
	if q.Limit < 1 || q.Limit > models.MaxLimit {
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("limit must be between 1 and %d", models.MaxLimit))
	}
	// Skip must fit in an int64.
	if int64(q.Page-1) > math.MaxInt64/int64(q.Limit) {
		return dErrors.New(dErrors.CodeBadRequest, "page is out of range")
	}
	if !q.SortOrder.Valid() {
		return dErrors.New(dErrors.CodeBadRequest, "sort_order must be 1 or -1")
	}
	return nil
}

// List returns one page of the joined vehicle view plus the total row count.
func (s *Service) List(ctx context.Context, q models.ListQuery) (page *models.VehiclePage, err error) {
	q = Normalize(q)
	ctx, span := s.tracer.Start(ctx, "vehicle.Service.List", trace.WithAttributes(
		attribute.Int("vehicle.page", q.Page),
		attribute.Int("vehicle.limit", q.Limit),
		attribute.String("vehicle.sort_by", q.SortBy),
		attribute.Int("vehicle.sort_order", int(q.SortOrder)),
	))
	defer span.End()

	start := time.Now()
	source := "store"
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			s.metrics.ObserveRows(len(page.Data))
		}
		span.SetAttributes(attribute.String("vehicle.source", source))
		s.metrics.ObserveList(start, outcome, source)
	}()

	if err := Validate(q); err != nil {
		return nil, err
	}

	if cached, ok := s.fromCache(ctx, q); ok {
		source = "cache"
		return cached, nil
	}

	page, err = s.query(ctx, q)
	if err != nil {
		err = translate(err)
		s.logger.ErrorContext(ctx, "vehicle list failed",
			"request_id", requestcontext.RequestID(ctx),
			"page", q.Page,
			"limit", q.Limit,
			"sort_by", q.SortBy,
			"error", err,
		)
		return nil, err
	}

	s.toCache(ctx, q, page)
	return page, nil
}

// query runs the page and the count aggregations concurrently. Each gets its
// own pipeline value.
func (s *Service) query(ctx context.Context, q models.ListQuery) (*models.VehiclePage, error) {
	pagePipeline, err := pipeline.BuildVehiclePipeline()
	if err != nil {
		return nil, err
	}
	pagePipeline = pipeline.WithPage(pipeline.WithSort(pagePipeline, q.SortBy, int(q.SortOrder)), q.Skip(), int64(q.Limit))

	countPipeline, err := pipeline.BuildVehiclePipeline()
	if err != nil {
		return nil, err
	}
	countPipeline = pipeline.WithCount(countPipeline)

	var (
		rows  []bson.Raw
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ctx, span := s.tracer.Start(gctx, "vehicle.store.page")
		defer span.End()
		var err error
		rows, err = s.store.Aggregate(ctx, pipeline.BaseCollection, pagePipeline)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	})
	g.Go(func() error {
		ctx, span := s.tracer.Start(gctx, "vehicle.store.count")
		defer span.End()
		var err error
		total, err = s.count(ctx, countPipeline)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data := make([]models.VehicleRecord, 0, len(rows))
	for i, raw := range rows {
		rec, warnings, err := decodeRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", sentinel.ErrQuery, i, err)
		}
		for _, w := range warnings {
			s.logger.WarnContext(ctx, "vehicle row normalized with loss",
				"request_id", requestcontext.RequestID(ctx),
				"field", w.field,
				"value", w.value,
			)
		}
		data = append(data, rec)
	}

	return &models.VehiclePage{
		Data:       data,
		Pagination: models.NewPagination(q.Page, q.Limit, total),
	}, nil
}

func (s *Service) count(ctx context.Context, p mongo.Pipeline) (int64, error) {
	docs, err := s.store.Aggregate(ctx, pipeline.BaseCollection, p)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	v := docs[0].Lookup("total")
	n, ok := v.Int64OK()
	if !ok {
		var n32 int32
		n32, ok = v.Int32OK()
		n = int64(n32)
	}
	if !ok {
		return 0, fmt.Errorf("%w: count result has no integer total", sentinel.ErrQuery)
	}
	return n, nil
}

// fromCache returns a cached page. Cache failures are logged and treated as a
// miss; a payload that no longer decodes is evicted.
func (s *Service) fromCache(ctx context.Context, q models.ListQuery) (*models.VehiclePage, bool) {
	if s.cache == nil {
		return nil, false
	}
	payload, err := s.cache.Get(ctx, q)
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrNotFound):
		s.metrics.IncCacheMiss()
		return nil, false
	case errors.Is(err, cache.ErrCircuitOpen):
		s.metrics.IncCacheBypassed()
		return nil, false
	default:
		s.metrics.IncCacheError()
		s.logger.WarnContext(ctx, "vehicle cache read failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, false
	}

	var page models.VehiclePage
	if err := json.Unmarshal(payload, &page); err != nil || page.Data == nil {
		s.metrics.IncCacheError()
		s.logger.WarnContext(ctx, "evicting corrupt vehicle cache entry",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		if delErr := s.cache.Delete(ctx, q); delErr != nil && !errors.Is(delErr, cache.ErrCircuitOpen) {
			s.logger.WarnContext(ctx, "vehicle cache delete failed", "error", delErr)
		}
		return nil, false
	}
	s.metrics.IncCacheHit()
	return &page, true
}

func (s *Service) toCache(ctx context.Context, q models.ListQuery, page *models.VehiclePage) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(page)
	if err != nil {
		s.logger.WarnContext(ctx, "vehicle page not cacheable", "error", err)
		return
	}
	if err := s.cache.Set(ctx, q, payload); err != nil && !errors.Is(err, cache.ErrCircuitOpen) {
		s.metrics.IncCacheError()
		s.logger.WarnContext(ctx, "vehicle cache write failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}

// translate maps store and pipeline failures onto domain error codes.
func translate(err error) error {
	switch {
	case errors.Is(err, pipeline.ErrConfiguration):
		return dErrors.Wrap(err, dErrors.CodeInternal, "pipeline configuration error")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "request timed out")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "database unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeQueryFailed, "query failed")
	}
}
