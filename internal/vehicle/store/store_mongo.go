package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"vehicleinfo/pkg/platform/sentinel"
)

var aggregateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "vehicleinfo_store_aggregate_duration_seconds",
	Help:    "Latency of aggregation calls against the document store",
	Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
}, []string{"collection", "outcome"})

// MongoStore runs aggregations against a MongoDB database.
type MongoStore struct {
	db *mongo.Database
}

// NewMongoStore wraps a database handle whose client lifecycle is managed externally.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

// Aggregate executes pipeline on collection and materializes every result document.
// Connection-level failures wrap sentinel.ErrUnavailable; everything else wraps
// sentinel.ErrQuery.
func (s *MongoStore) Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline) ([]bson.Raw, error) {
	start := time.Now()
	docs, err := s.aggregate(ctx, collection, pipeline)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	aggregateDuration.WithLabelValues(collection, outcome).Observe(time.Since(start).Seconds())
	return docs, err
}

func (s *MongoStore) aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline) ([]bson.Raw, error) {
	cursor, err := s.db.Collection(collection).Aggregate(ctx, pipeline, options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer cursor.Close(context.WithoutCancel(ctx))

	var docs []bson.Raw
	for cursor.Next(ctx) {
		doc := make(bson.Raw, len(cursor.Current))
		copy(doc, cursor.Current)
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, classify(ctx, err)
	}
	return docs, nil
}

// classify separates "the store could not be reached" from "the store rejected
// the query".
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("aggregate aborted: %w", errors.Join(ctxErr, err))
	}
	if IsUnavailable(err) {
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %w", sentinel.ErrQuery, err)
}

// IsUnavailable reports whether err is a connection-level driver failure.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}
	// Server selection failures unwrap to a timeout.
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}
