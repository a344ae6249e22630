//go:build integration

package containers

import (
	"context"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// MongoContainer wraps a testcontainers MongoDB instance shared by the package's tests.
type MongoContainer struct {
	Container testcontainers.Container
	URI       string
	Client    *mongo.Client
}

var (
	mongoOnce sync.Once
	mongoC    *MongoContainer
	mongoErr  error
)

// Mongo starts (once per test binary) a MongoDB container and returns it.
func Mongo(t *testing.T) *MongoContainer {
	t.Helper()
	mongoOnce.Do(func() {
		mongoC, mongoErr = startMongo(context.Background())
	})
	if mongoErr != nil {
		t.Fatalf("failed to start mongodb container: %v", mongoErr)
	}
	return mongoC
}

func startMongo(ctx context.Context) (*MongoContainer, error) {
	container, err := tcmongo.Run(ctx, "mongo:7")
	if err != nil {
		return nil, err
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &MongoContainer{Container: container, URI: uri, Client: client}, nil
}

// Database returns a handle to a database named for the calling test and drops
// it on cleanup.
func (m *MongoContainer) Database(t *testing.T, name string) *mongo.Database {
	t.Helper()
	db := m.Client.Database(name)
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
	})
	return db
}
