package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/pipehost/internal/testutil"
)

type MongoQueueTestSuite struct {
	suite.Suite
	queue *MongoQueue
}

func TestMongoQueueTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping MongoDB container tests in -short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(testutil.GetMongoURI(t)))
	if err != nil {
		t.Fatalf("mongo connect failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	if err := client.Ping(ctx, nil); err != nil {
		t.Fatalf("mongo ping failed: %v", err)
	}

	ts := new(MongoQueueTestSuite)
	ts.queue = NewMongoQueue(client, "pipehost_test", "launch_tasks")
	suite.Run(t, ts)
}

func (s *MongoQueueTestSuite) SetupTest() {
	_, err := s.queue.coll.DeleteMany(context.Background(), bson.M{})
	s.Require().NoError(err)
}

func (s *MongoQueueTestSuite) TestFIFO() {
	testQueueFIFO(s.T(), s.queue)
}

func (s *MongoQueueTestSuite) TestDequeueHonorsContext() {
	testQueueDequeueHonorsContext(s.T(), s.queue)
}

func (s *MongoQueueTestSuite) TestNotBefore() {
	testQueueNotBefore(s.T(), s.queue)
}
