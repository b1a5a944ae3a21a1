package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/pipehost/pkg/api"
)

// MongoStore is a RunStore and EventStore backed by MongoDB.
type MongoStore struct {
	runs   *mongo.Collection
	events *mongo.Collection
}

var (
	_ RunStore   = (*MongoStore)(nil)
	_ EventStore = (*MongoStore)(nil)
)

// NewMongoStore creates a Mongo-backed store.
// dbName defaults to "pipehost" if empty.
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	if dbName == "" {
		dbName = "pipehost"
	}
	db := client.Database(dbName)
	return &MongoStore{
		runs:   db.Collection("runs"),
		events: db.Collection("run_events"),
	}
}

// NewMongo returns a Persistence backed by client. Closing it disconnects
// the client.
func NewMongo(client *mongo.Client, dbName string) *Persistence {
	s := NewMongoStore(client, dbName)
	return &Persistence{
		Runs:   s,
		Events: s,
		Close: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		},
	}
}

type mongoRunDoc struct {
	ID           string `bson:"_id"`
	PipelineName string `bson:"pipeline_name"`
	Status       string `bson:"status"`
	CreatedAt    int64  `bson:"created_at"`
	UpdatedAt    int64  `bson:"updated_at"`
	Body         []byte `bson:"body,omitempty"`
}

type mongoEventDoc struct {
	RunID   string `bson:"run_id"`
	EventID string `bson:"event_id"`
	Type    string `bson:"type"`
	At      int64  `bson:"at"`
	Body    []byte `bson:"body"`
}

func (d *mongoRunDoc) toRun() (*api.PipelineRun, error) {
	run := &api.PipelineRun{
		RunID:        d.ID,
		PipelineName: d.PipelineName,
		Status:       api.RunStatus(d.Status),
		CreatedAt:    unixNano(d.CreatedAt),
		UpdatedAt:    unixNano(d.UpdatedAt),
	}
	if err := decodeRunBody(d.Body, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *MongoStore) SaveRun(ctx context.Context, run *api.PipelineRun) error {
	if run == nil {
		return errNilRun
	}
	body, err := encodeRunBody(run)
	if err != nil {
		return err
	}
	doc := mongoRunDoc{
		ID:           run.RunID,
		PipelineName: run.PipelineName,
		Status:       string(run.Status),
		CreatedAt:    nanos(run.CreatedAt),
		UpdatedAt:    nanos(run.UpdatedAt),
		Body:         body,
	}
	if _, err := s.runs.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrRunExists
		}
		return err
	}
	return nil
}

func (s *MongoStore) UpdateRun(ctx context.Context, run *api.PipelineRun) error {
	if run == nil {
		return errNilRun
	}
	body, err := encodeRunBody(run)
	if err != nil {
		return err
	}
	update := bson.M{
		"$set": bson.M{
			"pipeline_name": run.PipelineName,
			"status":        string(run.Status),
			"updated_at":    nanos(run.UpdatedAt),
			"body":          body,
		},
	}
	res, err := s.runs.UpdateByID(ctx, run.RunID, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return api.ErrRunNotFound
	}
	return nil
}

func (s *MongoStore) GetRun(ctx context.Context, runID string) (*api.PipelineRun, error) {
	var doc mongoRunDoc
	err := s.runs.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, api.ErrRunNotFound
		}
		return nil, err
	}
	return doc.toRun()
}

func (s *MongoStore) ListRuns(ctx context.Context, filter api.RunFilter) ([]*api.PipelineRun, error) {
	bfilter := bson.M{}
	if filter.PipelineName != "" {
		bfilter["pipeline_name"] = filter.PipelineName
	}
	if filter.Status != "" {
		bfilter["status"] = string(filter.Status)
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.runs.Find(ctx, bfilter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var results []*api.PipelineRun
	for cur.Next(ctx) {
		var doc mongoRunDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		run, err := doc.toRun()
		if err != nil {
			return nil, err
		}
		results = append(results, run)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *MongoStore) AppendEvent(ctx context.Context, ev *api.EngineEvent) error {
	body, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	_, err = s.events.InsertOne(ctx, mongoEventDoc{
		RunID:   ev.RunID,
		EventID: ev.EventID,
		Type:    string(ev.Type),
		At:      nanos(ev.At),
		Body:    body,
	})
	return err
}

func (s *MongoStore) ListEvents(ctx context.Context, runID string) ([]*api.EngineEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.events.Find(ctx, bson.M{"run_id": runID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*api.EngineEvent
	for cur.Next(ctx) {
		var doc mongoEventDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ev, err := decodeEvent(doc.Body)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, cur.Err()
}
