package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ironsheep/orthoscan/internal/apperr"
)

// MongoStore keeps reports in a MongoDB collection, one document per report
// keyed by its uuid.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// ConnectMongo connects to uri and pings the primary. Any failure is an
// apperr.PersistenceFailure.
func ConnectMongo(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, "connect mongo", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, apperr.E(apperr.PersistenceFailure, "ping mongo", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "doctor_id", Value: 1}}})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, apperr.E(apperr.PersistenceFailure, "create index", err)
	}
	return &MongoStore{client: client, coll: coll}, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Insert(ctx context.Context, r *Report) (string, error) {
	if r == nil {
		return "", apperr.E(apperr.PersistenceFailure, "insert report", fmt.Errorf("nil report"))
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, err := s.coll.InsertOne(ctx, r); err != nil {
		return "", apperr.E(apperr.PersistenceFailure, "insert report", err)
	}
	return r.ID, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Report, error) {
	var r Report
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.E(apperr.NotFound, "get report", fmt.Errorf("report %s", id))
	}
	if err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, "get report", err)
	}
	return &r, nil
}

func (s *MongoStore) ListByDoctor(ctx context.Context, doctorID string, limit int) ([]*Report, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	opts := options.Find().
		SetLimit(int64(limit)).
		SetProjection(bson.M{"image": 0})

	cur, err := s.coll.Find(ctx, bson.M{"doctor_id": doctorID}, opts)
	if err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, "list reports", err)
	}
	defer cur.Close(ctx)

	out := []*Report{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, apperr.E(apperr.PersistenceFailure, "list reports", err)
	}
	return out, nil
}
