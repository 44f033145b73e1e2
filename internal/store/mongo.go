package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
)

const (
	defaultMongoDatabase   = "emotion_detection"
	defaultMongoCollection = "emotions_log"
	mongoDisconnectTimeout = 5 * time.Second
)

// MongoStore keeps events as documents shaped like emotion.Event.
type MongoStore struct {
	client    *mongo.Client
	coll      *mongo.Collection
	closeOnce sync.Once
	closeErr  error
}

// OpenMongo connects to uri. The database comes from the URI path and the
// collection from the "collection" query parameter, both with defaults.
func OpenMongo(ctx context.Context, uri string) (*MongoStore, error) {
	dbName, collName, cleanURI := mongoNames(uri)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cleanURI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	coll := client.Database(dbName).Collection(collName)
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "date", Value: 1}}},
		{Keys: bson.D{{Key: "metadata.session_id", Value: 1}}},
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo indexes: %w", err)
	}
	return &MongoStore{client: client, coll: coll}, nil
}

func mongoNames(uri string) (db, coll, clean string) {
	db, coll, clean = defaultMongoDatabase, defaultMongoCollection, uri
	u, err := url.Parse(uri)
	if err != nil {
		return
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		db = name
	}
	q := u.Query()
	if c := q.Get("collection"); c != "" {
		coll = c
		q.Del("collection")
		u.RawQuery = q.Encode()
		clean = u.String()
	}
	return
}

func (s *MongoStore) Insert(ctx context.Context, ev emotion.Event) error {
	if _, err := s.coll.InsertOne(ctx, ev); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *MongoStore) Recent(ctx context.Context, limit int) ([]emotion.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(int64(limit))
	return s.find(ctx, bson.D{}, opts)
}

func (s *MongoStore) Since(ctx context.Context, t time.Time) ([]emotion.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	return s.find(ctx, bson.D{{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: t.UTC()}}}}, opts)
}

func (s *MongoStore) ByDate(ctx context.Context, date string) ([]emotion.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	return s.find(ctx, bson.D{{Key: "date", Value: date}}, opts)
}

func (s *MongoStore) find(ctx context.Context, filter bson.D, opts *options.FindOptions) ([]emotion.Event, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	events := []emotion.Event{}
	if err = cur.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	for i := range events {
		events[i].Label = emotion.ParseLabel(string(events[i].Label))
		events[i].Timestamp = events[i].Timestamp.UTC()
	}
	return events, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects once.
func (s *MongoStore) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		defer cancel()
		s.closeErr = s.client.Disconnect(ctx)
	})
	return s.closeErr
}
