package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/loremaster/internal/session"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoCollection = "sessions"

type sessionDoc struct {
	SessionID    string    `bson:"_id"`
	State        string    `bson:"state"`
	LastActivity time.Time `bson:"last_activity"`
}

// MongoStore persists sessions in a MongoDB collection. With a TTL set, a
// TTL index on last_activity lets the server reap idle sessions; Load also
// checks the age since the reaper runs only periodically.
type MongoStore struct {
	opts   Options
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

// NewMongoStore connects to uri and prepares the sessions collection in
// database.
func NewMongoStore(ctx context.Context, uri, database string, opts Options) (*MongoStore, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: mongo uri is required", ErrInvalidConfig)
	}
	if database == "" {
		database = "loremaster"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	coll := client.Database(database).Collection(mongoCollection)
	if opts.TTL > 0 {
		_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "last_activity", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(opts.TTL.Seconds())),
		})
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("creating session ttl index: %w", err)
		}
	}

	return &MongoStore{opts: opts, client: client, coll: coll, now: time.Now}, nil
}

func (s *MongoStore) Load(ctx context.Context, id string) (*session.State, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}

	var doc sessionDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return s.opts.fresh(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	if s.opts.expired(doc.LastActivity, s.now()) {
		if err := s.Delete(ctx, id); err != nil {
			return nil, err
		}
		return s.opts.fresh(), nil
	}
	return decodeRecord(Record{SessionID: id, State: []byte(doc.State)})
}

func (s *MongoStore) Save(ctx context.Context, id string, st *session.State) error {
	rec, err := newRecord(id, st, s.now())
	if err != nil {
		return err
	}
	doc := sessionDoc{SessionID: rec.SessionID, State: string(rec.State), LastActivity: rec.LastActivity}
	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("saving session %s: %w", id, err)
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
