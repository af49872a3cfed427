package cache

import (
	"context"
	stderrors "errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/matzehuels/zkbclient/pkg/errors"
)

// MongoConfig configures a MongoStore.
type MongoConfig struct {
	URI        string // default "mongodb://localhost:27017"
	Database   string // default "zkb"
	Collection string // default "documents"
}

// MongoStore keeps each document as one MongoDB document with _id = key.
// The serialized document is stored verbatim in the body field.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type mongoDocument struct {
	Key       string    `bson:"_id"`
	Body      []byte    `bson:"body"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoStore connects to MongoDB and verifies the connection with a ping.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "zkb"
	}
	if cfg.Collection == "" {
		cfg.Collection = "documents"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCache, err, "connect to mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(errors.ErrCodeCache, err, "ping mongodb")
	}
	return &MongoStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

// Load returns the document stored under key.
func (s *MongoStore) Load(ctx context.Context, key string) (*Document, error) {
	var md mongoDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&md)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCache, err, "load document %s", key)
	}
	return decode(key, md.Body)
}

// Save replaces the document stored under key, inserting it if missing.
func (s *MongoStore) Save(ctx context.Context, key string, doc *Document) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	md := mongoDocument{Key: key, Body: body, UpdatedAt: time.Now().UTC()}
	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": key}, md, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrap(errors.ErrCodeCache, err, "save document %s", key)
	}
	return nil
}

// Keys lists all stored keys.
func (s *MongoStore) Keys(ctx context.Context) ([]string, error) {
	cur, err := s.coll.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCache, err, "list documents")
	}
	defer cur.Close(ctx)

	var keys []string
	for cur.Next(ctx) {
		var row struct {
			Key string `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, errors.Wrap(errors.ErrCodeCache, err, "list documents")
		}
		keys = append(keys, row.Key)
	}
	return keys, cur.Err()
}

// Clear deletes every document in the collection.
func (s *MongoStore) Clear(ctx context.Context) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeCache, err, "clear documents")
	}
	return int(res.DeletedCount), nil
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

// Ensure MongoStore implements Store, Lister and Clearer.
var (
	_ Store   = (*MongoStore)(nil)
	_ Lister  = (*MongoStore)(nil)
	_ Clearer = (*MongoStore)(nil)
)
