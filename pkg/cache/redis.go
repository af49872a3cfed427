package cache

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/matzehuels/zkbclient/pkg/errors"
)

// DefaultRedisPrefix namespaces documents inside a shared Redis database.
const DefaultRedisPrefix = "zkb:doc:"

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string // host:port, default "localhost:6379"
	Password string
	DB       int
	Prefix   string // key prefix, default DefaultRedisPrefix
}

// RedisStore keeps each document as one Redis string without expiry.
// Retention is left to the Redis eviction policy.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRedisPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(errors.ErrCodeCache, err, "connect to redis at %s", cfg.Addr)
	}
	return &RedisStore{client: client, prefix: cfg.Prefix}, nil
}

// Load returns the document stored under key.
func (s *RedisStore) Load(ctx context.Context, key string) (*Document, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCache, err, "load document %s", key)
	}
	return decode(key, data)
}

// Save replaces the document stored under key with a single SET.
func (s *RedisStore) Save(ctx context.Context, key string, doc *Document) error {
	data, err := encode(doc)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+key, data, 0).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeCache, err, "save document %s", key)
	}
	return nil
}

// Keys lists stored keys using SCAN over the prefix.
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCache, err, "scan documents")
	}
	return keys, nil
}

// Clear deletes every key under the prefix.
func (s *RedisStore) Clear(ctx context.Context) (int, error) {
	keys, err := s.Keys(ctx)
	if err != nil || len(keys) == 0 {
		return 0, err
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}
	n, err := s.client.Del(ctx, full...).Result()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeCache, err, "clear documents")
	}
	return int(n), nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ensure RedisStore implements Store, Lister and Clearer.
var (
	_ Store   = (*RedisStore)(nil)
	_ Lister  = (*RedisStore)(nil)
	_ Clearer = (*RedisStore)(nil)
)
