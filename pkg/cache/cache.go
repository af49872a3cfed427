// Package cache stores zKillboard responses as documents keyed by a
// normalized resource identifier.
//
// A [Document] is either a successful payload together with the response
// headers needed for revalidation, or a sticky error: the status code of a
// permanent denial (403 or 404) that is replayed on later fetches. Never both.
//
// # Backends
//
//   - [FileStore]: one JSON file per key, written atomically (default)
//   - [SQLiteStore]: a single SQLite database file
//   - [RedisStore]: Redis strings under a key prefix
//   - [MongoStore]: one MongoDB document per key
//   - [NullStore]: stores nothing
//
// The on-disk layout of FileStore (".cache_<key>.json" holding
// {"headers": {...}, "json": ...}) is stable across releases.
//
// Stores are not required to serialize concurrent writers to the same key;
// the last writer wins.
package cache

import (
	"context"
	"strings"
)

// Store is the interface for document storage backends.
type Store interface {
	// Load returns the document stored under key.
	// Returns nil, nil if no document exists.
	Load(ctx context.Context, key string) (*Document, error)

	// Save replaces the document stored under key as a whole.
	// Invalid documents (see [Document.Validate]) are rejected.
	Save(ctx context.Context, key string, doc *Document) error

	// Close releases resources held by the store.
	Close() error
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}

// Clearer is implemented by stores that can drop every document they hold.
// Clear returns the number of documents removed.
type Clearer interface {
	Clear(ctx context.Context) (int, error)
}

var keyReplacer = strings.NewReplacer(
	"/", "_",
	"=", "-",
	"?", "",
	"&", ".",
)

// Key converts a resource path into the identifier documents are stored under.
//
// Surrounding slashes are dropped and the characters / = ? & are substituted,
// so "/corporationID/787611831/" and "corporationID/787611831" share the key
// "corporationID_787611831". Distinct paths that normalize to the same key
// share one document.
func Key(resource string) string {
	return keyReplacer.Replace(strings.Trim(resource, "/"))
}

// BackendName returns a short label for s, used in logs and metrics.
func BackendName(s Store) string {
	switch s.(type) {
	case *FileStore:
		return "file"
	case *SQLiteStore:
		return "sqlite"
	case *RedisStore:
		return "redis"
	case *MongoStore:
		return "mongo"
	case NullStore, *NullStore:
		return "none"
	default:
		return "custom"
	}
}
