package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/matzehuels/zkbclient/pkg/errors"
)

const (
	filePrefix = ".cache_"
	fileSuffix = ".json"
)

// FileStore keeps one JSON file per key in a directory.
// Writes go to a temporary file in the same directory that is then renamed
// over the target, so readers never observe a half-written document.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-based store in the given directory.
// The directory will be created if it doesn't exist. A trailing separator
// in dir is ignored.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "cache directory cannot be empty")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCache, err, "create cache directory")
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the cache directory.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the file a key is stored in.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, filePrefix+key+fileSuffix)
}

// Load reads the document stored under key.
func (s *FileStore) Load(ctx context.Context, key string) (*Document, error) {
	data, err := os.ReadFile(s.Path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCache, err, "read document %s", key)
	}
	return decode(key, data)
}

// Save writes doc under key, replacing any previous document.
func (s *FileStore) Save(ctx context.Context, key string, doc *Document) error {
	data, err := encode(doc)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, filePrefix+"*.tmp")
	if err != nil {
		return errors.Wrap(errors.ErrCodeCache, err, "create temporary file")
	}
	defer os.Remove(tmp.Name()) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(errors.ErrCodeCache, err, "write document %s", key)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(errors.ErrCodeCache, err, "write document %s", key)
	}
	if err := os.Rename(tmp.Name(), s.Path(key)); err != nil {
		return errors.Wrap(errors.ErrCodeCache, err, "replace document %s", key)
	}
	return nil
}

// Keys lists the keys of all stored documents.
func (s *FileStore) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCache, err, "list cache directory")
	}
	var keys []string
	for _, e := range entries {
		if key, ok := fileKey(e); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Clear removes every document file. Other files in the directory are kept.
func (s *FileStore) Clear(ctx context.Context) (int, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, key := range keys {
		if err := os.Remove(s.Path(key)); err == nil {
			count++
		}
	}
	return count, nil
}

// Close does nothing for file store.
func (s *FileStore) Close() error {
	return nil
}

func fileKey(e os.DirEntry) (string, bool) {
	name := e.Name()
	if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), true
}

// Ensure FileStore implements Store, Lister and Clearer.
var (
	_ Store   = (*FileStore)(nil)
	_ Lister  = (*FileStore)(nil)
	_ Clearer = (*FileStore)(nil)
)
