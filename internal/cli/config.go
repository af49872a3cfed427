package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/matzehuels/zkbclient/pkg/buildinfo"
	"github.com/matzehuels/zkbclient/pkg/cache"
	"github.com/matzehuels/zkbclient/pkg/errors"
	"github.com/matzehuels/zkbclient/pkg/transport"
	"github.com/matzehuels/zkbclient/pkg/zkillboard"
)

// Store backends selectable in the config file or with --store.
const (
	backendFile   = "file"
	backendSQLite = "sqlite"
	backendRedis  = "redis"
	backendMongo  = "mongo"
	backendNone   = "none"
)

var backends = []string{backendFile, backendSQLite, backendRedis, backendMongo, backendNone}

// Config is the contents of config.toml.
type Config struct {
	BaseURL       string      `toml:"base_url"`
	UserAgent     string      `toml:"user_agent"`
	KeepAlive     bool        `toml:"keep_alive"`
	RestrictTLS13 bool        `toml:"restrict_tls13"`
	Offline       bool        `toml:"offline"`
	RateLimit     float64     `toml:"rate_limit"` // requests per second, 0 = unlimited
	Burst         int         `toml:"burst"`
	Store         StoreConfig `toml:"store"`
	Serve         ServeConfig `toml:"serve"`
}

// StoreConfig selects and configures the cache backend.
type StoreConfig struct {
	Backend string `toml:"backend"`

	// file
	Dir string `toml:"dir"`

	// sqlite
	DSN string `toml:"dsn"`

	// redis
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`

	// mongo
	URI        string `toml:"uri"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
}

// ServeConfig configures "zkb serve".
type ServeConfig struct {
	Addr string `toml:"addr"`
}

func defaultConfig() *Config {
	return &Config{
		BaseURL:   zkillboard.DefaultBaseURL,
		UserAgent: buildinfo.UserAgent(),
		KeepAlive: true,
		Burst:     1,
		Store:     StoreConfig{Backend: backendFile},
		Serve:     ServeConfig{Addr: "127.0.0.1:8080"},
	}
}

// loadConfig reads path over the defaults. A missing file is not an error
// unless required is set.
func loadConfig(path string, required bool) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if stderrors.Is(err, fs.ErrNotExist) && !required {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "read config")
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.New(errors.ErrCodeInvalidConfig, "%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !isBackend(c.Store.Backend) {
		return errors.New(errors.ErrCodeInvalidConfig, "unknown store backend %q (want one of %s)",
			c.Store.Backend, strings.Join(backends, ", "))
	}
	if c.RateLimit < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "rate_limit must not be negative")
	}
	if c.Burst < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "burst must not be negative")
	}
	if !strings.HasSuffix(c.BaseURL, "/") {
		c.BaseURL += "/"
	}
	return nil
}

func isBackend(name string) bool {
	for _, b := range backends {
		if b == name {
			return true
		}
	}
	return false
}

// =============================================================================
// Paths
// =============================================================================

// configPath returns the config file location (~/.config/zkb/config.toml).
func configPath() (string, error) {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, appName, "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName, "config.toml"), nil
}

// cacheDir returns the cache directory using XDG standard (~/.cache/zkb/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}

// storeLocation describes where the configured backend keeps documents.
func (c *Config) storeLocation() (string, error) {
	s := c.Store
	switch s.Backend {
	case backendFile:
		if s.Dir != "" {
			return s.Dir, nil
		}
		return cacheDir()
	case backendSQLite:
		if s.DSN != "" {
			return s.DSN, nil
		}
		dir, err := cacheDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, "zkb.db"), nil
	case backendRedis:
		if s.Addr == "" {
			return "redis://localhost:6379", nil
		}
		return "redis://" + s.Addr, nil
	case backendMongo:
		if s.URI == "" {
			return "mongodb://localhost:27017", nil
		}
		return s.URI, nil
	default:
		return "(none)", nil
	}
}

// =============================================================================
// Factories
// =============================================================================

// openStore connects to the configured backend.
func openStore(ctx context.Context, cfg *Config) (cache.Store, error) {
	s := cfg.Store
	switch s.Backend {
	case backendFile:
		dir, err := cfg.storeLocation()
		if err != nil {
			return nil, fmt.Errorf("get cache dir: %w", err)
		}
		return cache.NewFileStore(dir)
	case backendSQLite:
		path, err := cfg.storeLocation()
		if err != nil {
			return nil, fmt.Errorf("get cache dir: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(errors.ErrCodeCache, err, "create %s", filepath.Dir(path))
		}
		return cache.NewSQLiteStore(ctx, path)
	case backendRedis:
		return cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:     s.Addr,
			Password: s.Password,
			DB:       s.DB,
			Prefix:   s.Prefix,
		})
	case backendMongo:
		return cache.NewMongoStore(ctx, cache.MongoConfig{
			URI:        s.URI,
			Database:   s.Database,
			Collection: s.Collection,
		})
	case backendNone:
		return cache.NewNullStore(), nil
	default:
		return nil, errors.New(errors.ErrCodeInvalidConfig, "unknown store backend %q", s.Backend)
	}
}

// newTransport builds the HTTP transport described by cfg.
func newTransport(cfg *Config, logger *log.Logger) *transport.Transport {
	opts := []transport.Option{
		transport.WithKeepAlive(cfg.KeepAlive),
		transport.WithUserAgent(cfg.UserAgent),
		transport.WithRestrictTLS13(cfg.RestrictTLS13),
		transport.WithLogger(logger),
		transport.WithTrimPrefix(cfg.BaseURL),
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, transport.WithRateLimit(rate.Limit(cfg.RateLimit), cfg.Burst))
	}
	return transport.New(opts...)
}

// session bundles a client with the resources it owns.
type session struct {
	client    *zkillboard.Client
	transport *transport.Transport
}

func (s *session) Close() error {
	s.transport.Close()
	return s.client.Close()
}

// newSession opens the store and wires a zKillboard client.
func newSession(ctx context.Context, cfg *Config, logger *log.Logger) (*session, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tr := newTransport(cfg, logger)
	client := zkillboard.New(tr, store,
		zkillboard.WithBaseURL(cfg.BaseURL),
		zkillboard.WithOffline(cfg.Offline),
		zkillboard.WithLogger(logger),
	)
	return &session{client: client, transport: tr}, nil
}
