// Package zkillboard fetches zKillboard API resources through a persistent
// document cache.
//
// # Fetch outcomes
//
// Online, every [Client.Fetch] revalidates the cached document with
// If-Modified-Since and stores whatever fresh data arrives. A 403 or 404 is
// remembered as a sticky error and returned again on later fetches until a
// successful response replaces it. With trustCache set, a cached payload is
// returned without touching the network.
//
// Offline, only the cache is consulted: a missing document yields a nil
// payload and no error.
//
// # Usage
//
//	store, _ := cache.NewFileStore(dir)
//	client := zkillboard.New(transport.New(), store)
//	data, err := client.Fetch(ctx, "corporationID/787611831/", nil, false)
//	if errors.StatusCode(err) == 404 {
//	    // nothing known for this corporation
//	}
package zkillboard

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/zkbclient/pkg/cache"
	"github.com/matzehuels/zkbclient/pkg/errors"
	"github.com/matzehuels/zkbclient/pkg/observability"
	"github.com/matzehuels/zkbclient/pkg/transport"
)

// DefaultBaseURL is the zKillboard API root every resource is joined to.
const DefaultBaseURL = "https://zkillboard.com/api/"

// Fetch outcomes reported to [observability.FetchHooks].
const (
	OutcomeNetwork     = "network"
	OutcomeCache       = "cache"
	OutcomeNotModified = "not_modified"
	OutcomeSticky      = "sticky"
	OutcomeOfflineMiss = "offline_miss"
	OutcomeError       = "error"
)

// Doer performs one logical HTTP request with retries.
// [*transport.Transport] is the production implementation.
type Doer interface {
	Do(ctx context.Context, url, conditional string, body any) (*transport.Response, error)
	LastModified() time.Time
}

// Client combines a Doer with a cache.Store.
//
// A Client is not safe for concurrent use; callers sharing one must
// serialize Fetch calls.
type Client struct {
	doer    Doer
	store   cache.Store
	backend string
	baseURL string
	offline bool
	logger  *log.Logger

	fetchHooks observability.FetchHooks
	cacheHooks observability.CacheHooks

	lastModified time.Time
	updated      bool
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL replaces [DefaultBaseURL]. The URL should end with a slash.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithOffline serves every fetch from the cache alone.
func WithOffline(on bool) Option {
	return func(c *Client) { c.offline = on }
}

// WithLogger sets the logger for cache decisions.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHooks overrides the globally registered fetch and cache hooks.
// Nil arguments keep the global ones.
func WithHooks(f observability.FetchHooks, ch observability.CacheHooks) Option {
	return func(c *Client) {
		if f != nil {
			c.fetchHooks = f
		}
		if ch != nil {
			c.cacheHooks = ch
		}
	}
}

// New creates a Client. A nil store disables caching.
func New(doer Doer, store cache.Store, opts ...Option) *Client {
	if store == nil {
		store = cache.NewNullStore()
	}
	c := &Client{
		doer:       doer,
		store:      store,
		backend:    cache.BackendName(store),
		baseURL:    DefaultBaseURL,
		logger:     log.NewWithOptions(io.Discard, log.Options{}),
		fetchHooks: observability.Fetch(),
		cacheHooks: observability.Cache(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Offline reports whether the client serves from the cache only.
func (c *Client) Offline() bool { return c.offline }

// BaseURL returns the API root resources are joined to.
func (c *Client) BaseURL() string { return c.baseURL }

// ResourceURL returns the absolute URL for resource.
func (c *Client) ResourceURL(resource string) string {
	return c.baseURL + strings.TrimLeft(resource, "/")
}

// LastModified returns the Last-Modified time of the document the last
// Fetch returned, or the zero time if unknown.
func (c *Client) LastModified() time.Time { return c.lastModified }

// Updated reports whether the last Fetch stored fresh data from the network.
func (c *Client) Updated() bool { return c.updated }

// Fetch returns the JSON payload for resource, consulting the cache first.
//
// body, when non-nil, is sent as a JSON POST. A nil payload with a nil error
// means the client is offline and nothing is cached for resource. Permanent
// denials come back as [*errors.HTTPError] with status 403 or 404, both
// fresh from the network and replayed from the cache.
func (c *Client) Fetch(ctx context.Context, resource string, body any, trustCache bool) (json.RawMessage, error) {
	start := time.Now()
	c.fetchHooks.OnFetchStart(ctx, resource)

	data, outcome, err := c.fetch(ctx, resource, body, trustCache)

	c.fetchHooks.OnFetchComplete(ctx, resource, outcome, time.Since(start), err)
	return data, err
}

func (c *Client) fetch(ctx context.Context, resource string, body any, trustCache bool) (json.RawMessage, string, error) {
	c.updated = false
	c.lastModified = time.Time{}

	if err := errors.ValidateResource(resource); err != nil {
		return nil, OutcomeError, err
	}
	key := cache.Key(resource)

	doc, err := c.load(ctx, key)
	if err != nil {
		return nil, OutcomeError, err
	}

	if !c.offline && trustCache && doc != nil && !doc.Sticky() {
		c.lastModified = doc.LastModified()
		c.logger.Debug("served from trusted cache", "resource", resource)
		return doc.Payload(), OutcomeCache, nil
	}

	if c.offline {
		return c.replay(ctx, resource, doc)
	}
	return c.refresh(ctx, resource, key, doc, body)
}

// replay answers from the cache alone.
func (c *Client) replay(ctx context.Context, resource string, doc *cache.Document) (json.RawMessage, string, error) {
	switch {
	case doc == nil:
		c.logger.Debug("offline cache miss", "resource", resource)
		return nil, OutcomeOfflineMiss, nil
	case doc.Sticky():
		c.cacheHooks.OnStickyError(ctx, doc.Headers.HTTPError)
		c.logger.Debug("offline sticky error", "resource", resource, "status", doc.Headers.HTTPError)
		return nil, OutcomeSticky, doc.StickyError()
	default:
		c.lastModified = doc.LastModified()
		return doc.Payload(), OutcomeCache, nil
	}
}

// refresh revalidates doc against the network and stores the result.
func (c *Client) refresh(ctx context.Context, resource, key string, doc *cache.Document, body any) (json.RawMessage, string, error) {
	var conditional string
	if doc != nil {
		conditional = doc.Headers.LastModified
	}

	resp, err := c.doer.Do(ctx, c.ResourceURL(resource), conditional, body)
	if err != nil {
		var httpErr *errors.HTTPError
		if !stderrors.As(err, &httpErr) || !httpErr.Sticky() {
			return nil, OutcomeError, err
		}
		if serr := c.save(ctx, key, cache.NewStickyDocument(httpErr.Status)); serr != nil {
			c.logger.Warn("could not remember denial", "resource", resource, "status", httpErr.Status, "err", serr)
		}
		c.cacheHooks.OnStickyError(ctx, httpErr.Status)
		return nil, OutcomeSticky, err
	}

	if resp.NotModified() {
		if doc == nil || doc.Sticky() {
			return nil, OutcomeError, errors.NewHTTPError(resp.StatusCode, resp.Body)
		}
		c.lastModified = doc.LastModified()
		c.logger.Debug("not modified", "resource", resource)
		return doc.Payload(), OutcomeNotModified, nil
	}

	payload := json.RawMessage(resp.Body)
	if !json.Valid(payload) {
		return nil, OutcomeError, errors.New(errors.ErrCodeNetwork, "response for %s is not valid JSON", resource)
	}
	if err := c.save(ctx, key, cache.NewDocument(resp.Header, payload)); err != nil {
		return nil, OutcomeError, err
	}
	c.updated = true
	c.lastModified = c.doer.LastModified()
	return payload, OutcomeNetwork, nil
}

// load reads the document for key. Corrupt documents count as absent.
func (c *Client) load(ctx context.Context, key string) (*cache.Document, error) {
	doc, err := c.store.Load(ctx, key)
	switch {
	case errors.Is(err, errors.ErrCodeCacheCorrupt):
		c.logger.Warn("ignoring corrupt cache document", "key", key, "err", err)
		c.cacheHooks.OnCacheMiss(ctx, c.backend)
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(errors.ErrCodeCache, err, "load %s", key)
	case doc == nil:
		c.cacheHooks.OnCacheMiss(ctx, c.backend)
	default:
		c.cacheHooks.OnCacheHit(ctx, c.backend)
	}
	return doc, nil
}

func (c *Client) save(ctx context.Context, key string, doc *cache.Document) error {
	if err := c.store.Save(ctx, key, doc); err != nil {
		return errors.Wrap(errors.ErrCodeCache, err, "save %s", key)
	}
	c.cacheHooks.OnCacheSet(ctx, c.backend, len(doc.JSON))
	return nil
}

// Close releases the store.
func (c *Client) Close() error {
	return c.store.Close()
}
