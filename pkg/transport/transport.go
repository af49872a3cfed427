package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/matzehuels/zkbclient/pkg/errors"
	"github.com/matzehuels/zkbclient/pkg/httputil"
	"github.com/matzehuels/zkbclient/pkg/observability"
)

const (
	// MaxRetries bounds each retry class except read failures.
	MaxRetries = 5

	// ConnectTimeout bounds DNS resolution, dialing and the TLS handshake.
	ConnectTimeout = 3 * time.Second

	// ReadTimeout bounds the wait for response headers once connected.
	ReadTimeout = 7 * time.Second

	connectDelay     = time.Second
	unavailableDelay = 2 * time.Second // multiplied by the retry count
	throttledDelay   = 5 * time.Second
)

// Response is a completed HTTP exchange whose status is 2xx or 304.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NotModified reports whether the server answered 304.
func (r *Response) NotModified() bool {
	return r.StatusCode == http.StatusNotModified
}

// Transport sends zKillboard requests and absorbs transient failures.
//
// Connection failures are retried up to [MaxRetries] times one second
// apart. Read failures on GET requests are retried without limit until ctx
// ends. 502 and 504 are retried immediately and 503 after 2s, 4s, 6s and so
// on; those three statuses share one budget of [MaxRetries]. 520 has its own
// budget with a fixed 5s delay. Other non-2xx statuses except 304 surface
// as [*errors.HTTPError].
//
// A Transport is not safe for concurrent use.
type Transport struct {
	keepAlive     bool
	userAgent     string
	restrictTLS13 bool
	connTimeout   time.Duration
	readTimeout   time.Duration
	logger        *log.Logger
	limiter       *rate.Limiter
	hooks         observability.HTTPHooks
	sleep         httputil.Sleeper
	trimPrefix    string

	custom *http.Client
	client *http.Client

	lastModified time.Time
}

// New creates a Transport. Without options it opens a fresh connection per
// attempt, sends no User-Agent and logs nothing.
func New(opts ...Option) *Transport {
	t := &Transport{
		connTimeout: ConnectTimeout,
		readTimeout: ReadTimeout,
		logger:      log.NewWithOptions(io.Discard, log.Options{}),
		hooks:       observability.HTTP(),
		sleep:       httputil.Sleep,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// LastModified returns the Last-Modified time of the most recent response
// seen by the last Do call, or the zero time if none carried one.
func (t *Transport) LastModified() time.Time {
	return t.lastModified
}

// Close releases the keep-alive connection, if any. The Transport remains
// usable and reconnects on the next request.
func (t *Transport) Close() error {
	if t.client != nil {
		t.client.CloseIdleConnections()
		t.client = nil
	}
	return nil
}

// Do performs one logical request against url.
//
// A nil body issues a GET; conditional, when non-empty, is sent as
// If-Modified-Since. A non-nil body is JSON-encoded and POSTed, and
// conditional is ignored. The returned Response has status 2xx or 304.
func (t *Transport) Do(ctx context.Context, url, conditional string, body any) (*Response, error) {
	t.lastModified = time.Time{}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "encode request body")
		}
	}

	x := &exchange{
		t:           t,
		id:          uuid.NewString(),
		url:         url,
		resource:    strings.TrimPrefix(url, t.trimPrefix),
		conditional: conditional,
		payload:     payload,
	}

	var resp *Response
	err := httputil.Retry(ctx, MaxRetries, httputil.Constant(connectDelay), t.backoffSleep("connect"), func() error {
		var err error
		resp, err = x.run(ctx)
		if err != nil && x.connectFailure(err) {
			t.logger.Warn("connection failed", "resource", x.resource, "attempt", x.attempts, "err", err)
			return httputil.Retryable(errors.Wrap(errors.ErrCodeNetwork, err, "connect to %s", x.host()))
		}
		return err
	})
	if err != nil {
		var re *httputil.RetryableError
		if stderrors.As(err, &re) {
			err = re.Err
		}
		return nil, err
	}
	return resp, nil
}

// backoffSleep wraps the sleeper so each connection retry is reported.
func (t *Transport) backoffSleep(reason string) httputil.Sleeper {
	n := 0
	return func(ctx context.Context, d time.Duration) error {
		n++
		t.hooks.OnRetry(ctx, reason, n, d)
		return t.sleep(ctx, d)
	}
}

func (t *Transport) httpClient() *http.Client {
	if t.custom != nil {
		return t.custom
	}
	if t.client == nil {
		t.logger.Debug("starting new connection pool", "keepalive", t.keepAlive)
		t.client = &http.Client{Transport: t.roundTripper()}
	}
	return t.client
}

func (t *Transport) roundTripper() *http.Transport {
	dialer := &net.Dialer{Timeout: t.connTimeout, KeepAlive: 30 * time.Second}
	rt := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   t.connTimeout,
		ResponseHeaderTimeout: t.readTimeout,
		DisableKeepAlives:     !t.keepAlive,
		MaxIdleConnsPerHost:   1,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	if t.restrictTLS13 {
		rt.TLSClientConfig = &tls.Config{MaxVersion: tls.VersionTLS12}
	}
	return rt
}

func (t *Transport) observe(resp *http.Response) {
	if v := resp.Header.Get("Last-Modified"); v != "" {
		if lm, err := http.ParseTime(v); err == nil {
			t.lastModified = lm.UTC()
		}
	}
}
