package transport

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/matzehuels/zkbclient/pkg/httputil"
	"github.com/matzehuels/zkbclient/pkg/observability"
)

// Option configures a Transport.
type Option func(*Transport)

// WithKeepAlive holds one pooled connection open between requests until
// [Transport.Close] is called.
func WithKeepAlive(on bool) Option {
	return func(t *Transport) { t.keepAlive = on }
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(t *Transport) { t.userAgent = ua }
}

// WithRestrictTLS13 caps the negotiated TLS version at 1.2.
func WithRestrictTLS13(on bool) Option {
	return func(t *Transport) { t.restrictTLS13 = on }
}

// WithTimeouts overrides the per-attempt connect and read timeouts.
// Non-positive values keep the defaults.
func WithTimeouts(connect, read time.Duration) Option {
	return func(t *Transport) {
		if connect > 0 {
			t.connTimeout = connect
		}
		if read > 0 {
			t.readTimeout = read
		}
	}
}

// WithLogger sets the logger for attempt and retry lines.
func WithLogger(l *log.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithRateLimit spaces attempts, retries included, to at most r per
// second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(t *Transport) {
		if r > 0 {
			t.limiter = rate.NewLimiter(r, max(burst, 1))
		}
	}
}

// WithHooks overrides the globally registered HTTP hooks.
func WithHooks(h observability.HTTPHooks) Option {
	return func(t *Transport) {
		if h != nil {
			t.hooks = h
		}
	}
}

// WithSleeper replaces the function used to wait between retries.
func WithSleeper(s httputil.Sleeper) Option {
	return func(t *Transport) {
		if s != nil {
			t.sleep = s
		}
	}
}

// WithHTTPClient sends requests through c instead of an owned client.
// Keep-alive, timeout and TLS options are then ignored.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.custom = c }
}

// WithTrimPrefix shortens URLs in log lines by removing prefix.
func WithTrimPrefix(prefix string) Option {
	return func(t *Transport) { t.trimPrefix = prefix }
}
