package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/matzehuels/zkbclient/pkg/errors"
	"github.com/matzehuels/zkbclient/pkg/httputil"
)

// exchange holds the state of one Do call across its attempts.
type exchange struct {
	t           *Transport
	id          string
	url         string
	resource    string
	conditional string
	payload     []byte

	attempts  int // requests sent
	gateway   int // retries spent on 502, 503 and 504
	throttled int // retries spent on 520
}

func (x *exchange) method() string {
	if x.payload != nil {
		return http.MethodPost
	}
	return http.MethodGet
}

func (x *exchange) host() string {
	if u, err := url.Parse(x.url); err == nil {
		return u.Host
	}
	return x.url
}

// connectFailure reports whether err belongs to the bounded connection
// budget. POST requests have no unbounded read retry, so their read
// failures count here too.
func (x *exchange) connectFailure(err error) bool {
	if httputil.IsConnectError(err) {
		return true
	}
	return x.payload != nil && httputil.IsReadError(err)
}

// run sends the request until it gets a terminal status.
// Status budgets start over after every connection retry.
func (x *exchange) run(ctx context.Context) (*Response, error) {
	t := x.t
	x.gateway, x.throttled = 0, 0

	for {
		resp, err := x.send(ctx)
		if err != nil {
			return nil, err
		}

		var (
			reason  string
			delay   time.Duration
			attempt int
		)
		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusGatewayTimeout:
			if x.gateway < MaxRetries {
				x.gateway++
				reason, attempt = "gateway", x.gateway
			}
		case http.StatusServiceUnavailable:
			if x.gateway < MaxRetries {
				x.gateway++
				reason, attempt = "unavailable", x.gateway
				delay = unavailableDelay * time.Duration(x.gateway)
			}
		case errors.StatusWebServerUnknown:
			if x.throttled < MaxRetries {
				x.throttled++
				reason, attempt = "throttled", x.throttled
				delay = throttledDelay
			}
		}

		if reason != "" {
			t.logger.Warn("retrying",
				"status", resp.StatusCode,
				"resource", x.resource,
				"reason", reason,
				"delay", delay,
				"body", truncate(resp.Body, 200))
			t.hooks.OnRetry(ctx, reason, attempt, delay)
			if err := t.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode == http.StatusNotModified || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
			return resp, nil
		}
		return nil, errors.NewHTTPError(resp.StatusCode, resp.Body)
	}
}

// send performs attempts until one yields a response. GET read failures
// are retried here immediately and without limit.
func (x *exchange) send(ctx context.Context) (*Response, error) {
	t := x.t
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := x.attempt(ctx)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if x.payload == nil && httputil.IsReadError(err) {
			t.logger.Warn("read failed, retrying", "resource", x.resource, "attempt", x.attempts, "err", err)
			t.hooks.OnRetry(ctx, "read", x.attempts, 0)
			continue
		}
		if httputil.IsConnectError(err) || httputil.IsReadError(err) || errors.GetCode(err) != "" {
			return nil, err
		}
		return nil, errors.Wrap(errors.ErrCodeNetwork, err, "request %s", x.resource)
	}
}

func (x *exchange) attempt(ctx context.Context) (*Response, error) {
	t := x.t
	x.attempts++

	var body io.Reader
	if x.payload != nil {
		body = bytes.NewReader(x.payload)
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(attemptCtx, x.method(), x.url, body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "build request")
	}
	if x.payload != nil {
		req.Header.Set("Content-Type", "application/json")
	} else if x.conditional != "" {
		req.Header.Set("If-Modified-Since", x.conditional)
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	req.Header.Set("X-Request-Id", x.id)

	start := time.Now()
	t.hooks.OnRequest(ctx, req.Method, req.URL.Host, req.URL.Path)

	resp, err := t.httpClient().Do(req)
	if err != nil {
		t.hooks.OnError(ctx, req.Method, req.URL.Host, req.URL.Path, err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := readBody(ctx, resp.Body, t.readTimeout, cancel)
	if err != nil {
		t.hooks.OnError(ctx, req.Method, req.URL.Host, req.URL.Path, err)
		return nil, err
	}

	elapsed := time.Since(start)
	t.hooks.OnResponse(ctx, req.Method, req.URL.Host, req.URL.Path, resp.StatusCode, elapsed)
	t.observe(resp)

	fields := []any{
		"status", resp.StatusCode,
		"resource", x.resource,
		"request_id", x.id,
		"duration", elapsed.Round(time.Millisecond),
	}
	if !t.lastModified.IsZero() {
		fields = append(fields, "last_modified", t.lastModified.Format(time.TimeOnly))
	}
	if x.attempts > 1 {
		fields = append(fields, "attempt", x.attempts)
	}
	t.logger.Debug(req.Method, fields...)

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// stallError reports a response body that made no progress for the read
// timeout. It is a timeout net.Error, so GET attempts are retried.
type stallError struct{ d time.Duration }

func (e *stallError) Error() string   { return fmt.Sprintf("response body stalled for %s", e.d) }
func (e *stallError) Timeout() bool   { return true }
func (e *stallError) Temporary() bool { return true }

// stallReader calls abort when no byte arrives within timeout.
type stallReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	stalled atomic.Bool
}

func (s *stallReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		s.timer.Reset(s.timeout)
	}
	return n, err
}

// readBody reads body, aborting the attempt through abort when the body
// stalls. ctx is the caller's context; its own end is not a stall.
func readBody(ctx context.Context, body io.Reader, timeout time.Duration, abort context.CancelFunc) ([]byte, error) {
	s := &stallReader{r: body, timeout: timeout}
	s.timer = time.AfterFunc(timeout, func() {
		s.stalled.Store(true)
		abort()
	})
	defer s.timer.Stop()

	data, err := io.ReadAll(s)
	if err != nil && s.stalled.Load() && ctx.Err() == nil {
		return nil, &stallError{d: timeout}
	}
	return data, err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
