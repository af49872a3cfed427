package transport

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/matzehuels/zkbclient/pkg/errors"
	"github.com/matzehuels/zkbclient/pkg/observability"
)

// sleepRecorder replaces real sleeping in tests.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *sleepRecorder) got() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// statusSequence serves the given statuses in order, repeating the last.
func statusSequence(statuses ...int) (http.Handler, *atomic.Int32) {
	var calls atomic.Int32
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		status := statuses[min(n, len(statuses)-1)]
		w.WriteHeader(status)
		if status == http.StatusOK {
			fmt.Fprint(w, `[{"killmail_id":1}]`)
		} else {
			fmt.Fprintf(w, `{"error":"status %d"}`, status)
		}
	}), &calls
}

func newTestTransport(rec *sleepRecorder, opts ...Option) *Transport {
	base := []Option{WithSleeper(rec.sleep), WithHooks(observability.NoopHTTPHooks{})}
	return New(append(base, opts...)...)
}

func TestDo_Success(t *testing.T) {
	lm := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	var gotUA, gotIMS, gotID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		gotUA = r.Header.Get("User-Agent")
		gotIMS = r.Header.Get("If-Modified-Since")
		gotID = r.Header.Get("X-Request-Id")
		w.Header().Set("Last-Modified", lm.Format(http.TimeFormat))
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	tr := newTestTransport(&sleepRecorder{}, WithUserAgent("zkb-test/1.0"))
	resp, err := tr.Do(context.Background(), server.URL+"/api/kills/", "", nil)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != `{"ok":true}` {
		t.Errorf("Do() = %d %s", resp.StatusCode, resp.Body)
	}
	if gotUA != "zkb-test/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotIMS != "" {
		t.Errorf("If-Modified-Since = %q, want empty", gotIMS)
	}
	if gotID == "" {
		t.Error("X-Request-Id not set")
	}
	if !tr.LastModified().Equal(lm) {
		t.Errorf("LastModified() = %v, want %v", tr.LastModified(), lm)
	}
}

func TestDo_NotModified(t *testing.T) {
	const ims = "Fri, 01 Mar 2024 12:30:00 GMT"
	var gotIMS string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIMS = r.Header.Get("If-Modified-Since")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	tr := newTestTransport(&sleepRecorder{})
	resp, err := tr.Do(context.Background(), server.URL, ims, nil)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if !resp.NotModified() {
		t.Errorf("status = %d, want 304", resp.StatusCode)
	}
	if gotIMS != ims {
		t.Errorf("If-Modified-Since = %q, want %q", gotIMS, ims)
	}
}

func TestDo_Post(t *testing.T) {
	var method, ctype, ims string
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		ctype = r.Header.Get("Content-Type")
		ims = r.Header.Get("If-Modified-Since")
		json.NewDecoder(r.Body).Decode(&body)
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	tr := newTestTransport(&sleepRecorder{})
	_, err := tr.Do(context.Background(), server.URL, "Fri, 01 Mar 2024 12:30:00 GMT", map[string]any{"ids": []int{1, 2}})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if method != http.MethodPost {
		t.Errorf("method = %s, want POST", method)
	}
	if ctype != "application/json" {
		t.Errorf("Content-Type = %q", ctype)
	}
	if ims != "" {
		t.Errorf("POST sent If-Modified-Since %q", ims)
	}
	if ids, ok := body["ids"].([]any); !ok || len(ids) != 2 {
		t.Errorf("body = %v", body)
	}
}

func TestDo_UnencodableBody(t *testing.T) {
	tr := newTestTransport(&sleepRecorder{})
	_, err := tr.Do(context.Background(), "http://127.0.0.1:1", "", make(chan int))
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestDo_UnavailableBackoff(t *testing.T) {
	handler, calls := statusSequence(http.StatusServiceUnavailable)
	server := httptest.NewServer(handler)
	defer server.Close()

	rec := &sleepRecorder{}
	tr := newTestTransport(rec)
	_, err := tr.Do(context.Background(), server.URL, "", nil)

	if got := errors.StatusCode(err); got != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want HTTPError 503", err)
	}
	if got := calls.Load(); got != 6 {
		t.Errorf("requests = %d, want 6", got)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second, 8 * time.Second, 10 * time.Second}
	if fmt.Sprint(rec.got()) != fmt.Sprint(want) {
		t.Errorf("delays = %v, want %v", rec.got(), want)
	}
}

func TestDo_GatewayBudgetShared(t *testing.T) {
	handler, calls := statusSequence(502, 503, 504, 502, 503, 503)
	server := httptest.NewServer(handler)
	defer server.Close()

	rec := &sleepRecorder{}
	tr := newTestTransport(rec)
	_, err := tr.Do(context.Background(), server.URL, "", nil)

	if got := errors.StatusCode(err); got != 503 {
		t.Fatalf("err = %v, want HTTPError 503", err)
	}
	if got := calls.Load(); got != 6 {
		t.Errorf("requests = %d, want 6", got)
	}
	want := []time.Duration{0, 4 * time.Second, 0, 0, 10 * time.Second}
	if fmt.Sprint(rec.got()) != fmt.Sprint(want) {
		t.Errorf("delays = %v, want %v", rec.got(), want)
	}
}

func TestDo_GatewayRecovers(t *testing.T) {
	handler, calls := statusSequence(502, 504, 200)
	server := httptest.NewServer(handler)
	defer server.Close()

	tr := newTestTransport(&sleepRecorder{})
	resp, err := tr.Do(context.Background(), server.URL, "", nil)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if resp.StatusCode != 200 || calls.Load() != 3 {
		t.Errorf("status = %d after %d requests", resp.StatusCode, calls.Load())
	}
}

func TestDo_ThrottledBudgetIndependent(t *testing.T) {
	seq := []int{520, 520, 520, 520, 520, 503, 503, 503, 503, 503, 200}
	handler, calls := statusSequence(seq...)
	server := httptest.NewServer(handler)
	defer server.Close()

	rec := &sleepRecorder{}
	tr := newTestTransport(rec)
	resp, err := tr.Do(context.Background(), server.URL, "", nil)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := calls.Load(); got != int32(len(seq)) {
		t.Errorf("requests = %d, want %d", got, len(seq))
	}
	s := time.Second
	want := []time.Duration{5 * s, 5 * s, 5 * s, 5 * s, 5 * s, 2 * s, 4 * s, 6 * s, 8 * s, 10 * s}
	if fmt.Sprint(rec.got()) != fmt.Sprint(want) {
		t.Errorf("delays = %v, want %v", rec.got(), want)
	}
}

func TestDo_ThrottledExhausted(t *testing.T) {
	handler, calls := statusSequence(errors.StatusWebServerUnknown)
	server := httptest.NewServer(handler)
	defer server.Close()

	tr := newTestTransport(&sleepRecorder{})
	_, err := tr.Do(context.Background(), server.URL, "", nil)

	var httpErr *errors.HTTPError
	if !stderrors.As(err, &httpErr) || httpErr.Status != 520 {
		t.Fatalf("err = %v, want HTTPError 520", err)
	}
	if httpErr.Kind != errors.KindTransient {
		t.Errorf("kind = %v, want transient", httpErr.Kind)
	}
	if calls.Load() != 6 {
		t.Errorf("requests = %d, want 6", calls.Load())
	}
}

func TestDo_TerminalStatuses(t *testing.T) {
	tests := []struct {
		status int
		kind   errors.Kind
		code   errors.Code
	}{
		{403, errors.KindPermanentDenial, errors.ErrCodeForbidden},
		{404, errors.KindPermanentDenial, errors.ErrCodeNotFound},
		{500, errors.KindUnclassified, errors.ErrCodeNetwork},
		{429, errors.KindUnclassified, errors.ErrCodeNetwork},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			handler, calls := statusSequence(tt.status)
			server := httptest.NewServer(handler)
			defer server.Close()

			rec := &sleepRecorder{}
			tr := newTestTransport(rec)
			_, err := tr.Do(context.Background(), server.URL, "", nil)

			var httpErr *errors.HTTPError
			if !stderrors.As(err, &httpErr) {
				t.Fatalf("err = %v, want HTTPError", err)
			}
			if httpErr.Status != tt.status || httpErr.Kind != tt.kind {
				t.Errorf("got %d/%v, want %d/%v", httpErr.Status, httpErr.Kind, tt.status, tt.kind)
			}
			if errors.GetCode(err) != tt.code {
				t.Errorf("code = %s, want %s", errors.GetCode(err), tt.code)
			}
			if calls.Load() != 1 || len(rec.got()) != 0 {
				t.Errorf("requests = %d, sleeps = %d; want 1, 0", calls.Load(), len(rec.got()))
			}
		})
	}
}

func TestDo_ConnectRetryBounded(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	rec := &sleepRecorder{}
	tr := newTestTransport(rec)
	_, err := tr.Do(context.Background(), url, "", nil)

	if !errors.Is(err, errors.ErrCodeNetwork) {
		t.Fatalf("err = %v, want network error", err)
	}
	want := []time.Duration{time.Second, time.Second, time.Second, time.Second, time.Second}
	if fmt.Sprint(rec.got()) != fmt.Sprint(want) {
		t.Errorf("delays = %v, want %v", rec.got(), want)
	}
}

func TestDo_ReadTimeoutRetriedWithoutDelay(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	rec := &sleepRecorder{}
	tr := newTestTransport(rec, WithTimeouts(time.Second, 50*time.Millisecond))
	resp, err := tr.Do(context.Background(), server.URL, "", nil)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("requests = %d, want 3", calls.Load())
	}
	if len(rec.got()) != 0 {
		t.Errorf("read retries slept: %v", rec.got())
	}
}

func TestDo_StalledBodyRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Length", "100")
			fmt.Fprint(w, `[`)
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rec := &sleepRecorder{}
	tr := newTestTransport(rec, WithTimeouts(time.Second, 200*time.Millisecond))
	resp, err := tr.Do(ctx, server.URL, "", nil)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if string(resp.Body) != `[]` {
		t.Errorf("body = %q, want []", resp.Body)
	}
	if calls.Load() != 2 {
		t.Errorf("requests = %d, want 2", calls.Load())
	}
	if len(rec.got()) != 0 {
		t.Errorf("read retries slept: %v", rec.got())
	}
}

func TestReadBody_SlowButSteady(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		for i := 0; i < 5; i++ {
			time.Sleep(30 * time.Millisecond)
			pw.Write([]byte("x"))
		}
		pw.Close()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	data, err := readBody(ctx, pr, 100*time.Millisecond, cancel)
	if err != nil {
		t.Fatalf("readBody() error: %v", err)
	}
	if string(data) != "xxxxx" {
		t.Errorf("data = %q", data)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestDo_StatusBudgetsResetOnReconnect(t *testing.T) {
	// 502 x3, refused dial, 502 x5, 200
	var calls atomic.Int32
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		n := calls.Add(1)
		status := http.StatusBadGateway
		switch {
		case n == 4:
			return nil, &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
		case n == 10:
			status = http.StatusOK
		}
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader(`[]`)),
			Request:    r,
		}, nil
	})

	rec := &sleepRecorder{}
	tr := newTestTransport(rec, WithHTTPClient(&http.Client{Transport: rt}))
	resp, err := tr.Do(context.Background(), "http://zkb.test/api/kills/", "", nil)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if calls.Load() != 10 {
		t.Errorf("requests = %d, want 10", calls.Load())
	}
	want := []time.Duration{0, 0, 0, time.Second, 0, 0, 0, 0, 0}
	if fmt.Sprint(rec.got()) != fmt.Sprint(want) {
		t.Errorf("delays = %v, want %v", rec.got(), want)
	}
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	handler, calls := statusSequence(http.StatusServiceUnavailable)
	server := httptest.NewServer(handler)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	tr := New(
		WithHooks(observability.NoopHTTPHooks{}),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	)
	_, err := tr.Do(ctx, server.URL, "", nil)
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls.Load() != 1 {
		t.Errorf("requests = %d, want 1", calls.Load())
	}
}

func TestDo_LastModifiedReset(t *testing.T) {
	var withHeader atomic.Bool
	withHeader.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if withHeader.Load() {
			w.Header().Set("Last-Modified", "Fri, 01 Mar 2024 12:30:00 GMT")
		}
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	tr := newTestTransport(&sleepRecorder{})
	if _, err := tr.Do(context.Background(), server.URL, "", nil); err != nil {
		t.Fatal(err)
	}
	if tr.LastModified().IsZero() {
		t.Fatal("LastModified() not set")
	}

	withHeader.Store(false)
	if _, err := tr.Do(context.Background(), server.URL, "", nil); err != nil {
		t.Fatal(err)
	}
	if !tr.LastModified().IsZero() {
		t.Errorf("LastModified() = %v, want zero", tr.LastModified())
	}
}

func TestDo_LastModifiedFromRetriedResponse(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Last-Modified", "Fri, 01 Mar 2024 12:30:00 GMT")
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	tr := newTestTransport(&sleepRecorder{})
	_, err := tr.Do(context.Background(), server.URL, "", nil)
	if errors.StatusCode(err) != 404 {
		t.Fatalf("err = %v, want 404", err)
	}
	want := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	if !tr.LastModified().Equal(want) {
		t.Errorf("LastModified() = %v, want %v", tr.LastModified(), want)
	}
}

// countConns starts a server that counts accepted connections.
func countConns(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[]`)
	}))
	server.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			conns.Add(1)
		}
	}
	server.Start()
	t.Cleanup(server.Close)
	return server, &conns
}

func TestKeepAlive(t *testing.T) {
	server, conns := countConns(t)
	tr := newTestTransport(&sleepRecorder{}, WithKeepAlive(true))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := tr.Do(ctx, server.URL, "", nil); err != nil {
			t.Fatal(err)
		}
	}
	if got := conns.Load(); got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}

	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Do(ctx, server.URL, "", nil); err != nil {
		t.Fatal(err)
	}
	if got := conns.Load(); got != 2 {
		t.Errorf("connections after Close = %d, want 2", got)
	}
}

func TestNoKeepAlive(t *testing.T) {
	server, conns := countConns(t)
	tr := newTestTransport(&sleepRecorder{})

	for i := 0; i < 3; i++ {
		if _, err := tr.Do(context.Background(), server.URL, "", nil); err != nil {
			t.Fatal(err)
		}
	}
	if got := conns.Load(); got != 3 {
		t.Errorf("connections = %d, want 3", got)
	}
}

type retryHooks struct {
	observability.NoopHTTPHooks
	mu      sync.Mutex
	reasons []string
}

func (h *retryHooks) OnRetry(_ context.Context, reason string, _ int, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reasons = append(h.reasons, reason)
}

func TestDo_RetryHooks(t *testing.T) {
	handler, _ := statusSequence(503, 502, 520, 200)
	server := httptest.NewServer(handler)
	defer server.Close()

	hooks := &retryHooks{}
	tr := New(WithSleeper((&sleepRecorder{}).sleep), WithHooks(hooks))
	if _, err := tr.Do(context.Background(), server.URL, "", nil); err != nil {
		t.Fatal(err)
	}
	want := []string{"unavailable", "gateway", "throttled"}
	if fmt.Sprint(hooks.reasons) != fmt.Sprint(want) {
		t.Errorf("reasons = %v, want %v", hooks.reasons, want)
	}
}
