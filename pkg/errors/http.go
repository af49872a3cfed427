package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusWebServerUnknown is the non-standard status zKillboard (behind
// Cloudflare) answers when it detects request spam from a client.
const StatusWebServerUnknown = 520

// Kind classifies a terminal HTTP status.
type Kind int

const (
	// KindUnclassified covers every status with no special meaning to the client.
	KindUnclassified Kind = iota
	// KindTransient covers statuses the transport retries (502, 503, 504, 520).
	// An HTTPError of this kind means the retries were exhausted.
	KindTransient
	// KindPermanentDenial covers 403 and 404. These are cached as sticky errors.
	KindPermanentDenial
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanentDenial:
		return "permanent-denial"
	default:
		return "unclassified"
	}
}

// HTTPError is a terminal non-success HTTP outcome.
//
// Body holds the response body when the error came from the network and is
// nil when it was replayed from a sticky cache entry.
type HTTPError struct {
	Status int
	Body   []byte
	Kind   Kind
}

// NewHTTPError builds an HTTPError and classifies status.
func NewHTTPError(status int, body []byte) *HTTPError {
	return &HTTPError{Status: status, Body: body, Kind: Classify(status)}
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	text := http.StatusText(e.Status)
	if e.Status == StatusWebServerUnknown {
		text = "Web Server Returned an Unknown Error"
	}
	if text == "" {
		return fmt.Sprintf("http error %d", e.Status)
	}
	return fmt.Sprintf("http error %d %s", e.Status, text)
}

// Code maps the status onto the package error codes.
func (e *HTTPError) Code() Code {
	switch e.Status {
	case http.StatusForbidden:
		return ErrCodeForbidden
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusGatewayTimeout:
		return ErrCodeTimeout
	case StatusWebServerUnknown:
		return ErrCodeRateLimited
	}
	return ErrCodeNetwork
}

// Sticky reports whether the error should be remembered by the cache.
func (e *HTTPError) Sticky() bool { return e.Kind == KindPermanentDenial }

// Classify returns the Kind for an HTTP status code.
func Classify(status int) Kind {
	switch status {
	case http.StatusForbidden, http.StatusNotFound:
		return KindPermanentDenial
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, StatusWebServerUnknown:
		return KindTransient
	}
	return KindUnclassified
}

// StatusCode returns the status of the first HTTPError in err's chain, or 0.
func StatusCode(err error) int {
	var e *HTTPError
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
