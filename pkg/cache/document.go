package cache

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/matzehuels/zkbclient/pkg/errors"
)

// Headers holds the response headers kept alongside a payload.
// HTTPError is set instead when the document is a sticky error.
type Headers struct {
	Date         string `json:"date,omitempty"`
	Expires      string `json:"expires,omitempty"`
	LastModified string `json:"last-modified,omitempty"`
	HTTPError    int    `json:"Http-Error,omitempty"`
}

// Document is one cached resource.
type Document struct {
	Headers Headers         `json:"headers"`
	JSON    json.RawMessage `json:"json"`
}

var jsonNull = []byte("null")

// NewDocument builds a payload document from response headers and body.
// Only Date, Expires and Last-Modified are kept.
func NewDocument(h http.Header, payload json.RawMessage) *Document {
	return &Document{
		Headers: Headers{
			Date:         h.Get("Date"),
			Expires:      h.Get("Expires"),
			LastModified: h.Get("Last-Modified"),
		},
		JSON: payload,
	}
}

// NewStickyDocument builds a document remembering a permanent denial.
func NewStickyDocument(status int) *Document {
	return &Document{Headers: Headers{HTTPError: status}}
}

// Sticky reports whether the document is a cached error.
func (d *Document) Sticky() bool { return d.Headers.HTTPError != 0 }

// StickyError rebuilds the cached error, or returns nil for payload documents.
func (d *Document) StickyError() error {
	if !d.Sticky() {
		return nil
	}
	return errors.NewHTTPError(d.Headers.HTTPError, nil)
}

// Payload returns the stored JSON, or nil for sticky documents.
func (d *Document) Payload() json.RawMessage {
	if d.Sticky() {
		return nil
	}
	return d.JSON
}

// LastModified parses the stored Last-Modified header.
// It returns the zero time when the header is missing or malformed.
func (d *Document) LastModified() time.Time {
	if d.Headers.LastModified == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(d.Headers.LastModified)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Validate checks that exactly one of payload and sticky error is present.
func (d *Document) Validate() error {
	hasPayload := len(d.JSON) > 0 && !(d.Sticky() && bytes.Equal(d.JSON, jsonNull))
	switch {
	case d.Sticky() && hasPayload:
		return errors.New(errors.ErrCodeCacheCorrupt, "document holds both a payload and http error %d", d.Headers.HTTPError)
	case !d.Sticky() && !hasPayload:
		return errors.New(errors.ErrCodeCacheCorrupt, "document holds neither a payload nor an http error")
	case d.Sticky() && errors.Classify(d.Headers.HTTPError) != errors.KindPermanentDenial:
		return errors.New(errors.ErrCodeCacheCorrupt, "http error %d cannot be cached", d.Headers.HTTPError)
	}
	return nil
}

// encode validates doc and serializes it as the store representation.
func encode(doc *Document) ([]byte, error) {
	if doc == nil {
		return nil, errors.New(errors.ErrCodeCache, "nil document")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", " ")
}

// decode parses a stored document and rejects ones breaking the invariant.
func decode(key string, data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheCorrupt, err, "decode document %s", key)
	}
	if err := doc.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheCorrupt, err, "document %s", key)
	}
	return &doc, nil
}
