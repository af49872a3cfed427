package zkillboard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/matzehuels/zkbclient/pkg/errors"
)

// FetchPages fetches resource/page/1/, resource/page/2/ and so on until a
// page holds an empty array, and returns the concatenation of all pages as
// one JSON array. Each page is cached as its own document.
//
// Offline, a page missing from the cache ends the walk; if the first page
// is missing the result is nil. After FetchPages, Updated reports whether
// any page was refreshed and LastModified is the newest page timestamp.
func (c *Client) FetchPages(ctx context.Context, resource string, trustCache bool) (json.RawMessage, error) {
	base := strings.TrimSuffix(resource, "/") + "/"

	var (
		merged       = []json.RawMessage{}
		updated      bool
		lastModified time.Time
	)
	for page := 1; ; page++ {
		data, err := c.Fetch(ctx, fmt.Sprintf("%spage/%d/", base, page), nil, trustCache)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		if data == nil {
			if page == 1 {
				return nil, nil
			}
			break
		}

		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, errors.Wrap(errors.ErrCodeNetwork, err, "page %d of %s is not an array", page, resource)
		}
		updated = updated || c.updated
		if c.lastModified.After(lastModified) {
			lastModified = c.lastModified
		}
		if len(items) == 0 {
			break
		}
		merged = append(merged, items...)
		c.logger.Debug("fetched page", "resource", resource, "page", page, "items", len(items))
	}

	c.updated = updated
	c.lastModified = lastModified
	return json.Marshal(merged)
}
