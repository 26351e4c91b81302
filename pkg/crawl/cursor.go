package crawl

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"booru-archiver/pkg/booru"
)

// Searcher is the slice of the provider contract the cursor needs.
type Searcher interface {
	Search(ctx context.Context, query string, opt booru.SearchOptions) (*booru.SearchResult, error)
}

// Cursor pages through a query newest-first using strictly decreasing id
// bounds. Each batch is bounded by `id:<N` where N is the smallest id seen in
// the previous batch, so no page is ever revisited regardless of posts being
// added or removed between requests.
type Cursor struct {
	provider Searcher
	query    string
	pageSize int
	lastSeen *int64
	done     bool
	log      *logrus.Entry
}

// NewCursor starts a cursor for query. resumeFrom, when non-nil, bounds the
// first batch the same way a previous run's last seen id would.
func NewCursor(provider Searcher, query string, pageSize int, resumeFrom *int64, log *logrus.Entry) *Cursor {
	var resume *int64
	if resumeFrom != nil {
		v := *resumeFrom
		resume = &v
	}
	return &Cursor{
		provider: provider,
		query:    query,
		pageSize: pageSize,
		lastSeen: resume,
		log:      log.WithField("query", query),
	}
}

// Done reports whether the cursor has reached the end of the result set.
func (c *Cursor) Done() bool { return c.done }

// LastSeen returns the current lower bound, nil before the first batch.
func (c *Cursor) LastSeen() *int64 {
	if c.lastSeen == nil {
		return nil
	}
	v := *c.lastSeen
	return &v
}

// Next fetches the next batch. It returns (nil, nil) once the result set is
// exhausted. The caller must fully process a batch before calling Next again;
// the cursor only advances past posts it has already handed out.
func (c *Cursor) Next(ctx context.Context) ([]booru.Post, error) {
	if c.done {
		return nil, nil
	}

	query := c.query
	if c.lastSeen != nil {
		query = fmt.Sprintf("%s id:<%d", c.query, *c.lastSeen)
	}

	result, err := c.provider.Search(ctx, query, booru.SearchOptions{Limit: c.pageSize})
	if err != nil {
		return nil, err
	}
	if len(result.Posts) == 0 {
		c.log.Debug("Empty batch, cursor exhausted")
		c.done = true
		return nil, nil
	}

	minID := result.Posts[0].ID
	for _, p := range result.Posts[1:] {
		if p.ID < minID {
			minID = p.ID
		}
	}

	// A batch that fails to lower the bound would loop forever; treat it as
	// the end of usable results.
	if c.lastSeen != nil && minID >= *c.lastSeen {
		c.log.WithFields(logrus.Fields{
			"min_id":    minID,
			"last_seen": *c.lastSeen,
		}).Warn("Cursor failed to advance, stopping")
		c.done = true
		return nil, nil
	}
	c.lastSeen = &minID

	// A short page is not treated as the end: only an empty batch is. Some
	// boards undercount pages when posts are hidden by filters.
	return result.Posts, nil
}
