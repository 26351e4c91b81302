package metadata

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"booru-archiver/pkg/booru"
	"booru-archiver/pkg/fetch"
	"booru-archiver/pkg/utils"
)

const (
	maxPostsPerRequest          = 100
	maxEmptyBatchesWithoutMatch = 50
)

// Searcher is the slice of the provider contract the reconciler needs.
type Searcher interface {
	Search(ctx context.Context, query string, opt booru.SearchOptions) (*booru.SearchResult, error)
}

// Summary reports how one query's ids were resolved.
type Summary struct {
	Query       string `json:"query"`
	TotalIDs    int    `json:"totalIds"`
	ResolvedIDs int    `json:"resolvedIds"`
	MissingIDs  int    `json:"missingIds"`
}

// RecordSink receives each record as it resolves, before the run finishes.
// Used to stream records into the sidecar writer.
type RecordSink func(Record)

// Reconciler matches locally scanned file groups back to remote posts. It
// pages the query newest-first with a descending id cursor seeded just above
// the largest pending id, then falls back to per-id lookups for stragglers
// the cursor walk never met.
type Reconciler struct {
	provider   Searcher
	dispatcher *fetch.Dispatcher
	log        *logrus.Entry

	// OnProgress, when set, is called after every resolved or abandoned id.
	OnProgress func(processed, total int)
}

func NewReconciler(provider Searcher, dispatcher *fetch.Dispatcher, log *logrus.Entry) *Reconciler {
	return &Reconciler{provider: provider, dispatcher: dispatcher, log: log}
}

// ResolveQuery resolves all groups attributed to query. Missing ids are
// terminal for this run and returned sorted ascending. Per-page fetch errors
// degrade to the straggler fallback; only context cancellation aborts.
func (r *Reconciler) ResolveQuery(ctx context.Context, query string, groups []Group, sink RecordSink) ([]Record, []int64, Summary, error) {
	summary := Summary{Query: query, TotalIDs: len(groups)}
	if len(groups) == 0 {
		return nil, nil, summary, nil
	}
	log := r.log.WithField("query", query)

	idToFiles := make(map[int64][]LocalFile, len(groups))
	pending := make(map[int64]struct{}, len(groups))
	var maxID int64
	for _, g := range groups {
		idToFiles[g.ID] = g.LocalFiles()
		pending[g.ID] = struct{}{}
		if g.ID > maxID {
			maxID = g.ID
		}
	}

	var records []Record
	processed := 0
	emit := func(rec Record) {
		records = append(records, rec)
		if sink != nil {
			sink(rec)
		}
		processed++
		if r.OnProgress != nil {
			r.OnProgress(processed, summary.TotalIDs)
		}
	}

	// Cursor walk: bounded pages sweeping down from just above the newest
	// pending id, so the first page already contains it.
	cursorID := maxID + 1
	consecutiveEmpty := 0
	for len(pending) > 0 && cursorID > 0 {
		if err := ctx.Err(); err != nil {
			return records, nil, summary, err
		}

		posts, err := r.fetchPage(ctx, query, cursorID)
		if err != nil {
			log.WithError(err).
				WithField("category", utils.CategorizeError(err)).
				Warn("Cursor page fetch failed, switching to targeted lookups")
			break
		}
		if len(posts) == 0 {
			break
		}

		matched := 0
		var smallest int64 = -1
		for _, post := range posts {
			if smallest < 0 || post.ID < smallest {
				smallest = post.ID
			}
			if _, want := pending[post.ID]; !want {
				continue
			}
			matched++
			files := idToFiles[post.ID]
			delete(pending, post.ID)
			delete(idToFiles, post.ID)
			emit(BuildRecord(post, files))
		}

		if matched == 0 {
			consecutiveEmpty++
		} else {
			consecutiveEmpty = 0
		}
		if consecutiveEmpty >= maxEmptyBatchesWithoutMatch {
			log.WithField("batches", maxEmptyBatchesWithoutMatch).
				Info("No matches in consecutive batches, switching to targeted lookups")
			break
		}
		if smallest < 0 {
			break
		}
		cursorID = smallest
	}

	// Straggler fallback: per-id point lookups for whatever the sweep missed.
	missing, err := r.resolveStragglers(ctx, pending, idToFiles, emit)
	if err != nil {
		return records, nil, summary, err
	}

	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	summary.ResolvedIDs = len(records)
	summary.MissingIDs = len(missing)
	return records, missing, summary, nil
}

func (r *Reconciler) fetchPage(ctx context.Context, query string, cursorID int64) ([]booru.Post, error) {
	bounded := fmt.Sprintf("id:<%d", cursorID)
	if query != "" {
		bounded = fmt.Sprintf("%s id:<%d", query, cursorID)
	}
	return fetch.Schedule(ctx, r.dispatcher, func(ctx context.Context) ([]booru.Post, error) {
		result, err := r.provider.Search(ctx, bounded, booru.SearchOptions{Limit: maxPostsPerRequest})
		if err != nil {
			return nil, err
		}
		return result.Posts, nil
	})
}

// resolveStragglers runs the per-id fallback lookups concurrently through the
// dispatcher. Ids that still resolve to nothing are missing for good.
func (r *Reconciler) resolveStragglers(ctx context.Context, pending map[int64]struct{}, idToFiles map[int64][]LocalFile, emit func(Record)) ([]int64, error) {
	if len(pending) == 0 {
		return nil, nil
	}
	r.log.WithField("count", len(pending)).Info("Falling back to targeted id lookups")

	type outcome struct {
		id   int64
		post *booru.Post
	}
	ids := make([]int64, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}

	outcomes := make([]outcome, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			post, err := fetch.Schedule(ctx, r.dispatcher, func(ctx context.Context) (*booru.Post, error) {
				result, err := r.provider.Search(ctx, fmt.Sprintf("id:%d", id), booru.SearchOptions{Limit: 1})
				if err != nil {
					return nil, err
				}
				if len(result.Posts) == 0 {
					return nil, nil
				}
				return &result.Posts[0], nil
			})
			if err != nil {
				r.log.WithError(err).
					WithField("post_id", id).
					WithField("category", utils.CategorizeError(err)).
					Warn("Targeted lookup failed")
				post = nil
			}
			outcomes[i] = outcome{id: id, post: post}
		}(i, id)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var missing []int64
	for _, o := range outcomes {
		if o.post == nil {
			missing = append(missing, o.id)
			continue
		}
		emit(BuildRecord(*o.post, idToFiles[o.id]))
	}
	return missing, nil
}
