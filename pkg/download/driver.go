package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"booru-archiver/pkg/booru"
	"booru-archiver/pkg/crawl"
	"booru-archiver/pkg/fetch"
	"booru-archiver/pkg/history"
	"booru-archiver/pkg/utils"
)

// Stats aggregates one run. Failed downloads are also counted in the ledger's
// skipped total so a rerun picks them up again.
type Stats struct {
	Downloaded int
	Skipped    int
	Failed     int

	// FailureCategories buckets failures by utils.CategorizeError result.
	FailureCategories map[string]int
}

// Outcome is the result of one post's download attempt.
type Outcome struct {
	PostID     int64
	Rating     string
	Path       string // relative to the output root, empty when skipped
	Downloaded bool
	Reason     string // why the post was skipped or failed
	Err        error
}

// Driver walks a query's result set with the resume-aware cursor and fetches
// each post's media file through the dispatcher. Per-item failures are
// contained; only context cancellation and ledger write failures abort a run.
type Driver struct {
	provider   crawl.Searcher
	client     *http.Client
	dispatcher *fetch.Dispatcher
	hist       *history.Store
	robots     *fetch.RobotsGate
	log        *logrus.Entry

	providerName string
	userAgent    string
	rootDir      string
	pageSize     int

	// OnProgress, when set, is called after every processed post.
	OnProgress func(Stats)
}

// Config wires a Driver. History and Robots may be nil to disable those
// checks.
type Config struct {
	Provider     crawl.Searcher
	ProviderName string
	Client       *http.Client
	Dispatcher   *fetch.Dispatcher
	History      *history.Store
	Robots       *fetch.RobotsGate
	UserAgent    string
	RootDir      string
	PageSize     int
	Log          *logrus.Entry
}

func NewDriver(cfg Config) *Driver {
	return &Driver{
		provider:     cfg.Provider,
		client:       cfg.Client,
		dispatcher:   cfg.Dispatcher,
		hist:         cfg.History,
		robots:       cfg.Robots,
		log:          cfg.Log.WithField("provider", cfg.ProviderName),
		providerName: cfg.ProviderName,
		userAgent:    cfg.UserAgent,
		rootDir:      cfg.RootDir,
		pageSize:     cfg.PageSize,
	}
}

// QueryDir returns the directory a query's files land in.
func (d *Driver) QueryDir(query string) string {
	return filepath.Join(d.rootDir, utils.SanitizePathComponent(query))
}

// Run downloads everything the query matches, resuming from the ledger when
// one exists. A completed prior run triggers a gap-fill pass from the top.
func (d *Driver) Run(ctx context.Context, query string) (Stats, error) {
	log := d.log.WithField("query", query)
	queryDir := d.QueryDir(query)

	ledger := crawl.NewLedger(filepath.Join(queryDir, "resume.json"), log)
	prev := ledger.Load(query)
	state := crawl.StartState(prev, query)
	if prev != nil && prev.Completed {
		log.Info("Previous crawl finished, checking for uploads since that run")
	} else if state.LastSeenID != nil {
		log.WithField("last_seen_id", *state.LastSeenID).
			WithField("downloaded", state.TotalImages).
			Info("Resuming previous session")
	}

	if err := ledger.Save(state); err != nil {
		return Stats{}, err
	}

	var (
		mu    sync.Mutex
		stats Stats
	)
	cursor := crawl.NewCursor(d.provider, query, d.pageSize, state.LastSeenID, log)

	for {
		batch, err := cursor.Next(ctx)
		if err != nil {
			return stats, err
		}
		if batch == nil {
			break
		}

		// The batch is processed fully, outcomes persisted as they land,
		// before the cursor bound moves.
		var wg sync.WaitGroup
		for _, post := range batch {
			wg.Add(1)
			go func(post booru.Post) {
				defer wg.Done()
				outcome := d.fetchPost(ctx, queryDir, post)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case outcome.Downloaded:
					stats.Downloaded++
					state.TotalImages++
				case errors.Is(outcome.Err, utils.ErrRobotsDisallowed):
					// A robots denial is a policy skip, not a failure; a rerun
					// with the gate off will pick the post up.
					stats.Skipped++
					state.SkippedImages++
					log.WithField("post_id", outcome.PostID).Debug("Skipped by robots.txt")
				case outcome.Err != nil:
					stats.Failed++
					if stats.FailureCategories == nil {
						stats.FailureCategories = make(map[string]int)
					}
					stats.FailureCategories[utils.CategorizeError(outcome.Err)]++
					state.SkippedImages++
					log.WithError(outcome.Err).
						WithField("post_id", outcome.PostID).
						WithField("category", utils.CategorizeError(outcome.Err)).
						Warn("Download failed")
				default:
					stats.Skipped++
					state.SkippedImages++
				}
				if err := ledger.Save(state); err != nil {
					log.WithError(err).Error("Failed to persist resume state")
				}
				if d.OnProgress != nil {
					d.OnProgress(stats)
				}
			}(post)
		}
		wg.Wait()

		if err := ctx.Err(); err != nil {
			return stats, err
		}
		state.LastSeenID = cursor.LastSeen()
		if err := ledger.Save(state); err != nil {
			return stats, err
		}
	}

	state.Completed = true
	if err := ledger.Save(state); err != nil {
		return stats, err
	}
	fields := logrus.Fields{
		"downloaded": stats.Downloaded,
		"skipped":    stats.Skipped,
		"failed":     stats.Failed,
	}
	if len(stats.FailureCategories) > 0 {
		fields["failure_categories"] = stats.FailureCategories
	}
	log.WithFields(fields).Info("Crawl finished")
	return stats, nil
}

// fetchPost resolves the target path and downloads one post's media file.
func (d *Driver) fetchPost(ctx context.Context, queryDir string, post booru.Post) Outcome {
	rating := post.RatingLabel
	if rating == "" {
		rating = string(booru.RatingUnknown)
	}
	out := Outcome{PostID: post.ID, Rating: rating}

	if post.FileURL == "" {
		out.Err = fmt.Errorf("missing file url")
		return out
	}

	relPath := filepath.Join(utils.SanitizePathComponent(rating),
		fmt.Sprintf("%d.%s", post.ID, fileExtension(post.FileURL)))
	target := filepath.Join(queryDir, relPath)

	if _, err := os.Stat(target); err == nil {
		out.Reason = "already on disk"
		return out
	}
	if d.hist != nil {
		if _, found, err := d.hist.Check(d.providerName, post.ID); err == nil && found {
			out.Reason = "recorded in history"
			return out
		}
	}
	if d.robots != nil && !d.robots.Allowed(ctx, post.FileURL) {
		out.Reason = "disallowed by robots.txt"
		out.Err = utils.ErrRobotsDisallowed
		return out
	}

	err := d.dispatcher.Schedule(ctx, func(ctx context.Context) error {
		return d.downloadFile(ctx, post.FileURL, target)
	})
	if err != nil {
		out.Err = err
		return out
	}

	out.Downloaded = true
	out.Path = filepath.ToSlash(filepath.Join(filepath.Base(queryDir), relPath))
	if d.hist != nil {
		if err := d.hist.MarkDownloaded(d.providerName, post.ID, history.Entry{
			Path:  out.Path,
			MD5:   post.MD5,
			Query: filepath.Base(queryDir),
		}); err != nil {
			d.log.WithError(err).WithField("post_id", post.ID).Warn("Failed to record download in history")
		}
	}
	return out
}

func (d *Driver) downloadFile(ctx context.Context, url, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, url)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrFilesystem, err)
	}

	// Download to a temp name so an interrupted transfer never leaves a
	// partial file the resume pass would mistake for a finished one.
	tmp := target + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %v", utils.ErrFilesystem, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", utils.ErrFilesystem, err)
	}
	return os.Rename(tmp, target)
}

// fileExtension pulls the extension off a media URL, ignoring any query
// string. Defaults to jpg.
func fileExtension(fileURL string) string {
	trimmed := fileURL
	if idx := strings.IndexByte(trimmed, '?'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if idx := strings.LastIndexByte(trimmed, '.'); idx >= 0 && idx < len(trimmed)-1 {
		ext := trimmed[idx+1:]
		if !strings.ContainsAny(ext, "/\\") {
			return strings.ToLower(ext)
		}
	}
	return "jpg"
}
