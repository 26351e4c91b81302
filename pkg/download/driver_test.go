package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booru-archiver/pkg/booru"
	"booru-archiver/pkg/crawl"
	"booru-archiver/pkg/fetch"
	"booru-archiver/pkg/history"
)

func testEntry() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testDispatcher() *fetch.Dispatcher {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return fetch.NewDispatcher(4, 0, log)
}

// pagedSearcher serves one descending page then an empty one, like a board
// with fewer posts than the page size.
type pagedSearcher struct {
	mu    sync.Mutex
	posts []booru.Post
	calls int
}

func (p *pagedSearcher) Search(ctx context.Context, query string, opt booru.SearchOptions) (*booru.SearchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls > 1 {
		return &booru.SearchResult{}, nil
	}
	return &booru.SearchResult{Posts: p.posts, Total: len(p.posts)}, nil
}

func mediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, "media:%s", r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestDriver(t *testing.T, srv *httptest.Server, posts []booru.Post, root string) (*Driver, *history.Store) {
	t.Helper()
	store, err := history.NewStore(t.TempDir(), testEntry())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewDriver(Config{
		Provider:     &pagedSearcher{posts: posts},
		ProviderName: "gelbooru",
		Client:       srv.Client(),
		Dispatcher:   testDispatcher(),
		History:      store,
		UserAgent:    "archiver-test",
		RootDir:      root,
		PageSize:     100,
		Log:          testEntry(),
	}), store
}

func TestDriverDownloadsIntoRatingFolders(t *testing.T) {
	srv := mediaServer(t)
	root := t.TempDir()
	posts := []booru.Post{
		{ID: 900, RatingLabel: "general", FileURL: srv.URL + "/900.jpg"},
		{ID: 850, RatingLabel: "explicit", FileURL: srv.URL + "/850.png?token=abc"},
		{ID: 800, RatingLabel: "", FileURL: srv.URL + "/800.gif"},
	}
	d, store := newTestDriver(t, srv, posts, root)

	stats, err := d.Run(context.Background(), "yakumo_ran")
	require.NoError(t, err)
	assert.Equal(t, Stats{Downloaded: 3}, stats)

	for _, rel := range []string{
		"yakumo_ran/general/900.jpg",
		"yakumo_ran/explicit/850.png", // query string stripped from extension
		"yakumo_ran/unknown/800.gif",
	} {
		_, statErr := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
		assert.NoError(t, statErr, rel)
	}

	// Ledger marks the run complete.
	ledger := crawl.NewLedger(filepath.Join(root, "yakumo_ran", "resume.json"), testEntry())
	state := ledger.Load("yakumo_ran")
	require.NotNil(t, state)
	assert.True(t, state.Completed)
	assert.Equal(t, 3, state.TotalImages)

	// History recorded every download.
	_, found, err := store.Check("gelbooru", 900)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestDriverSkipsExistingAndRecorded(t *testing.T) {
	srv := mediaServer(t)
	root := t.TempDir()
	posts := []booru.Post{
		{ID: 10, RatingLabel: "general", FileURL: srv.URL + "/10.jpg"},
		{ID: 20, RatingLabel: "general", FileURL: srv.URL + "/20.jpg"},
	}

	// Post 10 already sits on disk.
	existing := filepath.Join(root, "tag", "general", "10.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))

	d, store := newTestDriver(t, srv, posts, root)
	// Post 20 is recorded in history from an earlier run.
	require.NoError(t, store.MarkDownloaded("gelbooru", 20, history.Entry{Path: "tag/general/20.jpg"}))

	stats, err := d.Run(context.Background(), "tag")
	require.NoError(t, err)
	assert.Equal(t, Stats{Skipped: 2}, stats)

	// The existing file was not rewritten.
	content, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "old", string(content))
}

func TestDriverContainsPerItemFailures(t *testing.T) {
	srv := mediaServer(t)
	root := t.TempDir()
	posts := []booru.Post{
		{ID: 1, RatingLabel: "general", FileURL: srv.URL + "/1.jpg"},
		{ID: 2, RatingLabel: "general", FileURL: srv.URL + "/missing.png"},
		{ID: 3, RatingLabel: "general"}, // no file url at all
	}
	d, _ := newTestDriver(t, srv, posts, root)

	stats, err := d.Run(context.Background(), "tag")
	require.NoError(t, err, "per-item failures must not abort the run")
	assert.Equal(t, 1, stats.Downloaded)
	assert.Equal(t, 2, stats.Failed)

	// Failures are bucketed for the run summary.
	total := 0
	for _, n := range stats.FailureCategories {
		total += n
	}
	assert.Equal(t, 2, total)

	// Failed downloads leave no partial files behind.
	_, statErr := os.Stat(filepath.Join(root, "tag", "general", "missing.png"))
	assert.True(t, os.IsNotExist(statErr))

	// Ledger counts failures as skipped so a rerun retries them.
	state := crawl.NewLedger(filepath.Join(root, "tag", "resume.json"), testEntry()).Load("tag")
	require.NotNil(t, state)
	assert.Equal(t, 1, state.TotalImages)
	assert.Equal(t, 2, state.SkippedImages)
}

func TestDriverRobotsDenialIsSkipNotFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /blocked/\n")
			return
		}
		fmt.Fprintf(w, "media:%s", r.URL.Path)
	}))
	t.Cleanup(srv.Close)

	root := t.TempDir()
	posts := []booru.Post{
		{ID: 1, RatingLabel: "general", FileURL: srv.URL + "/1.jpg"},
		{ID: 2, RatingLabel: "general", FileURL: srv.URL + "/blocked/2.jpg"},
	}

	store, err := history.NewStore(t.TempDir(), testEntry())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	d := NewDriver(Config{
		Provider:     &pagedSearcher{posts: posts},
		ProviderName: "gelbooru",
		Client:       srv.Client(),
		Dispatcher:   testDispatcher(),
		History:      store,
		Robots:       fetch.NewRobotsGate(srv.Client(), "archiver-test", log),
		UserAgent:    "archiver-test",
		RootDir:      root,
		PageSize:     100,
		Log:          testEntry(),
	})

	stats, err := d.Run(context.Background(), "tag")
	require.NoError(t, err)
	assert.Equal(t, Stats{Downloaded: 1, Skipped: 1}, stats)

	// The denied post was never fetched and counts toward the ledger's
	// skipped total like any other skip.
	_, statErr := os.Stat(filepath.Join(root, "tag", "general", "2.jpg"))
	assert.True(t, os.IsNotExist(statErr))
	state := crawl.NewLedger(filepath.Join(root, "tag", "resume.json"), testEntry()).Load("tag")
	require.NotNil(t, state)
	assert.Equal(t, 1, state.SkippedImages)

	// History only records the completed download.
	_, found, err := store.Check("gelbooru", 2)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFileExtension(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://img.example.com/a/b/123.jpg", "jpg"},
		{"https://img.example.com/123.PNG?auth=x", "png"},
		{"https://img.example.com/123", "jpg"},
		{"https://img.example.com/dir.v2/123", "jpg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fileExtension(tt.url), tt.url)
	}
}
