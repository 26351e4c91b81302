package history

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreMarkAndCheck(t *testing.T) {
	store := newTestStore(t)

	_, found, err := store.Check("gelbooru", 12345)
	require.NoError(t, err)
	assert.False(t, found)

	entry := Entry{
		Path:  "yakumo_ran/general/12345.jpg",
		MD5:   "d41d8cd98f00b204e9800998ecf8427e",
		Size:  2048,
		Query: "yakumo_ran",
	}
	require.NoError(t, store.MarkDownloaded("gelbooru", 12345, entry))

	got, found, err := store.Check("gelbooru", 12345)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entry.Path, got.Path)
	assert.Equal(t, entry.MD5, got.MD5)
	assert.Equal(t, entry.Size, got.Size)
	assert.False(t, got.DownloadedAt.IsZero(), "timestamp stamped on write")
}

func TestStoreKeysAreProviderScoped(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.MarkDownloaded("gelbooru", 1, Entry{Path: "a.jpg"}))

	_, found, err := store.Check("danbooru", 1)
	require.NoError(t, err)
	assert.False(t, found, "same post id under another provider is a different key")
}

func TestStoreOverwriteKeepsCount(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.MarkDownloaded("yandere", 7, Entry{Path: "old.png"}))
	require.NoError(t, store.MarkDownloaded("yandere", 7, Entry{Path: "new.png"}))

	assert.Equal(t, 1, store.Count())

	got, found, err := store.Check("yandere", 7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "new.png", got.Path)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	logger := testLogger()

	store1, err := NewStore(dir, logger)
	require.NoError(t, err)
	require.NoError(t, store1.MarkDownloaded("moebooru", 99, Entry{
		Path:         "q/explicit/99.jpg",
		DownloadedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}))
	require.NoError(t, store1.Close())

	store2, err := NewStore(dir, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store2.Close() })

	assert.Equal(t, 1, store2.Count())
	got, found, err := store2.Check("moebooru", 99)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "q/explicit/99.jpg", got.Path)
	assert.True(t, got.DownloadedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
}
