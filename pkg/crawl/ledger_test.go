package crawl

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func int64Ptr(v int64) *int64 { return &v }

func TestLedgerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "resume.json")
	l := NewLedger(path, testEntry())

	st := &State{
		Query:         "yakumo_ran",
		LastSeenID:    int64Ptr(500),
		TotalImages:   42,
		SkippedImages: 3,
	}
	require.NoError(t, l.Save(st))

	loaded := l.Load("yakumo_ran")
	require.NotNil(t, loaded)
	assert.Equal(t, LedgerVersion, loaded.Version)
	assert.Equal(t, "yakumo_ran", loaded.Query)
	require.NotNil(t, loaded.LastSeenID)
	assert.Equal(t, int64(500), *loaded.LastSeenID)
	assert.Equal(t, 42, loaded.TotalImages)
	assert.Equal(t, 3, loaded.SkippedImages)
	assert.False(t, loaded.Completed)
	assert.NotEmpty(t, loaded.UpdatedAt)
}

func TestLedgerLoadMissingFile(t *testing.T) {
	l := NewLedger(filepath.Join(t.TempDir(), "resume.json"), testEntry())
	assert.Nil(t, l.Load("anything"))
}

func TestLedgerLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	l := NewLedger(path, testEntry())
	assert.Nil(t, l.Load("anything"))
}

func TestLedgerLoadVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.json")
	data, err := json.Marshal(State{Version: 1, Query: "q"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	l := NewLedger(path, testEntry())
	assert.Nil(t, l.Load("q"))
}

func TestLedgerLoadQueryMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.json")
	l := NewLedger(path, testEntry())
	require.NoError(t, l.Save(&State{Query: "touhou"}))

	assert.Nil(t, l.Load("yakumo_ran"))
	assert.NotNil(t, l.Load("touhou"))
}

func TestStartState(t *testing.T) {
	t.Run("nil prior starts fresh", func(t *testing.T) {
		st := StartState(nil, "q")
		assert.Nil(t, st.LastSeenID)
		assert.Zero(t, st.TotalImages)
		assert.False(t, st.Completed)
	})

	t.Run("in-progress prior resumes", func(t *testing.T) {
		prev := &State{Query: "q", LastSeenID: int64Ptr(500), TotalImages: 10, SkippedImages: 2}
		st := StartState(prev, "q")
		require.NotNil(t, st.LastSeenID)
		assert.Equal(t, int64(500), *st.LastSeenID)
		assert.Equal(t, 10, st.TotalImages)
		assert.Equal(t, 2, st.SkippedImages)

		// The resumed state is a copy, not an alias.
		*st.LastSeenID = 1
		assert.Equal(t, int64(500), *prev.LastSeenID)
	})

	t.Run("completed prior resets for gap fill", func(t *testing.T) {
		prev := &State{Query: "q", LastSeenID: int64Ptr(123), TotalImages: 999, SkippedImages: 5, Completed: true}
		st := StartState(prev, "q")
		assert.Nil(t, st.LastSeenID)
		assert.Zero(t, st.TotalImages)
		assert.Zero(t, st.SkippedImages)
		assert.False(t, st.Completed)
	})
}
