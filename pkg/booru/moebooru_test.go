package booru

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booru-archiver/pkg/utils"
)

func TestMoebooruSearch(t *testing.T) {
	var gotURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Write([]byte(`[
			{"id": 300, "rating": "s", "tags": "landscape", "file_url": "https://img.example/300.jpg", "created_at": 1754140472},
			{"id": 299, "rating": "q", "tags": "landscape", "file_url": "https://img.example/299.jpg", "created_at": 1754140000}
		]`))
	}))
	defer server.Close()

	m, err := NewMoebooru(server.URL)
	require.NoError(t, err)

	result, err := m.Search(context.Background(), "landscape", SearchOptions{Limit: 50, Page: 2})
	require.NoError(t, err)

	assert.Contains(t, gotURL, "/post.json?tags=landscape&limit=50&page=2")
	require.Len(t, result.Posts, 2)
	assert.Equal(t, int64(300), result.Posts[0].ID)
	assert.Equal(t, RatingGeneral, result.Posts[0].Rating)
	assert.False(t, result.Posts[0].CreatedAt.IsZero())
}

func TestMoebooruSearchDefaults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	m, err := NewMoebooru(server.URL)
	require.NoError(t, err)

	result, err := m.Search(context.Background(), "tag", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Posts)
}

func TestMoebooruSearchLimitTooLarge(t *testing.T) {
	m, err := NewMoebooru("https://example.org")
	require.NoError(t, err)

	_, err = m.Search(context.Background(), "tag", SearchOptions{Limit: 101})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit must be <= 100")
}

func TestMoebooruSearchIDFilter(t *testing.T) {
	var gotURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Write([]byte(`[{"id": 777, "rating": "s"}]`))
	}))
	defer server.Close()

	m, err := NewMoebooru(server.URL)
	require.NoError(t, err)

	// An id filter alone is a valid query.
	result, err := m.Search(context.Background(), "", SearchOptions{ID: 777})
	require.NoError(t, err)
	assert.Contains(t, gotURL, "tags=id:777")
	require.Len(t, result.Posts, 1)

	_, err = m.Search(context.Background(), "landscape", SearchOptions{ID: 777})
	require.NoError(t, err)
	assert.Contains(t, gotURL, "tags=landscape+id:777")
}

func TestMoebooruSearchRequiresQuery(t *testing.T) {
	m, err := NewMoebooru("https://example.org")
	require.NoError(t, err)

	_, err = m.Search(context.Background(), "", SearchOptions{})
	assert.Error(t, err)
}

func TestMoebooruSearchRatingFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id": 3, "rating": "s"},
			{"id": 2, "rating": "q"},
			{"id": 1, "rating": "e"}
		]`))
	}))
	defer server.Close()

	m, err := NewMoebooru(server.URL)
	require.NoError(t, err)
	m.ExcludeSensitive = true
	m.ExcludeExplicit = true

	result, err := m.Search(context.Background(), "tag", SearchOptions{})
	require.NoError(t, err)

	require.Len(t, result.Posts, 1)
	assert.Equal(t, int64(3), result.Posts[0].ID)
	assert.Equal(t, 1, result.Total)
}

func TestMoebooruRelatedTags(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.String(), "/tag/related.json?tags=fox")
		w.Write([]byte(`{"fox": [["fox_ears", 120], ["fox_tail", 95]]}`))
	}))
	defer server.Close()

	m, err := NewMoebooru(server.URL)
	require.NoError(t, err)

	related, err := m.RelatedTags(context.Background(), "fox", "")
	require.NoError(t, err)

	require.Len(t, related, 2)
	assert.Equal(t, "fox_ears", related[0].Name)
	assert.Equal(t, 120, related[0].Count)
}

func TestMoebooruUsersRequireLogin(t *testing.T) {
	m, err := NewMoebooru("https://example.org")
	require.NoError(t, err)

	_, err = m.Users(context.Background(), UserOptions{Name: "anyone"})
	assert.ErrorIs(t, err, utils.ErrMissingCredentials)
}

func TestMoebooruUsersIDWinsOverName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "7", q.Get("id"))
		assert.Empty(t, q.Get("name"))
		assert.Equal(t, "me", q.Get("login"))
		w.Write([]byte(`[{"id": 7, "name": "alice"}]`))
	}))
	defer server.Close()

	m, err := NewMoebooru(server.URL, WithCredentials(Credentials{Username: "me", APIKey: "hash"}))
	require.NoError(t, err)

	result, err := m.Users(context.Background(), UserOptions{ID: 7, Name: "alice"})
	require.NoError(t, err)
	require.Len(t, result.Users, 1)
	assert.Equal(t, "alice", result.Users[0].Name)
}

func TestMoebooruComments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("post_id"))
		w.Write([]byte(`[{"id": 1, "post_id": 42, "creator": "bob", "creator_id": 2, "body": "hello", "created_at": "2025-08-02T08:14:32Z"}]`))
	}))
	defer server.Close()

	m, err := NewMoebooru(server.URL)
	require.NoError(t, err)

	result, err := m.Comments(context.Background(), 42, CommentOptions{})
	require.NoError(t, err)
	require.Len(t, result.Comments, 1)
	assert.Equal(t, "bob", result.Comments[0].Creator)
}
