package booru

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDanbooruSearch(t *testing.T) {
	var gotURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Write([]byte(`[
			{"id": 7000000, "rating": "g", "tag_string": "1girl solo", "uploader_name": "dave", "large_file_url": "https://cdn.example/full.png", "md5": "ccc"},
			{"id": 6999999, "rating": "e", "tag_string": "1girl", "file_url": "https://cdn.example/other.jpg"}
		]`))
	}))
	defer server.Close()

	d, err := NewDanbooru(server.URL, WithCredentials(Credentials{Username: "dave", APIKey: "key"}))
	require.NoError(t, err)

	result, err := d.Search(context.Background(), "1girl solo", SearchOptions{Limit: 20})
	require.NoError(t, err)

	assert.Contains(t, gotURL, "/posts.json?tags=1girl+solo")
	assert.Contains(t, gotURL, "&login=dave")
	require.Len(t, result.Posts, 2)
	assert.Equal(t, "1girl solo", result.Posts[0].Tags)
	assert.Equal(t, "dave", result.Posts[0].Owner)
	assert.Equal(t, "https://cdn.example/full.png", result.Posts[0].FileURL)
	assert.Equal(t, RatingGeneral, result.Posts[0].Rating)
	assert.Equal(t, RatingExplicit, result.Posts[1].Rating)
}

func TestDanbooruSearchIDFilter(t *testing.T) {
	var gotURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Write([]byte(`[{"id": 777, "rating": "g"}]`))
	}))
	defer server.Close()

	d, err := NewDanbooru(server.URL)
	require.NoError(t, err)

	result, err := d.Search(context.Background(), "", SearchOptions{ID: 777, Limit: 1})
	require.NoError(t, err)
	assert.Contains(t, gotURL, "tags=id:777")
	require.Len(t, result.Posts, 1)
	assert.Equal(t, int64(777), result.Posts[0].ID)
}

func TestDanbooruTags(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 5, "name": "1girl", "post_count": 6000000, "category": 0}]`))
	}))
	defer server.Close()

	d, err := NewDanbooru(server.URL)
	require.NoError(t, err)

	result, err := d.Tags(context.Background(), TagOptions{Name: "1girl"})
	require.NoError(t, err)
	require.Len(t, result.Tags, 1)
	assert.Equal(t, 6000000, result.Tags[0].Count)
}

func TestDanbooruUsersSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A name filter forces the search surface instead of the direct lookup.
		assert.Equal(t, "/users.json", r.URL.Path)
		w.Write([]byte(`[{"id": 1, "name": "dave", "level": 20}]`))
	}))
	defer server.Close()

	d, err := NewDanbooru(server.URL)
	require.NoError(t, err)

	result, err := d.Users(context.Background(), UserOptions{Name: "dave"})
	require.NoError(t, err)
	require.Len(t, result.Users, 1)
	assert.Equal(t, 20, result.Users[0].Level)
}

func TestDanbooruComments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "7000000", q.Get("search[post_id]"))
		assert.Equal(t, "20", q.Get("limit"))
		w.Write([]byte(`[{"id": 9, "post_id": 7000000, "creator_name": "eve", "creator_id": 3, "body": "!!", "created_at": "2025-08-02T08:14:32Z"}]`))
	}))
	defer server.Close()

	d, err := NewDanbooru(server.URL)
	require.NoError(t, err)

	result, err := d.Comments(context.Background(), 7000000, CommentOptions{})
	require.NoError(t, err)
	require.Len(t, result.Comments, 1)
	assert.Equal(t, "eve", result.Comments[0].Creator)
}

func TestDanbooruAutocomplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"label": "1girl", "value": "1girl", "post_count": 6000000, "category": 0}]`))
	}))
	defer server.Close()

	d, err := NewDanbooru(server.URL)
	require.NoError(t, err)

	suggestions, err := d.Autocomplete(context.Background(), "1gir")
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, int64(6000000), suggestions[0].PostCount)
}
