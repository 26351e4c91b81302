package booru

import (
	"context"
	"encoding/json"
	"fmt"

	"booru-archiver/pkg/utils"
)

// DefaultDanbooruURL is used when no base URL is given.
const DefaultDanbooruURL = "https://danbooru.donmai.us"

// Danbooru talks to danbooru-family JSON endpoints.
type Danbooru struct {
	base
}

// NewDanbooru constructs a Danbooru provider. An empty baseURL selects
// danbooru.donmai.us.
func NewDanbooru(baseURL string, opts ...Option) (*Danbooru, error) {
	if baseURL == "" {
		baseURL = DefaultDanbooruURL
	}
	b, err := newBase("danbooru", baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Danbooru{base: b}, nil
}

func (d *Danbooru) authParams() string {
	p := params{}
	p.setStr("api_key", d.creds.APIKey)
	p.setStr("login", d.creds.Username)
	return p.encode()
}

// Search queries /posts.json. The response is a bare JSON array of posts.
func (d *Danbooru) Search(ctx context.Context, query string, opt SearchOptions) (*SearchResult, error) {
	p := params{}
	p.setInt("limit", int64(opt.Limit))
	p.setInt("page", int64(opt.Page))

	requestURL := fmt.Sprintf("%s/posts.json?tags=%s%s%s",
		d.baseURL, encodeTagQuery(applyIDFilter(query, opt.ID)), p.encode(), d.authParams())

	body, err := d.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}
	env, err := DecodeEnvelope(body, Shape{Wrapper: "posts", Element: "post"})
	if err != nil {
		return nil, err
	}

	result := &SearchResult{
		Posts:  PostsFromEnvelope(env),
		WasXML: env.WasXML,
	}
	result.Total = len(result.Posts)
	return result, nil
}

// Tags queries /tags.json using name_matches. Danbooru reports tag usage as
// post_count and the tag kind as category.
func (d *Danbooru) Tags(ctx context.Context, opt TagOptions) (*TagResult, error) {
	p := params{}
	p.setStr("search[name_matches]", opt.Name)
	p.setInt("limit", int64(opt.Limit))
	p.setStr("search[order]", opt.Order)

	requestURL := fmt.Sprintf("%s/tags.json?json=1%s%s", d.baseURL, p.encode(), d.authParams())

	body, err := d.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	var decoded []struct {
		ID        int64  `json:"id"`
		Name      string `json:"name"`
		PostCount int    `json:"post_count"`
		Category  int    `json:"category"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: tags: %v", utils.ErrUnparsableResponse, err)
	}

	result := &TagResult{}
	for _, t := range decoded {
		result.Tags = append(result.Tags, Tag{
			ID:    t.ID,
			Name:  t.Name,
			Count: t.PostCount,
			Type:  t.Category,
		})
	}
	result.Total = len(result.Tags)
	return result, nil
}

// Users looks up users. When only an id filter is set the direct
// /users/<id>.json endpoint is used; every other combination goes through the
// /users.json search surface.
func (d *Danbooru) Users(ctx context.Context, opt UserOptions) (*UserResult, error) {
	return danbooruStyleUsers(ctx, &d.base, d.authParams(), opt)
}

// Comments lists comments for one post via /comments.json.
func (d *Danbooru) Comments(ctx context.Context, postID int64, opt CommentOptions) (*CommentResult, error) {
	return danbooruStyleComments(ctx, &d.base, d.authParams(), postID, opt)
}

// Autocomplete returns tag suggestions for a partial query.
func (d *Danbooru) Autocomplete(ctx context.Context, term string) ([]Suggestion, error) {
	requestURL := fmt.Sprintf(
		"%s/autocomplete?search%%5Bquery%%5D=%s&search%%5Btype%%5D=tag_query&version=3&limit=20&format=json%s",
		d.baseURL, term, d.authParams())

	body, err := d.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	var decoded []struct {
		Label     string `json:"label"`
		Value     string `json:"value"`
		PostCount int64  `json:"post_count"`
		Category  int    `json:"category"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: autocomplete: %v", utils.ErrUnparsableResponse, err)
	}

	suggestions := make([]Suggestion, 0, len(decoded))
	for _, s := range decoded {
		suggestions = append(suggestions, Suggestion{
			Label:     s.Label,
			Value:     s.Value,
			PostCount: s.PostCount,
			Category:  fmt.Sprintf("%d", s.Category),
		})
	}
	return suggestions, nil
}

// danbooruStyleUsers implements the user lookup shared by Danbooru and its
// Yandere derivative.
func danbooruStyleUsers(ctx context.Context, b *base, auth string, opt UserOptions) (*UserResult, error) {
	directLookup := opt.ID != 0 && opt.Name == "" && opt.Order == "" && opt.Level == 0

	if directLookup {
		requestURL := fmt.Sprintf("%s/users/%d.json%s", b.baseURL, opt.ID, buildQuery(auth))
		body, err := b.get(ctx, requestURL)
		if err != nil {
			return nil, err
		}
		var user struct {
			ID    int64  `json:"id"`
			Name  string `json:"name"`
			Level int    `json:"level"`
		}
		if err := json.Unmarshal(body, &user); err != nil {
			return nil, fmt.Errorf("%w: user: %v", utils.ErrUnparsableResponse, err)
		}
		return &UserResult{
			Users: []User{{ID: user.ID, Name: user.Name, Level: user.Level}},
			Total: 1,
		}, nil
	}

	p := params{}
	p.setInt("search[id]", opt.ID)
	p.setStr("search[name_matches]", opt.Name)
	p.setInt("search[level]", int64(opt.Level))
	p.setStr("search[order]", opt.Order)

	requestURL := fmt.Sprintf("%s/users.json%s", b.baseURL, buildQuery(p.encode(), auth))
	body, err := b.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	var decoded []struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Level int    `json:"level"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: users: %v", utils.ErrUnparsableResponse, err)
	}

	result := &UserResult{Total: len(decoded)}
	for _, u := range decoded {
		result.Users = append(result.Users, User{ID: u.ID, Name: u.Name, Level: u.Level})
	}
	return result, nil
}

// danbooruStyleComments implements the comment listing shared by Danbooru and
// its Yandere derivative.
func danbooruStyleComments(ctx context.Context, b *base, auth string, postID int64, opt CommentOptions) (*CommentResult, error) {
	limit := opt.Limit
	if limit <= 0 {
		limit = 20
	}
	p := params{}
	p.setInt("search[post_id]", postID)
	p.setInt("limit", int64(limit))
	p.setInt("page", int64(opt.Page))

	requestURL := fmt.Sprintf("%s/comments.json%s", b.baseURL, buildQuery(p.encode(), auth))
	body, err := b.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	var decoded []struct {
		ID        int64  `json:"id"`
		PostID    int64  `json:"post_id"`
		Creator   string `json:"creator_name"`
		CreatorID int64  `json:"creator_id"`
		Body      string `json:"body"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: comments: %v", utils.ErrUnparsableResponse, err)
	}

	result := &CommentResult{Total: len(decoded)}
	for _, c := range decoded {
		result.Comments = append(result.Comments, Comment{
			ID:        c.ID,
			PostID:    c.PostID,
			Creator:   c.Creator,
			CreatorID: c.CreatorID,
			Body:      c.Body,
			CreatedAt: c.CreatedAt,
		})
	}
	return result, nil
}
