package booru

import (
	"context"
	"encoding/json"
	"fmt"

	"booru-archiver/pkg/utils"
)

// DefaultMoebooruURL is used when no base URL is given.
const DefaultMoebooruURL = "https://konachan.net"

const moebooruMaxLimit = 100

// Moebooru talks to moebooru-family JSON endpoints (konachan and friends).
// All content is included by default; sensitive/explicit posts are opt-out via
// the Exclude fields.
type Moebooru struct {
	base

	// ExcludeSensitive drops questionable-rated posts from search results.
	ExcludeSensitive bool
	// ExcludeExplicit drops explicit-rated posts from search results.
	ExcludeExplicit bool
}

// RelatedTag is one entry of a moebooru related-tags reply.
type RelatedTag struct {
	Name  string
	Count int
}

// NewMoebooru constructs a Moebooru provider. An empty baseURL selects
// konachan.net.
func NewMoebooru(baseURL string, opts ...Option) (*Moebooru, error) {
	if baseURL == "" {
		baseURL = DefaultMoebooruURL
	}
	b, err := newBase("moebooru", baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Moebooru{base: b}, nil
}

// Search queries /post.json. The API caps limit at 100 and defaults the page
// to 1; requesting more than the cap is a caller error, not something to
// silently clamp.
func (m *Moebooru) Search(ctx context.Context, query string, opt SearchOptions) (*SearchResult, error) {
	query = applyIDFilter(query, opt.ID)
	if query == "" {
		return nil, fmt.Errorf("moebooru search requires a query")
	}
	limit := opt.Limit
	if limit <= 0 {
		limit = moebooruMaxLimit
	}
	if limit > moebooruMaxLimit {
		return nil, fmt.Errorf("moebooru limit must be <= %d, got %d", moebooruMaxLimit, limit)
	}
	page := opt.Page
	if page <= 0 {
		page = 1
	}

	requestURL := fmt.Sprintf("%s/post.json?tags=%s&limit=%d&page=%d", m.baseURL, encodeTagQuery(query), limit, page)
	body, err := m.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}
	env, err := DecodeEnvelope(body, Shape{Wrapper: "posts", Element: "post"})
	if err != nil {
		return nil, err
	}

	posts := PostsFromEnvelope(env)
	filtered := 0
	kept := posts[:0]
	for _, p := range posts {
		if (m.ExcludeSensitive && p.Rating == RatingSensitive) ||
			(m.ExcludeExplicit && p.Rating == RatingExplicit) {
			filtered++
			continue
		}
		kept = append(kept, p)
	}
	if filtered > 0 {
		m.log.WithField("filtered", filtered).Debug("Dropped posts by rating filter")
	}

	return &SearchResult{Posts: kept, Total: len(kept), WasXML: env.WasXML}, nil
}

// Tags queries /tag.json.
func (m *Moebooru) Tags(ctx context.Context, opt TagOptions) (*TagResult, error) {
	p := params{}
	p.setStr("name", opt.Name)
	p.setStr("name_pattern", opt.NamePattern)
	p.setInt("id", opt.ID)
	p.setInt("after_id", opt.AfterID)
	p.setInt("limit", int64(opt.Limit))
	p.setStr("order", opt.Order)

	requestURL := fmt.Sprintf("%s/tag.json%s", m.baseURL, buildQuery(p.encode()))
	body, err := m.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	var decoded []struct {
		ID        int64  `json:"id"`
		Name      string `json:"name"`
		Count     int    `json:"count"`
		Type      int    `json:"type"`
		Ambiguous bool   `json:"ambiguous"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: tags: %v", utils.ErrUnparsableResponse, err)
	}

	result := &TagResult{Total: len(decoded)}
	for _, t := range decoded {
		result.Tags = append(result.Tags, Tag{
			ID: t.ID, Name: t.Name, Count: t.Count, Type: t.Type, Ambiguous: t.Ambiguous,
		})
	}
	return result, nil
}

// RelatedTags queries /tag/related.json for tags commonly co-occurring with
// tag. The reply maps the input tag to [name, count] pairs.
func (m *Moebooru) RelatedTags(ctx context.Context, tag string, tagType string) ([]RelatedTag, error) {
	requestURL := fmt.Sprintf("%s/tag/related.json?tags=%s", m.baseURL, tag)
	if tagType != "" {
		requestURL += "&type=" + tagType
	}

	body, err := m.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	var decoded map[string][][]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: related tags: %v", utils.ErrUnparsableResponse, err)
	}

	var related []RelatedTag
	for _, pair := range decoded[tag] {
		if len(pair) < 2 {
			continue
		}
		related = append(related, RelatedTag{
			Name:  asString(pair[0]),
			Count: asInt(pair[1]),
		})
	}
	return related, nil
}

// Users queries /user.json. Moebooru requires credentials for this endpoint;
// id and name are mutually exclusive, id winning when both are set.
func (m *Moebooru) Users(ctx context.Context, opt UserOptions) (*UserResult, error) {
	if m.creds.Empty() {
		return nil, fmt.Errorf("%w: moebooru user lookup requires login", utils.ErrMissingCredentials)
	}

	p := params{}
	p.setStr("login", m.creds.Username)
	p.setStr("password_hash", m.creds.APIKey)
	if opt.ID != 0 {
		p.setInt("id", opt.ID)
	} else {
		p.setStr("name", opt.Name)
	}

	requestURL := fmt.Sprintf("%s/user.json%s", m.baseURL, buildQuery(p.encode()))
	body, err := m.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	var decoded []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: users: %v", utils.ErrUnparsableResponse, err)
	}

	result := &UserResult{Total: len(decoded)}
	for _, u := range decoded {
		result.Users = append(result.Users, User{ID: u.ID, Name: u.Name})
	}
	return result, nil
}

// Comments queries /comment.json for one post.
func (m *Moebooru) Comments(ctx context.Context, postID int64, opt CommentOptions) (*CommentResult, error) {
	p := params{}
	p.setInt("post_id", postID)
	p.setInt("limit", int64(opt.Limit))
	p.setInt("page", int64(opt.Page))

	requestURL := fmt.Sprintf("%s/comment.json%s", m.baseURL, buildQuery(p.encode()))
	body, err := m.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	var decoded []struct {
		ID        int64  `json:"id"`
		PostID    int64  `json:"post_id"`
		Creator   string `json:"creator"`
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
