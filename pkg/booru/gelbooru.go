package booru

import (
	"context"
	"encoding/json"
	"fmt"

	"booru-archiver/pkg/utils"
)

// DefaultGelbooruURL is used when no base URL is given.
const DefaultGelbooruURL = "https://gelbooru.com"

var (
	gelbooruPostShape    = Shape{Wrapper: "posts", Element: "post"}
	gelbooruTagShape     = Shape{Wrapper: "tags", Element: "tag"}
	gelbooruCommentShape = Shape{Wrapper: "comments", Element: "comment"}
)

// Gelbooru talks to gelbooru-family dapi endpoints. The same code covers both
// the 0.2 XML-leaning deployments and the 0.3 JSON API; the normalizer evens
// out the shape differences.
type Gelbooru struct {
	base
}

// NewGelbooru constructs a Gelbooru provider. An empty baseURL selects
// gelbooru.com.
func NewGelbooru(baseURL string, opts ...Option) (*Gelbooru, error) {
	if baseURL == "" {
		baseURL = DefaultGelbooruURL
	}
	b, err := newBase("gelbooru", baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Gelbooru{base: b}, nil
}

func (g *Gelbooru) authParams() string {
	p := params{}
	p.setStr("api_key", g.creds.APIKey)
	p.setStr("user_id", g.creds.Username)
	return p.encode()
}

// Search queries the post index. The query string is passed through verbatim:
// tag tokens are joined with '+' and may carry id-range operators (id:<N),
// neither of which survives query escaping.
func (g *Gelbooru) Search(ctx context.Context, query string, opt SearchOptions) (*SearchResult, error) {
	p := params{}
	p.setInt("limit", int64(opt.Limit))
	p.setInt("pid", int64(opt.Page))
	p.setInt("id", opt.ID)

	requestURL := fmt.Sprintf("%s/index.php?page=dapi&s=post&q=index&json=1&tags=%s%s%s",
		g.baseURL, encodeTagQuery(query), p.encode(), g.authParams())

	body, err := g.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}
	env, err := DecodeEnvelope(body, gelbooruPostShape)
	if err != nil {
		return nil, err
	}

	result := &SearchResult{
		Posts:  PostsFromEnvelope(env),
		WasXML: env.WasXML,
	}
	result.Total = len(result.Posts)
	if count, ok := asInt64(env.Attributes["count"]); ok {
		result.Total = int(count)
	}
	return result, nil
}

// Tags queries the tag index. Responses here are the most dialect-unstable of
// the dapi surface: 0.2 sites answer XML even with json=1 set.
func (g *Gelbooru) Tags(ctx context.Context, opt TagOptions) (*TagResult, error) {
	p := params{}
	p.setStr("name", opt.Name)
	p.setStr("name_pattern", opt.NamePattern)
	p.setInt("id", opt.ID)
	p.setInt("after_id", opt.AfterID)
	p.setInt("limit", int64(opt.Limit))
	p.setStr("order", opt.Order)
	p.setStr("orderby", opt.OrderBy)

	requestURL := fmt.Sprintf("%s/index.php?page=dapi&s=tag&q=index&json=1%s%s",
		g.baseURL, p.encode(), g.authParams())

	body, err := g.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}
	env, err := DecodeEnvelope(body, gelbooruTagShape)
	if err != nil {
		return nil, err
	}

	result := &TagResult{WasXML: env.WasXML}
	for _, r := range env.Records {
		id, ok := asInt64(r["id"])
		if !ok {
			continue
		}
		result.Tags = append(result.Tags, Tag{
			ID:        id,
			Name:      asString(r["name"]),
			Count:     asInt(r["count"]),
			Type:      asInt(r["type"]),
			Ambiguous: asBool(r["ambiguous"]),
		})
	}
	result.Total = len(result.Tags)
	return result, nil
}

// Users is not part of the dapi surface.
func (g *Gelbooru) Users(ctx context.Context, opt UserOptions) (*UserResult, error) {
	return nil, fmt.Errorf("%w: gelbooru has no user API", utils.ErrUnsupported)
}

// Comments lists comments for a post. gelbooru.com itself has switched the
// endpoint off; that case is reported as APIDisabled rather than an error so
// callers can distinguish "none" from "unavailable".
func (g *Gelbooru) Comments(ctx context.Context, postID int64, opt CommentOptions) (*CommentResult, error) {
	if g.baseURL == DefaultGelbooruURL {
		g.log.Warn("Comment API is disabled on gelbooru.com")
		return &CommentResult{APIDisabled: true}, nil
	}

	requestURL := fmt.Sprintf("%s/index.php?page=dapi&s=comment&q=index&post_id=%d%s",
		g.baseURL, postID, g.authParams())

	body, err := g.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}
	env, err := DecodeEnvelope(body, gelbooruCommentShape)
	if err != nil {
		return nil, err
	}

	result := &CommentResult{WasXML: env.WasXML}
	for _, r := range env.Records {
		id, _ := asInt64(r["id"])
		postRef, _ := asInt64(r["post_id"])
		creatorID, _ := asInt64(r["creator_id"])
		result.Comments = append(result.Comments, Comment{
			ID:        id,
			PostID:    postRef,
			Creator:   asString(r["creator"]),
			CreatorID: creatorID,
			Body:      asString(r["body"]),
			CreatedAt: asString(r["created_at"]),
		})
	}
	result.Total = len(result.Comments)
	return result, nil
}

// Autocomplete returns tag suggestions for a partial query.
func (g *Gelbooru) Autocomplete(ctx context.Context, term string) ([]Suggestion, error) {
	requestURL := fmt.Sprintf("%s/index.php?page=autocomplete2&term=%s&type=tag_query%s",
		g.baseURL, term, g.authParams())

	body, err := g.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	var decoded []struct {
		Label     string `json:"label"`
		Value     string `json:"value"`
		PostCount string `json:"post_count"`
		Category  string `json:"category"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: autocomplete: %v", utils.ErrUnparsableResponse, err)
	}

	suggestions := make([]Suggestion, 0, len(decoded))
	for _, d := range decoded {
		count, _ := asInt64(d.PostCount)
		suggestions = append(suggestions, Suggestion{
			Label:     d.Label,
			Value:     d.Value,
			PostCount: count,
			Category:  d.Category,
		})
	}
	return suggestions, nil
}
