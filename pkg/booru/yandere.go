package booru

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// DefaultYandereURL is used when no base URL is given.
const DefaultYandereURL = "https://yande.re"

// Yandere talks to yande.re, a danbooru derivative that still serves its
// richest post data over the XML endpoints. Search and tag listings go through
// the XML normalizer; user and comment lookups share the danbooru JSON code.
type Yandere struct {
	base

	summaryMu    sync.Mutex
	summaryCache []TagSummary
}

// TagSummary is one entry of the yande.re tag summary dump used for
// autocomplete.
type TagSummary struct {
	Tag     string
	Aliases []string
}

// NewYandere constructs a Yandere provider. An empty baseURL selects yande.re.
func NewYandere(baseURL string, opts ...Option) (*Yandere, error) {
	if baseURL == "" {
		baseURL = DefaultYandereURL
	}
	b, err := newBase("yandere", baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Yandere{base: b}, nil
}

func (y *Yandere) authParams() string {
	p := params{}
	p.setStr("api_key", y.creds.APIKey)
	p.setStr("login", y.creds.Username)
	return p.encode()
}

// Search queries /post.xml. The wrapper element carries the total match count
// as a count attribute; when it is missing the page length stands in.
func (y *Yandere) Search(ctx context.Context, query string, opt SearchOptions) (*SearchResult, error) {
	p := params{}
	p.setInt("limit", int64(opt.Limit))
	p.setInt("page", int64(opt.Page))

	requestURL := fmt.Sprintf("%s/post.xml?tags=%s%s%s",
		y.baseURL, encodeTagQuery(applyIDFilter(query, opt.ID)), p.encode(), y.authParams())
	body, err := y.get(ctx, requestURL)
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
	if count, ok := asInt64(env.Attributes["count"]); ok {
		result.Total = int(count)
	}
	return result, nil
}

// Tags queries /tag.xml; records arrive as attribute-style <tag/> elements.
func (y *Yandere) Tags(ctx context.Context, opt TagOptions) (*TagResult, error) {
	p := params{}
	p.setStr("name", opt.Name)
	p.setStr("name_pattern", opt.NamePattern)
	p.setInt("id", opt.ID)
	p.setInt("after_id", opt.AfterID)
	p.setInt("limit", int64(opt.Limit))
	p.setStr("order", opt.Order)

	requestURL := fmt.Sprintf("%s/tag.xml%s", y.baseURL, buildQuery(p.encode()))
	body, err := y.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}
	env, err := DecodeEnvelope(body, Shape{Wrapper: "tags", Element: "tag"})
	if err != nil {
		return nil, err
	}

	result := &TagResult{WasXML: env.WasXML}
	for _, r := range env.Records {
		id, ok := asInt64(r["id"])
		if !ok {
			continue
		}
		name := asString(r["name"])
		if name == "" {
			continue
		}
		result.Tags = append(result.Tags, Tag{
			ID:        id,
			Name:      name,
			Count:     asInt(r["count"]),
			Type:      asInt(r["type"]),
			Ambiguous: asBool(r["ambiguous"]),
		})
	}
	result.Total = len(result.Tags)
	return result, nil
}

// Users shares the danbooru-style user lookup.
func (y *Yandere) Users(ctx context.Context, opt UserOptions) (*UserResult, error) {
	return danbooruStyleUsers(ctx, &y.base, y.authParams(), opt)
}

// Comments shares the danbooru-style comment listing.
func (y *Yandere) Comments(ctx context.Context, postID int64, opt CommentOptions) (*CommentResult, error) {
	return danbooruStyleComments(ctx, &y.base, y.authParams(), postID, opt)
}

// PrefetchTagSummary downloads and decodes the /tag/summary dump. Autocomplete
// calls it lazily on first use; callers wanting the cost up front can call it
// directly.
func (y *Yandere) PrefetchTagSummary(ctx context.Context) error {
	body, err := y.get(ctx, y.baseURL+"/tag/summary")
	if err != nil {
		return err
	}

	y.summaryMu.Lock()
	y.summaryCache = decodeTagSummary(string(body))
	y.summaryMu.Unlock()
	return nil
}

// Autocomplete filters the cached tag summary by substring match against tag
// names and aliases.
func (y *Yandere) Autocomplete(ctx context.Context, term string) ([]Suggestion, error) {
	y.summaryMu.Lock()
	cached := y.summaryCache
	y.summaryMu.Unlock()

	if cached == nil {
		if err := y.PrefetchTagSummary(ctx); err != nil {
			return nil, err
		}
		y.summaryMu.Lock()
		cached = y.summaryCache
		y.summaryMu.Unlock()
	}

	needle := strings.ToLower(term)
	var suggestions []Suggestion
	for _, entry := range cached {
		match := strings.Contains(strings.ToLower(entry.Tag), needle)
		if !match {
			for _, alias := range entry.Aliases {
				if strings.Contains(strings.ToLower(alias), needle) {
					match = true
					break
				}
			}
		}
		if match {
			suggestions = append(suggestions, Suggestion{Label: entry.Tag, Value: entry.Tag})
		}
	}
	return suggestions, nil
}

// decodeTagSummary parses the space-separated summary dump where each entry is
// "<aliasCount>`<tag>`<alias alias ...>".
func decodeTagSummary(data string) []TagSummary {
	var entries []TagSummary
	for _, raw := range strings.Fields(strings.TrimSpace(data)) {
		parts := strings.Split(raw, "`")
		if len(parts) < 2 || parts[1] == "" {
			continue
		}
		entry := TagSummary{Tag: parts[1]}
		if _, err := strconv.Atoi(parts[0]); err != nil {
			continue
		}
		if len(parts) > 2 && parts[2] != "" {
			entry.Aliases = strings.Fields(parts[2])
		}
		entries = append(entries, entry)
	}
	return entries
}
