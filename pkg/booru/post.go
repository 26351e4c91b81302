package booru

import (
	"strconv"
	"strings"
	"time"
)

// Rating is the normalized content-rating bucket. Provider label vocabularies
// differ (single letters on old APIs, words on new ones) but every post maps
// to one of these four.
type Rating string

const (
	RatingGeneral   Rating = "general"
	RatingSensitive Rating = "sensitive"
	RatingExplicit  Rating = "explicit"
	RatingUnknown   Rating = "unknown"
)

// NormalizeRating maps a provider rating label onto a Rating bucket.
func NormalizeRating(label string) Rating {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "g", "s", "safe", "general":
		return RatingGeneral
	case "q", "questionable", "sensitive":
		return RatingSensitive
	case "e", "explicit":
		return RatingExplicit
	default:
		return RatingUnknown
	}
}

// Post is the canonical media record shared by all providers. ID is the stable
// join key between local files and remote metadata; two posts with the same ID
// from the same provider are the same entity even when cosmetic fields differ
// across API versions.
type Post struct {
	ID          int64
	Rating      Rating
	RatingLabel string // original provider vocabulary, kept for sidecars
	Tags        string // space-separated tag tokens
	Source      string
	FileURL     string
	SampleURL   string
	PreviewURL  string
	Width       int
	Height      int
	Score       int
	Owner       string
	CreatedAt   time.Time // zero when the provider gave nothing parseable
	MD5         string    // md5 on 0.3-era APIs, hash on 0.2
	ParentID    int64
	CreatorID   int64
	Change      int64
	HasChildren bool
	HasComments bool
	Sample      bool
	Status      string
	Directory   string
	Image       string // provider-side filename
	Title       string
}

// TagList splits the post's tag string into trimmed, deduplicated tokens.
func (p *Post) TagList() []string {
	seen := make(map[string]struct{})
	var tags []string
	for _, tok := range strings.Fields(p.Tags) {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		tags = append(tags, tok)
	}
	return tags
}

// PostFromRecord builds a canonical Post from a flattened provider record.
// The heterogeneous wire shapes (hash vs md5, boolean vs numeric sample flag,
// string vs number ids) are resolved here, once, so nothing downstream ever
// sees a dialect difference.
func PostFromRecord(r RawRecord) (Post, bool) {
	id, ok := asInt64(r["id"])
	if !ok {
		return Post{}, false
	}

	label := asString(r["rating"])
	p := Post{
		ID:          id,
		Rating:      NormalizeRating(label),
		RatingLabel: label,
		Tags:        asString(r["tags"]),
		Source:      asString(r["source"]),
		FileURL:     asString(r["file_url"]),
		SampleURL:   asString(r["sample_url"]),
		PreviewURL:  asString(r["preview_url"]),
		Width:       asInt(r["width"]),
		Height:      asInt(r["height"]),
		Score:       asInt(r["score"]),
		Owner:       asString(r["owner"]),
		CreatedAt:   parseCreatedAt(r["created_at"]),
		Status:      asString(r["status"]),
		Directory:   asString(r["directory"]),
		Image:       asString(r["image"]),
		Title:       asString(r["title"]),
		HasChildren: asBool(r["has_children"]),
		HasComments: asBool(r["has_comments"]),
		Sample:      asBool(r["sample"]),
	}
	if p.RatingLabel == "" {
		p.RatingLabel = string(RatingUnknown)
	}

	// 0.2-era APIs expose the checksum as "hash", 0.3 as "md5".
	if md5 := asString(r["md5"]); md5 != "" {
		p.MD5 = md5
	} else {
		p.MD5 = asString(r["hash"])
	}
	// Danbooru nests URLs differently and names the author field differently.
	if p.Owner == "" {
		p.Owner = asString(r["uploader_name"])
	}
	if p.FileURL == "" {
		p.FileURL = asString(r["large_file_url"])
	}
	if p.Tags == "" {
		p.Tags = asString(r["tag_string"])
	}

	p.ParentID, _ = asInt64(r["parent_id"])
	p.CreatorID, _ = asInt64(r["creator_id"])
	p.Change, _ = asInt64(r["change"])
	return p, true
}

// PostsFromEnvelope converts every record carrying a usable numeric id.
// Records with unparsable ids are dropped rather than aborting the batch.
func PostsFromEnvelope(env *Envelope) []Post {
	posts := make([]Post, 0, len(env.Records))
	for _, r := range env.Records {
		if p, ok := PostFromRecord(r); ok {
			posts = append(posts, p)
		}
	}
	return posts
}

// --- wire value accessors ---
// JSON decoding yields float64/bool/string, XML yields string; these fold both
// into one representation.

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case int:
		return int64(t), true
	case int64:
		return t, true
	default:
		return 0, false
	}
}

func asInt(v any) int {
	n, _ := asInt64(v)
	return int(n)
}

// asBool folds the three sample/children flag dialects: real booleans,
// "true"/"false" strings, and numeric 0/1.
func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "true" || s == "1"
	default:
		return false
	}
}

// createdAtLayouts covers the free-text date formats seen across API
// generations; epoch seconds are handled separately.
var createdAtLayouts = []string{
	time.RubyDate, // "Mon Jan 02 15:04:05 -0700 2006", gelbooru 0.3
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02T15:04:05.000-07:00",
}

func parseCreatedAt(v any) time.Time {
	switch t := v.(type) {
	case float64:
		return time.Unix(int64(t), 0).UTC()
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}
		}
		if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(epoch, 0).UTC()
		}
		for _, layout := range createdAtLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC()
			}
		}
	}
	return time.Time{}
}
