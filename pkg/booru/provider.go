package booru

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"booru-archiver/pkg/utils"
)

// Credentials authenticate against a provider. They ride as URL query
// parameters on every authenticated call; no provider in this family uses
// headers or cookies.
type Credentials struct {
	Username string
	APIKey   string
}

// Empty reports whether no credentials were supplied.
func (c Credentials) Empty() bool {
	return c.Username == "" && c.APIKey == ""
}

// Info describes a provider's identity.
type Info struct {
	Name      string
	BaseURL   string
	Languages []string
}

// SearchOptions carries the provider-agnostic search filters. Zero values are
// omitted from the request, never serialized as empty or "null".
type SearchOptions struct {
	Limit int
	Page  int
	// ID narrows the search to one exact post. Gelbooru has a native id
	// parameter; the other providers serialize it as an id:N query token.
	ID int64
}

// TagOptions filters a tag listing.
type TagOptions struct {
	Name        string
	NamePattern string
	ID          int64
	AfterID     int64
	Limit       int
	Order       string
	OrderBy     string
}

// UserOptions filters a user lookup. ID and Name are mutually exclusive on
// moebooru-family sites; danbooru-family sites take both as search filters.
type UserOptions struct {
	ID    int64
	Name  string
	Level int
	Order string
}

// CommentOptions filters a comment listing for one post.
type CommentOptions struct {
	Limit int
	Page  int
}

// SearchResult is the normalized outcome of a search call.
type SearchResult struct {
	Posts  []Post
	Total  int // wrapper count when the API exposes one, len(Posts) otherwise
	WasXML bool
}

// Tag is a normalized tag entry.
type Tag struct {
	ID        int64
	Name      string
	Count     int
	Type      int
	Ambiguous bool
}

// TagResult is the normalized outcome of a tag listing.
type TagResult struct {
	Tags   []Tag
	Total  int
	WasXML bool
}

// User is a normalized user entry.
type User struct {
	ID    int64
	Name  string
	Level int
}

// UserResult is the normalized outcome of a user lookup.
type UserResult struct {
	Users []User
	Total int
}

// Comment is a normalized post comment.
type Comment struct {
	ID        int64
	PostID    int64
	Creator   string
	CreatorID int64
	Body      string
	CreatedAt string
}

// CommentResult is the normalized outcome of a comment listing. APIDisabled is
// set when the site has switched the endpoint off entirely (gelbooru.com).
type CommentResult struct {
	Comments    []Comment
	Total       int
	WasXML      bool
	APIDisabled bool
}

// Suggestion is one autocomplete candidate.
type Suggestion struct {
	Label     string
	Value     string
	PostCount int64
	Category  string
}

// Provider is the capability contract every site family implements. All
// operations surface the shared error taxonomy (StatusError, parse sentinels)
// instead of raw transport failures, and none of them retry.
type Provider interface {
	Info() Info
	// Login attaches credentials. Idempotent; later calls overwrite.
	Login(Credentials)
	Search(ctx context.Context, query string, opt SearchOptions) (*SearchResult, error)
	Tags(ctx context.Context, opt TagOptions) (*TagResult, error)
	Users(ctx context.Context, opt UserOptions) (*UserResult, error)
	Comments(ctx context.Context, postID int64, opt CommentOptions) (*CommentResult, error)
}

// Option configures a provider at construction.
type Option func(*base)

// WithHTTPClient sets the HTTP client used for all provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(b *base) { b.client = client }
}

// WithLogger sets the provider's logger.
func WithLogger(log *logrus.Entry) Option {
	return func(b *base) { b.log = log }
}

// WithCredentials attaches credentials at construction, equivalent to an
// immediate Login call.
func WithCredentials(creds Credentials) Option {
	return func(b *base) { b.creds = creds }
}

// base carries the state shared by all provider implementations: the
// normalized base URL, the credential slot, and the HTTP plumbing.
type base struct {
	name      string
	baseURL   string
	languages []string
	creds     Credentials
	client    *http.Client
	log       *logrus.Entry
}

func newBase(name, rawURL string, opts ...Option) (base, error) {
	rawURL = strings.TrimRight(rawURL, "/")
	parsed, err := url.Parse(rawURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return base{}, fmt.Errorf("%w: %q", utils.ErrInvalidBaseURL, rawURL)
	}

	b := base{
		name:      name,
		baseURL:   rawURL,
		languages: []string{"en", "ja"},
	}
	for _, opt := range opts {
		opt(&b)
	}
	if b.client == nil {
		b.client = &http.Client{Timeout: 30 * time.Second}
	}
	if b.log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		b.log = logrus.NewEntry(discard)
	}
	b.log = b.log.WithField("provider", name)
	return b, nil
}

func (b *base) Info() Info {
	return Info{Name: b.name, BaseURL: b.baseURL, Languages: b.languages}
}

func (b *base) Login(creds Credentials) {
	b.creds = creds
}

// get issues one GET, maps non-200 statuses through the shared taxonomy, and
// returns the raw body on success. The caller owns decoding.
func (b *base) get(ctx context.Context, requestURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", "booru-archiver")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := interpretStatus(resp.StatusCode, requestURL); err != nil {
		io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}
	b.log.WithFields(logrus.Fields{"url": requestURL, "bytes": len(body)}).Debug("Fetched")
	return body, nil
}

// params builds a deterministic query-string fragment from a filter bag.
// Unset (zero/empty) values are omitted; keys are sorted so request URLs are
// stable for logging and tests.
type params map[string]string

func (p params) setInt(key string, v int64) {
	if v != 0 {
		p[key] = strconv.FormatInt(v, 10)
	}
}

func (p params) setStr(key, v string) {
	if v != "" {
		p[key] = v
	}
}

// encodeTagQuery prepares a search query for the tags= parameter. Tag tokens
// are joined with '+' on the wire; range operators (id:<N) must survive
// untouched, which rules out full query escaping.
func encodeTagQuery(query string) string {
	return strings.Join(strings.Fields(query), "+")
}

// applyIDFilter folds SearchOptions.ID into the tag query as an id:N token for
// providers without a dedicated id parameter.
func applyIDFilter(query string, id int64) string {
	if id == 0 {
		return query
	}
	return strings.TrimSpace(query + fmt.Sprintf(" id:%d", id))
}

// buildQuery joins encoded fragments into a "?"-prefixed query string,
// trimming the leading '&'. Returns "" when every fragment is empty.
func buildQuery(fragments ...string) string {
	joined := strings.Join(fragments, "")
	if joined == "" {
		return ""
	}
	return "?" + strings.TrimPrefix(joined, "&")
}

func (p params) encode() string {
	if len(p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString("&")
		sb.WriteString(url.QueryEscape(k))
		sb.WriteString("=")
		sb.WriteString(url.QueryEscape(p[k]))
	}
	return sb.String()
}
