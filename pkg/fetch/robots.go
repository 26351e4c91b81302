package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsGate checks robots.txt before media downloads. Rules are fetched once
// per host and cached for the lifetime of the process. Fetch failures are
// treated as allow-all: a missing or unreachable robots.txt must not stall a
// run.
type RobotsGate struct {
	client    *http.Client
	userAgent string
	log       *logrus.Entry

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData // nil entry = allow all
}

func NewRobotsGate(client *http.Client, userAgent string, log *logrus.Logger) *RobotsGate {
	return &RobotsGate{
		client:    client,
		userAgent: userAgent,
		log:       log.WithField("component", "robots_gate"),
		cache:     make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether the gate's user agent may fetch rawURL.
func (g *RobotsGate) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}

	data := g.rules(ctx, u)
	if data == nil {
		return true
	}
	return data.TestAgent(u.Path, g.userAgent)
}

func (g *RobotsGate) rules(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	key := u.Scheme + "://" + u.Host

	g.mu.Lock()
	data, ok := g.cache[key]
	g.mu.Unlock()
	if ok {
		return data
	}

	data = g.fetch(ctx, key)

	g.mu.Lock()
	g.cache[key] = data
	g.mu.Unlock()
	return data
}

func (g *RobotsGate) fetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	robotsURL := fmt.Sprintf("%s/robots.txt", origin)
	l := g.log.WithField("robots_url", robotsURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		l.WithError(err).Warn("Failed to build robots.txt request, allowing all")
		return nil
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		l.WithError(err).Warn("Failed to fetch robots.txt, allowing all")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		l.WithError(err).Warn("Failed to read robots.txt, allowing all")
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		l.WithError(err).Warn("Failed to parse robots.txt, allowing all")
		return nil
	}
	l.WithField("status", resp.StatusCode).Debug("Cached robots.txt rules")
	return data
}
