// Package robots caches robots.txt policies per host and answers whether a
// URL may be fetched. Lookups fail open: any problem obtaining or parsing
// robots.txt results in an allow-all policy being cached.
package robots

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/arturp39/factcheck-collector/pkg/config"
	"github.com/arturp39/factcheck-collector/pkg/logger"
)

const maxRobotsBytes = 512 * 1024

type entry struct {
	group     *robotstxt.Group
	fetchedAt time.Time
}

// Cache resolves and caches robots.txt groups keyed by scheme://host:port.
type Cache struct {
	userAgent string
	ttl       time.Duration
	client    *http.Client
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewCache creates a robots cache using the crawler's user agent and timeouts.
func NewCache(cfg config.CrawlerConfig) *Cache {
	return &Cache{
		userAgent: cfg.UserAgent,
		ttl:       cfg.RobotsTTL,
		client:    &http.Client{Timeout: cfg.RobotsTimeout},
		logger:    logger.WithComponent("robots"),
		entries:   make(map[string]*entry),
	}
}

// Allowed reports whether the crawler may fetch the given URL. Non-http(s)
// URLs and unparseable URLs are always allowed; robots lookups never fail the
// caller.
func (c *Cache) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return true
	}
	group := c.groupFor(ctx, u)
	if group == nil {
		return true
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

func (c *Cache) groupFor(ctx context.Context, u *url.URL) *robotstxt.Group {
	key := cacheKey(u)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && time.Since(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return e.group
	}
	c.mu.Unlock()

	group := c.fetch(ctx, u)

	c.mu.Lock()
	c.entries[key] = &entry{group: group, fetchedAt: time.Now()}
	c.mu.Unlock()
	return group
}

// fetch downloads and parses robots.txt. A nil return means allow-all.
func (c *Cache) fetch(ctx context.Context, u *url.URL) *robotstxt.Group {
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("robots fetch failed, allowing", "url", robotsURL, "error", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		c.logger.Debug("robots parse failed, allowing", "url", robotsURL, "error", err)
		return nil
	}
	return data.FindGroup(c.userAgent)
}

// cacheKey normalises to scheme://host:port with the scheme default port
// filled in, so explicit and implicit default ports share an entry.
func cacheKey(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		if scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return scheme + "://" + host + ":" + port
}
