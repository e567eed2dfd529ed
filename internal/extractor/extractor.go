// Package extractor downloads article pages and pulls the main body text out
// of them, discarding navigation, ads, and other boilerplate.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/arturp39/factcheck-collector/internal/robots"
	"github.com/arturp39/factcheck-collector/pkg/config"
	"github.com/arturp39/factcheck-collector/pkg/logger"
)

const removeTagsSelector = "script, style, nav, footer, header, aside, form, noscript"

var boilerplateAncestorTags = map[string]bool{
	"nav": true, "footer": true, "header": true, "aside": true,
	"form": true, "button": true, "dialog": true, "noscript": true,
}

var captchaPattern = regexp.MustCompile(`(?i)(captcha|verify you are human|attention required|cloudflare|bot detection)`)

var paragraphMarkers = []string{
	"subscribe", "newsletter", "cookie", "advert", "sponsor", "promo",
	"related", "recommended", "comments", "share", "social", "signin", "sign-in",
}

// Result is the outcome of one fetch-and-extract attempt. Exactly one of
// Text, FetchError, or ExtractionError is meaningful; BlockedSuspected marks
// responses that look like rate limiting or bot walls.
type Result struct {
	FetchedAt        time.Time
	HTTPStatus       int
	ETag             string
	LastModified     string
	FinalURL         string
	Text             string
	ParagraphCount   int
	FetchError       string
	ExtractionError  string
	RobotsDisallowed bool
	BlockedSuspected bool
}

// OK reports whether extraction produced usable text.
func (r *Result) OK() bool {
	return r.FetchError == "" && r.ExtractionError == ""
}

// Extractor fetches pages subject to robots.txt and extracts article text.
type Extractor struct {
	cfg    config.CrawlerConfig
	robots *robots.Cache
	client *http.Client
	logger *slog.Logger
}

// New creates an Extractor.
func New(cfg config.CrawlerConfig, robotsCache *robots.Cache) *Extractor {
	return &Extractor{
		cfg:    cfg,
		robots: robotsCache,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.WithComponent("extractor"),
	}
}

// FetchAndExtract downloads url and extracts the main article text. Failures
// are reported inside the Result rather than as errors, so callers can
// persist the outcome uniformly.
func (e *Extractor) FetchAndExtract(ctx context.Context, url string) *Result {
	res := &Result{FetchedAt: time.Now(), FinalURL: url}

	if !e.robots.Allowed(ctx, url) {
		e.logger.Info("skipping url, robots.txt disallows", "url", url)
		res.FetchError = "Robots.txt disallows fetching"
		res.RobotsDisallowed = true
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		res.FetchError = "Failed to build request: " + err.Error()
		return res
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			e.logger.Warn("timeout while fetching article", "url", url)
			res.FetchError = "Timeout while fetching article"
		} else {
			e.logger.Warn("failed to fetch article", "url", url, "error", err)
			res.FetchError = "Failed to fetch or parse article: " + err.Error()
		}
		return res
	}
	defer resp.Body.Close()

	res.HTTPStatus = resp.StatusCode
	res.ETag = resp.Header.Get("ETag")
	res.LastModified = resp.Header.Get("Last-Modified")
	if resp.Request != nil && resp.Request.URL != nil {
		res.FinalURL = resp.Request.URL.String()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxBodyBytes))
	if err != nil {
		if isTimeout(err) {
			res.FetchError = "Timeout while fetching article"
		} else {
			res.FetchError = "Failed to fetch or parse article: " + err.Error()
		}
		return res
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := bodySnippet(body, 2000)
		blocked := resp.StatusCode == http.StatusForbidden ||
			resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == http.StatusServiceUnavailable ||
			captchaPattern.MatchString(snippet)
		if blocked {
			res.FetchError = "Blocked/Rate-limited/CAPTCHA suspected"
			res.BlockedSuspected = true
		} else {
			res.FetchError = fmt.Sprintf("HTTP status %d", resp.StatusCode)
		}
		return res
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTMLContentType(contentType) {
		e.logger.Info("skipping non-HTML content", "url", res.FinalURL, "content_type", contentType)
		res.ExtractionError = "Non-HTML contentType: " + contentType
		return res
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		res.FetchError = "Failed to fetch or parse article: " + err.Error()
		return res
	}
	doc.Find(removeTagsSelector).Remove()

	container := selectMainContainer(doc)
	paragraphs := extractCleanParagraphs(container)
	text := strings.Join(paragraphs, "\n\n")

	if !e.passesQualityGate(text, len(paragraphs)) {
		e.logger.Warn("low-quality extraction",
			"url", res.FinalURL,
			"chars", len(text),
			"paragraphs", len(paragraphs),
		)
		res.ExtractionError = "Low-quality extraction (likely boilerplate or dynamic page)"
		return res
	}

	res.Text = text
	res.ParagraphCount = len(paragraphs)
	return res
}

// selectMainContainer picks the article body container: an <article> element,
// then [itemprop=articleBody], then <main>, falling back to the div/section
// with the highest paragraph-text score minus a depth penalty.
func selectMainContainer(doc *goquery.Document) *goquery.Selection {
	if article := doc.Find("article").First(); article.Length() > 0 {
		return article
	}
	if bodyProp := doc.Find("[itemprop=articleBody]").First(); bodyProp.Length() > 0 {
		return bodyProp
	}
	if main := doc.Find("main").First(); main.Length() > 0 {
		return main
	}

	best := doc.Find("body").First()
	bestScore := 0
	doc.Find("div, section").Each(func(_ int, c *goquery.Selection) {
		ps := c.Find("p")
		if ps.Length() < 3 {
			return
		}
		score := 0
		counted := 0
		ps.EachWithBreak(func(_ int, p *goquery.Selection) bool {
			t := strings.TrimSpace(p.Text())
			if t != "" {
				score += len(t)
				counted++
			}
			return counted < 30
		})
		depthPenalty := c.Parents().Length()
		if depthPenalty > 10 {
			depthPenalty = 10
		}
		score -= depthPenalty * 50
		if score > bestScore {
			bestScore = score
			best = c
		}
	})
	return best
}

// extractCleanParagraphs collects paragraph texts, dropping boilerplate,
// short fragments, and exact duplicates (keeping the first occurrence).
func extractCleanParagraphs(container *goquery.Selection) []string {
	seen := make(map[string]bool)
	var result []string
	container.Find("p").Each(func(_ int, p *goquery.Selection) {
		if isBoilerplate(p) {
			return
		}
		text := strings.TrimSpace(p.Text())
		if len(text) < 40 {
			return
		}
		if seen[text] {
			return
		}
		seen[text] = true
		result = append(result, text)
	})
	return result
}

func isBoilerplate(p *goquery.Selection) bool {
	cur := p
	for depth := 0; depth < 8 && cur.Length() > 0; depth++ {
		if tag := goquery.NodeName(cur); boilerplateAncestorTags[tag] {
			return true
		}
		cur = cur.Parent()
	}

	text := strings.TrimSpace(p.Text())
	if text == "" {
		return true
	}

	linkTextLen := len(p.Find("a").Text())
	linkDensity := float64(linkTextLen) / float64(len(text))
	if linkDensity > 0.35 {
		return true
	}

	class, _ := p.Attr("class")
	id, _ := p.Attr("id")
	ctx := strings.ToLower(class + " " + id)
	for _, m := range paragraphMarkers {
		if strings.Contains(ctx, m) {
			return true
		}
	}

	lower := strings.ToLower(text)
	return strings.Contains(lower, "accept cookies") ||
		strings.Contains(lower, "subscribe") ||
		strings.Contains(lower, "sign in")
}

func (e *Extractor) passesQualityGate(text string, paragraphCount int) bool {
	if paragraphCount < e.cfg.MinParagraphs {
		return false
	}
	if len(text) < e.cfg.MinTextChars {
		return false
	}
	letters := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return float64(letters) > float64(len(text))*0.5
}

func isHTMLContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout")
}

func bodySnippet(body []byte, maxChars int) string {
	s := string(body)
	if len(s) > maxChars {
		s = s[:maxChars]
	}
	return strings.Join(strings.Fields(s), " ")
}
