package dataflows

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/dyike/quorumtrade/internal/retry"
)

const DefaultNewsBaseURL = "https://news.google.com"

type Headline struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// NewsClient scrapes Google News search results.
type NewsClient struct {
	client  *resty.Client
	baseURL string
	cache   *Cache
	retry   retry.Config
	now     func() time.Time
}

type NewsOption func(*NewsClient)

func WithNewsBaseURL(u string) NewsOption {
	return func(n *NewsClient) { n.baseURL = strings.TrimRight(u, "/") }
}

func WithNewsCache(c *Cache) NewsOption {
	return func(n *NewsClient) { n.cache = c }
}

func WithNewsRetry(cfg retry.Config) NewsOption {
	return func(n *NewsClient) { n.retry = cfg }
}

func NewNewsClient(opts ...NewsOption) *NewsClient {
	n := &NewsClient{
		client: resty.New().
			SetTimeout(30*time.Second).
			SetHeader("User-Agent", "Mozilla/5.0 (compatible; quorumtrade/1.0)"),
		baseURL: DefaultNewsBaseURL,
		retry:   retry.DefaultConfig(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Headlines returns up to limit headlines for query, newest first as listed.
func (n *NewsClient) Headlines(ctx context.Context, query string, limit int) ([]Headline, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if limit <= 0 {
		limit = 10
	}

	cacheKey := fmt.Sprintf("%s|%d", query, limit)
	var cached []Headline
	if n.cache.Get("google_news", cacheKey, &cached) {
		return cached, nil
	}

	var result []Headline
	err := retry.Do(ctx, n.retry, func(ctx context.Context) error {
		resp, err := n.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{"q": query + " when:1d", "hl": "en-US", "gl": "US", "ceid": "US:en"}).
			Get(n.baseURL + "/search")
		if err != nil {
			return fmt.Errorf("fetch google news: %w", err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("google news returned HTTP %d", resp.StatusCode())
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
		if err != nil {
			return fmt.Errorf("parse google news html: %w", err)
		}
		result = n.parse(doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(result) > limit {
		result = result[:limit]
	}
	if err := n.cache.Set("google_news", cacheKey, result); err != nil {
		log.Warn().Err(err).Msg("cache google news")
	}
	return result, nil
}

func (n *NewsClient) parse(doc *goquery.Document) []Headline {
	var out []Headline
	doc.Find("article").Each(func(_ int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Find("h3").First().Text())
		if title == "" {
			title = strings.TrimSpace(s.Find("h4").First().Text())
		}
		if title == "" {
			title = strings.TrimSpace(s.Find("a").Last().Text())
		}
		if title == "" {
			return
		}
		href, _ := s.Find("a").First().Attr("href")

		published := n.now()
		tm := s.Find("time").First()
		if dt, ok := tm.Attr("datetime"); ok {
			if t, err := time.Parse(time.RFC3339, dt); err == nil {
				published = t
			}
		} else if txt := strings.TrimSpace(tm.Text()); txt != "" {
			published = parseRelativeTime(n.now(), txt)
		}

		source := strings.TrimSpace(s.Find("div[data-n-tid]").First().Text())
		if source == "" {
			source = "Google News"
		}
		out = append(out, Headline{
			Title:       title,
			URL:         n.absolute(href),
			Source:      source,
			PublishedAt: published,
		})
	})
	return out
}

func (n *NewsClient) absolute(href string) string {
	switch {
	case href == "":
		return ""
	case strings.HasPrefix(href, "./"):
		return n.baseURL + href[1:]
	case strings.HasPrefix(href, "/"):
		return n.baseURL + href
	}
	if u, err := url.Parse(href); err == nil && u.IsAbs() {
		return href
	}
	return n.baseURL + "/" + href
}

var relativeTime = regexp.MustCompile(`(\d+)\s*(minute|min|hour|day|week)s?\s*ago`)

func parseRelativeTime(now time.Time, text string) time.Time {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "just now" {
		return now
	}
	if text == "yesterday" {
		return now.Add(-24 * time.Hour)
	}
	m := relativeTime.FindStringSubmatch(text)
	if m == nil {
		return now.Add(-time.Hour)
	}
	v, _ := strconv.Atoi(m[1])
	unit := map[string]time.Duration{
		"minute": time.Minute, "min": time.Minute, "hour": time.Hour,
		"day": 24 * time.Hour, "week": 7 * 24 * time.Hour,
	}[m[2]]
	return now.Add(-time.Duration(v) * unit)
}
