package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
)

const (
	userAgent       = "cityresearch/1.0 (+research pipeline)"
	maxArticleChars = 1200
	minArticleChars = 100
)

// FeedProvider searches an RSS/Atom search endpoint and digests the hits.
// With fetchContent set, each item's page is fetched and reduced to its
// readable text.
type FeedProvider struct {
	searchURL    string
	maxItems     int
	fetchContent bool
	enabled      bool
	client       *http.Client
	parser       *gofeed.Parser
}

// NewFeedProvider creates a feed provider. searchURL must contain one %s,
// replaced by the escaped query.
func NewFeedProvider(enabled bool, searchURL string, maxItems int, fetchContent bool, timeout time.Duration) *FeedProvider {
	if maxItems <= 0 {
		maxItems = 8
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	client := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = userAgent
	return &FeedProvider{
		searchURL:    searchURL,
		maxItems:     maxItems,
		fetchContent: fetchContent,
		enabled:      enabled,
		client:       client,
		parser:       parser,
	}
}

func (f *FeedProvider) Name() string { return "feeds" }

func (f *FeedProvider) IsConfigured() bool {
	return f.enabled && strings.Count(f.searchURL, "%s") == 1
}

// Search fetches the search feed for the keyword query and renders the
// items as a digest.
func (f *FeedProvider) Search(ctx context.Context, query string, opts SearchOptions) (string, error) {
	if !f.IsConfigured() {
		return "", ErrNotConfigured
	}

	feedURL := fmt.Sprintf(f.searchURL, url.QueryEscape(keywordQuery(query, opts)))
	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return "", fmt.Errorf("parsing feed: %w", err)
	}

	var entries []snippetEntry
	failedDomains := make(map[string]struct{})
	for _, item := range feed.Items {
		if len(entries) >= f.maxItems {
			break
		}
		entry, ok := parseItem(item, feed.Title)
		if !ok {
			continue
		}
		if f.fetchContent {
			domain := hostOf(entry.URL)
			if _, failed := failedDomains[domain]; !failed {
				text, err := f.fetchArticle(ctx, entry.URL)
				switch {
				case err != nil:
					failedDomains[domain] = struct{}{}
				case text != "":
					entry.Text = truncate(text, maxArticleChars)
				}
			}
		}
		entries = append(entries, entry)
	}
	return renderDigest(opts.Subject, entries), nil
}

func parseItem(item *gofeed.Item, feedTitle string) (snippetEntry, bool) {
	itemURL := item.Link
	if itemURL == "" {
		itemURL = item.GUID
	}
	title := strings.TrimSpace(item.Title)
	if itemURL == "" || title == "" {
		return snippetEntry{}, false
	}

	var text string
	if item.Content != "" {
		text = stripHTML(item.Content)
	} else if item.Description != "" {
		text = stripHTML(item.Description)
	}

	source := feedTitle
	if item.Author != nil && item.Author.Name != "" {
		source = item.Author.Name
	}
	if source == "" {
		source = sourceName(itemURL)
	}
	return snippetEntry{Title: title, Text: text, Source: source, URL: itemURL}, true
}

// fetchArticle returns the readable text of a page. An HTTP error status is
// returned as an error so the caller can skip the rest of that domain;
// other failures yield empty text.
func (f *FeedProvider) fetchArticle(ctx context.Context, articleURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", articleURL, nil)
	if err != nil {
		return "", nil
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetching %s: %s", articleURL, http.StatusText(resp.StatusCode))
	}

	parsedURL, _ := url.Parse(articleURL)
	article, err := readability.FromReader(io.LimitReader(resp.Body, 4<<20), parsedURL)
	if err != nil {
		return "", nil
	}
	text := strings.Join(strings.Fields(article.TextContent), " ")
	if len(text) < minArticleChars {
		return "", nil
	}
	return text, nil
}

func stripHTML(text string) string {
	var result strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
			result.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			result.WriteRune(r)
		}
	}

	s := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	).Replace(result.String())
	return strings.Join(strings.Fields(s), " ")
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

func sourceName(raw string) string {
	host := hostOf(raw)
	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}
	if host == "" {
		return "feed"
	}
	parts := strings.Split(host, ".")
	name := host
	if len(parts) >= 2 {
		name = parts[len(parts)-2]
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
