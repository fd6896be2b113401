package research

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const newsAPIBaseURL = "https://newsapi.org/v2/everything"

// NewsAPIProvider turns NewsAPI search hits into a prose digest.
type NewsAPIProvider struct {
	apiKey   string
	baseURL  string
	pageSize int
	client   *http.Client
}

// NewNewsAPIProvider creates a NewsAPI provider. An empty apiKey leaves it
// unconfigured.
func NewNewsAPIProvider(apiKey, baseURL string, pageSize int, timeout time.Duration) *NewsAPIProvider {
	if baseURL == "" {
		baseURL = newsAPIBaseURL
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &NewsAPIProvider{
		apiKey:   apiKey,
		baseURL:  baseURL,
		pageSize: pageSize,
		client:   &http.Client{Timeout: timeout},
	}
}

func (n *NewsAPIProvider) Name() string { return "newsapi" }

func (n *NewsAPIProvider) IsConfigured() bool { return n.apiKey != "" }

// Search queries NewsAPI with the subject and keyword hints. NewsAPI does
// not understand natural-language questions, so query is used only when no
// subject is given.
func (n *NewsAPIProvider) Search(ctx context.Context, query string, opts SearchOptions) (string, error) {
	if n.apiKey == "" {
		return "", ErrNotConfigured
	}

	params := url.Values{
		"q":        {keywordQuery(query, opts)},
		"language": {"en"},
		"pageSize": {fmt.Sprintf("%d", n.pageSize)},
		"sortBy":   {"relevancy"},
	}

	req, err := http.NewRequestWithContext(ctx, "GET", n.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Api-Key", n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("newsapi error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("newsapi returned %d", resp.StatusCode)
	}

	var result struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Articles []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Content     string `json:"content"`
			Description string `json:"description"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if result.Status != "ok" {
		return "", fmt.Errorf("newsapi status %q: %s", result.Status, result.Message)
	}

	var digest []snippetEntry
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" || a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}
		text := a.Description
		if text == "" {
			text = a.Content
		}
		source := a.Source.Name
		if source == "" {
			source = "NewsAPI"
		}
		digest = append(digest, snippetEntry{
			Title:  strings.TrimSpace(a.Title),
			Text:   strings.TrimSpace(text),
			Source: source,
			URL:    a.URL,
		})
	}
	return renderDigest(opts.Subject, digest), nil
}

// keywordQuery builds a boolean keyword query: the quoted subject AND any
// of the keywords.
func keywordQuery(query string, opts SearchOptions) string {
	if opts.Subject == "" {
		return query
	}
	q := `"` + opts.Subject + `"`
	if len(opts.Keywords) == 0 {
		return q
	}
	kws := make([]string, len(opts.Keywords))
	for i, k := range opts.Keywords {
		if strings.Contains(k, " ") {
			k = `"` + k + `"`
		}
		kws[i] = k
	}
	return q + " AND (" + strings.Join(kws, " OR ") + ")"
}

type snippetEntry struct {
	Title  string
	Text   string
	Source string
	URL    string
}

// renderDigest formats entries as a bullet list of prose the synthesizer can
// read. No entries yields an empty string.
func renderDigest(subject string, entries []snippetEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	if subject != "" {
		fmt.Fprintf(&b, "Recent coverage mentioning %s:\n\n", subject)
	}
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s (%s)", e.Title, e.Source)
		if e.Text != "" {
			fmt.Fprintf(&b, ": %s", e.Text)
		}
		b.WriteString("\n")
	}
	return b.String()
}
