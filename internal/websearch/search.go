// Package websearch queries the DuckDuckGo HTML endpoint and renders the
// results as Markdown for the model.
package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

const (
	defaultEndpoint = "https://html.duckduckgo.com/html/"
	maxResponseSize = 2 * 1024 * 1024
	userAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Result is one search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Client searches the web.
type Client struct {
	endpoint   string
	maxResults int
	http       *http.Client
	converter  *md.Converter
}

// NewClient creates a Client. An empty endpoint uses DuckDuckGo.
func NewClient(endpoint string, maxResults int, httpClient *http.Client) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "*",
	})
	converter.Remove("script", "style", "meta", "link")

	return &Client{endpoint: endpoint, maxResults: maxResults, http: httpClient, converter: converter}
}

// Search returns up to maxResults hits for query.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	results, err := c.Results(ctx, query)
	if err != nil {
		return "", err
	}
	return Format(query, results), nil
}

// Results fetches and parses the result page.
func (c *Client) Results(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is empty")
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed with status code: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}
	return c.parse(doc), nil
}

func (c *Client) parse(doc *goquery.Document) []Result {
	var results []Result
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.HasClass("result--ad") {
			return true
		}
		link := s.Find(".result__a").First()
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return true
		}
		href, _ := link.Attr("href")

		snippet := ""
		if html, err := s.Find(".result__snippet").First().Html(); err == nil && html != "" {
			if converted, err := c.converter.ConvertString(html); err == nil {
				snippet = strings.TrimSpace(converted)
			}
		}

		results = append(results, Result{Title: title, URL: resolveLink(href), Snippet: snippet})
		return len(results) < c.maxResults
	})
	return results
}

// resolveLink unwraps DuckDuckGo redirect links to the target URL.
func resolveLink(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" && strings.HasSuffix(u.Host, "duckduckgo.com") {
		return target
	}
	return href
}

// Format renders results as a numbered Markdown list.
func Format(query string, results []Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No web results found for %q.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Web results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. [%s](%s)\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", strings.ReplaceAll(r.Snippet, "\n", "\n   "))
		}
	}
	return b.String()
}
