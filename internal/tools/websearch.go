package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// ToolWebSearch is the web search tool name. It is only offered to the
// model when the caller enables the webSearch flag for the turn.
const ToolWebSearch = "web_search"

const defaultSearchLimit = 5

// SearchResult is one web search hit; Snippet has HTML markup stripped.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// SearchClient queries a SearxNG-style JSON search endpoint.
type SearchClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewSearchClient creates a search client. httpClient may be nil to use the
// default client.
func NewSearchClient(endpoint string, httpClient *http.Client) *SearchClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SearchClient{endpoint: strings.TrimRight(endpoint, "/"), httpClient: httpClient}
}

// Search runs a query and returns up to limit results.
func (c *SearchClient) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := make([]SearchResult, 0, limit)
	for _, r := range body.Results {
		if len(results) >= limit {
			break
		}
		results = append(results, SearchResult{
			Title:   strings.TrimSpace(stripHTML(r.Title)),
			URL:     r.URL,
			Snippet: strings.TrimSpace(stripHTML(r.Content)),
		})
	}
	return results, nil
}

// RegisterWebSearch adds the web_search tool backed by the given client.
func RegisterWebSearch(r *Registry, client *SearchClient) {
	r.Register(Tool{
		Name:        ToolWebSearch,
		Description: "Search the web and return page titles, URLs, and snippets for a query.",
		Parameters: objectSchema(map[string]any{
			"query": stringProperty("Search query"),
			"limit": integerProperty("Maximum number of results (default " + strconv.Itoa(defaultSearchLimit) + ")"),
		}, "query"),
		Handler: func(ctx context.Context, userID string, args json.RawMessage) Result {
			var in struct {
				Query string `json:"query"`
				Limit int    `json:"limit"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return Errorf("invalid arguments: %v", err)
			}
			if strings.TrimSpace(in.Query) == "" {
				return Errorf("query is required")
			}
			results, err := client.Search(ctx, in.Query, in.Limit)
			if err != nil {
				return Errorf("web search failed: %v", err)
			}
			return Result{Success: true, Count: len(results), Results: results}
		},
	})
}

// stripHTML returns the text content of s with all markup removed. Search
// engines return snippets with highlight tags embedded.
func stripHTML(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String()
}
