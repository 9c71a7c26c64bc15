package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

const duckDuckGoLiteURL = "https://lite.duckduckgo.com/lite/"

type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

type Company struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Domain  string `json:"domain"`
	Snippet string `json:"snippet"`
}

// DuckDuckGo scrapes the lite HTML interface.
type DuckDuckGo struct {
	limitedClient
}

func NewDuckDuckGo(rps float64, opts ...Option) *DuckDuckGo {
	return &DuckDuckGo{limitedClient: newLimitedClient(duckDuckGoLiteURL, rps, opts...)}
}

func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	return d.search(ctx, query, "", maxResults)
}

// SearchNews restricts results to the past month.
func (d *DuckDuckGo) SearchNews(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	return d.search(ctx, query, "m", maxResults)
}

func (d *DuckDuckGo) search(ctx context.Context, query string, period string, maxResults int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is empty")
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	key := fmt.Sprintf("search:%s:%s", period, query)
	var results []SearchResult
	if !d.loadCached(ctx, key, &results) {
		form := url.Values{}
		form.Set("q", query)
		if period != "" {
			form.Set("df", period)
		}
		resp, err := d.do(ctx, func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			return req, nil
		})
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
		}
		body, err := readBody(resp, 4<<20)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		results, err = parseLiteResults(string(body))
		if err != nil {
			return nil, err
		}
		d.storeCached(ctx, key, results)
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// SearchCompanies runs a few industry and region queries and keeps one result per domain.
func (d *DuckDuckGo) SearchCompanies(ctx context.Context, industry string, region string, maxResults int) ([]Company, error) {
	industry = strings.TrimSpace(industry)
	region = strings.TrimSpace(region)
	if industry == "" {
		return nil, errors.New("industry is empty")
	}
	if maxResults <= 0 {
		maxResults = 15
	}
	queries := []string{
		strings.TrimSpace(fmt.Sprintf("%s компании %s", industry, region)),
		strings.TrimSpace(fmt.Sprintf("%s конкуренты %s", industry, region)),
		strings.TrimSpace(fmt.Sprintf("top %s companies %s", industry, region)),
	}
	seen := map[string]struct{}{}
	companies := make([]Company, 0, maxResults)
	var lastErr error
	for _, query := range queries {
		results, err := d.Search(ctx, query, maxResults)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		for _, result := range results {
			domain := Domain(result.URL)
			if domain == "" {
				continue
			}
			if _, ok := seen[domain]; ok {
				continue
			}
			seen[domain] = struct{}{}
			companies = append(companies, Company{
				Name:    companyName(result.Title),
				URL:     result.URL,
				Domain:  domain,
				Snippet: result.Snippet,
			})
			if len(companies) >= maxResults {
				return companies, nil
			}
		}
	}
	if len(companies) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return companies, nil
}

func parseLiteResults(body string) ([]SearchResult, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}
	var results []SearchResult
	var snippets []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result-link"):
				link := resolveResultLink(attr(n, "href"))
				title := collapseSpaces(nodeText(n))
				if link != "" && title != "" {
					results = append(results, SearchResult{Title: title, URL: link})
				}
				return
			case n.Data == "td" && hasClass(n, "result-snippet"):
				snippets = append(snippets, collapseSpaces(nodeText(n)))
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	for i := range results {
		if i < len(snippets) {
			results[i].Snippet = snippets[i]
		}
	}
	return results, nil
}

// resolveResultLink unwraps duckduckgo redirect links (//duckduckgo.com/l/?uddg=...).
func resolveResultLink(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(parsed.Host, "duckduckgo.com") {
		if target := parsed.Query().Get("uddg"); target != "" {
			return target
		}
		return ""
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	return parsed.String()
}

func companyName(title string) string {
	for _, sep := range []string{" | ", " - ", " — ", ": "} {
		if idx := strings.Index(title, sep); idx > 0 {
			return strings.TrimSpace(title[:idx])
		}
	}
	return strings.TrimSpace(title)
}

// Domain returns the lowercase host of rawURL without a leading "www.".
func Domain(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}
