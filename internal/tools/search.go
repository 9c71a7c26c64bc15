package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/konard/RDmitryV-Trial-RDV/internal/sources"
)

const (
	SearchWeb       = "search_web"
	SearchCompanies = "search_companies"

	defaultSearchResults  = 10
	defaultCompanyResults = 15
	maxSearchResults      = 30
)

type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]sources.SearchResult, error)
	SearchNews(ctx context.Context, query string, maxResults int) ([]sources.SearchResult, error)
}

type CompanySearcher interface {
	SearchCompanies(ctx context.Context, industry string, region string, maxResults int) ([]sources.Company, error)
}

// searchCategories maps search_type onto the finding category used for freshness.
var searchCategories = map[string]string{
	"general":     "market_stats",
	"market_data": "market_data",
	"news":        "news",
}

type SearchWebTool struct {
	searcher WebSearcher
}

func NewSearchWebTool(searcher WebSearcher) *SearchWebTool {
	return &SearchWebTool{searcher: searcher}
}

func (t *SearchWebTool) Name() string { return SearchWeb }

func (t *SearchWebTool) Description() string {
	return "Search the web for information about markets, competitors, or industry trends. Use this to find relevant websites, articles, and data sources."
}

func (t *SearchWebTool) Parameters() Schema {
	return Schema{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
				"minLength":   1,
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return (default: 10)",
				"default":     defaultSearchResults,
				"minimum":     1,
			},
			"search_type": map[string]any{
				"type":        "string",
				"enum":        []string{"general", "news", "market_data"},
				"description": "Type of search to perform",
				"default":     "general",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchWebTool) Execute(ctx context.Context, run RunContext, args map[string]any) Result {
	query := stringArg(args, "query")
	if query == "" {
		return Failure("query is required")
	}
	maxResults := clamp(intArg(args, "max_results", defaultSearchResults), 1, maxSearchResults)
	searchType := stringArg(args, "search_type")
	if searchType == "" {
		searchType = "general"
	}

	var (
		results []sources.SearchResult
		err     error
	)
	if searchType == "news" {
		results, err = t.searcher.SearchNews(ctx, query, maxResults)
	} else {
		results, err = t.searcher.Search(ctx, query, maxResults)
	}
	if err != nil {
		return Result{Success: false, Error: err.Error(), Data: map[string]any{"query": query}}
	}

	urls := make([]string, 0, len(results))
	var content strings.Builder
	for i, result := range results {
		urls = append(urls, result.URL)
		fmt.Fprintf(&content, "%d. %s (%s)", i+1, result.Title, result.URL)
		if result.Snippet != "" {
			content.WriteString(": ")
			content.WriteString(result.Snippet)
		}
		content.WriteByte('\n')
	}
	data := map[string]any{
		"query":         query,
		"search_type":   searchType,
		"results_count": len(results),
		"results":       results,
	}
	if len(results) == 0 {
		return Result{Success: true, Data: data}
	}
	finding := Finding{
		Category: searchCategories[searchType],
		Title:    fmt.Sprintf("Search results: %s", query),
		Content:  strings.TrimSpace(content.String()),
		Metadata: map[string]any{
			"query":         query,
			"search_type":   searchType,
			"results_count": len(results),
			"urls":          urls,
		},
	}
	if len(urls) > 0 {
		finding.SourceURL = urls[0]
	}
	return Result{Success: true, Data: data, Findings: []Finding{finding}}
}

type SearchCompaniesTool struct {
	searcher CompanySearcher
}

func NewSearchCompaniesTool(searcher CompanySearcher) *SearchCompaniesTool {
	return &SearchCompaniesTool{searcher: searcher}
}

func (t *SearchCompaniesTool) Name() string { return SearchCompanies }

func (t *SearchCompaniesTool) Description() string {
	return "Search for companies in a specific industry and region. Use this to find competitors and market players."
}

func (t *SearchCompaniesTool) Parameters() Schema {
	return Schema{
		"type": "object",
		"properties": map[string]any{
			"industry": map[string]any{
				"type":        "string",
				"description": "The industry or sector to search in",
				"minLength":   1,
			},
			"region": map[string]any{
				"type":        "string",
				"description": "The region or location to search in",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return (default: 15)",
				"default":     defaultCompanyResults,
				"minimum":     1,
			},
		},
		"required": []string{"industry"},
	}
}

func (t *SearchCompaniesTool) Execute(ctx context.Context, run RunContext, args map[string]any) Result {
	industry := stringArg(args, "industry")
	region := stringArg(args, "region")
	maxResults := clamp(intArg(args, "max_results", defaultCompanyResults), 1, maxSearchResults)

	companies, err := t.searcher.SearchCompanies(ctx, industry, region, maxResults)
	if err != nil {
		return Result{Success: false, Error: err.Error(), Data: map[string]any{"industry": industry, "region": region}}
	}
	if companies == nil {
		companies = []sources.Company{}
	}
	findings := make([]Finding, 0, len(companies))
	for _, company := range companies {
		content := company.Name
		if company.Snippet != "" {
			content = company.Name + ": " + company.Snippet
		}
		findings = append(findings, Finding{
			Category:  "competitor",
			Title:     company.Name,
			Content:   content,
			SourceURL: company.URL,
			Metadata: map[string]any{
				"domain":   company.Domain,
				"industry": industry,
				"region":   region,
			},
		})
	}
	return Result{
		Success: true,
		Data: map[string]any{
			"industry":        industry,
			"region":          region,
			"companies_found": len(companies),
			"results":         companies,
		},
		Findings: findings,
	}
}
