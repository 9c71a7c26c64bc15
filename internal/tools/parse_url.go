package tools

import (
	"context"
	"unicode/utf8"

	"github.com/konard/RDmitryV-Trial-RDV/internal/sources"
)

const ParseURL = "parse_url"

type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (sources.Page, error)
}

type ParseURLTool struct {
	fetcher  PageFetcher
	maxChars int
}

func NewParseURLTool(fetcher PageFetcher, maxChars int) *ParseURLTool {
	if maxChars <= 0 {
		maxChars = 2000
	}
	return &ParseURLTool{fetcher: fetcher, maxChars: maxChars}
}

func (t *ParseURLTool) Name() string { return ParseURL }

func (t *ParseURLTool) Description() string {
	return "Parse and extract content from a specific URL. Use this to get detailed information from websites found during web searches."
}

func (t *ParseURLTool) Parameters() Schema {
	return Schema{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to parse and extract content from",
				"minLength":   1,
			},
		},
		"required": []string{"url"},
	}
}

func (t *ParseURLTool) Execute(ctx context.Context, run RunContext, args map[string]any) Result {
	target := stringArg(args, "url")
	page, err := t.fetcher.Fetch(ctx, target)
	if err != nil {
		return Result{Success: false, Error: err.Error(), Data: map[string]any{"url": target}}
	}
	content := Truncate(page.Text, t.maxChars)
	title := page.Title
	if title == "" {
		title = page.URL
	}
	metadata := map[string]any{
		"full_content_length": utf8.RuneCountInString(page.Text),
		"fetched_at":          page.FetchedAt,
	}
	return Result{
		Success: true,
		Data: map[string]any{
			"url":                 page.URL,
			"title":               page.Title,
			"content":             content,
			"full_content_length": utf8.RuneCountInString(page.Text),
		},
		Findings: []Finding{{
			Category:  "web_content",
			Title:     title,
			Content:   content,
			SourceURL: page.URL,
			Metadata:  metadata,
		}},
	}
}
