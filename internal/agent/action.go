// Package agent runs the Reason, Act, Observe research loop.
package agent

import (
	"fmt"
	"math"
	"strings"

	"github.com/konard/RDmitryV-Trial-RDV/internal/tools"
)

const ActionFinish = "finish"

// Action is the closed set of moves the decision policy can make.
type Action interface {
	Name() string
	Arguments() map[string]any
	isAction()
}

type SearchWeb struct {
	Query      string
	SearchType string
	MaxResults int
}

type ParseURL struct {
	URL string
}

type SearchCompanies struct {
	Industry   string
	Region     string
	MaxResults int
}

type GetStatistics struct {
	Metric string
	Region string
}

type AnalyzeSentiment struct {
	Text string
}

type SaveFinding struct {
	FindingType string
	Title       string
	Content     string
	SourceURL   string
	Confidence  *float64
	Metadata    map[string]any
}

type Finish struct {
	Summary string
}

func (SearchWeb) Name() string        { return tools.SearchWeb }
func (ParseURL) Name() string         { return tools.ParseURL }
func (SearchCompanies) Name() string  { return tools.SearchCompanies }
func (GetStatistics) Name() string    { return tools.GetStatistics }
func (AnalyzeSentiment) Name() string { return tools.AnalyzeSentiment }
func (SaveFinding) Name() string      { return tools.SaveFinding }
func (Finish) Name() string           { return ActionFinish }

func (SearchWeb) isAction()        {}
func (ParseURL) isAction()         {}
func (SearchCompanies) isAction()  {}
func (GetStatistics) isAction()    {}
func (AnalyzeSentiment) isAction() {}
func (SaveFinding) isAction()      {}
func (Finish) isAction()           {}

func (a SearchWeb) Arguments() map[string]any {
	args := map[string]any{"query": a.Query}
	if a.SearchType != "" {
		args["search_type"] = a.SearchType
	}
	if a.MaxResults > 0 {
		args["max_results"] = a.MaxResults
	}
	return args
}

func (a ParseURL) Arguments() map[string]any {
	return map[string]any{"url": a.URL}
}

func (a SearchCompanies) Arguments() map[string]any {
	args := map[string]any{"industry": a.Industry}
	if a.Region != "" {
		args["region"] = a.Region
	}
	if a.MaxResults > 0 {
		args["max_results"] = a.MaxResults
	}
	return args
}

func (a GetStatistics) Arguments() map[string]any {
	return map[string]any{"metric": a.Metric, "region": a.Region}
}

func (a AnalyzeSentiment) Arguments() map[string]any {
	return map[string]any{"text": a.Text}
}

func (a SaveFinding) Arguments() map[string]any {
	args := map[string]any{
		"finding_type": a.FindingType,
		"title":        a.Title,
		"content":      a.Content,
	}
	if a.SourceURL != "" {
		args["source_url"] = a.SourceURL
	}
	if a.Confidence != nil {
		args["confidence"] = *a.Confidence
	}
	if len(a.Metadata) > 0 {
		args["metadata"] = a.Metadata
	}
	return args
}

func (a Finish) Arguments() map[string]any {
	if a.Summary == "" {
		return map[string]any{}
	}
	return map[string]any{"summary": a.Summary}
}

// UnknownActionError is returned for action names outside the tool set.
// It is a recoverable step failure.
type UnknownActionError struct {
	Name string
}

func (e UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action: %s", e.Name)
}

// NewAction builds the typed action for name from loosely typed arguments.
func NewAction(name string, args map[string]any) (Action, error) {
	switch normalizeActionName(name) {
	case tools.SearchWeb:
		return SearchWeb{
			Query:      argString(args, "query"),
			SearchType: argString(args, "search_type"),
			MaxResults: argInt(args, "max_results"),
		}, nil
	case tools.ParseURL:
		return ParseURL{URL: argString(args, "url")}, nil
	case tools.SearchCompanies:
		return SearchCompanies{
			Industry:   argString(args, "industry"),
			Region:     argString(args, "region"),
			MaxResults: argInt(args, "max_results"),
		}, nil
	case tools.GetStatistics:
		return GetStatistics{Metric: argString(args, "metric"), Region: argString(args, "region")}, nil
	case tools.AnalyzeSentiment:
		return AnalyzeSentiment{Text: argString(args, "text")}, nil
	case tools.SaveFinding:
		return SaveFinding{
			FindingType: argString(args, "finding_type"),
			Title:       argString(args, "title"),
			Content:     argString(args, "content"),
			SourceURL:   argString(args, "source_url"),
			Confidence:  argFloat(args, "confidence"),
			Metadata:    argMap(args, "metadata"),
		}, nil
	case ActionFinish, "complete", "done":
		return Finish{Summary: argString(args, "summary")}, nil
	default:
		return nil, UnknownActionError{Name: strings.TrimSpace(name)}
	}
}

func normalizeActionName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}

func argString(args map[string]any, key string) string {
	switch value := args[key].(type) {
	case string:
		return strings.TrimSpace(value)
	case fmt.Stringer:
		return strings.TrimSpace(value.String())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func argInt(args map[string]any, key string) int {
	switch value := args[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		if value == math.Trunc(value) {
			return int(value)
		}
	}
	return 0
}

func argFloat(args map[string]any, key string) *float64 {
	switch value := args[key].(type) {
	case float64:
		return &value
	case int:
		converted := float64(value)
		return &converted
	}
	return nil
}

func argMap(args map[string]any, key string) map[string]any {
	if value, ok := args[key].(map[string]any); ok {
		return value
	}
	return nil
}
