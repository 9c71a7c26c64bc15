package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/konard/RDmitryV-Trial-RDV/internal/llm"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
	"github.com/konard/RDmitryV-Trial-RDV/internal/tools"
)

// RunSummary carries the run counters a report mentions.
type RunSummary struct {
	Status      string
	StepsTaken  int
	VisitedURLs int
}

type Reporter interface {
	Report(ctx context.Context, brief Brief, findings []store.Finding, summary RunSummary) string
}

type TemplateReporter struct{}

func (TemplateReporter) Report(_ context.Context, brief Brief, findings []store.Finding, summary RunSummary) string {
	return MarkdownReport(brief, findings, summary)
}

var categoryTitles = map[string]string{
	"market_stats": "Market overview",
	"market_data":  "Market data",
	"statistics":   "Statistics",
	"competitor":   "Competitive landscape",
	"news":         "News and trends",
	"sentiment":    "Sentiment",
	"web_content":  "Source excerpts",
}

const reportExcerptChars = 500

// MarkdownReport assembles a report from the findings grouped by category.
func MarkdownReport(brief Brief, findings []store.Finding, summary RunSummary) string {
	var b strings.Builder
	title := defaultString(brief.Title, "Market research")
	fmt.Fprintf(&b, "# %s\n\n", title)

	b.WriteString("## Summary\n\n")
	writeField(&b, "Product", brief.ProductDescription)
	writeField(&b, "Industry", brief.Industry)
	writeField(&b, "Region", brief.Region)
	fmt.Fprintf(&b, "- Status: %s\n", defaultString(summary.Status, "unknown"))
	fmt.Fprintf(&b, "- Steps taken: %d\n", summary.StepsTaken)
	fmt.Fprintf(&b, "- Findings collected: %d\n", len(findings))
	fmt.Fprintf(&b, "- URLs visited: %d\n", summary.VisitedURLs)

	if len(findings) == 0 {
		b.WriteString("\nNo findings were collected.\n")
		return b.String()
	}

	groups := map[string][]store.Finding{}
	order := []string{}
	for _, finding := range findings {
		category := defaultString(finding.Category, "other")
		if _, ok := groups[category]; !ok {
			order = append(order, category)
		}
		groups[category] = append(groups[category], finding)
	}
	sort.SliceStable(order, func(i, j int) bool {
		_, iKnown := categoryTitles[order[i]]
		_, jKnown := categoryTitles[order[j]]
		return iKnown && !jKnown
	})

	for _, category := range order {
		heading, ok := categoryTitles[category]
		if !ok {
			heading = strings.ReplaceAll(category, "_", " ")
		}
		fmt.Fprintf(&b, "\n## %s\n\n", heading)
		for _, finding := range groups[category] {
			fmt.Fprintf(&b, "### %s\n\n", defaultString(finding.Title, "Untitled finding"))
			b.WriteString(tools.Truncate(strings.TrimSpace(finding.Content), reportExcerptChars))
			b.WriteString("\n")
			if finding.SourceURL != "" {
				fmt.Fprintf(&b, "\nSource: %s\n", finding.SourceURL)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// LLMReporter writes the report with a model and falls back to MarkdownReport.
type LLMReporter struct {
	provider llm.Provider
	timeout  time.Duration
}

func NewLLMReporter(provider llm.Provider, timeout time.Duration) *LLMReporter {
	return &LLMReporter{provider: provider, timeout: timeout}
}

func (r *LLMReporter) Report(ctx context.Context, brief Brief, findings []store.Finding, summary RunSummary) string {
	if len(findings) == 0 || ctx.Err() != nil {
		return MarkdownReport(brief, findings, summary)
	}
	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	reply, err := r.provider.Generate(callCtx, []llm.Message{{Role: llm.RoleUser, Content: reportPrompt(brief, findings, summary)}})
	if err != nil {
		log.Warn().Err(err).Str("research_id", brief.ResearchID).Msg("report_generation_failed")
		return MarkdownReport(brief, findings, summary)
	}
	if strings.TrimSpace(reply) == "" {
		return MarkdownReport(brief, findings, summary)
	}
	return reply
}

type reportFinding struct {
	Category  string `json:"category"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	SourceURL string `json:"source_url,omitempty"`
}

func reportPrompt(brief Brief, findings []store.Finding, summary RunSummary) string {
	compact := make([]reportFinding, 0, len(findings))
	for _, finding := range findings {
		compact = append(compact, reportFinding{
			Category:  finding.Category,
			Title:     finding.Title,
			Content:   tools.Truncate(finding.Content, reportExcerptChars),
			SourceURL: finding.SourceURL,
		})
	}
	encoded, _ := json.MarshalIndent(compact, "", "  ")

	var b strings.Builder
	b.WriteString("Write a market research report based on the collected findings.\n\nResearch details:\n")
	writeField(&b, "Product", brief.ProductDescription)
	writeField(&b, "Industry", brief.Industry)
	writeField(&b, "Region", brief.Region)
	writeField(&b, "Type", brief.ResearchType)
	fmt.Fprintf(&b, "\nSteps taken: %d\nFindings collected: %d\nURLs visited: %d\n\nFindings:\n", summary.StepsTaken, len(findings), summary.VisitedURLs)
	b.Write(encoded)
	b.WriteString(`

Write the report in Russian as markdown with these sections:
1. Executive summary
2. Market overview
3. Competitive analysis
4. Key findings
5. Recommendations
Base every statement on the findings above.`)
	return b.String()
}
