package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/konard/RDmitryV-Trial-RDV/internal/llm"
)

const maxSubtasks = 8

// Planner seeds the pending subtask list of a run.
type Planner interface {
	Plan(ctx context.Context, brief Brief) []string
}

type TemplatePlanner struct{}

func (TemplatePlanner) Plan(_ context.Context, brief Brief) []string {
	return DefaultPlan(brief)
}

// DefaultPlan is the deterministic five-step plan derived from industry and region.
func DefaultPlan(brief Brief) []string {
	industry := defaultString(brief.Industry, "the target industry")
	region := defaultString(brief.Region, "the target region")
	return []string{
		fmt.Sprintf("Search for market information about %s in %s", industry, region),
		fmt.Sprintf("Find competitors in %s", industry),
		fmt.Sprintf("Search for recent news and trends in %s", industry),
		"Collect statistical data about market size and growth",
		"Analyze sentiment of market information",
	}
}

// LLMPlanner asks the model for 5-8 subtasks and falls back to DefaultPlan.
type LLMPlanner struct {
	provider llm.Provider
	timeout  time.Duration
}

func NewLLMPlanner(provider llm.Provider, timeout time.Duration) *LLMPlanner {
	return &LLMPlanner{provider: provider, timeout: timeout}
}

func (p *LLMPlanner) Plan(ctx context.Context, brief Brief) []string {
	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	reply, err := p.provider.Generate(callCtx, []llm.Message{{Role: llm.RoleUser, Content: planPrompt(brief)}})
	if err != nil {
		log.Warn().Err(err).Str("research_id", brief.ResearchID).Msg("plan_generation_failed")
		return DefaultPlan(brief)
	}
	subtasks, err := parsePlan(reply)
	if err != nil {
		log.Warn().Err(err).Str("research_id", brief.ResearchID).Msg("plan_parse_failed")
		return DefaultPlan(brief)
	}
	return subtasks
}

func planPrompt(brief Brief) string {
	var b strings.Builder
	b.WriteString("Create a research plan for the following market research:\n\n")
	writeField(&b, "Product", brief.ProductDescription)
	writeField(&b, "Industry", brief.Industry)
	writeField(&b, "Region", brief.Region)
	writeField(&b, "Research type", brief.ResearchType)
	b.WriteString(`
Break the research down into 5-8 specific, actionable subtasks.
Reply with a JSON object only: {"subtasks": ["first subtask", "second subtask"]}`)
	return b.String()
}

func parsePlan(reply string) ([]string, error) {
	body := extractJSON(reply)
	if body == "" {
		return nil, fmt.Errorf("no JSON object in plan")
	}
	var payload struct {
		Subtasks []string `json:"subtasks"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	subtasks := make([]string, 0, len(payload.Subtasks))
	for _, task := range payload.Subtasks {
		if trimmed := strings.TrimSpace(task); trimmed != "" {
			subtasks = append(subtasks, trimmed)
		}
	}
	if len(subtasks) == 0 {
		return nil, fmt.Errorf("plan has no subtasks")
	}
	if len(subtasks) > maxSubtasks {
		subtasks = subtasks[:maxSubtasks]
	}
	return subtasks, nil
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
