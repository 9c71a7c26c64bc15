package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/konard/RDmitryV-Trial-RDV/internal/llm"
	"github.com/konard/RDmitryV-Trial-RDV/internal/tools"
)

const (
	recentFindingsInPrompt = 5
	findingPreviewChars    = 300
)

const systemPrompt = `Ты автономный агент для маркетинговых исследований.
Ты собираешь и анализируешь информацию о рынке, конкурентах и трендах с помощью доступных инструментов.
На каждом шаге оцени состояние исследования, выбери одно действие и верни только JSON.
Завершай исследование, когда собрано достаточно данных для отчёта.`

// LLMPolicy asks a language model for the next action.
type LLMPolicy struct {
	provider llm.Provider
	timeout  time.Duration
}

func NewLLMPolicy(provider llm.Provider, timeout time.Duration) *LLMPolicy {
	return &LLMPolicy{provider: provider, timeout: timeout}
}

func (p *LLMPolicy) NextAction(ctx context.Context, snapshot Snapshot) (Decision, error) {
	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	reply, err := p.provider.Generate(callCtx, BuildDecisionPrompt(snapshot))
	if err != nil {
		return Decision{}, fmt.Errorf("decide next action: %w", err)
	}
	return ParseDecision(reply)
}

// BuildDecisionPrompt renders the run snapshot into the policy conversation.
func BuildDecisionPrompt(snapshot Snapshot) []llm.Message {
	var b strings.Builder
	brief := snapshot.Brief

	b.WriteString("Research goal:\n")
	writeField(&b, "Title", brief.Title)
	writeField(&b, "Product", brief.ProductDescription)
	writeField(&b, "Industry", brief.Industry)
	writeField(&b, "Region", brief.Region)
	writeField(&b, "Type", brief.ResearchType)

	b.WriteString("\nProgress:\n")
	fmt.Fprintf(&b, "- Step: %d/%d\n", snapshot.StepCount, snapshot.MaxSteps)
	fmt.Fprintf(&b, "- Findings collected: %d\n", len(snapshot.Findings))
	fmt.Fprintf(&b, "- URLs visited: %d\n", len(snapshot.VisitedURLs))
	if snapshot.ConsecutiveFailures > 0 {
		fmt.Fprintf(&b, "- Consecutive failed steps: %d\n", snapshot.ConsecutiveFailures)
	}

	b.WriteString("\nRecent findings:\n")
	recent := snapshot.Findings
	if len(recent) > recentFindingsInPrompt {
		recent = recent[len(recent)-recentFindingsInPrompt:]
	}
	if len(recent) == 0 {
		b.WriteString("  (none yet)\n")
	}
	for _, finding := range recent {
		fmt.Fprintf(&b, "  - [%s] %s: %s\n", finding.Category, finding.Title, tools.Truncate(oneLine(finding.Content), findingPreviewChars))
	}

	b.WriteString("\nCompleted subtasks:\n")
	for _, task := range snapshot.CompletedSubtasks {
		fmt.Fprintf(&b, "  ✓ %s\n", task)
	}
	b.WriteString("\nPending subtasks:\n")
	for _, task := range snapshot.PendingSubtasks {
		fmt.Fprintf(&b, "  - %s\n", task)
	}

	if n := len(snapshot.History); n > 0 && !snapshot.History[n-1].Success {
		last := snapshot.History[n-1]
		fmt.Fprintf(&b, "\nLast action %s failed: %s\n", last.Action, last.Error)
	}

	b.WriteString("\nAvailable tools:\n")
	if schemas, err := json.MarshalIndent(snapshot.Tools, "", "  "); err == nil {
		b.Write(schemas)
		b.WriteByte('\n')
	}

	b.WriteString(`
Decide the next action. Reply with a JSON object only:
{"reasoning": "why this action", "action": "<tool name or finish>", "arguments": {...}}
Use {"reasoning": "...", "action": "finish"} when enough information has been gathered.`)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

func writeField(b *strings.Builder, label string, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, value)
}

func oneLine(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
