package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/konard/RDmitryV-Trial-RDV/internal/tools"
)

// DecisionPolicy chooses the next action from a snapshot of the run.
type DecisionPolicy interface {
	NextAction(ctx context.Context, snapshot Snapshot) (Decision, error)
}

type PolicyFunc func(ctx context.Context, snapshot Snapshot) (Decision, error)

func (f PolicyFunc) NextAction(ctx context.Context, snapshot Snapshot) (Decision, error) {
	return f(ctx, snapshot)
}

var ErrScriptExhausted = errors.New("scripted policy has no decisions left")

// ScriptedPolicy replays a fixed list of decisions. Once the list is used up it
// either finishes or fails, depending on FinishWhenDone.
type ScriptedPolicy struct {
	mu             sync.Mutex
	decisions      []Decision
	errs           map[int]error
	next           int
	FinishWhenDone bool
}

func NewScriptedPolicy(decisions ...Decision) *ScriptedPolicy {
	return &ScriptedPolicy{decisions: decisions, errs: map[int]error{}}
}

// FailAt makes the call with the given zero-based index return err instead of
// consuming a decision.
func (p *ScriptedPolicy) FailAt(call int, err error) *ScriptedPolicy {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[call] = err
	return p
}

func (p *ScriptedPolicy) NextAction(ctx context.Context, snapshot Snapshot) (Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call := p.next
	p.next++
	if err, ok := p.errs[call]; ok {
		return Decision{}, err
	}
	index := call
	for failed := range p.errs {
		if failed < call {
			index--
		}
	}
	if index >= len(p.decisions) {
		if p.FinishWhenDone {
			return Decision{Reasoning: "script finished", Action: Finish{}}, nil
		}
		return Decision{}, ErrScriptExhausted
	}
	return p.decisions[index], nil
}

// Calls reports how many times the policy was consulted.
func (p *ScriptedPolicy) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

// HeuristicPolicy walks a fixed research routine without an LLM: market search,
// competitors, news, statistics, reading the first unvisited source, sentiment
// of the news, then finish. A stage runs once, whether it succeeded or not.
type HeuristicPolicy struct{}

type heuristicStage struct {
	action  string
	variant string
	build   func(snapshot Snapshot) (Decision, bool)
}

var heuristicStages = []heuristicStage{
	{action: tools.SearchWeb, variant: "general", build: func(s Snapshot) (Decision, bool) {
		return Decision{
			Reasoning: "Collect general market information",
			Action:    SearchWeb{Query: joinNonEmpty(s.Brief.Industry, s.Brief.Region, "рынок"), SearchType: "general", MaxResults: 10},
		}, true
	}},
	{action: tools.SearchCompanies, build: func(s Snapshot) (Decision, bool) {
		if s.Brief.Industry == "" {
			return Decision{}, false
		}
		return Decision{
			Reasoning: "Identify competitors",
			Action:    SearchCompanies{Industry: s.Brief.Industry, Region: s.Brief.Region, MaxResults: 10},
		}, true
	}},
	{action: tools.SearchWeb, variant: "news", build: func(s Snapshot) (Decision, bool) {
		return Decision{
			Reasoning: "Look for recent news and trends",
			Action:    SearchWeb{Query: joinNonEmpty(s.Brief.Industry, s.Brief.Region, "новости тренды"), SearchType: "news", MaxResults: 10},
		}, true
	}},
	{action: tools.GetStatistics, build: func(s Snapshot) (Decision, bool) {
		if s.Brief.Region == "" {
			return Decision{}, false
		}
		return Decision{
			Reasoning: "Collect macro statistics for the region",
			Action:    GetStatistics{Metric: "gdp_growth", Region: s.Brief.Region},
		}, true
	}},
	{action: tools.ParseURL, build: func(s Snapshot) (Decision, bool) {
		url := firstUnvisitedURL(s)
		if url == "" {
			return Decision{}, false
		}
		return Decision{Reasoning: "Read the most relevant source", Action: ParseURL{URL: url}}, true
	}},
	{action: tools.AnalyzeSentiment, build: func(s Snapshot) (Decision, bool) {
		for i := len(s.Findings) - 1; i >= 0; i-- {
			if s.Findings[i].Category == "news" && s.Findings[i].Content != "" {
				return Decision{
					Reasoning: "Assess the tone of recent news",
					Action:    AnalyzeSentiment{Text: s.Findings[i].Content},
				}, true
			}
		}
		return Decision{}, false
	}},
}

func (HeuristicPolicy) NextAction(ctx context.Context, snapshot Snapshot) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	for _, stage := range heuristicStages {
		if stage.done(snapshot.History) {
			continue
		}
		if decision, ok := stage.build(snapshot); ok {
			return decision, nil
		}
	}
	return Decision{
		Reasoning: fmt.Sprintf("Routine complete with %d findings", len(snapshot.Findings)),
		Action:    Finish{},
	}, nil
}

func (s heuristicStage) done(history []ToolInvocation) bool {
	for _, invocation := range history {
		if invocation.Action != s.action {
			continue
		}
		if s.variant == "" || argString(invocation.Arguments, "search_type") == s.variant {
			return true
		}
	}
	return false
}

func firstUnvisitedURL(s Snapshot) string {
	visited := make(map[string]struct{}, len(s.VisitedURLs))
	for _, url := range s.VisitedURLs {
		visited[url] = struct{}{}
	}
	for _, finding := range s.Findings {
		if finding.Category == "web_content" || finding.SourceURL == "" {
			continue
		}
		if _, ok := visited[finding.SourceURL]; ok {
			continue
		}
		if strings.HasPrefix(finding.SourceURL, "http://") || strings.HasPrefix(finding.SourceURL, "https://") {
			return finding.SourceURL
		}
	}
	return ""
}

func joinNonEmpty(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, " ")
}
