package agent

import (
	"time"

	"github.com/konard/RDmitryV-Trial-RDV/internal/llm"
)

// LocalProvider selects the offline heuristic policy instead of a remote model.
const LocalProvider = "local"

type Components struct {
	Policy   DecisionPolicy
	Planner  Planner
	Reporter Reporter
}

// ComponentsFor returns LLM-backed components, or the deterministic ones when
// provider is nil.
func ComponentsFor(provider llm.Provider, timeout time.Duration) Components {
	if provider == nil {
		return Components{Policy: HeuristicPolicy{}, Planner: TemplatePlanner{}, Reporter: TemplateReporter{}}
	}
	return Components{
		Policy:   NewLLMPolicy(provider, timeout),
		Planner:  NewLLMPlanner(provider, timeout),
		Reporter: NewLLMReporter(provider, timeout),
	}
}

// Options wires the components into a Controller.
func (c Components) Options() []Option {
	return []Option{WithPlanner(c.Planner), WithReporter(c.Reporter)}
}
