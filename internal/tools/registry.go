// Package tools is the fixed capability set the research agent can invoke.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// Schema is a JSON-schema object describing a tool's arguments.
type Schema map[string]any

// RunContext carries the run identity into every tool call.
type RunContext struct {
	ResearchID string
	RunID      string
	Step       int
}

// Finding is a piece of information a tool contributes to the run.
// Saved is set when the tool already persisted it.
type Finding struct {
	ID         string         `json:"id,omitempty"`
	Category   string         `json:"category"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	SourceURL  string         `json:"source_url,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Saved      bool           `json:"-"`
}

type Result struct {
	Success  bool           `json:"success"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Findings []Finding      `json:"-"`
}

func Failure(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

type Tool interface {
	Name() string
	Description() string
	Parameters() Schema
	Execute(ctx context.Context, run RunContext, args map[string]any) Result
}

type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`
}

type registered struct {
	tool   Tool
	schema *gojsonschema.Schema
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]registered
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	registry := &Registry{tools: map[string]registered{}}
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Register compiles the tool's parameter schema and adds it under its name.
func (r *Registry) Register(tool Tool) error {
	name := strings.TrimSpace(tool.Name())
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(map[string]any(tool.Parameters())))
	if err != nil {
		return fmt.Errorf("compile %s parameters: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = registered{tool: tool, schema: schema}
	return nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns a descriptor per tool, ordered by name.
func (r *Registry) Schemas() []Descriptor {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	descriptors := make([]Descriptor, 0, len(names))
	for _, name := range names {
		tool := r.tools[name].tool
		descriptors = append(descriptors, Descriptor{
			Name:        name,
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	return descriptors
}

// Execute validates args against the tool schema and runs it. It never panics
// and never returns an error; every failure is a Result with Success false.
func (r *Registry) Execute(ctx context.Context, run RunContext, name string, args map[string]any) (result Result) {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Failure("unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := validate(entry.schema, args); err != nil {
		return Failure("invalid arguments for %s: %v", name, err)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			log.Error().Str("tool", name).Str("research_id", run.ResearchID).Interface("panic", recovered).Msg("tool_panicked")
			result = Failure("tool %s failed unexpectedly", name)
		}
	}()
	result = entry.tool.Execute(ctx, run, args)
	if !result.Success && result.Error == "" {
		result.Error = "tool reported failure"
	}
	return result
}

func validate(schema *gojsonschema.Schema, args map[string]any) error {
	outcome, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if outcome.Valid() {
		return nil
	}
	messages := make([]string, 0, len(outcome.Errors()))
	for _, desc := range outcome.Errors() {
		messages = append(messages, desc.String())
	}
	return fmt.Errorf("%s", strings.Join(messages, "; "))
}
