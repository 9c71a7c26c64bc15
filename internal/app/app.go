// Package app assembles the research stack from configuration. The control
// plane, the worker and the research-agent CLI share it.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/konard/RDmitryV-Trial-RDV/internal/agent"
	"github.com/konard/RDmitryV-Trial-RDV/internal/cache"
	"github.com/konard/RDmitryV-Trial-RDV/internal/config"
	"github.com/konard/RDmitryV-Trial-RDV/internal/llm"
	"github.com/konard/RDmitryV-Trial-RDV/internal/sources"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store/memory"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store/postgres"
	"github.com/konard/RDmitryV-Trial-RDV/internal/tools"
	"github.com/konard/RDmitryV-Trial-RDV/internal/verification"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

var newPostgresStore = func(conn string) (store.Store, func() error, error) {
	pg, err := postgres.New(conn)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

// OpenStore returns the configured store and its close function.
func OpenStore(cfg config.Config) (store.Store, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StoreBackend)) {
	case BackendMemory:
		return memory.New(), func() error { return nil }, nil
	case "", BackendPostgres:
		return newPostgresStore(cfg.PostgresURL)
	default:
		return nil, nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
}

func OpenCache(ctx context.Context, cfg config.Config) (cache.Cache, error) {
	return cache.Open(ctx, cfg.CachePath, cfg.CacheTTL)
}

// SeedDomains loads the trusted/blocked domain list and upserts it.
func SeedDomains(ctx context.Context, cfg config.Config, writer verification.SourceWriter) error {
	list, err := verification.LoadDomains(cfg.VerifyDomainsFile)
	if err != nil {
		return err
	}
	return list.Seed(ctx, writer)
}

// NewProvider returns nil for the local provider, which selects the
// deterministic agent components.
func NewProvider(cfg config.Config) (llm.Provider, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.LLMProvider), agent.LocalProvider) {
		return nil, nil
	}
	return llm.NewFromConfig(llm.Config{
		Provider:         cfg.LLMProvider,
		Model:            cfg.LLMModel,
		BaseURL:          cfg.LLMBaseURL,
		FallbackProvider: cfg.LLMFallbackProvider,
		FallbackModel:    cfg.LLMFallbackModel,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenRouterAPIKey: cfg.OpenRouterAPIKey,
		AnthropicAPIKey:  cfg.AnthropicAPIKey,
		Timeout:          cfg.LLMTimeout,
	})
}

// Store is what the tool set needs from persistence.
type Store interface {
	tools.FindingSaver
	sources.FetchRecorder
}

// NewToolRegistry builds the six research tools over process-wide,
// rate-limited source clients sharing one cache.
func NewToolRegistry(cfg config.Config, st Store, pageCache cache.Cache) (*tools.Registry, error) {
	opts := []sources.Option{sources.WithTimeout(cfg.WebTimeout)}
	if pageCache != nil {
		opts = append(opts, sources.WithCache(pageCache))
	}
	search := sources.NewDuckDuckGo(cfg.SearchRPS, opts...)
	return tools.NewDefaultRegistry(tools.Dependencies{
		Search:          search,
		Companies:       search,
		Fetcher:         sources.NewFetcher(cfg.FetchRPS, st, opts...),
		Statistics:      sources.NewWorldBank(cfg.StatsRPS, opts...),
		Findings:        st,
		MaxContentChars: cfg.MaxContentChars,
	})
}

func AgentConfig(cfg config.Config) agent.Config {
	return agent.Config{
		MaxSteps:         cfg.AgentMaxSteps,
		FailureThreshold: cfg.AgentFailureThreshold,
		StepDelay:        cfg.AgentStepDelay,
		ToolTimeout:      cfg.WebTimeout,
		PolicyTimeout:    cfg.LLMTimeout,
		MaxContentChars:  cfg.MaxContentChars,
	}
}

// NewController wires policy, planner and reporter for the provider. A nil
// publisher leaves progress events unpublished.
func NewController(cfg config.Config, provider llm.Provider, executor agent.ToolExecutor, findings agent.FindingStore, publisher agent.Publisher) *agent.Controller {
	components := agent.ComponentsFor(provider, cfg.LLMTimeout)
	opts := append(components.Options(),
		agent.WithConfig(AgentConfig(cfg)),
		agent.WithFindingStore(findings),
	)
	if publisher != nil {
		opts = append(opts, agent.WithPublisher(publisher))
	}
	return agent.NewController(components.Policy, executor, opts...)
}

func NewVerifier(cfg config.Config, st verification.Store) *verification.Service {
	return verification.NewService(st,
		verification.WithWeights(verification.Weights{
			Reliability: cfg.VerifyWeightReliability,
			Cross:       cfg.VerifyWeightCross,
			Freshness:   cfg.VerifyWeightFreshness,
			Fact:        cfg.VerifyWeightFact,
		}),
		verification.WithSimilarityThreshold(cfg.VerifySimilarityThreshold),
	)
}
