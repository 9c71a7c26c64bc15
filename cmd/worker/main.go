package main

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/konard/RDmitryV-Trial-RDV/internal/agent"
	"github.com/konard/RDmitryV-Trial-RDV/internal/app"
	"github.com/konard/RDmitryV-Trial-RDV/internal/cache"
	"github.com/konard/RDmitryV-Trial-RDV/internal/config"
	"github.com/konard/RDmitryV-Trial-RDV/internal/logging"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
	"github.com/konard/RDmitryV-Trial-RDV/internal/workflows"
)

var (
	loadEnv    = func() error { return godotenv.Load() }
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	setupLogging    = logging.Setup
	dialTemporal    = client.Dial
	openStore       = app.OpenStore
	newProvider     = app.NewProvider
	newActivities   = newResearchActivities
	newWorker       = worker.New
	workerInterrupt = worker.InterruptCh
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("worker_failed")
	}
}

func run() error {
	_ = loadEnv()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	temporalClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
	})
	if err != nil {
		return err
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	pageCache, err := app.OpenCache(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer pageCache.Close()

	activities, err := newActivities(cfg, st, pageCache)
	if err != nil {
		return err
	}

	taskQueue := cfg.TemporalTaskQueue
	if taskQueue == "" {
		taskQueue = workflows.DefaultTaskQueue
	}
	w := newWorker(temporalClient, taskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.ResearchWorkflow)
	w.RegisterActivity(activities)

	log.Info().Str("task_queue", taskQueue).Msg("worker_started")
	return w.Run(workerInterrupt())
}

// newResearchActivities builds the agent stack the activities run. Events go
// to the control plane, findings and run state straight to the store.
// Verification is a separate workflow activity, so the executor skips it.
func newResearchActivities(cfg config.Config, st store.Store, pageCache cache.Cache) (*workflows.ResearchActivities, error) {
	registry, err := app.NewToolRegistry(cfg, st, pageCache)
	if err != nil {
		return nil, err
	}
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	publisher := workflows.NewEventPublisher(cfg.ControlPlaneURL, st)
	controller := app.NewController(cfg, provider, registry, st, publisher)
	executor := agent.NewExecutor(st, controller, nil)
	return workflows.NewResearchActivities(executor, app.NewVerifier(cfg, st), publisher), nil
}
