package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go.temporal.io/sdk/client"

	"github.com/konard/RDmitryV-Trial-RDV/internal/agent"
	"github.com/konard/RDmitryV-Trial-RDV/internal/api"
	"github.com/konard/RDmitryV-Trial-RDV/internal/app"
	"github.com/konard/RDmitryV-Trial-RDV/internal/config"
	"github.com/konard/RDmitryV-Trial-RDV/internal/events"
	"github.com/konard/RDmitryV-Trial-RDV/internal/logging"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
	"github.com/konard/RDmitryV-Trial-RDV/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadEnv    = func() error { return godotenv.Load() }
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	setupLogging = logging.Setup
	openStore    = app.OpenStore
	newProvider  = app.NewProvider
	dialTemporal = client.Dial
	newServer    = func(st store.Store, broker *events.Broker, runner agent.Runner, cfg config.Config, opts ...api.Option) server {
		return api.NewServer(st, broker, runner, cfg, opts...)
	}
	notifyContext = signal.NotifyContext
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("control_plane_failed")
	}
}

func run() error {
	_ = loadEnv()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	if err := app.SeedDomains(ctx, cfg, st); err != nil {
		log.Warn().Err(err).Msg("domain_seed_failed")
	}

	pageCache, err := app.OpenCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer pageCache.Close()

	registry, err := app.NewToolRegistry(cfg, st, pageCache)
	if err != nil {
		return err
	}
	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	broker := events.NewBroker()
	recorder := events.NewRecorder(st, broker)
	verifier := app.NewVerifier(cfg, st)
	controller := app.NewController(cfg, provider, registry, st, recorder)

	runner, closeRunner, err := newRunner(cfg, st, controller, verifier)
	if err != nil {
		return err
	}
	defer closeRunner()

	srv := newServer(st, broker, runner, cfg,
		api.WithRecorder(recorder),
		api.WithVerifier(verifier),
		api.WithTools(registry),
	)

	addr := fmt.Sprintf(":%s", cfg.ControlPlanePort)
	if err := srv.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newRunner picks in-process goroutines or Temporal workflows for background runs.
func newRunner(cfg config.Config, st store.Store, controller *agent.Controller, verifier agent.Verifier) (agent.Runner, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Runner)) {
	case "local":
		var postRun agent.Verifier
		if cfg.VerifyAfterRun {
			postRun = verifier
		}
		log.Info().Msg("runner_local")
		return agent.NewLocalRunner(agent.NewExecutor(st, controller, postRun)), func() {}, nil
	case "", "temporal":
		workflowClient, err := dialTemporal(client.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			return nil, nil, err
		}
		closeClient := func() {
			if workflowClient != nil {
				workflowClient.Close()
			}
		}
		preparer := agent.NewExecutor(st, controller, nil)
		log.Info().Str("temporal_address", cfg.TemporalAddress).Str("task_queue", cfg.TemporalTaskQueue).Msg("runner_temporal")
		return workflows.NewService(workflowClient, preparer, cfg.TemporalTaskQueue, cfg.VerifyAfterRun), closeClient, nil
	default:
		return nil, nil, fmt.Errorf("unsupported runner %q", cfg.Runner)
	}
}
