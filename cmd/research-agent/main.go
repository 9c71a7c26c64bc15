package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/konard/RDmitryV-Trial-RDV/internal/agent"
	"github.com/konard/RDmitryV-Trial-RDV/internal/app"
	"github.com/konard/RDmitryV-Trial-RDV/internal/cache"
	"github.com/konard/RDmitryV-Trial-RDV/internal/config"
	"github.com/konard/RDmitryV-Trial-RDV/internal/logging"
)

var (
	loadEnv    = func() error { return godotenv.Load() }
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	setupLogging = logging.SetupWriter
	openStore    = app.OpenStore
	newProvider  = app.NewProvider
	newRegistry  = func(cfg config.Config, st app.Store, pageCache cache.Cache) (agent.ToolExecutor, error) {
		registry, err := app.NewToolRegistry(cfg, st, pageCache)
		if err != nil {
			return nil, err
		}
		return registry, nil
	}
)

func newRootCmd() *cobra.Command {
	var (
		logLevel  string
		logFormat string
	)
	root := &cobra.Command{
		Use:           "research-agent",
		Short:         "Run market research agent loops from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = loadEnv()
			setupLogging(cmd.ErrOrStderr(), logLevel, logFormat)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")

	root.AddCommand(newRunCmd(), newToolsCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("research_agent_failed")
		os.Exit(1)
	}
}
