package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/konard/RDmitryV-Trial-RDV/internal/agent"
	"github.com/konard/RDmitryV-Trial-RDV/internal/app"
	"github.com/konard/RDmitryV-Trial-RDV/internal/config"
	"github.com/konard/RDmitryV-Trial-RDV/internal/events"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

var newResearchID = uuid.NewString

type runOptions struct {
	title        string
	product      string
	industry     string
	region       string
	researchType string
	backend      string
	maxSteps     int
	local        bool
	verify       bool
	jsonOutput   bool
	quiet        bool
}

type runOutput struct {
	ResearchID    string `json:"research_id"`
	RunID         string `json:"run_id"`
	Status        string `json:"status"`
	StepsTaken    int    `json:"steps_taken"`
	FindingsCount int    `json:"findings_count"`
	Verified      int    `json:"verified"`
	Trustworthy   int    `json:"trustworthy"`
	Error         string `json:"error,omitempty"`
	Report        string `json:"report"`
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one research loop in-process and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()
			return runResearch(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.title, "title", "", "research title (defaults to the industry)")
	flags.StringVar(&opts.product, "product", "", "product description")
	flags.StringVar(&opts.industry, "industry", "", "industry to research")
	flags.StringVar(&opts.region, "region", "", "region, for example Москва or Russia")
	flags.StringVar(&opts.researchType, "type", "market", "research type")
	flags.StringVar(&opts.backend, "store", app.BackendMemory, "store backend (memory, postgres)")
	flags.IntVar(&opts.maxSteps, "max-steps", -1, "step budget, the configured budget when negative")
	flags.BoolVar(&opts.local, "local", false, "use the deterministic offline policy instead of the LLM")
	flags.BoolVar(&opts.verify, "verify", true, "verify findings after a successful run")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print the result as JSON")
	flags.BoolVar(&opts.quiet, "quiet", false, "do not print progress events")
	_ = cmd.MarkFlagRequired("industry")
	return cmd
}

func runResearch(ctx context.Context, stdout io.Writer, stderr io.Writer, opts runOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = applyRunOptions(cfg, opts)

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

	registry, err := newRegistry(cfg, st, pageCache)
	if err != nil {
		return err
	}
	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	var publisher agent.Publisher
	if !opts.quiet {
		publisher = progressPrinter(stderr)
	}
	controller := app.NewController(cfg, provider, registry, st, publisher)
	var verifier agent.Verifier
	if opts.verify {
		verifier = app.NewVerifier(cfg, st)
	}
	executor := agent.NewExecutor(st, controller, verifier)

	research, err := createResearch(ctx, st, opts)
	if err != nil {
		return err
	}
	brief, err := executor.Prepare(ctx, research.ID)
	if err != nil {
		return err
	}
	result, err := executor.Execute(ctx, brief)
	if err != nil {
		return err
	}

	output := runOutput{
		ResearchID:    brief.ResearchID,
		RunID:         brief.RunID,
		Status:        result.Status,
		StepsTaken:    result.StepsTaken,
		FindingsCount: result.FindingsCount,
		Error:         result.Error,
		Report:        result.Report,
	}
	records, err := st.ListVerificationRecords(context.WithoutCancel(ctx), brief.ResearchID)
	if err != nil {
		return err
	}
	output.Verified = len(records)
	for _, record := range records {
		if record.IsTrustworthy {
			output.Trustworthy++
		}
	}

	if err := printOutput(stdout, output, opts.jsonOutput); err != nil {
		return err
	}
	if output.Status == store.RunFailed {
		return errors.New("research run failed: " + output.Error)
	}
	return nil
}

func applyRunOptions(cfg config.Config, opts runOptions) config.Config {
	if backend := strings.TrimSpace(opts.backend); backend != "" {
		cfg.StoreBackend = backend
	}
	if opts.maxSteps >= 0 {
		cfg.AgentMaxSteps = opts.maxSteps
	}
	if opts.local {
		cfg.LLMProvider = agent.LocalProvider
	}
	return cfg
}

func createResearch(ctx context.Context, st store.ResearchStore, opts runOptions) (store.Research, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	title := strings.TrimSpace(opts.title)
	if title == "" {
		title = strings.TrimSpace(opts.industry)
	}
	research := store.Research{
		ID:                 newResearchID(),
		Title:              title,
		ProductDescription: strings.TrimSpace(opts.product),
		Industry:           strings.TrimSpace(opts.industry),
		Region:             strings.TrimSpace(opts.region),
		ResearchType:       strings.TrimSpace(opts.researchType),
		Status:             store.ResearchCreated,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if research.Industry == "" {
		return store.Research{}, errors.New("industry required")
	}
	if err := st.CreateResearch(ctx, research); err != nil {
		return store.Research{}, err
	}
	return research, nil
}

func progressPrinter(out io.Writer) agent.PublisherFunc {
	return func(ctx context.Context, event events.Event) error {
		switch event.Type {
		case events.TypeStepError:
			_, err := fmt.Fprintf(out, "! %s: %s\n", event.Message, event.Error)
			return err
		case events.TypeCompleted, events.TypeError:
			status := ""
			if event.Results != nil {
				status = event.Results.Status
			}
			_, err := fmt.Fprintf(out, "= %s %s\n", event.Type, status)
			return err
		default:
			_, err := fmt.Fprintf(out, "- %s\n", event.Message)
			return err
		}
	}
}

func printOutput(out io.Writer, output runOutput, asJSON bool) error {
	if asJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(output)
	}
	if _, err := fmt.Fprintln(out, output.Report); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\nstatus=%s steps=%d findings=%d verified=%d trustworthy=%d\n",
		output.Status, output.StepsTaken, output.FindingsCount, output.Verified, output.Trustworthy)
	return err
}
