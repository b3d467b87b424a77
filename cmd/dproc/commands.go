package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/app"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/dperrors"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
)

// newApp wires the same composition root dproc-server uses, so every
// subcommand runs through the real components rather than a CLI-only path.
func newApp() (*app.App, error) {
	configPath := os.Getenv("DPROC_CONFIG")
	return app.New("config/dproc.toml", configPath)
}

// renderErr prints a taxonomy variant to stderr as userMessage, code, and
// numbered fixes (spec.md §6); under DEBUG/DPROC_DEBUG it also prints the
// technical message. Unknown errors are rendered as a bare message.
func renderErr(err error) {
	dpErr, ok := dperrors.As(err)
	if !ok {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}

	fmt.Fprintf(os.Stderr, "error: %s (%s)\n", dpErr.UserMessage, dpErr.Code)
	if common.IsDebug() {
		fmt.Fprintf(os.Stderr, "  technical: %s\n", dpErr.TechnicalMessage)
	}
	for i, fix := range dpErr.Fixes {
		fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, fix)
	}
}

func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: dproc init <name>")
	}
	name := fs.Arg(0)

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	dir := filepath.Join(a.Config.Workspace, "pipelines", name)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("pipeline %q already exists at %s", name, dir)
	}

	for _, sub := range []string{"prompts", "templates", "data"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return err
		}
	}

	specYAML := fmt.Sprintf(`name: %s
version: "1.0.0"
outputFormat:
  - mdx
inputs:
  - name: topic
    type: text
    label: Topic
    required: true
`, name)
	configYAML := `llm:
  provider: openai
  model: gpt-4o
  temperature: 0.2
  maxTokens: 2000
  execution:
    timeoutMinutes: 30
    retryAttempts: 2
`
	processorStub := "passthrough\n"
	templateStub := "# {{.inputs.topic}}\n\n{{.llm.text}}\n"

	if err := os.WriteFile(filepath.Join(dir, "spec.yml"), []byte(specYAML), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yml"), []byte(configYAML), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "processor"), []byte(processorStub), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "templates", "report.mdx.tmpl"), []byte(templateStub), 0o644); err != nil {
		return err
	}

	fmt.Printf("Created pipeline %q at %s\n", name, dir)
	return nil
}

func cmdList(args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	summaries, err := a.Loader.ListPipelines()
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("no pipelines found")
		return nil
	}
	for _, s := range summaries {
		status := "valid"
		if !s.Valid {
			status = fmt.Sprintf("invalid (%s)", strings.Join(s.Errors, "; "))
		}
		fmt.Printf("%-30s %s\n", s.Name, status)
	}
	return nil
}

func cmdValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: dproc validate <name>")
	}
	name := fs.Arg(0)

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	valid, errs := a.Loader.ValidatePipeline(name)
	if valid {
		fmt.Printf("%s: valid\n", name)
		return nil
	}
	fmt.Printf("%s: invalid\n", name)
	for _, e := range errs {
		fmt.Printf("  - %s\n", e)
	}
	return nil
}

// parseRunFlags is shared by run and execute: both accept --input, --format,
// --priority with the same semantics (spec.md §6).
func parseRunFlags(fsName string, args []string) (name string, inputs map[string]any, format, priority string, err error) {
	fs := flag.NewFlagSet(fsName, flag.ExitOnError)
	input := fs.String("input", "{}", "JSON object of pipeline inputs")
	fs.StringVar(&format, "format", "", "output format (must be one the pipeline declares)")
	fs.StringVar(&priority, "priority", "normal", "queue priority: low, normal, high")
	fs.Parse(args)

	// The pipeline name may come before or after the flags.
	if fs.NArg() >= 1 {
		name = fs.Arg(0)
		fs.Parse(fs.Args()[1:])
	}
	if name == "" || fs.NArg() != 0 {
		err = fmt.Errorf("usage: dproc %s <name> --input <json> --format <fmt> [--priority <p>]", fsName)
		return
	}

	inputs = map[string]any{}
	if jsonErr := json.Unmarshal([]byte(*input), &inputs); jsonErr != nil {
		err = fmt.Errorf("--input is not valid JSON: %w", jsonErr)
		return
	}
	return
}

func cmdExecute(args []string) error {
	name, inputs, format, priority, err := parseRunFlags("execute", args)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sub, err := a.Submitter.Submit(context.Background(), models.JobRequest{
		PipelineName: name,
		Inputs:       inputs,
		OutputFormat: format,
		Priority:     models.Priority(priority),
	})
	if err != nil {
		return err
	}

	fmt.Printf("executionId: %s\njobId: %s\n", sub.ExecutionID, sub.JobID)
	return nil
}

// cmdRun submits the same way execute does, then polls the store until the
// execution reaches a terminal status, printing the final record.
func cmdRun(args []string) error {
	name, inputs, format, priority, err := parseRunFlags("run", args)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	sub, err := a.Submitter.Submit(ctx, models.JobRequest{
		PipelineName: name,
		Inputs:       inputs,
		OutputFormat: format,
		Priority:     models.Priority(priority),
	})
	if err != nil {
		return err
	}
	fmt.Printf("executionId: %s\njobId: %s\nrunning worker pool locally, waiting for completion...\n", sub.ExecutionID, sub.JobID)

	pool := a.NewWorkerPool()
	pool.Start()
	defer pool.Stop()

	for {
		record, err := a.Store.Get(ctx, sub.ExecutionID)
		if err != nil {
			return err
		}
		if record.Status.IsTerminal() {
			fmt.Printf("status: %s\n", record.Status)
			if record.OutputPath != "" {
				fmt.Printf("outputPath: %s\n", record.OutputPath)
			}
			if record.Error != "" {
				fmt.Printf("error: %s\n", record.Error)
			}
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 50, "maximum executions to return")
	status := fs.String("status", "", "filter by status")
	fs.Parse(args)

	// The pipeline name may come before or after the flags.
	var pipelineName string
	if fs.NArg() >= 1 {
		pipelineName = fs.Arg(0)
		fs.Parse(fs.Args()[1:])
	}
	filter := models.ExecutionFilter{PipelineName: pipelineName, Limit: *limit, Status: models.Status(*status)}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.Store.List(context.Background(), filter)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no executions found")
		return nil
	}
	for _, r := range records {
		fmt.Printf("%-28s %-20s %-10s %3d%%  %s\n", r.ID, r.PipelineName, r.Status, r.Progress(), r.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func cmdStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Parse(args)

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if fs.NArg() == 1 {
		s, err := a.Store.Stats(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		printStats(s)
		return nil
	}

	all, err := a.Store.ListStats(ctx)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Println("no stats recorded")
		return nil
	}
	for _, s := range all {
		printStats(s)
	}
	return nil
}

func printStats(s *models.PipelineStats) {
	fmt.Printf("%s: total=%d success=%d failed=%d avgMs=%.0f tokens=%d lastExecutedAt=%s\n",
		s.PipelineName, s.TotalExecutions, s.SuccessfulExecutions, s.FailedExecutions,
		s.AvgExecutionTimeMS, s.TotalTokensUsed, s.LastExecutedAt.Format(time.RFC3339))
}

func cmdConfigure(args []string) error {
	fs := flag.NewFlagSet("configure", flag.ExitOnError)
	provider := fs.String("provider", "", "openai, anthropic, or google")
	apiKey := fs.String("api-key", "", "provider API key")
	fs.Parse(args)

	if *provider == "" || *apiKey == "" {
		return fmt.Errorf("usage: dproc configure --provider <openai|anthropic|google> --api-key <key>")
	}

	if err := common.WriteSecret(*provider, *apiKey); err != nil {
		return err
	}
	fmt.Printf("stored API key for %s in $HOME/.dproc/secrets.json\n", *provider)
	return nil
}

func cmdWorker(args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	pool := a.NewWorkerPool()
	pool.Start()
	a.Logger.Info().Int("concurrency", a.Config.Worker.ConcurrencyOrDefault()).Msg("worker pool running in foreground, press ctrl-c to stop")

	waitForSignal()
	pool.Stop()
	return nil
}

// waitForSignal blocks until an interrupt or termination signal arrives.
func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
}
