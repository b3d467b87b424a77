// Command dproc is the CLI surface (spec.md §6): init, list, validate, run,
// execute, history, stats, configure, worker. Every subcommand is a thin
// wrapper over the same components dproc-server uses; no business logic
// lives here.
package main

import (
	"fmt"
	"os"
)

var subcommands = map[string]func(args []string) error{
	"init":      cmdInit,
	"list":      cmdList,
	"validate":  cmdValidate,
	"run":       cmdRun,
	"execute":   cmdExecute,
	"history":   cmdHistory,
	"stats":     cmdStats,
	"configure": cmdConfigure,
	"worker":    cmdWorker,
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	run, ok := subcommands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "dproc: unknown command %q\n\n", name)
		printUsage()
		os.Exit(1)
	}

	if err := run(os.Args[2:]); err != nil {
		renderErr(err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: dproc <command> [arguments]

commands:
  init <name>                                    scaffold a new pipeline
  list                                            list known pipelines
  validate <name>                                 validate a pipeline's spec/config
  run <name> [--input <json>] [--format <fmt>]    execute synchronously, wait for completion
  execute <name> --input <json> --format <fmt> [--priority <p>]   submit and return immediately
  history [name] [--limit N]                      list recent executions
  stats [name]                                    show per-pipeline aggregates
  configure                                       store a provider API key
  worker                                          run the worker pool in the foreground`)
}
