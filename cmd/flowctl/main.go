// Command flowctl is a small CLI front end for the workflow engine: it
// loads a workflow definition from YAML, validates it, runs it to
// completion or resumes it from a persisted snapshot, and reports status.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arcflow/workflow-engine/engine"
	"github.com/arcflow/workflow-engine/engine/executor"
	"github.com/arcflow/workflow-engine/engine/hook"
	"github.com/arcflow/workflow-engine/engine/metrics"
	"github.com/arcflow/workflow-engine/engine/store"
	"github.com/arcflow/workflow-engine/engine/workflow"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(os.Args[2:])
	case "validate":
		err = validateCmd(os.Args[2:])
	case "resume":
		err = resumeCmd(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "flowctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: flowctl run -file workflow.yaml [-store dir] [-timeout d] [-verbose]")
	fmt.Fprintln(os.Stderr, "       flowctl validate -file workflow.yaml")
	fmt.Fprintln(os.Stderr, "       flowctl resume -id workflow-id -store dir [-verbose]")
}

func validateCmd(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	file := fs.String("file", "", "path to workflow YAML file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	def, warnings, err := workflow.Load(*file)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Println("warning:", w.String())
	}

	resolver := engine.NewResolver()
	if errs := resolver.Validate(def.Steps); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e)
		}
		return fmt.Errorf("%d validation error(s)", len(errs))
	}
	if _, err := resolver.Resolve(def.Steps); err != nil {
		return err
	}
	fmt.Printf("%s: valid, %d step(s)\n", def.Name, len(def.Steps))
	return nil
}

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	file := fs.String("file", "", "path to workflow YAML file")
	storeDir := fs.String("store", "", "directory for snapshot persistence (empty disables it)")
	timeout := fs.Duration("timeout", 0, "whole-workflow timeout (0 = none)")
	verbose := fs.Bool("verbose", false, "print the detailed per-step JSON report")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	def, _, err := workflow.Load(*file)
	if err != nil {
		return err
	}

	runner, err := newRunner(*storeDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []engine.Option
	if *timeout > 0 {
		opts = append(opts, engine.WithTimeout(*timeout))
	}

	res, runErr := runner.Execute(ctx, def, opts...)
	return report(res, runErr, *verbose)
}

func resumeCmd(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	id := fs.String("id", "", "workflow id to resume")
	storeDir := fs.String("store", "", "directory snapshots were persisted to")
	verbose := fs.Bool("verbose", false, "print the detailed per-step JSON report")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" || *storeDir == "" {
		return fmt.Errorf("-id and -store are required")
	}

	runner, err := newRunner(*storeDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, runErr := runner.Resume(ctx, *id)
	return report(res, runErr, *verbose)
}

func newRunner(storeDir string) (*engine.Runner, error) {
	registry := engine.NewRegistry()
	if err := registry.Register("script", &executor.Script{}, false); err != nil {
		return nil, err
	}

	var st store.Store
	opts := engine.Options{
		EnableHooks:       true,
		EnableMetrics:     true,
		EnableLogging:     true,
		GracePeriod:       5 * time.Second,
		CheckpointInterval: 1,
	}
	if storeDir != "" {
		fileStore, err := store.NewFile(storeDir)
		if err != nil {
			return nil, err
		}
		st = fileStore
		opts.EnablePersistence = true
	}

	bus := hook.New(256, hook.Isolated)
	_ = bus.Register(hook.Registration{
		ID:      "stdout-log",
		Event:   hook.WorkflowStart,
		Handler: hook.NewLogHandler(os.Stdout, false).Handle,
		Enabled: true,
	})

	return engine.NewRunner(registry, st, bus, metrics.New(nil), opts), nil
}

func report(res *engine.Result, runErr error, verbose bool) error {
	if res != nil {
		fmt.Println(engine.GenerateSummary(res))
		if verbose {
			b, err := engine.DetailedReport(res)
			if err == nil {
				fmt.Println(string(b))
			}
		}
	}
	return runErr
}
