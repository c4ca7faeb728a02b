// Command conclave runs one task through the agent ensemble and prints the
// verdict as JSON, or inspects the execution history of earlier runs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentic/conclave/internal/config"
	"github.com/agentic/conclave/internal/events"
	"github.com/agentic/conclave/internal/observability"
	"github.com/agentic/conclave/internal/orchestrator"
	"github.com/agentic/conclave/internal/persistence"
	"github.com/agentic/conclave/internal/scheduler"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(ctx, os.Args[2:])
	case "agents":
		err = agentsCmd(os.Args[2:])
	case "history":
		err = historyCmd(ctx, os.Args[2:])
	case "show":
		err = showCmd(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "conclave: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: conclave <command> [flags]

commands:
  run      submit a task and wait for its verdict
  agents   print the configured agent pool
  history  list previously executed tasks
  show     print one task from the history store`)
}

// runFlags is the parsed flag surface of the run subcommand. The task
// option overrides ride along as a ready-to-submit TaskOptions.
type runFlags struct {
	configPath  string
	description string
	category    string
	opts        config.TaskOptions
}

func parseRunFlags(args []string) (*runFlags, error) {
	rf := &runFlags{}
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.StringVar(&rf.configPath, "config", "", "path to YAML config (optional)")
	fs.StringVar(&rf.description, "task", "", "task description (required)")
	fs.StringVar(&rf.category, "category", "composite", "task category: planning, coding, review, debug, test, composite")
	fs.Float64Var(&rf.opts.ConsensusThreshold, "threshold", 0, "per-task consensus threshold override")
	fs.IntVar(&rf.opts.MaxRetries, "retries", 0, "per-task retry budget override")
	fs.IntVar(&rf.opts.TaskTimeoutSecs, "timeout", 0, "per-task timeout in seconds override")
	fs.IntVar(&rf.opts.MaxSubtasks, "max-subtasks", 0, "per-task subtask ceiling override")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if rf.description == "" {
		return nil, fmt.Errorf("-task is required")
	}
	return rf, nil
}

func runCmd(ctx context.Context, args []string) error {
	rf, err := parseRunFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(rf.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var store persistence.Store
	if cfg.Storage.Enabled {
		s, err := persistence.NewSQLiteStore(ctx, cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("opening history store: %w", err)
		}
		defer s.Close()
		store = s
	}

	bus := events.NewBus()
	defer bus.Close()
	collector := observability.NewCollector(0)
	done := collector.Attach(bus)

	mgr, err := orchestrator.NewManager(orchestrator.ManagerConfig{
		Config: cfg,
		Bus:    bus,
		Store:  store,
		Logger: observability.NewLogger("conclave", nil),
	})
	if err != nil {
		return err
	}

	id, err := mgr.Submit(ctx, rf.description, scheduler.Category(rf.category), rf.opts)
	if err != nil {
		return err
	}

	waitErr := mgr.Wait(ctx, id)
	if waitErr != nil {
		// Interrupted: cancel and collect the terminal snapshot anyway.
		mgr.CancelTask(id)
		_ = mgr.Wait(context.Background(), id)
	}
	bus.Close()
	<-done

	task, err := mgr.GetTaskStatus(id)
	if err != nil {
		return err
	}
	if err := printJSON(taskReport(task)); err != nil {
		return err
	}
	if task.Status == scheduler.StatusFailed {
		os.Exit(1)
	}
	return nil
}

func agentsCmd(args []string) error {
	fs := flag.NewFlagSet("agents", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config (optional)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	mgr, err := orchestrator.NewManager(orchestrator.ManagerConfig{
		Config: cfg,
		Logger: observability.NewLogger("conclave", nil),
	})
	if err != nil {
		return err
	}
	return printJSON(mgr.Status())
}

func historyCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config (optional)")
	fs.Parse(args)

	store, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	tasks, err := store.ListTasks(ctx)
	if err != nil {
		return err
	}
	reports := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		reports = append(reports, taskReport(t))
	}
	return printJSON(reports)
}

func showCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config (optional)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: conclave show [flags] <task-id>")
	}

	store, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	task, err := store.GetTask(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return printJSON(taskReport(task))
}

func openStore(ctx context.Context, configPath string) (persistence.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Storage.Enabled {
		return nil, fmt.Errorf("history store is disabled in config")
	}
	return persistence.NewSQLiteStore(ctx, cfg.Storage.Path)
}

// taskReport flattens a task into the JSON shape printed to stdout. Errors
// become strings; sub-tasks carry their assigned agent and score.
func taskReport(t *scheduler.Task) map[string]any {
	out := map[string]any{
		"id":          t.ID,
		"description": t.Description,
		"category":    string(t.Category),
		"status":      t.Status.String(),
	}
	if t.FinalScore > 0 {
		out["final_score"] = t.FinalScore
	}
	if t.FailureKind != "" {
		out["failure_kind"] = t.FailureKind
	}
	if t.Err != nil {
		out["error"] = t.Err.Error()
	}
	if len(t.SubTasks) > 0 {
		subs := make([]map[string]any, 0, len(t.SubTasks))
		for _, st := range t.SubTasks {
			sub := map[string]any{
				"id":       st.ID,
				"name":     st.Name,
				"status":   st.Status.String(),
				"agent":    st.AssignedAgent,
				"attempts": st.Attempts,
			}
			if st.Result != nil {
				sub["score"] = st.Result.Score
			}
			if st.Err != nil {
				sub["error"] = st.Err.Error()
			}
			subs = append(subs, sub)
		}
		out["subtasks"] = subs
	}
	return out
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
