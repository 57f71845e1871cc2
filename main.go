package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"protoloop/internal/config"
	"protoloop/internal/database"
	"protoloop/internal/generate"
	"protoloop/internal/harness"
	"protoloop/internal/loop"
	"protoloop/internal/metrics"
	"protoloop/internal/snapshot"
	"protoloop/internal/transcript"
)

var (
	flagModel      string
	flagMaxIters   int
	flagDebug      bool
	flagEventsJSON bool
)

func main() {
	root := &cobra.Command{
		Use:   "protoloop",
		Short: "Iterative code prototyping driven by a generation service",
		Long: `protoloop reworks a project tree toward a written goal by looping:
propose a patch, apply it to an in-memory snapshot, run the test
command, and feed the outcome back into the next proposal. The
working directory is only updated when the session terminates.`,
		SilenceUsage: true,
	}

	prototype := &cobra.Command{
		Use:   "prototype [dir]",
		Short: "Run a prototype session over a project directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runPrototype(dir)
		},
	}
	prototype.Flags().StringVar(&flagModel, "model", "", "override the configured model")
	prototype.Flags().IntVar(&flagMaxIters, "max-iters", 0, "override the configured iteration budget")
	prototype.Flags().BoolVar(&flagDebug, "debug", false, "write a session log under .protoloop/logs/")
	prototype.Flags().BoolVar(&flagEventsJSON, "events-json", false, "stream transition events as JSON lines on stdout")
	root.AddCommand(prototype)

	initCmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a default .protoloop/config.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(dir)
		},
	}
	root.AddCommand(initCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runInit(dir string) error {
	path := filepath.Join(dir, config.ConfigDir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.Save(config.Default(), dir); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	fmt.Printf("Next: describe your goal in %s\n", filepath.Join(dir, config.ConfigDir, "spec.md"))
	return nil
}

func runPrototype(dir string) error {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	if flagModel != "" {
		cfg.Agent.Model = flagModel
	}
	if flagMaxIters > 0 {
		cfg.Agent.MaxIterations = flagMaxIters
	}

	spec, err := config.LoadSpec(dir)
	if err != nil {
		return err
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is not set")
	}

	if flagDebug {
		closeLog, err := setupDebugLog(dir)
		if err != nil {
			return err
		}
		defer closeLog()
	}

	tree, err := snapshot.Load(dir)
	if err != nil {
		return fmt.Errorf("failed to load project tree: %w", err)
	}
	log.Printf("Loaded %d files from %s", len(tree), dir)

	db, err := database.Open(filepath.Join(dir, config.ConfigDir, "protoloop.db"))
	if err != nil {
		return err
	}
	defer db.Close()

	gen, err := generate.NewOpenAIGenerator(apiKey, cfg.Agent.Model,
		cfg.Agent.RequestsPerMinute, time.Duration(cfg.Agent.CallTimeoutSecs)*time.Second)
	if err != nil {
		return err
	}
	defer gen.Close()

	runner := harness.NewRunner().
		WithTimeout(time.Duration(cfg.Benchmarks.TimeoutSecs) * time.Second)

	mgr := loop.NewManager(gen, runner, loop.Config{
		TestCommand:    cfg.Benchmarks.TestCommand,
		Budget:         cfg.Agent.MaxIterations,
		MaxEditBytes:   cfg.Limits.MaxPatchBytes,
		TreeBudget:     cfg.Limits.ContextBytes,
		FeedbackBudget: cfg.Limits.FeedbackBytes,
	})
	mgr.AttachDatabase(db)

	sess, tlog, err := mgr.NewSession(spec, dir, tree)
	if err != nil {
		return err
	}
	log.Printf("Session %s: model=%s budget=%d test=%q",
		sess.ID, cfg.Agent.Model, cfg.Agent.MaxIterations, cfg.Benchmarks.TestCommand)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, finishing the current step...", sig)
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if flagEventsJSON {
			if err := transcript.StreamJSONL(context.Background(), tlog, os.Stdout); err != nil {
				log.Printf("Event stream error: %v", err)
			}
			return
		}
		printEvents(tlog)
	}()

	res, runErr := mgr.Run(ctx, sess, tlog)
	wg.Wait()
	if res == nil {
		return runErr
	}

	printResult(res)
	logLatencySummary(db)
	switch res.Status {
	case loop.StateSucceeded:
		return nil
	default:
		return runErr
	}
}

// printEvents renders the transition stream for humans. The log is
// closed when the session terminates, which ends the subscription.
func printEvents(tlog *transcript.Log) {
	for ev := range tlog.Subscribe(context.Background()) {
		if ev.Payload != "" {
			fmt.Printf("[%s] iter=%d %s %s\n",
				ev.Time.Format("15:04:05"), ev.Iteration, ev.State, ev.Payload)
		} else {
			fmt.Printf("[%s] iter=%d %s\n",
				ev.Time.Format("15:04:05"), ev.Iteration, ev.State)
		}
	}
}

func printResult(res *loop.Result) {
	fmt.Printf("\nSession %s finished: %s after %d iteration(s)\n",
		res.SessionID, res.Status, res.Iteration)
	for _, rec := range res.Records {
		line := fmt.Sprintf("  #%d %s apply=%s", rec.Iteration, rec.ProposalKind, rec.ApplyStatus)
		if rec.Test != nil {
			line += fmt.Sprintf(" test=%s exit=%d", rec.Test.Status, rec.Test.ExitCode)
		}
		fmt.Println(line)
	}
	if res.Err != nil && res.Status != loop.StateSucceeded {
		fmt.Printf("  reason: %v\n", res.Err)
	}
	if data, err := json.Marshal(map[string]string{"snapshot": res.Snapshot.Hash()}); err == nil && flagEventsJSON {
		fmt.Println(string(data))
	}
}

// logLatencySummary reports per-phase latency percentiles for the
// session that just ran.
func logLatencySummary(db *sql.DB) {
	all, err := metrics.NewHistogram(db).GetAllPercentiles(24 * 60)
	if err != nil || len(all) == 0 {
		return
	}
	for op, p := range all {
		log.Printf("Latency %s: p50=%.0fms p95=%.0fms (%d samples)", op, p.P50, p.P95, p.Count)
	}
}

// setupDebugLog tees the standard logger into a timestamped file
// under .protoloop/logs/.
func setupDebugLog(dir string) (func(), error) {
	logDir := filepath.Join(dir, config.ConfigDir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(logDir, fmt.Sprintf("session-%d.log", time.Now().Unix()))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return func() {
		log.SetOutput(os.Stderr)
		f.Close()
	}, nil
}
