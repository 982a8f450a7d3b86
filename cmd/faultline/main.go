// Command faultline runs a single scenario headlessly and prints the report
// to stdout. The process exit code reflects the verdict: 0 when the run
// completed and passed its thresholds, 1 otherwise.
//
// Usage: faultline -scenario scenario.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"faultline/internal/config"
	"faultline/internal/harness"
	"faultline/internal/model"
	"faultline/internal/store"
	"faultline/internal/target"
	"faultline/internal/target/simulator"
	"faultline/internal/workflow"
)

func main() {
	cfg := config.Load()

	scenarioPath := flag.String("scenario", cfg.ScenarioPath, "path to the scenario YAML file")
	dbPath := flag.String("db", ":memory:", "sqlite database path (defaults to in-memory)")
	quiet := flag.Bool("quiet", false, "suppress progress logging")
	flag.Parse()

	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "usage: faultline -scenario <path>")
		os.Exit(2)
	}

	logOut := io.Writer(os.Stderr)
	if *quiet {
		logOut = io.Discard
	}
	logger := config.NewLogger(logOut, cfg.LogLevel)

	spec, err := config.LoadScenario(*scenarioPath)
	if err != nil {
		log.Fatalf("load scenario: %v", err)
	}

	db, err := store.NewSQLiteStore(*dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	machineLog := logrus.New()
	machineLog.SetOutput(logOut)
	machineLog.SetFormatter(&logrus.JSONFormatter{})
	if *quiet {
		machineLog.SetOutput(io.Discard)
	}

	reg := target.NewRegistry()
	reg.Register("sim-unguarded", simulator.Factory(false, machineLog))
	reg.Register("sim-guarded", simulator.Factory(true, machineLog))
	reg.Register("http", target.HTTPFactory())

	h := harness.New(db, reg, workflow.Builtin(), logger)

	ctx := context.Background()
	run, err := h.Submit(ctx, spec)
	if err != nil {
		log.Fatalf("submit run: %v", err)
	}
	logger.Info("run submitted", "run_id", run.ID, "test_type", run.TestType, "target", run.Target)

	// Forward SIGINT as run cancellation so a partial report still lands.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("canceling run", "signal", sig.String())
			h.Cancel(run.ID)
		case <-done:
		}
	}()

	h.Wait()
	close(done)

	final, err := db.GetRun(ctx, run.ID)
	if err != nil {
		log.Fatalf("fetch run: %v", err)
	}

	if len(final.Summary) > 0 {
		os.Stdout.Write(final.Summary)
		fmt.Println()
	}

	switch {
	case final.Status == model.StatusCompleted && final.Pass != nil && *final.Pass:
		logger.Info("run passed", "run_id", final.ID)
	case final.Status == model.StatusCompleted:
		logger.Warn("run failed thresholds", "run_id", final.ID)
		os.Exit(1)
	default:
		logger.Error("run did not complete", "run_id", final.ID, "status", final.Status, "error", final.Error)
		os.Exit(1)
	}
}
