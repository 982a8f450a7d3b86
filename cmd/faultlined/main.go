package main

import (
	"log"
	"os"

	"github.com/sirupsen/logrus"

	"faultline/internal/api"
	"faultline/internal/config"
	"faultline/internal/harness"
	"faultline/internal/store"
	"faultline/internal/target"
	"faultline/internal/target/simulator"
	"faultline/internal/workflow"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("faultlined: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	machineLog := logrus.New()
	machineLog.SetFormatter(&logrus.JSONFormatter{})

	reg := target.NewRegistry()
	reg.Register("sim-unguarded", simulator.Factory(false, machineLog))
	reg.Register("sim-guarded", simulator.Factory(true, machineLog))
	reg.Register("http", target.HTTPFactory())

	h := harness.New(db, reg, workflow.Builtin(), logger)
	srv := api.NewServer(cfg.ListenAddr, db, h, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
