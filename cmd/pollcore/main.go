package main

import (
	"context"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/choices-project/pollcore/commitment"
	"github.com/choices-project/pollcore/config"
	"github.com/choices-project/pollcore/log"
	"github.com/choices-project/pollcore/orchestrator"
	"github.com/choices-project/pollcore/privacy"
	"github.com/choices-project/pollcore/service"
	"github.com/choices-project/pollcore/storage"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Init("info", "stderr", nil)
		log.Fatalf("cannot load configuration: %v", err)
	}
	log.Init(cfg.LogLevel, cfg.LogOutput, nil)

	database, err := metadb.New(db.TypePebble, cfg.DataDir)
	if err != nil {
		log.Fatalf("cannot open database at %s: %v", cfg.DataDir, err)
	}

	st := storage.New(database)
	defer st.Close()

	ledger := privacy.NewLedger(database)
	releaser := privacy.NewReleaser(database, ledger)
	orc := orchestrator.New(st, commitment.NewStore(database), releaser)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	monitor := service.NewPollMonitor(orc, cfg.MonitorInterval)
	if err := monitor.Start(ctx); err != nil {
		log.Fatalf("cannot start poll monitor: %v", err)
	}
	apiService := service.NewAPI(orc, cfg.Host, cfg.Port)
	if err := apiService.Start(ctx); err != nil {
		log.Fatalf("cannot start API service: %v", err)
	}

	log.Infow("pollcore node running",
		"host", cfg.Host,
		"port", cfg.Port,
		"dataDir", cfg.DataDir,
		"monitorInterval", cfg.MonitorInterval.String())

	<-ctx.Done()
	log.Info("shutting down")
	monitor.Stop()
	apiService.Stop()
}
