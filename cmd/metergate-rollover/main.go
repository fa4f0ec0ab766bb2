package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/metergate/metergate/pkg/billing"
	"github.com/metergate/metergate/pkg/config"
	"github.com/metergate/metergate/pkg/observability"
	"github.com/metergate/metergate/pkg/store"
	"github.com/metergate/metergate/pkg/usage"
)

func main() {
	runOnce := flag.Bool("run-once", false, "Pre-warm all users once and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := store.Open(cfg.Store)
	if err != nil {
		logger.WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	defer db.Close()

	users := billing.NewPostgresUserStore(db)
	ledger := usage.NewPostgresLedger(db)
	rollover := usage.NewRollover(users, ledger, logger)

	if *runOnce {
		if err := rollover.Run(context.Background()); err != nil {
			logger.WithError(err).Error("rollover failed")
			os.Exit(1)
		}
		return
	}

	c := cron.New()
	_, err = c.AddFunc(cfg.Billing.RolloverSchedule, func() {
		if err := rollover.Run(context.Background()); err != nil {
			logger.WithError(err).Error("scheduled rollover failed")
		}
	})
	if err != nil {
		logger.WithError(err).Error("invalid rollover schedule")
		os.Exit(1)
	}

	c.Start()
	logger.WithField("schedule", cfg.Billing.RolloverSchedule).Info("rollover scheduler started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	<-c.Stop().Done()
	logger.Info("stopped")
}
