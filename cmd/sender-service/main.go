// Command sender-service runs the legacy split-deployment delivery side
// (spec.md §6): the Sender and the Janitors, against the same Reading
// Store and Image Store a separately-deployed ingest-service writes to.
package main

import (
	"context"
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/Lasarikoo/TattileSender/go/config"
	"github.com/Lasarikoo/TattileSender/go/janitor"
	"github.com/Lasarikoo/TattileSender/go/logging"
	"github.com/Lasarikoo/TattileSender/go/metrics"
	"github.com/Lasarikoo/TattileSender/go/sender"
	"github.com/Lasarikoo/TattileSender/go/store"
	"github.com/Lasarikoo/TattileSender/go/supervisor"
)

func main() {
	cfg := new(config.Config)
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	loggers, err := logging.New(cfg.Paths.LogDir, cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("failed initializing logging")
	}
	serviceLog := loggers.For(logging.CategoryService)

	ctx := context.Background()
	images := store.NewImageStore(cfg.Paths.ImagesDir)
	readingStore, err := store.NewReadingStore(ctx, cfg.Database.DSN(), images)
	if err != nil {
		serviceLog.WithError(err).Fatal("failed connecting reading store")
	}
	defer readingStore.Close()

	reg := metrics.New()
	sup := supervisor.New(ctx, serviceLog)

	snd := sender.New(cfg.Sender, readingStore, images, loggers.For(logging.CategorySend), reg)
	sup.Queue("sender", snd.Run)

	r := cfg.Retention
	j := janitor.New([]janitor.Sweep{
		{Target: "sender_failed", Dir: cfg.Paths.SenderFailedDir, Retention: r.FailedRetention, Interval: r.FailedSweep},
		{Target: "sender_pending", Dir: cfg.Paths.SenderPendingDir, Retention: r.PendingRetention, Interval: r.PendingSweep},
		{Target: "logs", Dir: cfg.Paths.LogDir, Retention: r.LogRetention, Interval: r.LogSweep},
	}, loggers.For(logging.CategoryCleanup), reg)
	sup.Queue("janitor", j.Run)

	serviceLog.Info("sender-service started")
	if err := sup.Wait(); err != nil {
		serviceLog.WithError(err).Error("supervisor exited with error")
		os.Exit(1)
	}
	serviceLog.Info("sender-service stopped")
}
