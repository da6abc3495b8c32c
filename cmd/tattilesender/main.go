// Command tattilesender runs the unified deployment of spec.md §5: one
// process, one supervisor, all six long-lived tasks (Mirror, HTTP Ingest,
// TCP Ingest, File Processor, Sender, Janitors) sharing the Reading Store
// and Image Store. Modeled on the teacher's cmd/flow-ingester/main.go
// flags.NewParser + signal-driven shutdown shape.
package main

import (
	"context"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/Lasarikoo/TattileSender/go/config"
	"github.com/Lasarikoo/TattileSender/go/ingesthttp"
	"github.com/Lasarikoo/TattileSender/go/ingesttcp"
	"github.com/Lasarikoo/TattileSender/go/janitor"
	"github.com/Lasarikoo/TattileSender/go/logging"
	"github.com/Lasarikoo/TattileSender/go/metrics"
	"github.com/Lasarikoo/TattileSender/go/mirror"
	"github.com/Lasarikoo/TattileSender/go/processor"
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

	mir := mirror.New(cfg.Mirror, loggers.For(logging.CategoryMirror), reg)
	sup.Queue("mirror", mir.Run)

	httpSrv := ingesthttp.New(cfg.HTTPPort, cfg.Paths.IngestJSONDir, readingStore, loggers.For(logging.CategoryAPI))
	sup.Queue("ingest-http", httpSrv.Run)

	tcpSrv := ingesttcp.New(cfg.TransitPort, readingStore, loggers.For(logging.CategoryIngest))
	sup.Queue("ingest-tcp", tcpSrv.Run)

	proc := processor.New(cfg.Paths, cfg.Mirror.DstDir, 500*time.Millisecond, 600*time.Millisecond, loggers.For(logging.CategoryProc))
	sup.Queue("processor", proc.Run)

	snd := sender.New(cfg.Sender, readingStore, images, loggers.For(logging.CategorySend), reg)
	sup.Queue("sender", snd.Run)

	j := janitor.New(janitorSweeps(cfg), loggers.For(logging.CategoryCleanup), reg)
	sup.Queue("janitor", j.Run)

	serviceLog.Info("tattilesender started")
	if err := sup.Wait(); err != nil {
		serviceLog.WithError(err).Error("supervisor exited with error")
		os.Exit(1)
	}
	serviceLog.Info("tattilesender stopped")
}

func janitorSweeps(cfg *config.Config) []janitor.Sweep {
	r := cfg.Retention
	return []janitor.Sweep{
		{Target: "mirror_images", Dir: cfg.Mirror.DstDir, Retention: r.ImageRetention, Interval: r.ImageSweep},
		{Target: "logs", Dir: cfg.Paths.LogDir, Retention: r.LogRetention, Interval: r.LogSweep},
		{Target: "sender_failed", Dir: cfg.Paths.SenderFailedDir, Retention: r.FailedRetention, Interval: r.FailedSweep},
		{Target: "sender_pending", Dir: cfg.Paths.SenderPendingDir, Retention: r.PendingRetention, Interval: r.PendingSweep},
		{Target: "ingest_stage", Dir: cfg.Paths.IngestJSONDir, Retention: r.IngestRetention, Interval: r.IngestSweep},
	}
}
