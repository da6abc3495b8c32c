// Command ingest-service runs the legacy split-deployment ingest side
// (spec.md §6): Mirror, HTTP Ingest, TCP Ingest and the File Processor.
// TCP ingest saves readings to the Reading Store, from which a
// separately-deployed sender-service delivers them. The File Processor
// writes processed HTTP payloads to SENDER_JSON_DIR; nothing in this module
// reads that directory, so those payloads do not reach the Reading Store.
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
	"github.com/Lasarikoo/TattileSender/go/logging"
	"github.com/Lasarikoo/TattileSender/go/metrics"
	"github.com/Lasarikoo/TattileSender/go/mirror"
	"github.com/Lasarikoo/TattileSender/go/processor"
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

	serviceLog.Info("ingest-service started")
	if err := sup.Wait(); err != nil {
		serviceLog.WithError(err).Error("supervisor exited with error")
		os.Exit(1)
	}
	serviceLog.Info("ingest-service stopped")
}
