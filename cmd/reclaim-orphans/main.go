package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/filedepot/internal/conf"
	"github.com/lk2023060901/filedepot/internal/data"
	"github.com/lk2023060901/filedepot/internal/file/biz"
	filedata "github.com/lk2023060901/filedepot/internal/file/data"
	"github.com/lk2023060901/filedepot/internal/pkg/logger"
)

var (
	configFile = flag.String("config", "config.yaml", "config file path")
	timeout    = flag.Duration("timeout", 10*time.Minute, "sweep deadline")
)

// reclaim-orphans sweeps content rows left with zero references and deletes
// their blobs. Safe to run while the server is up: each candidate is
// re-checked under a row lock before anything is deleted.
func main() {
	flag.Parse()

	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logConfig := &logger.Config{
		Level:  config.Log.Level,
		Format: config.Log.Format,
		Output: "console",
	}
	log, err := logger.New(logConfig)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	d, cleanup, err := data.NewData(config, log)
	if err != nil {
		log.Fatal("failed to initialize data layer", zap.Error(err))
	}
	defer cleanup()

	contentRepo := filedata.NewContentRepo(d.DB, d.Bucket)
	blobStore := filedata.NewBlobStore(d.MinIOClient, d.Bucket)
	txRunner := filedata.NewTxRunner(d.DB)
	contentStore := biz.NewContentStore(contentRepo, blobStore, txRunner, log)
	reclaimer := biz.NewReclaimer(contentRepo, contentStore, config.Reclaim.Workers, log)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := reclaimer.Sweep(ctx)
	if err != nil {
		log.Error("sweep failed", zap.Error(err))
		os.Exit(1)
	}

	fmt.Printf("scanned %d, reclaimed %d, skipped %d, failed %d, freed %d bytes\n",
		report.Scanned, report.Reclaimed, report.Skipped, report.Failed, report.BytesFreed)
	if report.Failed > 0 {
		os.Exit(1)
	}
}
