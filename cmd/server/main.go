package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/filedepot/internal/conf"
	"github.com/lk2023060901/filedepot/internal/data"
	"github.com/lk2023060901/filedepot/internal/file/biz"
	filedata "github.com/lk2023060901/filedepot/internal/file/data"
	"github.com/lk2023060901/filedepot/internal/file/service"
	"github.com/lk2023060901/filedepot/internal/pkg/logger"
	"github.com/lk2023060901/filedepot/internal/server"
)

var (
	configFile = flag.String("config", "config.yaml", "config file path")
)

func main() {
	flag.Parse()

	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logConfig := &logger.Config{
		Level:            config.Log.Level,
		Format:           config.Log.Format,
		Output:           config.Log.Output,
		EnableCaller:     config.Log.EnableCaller,
		EnableStacktrace: config.Log.EnableStacktrace,
		File: logger.FileConfig{
			Filename:   config.Log.File.Filename,
			MaxSize:    config.Log.File.MaxSize,
			MaxAge:     config.Log.File.MaxAge,
			MaxBackups: config.Log.File.MaxBackups,
			Compress:   config.Log.File.Compress,
		},
	}
	log, err := logger.New(logConfig)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	if err := logger.InitGlobal(logConfig); err != nil {
		log.Fatal("failed to initialize global logger", zap.Error(err))
	}

	d, cleanup, err := data.NewData(config, log)
	if err != nil {
		log.Fatal("failed to initialize data layer", zap.Error(err))
	}
	defer cleanup()

	// Repositories and stores
	contentRepo := filedata.NewContentRepo(d.DB, d.Bucket)
	fileRepo := filedata.NewFileRepo(d.DB)
	blobStore := filedata.NewBlobStore(d.MinIOClient, d.Bucket)
	txRunner := filedata.NewTxRunner(d.DB)
	statsCache := filedata.NewStatsCache(d.RedisClient)

	// Use cases
	contentStore := biz.NewContentStore(contentRepo, blobStore, txRunner, log)
	fileUseCase := biz.NewFileUseCase(
		fileRepo,
		contentStore,
		blobStore,
		txRunner,
		statsCache,
		config.Redis.StatsTTL,
		config.Upload.MaxSizeBytes,
		log,
	)
	reclaimer := biz.NewReclaimer(contentRepo, contentStore, config.Reclaim.Workers, log)

	// HTTP layer
	fileService := service.NewFileService(fileUseCase, reclaimer, config.Upload.MaxSizeBytes, log)
	httpServer := server.NewHTTPServer(config, log, fileService, d)

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	log.Info("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Stop(ctx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
