package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/dailycheckin/config"
	"github.com/cppla/dailycheckin/routes"
	"github.com/cppla/dailycheckin/services"
	"github.com/cppla/dailycheckin/storage"
	"github.com/cppla/dailycheckin/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()

	db := config.InitDatabase()

	bg, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := services.Options{
		Cache: utils.NewSignedURLCache(),
		Media: services.MediaOptions{
			MaxImageBytes: cfg.MaxImageBytes,
			MaxWidth:      cfg.MaxImageWidth,
			ThumbnailSize: cfg.ThumbnailSize,
			MaxPerCheckIn: cfg.MaxImagesPerCheckIn,
			Workers:       cfg.UploadWorkers,
			URLTTL:        time.Duration(cfg.SignedURLTTLSeconds) * time.Second,
			StoreTimeout:  time.Duration(cfg.StoreTimeoutMs) * time.Millisecond,
		},
	}

	// Object store is optional; without it check-ins simply carry no images
	var store *storage.MinioStore
	if cfg.S3Enabled() {
		var err error
		store, err = storage.NewMinioStore(storage.MinioOptions{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			utils.Sugar.Fatalf("object store: %v", err)
		}
		ctx, done := context.WithTimeout(bg, 10*time.Second)
		if err := store.EnsureBucket(ctx, cfg.S3Region); err != nil {
			utils.Sugar.Warnf("object store bucket check failed: %v", err)
		}
		done()
		opts.Store = store
	} else {
		utils.Sugar.Info("S3 not configured, image attachments disabled")
	}

	var dispatcher *services.Dispatcher
	if cfg.TelegramBotToken != "" {
		client := utils.NewTelegramClient(cfg.TelegramBotToken, cfg.TelegramAPIBase, time.Duration(cfg.TelegramTimeoutMs)*time.Millisecond)
		dispatcher = services.NewDispatcher(client, services.DispatcherOptions{
			QueueSize:      cfg.NotifyQueueSize,
			Workers:        cfg.NotifyWorkers,
			MaxRetries:     uint64(cfg.NotifyMaxRetries),
			AttemptTimeout: time.Duration(cfg.TelegramTimeoutMs) * time.Millisecond,
		})
		dispatcher.Start(bg)
		opts.Enqueuer = dispatcher
	} else {
		utils.Sugar.Info("TELEGRAM_BOT_TOKEN not set, friend check-in alerts disabled")
	}

	svc := services.New(db, opts)

	// Retry object deletions that failed while a check-in was removed
	if store != nil {
		cleaner := services.NewCleaner(db, store, time.Duration(cfg.CleanupIntervalSec)*time.Second,
			time.Duration(cfg.StoreTimeoutMs)*time.Millisecond, time.Now)
		go cleaner.Run(bg)
	}

	guard := utils.NewRegistrationGuard(utils.GetRedis(), cfg)
	r := routes.SetupRouter(db, svc, guard)

	stop := func(ctx context.Context) {
		defer cancel()
		if dispatcher == nil {
			return
		}
		if err := dispatcher.Stop(ctx); err != nil {
			utils.Logger.Warn("notification queue not drained", zap.Error(err))
		}
	}

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r, stop); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
