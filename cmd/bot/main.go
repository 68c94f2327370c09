package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lrstanley/go-ytdlp"
	"go.uber.org/zap"

	"github.com/MelodifyLabs/melody-call-service/internal/cache"
	"github.com/MelodifyLabs/melody-call-service/internal/calls"
	"github.com/MelodifyLabs/melody-call-service/internal/config"
	"github.com/MelodifyLabs/melody-call-service/internal/core/join"
	"github.com/MelodifyLabs/melody-call-service/internal/core/playback"
	"github.com/MelodifyLabs/melody-call-service/internal/core/pool"
	"github.com/MelodifyLabs/melody-call-service/internal/core/queue"
	"github.com/MelodifyLabs/melody-call-service/internal/jobs"
	"github.com/MelodifyLabs/melody-call-service/internal/platform"
	"github.com/MelodifyLabs/melody-call-service/internal/repository"
	"github.com/MelodifyLabs/melody-call-service/internal/telegram"
	"github.com/MelodifyLabs/melody-call-service/pkg/httpclient"
	"github.com/MelodifyLabs/melody-call-service/pkg/logger"
)

const assignmentCacheTTL = 10 * time.Minute

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg := config.Load()
	if _, err := logger.Init(cfg.Env); err != nil {
		logger.Base().Error("Failed to initialize zap logger, falling back to std log")
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Base().Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Fetch the yt-dlp binary if the host does not provide one.
	ytdlp.MustInstall(ctx, nil)

	db, err := repository.NewDatabaseConnection(cfg.PostgresDSN)
	if err != nil {
		logger.Base().Fatal("Failed to connect to postgres", zap.Error(err))
	}
	if err := repository.AutoMigrate(db); err != nil {
		logger.Base().Fatal("Failed to run migrations", zap.Error(err))
	}
	settings := repository.NewChatSettingsRepository(db)
	users := repository.NewUserRepository(db)

	redisCache, err := cache.NewRedisCache(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Base().Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer redisCache.Close()

	bridge := calls.NewBridge(cfg.BridgeURL)
	if err := bridge.Connect(ctx); err != nil {
		logger.Base().Fatal("Failed to connect to call bridge", zap.Error(err))
	}
	defer bridge.Close()

	assistants, err := pool.New(cfg.SessionStrings, settings, cache.NewAssignmentCache(assignmentCacheTTL))
	if err != nil {
		logger.Base().Fatal("Failed to build assistant pool", zap.Error(err))
	}
	for _, a := range assistants.Assistants() {
		if err := bridge.RegisterSession(ctx, a.ID, a.SessionString); err != nil {
			logger.Base().Fatal("Failed to register assistant session",
				zap.String("assistant", a.ID), zap.Error(err))
		}
	}

	httpClient := httpclient.New(cfg.DownloadsDir, httpclient.WithAPIAuth(cfg.APIBaseURL, cfg.APIKey))
	bot := telegram.NewClient(cfg.BotAPIBaseURL, cfg.BotToken, httpClient)
	joiner := join.NewManager(bot, redisCache, bridge)

	tgFiles := platform.NewTelegramFiles(bot, cfg.DownloadsDir, cfg.MaxFileSize)
	registry := platform.NewRegistry(cfg.DefaultService,
		platform.NewYouTube(platform.YouTubeConfig{
			DownloadsDir: cfg.DownloadsDir,
			CookiesDir:   cfg.CookiesDir,
			ProxyURL:     cfg.ProxyURL,
			APIBaseURL:   cfg.APIBaseURL,
			APIKey:       cfg.APIKey,
		}, httpClient, tgFiles),
		platform.NewJioSaavn(cfg.DownloadsDir, httpClient),
		platform.NewHostedAPI(cfg.APIBaseURL, cfg.DownloadsDir, httpClient),
		tgFiles,
	)

	store := queue.NewStore()
	engine := playback.NewEngine(store, assistants, joiner, registry, bridge, bot, users, cfg.MaxQueueSize)
	reaper := jobs.NewReaper(jobs.Config{
		IdleSweepInterval: cfg.IdleSweepInterval,
		IdleGracePeriod:   cfg.IdleGracePeriod,
		MembershipSweepAt: cfg.MembershipSweepAt,
		AutoLeave:         cfg.AutoLeave,
	}, store, engine, bridge, assistants, settings, bot)

	go engine.Run(ctx)
	go reaper.Run(ctx)

	logger.L().Infow("melody call service started",
		"assistants", len(assistants.Assistants()),
		"default_service", cfg.DefaultService)

	<-ctx.Done()
	logger.L().Infow("shutting down")
}
