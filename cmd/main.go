package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"

	"linkhub/cmd/buildCFG"
	"linkhub/internal/analytics"
	"linkhub/internal/api"
	"linkhub/internal/cache"
	"linkhub/internal/clicks"
	"linkhub/internal/geoip"
	"linkhub/internal/queue"
	"linkhub/internal/repo"
	"linkhub/internal/service"
)

func main() {
	zlog.Init()
	log := zlog.Logger

	cfg := config.New()
	if err := cfg.Load("config.yaml"); err != nil {
		log.Fatal().Msgf("failed to load configuration: %v", err)
	}
	serverCfg := buildCFG.BuildServerConfig(cfg, &log)
	port := serverCfg.Port

	masterDSN, slaveDSNs, poolOptions, err := buildCFG.BuildDBConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build DB config")
	}
	db, err := dbpg.New(masterDSN, slaveDSNs, poolOptions)
	if err != nil {
		log.Fatal().Msgf("failed to connect to DB: %v", err)
	}
	if err := db.Master.Ping(); err != nil {
		log.Fatal().Msgf("DB ping failed: %v", err)
	}
	log.Info().Msg("Database connected successfully")

	redisCfg, err := buildCFG.BuildRedisConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load Redis config")
	}
	rdb := redis.New(redisCfg.Addr, redisCfg.Password, redisCfg.DB)
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Msgf("failed to ping Redis: %v", err)
	}
	log.Info().Msg("Redis connected successfully")

	repository, err := repo.NewRepository(db, &log)
	if err != nil {
		log.Fatal().Msgf("failed to initialize repository: %v", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal().Err(err).Msg("cannot get working directory")
	}
	migrationPath := filepath.Join(cwd, "migrations/postgres")
	if err := repository.MigrateUp(migrationPath); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	cacheCfg, err := buildCFG.BuildCacheConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load cache config")
	}
	clicksCfg, err := buildCFG.BuildClicksConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load clicks config")
	}
	mode, err := clicks.ParseMode(clicksCfg.Mode)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse click accounting mode")
	}
	analyticsCfg, err := buildCFG.BuildAnalyticsConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load analytics config")
	}
	geoipCfg := buildCFG.BuildGeoIPConfig(cfg)

	linkCache := cache.NewLinkCache(rdb, cacheCfg.LinkTTL, &log)
	buffer := clicks.NewRedisBuffer(rdb, clicksCfg.BufferTTL)
	jobQueue := queue.New(rdb, &log)
	geo := geoip.Open(geoipCfg.DatabasePath, &log)
	defer geo.Close()
	mirror := analytics.NewMirror(analyticsCfg.Endpoint, analyticsCfg.Timeout, analyticsCfg.Retry, &log)

	accountant := clicks.NewAccountant(mode, repository, jobQueue, buffer, mirror, clicksCfg.FlushThreshold, &log)
	processor := clicks.NewProcessor(buffer, repository, geo, jobQueue, clicksCfg.BatchSize, clicksCfg.FlushDelay, &log)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	go jobQueue.Worker(workerCtx, clicks.LaneClicks, processor.HandleClick, clicksCfg.Retry)
	go jobQueue.Worker(workerCtx, clicks.LaneFlush, processor.HandleFlush, clicksCfg.Retry)

	var live service.LiveReader
	if mode == clicks.ModeBatched {
		live = buffer
	}
	serviceInstance := service.NewService(repository, linkCache, accountant, live, &log)
	app := api.NewRouters(&api.Routers{Service: serviceInstance})

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info().Msgf("Starting server on %s", port)
		if err := app.Run(":" + port); err != nil {
			serverErrChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		log.Info().Msgf("Received signal %s. Initiating shutdown...", sig)
	case err := <-serverErrChan:
		log.Error().Msgf("Server error: %v", err)
	}

	stopWorkers()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if closer, ok := interface{}(app).(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(shutdownCtx); err != nil {
			log.Error().Msgf("Error shutting down server: %v", err)
		}
	}

	log.Info().Msg("Shutdown complete")
}
