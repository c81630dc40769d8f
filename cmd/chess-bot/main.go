package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mitsukisegondconpte/Supetelebot/internal/cache"
	appcfg "github.com/mitsukisegondconpte/Supetelebot/internal/config"
	"github.com/mitsukisegondconpte/Supetelebot/internal/engine"
	"github.com/mitsukisegondconpte/Supetelebot/internal/events"
	"github.com/mitsukisegondconpte/Supetelebot/internal/ledger"
	"github.com/mitsukisegondconpte/Supetelebot/internal/monitor"
	"github.com/mitsukisegondconpte/Supetelebot/internal/msgcat"
	"github.com/mitsukisegondconpte/Supetelebot/internal/obslog"
	"github.com/mitsukisegondconpte/Supetelebot/internal/session"
	"github.com/mitsukisegondconpte/Supetelebot/internal/store"
	"github.com/mitsukisegondconpte/Supetelebot/internal/telegram"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store.Store
	var closeStore func() error
	if cfg.DatabaseURL != "" {
		initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		pg, err := store.NewPostgresStore(initCtx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			logger.Fatal("postgres init error", zap.Error(err))
		}
		pg.SetMaxActiveGames(cfg.MaxGamesPerUser)
		st = pg
		closeStore = pg.Close
		logger.Info("store ready", zap.String("backend", "postgres"))
	} else {
		mem := store.NewMemoryStore()
		mem.SetMaxActiveGames(cfg.MaxGamesPerUser)
		st = mem
		closeStore = func() error { return nil }
		logger.Warn("DATABASE_URL not set, games will not survive a restart")
	}

	var statCache *cache.Cache
	if cfg.RedisURL != "" {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		statCache, err = cache.NewFromURL(initCtx, cfg.RedisURL)
		cancel()
		if err != nil {
			logger.Fatal("redis init error", zap.Error(err))
		}
		defer statCache.Close()
	}

	oracle, err := engine.NewUCI(cfg.StockfishPath, logger)
	if err != nil {
		logger.Fatal("engine init error", zap.Error(err))
	}

	hub := events.NewHub(cfg.EventBuffer, logger)
	recorder := ledger.NewRecorder(st, 256, logger)

	sessions := session.NewManager(st, oracle, hub, recorder, logger, session.Config{
		MaxActiveGamesPerUser: cfg.MaxGamesPerUser,
		DefaultSkillLevel:     cfg.DefaultSkill,
		DefaultMoveTime:       cfg.MoveTime,
		AnalysisDepth:         cfg.AnalysisDepth,
	})

	if statCache != nil {
		sessions.AttachCache(statCache)
	}

	catalog, err := msgcat.New(cfg.MessageOverrideDir)
	if err != nil {
		logger.Fatal("message catalog error", zap.Error(err))
	}

	bot := telegram.NewClient(cfg.BotToken)
	dispatcher := telegram.NewDispatcher(sessions, catalog, bot, telegram.TextBoard{}, logger)
	poller := telegram.NewPoller(bot, dispatcher, logger)

	srv := monitor.NewServer(cfg.MonitorAddr, cfg.AdminToken, hub, st, statCache, logger)
	broadcaster := events.NewStatsBroadcaster(hub, st, cfg.StatsInterval, logger)

	go broadcaster.Run(ctx)
	go poller.Run(ctx)

	logger.Info("bot up",
		zap.String("monitor_addr", cfg.MonitorAddr),
		zap.Int("default_skill", cfg.DefaultSkill))

	if err := srv.Run(ctx); err != nil {
		logger.Error("monitor server stopped", zap.Error(err))
	}

	// ctx is cancelled here; the poller and broadcaster are winding down.
	recorder.Close()
	hub.Close()
	if err := closeStore(); err != nil {
		logger.Warn("store close", zap.Error(err))
	}
	logger.Info("bot down")
}
