// Package config reads the bot configuration from the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	BotToken string

	DatabaseURL string
	RedisURL    string

	StockfishPath   string
	DefaultSkill    int
	MoveTime        time.Duration
	AnalysisDepth   int
	MaxGamesPerUser int

	MonitorAddr   string
	AdminToken    string
	StatsInterval time.Duration
	EventBuffer   int

	MessageOverrideDir string
}

// Load reads the environment. BOT_TOKEN and STOCKFISH_PATH are required;
// everything else has a default or is optional.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		DefaultSkill:    5,
		MoveTime:        800 * time.Millisecond,
		AnalysisDepth:   15,
		MaxGamesPerUser: 5,
		MonitorAddr:     ":8090",
		StatsInterval:   30 * time.Second,
		EventBuffer:     64,
	}

	cfg.BotToken = strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if cfg.BotToken == "" {
		return nil, errors.New("BOT_TOKEN is required")
	}
	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	if cfg.StockfishPath == "" {
		return nil, errors.New("STOCKFISH_PATH is required")
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.AdminToken = strings.TrimSpace(os.Getenv("ADMIN_TOKEN"))
	cfg.MessageOverrideDir = strings.TrimSpace(os.Getenv("MESSAGE_DIR"))

	if v := strings.TrimSpace(os.Getenv("MONITOR_ADDR")); v != "" {
		cfg.MonitorAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_SKILL_LEVEL")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 20 {
			return nil, errors.New("DEFAULT_SKILL_LEVEL must be 1..20")
		}
		cfg.DefaultSkill = n
	}
	if v := strings.TrimSpace(os.Getenv("AI_MOVE_TIME_MS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, errors.New("AI_MOVE_TIME_MS must be a positive integer")
		}
		cfg.MoveTime = time.Duration(n) * time.Millisecond
	}
	if v := strings.TrimSpace(os.Getenv("ANALYSIS_DEPTH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AnalysisDepth = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_GAMES_PER_USER")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxGamesPerUser = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("STATS_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, errors.New("STATS_INTERVAL must be a positive duration")
		}
		cfg.StatsInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("EVENT_BUFFER")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EventBuffer = n
		}
	}
	return cfg, nil
}
