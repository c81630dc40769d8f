package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("STOCKFISH_PATH", "/usr/bin/stockfish")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultSkill != 5 || cfg.MaxGamesPerUser != 5 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MoveTime != 800*time.Millisecond || cfg.StatsInterval != 30*time.Second {
		t.Fatalf("unexpected timing defaults: %+v", cfg)
	}
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("STOCKFISH_PATH", "/usr/bin/stockfish")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without BOT_TOKEN")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DEFAULT_SKILL_LEVEL", "12")
	t.Setenv("AI_MOVE_TIME_MS", "1500")
	t.Setenv("STATS_INTERVAL", "10s")
	t.Setenv("MAX_GAMES_PER_USER", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultSkill != 12 || cfg.MoveTime != 1500*time.Millisecond {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.StatsInterval != 10*time.Second || cfg.MaxGamesPerUser != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsBadSkill(t *testing.T) {
	setRequired(t)
	t.Setenv("DEFAULT_SKILL_LEVEL", "40")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for out-of-range skill")
	}
}
