package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mitsukisegondconpte/Supetelebot/internal/domain"
)

// StatsSource is the read-only view the broadcaster polls. Reads go
// straight to storage so a stuck game can never stall the ticker.
type StatsSource interface {
	Stats(ctx context.Context) (domain.SystemStats, error)
}

// StatsBroadcaster publishes a stats_update event on a fixed interval.
type StatsBroadcaster struct {
	hub      *Hub
	source   StatsSource
	interval time.Duration
	logger   *zap.Logger
}

func NewStatsBroadcaster(hub *Hub, source StatsSource, interval time.Duration, logger *zap.Logger) *StatsBroadcaster {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsBroadcaster{hub: hub, source: source, interval: interval, logger: logger}
}

// Run blocks until ctx is done. A failed stats read is logged and the
// tick skipped.
func (b *StatsBroadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

func (b *StatsBroadcaster) tick(ctx context.Context) {
	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := b.source.Stats(readCtx)
	if err != nil {
		b.logger.Warn("stats read failed, skipping tick", zap.Error(err))
		return
	}
	b.hub.Publish(KindStatsUpdate, map[string]any{
		"total_users":    st.TotalUsers,
		"active_games":   st.ActiveGames,
		"finished_games": st.FinishedGames,
		"games_today":    st.GamesToday,
		"moves_today":    st.MovesToday,
		"generated_at":   st.GeneratedAt,
	})
}
