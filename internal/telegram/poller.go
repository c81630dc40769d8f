package telegram

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// UpdateSource abstracts getUpdates so the poller can be tested without
// a network.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error)
}

// Poller drains updates in a long-poll loop and hands each to the
// dispatcher on its own goroutine, so a slow engine call never delays
// other users.
type Poller struct {
	source     UpdateSource
	dispatcher *Dispatcher
	logger     *zap.Logger
	timeoutSec int
}

func NewPoller(source UpdateSource, dispatcher *Dispatcher, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{source: source, dispatcher: dispatcher, logger: logger, timeoutSec: 30}
}

// Run blocks until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}
		updates, err := p.source.GetUpdates(ctx, offset, p.timeoutSec)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("getUpdates failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			go p.dispatcher.Handle(ctx, upd)
		}
	}
}
