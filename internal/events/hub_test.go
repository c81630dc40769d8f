package events

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mitsukisegondconpte/Supetelebot/internal/domain"
	"github.com/mitsukisegondconpte/Supetelebot/internal/store"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := NewHub(4, zap.NewNop())
	defer h.Close()

	first, cancelFirst := h.Subscribe()
	defer cancelFirst()
	second, cancelSecond := h.Subscribe()
	defer cancelSecond()

	h.Publish(KindMovePlayed, map[string]any{"game_id": int64(1)})

	for _, ch := range []<-chan Event{first, second} {
		select {
		case evt := <-ch:
			if evt.Kind != KindMovePlayed {
				t.Fatalf("got kind %q", evt.Kind)
			}
			if evt.ID == "" || evt.At.IsZero() {
				t.Fatalf("event not stamped: %+v", evt)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(2, zap.NewNop())
	defer h.Close()

	ch, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish(KindSystemAlert, nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	if got := len(ch); got != 2 {
		t.Fatalf("buffered %d events, want 2", got)
	}
	if h.Dropped() != 8 {
		t.Fatalf("dropped %d events, want 8", h.Dropped())
	}
}

func TestCancelClosesChannel(t *testing.T) {
	h := NewHub(4, zap.NewNop())
	defer h.Close()

	ch, cancel := h.Subscribe()
	cancel()
	if _, open := <-ch; open {
		t.Fatal("channel still open after cancel")
	}
	// Publishing after cancel must not panic.
	h.Publish(KindUserActivity, nil)
}

func TestCloseShutsDownSubscribers(t *testing.T) {
	h := NewHub(4, zap.NewNop())
	ch, cancel := h.Subscribe()
	h.Close()
	if _, open := <-ch; open {
		t.Fatal("channel still open after hub close")
	}
	cancel()
	h.Publish(KindSystemAlert, nil)
}

func TestStatsBroadcasterPublishesSnapshots(t *testing.T) {
	h := NewHub(8, zap.NewNop())
	defer h.Close()
	ch, cancel := h.Subscribe()
	defer cancel()

	mem := store.NewMemoryStore()
	u, err := mem.UpsertUser(context.Background(), domain.User{TelegramID: 7})
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if _, err := mem.CreateGame(context.Background(), domain.Game{UserID: u.ID, Status: domain.GameActive}); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	b := NewStatsBroadcaster(h, mem, 10*time.Millisecond, zap.NewNop())
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go b.Run(ctx)

	select {
	case evt := <-ch:
		if evt.Kind != KindStatsUpdate {
			t.Fatalf("got kind %q", evt.Kind)
		}
		if evt.Payload["active_games"] != 1 {
			t.Fatalf("unexpected payload: %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no stats event published")
	}
}
