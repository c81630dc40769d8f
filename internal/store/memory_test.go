package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mitsukisegondconpte/Supetelebot/internal/domain"
)

func seedUser(t *testing.T, s *MemoryStore, telegramID int64) domain.User {
	t.Helper()
	u, err := s.UpsertUser(context.Background(), domain.User{
		TelegramID: telegramID,
		Username:   "marc",
		FirstName:  "Marc",
	})
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	return u
}

func seedGame(t *testing.T, s *MemoryStore, userID int64) domain.Game {
	t.Helper()
	g, err := s.CreateGame(context.Background(), domain.Game{
		UserID:         userID,
		BoardFEN:       "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
		Status:         domain.GameActive,
		SkillLevel:     5,
		MoveTimeMillis: 800,
	})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	return g
}

func TestUpsertUserKeepsIdentity(t *testing.T) {
	s := NewMemoryStore()
	first := seedUser(t, s, 42)

	second, err := s.UpsertUser(context.Background(), domain.User{
		TelegramID: 42,
		Username:   "marc_renamed",
	})
	if err != nil {
		t.Fatalf("UpsertUser again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("upsert created a new identity: %d vs %d", second.ID, first.ID)
	}
	if second.Username != "marc_renamed" {
		t.Fatalf("profile not refreshed: %q", second.Username)
	}
}

func TestSetUserBlocked(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, 42)

	if err := s.SetUserBlocked(context.Background(), 42, true); err != nil {
		t.Fatalf("SetUserBlocked: %v", err)
	}
	u, err := s.GetUserByTelegramID(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetUserByTelegramID: %v", err)
	}
	if !u.Blocked {
		t.Fatal("user not blocked")
	}
	if err := s.SetUserBlocked(context.Background(), 999, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestApplyMovesUpdatesGameAtomically(t *testing.T) {
	s := NewMemoryStore()
	u := seedUser(t, s, 42)
	g := seedGame(t, s, u.ID)

	pair := []domain.Move{
		{Seq: 1, UCI: "e2e4", SAN: "e4", Actor: domain.ActorUser},
		{Seq: 2, UCI: "e7e5", SAN: "e5", Actor: domain.ActorEngine},
	}
	newFEN := "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq e6 0 2"
	err := s.ApplyMoves(context.Background(), g.ID, pair, newFEN, domain.GameActive, domain.ResultNone, time.Time{})
	if err != nil {
		t.Fatalf("ApplyMoves: %v", err)
	}

	got, err := s.GetGame(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if got.BoardFEN != newFEN {
		t.Fatalf("board not updated: %q", got.BoardFEN)
	}
	if got.MoveCount != 2 {
		t.Fatalf("move count = %d, want 2", got.MoveCount)
	}
	moves, err := s.ListMoves(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("ListMoves: %v", err)
	}
	if len(moves) != 2 || moves[0].Seq != 1 || moves[1].Actor != domain.ActorEngine {
		t.Fatalf("unexpected move log: %+v", moves)
	}
	if moves[0].GameID != g.ID || moves[0].ID == 0 {
		t.Fatalf("move identity not assigned: %+v", moves[0])
	}
}

func TestApplyMovesRejectsFinishedGame(t *testing.T) {
	s := NewMemoryStore()
	u := seedUser(t, s, 42)
	g := seedGame(t, s, u.ID)

	err := s.ApplyMoves(context.Background(), g.ID, nil, g.BoardFEN,
		domain.GameAbandoned, domain.ResultAbandoned, time.Now().UTC())
	if err != nil {
		t.Fatalf("abandon game: %v", err)
	}
	err = s.ApplyMoves(context.Background(), g.ID, nil, g.BoardFEN,
		domain.GameAbandoned, domain.ResultAbandoned, time.Now().UTC())
	if !errors.Is(err, ErrNotActive) {
		t.Fatalf("got %v, want ErrNotActive", err)
	}
}

func TestActiveGamePicksNewest(t *testing.T) {
	s := NewMemoryStore()
	u := seedUser(t, s, 42)
	older := seedGame(t, s, u.ID)
	newer := seedGame(t, s, u.ID)

	got, err := s.ActiveGame(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("ActiveGame: %v", err)
	}
	if got.ID != newer.ID {
		t.Fatalf("got game %d, want newest %d (older %d)", got.ID, newer.ID, older.ID)
	}

	n, err := s.CountActiveGames(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("CountActiveGames: %v", err)
	}
	if n != 2 {
		t.Fatalf("active count = %d, want 2", n)
	}
}

func TestStatsSnapshot(t *testing.T) {
	s := NewMemoryStore()
	u := seedUser(t, s, 42)
	g := seedGame(t, s, u.ID)
	seedGame(t, s, u.ID)

	err := s.ApplyMoves(context.Background(), g.ID,
		[]domain.Move{{Seq: 1, UCI: "f2f3", SAN: "f3", Actor: domain.ActorUser}},
		"rnbqkbnr/pppppppp/8/8/8/5P2/PPPPP1PP/RNBQKBNR b KQkq - 0 1",
		domain.GameFinished, domain.ResultBlackWins, time.Now().UTC())
	if err != nil {
		t.Fatalf("ApplyMoves: %v", err)
	}

	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalUsers != 1 || st.ActiveGames != 1 || st.FinishedGames != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.GamesToday != 2 || st.MovesToday != 1 {
		t.Fatalf("unexpected daily stats: %+v", st)
	}
}

func TestRecentActivitiesNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	u := seedUser(t, s, 42)
	for _, kind := range []string{"game_created", "move_played", "game_finished"} {
		err := s.RecordActivity(context.Background(), domain.ActivityRecord{
			UserID: u.ID, Kind: kind,
		})
		if err != nil {
			t.Fatalf("RecordActivity: %v", err)
		}
	}
	recs, err := s.RecentActivities(context.Background(), 2)
	if err != nil {
		t.Fatalf("RecentActivities: %v", err)
	}
	if len(recs) != 2 || recs[0].Kind != "game_finished" {
		t.Fatalf("unexpected order: %+v", recs)
	}
}

func TestCreateGameRefusesPastActiveCap(t *testing.T) {
	s := NewMemoryStore()
	s.SetMaxActiveGames(2)
	u := seedUser(t, s, 42)

	seedGame(t, s, u.ID)
	second := seedGame(t, s, u.ID)

	_, err := s.CreateGame(context.Background(), domain.Game{
		UserID: u.ID, BoardFEN: "startpos", Status: domain.GameActive,
	})
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("got %v, want ErrLimitExceeded", err)
	}

	// Finishing a game frees a slot.
	err = s.ApplyMoves(context.Background(), second.ID, nil, second.BoardFEN,
		domain.GameAbandoned, domain.ResultAbandoned, time.Now().UTC())
	if err != nil {
		t.Fatalf("ApplyMoves: %v", err)
	}
	if _, err := s.CreateGame(context.Background(), domain.Game{
		UserID: u.ID, BoardFEN: "startpos", Status: domain.GameActive,
	}); err != nil {
		t.Fatalf("CreateGame after freeing a slot: %v", err)
	}
}
