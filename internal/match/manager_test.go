package match

import (
	"context"
	"testing"
	"time"

	"github.com/dylantcon/countertrak-ingest/internal/models"
)

func intPtr(i int) *int { return &i }

func scorePtr(n int) *models.ScoreSection { return &models.ScoreSection{Score: n} }

func liveSnapshot(round int, ctScore, tScore int, roundPhase, winTeam, bomb string, steamID string, kills int) *models.Snapshot {
	return &models.Snapshot{
		Auth:     &models.AuthSection{Token: "T"},
		Provider: &models.ProviderSection{SteamID: steamID},
		Map: &models.MapSection{
			Name: "de_dust2", Mode: "competitive", Phase: "live", Round: round,
			TeamCT: scorePtr(ctScore), TeamT: scorePtr(tScore),
		},
		Round: &models.RoundSection{Phase: roundPhase, WinTeam: winTeam, Bomb: bomb},
		Player: &models.PlayerSection{
			SteamID: steamID, Name: "A", Team: "CT",
			State:      &models.PlayerStateSection{Health: 100, Money: 800, EquipValue: 200, RoundKills: kills},
			MatchStats: &models.PlayerStatsSection{Kills: kills},
			Weapons: map[string]models.WeaponWire{
				"weapon_0": {Name: "weapon_ak47", State: "active", AmmoClip: intPtr(30)},
			},
		},
	}
}

func TestS1MenuNeverCreatesMatch(t *testing.T) {
	ms := newMemStore()
	mgr := NewManager(ms, nil, 600*time.Second, nil)

	snap := &models.Snapshot{
		Auth:   &models.AuthSection{Token: "T"},
		Player: &models.PlayerSection{Name: "A", Activity: "menu"},
	}
	ok := mgr.Route(context.Background(), snap)
	if ok {
		t.Fatal("expected Route to return false for a menu payload")
	}
	if ms.createMatchCalls != 0 {
		t.Fatalf("expected 0 create_match calls, got %d", ms.createMatchCalls)
	}
	if mgr.ActiveMatchCount() != 0 {
		t.Fatalf("expected 0 active matches, got %d", mgr.ActiveMatchCount())
	}
}

func TestS2FirstLiveSnapshotCreatesMatchRoundAndPlayerState(t *testing.T) {
	ms := newMemStore()
	ms.accounts["7656...A"] = "TOKENA"
	mgr := NewManager(ms, nil, 600*time.Second, nil)

	snap := liveSnapshot(0, 0, 0, "live", "", "", "7656...A", 0)
	if !mgr.Route(context.Background(), snap) {
		t.Fatal("expected Route to return true")
	}

	if ms.createMatchCalls != 1 {
		t.Fatalf("expected exactly 1 create_match call, got %d", ms.createMatchCalls)
	}
	if mgr.ActiveMatchCount() != 1 {
		t.Fatalf("expected 1 active match, got %d", mgr.ActiveMatchCount())
	}

	summaries := mgr.MatchSummaries()
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	if summaries[0].Round != 1 {
		t.Fatalf("expected round 1 (wire 0 + 1), got %d", summaries[0].Round)
	}

	stat := ms.playerMatchStats[summaries[0].FullMatchID+"|7656...A"]
	if stat == nil {
		t.Fatal("expected a persisted PlayerMatchStat row")
	}
}

func TestS3RoundEndThenNewRound(t *testing.T) {
	ms := newMemStore()
	ms.accounts["7656...A"] = "TOKENA"
	mgr := NewManager(ms, nil, 600*time.Second, nil)
	ctx := context.Background()

	mgr.Route(ctx, liveSnapshot(0, 0, 0, "live", "", "", "7656...A", 0))
	mgr.Route(ctx, liveSnapshot(0, 0, 0, "over", "CT", "defused", "7656...A", 0))
	mgr.Route(ctx, liveSnapshot(1, 1, 0, "freezetime", "", "", "7656...A", 0))

	summaries := mgr.MatchSummaries()
	if len(summaries) != 1 {
		t.Fatalf("expected 1 active match, got %d", len(summaries))
	}
	matchID := summaries[0].FullMatchID

	if ms.roundCount(matchID) != 2 {
		t.Fatalf("expected 2 rounds persisted, got %d", ms.roundCount(matchID))
	}
	r1 := ms.round(matchID, 1)
	if r1 == nil || r1.winner != models.TeamCT || r1.condition != models.WinBombDefused {
		t.Fatalf("round 1 = %+v, want winner=CT condition=bomb_defused", r1)
	}
	r2 := ms.round(matchID, 2)
	if r2 == nil || r2.phase != "freezetime" {
		t.Fatalf("round 2 = %+v, want phase=freezetime", r2)
	}
}

func TestS4KillAttributionPersistsWeaponRow(t *testing.T) {
	ms := newMemStore()
	ms.accounts["7656...A"] = "TOKENA"
	mgr := NewManager(ms, nil, 600*time.Second, nil)
	ctx := context.Background()

	mgr.Route(ctx, liveSnapshot(0, 0, 0, "live", "", "", "7656...A", 0))
	mgr.Route(ctx, liveSnapshot(0, 0, 0, "live", "", "", "7656...A", 1))
	// round transition flushes the buffered player/weapon states.
	mgr.Route(ctx, liveSnapshot(1, 0, 0, "freezetime", "", "", "7656...A", 1))

	summaries := mgr.MatchSummaries()
	matchID := summaries[0].FullMatchID

	found := false
	for key := range ms.playerWeapons {
		if key != "" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected at least one PlayerWeapon row persisted")
	}
	if len(ms.playerRoundStates) == 0 {
		t.Fatal("expected at least one PlayerRoundState row persisted")
	}
	_ = matchID
}

func TestS5GameoverClosesMatch(t *testing.T) {
	ms := newMemStore()
	ms.accounts["7656...A"] = "TOKENA"
	mgr := NewManager(ms, nil, 600*time.Second, nil)
	ctx := context.Background()

	mgr.Route(ctx, liveSnapshot(0, 0, 0, "live", "", "", "7656...A", 0))
	summaries := mgr.MatchSummaries()
	matchID := summaries[0].FullMatchID

	gameover := liveSnapshot(0, 13, 7, "live", "", "", "7656...A", 0)
	gameover.Map.Phase = "gameover"
	mgr.Route(ctx, gameover)

	if !ms.ended[matchID] {
		t.Fatal("expected match to be marked ended")
	}
	m := ms.matches[matchID]
	if m.TeamCTScore != 13 || m.TeamTScore != 7 {
		t.Fatalf("expected final scores 13/7, got %d/%d", m.TeamCTScore, m.TeamTScore)
	}

	roundsBefore := ms.roundCount(matchID)
	mgr.Route(ctx, liveSnapshot(0, 13, 7, "gameover", "", "", "7656...A", 0))
	if ms.roundCount(matchID) != roundsBefore {
		t.Fatal("expected no new rounds after gameover")
	}
}

func TestS6UnknownAccountSkipsPlayerPersistence(t *testing.T) {
	ms := newMemStore() // no accounts registered
	mgr := NewManager(ms, nil, 600*time.Second, nil)
	ctx := context.Background()

	mgr.Route(ctx, liveSnapshot(0, 0, 0, "live", "", "", "7656...UNKNOWN", 0))

	summaries := mgr.MatchSummaries()
	if len(summaries) != 1 {
		t.Fatalf("expected match/round state to still progress, got %d summaries", len(summaries))
	}
	if len(ms.playerMatchStats) != 0 {
		t.Fatal("expected no PlayerMatchStat row for an unknown account")
	}
}

func TestSpectatorSnapshotNeverWritesPlayerRows(t *testing.T) {
	ms := newMemStore()
	ms.accounts["OWNER"] = "TOKENOWNER"
	mgr := NewManager(ms, nil, 600*time.Second, nil)
	ctx := context.Background()

	snap := liveSnapshot(0, 0, 0, "live", "", "", "OWNER", 0)
	snap.Player.SteamID = "TEAMMATE" // spectating a teammate, not self
	mgr.Route(ctx, snap)

	if len(ms.playerMatchStats) != 0 {
		t.Fatal("expected no player stat rows while spectating a teammate")
	}
	if mgr.ActiveMatchCount() != 1 {
		t.Fatal("expected match state to still be tracked")
	}
}
