package extractor

import (
	"testing"
	"time"

	"github.com/dylantcon/countertrak-ingest/internal/models"
)

func intPtr(i int) *int { return &i }

func TestBaseMatchIDFormat(t *testing.T) {
	got := BaseMatchID("de_dust2", "competitive", "76561198000000001")
	want := "de_dust2_competitive_76561198000000001"
	if got != want {
		t.Fatalf("BaseMatchID() = %q, want %q", got, want)
	}
}

func TestProcessAdjustsRoundFromZeroIndexed(t *testing.T) {
	e := New()
	snap := &models.Snapshot{
		Auth:     &models.AuthSection{Token: "T"},
		Provider: &models.ProviderSection{SteamID: "76561198000000001"},
		Map: &models.MapSection{
			Name: "de_dust2", Mode: "competitive", Phase: "live", Round: 0,
			TeamCT: &models.ScoreSection{Score: 0}, TeamT: &models.ScoreSection{Score: 0},
		},
		Round: &models.RoundSection{Phase: "live"},
		Player: &models.PlayerSection{
			SteamID: "76561198000000001", State: &models.PlayerStateSection{Health: 100},
		},
	}

	result := e.Process(snap, time.Unix(1700000000, 0))

	if result.MatchState.Round != 1 {
		t.Fatalf("MatchState.Round = %d, want 1", result.MatchState.Round)
	}
	if result.RoundState.RoundNumber != 1 {
		t.Fatalf("RoundState.RoundNumber = %d, want 1", result.RoundState.RoundNumber)
	}
}

func TestDeriveWinConditionBombExploded(t *testing.T) {
	got := deriveWinCondition("over", "exploded", models.TeamT)
	if got != models.WinBombExploded {
		t.Fatalf("deriveWinCondition() = %q, want %q", got, models.WinBombExploded)
	}
}

func TestDeriveWinConditionElimination(t *testing.T) {
	got := deriveWinCondition("over", "", models.TeamCT)
	if got != models.WinElimination {
		t.Fatalf("deriveWinCondition() = %q, want %q", got, models.WinElimination)
	}
}

func TestDeriveWinConditionNoWinnerYieldsEmpty(t *testing.T) {
	got := deriveWinCondition("live", "", "")
	if got != "" {
		t.Fatalf("deriveWinCondition() = %q, want empty", got)
	}
}

func TestPlayerKillEventEmittedOnRoundKillsIncrease(t *testing.T) {
	e := New()
	base := func(kills int) *models.Snapshot {
		ammo := intPtr(30)
		return &models.Snapshot{
			Auth:     &models.AuthSection{Token: "T"},
			Provider: &models.ProviderSection{SteamID: "76561198000000001"},
			Map:      &models.MapSection{Name: "de_dust2", Mode: "competitive", Phase: "live", Round: 0},
			Round:    &models.RoundSection{Phase: "live"},
			Player: &models.PlayerSection{
				SteamID: "76561198000000001",
				State:   &models.PlayerStateSection{RoundKills: kills},
				Weapons: map[string]models.WeaponWire{
					"weapon_0": {Name: "weapon_ak47", State: "active", AmmoClip: ammo},
				},
			},
		}
	}

	e.Process(base(0), time.Unix(1700000000, 0))
	result := e.Process(base(1), time.Unix(1700000001, 0))

	found := false
	for _, ev := range result.Changes.SignificantEvents {
		if ev.Kind == models.EventPlayerKill {
			found = true
			if ev.Weapon != "weapon_ak47" {
				t.Fatalf("kill event weapon = %q, want weapon_ak47", ev.Weapon)
			}
			if ev.Delta != 1 {
				t.Fatalf("kill event delta = %d, want 1", ev.Delta)
			}
		}
	}
	if !found {
		t.Fatal("expected a player_kill event")
	}
}

func TestRoundOverStashesHistoryAndShouldPersistRound(t *testing.T) {
	e := New()
	live := &models.Snapshot{
		Auth:     &models.AuthSection{Token: "T"},
		Provider: &models.ProviderSection{SteamID: "S"},
		Map:      &models.MapSection{Name: "de_mirage", Mode: "competitive", Phase: "live", Round: 0},
		Round:    &models.RoundSection{Phase: "live"},
	}
	over := &models.Snapshot{
		Auth:     &models.AuthSection{Token: "T"},
		Provider: &models.ProviderSection{SteamID: "S"},
		Map:      &models.MapSection{Name: "de_mirage", Mode: "competitive", Phase: "live", Round: 0},
		Round:    &models.RoundSection{Phase: "over", WinTeam: "CT", Bomb: "defused"},
	}

	e.Process(live, time.Unix(1700000000, 0))
	e.Process(over, time.Unix(1700000001, 0))

	winner, ok := e.RoundWinner(1)
	if !ok || winner != models.TeamCT {
		t.Fatalf("RoundWinner(1) = (%q, %v), want (CT, true)", winner, ok)
	}
	cond, ok := e.RoundWinCondition(1)
	if !ok || cond != models.WinBombDefused {
		t.Fatalf("RoundWinCondition(1) = (%q, %v), want (bomb_defused, true)", cond, ok)
	}

	if !e.ShouldPersistRound(1) {
		t.Fatal("expected ShouldPersistRound(1) to be true the first time")
	}
	if e.ShouldPersistRound(1) {
		t.Fatal("expected ShouldPersistRound(1) to be false once already marked processed")
	}
}

func TestEdgeMenuPayloadYieldsNilSubStates(t *testing.T) {
	e := New()
	menu := &models.Snapshot{
		Auth:   &models.AuthSection{Token: "T"},
		Player: &models.PlayerSection{Name: "A", Activity: "menu"},
	}
	if !menu.IsMenuPayload() {
		t.Fatal("expected IsMenuPayload() to be true")
	}
	result := e.Process(menu, time.Unix(1700000000, 0))
	if result.MatchState != nil {
		t.Fatal("expected nil MatchState for a menu payload lacking map/provider")
	}
}
