// Package extractor implements the payload extractor (C3): it parses one
// GSI snapshot into typed sub-states, diffs them against the previously
// parsed snapshot, and emits a list of significant events. It is the sole
// place in the system that tolerates the shape variance of the wire
// payload (spec.md §9 design notes).
package extractor

import (
	"fmt"
	"time"

	"github.com/dylantcon/countertrak-ingest/internal/models"
)

// Extractor holds the state needed to diff one snapshot against the last.
// It is not safe for concurrent use; callers (the match processor) already
// serialize access per match.
type Extractor struct {
	matchState   *models.MatchState
	playerStates map[string]models.PlayerState
	roundState   *models.RoundState
	weaponStates map[string]models.WeaponState

	roundHistory   map[int]models.RoundState
	processedRound map[int]bool
}

// New returns an Extractor with empty prior state.
func New() *Extractor {
	return &Extractor{
		playerStates:   make(map[string]models.PlayerState),
		weaponStates:   make(map[string]models.WeaponState),
		roundHistory:   make(map[int]models.RoundState),
		processedRound: make(map[int]bool),
	}
}

// Process parses one snapshot, diffs it against the prior snapshot, and
// updates internal state. now is injected so callers (and tests) control
// the single server-side timestamp used for the whole parse (spec.md
// §4.3 step 1 — the wire payload's own timestamp is never used).
func (e *Extractor) Process(snap *models.Snapshot, now time.Time) models.ProcessResult {
	ts := now.UTC()

	match := e.extractMatchState(snap, ts)
	round := e.extractRoundState(snap, ts)
	player := e.extractPlayerState(snap, ts)
	weapons := e.extractWeaponStates(snap, ts)

	changes := e.detectChanges(match, round, player, weapons, ts)
	e.updateInternalState(match, round, player, weapons)

	return models.ProcessResult{
		Timestamp:    ts,
		MatchState:   match,
		RoundState:   round,
		PlayerState:  player,
		WeaponStates: weapons,
		Changes:      changes,
	}
}

func (e *Extractor) extractMatchState(snap *models.Snapshot, ts time.Time) *models.MatchState {
	if snap.Map == nil || snap.Provider == nil || snap.Provider.SteamID == "" {
		return nil
	}
	mode := snap.Map.Mode
	if mode == "" {
		mode = "casual"
	}
	mapName := snap.Map.Name
	if mapName == "" {
		mapName = "unknown_map"
	}
	phase := snap.Map.Phase
	if phase == "" {
		phase = "unknown"
	}
	var ctScore, tScore int
	if snap.Map.TeamCT != nil {
		ctScore = snap.Map.TeamCT.Score
	}
	if snap.Map.TeamT != nil {
		tScore = snap.Map.TeamT.Score
	}
	return &models.MatchState{
		MatchID:     BaseMatchID(mapName, mode, snap.Provider.SteamID),
		Mode:        mode,
		MapName:     mapName,
		Phase:       phase,
		Round:       snap.Map.Round + 1, // wire is 0-indexed, store is 1-indexed (§4.3 step 4)
		TeamCTScore: ctScore,
		TeamTScore:  tScore,
		Timestamp:   ts,
	}
}

// BaseMatchID derives the deterministic key used to route snapshots to a
// live processor (spec.md §4.3 step 3, GLOSSARY "Base match id").
func BaseMatchID(mapName, mode, providerSteamID string) string {
	return fmt.Sprintf("%s_%s_%s", mapName, mode, providerSteamID)
}

func (e *Extractor) extractRoundState(snap *models.Snapshot, ts time.Time) *models.RoundState {
	if snap.Round == nil || snap.Map == nil {
		return nil
	}
	winTeam := models.Team(snap.Round.WinTeam)
	condition := deriveWinCondition(snap.Round.Phase, snap.Round.Bomb, winTeam)
	return &models.RoundState{
		RoundNumber:  snap.Map.Round + 1,
		Phase:        snap.Round.Phase,
		WinTeam:      winTeam,
		BombState:    snap.Round.Bomb,
		WinCondition: condition,
		Timestamp:    ts,
	}
}

// deriveWinCondition implements spec.md §4.3 step 5 exactly.
func deriveWinCondition(phase, bomb string, winner models.Team) models.WinCondition {
	if phase != "over" || winner == "" {
		return ""
	}
	switch bomb {
	case "exploded":
		return models.WinBombExploded
	case "defused":
		return models.WinBombDefused
	default:
		return models.WinElimination
	}
}

func (e *Extractor) extractPlayerState(snap *models.Snapshot, ts time.Time) *models.PlayerState {
	if snap.Player == nil || snap.Player.SteamID == "" || snap.Player.State == nil {
		return nil
	}
	name := snap.Player.Name
	if name == "" {
		name = fmt.Sprintf("Player_%s", lastFour(snap.Player.SteamID))
	}
	p := &models.PlayerState{
		SteamID:   snap.Player.SteamID,
		Name:      name,
		Team:      models.Team(snap.Player.Team),
		Timestamp: ts,
	}
	if s := snap.Player.State; s != nil {
		p.Health = s.Health
		p.Armor = s.Armor
		p.Money = s.Money
		p.EquipValue = s.EquipValue
		p.RoundKills = s.RoundKills
	}
	if st := snap.Player.MatchStats; st != nil {
		p.MatchKills = st.Kills
		p.MatchDeaths = st.Deaths
		p.MatchAssists = st.Assists
		p.MatchMVPs = st.MVPs
		p.MatchScore = st.Score
	}
	return p
}

func lastFour(s string) string {
	if len(s) <= 4 {
		return s
	}
	return s[len(s)-4:]
}

func (e *Extractor) extractWeaponStates(snap *models.Snapshot, ts time.Time) map[string]models.WeaponState {
	if snap.Player == nil || snap.Player.Weapons == nil {
		return nil
	}
	out := make(map[string]models.WeaponState, len(snap.Player.Weapons))
	for slot, w := range snap.Player.Weapons {
		if w.Name == "" {
			continue // unknown weapon shape; skip (spec.md §4.3 edge rules)
		}
		out[slot] = models.WeaponState{
			Slot:        slot,
			Name:        w.Name,
			Type:        w.Type,
			State:       w.State,
			AmmoClip:    w.AmmoClip,
			AmmoReserve: w.AmmoReserve,
			Paintkit:    w.Paintkit,
			Timestamp:   ts,
		}
	}
	return out
}

// RoundWinner looks up a completed round's winner from history.
func (e *Extractor) RoundWinner(roundNumber int) (models.Team, bool) {
	r, ok := e.roundHistory[roundNumber]
	if !ok || r.WinTeam == "" {
		return "", false
	}
	return r.WinTeam, true
}

// RoundWinCondition looks up a completed round's win condition from history.
func (e *Extractor) RoundWinCondition(roundNumber int) (models.WinCondition, bool) {
	r, ok := e.roundHistory[roundNumber]
	if !ok || r.WinCondition == "" {
		return "", false
	}
	return r.WinCondition, true
}

// ShouldPersistRound reports whether a completed round is known but not yet
// marked processed, and marks it processed as a side effect of returning
// true (spec.md §4.3 accessors / original_source should_persist_round).
func (e *Extractor) ShouldPersistRound(roundNumber int) bool {
	if _, ok := e.roundHistory[roundNumber]; !ok {
		return false
	}
	if e.processedRound[roundNumber] {
		return false
	}
	e.processedRound[roundNumber] = true
	return true
}

// ActiveWeapon returns the one weapon whose state is "active", if any.
func (e *Extractor) ActiveWeapon() (models.WeaponState, bool) {
	for _, w := range e.weaponStates {
		if w.State == "active" {
			return w, true
		}
	}
	return models.WeaponState{}, false
}
