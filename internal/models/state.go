package models

import "time"

// Team mirrors the three values GSI reports for a player's side.
type Team string

const (
	TeamCT   Team = "CT"
	TeamT    Team = "T"
	TeamSpec Team = "SPEC"
)

// WinCondition enumerates the ways a round can end once its winner is known.
type WinCondition string

const (
	WinBombExploded WinCondition = "bomb_exploded"
	WinBombDefused  WinCondition = "bomb_defused"
	WinElimination  WinCondition = "elimination"
)

// MatchState is the typed result of parsing payload.map + payload.provider.
type MatchState struct {
	MatchID     string // base_match_id: map_mode_steamid
	Mode        string
	MapName     string
	Phase       string // warmup | freezetime | live | over | gameover | unknown
	Round       int    // 1-indexed, already adjusted from the wire's 0-indexed value
	TeamCTScore int
	TeamTScore  int
	Timestamp   time.Time
}

// RoundState is the typed result of parsing payload.round + payload.map.round.
type RoundState struct {
	RoundNumber int
	Phase       string // freezetime | live | over
	WinTeam     Team
	BombState   string
	WinCondition WinCondition
	Timestamp   time.Time
}

// PlayerState is the typed result of parsing payload.player's state and
// match_stats sections.
type PlayerState struct {
	SteamID    string
	Name       string
	Team       Team
	Health     int
	Armor      int
	Money      int
	EquipValue int
	RoundKills int
	MatchKills int
	MatchDeaths int
	MatchAssists int
	MatchMVPs   int
	MatchScore  int
	Timestamp   time.Time
}

// SteamAccount is a row of accounts_steamaccount, surfaced for operator
// tooling (cmd/tokenctl). The ingest path never constructs this type
// directly — it only ever reads a single auth_token via
// store.Store.EnsureSteamAccount.
type SteamAccount struct {
	SteamID    string
	PlayerName string
	AuthToken  string
}

// WeaponState is the typed result of one entry of payload.player.weapons.
type WeaponState struct {
	Slot        string
	Name        string
	Type        string
	State       string // active | holstered
	AmmoClip    *int
	AmmoReserve *int
	Paintkit    string
	Timestamp   time.Time
}

// SignificantEvent is a diff-derived record used only for logging and the
// audit sink (internal/audit); it never drives persistence decisions
// (GLOSSARY "Significant event").
type SignificantEvent struct {
	Kind      string
	MatchID   string
	Round     int
	SteamID   string
	Weapon    string
	WinTeam   Team
	Condition WinCondition
	Delta     int
	Timestamp time.Time
}

// Event kind constants, matching spec.md §4.3 step 6.
const (
	EventRoundChange    = "round_change"
	EventMatchEnd       = "match_end"
	EventRoundOver      = "round_over"
	EventBombPlanted    = "bomb_planted"
	EventPlayerKill     = "player_kill"
	EventWeaponActivate = "weapon_activated"
)

// FieldDeltas records which tracked fields differ between two snapshots of
// the same sub-state, by field name.
type FieldDeltas map[string]bool

// Changes is the full diff record process() returns alongside the parsed
// sub-states (spec.md §4.3).
type Changes struct {
	Match            FieldDeltas
	Round            FieldDeltas
	Player           FieldDeltas
	Weapons          map[string]FieldDeltas
	SignificantEvents []SignificantEvent
}

// ProcessResult is the return value of Extractor.Process.
type ProcessResult struct {
	Timestamp    time.Time
	MatchState   *MatchState
	PlayerState  *PlayerState
	RoundState   *RoundState
	WeaponStates map[string]WeaponState
	Changes      Changes
}
