// Package store implements the persistence layer (C2): a set of narrow,
// idempotent operations the match processor calls to record matches,
// rounds, per-player-per-round states, per-weapon states, and cumulative
// match statistics. Two engines satisfy the same Store interface —
// Postgres for production, sqlite for local/dev/CI — selected by
// config.Config.DBEngine.
package store

import (
	"context"
	"time"

	"github.com/dylantcon/countertrak-ingest/internal/models"
)

// Store is the full contract C4 (the match processor) depends on. Every
// method is safe for concurrent use; none holds a caller-visible lock.
type Store interface {
	MatchExists(ctx context.Context, matchID string) (bool, error)
	CreateMatch(ctx context.Context, matchID string, m *models.MatchState) error
	UpdateMatch(ctx context.Context, matchID string, m *models.MatchState) error
	CompleteMatch(ctx context.Context, matchID string, ctScore, tScore, totalRounds int, endTS time.Time) error

	RoundExists(ctx context.Context, matchID string, roundNumber int) (bool, error)
	CreateRound(ctx context.Context, matchID string, roundNumber int, phase string, winner models.Team, condition models.WinCondition, ts time.Time) error
	UpdateRoundWinner(ctx context.Context, matchID string, roundNumber int, winner models.Team, condition models.WinCondition) error

	// EnsureSteamAccount returns the account's auth_token and true if the
	// account exists. It never creates accounts on the ingest path —
	// registration there is out of band (spec.md §3 SteamAccount).
	EnsureSteamAccount(ctx context.Context, steamID string) (authToken string, ok bool, err error)

	// UpsertSteamAccount creates or updates an account's auth_token and
	// player_name. Only the operator path (cmd/tokenctl) calls this —
	// account provisioning is deliberately absent from the ingest
	// endpoint itself.
	UpsertSteamAccount(ctx context.Context, steamID, authToken, playerName string) error

	// ListSteamAccounts supports cmd/tokenctl's account/token listing.
	ListSteamAccounts(ctx context.Context) ([]models.SteamAccount, error)

	PlayerRoundStateExists(ctx context.Context, matchID string, roundNumber int, steamID string, ts time.Time) (bool, error)
	InsertPlayerRoundState(ctx context.Context, matchID string, roundNumber int, p *models.PlayerState) error

	PlayerWeaponExists(ctx context.Context, matchID string, roundNumber int, steamID, weaponName string, ts time.Time) (bool, error)
	InsertPlayerWeapon(ctx context.Context, matchID string, roundNumber int, steamID string, w *models.WeaponState) error

	UpsertPlayerMatchStat(ctx context.Context, matchID string, p *models.PlayerState) error

	// AllTokens supports internal/tokencache's bulk reload.
	AllTokens(ctx context.Context) (map[string]string, error)

	Close() error
}
