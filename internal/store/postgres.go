package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dylantcon/countertrak-ingest/internal/models"
)

// pgPool is the slice of *pgxpool.Pool this package actually uses, so unit
// tests can substitute a fake without a real connection (mirrors the
// teacher's internal/logic.PgPool interface).
type pgPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is the production Store backend. It depends on the pgPool
// interface rather than *pgxpool.Pool directly so tests can substitute a
// fake (mirrors the teacher's internal/logic.PgPool pattern).
type PostgresStore struct {
	pool    pgPool
	closer  func() error
}

// NewPostgresStore dials Postgres and verifies connectivity with a ping.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool, closer: func() error { pool.Close(); return nil }}, nil
}

func (s *PostgresStore) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

func (s *PostgresStore) MatchExists(ctx context.Context, matchID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM matches_match WHERE match_id = $1)`, matchID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: match_exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) CreateMatch(ctx context.Context, matchID string, m *models.MatchState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO matches_match (match_id, game_mode, map_name, start_timestamp, rounds_played, team_ct_score, team_t_score)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
		ON CONFLICT (match_id) DO NOTHING`,
		matchID, m.Mode, m.MapName, m.Timestamp, m.TeamCTScore, m.TeamTScore)
	if err != nil {
		return fmt.Errorf("store: create_match: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMatch(ctx context.Context, matchID string, m *models.MatchState) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE matches_match
		SET game_mode = $2, map_name = $3, team_ct_score = $4, team_t_score = $5, rounds_played = GREATEST(rounds_played, $6)
		WHERE match_id = $1`,
		matchID, m.Mode, m.MapName, m.TeamCTScore, m.TeamTScore, m.Round)
	if err != nil {
		return fmt.Errorf("store: update_match: %w", err)
	}
	return nil
}

func (s *PostgresStore) CompleteMatch(ctx context.Context, matchID string, ctScore, tScore, totalRounds int, endTS time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE matches_match
		SET end_timestamp = $2, rounds_played = $3, team_ct_score = $4, team_t_score = $5
		WHERE match_id = $1`,
		matchID, endTS, totalRounds, ctScore, tScore)
	if err != nil {
		return fmt.Errorf("store: complete_match: %w", err)
	}
	return nil
}

func (s *PostgresStore) RoundExists(ctx context.Context, matchID string, roundNumber int) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM matches_round WHERE match_id = $1 AND round_number = $2)`, matchID, roundNumber).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: round_exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) CreateRound(ctx context.Context, matchID string, roundNumber int, phase string, winner models.Team, condition models.WinCondition, ts time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO matches_round (match_id, round_number, phase, timestamp, winning_team, win_condition)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
		ON CONFLICT (match_id, round_number) DO NOTHING`,
		matchID, roundNumber, phase, ts, string(winner), string(condition))
	if err != nil {
		return fmt.Errorf("store: create_round: %w", err)
	}
	return nil
}

// UpdateRoundWinner sets winner/condition/phase=over, but only when the
// round doesn't already have a stored winner — a later write that
// contradicts an already-decided round is rejected rather than applied
// (spec.md §9 Open Questions; SPEC_FULL.md decision 2).
func (s *PostgresStore) UpdateRoundWinner(ctx context.Context, matchID string, roundNumber int, winner models.Team, condition models.WinCondition) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE matches_round
		SET phase = 'over', winning_team = $3, win_condition = $4
		WHERE match_id = $1 AND round_number = $2 AND winning_team IS NULL`,
		matchID, roundNumber, string(winner), string(condition))
	if err != nil {
		return fmt.Errorf("store: update_round_winner: %w", err)
	}
	return nil
}

func (s *PostgresStore) EnsureSteamAccount(ctx context.Context, steamID string) (string, bool, error) {
	var token string
	err := s.pool.QueryRow(ctx, `SELECT auth_token FROM accounts_steamaccount WHERE steam_id = $1`, steamID).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: ensure_steam_account: %w", err)
	}
	return token, true, nil
}

func (s *PostgresStore) UpsertSteamAccount(ctx context.Context, steamID, authToken, playerName string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts_steamaccount (steam_id, auth_token, player_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (steam_id) DO UPDATE SET auth_token = $2, player_name = $3`,
		steamID, authToken, playerName)
	if err != nil {
		return fmt.Errorf("store: upsert_steam_account: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSteamAccounts(ctx context.Context) ([]models.SteamAccount, error) {
	rows, err := s.pool.Query(ctx, `SELECT steam_id, player_name, auth_token FROM accounts_steamaccount ORDER BY steam_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list_steam_accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.SteamAccount
	for rows.Next() {
		var a models.SteamAccount
		if err := rows.Scan(&a.SteamID, &a.PlayerName, &a.AuthToken); err != nil {
			return nil, fmt.Errorf("store: scan steam account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) PlayerRoundStateExists(ctx context.Context, matchID string, roundNumber int, steamID string, ts time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM stats_playerroundstate
			WHERE match_id = $1 AND round_number = $2 AND steam_account_id = $3 AND state_timestamp = $4)`,
		matchID, roundNumber, steamID, ts).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: player_round_state_exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertPlayerRoundState(ctx context.Context, matchID string, roundNumber int, p *models.PlayerState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stats_playerroundstate
			(match_id, round_number, steam_account_id, health, armor, money, equip_value, round_kills, team, state_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (match_id, round_number, steam_account_id, state_timestamp) DO NOTHING`,
		matchID, roundNumber, p.SteamID, p.Health, p.Armor, p.Money, p.EquipValue, p.RoundKills, string(p.Team), p.Timestamp)
	if err != nil {
		return fmt.Errorf("store: insert_player_round_state: %w", err)
	}
	return nil
}

func (s *PostgresStore) PlayerWeaponExists(ctx context.Context, matchID string, roundNumber int, steamID, weaponName string, ts time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM stats_playerweapon pw
			JOIN stats_weapon w ON w.weapon_id = pw.weapon_id
			WHERE pw.match_id = $1 AND pw.round_number = $2 AND pw.steam_account_id = $3
				AND w.name = $4 AND pw.state_timestamp = $5)`,
		matchID, roundNumber, steamID, weaponName, ts).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: player_weapon_exists: %w", err)
	}
	return exists, nil
}

// InsertPlayerWeapon looks up weapon_id by name and silently skips unknown
// weapons (logged by the caller), per spec.md §4.2.
func (s *PostgresStore) InsertPlayerWeapon(ctx context.Context, matchID string, roundNumber int, steamID string, w *models.WeaponState) error {
	var weaponID int
	err := s.pool.QueryRow(ctx, `SELECT weapon_id FROM stats_weapon WHERE name = $1`, w.Name).Scan(&weaponID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUnknownWeapon
	}
	if err != nil {
		return fmt.Errorf("store: lookup weapon %q: %w", w.Name, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO stats_playerweapon
			(match_id, round_number, steam_account_id, weapon_id, state, ammo_clip, ammo_reserve, paintkit, state_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (match_id, round_number, steam_account_id, weapon_id, state_timestamp) DO NOTHING`,
		matchID, roundNumber, steamID, weaponID, w.State, w.AmmoClip, w.AmmoReserve, w.Paintkit, w.Timestamp)
	if err != nil {
		return fmt.Errorf("store: insert_player_weapon: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertPlayerMatchStat(ctx context.Context, matchID string, p *models.PlayerState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stats_playermatchstat (steam_account_id, match_id, kills, deaths, assists, mvps, score)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (steam_account_id, match_id) DO UPDATE SET
			kills = EXCLUDED.kills, deaths = EXCLUDED.deaths, assists = EXCLUDED.assists,
			mvps = EXCLUDED.mvps, score = EXCLUDED.score`,
		p.SteamID, matchID, p.MatchKills, p.MatchDeaths, p.MatchAssists, p.MatchMVPs, p.MatchScore)
	if err != nil {
		return fmt.Errorf("store: upsert_player_match_stat: %w", err)
	}
	return nil
}

func (s *PostgresStore) AllTokens(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT auth_token, steam_id FROM accounts_steamaccount WHERE auth_token IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("store: all_tokens: %w", err)
	}
	defer rows.Close()

	tokens := make(map[string]string)
	for rows.Next() {
		var token, steamID string
		if err := rows.Scan(&token, &steamID); err != nil {
			return nil, fmt.Errorf("store: scan token row: %w", err)
		}
		tokens[token] = steamID
	}
	return tokens, rows.Err()
}

// ErrUnknownWeapon is returned by InsertPlayerWeapon when the wire weapon
// name has no stats_weapon row; callers log at warn and skip the row
// (spec.md §4.2, §7 "unknown weapon name").
var ErrUnknownWeapon = errors.New("store: unknown weapon")
