package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dylantcon/countertrak-ingest/internal/models"
)

// SQLiteStore is the DB_ENGINE=sqlite backend: same Store contract as
// PostgresStore, for local runs and CI where no Postgres server is
// available. It applies a minimal copy of the persisted schema (§6) on
// open so a fresh file is immediately usable.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("store: sqlite migrate: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqliteWeaponSeed); err != nil {
		return fmt.Errorf("store: sqlite seed weapons: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) MatchExists(ctx context.Context, matchID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM matches_match WHERE match_id = ?)`, matchID).Scan(&exists)
	return exists, wrapSQLite("match_exists", err)
}

func (s *SQLiteStore) CreateMatch(ctx context.Context, matchID string, m *models.MatchState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO matches_match (match_id, game_mode, map_name, start_timestamp, rounds_played, team_ct_score, team_t_score)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		matchID, m.Mode, m.MapName, m.Timestamp.Unix(), m.TeamCTScore, m.TeamTScore)
	return wrapSQLite("create_match", err)
}

func (s *SQLiteStore) UpdateMatch(ctx context.Context, matchID string, m *models.MatchState) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE matches_match
		SET game_mode = ?, map_name = ?, team_ct_score = ?, team_t_score = ?,
			rounds_played = MAX(rounds_played, ?)
		WHERE match_id = ?`,
		m.Mode, m.MapName, m.TeamCTScore, m.TeamTScore, m.Round, matchID)
	return wrapSQLite("update_match", err)
}

func (s *SQLiteStore) CompleteMatch(ctx context.Context, matchID string, ctScore, tScore, totalRounds int, endTS time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE matches_match SET end_timestamp = ?, rounds_played = ?, team_ct_score = ?, team_t_score = ?
		WHERE match_id = ?`,
		endTS.Unix(), totalRounds, ctScore, tScore, matchID)
	return wrapSQLite("complete_match", err)
}

func (s *SQLiteStore) RoundExists(ctx context.Context, matchID string, roundNumber int) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM matches_round WHERE match_id = ? AND round_number = ?)`, matchID, roundNumber).Scan(&exists)
	return exists, wrapSQLite("round_exists", err)
}

func (s *SQLiteStore) CreateRound(ctx context.Context, matchID string, roundNumber int, phase string, winner models.Team, condition models.WinCondition, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO matches_round (match_id, round_number, phase, timestamp, winning_team, win_condition)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))`,
		matchID, roundNumber, phase, ts.Unix(), string(winner), string(condition))
	return wrapSQLite("create_round", err)
}

func (s *SQLiteStore) UpdateRoundWinner(ctx context.Context, matchID string, roundNumber int, winner models.Team, condition models.WinCondition) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE matches_round SET phase = 'over', winning_team = ?, win_condition = ?
		WHERE match_id = ? AND round_number = ? AND winning_team IS NULL`,
		string(winner), string(condition), matchID, roundNumber)
	return wrapSQLite("update_round_winner", err)
}

func (s *SQLiteStore) EnsureSteamAccount(ctx context.Context, steamID string) (string, bool, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `SELECT auth_token FROM accounts_steamaccount WHERE steam_id = ?`, steamID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return token, err == nil, wrapSQLite("ensure_steam_account", err)
}

func (s *SQLiteStore) UpsertSteamAccount(ctx context.Context, steamID, authToken, playerName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts_steamaccount (steam_id, auth_token, player_name)
		VALUES (?, ?, ?)
		ON CONFLICT (steam_id) DO UPDATE SET auth_token = excluded.auth_token, player_name = excluded.player_name`,
		steamID, authToken, playerName)
	return wrapSQLite("upsert_steam_account", err)
}

func (s *SQLiteStore) ListSteamAccounts(ctx context.Context) ([]models.SteamAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT steam_id, player_name, auth_token FROM accounts_steamaccount ORDER BY steam_id`)
	if err != nil {
		return nil, wrapSQLite("list_steam_accounts", err)
	}
	defer rows.Close()

	var accounts []models.SteamAccount
	for rows.Next() {
		var a models.SteamAccount
		var playerName, authToken sql.NullString
		if err := rows.Scan(&a.SteamID, &playerName, &authToken); err != nil {
			return nil, wrapSQLite("scan steam account", err)
		}
		a.PlayerName = playerName.String
		a.AuthToken = authToken.String
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *SQLiteStore) PlayerRoundStateExists(ctx context.Context, matchID string, roundNumber int, steamID string, ts time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM stats_playerroundstate
			WHERE match_id = ? AND round_number = ? AND steam_account_id = ? AND state_timestamp = ?)`,
		matchID, roundNumber, steamID, ts.Unix()).Scan(&exists)
	return exists, wrapSQLite("player_round_state_exists", err)
}

func (s *SQLiteStore) InsertPlayerRoundState(ctx context.Context, matchID string, roundNumber int, p *models.PlayerState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO stats_playerroundstate
			(match_id, round_number, steam_account_id, health, armor, money, equip_value, round_kills, team, state_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		matchID, roundNumber, p.SteamID, p.Health, p.Armor, p.Money, p.EquipValue, p.RoundKills, string(p.Team), p.Timestamp.Unix())
	return wrapSQLite("insert_player_round_state", err)
}

func (s *SQLiteStore) PlayerWeaponExists(ctx context.Context, matchID string, roundNumber int, steamID, weaponName string, ts time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM stats_playerweapon pw
			JOIN stats_weapon w ON w.weapon_id = pw.weapon_id
			WHERE pw.match_id = ? AND pw.round_number = ? AND pw.steam_account_id = ?
				AND w.name = ? AND pw.state_timestamp = ?)`,
		matchID, roundNumber, steamID, weaponName, ts.Unix()).Scan(&exists)
	return exists, wrapSQLite("player_weapon_exists", err)
}

func (s *SQLiteStore) InsertPlayerWeapon(ctx context.Context, matchID string, roundNumber int, steamID string, w *models.WeaponState) error {
	var weaponID int
	err := s.db.QueryRowContext(ctx, `SELECT weapon_id FROM stats_weapon WHERE name = ?`, w.Name).Scan(&weaponID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUnknownWeapon
	}
	if err != nil {
		return fmt.Errorf("store: lookup weapon %q: %w", w.Name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO stats_playerweapon
			(match_id, round_number, steam_account_id, weapon_id, state, ammo_clip, ammo_reserve, paintkit, state_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		matchID, roundNumber, steamID, weaponID, w.State, w.AmmoClip, w.AmmoReserve, w.Paintkit, w.Timestamp.Unix())
	return wrapSQLite("insert_player_weapon", err)
}

func (s *SQLiteStore) UpsertPlayerMatchStat(ctx context.Context, matchID string, p *models.PlayerState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stats_playermatchstat (steam_account_id, match_id, kills, deaths, assists, mvps, score)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (steam_account_id, match_id) DO UPDATE SET
			kills = excluded.kills, deaths = excluded.deaths, assists = excluded.assists,
			mvps = excluded.mvps, score = excluded.score`,
		p.SteamID, matchID, p.MatchKills, p.MatchDeaths, p.MatchAssists, p.MatchMVPs, p.MatchScore)
	return wrapSQLite("upsert_player_match_stat", err)
}

func (s *SQLiteStore) AllTokens(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT auth_token, steam_id FROM accounts_steamaccount WHERE auth_token IS NOT NULL`)
	if err != nil {
		return nil, wrapSQLite("all_tokens", err)
	}
	defer rows.Close()

	tokens := make(map[string]string)
	for rows.Next() {
		var token, steamID string
		if err := rows.Scan(&token, &steamID); err != nil {
			return nil, wrapSQLite("scan token row", err)
		}
		tokens[token] = steamID
	}
	return tokens, rows.Err()
}

func wrapSQLite(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("store(sqlite): %s: %w", op, err)
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS matches_match (
	match_id TEXT PRIMARY KEY,
	game_mode TEXT NOT NULL,
	map_name TEXT NOT NULL,
	start_timestamp INTEGER NOT NULL,
	end_timestamp INTEGER,
	rounds_played INTEGER NOT NULL DEFAULT 0,
	team_ct_score INTEGER NOT NULL DEFAULT 0,
	team_t_score INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS matches_round (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	match_id TEXT NOT NULL REFERENCES matches_match(match_id),
	round_number INTEGER NOT NULL,
	phase TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	winning_team TEXT,
	win_condition TEXT,
	UNIQUE(match_id, round_number)
);
CREATE TABLE IF NOT EXISTS accounts_steamaccount (
	steam_id TEXT PRIMARY KEY,
	user_id TEXT,
	auth_token TEXT UNIQUE,
	player_name TEXT
);
CREATE TABLE IF NOT EXISTS stats_weapon (
	weapon_id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL,
	type TEXT,
	max_clip INTEGER
);
CREATE TABLE IF NOT EXISTS stats_playerroundstate (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	match_id TEXT NOT NULL REFERENCES matches_match(match_id),
	round_number INTEGER NOT NULL,
	steam_account_id TEXT NOT NULL REFERENCES accounts_steamaccount(steam_id),
	health INTEGER, armor INTEGER, money INTEGER, equip_value INTEGER, round_kills INTEGER,
	team TEXT, state_timestamp INTEGER NOT NULL,
	UNIQUE(match_id, round_number, steam_account_id, state_timestamp)
);
CREATE TABLE IF NOT EXISTS stats_playerweapon (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	match_id TEXT NOT NULL REFERENCES matches_match(match_id),
	round_number INTEGER NOT NULL,
	steam_account_id TEXT NOT NULL REFERENCES accounts_steamaccount(steam_id),
	weapon_id INTEGER NOT NULL REFERENCES stats_weapon(weapon_id),
	state TEXT, ammo_clip INTEGER, ammo_reserve INTEGER, paintkit TEXT, state_timestamp INTEGER NOT NULL,
	UNIQUE(match_id, round_number, steam_account_id, weapon_id, state_timestamp)
);
CREATE TABLE IF NOT EXISTS stats_playermatchstat (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	steam_account_id TEXT NOT NULL REFERENCES accounts_steamaccount(steam_id),
	match_id TEXT NOT NULL REFERENCES matches_match(match_id),
	kills INTEGER, deaths INTEGER, assists INTEGER, mvps INTEGER, score INTEGER,
	UNIQUE(steam_account_id, match_id)
);
`

// sqliteWeaponSeed preloads stats_weapon (spec.md §3 "Weapon: static table
// preloaded at install"), mirroring cmd/migrate's Postgres seed so
// DB_ENGINE=sqlite persists weapon rows too instead of every
// InsertPlayerWeapon call failing with ErrUnknownWeapon.
const sqliteWeaponSeed = `
INSERT OR IGNORE INTO stats_weapon (name, type, max_clip) VALUES
	('weapon_ak47', 'Rifle', 30),
	('weapon_m4a1', 'Rifle', 30),
	('weapon_m4a1_silencer', 'Rifle', 20),
	('weapon_awp', 'Sniper Rifle', 10),
	('weapon_deagle', 'Pistol', 7),
	('weapon_usp_silencer', 'Pistol', 12),
	('weapon_glock', 'Pistol', 20),
	('weapon_p250', 'Pistol', 13),
	('weapon_knife', 'Knife', 0),
	('weapon_c4', 'C4', 0),
	('weapon_hegrenade', 'Grenade', 1),
	('weapon_flashbang', 'Grenade', 1),
	('weapon_smokegrenade', 'Grenade', 1),
	('weapon_molotov', 'Grenade', 1),
	('weapon_incgrenade', 'Grenade', 1);
`
