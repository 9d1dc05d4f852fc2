// Command migrate applies the Postgres schema the ingest pipeline expects.
// It is a standalone bootstrap tool, deliberately kept off the pgx/v5 pool
// the server uses at runtime: lib/pq's plain database/sql driver is enough
// for a one-shot DDL script and gives operators a familiar driver to point
// other tooling at.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("POSTGRES_URL"), "Postgres connection string")
	flag.Parse()

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "migrate: -dsn or POSTGRES_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate: open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate: ping:", err)
		os.Exit(1)
	}

	if _, err := db.Exec(postgresSchema); err != nil {
		fmt.Fprintln(os.Stderr, "migrate: apply schema:", err)
		os.Exit(1)
	}

	if _, err := db.Exec(seedWeapons); err != nil {
		fmt.Fprintln(os.Stderr, "migrate: seed weapons:", err)
		os.Exit(1)
	}

	fmt.Println("migrate: schema applied")
}

// postgresSchema mirrors internal/store's sqlite schema (spec.md §6), with
// native Postgres types in place of sqlite's INTEGER-for-everything.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS matches_match (
	match_id TEXT PRIMARY KEY,
	game_mode TEXT NOT NULL,
	map_name TEXT NOT NULL,
	start_timestamp TIMESTAMPTZ NOT NULL,
	end_timestamp TIMESTAMPTZ,
	rounds_played INTEGER NOT NULL DEFAULT 0,
	team_ct_score INTEGER NOT NULL DEFAULT 0,
	team_t_score INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS matches_round (
	id BIGSERIAL PRIMARY KEY,
	match_id TEXT NOT NULL REFERENCES matches_match(match_id),
	round_number INTEGER NOT NULL,
	phase TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
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
	weapon_id SERIAL PRIMARY KEY,
	name TEXT UNIQUE NOT NULL,
	type TEXT,
	max_clip INTEGER
);

CREATE TABLE IF NOT EXISTS stats_playerroundstate (
	id BIGSERIAL PRIMARY KEY,
	match_id TEXT NOT NULL REFERENCES matches_match(match_id),
	round_number INTEGER NOT NULL,
	steam_account_id TEXT NOT NULL REFERENCES accounts_steamaccount(steam_id),
	health INTEGER, armor INTEGER, money INTEGER, equip_value INTEGER, round_kills INTEGER,
	team TEXT, state_timestamp TIMESTAMPTZ NOT NULL,
	UNIQUE(match_id, round_number, steam_account_id, state_timestamp)
);

CREATE TABLE IF NOT EXISTS stats_playerweapon (
	id BIGSERIAL PRIMARY KEY,
	match_id TEXT NOT NULL REFERENCES matches_match(match_id),
	round_number INTEGER NOT NULL,
	steam_account_id TEXT NOT NULL REFERENCES accounts_steamaccount(steam_id),
	weapon_id INTEGER NOT NULL REFERENCES stats_weapon(weapon_id),
	state TEXT, ammo_clip INTEGER, ammo_reserve INTEGER, paintkit TEXT, state_timestamp TIMESTAMPTZ NOT NULL,
	UNIQUE(match_id, round_number, steam_account_id, weapon_id, state_timestamp)
);

CREATE TABLE IF NOT EXISTS stats_playermatchstat (
	id BIGSERIAL PRIMARY KEY,
	steam_account_id TEXT NOT NULL REFERENCES accounts_steamaccount(steam_id),
	match_id TEXT NOT NULL REFERENCES matches_match(match_id),
	kills INTEGER, deaths INTEGER, assists INTEGER, mvps INTEGER, score INTEGER,
	UNIQUE(steam_account_id, match_id)
);

CREATE INDEX IF NOT EXISTS idx_playerroundstate_steam ON stats_playerroundstate(steam_account_id);
CREATE INDEX IF NOT EXISTS idx_playerweapon_steam ON stats_playerweapon(steam_account_id);
`

// seedWeapons pre-populates the weapon catalog InsertPlayerWeapon looks up
// by name; an unrecognized weapon on the wire is skipped rather than
// blocking persistence (spec.md §7 "unknown weapon").
const seedWeapons = `
INSERT INTO stats_weapon (name, type, max_clip) VALUES
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
	('weapon_incgrenade', 'Grenade', 1)
ON CONFLICT (name) DO NOTHING;
`
