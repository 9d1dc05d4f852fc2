// Package legacyauth reads a legacy, SMF-forum-style MySQL accounts table
// as a one-time migration source. It is never on the ingest hot path — the
// token cache's source of truth is internal/store — but cmd/tokenctl uses
// it to backfill accounts_steamaccount rows from an existing community
// database.
package legacyauth

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// Account is one row migrated from the legacy accounts table.
type Account struct {
	SteamID    string
	PlayerName string
	AuthToken  string
}

// Source reads legacy accounts over a plain database/sql MySQL connection.
type Source struct {
	db *sql.DB
}

// Open connects to the legacy MySQL database. dsn follows the
// go-sql-driver/mysql DSN format (user:pass@tcp(host:port)/dbname).
func Open(dsn string) (*Source, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("legacyauth: open: %w", err)
	}
	return &Source{db: db}, nil
}

func (s *Source) Close() error { return s.db.Close() }

// ListAccounts reads every legacy account that carries a steam_id, for a
// one-shot migration into accounts_steamaccount.
func (s *Source) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT steam_id, player_name, auth_token
		FROM legacy_accounts
		WHERE steam_id IS NOT NULL AND steam_id != ''`)
	if err != nil {
		return nil, fmt.Errorf("legacyauth: list_accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.SteamID, &a.PlayerName, &a.AuthToken); err != nil {
			return nil, fmt.Errorf("legacyauth: scan account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
