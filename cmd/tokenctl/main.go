// Command tokenctl is an operator CLI for the accounts_steamaccount table:
// list accounts, mint a token for one, and backfill accounts from a legacy
// MySQL accounts table. It does not inspect the running token cache. It talks to the
// same internal/store engine the server uses, never to the server's HTTP
// surface (spec.md Non-goals exclude an admin console; this is an
// operator tool, not a user-facing one).
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/dylantcon/countertrak-ingest/internal/config"
	"github.com/dylantcon/countertrak-ingest/internal/legacyauth"
	"github.com/dylantcon/countertrak-ingest/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "tokenctl",
	Short: "Operator CLI for countertrak-ingest accounts and tokens",
	Long:  "Inspect and manage Steam accounts and GSI auth tokens against the configured store.",
}

func main() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(migrateLegacyCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all known Steam accounts and their auth tokens",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := store.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	accounts, err := st.ListSteamAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list steam accounts: %w", err)
	}
	if len(accounts) == 0 {
		fmt.Fprintln(os.Stdout, "No accounts provisioned yet. Run 'tokenctl create <steam_id>' to add one.")
		return nil
	}

	table := tablewriter.NewTable(os.Stdout, tablewriter.WithConfig(tablewriter.Config{
		Row:    tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignLeft}},
		Header: tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignLeft}},
	}))
	table.Header("STEAM ID", "PLAYER NAME", "AUTH TOKEN")
	for _, a := range accounts {
		table.Append(a.SteamID, a.PlayerName, redact(a.AuthToken))
	}
	table.Render()
	return nil
}

var createCmd = &cobra.Command{
	Use:   "create <steam_id> [player_name]",
	Short: "Provision an account and mint a fresh auth token",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runCreate,
}

func runCreate(cmd *cobra.Command, args []string) error {
	steamID := args[0]
	playerName := ""
	if len(args) > 1 {
		playerName = args[1]
	}

	token, err := randomToken()
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := store.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.UpsertSteamAccount(ctx, steamID, token, playerName); err != nil {
		return fmt.Errorf("upsert steam account: %w", err)
	}

	fmt.Fprintf(os.Stdout, "steam_id=%s token=%s\n", steamID, token)
	fmt.Fprintln(os.Stdout, "The running server picks this up on its next periodic token cache refresh.")
	return nil
}

var migrateLegacyCmd = &cobra.Command{
	Use:   "migrate-legacy",
	Short: "Backfill accounts_steamaccount from a legacy MySQL accounts table",
	Long:  "Reads every account with a steam_id from LEGACY_MYSQL_DSN and upserts those that carry an auth token into the configured store; accounts without a token are skipped.",
	Args:  cobra.NoArgs,
	RunE:  runMigrateLegacy,
}

func runMigrateLegacy(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.LegacyMySQLDSN == "" {
		return fmt.Errorf("LEGACY_MYSQL_DSN is not set")
	}

	legacy, err := legacyauth.Open(cfg.LegacyMySQLDSN)
	if err != nil {
		return fmt.Errorf("open legacy source: %w", err)
	}
	defer legacy.Close()

	accounts, err := legacy.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list legacy accounts: %w", err)
	}

	st, err := store.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	migrated := 0
	for _, a := range accounts {
		if a.AuthToken == "" {
			continue
		}
		if err := st.UpsertSteamAccount(ctx, a.SteamID, a.AuthToken, a.PlayerName); err != nil {
			fmt.Fprintf(os.Stderr, "tokenctl: skip %s: %v\n", a.SteamID, err)
			continue
		}
		migrated++
	}

	fmt.Fprintf(os.Stdout, "migrated %d of %d legacy accounts\n", migrated, len(accounts))
	return nil
}

// randomToken mints a 32-hex-char uppercase auth token (spec.md §3
// "auth_token: 32-hex-char uppercase, server-generated").
func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// redact shows only the last 6 characters of a token so operators can
// visually confirm rotation without the full secret appearing on a shared
// terminal or in a pasted support ticket.
func redact(token string) string {
	if len(token) <= 6 {
		return token
	}
	return "..." + token[len(token)-6:]
}
