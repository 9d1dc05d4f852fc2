package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dylantcon/countertrak-ingest/internal/match"
	"github.com/dylantcon/countertrak-ingest/internal/models"
	"github.com/dylantcon/countertrak-ingest/internal/tokencache"
)

// fakeStore is a hand-written store.Store fake covering exactly what the
// ingest handler's dependency chain (tokencache.Cache, match.Manager)
// exercises in these tests, in the teacher's no-mocking-framework style.
type fakeStore struct {
	accounts map[string]string // steam_id -> auth_token
}

func (f *fakeStore) MatchExists(ctx context.Context, matchID string) (bool, error) { return false, nil }
func (f *fakeStore) CreateMatch(ctx context.Context, matchID string, m *models.MatchState) error {
	return nil
}
func (f *fakeStore) UpdateMatch(ctx context.Context, matchID string, m *models.MatchState) error {
	return nil
}
func (f *fakeStore) CompleteMatch(ctx context.Context, matchID string, ctScore, tScore, totalRounds int, endTS time.Time) error {
	return nil
}
func (f *fakeStore) RoundExists(ctx context.Context, matchID string, roundNumber int) (bool, error) {
	return false, nil
}
func (f *fakeStore) CreateRound(ctx context.Context, matchID string, roundNumber int, phase string, winner models.Team, condition models.WinCondition, ts time.Time) error {
	return nil
}
func (f *fakeStore) UpdateRoundWinner(ctx context.Context, matchID string, roundNumber int, winner models.Team, condition models.WinCondition) error {
	return nil
}
func (f *fakeStore) EnsureSteamAccount(ctx context.Context, steamID string) (string, bool, error) {
	token, ok := f.accounts[steamID]
	return token, ok, nil
}
func (f *fakeStore) UpsertSteamAccount(ctx context.Context, steamID, authToken, playerName string) error {
	f.accounts[steamID] = authToken
	return nil
}
func (f *fakeStore) ListSteamAccounts(ctx context.Context) ([]models.SteamAccount, error) {
	out := make([]models.SteamAccount, 0, len(f.accounts))
	for steamID, token := range f.accounts {
		out = append(out, models.SteamAccount{SteamID: steamID, AuthToken: token})
	}
	return out, nil
}
func (f *fakeStore) PlayerRoundStateExists(ctx context.Context, matchID string, roundNumber int, steamID string, ts time.Time) (bool, error) {
	return false, nil
}
func (f *fakeStore) InsertPlayerRoundState(ctx context.Context, matchID string, roundNumber int, p *models.PlayerState) error {
	return nil
}
func (f *fakeStore) PlayerWeaponExists(ctx context.Context, matchID string, roundNumber int, steamID, weaponName string, ts time.Time) (bool, error) {
	return false, nil
}
func (f *fakeStore) InsertPlayerWeapon(ctx context.Context, matchID string, roundNumber int, steamID string, w *models.WeaponState) error {
	return nil
}
func (f *fakeStore) UpsertPlayerMatchStat(ctx context.Context, matchID string, p *models.PlayerState) error {
	return nil
}
func (f *fakeStore) AllTokens(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(f.accounts))
	for steamID, token := range f.accounts {
		out[token] = steamID
	}
	return out, nil
}
func (f *fakeStore) Close() error { return nil }

func newTestServer(t *testing.T, tokens map[string]string) *httptest.Server {
	t.Helper()
	accounts := make(map[string]string, len(tokens))
	for token, steamID := range tokens {
		accounts[steamID] = token
	}
	fs := &fakeStore{accounts: accounts}
	log := zap.NewNop().Sugar()
	cache := tokencache.New(fs, nil, 10*time.Minute, log)
	mgr := match.NewManager(fs, nil, 600*time.Second, log)
	router := NewRouter(RouterConfig{
		Cache:          cache,
		Manager:        mgr,
		Logger:         log,
		MaxBodyBytes:   1 << 20,
		AllowedOrigins: []string{"*"},
	})
	return httptest.NewServer(router)
}

func TestIngestRejectsUnknownToken(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	body, _ := json.Marshal(models.Snapshot{Auth: &models.AuthSection{Token: "nope"}})
	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestIngestRejectsMalformedJSON(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestIngestRejectsMissingAuth(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing auth section, got %d", resp.StatusCode)
	}
}

func TestIngestAcceptsKnownToken(t *testing.T) {
	srv := newTestServer(t, map[string]string{"TOKEN-A": "7656...A"})
	defer srv.Close()

	snap := models.Snapshot{
		Auth:     &models.AuthSection{Token: "TOKEN-A"},
		Provider: &models.ProviderSection{SteamID: "7656...A"},
		Map: &models.MapSection{
			Name: "de_dust2", Mode: "competitive", Phase: "live", Round: 0,
			TeamCT: &models.ScoreSection{}, TeamT: &models.ScoreSection{},
		},
		Player: &models.PlayerSection{
			SteamID: "7656...A", Name: "A", Team: "CT",
			State: &models.PlayerStateSection{Health: 100},
		},
	}
	body, _ := json.Marshal(snap)
	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestStatusReportsActiveMatches(t *testing.T) {
	srv := newTestServer(t, map[string]string{"TOKEN-A": "7656...A"})
	defer srv.Close()

	snap := models.Snapshot{
		Auth:     &models.AuthSection{Token: "TOKEN-A"},
		Provider: &models.ProviderSection{SteamID: "7656...A"},
		Map: &models.MapSection{
			Name: "de_dust2", Mode: "competitive", Phase: "live", Round: 0,
			TeamCT: &models.ScoreSection{}, TeamT: &models.ScoreSection{},
		},
		Player: &models.PlayerSection{
			SteamID: "7656...A", Name: "A", Team: "CT",
			State: &models.PlayerStateSection{Health: 100},
		},
	}
	body, _ := json.Marshal(snap)
	if _, err := http.Post(srv.URL+"/", "application/json", bytes.NewReader(body)); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["active_matches"].(float64) != 1 {
		t.Fatalf("expected 1 active match, got %v", out["active_matches"])
	}
}
