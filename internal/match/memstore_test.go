package match

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dylantcon/countertrak-ingest/internal/models"
)

// memStore is an in-memory Store fake used across match package tests, in
// the teacher's hand-written-fake style (no mocking framework).
type memStore struct {
	mu sync.Mutex

	matches map[string]*models.MatchState
	ended   map[string]bool

	rounds map[string]map[int]*roundRow

	accounts map[string]string // steam_id -> auth_token; absent means unknown

	playerRoundStates map[string]bool // dedup key
	playerWeapons     map[string]bool // dedup key
	playerMatchStats  map[string]*models.PlayerState

	createMatchCalls int
	createRoundCalls int
}

type roundRow struct {
	phase     string
	winner    models.Team
	condition models.WinCondition
}

func newMemStore() *memStore {
	return &memStore{
		matches:           make(map[string]*models.MatchState),
		ended:             make(map[string]bool),
		rounds:            make(map[string]map[int]*roundRow),
		accounts:          make(map[string]string),
		playerRoundStates: make(map[string]bool),
		playerWeapons:     make(map[string]bool),
		playerMatchStats:  make(map[string]*models.PlayerState),
	}
}

func (s *memStore) MatchExists(ctx context.Context, matchID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.matches[matchID]
	return ok, nil
}

func (s *memStore) CreateMatch(ctx context.Context, matchID string, m *models.MatchState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createMatchCalls++
	if _, ok := s.matches[matchID]; ok {
		return nil
	}
	cp := *m
	s.matches[matchID] = &cp
	return nil
}

func (s *memStore) UpdateMatch(ctx context.Context, matchID string, m *models.MatchState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.matches[matchID]
	if !ok {
		return nil
	}
	existing.Mode, existing.MapName = m.Mode, m.MapName
	existing.TeamCTScore, existing.TeamTScore = m.TeamCTScore, m.TeamTScore
	if m.Round > existing.Round {
		existing.Round = m.Round
	}
	return nil
}

func (s *memStore) CompleteMatch(ctx context.Context, matchID string, ctScore, tScore, totalRounds int, endTS time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.matches[matchID]
	if !ok {
		return nil
	}
	existing.TeamCTScore, existing.TeamTScore = ctScore, tScore
	existing.Round = totalRounds
	s.ended[matchID] = true
	return nil
}

func (s *memStore) RoundExists(ctx context.Context, matchID string, roundNumber int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rounds[matchID]
	if !ok {
		return false, nil
	}
	_, ok = m[roundNumber]
	return ok, nil
}

func (s *memStore) CreateRound(ctx context.Context, matchID string, roundNumber int, phase string, winner models.Team, condition models.WinCondition, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createRoundCalls++
	if s.rounds[matchID] == nil {
		s.rounds[matchID] = make(map[int]*roundRow)
	}
	if _, ok := s.rounds[matchID][roundNumber]; ok {
		return nil
	}
	s.rounds[matchID][roundNumber] = &roundRow{phase: phase, winner: winner, condition: condition}
	return nil
}

func (s *memStore) UpdateRoundWinner(ctx context.Context, matchID string, roundNumber int, winner models.Team, condition models.WinCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rounds[matchID][roundNumber]
	if !ok {
		return nil
	}
	if row.winner != "" {
		return nil // a stored winner is never overwritten by a later write
	}
	row.phase, row.winner, row.condition = "over", winner, condition
	return nil
}

func (s *memStore) EnsureSteamAccount(ctx context.Context, steamID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.accounts[steamID]
	return token, ok, nil
}

func (s *memStore) UpsertSteamAccount(ctx context.Context, steamID, authToken, playerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[steamID] = authToken
	return nil
}

func (s *memStore) ListSteamAccounts(ctx context.Context) ([]models.SteamAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SteamAccount, 0, len(s.accounts))
	for steamID, token := range s.accounts {
		out = append(out, models.SteamAccount{SteamID: steamID, AuthToken: token})
	}
	return out, nil
}

func (s *memStore) key(parts ...any) string {
	out := ""
	for _, p := range parts {
		out += fmt.Sprintf("%v|", p)
	}
	return out
}

func (s *memStore) PlayerRoundStateExists(ctx context.Context, matchID string, roundNumber int, steamID string, ts time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.playerRoundStates[s.key(matchID, roundNumber, steamID, ts)]
	return ok, nil
}

func (s *memStore) InsertPlayerRoundState(ctx context.Context, matchID string, roundNumber int, p *models.PlayerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playerRoundStates[s.key(matchID, roundNumber, p.SteamID, p.Timestamp)] = true
	return nil
}

func (s *memStore) PlayerWeaponExists(ctx context.Context, matchID string, roundNumber int, steamID, weaponName string, ts time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.playerWeapons[s.key(matchID, roundNumber, steamID, weaponName, ts)]
	return ok, nil
}

func (s *memStore) InsertPlayerWeapon(ctx context.Context, matchID string, roundNumber int, steamID string, w *models.WeaponState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playerWeapons[s.key(matchID, roundNumber, steamID, w.Name, w.Timestamp)] = true
	return nil
}

func (s *memStore) UpsertPlayerMatchStat(ctx context.Context, matchID string, p *models.PlayerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.playerMatchStats[matchID+"|"+p.SteamID] = &cp
	return nil
}

func (s *memStore) AllTokens(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.accounts))
	for steamID, token := range s.accounts {
		out[token] = steamID
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) roundCount(matchID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rounds[matchID])
}

func (s *memStore) round(matchID string, n int) *roundRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds[matchID][n]
}
