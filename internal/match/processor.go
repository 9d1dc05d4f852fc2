// Package match implements the match processor (C4) and match manager
// (C5): the per-match state machine that drives round lifecycles and
// triggers persistence, and the router that dispatches snapshots to the
// right processor.
package match

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dylantcon/countertrak-ingest/internal/extractor"
	"github.com/dylantcon/countertrak-ingest/internal/models"
	"github.com/dylantcon/countertrak-ingest/internal/store"
)

// AuditSink is the narrow interface match needs from internal/audit,
// kept separate so tests don't need a real ClickHouse connection.
type AuditSink interface {
	Record(events []models.SignificantEvent)
}

// Processor owns a single match's lifecycle. All mutation of its fields
// happens under mu; DB calls never happen while mu is held (spec.md §5
// "mark under lock, do I/O outside lock, unmark on failure").
type Processor struct {
	BaseMatchID   string
	FullMatchID   string
	OwnerSteamID  string

	store     store.Store
	extractor *extractor.Extractor
	audit     AuditSink
	log       *zap.SugaredLogger

	mu             sync.Mutex
	matchState     *models.MatchState
	currentRound   int
	matchPersisted bool
	isCompleted    bool
	lastUpdate     time.Time

	playerStatesHistory  []models.PlayerState
	weaponStatesHistory  []map[string]models.WeaponState
	latestPlayerState    map[string]models.PlayerState
	latestWeaponStates   map[string]models.WeaponState
	roundsPersisted      map[int]bool
}

// NewProcessor constructs a Processor for a newly-seen match.
func NewProcessor(baseMatchID, fullMatchID, ownerSteamID string, s store.Store, audit AuditSink, log *zap.SugaredLogger) *Processor {
	return &Processor{
		BaseMatchID:        baseMatchID,
		FullMatchID:        fullMatchID,
		OwnerSteamID:       ownerSteamID,
		store:              s,
		extractor:          extractor.New(),
		audit:              audit,
		log:                log,
		lastUpdate:         time.Now(),
		latestPlayerState:  make(map[string]models.PlayerState),
		latestWeaponStates: make(map[string]models.WeaponState),
		roundsPersisted:    make(map[int]bool),
	}
}

// HandlePayload is the processor's public contract (spec.md §4.4).
func (p *Processor) HandlePayload(ctx context.Context, snap *models.Snapshot, isOwnerPlaying bool) {
	p.mu.Lock()
	p.lastUpdate = time.Now()
	p.mu.Unlock()

	result := p.extractor.Process(snap, time.Now())
	p.logEvents(result.Changes.SignificantEvents)
	if p.audit != nil {
		p.audit.Record(result.Changes.SignificantEvents)
	}

	// Gate: pre-match menus and unknown shapes never create a Match row.
	if result.MatchState == nil || result.MatchState.Phase == "unknown" || result.MatchState.Phase == "warmup" {
		return
	}

	p.ensureMatchPersisted(ctx, result.MatchState)

	p.mu.Lock()
	oldRound := p.currentRound
	newRound := result.MatchState.Round
	if newRound != oldRound {
		p.currentRound = newRound
	}
	p.mu.Unlock()

	if newRound != oldRound {
		p.handleRoundTransition(ctx, oldRound, newRound, result.RoundState, result.Timestamp)
	}

	// Late-observer visibility: a round that just reached `over` with a
	// known winner is persisted immediately, not just at the next
	// transition (spec.md §4.4 step 7).
	if result.RoundState != nil && result.RoundState.Phase == "over" && result.RoundState.WinTeam != "" {
		p.persistWinner(ctx, result.RoundState.RoundNumber, result.RoundState.WinTeam, result.RoundState.WinCondition, result.Timestamp)
	}

	if result.MatchState.Phase == "gameover" {
		p.handleMatchCompletion(ctx)
	}

	if isOwnerPlaying && result.PlayerState != nil {
		if p.persistLivePlayerStat(ctx, *result.PlayerState) {
			p.bufferPlayerSnapshot(*result.PlayerState, result.WeaponStates)
		}
	}
}

func (p *Processor) logEvents(events []models.SignificantEvent) {
	if p.log == nil {
		return
	}
	for _, ev := range events {
		p.log.Debugw("significant event", "kind", ev.Kind, "match_id", p.FullMatchID, "round", ev.Round, "steam_id", ev.SteamID)
	}
}

// ensureMatchPersisted creates the Match row on first nominal snapshot and
// updates it on subsequent score/phase changes (spec.md §4.4 steps 4-5).
func (p *Processor) ensureMatchPersisted(ctx context.Context, m *models.MatchState) {
	p.mu.Lock()
	firstSighting := !p.matchPersisted
	old := p.matchState
	p.matchState = m
	p.mu.Unlock()

	if firstSighting {
		if err := p.store.CreateMatch(ctx, p.FullMatchID, m); err != nil {
			p.logErr("create_match", err)
			return
		}
		p.mu.Lock()
		p.matchPersisted = true
		p.mu.Unlock()
		return
	}

	if old == nil || old.Phase != m.Phase || old.TeamCTScore != m.TeamCTScore || old.TeamTScore != m.TeamTScore || old.Round != m.Round {
		if err := p.store.UpdateMatch(ctx, p.FullMatchID, m); err != nil {
			p.logErr("update_match", err)
		}
	}
}

// handleRoundTransition implements spec.md §4.4's round transition
// algorithm: mark the old round for completion under the lock, do the I/O
// outside it, unmark on failure so a later transition can retry.
func (p *Processor) handleRoundTransition(ctx context.Context, oldRound, newRound int, newRoundState *models.RoundState, ts time.Time) {
	p.mu.Lock()
	mustComplete := oldRound > 0 && !p.roundsPersisted[oldRound]
	if mustComplete {
		p.roundsPersisted[oldRound] = true
	}
	alreadyDone := p.isCompleted
	p.mu.Unlock()

	if alreadyDone {
		return // the match already finished; do not initialize a new round
	}

	if mustComplete {
		if err := p.completeRound(ctx, oldRound); err != nil {
			p.mu.Lock()
			delete(p.roundsPersisted, oldRound)
			p.mu.Unlock()
			p.logErr("complete_round", err)
		}
	}

	if newRoundState != nil && (newRoundState.Phase == "freezetime" || newRoundState.Phase == "live") && newRound > 0 {
		exists, err := p.store.RoundExists(ctx, p.FullMatchID, newRound)
		if err != nil {
			p.logErr("round_exists", err)
			return
		}
		if !exists {
			if err := p.store.CreateRound(ctx, p.FullMatchID, newRound, newRoundState.Phase, "", "", ts); err != nil {
				p.logErr("create_round", err)
			}
		}
	}
}

// completeRound persists the round's outcome and every buffered
// player/weapon state, then clears the buffers (spec.md §4.4 step 3).
func (p *Processor) completeRound(ctx context.Context, roundNumber int) error {
	if winner, ok := p.extractor.RoundWinner(roundNumber); ok {
		condition, _ := p.extractor.RoundWinCondition(roundNumber)
		if err := p.persistWinnerErr(ctx, roundNumber, winner, condition, time.Now()); err != nil {
			return err
		}
	}

	p.mu.Lock()
	players := p.playerStatesHistory
	weaponSnapshots := p.weaponStatesHistory
	p.playerStatesHistory = nil
	p.weaponStatesHistory = nil
	p.mu.Unlock()

	for i := range players {
		ps := players[i]
		exists, err := p.store.PlayerRoundStateExists(ctx, p.FullMatchID, roundNumber, ps.SteamID, ps.Timestamp)
		if err != nil {
			return err
		}
		if !exists {
			if err := p.store.InsertPlayerRoundState(ctx, p.FullMatchID, roundNumber, &ps); err != nil {
				return err
			}
		}
	}

	for _, snapshot := range weaponSnapshots {
		for _, w := range snapshot {
			w := w
			exists, err := p.store.PlayerWeaponExists(ctx, p.FullMatchID, roundNumber, p.OwnerSteamID, w.Name, w.Timestamp)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if err := p.store.InsertPlayerWeapon(ctx, p.FullMatchID, roundNumber, p.OwnerSteamID, &w); err != nil {
				if err == store.ErrUnknownWeapon {
					if p.log != nil {
						p.log.Warnw("unknown weapon, skipping weapon row", "weapon", w.Name, "match_id", p.FullMatchID)
					}
					continue
				}
				return err
			}
		}
	}

	if len(players) > 0 {
		last := players[len(players)-1]
		if err := p.store.UpsertPlayerMatchStat(ctx, p.FullMatchID, &last); err != nil {
			return err
		}
	}
	return nil
}

// persistWinner is the fire-and-forget variant used from the main
// HandlePayload path; persistWinnerErr is its error-returning core, reused
// by completeRound.
func (p *Processor) persistWinner(ctx context.Context, roundNumber int, winner models.Team, condition models.WinCondition, ts time.Time) {
	if err := p.persistWinnerErr(ctx, roundNumber, winner, condition, ts); err != nil {
		p.logErr("persist_winner", err)
	}
}

func (p *Processor) persistWinnerErr(ctx context.Context, roundNumber int, winner models.Team, condition models.WinCondition, ts time.Time) error {
	exists, err := p.store.RoundExists(ctx, p.FullMatchID, roundNumber)
	if err != nil {
		return err
	}
	if exists {
		return p.store.UpdateRoundWinner(ctx, p.FullMatchID, roundNumber, winner, condition)
	}
	return p.store.CreateRound(ctx, p.FullMatchID, roundNumber, "over", winner, condition, ts)
}

func (p *Processor) bufferPlayerSnapshot(ps models.PlayerState, weapons map[string]models.WeaponState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playerStatesHistory = append(p.playerStatesHistory, ps)
	p.latestPlayerState[ps.SteamID] = ps
	if weapons != nil {
		snapshot := make(map[string]models.WeaponState, len(weapons))
		for slot, w := range weapons {
			snapshot[slot] = w
			p.latestWeaponStates[slot] = w
		}
		p.weaponStatesHistory = append(p.weaponStatesHistory, snapshot)
	}
}

// persistLivePlayerStat upserts cumulative stats on every observed
// snapshot, skipping accounts the store doesn't know about (spec.md §4.4
// step 9, §7 "unknown referenced entity"). It returns false only when the
// store reports the account as absent, in which case the caller does not
// buffer the snapshot's player/weapon states either.
func (p *Processor) persistLivePlayerStat(ctx context.Context, ps models.PlayerState) bool {
	_, ok, err := p.store.EnsureSteamAccount(ctx, ps.SteamID)
	if err != nil {
		p.logErr("ensure_steam_account", err)
		return true
	}
	if !ok {
		if p.log != nil {
			p.log.Infow("snapshot references unknown steam account, skipping player persistence", "steam_id", ps.SteamID, "match_id", p.FullMatchID)
		}
		return false
	}
	if err := p.store.UpsertPlayerMatchStat(ctx, p.FullMatchID, &ps); err != nil {
		p.logErr("upsert_player_match_stat", err)
	}
	return true
}

// handleMatchCompletion flips is_completed once, flushes any round not yet
// persisted, and closes out the match row (spec.md §4.4 "Match completion").
func (p *Processor) handleMatchCompletion(ctx context.Context) {
	p.mu.Lock()
	if p.isCompleted {
		p.mu.Unlock()
		return
	}
	p.isCompleted = true
	current := p.currentRound
	var ctScore, tScore int
	if p.matchState != nil {
		ctScore, tScore = p.matchState.TeamCTScore, p.matchState.TeamTScore
	}
	pending := make([]int, 0, current)
	for r := 1; r <= current; r++ {
		if !p.roundsPersisted[r] {
			p.roundsPersisted[r] = true
			pending = append(pending, r)
		}
	}
	p.mu.Unlock()

	for _, r := range pending {
		if err := p.completeRound(ctx, r); err != nil {
			p.mu.Lock()
			delete(p.roundsPersisted, r)
			p.mu.Unlock()
			p.logErr("complete_round(at completion)", err)
		}
	}

	if err := p.store.CompleteMatch(ctx, p.FullMatchID, ctScore, tScore, ctScore+tScore, time.Now()); err != nil {
		p.logErr("complete_match", err)
	}
}

// IsMatchCompleted reports whether this processor should be retired
// (spec.md §4.4 "inactivity"). It reads isCompleted and lastUpdate under
// the processor mutex.
func (p *Processor) IsMatchCompleted(idleTimeout time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isCompleted || time.Since(p.lastUpdate) > idleTimeout
}

func (p *Processor) logErr(op string, err error) {
	if p.log != nil {
		p.log.Errorw("match processor operation failed", "op", op, "match_id", p.FullMatchID, "error", err)
	}
}

// Snapshot is a point-in-time summary for GET /status, copied under the
// processor mutex (SPEC_FULL.md "Per-match summary accessors").
type Snapshot struct {
	FullMatchID string
	MapName     string
	GameMode    string
	Phase       string
	Round       int
	TeamCTScore int
	TeamTScore  int
	PlayerCount int
}

func (p *Processor) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{FullMatchID: p.FullMatchID, Round: p.currentRound, PlayerCount: len(p.latestPlayerState)}
	if p.matchState != nil {
		s.MapName = p.matchState.MapName
		s.GameMode = p.matchState.Mode
		s.Phase = p.matchState.Phase
		s.TeamCTScore = p.matchState.TeamCTScore
		s.TeamTScore = p.matchState.TeamTScore
	}
	return s
}
