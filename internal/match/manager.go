package match

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dylantcon/countertrak-ingest/internal/extractor"
	"github.com/dylantcon/countertrak-ingest/internal/models"
	"github.com/dylantcon/countertrak-ingest/internal/store"
)

// Manager routes each snapshot to the right Processor, creating and
// retiring them as matches start and finish (spec.md §4.5).
type Manager struct {
	store       store.Store
	audit       AuditSink
	log         *zap.SugaredLogger
	idleTimeout time.Duration

	mu         sync.Mutex
	processors map[string]*Processor // keyed by full_match_id
}

func NewManager(s store.Store, audit AuditSink, idleTimeout time.Duration, log *zap.SugaredLogger) *Manager {
	return &Manager{
		store:       s,
		audit:       audit,
		log:         log,
		idleTimeout: idleTimeout,
		processors:  make(map[string]*Processor),
	}
}

// Route implements the manager's public contract (spec.md §4.5).
func (m *Manager) Route(ctx context.Context, snap *models.Snapshot) bool {
	defer m.sweep()

	if snap.Map == nil || snap.Provider == nil {
		if snap.IsMenuPayload() {
			m.debugLogPayload(snap)
			return false
		}
		if m.log != nil {
			m.log.Warnw("snapshot missing map/provider, could not extract base match id")
		}
		return false
	}

	ownerSteamID := snap.Provider.SteamID
	var playerSteamID string
	if snap.Player != nil {
		playerSteamID = snap.Player.SteamID
	}
	if ownerSteamID == "" || playerSteamID == "" {
		if m.log != nil {
			m.log.Warnw("snapshot missing provider or player steamid")
		}
		return false
	}
	isOwnerPlaying := ownerSteamID == playerSteamID

	baseMatchID := extractor.BaseMatchID(snap.Map.Name, snap.Map.Mode, ownerSteamID)
	proc := m.getOrCreateProcessor(baseMatchID, ownerSteamID)
	proc.HandlePayload(ctx, snap, isOwnerPlaying)
	return true
}

// getOrCreateProcessor implements double-checked locking: a first scan
// (which holds the mutex only for the scan itself) handles the common case
// of an existing match; only a miss takes the mutex again, re-checks, and
// mints a new processor (spec.md §4.5 step 3).
func (m *Manager) getOrCreateProcessor(baseMatchID, ownerSteamID string) *Processor {
	if p := m.find(baseMatchID); p != nil {
		return p
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.findLocked(baseMatchID); p != nil {
		return p
	}

	fullMatchID := fmt.Sprintf("%s_%s", baseMatchID, uuid.New().String())
	proc := NewProcessor(baseMatchID, fullMatchID, ownerSteamID, m.store, m.audit, m.log)
	m.processors[fullMatchID] = proc
	if m.log != nil {
		m.log.Infow("new match processor created", "full_match_id", fullMatchID)
	}
	return proc
}

func (m *Manager) find(baseMatchID string) *Processor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(baseMatchID)
}

func (m *Manager) findLocked(baseMatchID string) *Processor {
	for _, p := range m.processors {
		if p.BaseMatchID == baseMatchID {
			return p
		}
	}
	return nil
}

// sweep removes any processor whose match has completed or gone idle. It
// is invoked on every routed snapshot (spec.md §4.5 step 5).
func (m *Manager) sweep() {
	var toRemove []string
	m.mu.Lock()
	for id, p := range m.processors {
		if p.IsMatchCompleted(m.idleTimeout) {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		delete(m.processors, id)
	}
	count := len(m.processors)
	m.mu.Unlock()

	if len(toRemove) > 0 && m.log != nil {
		m.log.Infow("retired completed/idle match processors", "count", len(toRemove))
	}
	_ = count
}

// ActiveMatchCount backs GET /status (spec.md §4.6).
func (m *Manager) ActiveMatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.processors)
}

// MatchSummaries supplements spec.md's status shape with per-match detail
// (SPEC_FULL.md "Per-match summary accessors").
func (m *Manager) MatchSummaries() []Snapshot {
	m.mu.Lock()
	procs := make([]*Processor, 0, len(m.processors))
	for _, p := range m.processors {
		procs = append(procs, p)
	}
	m.mu.Unlock()

	summaries := make([]Snapshot, 0, len(procs))
	for _, p := range procs {
		summaries = append(summaries, p.Snapshot())
	}
	return summaries
}

// Drain runs handleMatchCompletion on every live processor so the
// buffered player/weapon history of each match's current round is
// flushed before the store is closed (spec.md §4.7 step 6 "signal each
// processor to handle_match_completion, drain"). Call this before closing
// the store, not after.
func (m *Manager) Drain(ctx context.Context) {
	m.mu.Lock()
	procs := make([]*Processor, 0, len(m.processors))
	for _, p := range m.processors {
		procs = append(procs, p)
	}
	m.mu.Unlock()

	for _, p := range procs {
		p.handleMatchCompletion(ctx)
	}

	if m.log != nil {
		m.log.Infow("drained match processors on shutdown", "count", len(procs))
	}
}

func (m *Manager) debugLogPayload(snap *models.Snapshot) {
	if m.log == nil {
		return
	}
	activity := ""
	if snap.Player != nil {
		activity = snap.Player.Activity
	}
	m.log.Debugw("player is in the lobby menu", "activity", activity)
}
