package extractor

import (
	"time"

	"github.com/dylantcon/countertrak-ingest/internal/models"
)

// detectChanges diffs the freshly-parsed sub-states against the Extractor's
// prior state and emits the changes record (spec.md §4.3 step 6). It runs
// before updateInternalState, so "old" always means the previous snapshot.
func (e *Extractor) detectChanges(match *models.MatchState, round *models.RoundState, player *models.PlayerState, weapons map[string]models.WeaponState, ts time.Time) models.Changes {
	changes := models.Changes{
		Match:   models.FieldDeltas{},
		Round:   models.FieldDeltas{},
		Player:  models.FieldDeltas{},
		Weapons: map[string]models.FieldDeltas{},
	}

	if match != nil && e.matchState != nil {
		old := e.matchState
		if old.Phase != match.Phase {
			changes.Match["phase"] = true
		}
		if old.Round != match.Round {
			changes.Match["round"] = true
			changes.SignificantEvents = append(changes.SignificantEvents, models.SignificantEvent{
				Kind: models.EventRoundChange, MatchID: match.MatchID, Round: match.Round, Timestamp: ts,
			})
		}
		if old.TeamCTScore != match.TeamCTScore {
			changes.Match["team_ct_score"] = true
		}
		if old.TeamTScore != match.TeamTScore {
			changes.Match["team_t_score"] = true
		}
		if old.Phase != "gameover" && match.Phase == "gameover" {
			changes.SignificantEvents = append(changes.SignificantEvents, models.SignificantEvent{
				Kind: models.EventMatchEnd, MatchID: match.MatchID, WinTeam: "", Timestamp: ts,
			})
		}
	}

	if round != nil && e.roundState != nil {
		old := e.roundState
		if old.Phase != round.Phase {
			changes.Round["phase"] = true
			if old.Phase != "over" && round.Phase == "over" {
				var matchID string
				if match != nil {
					matchID = match.MatchID
				}
				changes.SignificantEvents = append(changes.SignificantEvents, models.SignificantEvent{
					Kind: models.EventRoundOver, MatchID: matchID, Round: round.RoundNumber,
					WinTeam: round.WinTeam, Condition: round.WinCondition, Timestamp: ts,
				})
			}
		}
		if old.WinTeam != round.WinTeam {
			changes.Round["win_team"] = true
		}
		if old.BombState != round.BombState {
			changes.Round["bomb_state"] = true
			if old.BombState != "planted" && round.BombState == "planted" {
				changes.SignificantEvents = append(changes.SignificantEvents, models.SignificantEvent{
					Kind: models.EventBombPlanted, Round: round.RoundNumber, Timestamp: ts,
				})
			}
		}
	}

	if player != nil {
		if old, ok := e.playerStates[player.SteamID]; ok {
			diffPlayerFields(old, *player, changes.Player)
			if player.RoundKills > old.RoundKills {
				weapon := ""
				if w, ok := activeWeapon(weapons); ok {
					weapon = w.Name
				}
				var matchID string
				if match != nil {
					matchID = match.MatchID
				}
				changes.SignificantEvents = append(changes.SignificantEvents, models.SignificantEvent{
					Kind: models.EventPlayerKill, MatchID: matchID, SteamID: player.SteamID,
					Weapon: weapon, Delta: player.RoundKills - old.RoundKills, Timestamp: ts,
				})
			}
		}
	}

	for slot, w := range weapons {
		old, existed := e.weaponStates[slot]
		d := models.FieldDeltas{}
		if !existed {
			d["added"] = true
		} else {
			if old.State != w.State {
				d["state"] = true
				if old.State != "active" && w.State == "active" {
					changes.SignificantEvents = append(changes.SignificantEvents, models.SignificantEvent{
						Kind: models.EventWeaponActivate, SteamID: playerSteamID(player), Weapon: w.Name, Timestamp: ts,
					})
				}
			}
			if !intPtrEqual(old.AmmoClip, w.AmmoClip) {
				d["ammo_clip"] = true
			}
			if !intPtrEqual(old.AmmoReserve, w.AmmoReserve) {
				d["ammo_reserve"] = true
			}
		}
		if len(d) > 0 {
			changes.Weapons[slot] = d
		}
	}
	for slot := range e.weaponStates {
		if _, stillPresent := weapons[slot]; !stillPresent {
			changes.Weapons[slot] = models.FieldDeltas{"removed": true}
		}
	}

	return changes
}

func diffPlayerFields(old, new models.PlayerState, out models.FieldDeltas) {
	if old.Health != new.Health {
		out["health"] = true
	}
	if old.Armor != new.Armor {
		out["armor"] = true
	}
	if old.Money != new.Money {
		out["money"] = true
	}
	if old.EquipValue != new.EquipValue {
		out["equip_value"] = true
	}
	if old.RoundKills != new.RoundKills {
		out["round_kills"] = true
	}
	if old.Team != new.Team {
		out["team"] = true
	}
	if old.MatchKills != new.MatchKills {
		out["match_kills"] = true
	}
	if old.MatchDeaths != new.MatchDeaths {
		out["match_deaths"] = true
	}
	if old.MatchAssists != new.MatchAssists {
		out["match_assists"] = true
	}
	if old.MatchScore != new.MatchScore {
		out["match_score"] = true
	}
}

func activeWeapon(weapons map[string]models.WeaponState) (models.WeaponState, bool) {
	for _, w := range weapons {
		if w.State == "active" {
			return w, true
		}
	}
	return models.WeaponState{}, false
}

func playerSteamID(p *models.PlayerState) string {
	if p == nil {
		return ""
	}
	return p.SteamID
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// updateInternalState commits the freshly-parsed sub-states as the new
// "prior" state, and maintains round_history per spec.md §4.3 step 7: when
// a round transitions to over with a known winner, the state that reached
// that transition is stashed keyed by the just-completed round number.
func (e *Extractor) updateInternalState(match *models.MatchState, round *models.RoundState, player *models.PlayerState, weapons map[string]models.WeaponState) {
	if match != nil {
		e.matchState = match
	}
	if player != nil {
		e.playerStates[player.SteamID] = *player
	}
	for slot, w := range weapons {
		e.weaponStates[slot] = w
	}

	if round != nil {
		priorPhase := ""
		if e.roundState != nil {
			priorPhase = e.roundState.Phase
		}
		if priorPhase != "over" && round.Phase == "over" && round.WinTeam != "" {
			// The round whose own phase just reached "over" is the one
			// that just completed — its RoundNumber hasn't advanced yet,
			// so it is stored under its own number (spec.md §4.3 step 7:
			// the "just-completed round number" referenced there is this
			// round's number, seen from the match processor's round
			// transition as new_round_number − 1).
			e.roundHistory[round.RoundNumber] = *round
		}
		e.roundState = round
	}
}
