package game

import "math"

// CheckCollision checks if two circles overlap. Touching circles do not.
func CheckCollision(x1, y1, r1, x2, y2, r2 float64) bool {
	return math.Hypot(x2-x1, y2-y1) < r1+r2
}

// Overlaps reports whether two entities' circles overlap
func Overlaps(a, b *Entity) bool {
	return CheckCollision(a.X, a.Y, a.R, b.X, b.Y, b.R)
}

// resolveCollisions walks every ordered pair of live, opposing entities in
// roster order. Of an overlapping pair, only entities not owned by the active
// player die. Liveness is re-read per pair, so an entity killed earlier in the
// pass takes no part in later pairs.
func (e *Engine) resolveCollisions() {
	active := e.ActivePlayer()
	for _, a := range e.entities {
		for _, b := range e.entities {
			if a == b || !a.Live || !b.Live || a.Owner == b.Owner {
				continue
			}
			if !Overlaps(a, b) {
				continue
			}
			if a.Owner != active {
				a.kill()
				e.emit(EventEntityKilled, EntityKilled{Killer: *b, Victim: *a})
			}
			if b.Owner != active && b.Live {
				b.kill()
				e.emit(EventEntityKilled, EntityKilled{Killer: *a, Victim: *b})
			}
		}
	}
}

// checkGameOver ends the game once some player has no live entity left.
// The winner is the first player, in seat order, that still has one.
func (e *Engine) checkGameOver() {
	eliminated := false
	winner := ""
	for _, id := range e.cfg.PlayerIDs {
		if e.playerLive(id) {
			if winner == "" {
				winner = id
			}
			continue
		}
		eliminated = true
	}
	if !eliminated {
		return
	}
	e.process = ProcessGameOver
	e.winner = winner
	e.emit(EventGameOver, GameOver{WinnerID: winner})
}

func (e *Engine) playerLive(playerID string) bool {
	for _, ent := range e.entities {
		if ent.Owner == playerID && ent.Live {
			return true
		}
	}
	return false
}
