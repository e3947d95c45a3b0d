package game

import (
	"errors"
	"math"
)

// Rejection reasons carried by invalid-action events
const (
	ReasonNotIdle   = "cannot act while not idle"
	ReasonGameOver  = "game is over"
	ReasonNoEntity  = "no such entity"
	ReasonNotTurn   = "not your turn"
	ReasonDeadActor = "dead entities cannot act"
	ReasonBadTarget = "target must be a finite point"
)

var (
	// ErrRejected matches every *RejectedError
	ErrRejected = errors.New("command rejected")
	// ErrReentrant is returned when Step or Dispatch is called from inside an event handler
	ErrReentrant = errors.New("engine call from inside an event handler")
)

// Command asks to push an entity toward a destination point on the field.
// TargetY/TargetX are absolute coordinates, not deltas.
type Command struct {
	EntityID int     `json:"entityId" msgpack:"entityId"`
	TargetY  float64 `json:"targetY" msgpack:"targetY"`
	TargetX  float64 `json:"targetX" msgpack:"targetX"`
}

// RejectedError reports why Dispatch refused a command
type RejectedError struct {
	Command Command
	Reason  string
}

func (e *RejectedError) Error() string {
	return "command rejected: " + e.Reason
}

// Is makes errors.Is(err, ErrRejected) hold
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Dispatch validates cmd against the current state and, if valid, applies the
// impulse and moves the game into the move phase. It always emits dispatched,
// followed by exactly one of invalid-action or entity-accelerated.
func (e *Engine) Dispatch(cmd Command) error {
	if e.busy {
		return ErrReentrant
	}
	e.busy = true
	defer func() { e.busy = false }()

	e.emit(EventDispatched, Dispatched{Command: cmd})

	ent, reason := e.validate(cmd)
	if reason != "" {
		e.emit(EventInvalidAction, InvalidAction{Message: reason})
		return &RejectedError{Command: cmd, Reason: reason}
	}

	angle := math.Atan2(cmd.TargetY-ent.Y, cmd.TargetX-ent.X)
	ent.VX += math.Cos(angle) * ent.P
	ent.VY += math.Sin(angle) * ent.P
	e.process = ProcessMove

	e.emit(EventEntityAccelerated, EntityAccelerated{
		Entity:         *ent,
		TargetPosition: Point{X: cmd.TargetX, Y: cmd.TargetY},
	})
	return nil
}

// Finite reports whether the target is a real point on the plane
func (c Command) Finite() bool {
	return !math.IsNaN(c.TargetX) && !math.IsInf(c.TargetX, 0) &&
		!math.IsNaN(c.TargetY) && !math.IsInf(c.TargetY, 0)
}

// validate applies the checks in order: phase, existence, ownership, liveness, target.
// Existence is checked before ownership so a missing entity is never dereferenced.
func (e *Engine) validate(cmd Command) (*Entity, string) {
	switch e.process {
	case ProcessIdle:
	case ProcessGameOver:
		return nil, ReasonGameOver
	default:
		return nil, ReasonNotIdle
	}
	ent := e.lookup(cmd.EntityID)
	if ent == nil {
		return nil, ReasonNoEntity
	}
	if ent.Owner != e.ActivePlayer() {
		return nil, ReasonNotTurn
	}
	if !ent.Live {
		return nil, ReasonDeadActor
	}
	if !cmd.Finite() {
		return nil, ReasonBadTarget
	}
	return ent, ""
}
