package game

import "fmt"

// Process is the turn-phase state of a game
type Process int

const (
	ProcessIdle     Process = iota // nothing moving, commands accepted
	ProcessMove                    // an impulse was applied, waiting for motion to settle
	ProcessGameOver                // terminal
)

func (p Process) String() string {
	switch p {
	case ProcessIdle:
		return "idle"
	case ProcessMove:
		return "move"
	case ProcessGameOver:
		return "gameover"
	default:
		return fmt.Sprintf("process(%d)", int(p))
	}
}

// MarshalText encodes the process as its name, for JSON and msgpack payloads
func (p Process) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a process name
func (p *Process) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*p = ProcessIdle
	case "move":
		*p = ProcessMove
	case "gameover":
		*p = ProcessGameOver
	default:
		return fmt.Errorf("unknown process %q", b)
	}
	return nil
}

// settle passes the turn once every entity has come to rest after a move
func (e *Engine) settle() {
	if e.process != ProcessMove {
		return
	}
	for _, ent := range e.entities {
		if ent.Live && !ent.Stopped() {
			return
		}
	}
	e.process = ProcessIdle
	e.turn++
	e.emit(EventTurnChanged, TurnChanged{Turn: e.turn})
}
