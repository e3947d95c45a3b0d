// Package game is the turn-based impulse combat simulation: two players push
// circular entities across a square field, entities coast under friction until
// everything stops, and collisions during a turn eliminate the waiting
// player's entities.
//
// An Engine has no clock and no locks. The owner calls Step once per simulated
// step and Dispatch whenever an actor acts, never both at the same time.
package game

import (
	"errors"
	"fmt"
)

// Config holds the constructor-time constants of a game
type Config struct {
	PlayerIDs     [2]string
	FieldSize     float64
	Friction      float64 // per-step velocity multiplier, in (0, 1)
	SnapThreshold float64 // squared speed below which velocity snaps to zero
	Radius        float64
	Thrust        float64
	Roster        []Spawn // nil means DefaultRoster(PlayerIDs)
}

// DefaultConfig returns the standard 500x500 two-player setup
func DefaultConfig() Config {
	return Config{
		PlayerIDs:     [2]string{"player1", "player2"},
		FieldSize:     500,
		Friction:      DefaultFriction,
		SnapThreshold: DefaultSnapThreshold,
		Radius:        DefaultRadius,
		Thrust:        DefaultThrust,
	}
}

// Validate checks the invariants New relies on
func (c Config) Validate() error {
	if c.PlayerIDs[0] == "" || c.PlayerIDs[1] == "" {
		return errors.New("player ids must not be empty")
	}
	if c.PlayerIDs[0] == c.PlayerIDs[1] {
		return fmt.Errorf("player ids must differ, both are %q", c.PlayerIDs[0])
	}
	if c.FieldSize <= 0 {
		return fmt.Errorf("field size must be positive, got %v", c.FieldSize)
	}
	if c.Friction <= 0 || c.Friction >= 1 {
		return fmt.Errorf("friction must be in (0, 1), got %v", c.Friction)
	}
	if c.SnapThreshold <= 0 {
		return fmt.Errorf("snap threshold must be positive, got %v", c.SnapThreshold)
	}
	if c.Radius <= 0 || c.Thrust <= 0 {
		return fmt.Errorf("radius and thrust must be positive, got %v and %v", c.Radius, c.Thrust)
	}
	for i, s := range c.Roster {
		if s.Owner != c.PlayerIDs[0] && s.Owner != c.PlayerIDs[1] {
			return fmt.Errorf("roster[%d]: owner %q is not a player", i, s.Owner)
		}
	}
	return nil
}

// Engine owns the whole game state
type Engine struct {
	cfg      Config
	ids      IDGenerator
	entities []*Entity
	byID     map[int]*Entity
	turn     int
	process  Process
	winner   string
	bus      Bus
	busy     bool
}

// New creates a game at turn 0, idle, with the configured roster
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid game config: %w", err)
	}
	roster := cfg.Roster
	if roster == nil {
		roster = DefaultRoster(cfg.PlayerIDs)
	}
	e := &Engine{
		cfg:      cfg,
		entities: make([]*Entity, 0, len(roster)),
		byID:     make(map[int]*Entity, len(roster)),
		process:  ProcessIdle,
	}
	for _, s := range roster {
		ent := newEntity(&e.ids, s, cfg.Radius, cfg.Thrust)
		e.entities = append(e.entities, ent)
		e.byID[ent.ID] = ent
	}
	return e, nil
}

// Step advances the simulation by one step: integrate, cull, collide, then
// check for gameover and turn completion. Once the game is over it does nothing.
func (e *Engine) Step() error {
	if e.busy {
		return ErrReentrant
	}
	if e.process == ProcessGameOver {
		return nil
	}
	e.busy = true
	defer func() { e.busy = false }()

	integrate(e.entities, e.cfg.Friction, e.cfg.SnapThreshold)
	e.cullOutOfBounds()
	e.resolveCollisions()
	e.checkGameOver()
	e.settle()
	return nil
}

// Subscribe registers an event handler
func (e *Engine) Subscribe(h Handler) *Subscription {
	return e.bus.Subscribe(h)
}

// Unsubscribe removes a handler registration
func (e *Engine) Unsubscribe(sub *Subscription) bool {
	return e.bus.Unsubscribe(sub)
}

func (e *Engine) emit(kind EventKind, payload any) {
	e.bus.Emit(Event{Kind: kind, Payload: payload})
}

func (e *Engine) lookup(id int) *Entity {
	return e.byID[id]
}

// Config returns the configuration the engine was built with
func (e *Engine) Config() Config { return e.cfg }

// Turn returns the number of completed turns
func (e *Engine) Turn() int { return e.turn }

// Process returns the current phase
func (e *Engine) Process() Process { return e.process }

// Winner returns the winning player once the game is over
func (e *Engine) Winner() string { return e.winner }

// PlayerIDs returns both players in seat order
func (e *Engine) PlayerIDs() [2]string { return e.cfg.PlayerIDs }

// ActivePlayer returns the player whose turn it is
func (e *Engine) ActivePlayer() string {
	return e.cfg.PlayerIDs[e.turn%len(e.cfg.PlayerIDs)]
}

// Entity returns a copy of the entity with the given id
func (e *Engine) Entity(id int) (Entity, bool) {
	ent := e.lookup(id)
	if ent == nil {
		return Entity{}, false
	}
	return *ent, true
}

// Entities returns copies of all entities in roster order, dead ones included
func (e *Engine) Entities() []Entity {
	out := make([]Entity, len(e.entities))
	for i, ent := range e.entities {
		out[i] = *ent
	}
	return out
}

// State is an immutable snapshot of a game, for renderers and external agents
type State struct {
	Turn      int       `json:"turn" msgpack:"turn"`
	Process   Process   `json:"process" msgpack:"process"`
	PlayerIDs [2]string `json:"playerIds" msgpack:"players"`
	Active    string    `json:"active" msgpack:"active"`
	Winner    string    `json:"winner,omitempty" msgpack:"winner,omitempty"`
	FieldSize float64   `json:"fieldSize" msgpack:"field"`
	Friction  float64   `json:"k" msgpack:"k"`
	Entities  []Entity  `json:"entities" msgpack:"entities"`
}

// Snapshot copies the current state
func (e *Engine) Snapshot() State {
	return State{
		Turn:      e.turn,
		Process:   e.process,
		PlayerIDs: e.cfg.PlayerIDs,
		Active:    e.ActivePlayer(),
		Winner:    e.winner,
		FieldSize: e.cfg.FieldSize,
		Friction:  e.cfg.Friction,
		Entities:  e.Entities(),
	}
}

// LiveEntities returns the snapshot's live entities, optionally only those of one owner
func (s State) LiveEntities(owner string) []Entity {
	var out []Entity
	for _, ent := range s.Entities {
		if !ent.Live || (owner != "" && ent.Owner != owner) {
			continue
		}
		out = append(out, ent)
	}
	return out
}
