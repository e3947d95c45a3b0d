package game

const (
	DefaultRadius = 10.0
	DefaultThrust = 15.0
)

// Entity is one circular combat unit on the field.
// Entities are never removed from the roster, only deactivated.
type Entity struct {
	ID    int     `json:"id" msgpack:"id"`
	Owner string  `json:"owner" msgpack:"o"`
	X     float64 `json:"x" msgpack:"x"`
	Y     float64 `json:"y" msgpack:"y"`
	VX    float64 `json:"vx" msgpack:"vx"`
	VY    float64 `json:"vy" msgpack:"vy"`
	R     float64 `json:"r" msgpack:"r"` // collision radius
	P     float64 `json:"p" msgpack:"p"` // impulse per accepted command
	Live  bool    `json:"isLive" msgpack:"a"`
}

// Spawn describes where one entity of the starting roster is placed
type Spawn struct {
	Owner string
	X, Y  float64
}

// Stopped reports whether the entity has settled to exactly zero velocity
func (e *Entity) Stopped() bool {
	return e.VX == 0 && e.VY == 0
}

// kill deactivates the entity. A dead entity's velocity no longer matters,
// so it is cleared and the entity counts as settled from then on.
func (e *Entity) kill() {
	e.Live = false
	e.VX = 0
	e.VY = 0
}

// DefaultRoster returns the six starting positions: three per player,
// the first player's row at y=100 and the second's at y=400.
func DefaultRoster(players [2]string) []Spawn {
	roster := make([]Spawn, 0, 6)
	for i, y := range []float64{100, 400} {
		for _, x := range []float64{200, 250, 300} {
			roster = append(roster, Spawn{Owner: players[i], X: x, Y: y})
		}
	}
	return roster
}

// newEntity creates a live, resting entity with default radius and thrust
func newEntity(ids *IDGenerator, s Spawn, radius, thrust float64) *Entity {
	return &Entity{
		ID:    ids.Generate(),
		Owner: s.Owner,
		X:     s.X,
		Y:     s.Y,
		R:     radius,
		P:     thrust,
		Live:  true,
	}
}
