package game

// EventKind names a domain event. The values double as wire message types.
type EventKind string

const (
	EventEntityOut         EventKind = "entity-out"
	EventEntityKilled      EventKind = "entity-killed"
	EventGameOver          EventKind = "gameover"
	EventTurnChanged       EventKind = "turn-changed"
	EventDispatched        EventKind = "dispatched"
	EventInvalidAction     EventKind = "invalid-action"
	EventEntityAccelerated EventKind = "entity-accelerated"
)

// Event is what subscribers receive. Payload holds one of the payload types
// below, matching Kind.
type Event struct {
	Kind    EventKind
	Payload any
}

// EntityOut is emitted when a live entity leaves the field
type EntityOut struct {
	Entity Entity `json:"entity" msgpack:"entity"`
}

// EntityKilled is emitted when a collision eliminates a non-active player's entity
type EntityKilled struct {
	Killer Entity `json:"killer" msgpack:"killer"`
	Victim Entity `json:"victim" msgpack:"victim"`
}

// GameOver is emitted once, when some player has no live entity left.
// WinnerID is empty if nobody has a live entity.
type GameOver struct {
	WinnerID string `json:"winnerId" msgpack:"winnerId"`
}

// TurnChanged carries the new turn number after all motion settled
type TurnChanged struct {
	Turn int `json:"turn" msgpack:"turn"`
}

// Dispatched echoes every command handed to Dispatch, before validation
type Dispatched struct {
	Command Command `json:"command" msgpack:"command"`
}

// InvalidAction carries the reason a command was rejected
type InvalidAction struct {
	Message string `json:"message" msgpack:"message"`
}

// Point is a field coordinate
type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// EntityAccelerated is emitted after an accepted command was applied
type EntityAccelerated struct {
	Entity         Entity `json:"entity" msgpack:"entity"`
	TargetPosition Point  `json:"targetPosition" msgpack:"targetPosition"`
}

// Handler receives events synchronously on the emitting goroutine
type Handler func(Event)

// Subscription identifies one registration on a Bus
type Subscription struct {
	handler Handler
}

// Bus is a synchronous, ordered publish/subscribe registry. Handlers run in
// registration order inside Emit; a panicking handler propagates to the emitter.
// Bus is not safe for concurrent use.
type Bus struct {
	subs []*Subscription
}

// Subscribe registers h and returns the subscription to pass to Unsubscribe
func (b *Bus) Subscribe(h Handler) *Subscription {
	sub := &Subscription{handler: h}
	b.subs = append(b.subs, sub)
	return sub
}

// Unsubscribe removes the registration. It reports false if sub was not registered.
func (b *Bus) Unsubscribe(sub *Subscription) bool {
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered handlers
func (b *Bus) Len() int {
	return len(b.subs)
}

// Emit delivers ev to every handler registered when Emit was called.
// Registrations changed by a handler take effect from the next Emit.
func (b *Bus) Emit(ev Event) {
	subs := b.subs
	for _, s := range subs {
		s.handler(ev)
	}
}
