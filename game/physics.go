package game

const (
	DefaultFriction      = 0.875
	DefaultSnapThreshold = 0.001
)

// integrate advances every entity by one step: position first, then friction.
// Dead entities are included; the step an entity dies on already carries
// that step's motion.
func integrate(entities []*Entity, friction, snap float64) {
	for _, ent := range entities {
		ent.X += ent.VX
		ent.Y += ent.VY

		ent.VX *= friction
		ent.VY *= friction
		if ent.VX*ent.VX+ent.VY*ent.VY < snap {
			ent.VX = 0
			ent.VY = 0
		}
	}
}

// InBounds reports whether (x, y) lies on the closed square [0, size]²
func InBounds(x, y, size float64) bool {
	return x >= 0 && x <= size && y >= 0 && y <= size
}

// cullOutOfBounds deactivates live entities that left the field
func (e *Engine) cullOutOfBounds() {
	for _, ent := range e.entities {
		if !ent.Live || InBounds(ent.X, ent.Y, e.cfg.FieldSize) {
			continue
		}
		ent.kill()
		e.emit(EventEntityOut, EntityOut{Entity: *ent})
	}
}
