package game

// IDGenerator hands out entity identifiers: 0, 1, 2, ... with no gaps and no reuse.
type IDGenerator struct {
	next int
}

// Generate returns the next unused identifier
func (g *IDGenerator) Generate() int {
	id := g.next
	g.next++
	return id
}
