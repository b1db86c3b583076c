package economy

import (
	"sort"

	"github.com/talgya/socialgrid/internal/world"
)

// Ground holds the ownership stack of every cell that has piles on it.
// The most recently laid pile sits on top and is the one Provide draws from.
type Ground struct {
	top map[world.Pos]*Resource
}

// NewGround creates empty ground.
func NewGround() *Ground {
	return &Ground{top: make(map[world.Pos]*Resource)}
}

// Lay pushes r onto the stack at p.
func (g *Ground) Lay(r *Resource, p world.Pos) {
	r.Pos = p
	r.below = g.top[p]
	g.top[p] = r
}

// Top returns the accessible pile at p, or nil.
func (g *Ground) Top(p world.Pos) *Resource {
	return g.top[p]
}

// BubbleUp moves the first pile named name to the top of p's stack, keeping
// the relative order of the other piles, and returns it. Returns nil when the
// cell holds no such pile.
func (g *Ground) BubbleUp(p world.Pos, name string) *Resource {
	head := g.top[p]
	if head == nil {
		return nil
	}
	if head.Name == name {
		return head
	}
	prev := head
	for cur := head.below; cur != nil; prev, cur = cur, cur.below {
		if cur.Name == name {
			prev.below = cur.below
			cur.below = head
			g.top[p] = cur
			return cur
		}
	}
	return nil
}

// Provide takes up to n units from the top pile at p. The pile is unlinked
// once it is empty. Returns nil when the cell is empty.
func (g *Ground) Provide(p world.Pos, n int) *Resource {
	head := g.top[p]
	if head == nil {
		return nil
	}
	out := head.Provide(n)
	if !head.Available() {
		g.unlinkTop(p)
	}
	return out
}

func (g *Ground) unlinkTop(p world.Pos) {
	head := g.top[p]
	if head.below != nil {
		g.top[p] = head.below
	} else {
		delete(g.top, p)
	}
	head.below = nil
}

// Stack returns the piles at p from top to bottom.
func (g *Ground) Stack(p world.Pos) []*Resource {
	var out []*Resource
	for r := g.top[p]; r != nil; r = r.below {
		out = append(out, r)
	}
	return out
}

// Amount sums every pile at p.
func (g *Ground) Amount(p world.Pos) int {
	total := 0
	for r := g.top[p]; r != nil; r = r.below {
		total += r.Amount
	}
	return total
}

// Positions returns the occupied cells in row-major order.
func (g *Ground) Positions() []world.Pos {
	out := make([]world.Pos, 0, len(g.top))
	for p := range g.top {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

// All returns every pile, cell by cell in row-major order, top first.
func (g *Ground) All() []*Resource {
	var out []*Resource
	for _, p := range g.Positions() {
		out = append(out, g.Stack(p)...)
	}
	return out
}

// Total sums the units of every pile on the ground.
func (g *Ground) Total() int {
	total := 0
	for _, head := range g.top {
		for r := head; r != nil; r = r.below {
			total += r.Amount
		}
	}
	return total
}
