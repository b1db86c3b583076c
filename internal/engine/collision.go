package engine

import (
	"github.com/talgya/socialgrid/internal/agents"
	"github.com/talgya/socialgrid/internal/world"
)

// resolveCollisions settles the tick's pending moves so that no two agents
// end up on the same cell. Moves into blocked cells are undone first. A cell
// held by an agent that stays put is taken, and every mover heading there is
// sent back; that in turn takes the mover's own cell, cascading. Cells that
// several movers converge on go to one of them, chosen at random.
func (g *Game) resolveCollisions() {
	taken := make(map[world.Pos]bool, len(g.Agents))
	heading := make(map[world.Pos][]*agents.Agent)
	var order []world.Pos

	// bounce sends every mover heading to p back home. Winners already
	// settled on p are bounced too, so a late undo can never leave two
	// agents on one cell.
	var bounce func(p world.Pos)
	bounce = func(p world.Pos) {
		movers := heading[p]
		delete(heading, p)
		for _, a := range movers {
			a.Undo()
			taken[a.Pos] = true
			bounce(a.Pos)
		}
	}

	for _, a := range g.Agents {
		if a.Moved && (a.Next == a.Pos || g.Grid.IsBlocked(a.Next)) {
			a.Undo()
		}
		if !a.Moved || taken[a.Next] {
			a.Undo()
			taken[a.Pos] = true
			bounce(a.Pos)
			continue
		}
		if _, ok := heading[a.Next]; !ok {
			order = append(order, a.Next)
		}
		heading[a.Next] = append(heading[a.Next], a)
	}

	for _, p := range order {
		movers, ok := heading[p]
		if !ok || len(movers) == 0 {
			continue
		}
		g.Rand.Shuffle(len(movers), func(i, j int) { movers[i], movers[j] = movers[j], movers[i] })
		winner := movers[len(movers)-1]
		heading[p] = []*agents.Agent{winner}
		taken[p] = true
		for _, a := range movers[:len(movers)-1] {
			a.Undo()
			taken[a.Pos] = true
			bounce(a.Pos)
		}
	}
}
