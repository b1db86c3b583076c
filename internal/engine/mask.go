package engine

import (
	"sort"

	"github.com/talgya/socialgrid/internal/agents"
	"github.com/talgya/socialgrid/internal/world"
)

// Mask lists the commands an agent can usefully issue on the next tick.
// During the negotiation phase only bargaining moves are open; afterwards
// physical actions are filtered by feasibility.
type Mask struct {
	Tags    map[string]bool  `json:"tags"`
	Invite  []agents.AgentID `json:"invite,omitempty"`
	Partner *agents.AgentID  `json:"partner,omitempty"`
	Pick    []string         `json:"pick,omitempty"`
	Dump    []string         `json:"dump,omitempty"`
}

// Allows reports whether tag is open.
func (m Mask) Allows(tag string) bool {
	return m.Tags[tag]
}

// Mask computes agent id's mask for the tick about to run.
func (g *Game) Mask(id agents.AgentID) Mask {
	m := Mask{Tags: map[string]bool{"no_act": true}}
	a, ok := g.index[id]
	if !ok {
		return m
	}
	tick := g.Steps
	if tick < g.Negotiation.Steps {
		if partner, ok := g.Social.BargainingPartner(id); ok {
			m.Partner = &partner
			if g.Social.IsTurn(id, partner, tick) {
				m.Tags["propose"] = true
				if !g.Social.MustPropose(id, partner) {
					m.Tags["end_bargaining"] = true
				}
				if _, ok := g.Social.Proposal(partner, id); ok {
					m.Tags["accept_proposal"] = true
				}
			}
			return m
		}
		m.Invite = g.Social.FindInvitable(id)
		if len(m.Invite) > 0 {
			m.Tags["request_matching"] = true
		}
		return m
	}

	for _, tag := range []string{"move", "move_up", "move_down", "move_left", "move_right"} {
		m.Tags[tag] = true
	}
	for _, r := range g.Ground.Stack(a.Pos) {
		if r.CheckVisible(a.Inventory) && a.Inventory.Room(r.Name) > 0 {
			m.Pick = appendUnique(m.Pick, r.Name)
		}
	}
	if len(m.Pick) > 0 {
		m.Tags["pick_by_name"] = true
		if top := g.Ground.Top(a.Pos); top != nil && top.CheckVisible(a.Inventory) && a.Inventory.Room(top.Name) > 0 {
			m.Tags["pick"] = true
		}
	}
	if m.Dump = a.Inventory.Names(); len(m.Dump) > 0 {
		m.Tags["dump_by_name"] = true
	}
	if g.canProduce(a) {
		m.Tags["produce"] = true
	}
	return m
}

// canProduce mirrors the checks the produce command makes.
func (g *Game) canProduce(a *agents.Agent) bool {
	e, ok := g.eventAt[a.Pos]
	if !ok || !e.Available() || !e.CheckVisible(a.Inventory) {
		return false
	}
	for name, n := range e.Inputs {
		if !a.Has(name, n) {
			return false
		}
	}
	return a.Inventory.Fits(e.Outputs)
}

// Situation gathers what a policy needs to decide agent id's next commands.
func (g *Game) Situation(id agents.AgentID) *agents.Situation {
	a := g.index[id]
	s := &agents.Situation{
		Tick:             g.Steps,
		NegotiationSteps: g.Negotiation.Steps,
		ProposalGrid:     g.Negotiation.ClaimProposalInterval,
		Self:             a,
		Invitable:        g.Social.FindInvitable(id),
	}
	if partner, ok := g.Social.BargainingPartner(id); ok {
		s.Bargaining = true
		s.Partner = partner
		s.MyTurn = g.Social.IsTurn(id, partner, g.Steps)
		s.MustPropose = g.Social.MustPropose(id, partner)
		s.Offer, s.HasOffer = g.Social.Proposal(partner, id)
	}

	for _, r := range g.Ground.Stack(a.Pos) {
		if r.CheckVisible(a.Inventory) {
			s.PileHere = r.Name
			s.CanPick = a.Inventory.Room(r.Name) > 0
			break
		}
	}
	s.CanProduce = g.canProduce(a)
	s.Dumpable = a.Inventory.Names()

	w, h := g.Grid.Shape()
	seen := make(map[world.Pos]bool)
	for _, r := range g.Ground.All() {
		if seen[r.Pos] || !a.Visible(r.Pos, g.Grid) || !r.CheckVisible(a.Inventory) || a.Inventory.Room(r.Name) == 0 {
			continue
		}
		seen[r.Pos] = true
		s.Piles = append(s.Piles, world.Pos{X: world.Offset(r.Pos.X-a.Pos.X, w), Y: world.Offset(r.Pos.Y-a.Pos.Y, h)})
	}
	sort.SliceStable(s.Piles, func(i, j int) bool {
		return manhattan(s.Piles[i]) < manhattan(s.Piles[j])
	})
	return s
}

func appendUnique(xs []string, x string) []string {
	for _, e := range xs {
		if e == x {
			return xs
		}
	}
	return append(xs, x)
}

func manhattan(p world.Pos) int {
	return max(p.X, -p.X) + max(p.Y, -p.Y)
}
