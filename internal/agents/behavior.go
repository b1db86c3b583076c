// Scripted behavior: a rule-based policy. Every tick the agent looks at its
// situation and picks the most urgent thing to do.
package agents

import (
	"math"

	"github.com/talgya/socialgrid/internal/entropy"
	"github.com/talgya/socialgrid/internal/world"
)

// Situation is what a policy sees of the world on one tick. The
// orchestrator fills it from the same state observations are built from.
type Situation struct {
	Tick             int
	NegotiationSteps int // ticks at the start of an episode reserved for bargaining
	ProposalGrid     int // proposals are k/(ProposalGrid+1)

	Self *Agent

	// Bargaining
	Invitable   []AgentID
	Partner     AgentID
	Bargaining  bool
	MyTurn      bool
	MustPropose bool
	Offer       float64 // partner's claimed fraction, when HasOffer
	HasOffer    bool

	// Physical
	PileHere   string      // name of the accessible visible pile on the cell, if any
	CanPick    bool        // PileHere fits in the inventory
	CanProduce bool        // an available event with satisfied inputs is on the cell
	Piles      []world.Pos // visible pile offsets relative to Self, nearest first
	Dumpable   []string    // carried resource names
}

// Policy decides one tick's commands for an agent.
type Policy interface {
	Decide(s *Situation) []Command
}

// Scripted is the built-in rule-based policy. Accept is the smallest share
// it settles for; it asks for Greed of the pie when it has to propose.
type Scripted struct {
	Accept float64
	Greed  float64
	rng    *entropy.Source
}

// NewScripted creates a scripted policy drawing from rng.
func NewScripted(rng *entropy.Source) *Scripted {
	return &Scripted{Accept: 0.4, Greed: 0.6, rng: rng}
}

// Decide routes by phase: bargaining first, then gathering.
func (p *Scripted) Decide(s *Situation) []Command {
	if s.Tick < s.NegotiationSteps {
		return []Command{p.decideBargain(s)}
	}
	return []Command{p.decideGather(s)}
}

func (p *Scripted) decideBargain(s *Situation) Command {
	if s.Bargaining {
		if !s.MyTurn {
			return NoAct{}
		}
		if s.HasOffer && !s.MustPropose && 1-s.Offer >= p.Accept {
			return AcceptProposal{To: s.Partner}
		}
		return Propose{To: s.Partner, Score: snap(p.Greed, s.ProposalGrid)}
	}
	if len(s.Invitable) > 0 {
		return RequestMatching{To: s.Invitable[p.rng.Intn(len(s.Invitable))]}
	}
	return NoAct{}
}

func (p *Scripted) decideGather(s *Situation) Command {
	if s.CanProduce {
		return Produce{}
	}
	if s.PileHere != "" && s.CanPick {
		return PickByName{Resource: s.PileHere}
	}
	for _, off := range s.Piles {
		if off.X == 0 && off.Y == 0 {
			continue
		}
		return step(off)
	}
	return randomMove(p.rng)
}

// snap rounds x onto the proposal grid k/(n+1), k in 1..n.
func snap(x float64, n int) float64 {
	if n <= 0 {
		return x
	}
	k := math.Round(x * float64(n+1))
	k = math.Max(1, math.Min(float64(n), k))
	return k / float64(n+1)
}

// ProposalGrid lists every legal proposal value for n.
func ProposalGrid(n int) []float64 {
	out := make([]float64, 0, n)
	for k := 1; k <= n; k++ {
		out = append(out, float64(k)/float64(n+1))
	}
	return out
}

// step moves one cell toward off, horizontal first.
func step(off world.Pos) Command {
	switch {
	case off.X > 0:
		return Move{1, 0}
	case off.X < 0:
		return Move{-1, 0}
	case off.Y > 0:
		return Move{0, 1}
	default:
		return Move{0, -1}
	}
}

func randomMove(rng *entropy.Source) Command {
	switch rng.Intn(5) {
	case 0:
		return Move{0, -1}
	case 1:
		return Move{0, 1}
	case 2:
		return Move{-1, 0}
	case 3:
		return Move{1, 0}
	}
	return NoAct{}
}
