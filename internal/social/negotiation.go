// Bilateral negotiation. A session between two agents lives entirely in the
// attributes of the edges between them:
//
//	matching_request_step  invitation sent on that tick (cleared each tick)
//	parity                 the side whose parity equals tick%2 moves
//	proposal               the fraction the proposer claims for itself
//	accept                 the agreed fraction, one per direction
package social

import (
	"log/slog"
)

// Edge attribute names used by the protocol and the default pipelines.
const (
	AttrMatchingRequest = "matching_request_step"
	AttrParity          = "parity"
	AttrProposal        = "proposal"
	AttrAccept          = "accept"
	AttrDivisionWeight  = "division_weight"
	AttrSharing         = "sharing"
	AttrCommunication   = "communication"
)

// FindInvitable returns the agents that agent may invite: every other agent
// that shares no group with it and is not bargaining with anyone.
func (s *Graph) FindInvitable(agent int) []int {
	if !s.HasAgent(agent) {
		return nil
	}
	var out []int
	for _, other := range s.Agents() {
		if other == agent || s.SharesGroup(agent, other) {
			continue
		}
		if s.bargaining(s.agentNode[other]) {
			continue
		}
		out = append(out, other)
	}
	return out
}

// CanInvite reports whether agent may invite other.
func (s *Graph) CanInvite(agent, other int) bool {
	for _, id := range s.FindInvitable(agent) {
		if id == other {
			return true
		}
	}
	return false
}

// BargainingPartner returns the agent this agent holds an open session with.
func (s *Graph) BargainingPartner(agent int) (int, bool) {
	u, ok := s.agentNode[agent]
	if !ok {
		return 0, false
	}
	for _, v := range s.successors(u) {
		if s.nodes[v].Kind != NodeAgent {
			continue
		}
		if a, ok := s.edgeAttrs(u, v); ok && a.Has(AttrParity) {
			return s.nodes[v].ID, true
		}
	}
	return 0, false
}

// IsBargaining reports whether agent has an open session.
func (s *Graph) IsBargaining(agent int) bool {
	_, ok := s.BargainingPartner(agent)
	return ok
}

// IsTurn reports whether agent may act in its session with partner on tick.
func (s *Graph) IsTurn(agent, partner, tick int) bool {
	v, ok := s.RelationValue(agent, partner, AttrParity)
	if !ok {
		return false
	}
	p, ok := v.Float()
	return ok && int(p) == tick%2
}

// Proposal returns the fraction from has proposed to to.
func (s *Graph) Proposal(from, to int) (float64, bool) {
	v, ok := s.RelationValue(from, to, AttrProposal)
	if !ok {
		return 0, false
	}
	return v.Float()
}

// MustPropose reports whether neither side has a proposal on the table, in
// which case the mover can only propose.
func (s *Graph) MustPropose(agent, partner int) bool {
	_, mine := s.Proposal(agent, partner)
	_, theirs := s.Proposal(partner, agent)
	return !mine && !theirs
}

// RequestMatching records an invitation from agent to other on tick. It does
// nothing when other is not invitable or agent is already bargaining.
func (s *Graph) RequestMatching(agent, other, tick int) (bool, error) {
	if !s.HasAgent(agent) {
		return false, ErrUnknownAgent
	}
	if !s.HasAgent(other) {
		return false, ErrUnknownAgent
	}
	if s.IsBargaining(agent) || !s.CanInvite(agent, other) {
		return false, nil
	}
	return true, s.AddRelation(agent, other, Attr{AttrMatchingRequest, Int(tick)})
}

// Propose puts score on the table. Out of turn it does nothing.
func (s *Graph) Propose(agent, partner, tick int, score float64) (bool, error) {
	if !s.IsTurn(agent, partner, tick) {
		return false, nil
	}
	return true, s.AddRelation(agent, partner, Attr{AttrProposal, Number(score)})
}

// Accept closes the session on the partner's terms. The partner keeps the
// fraction it proposed and agent takes the rest; a non-nil scale overrides
// agent's share. A side that already belongs to a group rescales that
// group's division weights by its fraction and brings its own rescaled
// weight to the deal instead. It does nothing out of turn or without a
// partner proposal.
func (s *Graph) Accept(agent, partner, tick int, scale *float64) (bool, error) {
	if !s.IsTurn(agent, partner, tick) {
		return false, nil
	}
	p, ok := s.Proposal(partner, agent)
	if !ok {
		return false, nil
	}
	mine := 1 - p
	if scale != nil {
		mine = *scale
	}
	theirs := 1 - mine
	if w, ok := s.rescaleGroup(agent, AttrDivisionWeight, mine); ok {
		mine = w
	}
	if w, ok := s.rescaleGroup(partner, AttrDivisionWeight, theirs); ok {
		theirs = w
	}
	if err := s.AddRelation(agent, partner, Attr{AttrAccept, Number(mine)}); err != nil {
		return false, err
	}
	if err := s.AddRelation(partner, agent, Attr{AttrAccept, Number(theirs)}); err != nil {
		return false, err
	}
	s.closeSession(agent, partner)
	slog.Debug("proposal accepted", "agent", agent, "partner", partner, "share", mine, "tick", tick)
	return true, nil
}

// EndBargaining walks away from the session. It does nothing out of turn or
// while neither side has proposed.
func (s *Graph) EndBargaining(agent, partner, tick int) (bool, error) {
	if !s.IsTurn(agent, partner, tick) || s.MustPropose(agent, partner) {
		return false, nil
	}
	s.closeSession(agent, partner)
	slog.Debug("bargaining ended", "agent", agent, "partner", partner, "tick", tick)
	return true, nil
}

// rescaleGroup multiplies attr on every membership of agent's first group
// by f. It returns agent's own rescaled value, if it has one.
func (s *Graph) rescaleGroup(agent int, attr string, f float64) (float64, bool) {
	gids := s.GroupsOf(agent)
	if len(gids) == 0 {
		return 0, false
	}
	u, g, err := s.group(gids[0])
	if err != nil {
		return 0, false
	}
	for _, m := range g.members {
		a, ok := s.edgeAttrs(u, s.agentNode[m])
		if !ok {
			continue
		}
		if v, ok := a.Get(attr); ok {
			a.Set(attr, v.Scale(f))
		}
	}
	m, ok := s.Membership(gids[0], agent)
	if !ok {
		return 0, false
	}
	return m.Float(attr)
}

func (s *Graph) closeSession(a, b int) {
	s.ClearRelation(a, b, AttrProposal, AttrParity)
	s.ClearRelation(b, a, AttrProposal, AttrParity)
}

// FinalSplit returns the attr weight on agent's first group membership, or 1
// when the agent is ungrouped or the membership carries no such weight.
func (s *Graph) FinalSplit(agent int, attr string) float64 {
	for _, gid := range s.GroupsOf(agent) {
		if m, ok := s.Membership(gid, agent); ok {
			if f, ok := m.Float(attr); ok {
				return f
			}
		}
	}
	return 1
}
