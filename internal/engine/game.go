// Game ties the grid, the economy, the agents and the social graph together
// and runs one tick at a time.
package engine

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/talgya/socialgrid/internal/agents"
	"github.com/talgya/socialgrid/internal/economy"
	"github.com/talgya/socialgrid/internal/entropy"
	"github.com/talgya/socialgrid/internal/social"
	"github.com/talgya/socialgrid/internal/world"
)

// Negotiation holds the bargaining phase settings.
type Negotiation struct {
	Steps                 int `json:"negotiation_steps"`
	ClaimProposalInterval int `json:"claim_proposal_interval"`
}

// Game holds the complete world state of one episode.
type Game struct {
	Grid   *world.Grid
	Ground *economy.Ground
	Events []*economy.Event
	Agents []*agents.Agent
	Social *social.Graph
	Kinds  economy.Catalog
	Rand   *entropy.Source

	Steps       int
	MaxLength   int
	Negotiation Negotiation

	pre, post social.Pipeline
	scheduler *social.Scheduler

	index    map[agents.AgentID]*agents.Agent
	eventAt  map[world.Pos]*economy.Event
	occupied map[world.Pos]agents.AgentID
	checks   map[agents.AgentID][]bool // check_relation results of the last tick
}

// NewGame assembles a game. Agents are sorted by ID; the social graph must
// already hold every agent.
func NewGame(grid *world.Grid, ground *economy.Ground, events []*economy.Event, ags []*agents.Agent, graph *social.Graph, rng *entropy.Source) *Game {
	sort.Slice(ags, func(i, j int) bool { return ags[i].ID < ags[j].ID })
	g := &Game{
		Grid:     grid,
		Ground:   ground,
		Events:   events,
		Agents:   ags,
		Social:   graph,
		Rand:     rng,
		index:    make(map[agents.AgentID]*agents.Agent, len(ags)),
		eventAt:  make(map[world.Pos]*economy.Event, len(events)),
		occupied: make(map[world.Pos]agents.AgentID, len(ags)),
		checks:   make(map[agents.AgentID][]bool),
	}
	for _, a := range ags {
		g.index[a.ID] = a
		g.occupied[a.Pos] = a.ID
	}
	for _, e := range events {
		g.eventAt[e.Pos] = e
	}
	return g
}

// SetPipelines installs the rules run before and after the agents act.
func (g *Game) SetPipelines(pre, post social.Pipeline) {
	g.pre, g.post = pre, post
}

// SetSchedule installs the social schedule and applies a milestone at the
// current tick, if there is one.
func (g *Game) SetSchedule(plan social.Schedule) error {
	g.scheduler = social.NewScheduler(plan)
	return g.checkSchedule()
}

// Agent returns the agent with id.
func (g *Game) Agent(id agents.AgentID) (*agents.Agent, bool) {
	a, ok := g.index[id]
	return a, ok
}

// EventAt returns the production site on p.
func (g *Game) EventAt(p world.Pos) (*economy.Event, bool) {
	e, ok := g.eventAt[p]
	return e, ok
}

// OccupantOf returns the agent resting on p.
func (g *Game) OccupantOf(p world.Pos) (agents.AgentID, bool) {
	id, ok := g.occupied[p]
	return id, ok
}

// Checks returns the check_relation results agent id produced last tick.
func (g *Game) Checks(id agents.AgentID) []bool {
	return g.checks[id]
}

// Done reports whether the episode has run its full length.
func (g *Game) Done() bool {
	return g.Steps >= g.MaxLength
}

// Step runs one full tick: pre-update rules, the agents' commands, collision
// resolution and post-update rules. An error is a contract violation and
// leaves the game in an undefined state.
func (g *Game) Step(actions map[agents.AgentID][]agents.Command) error {
	for id := range actions {
		if _, ok := g.index[id]; !ok {
			return fmt.Errorf("actions for agent %d: %w", id, social.ErrUnknownAgent)
		}
	}
	if err := g.preUpdate(); err != nil {
		return err
	}
	if err := g.update(actions); err != nil {
		return err
	}
	return g.postUpdate()
}

func (g *Game) ruleEnv() *social.RuleEnv {
	return &social.RuleEnv{Graph: g.Social, Tick: g.Steps, Rand: g.Rand, Scores: scoreBook{g}}
}

func (g *Game) preUpdate() error {
	if err := g.pre.Run(g.ruleEnv()); err != nil {
		return fmt.Errorf("pre-update at tick %d: %w", g.Steps, err)
	}
	return nil
}

func (g *Game) update(actions map[agents.AgentID][]agents.Command) error {
	for _, e := range g.Events {
		e.Update()
	}
	clear(g.checks)
	for _, a := range g.Agents {
		for _, c := range actions[a.ID] {
			if err := g.dispatch(a, c); err != nil {
				return fmt.Errorf("agent %s %s at tick %d: %w", a.Name, c.Tag(), g.Steps, err)
			}
		}
	}
	g.resolveCollisions()
	clear(g.occupied)
	for _, a := range g.Agents {
		g.occupied[a.Next] = a.ID
	}
	return nil
}

func (g *Game) postUpdate() error {
	for _, a := range g.Agents {
		a.PostUpdate()
	}
	g.Steps++
	if err := g.post.Run(g.ruleEnv()); err != nil {
		return fmt.Errorf("post-update at tick %d: %w", g.Steps, err)
	}
	return g.checkSchedule()
}

func (g *Game) checkSchedule() error {
	if g.scheduler == nil {
		return nil
	}
	snap, ok := g.scheduler.Due(g.Steps)
	if !ok {
		return nil
	}
	if err := g.Social.Reload(snap, g.Steps); err != nil {
		return fmt.Errorf("social schedule at tick %d: %w", g.Steps, err)
	}
	return nil
}

// dispatch applies one command. Infeasible physical actions and out-of-turn
// negotiation moves are silent no-ops; graph desynchronization is an error.
func (g *Game) dispatch(a *agents.Agent, c agents.Command) error {
	tick := g.Steps
	switch c := c.(type) {
	case agents.NoAct:
	case agents.Move:
		a.Move(c.DX, c.DY, g.Grid)
	case agents.Pick:
		g.pick(a, g.Ground.Top(a.Pos))
	case agents.PickByName:
		g.pick(a, g.Ground.BubbleUp(a.Pos, c.Resource))
	case agents.DumpByName:
		for _, r := range a.Inventory.Dump(c.Resource, 1) {
			g.Ground.Lay(r, a.Pos)
		}
	case agents.Produce:
		g.produce(a)
	case agents.RequestMatching:
		_, err := g.Social.RequestMatching(a.ID, c.To, tick)
		return err
	case agents.Propose:
		_, err := g.Social.Propose(a.ID, c.To, tick, c.Score)
		return err
	case agents.AcceptProposal:
		_, err := g.Social.Accept(a.ID, c.To, tick, c.Scale)
		return err
	case agents.EndBargaining:
		_, err := g.Social.EndBargaining(a.ID, c.To, tick)
		return err
	case agents.CheckRelation:
		ok := true
		for _, p := range c.Attrs.Pairs() {
			ok = ok && g.Social.CheckRelation(a.ID, c.To, p.Name, p.Value)
		}
		g.checks[a.ID] = append(g.checks[a.ID], ok)
	case agents.AddRelation:
		return g.Social.AddRelationAttrs(a.ID, c.To, c.Attrs)
	case agents.RemoveRelation:
		return g.Social.RemoveRelation(a.ID, c.To, c.Attr)
	case agents.JoinGroup:
		return g.Social.JoinGroupAttrs(a.ID, c.Group, c.Attrs)
	case agents.QuitGroup:
		if c.Attr == "" {
			return g.Social.QuitGroup(a.ID, c.Group)
		}
		return g.Social.QuitGroup(a.ID, c.Group, c.Attr)
	default:
		return fmt.Errorf("%w: %T", agents.ErrUnknownCommand, c)
	}
	return nil
}

// pick takes one unit of r, which must be the top pile on the agent's cell.
func (g *Game) pick(a *agents.Agent, r *economy.Resource) {
	if r == nil || !r.CheckVisible(a.Inventory) || a.Inventory.Room(r.Name) < 1 {
		return
	}
	a.Inventory.PickUp(g.Ground.Provide(a.Pos, 1))
}

// produce runs the event on the agent's cell when it is visible, off
// cooldown, its inputs are carried and its outputs fit.
func (g *Game) produce(a *agents.Agent) {
	e, ok := g.eventAt[a.Pos]
	if !ok || !e.Available() || !e.CheckVisible(a.Inventory) {
		return
	}
	for _, name := range e.InputNames() {
		if !a.Has(name, e.Inputs[name]) {
			return
		}
	}
	if !a.Inventory.Fits(e.Outputs) {
		slog.Debug("production skipped, outputs do not fit", "agent", a.Name, "event", e.Name)
		return
	}
	for _, name := range e.InputNames() {
		a.Inventory.Consume(name, e.Inputs[name])
	}
	for _, r := range e.Provide() {
		a.Inventory.PickUp(r)
	}
	e.StartCooldown()
}

// scoreBook settles shared rewards against the game's agents.
type scoreBook struct{ g *Game }

func (b scoreBook) Reward(id int) float64 {
	if a, ok := b.g.index[id]; ok {
		return a.Reward
	}
	return 0
}

func (b scoreBook) GiveScore(id int, x float64) {
	if a, ok := b.g.index[id]; ok {
		a.GiveScore(x)
	}
}

func (b scoreBook) EarnScore(id int, x float64) {
	if a, ok := b.g.index[id]; ok {
		a.EarnScore(x)
	}
}

func (b scoreBook) SettleScore(id int) {
	if a, ok := b.g.index[id]; ok {
		a.SettleScore()
	}
}
