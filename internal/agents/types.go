// Package agents provides the agent data model: position with two-phase
// movement, field of view, inventory, score and reward bookkeeping, the
// closed command set agents act through, and a scripted policy.
package agents

import (
	"github.com/talgya/socialgrid/internal/world"
)

// AgentID is a unique identifier for an agent within an episode.
type AgentID = int

// FOV is the half-extent of an agent's view: Horizontal columns to each
// side and Vertical rows above and below.
type FOV struct {
	Horizontal int `json:"h" yaml:"h"`
	Vertical   int `json:"v" yaml:"v"`
}

// Agent is one player on the grid.
type Agent struct {
	ID   AgentID `json:"id"`
	Name string  `json:"name"`
	Job  string  `json:"job"`

	// Location. Next is the wrapped target set by a move this tick; it is
	// committed by PostUpdate unless the orchestrator undoes it first.
	Pos   world.Pos `json:"position"`
	Next  world.Pos `json:"-"`
	Moved bool      `json:"-"`

	FOV       FOV        `json:"fov"`
	Inventory *Inventory `json:"-"`

	// Reward bookkeeping
	Score     float64 `json:"score"`
	PrevScore float64 `json:"-"`
	Reward    float64 `json:"reward"`

	sharedIn  float64 // shares received this tick
	sharedOut float64 // shares handed to groups this tick
}

// New creates an agent at pos.
func New(id AgentID, name, job string, pos world.Pos, fov FOV, inv *Inventory) *Agent {
	if inv == nil {
		inv = NewInventory(0, nil, nil)
	}
	return &Agent{
		ID:        id,
		Name:      name,
		Job:       job,
		Pos:       pos,
		Next:      pos,
		FOV:       fov,
		Inventory: inv,
	}
}

// Has reports whether the agent carries at least n units of name.
func (a *Agent) Has(name string, n int) bool {
	return a.Inventory.Has(name, n)
}

// Move sets the pending position dx, dy away, wrapped onto g.
func (a *Agent) Move(dx, dy int, g *world.Grid) {
	a.Next = g.Wrap(a.Pos.Add(dx, dy))
	a.Moved = true
}

// Undo cancels a pending move.
func (a *Agent) Undo() {
	a.Next = a.Pos
	a.Moved = false
}

// PostUpdate commits the pending position and recomputes score and reward.
func (a *Agent) PostUpdate() {
	a.Pos = a.Next
	a.Moved = false
	a.PrevScore = a.Score
	a.Score = a.Inventory.Score()
	a.Reward = a.Score - a.PrevScore
}

// EarnScore credits a share received from a group.
func (a *Agent) EarnScore(x float64) {
	a.sharedIn += x
}

// GiveScore debits a share handed to a group.
func (a *Agent) GiveScore(x float64) {
	a.sharedOut += x
}

// SettleScore folds this tick's shares into the reward.
func (a *Agent) SettleScore() {
	a.Reward += a.sharedIn - a.sharedOut
	a.sharedIn, a.sharedOut = 0, 0
}

// Visible reports whether p lies inside the agent's field of view on g.
func (a *Agent) Visible(p world.Pos, g *world.Grid) bool {
	w, h := g.Shape()
	dx := world.Offset(p.X-a.Pos.X, w)
	dy := world.Offset(p.Y-a.Pos.Y, h)
	return abs(dx) <= a.FOV.Horizontal && abs(dy) <= a.FOV.Vertical
}

// ViewBox returns the half-open window bounds of the field of view.
func (a *Agent) ViewBox() (x0, x1, y0, y1 int) {
	return a.Pos.X - a.FOV.Horizontal, a.Pos.X + a.FOV.Horizontal + 1,
		a.Pos.Y - a.FOV.Vertical, a.Pos.Y + a.FOV.Vertical + 1
}

// Record is the flattened agent used in observations.
type Record struct {
	ID       AgentID     `json:"id"`
	Name     string      `json:"name"`
	Position world.Pos   `json:"position"`
	Items    []ItemCount `json:"inventory,omitempty"`
}

// Public returns the record another agent sees.
func (a *Agent) Public() Record {
	return Record{ID: a.ID, Name: a.Name, Position: a.Pos}
}

// Private returns the record the agent sees of itself.
func (a *Agent) Private() Record {
	r := a.Public()
	r.Items = a.Inventory.Items()
	if r.Items == nil {
		r.Items = []ItemCount{}
	}
	return r
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
