package engine

import (
	"strconv"

	"github.com/talgya/socialgrid/internal/agents"
	"github.com/talgya/socialgrid/internal/social"
	"github.com/talgya/socialgrid/internal/world"
)

// Observation is what one agent is told after a reset or a step.
type Observation struct {
	EpisodeID int           `json:"episode_id"`
	StepID    int           `json:"step_id"`
	Map       MapView       `json:"Map"`
	Player    agents.Record `json:"Player"`
	Social    SocialView    `json:"Social"`
}

// MapView is the part of the map inside an agent's field of view.
type MapView struct {
	BlockGrids [][]int         `json:"block_grids"` // 1 for blocked, indexed [row][col]
	Resources  []ResourceView  `json:"resources"`
	Events     []EventView     `json:"events"`
	Players    []agents.Record `json:"players"`
}

// ResourceView is one visible pile.
type ResourceView struct {
	Name     string    `json:"name"`
	Position world.Pos `json:"position"`
	Amount   int       `json:"amount"`
}

// EventView is one visible production site.
type EventView struct {
	Name     string    `json:"name"`
	Position world.Pos `json:"position"`
}

// SocialView is the agent's view of the social graph.
type SocialView struct {
	Global         GlobalView         `json:"global"`
	Communications []Communication    `json:"communications"`
	Sharings       map[string]Sharing `json:"sharings"` // keyed by sender ID
}

// GlobalView is the whole graph, flattened.
type GlobalView struct {
	Nodes []social.NodeRecord `json:"nodes"`
	Edges []social.EdgeRecord `json:"edges"`
}

// Communication is a message carried by an incoming communication edge.
type Communication struct {
	From  agents.AgentID `json:"from"`
	To    agents.AgentID `json:"to"`
	Words social.Value   `json:"words"`
}

// Sharing holds the parts of another agent's observation it shares.
type Sharing struct {
	Map    *MapView       `json:"Map,omitempty"`
	Player *agents.Record `json:"Player,omitempty"`
}

// Observations builds every agent's observation, keyed by agent name.
func (g *Game) Observations(episode int) map[string]Observation {
	global := GlobalView{Nodes: g.Social.Nodes(), Edges: g.Social.Edges()}
	if global.Nodes == nil {
		global.Nodes = []social.NodeRecord{}
	}
	if global.Edges == nil {
		global.Edges = []social.EdgeRecord{}
	}
	views := make(map[agents.AgentID]MapView, len(g.Agents))
	for _, a := range g.Agents {
		views[a.ID] = g.mapView(a)
	}
	out := make(map[string]Observation, len(g.Agents))
	for _, a := range g.Agents {
		out[a.Name] = Observation{
			EpisodeID: episode,
			StepID:    g.Steps,
			Map:       views[a.ID],
			Player:    a.Private(),
			Social: SocialView{
				Global:         global,
				Communications: g.communications(a),
				Sharings:       g.sharings(a, views),
			},
		}
	}
	return out
}

// mapView collects the blocks, piles, events and other agents a can see.
// Only the top pile of a cell shows. A pile or event whose requirements a
// does not meet stays hidden.
func (g *Game) mapView(a *agents.Agent) MapView {
	x0, x1, y0, y1 := a.ViewBox()
	window := g.Grid.Window(x0, x1, y0, y1)
	v := MapView{
		BlockGrids: make([][]int, len(window)),
		Resources:  []ResourceView{},
		Events:     []EventView{},
		Players:    []agents.Record{},
	}
	for y, row := range window {
		v.BlockGrids[y] = make([]int, len(row))
		for x, c := range row {
			if c == world.Block {
				v.BlockGrids[y][x] = 1
			}
		}
	}
	for _, p := range g.Ground.Positions() {
		r := g.Ground.Top(p)
		if r != nil && a.Visible(p, g.Grid) && r.CheckVisible(a.Inventory) {
			v.Resources = append(v.Resources, ResourceView{Name: r.Name, Position: r.Pos, Amount: r.Amount})
		}
	}
	for _, e := range g.Events {
		if a.Visible(e.Pos, g.Grid) && e.CheckVisible(a.Inventory) {
			v.Events = append(v.Events, EventView{Name: e.Name, Position: e.Pos})
		}
	}
	for _, o := range g.Agents {
		if o.ID != a.ID && a.Visible(o.Pos, g.Grid) {
			v.Players = append(v.Players, o.Public())
		}
	}
	return v
}

func (g *Game) communications(a *agents.Agent) []Communication {
	out := []Communication{}
	for _, from := range g.Social.InRelations(a.ID) {
		if w, ok := g.Social.RelationValue(from, a.ID, social.AttrCommunication); ok {
			out = append(out, Communication{From: from, To: a.ID, Words: w})
		}
	}
	return out
}

// sharings copies the Map and Player sections of every sender whose
// incoming sharing edge flags them.
func (g *Game) sharings(a *agents.Agent, views map[agents.AgentID]MapView) map[string]Sharing {
	out := make(map[string]Sharing)
	for _, from := range g.Social.InRelations(a.ID) {
		flags, ok := g.Social.RelationValue(from, a.ID, social.AttrSharing)
		if !ok {
			continue
		}
		sender := g.index[from]
		var sh Sharing
		if flags.Flag("Map") {
			m := views[from]
			sh.Map = &m
		}
		if flags.Flag("Player") {
			p := sender.Private()
			sh.Player = &p
		}
		if sh.Map != nil || sh.Player != nil {
			out[strconv.Itoa(from)] = sh
		}
	}
	return out
}
