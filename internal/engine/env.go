package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/talgya/socialgrid/internal/agents"
	"github.com/talgya/socialgrid/internal/config"
	"github.com/talgya/socialgrid/internal/economy"
	"github.com/talgya/socialgrid/internal/entropy"
	"github.com/talgya/socialgrid/internal/social"
)

// AllKey aggregates episode-level termination in step results.
const AllKey = "__all__"

// Info is the per-agent record returned with observations. Reset fills the
// episode description; steps fill only the step fields.
type Info struct {
	EpisodeID int    `json:"episode_id"`
	StepID    int    `json:"step_id"`
	ID        int    `json:"_id"`
	Name      string `json:"name"`

	MaxLength             int                       `json:"max_length,omitempty"`
	MapSize               [2]int                    `json:"map_size,omitempty"`
	Seed                  int64                     `json:"seed,omitempty"`
	PlayerNum             int                       `json:"player_num,omitempty"`
	GroupNum              int                       `json:"group_num"`
	ObsRange              *agents.FOV               `json:"obs_range,omitempty"`
	InventoryCapacity     map[string]int            `json:"inventory_capacity,omitempty"`
	Events                map[string]economy.Recipe `json:"events,omitempty"`
	ResourceNames         []string                  `json:"resource_name,omitempty"`
	NegotiationSteps      int                       `json:"negotiation_steps,omitempty"`
	ClaimProposalInterval int                       `json:"claim_proposal_interval,omitempty"`

	Mask           *Mask   `json:"mask,omitempty"`
	RelationChecks []bool  `json:"relation_checks,omitempty"`
	FinalSplit     float64 `json:"final_split"`
}

// StepResult is everything a step returns, keyed by agent name.
type StepResult struct {
	Observations map[string]Observation `json:"observations"`
	Rewards      map[string]float64     `json:"rewards"`
	Terminated   map[string]bool        `json:"terminateds"`
	Truncated    map[string]bool        `json:"truncateds"`
	Infos        map[string]Info        `json:"infos"`
}

// Environment runs episodes of one task.
type Environment struct {
	cfg     *config.Config
	game    *Game
	episode int
	seed    int64
}

// NewEnvironment creates an environment for cfg. Reset must be called
// before the first step.
func NewEnvironment(cfg *config.Config) *Environment {
	return &Environment{cfg: cfg, episode: -1}
}

// Game returns the running game, or nil before the first reset.
func (e *Environment) Game() *Game {
	return e.game
}

// Episode returns the number of the current episode, counting from 0.
func (e *Environment) Episode() int {
	return e.episode
}

// Seed returns the seed the current episode was built from.
func (e *Environment) Seed() int64 {
	return e.seed
}

// Reset builds a new episode. A zero seed falls back to the task seed, and
// to a random one when the task has none.
func (e *Environment) Reset(seed int64) (map[string]Observation, map[string]Info, error) {
	if seed == 0 {
		seed = e.cfg.Task.Seed
	}
	rng := entropy.New(seed)
	game, err := Build(e.cfg, rng)
	if err != nil {
		return nil, nil, fmt.Errorf("reset: %w", err)
	}
	e.game = game
	e.episode++
	e.seed = rng.Seed()
	slog.Info("episode started", "episode", e.episode, "seed", e.seed, "agents", len(game.Agents), "max_length", game.MaxLength)
	return game.Observations(e.episode), e.resetInfos(), nil
}

func (e *Environment) resetInfos() map[string]Info {
	g := e.game
	w, h := g.Grid.Shape()
	recipes := e.cfg.Recipes()
	names := resourceNames(e.cfg, recipes)
	out := make(map[string]Info, len(g.Agents))
	for _, a := range g.Agents {
		fov := a.FOV
		info := e.stepInfo(a)
		info.MaxLength = g.MaxLength
		info.MapSize = [2]int{w, h}
		info.Seed = e.seed
		info.PlayerNum = len(g.Agents)
		info.ObsRange = &fov
		info.InventoryCapacity = a.Inventory.Max
		info.Events = recipes
		info.ResourceNames = names
		info.NegotiationSteps = g.Negotiation.Steps
		info.ClaimProposalInterval = g.Negotiation.ClaimProposalInterval
		out[a.Name] = info
	}
	return out
}

func (e *Environment) stepInfo(a *agents.Agent) Info {
	g := e.game
	m := g.Mask(a.ID)
	return Info{
		EpisodeID:      e.episode,
		StepID:         g.Steps,
		ID:             a.ID,
		Name:           a.Name,
		GroupNum:       len(g.Social.GroupsOf(a.ID)),
		Mask:           &m,
		RelationChecks: g.Checks(a.ID),
		FinalSplit:     g.Social.FinalSplit(a.ID, social.AttrDivisionWeight),
	}
}

// resourceNames is every resource named by the catalog or by an event
// recipe, sorted.
func resourceNames(cfg *config.Config, recipes map[string]economy.Recipe) []string {
	set := make(map[string]bool)
	for _, n := range cfg.ResourceNames() {
		set[n] = true
	}
	for _, r := range recipes {
		for n := range r.Inputs {
			set[n] = true
		}
		for n := range r.Outputs {
			set[n] = true
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Step runs one tick with typed commands keyed by agent ID. Agents without
// commands do nothing. An error is a contract violation; the episode must
// be discarded.
func (e *Environment) Step(actions map[agents.AgentID][]agents.Command) (*StepResult, error) {
	g := e.game
	if g == nil {
		return nil, fmt.Errorf("step before reset")
	}
	if g.Done() {
		return nil, fmt.Errorf("step after episode end at tick %d", g.Steps)
	}
	if err := g.Step(actions); err != nil {
		return nil, err
	}

	done := g.Done()
	res := &StepResult{
		Observations: g.Observations(e.episode),
		Rewards:      make(map[string]float64, len(g.Agents)),
		Terminated:   make(map[string]bool, len(g.Agents)+1),
		Truncated:    make(map[string]bool, len(g.Agents)+1),
		Infos:        make(map[string]Info, len(g.Agents)),
	}
	for _, a := range g.Agents {
		res.Rewards[a.Name] = a.Reward
		res.Terminated[a.Name] = false
		res.Truncated[a.Name] = false
		res.Infos[a.Name] = e.stepInfo(a)
	}
	res.Terminated[AllKey] = done
	res.Truncated[AllKey] = done
	if done {
		slog.Info("episode finished", "episode", e.episode, "steps", g.Steps, "groups", len(g.Social.Groups()))
	}
	return res, nil
}

// StepRaw decodes wire-form actions and runs one tick. Keys are agent names
// or decimal agent IDs; values are anything agents.ParseCommands accepts.
func (e *Environment) StepRaw(raw map[string]any) (*StepResult, error) {
	actions, err := e.DecodeActions(raw)
	if err != nil {
		return nil, err
	}
	return e.Step(actions)
}

// DecodeActions resolves agent keys and parses commands.
func (e *Environment) DecodeActions(raw map[string]any) (map[agents.AgentID][]agents.Command, error) {
	if e.game == nil {
		return nil, fmt.Errorf("decode actions before reset")
	}
	byName := make(map[string]agents.AgentID, len(e.game.Agents))
	for _, a := range e.game.Agents {
		byName[a.Name] = a.ID
	}
	out := make(map[agents.AgentID][]agents.Command, len(raw))
	for key, v := range raw {
		id, ok := byName[key]
		if !ok {
			n, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("actions: %w: %q", social.ErrUnknownAgent, key)
			}
			if _, ok := e.game.Agent(n); !ok {
				return nil, fmt.Errorf("actions: %w: %d", social.ErrUnknownAgent, n)
			}
			id = n
		}
		cmds, err := agents.ParseCommands(v)
		if err != nil {
			return nil, fmt.Errorf("actions for %s: %w", key, err)
		}
		out[id] = append(out[id], cmds...)
	}
	return out, nil
}
