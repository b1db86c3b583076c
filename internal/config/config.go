// Package config loads task definitions: the map, resource and event
// catalogs, jobs, static and random placement, the social setup and its
// schedule, the rule pipelines and the negotiation phase.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/talgya/socialgrid/internal/agents"
	"github.com/talgya/socialgrid/internal/economy"
	"github.com/talgya/socialgrid/internal/social"
	"github.com/talgya/socialgrid/internal/world"
)

//go:embed default.yaml
var defaultYAML []byte

// Config is one task file.
type Config struct {
	Resources map[string]ResourceDef `yaml:"resource"`
	Events    map[string]EventDef    `yaml:"event"`
	Jobs      map[string]JobDef      `yaml:"job"`
	Task      Task                   `yaml:"task"`

	dir string // directory relative paths resolve against
}

// ResourceDef describes one resource name.
type ResourceDef struct {
	Type         string         `yaml:"type"`
	Score        float64        `yaml:"score"`
	Requirements map[string]int `yaml:"requirements,omitempty"`
}

// EventDef describes one production recipe.
type EventDef struct {
	In            map[string]int `yaml:"in"`
	Out           map[string]int `yaml:"out"`
	Requirements  map[string]int `yaml:"requirements,omitempty"`
	AvailInterval int            `yaml:"avail_interval"`
}

// JobDef describes one job: its field of view and starting inventory.
type JobDef struct {
	FOV       agents.FOV `yaml:"fov"`
	Inventory struct {
		Size  int                `yaml:"size"`
		Max   map[string]int     `yaml:"max"`
		Score map[string]float64 `yaml:"score"`
		Init  map[string]int     `yaml:"init"`
	} `yaml:"inventory"`
}

// Job converts the definition into an agent template named name.
func (d JobDef) Job(name string) agents.Job {
	return agents.Job{
		Name:  name,
		FOV:   d.FOV,
		Size:  d.Inventory.Size,
		Max:   d.Inventory.Max,
		Score: d.Inventory.Score,
		Init:  d.Inventory.Init,
	}
}

// Task holds the episode setup.
type Task struct {
	MaxLength   int         `yaml:"max_length"`
	Seed        int64       `yaml:"seed"`
	BaseMap     BaseMap     `yaml:"base_map"`
	Static      Static      `yaml:"static"`
	Random      Random      `yaml:"random"`
	PreUpdates  []Rule      `yaml:"pre_updates"`
	PostUpdates []Rule      `yaml:"post_updates"`
	Negotiation Negotiation `yaml:"negotiation"`
}

// BaseMap selects the map init rule.
type BaseMap struct {
	InitRule string `yaml:"init_rule"`
	Size     struct {
		X int `yaml:"x"`
		Y int `yaml:"y"`
	} `yaml:"size"`
	FilePath string `yaml:"file_path"`
	Noise    struct {
		Threshold float64 `yaml:"threshold"`
		Frequency float64 `yaml:"frequency"`
		Octaves   int     `yaml:"octaves"`
	} `yaml:"noise"`
}

// Static lists fixed placements and the initial social graph.
type Static struct {
	Resources           []StaticResource `yaml:"resources"`
	Events              []StaticEvent    `yaml:"events"`
	Players             []StaticPlayer   `yaml:"players"`
	Social              any              `yaml:"social"`
	SocialSchedule      any              `yaml:"social_schedule"`      // inline schedule
	SocialScheduleFile  string           `yaml:"social_schedule_file"` // JSON schedule file
	CommunicationLength int              `yaml:"communication_length"`
}

// StaticResource places piles; names, positions and nums cycle together.
type StaticResource struct {
	Name      Names     `yaml:"name"`
	Positions Positions `yaml:"positions"`
	Num       Ints      `yaml:"num"`
}

// StaticEvent places events; names and positions cycle together.
type StaticEvent struct {
	Name      Names     `yaml:"name"`
	Positions Positions `yaml:"positions"`
}

// StaticPlayer places one agent of Job per position.
type StaticPlayer struct {
	Job       string    `yaml:"job"`
	Positions Positions `yaml:"positions"`
}

// Random lists placements drawn onto free blank cells.
type Random struct {
	Blocks    []RandomBlock    `yaml:"blocks"`
	Resources []RandomResource `yaml:"resources"`
	Events    []RandomEvent    `yaml:"events"`
	Players   []RandomPlayer   `yaml:"players"`
}

type RandomBlock struct {
	Repeat int `yaml:"repeat"`
}

type RandomResource struct {
	Name   string `yaml:"name"`
	Num    NumGen `yaml:"num"`
	Repeat int    `yaml:"repeat"`
}

type RandomEvent struct {
	Name   string `yaml:"name"`
	Repeat int    `yaml:"repeat"`
}

type RandomPlayer struct {
	Job    string `yaml:"job"`
	Repeat int    `yaml:"repeat"`
}

// Negotiation configures the bargaining phase.
type Negotiation struct {
	NegotiationSteps      int `yaml:"negotiation_steps"`
	ClaimProposalInterval int `yaml:"claim_proposal_interval"`
}

// Load reads and validates a task file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	c.dir = filepath.Dir(path)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return c, nil
}

// Parse decodes a task document without validating it.
func Parse(raw []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}

// Default returns the built-in task.
func Default() *Config {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(err)
	}
	if err := c.Validate(); err != nil {
		panic(err)
	}
	return c
}

// Job returns the agent template for a job name.
func (c *Config) Job(name string) (agents.Job, error) {
	d, ok := c.Jobs[name]
	if !ok {
		return agents.Job{}, fmt.Errorf("unknown job %q", name)
	}
	return d.Job(name), nil
}

// Catalog returns the resource definitions keyed by name.
func (c *Config) Catalog() economy.Catalog {
	out := make(economy.Catalog, len(c.Resources))
	for name, d := range c.Resources {
		out[name] = economy.Kind{Name: name, Type: d.Type, UnitScore: d.Score, Requirements: d.Requirements}
	}
	return out
}

// Recipes returns the event definitions keyed by name.
func (c *Config) Recipes() map[string]economy.Recipe {
	out := make(map[string]economy.Recipe, len(c.Events))
	for name, d := range c.Events {
		out[name] = economy.Recipe{
			Name:          name,
			Inputs:        d.In,
			Outputs:       d.Out,
			Requirements:  d.Requirements,
			AvailInterval: d.AvailInterval,
		}
	}
	return out
}

// GenConfig returns the map generation parameters.
func (c *Config) GenConfig() world.GenConfig {
	g := world.DefaultGenConfig()
	b := c.Task.BaseMap
	g.InitRule = b.InitRule
	g.Width, g.Height = b.Size.X, b.Size.Y
	g.File = b.FilePath
	if g.File != "" && !filepath.IsAbs(g.File) && c.dir != "" {
		g.File = filepath.Join(c.dir, g.File)
	}
	g.Seed = c.Task.Seed
	if b.Noise.Threshold > 0 {
		g.Threshold = b.Noise.Threshold
	}
	if b.Noise.Frequency > 0 {
		g.Frequency = b.Noise.Frequency
	}
	if b.Noise.Octaves > 0 {
		g.Octaves = b.Noise.Octaves
	}
	return g
}

// InitialSocial returns the snapshot loaded when an episode starts.
func (c *Config) InitialSocial() (social.Snapshot, error) {
	if c.Task.Static.Social == nil {
		return social.Snapshot{}, nil
	}
	data, err := json.Marshal(jsonable(c.Task.Static.Social))
	if err != nil {
		return social.Snapshot{}, fmt.Errorf("static social: %w", err)
	}
	snap, err := social.ParseSnapshot(data)
	if err != nil {
		return social.Snapshot{}, fmt.Errorf("static social: %w", err)
	}
	return snap, nil
}

// Schedule returns the social schedule, from the inline definition or the
// schedule file. Having neither yields an empty schedule.
func (c *Config) Schedule() (social.Schedule, error) {
	st := c.Task.Static
	var data []byte
	switch {
	case st.SocialSchedule != nil && st.SocialScheduleFile != "":
		return nil, errors.New("social_schedule and social_schedule_file are exclusive")
	case st.SocialSchedule != nil:
		var err error
		data, err = json.Marshal(jsonable(st.SocialSchedule))
		if err != nil {
			return nil, fmt.Errorf("social schedule: %w", err)
		}
	case st.SocialScheduleFile != "":
		path := st.SocialScheduleFile
		if !filepath.IsAbs(path) && c.dir != "" {
			path = filepath.Join(c.dir, path)
		}
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("social schedule: %w", err)
		}
	default:
		return social.Schedule{}, nil
	}
	return social.ParseSchedule(data)
}

// PlayerCount returns the number of agents an episode spawns.
func (c *Config) PlayerCount() int {
	n := 0
	for _, p := range c.Task.Static.Players {
		n += len(p.Positions)
	}
	for _, p := range c.Task.Random.Players {
		n += p.Repeat
	}
	return n
}

// ResourceNames lists every resource a task can produce or place, sorted.
func (c *Config) ResourceNames() []string {
	return c.Catalog().Names()
}
