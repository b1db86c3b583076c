// Agent spawning: builds agents from job definitions.
package agents

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/talgya/socialgrid/internal/economy"
	"github.com/talgya/socialgrid/internal/world"
)

// Job is the template agents of one kind are built from. Size caps total
// inventory (0 for none), Max caps single resources, Score overrides the unit
// score of carried resources and Init is the starting inventory.
type Job struct {
	Name  string             `yaml:"name" json:"name"`
	FOV   FOV                `yaml:"fov" json:"fov"`
	Size  int                `yaml:"size" json:"size"`
	Max   map[string]int     `yaml:"max,omitempty" json:"max,omitempty"`
	Score map[string]float64 `yaml:"score,omitempty" json:"score,omitempty"`
	Init  map[string]int     `yaml:"init,omitempty" json:"init,omitempty"`
}

// UnmarshalYAML accepts either a single radius or an [h, v] pair.
func (f *FOV) UnmarshalYAML(n *yaml.Node) error {
	var r int
	if err := n.Decode(&r); err == nil {
		*f = FOV{r, r}
		return nil
	}
	var hv []int
	if err := n.Decode(&hv); err == nil && len(hv) == 2 {
		*f = FOV{hv[0], hv[1]}
		return nil
	}
	type plain FOV
	var p plain
	if err := n.Decode(&p); err != nil {
		return fmt.Errorf("fov: want an int, [h, v] or {h, v}: %w", err)
	}
	*f = FOV(p)
	return nil
}

// Spawner creates agents with consecutive IDs.
type Spawner struct {
	kinds  economy.Catalog
	nextID AgentID
}

// NewSpawner creates a spawner whose starting items come from kinds.
func NewSpawner(kinds economy.Catalog) *Spawner {
	return &Spawner{kinds: kinds}
}

// SetNextID sets the next agent ID to be issued.
func (s *Spawner) SetNextID(id AgentID) {
	s.nextID = id
}

// Spawn builds one agent of job at pos. Its name is "<job>_<id>".
func (s *Spawner) Spawn(job Job, pos world.Pos) (*Agent, error) {
	id := s.nextID
	inv := NewInventory(job.Size, job.Max, job.Score)
	for _, name := range sortedInit(job.Init) {
		k, err := s.kinds.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("job %s init: %w", job.Name, err)
		}
		inv.PickUp(economy.NewResource(k, job.Init[name]))
	}
	s.nextID++
	a := New(id, fmt.Sprintf("%s_%d", job.Name, id), job.Name, pos, job.FOV, inv)
	a.Score = inv.Score()
	return a, nil
}

// SpawnAll builds one agent per position, cycling jobs in order.
func (s *Spawner) SpawnAll(jobs []Job, positions []world.Pos) ([]*Agent, error) {
	out := make([]*Agent, 0, len(positions))
	for i, pos := range positions {
		a, err := s.Spawn(jobs[i%len(jobs)], pos)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func sortedInit(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
