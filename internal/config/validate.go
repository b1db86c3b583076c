package config

import (
	"errors"
	"fmt"

	"github.com/talgya/socialgrid/internal/social"
	"github.com/talgya/socialgrid/internal/world"
)

// Validate checks cross references and bounds. Every problem found is
// reported, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	t := c.Task

	if t.MaxLength <= 0 {
		bad("task.max_length must be positive, got %d", t.MaxLength)
	}
	switch t.BaseMap.InitRule {
	case world.RuleBlank, world.RuleBox, world.RuleNoise:
		if t.BaseMap.Size.X <= 0 || t.BaseMap.Size.Y <= 0 {
			bad("task.base_map.size must be positive, got %dx%d", t.BaseMap.Size.X, t.BaseMap.Size.Y)
		}
	case world.RuleMapFile:
		if t.BaseMap.FilePath == "" {
			bad("task.base_map.file_path is required for map_file")
		}
	default:
		bad("task.base_map.init_rule %q is unknown", t.BaseMap.InitRule)
	}

	for name, d := range c.Resources {
		for req := range d.Requirements {
			if _, ok := c.Resources[req]; !ok {
				bad("resource %s requires unknown resource %s", name, req)
			}
		}
	}
	for name, d := range c.Events {
		if len(d.Out) == 0 {
			bad("event %s has no outputs", name)
		}
		for _, m := range []map[string]int{d.In, d.Out, d.Requirements} {
			for r := range m {
				if _, ok := c.Resources[r]; !ok {
					bad("event %s uses unknown resource %s", name, r)
				}
			}
		}
		if d.AvailInterval < 0 {
			bad("event %s avail_interval is negative", name)
		}
	}
	for name, j := range c.Jobs {
		if j.FOV.Horizontal < 0 || j.FOV.Vertical < 0 {
			bad("job %s fov is negative", name)
		}
		if j.Inventory.Size < 0 {
			bad("job %s inventory size is negative", name)
		}
		for r := range j.Inventory.Score {
			if _, ok := c.Resources[r]; !ok {
				bad("job %s scores unknown resource %s", name, r)
			}
		}
		for _, m := range []map[string]int{j.Inventory.Max, j.Inventory.Init} {
			for r := range m {
				if _, ok := c.Resources[r]; !ok {
					bad("job %s uses unknown resource %s", name, r)
				}
			}
		}
	}

	for i, s := range t.Static.Resources {
		if len(s.Name) == 0 || len(s.Positions) == 0 || len(s.Num) == 0 {
			bad("static resource %d needs name, positions and num", i)
		}
		for _, n := range s.Name {
			if _, ok := c.Resources[n]; !ok {
				bad("static resource %d: unknown resource %s", i, n)
			}
		}
	}
	for i, s := range t.Static.Events {
		if len(s.Name) == 0 || len(s.Positions) == 0 {
			bad("static event %d needs name and positions", i)
		}
		for _, n := range s.Name {
			if _, ok := c.Events[n]; !ok {
				bad("static event %d: unknown event %s", i, n)
			}
		}
	}
	for i, s := range t.Static.Players {
		if _, ok := c.Jobs[s.Job]; !ok {
			bad("static player %d: unknown job %s", i, s.Job)
		}
	}
	for i, r := range t.Random.Resources {
		if _, ok := c.Resources[r.Name]; !ok {
			bad("random resource %d: unknown resource %s", i, r.Name)
		}
		if err := r.Num.Validate(); err != nil {
			bad("random resource %d: %v", i, err)
		}
	}
	for i, r := range t.Random.Events {
		if _, ok := c.Events[r.Name]; !ok {
			bad("random event %d: unknown event %s", i, r.Name)
		}
	}
	for i, r := range t.Random.Players {
		if _, ok := c.Jobs[r.Job]; !ok {
			bad("random player %d: unknown job %s", i, r.Job)
		}
	}
	if c.PlayerCount() == 0 {
		bad("task has no players")
	}

	if _, err := social.BuildPipeline(Specs(t.PreUpdates)); err != nil {
		bad("pre_updates: %v", err)
	}
	if _, err := social.BuildPipeline(Specs(t.PostUpdates)); err != nil {
		bad("post_updates: %v", err)
	}
	if _, err := c.InitialSocial(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Schedule(); err != nil {
		errs = append(errs, err)
	}
	if t.Negotiation.NegotiationSteps < 0 || t.Negotiation.ClaimProposalInterval < 0 {
		bad("negotiation settings must not be negative")
	}
	return errors.Join(errs...)
}
