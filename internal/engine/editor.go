package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/socialgrid/internal/agents"
	"github.com/talgya/socialgrid/internal/config"
	"github.com/talgya/socialgrid/internal/economy"
	"github.com/talgya/socialgrid/internal/entropy"
	"github.com/talgya/socialgrid/internal/social"
	"github.com/talgya/socialgrid/internal/world"
)

// Build lays out a fresh game for cfg. All random choices draw from rng in
// a fixed order: random blocks, random resources, random events, random
// players. Static placements claim their cells before anything random.
func Build(cfg *config.Config, rng *entropy.Source) (*Game, error) {
	gen := cfg.GenConfig()
	gen.Seed = rng.Seed()
	grid, err := world.Generate(gen)
	if err != nil {
		return nil, fmt.Errorf("base map: %w", err)
	}
	kinds := cfg.Catalog()
	recipes := cfg.Recipes()
	st, rnd := cfg.Task.Static, cfg.Task.Random

	claimed := make(map[world.Pos]bool)
	claim := func(ps []world.Pos) {
		for _, p := range ps {
			claimed[grid.Wrap(p)] = true
		}
	}
	for _, r := range st.Resources {
		claim(r.Positions)
	}
	for _, e := range st.Events {
		claim(e.Positions)
	}
	for _, p := range st.Players {
		claim(p.Positions)
	}

	blocks := 0
	for _, b := range rnd.Blocks {
		blocks += b.Repeat
	}
	ps, err := world.SampleBlank(grid, claimed, blocks, rng)
	if err != nil {
		return nil, fmt.Errorf("random blocks: %w", err)
	}
	grid.AddBlocks(ps, rng)

	ground := economy.NewGround()
	for i, sr := range st.Resources {
		for j, p := range sr.Positions {
			p = grid.Wrap(p)
			if grid.IsBlocked(p) {
				return nil, fmt.Errorf("static resource %d: %v is blocked", i, p)
			}
			k, err := kinds.Lookup(sr.Name[j%len(sr.Name)])
			if err != nil {
				return nil, fmt.Errorf("static resource %d: %w", i, err)
			}
			ground.Lay(economy.NewResource(k, sr.Num[j%len(sr.Num)]), p)
		}
	}
	for i, rr := range rnd.Resources {
		k, err := kinds.Lookup(rr.Name)
		if err != nil {
			return nil, fmt.Errorf("random resource %d: %w", i, err)
		}
		ps, err := world.SampleBlank(grid, nil, rr.Repeat, rng)
		if err != nil {
			return nil, fmt.Errorf("random resource %d: %w", i, err)
		}
		for _, p := range ps {
			ground.Lay(economy.NewResource(k, drawNum(rr.Num, rng)), p)
		}
	}

	var events []*economy.Event
	eventCells := make(map[world.Pos]bool)
	addEvent := func(name string, p world.Pos) error {
		if eventCells[p] {
			return fmt.Errorf("two events on %v", p)
		}
		e, err := economy.NewEvent(recipes[name], p, kinds)
		if err != nil {
			return err
		}
		eventCells[p] = true
		events = append(events, e)
		return nil
	}
	for i, se := range st.Events {
		for j, p := range se.Positions {
			p = grid.Wrap(p)
			if grid.IsBlocked(p) {
				return nil, fmt.Errorf("static event %d: %v is blocked", i, p)
			}
			if err := addEvent(se.Name[j%len(se.Name)], p); err != nil {
				return nil, fmt.Errorf("static event %d: %w", i, err)
			}
		}
	}
	for i, re := range rnd.Events {
		ps, err := world.SampleBlank(grid, eventCells, re.Repeat, rng)
		if err != nil {
			return nil, fmt.Errorf("random event %d: %w", i, err)
		}
		for _, p := range ps {
			if err := addEvent(re.Name, p); err != nil {
				return nil, fmt.Errorf("random event %d: %w", i, err)
			}
		}
	}

	spawner := agents.NewSpawner(kinds)
	var ags []*agents.Agent
	occupied := make(map[world.Pos]bool)
	spawn := func(jobName string, p world.Pos) error {
		job, err := cfg.Job(jobName)
		if err != nil {
			return err
		}
		if occupied[p] {
			return fmt.Errorf("two players on %v", p)
		}
		a, err := spawner.Spawn(job, p)
		if err != nil {
			return err
		}
		occupied[p] = true
		ags = append(ags, a)
		return nil
	}
	for i, sp := range st.Players {
		for _, p := range sp.Positions {
			p = grid.Wrap(p)
			if grid.IsBlocked(p) {
				return nil, fmt.Errorf("static player %d: %v is blocked", i, p)
			}
			if err := spawn(sp.Job, p); err != nil {
				return nil, fmt.Errorf("static player %d: %w", i, err)
			}
		}
	}
	for i, rp := range rnd.Players {
		ps, err := world.SampleBlank(grid, occupied, rp.Repeat, rng)
		if err != nil {
			return nil, fmt.Errorf("random player %d: %w", i, err)
		}
		for _, p := range ps {
			if err := spawn(rp.Job, p); err != nil {
				return nil, fmt.Errorf("random player %d: %w", i, err)
			}
		}
	}

	ids := make([]int, len(ags))
	for i, a := range ags {
		ids[i] = a.ID
	}
	graph := social.New(ids...)
	snap, err := cfg.InitialSocial()
	if err != nil {
		return nil, err
	}
	if err := graph.Load(snap); err != nil {
		return nil, fmt.Errorf("static social: %w", err)
	}

	game := NewGame(grid, ground, events, ags, graph, rng)
	game.Kinds = kinds
	game.MaxLength = cfg.Task.MaxLength
	game.Negotiation = Negotiation{
		Steps:                 cfg.Task.Negotiation.NegotiationSteps,
		ClaimProposalInterval: cfg.Task.Negotiation.ClaimProposalInterval,
	}
	pre, err := social.BuildPipeline(config.Specs(cfg.Task.PreUpdates))
	if err != nil {
		return nil, fmt.Errorf("pre_updates: %w", err)
	}
	post, err := social.BuildPipeline(config.Specs(cfg.Task.PostUpdates))
	if err != nil {
		return nil, fmt.Errorf("post_updates: %w", err)
	}
	game.SetPipelines(pre, post)
	plan, err := cfg.Schedule()
	if err != nil {
		return nil, err
	}
	if err := game.SetSchedule(plan); err != nil {
		return nil, err
	}

	w, h := grid.Shape()
	slog.Debug("game built",
		"size", fmt.Sprintf("%dx%d", w, h),
		"agents", len(ags),
		"events", len(events),
		"piles", len(ground.All()),
		"blocks", blocks,
	)
	return game, nil
}

func drawNum(n config.NumGen, rng *entropy.Source) int {
	if n.Rule == config.NumRandom {
		return rng.IntRange(n.Min, n.Max)
	}
	return n.Num
}
