// Package engine runs the tick lifecycle: it builds games from task
// configuration, applies agent commands, resolves collisions, runs the
// social rule pipelines and reports observations, rewards and infos.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/socialgrid/internal/agents"
	"github.com/talgya/socialgrid/internal/entropy"
)

// EpisodeSummary describes a finished episode.
type EpisodeSummary struct {
	Episode  int
	Seed     int64
	Steps    int
	Groups   int
	Returns  map[string]float64 // summed rewards per agent
	Duration time.Duration
}

// Runner drives an environment with a policy, one tick at a time.
type Runner struct {
	Env      *Environment
	Policy   agents.Policy
	Speed    float64       // multiplier on the tick rate; 0 runs unpaced
	Interval time.Duration // base tick interval when paced

	// Callbacks, any of which may be nil.
	OnReset   func(env *Environment, infos map[string]Info)
	OnStep    func(env *Environment, res *StepResult, elapsed time.Duration)
	OnEpisode func(sum EpisodeSummary)
}

// NewRunner creates an unpaced runner.
func NewRunner(env *Environment, policy agents.Policy) *Runner {
	return &Runner{Env: env, Policy: policy, Interval: time.Second}
}

// NewScriptedRunner creates a runner whose agents all follow the scripted
// policy, seeded from seed.
func NewScriptedRunner(env *Environment, seed int64) *Runner {
	return NewRunner(env, agents.NewScripted(entropy.New(seed)))
}

// Run plays episodes starting from seed, incrementing it per episode, until
// n episodes are done or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, n int, seed int64) ([]EpisodeSummary, error) {
	var out []EpisodeSummary
	for i := 0; i < n; i++ {
		s := seed
		if seed != 0 {
			s = seed + int64(i)
		}
		sum, err := r.Episode(ctx, s)
		if err != nil {
			return out, err
		}
		out = append(out, sum)
	}
	return out, nil
}

// Episode plays one episode to its end.
func (r *Runner) Episode(ctx context.Context, seed int64) (EpisodeSummary, error) {
	start := time.Now()
	_, infos, err := r.Env.Reset(seed)
	if err != nil {
		return EpisodeSummary{}, err
	}
	if r.OnReset != nil {
		r.OnReset(r.Env, infos)
	}
	g := r.Env.Game()
	returns := make(map[string]float64, len(g.Agents))

	for !g.Done() {
		if err := ctx.Err(); err != nil {
			return EpisodeSummary{}, err
		}
		tickStart := time.Now()

		actions := make(map[agents.AgentID][]agents.Command, len(g.Agents))
		for _, a := range g.Agents {
			actions[a.ID] = r.Policy.Decide(g.Situation(a.ID))
		}
		res, err := r.Env.Step(actions)
		if err != nil {
			return EpisodeSummary{}, fmt.Errorf("episode %d: %w", r.Env.Episode(), err)
		}
		for name, rew := range res.Rewards {
			returns[name] += rew
		}
		elapsed := time.Since(tickStart)
		if r.OnStep != nil {
			r.OnStep(r.Env, res, elapsed)
		}

		if r.Speed > 0 {
			target := time.Duration(float64(r.Interval) / r.Speed)
			if elapsed < target {
				select {
				case <-ctx.Done():
					return EpisodeSummary{}, ctx.Err()
				case <-time.After(target - elapsed):
				}
			}
		}
	}

	sum := EpisodeSummary{
		Episode:  r.Env.Episode(),
		Seed:     r.Env.Seed(),
		Steps:    g.Steps,
		Groups:   len(g.Social.Groups()),
		Returns:  returns,
		Duration: time.Since(start),
	}
	slog.Debug("episode summary", "episode", sum.Episode, "steps", sum.Steps, "groups", sum.Groups, "duration", sum.Duration)
	if r.OnEpisode != nil {
		r.OnEpisode(sum)
	}
	return sum, nil
}
