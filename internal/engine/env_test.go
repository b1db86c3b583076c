package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/talgya/socialgrid/internal/agents"
	"github.com/talgya/socialgrid/internal/config"
	"github.com/talgya/socialgrid/internal/social"
	"github.com/talgya/socialgrid/internal/world"
)

func resetDefault(t *testing.T, seed int64) *Environment {
	t.Helper()
	env := NewEnvironment(config.Default())
	if _, _, err := env.Reset(seed); err != nil {
		t.Fatal(err)
	}
	return env
}

func TestResetInfoAndObservation(t *testing.T) {
	env := NewEnvironment(config.Default())
	obs, infos, err := env.Reset(7)
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != 4 || len(infos) != 4 {
		t.Fatalf("got %d observations, %d infos", len(obs), len(infos))
	}
	info, ok := infos["gatherer_0"]
	if !ok {
		t.Fatalf("infos keyed %v", infos)
	}
	if info.MapSize != [2]int{12, 12} || info.PlayerNum != 4 || info.MaxLength != 40 || info.Seed != 7 {
		t.Errorf("info = %+v", info)
	}
	if info.NegotiationSteps != 8 || info.ClaimProposalInterval != 9 {
		t.Errorf("negotiation info = %d/%d", info.NegotiationSteps, info.ClaimProposalInterval)
	}
	if _, ok := info.Events["workshop"]; !ok {
		t.Error("recipe table missing workshop")
	}
	if got := info.ResourceNames; len(got) != 4 || got[0] != "axe" || got[3] != "wood" {
		t.Errorf("resource names = %v", got)
	}
	if info.ObsRange == nil || info.ObsRange.Horizontal != 2 || info.InventoryCapacity["wood"] != 5 {
		t.Errorf("obs range %v capacity %v", info.ObsRange, info.InventoryCapacity)
	}

	o := obs["gatherer_0"]
	if o.StepID != 0 || o.Player.Name != "gatherer_0" {
		t.Errorf("player = %+v", o.Player)
	}
	if len(o.Player.Items) != 1 || o.Player.Items[0].Name != "wood" || o.Player.Items[0].Amount != 1 {
		t.Errorf("inventory = %+v", o.Player.Items)
	}
	if len(o.Map.BlockGrids) != 5 || len(o.Map.BlockGrids[0]) != 5 {
		t.Errorf("block grid is %dx?", len(o.Map.BlockGrids))
	}
	if len(o.Social.Global.Nodes) != 4 || len(o.Social.Global.Edges) != 2 {
		t.Errorf("global graph = %d nodes %d edges", len(o.Social.Global.Nodes), len(o.Social.Global.Edges))
	}

	sh, ok := obs["gatherer_1"].Social.Sharings["0"]
	if !ok || sh.Map == nil || sh.Player != nil {
		t.Errorf("sharing from 0 = %+v", obs["gatherer_1"].Social.Sharings)
	}
	if len(obs["gatherer_0"].Social.Sharings) != 0 {
		t.Error("sharing edges leak backwards")
	}
	comms := obs["gatherer_3"].Social.Communications
	if len(comms) != 1 || comms[0].From != 2 || comms[0].To != 3 {
		t.Errorf("communications = %+v", comms)
	}
	if w, _ := comms[0].Words.Str(); w != "meet at the workshop" {
		t.Errorf("words = %q", w)
	}

	if _, err := json.Marshal(obs); err != nil {
		t.Fatalf("observations do not encode: %v", err)
	}
	if _, err := json.Marshal(infos); err != nil {
		t.Fatalf("infos do not encode: %v", err)
	}
}

func TestResetIsDeterministic(t *testing.T) {
	a := resetDefault(t, 21).Game()
	b := resetDefault(t, 21).Game()
	if a.Grid.String() != b.Grid.String() {
		t.Fatal("same seed built different maps")
	}
	for i := range a.Agents {
		if a.Agents[i].Pos != b.Agents[i].Pos {
			t.Fatalf("agent %d at %v and %v", i, a.Agents[i].Pos, b.Agents[i].Pos)
		}
	}
	if len(a.Ground.All()) != len(b.Ground.All()) {
		t.Fatal("same seed placed different piles")
	}
}

func TestStepContractViolations(t *testing.T) {
	cases := []struct {
		name    string
		actions map[string]any
		want    error
	}{
		{"unknown tag", map[string]any{"gatherer_0": "dance"}, agents.ErrUnknownCommand},
		{"bad kwargs", map[string]any{"gatherer_0": []any{"move", map[string]any{"dx": "left"}}}, agents.ErrBadArguments},
		{"missing attribute", map[string]any{"gatherer_0": []any{"remove_relation", map[string]any{"to_player_id": 2, "attribute_name": "trust"}}}, social.ErrNoEdge},
		{"unknown group", map[string]any{"1": []any{"join_group", map[string]any{"group_id": 99}}}, social.ErrUnknownGroup},
		{"unknown agent", map[string]any{"nobody": "no_act"}, social.ErrUnknownAgent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := resetDefault(t, 3)
			_, err := env.StepRaw(tc.actions)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestTerminationAtMaxLength(t *testing.T) {
	env := resetDefault(t, 5)
	for i := 1; i <= 40; i++ {
		res, err := env.Step(nil)
		if err != nil {
			t.Fatal(err)
		}
		if got := res.Terminated[AllKey]; got != (i == 40) {
			t.Fatalf("step %d: __all__ = %v", i, got)
		}
		if res.Truncated[AllKey] != res.Terminated[AllKey] || res.Terminated["gatherer_2"] {
			t.Fatalf("step %d: terminateds %v truncateds %v", i, res.Terminated, res.Truncated)
		}
	}
	if _, err := env.Step(nil); err == nil {
		t.Fatal("stepped past the end of the episode")
	}
}

func TestNegotiationRound(t *testing.T) {
	env := resetDefault(t, 9)
	g := env.Game()

	m0 := g.Mask(0)
	if !m0.Allows("request_matching") || m0.Allows("move") || len(m0.Invite) != 3 {
		t.Fatalf("opening mask = %+v", m0)
	}

	if _, err := env.StepRaw(map[string]any{
		"gatherer_0": []any{"request_matching", map[string]any{"to_player_id": 1}},
		"gatherer_1": []any{"request_matching", map[string]any{"to_player_id": 0}},
	}); err != nil {
		t.Fatal(err)
	}
	if !g.Social.IsBargaining(0) || !g.Social.IsBargaining(1) {
		t.Fatal("reciprocal requests did not open a session")
	}

	// exactly one side may move, and it can only propose
	mover, waiter := 0, 1
	if !g.Mask(0).Allows("propose") {
		mover, waiter = 1, 0
	}
	mm, mw := g.Mask(mover), g.Mask(waiter)
	if !mm.Allows("propose") || mm.Allows("accept_proposal") || mm.Allows("end_bargaining") {
		t.Fatalf("mover mask = %+v", mm)
	}
	if mw.Allows("propose") || len(mw.Tags) != 1 {
		t.Fatalf("waiter mask = %+v", mw)
	}

	if _, err := env.Step(map[int][]agents.Command{
		mover:  {agents.Propose{To: waiter, Score: 0.6}},
		waiter: {agents.Propose{To: mover, Score: 0.9}}, // out of turn, ignored
	}); err != nil {
		t.Fatal(err)
	}
	if _, ok := g.Social.Proposal(waiter, mover); ok {
		t.Fatal("out-of-turn proposal recorded")
	}
	if !g.Mask(waiter).Allows("accept_proposal") {
		t.Fatalf("waiter cannot accept: %+v", g.Mask(waiter))
	}

	res, err := env.Step(map[int][]agents.Command{waiter: {agents.AcceptProposal{To: mover}}})
	if err != nil {
		t.Fatal(err)
	}
	if g.Social.IsBargaining(mover) || !g.Social.SharesGroup(mover, waiter) {
		t.Fatal("accepted proposal did not form a group")
	}
	moverName, waiterName := g.Agents[mover].Name, g.Agents[waiter].Name
	if got := res.Infos[moverName].FinalSplit; math.Abs(got-0.6) > 1e-9 {
		t.Errorf("mover split = %v, want 0.6", got)
	}
	if got := res.Infos[waiterName].FinalSplit; math.Abs(got-0.4) > 1e-9 {
		t.Errorf("waiter split = %v, want 0.4", got)
	}
	if res.Infos[moverName].GroupNum != 1 {
		t.Errorf("group num = %d", res.Infos[moverName].GroupNum)
	}
	for _, id := range g.Mask(mover).Invite {
		if id == waiter {
			t.Error("group partner still invitable")
		}
	}

	for g.Steps < g.Negotiation.Steps {
		if _, err := env.Step(nil); err != nil {
			t.Fatal(err)
		}
	}
	if m := g.Mask(mover); !m.Allows("move") || m.Allows("propose") {
		t.Fatalf("gathering mask = %+v", m)
	}
}

func TestScriptedEpisodes(t *testing.T) {
	env := NewEnvironment(config.Default())
	r := NewScriptedRunner(env, 11)
	steps := 0
	r.OnStep = func(env *Environment, res *StepResult, _ time.Duration) {
		steps++
		g := env.Game()
		sumRewards, sumDeltas := 0.0, 0.0
		seen := make(map[world.Pos]bool)
		for _, a := range g.Agents {
			sumRewards += res.Rewards[a.Name]
			sumDeltas += a.Score - a.PrevScore
			if seen[a.Pos] {
				t.Fatalf("tick %d: two agents on %v", g.Steps, a.Pos)
			}
			seen[a.Pos] = true
		}
		if math.Abs(sumRewards-sumDeltas) > 1e-9 {
			t.Fatalf("tick %d: rewards sum %v, score deltas sum %v", g.Steps, sumRewards, sumDeltas)
		}
	}
	sums, err := r.Run(context.Background(), 2, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 2 || steps != 80 {
		t.Fatalf("%d episodes, %d steps", len(sums), steps)
	}
	for i, s := range sums {
		if s.Episode != i || s.Steps != 40 || s.Seed != 5+int64(i) || len(s.Returns) != 4 {
			t.Errorf("summary %d = %+v", i, s)
		}
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	env := NewEnvironment(config.Default())
	r := NewScriptedRunner(env, 1)
	ctx, cancel := context.WithCancel(context.Background())
	r.OnStep = func(env *Environment, _ *StepResult, _ time.Duration) {
		if env.Game().Steps == 3 {
			cancel()
		}
	}
	if _, err := r.Run(ctx, 1, 2); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
