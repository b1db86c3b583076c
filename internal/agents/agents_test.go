package agents

import (
	"encoding/json"
	"errors"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/talgya/socialgrid/internal/economy"
	"github.com/talgya/socialgrid/internal/entropy"
	"github.com/talgya/socialgrid/internal/social"
	"github.com/talgya/socialgrid/internal/world"
)

var (
	wood = economy.Kind{Name: "wood", Type: "raw", UnitScore: 1}
	gold = economy.Kind{Name: "gold", Type: "raw", UnitScore: 5}
)

func TestInventoryCapacity(t *testing.T) {
	inv := NewInventory(5, map[string]int{"gold": 2}, nil)
	if got := inv.PickUp(economy.NewResource(gold, 3)); got != 2 {
		t.Fatalf("gold kept = %d, want 2", got)
	}
	if got := inv.PickUp(economy.NewResource(wood, 10)); got != 3 {
		t.Fatalf("wood kept = %d, want 3", got)
	}
	if inv.Total() != 5 || inv.Room("wood") != 0 || inv.Room("gold") != 0 {
		t.Fatalf("total %d room %d/%d", inv.Total(), inv.Room("wood"), inv.Room("gold"))
	}
	if got := inv.PickUp(economy.NewResource(wood, 1)); got != 0 {
		t.Fatal("picked into a full inventory")
	}
	if len(inv.Items()) != 2 {
		t.Fatalf("items = %v", inv.Items())
	}
}

func TestInventoryFits(t *testing.T) {
	inv := NewInventory(4, map[string]int{"gold": 1}, nil)
	inv.PickUp(economy.NewResource(wood, 2))
	if !inv.Fits(map[string]int{"wood": 1, "gold": 1}) {
		t.Error("batch within both caps rejected")
	}
	if inv.Fits(map[string]int{"gold": 2}) {
		t.Error("batch over the gold cap accepted")
	}
	if inv.Fits(map[string]int{"wood": 2, "gold": 1}) {
		t.Error("batch over the total size accepted")
	}
}

func TestInventoryConsumeAndDump(t *testing.T) {
	inv := NewInventory(0, nil, map[string]float64{"wood": 3})
	inv.PickUp(economy.NewResource(wood, 2))
	inv.PickUp(economy.NewResource(wood, 2))
	if inv.Score() != 12 {
		t.Fatalf("score with preference = %v", inv.Score())
	}
	if left := inv.Consume("wood", 3); left != 0 {
		t.Fatalf("left = %d", left)
	}
	if inv.Count("wood") != 1 {
		t.Fatalf("count = %d", inv.Count("wood"))
	}
	out := inv.Dump("wood", 1)
	if len(out) != 1 || out[0].Amount != 1 || out[0].UnitScore != 1 {
		t.Fatalf("dumped = %+v", out)
	}
	if inv.Has("wood", 1) || len(inv.Names()) != 0 {
		t.Fatal("emptied resource still listed")
	}
	if left := inv.Consume("wood", 2); left != 2 {
		t.Fatalf("consumed from nothing: %d", left)
	}
}

func TestTwoPhaseMove(t *testing.T) {
	g, err := world.Generate(world.GenConfig{InitRule: world.RuleBlank, Width: 4, Height: 3})
	if err != nil {
		t.Fatal(err)
	}
	a := New(0, "farmer_0", "farmer", world.Pos{X: 0, Y: 0}, FOV{1, 1}, nil)
	a.Move(-1, -1, g)
	if a.Pos != (world.Pos{X: 0, Y: 0}) || a.Next != (world.Pos{X: 3, Y: 2}) {
		t.Fatalf("pos %v next %v", a.Pos, a.Next)
	}
	a.Undo()
	a.PostUpdate()
	if a.Pos != (world.Pos{}) {
		t.Fatalf("undone move committed: %v", a.Pos)
	}
	a.Move(1, 0, g)
	a.PostUpdate()
	if a.Pos != (world.Pos{X: 1, Y: 0}) || a.Moved {
		t.Fatalf("pos %v moved %v", a.Pos, a.Moved)
	}
	if !a.Visible(world.Pos{X: 0, Y: 2}, g) || a.Visible(world.Pos{X: 3, Y: 0}, g) {
		t.Fatal("wrapped visibility wrong")
	}
}

func TestRewardSettlement(t *testing.T) {
	a := New(0, "a_0", "a", world.Pos{}, FOV{}, nil)
	a.Inventory.PickUp(economy.NewResource(gold, 2))
	a.PostUpdate()
	if a.Reward != 10 {
		t.Fatalf("reward = %v", a.Reward)
	}
	a.GiveScore(4)
	a.EarnScore(1.5)
	a.SettleScore()
	if a.Reward != 7.5 {
		t.Fatalf("settled reward = %v", a.Reward)
	}
	a.SettleScore()
	if a.Reward != 7.5 {
		t.Fatal("shares settled twice")
	}
}

func TestParseCommandForms(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Command
	}{
		{"bare", `"produce"`, Produce{}},
		{"direction", `"move_left"`, Move{-1, 0}},
		{"pair", `["pick_by_name", {"resource_name": "wood"}]`, PickByName{"wood"}},
		{"object", `{"action": "move", "kwargs": {"dx": 2, "dy": -1}}`, Move{2, -1}},
		{"object without kwargs", `{"action": "no_act"}`, NoAct{}},
		{"negotiation", `["propose", {"to_player_id": 3, "score": 0.25}]`, Propose{3, 0.25}},
		{"quit", `["quit_group", {"group_id": 5, "attribute_name": "weight"}]`, QuitGroup{5, "weight"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var raw any
			if err := json.Unmarshal([]byte(tc.raw), &raw); err != nil {
				t.Fatal(err)
			}
			got, err := ParseCommand(raw)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestParseCommandAttrs(t *testing.T) {
	var raw any
	json.Unmarshal([]byte(`{"action": "join_group", "kwargs": {"group_id": 2, "attribute_dict": {"weight": 1}}}`), &raw)
	c, err := ParseCommand(raw)
	if err != nil {
		t.Fatal(err)
	}
	j := c.(JoinGroup)
	if j.Group != 2 || !j.Attrs.Equal(social.NewAttrs(social.Attr{Name: "weight", Value: social.Int(1)})) {
		t.Fatalf("join = %+v", j)
	}

	json.Unmarshal([]byte(`["accept_proposal", {"to_player_id": 1, "scale": 0.5}]`), &raw)
	c, err = ParseCommand(raw)
	if err != nil {
		t.Fatal(err)
	}
	if a := c.(AcceptProposal); a.Scale == nil || *a.Scale != 0.5 {
		t.Fatalf("accept = %+v", a)
	}
}

func TestParseCommandErrors(t *testing.T) {
	for name, tc := range map[string]struct {
		raw  string
		want error
	}{
		"unknown tag":      {`"fly"`, ErrUnknownCommand},
		"missing kwarg":    {`["pick_by_name", {}]`, ErrBadArguments},
		"wrong kwarg type": {`["move", {"dx": "1", "dy": 0}]`, ErrBadArguments},
		"fractional id":    {`["end_bargaining", {"to_player_id": 1.5}]`, ErrBadArguments},
		"number":           {`7`, ErrBadArguments},
		"no tag":           {`{"kwargs": {}}`, ErrBadArguments},
	} {
		var raw any
		if err := json.Unmarshal([]byte(tc.raw), &raw); err != nil {
			t.Fatal(err)
		}
		if _, err := ParseCommand(raw); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", name, err, tc.want)
		}
	}
}

func TestParseCommandsList(t *testing.T) {
	var raw any
	json.Unmarshal([]byte(`["move_up", ["pick_by_name", {"resource_name": "wood"}], {"action": "produce"}]`), &raw)
	cs, err := ParseCommands(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs) != 3 || cs[2] != (Produce{}) {
		t.Fatalf("commands = %v", cs)
	}

	json.Unmarshal([]byte(`["pick_by_name", {"resource_name": "wood"}]`), &raw)
	cs, err = ParseCommands(raw)
	if err != nil || len(cs) != 1 {
		t.Fatalf("pair parsed as %v, %v", cs, err)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	for _, c := range []Command{Move{1, -1}, RemoveRelation{2, "trust"}, Pick{}} {
		data, err := json.Marshal(Encode(c))
		if err != nil {
			t.Fatal(err)
		}
		var raw any
		json.Unmarshal(data, &raw)
		got, err := ParseCommand(raw)
		if err != nil {
			t.Fatal(err)
		}
		if got != c {
			t.Fatalf("got %#v, want %#v", got, c)
		}
	}
}

func TestSpawnerNamesAndInit(t *testing.T) {
	sp := NewSpawner(economy.Catalog{"wood": wood, "gold": gold})
	sp.SetNextID(3)
	a, err := sp.Spawn(Job{Name: "miner", Size: 4, Init: map[string]int{"wood": 2, "gold": 5}}, world.Pos{X: 1, Y: 1})
	if err != nil {
		t.Fatal(err)
	}
	if a.Name != "miner_3" || a.ID != 3 {
		t.Fatalf("agent = %s/%d", a.Name, a.ID)
	}
	// gold sorts first and fills the cap.
	if a.Inventory.Count("gold") != 4 || a.Inventory.Count("wood") != 0 {
		t.Fatalf("inventory = %v", a.Inventory.Items())
	}
	if _, err := sp.Spawn(Job{Name: "x", Init: map[string]int{"iron": 1}}, world.Pos{}); err == nil {
		t.Fatal("unknown init resource accepted")
	}
}

func TestFOVYAML(t *testing.T) {
	var jobs []Job
	doc := "- {name: a, fov: 2}\n- {name: b, fov: [3, 1]}\n- {name: c, fov: {h: 1, v: 4}}\n"
	if err := yaml.Unmarshal([]byte(doc), &jobs); err != nil {
		t.Fatal(err)
	}
	want := []FOV{{2, 2}, {3, 1}, {1, 4}}
	for i, j := range jobs {
		if j.FOV != want[i] {
			t.Fatalf("job %s fov = %v, want %v", j.Name, j.FOV, want[i])
		}
	}
}

func TestScriptedBargaining(t *testing.T) {
	p := NewScripted(entropy.New(1))
	s := &Situation{Tick: 0, NegotiationSteps: 10, ProposalGrid: 4, Invitable: []AgentID{2}}
	if got := p.Decide(s); got[0] != (RequestMatching{To: 2}) {
		t.Fatalf("invite = %v", got)
	}

	s = &Situation{Tick: 1, NegotiationSteps: 10, ProposalGrid: 4, Bargaining: true, Partner: 2}
	if got := p.Decide(s); got[0] != (NoAct{}) {
		t.Fatalf("off turn = %v", got)
	}
	s.MyTurn, s.MustPropose = true, true
	if got := p.Decide(s); got[0] != (Propose{To: 2, Score: 0.6}) {
		t.Fatalf("forced proposal = %v", got)
	}
	s.MustPropose, s.HasOffer, s.Offer = false, true, 0.4
	if got := p.Decide(s); got[0].Tag() != "accept_proposal" {
		t.Fatalf("fair offer answered with %v", got)
	}
	s.Offer = 0.8
	if got := p.Decide(s); got[0].Tag() != "propose" {
		t.Fatalf("greedy offer answered with %v", got)
	}
}

func TestScriptedGathering(t *testing.T) {
	p := NewScripted(entropy.New(1))
	s := &Situation{Tick: 5, CanProduce: true, PileHere: "wood", CanPick: true}
	if got := p.Decide(s); got[0] != (Produce{}) {
		t.Fatalf("got %v", got)
	}
	s.CanProduce = false
	if got := p.Decide(s); got[0] != (PickByName{"wood"}) {
		t.Fatalf("got %v", got)
	}
	s.PileHere = ""
	s.Piles = []world.Pos{{X: 0, Y: -2}}
	if got := p.Decide(s); got[0] != (Move{0, -1}) {
		t.Fatalf("got %v", got)
	}
}

func TestProposalGrid(t *testing.T) {
	g := ProposalGrid(3)
	if len(g) != 3 || g[0] != 0.25 || g[2] != 0.75 {
		t.Fatalf("grid = %v", g)
	}
	if snap(0.99, 3) != 0.75 || snap(0.01, 3) != 0.25 {
		t.Fatal("snap not clamped to the grid")
	}
}
