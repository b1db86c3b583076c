package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/talgya/socialgrid/internal/world"
)

func TestDefaultTask(t *testing.T) {
	c := Default()
	if c.Task.MaxLength != 40 {
		t.Errorf("max_length = %d, want 40", c.Task.MaxLength)
	}
	if got := c.PlayerCount(); got != 4 {
		t.Errorf("players = %d, want 4", got)
	}
	j, err := c.Job("gatherer")
	if err != nil {
		t.Fatal(err)
	}
	if j.Name != "gatherer" || j.FOV.Horizontal != 2 || j.FOV.Vertical != 2 {
		t.Errorf("job = %+v", j)
	}
	if j.Size != 12 || j.Max["axe"] != 2 || j.Init["wood"] != 1 {
		t.Errorf("job inventory = %+v", j)
	}
	if _, err := c.Job("miner"); err == nil {
		t.Error("unknown job accepted")
	}

	kinds := c.Catalog()
	if k := kinds["ore"]; k.UnitScore != 3 || k.Requirements["axe"] != 1 {
		t.Errorf("ore = %+v", k)
	}
	r := c.Recipes()["workshop"]
	if r.Inputs["wood"] != 1 || r.Outputs["axe"] != 1 || r.AvailInterval != 2 {
		t.Errorf("workshop = %+v", r)
	}

	post := Specs(c.Task.PostUpdates)
	if len(post) != 5 || post[0].Function != "start_bargaining" || post[4].Function != "split_score_to_group" {
		t.Errorf("post_updates = %+v", post)
	}
	if post[1].Kwargs["result_attr"] != "division_weight" {
		t.Errorf("relation_to_group kwargs = %v", post[1].Kwargs)
	}

	snap, err := c.InitialSocial()
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Relations) != 2 || snap.Relations[0].Name != "shared_map" {
		t.Fatalf("social = %+v", snap)
	}
	v, ok := snap.Relations[0].Attributes.Get("sharing")
	if !ok || !v.Flag("Map") || v.Flag("Player") {
		t.Errorf("sharing = %v", v)
	}
	sched, err := c.Schedule()
	if err != nil || len(sched) != 0 {
		t.Errorf("schedule = %v, %v", sched, err)
	}

	g := c.GenConfig()
	if g.InitRule != world.RuleBox || g.Width != 12 || g.Height != 12 || g.Seed != 42 {
		t.Errorf("gen = %+v", g)
	}
}

func TestFlexibleValues(t *testing.T) {
	doc := `
resource:
  wood: {type: raw, score: 1}
job:
  scout:
    fov: 3
task:
  max_length: 5
  base_map: {init_rule: blank, size: {x: 4, y: 4}}
  pre_updates:
    - symmetrize_relation
    - function: normalization
      kwargs: {attr: w}
  static:
    resources:
      - name: wood
        positions: [1, 1]
        num: 2
    players:
      - job: scout
        positions: [[0, 0], [3, 3]]
  random:
    resources:
      - name: wood
        num: 3
        repeat: 1
`
	c, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	st := c.Task.Static
	if len(st.Resources[0].Name) != 1 || st.Resources[0].Positions[0] != (world.Pos{X: 1, Y: 1}) || st.Resources[0].Num[0] != 2 {
		t.Errorf("static resource = %+v", st.Resources[0])
	}
	if len(st.Players[0].Positions) != 2 || st.Players[0].Positions[1] != (world.Pos{X: 3, Y: 3}) {
		t.Errorf("players = %+v", st.Players[0])
	}
	if n := c.Task.Random.Resources[0].Num; n.Rule != NumStatic || n.Num != 3 {
		t.Errorf("num = %+v", n)
	}
	if f := c.Jobs["scout"].FOV; f.Horizontal != 3 || f.Vertical != 3 {
		t.Errorf("fov = %+v", f)
	}
	pre := Specs(c.Task.PreUpdates)
	if pre[0].Function != "symmetrize_relation" || pre[1].Kwargs["attr"] != "w" {
		t.Errorf("pre_updates = %+v", pre)
	}
	// symmetrize_relation without its attr must fail validation.
	if err := c.Validate(); err == nil {
		t.Error("missing rule kwargs accepted")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	doc := `
resource:
  wood: {type: raw, score: 1}
event:
  mill: {in: {grain: 1}, out: {flour: 1}}
job:
  farmer: {fov: 1}
task:
  max_length: 0
  base_map: {init_rule: hex}
  random:
    players:
      - job: miner
        repeat: 2
`
	c, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	err = c.Validate()
	if err == nil {
		t.Fatal("invalid task accepted")
	}
	for _, want := range []string{"max_length", "init_rule", "unknown resource grain", "unknown resource flour", "unknown job miner"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoadScheduleFile(t *testing.T) {
	dir := t.TempDir()
	sched := `{"5": {"groups": [{"players": {"ids": [0, 1], "attributes": {"w": [0.5, 0.5]}}}]}}`
	if err := os.WriteFile(filepath.Join(dir, "schedule.json"), []byte(sched), 0o644); err != nil {
		t.Fatal(err)
	}
	task := `
resource:
  wood: {type: raw, score: 1}
job:
  scout: {fov: 1}
task:
  max_length: 10
  base_map: {init_rule: blank, size: {x: 5, y: 5}}
  static:
    social_schedule_file: schedule.json
    players:
      - job: scout
        positions: [[0, 0], [2, 2]]
`
	path := filepath.Join(dir, "task.yaml")
	if err := os.WriteFile(path, []byte(task), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s, err := c.Schedule()
	if err != nil {
		t.Fatal(err)
	}
	if ms := s.Milestones(); len(ms) != 1 || ms[0] != 5 {
		t.Errorf("milestones = %v", ms)
	}
	if ids := s[5].Groups[0].Players.IDs; len(ids) != 2 {
		t.Errorf("group ids = %v", ids)
	}
}

func TestInlineScheduleWithIntKeys(t *testing.T) {
	doc := `
task:
  static:
    social_schedule:
      3:
        relations:
          - players: [{from: 0, to: 1}]
            attributes: {trust: 1}
`
	c, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	s, err := c.Schedule()
	if err != nil {
		t.Fatal(err)
	}
	if len(s[3].Relations) != 1 {
		t.Errorf("schedule = %+v", s)
	}
}
