package social

import (
	"math"
	"strings"
	"testing"

	"github.com/talgya/socialgrid/internal/entropy"
)

// ledger is an in-memory ScoreBook: reward is what the agent earned this
// tick, shared in/out accumulate until SettleScore.
type ledger struct {
	reward map[int]float64
	in     map[int]float64
	out    map[int]float64
}

func newLedger(rewards map[int]float64) *ledger {
	return &ledger{reward: rewards, in: map[int]float64{}, out: map[int]float64{}}
}

func (l *ledger) Reward(a int) float64       { return l.reward[a] }
func (l *ledger) GiveScore(a int, x float64) { l.out[a] += x }
func (l *ledger) EarnScore(a int, x float64) { l.in[a] += x }
func (l *ledger) SettleScore(a int) {
	l.reward[a] += l.in[a] - l.out[a]
	l.in[a], l.out[a] = 0, 0
}

func (l *ledger) total() float64 {
	t := 0.0
	for _, r := range l.reward {
		t += r
	}
	return t
}

func env(g *Graph) *RuleEnv {
	return &RuleEnv{Graph: g, Rand: entropy.New(7)}
}

func TestMatchingEdgeScenario(t *testing.T) {
	g := New(0, 1, 2, 3)
	g.AddRelation(0, 1, Attr{"req", Int(5)})
	g.AddRelation(1, 0, Attr{"req", Int(5)})
	g.AddRelation(2, 3, Attr{"req", Int(5)})
	g.AddRelation(3, 2, Attr{"req", Int(4)})

	rule := MatchingEdge{
		Cond: "req",
		Out1: NewAttrs(Attr{"role", Text("lead")}),
		Out2: NewAttrs(Attr{"role", Text("follow")}),
	}
	pairs, err := rule.Match(g)
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 1 || pairs[0] != [2]int{0, 1} {
		t.Fatalf("pairs = %v", pairs)
	}
	if !g.CheckRelation(0, 1, "role", Text("lead")) || !g.CheckRelation(1, 0, "role", Text("follow")) {
		t.Fatalf("edges = %v", g.Edges())
	}
	if _, ok := g.RelationValue(0, 1, "req"); ok {
		t.Fatal("condition left on matched edge")
	}
	if !g.CheckRelation(2, 3, "req", Int(5)) || !g.CheckRelation(3, 2, "req", Int(4)) {
		t.Fatal("unmatched edges changed")
	}
}

func TestMatchingEdgeEmptyOutputLeavesNoEdge(t *testing.T) {
	g := New(0, 1, 2)
	g.AddRelation(0, 1, Attr{"req", Int(1)})
	g.AddRelation(1, 0, Attr{"req", Int(1)})

	pairs, err := MatchingEdge{Cond: "req", Out1: &Attrs{}, Out2: &Attrs{}}.Match(g)
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 1 {
		t.Fatalf("pairs = %v", pairs)
	}
	if g.EdgeCount() != 0 || g.HasRelation(0, 1) || g.HasRelation(1, 0) {
		t.Fatalf("edges = %v", g.Edges())
	}
	if inv := g.FindInvitable(0); len(inv) != 2 {
		t.Fatalf("invitable = %v", inv)
	}
	if err := g.AddRelationAttrs(0, 2, &Attrs{}); err != nil || g.HasRelation(0, 2) {
		t.Fatalf("empty relation created: %v", err)
	}
}

func TestSymmetrizeRelation(t *testing.T) {
	g := New(0, 1, 2)
	g.AddRelation(0, 1, Attr{"friend", Number(0.7)})
	g.AddRelation(2, 1, Attr{"friend", Number(0.2)})
	g.AddRelation(1, 2, Attr{"friend", Number(0.9)})

	if err := (SymmetrizeRelation{Attr: "friend"}).Apply(env(g)); err != nil {
		t.Fatal(err)
	}
	if !g.CheckRelation(1, 0, "friend", Number(0.7)) {
		t.Fatal("reverse edge not created")
	}
	if !g.CheckRelation(1, 2, "friend", Number(0.9)) || !g.CheckRelation(2, 1, "friend", Number(0.2)) {
		t.Fatal("existing reverse values overwritten")
	}
}

func TestStartBargainingParity(t *testing.T) {
	g := New(0, 1, 2)
	for _, l := range [][2]int{{0, 1}, {1, 0}, {1, 2}} {
		g.AddRelation(l[0], l[1], Attr{AttrMatchingRequest, Int(3)})
	}
	if err := (StartBargaining{Cond: AttrMatchingRequest}).Apply(env(g)); err != nil {
		t.Fatal(err)
	}
	p01, ok1 := g.RelationValue(0, 1, AttrParity)
	p10, ok2 := g.RelationValue(1, 0, AttrParity)
	if !ok1 || !ok2 {
		t.Fatalf("parity missing: %v", g.Edges())
	}
	a, _ := p01.Float()
	b, _ := p10.Float()
	if a+b != 1 {
		t.Fatalf("parities %v and %v are not complementary", a, b)
	}
	if g.IsBargaining(2) {
		t.Fatal("one-sided request opened a session")
	}
	partner, ok := g.BargainingPartner(0)
	if !ok || partner != 1 {
		t.Fatalf("partner of 0 = %d, %v", partner, ok)
	}
	if g.IsTurn(0, 1, 4) == g.IsTurn(1, 0, 4) {
		t.Fatal("both or neither side may move")
	}
}

func TestRelationToGroupStronglyConnected(t *testing.T) {
	g := New(0, 1, 2, 3, 4)
	g.AddRelation(0, 1, Attr{"accept", Number(0.6)})
	g.AddRelation(1, 0, Attr{"accept", Number(0.4)}, Attr{"trust", Int(1)})
	g.AddRelation(2, 3, Attr{"accept", Number(0.5)})

	if err := (RelationToGroup{Cond: "accept", Result: "division_weight"}).Apply(env(g)); err != nil {
		t.Fatal(err)
	}
	groups := g.Groups()
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}
	gid := groups[0].ID
	for agent, want := range map[int]float64{0: 0.6, 1: 0.4} {
		m, ok := g.Membership(gid, agent)
		if !ok {
			t.Fatalf("agent %d not a member", agent)
		}
		if f, _ := m.Float("division_weight"); f != want {
			t.Fatalf("agent %d weight = %v, want %v", agent, f, want)
		}
	}
	if g.HasRelation(0, 1) {
		t.Fatal("consumed edge not removed")
	}
	if !g.CheckRelation(1, 0, "trust", Int(1)) {
		t.Fatal("unrelated attribute lost")
	}
	if !g.CheckRelation(2, 3, "accept", Number(0.5)) {
		t.Fatal("one-way edge consumed")
	}
}

func TestMergeRelationToGroup(t *testing.T) {
	g := New(0, 1, 2)
	grp := g.CreateGroup("")
	g.JoinGroup(1, grp.ID, Attr{"w", Number(1)})
	g.AddRelation(0, 1, Attr{"ally", Number(0.3)})
	g.AddRelation(1, 0, Attr{"ally", Number(0.7)})

	if err := (MergeRelationToGroup{Cond: "ally", Result: "w"}).Apply(env(g)); err != nil {
		t.Fatal(err)
	}
	if !grp.Has(0) {
		t.Fatal("ungrouped agent did not join the partner's group")
	}
	if len(g.Groups()) != 1 {
		t.Fatalf("groups = %d", len(g.Groups()))
	}
	if g.EdgeCount() != 2 {
		t.Fatalf("edges = %v", g.Edges())
	}
}

func TestRelationSwitch(t *testing.T) {
	g := New(0, 1, 2)
	g.AddRelation(0, 1, Attr{"offer", Int(1)})
	g.AddRelation(1, 0, Attr{"deal", Int(1)})
	g.AddRelation(0, 2, Attr{"offer", Int(1)})

	if err := (RelationSwitch{Cond: "offer", Target: "deal"}).Apply(env(g)); err != nil {
		t.Fatal(err)
	}
	if !g.CheckRelation(0, 1, "deal", Int(1)) {
		t.Fatal("answered offer not switched")
	}
	if !g.CheckRelation(0, 2, "offer", Int(1)) {
		t.Fatal("unanswered offer switched")
	}
}

func TestNormalization(t *testing.T) {
	g := New(0, 1, 2)
	grp := g.CreateGroup("")
	g.JoinGroup(0, grp.ID, Attr{"w", Number(1)})
	g.JoinGroup(1, grp.ID, Attr{"w", Number(3)})
	g.JoinGroup(2, grp.ID, Attr{"other", Int(1)})

	if err := (Normalization{Attr: "w"}).Apply(env(g)); err != nil {
		t.Fatal(err)
	}
	m0, _ := g.Membership(grp.ID, 0)
	m1, _ := g.Membership(grp.ID, 1)
	w0, _ := m0.Float("w")
	w1, _ := m1.Float("w")
	if w0 != 0.25 || w1 != 0.75 {
		t.Fatalf("weights = %v, %v", w0, w1)
	}
}

func TestClearTemporaryRelation(t *testing.T) {
	g := New(0, 1)
	g.AddRelation(0, 1, Attr{AttrMatchingRequest, Int(2)})
	g.AddRelation(1, 0, Attr{AttrMatchingRequest, Int(2)}, Attr{"trust", Int(1)})

	if err := (ClearTemporaryRelation{Attr: AttrMatchingRequest}).Apply(env(g)); err != nil {
		t.Fatal(err)
	}
	if g.HasRelation(0, 1) {
		t.Fatal("emptied edge kept")
	}
	if a, ok := g.Relation(1, 0); !ok || a.Len() != 1 {
		t.Fatalf("edge 1→0 = %v", a)
	}
}

func TestSplitScoreConservesTotal(t *testing.T) {
	g := New(0, 1, 2, 3)
	a := g.CreateGroup("")
	b := g.CreateGroup("")
	g.JoinGroup(0, a.ID, Attr{AttrDivisionWeight, Number(0.75)})
	g.JoinGroup(1, a.ID, Attr{AttrDivisionWeight, Number(0.25)})
	g.JoinGroup(1, b.ID, Attr{AttrDivisionWeight, Number(0)})
	g.JoinGroup(2, b.ID, Attr{AttrDivisionWeight, Number(0)})

	book := newLedger(map[int]float64{0: 2, 1: 4, 2: 1, 3: 5})
	before := book.total()
	e := env(g)
	e.Scores = book
	if err := (SplitScoreToGroup{Attr: AttrDivisionWeight}).Apply(e); err != nil {
		t.Fatal(err)
	}
	if math.Abs(book.total()-before) > 1e-9 {
		t.Fatalf("total %v, want %v", book.total(), before)
	}
	// a pools 2 + 4/2 = 4, split 3:1; b pools 4/2 + 1 = 3, split equally.
	want := map[int]float64{0: 3, 1: 1 + 1.5, 2: 1.5, 3: 5}
	for id, w := range want {
		if math.Abs(book.reward[id]-w) > 1e-9 {
			t.Fatalf("agent %d reward %v, want %v", id, book.reward[id], w)
		}
	}
	if a.Pool() != 0 || b.Pool() != 0 {
		t.Fatal("group pools not emptied")
	}
}

func TestMergeGroupRule(t *testing.T) {
	g := New(0, 1)
	a := g.CreateGroup("")
	b := g.CreateGroup("")
	g.JoinGroup(0, a.ID, Attr{"w", Int(1)})
	g.JoinGroup(1, b.ID, Attr{"w", Int(1)})
	rule := MergeGroup{G1: a.ID, G2: b.ID}
	if err := rule.Apply(env(g)); err != nil {
		t.Fatal(err)
	}
	if a.Size() != 2 || len(g.Groups()) != 1 {
		t.Fatalf("merge failed: %v", g.Edges())
	}
	if err := rule.Apply(env(g)); err != nil {
		t.Fatalf("second apply: %v", err)
	}
}

func TestBuildPipeline(t *testing.T) {
	specs := []RuleSpec{
		{Function: "start_bargaining", Kwargs: map[string]any{"condition_attr": AttrMatchingRequest}},
		{Function: "relation_to_group", Kwargs: map[string]any{"condition_attr": "accept", "result_attr": "division_weight"}},
		{Function: "matching_edge", Kwargs: map[string]any{
			"condition_attr": "req",
			"result_attr1":   map[string]any{"role": "lead"},
		}},
		{Function: "merge_group", Kwargs: map[string]any{"group1": 0.0, "group2": 1.0}},
		{Function: "split_score_to_group", Kwargs: map[string]any{"attribute": "division_weight"}},
	}
	p, err := BuildPipeline(specs)
	if err != nil {
		t.Fatal(err)
	}
	names := p.Names()
	if len(names) != 5 || names[0] != "start_bargaining" || names[4] != "split_score_to_group" {
		t.Fatalf("names = %v", names)
	}
	m := p[2].(MatchingEdge)
	if m.Out2.Len() != 0 || !m.Out1.Has("role") {
		t.Fatalf("matching outputs = %v / %v", m.Out1, m.Out2)
	}

	if _, err := BuildRule(RuleSpec{Function: "teleport"}); err == nil || !strings.Contains(err.Error(), "normalization") {
		t.Fatalf("unknown rule error = %v", err)
	}
	if _, err := BuildRule(RuleSpec{Function: "normalization"}); err == nil {
		t.Fatal("missing kwargs accepted")
	}
	if _, err := BuildRule(RuleSpec{Function: "merge_group", Kwargs: map[string]any{"group1": 0.5, "group2": 1}}); err == nil {
		t.Fatal("fractional group id accepted")
	}
}
