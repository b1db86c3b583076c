// Graph rewrite rules run by the game before and after each tick.
package social

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/talgya/socialgrid/internal/entropy"
)

// ScoreBook is the reward ledger that score-sharing rules settle against.
type ScoreBook interface {
	Reward(agent int) float64
	GiveScore(agent int, amount float64)
	EarnScore(agent int, amount float64)
	SettleScore(agent int)
}

// RuleEnv is what a rule sees when it runs.
type RuleEnv struct {
	Graph  *Graph
	Tick   int
	Rand   *entropy.Source
	Scores ScoreBook
}

// GraphRule is one step of a rewrite pipeline.
type GraphRule interface {
	Name() string
	Apply(env *RuleEnv) error
}

// Pipeline runs rules in order.
type Pipeline []GraphRule

// Run applies every rule, stopping at the first error.
func (p Pipeline) Run(env *RuleEnv) error {
	for _, r := range p {
		if err := r.Apply(env); err != nil {
			return fmt.Errorf("rule %s: %w", r.Name(), err)
		}
	}
	return nil
}

// Names lists the rule names in order.
func (p Pipeline) Names() []string {
	out := make([]string, len(p))
	for i, r := range p {
		out[i] = r.Name()
	}
	return out
}

// agentEdges snapshots the agent→agent edges carrying attr.
func (s *Graph) agentEdges(attr string) []edgeKey {
	var out []edgeKey
	for _, k := range s.sortedEdges() {
		if s.nodes[k.from].Kind != NodeAgent || s.nodes[k.to].Kind != NodeAgent {
			continue
		}
		if attr == "" || s.attrs[k].Has(attr) {
			out = append(out, k)
		}
	}
	return out
}

func (s *Graph) id(nid int64) int {
	return s.nodes[nid].ID
}

// ── symmetrize_relation ──

// SymmetrizeRelation copies attr onto the reverse of every edge carrying it,
// creating the reverse edge when absent.
type SymmetrizeRelation struct {
	Attr string
}

func (SymmetrizeRelation) Name() string { return "symmetrize_relation" }

func (r SymmetrizeRelation) Apply(env *RuleEnv) error {
	s := env.Graph
	type op struct {
		u, v int64
		val  Value
	}
	var ops []op
	for _, k := range s.agentEdges(r.Attr) {
		if rev, ok := s.edgeAttrs(k.to, k.from); ok && rev.Has(r.Attr) {
			continue
		}
		val, _ := s.attrs[k].Get(r.Attr)
		ops = append(ops, op{k.to, k.from, val})
	}
	for _, o := range ops {
		if err := s.relate(o.u, o.v, NewAttrs(Attr{r.Attr, o.val})); err != nil {
			return err
		}
	}
	return nil
}

// ── matching_edge ──

// MatchingEdge pairs reciprocal edges that both carry Cond with equal values,
// replacing Cond with Out1 on the lower→higher edge and Out2 on the reverse.
type MatchingEdge struct {
	Cond       string
	Out1, Out2 *Attrs
}

func (MatchingEdge) Name() string { return "matching_edge" }

func (r MatchingEdge) Apply(env *RuleEnv) error {
	_, err := r.Match(env.Graph)
	return err
}

// Match applies the rule and returns the matched agent pairs.
func (r MatchingEdge) Match(s *Graph) ([][2]int, error) {
	return matchPairs(s, r.Cond, func(u, v int64) error {
		if err := s.relate(u, v, r.Out1); err != nil {
			return err
		}
		return s.relate(v, u, r.Out2)
	})
}

// matchPairs finds reciprocal edges with equal cond values, strips cond from
// both, then calls apply on the pair.
func matchPairs(s *Graph, cond string, apply func(u, v int64) error) ([][2]int, error) {
	var matched [][2]int
	for _, k := range s.agentEdges(cond) {
		fwd, ok := s.edgeAttrs(k.from, k.to)
		if !ok {
			continue
		}
		a, ok := fwd.Get(cond)
		if !ok {
			continue
		}
		rev, ok := s.edgeAttrs(k.to, k.from)
		if !ok {
			continue
		}
		b, ok := rev.Get(cond)
		if !ok || !a.Equal(b) {
			continue
		}
		if err := s.deleteAttr(k.from, k.to, cond); err != nil {
			return matched, err
		}
		if err := s.deleteAttr(k.to, k.from, cond); err != nil {
			return matched, err
		}
		if err := apply(k.from, k.to); err != nil {
			return matched, err
		}
		matched = append(matched, [2]int{s.id(k.from), s.id(k.to)})
	}
	return matched, nil
}

// ── start_bargaining ──

// StartBargaining matches reciprocal Cond edges like MatchingEdge and opens a
// bargaining session on each pair: complementary parity values, drawn from
// the episode's random stream, decide who moves on even ticks.
type StartBargaining struct {
	Cond string
}

func (StartBargaining) Name() string { return "start_bargaining" }

func (r StartBargaining) Apply(env *RuleEnv) error {
	s := env.Graph
	pairs, err := matchPairs(s, r.Cond, func(u, v int64) error {
		if s.bargaining(u) || s.bargaining(v) {
			return nil
		}
		p := 0
		if env.Rand != nil {
			p = env.Rand.Intn(2)
		}
		if err := s.relate(u, v, NewAttrs(Attr{AttrParity, Int(p)})); err != nil {
			return err
		}
		return s.relate(v, u, NewAttrs(Attr{AttrParity, Int(1 - p)}))
	})
	for _, pair := range pairs {
		slog.Debug("bargaining started", "a", pair[0], "b", pair[1], "tick", env.Tick)
	}
	return err
}

// bargaining reports whether the node has an outgoing parity edge.
func (s *Graph) bargaining(u int64) bool {
	for _, v := range s.successors(u) {
		if a, ok := s.edgeAttrs(u, v); ok && a.Has(AttrParity) {
			return true
		}
	}
	return false
}

// ── relation_to_group ──

// RelationToGroup turns every strongly connected set of Cond edges into a
// group. Each member joins with Result set to the Cond value on its edge to
// the lowest-ID partner in the set; Cond is removed from the set's edges.
type RelationToGroup struct {
	Cond, Result string
}

func (RelationToGroup) Name() string { return "relation_to_group" }

func (r RelationToGroup) Apply(env *RuleEnv) error {
	s := env.Graph
	edges := s.agentEdges(r.Cond)
	if len(edges) == 0 {
		return nil
	}
	sub := simple.NewDirectedGraph()
	for _, k := range edges {
		if sub.Node(k.from) == nil {
			sub.AddNode(simple.Node(k.from))
		}
		if sub.Node(k.to) == nil {
			sub.AddNode(simple.Node(k.to))
		}
		sub.SetEdge(sub.NewEdge(sub.Node(k.from), sub.Node(k.to)))
	}

	var comps [][]int64
	for _, c := range topo.TarjanSCC(sub) {
		if len(c) < 2 {
			continue
		}
		ids := make([]int64, len(c))
		for i, n := range c {
			ids[i] = n.ID()
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		comps = append(comps, ids)
	}
	sort.Slice(comps, func(i, j int) bool { return comps[i][0] < comps[j][0] })

	for _, comp := range comps {
		in := make(map[int64]bool, len(comp))
		for _, nid := range comp {
			in[nid] = true
		}
		values := make(map[int64]Value, len(comp))
		for _, u := range comp {
			for _, v := range comp {
				if a, ok := s.edgeAttrs(u, v); ok && a.Has(r.Cond) {
					values[u], _ = a.Get(r.Cond)
					break
				}
			}
		}
		for _, u := range comp {
			for _, v := range s.successors(u) {
				if !in[v] {
					continue
				}
				if a, ok := s.edgeAttrs(u, v); ok && a.Has(r.Cond) {
					if err := s.deleteAttr(u, v, r.Cond); err != nil {
						return err
					}
				}
			}
		}
		g := s.CreateGroup("")
		for _, u := range comp {
			if err := s.JoinGroup(s.id(u), g.ID, Attr{r.Result, values[u]}); err != nil {
				return err
			}
		}
	}
	return nil
}

// ── merge_relation_to_group ──

// MergeRelationToGroup consumes reciprocal Cond edges between two agents and
// puts both in a common group: a new one if neither is grouped, the grouped
// side's groups if only one is, or by folding the second agent's groups into
// the first agent's when both are.
type MergeRelationToGroup struct {
	Cond, Result string
}

func (MergeRelationToGroup) Name() string { return "merge_relation_to_group" }

func (r MergeRelationToGroup) Apply(env *RuleEnv) error {
	s := env.Graph
	for _, k := range s.agentEdges(r.Cond) {
		fwd, ok := s.edgeAttrs(k.from, k.to)
		if !ok || !fwd.Has(r.Cond) {
			continue
		}
		rev, ok := s.edgeAttrs(k.to, k.from)
		if !ok || !rev.Has(r.Cond) {
			continue
		}
		v1, _ := fwd.Get(r.Cond)
		v2, _ := rev.Get(r.Cond)
		if err := s.deleteAttr(k.from, k.to, r.Cond); err != nil {
			return err
		}
		if err := s.deleteAttr(k.to, k.from, r.Cond); err != nil {
			return err
		}
		if err := r.merge(s, s.id(k.from), s.id(k.to), v1, v2); err != nil {
			return err
		}
	}
	return nil
}

func (r MergeRelationToGroup) merge(s *Graph, a, b int, va, vb Value) error {
	ga, gb := s.GroupsOf(a), s.GroupsOf(b)
	switch {
	case len(ga) == 0 && len(gb) == 0:
		g := s.CreateGroup("")
		if err := s.JoinGroup(a, g.ID, Attr{r.Result, va}); err != nil {
			return err
		}
		return s.JoinGroup(b, g.ID, Attr{r.Result, vb})
	case len(ga) == 0:
		for _, gid := range gb {
			if m, _ := s.Membership(gid, b); m.Has(r.Result) {
				if err := s.JoinGroup(a, gid, Attr{r.Result, va}); err != nil {
					return err
				}
			}
		}
		return nil
	case len(gb) == 0:
		for _, gid := range ga {
			if m, _ := s.Membership(gid, a); m.Has(r.Result) {
				if err := s.JoinGroup(b, gid, Attr{r.Result, vb}); err != nil {
					return err
				}
			}
		}
		return nil
	}

	target := make(map[int]bool, len(ga))
	for _, gid := range ga {
		target[gid] = true
	}
	for _, src := range gb {
		if target[src] {
			continue
		}
		folded := true
		for _, dst := range ga {
			ok, err := s.fold(src, dst)
			if err != nil {
				return err
			}
			folded = folded && ok
		}
		if folded {
			if err := s.RemoveGroup(src); err != nil {
				return err
			}
		}
	}
	return nil
}

// fold copies src's members into dst with their src attributes. It fails
// without changes when a shared member's attributes differ.
func (s *Graph) fold(src, dst int) (bool, error) {
	us, gs, err := s.group(src)
	if err != nil {
		return false, err
	}
	ud, gd, err := s.group(dst)
	if err != nil {
		return false, err
	}
	if m, bad := s.conflict(ud, us, gs); bad {
		slog.Debug("group fold conflict", "from", src, "into", dst, "member", m)
		return false, nil
	}
	for _, m := range gs.Members() {
		v := s.agentNode[m]
		if _, ok := s.edgeAttrs(ud, v); ok {
			continue
		}
		a, _ := s.edgeAttrs(us, v)
		if err := s.setEdge(ud, v, a); err != nil {
			return false, err
		}
		gd.add(m)
	}
	return true, nil
}

// ── relation_switch ──

// RelationSwitch renames Cond to Target on every edge whose reverse carries
// Cond or Target.
type RelationSwitch struct {
	Cond, Target string
}

func (RelationSwitch) Name() string { return "relation_switch" }

func (r RelationSwitch) Apply(env *RuleEnv) error {
	s := env.Graph
	var todo []edgeKey
	for _, k := range s.agentEdges(r.Cond) {
		rev, ok := s.edgeAttrs(k.to, k.from)
		if ok && (rev.Has(r.Cond) || rev.Has(r.Target)) {
			todo = append(todo, k)
		}
	}
	for _, k := range todo {
		s.attrs[k].Rename(r.Cond, r.Target)
	}
	return nil
}

// ── merge_group ──

// MergeGroup folds G2 into G1. Once G2 is gone the rule does nothing.
type MergeGroup struct {
	G1, G2 int
}

func (MergeGroup) Name() string { return "merge_group" }

func (r MergeGroup) Apply(env *RuleEnv) error {
	s := env.Graph
	if _, ok := s.groups[r.G1]; !ok {
		return nil
	}
	if _, ok := s.groups[r.G2]; !ok {
		return nil
	}
	_, err := s.MergeGroups(r.G1, r.G2)
	return err
}

// ── normalization ──

// Normalization rescales each group's numeric Attr membership values to sum to 1.
type Normalization struct {
	Attr string
}

func (Normalization) Name() string { return "normalization" }

func (r Normalization) Apply(env *RuleEnv) error {
	s := env.Graph
	for _, g := range s.Groups() {
		u := s.groupNode[g.ID]
		total := 0.0
		var edges []*Attrs
		for _, m := range g.members {
			a, ok := s.edgeAttrs(u, s.agentNode[m])
			if !ok {
				continue
			}
			if f, ok := a.Float(r.Attr); ok {
				total += f
				edges = append(edges, a)
			}
		}
		if total <= 0 {
			continue
		}
		for _, a := range edges {
			f, _ := a.Float(r.Attr)
			a.Set(r.Attr, Number(f/total))
		}
	}
	return nil
}

// ── clear_temporary_relation ──

// ClearTemporaryRelation strips Attr from every agent→agent edge.
type ClearTemporaryRelation struct {
	Attr string
}

func (ClearTemporaryRelation) Name() string { return "clear_temporary_relation" }

func (r ClearTemporaryRelation) Apply(env *RuleEnv) error {
	s := env.Graph
	for _, k := range s.agentEdges(r.Attr) {
		if err := s.deleteAttr(k.from, k.to, r.Attr); err != nil {
			return err
		}
	}
	return nil
}

// ── split_score_to_group ──

// SplitScoreToGroup pools rewards inside groups. Every agent with Attr
// memberships gives its reward to those groups in equal shares; each group
// pays its pool back out in proportion to the members' Attr weights (equally
// when no member has a positive weight); then every agent settles. The total
// reward is unchanged.
type SplitScoreToGroup struct {
	Attr string
}

func (SplitScoreToGroup) Name() string { return "split_score_to_group" }

func (r SplitScoreToGroup) Apply(env *RuleEnv) error {
	if env.Scores == nil {
		return fmt.Errorf("no score book")
	}
	s := env.Graph
	shared := make(map[int]bool)
	agents := s.Agents()
	for _, a := range agents {
		gids := s.GroupsWith(a, r.Attr)
		if len(gids) == 0 {
			continue
		}
		share := env.Scores.Reward(a) / float64(len(gids))
		for _, gid := range gids {
			env.Scores.GiveScore(a, share)
			s.groups[gid].earn(share)
			shared[gid] = true
		}
	}

	gids := make([]int, 0, len(shared))
	for gid := range shared {
		gids = append(gids, gid)
	}
	sort.Ints(gids)
	for _, gid := range gids {
		g := s.groups[gid]
		u := s.groupNode[gid]
		weights := make([]float64, len(g.members))
		sum := 0.0
		for i, m := range g.members {
			if a, ok := s.edgeAttrs(u, s.agentNode[m]); ok {
				if f, ok := a.Float(r.Attr); ok && f > 0 {
					weights[i] = f
					sum += f
				}
			}
		}
		for i, m := range g.members {
			part := g.pool / float64(len(g.members))
			if sum > 0 {
				part = g.pool * weights[i] / sum
			}
			env.Scores.EarnScore(m, part)
		}
		g.pool = 0
	}

	for _, a := range agents {
		env.Scores.SettleScore(a)
	}
	return nil
}

// ── construction from configuration ──

// RuleSpec names a rule and its keyword arguments, as written in a task file.
type RuleSpec struct {
	Function string         `json:"function" yaml:"function"`
	Kwargs   map[string]any `json:"kwargs,omitempty" yaml:"kwargs,omitempty"`
}

// RuleBuilder constructs a rule from keyword arguments.
type RuleBuilder func(kw Kwargs) (GraphRule, error)

var builders = map[string]RuleBuilder{
	"symmetrize_relation": func(kw Kwargs) (GraphRule, error) {
		attr, err := kw.Str("attr")
		return SymmetrizeRelation{Attr: attr}, err
	},
	"matching_edge": func(kw Kwargs) (GraphRule, error) {
		cond, err := kw.Str("condition_attr")
		if err != nil {
			return nil, err
		}
		out1, err := kw.Attrs("result_attr1")
		if err != nil {
			return nil, err
		}
		out2, err := kw.Attrs("result_attr2")
		if err != nil {
			return nil, err
		}
		return MatchingEdge{Cond: cond, Out1: out1, Out2: out2}, nil
	},
	"start_bargaining": func(kw Kwargs) (GraphRule, error) {
		cond, err := kw.Str("condition_attr")
		return StartBargaining{Cond: cond}, err
	},
	"relation_to_group": func(kw Kwargs) (GraphRule, error) {
		cond, res, err := kw.pair("condition_attr", "result_attr")
		return RelationToGroup{Cond: cond, Result: res}, err
	},
	"merge_relation_to_group": func(kw Kwargs) (GraphRule, error) {
		cond, res, err := kw.pair("condition_attr", "result_attr")
		return MergeRelationToGroup{Cond: cond, Result: res}, err
	},
	"relation_switch": func(kw Kwargs) (GraphRule, error) {
		cond, target, err := kw.pair("condition_attr", "target_attr")
		return RelationSwitch{Cond: cond, Target: target}, err
	},
	"merge_group": func(kw Kwargs) (GraphRule, error) {
		g1, err := kw.Int("group1")
		if err != nil {
			return nil, err
		}
		g2, err := kw.Int("group2")
		return MergeGroup{G1: g1, G2: g2}, err
	},
	"normalization": func(kw Kwargs) (GraphRule, error) {
		attr, err := kw.Str("attr")
		return Normalization{Attr: attr}, err
	},
	"clear_temporary_relation": func(kw Kwargs) (GraphRule, error) {
		attr, err := kw.Str("attr")
		return ClearTemporaryRelation{Attr: attr}, err
	},
	"split_score_to_group": func(kw Kwargs) (GraphRule, error) {
		attr, err := kw.Str("attribute", "attr")
		return SplitScoreToGroup{Attr: attr}, err
	},
}

// KnownRules lists the registered rule names.
func KnownRules() []string {
	return sortedNames(builders)
}

// BuildRule constructs one rule from its spec.
func BuildRule(spec RuleSpec) (GraphRule, error) {
	b, ok := builders[spec.Function]
	if !ok {
		return nil, fmt.Errorf("social: unknown rule %q (known: %s)", spec.Function, strings.Join(KnownRules(), ", "))
	}
	r, err := b(Kwargs(spec.Kwargs))
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", spec.Function, err)
	}
	return r, nil
}

// BuildPipeline constructs rules in order.
func BuildPipeline(specs []RuleSpec) (Pipeline, error) {
	p := make(Pipeline, 0, len(specs))
	for _, spec := range specs {
		r, err := BuildRule(spec)
		if err != nil {
			return nil, err
		}
		p = append(p, r)
	}
	return p, nil
}
